package entity

import "time"

type NotificationSeverity string

const (
	SeverityInfo    NotificationSeverity = "info"
	SeveritySuccess NotificationSeverity = "success"
	SeverityWarning NotificationSeverity = "warning"
	SeverityError   NotificationSeverity = "error"
)

type NotificationCategory string

const (
	CategorySystem  NotificationCategory = "system"
	CategoryUser    NotificationCategory = "user"
	CategoryOrder   NotificationCategory = "order"
	CategoryBooking NotificationCategory = "booking"
	CategoryChat    NotificationCategory = "chat"
	CategoryAdmin   NotificationCategory = "admin"
)

type Notification struct {
	ID        string                 `json:"id"`
	Severity  NotificationSeverity   `json:"severity"`
	Category  NotificationCategory   `json:"category"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Read      bool                   `json:"read"`
	CreatedAt time.Time              `json:"created_at"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}
