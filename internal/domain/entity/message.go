package entity

import "time"

type Participant struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

// ListingRef is the denormalized vehicle summary attached to every
// message and conversation so the UI can render without a second fetch.
type ListingRef struct {
	ID    string  `json:"id"`
	Make  string  `json:"make"`
	Model string  `json:"model"`
	Year  int     `json:"year"`
	Price float64 `json:"price"`
	Image string  `json:"image,omitempty"`
}

// ChatMessage is immutable once created except for the Read flag.
type ChatMessage struct {
	ID        string      `json:"id"`
	Content   string      `json:"content"`
	Sender    Participant `json:"sender"`
	Recipient Participant `json:"recipient"`
	Listing   ListingRef  `json:"listing"`
	Read      bool        `json:"read"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// PeerOf returns the other participant from userID's perspective.
func (m *ChatMessage) PeerOf(userID string) Participant {
	if m.Sender.ID == userID {
		return m.Recipient
	}
	return m.Sender
}
