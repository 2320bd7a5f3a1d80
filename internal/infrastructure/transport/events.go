package transport

import (
	"encoding/json"
	"fmt"

	"carconnect/internal/domain/entity"
)

// Wire event names, shared with the chat gateway.
const (
	eventPrivateMessage = "privateMessage"
	eventTyping         = "typing"
	eventStopTyping     = "stopTyping"
	eventMarkAsRead     = "markAsRead"

	eventNewMessage   = "newMessage"
	eventUserTyping   = "userTyping"
	eventMessagesRead = "messagesRead"
	eventUserOnline   = "userOnline"
)

// envelope is the frame exchanged over the socket.
type envelope struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// Event is the closed set of inbound transport events. Consumers switch
// on the concrete type instead of matching event-name strings.
type Event interface {
	event()
}

type NewMessageEvent struct {
	Message entity.ChatMessage
}

type UserTypingEvent struct {
	UserID    string
	ListingID string
	IsTyping  bool
}

type MessagesReadEvent struct {
	MessageIDs []string
	ReaderID   string
	ListingID  string
}

type UserOnlineEvent struct {
	UserID string
	Online bool
}

func (NewMessageEvent) event()   {}
func (UserTypingEvent) event()   {}
func (MessagesReadEvent) event() {}
func (UserOnlineEvent) event()   {}

type userTypingPayload struct {
	UserID    string `json:"user_id"`
	ListingID string `json:"listing_id"`
	IsTyping  bool   `json:"is_typing"`
}

type messagesReadPayload struct {
	MessageIDs []string `json:"message_ids"`
	ReaderID   string   `json:"reader_id"`
	ListingID  string   `json:"listing_id"`
}

type userOnlinePayload struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

type typingEmitPayload struct {
	RecipientID string `json:"recipient_id"`
	ListingID   string `json:"listing_id"`
}

type markReadEmitPayload struct {
	MessageIDs  []string `json:"message_ids"`
	RecipientID string   `json:"recipient_id"`
}

func decodeEvent(env envelope) (Event, error) {
	switch env.Event {
	case eventNewMessage:
		var msg entity.ChatMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return nil, err
		}
		return NewMessageEvent{Message: msg}, nil

	case eventUserTyping:
		var p userTypingPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return UserTypingEvent{UserID: p.UserID, ListingID: p.ListingID, IsTyping: p.IsTyping}, nil

	case eventMessagesRead:
		var p messagesReadPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return MessagesReadEvent{MessageIDs: p.MessageIDs, ReaderID: p.ReaderID, ListingID: p.ListingID}, nil

	case eventUserOnline:
		var p userOnlinePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return UserOnlineEvent{UserID: p.UserID, Online: p.Online}, nil
	}

	return nil, fmt.Errorf("unknown event %q", env.Event)
}
