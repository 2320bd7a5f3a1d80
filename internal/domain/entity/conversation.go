package entity

import "time"

// Conversation aggregates the messages between the viewing user and one
// peer, scoped to a single listing. At most one conversation exists per
// (listing, peer) pair. UnreadCount is derived from the viewer's unread
// messages, it is never stored independently.
type Conversation struct {
	ID          string       `json:"id"`
	OwnerID     string       `json:"owner_id"`
	Peer        Participant  `json:"peer"`
	Listing     ListingRef   `json:"listing"`
	LastMessage *ChatMessage `json:"last_message,omitempty"`
	UnreadCount int          `json:"unread_count"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (c *Conversation) Matches(listingID, peerID string) bool {
	return c.Listing.ID == listingID && c.Peer.ID == peerID
}
