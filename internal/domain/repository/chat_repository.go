package repository

import (
	"context"

	"carconnect/internal/domain/entity"
)

// ChatRepository is the durable message store, reached over the
// CarConnect REST API. The transport layer is a separate, best-effort
// delivery path; durability always goes through here first.
type ChatRepository interface {
	ListConversations(ctx context.Context) ([]entity.Conversation, error)
	ListMessages(ctx context.Context, listingID, peerID string) ([]entity.ChatMessage, error)
	CreateMessage(ctx context.Context, recipientID, listingID, content string) (*entity.ChatMessage, error)
	MarkRead(ctx context.Context, messageIDs []string) (int, error)
}
