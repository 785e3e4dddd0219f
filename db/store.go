package db

import (
	"context"

	"github.com/techagentng/clarkmarket/models"
)

const (
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
	orderField              = "timestamp"
)

// SnapshotFunc receives the full ordered set of persisted messages of a
// conversation every time it changes.
type SnapshotFunc func(messages []models.Message)

// ErrorFunc receives the error that terminated a live query. No further
// snapshots are delivered on that subscription.
type ErrorFunc func(err error)

// Subscription is a live query handle. Stop releases it and is safe to call
// more than once.
type Subscription interface {
	Stop()
}

// DocumentStore is the persistence service behind chat sessions. Messages of
// a conversation live in the subcollection conversations/{id}/messages.
type DocumentStore interface {
	Subscribe(ctx context.Context, conversationID string, onSnapshot SnapshotFunc, onError ErrorFunc) (Subscription, error)
	Append(ctx context.Context, conversationID string, rec *models.MessageRecord) (string, error)
	TouchConversation(ctx context.Context, conv *models.Conversation) error
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
}

// MessagesPath returns the document path of a conversation's messages.
func MessagesPath(conversationID string) string {
	return conversationsCollection + "/" + conversationID + "/" + messagesCollection
}
