package services

import (
	"context"

	"github.com/pkg/errors"
	"github.com/techagentng/clarkmarket/config"
	"github.com/techagentng/clarkmarket/db"
	"github.com/techagentng/clarkmarket/models"
	"github.com/techagentng/clarkmarket/services/chat"
	"go.uber.org/zap"
)

// ChatService opens chat sessions for authenticated users.
type ChatService interface {
	// OpenSession opens a live session between currentUserID and counterpartID.
	// ctx must carry the caller's credentials.
	OpenSession(ctx context.Context, currentUserID, counterpartID string) (*chat.Session, error)
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
}

type chatService struct {
	Config   *config.Config
	store    db.DocumentStore
	auth     AuthProvider
	notifier chat.Notifier
	log      *zap.Logger
}

// NewChatService creates a ChatService. notifier may be nil.
func NewChatService(store db.DocumentStore, auth AuthProvider, notifier chat.Notifier, conf *config.Config, log *zap.Logger) ChatService {
	if log == nil {
		log = zap.NewNop()
	}
	return &chatService{
		Config:   conf,
		store:    store,
		auth:     auth,
		notifier: notifier,
		log:      log,
	}
}

func (c *chatService) sessionOptions() chat.Options {
	return chat.Options{
		WriteMaxAttempts:      c.Config.WriteMaxAttempts,
		WriteBackoff:          c.Config.WriteBackoff,
		ResubscribeBackoff:    c.Config.ResubscribeBackoff,
		ResubscribeMaxBackoff: c.Config.ResubscribeMaxBackoff,
		Notifier:              c.notifier,
		Logger:                c.log,
	}
}

func (c *chatService) OpenSession(ctx context.Context, currentUserID, counterpartID string) (*chat.Session, error) {
	if counterpartID == "" || counterpartID == currentUserID {
		return nil, chat.ErrInvalidCounterpart
	}

	counterpart, err := c.auth.LookupIdentity(ctx, counterpartID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, chat.ErrInvalidCounterpart
		}
		return nil, err
	}
	if !counterpart.InDomain(c.Config.CampusEmailDomain) {
		return nil, chat.ErrInvalidCounterpart
	}

	session := chat.NewSession(c.store, c.auth, c.sessionOptions())
	if err := session.Open(ctx, currentUserID, counterpartID, chat.WithCounterpartEmail(counterpart.Email)); err != nil {
		return nil, err
	}
	return session, nil
}

func (c *chatService) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	return c.store.ListConversations(ctx, userID)
}
