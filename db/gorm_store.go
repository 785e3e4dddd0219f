package db

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/techagentng/clarkmarket/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore is a DocumentStore on Postgres. Live queries re-read the
// conversation when the notifier signals a change, and on every poll tick
// to pick up writes that bypassed the notifier.
type GormStore struct {
	db           *gorm.DB
	notifier     ChangeNotifier
	pollInterval time.Duration
	log          *zap.Logger
}

func NewGormStore(g *GormDB, notifier ChangeNotifier, pollInterval time.Duration, log *zap.Logger) *GormStore {
	if notifier == nil {
		notifier = NewLocalNotifier()
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &GormStore{db: g.DB, notifier: notifier, pollInterval: pollInterval, log: log}
}

// messagesQuery selects a conversation in store time order, ties in insertion
// order.
func messagesQuery(tx *gorm.DB, conversationID string) *gorm.DB {
	return tx.Model(&models.Message{}).
		Where("conversation_id = ?", conversationID).
		Order("timestamp asc, seq asc")
}

func (g *GormStore) fetch(ctx context.Context, conversationID string) ([]models.Message, error) {
	var msgs []models.Message
	err := messagesQuery(g.db.WithContext(ctx), conversationID).Find(&msgs).Error
	if err != nil {
		return nil, errors.Wrapf(err, "postgres: read %s", MessagesPath(conversationID))
	}
	return msgs, nil
}

func (g *GormStore) Subscribe(ctx context.Context, conversationID string, onSnapshot SnapshotFunc, onError ErrorFunc) (Subscription, error) {
	if conversationID == "" {
		return nil, errors.New("postgres: empty conversation id")
	}

	ctx, cancel := context.WithCancel(ctx)
	changes, release := g.notifier.Subscribe(ctx, conversationID)
	sub := &gormSubscription{cancel: cancel}

	go func() {
		defer release()
		ticker := time.NewTicker(g.pollInterval)
		defer ticker.Stop()

		var (
			delivered bool
			lastCount int
			lastID    string
		)
		refresh := func() bool {
			msgs, err := g.fetch(ctx, conversationID)
			if err != nil {
				if ctx.Err() == nil && onError != nil {
					onError(err)
				}
				return false
			}
			var tail string
			if n := len(msgs); n > 0 {
				tail = msgs[n-1].ID
			}
			if delivered && len(msgs) == lastCount && tail == lastID {
				return true
			}
			delivered, lastCount, lastID = true, len(msgs), tail
			if onSnapshot != nil {
				onSnapshot(msgs)
			}
			return true
		}

		if !refresh() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-changes:
			case <-ticker.C:
			}
			if !refresh() {
				return
			}
		}
	}()

	return sub, nil
}

func (g *GormStore) Append(ctx context.Context, conversationID string, rec *models.MessageRecord) (string, error) {
	stored := *rec
	stored.ConversationID = conversationID
	// Postgres assigns timestamp and seq on insert.
	stored.Timestamp = time.Time{}
	msg := stored.ToMessage(uuid.NewString())

	if err := g.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return "", errors.Wrapf(err, "postgres: append to %s", MessagesPath(conversationID))
	}
	if err := g.notifier.Publish(ctx, conversationID); err != nil {
		// Pollers still pick the row up on their next tick.
		g.log.Warn("postgres store: change notification failed",
			zap.String("conversation_id", conversationID), zap.Error(err))
	}
	return msg.ID, nil
}

func (g *GormStore) TouchConversation(ctx context.Context, conv *models.Conversation) error {
	c := *conv
	c.UpdatedAt = time.Now().UTC()
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"participants", "last_message", "last_sender_id", "updated_at"}),
	}).Create(&c).Error
	if err != nil {
		return errors.Wrapf(err, "postgres: touch conversation %s", conv.ID)
	}
	return nil
}

func (g *GormStore) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	var out []models.Conversation
	err := g.db.WithContext(ctx).
		Where("? = ANY(participants)", userID).
		Order("updated_at desc").
		Find(&out).Error
	if err != nil {
		return nil, errors.Wrap(err, "postgres: list conversations")
	}
	return out, nil
}

type gormSubscription struct {
	cancel context.CancelFunc
	once   sync.Once
}

func (s *gormSubscription) Stop() {
	s.once.Do(s.cancel)
}
