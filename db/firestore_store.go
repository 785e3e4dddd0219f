package db

import (
	"context"
	"sync"

	"cloud.google.com/go/firestore"
	"github.com/pkg/errors"
	"github.com/techagentng/clarkmarket/models"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore is the DocumentStore backed by Cloud Firestore.
type FirestoreStore struct {
	client *firestore.Client
	log    *zap.Logger
}

func NewFirestoreStore(client *firestore.Client, log *zap.Logger) *FirestoreStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &FirestoreStore{client: client, log: log}
}

func (f *FirestoreStore) messages(conversationID string) *firestore.CollectionRef {
	return f.client.Collection(conversationsCollection).Doc(conversationID).Collection(messagesCollection)
}

func (f *FirestoreStore) Subscribe(ctx context.Context, conversationID string, onSnapshot SnapshotFunc, onError ErrorFunc) (Subscription, error) {
	if conversationID == "" {
		return nil, errors.New("firestore: empty conversation id")
	}

	ctx, cancel := context.WithCancel(ctx)
	it := f.messages(conversationID).OrderBy(orderField, firestore.Asc).Snapshots(ctx)
	sub := &firestoreSubscription{cancel: cancel}

	go func() {
		// Stop must not run concurrently with Next, so it belongs to this goroutine.
		defer it.Stop()

		for {
			snap, err := it.Next()
			if err != nil {
				if ctx.Err() != nil || status.Code(err) == codes.Canceled {
					return
				}
				if onError != nil {
					onError(errors.Wrapf(err, "firestore: live query on %s", MessagesPath(conversationID)))
				}
				return
			}

			docs, err := snap.Documents.GetAll()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if onError != nil {
					onError(errors.Wrap(err, "firestore: read snapshot documents"))
				}
				return
			}

			if onSnapshot != nil {
				onSnapshot(f.decodeMessages(conversationID, docs))
			}
		}
	}()

	return sub, nil
}

// decodeMessages converts snapshot documents, skipping and logging any that
// do not decode as a message.
func (f *FirestoreStore) decodeMessages(conversationID string, docs []*firestore.DocumentSnapshot) []models.Message {
	msgs := make([]models.Message, 0, len(docs))
	for _, doc := range docs {
		var rec models.MessageRecord
		if err := doc.DataTo(&rec); err != nil {
			f.log.Warn("firestore store: skipping undecodable message",
				zap.String("conversation_id", conversationID),
				zap.String("document_id", doc.Ref.ID),
				zap.Error(err))
			continue
		}
		if rec.ConversationID == "" {
			rec.ConversationID = conversationID
		}
		msgs = append(msgs, rec.ToMessage(doc.Ref.ID))
	}
	return msgs
}

func (f *FirestoreStore) Append(ctx context.Context, conversationID string, rec *models.MessageRecord) (string, error) {
	ref, _, err := f.messages(conversationID).Add(ctx, rec)
	if err != nil {
		return "", errors.Wrapf(err, "firestore: append to %s", MessagesPath(conversationID))
	}
	return ref.ID, nil
}

func (f *FirestoreStore) TouchConversation(ctx context.Context, conv *models.Conversation) error {
	_, err := f.client.Collection(conversationsCollection).Doc(conv.ID).Set(ctx, map[string]interface{}{
		"participants": []string(conv.Participants),
		"lastMessage":  conv.LastMessage,
		"lastSenderId": conv.LastSenderID,
		"updatedAt":    firestore.ServerTimestamp,
	}, firestore.MergeAll)
	if err != nil {
		return errors.Wrapf(err, "firestore: touch conversation %s", conv.ID)
	}
	return nil
}

func (f *FirestoreStore) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	iter := f.client.Collection(conversationsCollection).
		Where("participants", "array-contains", userID).
		OrderBy("updatedAt", firestore.Desc).
		Documents(ctx)
	defer iter.Stop()

	var out []models.Conversation
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "firestore: list conversations")
		}
		var c models.Conversation
		if err := doc.DataTo(&c); err != nil {
			return nil, errors.Wrapf(err, "firestore: decode conversation %s", doc.Ref.ID)
		}
		c.ID = doc.Ref.ID
		out = append(out, c)
	}
	return out, nil
}

type firestoreSubscription struct {
	cancel context.CancelFunc
	once   sync.Once
}

func (s *firestoreSubscription) Stop() {
	s.once.Do(s.cancel)
}
