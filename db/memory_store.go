package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/techagentng/clarkmarket/models"
)

// AppendHook runs before a record is stored by MemoryStore. A non-nil error
// rejects the write.
type AppendHook func(conversationID string, rec *models.MessageRecord) error

// MemoryStore keeps conversations in process memory. Snapshots are delivered
// asynchronously, one goroutine per subscription, and coalesce so a slow
// consumer only sees the latest state.
type MemoryStore struct {
	mu            sync.Mutex
	now           func() time.Time
	messages      map[string][]models.Message
	conversations map[string]models.Conversation
	subs          map[string]map[*memorySubscription]struct{}
	hook          AppendHook
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:           time.Now,
		messages:      make(map[string][]models.Message),
		conversations: make(map[string]models.Conversation),
		subs:          make(map[string]map[*memorySubscription]struct{}),
	}
}

// SetClock replaces the store-side clock used to stamp appended records.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) SetAppendHook(hook AppendHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = hook
}

func (m *MemoryStore) Subscribe(ctx context.Context, conversationID string, onSnapshot SnapshotFunc, onError ErrorFunc) (Subscription, error) {
	if conversationID == "" {
		return nil, errors.New("memory store: empty conversation id")
	}

	sub := &memorySubscription{
		store:          m,
		conversationID: conversationID,
		onSnapshot:     onSnapshot,
		onError:        onError,
		notify:         make(chan struct{}, 1),
		done:           make(chan struct{}),
	}

	m.mu.Lock()
	if m.subs[conversationID] == nil {
		m.subs[conversationID] = make(map[*memorySubscription]struct{})
	}
	m.subs[conversationID][sub] = struct{}{}
	sub.latest = m.copyLocked(conversationID)
	m.mu.Unlock()

	sub.signal()
	go sub.run(ctx)
	return sub, nil
}

func (m *MemoryStore) Append(ctx context.Context, conversationID string, rec *models.MessageRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	hook := m.hook
	m.mu.Unlock()
	if hook != nil {
		if err := hook(conversationID, rec); err != nil {
			return "", errors.Wrap(err, "memory store: append rejected")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *rec
	stored.ConversationID = conversationID
	stored.Timestamp = m.now().UTC()
	id := uuid.NewString()
	m.messages[conversationID] = append(m.messages[conversationID], stored.ToMessage(id))
	sort.SliceStable(m.messages[conversationID], func(i, j int) bool {
		return m.messages[conversationID][i].Timestamp.Before(m.messages[conversationID][j].Timestamp)
	})

	snapshot := m.copyLocked(conversationID)
	for sub := range m.subs[conversationID] {
		sub.publish(snapshot)
	}
	return id, nil
}

func (m *MemoryStore) TouchConversation(ctx context.Context, conv *models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *conv
	c.UpdatedAt = m.now().UTC()
	m.conversations[conv.ID] = c
	return nil
}

func (m *MemoryStore) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Conversation
	for _, c := range m.conversations {
		for _, p := range c.Participants {
			if p == userID {
				out = append(out, c)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Messages returns the persisted messages of a conversation in store order.
func (m *MemoryStore) Messages(conversationID string) []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copyLocked(conversationID)
}

// Subscribers counts live subscriptions on a conversation.
func (m *MemoryStore) Subscribers(conversationID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[conversationID])
}

// BreakSubscriptions terminates every live query on a conversation with err,
// the way a permission change or dropped connection would.
func (m *MemoryStore) BreakSubscriptions(conversationID string, err error) {
	m.mu.Lock()
	var broken []*memorySubscription
	for sub := range m.subs[conversationID] {
		broken = append(broken, sub)
	}
	delete(m.subs, conversationID)
	m.mu.Unlock()

	for _, sub := range broken {
		sub.fail(err)
	}
}

func (m *MemoryStore) copyLocked(conversationID string) []models.Message {
	src := m.messages[conversationID]
	out := make([]models.Message, len(src))
	copy(out, src)
	return out
}

func (m *MemoryStore) remove(sub *memorySubscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subs[sub.conversationID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(m.subs, sub.conversationID)
		}
	}
}

type memorySubscription struct {
	store          *MemoryStore
	conversationID string
	onSnapshot     SnapshotFunc
	onError        ErrorFunc

	mu     sync.Mutex
	latest []models.Message
	err    error

	notify   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (s *memorySubscription) publish(snapshot []models.Message) {
	s.mu.Lock()
	s.latest = snapshot
	s.mu.Unlock()
	s.signal()
}

func (s *memorySubscription) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.signal()
}

func (s *memorySubscription) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *memorySubscription) run(ctx context.Context) {
	defer s.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-s.notify:
			s.mu.Lock()
			snapshot, err := s.latest, s.err
			s.mu.Unlock()

			if err != nil {
				if s.onError != nil {
					s.onError(err)
				}
				return
			}
			if s.onSnapshot != nil {
				s.onSnapshot(snapshot)
			}
		}
	}
}

func (s *memorySubscription) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.store.remove(s)
	})
}
