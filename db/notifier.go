package db

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ChangeNotifier tells live queries that a conversation gained messages.
type ChangeNotifier interface {
	Publish(ctx context.Context, conversationID string) error
	// Subscribe returns a channel signalled on every change and a function
	// that releases the subscription.
	Subscribe(ctx context.Context, conversationID string) (<-chan struct{}, func())
}

// LocalNotifier fans changes out inside one process.
type LocalNotifier struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{subs: make(map[string]map[chan struct{}]struct{})}
}

func (n *LocalNotifier) Publish(ctx context.Context, conversationID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs[conversationID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

func (n *LocalNotifier) Subscribe(ctx context.Context, conversationID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	if n.subs[conversationID] == nil {
		n.subs[conversationID] = make(map[chan struct{}]struct{})
	}
	n.subs[conversationID][ch] = struct{}{}
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.subs[conversationID], ch)
			if len(n.subs[conversationID]) == 0 {
				delete(n.subs, conversationID)
			}
		})
	}
}

// RedisNotifier carries change notifications between gateway instances over
// redis pub/sub.
type RedisNotifier struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisNotifier(addr string, log *zap.Logger) *RedisNotifier {
	return &RedisNotifier{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		log:    log,
	}
}

func (r *RedisNotifier) channel(conversationID string) string {
	return "chat:" + conversationID
}

func (r *RedisNotifier) Publish(ctx context.Context, conversationID string) error {
	return r.client.Publish(ctx, r.channel(conversationID), conversationID).Err()
}

func (r *RedisNotifier) Subscribe(ctx context.Context, conversationID string) (<-chan struct{}, func()) {
	ctx, cancel := context.WithCancel(ctx)
	pubsub := r.client.Subscribe(ctx, r.channel(conversationID))
	out := make(chan struct{}, 1)

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					r.log.Warn("redis notifier: pubsub channel closed", zap.String("conversation_id", conversationID))
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()

	return out, cancel
}

func (r *RedisNotifier) Close() error {
	return r.client.Close()
}
