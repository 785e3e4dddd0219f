package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/techagentng/clarkmarket/db"
	"github.com/techagentng/clarkmarket/models"
	"go.uber.org/zap"
)

var (
	ErrNotAuthenticated   = errors.New("chat: not authenticated")
	ErrInvalidCounterpart = errors.New("chat: invalid counterpart")
	ErrAlreadyOpen        = errors.New("chat: session already opened")
	ErrClosed             = errors.New("chat: session closed")
	ErrWriteFailed        = errors.New("chat: write failed")
	ErrSubscription       = errors.New("chat: subscription failed")
)

type State int

const (
	Uninitialized State = iota
	Subscribed
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Subscribed:
		return "subscribed"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// IdentityProvider resolves the signed-in user. A nil identity with a nil
// error means nobody is signed in.
type IdentityProvider interface {
	CurrentIdentity(ctx context.Context) (*models.Identity, error)
}

// Notifier is told about every message that reached the store.
type Notifier interface {
	NotifyMessage(ctx context.Context, msg *models.Message) error
}

type Options struct {
	// WriteMaxAttempts bounds the store appends tried per send.
	WriteMaxAttempts int
	WriteBackoff     time.Duration
	WriteTimeout     time.Duration

	ResubscribeBackoff    time.Duration
	ResubscribeMaxBackoff time.Duration

	Notifier Notifier
	Logger   *zap.Logger
	Now      func() time.Time
}

func (o Options) withDefaults() Options {
	if o.WriteMaxAttempts <= 0 {
		o.WriteMaxAttempts = 3
	}
	if o.WriteBackoff <= 0 {
		o.WriteBackoff = 250 * time.Millisecond
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.ResubscribeBackoff <= 0 {
		o.ResubscribeBackoff = 500 * time.Millisecond
	}
	if o.ResubscribeMaxBackoff <= 0 {
		o.ResubscribeMaxBackoff = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type OpenOption func(*Session)

// WithCounterpartEmail sets the receiver email written on outgoing messages.
func WithCounterpartEmail(email string) OpenOption {
	return func(s *Session) {
		s.counterpartEmail = email
	}
}

// Session is the live, ordered timeline of one conversation between the
// signed-in user and a counterpart. It merges messages sent from this
// session, shown immediately, with the snapshots delivered by the store's
// live query.
//
// A Session is opened once. Reopening a conversation takes a new Session.
type Session struct {
	store db.DocumentStore
	auth  IdentityProvider
	opts  Options
	log   *zap.Logger

	mu               sync.Mutex
	state            State
	self             models.Identity
	counterpartID    string
	counterpartEmail string
	conversationID   string
	persisted        []models.Message
	pending          []models.Message
	timeline         []models.Message
	lastErr          error
	sub              db.Subscription
	gen              uint64
	resubAttempts    int
	ctx              context.Context
	cancel           context.CancelFunc
	updates          chan struct{}
	writes           sync.WaitGroup
}

func NewSession(store db.DocumentStore, auth IdentityProvider, opts Options) *Session {
	opts = opts.withDefaults()
	return &Session{
		store:   store,
		auth:    auth,
		opts:    opts,
		log:     opts.Logger,
		updates: make(chan struct{}, 1),
	}
}

// Open binds the session to the conversation between currentUserID and
// counterpartID and attaches the live query. currentUserID must match the
// identity reported by the provider.
func (s *Session) Open(ctx context.Context, currentUserID, counterpartID string, opts ...OpenOption) error {
	id, err := s.auth.CurrentIdentity(ctx)
	if err != nil {
		return errors.Wrapf(ErrNotAuthenticated, "resolve identity: %v", err)
	}
	if id == nil || id.UserID == "" || currentUserID == "" || id.UserID != currentUserID {
		return ErrNotAuthenticated
	}
	if counterpartID == "" || counterpartID == currentUserID {
		return ErrInvalidCounterpart
	}

	s.mu.Lock()
	switch s.state {
	case Subscribed:
		s.mu.Unlock()
		return ErrAlreadyOpen
	case Closed:
		s.mu.Unlock()
		return ErrClosed
	}
	for _, opt := range opts {
		opt(s)
	}
	s.self = *id
	s.counterpartID = counterpartID
	s.conversationID = models.ConversationID(currentUserID, counterpartID)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.state = Subscribed
	s.log = s.opts.Logger.With(zap.String("conversation_id", s.conversationID), zap.String("user_id", id.UserID))
	gen, ctx, conversationID := s.gen, s.ctx, s.conversationID
	s.mu.Unlock()

	sub, err := s.store.Subscribe(ctx, conversationID, s.snapshotHandler(gen), s.errorHandler(gen))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if s.state == Subscribed {
			s.abortOpenLocked()
		}
		return errors.Wrapf(ErrSubscription, "%v", err)
	}
	if s.state == Closed {
		sub.Stop()
		return ErrClosed
	}
	if s.gen != gen {
		// The live query failed before Subscribe returned.
		failed := s.lastErr
		sub.Stop()
		s.abortOpenLocked()
		if failed == nil {
			failed = ErrSubscription
		}
		return failed
	}
	s.sub = sub
	s.log.Debug("chat session subscribed", zap.String("path", db.MessagesPath(s.conversationID)))
	return nil
}

// abortOpenLocked returns a session whose Open failed to Uninitialized and
// releases everything Open started, including a pending resubscribe.
func (s *Session) abortOpenLocked() {
	s.state = Uninitialized
	s.gen++
	if s.sub != nil {
		s.sub.Stop()
		s.sub = nil
	}
	s.cancel()
	s.persisted = nil
	s.pending = nil
	s.timeline = nil
	s.lastErr = nil
	s.resubAttempts = 0
}

// Send shows text in the timeline at once and writes it to the store in the
// background. Blank text is ignored.
func (s *Session) Send(text string) error {
	body := strings.TrimSpace(text)
	if body == "" {
		return nil
	}

	s.mu.Lock()
	if s.state != Subscribed {
		s.mu.Unlock()
		return ErrNotAuthenticated
	}

	clientID := uuid.NewString()
	msg := models.Message{
		ID:             clientID,
		ClientID:       clientID,
		ConversationID: s.conversationID,
		SenderID:       s.self.UserID,
		SenderEmail:    s.self.Email,
		ReceiverID:     s.counterpartID,
		ReceiverEmail:  s.counterpartEmail,
		Text:           body,
		Timestamp:      s.sendTimeLocked(),
		Pending:        true,
	}
	s.pending = append(s.pending, msg)
	s.rebuildLocked()

	rec := &models.MessageRecord{
		Text:           body,
		SenderID:       msg.SenderID,
		SenderEmail:    msg.SenderEmail,
		ReceiverID:     msg.ReceiverID,
		ReceiverEmail:  msg.ReceiverEmail,
		Participants:   []string{msg.SenderID, msg.ReceiverID},
		ConversationID: s.conversationID,
		ClientID:       clientID,
	}
	conversationID, ctx := s.conversationID, s.ctx
	s.writes.Add(1)
	s.mu.Unlock()

	go s.write(ctx, conversationID, rec)
	return nil
}

// sendTimeLocked is the local send time, never earlier than anything already
// shown, so a local clock behind the store's still renders a new message last.
func (s *Session) sendTimeLocked() time.Time {
	now := s.opts.Now()
	for _, m := range s.persisted {
		if m.Timestamp.After(now) {
			now = m.Timestamp
		}
	}
	for _, m := range s.pending {
		if m.Timestamp.After(now) {
			now = m.Timestamp
		}
	}
	return now
}

// Close releases the live query. It is safe to call at any time, any number
// of times.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state != Subscribed {
		s.mu.Unlock()
		return
	}
	s.state = Closed
	s.gen++
	sub := s.sub
	s.sub = nil
	cancel := s.cancel
	close(s.updates)
	s.mu.Unlock()

	if sub != nil {
		sub.Stop()
	}
	cancel()
	s.log.Debug("chat session closed")
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Timeline returns a copy of the rendered messages in display order.
func (s *Session) Timeline() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.timeline))
	copy(out, s.timeline)
	return out
}

// LastError reports the most recent write or subscription failure. A
// subscription failure clears once a snapshot arrives again.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Updates is signalled whenever the timeline or last error changes. Signals
// coalesce; the channel is closed when the session closes.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

func (s *Session) rebuildLocked() {
	s.timeline, s.pending = Merge(s.pending, s.persisted)
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

func (s *Session) snapshotHandler(gen uint64) db.SnapshotFunc {
	return func(msgs []models.Message) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state != Subscribed || s.gen != gen {
			return
		}
		s.persisted = msgs
		s.resubAttempts = 0
		if errors.Is(s.lastErr, ErrSubscription) {
			s.lastErr = nil
		}
		s.rebuildLocked()
	}
}

func (s *Session) errorHandler(gen uint64) db.ErrorFunc {
	return func(err error) {
		s.failSubscription(gen, err)
	}
}

func (s *Session) failSubscription(gen uint64, err error) {
	s.mu.Lock()
	if s.state != Subscribed || s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.gen++
	next := s.gen
	old := s.sub
	s.sub = nil
	delay := backoff(s.opts.ResubscribeBackoff, s.opts.ResubscribeMaxBackoff, s.resubAttempts)
	s.resubAttempts++
	s.lastErr = errors.Wrapf(ErrSubscription, "%v", err)
	ctx := s.ctx
	log := s.log
	s.rebuildLocked()
	s.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	log.Warn("chat live query failed, resubscribing", zap.Error(err), zap.Duration("delay", delay))

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		s.resubscribe(next)
	}()
}

func (s *Session) resubscribe(gen uint64) {
	s.mu.Lock()
	if s.state != Subscribed || s.gen != gen {
		s.mu.Unlock()
		return
	}
	ctx, conversationID := s.ctx, s.conversationID
	s.mu.Unlock()

	sub, err := s.store.Subscribe(ctx, conversationID, s.snapshotHandler(gen), s.errorHandler(gen))
	if err != nil {
		s.failSubscription(gen, err)
		return
	}

	s.mu.Lock()
	if s.state != Subscribed || s.gen != gen {
		s.mu.Unlock()
		sub.Stop()
		return
	}
	s.sub = sub
	s.mu.Unlock()
}

// write appends rec with bounded retries. An attempt already running when
// the session closes is left to finish, but no new attempt starts and the
// outcome does not touch the closed session.
func (s *Session) write(sessionCtx context.Context, conversationID string, rec *models.MessageRecord) {
	defer s.writes.Done()

	var (
		id  string
		err error
	)
	for attempt := 0; attempt < s.opts.WriteMaxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoff(s.opts.WriteBackoff, 0, attempt-1))
			select {
			case <-sessionCtx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			if s.State() != Subscribed {
				return
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
		id, err = s.store.Append(ctx, conversationID, rec)
		cancel()
		if err == nil {
			break
		}
		s.log.Warn("chat write attempt failed",
			zap.String("client_id", rec.ClientID), zap.Int("attempt", attempt+1), zap.Error(err))
	}

	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state != Subscribed {
			return
		}
		for i := range s.pending {
			if s.pending[i].ClientID == rec.ClientID {
				s.pending[i].Failed = true
			}
		}
		s.lastErr = errors.Wrapf(ErrWriteFailed, "%v", err)
		s.log.Error("chat message not delivered", zap.String("client_id", rec.ClientID), zap.Error(err))
		s.rebuildLocked()
		return
	}

	s.afterWrite(conversationID, id, rec)
}

func (s *Session) afterWrite(conversationID, id string, rec *models.MessageRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
	defer cancel()

	conv := &models.Conversation{
		ID:           conversationID,
		Participants: rec.Participants,
		LastMessage:  rec.Text,
		LastSenderID: rec.SenderID,
	}
	if err := s.store.TouchConversation(ctx, conv); err != nil {
		s.log.Warn("chat conversation summary not updated", zap.Error(err))
	}

	if s.opts.Notifier != nil {
		msg := rec.ToMessage(id)
		if err := s.opts.Notifier.NotifyMessage(ctx, &msg); err != nil {
			s.log.Warn("chat receiver notification failed", zap.String("message_id", id), zap.Error(err))
		}
	}
}
