package presence

import (
	"context"
	"sync"
	"time"

	"waypool-chat/config"
	"waypool-chat/internal/domain"
	"waypool-chat/internal/events"
	"waypool-chat/internal/repository"
	"waypool-chat/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the shared presence view the tracker mirrors into.
type Store interface {
	SetOnline(ctx context.Context, userID uuid.UUID) error
	SetOffline(ctx context.Context, userID uuid.UUID) error
	Refresh(ctx context.Context, userID uuid.UUID) error
}

type typingKey struct {
	conversation domain.ConversationKey
	userID       uuid.UUID
}

type typingState struct {
	timer *time.Timer
	since time.Time
}

// Tracker owns the ephemeral per-user state: typing indicators with their
// expiry timers, online/offline fan-out to accepted connections, and the
// coalesced last-active writes. Nothing here survives a restart; the shared
// Redis view carries what other processes need.
type Tracker struct {
	cfg config.PresenceConfig

	connections repository.ConnectionRepository
	users       repository.UserRepository
	store       Store
	bus         events.EventBus
	log         *logger.Logger

	mu      sync.Mutex
	typing  map[typingKey]*typingState
	pending map[uuid.UUID]time.Time // last-active stamps awaiting flush
	noted   map[uuid.UUID]time.Time // last time a stamp was accepted per user

	stop     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewTracker(
	cfg config.PresenceConfig,
	connections repository.ConnectionRepository,
	users repository.UserRepository,
	store Store,
	bus events.EventBus,
	log *logger.Logger,
) *Tracker {
	return &Tracker{
		cfg:         cfg,
		connections: connections,
		users:       users,
		store:       store,
		bus:         bus,
		log:         log,
		typing:      make(map[typingKey]*typingState),
		pending:     make(map[uuid.UUID]time.Time),
		noted:       make(map[uuid.UUID]time.Time),
		stop:        make(chan struct{}),
	}
}

// Start launches the typing sweep and the last-active flush loops.
func (t *Tracker) Start() {
	t.wg.Add(2)
	go t.sweepLoop()
	go t.flushLoop()
}

// Stop halts the loops and flushes outstanding last-active stamps.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stop)
		t.wg.Wait()
		t.flush(context.Background())
	})
}

// HandleOnline mirrors the transition into the shared view and notifies the
// user's accepted connections. Call only on the first session of a user.
func (t *Tracker) HandleOnline(ctx context.Context, userID uuid.UUID) {
	if err := t.store.SetOnline(ctx, userID); err != nil {
		t.log.Warnf("presence: shared online write failed for %s: %v", userID, err)
	}
	t.broadcast(ctx, userID, true)
	t.Touch(userID)
}

// HandleOffline mirrors the transition and clears the user's typing state.
// Call only when the user's last session is gone.
func (t *Tracker) HandleOffline(ctx context.Context, userID uuid.UUID) {
	if err := t.store.SetOffline(ctx, userID); err != nil {
		t.log.Warnf("presence: shared offline write failed for %s: %v", userID, err)
	}

	t.mu.Lock()
	var stale []domain.ConversationKey
	for key, state := range t.typing {
		if key.userID == userID {
			state.timer.Stop()
			delete(t.typing, key)
			stale = append(stale, key.conversation)
		}
	}
	t.mu.Unlock()
	for _, conversation := range stale {
		t.publish(ctx, events.NewTypingEvent(conversation, userID, false))
	}

	t.broadcast(ctx, userID, false)
	t.Touch(userID)
}

func (t *Tracker) broadcast(ctx context.Context, userID uuid.UUID, online bool) {
	recipients, err := t.connections.AcceptedConnectionIDs(ctx, userID)
	if err != nil {
		t.log.ErrorCtx(ctx, "presence: connection fan-out lookup failed",
			zap.String("user_id", userID.String()), zap.Error(err))
		return
	}
	if len(recipients) == 0 {
		return
	}
	t.publish(ctx, events.NewPresenceEvent(userID, online, time.Now().UTC(), recipients))
}

// TypingStarted publishes the indicator and arms its expiry timer. Repeated
// calls while already typing just re-arm the timer without republishing.
func (t *Tracker) TypingStarted(ctx context.Context, conversation domain.ConversationKey, userID uuid.UUID) {
	key := typingKey{conversation: conversation, userID: userID}

	t.mu.Lock()
	state, exists := t.typing[key]
	if exists {
		state.timer.Reset(t.cfg.TypingTimeout)
		state.since = time.Now()
		t.mu.Unlock()
		return
	}
	t.typing[key] = &typingState{
		since: time.Now(),
		timer: time.AfterFunc(t.cfg.TypingTimeout, func() { t.expire(key) }),
	}
	t.mu.Unlock()

	t.publish(ctx, events.NewTypingEvent(conversation, userID, true))
}

// TypingStopped clears the indicator. The stop event goes out exactly once,
// from whichever of the explicit stop, the timer or the sweep gets there first.
func (t *Tracker) TypingStopped(ctx context.Context, conversation domain.ConversationKey, userID uuid.UUID) {
	key := typingKey{conversation: conversation, userID: userID}

	t.mu.Lock()
	state, exists := t.typing[key]
	if exists {
		state.timer.Stop()
		delete(t.typing, key)
	}
	t.mu.Unlock()

	if exists {
		t.publish(ctx, events.NewTypingEvent(conversation, userID, false))
	}
}

func (t *Tracker) expire(key typingKey) {
	t.mu.Lock()
	_, exists := t.typing[key]
	if exists {
		delete(t.typing, key)
	}
	t.mu.Unlock()

	if exists {
		t.publish(context.Background(), events.NewTypingEvent(key.conversation, key.userID, false))
	}
}

// sweepLoop is the fallback for timers that never fire (timer races around
// Reset/Stop). It clears anything older than the timeout.
func (t *Tracker) sweepLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

func (t *Tracker) sweep() {
	cutoff := time.Now().Add(-t.cfg.TypingTimeout)

	t.mu.Lock()
	var expired []typingKey
	for key, state := range t.typing {
		if state.since.Before(cutoff) {
			state.timer.Stop()
			delete(t.typing, key)
			expired = append(expired, key)
		}
	}
	t.mu.Unlock()

	for _, key := range expired {
		t.publish(context.Background(), events.NewTypingEvent(key.conversation, key.userID, false))
	}
}

// Touch records activity for the last-active projection. Stamps are coalesced:
// at most one accepted per user per LastActiveInterval, persisted in batches.
// An accepted stamp also extends the shared online record's TTL.
func (t *Tracker) Touch(userID uuid.UUID) {
	now := time.Now().UTC()

	t.mu.Lock()
	if last, ok := t.noted[userID]; ok && now.Sub(last) < t.cfg.LastActiveInterval {
		t.mu.Unlock()
		return
	}
	t.noted[userID] = now
	t.pending[userID] = now
	t.mu.Unlock()

	if err := t.store.Refresh(context.Background(), userID); err != nil {
		t.log.Warnf("presence: online refresh failed: %v", err)
	}
}

func (t *Tracker) flushLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.flush(context.Background())
		}
	}
}

func (t *Tracker) flush(ctx context.Context) {
	t.mu.Lock()
	if len(t.pending) == 0 {
		t.mu.Unlock()
		return
	}
	batch := make(map[uuid.UUID]time.Time, t.cfg.FlushBatchSize)
	for userID, at := range t.pending {
		batch[userID] = at
		delete(t.pending, userID)
		if len(batch) == t.cfg.FlushBatchSize {
			break
		}
	}
	t.mu.Unlock()

	if err := t.users.PersistLastActive(ctx, batch); err != nil {
		t.log.Errorf("presence: last-active flush of %d stamps failed: %v", len(batch), err)
		// Put the stamps back so the next flush retries them.
		t.mu.Lock()
		for userID, at := range batch {
			if _, ok := t.pending[userID]; !ok {
				t.pending[userID] = at
			}
		}
		t.mu.Unlock()
	}
}

// TypingCount reports active indicators, for introspection and tests.
func (t *Tracker) TypingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.typing)
}

func (t *Tracker) publish(ctx context.Context, event events.Event) {
	if err := t.bus.Publish(ctx, event); err != nil {
		t.log.Warnf("presence: publish %s failed: %v", event.EventType(), err)
	}
}
