package pipeline

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"waypool-chat/config"
	"waypool-chat/internal/authz"
	"waypool-chat/internal/domain"
	"waypool-chat/internal/events"
	"waypool-chat/internal/repository"
	waypool_errors "waypool-chat/pkg/errors"
	"waypool-chat/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessages struct {
	repository.MessageRepository

	mu       sync.Mutex
	created  []domain.Message
	failures int
}

func (f *fakeMessages) Create(_ context.Context, m *domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return waypool_errors.ErrServiceUnavailable
	}
	f.created = append(f.created, *m)
	return nil
}

func (f *fakeMessages) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type fakeConnections struct {
	repository.ConnectionRepository

	mu             sync.Mutex
	pairs          map[string]domain.Connection
	healed         int
	lastMessageAts int
}

func newFakeConnections() *fakeConnections {
	return &fakeConnections{pairs: make(map[string]domain.Connection)}
}

func (f *fakeConnections) set(a, b uuid.UUID, status domain.ConnectionStatus) {
	x, y := domain.OrderPair(a, b)
	f.pairs[x.String()+y.String()] = domain.Connection{UserAID: x, UserBID: y, Status: status}
}

func (f *fakeConnections) GetByPair(_ context.Context, a, b uuid.UUID) (domain.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	x, y := domain.OrderPair(a, b)
	conn, ok := f.pairs[x.String()+y.String()]
	if !ok {
		return domain.Connection{}, waypool_errors.ErrNotFound
	}
	return conn, nil
}

func (f *fakeConnections) FindOrCreate(_ context.Context, a, b, initiator uuid.UUID) (domain.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	x, y := domain.OrderPair(a, b)
	if conn, ok := f.pairs[x.String()+y.String()]; ok {
		return conn, nil
	}
	conn := domain.Connection{UserAID: x, UserBID: y, Status: domain.ConnectionAccepted, RequestedBy: initiator}
	f.pairs[x.String()+y.String()] = conn
	f.healed++
	return conn, nil
}

func (f *fakeConnections) UpdateLastMessageAt(context.Context, uuid.UUID, uuid.UUID, time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastMessageAts++
	return nil
}

type fakeRooms struct {
	repository.RoomRepository

	members map[string]bool
}

func (f *fakeRooms) RideMembership(_ context.Context, rideID, userID uuid.UUID) (bool, error) {
	return f.members[rideID.String()+userID.String()], nil
}

func (f *fakeRooms) GroupMembership(_ context.Context, groupID, userID uuid.UUID) (bool, error) {
	return f.members[groupID.String()+userID.String()], nil
}

// memCache is a pass-through cache so every authorization check hits the fakes.
type memCache struct{}

func (c *memCache) Get(context.Context, string, interface{}) (bool, error)        { return false, nil }
func (c *memCache) Set(context.Context, string, interface{}, time.Duration) error { return nil }
func (c *memCache) Invalidate(context.Context, ...string) error                   { return nil }

type fixture struct {
	pipeline *Pipeline
	messages *fakeMessages
	conns    *fakeConnections
	rooms    *fakeRooms
	bus      *events.LocalEventBus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.PipelineConfig{
		QueueSize:        64,
		BatchSize:        16,
		BatchInterval:    5 * time.Millisecond,
		PriorityBatch:    8,
		PriorityInterval: 2 * time.Millisecond,
		MaxRetries:       3,
		RetryBackoff:     time.Millisecond,
	}

	messages := &fakeMessages{}
	conns := newFakeConnections()
	rooms := &fakeRooms{members: make(map[string]bool)}
	bus := events.NewLocalEventBus()
	authorizer := authz.NewAuthorizer(conns, rooms, &memCache{}, time.Minute, logger.NewNop())

	p := New(cfg, messages, conns, authorizer, bus, logger.NewNop())
	p.Start()
	t.Cleanup(p.Stop)

	return &fixture{pipeline: p, messages: messages, conns: conns, rooms: rooms, bus: bus}
}

func directMessage(sender, recipient uuid.UUID, body string) *domain.Message {
	return &domain.Message{
		ConversationKind: domain.ConversationDirect,
		SenderID:         sender,
		RecipientID:      uuid.NullUUID{UUID: recipient, Valid: true},
		Kind:             domain.KindText,
		Body:             sql.NullString{String: body, Valid: true},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestEnqueueValidation(t *testing.T) {
	f := newFixture(t)
	sender := uuid.New()

	t.Run("text without body rejected", func(t *testing.T) {
		m := directMessage(sender, uuid.New(), "")
		m.Body = sql.NullString{}
		err := f.pipeline.Enqueue(context.Background(), m, "c1")
		assert.True(t, waypool_errors.IsValidation(err))
	})

	t.Run("no target rejected", func(t *testing.T) {
		m := &domain.Message{SenderID: sender, Kind: domain.KindText, Body: sql.NullString{String: "hi", Valid: true}}
		err := f.pipeline.Enqueue(context.Background(), m, "c2")
		assert.True(t, waypool_errors.IsValidation(err))
	})

	t.Run("two targets rejected", func(t *testing.T) {
		m := directMessage(sender, uuid.New(), "hi")
		m.RideID = uuid.NullUUID{UUID: uuid.New(), Valid: true}
		err := f.pipeline.Enqueue(context.Background(), m, "c3")
		assert.True(t, waypool_errors.IsValidation(err))
	})

	t.Run("self message rejected", func(t *testing.T) {
		err := f.pipeline.Enqueue(context.Background(), directMessage(sender, sender, "hi"), "c4")
		assert.True(t, waypool_errors.IsValidation(err))
	})
}

func TestSendPersistsAndConfirms(t *testing.T) {
	f := newFixture(t)
	alice, bob := uuid.New(), uuid.New()
	f.conns.set(alice, bob, domain.ConnectionAccepted)

	m := directMessage(alice, bob, "on my way")
	require.NoError(t, f.pipeline.Enqueue(context.Background(), m, "corr-1"))

	waitFor(t, func() bool { return len(f.bus.PublishedOf(events.EventMessageConfirmed)) == 1 })

	assert.Equal(t, 1, f.messages.createdCount())
	require.Len(t, f.bus.PublishedOf(events.EventMessageNew), 1)

	confirmed := f.bus.PublishedOf(events.EventMessageConfirmed)[0].(*events.MessageConfirmedEvent)
	assert.Equal(t, "corr-1", confirmed.CorrelationID)
	assert.Equal(t, alice, confirmed.UserID)
	assert.NotEqual(t, uuid.Nil, confirmed.Message.ID)

	assert.Equal(t, 1, f.conns.lastMessageAts)
}

func TestSendHealsMissingConnection(t *testing.T) {
	f := newFixture(t)
	alice, bob := uuid.New(), uuid.New()

	require.NoError(t, f.pipeline.Enqueue(context.Background(), directMessage(alice, bob, "hey"), "corr-1"))

	// Healing is part of enqueue-time authorization, not the async drain.
	assert.Equal(t, 1, f.conns.healed)
	conn, err := f.conns.GetByPair(context.Background(), alice, bob)
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionAccepted, conn.Status)

	waitFor(t, func() bool { return len(f.bus.PublishedOf(events.EventMessageConfirmed)) == 1 })
}

func TestSendToBlockedUserRejectedOnEnqueue(t *testing.T) {
	f := newFixture(t)
	alice, bob := uuid.New(), uuid.New()
	f.conns.set(alice, bob, domain.ConnectionBlocked)

	err := f.pipeline.Enqueue(context.Background(), directMessage(alice, bob, "hello?"), "corr-1")
	assert.ErrorIs(t, err, waypool_errors.ErrBlocked)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, f.messages.createdCount(), "blocked sends must not be persisted")
	assert.Empty(t, f.bus.PublishedOf(events.EventMessageNew))
	assert.Empty(t, f.bus.PublishedOf(events.EventMessageFailed), "denial is synchronous, not a failed event")
}

func TestRoomSendRequiresMembership(t *testing.T) {
	f := newFixture(t)
	member, stranger, ride := uuid.New(), uuid.New(), uuid.New()
	f.rooms.members[ride.String()+member.String()] = true

	ok := &domain.Message{
		ConversationKind: domain.ConversationRide,
		SenderID:         member,
		RideID:           uuid.NullUUID{UUID: ride, Valid: true},
		Kind:             domain.KindText,
		Body:             sql.NullString{String: "picking up in 5", Valid: true},
	}
	denied := &domain.Message{
		ConversationKind: domain.ConversationRide,
		SenderID:         stranger,
		RideID:           uuid.NullUUID{UUID: ride, Valid: true},
		Kind:             domain.KindText,
		Body:             sql.NullString{String: "let me in", Valid: true},
	}

	require.NoError(t, f.pipeline.Enqueue(context.Background(), ok, "corr-ok"))
	assert.ErrorIs(t, f.pipeline.Enqueue(context.Background(), denied, "corr-denied"), waypool_errors.ErrForbidden)

	waitFor(t, func() bool { return len(f.bus.PublishedOf(events.EventMessageConfirmed)) == 1 })

	assert.Equal(t, 1, f.messages.createdCount())
	assert.Equal(t, 0, f.conns.lastMessageAts, "room sends do not touch connections")
}

func TestTransientFailureRetries(t *testing.T) {
	f := newFixture(t)
	alice, bob := uuid.New(), uuid.New()
	f.conns.set(alice, bob, domain.ConnectionAccepted)
	f.messages.failures = 2

	require.NoError(t, f.pipeline.Enqueue(context.Background(), directMessage(alice, bob, "retry me"), "corr-1"))
	waitFor(t, func() bool { return len(f.bus.PublishedOf(events.EventMessageConfirmed)) == 1 })

	assert.Equal(t, 1, f.messages.createdCount())
	assert.Empty(t, f.bus.PublishedOf(events.EventMessageFailed))
}

func TestRetryBudgetExhausted(t *testing.T) {
	f := newFixture(t)
	alice, bob := uuid.New(), uuid.New()
	f.conns.set(alice, bob, domain.ConnectionAccepted)
	f.messages.failures = 4 // initial attempt plus all three retries

	require.NoError(t, f.pipeline.Enqueue(context.Background(), directMessage(alice, bob, "doomed"), "corr-1"))
	waitFor(t, func() bool { return len(f.bus.PublishedOf(events.EventMessageFailed)) == 1 })

	assert.Equal(t, 0, f.messages.createdCount())
	assert.Empty(t, f.bus.PublishedOf(events.EventMessageConfirmed))
}

func TestUrgentTakesPriorityLane(t *testing.T) {
	f := newFixture(t)
	alice, bob := uuid.New(), uuid.New()
	f.conns.set(alice, bob, domain.ConnectionAccepted)

	urgent := directMessage(alice, bob, "running late, leave without me")
	urgent.Kind = domain.KindUrgent

	require.NoError(t, f.pipeline.Enqueue(context.Background(), urgent, "corr-urgent"))
	waitFor(t, func() bool { return len(f.bus.PublishedOf(events.EventMessageConfirmed)) == 1 })

	confirmed := f.bus.PublishedOf(events.EventMessageConfirmed)[0].(*events.MessageConfirmedEvent)
	assert.Equal(t, domain.KindUrgent, confirmed.Message.Kind)
}

func TestEnqueueFullQueue(t *testing.T) {
	cfg := config.PipelineConfig{
		QueueSize:        1,
		BatchSize:        1,
		BatchInterval:    time.Hour, // never drains during the test
		PriorityBatch:    1,
		PriorityInterval: time.Hour,
		MaxRetries:       0,
		RetryBackoff:     time.Millisecond,
	}
	p := New(cfg, &fakeMessages{}, newFakeConnections(),
		authz.NewAuthorizer(newFakeConnections(), &fakeRooms{members: map[string]bool{}}, &memCache{}, time.Minute, logger.NewNop()),
		events.NewLocalEventBus(), logger.NewNop())

	alice, bob := uuid.New(), uuid.New()
	require.NoError(t, p.Enqueue(context.Background(), directMessage(alice, bob, "one"), "c1"))
	assert.ErrorIs(t, p.Enqueue(context.Background(), directMessage(alice, bob, "two"), "c2"), waypool_errors.ErrQueueFull)
}
