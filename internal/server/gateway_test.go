package server

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"waypool-chat/config"
	"waypool-chat/internal/authz"
	"waypool-chat/internal/domain"
	"waypool-chat/internal/events"
	"waypool-chat/internal/pipeline"
	"waypool-chat/internal/presence"
	"waypool-chat/internal/repository"
	"waypool-chat/internal/session"
	waypool_errors "waypool-chat/pkg/errors"
	"waypool-chat/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gwMessages struct {
	repository.MessageRepository

	mu      sync.Mutex
	created []domain.Message
}

func (f *gwMessages) Create(_ context.Context, m *domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, *m)
	return nil
}

func (f *gwMessages) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type gwConnections struct {
	repository.ConnectionRepository

	mu    sync.Mutex
	pairs map[string]domain.Connection
}

func newGwConnections() *gwConnections {
	return &gwConnections{pairs: make(map[string]domain.Connection)}
}

func (f *gwConnections) set(a, b uuid.UUID, status domain.ConnectionStatus) {
	x, y := domain.OrderPair(a, b)
	f.pairs[x.String()+y.String()] = domain.Connection{UserAID: x, UserBID: y, Status: status}
}

func (f *gwConnections) GetByPair(_ context.Context, a, b uuid.UUID) (domain.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	x, y := domain.OrderPair(a, b)
	conn, ok := f.pairs[x.String()+y.String()]
	if !ok {
		return domain.Connection{}, waypool_errors.ErrNotFound
	}
	return conn, nil
}

func (f *gwConnections) FindOrCreate(_ context.Context, a, b, initiator uuid.UUID) (domain.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	x, y := domain.OrderPair(a, b)
	if conn, ok := f.pairs[x.String()+y.String()]; ok {
		return conn, nil
	}
	conn := domain.Connection{UserAID: x, UserBID: y, Status: domain.ConnectionAccepted, RequestedBy: initiator}
	f.pairs[x.String()+y.String()] = conn
	return conn, nil
}

func (f *gwConnections) UpdateLastMessageAt(context.Context, uuid.UUID, uuid.UUID, time.Time) error {
	return nil
}

type gwRooms struct {
	repository.RoomRepository
}

func (f *gwRooms) RideMembership(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return false, nil
}

func (f *gwRooms) GroupMembership(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return false, nil
}

// passCache never hits so authorization always reaches the fakes.
type passCache struct{}

func (c *passCache) Get(context.Context, string, interface{}) (bool, error)        { return false, nil }
func (c *passCache) Set(context.Context, string, interface{}, time.Duration) error { return nil }
func (c *passCache) Invalidate(context.Context, ...string) error                   { return nil }

type gwPresenceStore struct{}

func (s *gwPresenceStore) SetOnline(context.Context, uuid.UUID) error  { return nil }
func (s *gwPresenceStore) SetOffline(context.Context, uuid.UUID) error { return nil }
func (s *gwPresenceStore) Refresh(context.Context, uuid.UUID) error    { return nil }

type gatewayFixture struct {
	gateway  *Gateway
	pipe     *pipeline.Pipeline
	conns    *gwConnections
	messages *gwMessages
	bus      *events.LocalEventBus
}

// newGatewayFixture wires a gateway over a real pipeline with fake storage.
// The pipeline is not started; tests control when the lanes drain.
func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	messages := &gwMessages{}
	conns := newGwConnections()
	bus := events.NewLocalEventBus()
	authorizer := authz.NewAuthorizer(conns, &gwRooms{}, &passCache{}, time.Minute, logger.NewNop())

	cfg := config.PipelineConfig{
		QueueSize:        16,
		BatchSize:        8,
		BatchInterval:    2 * time.Millisecond,
		PriorityBatch:    4,
		PriorityInterval: time.Millisecond,
		MaxRetries:       1,
		RetryBackoff:     time.Millisecond,
	}
	pipe := pipeline.New(cfg, messages, conns, authorizer, bus, logger.NewNop())

	tracker := presence.NewTracker(config.PresenceConfig{
		TypingTimeout:      3 * time.Second,
		SweepInterval:      5 * time.Second,
		LastActiveInterval: time.Minute,
		FlushInterval:      time.Minute,
		FlushBatchSize:     16,
	}, conns, nil, &gwPresenceStore{}, bus, logger.NewNop())

	gateway := NewGateway(session.NewDirectory(), authorizer, pipe, tracker,
		nil, nil, messages, bus, runHub(t), logger.NewNop())

	return &gatewayFixture{gateway: gateway, pipe: pipe, conns: conns, messages: messages, bus: bus}
}

func sendFrame(t *testing.T, recipient uuid.UUID, body, correlationID string) []byte {
	t.Helper()
	data, err := json.Marshal(sendMessageRequest{
		CorrelationID: correlationID,
		Kind:          string(domain.KindText),
		Body:          body,
		RecipientID:   &recipient,
	})
	require.NoError(t, err)
	raw, err := json.Marshal(InboundFrame{Op: OpSendMessage, Data: data})
	require.NoError(t, err)
	return raw
}

func decodeFrame(t *testing.T, payload []byte) (string, json.RawMessage) {
	t.Helper()
	var frame struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(payload, &frame))
	return frame.Type, frame.Data
}

func TestSendMessageQueuedBeforeConfirmed(t *testing.T) {
	f := newGatewayFixture(t)
	alice, bob := uuid.New(), uuid.New()
	f.conns.set(alice, bob, domain.ConnectionAccepted)
	client := NewClient(nil, alice)

	f.gateway.HandleFrame(context.Background(), client, sendFrame(t, bob, "on my way", "corr-1"))

	// The queued ack is synchronous; confirmation cannot exist before the
	// lanes start draining.
	frameType, data := decodeFrame(t, receive(t, client))
	assert.Equal(t, FrameMessageQueued, frameType)

	var queued messageQueuedPayload
	require.NoError(t, json.Unmarshal(data, &queued))
	assert.Equal(t, "corr-1", queued.CorrelationID)
	assert.Empty(t, f.bus.PublishedOf(events.EventMessageConfirmed))

	f.pipe.Start()
	t.Cleanup(f.pipe.Stop)
	waitFor(t, func() bool { return len(f.bus.PublishedOf(events.EventMessageConfirmed)) == 1 })

	confirmed := f.bus.PublishedOf(events.EventMessageConfirmed)[0].(*events.MessageConfirmedEvent)
	assert.Equal(t, "corr-1", confirmed.CorrelationID)
	assert.Equal(t, queued.MessageID, confirmed.Message.ID)
	assert.Equal(t, 1, f.messages.createdCount())
}

func TestSendMessageBlockedRejectedSynchronously(t *testing.T) {
	f := newGatewayFixture(t)
	alice, bob := uuid.New(), uuid.New()
	f.conns.set(alice, bob, domain.ConnectionBlocked)
	client := NewClient(nil, alice)

	f.gateway.HandleFrame(context.Background(), client, sendFrame(t, bob, "hello?", "corr-1"))

	frameType, data := decodeFrame(t, receive(t, client))
	assert.Equal(t, FrameError, frameType)

	var failure errorPayload
	require.NoError(t, json.Unmarshal(data, &failure))
	assert.Equal(t, "BLOCKED", failure.Code)

	assert.Empty(t, client.send, "no queued ack for a denied send")
	assert.Equal(t, 0, f.messages.createdCount())
	assert.Empty(t, f.bus.Published())
}
