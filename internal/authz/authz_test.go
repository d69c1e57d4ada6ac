package authz

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"waypool-chat/internal/domain"
	waypool_errors "waypool-chat/pkg/errors"
	"waypool-chat/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCache struct {
	data map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (c *memCache) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	raw, ok := c.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (c *memCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.data[key] = raw
	return nil
}

func (c *memCache) Invalidate(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(c.data, key)
	}
	return nil
}

type fakeConnections struct {
	pairs      map[string]domain.Connection
	getCalls   int
	created    []uuid.UUID
	createWith domain.ConnectionStatus
}

func newFakeConnections() *fakeConnections {
	return &fakeConnections{pairs: make(map[string]domain.Connection), createWith: domain.ConnectionAccepted}
}

func (f *fakeConnections) set(a, b uuid.UUID, status domain.ConnectionStatus) {
	x, y := domain.OrderPair(a, b)
	f.pairs[x.String()+y.String()] = domain.Connection{UserAID: x, UserBID: y, Status: status}
}

func (f *fakeConnections) GetByPair(_ context.Context, a, b uuid.UUID) (domain.Connection, error) {
	f.getCalls++
	x, y := domain.OrderPair(a, b)
	conn, ok := f.pairs[x.String()+y.String()]
	if !ok {
		return domain.Connection{}, waypool_errors.ErrNotFound
	}
	return conn, nil
}

func (f *fakeConnections) AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error) {
	conn, err := f.GetByPair(ctx, a, b)
	if err != nil {
		return false, nil
	}
	return conn.Status == domain.ConnectionAccepted, nil
}

func (f *fakeConnections) IsBlocked(ctx context.Context, a, b uuid.UUID) (bool, error) {
	conn, err := f.GetByPair(ctx, a, b)
	if err != nil {
		return false, nil
	}
	return conn.Status == domain.ConnectionBlocked, nil
}

func (f *fakeConnections) FindOrCreate(_ context.Context, a, b, initiator uuid.UUID) (domain.Connection, error) {
	x, y := domain.OrderPair(a, b)
	if conn, ok := f.pairs[x.String()+y.String()]; ok {
		return conn, nil
	}
	conn := domain.Connection{UserAID: x, UserBID: y, Status: f.createWith, RequestedBy: initiator}
	f.pairs[x.String()+y.String()] = conn
	f.created = append(f.created, initiator)
	return conn, nil
}

func (f *fakeConnections) UpdateLastMessageAt(context.Context, uuid.UUID, uuid.UUID, time.Time) error {
	return nil
}

func (f *fakeConnections) AcceptedConnectionIDs(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

type fakeRooms struct {
	rideMembers  map[string]bool
	groupMembers map[string]bool
	lookups      int
}

func newFakeRooms() *fakeRooms {
	return &fakeRooms{rideMembers: make(map[string]bool), groupMembers: make(map[string]bool)}
}

func (f *fakeRooms) RideMembership(_ context.Context, rideID, userID uuid.UUID) (bool, error) {
	f.lookups++
	return f.rideMembers[rideID.String()+userID.String()], nil
}

func (f *fakeRooms) GroupMembership(_ context.Context, groupID, userID uuid.UUID) (bool, error) {
	f.lookups++
	return f.groupMembers[groupID.String()+userID.String()], nil
}

func (f *fakeRooms) RideIDsOf(context.Context, uuid.UUID) ([]uuid.UUID, error)  { return nil, nil }
func (f *fakeRooms) GroupIDsOf(context.Context, uuid.UUID) ([]uuid.UUID, error) { return nil, nil }
func (f *fakeRooms) RoomNames(context.Context, domain.ConversationKind, []uuid.UUID) (map[uuid.UUID]string, error) {
	return nil, nil
}
func (f *fakeRooms) MemberIDs(context.Context, domain.ConversationKind, uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

func newTestAuthorizer(conns *fakeConnections, rooms *fakeRooms) *Authorizer {
	return NewAuthorizer(conns, rooms, newMemCache(), 10*time.Minute, logger.NewNop())
}

func TestCanJoinDirect(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()

	t.Run("accepted connection allows", func(t *testing.T) {
		conns := newFakeConnections()
		conns.set(alice, bob, domain.ConnectionAccepted)
		a := newTestAuthorizer(conns, newFakeRooms())

		assert.NoError(t, a.CanJoinDirect(context.Background(), alice, bob))
		assert.NoError(t, a.CanJoinDirect(context.Background(), bob, alice))
	})

	t.Run("block denies in both directions", func(t *testing.T) {
		conns := newFakeConnections()
		conns.set(alice, bob, domain.ConnectionBlocked)
		a := newTestAuthorizer(conns, newFakeRooms())

		assert.ErrorIs(t, a.CanJoinDirect(context.Background(), alice, bob), waypool_errors.ErrBlocked)
		assert.ErrorIs(t, a.CanJoinDirect(context.Background(), bob, alice), waypool_errors.ErrBlocked)
	})

	t.Run("missing connection denies join", func(t *testing.T) {
		a := newTestAuthorizer(newFakeConnections(), newFakeRooms())
		assert.ErrorIs(t, a.CanJoinDirect(context.Background(), alice, bob), waypool_errors.ErrNoConnection)
	})

	t.Run("pending connection allows join", func(t *testing.T) {
		conns := newFakeConnections()
		conns.set(alice, bob, domain.ConnectionPending)
		a := newTestAuthorizer(conns, newFakeRooms())

		assert.NoError(t, a.CanJoinDirect(context.Background(), alice, bob))
	})

	t.Run("rejected connection allows join", func(t *testing.T) {
		conns := newFakeConnections()
		conns.set(alice, bob, domain.ConnectionRejected)
		a := newTestAuthorizer(conns, newFakeRooms())

		assert.NoError(t, a.CanJoinDirect(context.Background(), alice, bob))
	})

	t.Run("self conversation rejected", func(t *testing.T) {
		a := newTestAuthorizer(newFakeConnections(), newFakeRooms())
		assert.ErrorIs(t, a.CanJoinDirect(context.Background(), alice, alice), waypool_errors.ErrInvalidInput)
	})
}

func TestCanJoinDirectUsesCache(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	conns := newFakeConnections()
	conns.set(alice, bob, domain.ConnectionAccepted)
	a := newTestAuthorizer(conns, newFakeRooms())

	require.NoError(t, a.CanJoinDirect(context.Background(), alice, bob))
	require.NoError(t, a.CanJoinDirect(context.Background(), alice, bob))
	require.NoError(t, a.CanJoinDirect(context.Background(), bob, alice))
	assert.Equal(t, 1, conns.getCalls, "pair state should be served from cache after first lookup")
}

func TestCanJoinRoom(t *testing.T) {
	user, ride := uuid.New(), uuid.New()
	rooms := newFakeRooms()
	rooms.rideMembers[ride.String()+user.String()] = true
	a := newTestAuthorizer(newFakeConnections(), rooms)

	assert.NoError(t, a.CanJoinRoom(context.Background(), domain.ConversationRide, ride, user))
	assert.NoError(t, a.CanJoinRoom(context.Background(), domain.ConversationRide, ride, user))
	assert.Equal(t, 1, rooms.lookups, "membership should be served from cache after first lookup")

	stranger := uuid.New()
	assert.ErrorIs(t, a.CanJoinRoom(context.Background(), domain.ConversationRide, ride, stranger), waypool_errors.ErrForbidden)
}

func TestInvalidateMembershipForcesRelookup(t *testing.T) {
	user, group := uuid.New(), uuid.New()
	rooms := newFakeRooms()
	a := newTestAuthorizer(newFakeConnections(), rooms)

	require.ErrorIs(t, a.CanJoinRoom(context.Background(), domain.ConversationGroup, group, user), waypool_errors.ErrForbidden)

	rooms.groupMembers[group.String()+user.String()] = true
	require.ErrorIs(t, a.CanJoinRoom(context.Background(), domain.ConversationGroup, group, user), waypool_errors.ErrForbidden,
		"stale cached denial expected before invalidation")

	a.InvalidateMembership(context.Background(), domain.ConversationGroup, group, user)
	assert.NoError(t, a.CanJoinRoom(context.Background(), domain.ConversationGroup, group, user))
}

func TestEnsureDirectAllowed(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()

	t.Run("heals missing connection", func(t *testing.T) {
		conns := newFakeConnections()
		a := newTestAuthorizer(conns, newFakeRooms())

		require.NoError(t, a.EnsureDirectAllowed(context.Background(), alice, bob))
		assert.Equal(t, []uuid.UUID{alice}, conns.created)

		conn, err := conns.GetByPair(context.Background(), alice, bob)
		require.NoError(t, err)
		assert.Equal(t, domain.ConnectionAccepted, conn.Status)
	})

	t.Run("block denies send", func(t *testing.T) {
		conns := newFakeConnections()
		conns.set(alice, bob, domain.ConnectionBlocked)
		a := newTestAuthorizer(conns, newFakeRooms())

		assert.ErrorIs(t, a.EnsureDirectAllowed(context.Background(), alice, bob), waypool_errors.ErrBlocked)
		assert.Empty(t, conns.created, "a blocked pair must not be healed")
	})

	t.Run("self send rejected", func(t *testing.T) {
		a := newTestAuthorizer(newFakeConnections(), newFakeRooms())
		assert.ErrorIs(t, a.EnsureDirectAllowed(context.Background(), alice, alice), waypool_errors.ErrInvalidInput)
	})
}

func TestCanJoinKey(t *testing.T) {
	alice, bob, eve := uuid.New(), uuid.New(), uuid.New()
	conns := newFakeConnections()
	conns.set(alice, bob, domain.ConnectionAccepted)
	a := newTestAuthorizer(conns, newFakeRooms())

	parsed, err := domain.ParseKey(string(domain.DirectKey(alice, bob)))
	require.NoError(t, err)

	assert.NoError(t, a.CanJoinKey(context.Background(), parsed, alice))
	assert.ErrorIs(t, a.CanJoinKey(context.Background(), parsed, eve), waypool_errors.ErrForbidden,
		"third parties cannot join someone else's direct conversation")
}
