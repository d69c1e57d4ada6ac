package session

import (
	"testing"

	"waypool-chat/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	id     string
	userID uuid.UUID
}

func (f *fakeSession) SessionID() string        { return f.id }
func (f *fakeSession) SessionUserID() uuid.UUID { return f.userID }

func newFakeSession(userID uuid.UUID) *fakeSession {
	return &fakeSession{id: uuid.NewString(), userID: userID}
}

func TestRegisterDeregisterTransitions(t *testing.T) {
	d := NewDirectory()
	user := uuid.New()

	s1 := newFakeSession(user)
	s2 := newFakeSession(user)

	assert.True(t, d.Register(s1), "first session should report online transition")
	assert.False(t, d.Register(s2), "second session should not")
	assert.True(t, d.IsOnline(user))
	assert.Len(t, d.SessionsOf(user), 2)

	assert.False(t, d.Deregister(s1), "one session remains")
	assert.True(t, d.Deregister(s2), "last session should report offline transition")
	assert.False(t, d.IsOnline(user))
}

func TestDeregisterIdempotent(t *testing.T) {
	d := NewDirectory()
	s := newFakeSession(uuid.New())

	d.Register(s)
	assert.True(t, d.Deregister(s))
	assert.False(t, d.Deregister(s), "second deregister must be a no-op")
	assert.Equal(t, 0, d.SessionCount())
}

func TestRegisterDuplicateSessionIgnored(t *testing.T) {
	d := NewDirectory()
	s := newFakeSession(uuid.New())

	assert.True(t, d.Register(s))
	assert.False(t, d.Register(s))
	assert.Equal(t, 1, d.SessionCount())
}

func TestRoomRefCounting(t *testing.T) {
	d := NewDirectory()
	user := uuid.New()
	room := domain.RideKey(uuid.New())

	s1 := newFakeSession(user)
	s2 := newFakeSession(user)
	d.Register(s1)
	d.Register(s2)

	d.JoinRoom(s1, room)
	d.JoinRoom(s2, room)
	require.True(t, d.InRoom(user, room))

	d.LeaveRoom(s1, room)
	assert.True(t, d.InRoom(user, room), "other session still joined")

	d.LeaveRoom(s2, room)
	assert.False(t, d.InRoom(user, room))
	assert.Empty(t, d.RoomsOf(user))
}

func TestDeregisterDropsRooms(t *testing.T) {
	d := NewDirectory()
	user := uuid.New()
	ride := domain.RideKey(uuid.New())
	group := domain.GroupKey(uuid.New())

	s := newFakeSession(user)
	d.Register(s)
	d.JoinRoom(s, ride)
	d.JoinRoom(s, group)
	require.Len(t, d.RoomsOf(user), 2)

	d.Deregister(s)
	assert.Empty(t, d.RoomsOf(user))
	assert.False(t, d.InRoom(user, ride))
}

func TestJoinRoomRequiresRegistration(t *testing.T) {
	d := NewDirectory()
	s := newFakeSession(uuid.New())
	room := domain.RideKey(uuid.New())

	d.JoinRoom(s, room)
	assert.False(t, d.InRoom(s.SessionUserID(), room))
}

func TestJoinRoomDoubleJoinCountsOnce(t *testing.T) {
	d := NewDirectory()
	user := uuid.New()
	room := domain.GroupKey(uuid.New())

	s := newFakeSession(user)
	d.Register(s)
	d.JoinRoom(s, room)
	d.JoinRoom(s, room)

	d.LeaveRoom(s, room)
	assert.False(t, d.InRoom(user, room), "double join from one session must not double count")
}
