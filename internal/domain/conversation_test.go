package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectKeyOrderIndependent(t *testing.T) {
	a := uuid.New()
	b := uuid.New()

	assert.Equal(t, DirectKey(a, b), DirectKey(b, a))
	assert.Equal(t, ConversationDirect, DirectKey(a, b).Kind())
}

func TestRoomKey(t *testing.T) {
	id := uuid.New()

	assert.Equal(t, RideKey(id), RoomKey(ConversationRide, id))
	assert.Equal(t, GroupKey(id), RoomKey(ConversationGroup, id))
	assert.Equal(t, ConversationKey(""), RoomKey(ConversationDirect, id))
}

func TestParseKeyDirect(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	key := DirectKey(a, b)

	parsed, err := ParseKey(string(key))
	require.NoError(t, err)
	assert.Equal(t, ConversationDirect, parsed.Kind)
	assert.True(t, parsed.Involves(a))
	assert.True(t, parsed.Involves(b))
	assert.False(t, parsed.Involves(uuid.New()))
	assert.True(t, parsed.UserA.String() < parsed.UserB.String())
}

func TestParseKeyRooms(t *testing.T) {
	id := uuid.New()

	parsed, err := ParseKey("ride:" + id.String())
	require.NoError(t, err)
	assert.Equal(t, ConversationRide, parsed.Kind)
	assert.Equal(t, id, parsed.RoomID)

	parsed, err = ParseKey("group:" + id.String())
	require.NoError(t, err)
	assert.Equal(t, ConversationGroup, parsed.Kind)
	assert.Equal(t, id, parsed.RoomID)
}

func TestParseKeyRejectsMalformed(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	lo, hi := a.String(), b.String()
	if hi < lo {
		lo, hi = hi, lo
	}

	cases := map[string]string{
		"empty":            "",
		"unknown kind":     "channel:" + lo,
		"direct not uuid":  "direct:alice:bob",
		"direct one part":  "direct:" + lo,
		"direct unsorted":  "direct:" + hi + ":" + lo,
		"direct self pair": "direct:" + lo + ":" + lo,
		"ride not uuid":    "ride:42",
		"group extra part": "group:" + lo + ":" + hi,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseKey(raw)
			assert.Error(t, err)
		})
	}
}
