package domain

import (
	"strings"

	waypool_errors "waypool-chat/pkg/errors"

	"github.com/google/uuid"
)

// ConversationKey is the deterministic address of a conversation, used for
// cache keys, pub/sub channels and room membership.
type ConversationKey string

func (k ConversationKey) String() string { return string(k) }

// Kind extracts the conversation kind encoded in the key.
func (k ConversationKey) Kind() ConversationKind {
	switch {
	case strings.HasPrefix(string(k), "direct:"):
		return ConversationDirect
	case strings.HasPrefix(string(k), "ride:"):
		return ConversationRide
	case strings.HasPrefix(string(k), "group:"):
		return ConversationGroup
	}
	return ""
}

// DirectKey builds the order-independent key for a direct pair:
// DirectKey(a, b) == DirectKey(b, a).
func DirectKey(a, b uuid.UUID) ConversationKey {
	first, second := a.String(), b.String()
	if second < first {
		first, second = second, first
	}
	return ConversationKey("direct:" + first + ":" + second)
}

// RideKey builds the key for a ride room.
func RideKey(rideID uuid.UUID) ConversationKey {
	return ConversationKey("ride:" + rideID.String())
}

// GroupKey builds the key for a group room.
func GroupKey(groupID uuid.UUID) ConversationKey {
	return ConversationKey("group:" + groupID.String())
}

// RoomKey builds the key for a room of the given kind.
func RoomKey(kind ConversationKind, roomID uuid.UUID) ConversationKey {
	switch kind {
	case ConversationRide:
		return RideKey(roomID)
	case ConversationGroup:
		return GroupKey(roomID)
	}
	return ""
}

// ParsedKey is a ConversationKey broken into its components. For direct keys
// UserA and UserB are set (sorted); for room keys RoomID is set.
type ParsedKey struct {
	Kind   ConversationKind
	UserA  uuid.UUID
	UserB  uuid.UUID
	RoomID uuid.UUID
}

// ParseKey validates and decodes a raw conversation key.
func ParseKey(raw string) (ParsedKey, error) {
	parts := strings.Split(raw, ":")
	switch {
	case len(parts) == 3 && parts[0] == "direct":
		a, err := uuid.Parse(parts[1])
		if err != nil {
			return ParsedKey{}, waypool_errors.ErrInvalidInput
		}
		b, err := uuid.Parse(parts[2])
		if err != nil {
			return ParsedKey{}, waypool_errors.ErrInvalidInput
		}
		if b.String() < a.String() || a == b {
			return ParsedKey{}, waypool_errors.ErrInvalidInput
		}
		return ParsedKey{Kind: ConversationDirect, UserA: a, UserB: b}, nil
	case len(parts) == 2 && (parts[0] == "ride" || parts[0] == "group"):
		id, err := uuid.Parse(parts[1])
		if err != nil {
			return ParsedKey{}, waypool_errors.ErrInvalidInput
		}
		return ParsedKey{Kind: ConversationKind(parts[0]), RoomID: id}, nil
	}
	return ParsedKey{}, waypool_errors.ErrInvalidInput
}

// Involves reports whether userID participates in a parsed direct key.
func (p ParsedKey) Involves(userID uuid.UUID) bool {
	return p.UserA == userID || p.UserB == userID
}
