package repository

import (
	"context"
	"time"

	"waypool-chat/internal/domain"

	"github.com/google/uuid"
)

// MessageRepository persists and queries messages. Create is bulk-oriented:
// one insert per message, no read-modify-write round trips.
type MessageRepository interface {
	Create(ctx context.Context, m *domain.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (domain.Message, error)
	Edit(ctx context.Context, id, senderID uuid.UUID, newBody string) (domain.Message, error)
	SoftDelete(ctx context.Context, id, senderID uuid.UUID) (domain.Message, error)

	// MarkReadByIDs flips currently-unread, non-deleted messages addressed to
	// userID and returns the affected rows so senders can be notified.
	MarkReadByIDs(ctx context.Context, ids []uuid.UUID, userID uuid.UUID) ([]domain.Message, error)
	MarkDirectRead(ctx context.Context, userID, counterpartID uuid.UUID) ([]domain.Message, error)
	MarkRoomRead(ctx context.Context, kind domain.ConversationKind, roomID, userID uuid.UUID) ([]domain.Message, error)

	DirectUnreadCount(ctx context.Context, userID, counterpartID uuid.UUID) (int64, error)
	RoomUnreadCount(ctx context.Context, kind domain.ConversationKind, roomID, userID uuid.UUID) (int64, error)

	// LatestDirectMessages returns the most recent message per distinct direct
	// counterpart of userID, newest conversations first.
	LatestDirectMessages(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Message, error)
	// LatestRoomMessages returns the most recent message per room.
	LatestRoomMessages(ctx context.Context, kind domain.ConversationKind, roomIDs []uuid.UUID) (map[uuid.UUID]domain.Message, error)

	// DirectMessages and RoomMessages page a conversation's history.
	DirectMessages(ctx context.Context, userID, counterpartID uuid.UUID, before time.Time, limit int) ([]domain.Message, error)
	RoomMessages(ctx context.Context, kind domain.ConversationKind, roomID uuid.UUID, before time.Time, limit int) ([]domain.Message, error)
}

// ConnectionRepository is the friendship collaborator contract.
type ConnectionRepository interface {
	GetByPair(ctx context.Context, a, b uuid.UUID) (domain.Connection, error)
	AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error)
	IsBlocked(ctx context.Context, a, b uuid.UUID) (bool, error)
	// FindOrCreate returns the existing relation for the pair or creates an
	// accepted one initiated by initiator (first-message auto-heal).
	FindOrCreate(ctx context.Context, a, b, initiator uuid.UUID) (domain.Connection, error)
	UpdateLastMessageAt(ctx context.Context, a, b uuid.UUID, at time.Time) error
	// AcceptedConnectionIDs lists the counterpart ids of userID's accepted
	// connections, used to scope presence broadcasts.
	AcceptedConnectionIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// RoomRepository is the ride/group membership collaborator contract.
type RoomRepository interface {
	RideMembership(ctx context.Context, rideID, userID uuid.UUID) (bool, error)
	GroupMembership(ctx context.Context, groupID, userID uuid.UUID) (bool, error)
	RideIDsOf(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	GroupIDsOf(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	RoomNames(ctx context.Context, kind domain.ConversationKind, roomIDs []uuid.UUID) (map[uuid.UUID]string, error)
	// MemberIDs lists all members of a room, creator included.
	MemberIDs(ctx context.Context, kind domain.ConversationKind, roomID uuid.UUID) ([]uuid.UUID, error)
}

// UserRepository covers the user rows the messaging core reads and the
// batched last-active writes it owns.
type UserRepository interface {
	DisplayNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
	PersistLastActive(ctx context.Context, stamps map[uuid.UUID]time.Time) error
}
