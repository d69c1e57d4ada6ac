package domain

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// ConnectionStatus is the state of a friendship-equivalent relation.
type ConnectionStatus string

const (
	ConnectionPending  ConnectionStatus = "pending"
	ConnectionAccepted ConnectionStatus = "accepted"
	ConnectionBlocked  ConnectionStatus = "blocked"
	ConnectionRejected ConnectionStatus = "rejected"
)

// Connection represents the connections table: an undirected relation between
// two users. UserAID < UserBID lexicographically so at most one row exists
// per unordered pair.
type Connection struct {
	ID            uuid.UUID
	UserAID       uuid.UUID
	UserBID       uuid.UUID
	Status        ConnectionStatus
	RequestedBy   uuid.UUID
	LastMessageAt sql.NullTime
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (Connection) TableName() string {
	return "connections"
}

// OrderPair returns the two user ids in storage order.
func OrderPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if b.String() < a.String() {
		return b, a
	}
	return a, b
}

// Involves reports whether the connection links the two given users.
func (c *Connection) Involves(a, b uuid.UUID) bool {
	x, y := OrderPair(a, b)
	return c.UserAID == x && c.UserBID == y
}

// OtherUser returns the counterpart of userID in this connection.
func (c *Connection) OtherUser(userID uuid.UUID) uuid.UUID {
	if c.UserAID == userID {
		return c.UserBID
	}
	return c.UserAID
}
