package domain

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// User is the slice of the users table the messaging core touches.
// Registration and profile management live in the user service.
type User struct {
	ID           uuid.UUID
	DisplayName  string
	StatusText   sql.NullString
	LastActiveAt sql.NullTime
	CreatedAt    time.Time
}

func (User) TableName() string { return "users" }
