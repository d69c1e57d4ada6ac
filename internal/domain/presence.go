package domain

import (
	"time"

	"github.com/google/uuid"
)

// PresenceRecord is the per-user presence view. IsOnline is derived from the
// session directory; LastActiveAt is throttled before durable persistence.
type PresenceRecord struct {
	UserID       uuid.UUID `json:"user_id"`
	IsOnline     bool      `json:"is_online"`
	LastActiveAt time.Time `json:"last_active_at"`
	StatusText   string    `json:"status_text,omitempty"`
}

// TypingIndicator marks a user typing in a room. It self-expires when not
// refreshed within the typing timeout window.
type TypingIndicator struct {
	Room      ConversationKey `json:"room"`
	UserID    uuid.UUID       `json:"user_id"`
	StartedAt time.Time       `json:"started_at"`
}
