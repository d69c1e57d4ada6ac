package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Chat list caps: per-source fetch caps and the global projection cap.
const (
	ChatListDirectCap = 50
	ChatListRideCap   = 25
	ChatListGroupCap  = 25
	ChatListCap       = 100
)

// ChatListEntry is one row of a user's ranked conversation projection.
type ChatListEntry struct {
	Kind            ConversationKind `json:"kind"`
	Key             ConversationKey  `json:"key"`
	CounterpartID   uuid.UUID        `json:"counterpart_id"`
	CounterpartName string           `json:"counterpart_name,omitempty"`
	LastMessage     Summary          `json:"last_message"`
	UnreadCount     int              `json:"unread_count"`
	LastActivityAt  time.Time        `json:"last_activity_at"`
	IsOnline        bool             `json:"is_online,omitempty"` // direct only
}

// ChatList is a user's projection, kept sorted by last activity descending
// and capped at ChatListCap entries.
type ChatList struct {
	UserID  uuid.UUID       `json:"user_id"`
	Entries []ChatListEntry `json:"entries"`
}

// Sort orders entries by last activity descending.
func (l *ChatList) Sort() {
	sort.SliceStable(l.Entries, func(i, j int) bool {
		return l.Entries[i].LastActivityAt.After(l.Entries[j].LastActivityAt)
	})
}

// Cap truncates the list to the global cap.
func (l *ChatList) Cap() {
	if len(l.Entries) > ChatListCap {
		l.Entries = l.Entries[:ChatListCap]
	}
}

// Find returns the index of the entry for key, or -1.
func (l *ChatList) Find(key ConversationKey) int {
	for i := range l.Entries {
		if l.Entries[i].Key == key {
			return i
		}
	}
	return -1
}

// Upsert replaces or inserts the entry for its key, then re-sorts and re-caps.
func (l *ChatList) Upsert(entry ChatListEntry) {
	if i := l.Find(entry.Key); i >= 0 {
		l.Entries[i] = entry
	} else {
		l.Entries = append(l.Entries, entry)
	}
	l.Sort()
	l.Cap()
}
