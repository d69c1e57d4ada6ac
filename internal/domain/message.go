package domain

import (
	"database/sql"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MessageKind is the payload kind of a message.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindLocation MessageKind = "location"
	KindFile     MessageKind = "file"
	KindVoice    MessageKind = "voice"
	KindUrgent   MessageKind = "urgent"
)

// ConversationKind distinguishes direct chats from ride and group rooms.
type ConversationKind string

const (
	ConversationDirect ConversationKind = "direct"
	ConversationRide   ConversationKind = "ride"
	ConversationGroup  ConversationKind = "group"
)

// Message represents the messages table.
// Exactly one of RecipientID, RideID, GroupID is set, matching Kind.
// Rows are never removed; delete clears the body and sets IsDeleted.
type Message struct {
	ID               uuid.UUID
	ConversationKind ConversationKind
	SenderID         uuid.UUID
	RecipientID      uuid.NullUUID
	RideID           uuid.NullUUID
	GroupID          uuid.NullUUID
	ReplyToID        uuid.NullUUID // back-reference only, resolved by lookup
	Kind             MessageKind
	Body             sql.NullString
	Metadata         string
	IsEdited         bool
	IsDeleted        bool
	IsRead           bool
	EditedAt         sql.NullTime
	DeletedAt        sql.NullTime
	ReadAt           sql.NullTime
	CreatedAt        time.Time
}

func (Message) TableName() string {
	return "messages"
}

// ConversationKey returns the cache/channel address of the message's conversation.
func (m *Message) ConversationKey() ConversationKey {
	switch m.ConversationKind {
	case ConversationDirect:
		return DirectKey(m.SenderID, m.RecipientID.UUID)
	case ConversationRide:
		return RideKey(m.RideID.UUID)
	case ConversationGroup:
		return GroupKey(m.GroupID.UUID)
	}
	return ""
}

// IsPriority reports whether the message belongs in the priority lane.
func (m *Message) IsPriority() bool {
	return m.Kind == KindUrgent
}

// CounterpartOf returns the other participant of a direct message.
func (m *Message) CounterpartOf(userID uuid.UUID) uuid.UUID {
	if m.SenderID == userID {
		return m.RecipientID.UUID
	}
	return m.SenderID
}

// Summary is the denormalized last-message view embedded in chat list entries.
type Summary struct {
	MessageID uuid.UUID   `json:"message_id"`
	SenderID  uuid.UUID   `json:"sender_id"`
	Kind      MessageKind `json:"kind"`
	Body      string      `json:"body,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

const summaryBodyLimit = 120

// TruncateBody caps body at limit runes, never splitting a multi-byte
// character.
func TruncateBody(body string, limit int) string {
	if utf8.RuneCountInString(body) <= limit {
		return body
	}
	runes := []rune(body)
	return string(runes[:limit])
}

// Summarize builds the chat-list summary of a message.
func (m *Message) Summarize() Summary {
	body := ""
	if m.Body.Valid && !m.IsDeleted {
		body = TruncateBody(m.Body.String, summaryBodyLimit)
	}
	return Summary{
		MessageID: m.ID,
		SenderID:  m.SenderID,
		Kind:      m.Kind,
		Body:      body,
		CreatedAt: m.CreatedAt,
	}
}
