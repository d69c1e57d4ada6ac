package events

import (
	"context"
	"time"

	"waypool-chat/internal/domain"

	"github.com/google/uuid"
)

// Event is anything that travels over the bus.
type Event interface {
	EventType() EventType
}

// EventHandler consumes dispatched events.
type EventHandler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// EventBus publishes typed events to their resolved channels and dispatches
// inbound events to subscribed handlers.
type EventBus interface {
	Start() error
	Stop() error
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType EventType, handler EventHandler) error
}

// BaseEvent carries the discriminator every wire event starts with.
type BaseEvent struct {
	EventTypeVal EventType `json:"event_type"`
	OccurredAt   time.Time `json:"occurred_at"`
}

func (e BaseEvent) EventType() EventType { return e.EventTypeVal }

func newBase(t EventType) BaseEvent {
	return BaseEvent{EventTypeVal: t, OccurredAt: time.Now().UTC()}
}

// MessagePayload is the JSON-friendly wire form of a message.
type MessagePayload struct {
	ID               uuid.UUID               `json:"id"`
	ConversationKind domain.ConversationKind `json:"conversation_kind"`
	ConversationKey  domain.ConversationKey  `json:"conversation_key"`
	SenderID         uuid.UUID               `json:"sender_id"`
	RecipientID      *uuid.UUID              `json:"recipient_id,omitempty"`
	RideID           *uuid.UUID              `json:"ride_id,omitempty"`
	GroupID          *uuid.UUID              `json:"group_id,omitempty"`
	ReplyToID        *uuid.UUID              `json:"reply_to_id,omitempty"`
	Kind             domain.MessageKind      `json:"kind"`
	Body             string                  `json:"body,omitempty"`
	Metadata         string                  `json:"metadata,omitempty"`
	IsEdited         bool                    `json:"is_edited,omitempty"`
	IsDeleted        bool                    `json:"is_deleted,omitempty"`
	CreatedAt        time.Time               `json:"created_at"`
}

// NewMessagePayload flattens a domain message for the wire.
func NewMessagePayload(m *domain.Message) MessagePayload {
	p := MessagePayload{
		ID:               m.ID,
		ConversationKind: m.ConversationKind,
		ConversationKey:  m.ConversationKey(),
		SenderID:         m.SenderID,
		Kind:             m.Kind,
		Metadata:         m.Metadata,
		IsEdited:         m.IsEdited,
		IsDeleted:        m.IsDeleted,
		CreatedAt:        m.CreatedAt,
	}
	if m.RecipientID.Valid {
		id := m.RecipientID.UUID
		p.RecipientID = &id
	}
	if m.RideID.Valid {
		id := m.RideID.UUID
		p.RideID = &id
	}
	if m.GroupID.Valid {
		id := m.GroupID.UUID
		p.GroupID = &id
	}
	if m.ReplyToID.Valid {
		id := m.ReplyToID.UUID
		p.ReplyToID = &id
	}
	if m.Body.Valid {
		p.Body = m.Body.String
	}
	return p
}

// MessageNewEvent announces a durably persisted message to its conversation.
type MessageNewEvent struct {
	BaseEvent
	Conversation domain.ConversationKey `json:"conversation"`
	Message      MessagePayload         `json:"message"`
}

func NewMessageNewEvent(m *domain.Message) *MessageNewEvent {
	return &MessageNewEvent{
		BaseEvent:    newBase(EventMessageNew),
		Conversation: m.ConversationKey(),
		Message:      NewMessagePayload(m),
	}
}

// MessageConfirmedEvent acknowledges a sender's correlation id after durable
// persistence.
type MessageConfirmedEvent struct {
	BaseEvent
	CorrelationID string         `json:"correlation_id"`
	UserID        uuid.UUID      `json:"user_id"`
	Message       MessagePayload `json:"message"`
}

func NewMessageConfirmedEvent(correlationID string, m *domain.Message) *MessageConfirmedEvent {
	return &MessageConfirmedEvent{
		BaseEvent:     newBase(EventMessageConfirmed),
		CorrelationID: correlationID,
		UserID:        m.SenderID,
		Message:       NewMessagePayload(m),
	}
}

// MessageFailedEvent reports a terminally failed submission to its sender.
type MessageFailedEvent struct {
	BaseEvent
	CorrelationID string    `json:"correlation_id"`
	UserID        uuid.UUID `json:"user_id"`
	Reason        string    `json:"reason"`
}

func NewMessageFailedEvent(correlationID string, senderID uuid.UUID, reason string) *MessageFailedEvent {
	return &MessageFailedEvent{
		BaseEvent:     newBase(EventMessageFailed),
		CorrelationID: correlationID,
		UserID:        senderID,
		Reason:        reason,
	}
}

// MessageEditedEvent broadcasts an edit to the conversation.
type MessageEditedEvent struct {
	BaseEvent
	Conversation domain.ConversationKey `json:"conversation"`
	Message      MessagePayload         `json:"message"`
}

func NewMessageEditedEvent(m *domain.Message) *MessageEditedEvent {
	return &MessageEditedEvent{
		BaseEvent:    newBase(EventMessageEdited),
		Conversation: m.ConversationKey(),
		Message:      NewMessagePayload(m),
	}
}

// MessageDeletedEvent broadcasts a tombstone to the conversation.
type MessageDeletedEvent struct {
	BaseEvent
	Conversation domain.ConversationKey `json:"conversation"`
	MessageID    uuid.UUID              `json:"message_id"`
	SenderID     uuid.UUID              `json:"sender_id"`
}

func NewMessageDeletedEvent(m *domain.Message) *MessageDeletedEvent {
	return &MessageDeletedEvent{
		BaseEvent:    newBase(EventMessageDeleted),
		Conversation: m.ConversationKey(),
		MessageID:    m.ID,
		SenderID:     m.SenderID,
	}
}

// MessagesReadEvent notifies the sender of messages their counterpart read.
type MessagesReadEvent struct {
	BaseEvent
	Conversation domain.ConversationKey `json:"conversation"`
	ReaderID     uuid.UUID              `json:"reader_id"`
	SenderID     uuid.UUID              `json:"sender_id"`
	MessageIDs   []uuid.UUID            `json:"message_ids"`
}

func NewMessagesReadEvent(conversation domain.ConversationKey, readerID, senderID uuid.UUID, messageIDs []uuid.UUID) *MessagesReadEvent {
	return &MessagesReadEvent{
		BaseEvent:    newBase(EventMessagesRead),
		Conversation: conversation,
		ReaderID:     readerID,
		SenderID:     senderID,
		MessageIDs:   messageIDs,
	}
}

// TypingEvent broadcasts a typing indicator change to the conversation.
type TypingEvent struct {
	BaseEvent
	Conversation domain.ConversationKey `json:"conversation"`
	UserID       uuid.UUID              `json:"user_id"`
	Typing       bool                   `json:"typing"`
}

func NewTypingEvent(conversation domain.ConversationKey, userID uuid.UUID, typing bool) *TypingEvent {
	t := EventTypingStopped
	if typing {
		t = EventTypingStarted
	}
	return &TypingEvent{
		BaseEvent:    newBase(t),
		Conversation: conversation,
		UserID:       userID,
		Typing:       typing,
	}
}

// PresenceEvent reports an online/offline transition to each recipient's
// personal channel (accepted connections only, never global).
type PresenceEvent struct {
	BaseEvent
	UserID       uuid.UUID   `json:"user_id"`
	IsOnline     bool        `json:"is_online"`
	LastActiveAt time.Time   `json:"last_active_at"`
	Recipients   []uuid.UUID `json:"recipients"`
}

func NewPresenceEvent(userID uuid.UUID, isOnline bool, lastActiveAt time.Time, recipients []uuid.UUID) *PresenceEvent {
	t := EventPresenceOffline
	if isOnline {
		t = EventPresenceOnline
	}
	return &PresenceEvent{
		BaseEvent:    newBase(t),
		UserID:       userID,
		IsOnline:     isOnline,
		LastActiveAt: lastActiveAt,
		Recipients:   recipients,
	}
}

// ChatListUpdatedEvent carries an incrementally patched projection entry.
type ChatListUpdatedEvent struct {
	BaseEvent
	UserID uuid.UUID            `json:"user_id"`
	Entry  domain.ChatListEntry `json:"entry"`
}

func NewChatListUpdatedEvent(userID uuid.UUID, entry domain.ChatListEntry) *ChatListUpdatedEvent {
	return &ChatListUpdatedEvent{
		BaseEvent: newBase(EventChatListUpdated),
		UserID:    userID,
		Entry:     entry,
	}
}

// ChatListRefreshEvent tells the affected users' sessions to re-sync their
// projection after an invalidation.
type ChatListRefreshEvent struct {
	BaseEvent
	UserIDs []uuid.UUID `json:"user_ids"`
}

func NewChatListRefreshEvent(userIDs []uuid.UUID) *ChatListRefreshEvent {
	return &ChatListRefreshEvent{
		BaseEvent: newBase(EventChatListRefresh),
		UserIDs:   userIDs,
	}
}

// MembershipChangedEvent reports a ride/group membership change.
type MembershipChangedEvent struct {
	BaseEvent
	Kind    domain.ConversationKind `json:"kind"`
	RoomID  uuid.UUID               `json:"room_id"`
	UserIDs []uuid.UUID             `json:"user_ids"`
}

func NewMembershipChangedEvent(kind domain.ConversationKind, roomID uuid.UUID, userIDs []uuid.UUID) *MembershipChangedEvent {
	return &MembershipChangedEvent{
		BaseEvent: newBase(EventMembershipChanged),
		Kind:      kind,
		RoomID:    roomID,
		UserIDs:   userIDs,
	}
}

// SettingsUpdatedEvent reports a chat-settings change for one user.
type SettingsUpdatedEvent struct {
	BaseEvent
	UserID uuid.UUID `json:"user_id"`
}

func NewSettingsUpdatedEvent(userID uuid.UUID) *SettingsUpdatedEvent {
	return &SettingsUpdatedEvent{
		BaseEvent: newBase(EventSettingsUpdated),
		UserID:    userID,
	}
}

// ConnectionChangedEvent reports a friendship status change for a pair.
type ConnectionChangedEvent struct {
	BaseEvent
	UserIDs []uuid.UUID `json:"user_ids"`
}

func NewConnectionChangedEvent(a, b uuid.UUID) *ConnectionChangedEvent {
	return &ConnectionChangedEvent{
		BaseEvent: newBase(EventConnectionChanged),
		UserIDs:   []uuid.UUID{a, b},
	}
}

// LocationEvent broadcasts an ephemeral live-location update to the room.
type LocationEvent struct {
	BaseEvent
	Conversation domain.ConversationKey `json:"conversation"`
	UserID       uuid.UUID              `json:"user_id"`
	Latitude     float64                `json:"lat"`
	Longitude    float64                `json:"lon"`
}

func NewLocationEvent(conversation domain.ConversationKey, userID uuid.UUID, lat, lon float64) *LocationEvent {
	return &LocationEvent{
		BaseEvent:    newBase(EventLocationUpdated),
		Conversation: conversation,
		UserID:       userID,
		Latitude:     lat,
		Longitude:    lon,
	}
}
