package server

import (
	"encoding/json"
	"time"

	"waypool-chat/internal/events"

	"github.com/google/uuid"
)

// Inbound operations a client may send over the socket.
const (
	OpJoinDirect      = "join_direct"
	OpJoinRoom        = "join_room"
	OpLeaveRoom       = "leave_room"
	OpSendMessage     = "send_message"
	OpEditMessage     = "edit_message"
	OpDeleteMessage   = "delete_message"
	OpTypingStart     = "typing_start"
	OpTypingStop      = "typing_stop"
	OpMarkRead        = "mark_messages_read"
	OpShareLocation   = "share_location"
	OpUpdateLiveShare = "update_live_location"
)

// Outbound frame types pushed to clients.
const (
	FrameMessageQueued     = "message_queued"
	FrameNewMessage        = "new_message"
	FrameMessageConfirmed  = "message_confirmed"
	FrameMessageError      = "message_error"
	FrameMessageEdited     = "message_edited"
	FrameMessageDeleted    = "message_deleted"
	FrameUserTyping        = "user_typing"
	FrameMessagesRead      = "messages_read"
	FrameContactStatus     = "contact_status_changed"
	FrameChatListUpdated   = "chat_list_updated"
	FrameChatListRefreshed = "chat_list_refreshed"
	FrameLiveLocation      = "live_location"
	FrameError             = "error"
)

// InboundFrame is the envelope of every client operation.
type InboundFrame struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// OutboundFrame is the envelope of every server push.
type OutboundFrame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

func (f OutboundFrame) encode() []byte {
	data, _ := json.Marshal(f)
	return data
}

type joinDirectRequest struct {
	UserID uuid.UUID `json:"user_id"`
}

type joinRoomRequest struct {
	Kind   string    `json:"kind"`
	RoomID uuid.UUID `json:"room_id"`
}

type leaveRoomRequest struct {
	Key string `json:"key"`
}

type sendMessageRequest struct {
	CorrelationID string     `json:"correlation_id"`
	Kind          string     `json:"kind"`
	Body          string     `json:"body,omitempty"`
	RecipientID   *uuid.UUID `json:"recipient_id,omitempty"`
	RideID        *uuid.UUID `json:"ride_id,omitempty"`
	GroupID       *uuid.UUID `json:"group_id,omitempty"`
	ReplyToID     *uuid.UUID `json:"reply_to_id,omitempty"`
	Metadata      string     `json:"metadata,omitempty"`
}

type editMessageRequest struct {
	MessageID uuid.UUID `json:"message_id"`
	Body      string    `json:"body"`
}

type deleteMessageRequest struct {
	MessageID uuid.UUID `json:"message_id"`
}

type typingRequest struct {
	Key string `json:"key"`
}

type markReadRequest struct {
	Key        string      `json:"key,omitempty"`
	MessageIDs []uuid.UUID `json:"message_ids,omitempty"`
}

type locationRequest struct {
	Key       string  `json:"key"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

type messageQueuedPayload struct {
	CorrelationID string    `json:"correlation_id"`
	MessageID     uuid.UUID `json:"message_id"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type typingPayload struct {
	Key    string    `json:"key"`
	UserID uuid.UUID `json:"user_id"`
	Typing bool      `json:"typing"`
}

type contactStatusPayload struct {
	UserID       uuid.UUID `json:"user_id"`
	IsOnline     bool      `json:"is_online"`
	LastActiveAt time.Time `json:"last_active_at"`
}

type liveLocationPayload struct {
	Key       string    `json:"key"`
	UserID    uuid.UUID `json:"user_id"`
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
}

type messagesReadPayload struct {
	Key        string      `json:"key"`
	ReaderID   uuid.UUID   `json:"reader_id"`
	MessageIDs []uuid.UUID `json:"message_ids"`
}

type messageDeletedPayload struct {
	Key       string    `json:"key"`
	MessageID uuid.UUID `json:"message_id"`
	SenderID  uuid.UUID `json:"sender_id"`
}

// frameFromEvent translates a bus event into the client-facing frame. Events
// with no client representation return false.
func frameFromEvent(event events.Event) (OutboundFrame, bool) {
	switch e := event.(type) {
	case *events.MessageNewEvent:
		return OutboundFrame{Type: FrameNewMessage, Data: e.Message}, true
	case *events.MessageConfirmedEvent:
		return OutboundFrame{Type: FrameMessageConfirmed, Data: e}, true
	case *events.MessageFailedEvent:
		return OutboundFrame{Type: FrameMessageError, Data: errorFromFailure(e)}, true
	case *events.MessageEditedEvent:
		return OutboundFrame{Type: FrameMessageEdited, Data: e.Message}, true
	case *events.MessageDeletedEvent:
		return OutboundFrame{Type: FrameMessageDeleted, Data: messageDeletedPayload{
			Key:       e.Conversation.String(),
			MessageID: e.MessageID,
			SenderID:  e.SenderID,
		}}, true
	case *events.MessagesReadEvent:
		return OutboundFrame{Type: FrameMessagesRead, Data: messagesReadPayload{
			Key:        e.Conversation.String(),
			ReaderID:   e.ReaderID,
			MessageIDs: e.MessageIDs,
		}}, true
	case *events.TypingEvent:
		return OutboundFrame{Type: FrameUserTyping, Data: typingPayload{
			Key:    e.Conversation.String(),
			UserID: e.UserID,
			Typing: e.EventType() == events.EventTypingStarted,
		}}, true
	case *events.PresenceEvent:
		return OutboundFrame{Type: FrameContactStatus, Data: contactStatusPayload{
			UserID:       e.UserID,
			IsOnline:     e.IsOnline,
			LastActiveAt: e.LastActiveAt,
		}}, true
	case *events.ChatListUpdatedEvent:
		return OutboundFrame{Type: FrameChatListUpdated, Data: e.Entry}, true
	case *events.ChatListRefreshEvent:
		return OutboundFrame{Type: FrameChatListRefreshed}, true
	case *events.LocationEvent:
		return OutboundFrame{Type: FrameLiveLocation, Data: liveLocationPayload{
			Key:       e.Conversation.String(),
			UserID:    e.UserID,
			Latitude:  e.Latitude,
			Longitude: e.Longitude,
		}}, true
	}
	return OutboundFrame{}, false
}

type messageErrorPayload struct {
	CorrelationID string `json:"correlation_id"`
	Reason        string `json:"reason"`
}

func errorFromFailure(e *events.MessageFailedEvent) messageErrorPayload {
	return messageErrorPayload{CorrelationID: e.CorrelationID, Reason: e.Reason}
}
