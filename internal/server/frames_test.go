package server

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"waypool-chat/internal/domain"
	"waypool-chat/internal/events"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wireMessage() *domain.Message {
	return &domain.Message{
		ID:               uuid.New(),
		ConversationKind: domain.ConversationDirect,
		SenderID:         uuid.New(),
		RecipientID:      uuid.NullUUID{UUID: uuid.New(), Valid: true},
		Kind:             domain.KindText,
		Body:             sql.NullString{String: "on my way", Valid: true},
		CreatedAt:        time.Now().UTC(),
	}
}

func TestFrameFromEvent(t *testing.T) {
	m := wireMessage()
	key := m.ConversationKey()

	cases := []struct {
		event events.Event
		want  string
	}{
		{events.NewMessageNewEvent(m), FrameNewMessage},
		{events.NewMessageConfirmedEvent("corr-1", m), FrameMessageConfirmed},
		{events.NewMessageFailedEvent("corr-1", m.SenderID, "blocked"), FrameMessageError},
		{events.NewMessageEditedEvent(m), FrameMessageEdited},
		{events.NewMessageDeletedEvent(m), FrameMessageDeleted},
		{events.NewMessagesReadEvent(key, m.RecipientID.UUID, m.SenderID, []uuid.UUID{m.ID}), FrameMessagesRead},
		{events.NewTypingEvent(key, m.SenderID, true), FrameUserTyping},
		{events.NewPresenceEvent(m.SenderID, true, time.Now(), nil), FrameContactStatus},
		{events.NewChatListUpdatedEvent(m.SenderID, domain.ChatListEntry{Key: key}), FrameChatListUpdated},
		{events.NewChatListRefreshEvent([]uuid.UUID{m.SenderID}), FrameChatListRefreshed},
		{events.NewLocationEvent(key, m.SenderID, 52.37, 4.89), FrameLiveLocation},
	}
	for _, tc := range cases {
		frame, ok := frameFromEvent(tc.event)
		require.True(t, ok, "event %s", tc.event.EventType())
		assert.Equal(t, tc.want, frame.Type)
	}
}

func TestFrameFromEventTypingDirection(t *testing.T) {
	key := domain.RideKey(uuid.New())
	userID := uuid.New()

	frame, ok := frameFromEvent(events.NewTypingEvent(key, userID, false))
	require.True(t, ok)
	payload, ok := frame.Data.(typingPayload)
	require.True(t, ok)
	assert.False(t, payload.Typing)
	assert.Equal(t, key.String(), payload.Key)
}

func TestFrameFromEventInternalOnly(t *testing.T) {
	_, ok := frameFromEvent(events.NewMembershipChangedEvent(domain.ConversationRide, uuid.New(), nil))
	assert.False(t, ok)

	_, ok = frameFromEvent(events.NewConnectionChangedEvent(uuid.New(), uuid.New()))
	assert.False(t, ok)
}

func TestOutboundFrameEncoding(t *testing.T) {
	frame := OutboundFrame{Type: FrameError, Data: errorPayload{Code: "FORBIDDEN", Message: "not a member"}}

	var decoded struct {
		Type string `json:"type"`
		Data struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(frame.encode(), &decoded))
	assert.Equal(t, FrameError, decoded.Type)
	assert.Equal(t, "FORBIDDEN", decoded.Data.Code)
}

func TestMessageFromRequestInfersConversation(t *testing.T) {
	senderID := uuid.New()
	recipientID := uuid.New()
	rideID := uuid.New()

	m := messageFromRequest(senderID, &sendMessageRequest{
		Kind:        "text",
		Body:        "hello",
		RecipientID: &recipientID,
	})
	assert.Equal(t, domain.ConversationDirect, m.ConversationKind)
	assert.Equal(t, recipientID, m.RecipientID.UUID)
	assert.True(t, m.Body.Valid)

	m = messageFromRequest(senderID, &sendMessageRequest{
		Kind:   "urgent",
		Body:   "driver is here",
		RideID: &rideID,
	})
	assert.Equal(t, domain.ConversationRide, m.ConversationKind)
	assert.Equal(t, rideID, m.RideID.UUID)
	assert.True(t, m.IsPriority())
}
