package httpdto

import (
	"time"

	"waypool-chat/internal/domain"
	"waypool-chat/internal/events"

	"github.com/google/uuid"
)

// ChatListResponse is returned by GET /v1/chats.
type ChatListResponse struct {
	Entries []ChatListEntry `json:"entries"`
}

type ChatListEntry struct {
	Kind           string          `json:"kind"`
	Key            string          `json:"key"`
	CounterpartID  string          `json:"counterpart_id"`
	Name           string          `json:"name,omitempty"`
	LastMessage    *MessageSummary `json:"last_message,omitempty"`
	UnreadCount    int             `json:"unread_count"`
	LastActivityAt time.Time       `json:"last_activity_at"`
	IsOnline       bool            `json:"is_online,omitempty"`
}

type MessageSummary struct {
	MessageID string    `json:"message_id"`
	SenderID  string    `json:"sender_id"`
	Kind      string    `json:"kind"`
	Body      string    `json:"body,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func NewChatListResponse(list domain.ChatList) ChatListResponse {
	entries := make([]ChatListEntry, 0, len(list.Entries))
	for _, entry := range list.Entries {
		row := ChatListEntry{
			Kind:           string(entry.Kind),
			Key:            string(entry.Key),
			CounterpartID:  entry.CounterpartID.String(),
			Name:           entry.CounterpartName,
			UnreadCount:    entry.UnreadCount,
			LastActivityAt: entry.LastActivityAt,
			IsOnline:       entry.IsOnline,
		}
		if entry.LastMessage.MessageID != uuid.Nil {
			row.LastMessage = &MessageSummary{
				MessageID: entry.LastMessage.MessageID.String(),
				SenderID:  entry.LastMessage.SenderID.String(),
				Kind:      string(entry.LastMessage.Kind),
				Body:      entry.LastMessage.Body,
				CreatedAt: entry.LastMessage.CreatedAt,
			}
		}
		entries = append(entries, row)
	}
	return ChatListResponse{Entries: entries}
}

// MessagesResponse is returned by GET /v1/conversations/:key/messages.
type MessagesResponse struct {
	Messages []events.MessagePayload `json:"messages"`
	HasMore  bool                    `json:"has_more"`
}

func NewMessagesResponse(messages []domain.Message, limit int) MessagesResponse {
	payloads := make([]events.MessagePayload, 0, len(messages))
	for i := range messages {
		payloads = append(payloads, events.NewMessagePayload(&messages[i]))
	}
	return MessagesResponse{
		Messages: payloads,
		HasMore:  len(messages) == limit,
	}
}
