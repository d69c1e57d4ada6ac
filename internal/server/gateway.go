package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"waypool-chat/internal/authz"
	"waypool-chat/internal/domain"
	"waypool-chat/internal/events"
	"waypool-chat/internal/pipeline"
	"waypool-chat/internal/presence"
	"waypool-chat/internal/redis"
	"waypool-chat/internal/repository"
	"waypool-chat/internal/session"
	waypool_errors "waypool-chat/pkg/errors"
	"waypool-chat/pkg/logger"

	"github.com/google/uuid"
)

// Gateway executes inbound client operations: joins, sends, edits, receipts,
// typing and location shares. It owns no state of its own; everything routes
// into the directory, the authorizer, the pipeline and the trackers.
type Gateway struct {
	directory     *session.Directory
	authorizer    *authz.Authorizer
	pipe          *pipeline.Pipeline
	tracker       *presence.Tracker
	locations     *redis.LocationStore
	presenceStore *redis.PresenceStore
	messages      repository.MessageRepository
	bus           events.EventBus
	hub           *Hub
	log           *logger.Logger
}

func NewGateway(
	directory *session.Directory,
	authorizer *authz.Authorizer,
	pipe *pipeline.Pipeline,
	tracker *presence.Tracker,
	locations *redis.LocationStore,
	presenceStore *redis.PresenceStore,
	messages repository.MessageRepository,
	bus events.EventBus,
	hub *Hub,
	log *logger.Logger,
) *Gateway {
	return &Gateway{
		directory:     directory,
		authorizer:    authorizer,
		pipe:          pipe,
		tracker:       tracker,
		locations:     locations,
		presenceStore: presenceStore,
		messages:      messages,
		bus:           bus,
		hub:           hub,
		log:           log,
	}
}

// HandleFrame parses and executes one inbound frame. Failures are reported
// back on the same connection; they never close it.
func (g *Gateway) HandleFrame(ctx context.Context, client *Client, raw []byte) {
	var frame InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		g.sendError(client, waypool_errors.ErrInvalidInput)
		return
	}

	g.tracker.Touch(client.UserID)

	var err error
	switch frame.Op {
	case OpJoinDirect:
		err = g.joinDirect(ctx, client, frame.Data)
	case OpJoinRoom:
		err = g.joinRoom(ctx, client, frame.Data)
	case OpLeaveRoom:
		err = g.leaveRoom(ctx, client, frame.Data)
	case OpSendMessage:
		err = g.sendMessage(ctx, client, frame.Data)
	case OpEditMessage:
		err = g.editMessage(ctx, client, frame.Data)
	case OpDeleteMessage:
		err = g.deleteMessage(ctx, client, frame.Data)
	case OpTypingStart:
		err = g.typing(ctx, client, frame.Data, true)
	case OpTypingStop:
		err = g.typing(ctx, client, frame.Data, false)
	case OpMarkRead:
		err = g.markRead(ctx, client, frame.Data)
	case OpShareLocation:
		err = g.shareLocation(ctx, client, frame.Data)
	case OpUpdateLiveShare:
		err = g.updateLiveLocation(ctx, client, frame.Data)
	default:
		err = fmt.Errorf("%w: unknown op %q", waypool_errors.ErrInvalidInput, frame.Op)
	}
	if err != nil {
		g.sendError(client, err)
	}
}

func (g *Gateway) joinDirect(ctx context.Context, client *Client, data json.RawMessage) error {
	var req joinDirectRequest
	if err := json.Unmarshal(data, &req); err != nil || req.UserID == uuid.Nil {
		return waypool_errors.ErrInvalidInput
	}
	if err := g.authorizer.CanJoinDirect(ctx, client.UserID, req.UserID); err != nil {
		return err
	}

	key := domain.DirectKey(client.UserID, req.UserID)
	g.directory.JoinRoom(client, key)
	g.hub.Subscribe(client, events.ChannelPrefixConversation+key.String())

	// Tell the joiner where the counterpart stands right away.
	if record, err := g.presenceStore.GetRecord(ctx, req.UserID); err == nil {
		client.SendFrame(OutboundFrame{Type: FrameContactStatus, Data: contactStatusPayload{
			UserID:       req.UserID,
			IsOnline:     record.IsOnline,
			LastActiveAt: record.LastActiveAt,
		}})
	}

	// Replay a live share the counterpart still has running.
	if share, err := g.locations.Get(ctx, key, req.UserID); err == nil && share != nil {
		client.SendFrame(OutboundFrame{Type: FrameLiveLocation, Data: liveLocationPayload{
			Key:       key.String(),
			UserID:    share.UserID,
			Latitude:  share.Latitude,
			Longitude: share.Longitude,
		}})
	}
	return nil
}

func (g *Gateway) joinRoom(ctx context.Context, client *Client, data json.RawMessage) error {
	var req joinRoomRequest
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == uuid.Nil {
		return waypool_errors.ErrInvalidInput
	}
	kind := domain.ConversationKind(req.Kind)
	if kind != domain.ConversationRide && kind != domain.ConversationGroup {
		return waypool_errors.ErrInvalidInput
	}
	if err := g.authorizer.CanJoinRoom(ctx, kind, req.RoomID, client.UserID); err != nil {
		return err
	}

	key := domain.RoomKey(kind, req.RoomID)
	g.directory.JoinRoom(client, key)
	g.hub.Subscribe(client, events.ChannelPrefixConversation+key.String())

	// Replay live location shares still running in the room so the joiner
	// does not wait for the next update tick.
	if shares, err := g.locations.ActiveInRoom(ctx, key); err == nil {
		for _, share := range shares {
			client.SendFrame(OutboundFrame{Type: FrameLiveLocation, Data: liveLocationPayload{
				Key:       key.String(),
				UserID:    share.UserID,
				Latitude:  share.Latitude,
				Longitude: share.Longitude,
			}})
		}
	}
	return nil
}

func (g *Gateway) leaveRoom(ctx context.Context, client *Client, data json.RawMessage) error {
	var req leaveRoomRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return waypool_errors.ErrInvalidInput
	}
	if _, err := domain.ParseKey(req.Key); err != nil {
		return err
	}
	key := domain.ConversationKey(req.Key)

	g.directory.LeaveRoom(client, key)
	g.hub.Unsubscribe(client, events.ChannelPrefixConversation+key.String())

	// A live share dies with the user's last session in the room.
	if !g.directory.InRoom(client.UserID, key) {
		if err := g.locations.Clear(ctx, key, client.UserID); err != nil {
			g.log.Warnf("gateway: location clear failed: %v", err)
		}
	}
	return nil
}

func (g *Gateway) sendMessage(ctx context.Context, client *Client, data json.RawMessage) error {
	var req sendMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return waypool_errors.ErrInvalidInput
	}

	m := messageFromRequest(client.UserID, &req)
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	if err := g.pipe.Enqueue(ctx, m, correlationID); err != nil {
		return err
	}
	client.SendFrame(OutboundFrame{Type: FrameMessageQueued, Data: messageQueuedPayload{
		CorrelationID: correlationID,
		MessageID:     m.ID,
	}})
	return nil
}

func dbString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}

func messageFromRequest(senderID uuid.UUID, req *sendMessageRequest) *domain.Message {
	m := &domain.Message{
		SenderID: senderID,
		Kind:     domain.MessageKind(req.Kind),
		Metadata: req.Metadata,
	}
	if req.Body != "" {
		m.Body = dbString(req.Body)
	}
	switch {
	case req.RecipientID != nil:
		m.ConversationKind = domain.ConversationDirect
		m.RecipientID = uuid.NullUUID{UUID: *req.RecipientID, Valid: true}
	case req.RideID != nil:
		m.ConversationKind = domain.ConversationRide
		m.RideID = uuid.NullUUID{UUID: *req.RideID, Valid: true}
	case req.GroupID != nil:
		m.ConversationKind = domain.ConversationGroup
		m.GroupID = uuid.NullUUID{UUID: *req.GroupID, Valid: true}
	}
	if req.ReplyToID != nil {
		m.ReplyToID = uuid.NullUUID{UUID: *req.ReplyToID, Valid: true}
	}
	return m
}

func (g *Gateway) editMessage(ctx context.Context, client *Client, data json.RawMessage) error {
	var req editMessageRequest
	if err := json.Unmarshal(data, &req); err != nil || req.MessageID == uuid.Nil || req.Body == "" {
		return waypool_errors.ErrInvalidInput
	}

	edited, err := g.messages.Edit(ctx, req.MessageID, client.UserID, req.Body)
	if err != nil {
		return err
	}
	return g.bus.Publish(ctx, events.NewMessageEditedEvent(&edited))
}

func (g *Gateway) deleteMessage(ctx context.Context, client *Client, data json.RawMessage) error {
	var req deleteMessageRequest
	if err := json.Unmarshal(data, &req); err != nil || req.MessageID == uuid.Nil {
		return waypool_errors.ErrInvalidInput
	}

	deleted, err := g.messages.SoftDelete(ctx, req.MessageID, client.UserID)
	if err != nil {
		return err
	}
	return g.bus.Publish(ctx, events.NewMessageDeletedEvent(&deleted))
}

func (g *Gateway) typing(ctx context.Context, client *Client, data json.RawMessage, started bool) error {
	var req typingRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return waypool_errors.ErrInvalidInput
	}
	if _, err := domain.ParseKey(req.Key); err != nil {
		return err
	}
	key := domain.ConversationKey(req.Key)
	if !g.directory.InRoom(client.UserID, key) {
		return waypool_errors.ErrForbidden
	}

	if started {
		g.tracker.TypingStarted(ctx, key, client.UserID)
	} else {
		g.tracker.TypingStopped(ctx, key, client.UserID)
	}
	return nil
}

func (g *Gateway) markRead(ctx context.Context, client *Client, data json.RawMessage) error {
	var req markReadRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return waypool_errors.ErrInvalidInput
	}

	var affected []domain.Message
	switch {
	case len(req.MessageIDs) > 0:
		var err error
		affected, err = g.messages.MarkReadByIDs(ctx, req.MessageIDs, client.UserID)
		if err != nil {
			return err
		}
	case req.Key != "":
		parsed, err := domain.ParseKey(req.Key)
		if err != nil {
			return err
		}
		switch parsed.Kind {
		case domain.ConversationDirect:
			if !parsed.Involves(client.UserID) {
				return waypool_errors.ErrForbidden
			}
			counterpart := parsed.UserA
			if counterpart == client.UserID {
				counterpart = parsed.UserB
			}
			affected, err = g.messages.MarkDirectRead(ctx, client.UserID, counterpart)
		default:
			affected, err = g.messages.MarkRoomRead(ctx, parsed.Kind, parsed.RoomID, client.UserID)
		}
		if err != nil {
			return err
		}
	default:
		return waypool_errors.ErrInvalidInput
	}

	g.publishReceipts(ctx, client.UserID, affected)
	return nil
}

// publishReceipts groups freshly-read messages per conversation and sender so
// each original sender gets one receipt event.
func (g *Gateway) publishReceipts(ctx context.Context, readerID uuid.UUID, affected []domain.Message) {
	type receiptKey struct {
		conversation domain.ConversationKey
		senderID     uuid.UUID
	}
	groups := make(map[receiptKey][]uuid.UUID)
	for i := range affected {
		m := &affected[i]
		k := receiptKey{conversation: m.ConversationKey(), senderID: m.SenderID}
		groups[k] = append(groups[k], m.ID)
	}
	for k, ids := range groups {
		event := events.NewMessagesReadEvent(k.conversation, readerID, k.senderID, ids)
		if err := g.bus.Publish(ctx, event); err != nil {
			g.log.Warnf("gateway: receipt publish failed: %v", err)
		}
	}
}

func (g *Gateway) shareLocation(ctx context.Context, client *Client, data json.RawMessage) error {
	var req locationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return waypool_errors.ErrInvalidInput
	}
	parsed, err := domain.ParseKey(req.Key)
	if err != nil {
		return err
	}

	metadata, _ := json.Marshal(map[string]float64{"lat": req.Latitude, "lon": req.Longitude})
	m := &domain.Message{
		SenderID: client.UserID,
		Kind:     domain.KindLocation,
		Metadata: string(metadata),
	}
	switch parsed.Kind {
	case domain.ConversationDirect:
		if !parsed.Involves(client.UserID) {
			return waypool_errors.ErrForbidden
		}
		counterpart := parsed.UserA
		if counterpart == client.UserID {
			counterpart = parsed.UserB
		}
		m.ConversationKind = domain.ConversationDirect
		m.RecipientID = uuid.NullUUID{UUID: counterpart, Valid: true}
	case domain.ConversationRide:
		m.ConversationKind = domain.ConversationRide
		m.RideID = uuid.NullUUID{UUID: parsed.RoomID, Valid: true}
	case domain.ConversationGroup:
		m.ConversationKind = domain.ConversationGroup
		m.GroupID = uuid.NullUUID{UUID: parsed.RoomID, Valid: true}
	}

	correlationID := uuid.NewString()
	if err := g.pipe.Enqueue(ctx, m, correlationID); err != nil {
		return err
	}
	client.SendFrame(OutboundFrame{Type: FrameMessageQueued, Data: messageQueuedPayload{
		CorrelationID: correlationID,
		MessageID:     m.ID,
	}})
	return nil
}

// updateLiveLocation refreshes an ephemeral position share. It is stored with
// a TTL and fanned out to the conversation; nothing is persisted.
func (g *Gateway) updateLiveLocation(ctx context.Context, client *Client, data json.RawMessage) error {
	var req locationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return waypool_errors.ErrInvalidInput
	}
	if _, err := domain.ParseKey(req.Key); err != nil {
		return err
	}
	key := domain.ConversationKey(req.Key)
	if !g.directory.InRoom(client.UserID, key) {
		return waypool_errors.ErrForbidden
	}

	loc := &redis.LiveLocation{
		Room:      key,
		UserID:    client.UserID,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		UpdatedAt: time.Now().UTC(),
	}
	if err := g.locations.Set(ctx, loc); err != nil {
		return err
	}
	return g.bus.Publish(ctx, events.NewLocationEvent(key, client.UserID, req.Latitude, req.Longitude))
}

func (g *Gateway) sendError(client *Client, err error) {
	client.SendFrame(OutboundFrame{Type: FrameError, Data: errorPayload{
		Code:    wsErrorCode(err),
		Message: err.Error(),
	}})
}

func wsErrorCode(err error) string {
	switch {
	case waypool_errors.IsValidation(err):
		return "INVALID_INPUT"
	case errors.Is(err, waypool_errors.ErrBlocked):
		return "BLOCKED"
	case errors.Is(err, waypool_errors.ErrNoConnection):
		return "NO_CONNECTION"
	case waypool_errors.IsAuthorization(err):
		return "FORBIDDEN"
	case errors.Is(err, waypool_errors.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, waypool_errors.ErrQueueFull):
		return "QUEUE_FULL"
	}
	return "INTERNAL_ERROR"
}
