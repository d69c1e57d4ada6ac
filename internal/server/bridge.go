package server

import (
	"context"
	"encoding/json"

	"waypool-chat/internal/events"
	"waypool-chat/pkg/logger"
)

// Subscriber abstracts the Redis pattern subscription the bridge runs on.
type Subscriber interface {
	Subscribe(ctx context.Context, patterns []string, handler func(channel string, payload []byte)) error
}

// RedisBridge forwards bus publications to local WebSocket subscribers.
// Delivery is by channel name; the payload is translated from the bus
// envelope into the client frame once per process, not per client.
type RedisBridge struct {
	subscriber Subscriber
	hub        *Hub
	log        *logger.Logger
}

func NewRedisBridge(subscriber Subscriber, hub *Hub, log *logger.Logger) *RedisBridge {
	return &RedisBridge{subscriber: subscriber, hub: hub, log: log}
}

// Run blocks, pumping bus traffic into the hub until the context is cancelled.
func (b *RedisBridge) Run(ctx context.Context) error {
	return b.subscriber.Subscribe(ctx, []string{events.ChannelPatternAll}, b.forward)
}

func (b *RedisBridge) forward(channel string, payload []byte) {
	if b.hub.SubscriberCount(channel) == 0 {
		return
	}

	var base events.BaseEvent
	if err := json.Unmarshal(payload, &base); err != nil {
		b.log.Warnf("bridge: undecodable payload on %s: %v", channel, err)
		return
	}
	event := events.UnmarshalEvent(base.EventTypeVal, payload)
	if event == nil {
		return
	}
	frame, ok := frameFromEvent(event)
	if !ok {
		return
	}

	// Typing indicators go to everyone in the room but the typist.
	if typing, ok := event.(*events.TypingEvent); ok {
		b.hub.BroadcastExcept(channel, typing.UserID, frame.encode())
		return
	}
	b.hub.Broadcast(channel, frame.encode())
}
