package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// ChannelPublisher sends one raw payload to one named channel.
type ChannelPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// RedisEventBus implements EventBus using Redis Pub/Sub
type RedisEventBus struct {
	client    *redis.Client
	publisher ChannelPublisher
	resolver  ChannelResolver
	handlers  map[EventType][]EventHandler
	pubsub    *redis.PubSub
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	running   atomic.Bool
}

func NewRedisEventBus(client *redis.Client, publisher ChannelPublisher, resolver ChannelResolver) *RedisEventBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisEventBus{
		client:    client,
		publisher: publisher,
		resolver:  resolver,
		handlers:  make(map[EventType][]EventHandler),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (b *RedisEventBus) Start() error {
	b.running.Store(true)
	b.pubsub = b.client.PSubscribe(b.ctx, ChannelPatternAll)
	go b.listen()
	return nil
}

func (b *RedisEventBus) Stop() error {
	b.cancel()
	b.running.Store(false)
	if b.pubsub != nil {
		b.pubsub.Close()
	}
	return nil
}

func (b *RedisEventBus) Publish(ctx context.Context, event Event) error {
	if !b.running.Load() {
		return fmt.Errorf("event bus not started")
	}

	channels := b.resolver.ResolveChannels(event)
	if len(channels) == 0 {
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	for _, channel := range channels {
		if err := b.publisher.Publish(ctx, channel, data); err != nil {
			return fmt.Errorf("failed to publish to %s: %w", channel, err)
		}
	}
	return nil
}

func (b *RedisEventBus) Subscribe(eventType EventType, handler EventHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	return nil
}

func (b *RedisEventBus) listen() {
	ch := b.pubsub.Channel()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg := <-ch:
			if msg == nil {
				continue
			}

			var base BaseEvent
			if err := json.Unmarshal([]byte(msg.Payload), &base); err != nil {
				continue
			}

			b.dispatch(base.EventTypeVal, []byte(msg.Payload))
		}
	}
}

func (b *RedisEventBus) dispatch(eventType EventType, data []byte) {
	b.mu.RLock()
	handlers := b.handlers[eventType]
	b.mu.RUnlock()

	for _, handler := range handlers {
		go func(h EventHandler) {
			event := UnmarshalEvent(eventType, data)
			if event != nil {
				_ = h.Handle(b.ctx, event)
			}
		}(handler)
	}
}

// UnmarshalEvent decodes raw bus payloads into their typed event.
func UnmarshalEvent(eventType EventType, data []byte) Event {
	switch eventType {
	case EventMessageNew:
		var e MessageNewEvent
		if err := json.Unmarshal(data, &e); err == nil {
			return &e
		}
	case EventMessageConfirmed:
		var e MessageConfirmedEvent
		if err := json.Unmarshal(data, &e); err == nil {
			return &e
		}
	case EventMessageFailed:
		var e MessageFailedEvent
		if err := json.Unmarshal(data, &e); err == nil {
			return &e
		}
	case EventMessageEdited:
		var e MessageEditedEvent
		if err := json.Unmarshal(data, &e); err == nil {
			return &e
		}
	case EventMessageDeleted:
		var e MessageDeletedEvent
		if err := json.Unmarshal(data, &e); err == nil {
			return &e
		}
	case EventMessagesRead:
		var e MessagesReadEvent
		if err := json.Unmarshal(data, &e); err == nil {
			return &e
		}
	case EventTypingStarted, EventTypingStopped:
		var e TypingEvent
		if err := json.Unmarshal(data, &e); err == nil {
			return &e
		}
	case EventPresenceOnline, EventPresenceOffline:
		var e PresenceEvent
		if err := json.Unmarshal(data, &e); err == nil {
			return &e
		}
	case EventChatListUpdated:
		var e ChatListUpdatedEvent
		if err := json.Unmarshal(data, &e); err == nil {
			return &e
		}
	case EventChatListRefresh:
		var e ChatListRefreshEvent
		if err := json.Unmarshal(data, &e); err == nil {
			return &e
		}
	case EventMembershipChanged:
		var e MembershipChangedEvent
		if err := json.Unmarshal(data, &e); err == nil {
			return &e
		}
	case EventSettingsUpdated:
		var e SettingsUpdatedEvent
		if err := json.Unmarshal(data, &e); err == nil {
			return &e
		}
	case EventConnectionChanged:
		var e ConnectionChangedEvent
		if err := json.Unmarshal(data, &e); err == nil {
			return &e
		}
	case EventLocationUpdated:
		var e LocationEvent
		if err := json.Unmarshal(data, &e); err == nil {
			return &e
		}
	}
	return nil
}
