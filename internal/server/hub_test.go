package server

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"waypool-chat/internal/domain"
	"waypool-chat/internal/events"
	"waypool-chat/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case payload := <-c.send:
		return payload
	case <-time.After(2 * time.Second):
		t.Fatal("no payload delivered")
		return nil
	}
}

func TestHubBroadcastReachesSubscribersOnly(t *testing.T) {
	hub := runHub(t)
	subscriber := NewClient(nil, uuid.New())
	bystander := NewClient(nil, uuid.New())
	channel := events.ChannelPrefixConversation + "ride:" + uuid.NewString()

	hub.Register(subscriber)
	hub.Register(bystander)
	hub.Subscribe(subscriber, channel)
	waitFor(t, func() bool { return hub.SubscriberCount(channel) == 1 })

	hub.Broadcast(channel, []byte(`{"type":"new_message"}`))

	assert.Equal(t, `{"type":"new_message"}`, string(receive(t, subscriber)))
	assert.Empty(t, bystander.send)
}

func TestHubSendToUserHitsAllSessions(t *testing.T) {
	hub := runHub(t)
	userID := uuid.New()
	first := NewClient(nil, userID)
	second := NewClient(nil, userID)
	other := NewClient(nil, uuid.New())

	hub.Register(first)
	hub.Register(second)
	hub.Register(other)
	waitFor(t, func() bool { return hub.ClientCount() == 3 })

	hub.SendToUser(userID, []byte("ping"))

	assert.Equal(t, "ping", string(receive(t, first)))
	assert.Equal(t, "ping", string(receive(t, second)))
	assert.Empty(t, other.send)
}

func TestHubUnregisterDropsSubscriptions(t *testing.T) {
	hub := runHub(t)
	client := NewClient(nil, uuid.New())
	channel := events.ChannelPrefixUser + client.UserID.String()

	hub.Register(client)
	hub.Subscribe(client, channel)
	waitFor(t, func() bool { return hub.SubscriberCount(channel) == 1 })

	hub.Unregister(client)
	waitFor(t, func() bool { return hub.ClientCount() == 0 })

	assert.Zero(t, hub.SubscriberCount(channel))
	// Broadcasting after the drop must not panic or deliver.
	hub.Broadcast(channel, []byte("late"))
}

func TestHubSubscribeAfterUnregisterIgnored(t *testing.T) {
	hub := runHub(t)
	client := NewClient(nil, uuid.New())
	channel := "channel:conversation:group:" + uuid.NewString()

	hub.Register(client)
	waitFor(t, func() bool { return hub.ClientCount() == 1 })
	hub.Unregister(client)
	waitFor(t, func() bool { return hub.ClientCount() == 0 })

	hub.Subscribe(client, channel)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, hub.SubscriberCount(channel))
}

type fakeSubscriber struct {
	handler func(channel string, payload []byte)
}

func (s *fakeSubscriber) Subscribe(ctx context.Context, patterns []string, handler func(channel string, payload []byte)) error {
	s.handler = handler
	return nil
}

func TestBridgeTranslatesBusEnvelopes(t *testing.T) {
	hub := runHub(t)
	client := NewClient(nil, uuid.New())
	m := wireMessage()
	channel := events.ChannelPrefixConversation + m.ConversationKey().String()

	hub.Register(client)
	hub.Subscribe(client, channel)
	waitFor(t, func() bool { return hub.SubscriberCount(channel) == 1 })

	subscriber := &fakeSubscriber{}
	bridge := NewRedisBridge(subscriber, hub, logger.NewNop())
	require.NoError(t, bridge.Run(context.Background()))
	require.NotNil(t, subscriber.handler)

	payload, err := json.Marshal(events.NewMessageNewEvent(m))
	require.NoError(t, err)
	subscriber.handler(channel, payload)

	var frame struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(receive(t, client), &frame))
	assert.Equal(t, FrameNewMessage, frame.Type)

	var delivered events.MessagePayload
	require.NoError(t, json.Unmarshal(frame.Data, &delivered))
	assert.Equal(t, m.ID, delivered.ID)
}

func TestBridgeTypingSkipsTypistSessions(t *testing.T) {
	hub := runHub(t)
	typist := uuid.New()
	key := domain.RoomKey(domain.ConversationRide, uuid.New())
	channel := events.ChannelPrefixConversation + key.String()

	typistSession := NewClient(nil, typist)
	peer := NewClient(nil, uuid.New())
	hub.Register(typistSession)
	hub.Register(peer)
	hub.Subscribe(typistSession, channel)
	hub.Subscribe(peer, channel)
	waitFor(t, func() bool { return hub.SubscriberCount(channel) == 2 })

	subscriber := &fakeSubscriber{}
	bridge := NewRedisBridge(subscriber, hub, logger.NewNop())
	require.NoError(t, bridge.Run(context.Background()))

	payload, err := json.Marshal(events.NewTypingEvent(key, typist, true))
	require.NoError(t, err)
	subscriber.handler(channel, payload)

	var frame struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(receive(t, peer), &frame))
	assert.Equal(t, FrameUserTyping, frame.Type)
	assert.Empty(t, typistSession.send, "typist must not see their own indicator")
}

func TestBridgeSkipsChannelsWithoutSubscribers(t *testing.T) {
	hub := runHub(t)
	subscriber := &fakeSubscriber{}
	bridge := NewRedisBridge(subscriber, hub, logger.NewNop())
	require.NoError(t, bridge.Run(context.Background()))

	// Garbage on an unsubscribed channel is dropped before decoding.
	subscriber.handler("channel:conversation:ride:"+uuid.NewString(), []byte("not json"))
}
