package main

import (
	"context"
	"log"
	"time"

	"waypool-chat/config"
	"waypool-chat/internal/auth"
	"waypool-chat/internal/authz"
	"waypool-chat/internal/cache"
	"waypool-chat/internal/chatlist"
	"waypool-chat/internal/domain"
	"waypool-chat/internal/events"
	"waypool-chat/internal/pipeline"
	"waypool-chat/internal/presence"
	"waypool-chat/internal/redis"
	"waypool-chat/internal/repository"
	"waypool-chat/internal/server"
	"waypool-chat/internal/session"
	"waypool-chat/pkg/database"
	"waypool-chat/pkg/logger"
)

func main() {
	cfg := config.LoadConfig()

	l := logger.New(cfg.AppMode)
	defer l.Logger.Sync()
	logger.SetGlobalLogger(l)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(
		&domain.User{},
		&domain.Connection{},
		&domain.Message{},
		&domain.Ride{},
		&domain.RideMember{},
		&domain.Group{},
		&domain.GroupMember{},
	); err != nil {
		log.Fatalf("Failed to apply GORM migrations: %v", err)
	}

	redis.Initialize(redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	client := redis.GetClient()

	tiered := cache.NewTiered(client, 30*time.Second)
	presenceStore := redis.NewPresenceStore(client, cfg.Cache.PresenceTTL)
	locationStore := redis.NewLocationStore(client, cfg.Cache.LocationTTL)

	users := repository.NewUserRepository(db)
	connections := repository.NewConnectionRepository(db)
	messages := repository.NewMessageRepository(db)
	rooms := repository.NewRoomRepository(db)

	bus := events.NewRedisEventBus(client, redis.NewPublisher(client), events.NewHybridChannelResolver())
	if err := bus.Start(); err != nil {
		l.Fatal("failed to start event bus")
	}

	authorizer := authz.NewAuthorizer(connections, rooms, tiered, cfg.Cache.MembershipTTL, l)
	projector := chatlist.NewProjector(messages, rooms, users, presenceStore, tiered, bus, cfg.Cache.ChatListTTL, l)
	if err := projector.Register(bus); err != nil {
		l.Fatal("failed to register chat list projector")
	}
	registerInvalidations(bus, authorizer, tiered)

	pipe := pipeline.New(cfg.Pipeline, messages, connections, authorizer, bus, l)
	tracker := presence.NewTracker(cfg.Presence, connections, users, presenceStore, bus, l)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	directory := session.NewDirectory()
	hub := server.NewHub()
	go hub.Run(ctx)

	gateway := server.NewGateway(directory, authorizer, pipe, tracker, locationStore, presenceStore, messages, bus, hub, l)
	bridge := server.NewRedisBridge(redis.NewSubscriber(client), hub, l)
	go func() {
		if err := bridge.Run(ctx); err != nil {
			l.Errorf("event bridge stopped: %v", err)
		}
	}()

	pipe.Start()
	tracker.Start()

	verifier := auth.NewTokenVerifier(cfg.JWTSecret)
	srv := server.New(cfg, l)
	srv.SetupRoutes(&server.Handlers{
		Chat: server.NewChatHandler(projector, authorizer, messages, tiered, cfg.Cache.MessagesTTL, l),
		WS:   server.NewWSHandler(verifier, hub, directory, tracker, gateway, l),
	}, verifier, db, tiered)

	if err := srv.Start(); err != nil {
		l.Errorf("server exited: %v", err)
	}

	// Drain in dependency order: stop accepting, flush queued work, then
	// stop the bus and the hub.
	pipe.Stop()
	tracker.Stop()
	if err := bus.Stop(); err != nil {
		l.Errorf("event bus stop: %v", err)
	}
	cancel()
}

// registerInvalidations wires the cache drops that keep cached authorization
// and message pages honest across processes.
func registerInvalidations(bus events.EventBus, authorizer *authz.Authorizer, tiered *cache.Tiered) {
	_ = bus.Subscribe(events.EventConnectionChanged, events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		changed, ok := event.(*events.ConnectionChangedEvent)
		if !ok || len(changed.UserIDs) != 2 {
			return nil
		}
		authorizer.InvalidatePair(ctx, changed.UserIDs[0], changed.UserIDs[1])
		return nil
	}))

	_ = bus.Subscribe(events.EventMembershipChanged, events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		changed, ok := event.(*events.MembershipChangedEvent)
		if !ok {
			return nil
		}
		for _, userID := range changed.UserIDs {
			authorizer.InvalidateMembership(ctx, changed.Kind, changed.RoomID, userID)
		}
		return nil
	}))

	// The refreshing process already cleared the shared tier; peers only need
	// to drop their in-process copies.
	_ = bus.Subscribe(events.EventChatListRefresh, events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		refresh, ok := event.(*events.ChatListRefreshEvent)
		if !ok {
			return nil
		}
		for _, userID := range refresh.UserIDs {
			tiered.InvalidateLocal(cache.ChatListKey(userID))
		}
		return nil
	}))

	invalidatePage := events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		var conversation domain.ConversationKey
		switch e := event.(type) {
		case *events.MessageNewEvent:
			conversation = e.Conversation
		case *events.MessageEditedEvent:
			conversation = e.Conversation
		case *events.MessageDeletedEvent:
			conversation = e.Conversation
		default:
			return nil
		}
		return tiered.Invalidate(ctx, cache.MessagesKey(conversation))
	})
	for _, t := range []events.EventType{
		events.EventMessageNew,
		events.EventMessageEdited,
		events.EventMessageDeleted,
	} {
		_ = bus.Subscribe(t, invalidatePage)
	}
}
