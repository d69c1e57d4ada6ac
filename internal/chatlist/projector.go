package chatlist

import (
	"context"
	"fmt"
	"sync"
	"time"

	"waypool-chat/internal/cache"
	"waypool-chat/internal/domain"
	"waypool-chat/internal/events"
	"waypool-chat/internal/repository"
	"waypool-chat/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Cache is the slice of the tiered cache the projector needs.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

// Presence answers bulk online checks for direct counterparts.
type Presence interface {
	OnlineAmong(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]bool, error)
}

// Projector maintains each user's ranked conversation list. The projection is
// rebuilt from the database on a cache miss and patched in place as message
// events arrive; anything that can reorder or rename entries wholesale just
// invalidates and tells clients to refetch.
type Projector struct {
	messages repository.MessageRepository
	rooms    repository.RoomRepository
	users    repository.UserRepository
	presence Presence
	cache    Cache
	bus      events.EventBus
	log      *logger.Logger

	ttl time.Duration
}

func NewProjector(
	messages repository.MessageRepository,
	rooms repository.RoomRepository,
	users repository.UserRepository,
	presence Presence,
	tiered Cache,
	bus events.EventBus,
	ttl time.Duration,
	log *logger.Logger,
) *Projector {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &Projector{
		messages: messages,
		rooms:    rooms,
		users:    users,
		presence: presence,
		cache:    tiered,
		bus:      bus,
		ttl:      ttl,
		log:      log,
	}
}

// Register subscribes the projector to the events that move chat lists.
func (p *Projector) Register(bus events.EventBus) error {
	for _, t := range []events.EventType{
		events.EventMessageNew,
		events.EventMessagesRead,
		events.EventMembershipChanged,
		events.EventSettingsUpdated,
		events.EventConnectionChanged,
	} {
		if err := bus.Subscribe(t, p); err != nil {
			return err
		}
	}
	return nil
}

// ChatListFor returns the user's projection, rebuilding on a cache miss.
func (p *Projector) ChatListFor(ctx context.Context, userID uuid.UUID) (domain.ChatList, error) {
	var list domain.ChatList
	hit, err := p.cache.Get(ctx, cache.ChatListKey(userID), &list)
	if err != nil {
		p.log.Warnf("chatlist: cache read failed for %s: %v", userID, err)
	}
	if hit {
		return list, nil
	}
	return p.SyncFor(ctx, userID)
}

// SyncFor rebuilds the projection from scratch: the three sources are fetched
// in parallel, merged, sorted by last activity and capped, then cached.
func (p *Projector) SyncFor(ctx context.Context, userID uuid.UUID) (domain.ChatList, error) {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		entries []domain.ChatListEntry
		errs    []error
	)

	fetch := func(fn func(context.Context, uuid.UUID) ([]domain.ChatListEntry, error)) {
		defer wg.Done()
		part, err := fn(ctx, userID)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			errs = append(errs, err)
			return
		}
		entries = append(entries, part...)
	}

	wg.Add(3)
	go fetch(p.directEntries)
	go fetch(func(ctx context.Context, userID uuid.UUID) ([]domain.ChatListEntry, error) {
		return p.roomEntries(ctx, domain.ConversationRide, userID)
	})
	go fetch(func(ctx context.Context, userID uuid.UUID) ([]domain.ChatListEntry, error) {
		return p.roomEntries(ctx, domain.ConversationGroup, userID)
	})
	wg.Wait()

	if len(errs) > 0 {
		return domain.ChatList{}, fmt.Errorf("chat list rebuild for %s: %w", userID, errs[0])
	}

	list := domain.ChatList{UserID: userID, Entries: entries}
	list.Sort()
	list.Cap()

	if err := p.decorate(ctx, &list); err != nil {
		p.log.Warnf("chatlist: decoration failed for %s: %v", userID, err)
	}

	if err := p.cache.Set(ctx, cache.ChatListKey(userID), &list, p.ttl); err != nil {
		p.log.Warnf("chatlist: cache write failed for %s: %v", userID, err)
	}
	return list, nil
}

func (p *Projector) directEntries(ctx context.Context, userID uuid.UUID) ([]domain.ChatListEntry, error) {
	latest, err := p.messages.LatestDirectMessages(ctx, userID, domain.ChatListDirectCap)
	if err != nil {
		return nil, err
	}

	entries := make([]domain.ChatListEntry, 0, len(latest))
	for i := range latest {
		m := &latest[i]
		counterpart := m.CounterpartOf(userID)
		unread, err := p.messages.DirectUnreadCount(ctx, userID, counterpart)
		if err != nil {
			return nil, err
		}
		entries = append(entries, domain.ChatListEntry{
			Kind:           domain.ConversationDirect,
			Key:            domain.DirectKey(userID, counterpart),
			CounterpartID:  counterpart,
			LastMessage:    m.Summarize(),
			UnreadCount:    int(unread),
			LastActivityAt: m.CreatedAt,
		})
	}
	return entries, nil
}

func (p *Projector) roomEntries(ctx context.Context, kind domain.ConversationKind, userID uuid.UUID) ([]domain.ChatListEntry, error) {
	roomCap := domain.ChatListRideCap
	ids, err := p.rooms.RideIDsOf(ctx, userID)
	if kind == domain.ConversationGroup {
		roomCap = domain.ChatListGroupCap
		ids, err = p.rooms.GroupIDsOf(ctx, userID)
	}
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	latest, err := p.messages.LatestRoomMessages(ctx, kind, ids)
	if err != nil {
		return nil, err
	}
	names, err := p.rooms.RoomNames(ctx, kind, ids)
	if err != nil {
		return nil, err
	}

	// Rooms with no messages yet are omitted; they have no activity to rank.
	entries := make([]domain.ChatListEntry, 0, len(latest))
	for roomID, m := range latest {
		unread, err := p.messages.RoomUnreadCount(ctx, kind, roomID, userID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, domain.ChatListEntry{
			Kind:            kind,
			Key:             domain.RoomKey(kind, roomID),
			CounterpartID:   roomID,
			CounterpartName: names[roomID],
			LastMessage:     m.Summarize(),
			UnreadCount:     int(unread),
			LastActivityAt:  m.CreatedAt,
		})
		if len(entries) == roomCap {
			break
		}
	}
	return entries, nil
}

// decorate fills display names and online flags for direct entries.
func (p *Projector) decorate(ctx context.Context, list *domain.ChatList) error {
	var counterparts []uuid.UUID
	for i := range list.Entries {
		if list.Entries[i].Kind == domain.ConversationDirect {
			counterparts = append(counterparts, list.Entries[i].CounterpartID)
		}
	}
	if len(counterparts) == 0 {
		return nil
	}

	names, err := p.users.DisplayNames(ctx, counterparts)
	if err != nil {
		return err
	}
	online, err := p.presence.OnlineAmong(ctx, counterparts)
	if err != nil {
		return err
	}

	for i := range list.Entries {
		entry := &list.Entries[i]
		if entry.Kind != domain.ConversationDirect {
			continue
		}
		entry.CounterpartName = names[entry.CounterpartID]
		entry.IsOnline = online[entry.CounterpartID]
	}
	return nil
}

// Handle dispatches bus events into projection maintenance.
func (p *Projector) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case *events.MessageNewEvent:
		return p.handleMessageNew(ctx, e)
	case *events.MessagesReadEvent:
		return p.handleMessagesRead(ctx, e)
	case *events.MembershipChangedEvent:
		return p.refresh(ctx, e.UserIDs)
	case *events.SettingsUpdatedEvent:
		return p.refresh(ctx, []uuid.UUID{e.UserID})
	case *events.ConnectionChangedEvent:
		return p.refresh(ctx, e.UserIDs)
	}
	return nil
}

// handleMessageNew patches the cached projection of every participant. Users
// without a cached list get a refresh event instead; their next read
// rebuilds.
func (p *Projector) handleMessageNew(ctx context.Context, e *events.MessageNewEvent) error {
	users, err := p.participantsOf(ctx, &e.Message)
	if err != nil {
		return err
	}
	for _, userID := range users {
		if err := p.patch(ctx, userID, e); err != nil {
			p.log.Warnf("chatlist: patch failed for %s: %v", userID, err)
		}
	}
	return nil
}

func (p *Projector) participantsOf(ctx context.Context, m *events.MessagePayload) ([]uuid.UUID, error) {
	switch m.ConversationKind {
	case domain.ConversationDirect:
		return []uuid.UUID{m.SenderID, *m.RecipientID}, nil
	case domain.ConversationRide:
		return p.rooms.MemberIDs(ctx, domain.ConversationRide, *m.RideID)
	case domain.ConversationGroup:
		return p.rooms.MemberIDs(ctx, domain.ConversationGroup, *m.GroupID)
	}
	return nil, nil
}

func (p *Projector) patch(ctx context.Context, userID uuid.UUID, e *events.MessageNewEvent) error {
	var list domain.ChatList
	hit, err := p.cache.Get(ctx, cache.ChatListKey(userID), &list)
	if err != nil {
		return err
	}
	if !hit {
		// Nothing cached to patch. The user's sessions still need to hear
		// about the message; a refresh event makes them refetch.
		return p.bus.Publish(ctx, events.NewChatListRefreshEvent([]uuid.UUID{userID}))
	}

	m := &e.Message
	entry := domain.ChatListEntry{
		Kind:           m.ConversationKind,
		Key:            e.Conversation,
		LastActivityAt: m.CreatedAt,
		LastMessage: domain.Summary{
			MessageID: m.ID,
			SenderID:  m.SenderID,
			Kind:      m.Kind,
			Body:      truncateBody(m.Body),
			CreatedAt: m.CreatedAt,
		},
	}

	if i := list.Find(e.Conversation); i >= 0 {
		prev := list.Entries[i]
		// Several processes see the same publication; the first patch wins.
		if prev.LastMessage.MessageID == m.ID {
			return nil
		}
		entry.CounterpartID = prev.CounterpartID
		entry.CounterpartName = prev.CounterpartName
		entry.IsOnline = prev.IsOnline
		entry.UnreadCount = prev.UnreadCount
	} else if err := p.seedEntry(ctx, userID, m, &entry); err != nil {
		return err
	}
	if m.SenderID != userID {
		entry.UnreadCount++
	}

	list.Upsert(entry)
	if err := p.cache.Set(ctx, cache.ChatListKey(userID), &list, p.ttl); err != nil {
		return err
	}
	return p.bus.Publish(ctx, events.NewChatListUpdatedEvent(userID, entry))
}

// seedEntry fills identity fields for a conversation the cached list has not
// seen before.
func (p *Projector) seedEntry(ctx context.Context, userID uuid.UUID, m *events.MessagePayload, entry *domain.ChatListEntry) error {
	switch m.ConversationKind {
	case domain.ConversationDirect:
		counterpart := m.SenderID
		if counterpart == userID {
			counterpart = *m.RecipientID
		}
		entry.CounterpartID = counterpart
		names, err := p.users.DisplayNames(ctx, []uuid.UUID{counterpart})
		if err != nil {
			return err
		}
		entry.CounterpartName = names[counterpart]
		online, err := p.presence.OnlineAmong(ctx, []uuid.UUID{counterpart})
		if err == nil {
			entry.IsOnline = online[counterpart]
		}
	case domain.ConversationRide, domain.ConversationGroup:
		roomID := *m.RideID
		if m.ConversationKind == domain.ConversationGroup {
			roomID = *m.GroupID
		}
		entry.CounterpartID = roomID
		names, err := p.rooms.RoomNames(ctx, m.ConversationKind, []uuid.UUID{roomID})
		if err != nil {
			return err
		}
		entry.CounterpartName = names[roomID]
	}
	return nil
}

// handleMessagesRead lowers the reader's unread counter by the messages the
// receipt covers. A mark-read may span only part of the backlog, so the
// counter is decremented, not zeroed.
func (p *Projector) handleMessagesRead(ctx context.Context, e *events.MessagesReadEvent) error {
	var list domain.ChatList
	hit, err := p.cache.Get(ctx, cache.ChatListKey(e.ReaderID), &list)
	if err != nil || !hit {
		return err
	}

	i := list.Find(e.Conversation)
	if i < 0 || list.Entries[i].UnreadCount == 0 {
		return nil
	}
	list.Entries[i].UnreadCount -= len(e.MessageIDs)
	if list.Entries[i].UnreadCount < 0 {
		list.Entries[i].UnreadCount = 0
	}

	if err := p.cache.Set(ctx, cache.ChatListKey(e.ReaderID), &list, p.ttl); err != nil {
		return err
	}
	return p.bus.Publish(ctx, events.NewChatListUpdatedEvent(e.ReaderID, list.Entries[i]))
}

// refresh invalidates cached projections and tells the affected clients to
// refetch. Used for changes that can add, remove or rename entries.
func (p *Projector) refresh(ctx context.Context, userIDs []uuid.UUID) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, len(userIDs))
	for i, userID := range userIDs {
		keys[i] = cache.ChatListKey(userID)
	}
	if err := p.cache.Invalidate(ctx, keys...); err != nil {
		p.log.Warn("chatlist: invalidation failed", zap.Error(err))
	}
	return p.bus.Publish(ctx, events.NewChatListRefreshEvent(userIDs))
}

func truncateBody(body string) string {
	return domain.TruncateBody(body, 120)
}
