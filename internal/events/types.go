package events

// EventType identifies an event category on the bus, format: domain.action.
type EventType string

// Message events
const (
	EventMessageNew       EventType = "message.new"
	EventMessageConfirmed EventType = "message.confirmed"
	EventMessageFailed    EventType = "message.failed"
	EventMessageEdited    EventType = "message.edited"
	EventMessageDeleted   EventType = "message.deleted"
	EventMessagesRead     EventType = "message.read"
)

// Typing and presence events
const (
	EventTypingStarted   EventType = "typing.started"
	EventTypingStopped   EventType = "typing.stopped"
	EventPresenceOnline  EventType = "presence.online"
	EventPresenceOffline EventType = "presence.offline"
)

// Chat list projection events
const (
	EventChatListUpdated EventType = "chatlist.updated"
	EventChatListRefresh EventType = "chatlist.refresh"
)

// Membership / settings events that invalidate projections
const (
	EventMembershipChanged EventType = "room.membership_changed"
	EventSettingsUpdated   EventType = "user.settings_updated"
	EventConnectionChanged EventType = "connection.changed"
)

// Ephemeral location events
const (
	EventLocationUpdated EventType = "location.updated"
)

// Redis channel prefixes
const (
	ChannelPrefixConversation = "channel:conversation:"
	ChannelPrefixUser         = "channel:user:"
	ChannelPatternAll         = "channel:*"
)
