package events

// ChannelResolver determines which Redis channels an event is published to.
type ChannelResolver interface {
	ResolveChannels(event Event) []string
}

// HybridChannelResolver routes conversation-scoped events to the
// conversation channel and user-addressed events to personal channels.
type HybridChannelResolver struct{}

func NewHybridChannelResolver() *HybridChannelResolver {
	return &HybridChannelResolver{}
}

func (r *HybridChannelResolver) ResolveChannels(event Event) []string {
	var channels []string

	switch e := event.(type) {
	case *MessageNewEvent:
		channels = append(channels, ChannelPrefixConversation+e.Conversation.String())
	case *MessageEditedEvent:
		channels = append(channels, ChannelPrefixConversation+e.Conversation.String())
	case *MessageDeletedEvent:
		channels = append(channels, ChannelPrefixConversation+e.Conversation.String())
	case *TypingEvent:
		channels = append(channels, ChannelPrefixConversation+e.Conversation.String())
	case *LocationEvent:
		channels = append(channels, ChannelPrefixConversation+e.Conversation.String())
	case *MessageConfirmedEvent:
		channels = append(channels, ChannelPrefixUser+e.UserID.String())
	case *MessageFailedEvent:
		channels = append(channels, ChannelPrefixUser+e.UserID.String())
	case *MessagesReadEvent:
		channels = append(channels, ChannelPrefixUser+e.SenderID.String())
	case *ChatListUpdatedEvent:
		channels = append(channels, ChannelPrefixUser+e.UserID.String())
	case *PresenceEvent:
		for _, id := range e.Recipients {
			channels = append(channels, ChannelPrefixUser+id.String())
		}
	case *ChatListRefreshEvent:
		for _, id := range e.UserIDs {
			channels = append(channels, ChannelPrefixUser+id.String())
		}
	case *MembershipChangedEvent:
		for _, id := range e.UserIDs {
			channels = append(channels, ChannelPrefixUser+id.String())
		}
	case *ConnectionChangedEvent:
		for _, id := range e.UserIDs {
			channels = append(channels, ChannelPrefixUser+id.String())
		}
	case *SettingsUpdatedEvent:
		channels = append(channels, ChannelPrefixUser+e.UserID.String())
	}

	return channels
}
