package cache

import (
	"fmt"

	"waypool-chat/internal/domain"

	"github.com/google/uuid"
)

// Cache key patterns:
// - chatlist:{user_id}                     - chat list projection
// - messages:{conversation_key}            - recent-message window
// - membership:{kind}:{room_id}:{user_id}  - room membership answer
// - pair:{direct_key}                      - connection-pair answer (authz-owned)

func ChatListKey(userID uuid.UUID) string {
	return fmt.Sprintf("chatlist:%s", userID)
}

func MessagesKey(key domain.ConversationKey) string {
	return fmt.Sprintf("messages:%s", key)
}

func MembershipKey(kind domain.ConversationKind, roomID, userID uuid.UUID) string {
	return fmt.Sprintf("membership:%s:%s:%s", kind, roomID, userID)
}
