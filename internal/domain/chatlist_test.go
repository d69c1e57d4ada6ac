package domain

import (
	"database/sql"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func listEntry(key ConversationKey, at time.Time) ChatListEntry {
	return ChatListEntry{Kind: key.Kind(), Key: key, LastActivityAt: at}
}

func TestChatListSortNewestFirst(t *testing.T) {
	now := time.Now()
	list := ChatList{Entries: []ChatListEntry{
		listEntry(RideKey(uuid.New()), now.Add(-time.Hour)),
		listEntry(GroupKey(uuid.New()), now),
		listEntry(DirectKey(uuid.New(), uuid.New()), now.Add(-time.Minute)),
	}}

	list.Sort()

	assert.Equal(t, ConversationGroup, list.Entries[0].Kind)
	assert.Equal(t, ConversationDirect, list.Entries[1].Kind)
	assert.Equal(t, ConversationRide, list.Entries[2].Kind)
}

func TestChatListUpsertReplacesByKey(t *testing.T) {
	now := time.Now()
	key := RideKey(uuid.New())
	list := ChatList{Entries: []ChatListEntry{
		listEntry(key, now.Add(-time.Hour)),
		listEntry(GroupKey(uuid.New()), now.Add(-time.Minute)),
	}}

	updated := listEntry(key, now)
	updated.UnreadCount = 3
	list.Upsert(updated)

	assert.Len(t, list.Entries, 2)
	assert.Equal(t, key, list.Entries[0].Key)
	assert.Equal(t, 3, list.Entries[0].UnreadCount)
}

func TestChatListUpsertCapsAtGlobalLimit(t *testing.T) {
	now := time.Now()
	list := ChatList{}
	for i := 0; i < ChatListCap; i++ {
		list.Upsert(listEntry(RideKey(uuid.New()), now.Add(-time.Duration(i)*time.Minute)))
	}

	oldest := list.Entries[len(list.Entries)-1].Key
	list.Upsert(listEntry(GroupKey(uuid.New()), now.Add(time.Second)))

	assert.Len(t, list.Entries, ChatListCap)
	assert.Equal(t, -1, list.Find(oldest))
}

func TestSummarizeTruncatesAndHidesDeleted(t *testing.T) {
	m := Message{
		ID:       uuid.New(),
		SenderID: uuid.New(),
		Kind:     KindText,
		Body:     sql.NullString{String: strings.Repeat("x", 300), Valid: true},
	}

	summary := m.Summarize()
	assert.Len(t, summary.Body, 120)
	assert.Equal(t, m.ID, summary.MessageID)

	m.IsDeleted = true
	assert.Empty(t, m.Summarize().Body)
}

func TestSummarizeTruncatesOnRuneBoundary(t *testing.T) {
	m := Message{
		ID:       uuid.New(),
		SenderID: uuid.New(),
		Kind:     KindText,
		Body:     sql.NullString{String: strings.Repeat("ü", 300), Valid: true},
	}

	body := m.Summarize().Body
	assert.True(t, utf8.ValidString(body))
	assert.Equal(t, 120, utf8.RuneCountInString(body))
	assert.Equal(t, strings.Repeat("ü", 120), body)
}

func TestTruncateBody(t *testing.T) {
	assert.Equal(t, "short", TruncateBody("short", 120))
	assert.Equal(t, "été", TruncateBody("été!", 3))
	assert.Equal(t, "🚗🚗", TruncateBody("🚗🚗🚗", 2))
}
