package redis

import (
	"context"
	"encoding/json"
	"time"

	"waypool-chat/internal/domain"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// PresenceStore mirrors per-process session state into Redis so that every
// server process sees the same online set and presence records.
type PresenceStore struct {
	client *goredis.Client
	ttl    time.Duration
}

// Redis key prefixes for presence
const (
	presenceKeyPrefix = "presence:"       // JSON presence record per user
	presenceOnlineSet = "presence:online" // Set of online user IDs
)

func NewPresenceStore(client *goredis.Client, ttl time.Duration) *PresenceStore {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &PresenceStore{client: client, ttl: ttl}
}

// SetOnline marks a user online in the shared view.
func (p *PresenceStore) SetOnline(ctx context.Context, userID uuid.UUID) error {
	record := domain.PresenceRecord{
		UserID:       userID,
		IsOnline:     true,
		LastActiveAt: time.Now(),
	}
	data, _ := json.Marshal(record)

	pipe := p.client.Pipeline()
	pipe.Set(ctx, presenceKeyPrefix+userID.String(), data, p.ttl)
	pipe.SAdd(ctx, presenceOnlineSet, userID.String())
	_, err := pipe.Exec(ctx)
	return err
}

// SetOffline marks a user offline. The record is kept longer than the online
// flag so last-seen queries keep working.
func (p *PresenceStore) SetOffline(ctx context.Context, userID uuid.UUID) error {
	record := domain.PresenceRecord{
		UserID:       userID,
		IsOnline:     false,
		LastActiveAt: time.Now(),
	}
	data, _ := json.Marshal(record)

	pipe := p.client.Pipeline()
	pipe.Set(ctx, presenceKeyPrefix+userID.String(), data, 24*time.Hour)
	pipe.SRem(ctx, presenceOnlineSet, userID.String())
	_, err := pipe.Exec(ctx)
	return err
}

// Refresh extends the online record's TTL (call on activity).
func (p *PresenceStore) Refresh(ctx context.Context, userID uuid.UUID) error {
	return p.client.Expire(ctx, presenceKeyPrefix+userID.String(), p.ttl).Err()
}

// IsOnline checks the shared online set.
func (p *PresenceStore) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	return p.client.SIsMember(ctx, presenceOnlineSet, userID.String()).Result()
}

// OnlineAmong returns which of the given users are in the shared online set.
func (p *PresenceStore) OnlineAmong(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	result := make(map[uuid.UUID]bool, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}

	pipe := p.client.Pipeline()
	cmds := make(map[uuid.UUID]*goredis.BoolCmd, len(userIDs))
	for _, userID := range userIDs {
		cmds[userID] = pipe.SIsMember(ctx, presenceOnlineSet, userID.String())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	for userID, cmd := range cmds {
		result[userID] = cmd.Val()
	}
	return result, nil
}

// GetRecord returns the presence record for a user; offline default on miss.
func (p *PresenceStore) GetRecord(ctx context.Context, userID uuid.UUID) (domain.PresenceRecord, error) {
	data, err := p.client.Get(ctx, presenceKeyPrefix+userID.String()).Result()
	if err == goredis.Nil {
		return domain.PresenceRecord{UserID: userID}, nil
	}
	if err != nil {
		return domain.PresenceRecord{}, err
	}

	var record domain.PresenceRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return domain.PresenceRecord{}, err
	}
	return record, nil
}
