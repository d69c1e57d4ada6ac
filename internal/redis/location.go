package redis

import (
	"context"
	"encoding/json"
	"time"

	"waypool-chat/internal/domain"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// LiveLocation is an ephemeral position share inside a room. It is never
// persisted as a message; it lives in Redis until its TTL lapses.
type LiveLocation struct {
	Room      domain.ConversationKey `json:"room"`
	UserID    uuid.UUID              `json:"user_id"`
	Latitude  float64                `json:"lat"`
	Longitude float64                `json:"lon"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// LocationStore keeps live location shares in Redis, keyed by (room, user).
type LocationStore struct {
	client *goredis.Client
	ttl    time.Duration
}

const locationKeyPrefix = "location:"

func NewLocationStore(client *goredis.Client, ttl time.Duration) *LocationStore {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &LocationStore{client: client, ttl: ttl}
}

func locationKey(room domain.ConversationKey, userID uuid.UUID) string {
	return locationKeyPrefix + room.String() + ":" + userID.String()
}

// Set stores a location share with the configured TTL.
func (s *LocationStore) Set(ctx context.Context, loc *LiveLocation) error {
	data, err := json.Marshal(loc)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, locationKey(loc.Room, loc.UserID), data, s.ttl).Err()
}

// Get retrieves a user's live location in a room; nil means no active share.
func (s *LocationStore) Get(ctx context.Context, room domain.ConversationKey, userID uuid.UUID) (*LiveLocation, error) {
	data, err := s.client.Get(ctx, locationKey(room, userID)).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var loc LiveLocation
	if err := json.Unmarshal([]byte(data), &loc); err != nil {
		return nil, err
	}
	return &loc, nil
}

// ActiveInRoom lists all live location shares in a room.
func (s *LocationStore) ActiveInRoom(ctx context.Context, room domain.ConversationKey) ([]LiveLocation, error) {
	pattern := locationKeyPrefix + room.String() + ":*"
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()

	var locations []LiveLocation
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Result()
		if err != nil {
			continue
		}
		var loc LiveLocation
		if err := json.Unmarshal([]byte(data), &loc); err != nil {
			continue
		}
		locations = append(locations, loc)
	}
	return locations, iter.Err()
}

// Clear drops a user's live location share in a room.
func (s *LocationStore) Clear(ctx context.Context, room domain.ConversationKey, userID uuid.UUID) error {
	return s.client.Del(ctx, locationKey(room, userID)).Err()
}
