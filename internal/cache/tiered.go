package cache

import (
	"context"
	"encoding/json"
	"time"

	gocache "github.com/patrickmn/go-cache"
	goredis "github.com/redis/go-redis/v9"
)

// Tiered is the multi-tier cache: a fast in-process tier in front of the
// shared Redis tier. All access is cache-aside; a fault in either tier is
// reported but must never be treated as fatal by callers, who fall back to
// the source of truth.
type Tiered struct {
	local  *gocache.Cache
	client *goredis.Client

	// localTTL bounds the staleness window of the in-process tier across
	// server processes; invalidation signals only reach the local process
	// and the shared tier.
	localTTL time.Duration
}

func NewTiered(client *goredis.Client, localTTL time.Duration) *Tiered {
	if localTTL == 0 {
		localTTL = 30 * time.Second
	}
	return &Tiered{
		local:    gocache.New(localTTL, 2*localTTL),
		client:   client,
		localTTL: localTTL,
	}
}

// Get loads key into dest. The first return value reports a hit.
func (t *Tiered) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if raw, ok := t.local.Get(key); ok {
		if data, ok := raw.([]byte); ok {
			if err := json.Unmarshal(data, dest); err == nil {
				return true, nil
			}
			t.local.Delete(key)
		}
	}

	data, err := t.client.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}

	// Promote into the local tier.
	t.local.Set(key, data, t.localTTL)
	return true, nil
}

// Set writes both tiers. ttl applies to the shared tier; the local tier keeps
// its own bounded TTL.
func (t *Tiered) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	localTTL := t.localTTL
	if ttl > 0 && ttl < localTTL {
		localTTL = ttl
	}
	t.local.Set(key, data, localTTL)
	return t.client.Set(ctx, key, data, ttl).Err()
}

// Invalidate drops keys from both tiers.
func (t *Tiered) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	for _, key := range keys {
		t.local.Delete(key)
	}
	return t.client.Del(ctx, keys...).Err()
}

// InvalidateLocal drops keys from the in-process tier only, for invalidation
// signals received over the bus (the shared tier was already cleared by the
// originating process).
func (t *Tiered) InvalidateLocal(keys ...string) {
	for _, key := range keys {
		t.local.Delete(key)
	}
}

// Ping checks the shared tier.
func (t *Tiered) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}
