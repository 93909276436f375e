package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "aniproxy:cache:"

// Redis shares cached responses between instances. Redis expires keys on its
// own; the StoredAt check covers clock skew and missed expirations.
type Redis struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedis connects using a redis:// connection URL.
func NewRedis(connURL string) (*Redis, error) {
	opts, err := redis.ParseURL(connURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing redis connection url: %w", err)
	}
	return NewRedisWithClient(redis.NewClient(opts), time.Now), nil
}

func NewRedisWithClient(client *redis.Client, now func() time.Time) *Redis {
	return &Redis{client: client, now: now}
}

func (r *Redis) Lookup(ctx context.Context, key Key) (Entry, bool, error) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("error reading cache key '%s': %w", key, err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("error decoding cache key '%s': %w", key, err)
	}
	if !entry.Fresh(r.now()) {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (r *Redis) Store(ctx context.Context, key Key, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("error encoding cache key '%s': %w", key, err)
	}
	if err := r.client.Set(ctx, redisKeyPrefix+key.String(), raw, entry.TTL).Err(); err != nil {
		return fmt.Errorf("error writing cache key '%s': %w", key, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

var _ Store = (*Redis)(nil)
