// Package cache provides the Redis-backed session snapshot cache.
//
// Snapshots live under "session:{id}" with a one-hour TTL. The cache is a
// read-side convenience for status endpoints and the monitor CLI; it is
// never the source of truth, and every operation degrades to a logged
// error rather than failing the pipeline.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a session snapshot stays cached without refresh.
const DefaultTTL = time.Hour

// ErrMiss is returned when no snapshot exists for the session.
var ErrMiss = errors.New("cache: session not cached")

// SessionCache stores JSON session snapshots in Redis.
type SessionCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New creates a cache over rdb with [DefaultTTL].
func New(rdb *redis.Client) *SessionCache {
	return &SessionCache{rdb: rdb, ttl: DefaultTTL}
}

// NewWithTTL creates a cache with a custom snapshot TTL.
func NewWithTTL(rdb *redis.Client, ttl time.Duration) *SessionCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SessionCache{rdb: rdb, ttl: ttl}
}

func key(sessionID string) string { return "session:" + sessionID }

// Put writes the snapshot for sessionID, resetting its TTL.
func (c *SessionCache) Put(ctx context.Context, sessionID string, snapshot any) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("cache: marshal snapshot for %s: %w", sessionID, err)
	}
	if err := c.rdb.Set(ctx, key(sessionID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache: put %s: %w", sessionID, err)
	}
	return nil
}

// Get unmarshals the cached snapshot for sessionID into dest.
func (c *SessionCache) Get(ctx context.Context, sessionID string, dest any) error {
	data, err := c.rdb.Get(ctx, key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %s", ErrMiss, sessionID)
	}
	if err != nil {
		return fmt.Errorf("cache: get %s: %w", sessionID, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache: unmarshal snapshot for %s: %w", sessionID, err)
	}
	return nil
}

// Delete removes the snapshot for sessionID. Deleting an absent key is not
// an error.
func (c *SessionCache) Delete(ctx context.Context, sessionID string) error {
	if err := c.rdb.Del(ctx, key(sessionID)).Err(); err != nil {
		return fmt.Errorf("cache: delete %s: %w", sessionID, err)
	}
	return nil
}
