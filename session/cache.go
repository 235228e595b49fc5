package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheVersionKey = "till:session:version"

// Cache is a read-through Redis cache for closed-session aggregates.
// Closed sessions never change, but a version counter still guards
// against backfills and repairs done outside the till: bumping it
// orphans every cached entry at once.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper. A nil client disables caching;
// every call falls through to the loader.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// TotalsKey composes the versioned cache key for a session's totals.
func (c *Cache) TotalsKey(ctx context.Context, sessionID int64) (string, error) {
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("till:session:%d:totals:%d", sessionID, ver), nil
}

// FetchTotals loads cached totals or populates them using the loader.
func (c *Cache) FetchTotals(ctx context.Context, key string, loader func(context.Context) (Totals, error)) (Totals, error) {
	if loader == nil {
		return Totals{}, errors.New("session: cache loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var t Totals
		if err := json.Unmarshal(payload, &t); err == nil {
			return t, nil
		}
		// Unreadable entry: fall through and overwrite it.
	} else if err != redis.Nil {
		return Totals{}, err
	}
	totals, err := loader(ctx)
	if err != nil {
		return Totals{}, err
	}
	raw, err := json.Marshal(totals)
	if err != nil {
		return Totals{}, err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return Totals{}, err
	}
	return totals, nil
}

// Bump invalidates every cached entry by incrementing the version.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}
