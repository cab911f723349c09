package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheVersionKey = "ledger:version"

// Cache wraps Redis based statement caching with versioning controls.
// Any ledger write bumps the version, invalidating every cached statement
// without enumerating keys.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) version(ctx context.Context) (int64, error) {
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

func (c *Cache) key(ctx context.Context, partyID int64) (string, error) {
	ver, err := c.version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ledger:v%d:party:%d:statement", ver, partyID), nil
}

// GetStatement returns a cached statement, or nil on miss.
func (c *Cache) GetStatement(ctx context.Context, partyID int64) (*Statement, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}
	key, err := c.key(ctx, partyID)
	if err != nil {
		return nil, err
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var stmt Statement
	if err := json.Unmarshal(payload, &stmt); err != nil {
		return nil, err
	}
	return &stmt, nil
}

// SetStatement stores a statement under the current cache version.
func (c *Cache) SetStatement(ctx context.Context, partyID int64, stmt *Statement) error {
	if c == nil || c.client == nil {
		return nil
	}
	key, err := c.key(ctx, partyID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(stmt)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, c.ttl).Err()
}

// Bump invalidates all cached statements.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}
