package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stebofarm/gateway/internal/model"
)

const (
	identityKeyPrefix = "frontend:key:"
	unknownKeySuffix  = ":unknown"

	// IdentityTTL is the time-to-live for cached frontend identities.
	// Identities are immutable, so the TTL only bounds memory.
	IdentityTTL = 1 * time.Hour

	// UnknownIdentityTTL bounds how long a key digest stays negatively
	// cached. Registration clears the entry for the new digest.
	UnknownIdentityTTL = 30 * time.Second
)

// ErrCacheMiss is returned when a key is not cached.
var ErrCacheMiss = errors.New("cache miss")

// cachedFrontend is the Redis representation of a frontend identity.
type cachedFrontend struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// GetFrontend returns the cached identity for a unique key digest.
// Returns ErrCacheMiss if not cached.
func (c *Cache) GetFrontend(ctx context.Context, keyHash string) (*model.Frontend, error) {
	data, err := c.client.Get(ctx, identityKeyPrefix+keyHash).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get frontend from cache: %w", err)
	}

	var cached cachedFrontend
	if err := json.Unmarshal(data, &cached); err != nil {
		// Corrupted cache entry - treat as miss
		return nil, ErrCacheMiss
	}

	return &model.Frontend{
		ID:        cached.ID,
		Name:      cached.Name,
		KeyHash:   keyHash,
		CreatedAt: cached.CreatedAt,
	}, nil
}

// SetFrontend caches a frontend identity under its key digest.
func (c *Cache) SetFrontend(ctx context.Context, f *model.Frontend) error {
	data, err := json.Marshal(cachedFrontend{
		ID:        f.ID,
		Name:      f.Name,
		CreatedAt: f.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal frontend: %w", err)
	}

	if err := c.client.Set(ctx, identityKeyPrefix+f.KeyHash, data, IdentityTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache frontend: %w", err)
	}
	return nil
}

// IsUnknownIdentity reports whether a key digest was recently looked up and
// not found.
func (c *Cache) IsUnknownIdentity(ctx context.Context, keyHash string) (bool, error) {
	exists, err := c.client.Exists(ctx, identityKeyPrefix+keyHash+unknownKeySuffix).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check negative cache: %w", err)
	}
	return exists > 0, nil
}

// SetUnknownIdentity marks a key digest as not registered.
func (c *Cache) SetUnknownIdentity(ctx context.Context, keyHash string) error {
	err := c.client.SetEx(ctx, identityKeyPrefix+keyHash+unknownKeySuffix, "", UnknownIdentityTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to set negative cache: %w", err)
	}
	return nil
}

// ClearUnknownIdentity removes a negative entry, used right after the digest
// is registered.
func (c *Cache) ClearUnknownIdentity(ctx context.Context, keyHash string) error {
	if err := c.client.Del(ctx, identityKeyPrefix+keyHash+unknownKeySuffix).Err(); err != nil {
		return fmt.Errorf("failed to clear negative cache: %w", err)
	}
	return nil
}
