package cache

import (
	"context"
	"fmt"
	"time"
)

const nonceKeyPrefix = "nonce:"

// ClaimNonce records a request nonce for a frontend. It returns false if the
// nonce was already claimed within ttl.
func (c *Cache) ClaimNonce(ctx context.Context, frontendID, nonce string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, nonceKeyPrefix+frontendID+":"+nonce, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim nonce: %w", err)
	}
	return ok, nil
}
