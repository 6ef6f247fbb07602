package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryNonces is a process-local nonce store. It is only correct for a
// single gateway instance; multiple instances must share Redis.
type MemoryNonces struct {
	mu        sync.Mutex
	seen      map[string]time.Time // key -> expiry
	now       func() time.Time
	lastSweep time.Time
}

// NewMemoryNonces creates an empty MemoryNonces.
func NewMemoryNonces() *MemoryNonces {
	return &MemoryNonces{
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// ClaimNonce records nonce for frontendID. It returns false if the nonce is
// already held and unexpired.
func (m *MemoryNonces) ClaimNonce(_ context.Context, frontendID, nonce string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastSweep) > ttl {
		for k, expiry := range m.seen {
			if !now.Before(expiry) {
				delete(m.seen, k)
			}
		}
		m.lastSweep = now
	}

	key := frontendID + ":" + nonce
	if expiry, ok := m.seen[key]; ok && now.Before(expiry) {
		return false, nil
	}
	m.seen[key] = now.Add(ttl)
	return true, nil
}

// Len returns the number of tracked nonces, expired or not.
func (m *MemoryNonces) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}
