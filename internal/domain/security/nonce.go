package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// NonceTTL is how long a consumed nonce stays in the replay cache. The sweep
// interval in the coordinator matches it.
const NonceTTL = 10 * time.Minute

// NewNonce returns 16 cryptographically random bytes, hex-encoded.
func NewNonce() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// NonceCache records consumed nonces so a signed response cannot be replayed
// within the freshness window. Safe for concurrent use.
type NonceCache struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

// NewNonceCache creates a cache; ttl <= 0 means NonceTTL.
func NewNonceCache(ttl time.Duration) *NonceCache {
	if ttl <= 0 {
		ttl = NonceTTL
	}
	return &NonceCache{seen: make(map[string]time.Time), ttl: ttl}
}

// Remember records a nonce with its arrival time. A nonce already present
// fails with ErrDuplicateNonce and is not refreshed.
func (c *NonceCache) Remember(nonce string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.seen[nonce]; dup {
		return ErrDuplicateNonce
	}
	c.seen[nonce] = at
	return nil
}

// Sweep drops nonces older than the TTL and returns how many were removed.
func (c *NonceCache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for n, at := range c.seen {
		if now.Sub(at) > c.ttl {
			delete(c.seen, n)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached nonces.
func (c *NonceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
