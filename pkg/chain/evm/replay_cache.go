package evm

import (
	"sync"
	"time"
)

// ReplayCache remembers (payer, nonce) pairs the facilitator has already
// settled. The token contract is authoritative for replay protection; this
// cache only keeps the settler from resubmitting a burned nonce and wasting
// gas on a guaranteed revert.
type ReplayCache struct {
	mu     sync.RWMutex
	nonces map[string]time.Time // key: payer:nonce, value: expiry

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
}

// NewReplayCache creates a replay cache with a background janitor.
func NewReplayCache() *ReplayCache {
	c := &ReplayCache{
		nonces:        make(map[string]time.Time),
		cleanupTicker: time.NewTicker(5 * time.Minute),
		stopCleanup:   make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Seen reports whether a (payer, nonce) pair was already settled here.
func (c *ReplayCache) Seen(payer, nonce string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	expiry, ok := c.nonces[payer+":"+nonce]
	return ok && time.Now().Before(expiry)
}

// MarkUsed records a settled (payer, nonce) pair. Entries linger an hour past
// validBefore; after that the chain rejects the authorization anyway.
func (c *ReplayCache) MarkUsed(payer, nonce string, validBefore int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nonces[payer+":"+nonce] = time.Unix(validBefore, 0).Add(time.Hour)
}

// Len returns the number of cached entries, expired ones included.
func (c *ReplayCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.nonces)
}

func (c *ReplayCache) cleanupLoop() {
	for {
		select {
		case <-c.cleanupTicker.C:
			now := time.Now()
			c.mu.Lock()
			for key, expiry := range c.nonces {
				if now.After(expiry) {
					delete(c.nonces, key)
				}
			}
			c.mu.Unlock()
		case <-c.stopCleanup:
			return
		}
	}
}

// Stop terminates the janitor goroutine.
func (c *ReplayCache) Stop() {
	c.cleanupTicker.Stop()
	close(c.stopCleanup)
}
