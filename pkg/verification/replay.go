// Copyright 2025 Archive Origin
//
// Replay guard: a TTL-bounded cache of recently seen verification keys.

package verification

import (
	"sync"
	"time"
)

// replayCache tracks recently seen verification keys to detect resubmission
// within the configured window.
type replayCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
	now     func() time.Time
}

func newReplayCache(ttl time.Duration) *replayCache {
	return &replayCache{
		ttl:     ttl,
		entries: make(map[string]time.Time),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// seenOrRecord reports whether key was already present and unexpired; if
// not, it records key with a fresh expiry and returns false.
func (c *replayCache) seenOrRecord(key string) bool {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if expiry, ok := c.entries[key]; ok && now.Before(expiry) {
		return true
	}

	c.entries[key] = now.Add(c.ttl)
	c.reap(now)
	return false
}

// reap removes expired entries. Caller must hold c.mu.
func (c *replayCache) reap(now time.Time) {
	for k, expiry := range c.entries {
		if !now.Before(expiry) {
			delete(c.entries, k)
		}
	}
}
