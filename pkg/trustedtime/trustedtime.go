// Copyright 2025 Archive Origin
//
// Trusted time maintains a cached NTP offset so timestamp-skew checks do not
// depend on the host system clock alone.

package trustedtime

import (
	"log"
	"sync"
	"time"

	"github.com/beevik/ntp"
)

const ntpQueryTimeout = 1500 * time.Millisecond

// Clock is an NTP-backed source of "trusted" time: system time plus a cached
// offset, refreshed at most once per refresh interval.
type Clock struct {
	mu             sync.Mutex
	servers        []string
	refreshInterval time.Duration
	offset         time.Duration
	lastRefresh    time.Time
	logger         *log.Logger

	queryFunc func(host string) (*ntp.Response, error)
}

// Option configures a Clock.
type Option func(*Clock)

// WithLogger sets a custom logger for the clock.
func WithLogger(logger *log.Logger) Option {
	return func(c *Clock) { c.logger = logger }
}

// WithRefreshInterval overrides the default 60s refresh interval.
func WithRefreshInterval(d time.Duration) Option {
	return func(c *Clock) { c.refreshInterval = d }
}

// New creates a Clock that queries servers in order on each refresh.
func New(servers []string, opts ...Option) *Clock {
	c := &Clock{
		servers:         append([]string(nil), servers...),
		refreshInterval: 60 * time.Second,
		logger:          log.New(log.Writer(), "[TrustedTime] ", log.LstdFlags),
	}
	c.queryFunc = func(host string) (*ntp.Response, error) {
		return ntp.QueryWithOptions(host, ntp.QueryOptions{Timeout: ntpQueryTimeout})
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Now returns system time adjusted by the cached offset, refreshing first if
// the refresh interval has elapsed since the last attempt.
func (c *Clock) Now() time.Time {
	c.maybeRefresh()
	c.mu.Lock()
	offset := c.offset
	c.mu.Unlock()
	return time.Now().UTC().Add(offset)
}

// Offset returns the currently cached offset without triggering a refresh.
func (c *Clock) Offset() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

func (c *Clock) maybeRefresh() {
	c.mu.Lock()
	due := time.Since(c.lastRefresh) >= c.refreshInterval
	if !due {
		c.mu.Unlock()
		return
	}
	c.lastRefresh = time.Now()
	c.mu.Unlock()

	c.refresh()
}

// refresh contacts each configured NTP host in order, stopping at the first
// success. If every host fails, the offset reverts to zero.
func (c *Clock) refresh() {
	for _, host := range c.servers {
		resp, err := c.queryFunc(host)
		if err != nil {
			c.logger.Printf("ntp query %s failed: %v", host, err)
			continue
		}
		if err := resp.Validate(); err != nil {
			c.logger.Printf("ntp response from %s invalid: %v", host, err)
			continue
		}

		c.mu.Lock()
		c.offset = resp.ClockOffset
		c.mu.Unlock()
		return
	}

	c.logger.Printf("all NTP hosts failed, reverting offset to 0")
	c.mu.Lock()
	c.offset = 0
	c.mu.Unlock()
}
