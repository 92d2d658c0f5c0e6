/*
Package limiter throttles how fast a single address may open chat
connections.

Each address gets one token bucket sized for the upgrade path: admission is
cheap, but every accepted connection costs a goroutine pair and a roster
slot, so reconnect storms from one host are cut off early. Buckets unseen
for longer than the eviction window are dropped by a background sweep to
keep the map bounded.
*/
package limiter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tildechat/internal/pkg/logx"
)

const (
	evictEvery = 3 * time.Minute
	evictAfter = 10 * time.Minute
)

type visitor struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// UpgradeLimiter hands one token bucket to each client address.
type UpgradeLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	r        rate.Limit
	b        int
}

// NewUpgradeLimiter creates a limiter allowing r upgrades per second with
// bursts of b per address, and starts the eviction sweep.
func NewUpgradeLimiter(r rate.Limit, b int) *UpgradeLimiter {
	l := &UpgradeLimiter{
		visitors: make(map[string]*visitor),
		r:        r,
		b:        b,
	}

	go l.evictLoop()

	return l
}

// Allow reports whether ip may open another connection right now.
func (l *UpgradeLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(l.r, l.b)}
		l.visitors[ip] = v
	}
	v.lastSeen = time.Now()

	return v.lim.Allow()
}

// evictLoop periodically drops buckets not seen within the eviction window.
func (l *UpgradeLimiter) evictLoop() {
	logger := logx.Component("limiter")

	ticker := time.NewTicker(evictEvery)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-evictAfter)

		l.mu.Lock()
		evicted := 0
		for ip, v := range l.visitors {
			if v.lastSeen.Before(cutoff) {
				delete(l.visitors, ip)
				evicted++
			}
		}
		tracked := len(l.visitors)
		l.mu.Unlock()

		logger.Debug().Int("evicted", evicted).Int("tracked", tracked).Msg("Limiter eviction sweep")
	}
}
