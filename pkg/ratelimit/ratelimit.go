// Package ratelimit provides keyed token buckets. Callers key them by remote
// IP for connection attempts and by session id for command submissions.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// entry is one key's bucket and when it was last consulted.
type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter manages one rate.Limiter per key and evicts keys that have been idle.
type Limiter struct {
	mu         sync.Mutex
	entries    map[string]*entry
	limit      rate.Limit
	burst      int
	maxEntries int
	now        func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// New returns a Limiter allowing perMinute events per key with bursts of the
// same size. perMinute <= 0 disables limiting.
func New(perMinute int) *Limiter {
	l := &Limiter{
		entries:    make(map[string]*entry),
		limit:      rate.Limit(float64(perMinute) / time.Minute.Seconds()),
		burst:      perMinute,
		maxEntries: 10000,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	go l.evictionLoop(5*time.Minute, 10*time.Minute)
	return l
}

// Allow consumes one token for key and reports whether it was available.
func (l *Limiter) Allow(key string) bool {
	if l.burst <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[key]
	if !ok {
		// Refuse new keys once full rather than grow without bound.
		if len(l.entries) >= l.maxEntries {
			return false
		}
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Forget drops the bucket for key, e.g. when a session closes.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	delete(l.entries, key)
	l.mu.Unlock()
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Stop ends the eviction goroutine.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Limiter) evictionLoop(every, maxAge time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.evictStale(maxAge)
		}
	}
}

func (l *Limiter) evictStale(maxAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-maxAge)
	for key, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, key)
		}
	}
}
