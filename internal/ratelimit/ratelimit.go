// Package ratelimit throttles expensive endpoints per client with an
// in-memory token bucket.
package ratelimit

import (
	"sync"
	"time"
)

// entry tracks the token-bucket state for a single client.
type entry struct {
	tokens    float64
	lastCheck time.Time
}

// Limiter grants each key up to burst tokens, refilled continuously at
// perMinute tokens per minute.
type Limiter struct {
	mu        sync.Mutex
	entries   map[string]*entry
	perMinute float64
	burst     float64
	now       func() time.Time
	stop      chan struct{}
	stopOnce  sync.Once
}

// New creates a limiter and starts its cleanup loop. Call Close to stop it.
func New(perMinute, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	l := &Limiter{
		entries:   make(map[string]*entry),
		perMinute: float64(perMinute),
		burst:     float64(burst),
		now:       time.Now,
		stop:      make(chan struct{}),
	}
	go l.cleanup(5 * time.Minute)
	return l
}

// Allow consumes one token for key and reports whether one was available.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[key]
	if !ok {
		l.entries[key] = &entry{tokens: l.burst - 1, lastCheck: now}
		return true
	}

	elapsed := now.Sub(e.lastCheck)
	e.lastCheck = now
	e.tokens += elapsed.Minutes() * l.perMinute
	if e.tokens > l.burst {
		e.tokens = l.burst
	}
	if e.tokens < 1 {
		return false
	}
	e.tokens--
	return true
}

// Reset clears the state for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Close stops the cleanup loop.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Limiter) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.evict()
		}
	}
}

// evict drops clients whose bucket has been full for a while.
func (l *Limiter) evict() {
	l.mu.Lock()
	defer l.mu.Unlock()
	idle := 10 * time.Minute
	if l.perMinute > 0 {
		idle = max(idle, time.Duration(2*l.burst/l.perMinute*float64(time.Minute)))
	}
	cutoff := l.now().Add(-idle)
	for key, e := range l.entries {
		if e.lastCheck.Before(cutoff) {
			delete(l.entries, key)
		}
	}
}
