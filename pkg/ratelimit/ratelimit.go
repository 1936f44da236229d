package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a fixed-window counter keyed by an arbitrary string
// (a connection id for join attempts, a client IP for room creation)
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*window
	max     int
	per     time.Duration
	now     func() time.Time
}

type window struct {
	count int
	start time.Time
}

// New creates a limiter allowing max events per window.
// A non-positive max disables limiting.
func New(max int, per time.Duration) *Limiter {
	return &Limiter{
		clients: make(map[string]*window),
		max:     max,
		per:     per,
		now:     time.Now,
	}
}

// Allow records one event for key and reports whether it is within the limit
func (l *Limiter) Allow(key string) bool {
	if l == nil || l.max <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, exists := l.clients[key]
	if !exists || now.Sub(w.start) >= l.per {
		l.clients[key] = &window{count: 1, start: now}
		return true
	}

	if w.count >= l.max {
		return false
	}
	w.count++
	return true
}

// Forget drops the state for key, e.g. when a connection closes
func (l *Limiter) Forget(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	delete(l.clients, key)
	l.mu.Unlock()
}

// Cleanup removes keys whose window ended more than one window ago
func (l *Limiter) Cleanup() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, w := range l.clients {
		if now.Sub(w.start) > 2*l.per {
			delete(l.clients, key)
		}
	}
}

// Len returns the number of tracked keys
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
