package limiter

import (
	"context"
	"sync"
	"time"
)

type attempts struct {
	fails        int
	blockedUntil time.Time
	updatedAt    time.Time
}

// Memory is a process-local limiter with the same policy semantics as PG.
type Memory struct {
	mu     sync.Mutex
	policy Policy
	now    func() time.Time
	pairs  map[string]*attempts
}

// NewMemory constructs an in-memory limiter.
func NewMemory(p Policy) *Memory {
	return &Memory{policy: p, now: time.Now, pairs: map[string]*attempts{}}
}

func pairKey(username string, ipHash []byte) string { return username + "\x00" + string(ipHash) }

// Allow reports whether an attempt is allowed now.
func (l *Memory) Allow(_ context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.pairs[pairKey(username, ipHash)]
	if !ok {
		return true, 0, nil
	}
	if now := l.now(); a.blockedUntil.After(now) {
		return false, a.blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

// Success resets counters for (username, ip).
func (l *Memory) Success(_ context.Context, username string, ipHash []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.pairs, pairKey(username, ipHash))
	return nil
}

// Failure records a failed attempt and blocks the pair once MaxFails is reached within Window.
func (l *Memory) Failure(_ context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	k := pairKey(username, ipHash)
	a, ok := l.pairs[k]
	if !ok || now.Sub(a.updatedAt) > l.policy.Window {
		a = &attempts{}
		l.pairs[k] = a
	}
	a.fails++
	a.updatedAt = now
	if a.fails < l.policy.MaxFails {
		return false, 0, nil
	}
	a.blockedUntil = now.Add(l.policy.BlockFor)
	return true, l.policy.BlockFor, nil
}
