// Package netstate tracks the connectivity state of a store session.
package netstate

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/and161185/safe-comments/internal/model"
)

// Reconnector re-establishes a dropped session.
type Reconnector interface {
	Reconnect(ctx context.Context) error
}

// Tracker holds the current ConnectionState. Transitions come only from
// store callbacks (OnStateChange) and from Reconnect.
type Tracker struct {
	mu     sync.RWMutex
	state  model.ConnectionState
	notify func(model.ConnectionState)
	log    *zap.Logger
}

// New returns a tracker in the Init state. notify may be nil.
func New(log *zap.Logger, notify func(model.ConnectionState)) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{state: model.StateInit, notify: notify, log: log}
}

// OnStateChange records a state reported by the store. It matches remote.StateFunc.
func (t *Tracker) OnStateChange(s model.ConnectionState) {
	t.set(s)
}

func (t *Tracker) set(s model.ConnectionState) {
	t.mu.Lock()
	prev := t.state
	t.state = s
	t.mu.Unlock()

	if prev != s {
		t.log.Info("network state changed", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
	if t.notify != nil {
		t.notify(s)
	}
}

// State returns the current state.
func (t *Tracker) State() model.ConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// IsUp reports whether the network is usable; only Connected counts.
func (t *Tracker) IsUp() bool { return t.State().IsUp() }

// Reconnect moves to Connecting and asks r to reconnect. On failure the state
// becomes Disconnected and the error is returned; there is no automatic retry.
func (t *Tracker) Reconnect(ctx context.Context, r Reconnector) error {
	t.set(model.StateConnecting)
	if err := r.Reconnect(ctx); err != nil {
		t.log.Warn("reconnect failed", zap.Error(err))
		t.set(model.StateDisconnected)
		return err
	}
	t.set(model.StateConnected)
	return nil
}
