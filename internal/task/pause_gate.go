package task

import (
	"context"
	"sync"
)

// pauseGate is a reusable gate that tasks pass through before each attempt.
// While closed, Wait blocks; opening it releases every waiter at once.
type pauseGate struct {
	mu     sync.Mutex
	open   chan struct{} // closed while the gate is open
	paused bool
}

func newPauseGate() *pauseGate {
	ch := make(chan struct{})
	close(ch)
	return &pauseGate{open: ch}
}

// Close makes subsequent Wait calls block until Open.
func (g *pauseGate) Close() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.paused {
		return false
	}
	g.paused = true
	g.open = make(chan struct{})
	return true
}

// Open releases all waiters.
func (g *pauseGate) Open() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.paused {
		return false
	}
	g.paused = false
	close(g.open)
	return true
}

// IsClosed reports whether the gate is currently blocking.
func (g *pauseGate) IsClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Wait blocks until the gate is open or ctx is done.
func (g *pauseGate) Wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.open
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runIfOpen calls fn while holding the gate, so the gate cannot close
// while fn runs. It reports whether fn was called.
func (g *pauseGate) runIfOpen(fn func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.paused {
		return false
	}
	fn()
	return true
}
