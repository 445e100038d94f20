package dispatch

import (
	"context"
	"sync/atomic"
)

// gate is a channel-based counting semaphore. Tokens are pre-filled up to limit;
// holding a token is holding an admission slot.
type gate struct {
	limit int
	ch    chan struct{}

	held    atomic.Int32
	maxHeld atomic.Int32
}

func newGate(limit int) *gate {
	if limit <= 0 {
		limit = 1
	}
	g := &gate{limit: limit, ch: make(chan struct{}, limit)}
	for i := 0; i < limit; i++ {
		g.ch <- struct{}{}
	}
	return g
}

// acquire blocks until a slot is free or ctx is done.
// A done ctx wins even when a slot is available, so cancellation stops admissions promptly.
func (g *gate) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-g.ch:
	}
	n := g.held.Add(1)
	for {
		m := g.maxHeld.Load()
		if n <= m || g.maxHeld.CompareAndSwap(m, n) {
			break
		}
	}
	return nil
}

// release returns a slot. It never blocks; a release without a matching acquire is dropped.
func (g *gate) release() {
	g.held.Add(-1)
	select {
	case g.ch <- struct{}{}:
	default:
	}
}

// peak is the highest number of simultaneously held slots observed.
func (g *gate) peak() int { return int(g.maxHeld.Load()) }
