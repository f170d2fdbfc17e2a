package settlement

import "sync/atomic"

// guard is the per-engine "operation in progress" flag. Every mutating
// operation acquires it first; a nested entry from inside that operation (for
// example a payout channel calling back into the engine) is rejected.
type guard struct {
	busy   atomic.Bool
	paying atomic.Bool
}

// enter acquires the guard and returns its release function. Callers must
// defer the release immediately so every exit path clears the flag.
func (g *guard) enter() (func(), error) {
	if !g.busy.CompareAndSwap(false, true) {
		return nil, ErrReentrantCall
	}
	return func() { g.busy.Store(false) }, nil
}

// payout marks the span in which control has left the engine for an external
// payout channel. It must be called with the guard held.
func (g *guard) payout() func() {
	g.paying.Store(true)
	return func() { g.paying.Store(false) }
}

// inPayout reports whether an external payout channel is running.
func (g *guard) inPayout() bool { return g.paying.Load() }
