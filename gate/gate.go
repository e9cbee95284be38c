// Package gate provides a single-resolution future over "the debugger
// connection is established". Operations that need the connection are
// enqueued as continuations and run in submission order once the gate
// settles, so breakpoints configured right after initialize are applied
// before anything requested later.
package gate

import (
	"errors"
	"sync"
)

// ErrConnectionFailed is passed to continuations when the gate is rejected.
var ErrConnectionFailed = errors.New("connection to debugger failed")

// Gate settles exactly once, via Resolve or Reject. Continuations enqueued
// before and after settlement all run on a single runner goroutine in FIFO
// order; after rejection each one observes the rejection error instead of
// hanging. The pending queue is unbounded, so Enqueue never blocks the
// caller. Close releases the runner once the owner knows no further
// continuations are coming.
type Gate struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []func(error)
	closed  bool

	settled chan struct{}
	once    sync.Once
	err     error
}

// New creates an unsettled gate and starts its runner goroutine.
func New() *Gate {
	g := &Gate{settled: make(chan struct{})}
	g.cond = sync.NewCond(&g.mu)
	go g.run()
	return g
}

func (g *Gate) run() {
	<-g.settled
	for {
		g.mu.Lock()
		for len(g.pending) == 0 && !g.closed {
			g.cond.Wait()
		}
		if len(g.pending) == 0 {
			g.mu.Unlock()
			return
		}
		fn := g.pending[0]
		g.pending = g.pending[1:]
		g.mu.Unlock()
		fn(g.err)
	}
}

// Resolve marks the connection established. Only the first settlement wins.
func (g *Gate) Resolve() {
	g.settle(nil)
}

// Reject marks connection establishment as failed. Every queued and future
// continuation receives err (or ErrConnectionFailed if err is nil).
func (g *Gate) Reject(err error) {
	if err == nil {
		err = ErrConnectionFailed
	}
	g.settle(err)
}

func (g *Gate) settle(err error) {
	g.once.Do(func() {
		g.err = err
		close(g.settled)
	})
}

// Enqueue schedules fn to run once the gate settles. If the gate is already
// settled, fn still goes through the queue so ordering with earlier
// continuations is preserved. After Close, fn runs inline.
func (g *Gate) Enqueue(fn func(error)) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		fn(g.err)
		return
	}
	g.pending = append(g.pending, fn)
	g.mu.Unlock()
	g.cond.Signal()
}

// Close lets the runner goroutine exit after it drains the pending queue.
// Call it once the gate is settled and no more continuations will follow.
func (g *Gate) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.cond.Signal()
}

// Settled reports whether the gate has been resolved or rejected.
func (g *Gate) Settled() bool {
	select {
	case <-g.settled:
		return true
	default:
		return false
	}
}

// Err returns the settlement error, or nil if unsettled or resolved.
func (g *Gate) Err() error {
	select {
	case <-g.settled:
		return g.err
	default:
		return nil
	}
}
