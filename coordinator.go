package inbox

import (
	"sync"
	"sync/atomic"
)

// RefreshCallback receives the outcome of a refresh.
type RefreshCallback func(success bool)

// Pending fetch states.
const (
	fetchPending int32 = iota
	fetchDelivered
	fetchCanceled
)

// PendingFetch is a caller's stake in a refresh. Cancel withdraws the
// callback without affecting the refresh itself or other callers.
type PendingFetch struct {
	coord *coordinator
	gen   uint64
	cb    RefreshCallback
	state atomic.Int32
}

// Cancel removes the callback. It returns false if the callback already
// fired or was canceled before.
func (p *PendingFetch) Cancel() bool {
	if !p.state.CompareAndSwap(fetchPending, fetchCanceled) {
		return false
	}
	if p.coord != nil {
		p.coord.forget(p)
	}
	return true
}

// Canceled reports whether Cancel won before delivery.
func (p *PendingFetch) Canceled() bool {
	return p.state.Load() == fetchCanceled
}

func (p *PendingFetch) fire(success bool) {
	if !p.state.CompareAndSwap(fetchPending, fetchDelivered) {
		return
	}
	if p.cb != nil {
		p.cb(success)
	}
}

// coordinator guarantees one refresh job in flight for non-forced requests
// and hands every waiting caller a definitive answer.
//
// Each dispatched job gets a generation number. A non-forced request made
// while a job is in flight joins the newest generation. A forced request
// starts a new generation. Finishing generation g answers every caller
// attached to a generation <= g, so callers queued before a forced job are
// answered no later than the forced job's own callers.
type coordinator struct {
	mu       sync.Mutex
	fetching bool
	current  uint64
	pending  []*PendingFetch

	// dispatch schedules the job for gen. It returns false when the
	// job cannot run. Called with mu held; it must not block.
	dispatch func(gen uint64) bool
	// deliver runs a callback outside any lock, in order.
	deliver func(func())
	// coalesced is notified when a request joins an in-flight job.
	coalesced func()
}

func newCoordinator(dispatch func(uint64) bool, deliver func(func())) *coordinator {
	return &coordinator{dispatch: dispatch, deliver: deliver}
}

// request attaches cb to a refresh, dispatching a job when none is in flight
// or when force is set.
func (c *coordinator) request(cb RefreshCallback, force bool) *PendingFetch {
	p := &PendingFetch{coord: c, cb: cb}

	c.mu.Lock()
	start := force || !c.fetching
	if start {
		c.current++
		c.fetching = true
	}
	p.gen = c.current
	c.pending = append(c.pending, p)

	var failed []*PendingFetch
	if start && !c.dispatch(c.current) {
		failed = c.finishLocked(c.current)
	}
	c.mu.Unlock()

	if !start && c.coalesced != nil {
		c.coalesced()
	}
	c.fire(failed, false)
	return p
}

// finish answers every caller attached to gen or an earlier generation.
func (c *coordinator) finish(gen uint64, success bool) {
	c.mu.Lock()
	ready := c.finishLocked(gen)
	c.mu.Unlock()
	c.fire(ready, success)
}

func (c *coordinator) finishLocked(gen uint64) []*PendingFetch {
	var ready []*PendingFetch
	keep := c.pending[:0]
	for _, p := range c.pending {
		if p.gen <= gen {
			ready = append(ready, p)
		} else {
			keep = append(keep, p)
		}
	}
	clear(c.pending[len(keep):])
	c.pending = keep
	if gen >= c.current {
		c.fetching = false
	}
	return ready
}

// abort fails every waiting caller. Used on shutdown.
func (c *coordinator) abort() {
	c.mu.Lock()
	ready := c.pending
	c.pending = nil
	c.fetching = false
	c.mu.Unlock()
	c.fire(ready, false)
}

func (c *coordinator) fire(ready []*PendingFetch, success bool) {
	for _, p := range ready {
		c.deliver(func() { p.fire(success) })
	}
}

func (c *coordinator) forget(p *PendingFetch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, q := range c.pending {
		if q == p {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

// isFetching reports whether a job is in flight. Only tests call it.
func (c *coordinator) isFetching() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetching
}

// waiting returns the number of callbacks not yet answered. Only tests
// call it.
func (c *coordinator) waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
