// Package pool implements the fixed-capacity connection pool that fronts
// every remote client the engine talks to (agent-protocol connections,
// QUIC sessions): a bounded set of reusable clients, acquired through a
// scoped Lease that is guaranteed to return its client on every exit path,
// with a synchronous build-on-empty fallback bounded by the pool's total
// capacity, using a buffered-channel-as-semaphore for the capacity permit
// and Go's explicit defer-Release idiom in place of RAII-on-drop release.
package pool

import (
	"sync"

	"github.com/parasync/parasync/internal/scerr"
)

// Client is the capability every pooled remote connection exposes; the
// pool only needs to be able to tear one down.
type Client interface {
	Close() error
}

// Factory builds a new Client on demand; Acquire calls it synchronously
// when the idle list is empty but the pool has not yet reached capacity.
// The pool is never pre-populated.
type Factory[C Client] func() (C, error)

// Pool is a fixed-capacity, thread-safe pool of reusable clients.
type Pool[C Client] struct {
	factory  Factory[C]
	permits  chan struct{} // one buffered slot per unit of capacity
	capacity int

	mu     sync.Mutex
	idle   []C
	total  int
	active int
}

// New builds a Pool with room for capacity concurrently-leased clients.
// No clients are created eagerly; the first Acquire calls beyond zero idle
// clients build them synchronously via factory.
func New[C Client](capacity int, factory Factory[C]) *Pool[C] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Pool[C]{
		factory:  factory,
		permits:  make(chan struct{}, capacity),
		capacity: capacity,
	}
}

// Lease is a scoped handle to one pooled Client. Release must be called
// exactly once, on every exit path (defer lease.Release() immediately
// after a successful Acquire) — Release is idempotent so a deferred call
// after an explicit early Release is harmless.
type Lease[C Client] struct {
	pool     *Pool[C]
	client   C
	released bool
	mu       sync.Mutex
}

// Client returns the leased connection.
func (l *Lease[C]) Client() C { return l.client }

// Release returns the client to the pool, freeing a capacity permit for
// the next blocked Acquire. Safe to call multiple times and safe to call
// from a deferred recover() after a panic.
func (l *Lease[C]) Release() {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return
	}
	l.released = true
	l.mu.Unlock()

	l.pool.mu.Lock()
	l.pool.idle = append(l.pool.idle, l.client)
	l.pool.active--
	l.pool.mu.Unlock()

	<-l.pool.permits
}

// Acquire blocks until a capacity permit is free, then returns an idle
// client if one exists or synchronously builds a new one via Factory.
// Callers must Release the returned Lease on every exit path.
func (p *Pool[C]) Acquire() (*Lease[C], error) {
	p.permits <- struct{}{}

	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.active++
		p.mu.Unlock()
		return &Lease[C]{pool: p, client: c}, nil
	}
	p.mu.Unlock()

	c, err := p.factory()
	if err != nil {
		<-p.permits
		return nil, scerr.New(scerr.KindConnection, "", err)
	}

	p.mu.Lock()
	p.total++
	p.active++
	p.mu.Unlock()

	return &Lease[C]{pool: p, client: c}, nil
}

// Stats reports the pool's current occupancy.
type Stats struct {
	Total     int
	Available int
	Active    int
}

// Stats returns a snapshot of the pool's current occupancy.
func (p *Pool[C]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Total: p.total, Available: len(p.idle), Active: p.active}
}

// Close tears down every currently-idle client. Clients out on lease at
// the time of the call are not closed: Release returns them to the idle
// list as usual, where only a later Close reaches them. There is no forced
// eviction path for in-flight connections.
func (p *Pool[C]) Close() error {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	var firstErr error
	for _, c := range idle {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
