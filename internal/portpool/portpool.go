// Package portpool implements the fixed, statically-allocated port range
// the benchmark engine draws disposable SOCKS5 listen ports from (spec
// §4.3). The acquire/release semaphore idiom is the same buffered-channel
// gate used in other_examples' httptines worker ("ch <- struct{}{}"),
// adapted so a scoped Lease guarantees release even if the holding
// goroutine panics (spec P3).
package portpool

import "context"

// Lease is a single leased port. Release must be called at least once
// (later calls are no-ops), normally via a deferred call placed immediately after Acquire returns.
type Lease struct {
	Port int

	pool *Pool
}

// Release returns the port to the pool. Safe to call multiple times;
// only the first call has an effect.
func (l *Lease) Release() {
	if l == nil || l.pool == nil {
		return
	}
	pool := l.pool
	l.pool = nil
	pool.release(l.Port)
}

// Pool is a fixed range [base, base+n) of ports leased to at most one
// worker at a time.
type Pool struct {
	free chan int
}

// New creates a Pool covering [base, base+n).
func New(base, n int) *Pool {
	free := make(chan int, n)
	for i := 0; i < n; i++ {
		free <- base + i
	}
	return &Pool{free: free}
}

// Acquire blocks until a port is available or ctx is cancelled.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	select {
	case port := <-p.free:
		return &Lease{Port: port, pool: p}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) release(port int) {
	p.free <- port
}

// Size returns the total number of ports managed by the pool.
func (p *Pool) Size() int {
	return cap(p.free)
}

// Available returns the number of ports currently free. Intended for
// diagnostics/tests only; the value is stale the instant it is read.
func (p *Pool) Available() int {
	return len(p.free)
}
