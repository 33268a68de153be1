package asyncmy

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/dbbouncer/asyncmy/internal/metrics"
)

// Dialer opens a fresh duplex byte stream to the backend server. It is the
// one seam the core leaves to its caller — DSN parsing and socket
// establishment live outside this package.
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

// PoolStats is a point-in-time snapshot of a Pool's bookkeeping, exported
// for an admin surface to report.
type PoolStats struct {
	Active  int
	Idle    int
	Size    int
	Waiting int
}

// Pool owns up to Size Clients to one backend. Checkout hands callers a
// Connection; releasing it (via Connection.Shutdown) re-queues, probes, or
// evicts the underlying Client per spec.md §4.7.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	size     int
	dial     Dialer
	username string
	password string
	database string
	logger   *slog.Logger

	idle     []*Client
	active   int
	waiting  int
	disposed bool

	metrics *metrics.Collector
}

// AttachMetrics wires a Collector to this Pool; subsequent checkouts,
// releases, and evictions update its gauges and counters. Nil-safe to
// call with a nil Collector (clears instrumentation).
func (p *Pool) AttachMetrics(m *metrics.Collector) {
	p.mu.Lock()
	p.metrics = m
	p.mu.Unlock()
}

// reportStatsLocked pushes the current bookkeeping to the attached
// Collector, if any. Must be called with p.mu held.
func (p *Pool) reportStatsLocked() {
	if p.metrics != nil {
		p.metrics.UpdatePoolStats(p.active, len(p.idle), p.waiting)
	}
}

// NewPool constructs a Pool with the given capacity and backend
// credentials. dial is invoked on demand, never eagerly.
func NewPool(size int, username, password, database string, dial Dialer, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		size:     size,
		dial:     dial,
		username: username,
		password: password,
		database: database,
		logger:   logger,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Checkout implements spec.md §4.7's checkout algorithm: reject if
// disposed; create a fresh Client if there's spare capacity and the idle
// queue is empty; otherwise wait in FIFO order for one to be released.
func (p *Pool) Checkout(ctx context.Context) (*Connection, error) {
	p.mu.Lock()
	for {
		if p.disposed {
			p.mu.Unlock()
			return nil, ErrPoolDisposed
		}

		if len(p.idle) > 0 {
			c := p.idle[0]
			p.idle = p.idle[1:]
			p.active++
			p.reportStatsLocked()
			p.mu.Unlock()
			return p.wrapConnection(c), nil
		}

		if p.active < p.size {
			p.active++
			p.reportStatsLocked()
			p.mu.Unlock()

			client, err := p.createClient(ctx)
			if err != nil {
				p.mu.Lock()
				p.active--
				p.reportStatsLocked()
				p.mu.Unlock()
				p.cond.Signal()
				return nil, &PoolError{Err: err}
			}
			return p.wrapConnection(client), nil
		}

		p.waiting++
		p.reportStatsLocked()
		p.waitForRelease(ctx)
		p.waiting--
		p.reportStatsLocked()

		select {
		case <-ctx.Done():
			p.mu.Unlock()
			return nil, ctx.Err()
		default:
		}
	}
}

// waitForRelease blocks on p.cond until signalled, waking early if ctx is
// cancelled. Called with p.mu held; returns with p.mu held.
func (p *Pool) waitForRelease(ctx context.Context) {
	if ctx.Done() == nil {
		p.cond.Wait()
		return
	}
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			p.cond.Broadcast()
		case <-stop:
		}
	}()
	p.cond.Wait()
	close(stop)
}

func (p *Pool) createClient(ctx context.Context) (*Client, error) {
	stream, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	start := nowFunc()
	client, err := newClient(stream, p.username, p.password, p.database, p.logger)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	m := p.metrics
	p.mu.Unlock()
	if m != nil {
		m.AuthCompleted(nowFunc().Sub(start))
	}
	client.metrics = m
	return client, nil
}

func (p *Pool) wrapConnection(c *Client) *Connection {
	conn := newConnection(c)
	conn.release = func(faulty bool) {
		p.release(c, faulty)
	}
	return conn
}

// release is the closure spec.md §4.7 describes: depending on the
// returned Client's state, it is closed and evicted, or probed for a
// still-open transaction, or re-queued as idle.
func (p *Pool) release(c *Client, faulty bool) {
	p.mu.Lock()
	if p.disposed || faulty || c.IsDisposed() {
		reason := "faulty"
		if p.disposed {
			reason = "pool_shutdown"
		} else if c.IsDisposed() {
			reason = "disposed"
		}
		p.active--
		p.reportStatsLocked()
		if p.metrics != nil {
			p.metrics.ClientEvicted(reason)
		}
		p.mu.Unlock()
		c.Shutdown(nil)
		p.cond.Signal()
		return
	}

	if c.InTransaction() {
		p.mu.Unlock()
		err := c.probeInTransaction(context.Background())
		p.mu.Lock()
		if err != nil || c.InTransaction() {
			p.active--
			p.reportStatsLocked()
			if p.metrics != nil {
				p.metrics.ClientEvicted("dirty_transaction")
			}
			p.mu.Unlock()
			c.Shutdown(err)
			p.cond.Signal()
			return
		}
	}

	p.active--
	if p.disposed {
		p.reportStatsLocked()
		if p.metrics != nil {
			p.metrics.ClientEvicted("pool_shutdown")
		}
		p.mu.Unlock()
		c.Shutdown(nil)
		p.cond.Signal()
		return
	}
	p.idle = append(p.idle, c)
	p.reportStatsLocked()
	p.mu.Unlock()
	p.cond.Signal()
}

// Prepare returns a PooledStatement which acquires a Client (via the same
// arbitration as Checkout) lazily, on its first Execute.
func (p *Pool) Prepare(sql string) (*PooledStatement, error) {
	p.mu.Lock()
	disposed := p.disposed
	p.mu.Unlock()
	if disposed {
		return nil, ErrPoolDisposed
	}
	return newPooledStatement(p, sql), nil
}

// Reconfigure adjusts the Pool's capacity in place. Growing size wakes any
// checkouts currently waiting; shrinking only takes effect as Clients are
// released, since in-flight Connections are never force-evicted. prefetch
// is accepted to satisfy config.Reconfigurable and is ignored: every
// Statement uses defaultPrefetch as its row channel capacity.
func (p *Pool) Reconfigure(size int, prefetch int) {
	p.mu.Lock()
	grew := size > p.size
	p.size = size
	p.mu.Unlock()
	if grew {
		p.cond.Broadcast()
	}
}

// Stats returns a snapshot of the pool's bookkeeping.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{Active: p.active, Idle: len(p.idle), Size: p.size, Waiting: p.waiting}
}

// Shutdown marks the Pool disposed, closes every idle Client, and waits
// for each one's close-future. New checkouts and prepares fail afterward.
// Idempotent.
func (p *Pool) Shutdown(reason error) {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	p.cond.Broadcast()

	if reason == nil {
		reason = ErrPoolDisposed
	}
	for _, c := range idle {
		c.Shutdown(reason)
	}
	for _, c := range idle {
		c.awaitShutdown()
	}
}
