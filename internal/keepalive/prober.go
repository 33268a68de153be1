// Package keepalive periodically pings idle pooled Connections so a dead
// backend is detected and evicted before an application ever checks it
// out, adapted from the teacher's tenant health checker to a single-Pool
// client library.
package keepalive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dbbouncer/asyncmy"
)

// Prober periodically checks a Pool out and back in, pinging the Client it
// receives. A failed ping relies on the Pool's own release-time eviction
// rules (the Connection is released with a non-nil cause) rather than
// reaching into Pool internals.
type Prober struct {
	pool    *asyncmy.Pool
	logger  *slog.Logger
	interval time.Duration
	timeout  time.Duration
	maxWorkers int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewProber creates a Prober over pool. interval is the time between
// sweeps; timeout bounds each individual ping.
func NewProber(pool *asyncmy.Pool, interval, timeout time.Duration, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Prober{
		pool:       pool,
		logger:     logger,
		interval:   interval,
		timeout:    timeout,
		maxWorkers: 10,
		stopCh:     make(chan struct{}),
	}
}

// Start begins the periodic probing loop in the background.
func (p *Prober) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run()
	}()
	p.logger.Info("keepalive prober started", "interval", p.interval)
}

// Stop stops the prober. Safe to call multiple times.
func (p *Prober) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	p.logger.Info("keepalive prober stopped")
}

func (p *Prober) run() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sweep()
		case <-p.stopCh:
			return
		}
	}
}

// sweep pings up to Stats().Idle currently-idle Clients, each via its own
// Checkout/ping/release round trip, bounded by a worker semaphore so a
// large pool doesn't spawn unbounded goroutines at once.
func (p *Prober) sweep() {
	idle := p.pool.Stats().Idle
	if idle == 0 {
		return
	}

	sem := make(chan struct{}, p.maxWorkers)
	var wg sync.WaitGroup
	for i := 0; i < idle; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			p.probeOne()
		}()
	}
	wg.Wait()
}

func (p *Prober) probeOne() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	conn, err := p.pool.Checkout(ctx)
	if err != nil {
		return
	}

	_, err = conn.Ping(ctx)
	if err != nil {
		p.logger.Warn("keepalive ping failed, evicting", "error", err)
		conn.Shutdown(err)
		return
	}
	conn.Shutdown(nil)
}
