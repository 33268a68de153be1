// Command asyncmy-bench wires a Pool to a backend, exposes the admin
// HTTP surface, runs a keepalive prober, and drives a configurable
// number of concurrent workers issuing a query in a loop so the client
// library's pool/statement/resultset path can be exercised under load.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dbbouncer/asyncmy"
	"github.com/dbbouncer/asyncmy/internal/adminserver"
	"github.com/dbbouncer/asyncmy/internal/config"
	"github.com/dbbouncer/asyncmy/internal/keepalive"
	"github.com/dbbouncer/asyncmy/internal/metrics"
	"github.com/dbbouncer/asyncmy/internal/transport"
)

func main() {
	configPath := flag.String("config", "configs/asyncmy-bench.yaml", "path to configuration file")
	adminAddr := flag.String("admin-addr", "127.0.0.1:8080", "address for the admin/metrics HTTP server")
	workers := flag.Int("workers", 4, "number of concurrent query workers")
	query := flag.String("query", "SELECT 1", "query each worker repeats")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("asyncmy-bench starting...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Configuration loaded from %s (backend=%s)", *configPath, cfg.Backend.Redacted().Host)

	m := metrics.New()
	dial := transport.TCPDialer(cfg.Backend.Host, cfg.Backend.Port, 5*time.Second)
	logger := slog.Default()
	pool := asyncmy.NewPool(cfg.Pool.Size, cfg.Backend.Username, cfg.Backend.Password, cfg.Backend.Database, dial, logger)
	pool.AttachMetrics(m)

	adminServer := adminserver.NewServer(pool, m)
	if err := adminServer.Start(*adminAddr); err != nil {
		log.Fatalf("Failed to start admin server: %v", err)
	}

	prober := keepalive.NewProber(pool, 30*time.Second, 2*time.Second, logger)
	prober.Start()

	configWatcher, err := config.NewWatcher(*configPath, func(newCfg *config.Config) {
		log.Printf("Reloading configuration...")
		pool.Reconfigure(newCfg.Pool.Size, newCfg.Statement.Prefetch)
	})
	if err != nil {
		log.Printf("Warning: config hot-reload not available: %v", err)
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	var completed, failed int64
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runWorker(workerCtx, pool, *query, &completed, &failed)
		}(i)
	}

	log.Printf("asyncmy-bench ready - admin:%s workers:%d", *adminAddr, *workers)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received signal %s, shutting down...", sig)

	stopWorkers()
	wg.Wait()
	log.Printf("workers stopped: completed=%d failed=%d", atomic.LoadInt64(&completed), atomic.LoadInt64(&failed))

	if configWatcher != nil {
		configWatcher.Stop()
	}
	prober.Stop()
	adminServer.Stop()
	pool.Shutdown(nil)

	log.Printf("asyncmy-bench stopped")
}

// runWorker checks out a Connection, prepares query once, and re-executes
// it in a loop until ctx is cancelled, reusing the PooledStatement so the
// statement-acquisition buffering path gets exercised alongside the
// streaming resultset path.
func runWorker(ctx context.Context, pool *asyncmy.Pool, query string, completed, failed *int64) {
	stmt, err := pool.Prepare(query)
	if err != nil {
		atomic.AddInt64(failed, 1)
		return
	}
	defer stmt.Dispose(context.Background())

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		execCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rs, err := stmt.Execute(execCtx)
		if err != nil {
			cancel()
			if ctx.Err() != nil {
				return
			}
			atomic.AddInt64(failed, 1)
			time.Sleep(100 * time.Millisecond)
			continue
		}

		for {
			if _, err := rs.Fetch(execCtx); err != nil {
				break
			}
		}
		cancel()
		atomic.AddInt64(completed, 1)
	}
}
