// Package adminserver exposes a small HTTP surface over one asyncmy.Pool:
// a liveness probe, a stats endpoint, Prometheus metrics, and a plain
// status page. There is no tenant CRUD — a Pool serves exactly one
// backend.
package adminserver

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dbbouncer/asyncmy"
	"github.com/dbbouncer/asyncmy/internal/metrics"
)

// Server is the admin HTTP server for one Pool.
type Server struct {
	pool       *asyncmy.Pool
	metrics    *metrics.Collector
	httpServer *http.Server
	startTime  time.Time
}

// NewServer creates an admin server over pool. m may be nil if the Pool
// has no attached Collector, in which case the /metrics route is not
// registered.
func NewServer(pool *asyncmy.Pool, m *metrics.Collector) *Server {
	return &Server{pool: pool, metrics: m, startTime: time.Now()}
}

// Start begins serving on addr (e.g. "127.0.0.1:8080") in the background.
func (s *Server) Start(addr string) error {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.HandleFunc("/stats", s.statsHandler).Methods("GET")
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}
	r.HandleFunc("/", s.statusHandler).Methods("GET")

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Printf("[adminserver] listening on %s", addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[adminserver] server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the admin server down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	conn, err := s.pool.Checkout(ctx)
	healthy := err == nil
	if healthy {
		conn.Shutdown(nil)
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"status": boolToStatus(healthy)})
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pool.Stats())
}

var statusTemplate = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html><head><title>asyncmy</title></head>
<body>
<h1>asyncmy admin</h1>
<p>uptime: {{.Uptime}}</p>
<p>go: {{.GoVersion}} goroutines: {{.Goroutines}}</p>
<p>pool: active={{.Stats.Active}} idle={{.Stats.Idle}} size={{.Stats.Size}} waiting={{.Stats.Waiting}}</p>
<p><a href="/stats">/stats</a> · <a href="/health">/health</a> · <a href="/metrics">/metrics</a></p>
</body></html>
`))

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Uptime     string
		GoVersion  string
		Goroutines int
		Stats      asyncmy.PoolStats
	}{
		Uptime:     time.Since(s.startTime).String(),
		GoVersion:  runtime.Version(),
		Goroutines: runtime.NumGoroutine(),
		Stats:      s.pool.Stats(),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusTemplate.Execute(w, data); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("rendering status page: %v", err))
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func boolToStatus(b bool) string {
	if b {
		return "healthy"
	}
	return "unhealthy"
}
