// Package metrics exposes Prometheus instrumentation for a single asyncmy
// Pool: checkout bookkeeping, command latency, auth latency, row-channel
// backpressure, and Client eviction.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for one asyncmy Pool.
type Collector struct {
	Registry *prometheus.Registry

	poolActive  prometheus.Gauge
	poolIdle    prometheus.Gauge
	poolWaiting prometheus.Gauge

	commandDuration *prometheus.HistogramVec
	authDuration    prometheus.Histogram

	rowChannelBackpressure prometheus.Counter
	clientsEvicted         *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics on a fresh registry.
// Safe to call once per Pool — each call owns an independent registry.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		poolActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "asyncmy_pool_active_clients",
			Help: "Number of Clients currently checked out",
		}),
		poolIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "asyncmy_pool_idle_clients",
			Help: "Number of Clients sitting idle in the pool",
		}),
		poolWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "asyncmy_pool_waiting_checkouts",
			Help: "Number of goroutines blocked in Pool.Checkout",
		}),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "asyncmy_command_duration_seconds",
				Help:    "Duration of one executor-serialized command (prepare, execute, ping, ...)",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
			},
			[]string{"command"},
		),
		authDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "asyncmy_auth_duration_seconds",
			Help:    "Duration of the handshake + auth exchange for a new Client",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		rowChannelBackpressure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asyncmy_row_channel_backpressure_total",
			Help: "Number of times a ResultSet's row producer blocked on a full bounded channel",
		}),
		clientsEvicted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "asyncmy_clients_evicted_total",
				Help: "Clients removed from the pool instead of re-queued, by reason",
			},
			[]string{"reason"},
		),
	}

	reg.MustRegister(
		c.poolActive,
		c.poolIdle,
		c.poolWaiting,
		c.commandDuration,
		c.authDuration,
		c.rowChannelBackpressure,
		c.clientsEvicted,
	)

	return c
}

// UpdatePoolStats updates the pool gauge metrics from a PoolStats snapshot.
func (c *Collector) UpdatePoolStats(active, idle, waiting int) {
	c.poolActive.Set(float64(active))
	c.poolIdle.Set(float64(idle))
	c.poolWaiting.Set(float64(waiting))
}

// CommandCompleted observes the duration of one executor-serialized command.
func (c *Collector) CommandCompleted(command string, d time.Duration) {
	c.commandDuration.WithLabelValues(command).Observe(d.Seconds())
}

// AuthCompleted observes the duration of a handshake/auth exchange.
func (c *Collector) AuthCompleted(d time.Duration) {
	c.authDuration.Observe(d.Seconds())
}

// RowChannelBlocked increments the row-channel backpressure counter.
func (c *Collector) RowChannelBlocked() {
	c.rowChannelBackpressure.Inc()
}

// ClientEvicted increments the eviction counter for the given reason
// ("faulty", "disposed", "dirty_transaction", "pool_shutdown").
func (c *Collector) ClientEvicted(reason string) {
	c.clientsEvicted.WithLabelValues(reason).Inc()
}
