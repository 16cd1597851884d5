// File: metrics/metrics.go
package metrics

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/abdelmounim-dev/session-cache/log"
)

var (
	// Redis connection metrics
	RedisCommandsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_redis_commands_sent_total",
		Help: "Commands sent to Redis, reported per connection at each stats interval.",
	}, []string{"connection"})
	RedisCommandsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_redis_commands_received_total",
		Help: "Replies received from Redis, reported per connection at each stats interval.",
	}, []string{"connection"})
	PoolConstructions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_pool_constructions_total",
		Help: "Redis connections constructed by the pool, by outcome.",
	}, []string{"outcome"})
	PoolRetirements = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_pool_retirements_total",
		Help: "Redis connections removed from the pool and closed.",
	})

	// Session metrics
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "session_shared_active",
		Help: "Session caches currently shared by in-flight requests.",
	})
	SessionLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_loads_total",
		Help: "Sessions loaded from Redis, by outcome.",
	}, []string{"outcome"})
	SessionSizeBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "session_size_bytes",
		Help:    "Wire size of sessions loaded from Redis.",
		Buckets: prometheus.ExponentialBuckets(64, 4, 8),
	})
	SessionOverflows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_overflows_total",
		Help: "Loaded sessions that exceeded the configured maximum size.",
	})
	DecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_decode_failures_total",
		Help: "Fields whose wire form could not be decoded; each clears its session.",
	})
	AccessTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_access_timeouts_total",
		Help: "Session field accesses abandoned while a flush held the session.",
	})

	// Flush metrics
	FlushedFields = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_flushed_fields_total",
		Help: "Fields written back to Redis, by operation.",
	}, []string{"op"})
	FlushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_flush_failures_total",
		Help: "Change batches that could not be written to Redis.",
	})
	BackgroundFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_background_command_failures_total",
		Help: "Fire-and-forget Redis commands that failed, by command.",
	}, []string{"command"})
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartServer starts the HTTP server for Prometheus metrics.
func StartServer(port int, path string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, Handler())

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: mux}
	log.Infof("Starting metrics server on %s%s", addr, path)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Metrics server stopped: %v", err)
		}
	}()
	return srv
}
