package monitoring

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ticket-inventory/internal/status"
)

var (
	ticketTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_transitions_total",
			Help: "Ticket state transitions by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	transitionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ticket_transition_duration_seconds",
			Help:    "Duration of ticket transitions including the store commit",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"operation"},
	)

	provisioningBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_provisioning_batches_total",
			Help: "Ticket provisioning batches by outcome",
		},
		[]string{"outcome"},
	)

	ticketsProvisioned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tickets_provisioned_total",
			Help: "Tickets written by provisioning",
		},
	)

	holdsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticket_holds_swept_total",
			Help: "Expired holds reverted by the sweeper",
		},
	)

	intentsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchase_intents_total",
			Help: "Purchase intents consumed by result",
		},
		[]string{"result"},
	)

	activeHolds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ticket_holds_active",
			Help: "Holds currently indexed for expiry",
		},
	)

	pendingProvisioning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "events_provisioning_pending",
			Help: "Events whose ticket provisioning has not completed",
		},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	goroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_goroutines_total",
			Help: "Current number of active goroutines",
		},
	)
)

// Outcome maps an engine error onto a metric label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, status.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, status.ErrNotFound):
		return "not_found"
	case errors.Is(err, status.ErrHoldExpired):
		return "expired"
	case errors.Is(err, status.ErrConflict):
		return "conflict"
	}
	return "error"
}

func TrackTransition(operation string, err error, d time.Duration) {
	ticketTransitions.WithLabelValues(operation, Outcome(err)).Inc()
	transitionDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func TrackProvisioningBatch(size int, err error) {
	if err != nil {
		provisioningBatches.WithLabelValues("failed").Inc()
		return
	}
	provisioningBatches.WithLabelValues("ok").Inc()
	ticketsProvisioned.Add(float64(size))
}

func TrackSweep(released int) {
	holdsSwept.Add(float64(released))
}

func TrackIntent(result string) {
	intentsProcessed.WithLabelValues(result).Inc()
}

// TrackBreakerState records a breaker state given as its numeric value.
func TrackBreakerState(name string, state int) {
	breakerState.WithLabelValues(name).Set(float64(state))
}

// InventoryStats is what the monitor samples on every tick.
type InventoryStats interface {
	ActiveHolds(ctx context.Context) (int64, error)
	PendingProvisioning(ctx context.Context) (int64, error)
}

type Monitor struct {
	stats    InventoryStats
	interval time.Duration
}

func NewMonitor(stats InventoryStats, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{stats: stats, interval: interval}
}

// Run samples gauges until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.collect(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.collect(ctx)
		}
	}
}

func (m *Monitor) collect(ctx context.Context) {
	if n, err := m.stats.ActiveHolds(ctx); err != nil {
		slog.Warn("Failed to sample active holds", "error", err)
	} else {
		activeHolds.Set(float64(n))
	}

	if n, err := m.stats.PendingProvisioning(ctx); err != nil {
		slog.Warn("Failed to sample pending provisioning", "error", err)
	} else {
		pendingProvisioning.Set(float64(n))
	}

	goroutineCount.Set(float64(runtime.NumGoroutine()))
}

// NewServer exposes the Prometheus registry on its own port.
func NewServer(port string) *http.Server {
	e := echo.New()
	e.Use(middleware.Recover())
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return &http.Server{
		Addr:              ":" + port,
		Handler:           e,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
