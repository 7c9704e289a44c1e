// Package observability — metrics.go
//
// Prometheus metrics for adaptivecontrold.
//
// Endpoint: GET /metrics (configurable, default :9090).
// Format: Prometheus text exposition format (OpenMetrics compatible).
//
// Metric naming convention: adaptive_control_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
//
// Cardinality control:
//   - subsystem_id is one of a small fixed set ("guard", "pdf", ...).
//   - tenant_id is NOT used as a label; per-tenant data is aggregated
//     before recording.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for adaptivecontrold.
type Metrics struct {
	registry *prometheus.Registry

	// SignalsTotal counts control signals applied to a subsystem; the daemon
	// increments it from the controller's applied-signal hook.
	// Labels: signal_type, subsystem_id
	SignalsTotal *prometheus.CounterVec

	// SignalsBlockedTotal counts signals blocked by the hysteresis filter.
	// Labels: subsystem_id, reason (dwell, cooldown)
	SignalsBlockedTotal *prometheus.CounterVec

	// TickDurationSeconds records Controller.Tick wall-clock latency.
	TickDurationSeconds prometheus.Histogram

	// ControllerState is a gauge encoding the controller lifecycle state
	// (0=running, 1=suspended, 2=failsafe).
	ControllerState prometheus.Gauge

	// FailsafeTotal counts fail-safe entries.
	FailsafeTotal prometheus.Counter

	// BudgetRemainingPct tracks remaining error budget per subsystem/metric.
	// Labels: subsystem_id, metric
	BudgetRemainingPct *prometheus.GaugeVec

	// OscillationDetectedTotal counts oscillation-flagged ticks per
	// subsystem.
	// Labels: subsystem_id
	OscillationDetectedTotal *prometheus.CounterVec

	// SufficiencyFailuresTotal counts ticks skipped for insufficient
	// telemetry.
	SufficiencyFailuresTotal prometheus.Counter

	// AuditEventsTotal counts control decision events appended to the
	// audit log.
	AuditEventsTotal prometheus.Counter

	// AuditWriteLatency records optional BoltDB audit-sink write latency.
	AuditWriteLatency prometheus.Histogram

	// AgentUptimeSeconds is the number of seconds since the daemon started.
	AgentUptimeSeconds prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates and registers all adaptivecontrold Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adaptive_control",
			Name:      "signals_total",
			Help:      "Total control signals applied to a subsystem.",
		}, []string{"signal_type", "subsystem_id"}),

		SignalsBlockedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adaptive_control",
			Name:      "signals_blocked_total",
			Help:      "Total signals blocked by the hysteresis filter, by reason.",
		}, []string{"subsystem_id", "reason"}),

		TickDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "adaptive_control",
			Name:      "tick_duration_seconds",
			Help:      "Wall-clock duration of a single control loop tick.",
			Buckets:   prometheus.DefBuckets,
		}),

		ControllerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "adaptive_control",
			Name:      "state",
			Help:      "Controller lifecycle state: 0=running, 1=suspended, 2=failsafe.",
		}),

		FailsafeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "adaptive_control",
			Name:      "failsafe_total",
			Help:      "Total fail-safe entries.",
		}),

		BudgetRemainingPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "adaptive_control",
			Name:      "budget_remaining_pct",
			Help:      "Remaining error budget percentage, by subsystem and metric.",
		}, []string{"subsystem_id", "metric"}),

		OscillationDetectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adaptive_control",
			Name:      "oscillation_detected_total",
			Help:      "Total ticks where oscillation was flagged for a subsystem.",
		}, []string{"subsystem_id"}),

		SufficiencyFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "adaptive_control",
			Name:      "sufficiency_failures_total",
			Help:      "Total ticks skipped for insufficient telemetry.",
		}),

		AuditEventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "adaptive_control",
			Name:      "audit_events_total",
			Help:      "Total control decision events appended to the audit log.",
		}),

		AuditWriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "adaptive_control",
			Name:      "audit_write_latency_seconds",
			Help:      "BoltDB audit sink write transaction latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		AgentUptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "adaptive_control",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the daemon started.",
		}),
	}

	reg.MustRegister(
		m.SignalsTotal,
		m.SignalsBlockedTotal,
		m.TickDurationSeconds,
		m.ControllerState,
		m.FailsafeTotal,
		m.BudgetRemainingPct,
		m.OscillationDetectedTotal,
		m.SufficiencyFailuresTotal,
		m.AuditEventsTotal,
		m.AuditWriteLatency,
		m.AgentUptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on the given address.
// Blocks until ctx is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.AgentUptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
