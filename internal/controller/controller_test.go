package controller

import (
	"context"
	"errors"
	"testing"

	"github.com/adaptivecontrol/controlplane/contrib"
	"github.com/adaptivecontrol/controlplane/internal/budget"
	"github.com/adaptivecontrol/controlplane/internal/config"
	"github.com/adaptivecontrol/controlplane/internal/decision"
	"github.com/adaptivecontrol/controlplane/internal/hysteresis"
	"github.com/adaptivecontrol/controlplane/internal/signals"
	"github.com/adaptivecontrol/controlplane/internal/sufficiency"
	"github.com/adaptivecontrol/controlplane/internal/telemetry"
)

func wildcardAllowlist() *config.AllowlistManager {
	return config.NewAllowlistManager([]config.AllowlistEntry{{TenantID: "*", EndpointClass: "*", SubsystemID: "*"}})
}

func testConfig() *config.AdaptiveControlConfig {
	c := config.Defaults()
	c.ControlLoopIntervalSeconds = 30
	c.MinSampleRatio = 0
	c.MinBucketCoveragePct = 0
	return &c
}

type harness struct {
	ctrl        *Controller
	metrics     *telemetry.Collector
	budgetCalc  *budget.Calculator
	decisionEng *decision.Engine
	hystFilter  *hysteresis.Filter

	guardCalls []string
	pdfCalls   []bool
	guardErr   error
	pdfErr     error
}

func newHarness(t *testing.T, cfg *config.AdaptiveControlConfig) *harness {
	return newHarnessWithReducer(t, cfg, nil)
}

func newHarnessWithReducer(t *testing.T, cfg *config.AdaptiveControlConfig, reducer contrib.Reducer) *harness {
	t.Helper()
	h := &harness{}
	h.metrics = telemetry.NewCollector(60_000)
	h.budgetCalc = budget.NewCalculator([]budget.Config{
		budget.DefaultConfig("guard", "errors"),
		budget.DefaultConfig("pdf", "errors"),
	})
	cfgRef := config.NewRef(cfg)
	h.decisionEng = decision.New(cfgRef, wildcardAllowlist(),
		func(string) bool { return false },
		func(string) bool { return false },
	)
	h.hystFilter = hysteresis.New(nil, int64(cfg.DwellTimeSeconds*1000), int64(cfg.CooldownPeriodSeconds*1000),
		cfg.OscillationWindowSize, cfg.OscillationMaxTransitions)
	minSamples := 1
	if cfg.MinSampleRatio > 1 {
		minSamples = int(cfg.MinSampleRatio)
	}
	suff := sufficiency.New(sufficiency.Config{
		MinSamples:           minSamples,
		MinBucketCoveragePct: cfg.MinBucketCoveragePct,
		CheckSourceStale:     true,
	})

	h.ctrl = New(Config{
		AdaptiveControlConfig: cfgRef,
		Metrics:               h.metrics,
		Budget:                h.budgetCalc,
		Decision:              h.decisionEng,
		Hysteresis:            h.hystFilter,
		Sufficiency:           suff,
		Reducer:               reducer,
		GuardModeSetter: func(ctx context.Context, mode string) error {
			h.guardCalls = append(h.guardCalls, mode)
			return h.guardErr
		},
		PDFBackpressureSetter: func(ctx context.Context, bp bool) error {
			h.pdfCalls = append(h.pdfCalls, bp)
			return h.pdfErr
		},
	})
	return h
}

func ingestSteady(h *harness, source string, nowMs int64, p99 float64, total int64) {
	h.metrics.Ingest(source, telemetry.MetricSample{
		TimestampMs:        nowMs,
		TotalRequests:      total,
		SuccessfulRequests: total,
		LatencyP99Seconds:  p99,
	})
}

func TestTick_AppliesSignalOnBreach(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg)

	now := int64(100_000)
	ingestSteady(h, "guard-src", now, 0.9, 10)

	applied := h.ctrl.Tick(context.Background(), now)
	if len(applied) != 1 || applied[0].SignalType != signals.SwitchToShadow {
		t.Fatalf("expected a switch_to_shadow signal applied, got %+v", applied)
	}
	if len(h.guardCalls) != 1 || h.guardCalls[0] != "shadow" {
		t.Fatalf("expected guard_mode_setter called with shadow, got %v", h.guardCalls)
	}
	if h.ctrl.State() != StateRunning {
		t.Fatalf("expected controller to remain RUNNING, got %s", h.ctrl.State())
	}
}

func TestTick_NoSignalWhenBelowThreshold(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg)

	now := int64(100_000)
	ingestSteady(h, "guard-src", now, 0.1, 10)

	applied := h.ctrl.Tick(context.Background(), now)
	if len(applied) != 0 {
		t.Fatalf("expected no signals below threshold, got %+v", applied)
	}
}

func TestTick_InsufficientTelemetrySkipsDecision(t *testing.T) {
	cfg := testConfig()
	cfg.MinSampleRatio = 0.8
	cfg.MinBucketCoveragePct = 80
	h := newHarness(t, cfg)

	// No samples ingested at all: insufficient, no-op.
	applied := h.ctrl.Tick(context.Background(), 100_000)
	if len(applied) != 0 {
		t.Fatalf("expected no-op on empty telemetry, got %+v", applied)
	}
	if len(h.guardCalls) != 0 {
		t.Fatal("expected no side effects when telemetry is insufficient")
	}
}

func TestTick_AllStaleSourcesSuspendsController(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg)

	// Ingest a sample far in the past so CheckHealth reports it stale.
	ingestSteady(h, "guard-src", 0, 0.1, 100)

	h.ctrl.Tick(context.Background(), 10_000_000)
	if h.ctrl.State() != StateSuspended {
		t.Fatalf("expected SUSPENDED after all sources go stale, got %s", h.ctrl.State())
	}
}

func TestTick_ConfigDriftSkipsTick(t *testing.T) {
	cfg := testConfig()
	cfg.GuardSLOQuery = "not-the-canonical-query"
	h := newHarness(t, cfg)

	ingestSteady(h, "guard-src", 100_000, 0.9, 100)
	applied := h.ctrl.Tick(context.Background(), 100_000)
	if len(applied) != 0 {
		t.Fatalf("expected config drift to skip the tick entirely, got %+v", applied)
	}
	if h.ctrl.State() != StateRunning {
		t.Fatalf("config drift should not itself trigger failsafe, got %s", h.ctrl.State())
	}
}

func TestTick_GuardCallbackFailureIsNotApplied(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg)
	h.guardErr = errors.New("setter unavailable")

	ingestSteady(h, "guard-src", 100_000, 0.9, 10)
	applied := h.ctrl.Tick(context.Background(), 100_000)
	if len(applied) != 0 {
		t.Fatalf("expected no signal recorded as applied when the setter fails, got %+v", applied)
	}
	if h.decisionEng.GuardMode() != "enforce" {
		t.Fatalf("expected guard mode unchanged on setter failure, got %s", h.decisionEng.GuardMode())
	}
}

func TestTick_RecoversFromFailsafeOnNextSuccessfulTick(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg)

	// Force a panic path by ingesting no samples then manually driving
	// enterFailsafe to simulate a prior panic recovery.
	h.ctrl.enterFailsafe("synthetic failure", "test", 1000)
	if h.ctrl.State() != StateFailsafe {
		t.Fatalf("expected FAILSAFE after enterFailsafe, got %s", h.ctrl.State())
	}

	ingestSteady(h, "guard-src", 100_000, 0.1, 100)
	h.ctrl.Tick(context.Background(), 100_000)
	if h.ctrl.State() != StateRunning {
		t.Fatalf("expected recovery to RUNNING on next sufficient tick, got %s", h.ctrl.State())
	}
	if h.ctrl.FailsafeReason() != "" {
		t.Fatalf("expected failsafe reason cleared on recovery, got %q", h.ctrl.FailsafeReason())
	}
}

func TestNew_DefaultsToMaxReducer(t *testing.T) {
	cfg := testConfig()
	h := newHarnessWithReducer(t, cfg, nil)

	now := int64(100_000)
	ingestSteady(h, "guard-src", now, 0.2, 10)
	h.metrics.Ingest("guard-src", telemetry.MetricSample{
		TimestampMs: now, TotalRequests: 10, SuccessfulRequests: 10, LatencyP99Seconds: 0.9,
	})

	applied := h.ctrl.Tick(context.Background(), now)
	if len(applied) != 1 || applied[0].SignalType != signals.SwitchToShadow {
		t.Fatalf("expected max-reducer to surface the 0.9 peak and trigger a breach signal, got %+v", applied)
	}
}

type fixedReducer struct {
	reduction contrib.Reduction
}

func (f fixedReducer) Name() string { return "fixed" }

func (f fixedReducer) Reduce(samples []telemetry.MetricSample) contrib.Reduction {
	return f.reduction
}

func TestTick_UsesConfiguredReducer(t *testing.T) {
	cfg := testConfig()
	latency := 0.9
	depth := 1
	h := newHarnessWithReducer(t, cfg, fixedReducer{reduction: contrib.Reduction{P95Latency: &latency, QueueDepth: &depth}})

	now := int64(100_000)
	// Raw samples are well under threshold; only the injected reducer's
	// fixed 0.9 latency should be able to trigger the breach signal.
	ingestSteady(h, "guard-src", now, 0.1, 10)

	applied := h.ctrl.Tick(context.Background(), now)
	if len(applied) != 1 || applied[0].SignalType != signals.SwitchToShadow {
		t.Fatalf("expected the configured reducer's output to drive the decision, got %+v", applied)
	}
}

func TestAppliedSignals_ReturnsDefensiveCopy(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg)
	ingestSteady(h, "guard-src", 100_000, 0.9, 10)
	h.ctrl.Tick(context.Background(), 100_000)

	sigs := h.ctrl.AppliedSignals()
	if len(sigs) != 1 {
		t.Fatalf("expected one applied signal recorded, got %d", len(sigs))
	}
	sigs[0].SubsystemID = "mutated"
	if h.ctrl.AppliedSignals()[0].SubsystemID == "mutated" {
		t.Error("AppliedSignals must return a defensive copy")
	}
}
