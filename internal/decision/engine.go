// Package decision implements the pure 4-level-priority-ladder decision
// function: current metrics + budgets + modes + overrides -> an ordered
// list of control signals. No side effects; identical inputs must yield
// byte-identical outputs.
package decision

import (
	"sort"
	"sync"

	"github.com/adaptivecontrol/controlplane/internal/budget"
	"github.com/adaptivecontrol/controlplane/internal/config"
	"github.com/adaptivecontrol/controlplane/internal/signals"
)

const (
	modeEnforce      = "enforce"
	modeShadow       = "shadow"
	modeAccepting    = "accepting"
	modeBackpressure = "backpressure"
)

// OverrideFn reports whether an override (killswitch or manual) is active
// for the given subsystem. Must be side-effect-free and fast.
type OverrideFn func(subsystemID string) bool

// Engine is the pure decision function, parameterized by config, allowlist,
// and the two external override predicates. It also tracks the current
// guard/pdf mode so it can enforce monotonic-safe transitions — this is the
// one piece of state a "pure function" needs, mirroring the Python
// reference's property-backed guard_mode/pdf_mode fields.
type Engine struct {
	mu                    sync.RWMutex
	cfg                   *config.Ref
	allowlist             *config.AllowlistManager
	killswitchActive      OverrideFn
	manualOverrideActive  OverrideFn
	guardMode             string
	pdfMode               string
}

// New creates an Engine. cfg is an atomically-swappable reference so a
// config reload takes effect on the next Decide call without
// reconstructing the engine. Either override predicate may be nil, in
// which case it always reports false.
func New(cfg *config.Ref, allowlist *config.AllowlistManager, killswitchActive, manualOverrideActive OverrideFn) *Engine {
	if killswitchActive == nil {
		killswitchActive = func(string) bool { return false }
	}
	if manualOverrideActive == nil {
		manualOverrideActive = func(string) bool { return false }
	}
	return &Engine{
		cfg:                  cfg,
		allowlist:            allowlist,
		killswitchActive:     killswitchActive,
		manualOverrideActive: manualOverrideActive,
		guardMode:            modeEnforce,
		pdfMode:              modeAccepting,
	}
}

// GuardMode returns the engine's current view of the guard subsystem mode.
func (e *Engine) GuardMode() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.guardMode
}

// SetGuardMode updates the engine's view of the guard subsystem mode. Called
// by the controller after a successful apply.
func (e *Engine) SetGuardMode(mode string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.guardMode = mode
}

// PDFMode returns the engine's current view of the pdf subsystem mode.
func (e *Engine) PDFMode() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pdfMode
}

// SetPDFMode updates the engine's view of the pdf subsystem mode.
func (e *Engine) SetPDFMode(mode string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pdfMode = mode
}

// Decide produces control signals for the current metrics. p95Latency and
// queueDepth are nil when no reduction could be computed (empty sample
// window) — in that case the corresponding subsystem's metric-driven logic
// is skipped, matching the reference's None-handling.
func (e *Engine) Decide(p95Latency *float64, queueDepth *int, budgetStatuses []budget.Status, nowMs int64) []signals.ControlSignal {
	cfg := e.cfg.Load()

	e.mu.RLock()
	guardMode, pdfMode := e.guardMode, e.pdfMode
	e.mu.RUnlock()

	var out []signals.ControlSignal
	correlationID := signals.NewCorrelationID()

	if !e.killswitchActive("guard") && !e.manualOverrideActive("guard") {
		if s := e.evaluateGuard(cfg, p95Latency, guardMode, correlationID, nowMs); s != nil {
			out = append(out, *s)
		}
	}

	if !e.killswitchActive("pdf") && !e.manualOverrideActive("pdf") {
		if s := e.evaluatePDF(cfg, queueDepth, pdfMode, correlationID, nowMs); s != nil {
			out = append(out, *s)
		}
	}

	for _, status := range budgetStatuses {
		if e.killswitchActive(status.SubsystemID) || e.manualOverrideActive(status.SubsystemID) {
			continue
		}
		if !status.IsBurnRateExceeded && !status.IsExhausted {
			continue
		}
		if s := e.evaluateBudgetTrigger(cfg, status, guardMode, pdfMode, correlationID, nowMs); s != nil {
			out = append(out, *s)
		}
	}

	return applyTieBreaker(out)
}

func (e *Engine) evaluateGuard(cfg *config.AdaptiveControlConfig, p95Latency *float64, guardMode, correlationID string, nowMs int64) *signals.ControlSignal {
	if p95Latency == nil {
		return nil
	}
	if !e.allowlist.IsInScope("*", "*", "guard") {
		return nil
	}

	switch {
	case guardMode == modeEnforce && *p95Latency > cfg.P95LatencyEnterThreshold:
		return &signals.ControlSignal{
			SignalType:    signals.SwitchToShadow,
			SubsystemID:   "guard",
			MetricName:    "p95_latency",
			TenantID:      "*",
			TriggerValue:  *p95Latency,
			Threshold:     cfg.P95LatencyEnterThreshold,
			Priority:      signals.AdaptiveControl,
			CorrelationID: correlationID,
			TimestampMs:   nowMs,
		}
	case guardMode == modeShadow && *p95Latency < cfg.P95LatencyExitThreshold:
		return &signals.ControlSignal{
			SignalType:    signals.RestoreEnforce,
			SubsystemID:   "guard",
			MetricName:    "p95_latency",
			TenantID:      "*",
			TriggerValue:  *p95Latency,
			Threshold:     cfg.P95LatencyExitThreshold,
			Priority:      signals.AdaptiveControl,
			CorrelationID: correlationID,
			TimestampMs:   nowMs,
		}
	}
	return nil
}

func (e *Engine) evaluatePDF(cfg *config.AdaptiveControlConfig, queueDepth *int, pdfMode, correlationID string, nowMs int64) *signals.ControlSignal {
	if queueDepth == nil {
		return nil
	}
	if !e.allowlist.IsInScope("*", "*", "pdf") {
		return nil
	}

	switch {
	case pdfMode == modeAccepting && *queueDepth > cfg.QueueDepthEnterThreshold:
		return &signals.ControlSignal{
			SignalType:    signals.StopAcceptingJobs,
			SubsystemID:   "pdf",
			MetricName:    "queue_depth",
			TenantID:      "*",
			TriggerValue:  float64(*queueDepth),
			Threshold:     float64(cfg.QueueDepthEnterThreshold),
			Priority:      signals.AdaptiveControl,
			CorrelationID: correlationID,
			TimestampMs:   nowMs,
		}
	case pdfMode == modeBackpressure && *queueDepth < cfg.QueueDepthExitThreshold:
		return &signals.ControlSignal{
			SignalType:    signals.ResumeAcceptingJobs,
			SubsystemID:   "pdf",
			MetricName:    "queue_depth",
			TenantID:      "*",
			TriggerValue:  float64(*queueDepth),
			Threshold:     float64(cfg.QueueDepthExitThreshold),
			Priority:      signals.AdaptiveControl,
			CorrelationID: correlationID,
			TimestampMs:   nowMs,
		}
	}
	return nil
}

func (e *Engine) evaluateBudgetTrigger(cfg *config.AdaptiveControlConfig, status budget.Status, guardMode, pdfMode, correlationID string, nowMs int64) *signals.ControlSignal {
	if !e.allowlist.IsInScope("*", "*", status.SubsystemID) {
		return nil
	}

	if status.SubsystemID == "guard" && guardMode == modeEnforce {
		return &signals.ControlSignal{
			SignalType:    signals.SwitchToShadow,
			SubsystemID:   "guard",
			MetricName:    status.Metric,
			TenantID:      "*",
			TriggerValue:  status.BurnRate,
			Threshold:     cfg.BurnRateThreshold,
			Priority:      signals.AdaptiveControl,
			CorrelationID: correlationID,
			TimestampMs:   nowMs,
		}
	}

	if status.SubsystemID == "pdf" && pdfMode == modeAccepting {
		return &signals.ControlSignal{
			SignalType:    signals.StopAcceptingJobs,
			SubsystemID:   "pdf",
			MetricName:    status.Metric,
			TenantID:      "*",
			TriggerValue:  status.BurnRate,
			Threshold:     cfg.BurnRateThreshold,
			Priority:      signals.AdaptiveControl,
			CorrelationID: correlationID,
			TimestampMs:   nowMs,
		}
	}

	return nil
}

// applyTieBreaker sorts by (priority, subsystemID, metricName, tenantID) for
// deterministic ordering.
func applyTieBreaker(sigs []signals.ControlSignal) []signals.ControlSignal {
	sort.SliceStable(sigs, func(i, j int) bool {
		a, b := sigs[i], sigs[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if a.SubsystemID != b.SubsystemID {
			return a.SubsystemID < b.SubsystemID
		}
		if a.MetricName != b.MetricName {
			return a.MetricName < b.MetricName
		}
		return a.TenantID < b.TenantID
	})
	return sigs
}
