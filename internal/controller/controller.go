// Package controller implements the AdaptiveController orchestrator: the
// side-effect boundary where signals produced by the pure decision/
// hysteresis pipeline are actually applied to subsystems.
//
// Tick wraps tickInner in a recover-based fail-safe boundary, preserving
// current subsystem modes on any panic rather than raising.
// The non-reentrant tick mutex and the worker/logging idiom follow the
// daemon's main loop shape.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adaptivecontrol/controlplane/contrib"
	"github.com/adaptivecontrol/controlplane/internal/budget"
	"github.com/adaptivecontrol/controlplane/internal/config"
	"github.com/adaptivecontrol/controlplane/internal/decision"
	"github.com/adaptivecontrol/controlplane/internal/hysteresis"
	"github.com/adaptivecontrol/controlplane/internal/signals"
	"github.com/adaptivecontrol/controlplane/internal/sufficiency"
	"github.com/adaptivecontrol/controlplane/internal/telemetry"
)

// State is the controller lifecycle state.
type State string

const (
	StateRunning   State = "running"
	StateFailsafe  State = "failsafe"
	StateSuspended State = "suspended"
)

// GuardModeSetter and PDFBackpressureSetter are the subsystem callback
// types invoked from applySignal, the controller's sole side-effect
// boundary. Callers supply these to wire real subsystems; nil callbacks
// are treated as best-effort no-ops.
type GuardModeSetter func(ctx context.Context, mode string) error
type PDFBackpressureSetter func(ctx context.Context, backpressure bool) error

// Controller orchestrates one control loop tick end to end.
type Controller struct {
	log *zap.Logger

	cfg       *config.Ref
	metrics   *telemetry.Collector
	budget    *budget.Calculator
	decision  *decision.Engine
	hysteresis *hysteresis.Filter
	sufficiency *sufficiency.Checker
	reducer     contrib.Reducer

	guardModeSetter       GuardModeSetter
	pdfBackpressureSetter PDFBackpressureSetter

	onAppliedSignal func(sig signals.ControlSignal, previousMode, newMode string)
	onFailsafe      func(reason, exceptionType, guardMode, pdfMode, correlationID string, nowMs int64)
	onOscillation   func(subsystemID string)

	tickMu sync.Mutex

	mu              sync.RWMutex
	state           State
	failsafeReason  string
	failsafeEntered *int64
	appliedSignals  []signals.ControlSignal
}

// Config bundles the dependencies New needs; kept as a struct rather than
// a long positional parameter list because several fields are optional
// callbacks.
type Config struct {
	Log *zap.Logger
	// AdaptiveControlConfig is an atomically-swappable config reference;
	// Tick loads a fresh snapshot at the start of every tick, so a reload
	// (e.g. via SIGHUP) takes effect on the next tick without restarting
	// the controller.
	AdaptiveControlConfig *config.Ref
	Metrics               *telemetry.Collector
	Budget                *budget.Calculator
	Decision              *decision.Engine
	Hysteresis            *hysteresis.Filter
	Sufficiency           *sufficiency.Checker
	// Reducer collapses a sample window into p95-latency/queue-depth
	// values. Nil falls back to contrib's "max" reducer.
	Reducer               contrib.Reducer
	GuardModeSetter       GuardModeSetter
	PDFBackpressureSetter PDFBackpressureSetter

	// OnAppliedSignal, OnFailsafe, and OnOscillation are optional audit
	// hooks invoked at the corresponding points in Tick. Kept as plain
	// funcs (rather than requiring the audit package directly) so
	// controller has no import-cycle risk with audit's future consumers.
	OnAppliedSignal func(sig signals.ControlSignal, previousMode, newMode string)
	OnFailsafe      func(reason, exceptionType, guardMode, pdfMode, correlationID string, nowMs int64)
	OnOscillation   func(subsystemID string)
}

// New creates a Controller in the Running state.
func New(c Config) *Controller {
	log := c.Log
	if log == nil {
		log = zap.NewNop()
	}
	reducer := c.Reducer
	if reducer == nil {
		reducer, _ = contrib.GetReducer("max")
	}
	return &Controller{
		log:                   log,
		cfg:                   c.AdaptiveControlConfig,
		metrics:               c.Metrics,
		budget:                c.Budget,
		decision:              c.Decision,
		hysteresis:            c.Hysteresis,
		sufficiency:           c.Sufficiency,
		reducer:               reducer,
		guardModeSetter:       c.GuardModeSetter,
		pdfBackpressureSetter: c.PDFBackpressureSetter,
		onAppliedSignal:       c.OnAppliedSignal,
		onFailsafe:            c.OnFailsafe,
		onOscillation:         c.OnOscillation,
		state:                 StateRunning,
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// FailsafeReason returns the reason the controller last entered FAILSAFE,
// or "" if it never has.
func (c *Controller) FailsafeReason() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.failsafeReason
}

// AppliedSignals returns a copy of all signals ever applied, for audit and
// testing.
func (c *Controller) AppliedSignals() []signals.ControlSignal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]signals.ControlSignal(nil), c.appliedSignals...)
}

// Tick runs one control loop iteration. Returns the signals actually
// applied; an empty slice means no action was taken. Side effects happen
// only inside applySignal. Tick is non-reentrant: concurrent calls block
// on each other rather than interleave.
func (c *Controller) Tick(ctx context.Context, nowMs int64) []signals.ControlSignal {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	applied, err := c.tickInner(ctx, nowMs)
	if err != nil {
		c.enterFailsafe(err.Error(), "error", nowMs)
		return nil
	}
	return applied
}

func (c *Controller) tickInner(ctx context.Context, nowMs int64) (applied []signals.ControlSignal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in tick: %v", r)
		}
	}()

	cfg := c.cfg.Load()

	if drift := config.CheckConfigDrift(cfg); drift != nil {
		c.log.Warn("adaptive_control: config drift detected, skipping tick", zap.Error(drift))
		return nil, nil
	}

	windowMs := int64(cfg.ControlLoopIntervalSeconds * 1000)
	windowStart := nowMs - windowMs
	samples := c.metrics.GetAllSamples(windowStart, nowMs)
	health := c.metrics.CheckHealth(nowMs)

	result := c.sufficiency.Check(samples, health, 10)
	if !result.IsSufficient {
		c.log.Info("adaptive_control: telemetry insufficient, no-op",
			zap.String("reason", result.Reason))

		allStale := len(health) > 0
		for _, h := range health {
			if !h.IsStale {
				allStale = false
				break
			}
		}
		if allStale {
			c.mu.Lock()
			c.state = StateSuspended
			c.mu.Unlock()
			c.log.Warn("adaptive_control: all telemetry sources stale, SUSPENDED")
		}
		return nil, nil
	}

	c.mu.Lock()
	if c.state == StateFailsafe || c.state == StateSuspended {
		c.log.Info("adaptive_control: recovering to RUNNING", zap.String("from", string(c.state)))
		c.state = StateRunning
		c.failsafeReason = ""
	}
	c.mu.Unlock()

	reduction := c.reducer.Reduce(samples)
	p95Latency := reduction.P95Latency
	queueDepth := reduction.QueueDepth
	budgetStatuses := c.budget.Evaluate(samples, nowMs)

	rawSignals := c.decision.Decide(p95Latency, queueDepth, budgetStatuses, nowMs)
	filtered := c.hysteresis.Apply(rawSignals, nowMs)

	callbackTimeout := time.Duration(cfg.CallbackTimeoutSeconds * float64(time.Second))
	for _, sig := range filtered {
		previousMode := c.modeFor(sig.SubsystemID)
		if c.applySignal(ctx, sig, callbackTimeout) {
			newMode := c.modeFor(sig.SubsystemID)
			c.hysteresis.RecordTransition(sig.SubsystemID, nowMs)
			applied = append(applied, sig)
			if c.onAppliedSignal != nil {
				c.onAppliedSignal(sig, previousMode, newMode)
			}
			if c.hysteresis.DetectOscillation(sig.SubsystemID) {
				c.log.Warn("adaptive_control: oscillation detected", zap.String("subsystem_id", sig.SubsystemID))
				if c.onOscillation != nil {
					c.onOscillation(sig.SubsystemID)
				}
			}
		}
	}

	c.mu.Lock()
	c.appliedSignals = append(c.appliedSignals, applied...)
	c.mu.Unlock()

	return applied, nil
}

func (c *Controller) modeFor(subsystemID string) string {
	switch subsystemID {
	case "guard":
		return c.decision.GuardMode()
	case "pdf":
		return c.decision.PDFMode()
	default:
		return ""
	}
}

// applySignal is the controller's sole side-effect boundary:
// the only place subsystem state changes. Every other path above is
// read-only. Returns true if the signal was applied successfully.
func (c *Controller) applySignal(ctx context.Context, sig signals.ControlSignal, callbackTimeout time.Duration) bool {
	cbCtx, cancel := context.WithTimeout(ctx, callbackTimeout)
	defer cancel()

	switch sig.SignalType {
	case signals.SwitchToShadow:
		if c.guardModeSetter != nil {
			if err := c.guardModeSetter(cbCtx, "shadow"); err != nil {
				c.log.Error("adaptive_control: guard_mode_setter failed", zap.Error(err))
				return false
			}
		}
		c.decision.SetGuardMode("shadow")
		c.log.Info("adaptive_control: guard mode -> shadow",
			zap.Float64("trigger_value", sig.TriggerValue), zap.Float64("threshold", sig.Threshold))
		return true

	case signals.RestoreEnforce:
		if c.guardModeSetter != nil {
			if err := c.guardModeSetter(cbCtx, "enforce"); err != nil {
				c.log.Error("adaptive_control: guard_mode_setter failed", zap.Error(err))
				return false
			}
		}
		c.decision.SetGuardMode("enforce")
		c.log.Info("adaptive_control: guard mode -> enforce",
			zap.Float64("trigger_value", sig.TriggerValue), zap.Float64("threshold", sig.Threshold))
		return true

	case signals.StopAcceptingJobs:
		if c.pdfBackpressureSetter != nil {
			if err := c.pdfBackpressureSetter(cbCtx, true); err != nil {
				c.log.Error("adaptive_control: pdf_backpressure_setter failed", zap.Error(err))
				return false
			}
		}
		c.decision.SetPDFMode("backpressure")
		c.log.Info("adaptive_control: pdf -> backpressure",
			zap.Float64("trigger_value", sig.TriggerValue), zap.Float64("threshold", sig.Threshold))
		return true

	case signals.ResumeAcceptingJobs:
		if c.pdfBackpressureSetter != nil {
			if err := c.pdfBackpressureSetter(cbCtx, false); err != nil {
				c.log.Error("adaptive_control: pdf_backpressure_setter failed", zap.Error(err))
				return false
			}
		}
		c.decision.SetPDFMode("accepting")
		c.log.Info("adaptive_control: pdf -> accepting",
			zap.Float64("trigger_value", sig.TriggerValue), zap.Float64("threshold", sig.Threshold))
		return true
	}

	return false
}

func (c *Controller) enterFailsafe(reason, exceptionType string, nowMs int64) {
	c.mu.Lock()
	c.state = StateFailsafe
	c.failsafeReason = reason
	t := nowMs
	c.failsafeEntered = &t
	guardMode, pdfMode := c.decision.GuardMode(), c.decision.PDFMode()
	c.mu.Unlock()

	c.log.Error("adaptive_control: FAILSAFE entered, current modes preserved",
		zap.String("reason", reason))

	if c.onFailsafe != nil {
		c.onFailsafe(reason, exceptionType, guardMode, pdfMode, signals.NewCorrelationID(), nowMs)
	}
}

