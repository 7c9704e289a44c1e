// Package budget evaluates rolling-window error budgets and burn rates per
// subsystem/metric.
//
// A Calculator guards its configuration behind a mutex, bumping a
// monotonically increasing version counter on each update; evaluation
// itself is a rolling-window ratio, not a refillable counter.
package budget

import (
	"math"
	"sync"

	"github.com/adaptivecontrol/controlplane/internal/telemetry"
)

// Config is one error-budget definition for a (subsystem, metric) pair.
type Config struct {
	SubsystemID       string
	Metric            string
	WindowSeconds     int64
	SLOTarget         float64
	BurnRateThreshold float64
}

// DefaultConfig returns a Config with documented defaults for everything
// except SubsystemID/Metric, which the caller must set.
func DefaultConfig(subsystemID, metric string) Config {
	return Config{
		SubsystemID:       subsystemID,
		Metric:            metric,
		WindowSeconds:     30 * 86400,
		SLOTarget:         0.999,
		BurnRateThreshold: 1.0,
	}
}

// Status is the result of evaluating one Config against a sample window.
type Status struct {
	SubsystemID         string
	Metric              string
	BudgetTotal         float64
	BudgetConsumed      float64
	BudgetRemainingPct  float64
	BurnRate            float64
	IsExhausted         bool
	IsBurnRateExceeded  bool
}

// UpdateAudit is the audit record produced by UpdateConfigs.
type UpdateAudit struct {
	Action     string
	OldVersion int
	NewVersion int
	Actor      string
	ConfigCount int
}

// Calculator evaluates a set of budget Configs against metric samples.
// The only way to reset a budget is an explicit UpdateConfigs call with a
// new version; organic sample aging through the rolling window is not a
// "reset".
type Calculator struct {
	mu      sync.RWMutex
	configs []Config
	version int
}

// NewCalculator creates a Calculator with an initial config set.
func NewCalculator(configs []Config) *Calculator {
	return &Calculator{configs: append([]Config(nil), configs...)}
}

// Configs returns a copy of the current config set.
func (c *Calculator) Configs() []Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Config(nil), c.configs...)
}

// UpdateConfigs atomically replaces the config set, bumps the version, and
// returns an audit record of the change.
func (c *Calculator) UpdateConfigs(newConfigs []Config, actor string) UpdateAudit {
	c.mu.Lock()
	defer c.mu.Unlock()
	oldVersion := c.version
	c.version++
	c.configs = append([]Config(nil), newConfigs...)
	return UpdateAudit{
		Action:      "budget_config_update",
		OldVersion:  oldVersion,
		NewVersion:  c.version,
		Actor:       actor,
		ConfigCount: len(c.configs),
	}
}

// Evaluate produces one Status per configured budget, given the full
// sample set and the current time.
func (c *Calculator) Evaluate(samples []telemetry.MetricSample, nowMs int64) []Status {
	configs := c.Configs()
	statuses := make([]Status, 0, len(configs))
	for _, cfg := range configs {
		statuses = append(statuses, evaluateSingle(cfg, samples, nowMs))
	}
	return statuses
}

func evaluateSingle(cfg Config, samples []telemetry.MetricSample, nowMs int64) Status {
	windowStartMs := nowMs - cfg.WindowSeconds*1000
	var inWindow []telemetry.MetricSample
	for _, s := range samples {
		if s.TimestampMs >= windowStartMs && s.TimestampMs <= nowMs {
			inWindow = append(inWindow, s)
		}
	}

	status := Status{SubsystemID: cfg.SubsystemID, Metric: cfg.Metric}

	if len(inWindow) == 0 {
		status.BudgetRemainingPct = 100.0
		return status
	}

	var totalRequests, totalErrors int64
	for _, s := range inWindow {
		totalRequests += s.TotalRequests
		totalErrors += s.TotalRequests - s.SuccessfulRequests
	}

	windowDurationS := float64(cfg.WindowSeconds)
	var requestRate float64
	if windowDurationS > 0 {
		requestRate = float64(totalRequests) / windowDurationS
	}

	errorFraction := 1.0 - cfg.SLOTarget
	budgetTotal := errorFraction * windowDurationS * requestRate
	budgetConsumed := float64(totalErrors)

	status.BudgetTotal = budgetTotal
	status.BudgetConsumed = budgetConsumed

	switch {
	case budgetTotal > 0:
		status.BudgetRemainingPct = math.Max(0.0, (1.0-budgetConsumed/budgetTotal)*100.0)
		status.BurnRate = budgetConsumed / budgetTotal
	case budgetConsumed > 0:
		status.BudgetRemainingPct = 0.0
		status.BurnRate = math.Inf(1)
	default:
		status.BudgetRemainingPct = 100.0
		status.BurnRate = 0.0
	}

	status.IsExhausted = status.BudgetRemainingPct <= 0.0
	status.IsBurnRateExceeded = status.BurnRate > cfg.BurnRateThreshold

	return status
}
