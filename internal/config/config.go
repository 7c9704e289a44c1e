// Package config holds the validated AdaptiveControlConfig, the
// AllowlistManager, and the environment-variable loader that produces both.
//
// Loading does per-field type conversion that falls back to the field's
// default (with a warning) on failure, followed by a single whole-config
// Validate() pass whose any-error result replaces the entire config with
// defaults — never a partial fallback.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Version, GitCommit, and BuildTime are overridden at build time via
// -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Canonical SLO query identifiers embedded in the core. If the
// configured value differs, CheckConfigDrift reports the mismatch and the
// controller skips ticks until it's reconciled.
const (
	CanonicalGuardSLOQuery = "slo:guard:p95_latency_seconds"
	CanonicalPDFSLOQuery   = "slo:pdf:queue_depth"
)

const envPrefix = "ADAPTIVE_CONTROL_"

// AllowlistEntry is an immutable (tenant_id, endpoint_class, subsystem_id)
// triple, each defaulting to wildcard "*".
type AllowlistEntry struct {
	TenantID      string `json:"tenant_id" yaml:"tenant_id"`
	EndpointClass string `json:"endpoint_class" yaml:"endpoint_class"`
	SubsystemID   string `json:"subsystem_id" yaml:"subsystem_id"`
}

// AdaptiveControlConfig is the full validated configuration snapshot.
// Replaced atomically on reload; an in-flight tick sees a consistent
// snapshot (callers hold it behind an atomic.Pointer, see
// internal/controller).
type AdaptiveControlConfig struct {
	ControlLoopIntervalSeconds float64
	P95LatencyEnterThreshold   float64
	P95LatencyExitThreshold    float64
	QueueDepthEnterThreshold   int
	QueueDepthExitThreshold    int
	BudgetWindowSeconds        int64
	GuardSLOTarget             float64
	PDFSLOTarget               float64
	BurnRateThreshold          float64
	DwellTimeSeconds           float64
	CooldownPeriodSeconds      float64
	OscillationWindowSize      int
	OscillationMaxTransitions  int
	MinSampleRatio             float64
	MinBucketCoveragePct       float64
	Targets                    []AllowlistEntry
	GuardSLOQuery              string
	PDFSLOQuery                string
	CallbackTimeoutSeconds     float64
	MetricsAddr                string
	OperatorSocketPath         string
	AuditDBPath                string
	AllowlistFilePath          string
	LogLevel                   string
	LogFormat                  string
	ReducerName                string
}

// Ref is an atomically-swappable pointer to a validated config snapshot.
// Reload (e.g. on SIGHUP) replaces the pointer via Store; readers call
// Load once and keep the returned snapshot for the duration of whatever
// operation they're performing (one tick, one Decide call), so a reload
// racing with an in-flight operation never tears individual field reads.
type Ref struct {
	ptr atomic.Pointer[AdaptiveControlConfig]
}

// NewRef creates a Ref holding the given initial config.
func NewRef(cfg *AdaptiveControlConfig) *Ref {
	r := &Ref{}
	r.ptr.Store(cfg)
	return r
}

// Load returns the current config snapshot.
func (r *Ref) Load() *AdaptiveControlConfig {
	return r.ptr.Load()
}

// Store atomically replaces the config snapshot.
func (r *Ref) Store(cfg *AdaptiveControlConfig) {
	r.ptr.Store(cfg)
}

// Defaults returns the documented default configuration.
func Defaults() AdaptiveControlConfig {
	return AdaptiveControlConfig{
		ControlLoopIntervalSeconds: 30.0,
		P95LatencyEnterThreshold:   0.5,
		P95LatencyExitThreshold:    0.3,
		QueueDepthEnterThreshold:   50,
		QueueDepthExitThreshold:    20,
		BudgetWindowSeconds:        2_592_000,
		GuardSLOTarget:             0.999,
		PDFSLOTarget:               0.999,
		BurnRateThreshold:          1.0,
		DwellTimeSeconds:           600.0,
		CooldownPeriodSeconds:      300.0,
		OscillationWindowSize:      10,
		OscillationMaxTransitions:  4,
		MinSampleRatio:             0.8,
		MinBucketCoveragePct:       80.0,
		Targets:                    nil,
		GuardSLOQuery:              CanonicalGuardSLOQuery,
		PDFSLOQuery:                CanonicalPDFSLOQuery,
		CallbackTimeoutSeconds:     1.0,
		MetricsAddr:                ":9090",
		OperatorSocketPath:         "/var/run/adaptive-control/operator.sock",
		AuditDBPath:                "",
		AllowlistFilePath:          "",
		LogLevel:                   "info",
		LogFormat:                  "json",
		ReducerName:                "max",
	}
}

// Validate returns every violation of a cross-field or per-field domain
// rule. A non-empty result means the whole config must fall back to
// Defaults() — never a partial fallback.
func (c AdaptiveControlConfig) Validate() []string {
	var errs []string

	if c.P95LatencyExitThreshold >= c.P95LatencyEnterThreshold {
		errs = append(errs, "p95_latency_exit must be < p95_latency_enter")
	}
	if c.QueueDepthExitThreshold >= c.QueueDepthEnterThreshold {
		errs = append(errs, "queue_depth_exit must be < queue_depth_enter")
	}

	if c.GuardSLOTarget <= 0 || c.GuardSLOTarget > 1 {
		errs = append(errs, "guard_slo_target must be in (0, 1]")
	}
	if c.PDFSLOTarget <= 0 || c.PDFSLOTarget > 1 {
		errs = append(errs, "pdf_slo_target must be in (0, 1]")
	}

	if c.ControlLoopIntervalSeconds <= 0 {
		errs = append(errs, "loop_interval must be > 0")
	}
	if c.DwellTimeSeconds <= 0 {
		errs = append(errs, "dwell_time must be > 0")
	}
	if c.CooldownPeriodSeconds <= 0 {
		errs = append(errs, "cooldown_period must be > 0")
	}
	if c.BudgetWindowSeconds <= 0 {
		errs = append(errs, "budget_window must be > 0")
	}
	if c.BurnRateThreshold <= 0 {
		errs = append(errs, "burn_rate_threshold must be > 0")
	}
	if c.P95LatencyEnterThreshold <= 0 {
		errs = append(errs, "p95_latency_enter must be > 0")
	}
	if c.P95LatencyExitThreshold <= 0 {
		errs = append(errs, "p95_latency_exit must be > 0")
	}
	if c.QueueDepthEnterThreshold <= 0 {
		errs = append(errs, "queue_depth_enter must be > 0")
	}
	if c.QueueDepthExitThreshold <= 0 {
		errs = append(errs, "queue_depth_exit must be > 0")
	}
	if c.OscillationWindowSize <= 0 {
		errs = append(errs, "oscillation_window must be > 0")
	}
	if c.OscillationMaxTransitions <= 0 {
		errs = append(errs, "oscillation_max_transitions must be > 0")
	}
	if c.MinSampleRatio <= 0 || c.MinSampleRatio > 1 {
		errs = append(errs, "min_sample_ratio must be in (0, 1]")
	}
	if c.MinBucketCoveragePct <= 0 || c.MinBucketCoveragePct > 100 {
		errs = append(errs, "min_bucket_coverage must be in (0, 100]")
	}
	if c.CallbackTimeoutSeconds <= 0 {
		errs = append(errs, "callback_timeout must be > 0")
	}

	return errs
}

// DriftError describes a canonical-SLO-query mismatch.
type DriftError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("config drift: %s expected %q, got %q", e.Field, e.Expected, e.Actual)
}

// CheckConfigDrift compares the configured canonical SLO query identifiers
// against the embedded canonical constants.
func CheckConfigDrift(c *AdaptiveControlConfig) error {
	if c.GuardSLOQuery != CanonicalGuardSLOQuery {
		return &DriftError{Field: "guard_slo_query", Expected: CanonicalGuardSLOQuery, Actual: c.GuardSLOQuery}
	}
	if c.PDFSLOQuery != CanonicalPDFSLOQuery {
		return &DriftError{Field: "pdf_slo_query", Expected: CanonicalPDFSLOQuery, Actual: c.PDFSLOQuery}
	}
	return nil
}

// Load reads AdaptiveControlConfig from the environment (prefix
// ADAPTIVE_CONTROL_), falling back per-field to the default on any
// conversion failure, and falling back wholesale to Defaults() if the
// resulting config fails Validate(). log may be nil (a nop logger is used).
func Load(log *zap.Logger) (AdaptiveControlConfig, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cfg := Defaults()

	cfg.ControlLoopIntervalSeconds = envFloat(log, "LOOP_INTERVAL", cfg.ControlLoopIntervalSeconds)
	cfg.P95LatencyEnterThreshold = envFloat(log, "P95_LATENCY_ENTER", cfg.P95LatencyEnterThreshold)
	cfg.P95LatencyExitThreshold = envFloat(log, "P95_LATENCY_EXIT", cfg.P95LatencyExitThreshold)
	cfg.QueueDepthEnterThreshold = envInt(log, "QUEUE_DEPTH_ENTER", cfg.QueueDepthEnterThreshold)
	cfg.QueueDepthExitThreshold = envInt(log, "QUEUE_DEPTH_EXIT", cfg.QueueDepthExitThreshold)
	cfg.BudgetWindowSeconds = envInt64(log, "BUDGET_WINDOW", cfg.BudgetWindowSeconds)
	cfg.GuardSLOTarget = envFloat(log, "GUARD_SLO_TARGET", cfg.GuardSLOTarget)
	cfg.PDFSLOTarget = envFloat(log, "PDF_SLO_TARGET", cfg.PDFSLOTarget)
	cfg.BurnRateThreshold = envFloat(log, "BURN_RATE_THRESHOLD", cfg.BurnRateThreshold)
	cfg.DwellTimeSeconds = envFloat(log, "DWELL_TIME", cfg.DwellTimeSeconds)
	cfg.CooldownPeriodSeconds = envFloat(log, "COOLDOWN_PERIOD", cfg.CooldownPeriodSeconds)
	cfg.OscillationWindowSize = envInt(log, "OSCILLATION_WINDOW", cfg.OscillationWindowSize)
	cfg.OscillationMaxTransitions = envInt(log, "OSCILLATION_MAX_TRANSITIONS", cfg.OscillationMaxTransitions)
	cfg.MinSampleRatio = envFloat(log, "MIN_SAMPLE_RATIO", cfg.MinSampleRatio)
	cfg.MinBucketCoveragePct = envFloat(log, "MIN_BUCKET_COVERAGE", cfg.MinBucketCoveragePct)
	cfg.GuardSLOQuery = envString("GUARD_SLO_QUERY", cfg.GuardSLOQuery)
	cfg.PDFSLOQuery = envString("PDF_SLO_QUERY", cfg.PDFSLOQuery)
	cfg.CallbackTimeoutSeconds = envFloat(log, "CALLBACK_TIMEOUT", cfg.CallbackTimeoutSeconds)
	cfg.MetricsAddr = envString("METRICS_ADDR", cfg.MetricsAddr)
	cfg.OperatorSocketPath = envString("OPERATOR_SOCKET", cfg.OperatorSocketPath)
	cfg.AuditDBPath = envString("AUDIT_DB_PATH", cfg.AuditDBPath)
	cfg.AllowlistFilePath = envString("ALLOWLIST_FILE", cfg.AllowlistFilePath)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envString("LOG_FORMAT", cfg.LogFormat)
	cfg.ReducerName = envString("REDUCER", cfg.ReducerName)

	cfg.Targets = envTargets(log, "TARGETS_JSON", cfg.Targets)
	if cfg.AllowlistFilePath != "" {
		fileEntries, err := loadAllowlistFile(cfg.AllowlistFilePath)
		if err != nil {
			log.Warn("adaptive_control: allowlist file load failed, ignoring supplemental entries",
				zap.String("path", cfg.AllowlistFilePath), zap.Error(err))
		} else {
			cfg.Targets = append(cfg.Targets, fileEntries...)
		}
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		log.Warn("adaptive_control: config failed validation, falling back to defaults",
			zap.Strings("errors", errs))
		cfg = Defaults()
	}

	if drift := CheckConfigDrift(&cfg); drift != nil {
		log.Warn("adaptive_control: canonical SLO query drift detected at load", zap.Error(drift))
	}

	log.Info("adaptive_control: config loaded",
		zap.Float64("loop_interval_seconds", cfg.ControlLoopIntervalSeconds),
		zap.Int("targets", len(cfg.Targets)))

	return cfg, nil
}

func envString(suffix, def string) string {
	if v, ok := os.LookupEnv(envPrefix + suffix); ok && v != "" {
		return v
	}
	return def
}

func envFloat(log *zap.Logger, suffix string, def float64) float64 {
	v, ok := os.LookupEnv(envPrefix + suffix)
	if !ok || v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Warn("adaptive_control: invalid float env value, using default",
			zap.String("key", envPrefix+suffix), zap.String("value", v))
		return def
	}
	return f
}

func envInt(log *zap.Logger, suffix string, def int) int {
	v, ok := os.LookupEnv(envPrefix + suffix)
	if !ok || v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		log.Warn("adaptive_control: invalid int env value, using default",
			zap.String("key", envPrefix+suffix), zap.String("value", v))
		return def
	}
	return i
}

func envInt64(log *zap.Logger, suffix string, def int64) int64 {
	v, ok := os.LookupEnv(envPrefix + suffix)
	if !ok || v == "" {
		return def
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Warn("adaptive_control: invalid int64 env value, using default",
			zap.String("key", envPrefix+suffix), zap.String("value", v))
		return def
	}
	return i
}

func envTargets(log *zap.Logger, suffix string, def []AllowlistEntry) []AllowlistEntry {
	v, ok := os.LookupEnv(envPrefix + suffix)
	if !ok || v == "" {
		return def
	}
	var entries []AllowlistEntry
	if err := json.Unmarshal([]byte(v), &entries); err != nil {
		log.Warn("adaptive_control: invalid TARGETS_JSON, using empty allowlist", zap.Error(err))
		return nil
	}
	for i := range entries {
		entries[i] = fillWildcards(entries[i])
	}
	return entries
}

func fillWildcards(e AllowlistEntry) AllowlistEntry {
	if e.TenantID == "" {
		e.TenantID = "*"
	}
	if e.EndpointClass == "" {
		e.EndpointClass = "*"
	}
	if e.SubsystemID == "" {
		e.SubsystemID = "*"
	}
	return e
}

func loadAllowlistFile(path string) ([]AllowlistEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read allowlist file: %w", err)
	}
	var entries []AllowlistEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse allowlist file: %w", err)
	}
	for i := range entries {
		entries[i] = fillWildcards(entries[i])
	}
	return entries, nil
}
