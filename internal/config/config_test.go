package config

import (
	"os"
	"testing"

	"go.uber.org/zap"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, e := range os.Environ() {
		if len(e) > len(envPrefix) && e[:len(envPrefix)] == envPrefix {
			key := e[:indexByte(e, '=')]
			os.Unsetenv(key)
		}
	}
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func TestDefaults_ValidatesClean(t *testing.T) {
	if errs := Defaults().Validate(); len(errs) != 0 {
		t.Fatalf("Defaults() should validate cleanly, got: %v", errs)
	}
}

func TestDefaults_NoConfigDrift(t *testing.T) {
	cfg := Defaults()
	if err := CheckConfigDrift(&cfg); err != nil {
		t.Fatalf("Defaults() should carry the canonical SLO queries, got drift: %v", err)
	}
}

func TestValidate_CatchesViolations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AdaptiveControlConfig)
	}{
		{"exit >= enter (p95)", func(c *AdaptiveControlConfig) { c.P95LatencyExitThreshold = c.P95LatencyEnterThreshold }},
		{"exit >= enter (queue)", func(c *AdaptiveControlConfig) { c.QueueDepthExitThreshold = c.QueueDepthEnterThreshold }},
		{"guard slo target > 1", func(c *AdaptiveControlConfig) { c.GuardSLOTarget = 1.5 }},
		{"guard slo target <= 0", func(c *AdaptiveControlConfig) { c.GuardSLOTarget = 0 }},
		{"pdf slo target > 1", func(c *AdaptiveControlConfig) { c.PDFSLOTarget = 2.0 }},
		{"loop interval <= 0", func(c *AdaptiveControlConfig) { c.ControlLoopIntervalSeconds = 0 }},
		{"dwell time <= 0", func(c *AdaptiveControlConfig) { c.DwellTimeSeconds = -1 }},
		{"cooldown <= 0", func(c *AdaptiveControlConfig) { c.CooldownPeriodSeconds = 0 }},
		{"budget window <= 0", func(c *AdaptiveControlConfig) { c.BudgetWindowSeconds = 0 }},
		{"burn rate <= 0", func(c *AdaptiveControlConfig) { c.BurnRateThreshold = 0 }},
		{"oscillation window <= 0", func(c *AdaptiveControlConfig) { c.OscillationWindowSize = 0 }},
		{"oscillation max transitions <= 0", func(c *AdaptiveControlConfig) { c.OscillationMaxTransitions = 0 }},
		{"min sample ratio > 1", func(c *AdaptiveControlConfig) { c.MinSampleRatio = 1.1 }},
		{"min bucket coverage > 100", func(c *AdaptiveControlConfig) { c.MinBucketCoveragePct = 101 }},
		{"callback timeout <= 0", func(c *AdaptiveControlConfig) { c.CallbackTimeoutSeconds = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			if errs := cfg.Validate(); len(errs) == 0 {
				t.Fatalf("expected a validation error for %s", tt.name)
			}
		})
	}
}

func TestCheckConfigDrift(t *testing.T) {
	cfg := Defaults()
	cfg.GuardSLOQuery = "slo:guard:wrong_query"
	err := CheckConfigDrift(&cfg)
	if err == nil {
		t.Fatal("expected drift error for mismatched guard SLO query")
	}
	driftErr, ok := err.(*DriftError)
	if !ok {
		t.Fatalf("expected *DriftError, got %T", err)
	}
	if driftErr.Field != "guard_slo_query" {
		t.Errorf("expected field guard_slo_query, got %s", driftErr.Field)
	}
}

func TestLoad_FallsBackToDefaultsOnValidationFailure(t *testing.T) {
	clearEnv(t)
	defer clearEnv(t)

	os.Setenv(envPrefix+"P95_LATENCY_ENTER", "0.1")
	os.Setenv(envPrefix+"P95_LATENCY_EXIT", "0.9") // exit > enter: invalid

	cfg, err := Load(zap.NewNop())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.P95LatencyEnterThreshold != Defaults().P95LatencyEnterThreshold {
		t.Errorf("expected whole-config fallback to defaults, got enter=%v", cfg.P95LatencyEnterThreshold)
	}
}

func TestLoad_PerFieldFallbackOnBadValue(t *testing.T) {
	clearEnv(t)
	defer clearEnv(t)

	os.Setenv(envPrefix+"LOOP_INTERVAL", "not-a-number")

	cfg, err := Load(zap.NewNop())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.ControlLoopIntervalSeconds != Defaults().ControlLoopIntervalSeconds {
		t.Errorf("expected per-field fallback to default loop interval, got %v", cfg.ControlLoopIntervalSeconds)
	}
}

func TestLoad_ReadsValidOverrides(t *testing.T) {
	clearEnv(t)
	defer clearEnv(t)

	os.Setenv(envPrefix+"LOOP_INTERVAL", "15.0")
	os.Setenv(envPrefix+"LOG_LEVEL", "debug")
	os.Setenv(envPrefix+"REDUCER", "ewma")

	cfg, err := Load(zap.NewNop())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.ControlLoopIntervalSeconds != 15.0 {
		t.Errorf("expected loop interval 15.0, got %v", cfg.ControlLoopIntervalSeconds)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.LogLevel)
	}
	if cfg.ReducerName != "ewma" {
		t.Errorf("expected reducer ewma, got %s", cfg.ReducerName)
	}
}

func TestLoad_TargetsJSON(t *testing.T) {
	clearEnv(t)
	defer clearEnv(t)

	os.Setenv(envPrefix+"TARGETS_JSON", `[{"tenant_id":"acme","subsystem_id":"guard"}]`)

	cfg, err := Load(zap.NewNop())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(cfg.Targets) != 1 {
		t.Fatalf("expected 1 target, got %d", len(cfg.Targets))
	}
	entry := cfg.Targets[0]
	if entry.TenantID != "acme" || entry.SubsystemID != "guard" || entry.EndpointClass != "*" {
		t.Errorf("unexpected target entry after wildcard-fill: %+v", entry)
	}
}

func TestLoad_InvalidTargetsJSONYieldsEmptyAllowlist(t *testing.T) {
	clearEnv(t)
	defer clearEnv(t)

	os.Setenv(envPrefix+"TARGETS_JSON", `not json`)

	cfg, err := Load(zap.NewNop())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(cfg.Targets) != 0 {
		t.Errorf("expected empty allowlist on invalid TARGETS_JSON, got %v", cfg.Targets)
	}
}
