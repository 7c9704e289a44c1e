// Package main — cmd/adaptivecontrold/main.go
//
// adaptivecontrold entrypoint.
//
// Startup sequence:
//  1. Load and validate config from the environment (ADAPTIVE_CONTROL_ prefix).
//  2. Initialise structured logger (zap).
//  3. Open the optional BoltDB audit sink, if ADAPTIVE_CONTROL_AUDIT_DB_PATH is set.
//  4. Wire telemetry collector, sufficiency checker, budget calculator,
//     decision engine, hysteresis filter, and controller.
//  5. Start the Prometheus metrics server.
//  6. Start the operator Unix socket server.
//  7. Register SIGHUP handler for config hot-reload.
//  8. Run the control loop on a ticker at ControlLoopIntervalSeconds.
//  9. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Cancel root context (propagates to all goroutines).
//  2. Close the audit sink, if open.
//  3. Flush logger.
//  4. Exit 0.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/adaptivecontrol/controlplane/contrib"
	"github.com/adaptivecontrol/controlplane/internal/audit"
	"github.com/adaptivecontrol/controlplane/internal/budget"
	"github.com/adaptivecontrol/controlplane/internal/config"
	"github.com/adaptivecontrol/controlplane/internal/controller"
	"github.com/adaptivecontrol/controlplane/internal/decision"
	"github.com/adaptivecontrol/controlplane/internal/hysteresis"
	"github.com/adaptivecontrol/controlplane/internal/observability"
	"github.com/adaptivecontrol/controlplane/internal/operator"
	"github.com/adaptivecontrol/controlplane/internal/signals"
	"github.com/adaptivecontrol/controlplane/internal/sufficiency"
	"github.com/adaptivecontrol/controlplane/internal/telemetry"
)

func main() {
	versionFlag := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("adaptivecontrold %s (commit=%s built=%s)\n",
			config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	bootLog, _ := zap.NewProduction()
	cfg, err := config.Load(bootLog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}
	_ = bootLog.Sync()

	log, err := buildLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("adaptivecontrold starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
		zap.Int("targets", len(cfg.Targets)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Audit sink (optional) ─────────────────────────────────────────────────
	var sink audit.Sink
	var boltSink *audit.BoltSink
	if cfg.AuditDBPath != "" {
		boltSink, err = audit.OpenBoltSink(cfg.AuditDBPath)
		if err != nil {
			log.Fatal("audit BoltDB open failed", zap.Error(err), zap.String("path", cfg.AuditDBPath))
		}
		defer boltSink.Close() //nolint:errcheck
		sink = boltSink
		log.Info("audit BoltDB opened", zap.String("path", cfg.AuditDBPath))
	}
	emitter := audit.NewEventEmitter(log, sink)

	// ── Metrics ────────────────────────────────────────────────────────────────
	metrics := observability.NewMetrics()
	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.MetricsAddr))

	// ── Core pipeline ─────────────────────────────────────────────────────────
	staleThresholdMs := int64(cfg.ControlLoopIntervalSeconds * 2 * 1000)
	collector := telemetry.NewCollector(staleThresholdMs)

	minSamples := 1
	if cfg.MinSampleRatio > 0 {
		minSamples = int(cfg.MinSampleRatio)
		if minSamples < 1 {
			minSamples = 1
		}
	}
	sufficiencyChecker := sufficiency.New(sufficiency.Config{
		MinSamples:           minSamples,
		MinBucketCoveragePct: cfg.MinBucketCoveragePct,
		CheckSourceStale:     true,
	})

	budgetCalc := budget.NewCalculator([]budget.Config{
		{SubsystemID: "guard", Metric: "p95_latency", WindowSeconds: cfg.BudgetWindowSeconds, SLOTarget: cfg.GuardSLOTarget, BurnRateThreshold: cfg.BurnRateThreshold},
		{SubsystemID: "pdf", Metric: "queue_depth", WindowSeconds: cfg.BudgetWindowSeconds, SLOTarget: cfg.PDFSLOTarget, BurnRateThreshold: cfg.BurnRateThreshold},
	})

	allowlist := config.NewAllowlistManager(cfg.Targets)
	cfgRef := config.NewRef(&cfg)

	overrides := operator.NewOverrideStore(nil, nil, nil)
	decisionEngine := decision.New(cfgRef, allowlist, overrides.KillswitchActive, overrides.ManualOverrideActive)

	hysteresisFilter := hysteresis.New(
		log,
		int64(cfg.DwellTimeSeconds*1000),
		int64(cfg.CooldownPeriodSeconds*1000),
		cfg.OscillationWindowSize,
		cfg.OscillationMaxTransitions,
	)

	reducer, err := contrib.GetReducer(cfg.ReducerName)
	if err != nil {
		log.Warn("adaptive_control: reducer not found, falling back to max", zap.Error(err))
		reducer, _ = contrib.GetReducer("max")
	}

	ctrl := controller.New(controller.Config{
		Log:                   log,
		AdaptiveControlConfig: cfgRef,
		Metrics:               collector,
		Budget:                budgetCalc,
		Decision:              decisionEngine,
		Hysteresis:            hysteresisFilter,
		Sufficiency:           sufficiencyChecker,
		Reducer:               reducer,
		GuardModeSetter: func(ctx context.Context, mode string) error {
			log.Info("adaptive_control: guard_mode_setter invoked (no subsystem wired)", zap.String("mode", mode))
			return nil
		},
		PDFBackpressureSetter: func(ctx context.Context, backpressure bool) error {
			log.Info("adaptive_control: pdf_backpressure_setter invoked (no subsystem wired)", zap.Bool("backpressure", backpressure))
			return nil
		},
		OnAppliedSignal: func(sig signals.ControlSignal, previousMode, newMode string) {
			metrics.SignalsTotal.WithLabelValues(string(sig.SignalType), sig.SubsystemID).Inc()
			metrics.AuditEventsTotal.Inc()
			emitter.EmitControlDecisionEvent(sig, previousMode, newMode, nil)
		},
		OnFailsafe: func(reason, exceptionType, guardMode, pdfMode, correlationID string, nowMs int64) {
			metrics.FailsafeTotal.Inc()
			emitter.EmitFailsafeLog(reason, exceptionType, guardMode, pdfMode, correlationID, nowMs)
		},
		OnOscillation: func(subsystemID string) {
			metrics.OscillationDetectedTotal.WithLabelValues(subsystemID).Inc()
		},
	})

	// Wire the override store's live-mode accessors now that the engine and
	// controller exist (avoids a construction-order cycle).
	overrides.SetAccessors(decisionEngine.GuardMode, decisionEngine.PDFMode, func() string { return string(ctrl.State()) })

	// ── Operator socket ───────────────────────────────────────────────────────
	opServer := operator.NewServer(cfg.OperatorSocketPath, overrides, log)
	go func() {
		if err := opServer.ListenAndServe(ctx); err != nil {
			log.Error("operator server error", zap.Error(err))
		}
	}()

	// ── SIGHUP hot-reload ─────────────────────────────────────────────────────
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received, reloading config")
			newCfg, err := config.Load(log)
			if err != nil {
				log.Error("config hot-reload failed, retaining old config", zap.Error(err))
				continue
			}
			cfgRef.Store(&newCfg)
			log.Info("config hot-reload applied",
				zap.Float64("new_p95_enter_threshold", newCfg.P95LatencyEnterThreshold))
		}
	}()

	// ── Control loop ──────────────────────────────────────────────────────────
	interval := time.Duration(cfg.ControlLoopIntervalSeconds * float64(time.Second))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("control loop started", zap.Duration("interval", interval))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				start := time.Now()
				applied := ctrl.Tick(ctx, t.UnixMilli())
				metrics.TickDurationSeconds.Observe(time.Since(start).Seconds())
				metrics.ControllerState.Set(controllerStateValue(ctrl.State()))
				if len(applied) > 0 {
					log.Info("tick applied signals", zap.Int("count", len(applied)))
				}
			}
		}
	}()

	// ── Wait for shutdown signal ──────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()
	<-done

	log.Info("adaptivecontrold shutdown complete")
}

func controllerStateValue(s controller.State) float64 {
	switch s {
	case controller.StateRunning:
		return 0
	case controller.StateSuspended:
		return 1
	case controller.StateFailsafe:
		return 2
	default:
		return -1
	}
}

func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
