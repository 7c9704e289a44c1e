// Package main — cmd/adaptivecontrol-sim/main.go
//
// Adaptive-control scenario simulator.
//
// Purpose: drive a real controller.Controller with synthetic telemetry and
// validate that adaptive control actually degrades posture under an SLO
// breach and recovers once the breach clears — without standing up the
// guard/pdf subsystems or an operator socket.
//
// Scenario model: two metric sources ("guard-source", "pdf-source") each
// emit one MetricSample per simulated tick. Outside the injected breach
// window both report a healthy baseline plus Gaussian jitter; during the
// breach window ("spike"), the sampled value is shifted toward the
// threshold so the decision engine should fire SwitchToShadow /
// StopAcceptingJobs. After the breach window the signal returns to
// baseline so the engine should fire RestoreEnforce / ResumeAcceptingJobs
// once hysteresis allows it.
//
// Recovery condition (adapted from the dominance-condition check this tool
// is grounded on): across the post-spike-plus-cooldown tail of the run, the
// controller must have returned guard mode to "enforce" and pdf mode to
// "accepting" — i.e. adaptive control is not sticky once the SLO breach
// clears.
//
// Output: per-tick CSV to stdout (step, timestamp_ms, p95_latency_seconds,
// queue_depth, guard_mode, pdf_mode, controller_state, signals_applied_this_tick).
// Summary: breach-detection and recovery result to stderr.
//
// Usage:
//
//	adaptivecontrol-sim [flags]
//	adaptivecontrol-sim -steps 500 -spike-start 150 -spike-duration 80
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/adaptivecontrol/controlplane/internal/budget"
	"github.com/adaptivecontrol/controlplane/internal/config"
	"github.com/adaptivecontrol/controlplane/internal/controller"
	"github.com/adaptivecontrol/controlplane/internal/decision"
	"github.com/adaptivecontrol/controlplane/internal/hysteresis"
	"github.com/adaptivecontrol/controlplane/internal/signals"
	"github.com/adaptivecontrol/controlplane/internal/sufficiency"
	"github.com/adaptivecontrol/controlplane/internal/telemetry"
)

func main() {
	steps := flag.Int("steps", 500, "Number of simulated control-loop ticks")
	spikeStart := flag.Int("spike-start", 150, "Tick at which the synthetic SLO breach begins")
	spikeDuration := flag.Int("spike-duration", 80, "Number of ticks the breach lasts")
	p95Base := flag.Float64("p95-base", 0.15, "Baseline p95 latency (seconds)")
	p95Spike := flag.Float64("p95-spike", 0.9, "Breach-window p95 latency (seconds)")
	queueBase := flag.Int64("queue-base", 20, "Baseline queue depth")
	queueSpike := flag.Int64("queue-spike", 400, "Breach-window queue depth")
	jitter := flag.Float64("jitter", 0.05, "Relative Gaussian jitter applied to both signals")
	seed := flag.Int64("seed", 1, "Random seed")
	quiet := flag.Bool("quiet", false, "Suppress per-tick CSV output")
	flag.Parse()

	if *spikeStart < 0 || *spikeDuration < 0 || *spikeStart+*spikeDuration > *steps {
		fmt.Fprintln(os.Stderr, "ERROR: spike window must fall within [0, steps]")
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(*seed))
	log := zap.NewNop()

	cfg := config.Defaults()
	cfg.Targets = []config.AllowlistEntry{{TenantID: "*", EndpointClass: "*", SubsystemID: "*"}}

	allowlist := config.NewAllowlistManager(cfg.Targets)
	cfgRef := config.NewRef(&cfg)
	decisionEngine := decision.New(cfgRef, allowlist,
		func(string) bool { return false }, // killswitch never active in this scenario
		func(string) bool { return false }, // manual override never active in this scenario
	)
	hysteresisFilter := hysteresis.New(
		log,
		int64(cfg.DwellTimeSeconds*1000),
		int64(cfg.CooldownPeriodSeconds*1000),
		cfg.OscillationWindowSize,
		cfg.OscillationMaxTransitions,
	)
	// Each source reports once per loop interval, so a window holds too few
	// distinct timestamps to meet a bucket-coverage floor; coverage is not
	// gated here.
	sufficiencyChecker := sufficiency.New(sufficiency.Config{
		MinSamples:           1,
		MinBucketCoveragePct: 0,
		CheckSourceStale:     true,
	})
	budgetCalc := budget.NewCalculator([]budget.Config{
		{SubsystemID: "guard", Metric: "p95_latency", WindowSeconds: cfg.BudgetWindowSeconds, SLOTarget: cfg.GuardSLOTarget, BurnRateThreshold: cfg.BurnRateThreshold},
		{SubsystemID: "pdf", Metric: "queue_depth", WindowSeconds: cfg.BudgetWindowSeconds, SLOTarget: cfg.PDFSLOTarget, BurnRateThreshold: cfg.BurnRateThreshold},
	})
	collector := telemetry.NewCollector(int64(cfg.ControlLoopIntervalSeconds * 2 * 1000))

	sim := &scenario{
		steps:         *steps,
		spikeStart:    *spikeStart,
		spikeDuration: *spikeDuration,
		p95Base:       *p95Base,
		p95Spike:      *p95Spike,
		queueBase:     *queueBase,
		queueSpike:    *queueSpike,
		jitter:        *jitter,
		rng:           rng,
	}

	var appliedCount int
	ctrl := controller.New(controller.Config{
		Log:                   log,
		AdaptiveControlConfig: cfgRef,
		Metrics:               collector,
		Budget:                budgetCalc,
		Decision:              decisionEngine,
		Hysteresis:            hysteresisFilter,
		Sufficiency:           sufficiencyChecker,
		GuardModeSetter: func(ctx context.Context, mode string) error {
			return nil
		},
		PDFBackpressureSetter: func(ctx context.Context, backpressure bool) error {
			return nil
		},
		OnAppliedSignal: func(sig signals.ControlSignal, previousMode, newMode string) {
			appliedCount++
		},
	})

	var w *csv.Writer
	if !*quiet {
		w = csv.NewWriter(os.Stdout)
		_ = w.Write([]string{"step", "timestamp_ms", "p95_latency_seconds", "queue_depth", "guard_mode", "pdf_mode", "controller_state", "signals_applied_this_tick"})
	}

	intervalMs := int64(cfg.ControlLoopIntervalSeconds * 1000)
	var breachDetected bool
	var recovered bool
	ctx := context.Background()

	for t := 0; t < sim.steps; t++ {
		nowMs := int64(t+1) * intervalMs
		p95, queue := sim.sampleAt(t)

		collector.Ingest("guard-source", telemetry.MetricSample{
			TimestampMs:        nowMs,
			TotalRequests:      queue,
			SuccessfulRequests: queue,
			LatencyP99Seconds:  p95,
		})
		collector.Ingest("pdf-source", telemetry.MetricSample{
			TimestampMs:        nowMs,
			TotalRequests:      queue,
			SuccessfulRequests: queue,
			LatencyP99Seconds:  p95,
		})

		before := appliedCount
		ctrl.Tick(ctx, nowMs)
		tickApplied := appliedCount - before

		if decisionEngine.GuardMode() == "shadow" || decisionEngine.PDFMode() == "backpressure" {
			breachDetected = true
		}
		if t >= sim.spikeStart+sim.spikeDuration && decisionEngine.GuardMode() == "enforce" && decisionEngine.PDFMode() == "accepting" {
			recovered = true
		}

		if w != nil {
			_ = w.Write([]string{
				strconv.Itoa(t),
				strconv.FormatInt(nowMs, 10),
				strconv.FormatFloat(p95, 'f', 6, 64),
				strconv.FormatInt(queue, 10),
				decisionEngine.GuardMode(),
				decisionEngine.PDFMode(),
				string(ctrl.State()),
				strconv.Itoa(tickApplied),
			})
		}
	}
	if w != nil {
		w.Flush()
	}

	fmt.Fprintf(os.Stderr, "\n=== SCENARIO RESULT ===\n")
	fmt.Fprintf(os.Stderr, "Breach window:       ticks [%d, %d)\n", sim.spikeStart, sim.spikeStart+sim.spikeDuration)
	fmt.Fprintf(os.Stderr, "Signals applied:     %d\n", appliedCount)
	fmt.Fprintf(os.Stderr, "Breach detected:     %v\n", breachDetected)
	fmt.Fprintf(os.Stderr, "Recovered by end:    %v\n", recovered)
	fmt.Fprintf(os.Stderr, "Final guard mode:    %s\n", decisionEngine.GuardMode())
	fmt.Fprintf(os.Stderr, "Final pdf mode:      %s\n", decisionEngine.PDFMode())
	fmt.Fprintf(os.Stderr, "Final controller state: %s\n", ctrl.State())

	if breachDetected && recovered {
		fmt.Fprintln(os.Stderr, "RESULT: PASS — adaptive control degraded and recovered")
		os.Exit(0)
	}
	fmt.Fprintln(os.Stderr, "RESULT: FAIL — breach not detected or posture not restored")
	os.Exit(2)
}

// scenario generates the synthetic per-tick (p95 latency, queue depth) pair
// for a two-phase breach/recovery run.
type scenario struct {
	steps, spikeStart, spikeDuration int
	p95Base, p95Spike                float64
	queueBase, queueSpike            int64
	jitter                           float64
	rng                              *rand.Rand
}

func (s *scenario) sampleAt(t int) (p95 float64, queue int64) {
	inSpike := t >= s.spikeStart && t < s.spikeStart+s.spikeDuration
	p95Target, queueTarget := s.p95Base, s.queueBase
	if inSpike {
		p95Target, queueTarget = s.p95Spike, s.queueSpike
	}

	p95 = p95Target * (1.0 + s.jitter*s.rng.NormFloat64())
	if p95 < 0 {
		p95 = 0
	}
	queueJittered := float64(queueTarget) * (1.0 + s.jitter*s.rng.NormFloat64())
	queue = int64(math.Max(0, queueJittered))
	return p95, queue
}
