// Package main — bench/cmd/ticklatency/main.go
//
// Control-loop tick latency measurement tool.
//
// Measures the wall-clock time of Controller.Tick under a steady stream of
// synthetic telemetry, with no I/O-bound callbacks in the loop (the guard
// and pdf setters are no-ops). This isolates the cost of the in-process
// decision path: sufficiency check, budget evaluation, the pure decision
// function, hysteresis filtering, and signal application bookkeeping.
//
// It does NOT include:
//   - Telemetry ingestion transport cost (samples are pre-seeded).
//   - Audit sink write latency (no sink is attached).
//   - Prometheus scrape overhead.
//
// Output CSV columns: iteration, latency_us
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/adaptivecontrol/controlplane/internal/budget"
	"github.com/adaptivecontrol/controlplane/internal/config"
	"github.com/adaptivecontrol/controlplane/internal/controller"
	"github.com/adaptivecontrol/controlplane/internal/decision"
	"github.com/adaptivecontrol/controlplane/internal/hysteresis"
	"github.com/adaptivecontrol/controlplane/internal/sufficiency"
	"github.com/adaptivecontrol/controlplane/internal/telemetry"
)

func main() {
	iterations := flag.Int("iterations", 10000, "Number of ticks to measure")
	outputFile := flag.String("output", "ticklatency_raw.csv", "Output CSV file path")
	sources := flag.Int("sources", 2, "Number of distinct telemetry sources feeding the collector")
	flag.Parse()

	// Lock to OS thread to minimise scheduling jitter, matching the
	// methodology used for the containment-latency benchmark.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	f, err := os.Create(*outputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	_ = w.Write([]string{"iteration", "latency_us"})

	cfg := config.Defaults()
	cfg.Targets = []config.AllowlistEntry{{TenantID: "*", EndpointClass: "*", SubsystemID: "*"}}
	log := zap.NewNop()

	allowlist := config.NewAllowlistManager(cfg.Targets)
	cfgRef := config.NewRef(&cfg)
	decisionEngine := decision.New(cfgRef, allowlist,
		func(string) bool { return false },
		func(string) bool { return false },
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
	})

	ctx := context.Background()
	intervalMs := int64(cfg.ControlLoopIntervalSeconds * 1000)

	// Pre-seed a steady-state window of samples per source so every
	// measured tick sees a sufficiency-passing, non-breaching window —
	// the common case the benchmark is meant to characterize.
	for s := 0; s < *sources; s++ {
		sourceID := fmt.Sprintf("source-%d", s)
		collector.Ingest(sourceID, telemetry.MetricSample{
			TimestampMs:        0,
			TotalRequests:      20,
			SuccessfulRequests: 20,
			LatencyP99Seconds:  0.1,
		})
	}

	var p50Bucket [10001]int // Histogram buckets: 0-10000µs

	for i := 0; i < *iterations; i++ {
		nowMs := int64(i+1) * intervalMs
		for s := 0; s < *sources; s++ {
			sourceID := fmt.Sprintf("source-%d", s)
			collector.Ingest(sourceID, telemetry.MetricSample{
				TimestampMs:        nowMs,
				TotalRequests:      20,
				SuccessfulRequests: 20,
				LatencyP99Seconds:  0.1,
			})
		}

		start := time.Now()
		ctrl.Tick(ctx, nowMs)
		latency := time.Since(start)

		latencyUs := int(latency.Microseconds())
		if latencyUs >= 0 && latencyUs < len(p50Bucket) {
			p50Bucket[latencyUs]++
		}

		_ = w.Write([]string{
			strconv.Itoa(i),
			strconv.Itoa(latencyUs),
		})
	}

	p50, p95, p99 := computePercentiles(p50Bucket[:], *iterations)

	fmt.Printf("Control Loop Tick Latency Results (%d iterations, %d sources)\n", *iterations, *sources)
	fmt.Printf("  p50: %dµs\n", p50)
	fmt.Printf("  p95: %dµs\n", p95)
	fmt.Printf("  p99: %dµs\n", p99)
	fmt.Printf("  Output: %s\n", *outputFile)

	// The control loop interval is the only hard real-time constraint the
	// decision path must respect: a tick slower than the configured
	// interval means ticks would start backing up.
	budgetUs := int(cfg.ControlLoopIntervalSeconds * 1_000_000)
	if p99 > budgetUs {
		fmt.Fprintf(os.Stderr, "FAIL: p99 %dµs exceeds control loop interval budget %dµs\n", p99, budgetUs)
		os.Exit(1)
	}
}

func computePercentiles(hist []int, total int) (p50, p95, p99 int) {
	targets := []struct {
		pct float64
		out *int
	}{
		{0.50, &p50},
		{0.95, &p95},
		{0.99, &p99},
	}
	cumulative := 0
	ti := 0
	for i, count := range hist {
		cumulative += count
		for ti < len(targets) && float64(cumulative) >= targets[ti].pct*float64(total) {
			*targets[ti].out = i
			ti++
		}
		if ti == len(targets) {
			break
		}
	}
	return
}
