// Package sufficiency decides whether telemetry collected in a window is
// trustworthy enough to drive an adaptive-control decision.
package sufficiency

import (
	"strings"

	"github.com/adaptivecontrol/controlplane/internal/telemetry"
)

// Config configures the three sufficiency conditions.
type Config struct {
	MinSamples          int
	MinBucketCoveragePct float64
	CheckSourceStale     bool
}

// Result is the outcome of a single sufficiency check.
type Result struct {
	IsSufficient      bool
	SampleCount       int
	RequiredSamples   int
	BucketCoveragePct float64
	StaleSources      []string
	Reason            string
}

// Checker is a pure predicate over a sample list and a source-health list.
type Checker struct {
	config Config
}

// New creates a Checker with the given configuration.
func New(config Config) *Checker {
	return &Checker{config: config}
}

func (c *Checker) Config() Config { return c.config }

// Check evaluates the three sufficiency conditions: minimum sample count,
// time-bucket coverage, and source staleness. totalBuckets is the number of
// equal-width buckets the samples' time span is partitioned into for the
// bucket-coverage calculation.
func (c *Checker) Check(samples []telemetry.MetricSample, health []telemetry.SourceHealth, totalBuckets int) Result {
	var staleSources []string
	if c.config.CheckSourceStale {
		for _, h := range health {
			if h.IsStale {
				staleSources = append(staleSources, h.SourceID)
			}
		}
	}

	sampleCount := len(samples)
	required := c.config.MinSamples

	bucketCoverage := bucketCoveragePct(samples, totalBuckets)

	var reasons []string
	if sampleCount < required {
		reasons = append(reasons, insufficientSamplesReason(sampleCount, required))
	}
	if bucketCoverage < c.config.MinBucketCoveragePct {
		reasons = append(reasons, lowBucketCoverageReason(bucketCoverage, c.config.MinBucketCoveragePct))
	}
	if len(staleSources) > 0 {
		reasons = append(reasons, staleSourcesReason(staleSources))
	}

	return Result{
		IsSufficient:      len(reasons) == 0,
		SampleCount:       sampleCount,
		RequiredSamples:   required,
		BucketCoveragePct: bucketCoverage,
		StaleSources:      staleSources,
		Reason:            strings.Join(reasons, "; "),
	}
}

// bucketCoveragePct partitions the time span the samples cover (earliest to
// latest timestamp) into totalBuckets equal-width buckets and returns the
// percentage of buckets containing at least one sample.
func bucketCoveragePct(samples []telemetry.MetricSample, totalBuckets int) float64 {
	if len(samples) == 0 {
		return 0.0
	}
	if totalBuckets <= 0 {
		return 100.0
	}
	minTs, maxTs := samples[0].TimestampMs, samples[0].TimestampMs
	for _, s := range samples[1:] {
		if s.TimestampMs < minTs {
			minTs = s.TimestampMs
		}
		if s.TimestampMs > maxTs {
			maxTs = s.TimestampMs
		}
	}
	span := maxTs - minTs + 1
	seen := make(map[int64]struct{}, totalBuckets)
	for _, s := range samples {
		seen[(s.TimestampMs-minTs)*int64(totalBuckets)/span] = struct{}{}
	}
	pct := (float64(len(seen)) / float64(totalBuckets)) * 100.0
	if pct > 100.0 {
		pct = 100.0
	}
	return pct
}
