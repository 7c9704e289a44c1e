// Package telemetry holds the MetricSample data model and the
// MetricsCollector that ingests it, answers windowed queries, and tracks
// per-source staleness.
package telemetry

// MetricSample is an immutable, externally-produced measurement for one
// source at one point in time. The SLO evaluator that fills these in is an
// out-of-scope collaborator (see SPEC_FULL.md §1) — this package only
// stores and queries them.
type MetricSample struct {
	TimestampMs          int64
	TotalRequests        int64
	SuccessfulRequests   int64
	LatencyP99Seconds    float64
	FalsePositiveAlerts  int64
	HasFalsePositiveData bool
}

// SourceHealth is the derived staleness status of a single metric source.
type SourceHealth struct {
	SourceID     string
	LastSampleMs *int64
	IsStale      bool
}
