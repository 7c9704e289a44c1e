package telemetry

import "sync"

// Collector maintains a per-source ordered list of MetricSample records and
// answers windowed queries plus per-source staleness checks.
//
// No deduplication, no reordering: out-of-order ingest is permitted, but
// queries must still return every in-window sample regardless of arrival
// order, against an append-only per-source log.
type Collector struct {
	mu               sync.RWMutex
	samples          map[string][]MetricSample
	lastSeenMs       map[string]int64
	staleThresholdMs int64
}

// NewCollector creates a Collector with the given staleness threshold.
// Callers typically derive staleThresholdMs as 2x the control loop interval.
func NewCollector(staleThresholdMs int64) *Collector {
	return &Collector{
		samples:          make(map[string][]MetricSample),
		lastSeenMs:       make(map[string]int64),
		staleThresholdMs: staleThresholdMs,
	}
}

// Ingest appends a sample from sourceID and updates its last-seen timestamp.
func (c *Collector) Ingest(sourceID string, sample MetricSample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples[sourceID] = append(c.samples[sourceID], sample)
	c.lastSeenMs[sourceID] = sample.TimestampMs
}

// GetSamples returns samples from sourceID within [windowStartMs, windowEndMs],
// inclusive on both ends.
func (c *Collector) GetSamples(sourceID string, windowStartMs, windowEndMs int64) []MetricSample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return filterWindow(c.samples[sourceID], windowStartMs, windowEndMs)
}

// GetAllSamples returns the union of in-window samples across all sources.
func (c *Collector) GetAllSamples(windowStartMs, windowEndMs int64) []MetricSample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var result []MetricSample
	for _, src := range c.samples {
		result = append(result, filterWindow(src, windowStartMs, windowEndMs)...)
	}
	return result
}

func filterWindow(src []MetricSample, windowStartMs, windowEndMs int64) []MetricSample {
	var out []MetricSample
	for _, s := range src {
		if s.TimestampMs >= windowStartMs && s.TimestampMs <= windowEndMs {
			out = append(out, s)
		}
	}
	return out
}

// CheckHealth returns the SourceHealth of every known source as of nowMs.
// A source is stale if it has never reported, or hasn't reported within
// staleThresholdMs.
func (c *Collector) CheckHealth(nowMs int64) []SourceHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()
	results := make([]SourceHealth, 0, len(c.samples))
	for sourceID := range c.samples {
		last, ok := c.lastSeenMs[sourceID]
		var lastPtr *int64
		stale := true
		if ok {
			l := last
			lastPtr = &l
			stale = nowMs-last > c.staleThresholdMs
		}
		results = append(results, SourceHealth{
			SourceID:     sourceID,
			LastSampleMs: lastPtr,
			IsStale:      stale,
		})
	}
	return results
}

// SourceIDs returns the set of sources known to the collector.
func (c *Collector) SourceIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.samples))
	for id := range c.samples {
		ids = append(ids, id)
	}
	return ids
}

// Clear removes all collected data. Intended for tests.
func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = make(map[string][]MetricSample)
	c.lastSeenMs = make(map[string]int64)
}
