// Package contrib — reducer.go
//
// Plugin interface for custom window-reduction strategies.
//
// The controller needs to collapse a window of MetricSamples into single
// p95-latency and queue-depth values before they reach the decision
// engine. The built-in default is a max-across-window reducer (the
// conservative choice: the worst observed value in the window decides
// the tick). contrib/ lets deployments swap in a different strategy
// (e.g., an EWMA smoother, a true percentile estimator) without touching
// the controller.
//
// Plugin registration follows the same shape as other contrib extension
// points: plugins register themselves in an init() function using
// RegisterReducer().
// The daemon selects the active reducer via config:
//
//	ADAPTIVE_CONTROL_REDUCER=max       # default
//	ADAPTIVE_CONTROL_REDUCER=ewma
//
// Plugin contract:
//   - Reduce() must be goroutine-safe (the controller may call it from
//     multiple ticks if the caller pipelines windows; in practice ticks
//     are serialized but the contract is stated for defensiveness).
//   - Reduce() must not call blocking I/O.
//   - Reduce() must not panic.
//   - Name() must return a stable, unique string (used as config key).
package contrib

import (
	"fmt"
	"sync"

	"github.com/adaptivecontrol/controlplane/internal/telemetry"
)

// Reduction is the result of reducing a sample window to the two scalar
// signals the decision engine consumes. Either field is nil if the window
// was empty.
type Reduction struct {
	P95Latency *float64
	QueueDepth *int
}

// Reducer is the interface that custom window-reduction strategies must
// implement.
type Reducer interface {
	// Name returns the unique identifier for this reducer. Used as the
	// config key (ADAPTIVE_CONTROL_REDUCER).
	Name() string

	// Reduce collapses a sample window into a Reduction. samples is never
	// mutated.
	Reduce(samples []telemetry.MetricSample) Reduction
}

var (
	reducerMu sync.RWMutex
	reducers  = make(map[string]Reducer)
)

// RegisterReducer registers a custom reducer. Panics if a reducer with the
// same name is already registered. Call from init() functions in plugin
// packages.
func RegisterReducer(r Reducer) {
	reducerMu.Lock()
	defer reducerMu.Unlock()
	if _, exists := reducers[r.Name()]; exists {
		panic(fmt.Sprintf("contrib: reducer %q already registered", r.Name()))
	}
	reducers[r.Name()] = r
}

// GetReducer returns the registered reducer with the given name.
func GetReducer(name string) (Reducer, error) {
	reducerMu.RLock()
	defer reducerMu.RUnlock()
	r, ok := reducers[name]
	if !ok {
		return nil, fmt.Errorf("contrib: reducer %q not registered (available: %v)", name, listReducerNames())
	}
	return r, nil
}

// ListReducers returns the names of all registered reducers.
func ListReducers() []string {
	reducerMu.RLock()
	defer reducerMu.RUnlock()
	return listReducerNames()
}

func listReducerNames() []string {
	names := make([]string, 0, len(reducers))
	for k := range reducers {
		names = append(names, k)
	}
	return names
}

// ─── Built-in reducer: max-across-window (the default) ───────────────────────

// MaxReducer takes the maximum sample value in the window for each
// signal — the conservative default (Open Question: reducer choice).
type MaxReducer struct{}

func init() {
	RegisterReducer(&MaxReducer{})
}

func (m *MaxReducer) Name() string { return "max" }

func (m *MaxReducer) Reduce(samples []telemetry.MetricSample) Reduction {
	if len(samples) == 0 {
		return Reduction{}
	}
	maxLatency := samples[0].LatencyP99Seconds
	maxRequests := samples[0].TotalRequests
	for _, s := range samples[1:] {
		if s.LatencyP99Seconds > maxLatency {
			maxLatency = s.LatencyP99Seconds
		}
		if s.TotalRequests > maxRequests {
			maxRequests = s.TotalRequests
		}
	}
	depth := int(maxRequests)
	return Reduction{P95Latency: &maxLatency, QueueDepth: &depth}
}

// ─── Built-in reducer: EWMA ────────────────────────────────────────────────────

// EWMAReducer smooths both signals across the window with an exponentially
// weighted moving average instead of taking the window maximum. Useful in
// deployments where the max-reducer's sensitivity to single-sample spikes
// causes excessive signal generation even with hysteresis in place.
type EWMAReducer struct {
	Alpha float64
}

func init() {
	RegisterReducer(&EWMAReducer{Alpha: 0.3})
}

func (e *EWMAReducer) Name() string { return "ewma" }

func (e *EWMAReducer) Reduce(samples []telemetry.MetricSample) Reduction {
	if len(samples) == 0 {
		return Reduction{}
	}
	latencySmoother := telemetry.NewEWMASmoother(e.Alpha)
	requestSmoother := telemetry.NewEWMASmoother(e.Alpha)
	var latency float64
	var requests float64
	for _, s := range samples {
		latency = latencySmoother.Update(s.LatencyP99Seconds)
		requests = requestSmoother.Update(float64(s.TotalRequests))
	}
	depth := int(requests)
	return Reduction{P95Latency: &latency, QueueDepth: &depth}
}
