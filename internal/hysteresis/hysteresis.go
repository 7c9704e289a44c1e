// Package hysteresis filters control signals through dwell time and
// cooldown constraints and surfaces oscillation as an observational flag.
// State is tracked per subsystem behind a mutex-guarded map, with each
// subsystem's transition history trimmed to a bounded window.
package hysteresis

import (
	"sync"

	"go.uber.org/zap"

	"github.com/adaptivecontrol/controlplane/internal/signals"
)

// State is the per-subsystem hysteresis tracking state.
type State struct {
	LastTransitionMs  *int64
	LastSignalMs      *int64
	CurrentMode       string
	TransitionHistory []int64
}

func (s State) clone() State {
	out := State{CurrentMode: s.CurrentMode}
	if s.LastTransitionMs != nil {
		v := *s.LastTransitionMs
		out.LastTransitionMs = &v
	}
	if s.LastSignalMs != nil {
		v := *s.LastSignalMs
		out.LastSignalMs = &v
	}
	out.TransitionHistory = append([]int64(nil), s.TransitionHistory...)
	return out
}

// Filter enforces minimum dwell time between transitions and a cooldown
// period between signals, per subsystem. Cannot be bypassed.
type Filter struct {
	log *zap.Logger

	dwellTimeMs               int64
	cooldownMs                int64
	oscillationWindowSize     int
	oscillationMaxTransitions int

	mu     sync.Mutex
	states map[string]*State
}

// New creates a Filter. log may be nil (a nop logger is used).
func New(log *zap.Logger, dwellTimeMs, cooldownMs int64, oscillationWindowSize, oscillationMaxTransitions int) *Filter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Filter{
		log:                       log,
		dwellTimeMs:               dwellTimeMs,
		cooldownMs:                cooldownMs,
		oscillationWindowSize:     oscillationWindowSize,
		oscillationMaxTransitions: oscillationMaxTransitions,
		states:                    make(map[string]*State),
	}
}

func (f *Filter) getState(subsystemID string) *State {
	st, ok := f.states[subsystemID]
	if !ok {
		st = &State{}
		f.states[subsystemID] = st
	}
	return st
}

// Apply filters signals through dwell time and cooldown constraints.
// Blocked signals are logged but not returned.
func (f *Filter) Apply(sigs []signals.ControlSignal, nowMs int64) []signals.ControlSignal {
	f.mu.Lock()
	defer f.mu.Unlock()

	var passed []signals.ControlSignal
	for _, sig := range sigs {
		st := f.getState(sig.SubsystemID)

		if st.LastTransitionMs != nil {
			elapsed := nowMs - *st.LastTransitionMs
			if elapsed < f.dwellTimeMs {
				f.log.Info("adaptive_control: signal blocked by dwell time",
					zap.String("signal_type", string(sig.SignalType)),
					zap.String("subsystem_id", sig.SubsystemID),
					zap.Int64("elapsed_ms", elapsed),
					zap.Int64("dwell_time_ms", f.dwellTimeMs))
				continue
			}
		}

		if st.LastSignalMs != nil {
			elapsed := nowMs - *st.LastSignalMs
			if elapsed < f.cooldownMs {
				f.log.Info("adaptive_control: signal blocked by cooldown",
					zap.String("signal_type", string(sig.SignalType)),
					zap.String("subsystem_id", sig.SubsystemID),
					zap.Int64("elapsed_ms", elapsed),
					zap.Int64("cooldown_ms", f.cooldownMs))
				continue
			}
		}

		passed = append(passed, sig)
	}
	return passed
}

// RecordTransition records that a transition occurred for a subsystem,
// called after the controller successfully applies a signal.
func (f *Filter) RecordTransition(subsystemID string, nowMs int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st := f.getState(subsystemID)
	t := nowMs
	st.LastTransitionMs = &t
	st.LastSignalMs = &t
	st.TransitionHistory = append(st.TransitionHistory, nowMs)
	if len(st.TransitionHistory) > f.oscillationWindowSize {
		st.TransitionHistory = st.TransitionHistory[len(st.TransitionHistory)-f.oscillationWindowSize:]
	}
}

// DetectOscillation reports whether a subsystem has transitioned too many
// times within its recent history window. Observational only — it never
// blocks a signal on its own.
func (f *Filter) DetectOscillation(subsystemID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.getState(subsystemID)
	return len(st.TransitionHistory) >= f.oscillationMaxTransitions
}

// GetState returns a copy of the current hysteresis state for a subsystem.
func (f *Filter) GetState(subsystemID string) State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getState(subsystemID).clone()
}
