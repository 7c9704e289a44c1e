package hysteresis

import (
	"testing"

	"github.com/adaptivecontrol/controlplane/internal/signals"
)

func sig(subsystemID string, t signals.Type) signals.ControlSignal {
	return signals.ControlSignal{SubsystemID: subsystemID, SignalType: t}
}

func TestApply_FirstSignalAlwaysPasses(t *testing.T) {
	f := New(nil, 1000, 500, 10, 4)
	out := f.Apply([]signals.ControlSignal{sig("guard", signals.SwitchToShadow)}, 0)
	if len(out) != 1 {
		t.Fatalf("expected first signal to pass through, got %d", len(out))
	}
}

func TestApply_BlockedByDwellTime(t *testing.T) {
	f := New(nil, 1000, 500, 10, 4)
	f.RecordTransition("guard", 0)
	out := f.Apply([]signals.ControlSignal{sig("guard", signals.RestoreEnforce)}, 500)
	if len(out) != 0 {
		t.Fatalf("expected signal to be blocked within dwell time, got %d", len(out))
	}
}

func TestApply_PassesAfterDwellTimeElapsed(t *testing.T) {
	f := New(nil, 1000, 500, 10, 4)
	f.RecordTransition("guard", 0)
	out := f.Apply([]signals.ControlSignal{sig("guard", signals.RestoreEnforce)}, 1000)
	if len(out) != 1 {
		t.Fatalf("expected signal to pass once dwell time has elapsed, got %d", len(out))
	}
}

func TestApply_BlockedByCooldownEvenAfterDwell(t *testing.T) {
	// dwell=0 so only cooldown gates here.
	f := New(nil, 0, 2000, 10, 4)
	f.RecordTransition("guard", 0)
	out := f.Apply([]signals.ControlSignal{sig("guard", signals.RestoreEnforce)}, 1000)
	if len(out) != 0 {
		t.Fatalf("expected signal blocked by cooldown, got %d", len(out))
	}
}

func TestApply_IndependentPerSubsystem(t *testing.T) {
	f := New(nil, 1000, 500, 10, 4)
	f.RecordTransition("guard", 0)
	out := f.Apply([]signals.ControlSignal{sig("pdf", signals.StopAcceptingJobs)}, 100)
	if len(out) != 1 {
		t.Fatalf("expected a different subsystem's signal to be unaffected, got %d", len(out))
	}
}

func TestRecordTransition_TrimsHistoryToWindowSize(t *testing.T) {
	f := New(nil, 0, 0, 3, 100)
	for i := 0; i < 5; i++ {
		f.RecordTransition("guard", int64(i))
	}
	st := f.GetState("guard")
	if len(st.TransitionHistory) != 3 {
		t.Fatalf("expected history trimmed to window size 3, got %d: %v", len(st.TransitionHistory), st.TransitionHistory)
	}
	if st.TransitionHistory[0] != 2 || st.TransitionHistory[2] != 4 {
		t.Errorf("expected the most recent 3 transitions retained, got %v", st.TransitionHistory)
	}
}

func TestDetectOscillation_TrueAtThreshold(t *testing.T) {
	f := New(nil, 0, 0, 10, 3)
	for i := 0; i < 3; i++ {
		f.RecordTransition("guard", int64(i))
	}
	if !f.DetectOscillation("guard") {
		t.Fatal("expected oscillation detected once transition count reaches the max")
	}
}

func TestDetectOscillation_FalseBelowThreshold(t *testing.T) {
	f := New(nil, 0, 0, 10, 3)
	f.RecordTransition("guard", 0)
	if f.DetectOscillation("guard") {
		t.Fatal("expected no oscillation with only one transition")
	}
}

func TestDetectOscillation_NeverBlocksSignals(t *testing.T) {
	// DetectOscillation is observational only: Apply must not consult it.
	f := New(nil, 0, 0, 10, 1)
	f.RecordTransition("guard", 0)
	if !f.DetectOscillation("guard") {
		t.Fatal("expected oscillation flagged")
	}
	out := f.Apply([]signals.ControlSignal{sig("guard", signals.RestoreEnforce)}, 1000)
	if len(out) != 1 {
		t.Fatal("oscillation detection must not gate Apply")
	}
}

func TestGetState_ReturnsIndependentCopy(t *testing.T) {
	f := New(nil, 0, 0, 10, 4)
	f.RecordTransition("guard", 42)
	st := f.GetState("guard")
	st.TransitionHistory[0] = 999
	again := f.GetState("guard")
	if again.TransitionHistory[0] != 42 {
		t.Error("GetState must return a defensive copy")
	}
}
