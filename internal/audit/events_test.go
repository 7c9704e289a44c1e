package audit

import (
	"testing"

	"github.com/adaptivecontrol/controlplane/internal/signals"
)

type recordingSink struct {
	events []ControlDecisionEvent
	err    error
}

func (s *recordingSink) AppendEvent(e ControlDecisionEvent) error {
	s.events = append(s.events, e)
	return s.err
}

func testSignal() signals.ControlSignal {
	return signals.ControlSignal{
		SignalType:    signals.SwitchToShadow,
		SubsystemID:   "guard",
		MetricName:    "p95_latency",
		TenantID:      "*",
		TriggerValue:  0.9,
		Threshold:     0.5,
		Priority:      signals.AdaptiveControl,
		CorrelationID: "corr-1",
		TimestampMs:   1000,
	}
}

func TestEmitControlDecisionEvent_PopulatesFields(t *testing.T) {
	e := NewEventEmitter(nil, nil)
	event := e.EmitControlDecisionEvent(testSignal(), "enforce", "shadow", nil)

	if event.EventID == "" {
		t.Error("expected a non-empty event id")
	}
	if event.CorrelationID != "corr-1" {
		t.Errorf("expected correlation id to propagate from the signal, got %s", event.CorrelationID)
	}
	if event.PreviousMode != "enforce" || event.NewMode != "shadow" {
		t.Errorf("unexpected mode transition recorded: %+v", event)
	}
	if event.Hash == "" {
		t.Error("expected a non-empty hash")
	}
	if event.ParentHash != "" {
		t.Error("expected the first event's parent hash to be empty")
	}
}

func TestEmitControlDecisionEvent_ChainsParentHash(t *testing.T) {
	e := NewEventEmitter(nil, nil)
	first := e.EmitControlDecisionEvent(testSignal(), "enforce", "shadow", nil)
	second := e.EmitControlDecisionEvent(testSignal(), "shadow", "enforce", nil)

	if second.ParentHash != first.Hash {
		t.Errorf("expected second event's parent hash %q to equal first event's hash %q", second.ParentHash, first.Hash)
	}
	if second.Hash == first.Hash {
		t.Error("expected distinct hashes for distinct events")
	}
}

func TestEmitControlDecisionEvent_ForwardsToSink(t *testing.T) {
	sink := &recordingSink{}
	e := NewEventEmitter(nil, sink)
	e.EmitControlDecisionEvent(testSignal(), "enforce", "shadow", nil)
	if len(sink.events) != 1 {
		t.Fatalf("expected event forwarded to sink, got %d", len(sink.events))
	}
}

func TestEventLog_RingBufferTrimsOldest(t *testing.T) {
	e := NewEventEmitter(nil, nil)
	e.maxEvents = 3
	for i := 0; i < 5; i++ {
		e.EmitControlDecisionEvent(testSignal(), "enforce", "shadow", nil)
	}
	log := e.EventLog()
	if len(log) != 3 {
		t.Fatalf("expected ring buffer trimmed to 3, got %d", len(log))
	}
}

func TestEventLog_ReturnsDefensiveCopy(t *testing.T) {
	e := NewEventEmitter(nil, nil)
	e.EmitControlDecisionEvent(testSignal(), "enforce", "shadow", nil)
	log := e.EventLog()
	log[0].Reason = "mutated"
	if e.EventLog()[0].Reason == "mutated" {
		t.Error("EventLog must return a defensive copy")
	}
}

func TestClearEventLog(t *testing.T) {
	e := NewEventEmitter(nil, nil)
	e.EmitControlDecisionEvent(testSignal(), "enforce", "shadow", nil)
	e.ClearEventLog()
	if len(e.EventLog()) != 0 {
		t.Fatal("expected ring buffer empty after ClearEventLog")
	}
	// Hash chaining should restart clean.
	event := e.EmitControlDecisionEvent(testSignal(), "enforce", "shadow", nil)
	if event.ParentHash != "" {
		t.Error("expected parent hash chain reset after ClearEventLog")
	}
}

func TestEmitFailsafeLog(t *testing.T) {
	e := NewEventEmitter(nil, nil)
	entry := e.EmitFailsafeLog("panic in tick", "runtime error", "shadow", "backpressure", "corr-2", 5000)
	if entry.Reason != "panic in tick" || entry.TimestampMs != 5000 {
		t.Errorf("unexpected failsafe log entry: %+v", entry)
	}
}
