package audit

import "testing"

func buildChain(n int) []ControlDecisionEvent {
	e := NewEventEmitter(nil, nil)
	var events []ControlDecisionEvent
	for i := 0; i < n; i++ {
		events = append(events, e.EmitControlDecisionEvent(testSignal(), "enforce", "shadow", nil))
	}
	return events
}

func TestVerifyChain_IntactChain(t *testing.T) {
	events := buildChain(5)
	if idx := VerifyChain(events); idx != -1 {
		t.Fatalf("expected intact chain, broke at index %d", idx)
	}
}

func TestVerifyChain_EmptyChainIsIntact(t *testing.T) {
	if idx := VerifyChain(nil); idx != -1 {
		t.Fatalf("expected empty chain to be trivially intact, got break at %d", idx)
	}
}

func TestVerifyChain_DetectsTamperedField(t *testing.T) {
	events := buildChain(3)
	events[1].Reason = "tampered"
	if idx := VerifyChain(events); idx != 1 {
		t.Fatalf("expected break detected at index 1, got %d", idx)
	}
}

func TestVerifyChain_DetectsBrokenParentLink(t *testing.T) {
	events := buildChain(3)
	events[2].ParentHash = "not-the-real-parent-hash"
	if idx := VerifyChain(events); idx != 2 {
		t.Fatalf("expected break detected at index 2, got %d", idx)
	}
}

func TestComputeEventHash_Deterministic(t *testing.T) {
	event := ControlDecisionEvent{
		EventID: "e1", CorrelationID: "c1", Reason: "switch_to_shadow",
		PreviousMode: "enforce", NewMode: "shadow", SubsystemID: "guard",
		TransitionTimestampMs: 1000, TriggerMetric: "p95_latency",
		TriggerValue: 0.9, Threshold: 0.5, ParentHash: "",
	}
	h1 := computeEventHash(event)
	h2 := computeEventHash(event)
	if h1 != h2 {
		t.Fatal("expected computeEventHash to be deterministic for identical input")
	}
}

func TestComputeEventHash_DiffersOnFieldChange(t *testing.T) {
	event := ControlDecisionEvent{EventID: "e1", Reason: "switch_to_shadow"}
	h1 := computeEventHash(event)
	event.Reason = "restore_enforce"
	h2 := computeEventHash(event)
	if h1 == h2 {
		t.Fatal("expected hash to change when a canonical field changes")
	}
}
