package audit

import (
	"path/filepath"
	"testing"
)

func TestBoltSink_OpenWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")

	sink, err := OpenBoltSink(path)
	if err != nil {
		t.Fatalf("OpenBoltSink failed: %v", err)
	}
	defer sink.Close()

	event := ControlDecisionEvent{
		EventID: "e1", CorrelationID: "c1", Reason: "switch_to_shadow",
		SubsystemID: "guard", TransitionTimestampMs: 1000,
	}
	if err := sink.AppendEvent(event); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}

	events, err := sink.ReadEvents()
	if err != nil {
		t.Fatalf("ReadEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].EventID != "e1" {
		t.Fatalf("expected the appended event to round-trip, got %+v", events)
	}
}

func TestBoltSink_ReopenPreservesSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")

	sink, err := OpenBoltSink(path)
	if err != nil {
		t.Fatalf("OpenBoltSink failed: %v", err)
	}
	sink.Close()

	sink2, err := OpenBoltSink(path)
	if err != nil {
		t.Fatalf("reopening an existing audit database should succeed, got: %v", err)
	}
	defer sink2.Close()
}

func TestBoltSink_AppendMultipleEventsOrderedByKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	sink, err := OpenBoltSink(path)
	if err != nil {
		t.Fatalf("OpenBoltSink failed: %v", err)
	}
	defer sink.Close()

	for i := int64(0); i < 3; i++ {
		event := ControlDecisionEvent{EventID: "e", TransitionTimestampMs: i * 1000}
		event.EventID = eventIDFor(i)
		if err := sink.AppendEvent(event); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
	}

	events, err := sink.ReadEvents()
	if err != nil {
		t.Fatalf("ReadEvents failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, event := range events {
		if event.TransitionTimestampMs != int64(i)*1000 {
			t.Errorf("expected events in chronological key order, got %+v at index %d", event, i)
		}
	}
}

func eventIDFor(i int64) string {
	return string(rune('a' + i))
}
