package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// computeEventHash produces a canonical SHA256 hash of an event, chained
// to its parent via ParentHash, making the control-decision audit trail
// independently verifiable.
func computeEventHash(event ControlDecisionEvent) string {
	canonical := struct {
		EventID               string
		CorrelationID         string
		Reason                string
		PreviousMode          string
		NewMode               string
		SubsystemID           string
		TransitionTimestampMs int64
		TriggerMetric         string
		TriggerValue          float64
		Threshold             float64
		ParentHash            string
	}{
		EventID:               event.EventID,
		CorrelationID:         event.CorrelationID,
		Reason:                event.Reason,
		PreviousMode:          event.PreviousMode,
		NewMode:               event.NewMode,
		SubsystemID:           event.SubsystemID,
		TransitionTimestampMs: event.TransitionTimestampMs,
		TriggerMetric:         event.TriggerMetric,
		TriggerValue:          event.TriggerValue,
		Threshold:             event.Threshold,
		ParentHash:            event.ParentHash,
	}

	data, err := json.Marshal(canonical)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyChain checks that each event's Hash matches a recomputation from
// its fields and that ParentHash links match the preceding event, in
// order. Returns the index of the first broken link, or -1 if the chain
// is intact.
func VerifyChain(events []ControlDecisionEvent) int {
	parent := ""
	for i, event := range events {
		if event.ParentHash != parent {
			return i
		}
		recomputed := computeEventHash(ControlDecisionEvent{
			EventID:               event.EventID,
			CorrelationID:         event.CorrelationID,
			Reason:                event.Reason,
			PreviousMode:          event.PreviousMode,
			NewMode:               event.NewMode,
			SubsystemID:           event.SubsystemID,
			TransitionTimestampMs: event.TransitionTimestampMs,
			TriggerMetric:         event.TriggerMetric,
			TriggerValue:          event.TriggerValue,
			Threshold:             event.Threshold,
			ParentHash:            event.ParentHash,
		})
		if recomputed != event.Hash {
			return i
		}
		parent = event.Hash
	}
	return -1
}
