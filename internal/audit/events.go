// Package audit implements the structured control-decision audit trail:
// event construction, hash-chaining, an in-memory ring buffer, and an
// optional BoltDB durable sink.
//
// Each emitted ControlDecisionEvent links to its predecessor via a SHA256
// hash of a canonical JSON representation, making the audit trail
// independently verifiable and tamper-evident.
package audit

import (
	"sync"

	"go.uber.org/zap"

	"github.com/adaptivecontrol/controlplane/internal/signals"
)

// ControlDecisionEvent is one entry in the audit trail: the record of a
// signal actually applied to a subsystem.
type ControlDecisionEvent struct {
	EventID             string
	CorrelationID       string
	Reason              string
	PreviousMode        string
	NewMode             string
	SubsystemID         string
	TransitionTimestampMs int64
	TriggerMetric       string
	TriggerValue        float64
	Threshold           float64
	BurnRate            *float64
	Actor               string
	Hash                string
	ParentHash          string
}

// FailsafeLogEntry records a controller fail-safe entry.
type FailsafeLogEntry struct {
	Reason        string
	ExceptionType string
	GuardMode     string
	PDFMode       string
	CorrelationID string
	TimestampMs   int64
}

const defaultRingBufferSize = 10_000

// EventEmitter accumulates ControlDecisionEvents in a bounded in-memory
// ring buffer, hash-chains them, logs each structurally, and optionally
// forwards them to a durable Sink.
type EventEmitter struct {
	log *zap.Logger
	mu  sync.Mutex

	events     []ControlDecisionEvent
	maxEvents  int
	lastHash   string

	sink Sink
}

// Sink durably persists audit events. BoltSink implements this; nil means
// in-memory only.
type Sink interface {
	AppendEvent(ControlDecisionEvent) error
}

// NewEventEmitter creates an EventEmitter. log may be nil (a nop logger is
// used). sink may be nil (events are kept in memory only).
func NewEventEmitter(log *zap.Logger, sink Sink) *EventEmitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventEmitter{log: log, maxEvents: defaultRingBufferSize, sink: sink}
}

// EmitControlDecisionEvent constructs, hash-chains, logs, and records a
// ControlDecisionEvent for an applied signal.
func (e *EventEmitter) EmitControlDecisionEvent(sig signals.ControlSignal, previousMode, newMode string, burnRate *float64) ControlDecisionEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	event := ControlDecisionEvent{
		EventID:               signals.NewCorrelationID(),
		CorrelationID:         sig.CorrelationID,
		Reason:                string(sig.SignalType),
		PreviousMode:          previousMode,
		NewMode:               newMode,
		SubsystemID:           sig.SubsystemID,
		TransitionTimestampMs: sig.TimestampMs,
		TriggerMetric:         sig.MetricName,
		TriggerValue:          sig.TriggerValue,
		Threshold:             sig.Threshold,
		BurnRate:              burnRate,
		Actor:                 "adaptive_control",
		ParentHash:            e.lastHash,
	}
	event.Hash = computeEventHash(event)
	e.lastHash = event.Hash

	e.events = append(e.events, event)
	if len(e.events) > e.maxEvents {
		e.events = e.events[len(e.events)-e.maxEvents:]
	}

	e.log.Info("control_decision",
		zap.String("event_id", event.EventID),
		zap.String("correlation_id", event.CorrelationID),
		zap.String("reason", event.Reason),
		zap.String("previous_mode", event.PreviousMode),
		zap.String("new_mode", event.NewMode),
		zap.String("subsystem_id", event.SubsystemID),
		zap.Int64("transition_timestamp_ms", event.TransitionTimestampMs),
		zap.String("trigger_metric", event.TriggerMetric),
		zap.Float64("trigger_value", event.TriggerValue),
		zap.Float64("threshold", event.Threshold),
		zap.String("hash", event.Hash),
	)

	if e.sink != nil {
		if err := e.sink.AppendEvent(event); err != nil {
			e.log.Error("adaptive_control: audit sink append failed", zap.Error(err))
		}
	}

	return event
}

// EmitSignalLog logs a raw (pre-hysteresis) control signal at debug level.
func (e *EventEmitter) EmitSignalLog(sig signals.ControlSignal) {
	e.log.Debug("control_signal",
		zap.String("signal_type", string(sig.SignalType)),
		zap.String("subsystem_id", sig.SubsystemID),
		zap.String("correlation_id", sig.CorrelationID),
		zap.Float64("trigger_value", sig.TriggerValue),
		zap.Float64("threshold", sig.Threshold),
	)
}

// EmitFailsafeLog logs a controller fail-safe entry.
func (e *EventEmitter) EmitFailsafeLog(reason, exceptionType, guardMode, pdfMode, correlationID string, nowMs int64) FailsafeLogEntry {
	entry := FailsafeLogEntry{
		Reason:        reason,
		ExceptionType: exceptionType,
		GuardMode:     guardMode,
		PDFMode:       pdfMode,
		CorrelationID: correlationID,
		TimestampMs:   nowMs,
	}
	e.log.Error("failsafe_entered",
		zap.String("reason", entry.Reason),
		zap.String("exception_type", entry.ExceptionType),
		zap.String("guard_mode", entry.GuardMode),
		zap.String("pdf_mode", entry.PDFMode),
		zap.String("correlation_id", entry.CorrelationID),
	)
	return entry
}

// EventLog returns a copy of the current in-memory ring buffer.
func (e *EventEmitter) EventLog() []ControlDecisionEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ControlDecisionEvent(nil), e.events...)
}

// ClearEventLog empties the in-memory ring buffer. Test-only; does not
// affect the durable sink.
func (e *EventEmitter) ClearEventLog() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = nil
	e.lastHash = ""
}
