// Package signals defines the bounded control-signal vocabulary emitted by
// the decision engine: signal types, priority levels, and the ControlSignal
// value itself.
package signals

import (
	"crypto/rand"
	"fmt"
)

// Type is the bounded action set the decision engine may emit. No other
// signal types may exist.
type Type string

const (
	SwitchToShadow      Type = "switch_to_shadow"
	RestoreEnforce      Type = "restore_enforce"
	StopAcceptingJobs   Type = "stop_accepting_jobs"
	ResumeAcceptingJobs Type = "resume_accepting_jobs"
)

// Priority is the deterministic priority order for the tie-breaker. Lower
// value means higher priority.
type Priority int

const (
	Killswitch      Priority = 1
	ManualOverride  Priority = 2
	AdaptiveControl Priority = 3
	DefaultConfig   Priority = 4
)

// ControlSignal is a single control signal produced by the decision engine.
// Immutable once constructed.
type ControlSignal struct {
	SignalType    Type
	SubsystemID   string
	MetricName    string
	TenantID      string
	TriggerValue  float64
	Threshold     float64
	Priority      Priority
	CorrelationID string
	TimestampMs   int64
}

// NewCorrelationID returns a random v4-like UUID string for tying together
// every signal produced by a single Decide call.
func NewCorrelationID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failures are effectively unrecoverable on any
		// supported platform; fall back to a fixed zero-filled v4 id rather than panic.
		return "00000000-0000-4000-8000-000000000000"
	}
	b[6] = (b[6] & 0x0f) | 0x40 // version 4
	b[8] = (b[8] & 0x3f) | 0x80 // variant 10
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
