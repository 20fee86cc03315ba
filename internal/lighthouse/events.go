package lighthouse

import (
	"encoding/hex"
	"time"
)

// EventType identifies a step of the keep-alive cycle.
type EventType string

// Event types, in the order a healthy cycle emits them.
const (
	EventConnecting    EventType = "connecting"
	EventConnectFailed EventType = "connect_failed" // retryable attempt failed, a pause follows
	EventConnected     EventType = "connected"
	EventWriting       EventType = "writing"
	EventWritten       EventType = "written"
	EventReading       EventType = "reading"
	EventRead          EventType = "read"
	EventDisconnected  EventType = "disconnected"
	EventCycleComplete EventType = "cycle_complete"
	EventCycleFailed   EventType = "cycle_failed"
	EventSleeping      EventType = "sleeping"
	EventAwake         EventType = "awake"
	EventStopped       EventType = "stopped"
)

// Event is a single progress notification.
//
// Only the fields relevant to Type are set.
type Event struct {
	Type     EventType
	Time     time.Time
	Address  string
	Attempt  int
	Handle   uint16
	Payload  []byte
	State    string
	Duration time.Duration
	Err      error

	// Report is set on EventCycleComplete and EventCycleFailed.
	Report *CycleReport
}

// CycleReport summarises one connect → write → disconnect cycle.
type CycleReport struct {
	Cycle           int
	StartedAt       time.Time
	ConnectAttempts int
	ConnectDuration time.Duration
	WriteDuration   time.Duration
	ReadBack        []byte
	Err             error
}

// Success reports whether the wake command was delivered.
func (r CycleReport) Success() bool {
	return r.Err == nil
}

// ErrorKind classifies the cycle's failure (KindNone on success).
func (r CycleReport) ErrorKind() ErrorKind {
	return KindOf(r.Err)
}

// CycleSummary is the serialisable form of a CycleReport, shared by the
// status API, MQTT payloads and the history table.
type CycleSummary struct {
	Cycle           int       `json:"cycle"`
	StartedAt       time.Time `json:"started_at"`
	ConnectAttempts int       `json:"connect_attempts"`
	ConnectMS       int64     `json:"connect_ms"`
	WriteMS         int64     `json:"write_ms"`
	ReadBack        string    `json:"read_back,omitempty"`
	Success         bool      `json:"success"`
	ErrorKind       string    `json:"error_kind,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// Summary converts the report for serialisation.
func (r CycleReport) Summary() CycleSummary {
	s := CycleSummary{
		Cycle:           r.Cycle,
		StartedAt:       r.StartedAt.UTC(),
		ConnectAttempts: r.ConnectAttempts,
		ConnectMS:       r.ConnectDuration.Milliseconds(),
		WriteMS:         r.WriteDuration.Milliseconds(),
		Success:         r.Success(),
	}
	if len(r.ReadBack) > 0 {
		s.ReadBack = hex.EncodeToString(r.ReadBack)
	}
	if r.Err != nil {
		s.ErrorKind = r.ErrorKind().String()
		s.Error = r.Err.Error()
	}
	return s
}

// Observer receives progress events.
//
// Implementations are called synchronously from the keep-alive loop and must
// return quickly; slow sinks should buffer internally.
type Observer interface {
	Observe(e Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(e Event)

// Observe implements Observer.
func (f ObserverFunc) Observe(e Event) {
	f(e)
}

// Observers fans an event out to several observers in order.
type Observers []Observer

// Observe implements Observer. Nil entries are skipped.
func (o Observers) Observe(e Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(e)
		}
	}
}

// NopObserver discards every event.
var NopObserver Observer = ObserverFunc(func(Event) {})
