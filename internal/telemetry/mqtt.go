package telemetry

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/lhkeeper/internal/infrastructure/mqtt"
	"github.com/nerrad567/lhkeeper/internal/lighthouse"
)

// Health values published on lhkeeper/health.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthStopping = "stopping"
)

// CommandStop is the only remote command.
const CommandStop = "stop"

// Publisher is the subset of *mqtt.Client the MQTT sink needs.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// EventMessage is the JSON body published for each event.
type EventMessage struct {
	Type         lighthouse.EventType `json:"type"`
	Time         time.Time            `json:"time"`
	LighthouseID string               `json:"lighthouse_id"`
	RunID        string               `json:"run_id"`
	Address      string               `json:"address,omitempty"`
	Attempt      int                  `json:"attempt,omitempty"`
	Handle       uint16               `json:"handle,omitempty"`
	Payload      string               `json:"payload,omitempty"`
	State        string               `json:"state,omitempty"`
	DurationMS   int64                `json:"duration_ms,omitempty"`
	Error        string               `json:"error,omitempty"`
}

// StateMessage is the retained per-lighthouse state.
type StateMessage struct {
	LighthouseID string                   `json:"lighthouse_id"`
	RunID        string                   `json:"run_id"`
	State        string                   `json:"state"`
	LastCycle    *lighthouse.CycleSummary `json:"last_cycle,omitempty"`
	UpdatedAt    time.Time                `json:"updated_at"`
}

// HealthMessage is the retained process health.
type HealthMessage struct {
	Status       string    `json:"status"`
	LighthouseID string    `json:"lighthouse_id"`
	RunID        string    `json:"run_id"`
	Timestamp    time.Time `json:"timestamp"`
}

// MQTT publishes events, state and health to the broker.
//
// Thread Safety:
//   - Observe is called from the keep-alive loop only; health is guarded so
//     Health may be read from other goroutines.
type MQTT struct {
	pub          Publisher
	topics       mqtt.Topics
	lighthouseID string
	runID        string
	logger       Logger

	mu     sync.Mutex
	health string
}

// NewMQTT creates an MQTT sink for one lighthouse and run.
func NewMQTT(pub Publisher, lighthouseID, runID string, logger Logger) *MQTT {
	return &MQTT{
		pub:          pub,
		lighthouseID: lighthouseID,
		runID:        runID,
		logger:       logger,
	}
}

// Observe implements lighthouse.Observer.
func (m *MQTT) Observe(e lighthouse.Event) {
	m.publish(m.topics.Event(m.lighthouseID), m.eventMessage(e), false)

	switch e.Type {
	case lighthouse.EventCycleComplete, lighthouse.EventCycleFailed:
		state := StateMessage{
			LighthouseID: m.lighthouseID,
			RunID:        m.runID,
			State:        string(e.Type),
			UpdatedAt:    e.Time.UTC(),
		}
		if e.Report != nil {
			summary := e.Report.Summary()
			state.LastCycle = &summary
		}
		m.publish(m.topics.State(m.lighthouseID), state, true)

		if e.Type == lighthouse.EventCycleFailed {
			m.setHealth(HealthDegraded, e.Time)
		} else {
			m.setHealth(HealthHealthy, e.Time)
		}
	case lighthouse.EventStopped:
		m.setHealth(HealthStopping, e.Time)
	}
}

// Health returns the last published health value.
func (m *MQTT) Health() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health
}

func (m *MQTT) setHealth(status string, at time.Time) {
	m.mu.Lock()
	changed := m.health != status
	m.health = status
	m.mu.Unlock()

	if !changed {
		return
	}
	m.publish(m.topics.Health(), HealthMessage{
		Status:       status,
		LighthouseID: m.lighthouseID,
		RunID:        m.runID,
		Timestamp:    at.UTC(),
	}, true)
}

func (m *MQTT) eventMessage(e lighthouse.Event) EventMessage {
	msg := EventMessage{
		Type:         e.Type,
		Time:         e.Time.UTC(),
		LighthouseID: m.lighthouseID,
		RunID:        m.runID,
		Address:      e.Address,
		Attempt:      e.Attempt,
		Handle:       e.Handle,
		State:        e.State,
		DurationMS:   e.Duration.Milliseconds(),
	}
	if len(e.Payload) > 0 {
		msg.Payload = hex.EncodeToString(e.Payload)
	}
	if e.Err != nil {
		msg.Error = e.Err.Error()
	}
	return msg
}

func (m *MQTT) publish(topic string, v any, retained bool) {
	if err := m.pub.PublishJSON(topic, v, retained); err != nil && m.logger != nil {
		m.logger.Debug("mqtt publish dropped", "topic", topic, "error", err)
	}
}

// commandMessage is the body accepted on the command topic.
type commandMessage struct {
	Command string `json:"command"`
}

// HandleCommands subscribes to the lighthouse's command topic and calls stop
// when a {"command":"stop"} message arrives.
//
// Parameters:
//   - pub: Connected MQTT client
//   - lighthouseID: Selects lhkeeper/command/<id>
//   - stop: Called once per stop command; typically a context.CancelFunc
//
// Returns:
//   - error: If the subscription fails
func HandleCommands(pub Publisher, lighthouseID string, stop func()) error {
	topic := mqtt.Topics{}.Command(lighthouseID)
	return pub.Subscribe(topic, 1, func(_ string, payload []byte) error {
		var cmd commandMessage
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return fmt.Errorf("decoding command: %w", err)
		}
		if cmd.Command != CommandStop {
			return fmt.Errorf("unknown command %q", cmd.Command)
		}
		stop()
		return nil
	})
}
