package telemetry

import (
	"encoding/hex"
	"fmt"

	"github.com/nerrad567/lhkeeper/internal/keepalive"
	"github.com/nerrad567/lhkeeper/internal/lighthouse"
)

// Console logs progress according to the keep-alive verbosity.
//
//	0  nothing but warnings
//	1  connect, write handle and payload, disconnect, sleep and cycle outcome
//	2  also dial attempts, retries with their cause and read-back
//
// A failed disconnect is always logged at WARN.
type Console struct {
	logger    Logger
	verbosity int
}

// NewConsole creates a console sink.
func NewConsole(logger Logger, verbosity int) *Console {
	return &Console{logger: logger, verbosity: verbosity}
}

// Observe implements lighthouse.Observer.
func (c *Console) Observe(e lighthouse.Event) {
	if e.Type == lighthouse.EventDisconnected && e.Err != nil {
		c.logger.Warn("disconnect failed", "address", e.Address, "error", e.Err)
		return
	}
	if c.verbosity < keepalive.VerbosityInfo {
		return
	}

	switch e.Type {
	case lighthouse.EventWriting:
		c.logger.Info("writing", "handle", fmt.Sprintf("0x%02x", e.Handle), "payload", hex.EncodeToString(e.Payload))
	case lighthouse.EventConnected:
		c.logger.Info("connected", "address", e.Address, "attempt", e.Attempt)
	case lighthouse.EventWritten:
		c.logger.Info("wake command written", "address", e.Address, "duration", e.Duration)
	case lighthouse.EventDisconnected:
		c.logger.Info("disconnected", "address", e.Address)
	case lighthouse.EventSleeping:
		c.logger.Info("sleeping", "duration", e.Duration)
	case lighthouse.EventCycleComplete:
		if e.Report != nil {
			c.logger.Info("cycle complete", "cycle", e.Report.Cycle, "attempts", e.Report.ConnectAttempts)
		}
	case lighthouse.EventCycleFailed:
		if e.Report != nil {
			c.logger.Error("cycle failed", "cycle", e.Report.Cycle, "kind", e.Report.ErrorKind().String(), "error", e.Err)
		}
	case lighthouse.EventStopped:
		c.logger.Info("keep-alive stopped", "reason", e.State)
	default:
		c.trace(e)
	}
}

func (c *Console) trace(e lighthouse.Event) {
	if c.verbosity < keepalive.VerbosityTrace {
		return
	}

	switch e.Type {
	case lighthouse.EventConnecting:
		c.logger.Info("connecting", "address", e.Address, "attempt", e.Attempt)
	case lighthouse.EventConnectFailed:
		c.logger.Info("connect failed, retrying", "address", e.Address, "attempt", e.Attempt, "pause", e.Duration, "error", e.Err)
	case lighthouse.EventRead:
		c.logger.Info("read back", "handle", fmt.Sprintf("0x%02x", e.Handle), "value", hex.EncodeToString(e.Payload))
	case lighthouse.EventAwake:
		c.logger.Info("awake")
	}
}
