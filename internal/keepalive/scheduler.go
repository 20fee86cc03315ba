// Package keepalive runs the loop that keeps a lighthouse powered on.
//
// Each cycle connects, writes the wake command (optionally reading the
// characteristic back), disconnects and sleeps for the ping interval. The
// loop ends normally when the global timeout has been exceeded or its
// context is cancelled, and abnormally on the first fatal error.
//
// State per cycle:
//
//	Idle → Connected → Pinged → Disconnected → Sleeping → Idle
//
// The link is always released before the cycle's outcome is reported, on
// every exit path.
package keepalive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/lhkeeper/internal/lighthouse"
	"github.com/nerrad567/lhkeeper/internal/link"
)

// CycleState is the loop's position within a cycle.
type CycleState string

// Cycle states.
const (
	StateIdle         CycleState = "idle"
	StateConnected    CycleState = "connected"
	StatePinged       CycleState = "pinged"
	StateDisconnected CycleState = "disconnected"
	StateSleeping     CycleState = "sleeping"
	StateStopped      CycleState = "stopped"
)

// Reasons recorded in Status.StopReason.
const (
	StopDeadline = "global_timeout"
	StopCanceled = "canceled"
	StopError    = "error"
)

// Options configures a Scheduler.
type Options struct {
	// Config is the run's parameters. Required; validated by New.
	Config Config

	// Link is the BLE transport. Required.
	Link link.Link

	// Clock drives sleeps and the deadline. Default: lighthouse.SystemClock.
	Clock lighthouse.Clock

	// Observer receives every event of the run. Default: discard.
	Observer lighthouse.Observer

	// RunID tags this run in status and telemetry.
	RunID string
}

// Status is a point-in-time snapshot of the loop.
type Status struct {
	RunID        string                   `json:"run_id"`
	LighthouseID string                   `json:"lighthouse_id"`
	Address      string                   `json:"address"`
	Command      string                   `json:"command"`
	State        CycleState               `json:"state"`
	Cycles       int                      `json:"cycles"`
	Failures     int                      `json:"failures"`
	StartedAt    time.Time                `json:"started_at"`
	Deadline     *time.Time               `json:"deadline,omitempty"`
	StopReason   string                   `json:"stop_reason,omitempty"`
	LastCycle    *lighthouse.CycleSummary `json:"last_cycle,omitempty"`
}

// Running reports whether the loop has started and not yet stopped.
func (s Status) Running() bool {
	return !s.StartedAt.IsZero() && s.State != StateStopped
}

// Scheduler drives the keep-alive loop.
//
// Thread Safety:
//   - Run must be called once, from one goroutine.
//   - Status may be called concurrently with Run.
type Scheduler struct {
	cfg      Config
	session  *link.Session
	clock    lighthouse.Clock
	observer lighthouse.Observer

	mu     sync.RWMutex
	status Status
}

// New creates a Scheduler.
//
// Returns:
//   - *Scheduler: Ready to Run
//   - error: If the configuration is invalid or the link is missing
func New(opts Options) (*Scheduler, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = lighthouse.SystemClock{}
	}
	if opts.Observer == nil {
		opts.Observer = lighthouse.NopObserver
	}

	session, err := link.NewSession(link.Options{
		Link:           opts.Link,
		Clock:          opts.Clock,
		Observer:       opts.Observer,
		ConnectTimeout: opts.Config.ConnectTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("creating link session: %w", err)
	}

	return &Scheduler{
		cfg:      opts.Config,
		session:  session,
		clock:    opts.Clock,
		observer: opts.Observer,
		status: Status{
			RunID:        opts.RunID,
			LighthouseID: opts.Config.LighthouseID.String(),
			Address:      opts.Config.Address,
			Command:      opts.Config.Command.String(),
			State:        StateIdle,
		},
	}, nil
}

// Run executes cycles until the global timeout passes, ctx is cancelled,
// or a fatal error occurs.
//
// Parameters:
//   - ctx: Cancellation interrupts dialing, retry pauses and the inter-cycle
//     sleep; it is a normal stop, not an error
//
// Returns:
//   - error: nil on normal termination; otherwise the fatal error, which
//     wraps lighthouse.ErrConnection, ErrWrite, ErrRead, or a transport error
func (s *Scheduler) Run(ctx context.Context) (err error) {
	start := s.clock.Now()
	s.markStarted(start)

	reason := StopError
	defer func() {
		s.markStopped(reason)
		s.emit(lighthouse.Event{
			Type:  lighthouse.EventStopped,
			State: reason,
			Err:   err,
		})
	}()

	for cycle := 1; ; cycle++ {
		report := s.runCycle(ctx, cycle)
		if report.Err != nil {
			if errors.Is(report.Err, context.Canceled) {
				reason = StopCanceled
				return nil
			}
			return report.Err
		}

		s.setState(StateSleeping)
		s.emit(lighthouse.Event{
			Type:     lighthouse.EventSleeping,
			Address:  s.cfg.Address,
			Duration: s.cfg.PingInterval,
		})
		if sleepErr := s.clock.Sleep(ctx, s.cfg.PingInterval); sleepErr != nil {
			reason = StopCanceled
			return nil
		}
		s.emit(lighthouse.Event{Type: lighthouse.EventAwake, Address: s.cfg.Address})

		if s.cfg.GlobalTimeout > 0 && s.clock.Now().Sub(start) > s.cfg.GlobalTimeout {
			reason = StopDeadline
			return nil
		}
		s.setState(StateIdle)
	}
}

// runCycle performs one connect → write → disconnect sequence.
// The link is released before the report is published.
func (s *Scheduler) runCycle(ctx context.Context, n int) (report lighthouse.CycleReport) {
	report = lighthouse.CycleReport{Cycle: n, StartedAt: s.clock.Now()}

	defer func() { s.complete(report) }()
	defer s.release()

	report.Err = s.ping(ctx, &report)
	return report
}

// ping connects and delivers the wake command, filling in report timings.
func (s *Scheduler) ping(ctx context.Context, report *lighthouse.CycleReport) error {
	s.setState(StateIdle)

	connectStart := s.clock.Now()
	err := s.session.Connect(ctx, s.cfg.Address, s.cfg.Retry)
	report.ConnectAttempts = s.session.Attempts()
	report.ConnectDuration = s.clock.Now().Sub(connectStart)
	if err != nil {
		return err
	}
	s.setState(StateConnected)

	writeStart := s.clock.Now()
	if err := s.session.WriteCharacteristic(s.cfg.Handle, s.cfg.Command.Bytes()); err != nil {
		return err
	}
	report.WriteDuration = s.clock.Now().Sub(writeStart)
	s.setState(StatePinged)

	if s.cfg.Verbosity >= VerbosityTrace {
		value, err := s.session.ReadCharacteristic(s.cfg.Handle)
		if err != nil {
			return err
		}
		report.ReadBack = value
	}

	return nil
}

// release disconnects; failures are reported through the observer only.
func (s *Scheduler) release() {
	s.session.Disconnect() //nolint:errcheck // Surfaced via EventDisconnected
	s.setState(StateDisconnected)
}

// complete records the report and publishes the cycle outcome.
func (s *Scheduler) complete(report lighthouse.CycleReport) {
	summary := report.Summary()

	s.mu.Lock()
	if report.Err == nil {
		s.status.Cycles++
	} else {
		s.status.Failures++
	}
	s.status.LastCycle = &summary
	s.mu.Unlock()

	eventType := lighthouse.EventCycleComplete
	if report.Err != nil {
		eventType = lighthouse.EventCycleFailed
	}
	s.emit(lighthouse.Event{
		Type:    eventType,
		Address: s.cfg.Address,
		Err:     report.Err,
		Report:  &report,
	})
}

// Status returns a snapshot of the loop.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.status
	if st.LastCycle != nil {
		last := *st.LastCycle
		st.LastCycle = &last
	}
	if st.Deadline != nil {
		deadline := *st.Deadline
		st.Deadline = &deadline
	}
	return st
}

func (s *Scheduler) markStarted(start time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status.StartedAt = start
	if s.cfg.GlobalTimeout > 0 {
		deadline := start.Add(s.cfg.GlobalTimeout)
		s.status.Deadline = &deadline
	}
}

func (s *Scheduler) markStopped(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status.State = StateStopped
	s.status.StopReason = reason
}

func (s *Scheduler) setState(state CycleState) {
	s.mu.Lock()
	s.status.State = state
	s.mu.Unlock()
}

func (s *Scheduler) emit(e lighthouse.Event) {
	e.Time = s.clock.Now()
	s.observer.Observe(e)
}
