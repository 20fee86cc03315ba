package link

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/lhkeeper/internal/lighthouse"
)

// State is the lifecycle of one connection.
type State string

// Session states.
const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// RetryPolicy bounds connection attempts.
type RetryPolicy struct {
	// MaxAttempts is the total number of dial attempts, including the first.
	MaxAttempts int

	// Pause is the wait between two attempts. No pause follows the last one.
	Pause time.Duration
}

// Validate checks the policy is usable.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: retry attempts must be at least 1, got %d", lighthouse.ErrConfiguration, p.MaxAttempts)
	}
	if p.Pause < 0 {
		return fmt.Errorf("%w: retry pause must not be negative, got %v", lighthouse.ErrConfiguration, p.Pause)
	}
	return nil
}

// Options configures a Session.
type Options struct {
	// Link is the transport. Required.
	Link Link

	// Clock paces retries. Default: lighthouse.SystemClock.
	Clock lighthouse.Clock

	// Observer receives progress events. Default: discard.
	Observer lighthouse.Observer

	// ConnectTimeout bounds each dial attempt. Zero means no per-attempt bound.
	// A timed-out attempt counts as a retryable disconnection.
	ConnectTimeout time.Duration
}

// Session owns one Link for the duration of a ping cycle.
//
// Thread Safety:
//   - A Session is used by a single goroutine (the keep-alive loop).
type Session struct {
	link           Link
	clock          lighthouse.Clock
	observer       lighthouse.Observer
	connectTimeout time.Duration

	state    State
	address  string
	attempts int
}

// NewSession creates a disconnected Session.
//
// Returns:
//   - *Session: Ready to Connect
//   - error: If opts.Link is nil
func NewSession(opts Options) (*Session, error) {
	if opts.Link == nil {
		return nil, errors.New("link: transport is required")
	}
	if opts.Clock == nil {
		opts.Clock = lighthouse.SystemClock{}
	}
	if opts.Observer == nil {
		opts.Observer = lighthouse.NopObserver
	}

	return &Session{
		link:           opts.Link,
		clock:          opts.Clock,
		observer:       opts.Observer,
		connectTimeout: opts.ConnectTimeout,
		state:          StateDisconnected,
	}, nil
}

// Connect establishes the link, retrying disconnection-class failures.
//
// Behaviour:
//   - A failure wrapping lighthouse.ErrDisconnected consumes one attempt; if
//     attempts remain the session pauses for policy.Pause and dials again.
//   - When the last attempt fails, the error wraps lighthouse.ErrConnection.
//   - Any other failure is returned immediately, without retry.
//   - A still-open link from an earlier cycle is released first.
//
// Parameters:
//   - ctx: Cancels dialing and the retry pause
//   - address: Peripheral address (MAC on Linux)
//   - policy: Attempt budget and pause
//
// Returns:
//   - error: nil once connected
func (s *Session) Connect(ctx context.Context, address string, policy RetryPolicy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	if s.state != StateDisconnected {
		s.Disconnect() //nolint:errcheck // Best-effort release of a stale link
	}

	s.attempts = 0
	for {
		s.attempts++
		s.state = StateConnecting
		s.emit(lighthouse.Event{
			Type:    lighthouse.EventConnecting,
			Address: address,
			Attempt: s.attempts,
		})

		err := s.dial(ctx, address)
		if err == nil {
			s.state = StateConnected
			s.address = address
			s.emit(lighthouse.Event{
				Type:    lighthouse.EventConnected,
				Address: address,
				Attempt: s.attempts,
				State:   string(s.state),
			})
			return nil
		}
		s.state = StateDisconnected

		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("connecting to %s: %w", address, ctxErr)
		}
		if !lighthouse.IsRetryable(err) {
			return fmt.Errorf("connecting to %s: %w", address, err)
		}
		if s.attempts >= policy.MaxAttempts {
			return fmt.Errorf("%w: %s after %d attempts: %w", lighthouse.ErrConnection, address, s.attempts, err)
		}

		s.emit(lighthouse.Event{
			Type:     lighthouse.EventConnectFailed,
			Address:  address,
			Attempt:  s.attempts,
			Duration: policy.Pause,
			Err:      err,
		})
		if err := s.clock.Sleep(ctx, policy.Pause); err != nil {
			return fmt.Errorf("waiting to reconnect to %s: %w", address, err)
		}
	}
}

// dial performs one attempt, bounded by the per-attempt timeout.
func (s *Session) dial(ctx context.Context, address string) error {
	if s.connectTimeout <= 0 {
		return s.link.Connect(ctx, address)
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()

	err := s.link.Connect(dialCtx, address)
	if err != nil && ctx.Err() == nil && errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: no answer within %v", lighthouse.ErrDisconnected, s.connectTimeout)
	}
	return err
}

// WriteCharacteristic writes value to handle.
//
// Failures are not retried here; the caller decides.
//
// Returns:
//   - error: Wraps lighthouse.ErrWrite on failure
func (s *Session) WriteCharacteristic(handle uint16, value []byte) error {
	if s.state != StateConnected {
		return fmt.Errorf("%w: handle 0x%02x: %w", lighthouse.ErrWrite, handle, lighthouse.ErrNotConnected)
	}

	s.emit(lighthouse.Event{
		Type:    lighthouse.EventWriting,
		Address: s.address,
		Handle:  handle,
		Payload: value,
	})

	start := s.clock.Now()
	if err := s.link.WriteCharacteristic(handle, value); err != nil {
		return fmt.Errorf("%w: handle 0x%02x: %w", lighthouse.ErrWrite, handle, err)
	}

	s.emit(lighthouse.Event{
		Type:     lighthouse.EventWritten,
		Address:  s.address,
		Handle:   handle,
		Payload:  value,
		Duration: s.clock.Now().Sub(start),
	})
	return nil
}

// ReadCharacteristic reads the value at handle.
//
// Returns:
//   - []byte: Attribute value
//   - error: Wraps lighthouse.ErrRead on failure
func (s *Session) ReadCharacteristic(handle uint16) ([]byte, error) {
	if s.state != StateConnected {
		return nil, fmt.Errorf("%w: handle 0x%02x: %w", lighthouse.ErrRead, handle, lighthouse.ErrNotConnected)
	}

	s.emit(lighthouse.Event{
		Type:    lighthouse.EventReading,
		Address: s.address,
		Handle:  handle,
	})

	value, err := s.link.ReadCharacteristic(handle)
	if err != nil {
		return nil, fmt.Errorf("%w: handle 0x%02x: %w", lighthouse.ErrRead, handle, err)
	}

	s.emit(lighthouse.Event{
		Type:    lighthouse.EventRead,
		Address: s.address,
		Handle:  handle,
		Payload: value,
	})
	return value, nil
}

// Disconnect releases the link.
//
// It is idempotent: without an open link it does nothing and returns nil.
// The session is marked disconnected even if the transport reports an error,
// so the next Connect never assumes a stale link.
//
// Returns:
//   - error: Transport error from releasing the link, for logging only
func (s *Session) Disconnect() error {
	if s.state == StateDisconnected {
		return nil
	}

	address := s.address
	s.state = StateDisconnected
	s.address = ""

	err := s.link.Disconnect()
	s.emit(lighthouse.Event{
		Type:    lighthouse.EventDisconnected,
		Address: address,
		State:   string(s.state),
		Err:     err,
	})
	if err != nil {
		return fmt.Errorf("disconnecting from %s: %w", address, err)
	}
	return nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Attempts returns how many dials the last Connect made.
func (s *Session) Attempts() int {
	return s.attempts
}

func (s *Session) emit(e lighthouse.Event) {
	e.Time = s.clock.Now()
	s.observer.Observe(e)
}
