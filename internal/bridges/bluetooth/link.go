package bluetooth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/currantlabs/ble"

	"github.com/nerrad567/lhkeeper/internal/lighthouse"
)

// DefaultDisconnectWait bounds how long Disconnect waits for the controller
// to confirm the link is down.
const DefaultDisconnectWait = 2 * time.Second

// DialFunc opens a GATT client connection to addr.
type DialFunc func(ctx context.Context, addr ble.Addr) (ble.Client, error)

// Logger interface for structured logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options configures a Link.
type Options struct {
	// Dial opens the connection. Default: ble.Dial on the default device.
	Dial DialFunc

	// DisconnectWait bounds the wait for disconnection. Default: 2s.
	DisconnectWait time.Duration

	// Logger receives debug output. Optional.
	Logger Logger
}

// Stats holds link counters.
type Stats struct {
	Connected   bool      `json:"connected"`
	Address     string    `json:"address,omitempty"`
	Dials       uint64    `json:"dials"`
	DialErrors  uint64    `json:"dial_errors"`
	Writes      uint64    `json:"writes"`
	Reads       uint64    `json:"reads"`
	LastConnect time.Time `json:"last_connect,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// Link is a single GATT client connection, reusable across cycles.
//
// Thread Safety:
//   - All methods are safe for concurrent use; the keep-alive loop is the
//     only writer, the status API only reads Stats.
type Link struct {
	dial           DialFunc
	disconnectWait time.Duration
	logger         Logger

	mu      sync.Mutex
	client  ble.Client
	address string
	stats   Stats
}

// NewLink creates a disconnected Link.
func NewLink(opts Options) *Link {
	if opts.Dial == nil {
		opts.Dial = ble.Dial
	}
	if opts.DisconnectWait <= 0 {
		opts.DisconnectWait = DefaultDisconnectWait
	}
	return &Link{
		dial:           opts.Dial,
		disconnectWait: opts.DisconnectWait,
		logger:         opts.Logger,
	}
}

// Connect dials the peripheral at address.
//
// Failures to reach the peer (no answer, connection dropped during setup)
// are reported as transient (lighthouse.ErrDisconnected) so the session may
// retry them. Adapter and host errors, such as a missing default device, and
// context errors are returned as-is.
//
// Parameters:
//   - ctx: Bounds the dial
//   - address: MAC address, e.g. "aa:bb:cc:dd:ee:ff"
//
// Returns:
//   - error: nil once the GATT client is connected
func (l *Link) Connect(ctx context.Context, address string) error {
	l.mu.Lock()
	stale := l.client
	l.client = nil
	l.stats.Dials++
	l.mu.Unlock()

	if stale != nil {
		stale.CancelConnection() //nolint:errcheck // Replacing a stale connection
	}

	l.logDebug("dialing", "address", address)
	cln, err := l.dial(ctx, ble.NewAddr(address))
	if err != nil {
		l.recordError(err, true)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("dialing %s: %w", address, ctxErr)
		}
		if !isPeerUnreachable(err) {
			return fmt.Errorf("dialing %s: %w", address, err)
		}
		return fmt.Errorf("%w: dialing %s: %w", lighthouse.ErrDisconnected, address, err)
	}

	l.mu.Lock()
	l.client = cln
	l.address = address
	l.stats.Connected = true
	l.stats.Address = address
	l.stats.LastConnect = time.Now()
	l.mu.Unlock()

	l.logDebug("connected", "address", address)
	return nil
}

// WriteCharacteristic writes value to the attribute at handle, with response.
func (l *Link) WriteCharacteristic(handle uint16, value []byte) error {
	cln, err := l.current()
	if err != nil {
		return err
	}

	if err := cln.WriteCharacteristic(&ble.Characteristic{ValueHandle: handle}, value, false); err != nil {
		l.recordError(err, false)
		return l.annotate(cln, err)
	}

	l.mu.Lock()
	l.stats.Writes++
	l.mu.Unlock()
	return nil
}

// ReadCharacteristic reads the attribute value at handle.
func (l *Link) ReadCharacteristic(handle uint16) ([]byte, error) {
	cln, err := l.current()
	if err != nil {
		return nil, err
	}

	value, err := cln.ReadCharacteristic(&ble.Characteristic{ValueHandle: handle})
	if err != nil {
		l.recordError(err, false)
		return nil, l.annotate(cln, err)
	}

	l.mu.Lock()
	l.stats.Reads++
	l.mu.Unlock()
	return value, nil
}

// Disconnect cancels the connection and waits briefly for the controller to
// confirm it. Without a connection it returns nil.
func (l *Link) Disconnect() error {
	l.mu.Lock()
	cln := l.client
	address := l.address
	l.client = nil
	l.address = ""
	l.stats.Connected = false
	l.mu.Unlock()

	if cln == nil {
		return nil
	}

	err := cln.CancelConnection()

	timer := time.NewTimer(l.disconnectWait)
	defer timer.Stop()
	select {
	case <-cln.Disconnected():
	case <-timer.C:
		l.logWarn("disconnect not confirmed", "address", address, "waited", l.disconnectWait)
	}

	if err != nil {
		l.recordError(err, false)
		return fmt.Errorf("cancelling connection to %s: %w", address, err)
	}
	l.logDebug("disconnected", "address", address)
	return nil
}

// IsConnected reports whether a client connection is held.
func (l *Link) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.client != nil
}

// Stats returns a copy of the link counters.
func (l *Link) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func (l *Link) current() (ble.Client, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client == nil {
		return nil, lighthouse.ErrNotConnected
	}
	return l.client, nil
}

// annotate marks err as a disconnection when the peer dropped the link.
func (l *Link) annotate(cln ble.Client, err error) error {
	select {
	case <-cln.Disconnected():
		if !errors.Is(err, lighthouse.ErrDisconnected) {
			return fmt.Errorf("%w: %w", lighthouse.ErrDisconnected, err)
		}
	default:
	}
	return err
}

func (l *Link) recordError(err error, dial bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if dial {
		l.stats.DialErrors++
	}
	l.stats.LastError = err.Error()
}

func (l *Link) logDebug(msg string, keysAndValues ...any) {
	if l.logger != nil {
		l.logger.Debug(msg, keysAndValues...)
	}
}

func (l *Link) logWarn(msg string, keysAndValues ...any) {
	if l.logger != nil {
		l.logger.Warn(msg, keysAndValues...)
	}
}
