package keepalive

import (
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/lhkeeper/internal/lighthouse"
	"github.com/nerrad567/lhkeeper/internal/link"
)

// Verbosity levels for progress reporting.
const (
	VerbositySilent = 0
	VerbosityInfo   = 1
	VerbosityTrace  = 2 // also reads the characteristic back after each write
)

// Config is the immutable input of a keep-alive run.
type Config struct {
	// LighthouseID identifies the station (for status and telemetry).
	LighthouseID lighthouse.DeviceID

	// Address is the peripheral's BLE address.
	Address string

	// Handle is the characteristic value handle the command is written to.
	Handle uint16

	// Command is the wake command, built once per run.
	Command lighthouse.WakeCommand

	// DeviceTimeout is the station's own off-timeout.
	DeviceTimeout time.Duration

	// PingInterval is the sleep between two cycles.
	PingInterval time.Duration

	// GlobalTimeout stops the loop once exceeded. Zero runs forever.
	GlobalTimeout time.Duration

	// ConnectTimeout bounds each dial attempt. Zero means unbounded.
	ConnectTimeout time.Duration

	// Retry governs connection attempts within one cycle.
	Retry link.RetryPolicy

	// Verbosity selects read-back tracing (VerbosityTrace).
	Verbosity int
}

// Validate enforces the invariants that must hold before the loop starts.
//
// Returns:
//   - error: Wraps lighthouse.ErrConfiguration listing every violation
func (c Config) Validate() error {
	var errs []string

	if c.Address == "" {
		errs = append(errs, "address is required (scanning is not supported)")
	}
	if c.Handle == 0 {
		errs = append(errs, "handle must be non-zero")
	}
	if c.PingInterval < 0 {
		errs = append(errs, "ping interval must not be negative")
	}
	if c.GlobalTimeout < 0 {
		errs = append(errs, "global timeout must not be negative")
	}
	if c.ConnectTimeout < 0 {
		errs = append(errs, "connect timeout must not be negative")
	}
	if err := c.Retry.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := lighthouse.CheckPacing(c.PingInterval, c.DeviceTimeout); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", lighthouse.ErrConfiguration, strings.Join(errs, "; "))
	}
	return nil
}
