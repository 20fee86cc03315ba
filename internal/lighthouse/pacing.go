package lighthouse

import (
	"fmt"
	"time"
)

// PingTimeoutFactor is the largest fraction of the device timeout a ping
// interval may use.
const PingTimeoutFactor = 0.75

// Loop defaults, in seconds unless noted.
const (
	DefaultPingInterval   = 20
	DefaultGlobalTimeout  = 0
	DefaultRetryCount     = 5
	DefaultRetryPause     = 2
	DefaultConnectTimeout = 10
)

// CheckPacing verifies a ping interval leaves the station enough margin.
//
// A zero interval or zero device timeout disables the check.
//
// Returns:
//   - error: Wraps ErrConfiguration when interval >= 0.75 * deviceTimeout
func CheckPacing(interval, deviceTimeout time.Duration) error {
	if interval == 0 || deviceTimeout == 0 {
		return nil
	}
	limit := time.Duration(float64(deviceTimeout) * PingTimeoutFactor)
	if interval >= limit {
		return fmt.Errorf("%w: ping interval %v must be below %.2f of the device timeout (%v)",
			ErrConfiguration, interval, PingTimeoutFactor, limit)
	}
	return nil
}
