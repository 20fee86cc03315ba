package lighthouse

import (
	"context"
	"time"
)

// Clock abstracts time so the loop can be driven by a simulated clock in tests.
type Clock interface {
	// Now returns the current time. The system clock carries a monotonic
	// reading, so Sub between two Now values is immune to wall-clock jumps.
	Now() time.Time

	// Sleep suspends for d or until ctx is done, whichever comes first.
	// It returns ctx.Err() if interrupted.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the real-time Clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Sleep implements Clock.
func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
