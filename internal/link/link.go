// Package link manages the lifecycle of a single BLE connection to a lighthouse.
//
// A Session wraps a Link (the raw transport) with bounded connect retries,
// characteristic I/O tracing and an idempotent Disconnect that is safe to
// call on every exit path.
//
// Typical cycle:
//
//	if err := sess.Connect(ctx, "aa:bb:cc:dd:ee:ff", policy); err != nil {
//	    return err
//	}
//	defer sess.Disconnect()
//	return sess.WriteCharacteristic(0x35, cmd.Bytes())
package link

import "context"

// Link is the transport capability a Session drives.
//
// Implementations must wrap lighthouse.ErrDisconnected into Connect errors
// that are worth retrying (link dropped, peer not answering). Any other
// error is treated as fatal.
type Link interface {
	// Connect establishes a link to the peripheral at address.
	// It must return when ctx is done.
	Connect(ctx context.Context, address string) error

	// WriteCharacteristic writes value to the attribute at handle and waits
	// for the write response.
	WriteCharacteristic(handle uint16, value []byte) error

	// ReadCharacteristic reads the attribute at handle.
	ReadCharacteristic(handle uint16) ([]byte, error)

	// Disconnect releases the link. Calling it without a link is a no-op.
	Disconnect() error
}
