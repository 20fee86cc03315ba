package bluetooth

import (
	"errors"
	"strings"

	"github.com/currantlabs/ble"
)

// Domain errors for the bluetooth bridge package.
var (
	// ErrAdapter is returned when the host BLE adapter cannot be opened.
	ErrAdapter = errors.New("bluetooth: adapter unavailable")

	// ErrUnsupported is returned on platforms without an HCI backend.
	ErrUnsupported = errors.New("bluetooth: platform not supported")
)

// peerUnreachable holds the controller failures that mean the peripheral did
// not answer or dropped the link while it was being set up. Matched
// case-insensitively against the dial error text.
var peerUnreachable = []string{
	"connection failed to be established",
	"connection timeout",
	"page timeout",
	"timed out",
	"remote user terminated",
	"connection terminated",
	"disconnected",
}

// isPeerUnreachable reports whether a dial error is a transient failure to
// reach the peer. Host and adapter errors (no default device, invalid
// address, busy controller, socket errors) are not.
func isPeerUnreachable(err error) bool {
	if errors.Is(err, ble.ErrDefaultDevice) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range peerUnreachable {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
