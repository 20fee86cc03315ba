package lighthouse

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Wake command layout constants.
const (
	// WakeCommandSize is the fixed length of a wake command frame.
	WakeCommandSize = 20

	// PrimaryHeader is the first byte of every wake command.
	PrimaryHeader byte = 0x12

	// DefaultSecondaryHeader is used when no override is configured.
	DefaultSecondaryHeader byte = 0x02

	// DefaultHandle is the ATT value handle of the power-management characteristic.
	DefaultHandle uint16 = 0x35

	// DefaultDeviceTimeout is the off-timeout (seconds) written to the station.
	DefaultDeviceTimeout uint16 = 60

	offsetSecondary = 1
	offsetTimeout   = 2
	offsetDeviceID  = 4
	offsetPadding   = 8
)

// deviceIDPrefix is the label printed on the back of v1 stations ("LHB-1A2B3C4D").
const deviceIDPrefix = "LHB-"

// DeviceID is the 32-bit identifier of a lighthouse.
type DeviceID uint32

// ParseDeviceID parses a hexadecimal device identifier.
//
// Accepted forms: "DEADBEEF", "0xdeadbeef", "LHB-DEADBEEF".
//
// Parameters:
//   - s: Identifier text as supplied by the operator
//
// Returns:
//   - DeviceID: Parsed identifier
//   - error: Wraps ErrConfiguration if s is empty, not hex, or wider than 32 bits
func ParseDeviceID(s string) (DeviceID, error) {
	v := strings.TrimSpace(s)
	if len(v) >= len(deviceIDPrefix) && strings.EqualFold(v[:len(deviceIDPrefix)], deviceIDPrefix) {
		v = v[len(deviceIDPrefix):]
	}
	v = strings.TrimPrefix(strings.TrimPrefix(v, "0x"), "0X")
	if v == "" {
		return 0, fmt.Errorf("%w: device id is empty", ErrConfiguration)
	}

	n, err := strconv.ParseUint(v, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: device id %q is not a 32-bit hex value", ErrConfiguration, s)
	}
	return DeviceID(n), nil
}

// String returns the identifier as 8 upper-case hex digits.
func (id DeviceID) String() string {
	return fmt.Sprintf("%08X", uint32(id))
}

// WakeCommand is an immutable wake command frame.
type WakeCommand [WakeCommandSize]byte

// BuildWakeCommand assembles the wake command for a lighthouse.
//
// The result is deterministic: identical inputs always produce identical bytes.
// Range checks on the inputs are the caller's job (see config.Validate);
// the parameter types already bound both values.
//
// Parameters:
//   - id: Lighthouse identifier, encoded little-endian
//   - offTimeout: Seconds the station stays on without a ping, encoded big-endian
//   - secondary: Second header byte (DefaultSecondaryHeader unless overridden)
//
// Returns:
//   - WakeCommand: The 20-byte frame
func BuildWakeCommand(id DeviceID, offTimeout uint16, secondary byte) WakeCommand {
	var cmd WakeCommand
	cmd[0] = PrimaryHeader
	cmd[offsetSecondary] = secondary
	binary.BigEndian.PutUint16(cmd[offsetTimeout:offsetDeviceID], offTimeout)
	binary.LittleEndian.PutUint32(cmd[offsetDeviceID:offsetPadding], uint32(id))
	return cmd
}

// Bytes returns a copy of the frame suitable for handing to a transport.
func (c WakeCommand) Bytes() []byte {
	b := make([]byte, WakeCommandSize)
	copy(b, c[:])
	return b
}

// String returns the frame as lower-case hex.
func (c WakeCommand) String() string {
	return hex.EncodeToString(c[:])
}

// DeviceID decodes the identifier field.
func (c WakeCommand) DeviceID() DeviceID {
	return DeviceID(binary.LittleEndian.Uint32(c[offsetDeviceID:offsetPadding]))
}

// OffTimeout decodes the off-timeout field (seconds).
func (c WakeCommand) OffTimeout() uint16 {
	return binary.BigEndian.Uint16(c[offsetTimeout:offsetDeviceID])
}
