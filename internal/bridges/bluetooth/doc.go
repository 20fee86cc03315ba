// Package bluetooth implements the keep-alive link on a host BLE adapter.
//
// It wraps github.com/currantlabs/ble: a Link dials the station by address,
// writes and reads characteristic values by ATT handle, and cancels the
// connection when released. The HCI adapter itself is opened once per
// process with OpenAdapter, which registers it as the library's default
// device.
//
// Only Linux adapters are supported. Scanning is not used; the station's
// address must be known.
package bluetooth
