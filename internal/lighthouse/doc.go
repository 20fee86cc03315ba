// Package lighthouse holds the domain model shared by every lhkeeper component.
//
// An HTC Vive v1 lighthouse (base station) powers itself off once its
// inactivity timer expires. Writing a wake command to its power-management
// characteristic resets that timer and tells the station how long to stay on.
//
// # Wake Command
//
// The command is a fixed 20-byte frame:
//
//	offset  size  field                encoding
//	0       1     primary header       0x12
//	1       1     secondary header     default 0x02
//	2       2     off-timeout seconds  big-endian
//	4       4     device identifier    little-endian
//	8       12    padding              zero
//
// Example:
//
//	id, err := lighthouse.ParseDeviceID("LHB-DEADBEEF")
//	if err != nil {
//	    return err
//	}
//	cmd := lighthouse.BuildWakeCommand(id, 60, lighthouse.DefaultSecondaryHeader)
//	fmt.Println(cmd) // 1202003cefbeadde000000000000000000000000
//
// # Errors
//
// Failures are sorted into a closed set of kinds (see ErrorKind). Only
// ErrDisconnected is retryable; everything else is fatal for the run.
//
// # Events
//
// Progress is reported as Event values to an Observer. Observers must not
// block: they run on the keep-alive loop's goroutine.
package lighthouse
