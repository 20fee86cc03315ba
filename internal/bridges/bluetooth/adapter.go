package bluetooth

import "sync"

// stopper is the part of a BLE device the adapter needs to release it.
type stopper interface {
	Stop() error
}

// Adapter is the host's BLE controller, registered as the default device.
//
// Thread Safety:
//   - Close is safe to call more than once and from any goroutine.
type Adapter struct {
	dev  stopper
	once sync.Once
	err  error
}

// OpenAdapter opens the host's HCI adapter and makes it the default device
// used by Dial.
//
// Returns:
//   - *Adapter: Close it on shutdown
//   - error: Wraps ErrAdapter, or ErrUnsupported off Linux
func OpenAdapter() (*Adapter, error) {
	dev, err := openDevice()
	if err != nil {
		return nil, err
	}
	return &Adapter{dev: dev}, nil
}

// Close stops the adapter.
func (a *Adapter) Close() error {
	a.once.Do(func() {
		if a.dev != nil {
			a.err = a.dev.Stop()
		}
	})
	return a.err
}
