//go:build linux

package bluetooth

import (
	"fmt"

	"github.com/currantlabs/ble"
	"github.com/currantlabs/ble/linux"
)

func openDevice() (stopper, error) {
	d, err := linux.NewDevice()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAdapter, err)
	}
	ble.SetDefaultDevice(d)
	return d, nil
}
