//go:build !linux

package bluetooth

func openDevice() (stopper, error) {
	return nil, ErrUnsupported
}
