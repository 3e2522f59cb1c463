//go:build !linux

package gpio

import "errors"

// RealWriter is not available on non-Linux platforms.
type RealWriter struct{}

// Options configures a RealWriter.
type Options struct {
	Chip      string
	ActiveLow bool
}

// NewRealWriter returns an error on non-Linux platforms.
func NewRealWriter(opts Options) (*RealWriter, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Prepare is not implemented on non-Linux platforms.
func (w *RealWriter) Prepare(pins ...int) error {
	return errors.New("gpio: not supported")
}

// Set is not implemented on non-Linux platforms.
func (w *RealWriter) Set(pin int, on bool) error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (w *RealWriter) Close() error {
	return nil
}
