//go:build !linux

package watch

import (
	"errors"
	"time"

	"github.com/sweeney/gpiowatch/internal/gpio"
)

// UnixPoller is not available on non-Linux platforms.
type UnixPoller struct{}

// NewPoller returns an error on non-Linux platforms.
func NewPoller() (*UnixPoller, error) {
	return nil, errors.New("watch: poll not supported on this platform (requires Linux)")
}

// Wait is not implemented on non-Linux platforms.
func (p *UnixPoller) Wait([]gpio.Handle, time.Duration, []bool) (int, error) {
	return 0, errors.New("watch: not supported")
}

// Wake is not implemented on non-Linux platforms.
func (p *UnixPoller) Wake() error {
	return nil
}

// Close is not implemented on non-Linux platforms.
func (p *UnixPoller) Close() error {
	return nil
}
