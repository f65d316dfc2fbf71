//go:build !linux

package gpio

import "errors"

// DefaultChip is the GPIO character device used by the cdev provider.
const DefaultChip = "gpiochip0"

// CdevProvider is not available on non-Linux platforms.
type CdevProvider struct {
	Chip     string
	Consumer string
}

// NewCdevProvider returns an error on non-Linux platforms.
func NewCdevProvider(chip string) (*CdevProvider, error) {
	return nil, errors.New("gpio: character device not supported on this platform (requires Linux)")
}

// Open is not implemented on non-Linux platforms.
func (p *CdevProvider) Open(pin int, direction Direction) (Handle, error) {
	return nil, errors.New("gpio: not supported")
}
