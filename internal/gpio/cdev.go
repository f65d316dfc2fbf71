//go:build linux

package gpio

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
	"golang.org/x/sys/unix"
)

// DefaultChip is the GPIO character device used by the cdev provider.
const DefaultChip = "gpiochip0"

// CdevProvider opens pins as lines on a GPIO character device.
// The pin number is the line offset on Chip.
type CdevProvider struct {
	Chip     string
	Consumer string
}

// NewCdevProvider creates a provider for the named chip (DefaultChip if empty).
func NewCdevProvider(chip string) (*CdevProvider, error) {
	if chip == "" {
		chip = DefaultChip
	}
	if err := gpiocdev.IsChip(chip); err != nil {
		return nil, fmt.Errorf("gpio chip %s: %w", chip, err)
	}
	return &CdevProvider{Chip: chip, Consumer: "gpiowatch"}, nil
}

// Open requests the line. Input lines get both-edge detection; each edge
// bumps an eventfd so the handle can join a multiplexed wait.
func (p *CdevProvider) Open(pin int, direction Direction) (Handle, error) {
	if _, err := ParseDirection(string(direction)); err != nil {
		return nil, err
	}

	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	h := &cdevHandle{efd: efd}

	opts := []gpiocdev.LineReqOption{gpiocdev.WithConsumer(p.Consumer)}
	if direction == In {
		opts = append(opts, gpiocdev.AsInput, gpiocdev.WithBothEdges, gpiocdev.WithEventHandler(h.onEdge))
	} else {
		opts = append(opts, gpiocdev.AsOutput(0))
	}

	line, err := gpiocdev.RequestLine(p.Chip, pin, opts...)
	if err != nil {
		unix.Close(efd)
		return nil, fmt.Errorf("request line %s:%d: %w", p.Chip, pin, err)
	}
	h.line = line
	return h, nil
}

// cdevHandle adapts a requested line to the Handle contract.
type cdevHandle struct {
	line *gpiocdev.Line
	efd  int
}

var one = func() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, 1)
	return b
}()

func (h *cdevHandle) onEdge(gpiocdev.LineEvent) {
	unix.Write(h.efd, one)
}

// Read reports the current line value as '0' or '1'.
func (h *cdevHandle) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	v, err := h.line.Value()
	if err != nil {
		return 0, err
	}
	p[0] = '0' + byte(v)
	return 1, nil
}

// Rewind drains pending edge notifications.
func (h *cdevHandle) Rewind() error {
	var buf [8]byte
	_, err := unix.Read(h.efd, buf[:])
	if errors.Is(err, unix.EAGAIN) {
		return nil
	}
	return err
}

func (h *cdevHandle) Fd() uintptr {
	return uintptr(h.efd)
}

func (h *cdevHandle) Priority() bool {
	return false
}

func (h *cdevHandle) Close() error {
	var errs []error
	if h.line != nil {
		if err := h.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line: %w", err))
		}
	}
	if err := unix.Close(h.efd); err != nil {
		errs = append(errs, fmt.Errorf("close eventfd: %w", err))
	}
	return errors.Join(errs...)
}
