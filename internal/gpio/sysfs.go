package gpio

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// DefaultSysfsRoot is where the kernel exposes the legacy GPIO interface.
const DefaultSysfsRoot = "/sys/class/gpio"

// DefaultEdge makes the value file signal both rising and falling edges.
const DefaultEdge = "both"

// DefaultSettle bounds the wait for a freshly exported pin to appear and
// for udev to hand its attributes to the gpio group.
const DefaultSettle = 500 * time.Millisecond

const settlePoll = 10 * time.Millisecond

// SysfsProvider opens pins through the sysfs GPIO interface.
type SysfsProvider struct {
	// Root is the sysfs gpio class directory.
	Root string

	// Edge is written to gpioN/edge for input pins.
	Edge string

	// Settle bounds the retries after an export. Zero tries once.
	Settle time.Duration
}

// NewSysfsProvider creates a provider rooted at root (DefaultSysfsRoot if empty).
func NewSysfsProvider(root string) *SysfsProvider {
	if root == "" {
		root = DefaultSysfsRoot
	}
	return &SysfsProvider{Root: root, Edge: DefaultEdge, Settle: DefaultSettle}
}

// Open exports the pin if needed, sets its direction (and edge for inputs)
// and opens its value file.
func (p *SysfsProvider) Open(pin int, direction Direction) (Handle, error) {
	if _, err := ParseDirection(string(direction)); err != nil {
		return nil, err
	}
	if pin < 0 {
		return nil, errors.Errorf("invalid pin %d", pin)
	}

	base, err := p.export(pin)
	if err != nil {
		return nil, err
	}

	if err := p.settle(func() error { return writeAttr(filepath.Join(base, "direction"), string(direction)) }); err != nil {
		return nil, errors.Wrapf(err, "set direction of gpio%d", pin)
	}

	flag := os.O_RDWR
	if direction == In {
		flag = os.O_RDONLY
		edge := p.Edge
		if edge == "" {
			edge = DefaultEdge
		}
		if err := p.settle(func() error { return writeAttr(filepath.Join(base, "edge"), edge) }); err != nil {
			return nil, errors.Wrapf(err, "set edge of gpio%d", pin)
		}
	}

	f, err := os.OpenFile(filepath.Join(base, "value"), flag, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open value of gpio%d", pin)
	}
	return &sysfsHandle{File: f}, nil
}

// Unexport asks the kernel to remove the pin from sysfs.
func (p *SysfsProvider) Unexport(pin int) error {
	err := writeAttr(filepath.Join(p.root(), "unexport"), strconv.Itoa(pin))
	return errors.Wrapf(err, "unexport gpio%d", pin)
}

func (p *SysfsProvider) root() string {
	if p.Root == "" {
		return DefaultSysfsRoot
	}
	return p.Root
}

// export writes the pin number to the export file unless gpioN already exists.
func (p *SysfsProvider) export(pin int) (string, error) {
	base := filepath.Join(p.root(), "gpio"+strconv.Itoa(pin))
	if _, err := os.Stat(base); err == nil {
		return base, nil
	}
	if err := writeAttr(filepath.Join(p.root(), "export"), strconv.Itoa(pin)); err != nil {
		return "", errors.Wrapf(err, "export gpio%d", pin)
	}
	err := p.settle(func() error {
		_, err := os.Stat(base)
		return err
	})
	if err != nil {
		return "", errors.Wrapf(err, "gpio%d not exported", pin)
	}
	return base, nil
}

// settle retries fn while it fails with a missing file or a permission
// error, until Settle has passed.
func (p *SysfsProvider) settle(fn func() error) error {
	deadline := time.Now().Add(p.Settle)
	for {
		err := fn()
		if err == nil || !(errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission)) {
			return err
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(settlePoll)
	}
}

func writeAttr(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(value); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// sysfsHandle is a gpioN/value file. The kernel flags a value change with
// POLLPRI|POLLERR on the open descriptor.
type sysfsHandle struct {
	*os.File
}

func (h *sysfsHandle) Rewind() error {
	_, err := h.Seek(0, io.SeekStart)
	return err
}

func (h *sysfsHandle) Priority() bool {
	return true
}
