//go:build linux

package watch

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sweeney/gpiowatch/internal/gpio"
)

// UnixPoller waits with poll(2). Priority handles are watched for
// POLLPRI|POLLERR (sysfs value files), others for POLLIN. An eventfd is
// appended to every wait so Wake can interrupt it.
type UnixPoller struct {
	wake int
	fds  []unix.PollFd
}

// NewPoller creates a poller and its wake descriptor.
func NewPoller() (*UnixPoller, error) {
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	return &UnixPoller{wake: efd}, nil
}

// Wait implements Poller.
func (p *UnixPoller) Wait(handles []gpio.Handle, timeout time.Duration, fired []bool) (int, error) {
	fds := p.fds[:0]
	for _, h := range handles {
		events := int16(unix.POLLIN)
		if h.Priority() {
			events = unix.POLLPRI | unix.POLLERR
		}
		fds = append(fds, unix.PollFd{Fd: int32(h.Fd()), Events: events})
	}
	fds = append(fds, unix.PollFd{Fd: int32(p.wake), Events: unix.POLLIN})
	p.fds = fds

	n, err := unix.Poll(fds, pollMillis(timeout))
	if errors.Is(err, unix.EINTR) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}

	count := 0
	for i, h := range handles {
		re := fds[i].Revents
		if re&unix.POLLNVAL != 0 {
			return 0, fmt.Errorf("gpio descriptor %d is not open", fds[i].Fd)
		}
		var ready bool
		if h.Priority() {
			ready = re&unix.POLLPRI != 0
		} else {
			ready = re&unix.POLLIN != 0
		}
		if ready {
			fired[i] = true
			count++
		}
	}
	if fds[len(handles)].Revents&unix.POLLIN != 0 {
		p.drain()
	}
	return count, nil
}

// Wake interrupts a blocked Wait, which then reports a timeout.
func (p *UnixPoller) Wake() error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], 1)
	_, err := unix.Write(p.wake, b[:])
	return err
}

func (p *UnixPoller) drain() {
	var b [8]byte
	unix.Read(p.wake, b[:])
}

// Close releases the wake descriptor.
func (p *UnixPoller) Close() error {
	return unix.Close(p.wake)
}

// pollMillis converts timeout to poll's milliseconds, rounding up so a
// positive timeout never becomes a zero-wait poll.
func pollMillis(timeout time.Duration) int {
	if timeout <= 0 {
		return 0
	}
	return int((timeout + time.Millisecond - 1) / time.Millisecond)
}
