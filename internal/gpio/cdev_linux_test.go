package gpio

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warthog618/go-gpiosim"
	"golang.org/x/sys/unix"
)

// simChip builds a gpio-sim chip, skipping where the kernel lacks gpio-sim
// or the test lacks the rights to configure it.
func simChip(t *testing.T, lines int) *gpiosim.Simpleton {
	t.Helper()
	s, err := gpiosim.NewSimpleton(lines)
	if err != nil {
		if s != nil {
			s.Close()
		}
		t.Skipf("gpio-sim unavailable: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// readable polls the handle's descriptor for POLLIN.
func readable(t *testing.T, h Handle, timeout time.Duration) bool {
	t.Helper()
	fds := []unix.PollFd{{Fd: int32(h.Fd()), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	require.NoError(t, err)
	return n == 1 && fds[0].Revents&unix.POLLIN != 0
}

func readDigit(t *testing.T, h Handle) byte {
	t.Helper()
	buf := make([]byte, 1)
	n, err := h.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	return buf[0]
}

func TestCdevEdgeBridge(t *testing.T) {
	s := simChip(t, 4)
	p, err := NewCdevProvider(s.ChipName())
	require.NoError(t, err)

	h, err := p.Open(2, In)
	require.NoError(t, err)
	defer h.Close()

	assert.False(t, h.Priority())
	assert.Equal(t, byte('0'), readDigit(t, h), "gpio-sim lines start pulled down")
	assert.False(t, readable(t, h, 0), "no edge yet")

	require.NoError(t, s.Pullup(2))
	require.True(t, readable(t, h, time.Second), "rising edge not signalled")
	assert.Equal(t, byte('1'), readDigit(t, h))

	require.NoError(t, h.Rewind())
	assert.False(t, readable(t, h, 0), "rewind must clear readiness")

	require.NoError(t, s.Pulldown(2))
	require.True(t, readable(t, h, time.Second), "falling edge not signalled")
	assert.Equal(t, byte('0'), readDigit(t, h))
	require.NoError(t, h.Rewind())

	// Nothing pending: the drain sees EAGAIN and still succeeds.
	require.NoError(t, h.Rewind())
}

func TestCdevOpenOutput(t *testing.T) {
	s := simChip(t, 4)
	p, err := NewCdevProvider(s.ChipName())
	require.NoError(t, err)

	h, err := p.Open(1, Out)
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, byte('0'), readDigit(t, h))
	level, err := s.Level(1)
	require.NoError(t, err)
	assert.Equal(t, 0, level)
}

func TestCdevOpenInvalid(t *testing.T) {
	s := simChip(t, 4)
	p, err := NewCdevProvider(s.ChipName())
	require.NoError(t, err)

	_, err = p.Open(1, "up")
	assert.ErrorIs(t, err, ErrInvalidDirection)

	_, err = p.Open(9, In)
	assert.Error(t, err, "offset beyond the chip")
}

func TestCdevCloseReleasesLine(t *testing.T) {
	s := simChip(t, 4)
	p, err := NewCdevProvider(s.ChipName())
	require.NoError(t, err)

	h, err := p.Open(3, In)
	require.NoError(t, err)
	fd := int(h.Fd())
	require.NoError(t, h.Close())

	_, err = unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	assert.ErrorIs(t, err, unix.EBADF, "eventfd left open")

	// The line is free again once the handle is closed.
	h, err = p.Open(3, In)
	require.NoError(t, err)
	require.NoError(t, h.Close())
}

func TestNewCdevProviderMissingChip(t *testing.T) {
	_, err := NewCdevProvider("gpiochip-missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
