package gpio

import (
	"errors"
	"io"
	"testing"
)

func TestFakeHandleRead(t *testing.T) {
	f := NewFakeHandle('1', '0')
	buf := make([]byte, 1)

	if _, err := io.ReadFull(f, buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf[0] != '1' {
		t.Errorf("read 0: got %q, want '1'", buf[0])
	}

	if _, err := io.ReadFull(f, buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf[0] != '0' {
		t.Errorf("read 1: got %q, want '0'", buf[0])
	}

	// Third read should repeat last value
	if _, err := io.ReadFull(f, buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf[0] != '0' {
		t.Errorf("read 2 (repeat): got %q, want '0'", buf[0])
	}
	if f.Reads != 3 {
		t.Errorf("Reads: got %d, want 3", f.Reads)
	}
}

func TestFakeHandleNoValues(t *testing.T) {
	f := NewFakeHandle()

	if _, err := f.Read(make([]byte, 1)); err == nil {
		t.Error("expected error with no values")
	}
}

func TestFakeHandleReadError(t *testing.T) {
	f := NewFakeHandle('1')
	f.ReadError = errors.New("simulated error")

	_, err := f.Read(make([]byte, 1))
	if err == nil || err.Error() != "simulated error" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestFakeHandleRewindErrors(t *testing.T) {
	boom := errors.New("seek failed")
	f := NewFakeHandle('1')
	f.RewindErrors = []error{boom, nil}

	if err := f.Rewind(); err != boom {
		t.Errorf("rewind 0: got %v, want %v", err, boom)
	}
	if err := f.Rewind(); err != nil {
		t.Errorf("rewind 1: got %v, want nil", err)
	}
	if err := f.Rewind(); err != nil {
		t.Errorf("rewind 2 (exhausted): got %v, want nil", err)
	}
	if f.Rewinds != 3 {
		t.Errorf("Rewinds: got %d, want 3", f.Rewinds)
	}
}

func TestFakeHandleClose(t *testing.T) {
	f := NewFakeHandle('1')

	if f.Closed {
		t.Error("should not be closed initially")
	}
	if err := f.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !f.Closed {
		t.Error("should be closed after Close()")
	}
}

func TestFakeProviderOpen(t *testing.T) {
	p := NewFakeProvider()
	h := NewFakeHandle('0')
	p.Handles[17] = h

	got, err := p.Open(17, In)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != Handle(h) {
		t.Error("expected configured handle")
	}

	if _, err := p.Open(18, In); err == nil {
		t.Error("expected error for unknown pin")
	}

	if _, err := p.Open(17, "sideways"); !errors.Is(err, ErrInvalidDirection) {
		t.Errorf("expected ErrInvalidDirection, got %v", err)
	}

	if len(p.Calls) != 3 {
		t.Errorf("Calls: got %d, want 3", len(p.Calls))
	}
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		in      string
		want    Direction
		wantErr bool
	}{
		{"in", In, false},
		{"out", Out, false},
		{"IN", "", true},
		{"", "", true},
		{"both", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDirection(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidDirection) {
					t.Errorf("expected ErrInvalidDirection, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
