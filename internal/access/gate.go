// Package access guards pin acquisition behind a permission check.
package access

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/sweeney/gpiowatch/internal/gpio"
)

// PermissionGPIO is the grant required to open pins.
const PermissionGPIO = "gpio"

var (
	// ErrUnauthorized is returned when the caller lacks the GPIO permission.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrOpenFailed is returned when the provider could not open the pin.
	ErrOpenFailed = errors.New("open failed")

	errNoHandle = errors.New("provider returned no handle")
)

// OpenError reports a pin the provider could not open.
type OpenError struct {
	Pin int
	Err error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("could not open gpio port %d: %v", e.Pin, e.Err)
}

func (e *OpenError) Unwrap() []error { return []error{ErrOpenFailed, e.Err} }

// Caller identifies whoever asks for a pin.
type Caller struct {
	Name  string
	Token string
}

// Authorizer decides whether a caller holds a permission.
type Authorizer interface {
	// Authorize returns nil if caller holds perm, otherwise an error
	// matching ErrUnauthorized.
	Authorize(caller Caller, perm string) error
}

// AllowAll grants every permission to every caller.
type AllowAll struct{}

// Authorize always succeeds.
func (AllowAll) Authorize(Caller, string) error { return nil }

// Gate checks permission before delegating to a provider.
type Gate struct {
	auth     Authorizer
	provider gpio.Provider
}

// NewGate creates a gate in front of provider.
func NewGate(auth Authorizer, provider gpio.Provider) *Gate {
	return &Gate{auth: auth, provider: provider}
}

// OpenPin returns a handle for pin if caller is authorized.
// The provider is not touched when authorization fails.
func (g *Gate) OpenPin(caller Caller, pin int, direction string) (gpio.Handle, error) {
	if err := g.auth.Authorize(caller, PermissionGPIO); err != nil {
		if !errors.Is(err, ErrUnauthorized) {
			err = fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return nil, err
	}

	h, err := g.provider.Open(pin, gpio.Direction(direction))
	if err != nil {
		return nil, &OpenError{Pin: pin, Err: err}
	}
	if isNil(h) {
		return nil, &OpenError{Pin: pin, Err: errNoHandle}
	}
	return h, nil
}

// isNil also catches a nil pointer wrapped in a non-nil Handle.
func isNil(h gpio.Handle) bool {
	if h == nil {
		return true
	}
	v := reflect.ValueOf(h)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}
