// Package config loads the gpiowatch daemon configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/gpiowatch/internal/event"
	"github.com/sweeney/gpiowatch/internal/gpio"
	"github.com/sweeney/gpiowatch/internal/session"
	"github.com/sweeney/gpiowatch/internal/watch"
)

// Handle provider backends.
const (
	BackendSysfs = "sysfs"
	BackendCdev  = "cdev"
)

// Config is the daemon configuration. Zero durations and sizes are invalid
// after Load; use Default as the base.
type Config struct {
	Pins         []int         `yaml:"pins"`
	Direction    string        `yaml:"direction"`
	Backend      string        `yaml:"backend"`
	SysfsRoot    string        `yaml:"sysfs_root"`
	Chip         string        `yaml:"chip"`
	PressedLevel string        `yaml:"pressed_level"`
	Timeout      time.Duration `yaml:"timeout"`
	QueueSize    int           `yaml:"queue_size"`
	Broker       string        `yaml:"broker"` // empty disables MQTT
	HTTPAddr     string        `yaml:"http"`   // empty disables the status server
	Policy       string        `yaml:"policy"` // empty allows every caller
	Caller       string        `yaml:"caller"`
	RestartDelay time.Duration `yaml:"restart_delay"` // 0 leaves a failed watcher stopped
	Heartbeat    time.Duration `yaml:"heartbeat"`     // 0 disables HEARTBEAT events
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Pins:         []int{gpio.DefaultPin},
		Direction:    string(gpio.In),
		Backend:      BackendSysfs,
		SysfsRoot:    gpio.DefaultSysfsRoot,
		Chip:         gpio.DefaultChip,
		PressedLevel: "0",
		Timeout:      watch.DefaultTimeout,
		QueueSize:    event.DefaultQueueSize,
		HTTPAddr:     ":8080",
		Caller:       "gpiowatch",
		RestartDelay: 5 * time.Second,
		Heartbeat:    15 * time.Minute,
	}
}

// Load reads path over the defaults and validates the result. An empty path
// returns the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Default(), fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Default(), fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks every field.
func (c Config) Validate() error {
	var errs []error
	if len(c.Pins) == 0 {
		errs = append(errs, errors.New("no pins configured"))
	}
	for _, p := range c.Pins {
		if p < 0 {
			errs = append(errs, fmt.Errorf("invalid pin %d", p))
		}
	}
	if _, err := gpio.ParseDirection(c.Direction); err != nil {
		errs = append(errs, err)
	}
	switch c.Backend {
	case BackendSysfs, BackendCdev:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, BackendSysfs, BackendCdev))
	}
	if _, err := session.ParseLevel(c.PressedLevel); err != nil {
		errs = append(errs, err)
	}
	if c.Timeout < time.Millisecond {
		errs = append(errs, fmt.Errorf("timeout must be at least 1ms, got %v", c.Timeout))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("queue_size must be positive, got %d", c.QueueSize))
	}
	if c.RestartDelay < 0 {
		errs = append(errs, fmt.Errorf("restart_delay must not be negative, got %v", c.RestartDelay))
	}
	if c.Heartbeat < 0 {
		errs = append(errs, fmt.Errorf("heartbeat must not be negative, got %v", c.Heartbeat))
	}
	if c.Caller == "" {
		errs = append(errs, errors.New("caller must not be empty"))
	}
	return errors.Join(errs...)
}

// ParsePins parses a comma-separated pin list such as "12,16, 20".
func ParsePins(s string) ([]int, error) {
	var pins []int
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid pin %q", f)
		}
		pins = append(pins, n)
	}
	if len(pins) == 0 {
		return nil, errors.New("no pins given")
	}
	return pins, nil
}
