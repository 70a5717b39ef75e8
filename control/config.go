// File: control/config.go
// Author: momentics <momentics@gmail.com>
//
// File-backed configuration with defaults taken from the reference deployment.

package control

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/momentics/hioload-dispatch/api"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the dispatcher. The pool size is fixed for
// the lifetime of a process.
type Config struct {
	Address     string        `yaml:"address"`
	Port        int           `yaml:"port"`
	Backlog     int           `yaml:"backlog"`
	Workers     int           `yaml:"workers"`
	Greeting    string        `yaml:"greeting"`
	Hold        time.Duration `yaml:"hold"`
	BusyMessage string        `yaml:"busy_message"`
	ReadBuffer  int           `yaml:"read_buffer"`
	MaxEvents   int           `yaml:"max_events"`
	PinWorkers  bool          `yaml:"pin_workers"`
	LogLevel    string        `yaml:"log_level"`
	LogFormat   string        `yaml:"log_format"`
}

// DefaultConfig returns the reference deployment settings.
func DefaultConfig() *Config {
	return &Config{
		Address:     "0.0.0.0",
		Port:        8563,
		Backlog:     10,
		Workers:     api.DefaultPoolSize,
		Greeting:    "hello",
		Hold:        5 * time.Second,
		BusyMessage: "server busy\n",
		ReadBuffer:  60,
		MaxEvents:   64,
		LogLevel:    "info",
		LogFormat:   "console",
	}
}

// LoadConfig overlays the YAML file at path on DefaultConfig and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if net.ParseIP(c.Address).To4() == nil {
		errs = append(errs, fmt.Errorf("address %q is not IPv4", c.Address))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if c.Hold < 0 {
		errs = append(errs, fmt.Errorf("hold must not be negative, got %s", c.Hold))
	}
	if c.ReadBuffer <= 0 {
		errs = append(errs, fmt.Errorf("read_buffer must be positive, got %d", c.ReadBuffer))
	}
	if c.MaxEvents <= 0 {
		errs = append(errs, fmt.Errorf("max_events must be positive, got %d", c.MaxEvents))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", api.ErrInvalidArgument, err)
	}
	return nil
}
