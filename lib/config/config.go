// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file for Load.
const EnvironmentVariable = "SWITCHBOARD_CONFIG"

// ReservedListenerName is the name the daemon gives its own control
// listener. Configured listeners cannot use it.
const ReservedListenerName = "control"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the switchboard daemon configuration.
type Config struct {
	// Environment identifies the deployment type.
	Environment Environment `yaml:"environment"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	Pool     PoolConfig     `yaml:"pool"`
	Shutdown ShutdownConfig `yaml:"shutdown"`
	Control  ControlConfig  `yaml:"control"`
	Metrics  MetricsConfig  `yaml:"metrics"`

	// Listeners are connected in order at startup.
	Listeners []ListenerConfig `yaml:"listeners"`

	// Per-environment overrides, applied after the base config is
	// loaded.
	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides contains the fields an environment section may override.
// Listeners are not overridable; environments that need different
// listeners use different files.
type Overrides struct {
	LogLevel string          `yaml:"log_level,omitempty"`
	Pool     *PoolConfig     `yaml:"pool,omitempty"`
	Shutdown *ShutdownConfig `yaml:"shutdown,omitempty"`
	Control  *ControlConfig  `yaml:"control,omitempty"`
	Metrics  *MetricsConfig  `yaml:"metrics,omitempty"`
}

// PoolConfig sizes the shared worker pool. Every listener occupies
// one worker for its accept loop and every active connection one more.
type PoolConfig struct {
	// MaxWorkers caps concurrent workers. Zero is unbounded.
	MaxWorkers int `yaml:"max_workers"`

	// IdleTimeout is how long an idle worker lingers before exiting.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// ShutdownConfig bounds listener disposal.
type ShutdownConfig struct {
	// GracePeriod is how long a graceful disconnect lets connections
	// finish before cancelling them.
	GracePeriod time.Duration `yaml:"grace_period"`

	// DisposeTimeout bounds each wait for cancelled work to exit.
	DisposeTimeout time.Duration `yaml:"dispose_timeout"`
}

// ControlConfig configures the control socket.
type ControlConfig struct {
	// SocketPath is the Unix socket switchboardctl talks to.
	SocketPath string `yaml:"socket_path"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Address is the HTTP listen address for /metrics. Empty
	// disables the endpoint.
	Address string `yaml:"address"`
}

// ListenerConfig describes one named listener.
type ListenerConfig struct {
	Name string `yaml:"name"`

	// Network is tcp, tcp4, tcp6, or unix. Default: tcp.
	Network string `yaml:"network"`

	// Address is host:port, or a socket path for unix.
	Address string `yaml:"address"`

	// Handler is the handler kind: echo, greeter, digest, or status.
	Handler string `yaml:"handler"`

	// AcceptTimeout overrides how often the accept loop wakes to
	// check for shutdown. Zero uses the manager default.
	AcceptTimeout time.Duration `yaml:"accept_timeout"`

	// AcceptRate limits accepted connections per second. Zero is
	// unlimited.
	AcceptRate float64 `yaml:"accept_rate"`

	// AcceptBurst is the rate limiter's burst. Default: 1.
	AcceptBurst int `yaml:"accept_burst"`

	// ReusePort sets SO_REUSEPORT on TCP listeners.
	ReusePort bool `yaml:"reuse_port"`
}

// Networks accepted for ListenerConfig.Network.
var Networks = []string{"tcp", "tcp4", "tcp6", "unix"}

// Default returns the default configuration. It is the base the
// config file is loaded over, not a fallback: the file is required.
func Default() *Config {
	return &Config{
		Environment: Development,
		LogLevel:    "info",
		Pool: PoolConfig{
			IdleTimeout: time.Minute,
		},
		Shutdown: ShutdownConfig{
			GracePeriod:    5 * time.Second,
			DisposeTimeout: 2 * time.Second,
		},
		Control: ControlConfig{
			SocketPath: "${XDG_RUNTIME_DIR:-/tmp}/switchboard/control.sock",
		},
	}
}

// Load loads configuration from the file named by SWITCHBOARD_CONFIG.
// There are no fallbacks: if the variable is unset, Load fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your switchboard.yaml config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path, applies the matching
// environment section, and expands variables. It does not validate;
// call Validate.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

// loadFile decodes path over the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data, err = jsoncToYAML(data)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%s is empty", path)
		}
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// jsoncToYAML strips comments and trailing commas and re-encodes the
// document as YAML, so both formats go through one decoder and share
// its duration parsing.
func jsoncToYAML(data []byte) ([]byte, error) {
	var document any
	if err := json.Unmarshal(jsonc.ToJSON(data), &document); err != nil {
		return nil, err
	}
	return yaml.Marshal(document)
}

// applyEnvironmentOverrides applies the section matching Environment.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &Overrides{LogLevel: "warn"}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.LogLevel != "" {
		c.LogLevel = overrides.LogLevel
	}
	if overrides.Pool != nil {
		// MaxWorkers is always applied: zero (unbounded) is a
		// meaningful override.
		c.Pool.MaxWorkers = overrides.Pool.MaxWorkers
		if overrides.Pool.IdleTimeout != 0 {
			c.Pool.IdleTimeout = overrides.Pool.IdleTimeout
		}
	}
	if overrides.Shutdown != nil {
		if overrides.Shutdown.GracePeriod != 0 {
			c.Shutdown.GracePeriod = overrides.Shutdown.GracePeriod
		}
		if overrides.Shutdown.DisposeTimeout != 0 {
			c.Shutdown.DisposeTimeout = overrides.Shutdown.DisposeTimeout
		}
	}
	if overrides.Control != nil && overrides.Control.SocketPath != "" {
		c.Control.SocketPath = overrides.Control.SocketPath
	}
	if overrides.Metrics != nil {
		// An empty address disables metrics, so it is always applied.
		c.Metrics.Address = overrides.Metrics.Address
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} in addresses and
// socket paths.
func (c *Config) expandVariables() {
	c.Control.SocketPath = expandVars(c.Control.SocketPath)
	c.Metrics.Address = expandVars(c.Metrics.Address)
	for index := range c.Listeners {
		c.Listeners[index].Address = expandVars(c.Listeners[index].Address)
	}
}

// DefaultSocketPath is the control socket path used when no config
// file names one, with variables expanded.
func DefaultSocketPath() string {
	return expandVars(Default().Control.SocketPath)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars replaces each ${VAR} with the environment value, or the
// default after :- when the variable is unset or empty.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// SlogLevel returns LogLevel as a slog.Level. Call Validate first; an
// unparseable level yields info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Validate checks the configuration and returns every problem found,
// joined.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("invalid log_level %q (want debug, info, warn, or error)", c.LogLevel))
	}

	if c.Pool.MaxWorkers < 0 {
		errs = append(errs, fmt.Errorf("pool.max_workers must not be negative, got %d", c.Pool.MaxWorkers))
	}
	// One worker per accept loop, including the control listener,
	// plus at least one to run a connection.
	if minimum := len(c.Listeners) + 2; c.Pool.MaxWorkers > 0 && c.Pool.MaxWorkers < minimum {
		errs = append(errs, fmt.Errorf("pool.max_workers %d cannot serve %d listeners: need at least %d",
			c.Pool.MaxWorkers, len(c.Listeners)+1, minimum))
	}
	if c.Pool.IdleTimeout < 0 {
		errs = append(errs, errors.New("pool.idle_timeout must not be negative"))
	}
	if c.Shutdown.GracePeriod < 0 {
		errs = append(errs, errors.New("shutdown.grace_period must not be negative"))
	}
	if c.Shutdown.DisposeTimeout < 0 {
		errs = append(errs, errors.New("shutdown.dispose_timeout must not be negative"))
	}

	if c.Control.SocketPath == "" {
		errs = append(errs, errors.New("control.socket_path is required"))
	}

	seen := make(map[string]bool, len(c.Listeners))
	for index, listener := range c.Listeners {
		errs = append(errs, listener.validate(index, seen)...)
	}

	return errors.Join(errs...)
}

func (l *ListenerConfig) validate(index int, seen map[string]bool) []error {
	label := fmt.Sprintf("listeners[%d]", index)
	if l.Name != "" {
		label = fmt.Sprintf("listeners[%d] (%s)", index, l.Name)
	}

	var errs []error
	switch {
	case l.Name == "":
		errs = append(errs, fmt.Errorf("%s: name is required", label))
	case l.Name == ReservedListenerName:
		errs = append(errs, fmt.Errorf("%s: name %q is reserved for the control socket", label, l.Name))
	case seen[l.Name]:
		errs = append(errs, fmt.Errorf("%s: duplicate listener name", label))
	}
	seen[l.Name] = true

	if l.Network != "" && !slices.Contains(Networks, l.Network) {
		errs = append(errs, fmt.Errorf("%s: network must be one of %v, got %q", label, Networks, l.Network))
	}
	if l.Address == "" {
		errs = append(errs, fmt.Errorf("%s: address is required", label))
	}
	if l.Handler == "" {
		errs = append(errs, fmt.Errorf("%s: handler is required", label))
	}
	if l.AcceptTimeout < 0 {
		errs = append(errs, fmt.Errorf("%s: accept_timeout must not be negative", label))
	}
	if l.AcceptRate < 0 {
		errs = append(errs, fmt.Errorf("%s: accept_rate must not be negative", label))
	}
	if l.AcceptBurst < 0 {
		errs = append(errs, fmt.Errorf("%s: accept_burst must not be negative", label))
	}
	if l.ReusePort && l.Network == "unix" {
		errs = append(errs, fmt.Errorf("%s: reuse_port does not apply to unix sockets", label))
	}
	return errs
}

// NetworkOrDefault returns Network, or "tcp" when unset.
func (l *ListenerConfig) NetworkOrDefault() string {
	if l.Network == "" {
		return "tcp"
	}
	return l.Network
}
