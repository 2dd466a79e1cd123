// Package config provides configuration types for requestsink.
//
// Everything is optional: a zero Config with SetDefaults applied runs a
// local sink server on 127.0.0.1:8080.
package config

import (
	"time"
)

// Config is the top-level configuration.
type Config struct {
	// Server configures the HTTP listener and process logging.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Sink configures sink capacity and expiry.
	Sink SinkConfig `yaml:"sink" mapstructure:"sink"`

	// Forward configures the upstream relay.
	Forward ForwardConfig `yaml:"forward" mapstructure:"forward"`

	// Notify configures live event delivery.
	Notify NotifyConfig `yaml:"notify" mapstructure:"notify"`

	// Tracing configures OpenTelemetry export.
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`

	// DevMode enables debug logging and span export.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8080", ":8080").
	// Defaults to "127.0.0.1:8080" if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info". DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// LogFile, when set, receives a rotated copy of the log output.
	LogFile string `yaml:"log_file" mapstructure:"log_file"`

	// ShutdownTimeout bounds graceful shutdown (e.g., "10s").
	ShutdownTimeout string `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"omitempty,duration"`
}

// SinkConfig configures sink storage.
type SinkConfig struct {
	// MaxRequests is the history capacity of each sink.
	MaxRequests int `yaml:"max_requests" mapstructure:"max_requests" validate:"gte=0,lte=10000"`

	// Timeout is how long a sink may stay idle before it is swept (e.g., "1h").
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`

	// CleanupInterval is how often the expiry sweep runs (e.g., "10m").
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"omitempty,duration"`
}

// ForwardConfig configures the relay to forward URLs.
type ForwardConfig struct {
	// Timeout bounds one upstream exchange (e.g., "30s").
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`

	// MaxResponseBytes caps how much of an upstream body is kept.
	MaxResponseBytes int64 `yaml:"max_response_bytes" mapstructure:"max_response_bytes" validate:"gte=0"`
}

// NotifyConfig configures the live notifier.
type NotifyConfig struct {
	// QueueSize is the number of pending notifications held before drops.
	QueueSize int `yaml:"queue_size" mapstructure:"queue_size" validate:"gte=0"`

	// SendTimeout bounds a single delivery to one subscriber (e.g., "5s").
	SendTimeout string `yaml:"send_timeout" mapstructure:"send_timeout" validate:"omitempty,duration"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	// Enabled installs a stdout span exporter.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// SetDefaults applies default values to unset fields.
func (c *Config) SetDefaults() {
	// Bind to localhost only unless told otherwise.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}

	if c.Sink.MaxRequests == 0 {
		c.Sink.MaxRequests = 100
	}
	if c.Sink.Timeout == "" {
		c.Sink.Timeout = "1h"
	}
	if c.Sink.CleanupInterval == "" {
		c.Sink.CleanupInterval = "10m"
	}

	if c.Forward.Timeout == "" {
		c.Forward.Timeout = "30s"
	}
	if c.Forward.MaxResponseBytes == 0 {
		c.Forward.MaxResponseBytes = 10 << 20
	}

	if c.Notify.QueueSize == 0 {
		c.Notify.QueueSize = 1000
	}
	if c.Notify.SendTimeout == "" {
		c.Notify.SendTimeout = "5s"
	}
}

// SetDevDefaults applies development overrides. No-op unless DevMode.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	c.Server.LogLevel = "debug"
	c.Tracing.Enabled = true
}

// ShutdownTimeout returns the parsed server.shutdown_timeout.
func (c *Config) ShutdownTimeout() time.Duration {
	return parseDuration(c.Server.ShutdownTimeout, 10*time.Second)
}

// SinkTimeout returns the parsed sink.timeout.
func (c *Config) SinkTimeout() time.Duration {
	return parseDuration(c.Sink.Timeout, time.Hour)
}

// CleanupInterval returns the parsed sink.cleanup_interval.
func (c *Config) CleanupInterval() time.Duration {
	return parseDuration(c.Sink.CleanupInterval, 10*time.Minute)
}

// ForwardTimeout returns the parsed forward.timeout.
func (c *Config) ForwardTimeout() time.Duration {
	return parseDuration(c.Forward.Timeout, 30*time.Second)
}

// NotifySendTimeout returns the parsed notify.send_timeout.
func (c *Config) NotifySendTimeout() time.Duration {
	return parseDuration(c.Notify.SendTimeout, 5*time.Second)
}

// parseDuration returns fallback for empty, malformed or non-positive values.
// Validate rejects malformed ones before they get here.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
