// Package config defines the runtime configuration of a chat node.
//
// Values are layered, highest precedence first: command line flags,
// P2PCHAT_* environment variables, a YAML file, then the defaults.
package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/omochice/p2pchat/internal/retry"
	"github.com/omochice/p2pchat/pkg/protocol"
)

// Roles a node can be assigned.
const (
	RoleAuthority = "authority"
	RolePeer      = "peer"
)

// Config holds every tuneable for one node.
type Config struct {
	// ── Role & addressing ────────────────────────────────────────────
	Role     string `yaml:"role"`
	Host     string `yaml:"host"`      // authority address dialed by a peer
	Port     int    `yaml:"port"`      // TCP chat port
	BindHost string `yaml:"bind_host"` // authority listen interface, empty for all
	WSPort   int    `yaml:"ws_port"`   // authority WebSocket port, 0 disables

	// ── Wire ─────────────────────────────────────────────────────────
	Transport      string        `yaml:"transport"`
	Codec          string        `yaml:"codec"`
	MaxMessageSize int           `yaml:"max_message_size"`
	OutgoingQueue  int           `yaml:"outgoing_queue"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
	Log       LogConfig       `yaml:"log"`
}

// ReconnectConfig controls the optional peer reconnect policy.
type ReconnectConfig struct {
	Enabled      bool          `yaml:"enabled"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// LogConfig selects the zap level and encoding.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config populated with the package defaults.
func Default() *Config {
	return &Config{
		Role:           RolePeer,
		Host:           DefaultAuthorityHost,
		Port:           DefaultPort,
		Transport:      DefaultTransport,
		Codec:          DefaultCodec,
		MaxMessageSize: DefaultMaxMessageSize,
		OutgoingQueue:  DefaultOutgoingQueue,
		DialTimeout:    DefaultDialTimeout,
		Reconnect: ReconnectConfig{
			InitialDelay: DefaultReconnectInitialDelay,
			MaxDelay:     DefaultReconnectMaxDelay,
			MaxAttempts:  DefaultReconnectMaxAttempts,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// Error describes one invalid setting.
type Error struct {
	Field   string
	Value   any
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s=%v: %s", e.Field, e.Value, e.Message)
}

// Validate checks that the configuration is internally consistent. Every
// problem found is returned, joined.
func (c *Config) Validate() error {
	var errs []error
	bad := func(field string, value any, msg string) {
		errs = append(errs, &Error{Field: field, Value: value, Message: msg})
	}

	if c.Role != RoleAuthority && c.Role != RolePeer {
		bad("role", c.Role, "must be authority or peer")
	}
	if c.Port < 1 || c.Port > 65535 {
		bad("port", c.Port, "out of range 1-65535")
	}
	if c.WSPort < 0 || c.WSPort > 65535 {
		bad("ws_port", c.WSPort, "out of range 0-65535")
	}
	if c.WSPort != 0 && c.WSPort == c.Port {
		bad("ws_port", c.WSPort, "must differ from port")
	}
	if c.Role == RolePeer && c.Host == "" {
		bad("host", c.Host, "required for the peer role")
	}
	if !slices.Contains([]string{"tcp", "ws"}, c.Transport) {
		bad("transport", c.Transport, "must be tcp or ws")
	}
	if !slices.Contains([]string{protocol.LineCodecName, protocol.ProtoCodecName}, c.Codec) {
		bad("codec", c.Codec, "must be line or proto")
	}
	if c.Transport == "ws" && c.Codec != protocol.LineCodecName {
		bad("codec", c.Codec, "websocket transport carries lines only")
	}
	if c.MaxMessageSize < 1 {
		bad("max_message_size", c.MaxMessageSize, "must be positive")
	}
	if c.OutgoingQueue < 1 {
		bad("outgoing_queue", c.OutgoingQueue, "must be positive")
	}
	if c.WriteTimeout < 0 {
		bad("write_timeout", c.WriteTimeout, "must not be negative")
	}
	if c.DialTimeout < 0 {
		bad("dial_timeout", c.DialTimeout, "must not be negative")
	}
	if c.Reconnect.Enabled {
		if c.Reconnect.InitialDelay <= 0 {
			bad("reconnect.initial_delay", c.Reconnect.InitialDelay, "must be positive")
		}
		if c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
			bad("reconnect.max_delay", c.Reconnect.MaxDelay, "must not be below initial_delay")
		}
		if c.Reconnect.MaxAttempts < 0 {
			bad("reconnect.max_attempts", c.Reconnect.MaxAttempts, "must not be negative")
		}
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Log.Level) {
		bad("log.level", c.Log.Level, "must be debug, info, warn or error")
	}
	if !slices.Contains([]string{"console", "json"}, c.Log.Format) {
		bad("log.format", c.Log.Format, "must be console or json")
	}

	return errors.Join(errs...)
}

// NewCodec returns the wire codec selected by Codec.
func (c *Config) NewCodec() (protocol.Codec, error) {
	return protocol.NewCodec(c.Codec, c.MaxMessageSize)
}

// Backoff converts the reconnect settings into a retry policy.
func (r ReconnectConfig) Backoff() *retry.Backoff {
	return &retry.Backoff{
		InitialDelay: r.InitialDelay,
		MaxDelay:     r.MaxDelay,
		Multiplier:   2,
		MaxAttempts:  r.MaxAttempts,
		Jitter:       true,
	}
}
