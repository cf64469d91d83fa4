package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// Shared by Default, the YAML loader and the CLI flag definitions.

const (
	// DefaultPort is the chat port used by the reference deployment.
	DefaultPort = 8080

	// DefaultAuthorityHost is the address a Wi-Fi Direct group owner
	// assigns itself.
	DefaultAuthorityHost = "192.168.49.1"

	DefaultTransport = "tcp"
	DefaultCodec     = "line"

	// DefaultMaxMessageSize bounds one framed message.
	DefaultMaxMessageSize = 64 * 1024

	// DefaultOutgoingQueue is the per-peer relay buffer on the authority.
	DefaultOutgoingQueue = 64

	DefaultDialTimeout = 10 * time.Second

	DefaultReconnectInitialDelay = time.Second
	DefaultReconnectMaxDelay     = 30 * time.Second
	DefaultReconnectMaxAttempts  = 10

	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"

	// EnvPrefix prefixes every supported environment variable.
	EnvPrefix = "P2PCHAT_"
)
