package config

// loader.go - configuration loading from YAML files and the environment.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by internal/cli)
//   2. Environment variables
//   3. YAML file
//   4. Defaults   (defaults.go)

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load returns the defaults overlaid with the YAML file at path, if any,
// and then with the environment. It does not validate.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile merges the YAML document at path into c. Keys absent from the
// file keep their current value.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported variable uses the P2PCHAT_ prefix. Booleans accept
// "1", "true" and "yes" (case-insensitive); durations use Go syntax
// such as "500ms" or "10s".

// LoadFromEnv overlays non-empty environment variables onto cfg.
func LoadFromEnv(cfg *Config) error {
	strs := map[string]*string{
		"ROLE":       &cfg.Role,
		"HOST":       &cfg.Host,
		"BIND_HOST":  &cfg.BindHost,
		"TRANSPORT":  &cfg.Transport,
		"CODEC":      &cfg.Codec,
		"LOG_LEVEL":  &cfg.Log.Level,
		"LOG_FORMAT": &cfg.Log.Format,
	}
	for key, dst := range strs {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"PORT":                   &cfg.Port,
		"WS_PORT":                &cfg.WSPort,
		"MAX_MESSAGE_SIZE":       &cfg.MaxMessageSize,
		"OUTGOING_QUEUE":         &cfg.OutgoingQueue,
		"RECONNECT_MAX_ATTEMPTS": &cfg.Reconnect.MaxAttempts,
	}
	for key, dst := range ints {
		n, ok, err := envInt(EnvPrefix + key)
		if err != nil {
			return err
		}
		if ok {
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"WRITE_TIMEOUT":           &cfg.WriteTimeout,
		"DIAL_TIMEOUT":            &cfg.DialTimeout,
		"RECONNECT_INITIAL_DELAY": &cfg.Reconnect.InitialDelay,
		"RECONNECT_MAX_DELAY":     &cfg.Reconnect.MaxDelay,
	}
	for key, dst := range durations {
		d, ok, err := envDuration(EnvPrefix + key)
		if err != nil {
			return err
		}
		if ok {
			*dst = d
		}
	}

	if v := os.Getenv(EnvPrefix + "RECONNECT"); v != "" {
		cfg.Reconnect.Enabled = parseBool(v)
	}
	return nil
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) (int, bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, &Error{Field: key, Value: v, Message: "not an integer"}
	}
	return n, true, nil
}

func envDuration(key string) (time.Duration, bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false, &Error{Field: key, Value: v, Message: "not a duration"}
	}
	return d, true, nil
}

func parseBool(v string) bool {
	v = strings.ToLower(v)
	return v == "1" || v == "true" || v == "yes"
}
