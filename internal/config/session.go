package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Transports.
const (
	TransportHTTP     = "http"
	TransportWhatsApp = "whatsapp"
)

// Push channel kinds for the http transport.
const (
	PushWebSocket = "websocket"
	PushAMQP      = "amqp"
	PushNone      = "none"
)

// Duration is a time.Duration written as a Go duration string ("750ms").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// RemoteConfig addresses the REST collaborator.
type RemoteConfig struct {
	BaseURL string   `toml:"base_url"`
	Token   string   `toml:"token"`
	Timeout Duration `toml:"timeout"`
}

// PushConfig selects the push channel.
type PushConfig struct {
	Kind         string   `toml:"kind"`
	URL          string   `toml:"url"`
	AMQPQueue    string   `toml:"amqp_queue"`
	AMQPExchange string   `toml:"amqp_exchange"`
	AMQPBindings []string `toml:"amqp_bindings"`
}

// RetryConfig is a backoff schedule.
type RetryConfig struct {
	MaxAttempts   int      `toml:"max_attempts"`
	BaseDelay     Duration `toml:"base_delay"`
	MaxDelay      Duration `toml:"max_delay"`
	BackoffFactor float64  `toml:"backoff_factor"`
}

// SyncConfig tunes reconciliation.
type SyncConfig struct {
	ResyncInterval Duration `toml:"resync_interval"`
	UnreadDebounce Duration `toml:"unread_debounce"`
	DedupTolerance Duration `toml:"dedup_tolerance"`
	TombstoneTTL   Duration `toml:"tombstone_ttl"`
	StatusInterval Duration `toml:"status_interval"`
	DeleteFallback bool     `toml:"delete_fallback"`
	// OutboxRetention is how long sent and discarded sends stay journaled.
	OutboxRetention Duration `toml:"outbox_retention"`
}

// SessionConfig is the per-session sessions/<name>/session.toml.
type SessionConfig struct {
	Transport string       `toml:"transport"`
	LogLevel  string       `toml:"log_level"`
	Remote    RemoteConfig `toml:"remote"`
	Push      PushConfig   `toml:"push"`
	Retry     RetryConfig  `toml:"retry"`
	Critical  RetryConfig  `toml:"critical"`
	Sync      SyncConfig   `toml:"sync"`
}

// DefaultSessionConfig returns the settings used for keys a file leaves out.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Transport: TransportHTTP,
		LogLevel:  "info",
		Remote: RemoteConfig{
			BaseURL: "http://127.0.0.1:3000",
			Timeout: Duration{10 * time.Second},
		},
		Push: PushConfig{
			Kind:      PushWebSocket,
			AMQPQueue: "canteiro.events",
		},
		Retry: RetryConfig{
			MaxAttempts:   3,
			BaseDelay:     Duration{500 * time.Millisecond},
			MaxDelay:      Duration{8 * time.Second},
			BackoffFactor: 2,
		},
		Critical: RetryConfig{
			MaxAttempts:   3,
			BaseDelay:     Duration{250 * time.Millisecond},
			MaxDelay:      Duration{2 * time.Second},
			BackoffFactor: 2,
		},
		Sync: SyncConfig{
			ResyncInterval:  Duration{5 * time.Minute},
			UnreadDebounce:  Duration{750 * time.Millisecond},
			DedupTolerance:  Duration{2 * time.Minute},
			TombstoneTTL:    Duration{24 * time.Hour},
			StatusInterval:  Duration{5 * time.Second},
			DeleteFallback:  true,
			OutboxRetention: Duration{7 * 24 * time.Hour},
		},
	}
}

// LoadSession reads a session config. A missing file yields the defaults;
// keys absent from the file keep their default values.
func LoadSession(path string) (SessionConfig, error) {
	cfg := DefaultSessionConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultSessionConfig(), nil
		}
		return SessionConfig{}, fmt.Errorf("load session config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return SessionConfig{}, err
	}
	return cfg, nil
}

// SaveSession writes a session config with 0600 permissions.
func SaveSession(path string, cfg SessionConfig) error {
	return writeTOML(path, cfg)
}

// StreamURL is the websocket push endpoint. Without an explicit push.url it
// is derived from remote.base_url.
func (c SessionConfig) StreamURL() string {
	if c.Push.URL != "" {
		return c.Push.URL
	}
	u := strings.TrimSuffix(c.Remote.BaseURL, "/") + "/events"
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// Validate checks values that cannot be defaulted.
func (c SessionConfig) Validate() error {
	switch c.Transport {
	case TransportHTTP:
		if c.Remote.BaseURL == "" {
			return errors.New("remote.base_url is required for the http transport")
		}
		switch c.Push.Kind {
		case PushWebSocket, PushNone:
		case PushAMQP:
			if c.Push.URL == "" || c.Push.AMQPQueue == "" {
				return errors.New("push.url and push.amqp_queue are required for amqp push")
			}
		default:
			return fmt.Errorf("unknown push kind %q", c.Push.Kind)
		}
	case TransportWhatsApp:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.Retry.BackoffFactor != 0 && c.Retry.BackoffFactor < 1 {
		return errors.New("retry.backoff_factor must be >= 1")
	}
	return nil
}
