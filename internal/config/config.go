// Package config holds the client and relay configuration: defaults, TOML
// file loading, environment overrides and validation.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Media source kinds.
const (
	SourceSynthetic = "synthetic"
	SourceFile      = "file"
	SourceDevice    = "device"
)

// Intent store kinds.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Config is the client configuration.
type Config struct {
	// Server is the relay base URL, e.g. "http://localhost:8080".
	Server   string `toml:"server"`
	Email    string `toml:"email"`
	Username string `toml:"username"`
	// Token skips the login round trip when set.
	Token string `toml:"token"`
	// Stream is "sse" or "ws".
	Stream string `toml:"stream"`
	Debug  bool   `toml:"debug"`

	StatsInterval time.Duration `toml:"stats_interval"`

	ICE    ICEConfig    `toml:"ice"`
	Media  MediaConfig  `toml:"media"`
	Intent IntentConfig `toml:"intent"`
	Record RecordConfig `toml:"record"`
	Relay  RelayConfig  `toml:"relay"`
}

// ICEConfig configures the peer connection.
type ICEConfig struct {
	STUNServers         []string      `toml:"stun_servers"`
	DisconnectedTimeout time.Duration `toml:"disconnected_timeout"`
	FailedTimeout       time.Duration `toml:"failed_timeout"`
	KeepAliveInterval   time.Duration `toml:"keepalive_interval"`
	PLIInterval         time.Duration `toml:"pli_interval"`
}

// MediaConfig selects where local media comes from.
type MediaConfig struct {
	Source string `toml:"source"`
	Video  string `toml:"video"`
	Audio  string `toml:"audio"`
	Screen string `toml:"screen"`
}

// IntentConfig selects the call intent store.
type IntentConfig struct {
	Store string `toml:"store"`
	Path  string `toml:"path"`
}

// RecordConfig enables recording of remote media. An empty Dir disables it.
type RecordConfig struct {
	Dir string `toml:"dir"`
}

// RelayConfig configures the relay server.
type RelayConfig struct {
	Listen         string        `toml:"listen"`
	Heartbeat      time.Duration `toml:"heartbeat"`
	AllowedOrigins []string      `toml:"allowed_origins"`
	// CallsPath is the SQLite file for call records. Empty keeps them in
	// memory.
	CallsPath string `toml:"calls_path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Server:        "http://localhost:8080",
		Stream:        "sse",
		StatsInterval: 10 * time.Second,
		ICE: ICEConfig{
			STUNServers: []string{"stun:stun.l.google.com:19302"},
			PLIInterval: 3 * time.Second,
		},
		Media: MediaConfig{
			Source: SourceSynthetic,
		},
		Intent: IntentConfig{
			Store: StoreSQLite,
			Path:  filepath.Join(home, ".conference-chat", "intent.db"),
		},
		Relay: RelayConfig{
			Listen:         ":8080",
			Heartbeat:      10 * time.Second,
			AllowedOrigins: []string{"*"},
		},
	}
}

// Load reads the TOML file at path over the defaults, then applies
// environment overrides. An empty path uses the defaults alone. The result
// is not validated; callers validate after applying their flags.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides lets the environment override identity and server.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CALL_SERVER"); v != "" {
		cfg.Server = v
	}
	if v := os.Getenv("CALL_EMAIL"); v != "" {
		cfg.Email = v
	}
	if v := os.Getenv("CALL_TOKEN"); v != "" {
		cfg.Token = v
	}
}

// Validate checks the client settings.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: server must be an http(s) URL, got %q", ErrInvalidConfig, c.Server)
	}
	if c.Email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidConfig)
	}
	switch c.Stream {
	case "sse", "ws":
	default:
		return fmt.Errorf("%w: stream must be sse or ws, got %q", ErrInvalidConfig, c.Stream)
	}

	switch c.Media.Source {
	case SourceSynthetic, SourceDevice:
	case SourceFile:
		if c.Media.Video == "" && c.Media.Audio == "" {
			return fmt.Errorf("%w: media.source = file needs media.video or media.audio", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown media.source %q", ErrInvalidConfig, c.Media.Source)
	}

	switch c.Intent.Store {
	case StoreMemory:
	case StoreSQLite:
		if c.Intent.Path == "" {
			return fmt.Errorf("%w: intent.path is required for the sqlite store", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown intent.store %q", ErrInvalidConfig, c.Intent.Store)
	}

	for _, s := range c.ICE.STUNServers {
		if u, err := url.Parse(s); err != nil || (u.Scheme != "stun" && u.Scheme != "stuns") {
			return fmt.Errorf("%w: bad STUN server %q", ErrInvalidConfig, s)
		}
	}
	if c.ICE.DisconnectedTimeout < 0 || c.ICE.FailedTimeout < 0 || c.ICE.KeepAliveInterval < 0 || c.ICE.PLIInterval < 0 {
		return fmt.Errorf("%w: ice durations must not be negative", ErrInvalidConfig)
	}
	return nil
}

// ValidateRelay checks the relay settings.
func (c *Config) ValidateRelay() error {
	if c.Relay.Listen == "" {
		return fmt.Errorf("%w: relay.listen is required", ErrInvalidConfig)
	}
	if c.Relay.Heartbeat <= 0 {
		return fmt.Errorf("%w: relay.heartbeat must be positive", ErrInvalidConfig)
	}
	return nil
}
