// Package daemon manages the peerlink daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/tutu-network/peerlink/internal/infra/lobby"
	"github.com/tutu-network/peerlink/internal/logging"
)

// Config holds all daemon configuration.
type Config struct {
	Node      NodeConfig      `toml:"node"`
	Lobby     LobbyConfig     `toml:"lobby"`
	Session   SessionConfig   `toml:"session"`
	API       APIConfig       `toml:"api"`
	Hub       HubConfig       `toml:"hub"`
	Logging   logging.Config  `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// NodeConfig identifies this peer. The peer ID itself is generated once
// and kept in the state database.
type NodeConfig struct {
	DisplayName string `toml:"display_name"`
}

// LobbyConfig controls the connection to the rendezvous hub.
type LobbyConfig struct {
	URL           string            `toml:"url"`
	ServiceType   string            `toml:"service_type"`
	DiscoveryInfo map[string]string `toml:"discovery_info"`
	DialTimeout   Duration          `toml:"dial_timeout"`
	DialRetries   int               `toml:"dial_retries"`
}

// SessionConfig tunes the session coordinator.
type SessionConfig struct {
	InviteTimeout Duration `toml:"invite_timeout"`
	TieBreakOnID  bool     `toml:"tie_break_on_id"`
}

// APIConfig controls the local HTTP API server.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// HubConfig controls `peerlink lobby`.
type HubConfig struct {
	Listen string `toml:"listen"`
}

// TelemetryConfig controls metrics and health reporting.
type TelemetryConfig struct {
	Prometheus     bool     `toml:"prometheus"`
	HealthInterval Duration `toml:"health_interval"`
}

// Duration is a time.Duration written as "30s" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{
		Node: NodeConfig{
			DisplayName: defaultDisplayName(),
		},
		Lobby: LobbyConfig{
			URL:         "ws://127.0.0.1:7450/ws",
			ServiceType: lobby.DefaultServiceType,
			DialTimeout: Duration{10 * time.Second},
			DialRetries: 5,
		},
		Session: SessionConfig{
			InviteTimeout: Duration{30 * time.Second},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 7451,
		},
		Hub: HubConfig{
			Listen: ":7450",
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "console",
		},
		Telemetry: TelemetryConfig{
			Prometheus:     true,
			HealthInterval: Duration{30 * time.Second},
		},
	}
}

// LoadConfig reads config from ~/.peerlink/config.toml, falling back to
// defaults.
func LoadConfig() (Config, error) {
	return LoadConfigFile(ConfigPath())
}

// LoadConfigFile reads config from path, falling back to defaults when
// the file does not exist.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // No config file yet: use defaults
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Node.DisplayName == "" {
		cfg.Node.DisplayName = defaultDisplayName()
	}
	if cfg.Lobby.ServiceType == "" {
		cfg.Lobby.ServiceType = lobby.DefaultServiceType
	}
	return cfg, nil
}

// SaveConfig writes the config to ~/.peerlink/config.toml.
func SaveConfig(cfg Config) error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// APIAddr returns host:port of the local API.
func (c Config) APIAddr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// ConfigPath returns the config file location.
func ConfigPath() string {
	return filepath.Join(peerlinkHome(), "config.toml")
}

// peerlinkHome returns the peerlink data directory.
func peerlinkHome() string {
	if env := os.Getenv("PEERLINK_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".peerlink")
}

// PeerlinkHome is exported for use by other packages.
func PeerlinkHome() string {
	return peerlinkHome()
}

func defaultDisplayName() string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return "peerlink"
}
