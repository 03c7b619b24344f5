package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/peder1981/p2p-color/internal/storage"
	"github.com/peder1981/p2p-color/internal/transport"
)

// Config holds the application configuration loaded from TOML.
type Config struct {
	Service   ServiceConfig     `toml:"service"`
	Policy    PolicyConfig      `toml:"policy"`
	Transport TransportConfig   `toml:"transport"`
	Log       LogConfig         `toml:"log"`
	Palette   map[string]string `toml:"palette"`
}

// ServiceConfig names the session and the local peer.
type ServiceConfig struct {
	Tag string `toml:"tag"`
	// DisplayName defaults to the host name when empty.
	DisplayName string `toml:"displayName"`
}

// PolicyConfig controls invitations.
type PolicyConfig struct {
	AutoAccept bool `toml:"autoAccept"`
	// InviteTimeoutSeconds of 0 waits for an answer forever.
	InviteTimeoutSeconds int `toml:"inviteTimeoutSeconds"`
}

// TransportConfig selects and tunes the network layer.
type TransportConfig struct {
	// Kind is "lan" or "memory".
	Kind                  string   `toml:"kind"`
	ListenAddr            string   `toml:"listenAddr"`
	BrowseIntervalSeconds int      `toml:"browseIntervalSeconds"`
	LostAfterSeconds      int      `toml:"lostAfterSeconds"`
	ConnectTimeoutSeconds int      `toml:"connectTimeoutSeconds"`
	UPnP                  bool     `toml:"upnp"`
	StunServers           []string `toml:"stunServers"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level    string         `toml:"level"`
	Format   string         `toml:"format"`
	Outputs  []string       `toml:"outputs"`
	Rotation RotationConfig `toml:"rotation"`
}

// RotationConfig applies to file outputs.
type RotationConfig struct {
	Enabled    bool `toml:"enabled"`
	MaxSizeMB  int  `toml:"maxSizeMB"`
	MaxBackups int  `toml:"maxBackups"`
	MaxAgeDays int  `toml:"maxAgeDays"`
	Compress   bool `toml:"compress"`
}

const (
	TransportLAN    = "lan"
	TransportMemory = "memory"
)

// NewDefaultConfig returns a Config populated with default values.
func NewDefaultConfig() Config {
	return Config{
		Service: ServiceConfig{
			Tag: "example-color",
		},
		Policy: PolicyConfig{
			AutoAccept:           true,
			InviteTimeoutSeconds: 0,
		},
		Transport: TransportConfig{
			Kind:                  TransportLAN,
			ListenAddr:            ":0",
			BrowseIntervalSeconds: 5,
			LostAfterSeconds:      30,
			ConnectTimeoutSeconds: 30,
			StunServers:           []string{},
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				MaxSizeMB:  10,
				MaxBackups: 3,
				MaxAgeDays: 28,
			},
		},
		Palette: map[string]string{
			"red":    "#ff3b30",
			"Indigo": "#5856d6",
		},
	}
}

// DefaultConfigPath returns the XDG default path for the config file.
func DefaultConfigPath() (string, error) {
	return storage.ConfigFile("config.toml")
}

// Load reads the configuration from the given path (TOML).
// If path is empty, it uses the XDG default. Missing file returns defaults.
// The result is validated.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		path = defaultPath
	}
	if info, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, err
	} else if info.IsDir() {
		return &cfg, nil
	}
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: unknown keys in %s: %s", transport.ErrInvalidConfiguration, path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values Load cannot check by type alone.
func (c *Config) Validate() error {
	if err := transport.ValidateServiceTag(c.Service.Tag); err != nil {
		return err
	}
	switch c.Transport.Kind {
	case TransportLAN, TransportMemory:
	default:
		return fmt.Errorf("%w: transport kind %q (want %q or %q)",
			transport.ErrInvalidConfiguration, c.Transport.Kind, TransportLAN, TransportMemory)
	}
	for name, v := range map[string]int{
		"policy.inviteTimeoutSeconds":     c.Policy.InviteTimeoutSeconds,
		"transport.browseIntervalSeconds": c.Transport.BrowseIntervalSeconds,
		"transport.lostAfterSeconds":      c.Transport.LostAfterSeconds,
		"transport.connectTimeoutSeconds": c.Transport.ConnectTimeoutSeconds,
	} {
		if v < 0 {
			return fmt.Errorf("%w: %s must not be negative", transport.ErrInvalidConfiguration, name)
		}
	}
	if c.Transport.LostAfterSeconds > 0 && c.Transport.BrowseIntervalSeconds > 0 &&
		c.Transport.LostAfterSeconds <= c.Transport.BrowseIntervalSeconds {
		return fmt.Errorf("%w: transport.lostAfterSeconds must exceed browseIntervalSeconds", transport.ErrInvalidConfiguration)
	}
	return nil
}

// InviteTimeout returns the invitation timeout, zero meaning none.
func (p PolicyConfig) InviteTimeout() time.Duration {
	return time.Duration(p.InviteTimeoutSeconds) * time.Second
}

func (t TransportConfig) BrowseInterval() time.Duration {
	return time.Duration(t.BrowseIntervalSeconds) * time.Second
}

func (t TransportConfig) LostAfter() time.Duration {
	return time.Duration(t.LostAfterSeconds) * time.Second
}

func (t TransportConfig) ConnectTimeout() time.Duration {
	return time.Duration(t.ConnectTimeoutSeconds) * time.Second
}
