package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Transport modes.
const (
	TransportLocal = "local"
	TransportRelay = "relay"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Room      RoomConfig        `yaml:"room"`
	Transport TransportConfig   `yaml:"transport"`
	Protocol  ProtocolConfig    `yaml:"protocol"`
	Store     StoreConfig       `yaml:"store"`
	Auth      AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Room.Validate(); err != nil {
		return err
	}
	if err := c.Transport.Validate(); err != nil {
		return err
	}
	if err := c.Protocol.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// RoomConfig identifies the room and this participant within it.
// ParticipantID must be stable across restarts; the lease and the roster
// both match on it. ParticipantName is display-only and defaults to the id.
type RoomConfig struct {
	ID              string `yaml:"id"`
	ParticipantID   string `yaml:"participant_id"`
	ParticipantName string `yaml:"participant_name"`
	RosterPath      string `yaml:"roster_path"`
	TreePath        string `yaml:"tree_path"`
}

// Validate validates the room configuration.
func (c *RoomConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ID, validation.Required),
		validation.Field(&c.ParticipantID, validation.Required),
		validation.Field(&c.RosterPath, validation.Required),
		validation.Field(&c.TreePath, validation.Required),
	)
}

// TransportConfig selects how the room's broadcast traffic travels.
//
// Mode controls the fabric:
//   - "local" (default): in-process broker, every participant in one host.
//   - "relay": websocket relay; RelayURL must point at a relay's /ws endpoint.
//
// Listen is the bind address the relay subcommand serves on.
type TransportConfig struct {
	Mode     string `yaml:"mode"`
	RelayURL string `yaml:"relay_url"`
	Listen   string `yaml:"listen"`
}

// Validate validates the transport configuration.
func (c *TransportConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = TransportLocal
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(TransportLocal, TransportRelay)),
	); err != nil {
		return err
	}
	if c.Mode == TransportRelay && c.RelayURL == "" {
		return fmt.Errorf("transport: mode is %q but relay_url is empty", TransportRelay)
	}
	return nil
}

// ProtocolConfig holds the room protocol's timing knobs. Durations take
// Go syntax ("15m", "3s").
type ProtocolConfig struct {
	OwnerTimeout      time.Duration `yaml:"owner_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	RolePollInterval  time.Duration `yaml:"role_poll_interval"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
}

// Validate validates the protocol configuration. The heartbeat must fit
// inside the staleness window a few times over, or a healthy owner looks
// dead between beats.
func (c *ProtocolConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.OwnerTimeout, validation.Required, validation.Min(time.Minute)),
		validation.Field(&c.HeartbeatInterval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.RolePollInterval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.RequestTimeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.CacheTTL, validation.Required, validation.Min(time.Minute)),
	); err != nil {
		return err
	}
	if c.HeartbeatInterval*2 >= c.OwnerTimeout {
		return fmt.Errorf("protocol: heartbeat_interval %s is too close to owner_timeout %s", c.HeartbeatInterval, c.OwnerTimeout)
	}
	return nil
}

// StoreConfig holds the room SQLite database path.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8090,
			},
		},
		Room: RoomConfig{
			RosterPath: "./roster.yaml",
			TreePath:   "./tree.json",
		},
		Transport: TransportConfig{
			Mode:   TransportLocal,
			Listen: ":8091",
		},
		Protocol: ProtocolConfig{
			OwnerTimeout:      15 * time.Minute,
			HeartbeatInterval: 2 * time.Minute,
			RolePollInterval:  3 * time.Second,
			RequestTimeout:    5 * time.Second,
			CacheTTL:          time.Hour,
		},
		Store: StoreConfig{
			Path: "./loreshare.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
