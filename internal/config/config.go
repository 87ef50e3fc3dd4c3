// ABOUTME: Configuration loading and parsing for coven-fleet
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied when a field is left empty.
const (
	DefaultServerPort         = 25565
	DefaultServerVersion      = "1.20.4"
	DefaultDriver             = "sim"
	DefaultWebPort            = 3000
	DefaultWebRefresh         = 5 * time.Second
	DefaultMatrixCommand      = "!send-embed"
	DefaultMatrixInterval     = 5 * time.Second
	DefaultScoreboardMaxLines = 10
)

// Auth modes accepted for an account.
const (
	AuthOffline   = "offline"
	AuthMicrosoft = "microsoft"
)

// Config represents the complete coven-fleet configuration
type Config struct {
	Server   ServerConfig    `yaml:"server" toml:"server"`
	Accounts []AccountConfig `yaml:"accounts" toml:"accounts"`
	Account  *AccountConfig  `yaml:"account" toml:"account"`
	Plugins  PluginsConfig   `yaml:"plugins" toml:"plugins"`
	Web      WebConfig       `yaml:"web" toml:"web"`
	Matrix   MatrixConfig    `yaml:"matrix" toml:"matrix"`
	Database DatabaseConfig  `yaml:"database" toml:"database"`
	Logging  LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the game server every agent connects to
type ServerConfig struct {
	Host    string `yaml:"host" toml:"host"`
	Port    int    `yaml:"port" toml:"port"`
	Version string `yaml:"version" toml:"version"`
	// Driver names the registered protocol client implementation.
	Driver string `yaml:"driver" toml:"driver"`
}

// AccountConfig identifies one agent account
type AccountConfig struct {
	Username string `yaml:"username" toml:"username"`
	Auth     string `yaml:"auth" toml:"auth"`
}

// PluginsConfig holds behavior plugin and lifecycle toggles
type PluginsConfig struct {
	AntiAFK          bool `yaml:"anti_afk" toml:"anti_afk"`
	RandomMove       bool `yaml:"random_move" toml:"random_move"`
	ChatLogger       bool `yaml:"chat_logger" toml:"chat_logger"`
	AutoSpawnCommand bool `yaml:"auto_spawn_command" toml:"auto_spawn_command"`
	AutoRespawn      bool `yaml:"auto_respawn" toml:"auto_respawn"`
	AutoReconnect    bool `yaml:"auto_reconnect" toml:"auto_reconnect"`
}

// WebConfig holds dashboard configuration
type WebConfig struct {
	Enabled      bool            `yaml:"enabled" toml:"enabled"`
	Port         int             `yaml:"port" toml:"port"`
	AllowWebChat bool            `yaml:"allow_web_chat" toml:"allow_web_chat"`
	Tailscale    TailscaleConfig `yaml:"tailscale" toml:"tailscale"`

	RefreshInterval    time.Duration `yaml:"-" toml:"-"`
	RefreshIntervalRaw string        `yaml:"refresh_interval" toml:"refresh_interval"`
}

// TailscaleConfig holds tsnet configuration for serving the dashboard on a tailnet
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// MatrixConfig holds the chat-platform status message configuration
type MatrixConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	Homeserver  string `yaml:"homeserver" toml:"homeserver"`
	UserID      string `yaml:"user_id" toml:"user_id"`
	AccessToken string `yaml:"access_token" toml:"access_token"`
	// RoomID restricts activation to one room; empty accepts any joined room.
	RoomID             string `yaml:"room_id" toml:"room_id"`
	Command            string `yaml:"command" toml:"command"`
	ScoreboardMaxLines int    `yaml:"scoreboard_max_lines" toml:"scoreboard_max_lines"`

	UpdateInterval    time.Duration `yaml:"-" toml:"-"`
	UpdateIntervalRaw string        `yaml:"update_interval" toml:"update_interval"`
}

// DatabaseConfig holds chat log persistence configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// The format is chosen by extension: .toml is TOML, anything else is YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data, formatFor(path))
}

// Parse decodes raw configuration content in the given format ("yaml" or "toml"),
// applies defaults, parses durations and validates the result.
func Parse(data []byte, format string) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	switch format {
	case "toml":
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func formatFor(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return "toml"
	}
	return "yaml"
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.Version == "" {
		c.Server.Version = DefaultServerVersion
	}
	if c.Server.Driver == "" {
		c.Server.Driver = DefaultDriver
	}
	if c.Web.Port == 0 {
		c.Web.Port = DefaultWebPort
	}
	if c.Web.RefreshInterval == 0 {
		c.Web.RefreshInterval = DefaultWebRefresh
	}
	if c.Matrix.Command == "" {
		c.Matrix.Command = DefaultMatrixCommand
	}
	if c.Matrix.UpdateInterval == 0 {
		c.Matrix.UpdateInterval = DefaultMatrixInterval
	}
	if c.Matrix.ScoreboardMaxLines <= 0 {
		c.Matrix.ScoreboardMaxLines = DefaultScoreboardMaxLines
	}
	for i := range c.Accounts {
		if c.Accounts[i].Auth == "" {
			c.Accounts[i].Auth = AuthOffline
		}
	}
	if c.Account != nil && c.Account.Auth == "" {
		c.Account.Auth = AuthOffline
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}

	seen := make(map[string]bool)
	for i, acc := range c.AgentAccounts() {
		if strings.TrimSpace(acc.Username) == "" {
			return fmt.Errorf("accounts[%d].username is required", i)
		}
		if seen[acc.Username] {
			return fmt.Errorf("accounts[%d].username %q is duplicated", i, acc.Username)
		}
		seen[acc.Username] = true
		switch acc.Auth {
		case "", AuthOffline, AuthMicrosoft:
		default:
			return fmt.Errorf("accounts[%d].auth %q must be %q or %q", i, acc.Auth, AuthOffline, AuthMicrosoft)
		}
	}

	if c.Web.Enabled && !c.Web.Tailscale.Enabled {
		if c.Web.Port < 1 || c.Web.Port > 65535 {
			return fmt.Errorf("web.port %d is out of range", c.Web.Port)
		}
	}
	if c.Web.Tailscale.Enabled && c.Web.Tailscale.Hostname == "" {
		return fmt.Errorf("web.tailscale.hostname is required when tailscale is enabled")
	}
	if c.Web.RefreshInterval < 0 {
		return fmt.Errorf("web.refresh_interval must not be negative")
	}

	if c.Matrix.Enabled {
		if c.Matrix.Homeserver == "" {
			return fmt.Errorf("matrix.homeserver is required when matrix is enabled")
		}
		if _, err := url.Parse(c.Matrix.Homeserver); err != nil {
			return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
		}
		if c.Matrix.UserID == "" {
			return fmt.Errorf("matrix.user_id is required when matrix is enabled")
		}
		if c.Matrix.AccessToken == "" {
			return fmt.Errorf("matrix.access_token is required when matrix is enabled")
		}
		if c.Matrix.UpdateInterval < time.Second {
			return fmt.Errorf("matrix.update_interval must be at least 1s")
		}
	}

	return nil
}

// AgentAccounts returns the configured accounts, falling back to the legacy
// single "account" entry when the list is empty.
func (c *Config) AgentAccounts() []AccountConfig {
	if len(c.Accounts) > 0 {
		return c.Accounts
	}
	if c.Account != nil {
		return []AccountConfig{*c.Account}
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Web.RefreshIntervalRaw != "" {
		cfg.Web.RefreshInterval, err = time.ParseDuration(cfg.Web.RefreshIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing web.refresh_interval %q: %w", cfg.Web.RefreshIntervalRaw, err)
		}
	}

	if cfg.Matrix.UpdateIntervalRaw != "" {
		cfg.Matrix.UpdateInterval, err = time.ParseDuration(cfg.Matrix.UpdateIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing matrix.update_interval %q: %w", cfg.Matrix.UpdateIntervalRaw, err)
		}
	}

	return nil
}
