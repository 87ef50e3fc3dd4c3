// Package config handles configuration loading for coven-fleet.
//
// # Overview
//
// Configuration is loaded from a YAML (.yaml, .yml) or TOML (.toml) file with
// environment variable expansion. Values referencing ${VAR_NAME} are replaced
// with the environment value, or an empty string when unset.
//
// # Snapshots
//
// Consumers never hold a *Config for longer than one decision. They call
// Source.Current() each time they need a value, so a reload becomes visible
// on the next access:
//
//	cfg := provider.Current()
//	if cfg.Plugins.AutoReconnect { ... }
//
// A *Config returned by Current is shared and must be treated as read-only.
//
// # Hot Reload
//
// Provider.Watch follows the config file with fsnotify and reloads on write.
// A file that fails to parse or validate is rejected as a whole: the previous
// snapshot stays in effect and the error is logged.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	web:
//	  refresh_interval: "5s"
//	matrix:
//	  update_interval: "10s"
//
// # Configuration Sections
//
//	server:     game server address and protocol driver
//	accounts:   agent accounts (username, auth); legacy single "account" is accepted
//	plugins:    behavior and lifecycle toggles
//	web:        dashboard, push channel and web chat relay
//	matrix:     chat-platform status message
//	database:   chat log persistence
//	logging:    level and format
package config
