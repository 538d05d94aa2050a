package config

import "time"

// Backend selects which protocol adapter the chat client uses.
type Backend string

const (
	// BackendMatrix drives the federated, end-to-end encrypted protocol.
	BackendMatrix Backend = "matrix"
	// BackendHosted drives the centralized hosted chat SDK.
	BackendHosted Backend = "hosted"
)

// Config holds chat client configuration values. All values are read at
// construction time; the active backend cannot be swapped mid-session.
type Config struct {
	Backend        Backend       `mapstructure:"backend" yaml:"backend"`
	HomeserverURL  string        `mapstructure:"homeserver_url" yaml:"homeserver_url"`
	HostedAppID    string        `mapstructure:"hosted_app_id" yaml:"hosted_app_id"`
	HostedBaseURL  string        `mapstructure:"hosted_base_url" yaml:"hosted_base_url"`
	SessionRefresh time.Duration `mapstructure:"session_refresh" yaml:"session_refresh"`
	DatabasePath   string        `mapstructure:"database_path" yaml:"database_path"`
	LogLevel       string        `mapstructure:"log_level" yaml:"log_level"`
	// PrivateReadReceipts forces read receipts that are not visible to other
	// room members. The per-user preference stored in the session store can
	// opt in on top of this but never below it.
	PrivateReadReceipts bool `mapstructure:"private_read_receipts" yaml:"private_read_receipts"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Backend:        BackendMatrix,
		HomeserverURL:  "http://localhost:8008",
		HostedBaseURL:  "https://api.hosted-chat.example",
		SessionRefresh: 2 * time.Hour,
		DatabasePath:   "murmur.db",
		LogLevel:       "info",
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Backend != "" {
		c.Backend = other.Backend
	}
	if other.HomeserverURL != "" {
		c.HomeserverURL = other.HomeserverURL
	}
	if other.HostedAppID != "" {
		c.HostedAppID = other.HostedAppID
	}
	if other.HostedBaseURL != "" {
		c.HostedBaseURL = other.HostedBaseURL
	}
	if other.SessionRefresh != 0 {
		c.SessionRefresh = other.SessionRefresh
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
}
