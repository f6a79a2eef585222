// Package config loads the vpanelctl TOML configuration and resolves it
// through the override chain defaults -> config file -> environment -> CLI
// flags into typed settings.
package config

import "time"

// Config is the top-level structure parsed from the TOML file.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Session   SessionConfig   `toml:"session"`
	Network   NetworkConfig   `toml:"network"`
	Transfers TransfersConfig `toml:"transfers"`
	Logging   LoggingConfig   `toml:"logging"`
}

// ServerConfig identifies the vpanel API.
type ServerConfig struct {
	BaseURL   string `toml:"base_url"`
	UserAgent string `toml:"user_agent"`
}

// SessionConfig selects where credentials are kept. An empty path uses the
// platform data directory.
type SessionConfig struct {
	Store string `toml:"store"`
	Path  string `toml:"path"`
}

// NetworkConfig bounds every network call.
type NetworkConfig struct {
	RequestTimeout string `toml:"request_timeout"`
	RefreshTimeout string `toml:"refresh_timeout"`
}

// TransfersConfig controls chunked uploads.
type TransfersConfig struct {
	ChunkSize       string `toml:"chunk_size"`
	ChunkRetries    int    `toml:"chunk_retries"`
	ChunkTimeout    string `toml:"chunk_timeout"`
	ParallelUploads int    `toml:"parallel_uploads"`
}

// LoggingConfig controls log verbosity and format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// CLIOverrides holds values from CLI flags. Empty strings mean "not given".
type CLIOverrides struct {
	ConfigPath string // --config
	Server     string // --server
}

// Resolved is the effective configuration with sizes and durations parsed.
type Resolved struct {
	ConfigPath string

	BaseURL   string
	UserAgent string

	SessionStore string
	SessionPath  string

	RequestTimeout time.Duration
	RefreshTimeout time.Duration

	ChunkSize       int64
	ChunkRetries    int
	ChunkTimeout    time.Duration
	ParallelUploads int

	LogLevel  string
	LogFormat string
}
