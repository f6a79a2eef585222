package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads, decodes and validates a TOML config file. Unknown keys are
// errors with "did you mean?" suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path if it exists and returns the defaults otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve applies defaults -> config file -> environment -> CLI flags and
// returns the typed, validated result.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	if env.Server != "" {
		cfg.Server.BaseURL = env.Server
	}

	if env.TokenStore != "" {
		cfg.Session.Store = env.TokenStore
	}

	if cli.Server != "" {
		cfg.Server.BaseURL = cli.Server
	}

	// Overrides bypass Load's validation, so check the merged result.
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return resolve(cfg, cfgPath)
}

// resolve converts a validated Config into typed settings.
func resolve(cfg *Config, cfgPath string) (*Resolved, error) {
	r := &Resolved{
		ConfigPath:      cfgPath,
		BaseURL:         strings.TrimRight(cfg.Server.BaseURL, "/"),
		UserAgent:       cfg.Server.UserAgent,
		SessionStore:    cfg.Session.Store,
		SessionPath:     expandHome(cfg.Session.Path),
		ChunkRetries:    cfg.Transfers.ChunkRetries,
		ParallelUploads: cfg.Transfers.ParallelUploads,
		LogLevel:        cfg.Logging.LogLevel,
		LogFormat:       cfg.Logging.LogFormat,
	}

	if r.SessionPath == "" {
		r.SessionPath = DefaultSessionPath(r.SessionStore)
	}

	var err error

	if r.ChunkSize, err = ParseSize(cfg.Transfers.ChunkSize); err != nil {
		return nil, fmt.Errorf("chunk_size: %w", err)
	}

	if r.RequestTimeout, err = parseDuration(cfg.Network.RequestTimeout); err != nil {
		return nil, fmt.Errorf("request_timeout: %w", err)
	}

	if r.RefreshTimeout, err = parseDuration(cfg.Network.RefreshTimeout); err != nil {
		return nil, fmt.Errorf("refresh_timeout: %w", err)
	}

	if r.ChunkTimeout, err = parseDuration(cfg.Transfers.ChunkTimeout); err != nil {
		return nil, fmt.Errorf("chunk_timeout: %w", err)
	}

	return r, nil
}

// parseDuration treats "" and "0" as zero.
func parseDuration(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}

	return time.ParseDuration(s)
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return home + path[1:]
}
