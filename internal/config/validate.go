package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Validation ranges.
const (
	minChunkBytes      = 64 << 10  // 64 KiB
	maxChunkBytes      = 512 << 20 // 512 MiB
	minParallelUploads = 1
	maxParallelUploads = 16
	minRequestTimeout  = 1 * time.Second
	minRefreshTimeout  = 1 * time.Second
)

// MaxChunkRetries bounds transfers.chunk_retries and the upload --retries flag.
const MaxChunkRetries = 10

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

var validStores = map[string]bool{
	StoreFile:   true,
	StoreSQLite: true,
	StoreMemory: true,
}

// Validate checks every value and reports all problems at once.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateSession(&cfg.Session)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateTransfers(&cfg.Transfers)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateServer(s *ServerConfig) []error {
	if err := validateBaseURL(s.BaseURL); err != nil {
		return []error{fmt.Errorf("base_url: %w", err)}
	}

	return nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must be an http or https URL, got %q", raw)
	}

	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}

	return nil
}

func validateSession(s *SessionConfig) []error {
	if !validStores[s.Store] {
		return []error{fmt.Errorf("store: must be one of file, sqlite, memory; got %q", s.Store)}
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("request_timeout", n.RequestTimeout, minRequestTimeout)...)
	errs = append(errs, validateDurationMin("refresh_timeout", n.RefreshTimeout, minRefreshTimeout)...)

	return errs
}

func validateTransfers(t *TransfersConfig) []error {
	var errs []error

	size, err := ParseSize(t.ChunkSize)

	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("chunk_size: %w", err))
	case size < minChunkBytes || size > maxChunkBytes:
		errs = append(errs, fmt.Errorf("chunk_size: must be between 64KiB and 512MiB, got %q", t.ChunkSize))
	}

	if t.ChunkRetries < 0 || t.ChunkRetries > MaxChunkRetries {
		errs = append(errs, fmt.Errorf("chunk_retries: must be between 0 and %d, got %d",
			MaxChunkRetries, t.ChunkRetries))
	}

	errs = append(errs, validateDurationNonNeg("chunk_timeout", t.ChunkTimeout)...)

	if t.ParallelUploads < minParallelUploads || t.ParallelUploads > maxParallelUploads {
		errs = append(errs, fmt.Errorf("parallel_uploads: must be between %d and %d, got %d",
			minParallelUploads, maxParallelUploads, t.ParallelUploads))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be at least %s, got %s", field, minimum, d)}
	}

	return nil
}

// validateDurationNonNeg accepts "0" and "" as "disabled".
func validateDurationNonNeg(field, value string) []error {
	if value == "" || value == "0" {
		return nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < 0 {
		return []error{fmt.Errorf("%s: must not be negative, got %s", field, d)}
	}

	return nil
}
