// Package testutil provides environment helpers for the E2E tests, which
// drive the built binary against a live vpanel server. It depends only on
// the standard library so packages outside internal/ can use it.
package testutil

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Environment variables read by the E2E suite.
const (
	EnvServer   = "VPANEL_E2E_SERVER"
	EnvUser     = "VPANEL_E2E_USER"
	EnvPassword = "VPANEL_E2E_PASSWORD"
	EnvProject  = "VPANEL_E2E_PROJECT"
	EnvAllowed  = "VPANEL_E2E_ALLOWED_SERVERS"
)

// LoadDotEnv reads KEY=VALUE pairs from path. A missing file is fine, and
// variables already set in the environment win.
func LoadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// RequireEnv returns the value of every named variable, exiting the test
// binary when any is unset.
func RequireEnv(names ...string) map[string]string {
	vals := make(map[string]string, len(names))

	var missing []string

	for _, n := range names {
		v := os.Getenv(n)
		if v == "" {
			missing = append(missing, n)
		}

		vals[n] = v
	}

	if len(missing) > 0 {
		fmt.Fprintf(os.Stderr, "FATAL: missing %s (set them in .env or the environment)\n",
			strings.Join(missing, ", "))
		os.Exit(1)
	}

	return vals
}

// ValidateAllowlist exits unless server appears in the comma-separated
// VPANEL_E2E_ALLOWED_SERVERS list. It keeps the suite from uploading into a
// production panel by accident.
func ValidateAllowlist(server string) {
	allowlist := os.Getenv(EnvAllowed)
	if allowlist == "" {
		fmt.Fprintf(os.Stderr, "FATAL: %s not set\n", EnvAllowed)
		fmt.Fprintf(os.Stderr, "Example: %s=http://localhost:8888/api/v1\n", EnvAllowed)
		os.Exit(1)
	}

	for _, a := range strings.Split(allowlist, ",") {
		if strings.TrimRight(strings.TrimSpace(a), "/") == strings.TrimRight(server, "/") {
			return
		}
	}

	fmt.Fprintf(os.Stderr, "FATAL: %s=%q is not in %s=%q\n", EnvServer, server, EnvAllowed, allowlist)
	os.Exit(1)
}

// FindModuleRoot walks up from the working directory to the one holding
// go.mod, returning fallback when there is none.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}
