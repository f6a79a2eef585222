package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	configFilePermissions = 0o644
	configDirPermissions  = 0o755
)

// configTemplate is written on the first login that names a server. Every
// other setting is present as a commented-out default.
const configTemplate = `# vpanelctl configuration

[server]
base_url = %q
# user_agent = ""

[session]
# store = "file"   # file, sqlite or memory
# path = ""

[network]
# request_timeout = "30s"
# refresh_timeout = "15s"

[transfers]
# chunk_size = "5MiB"
# chunk_retries = 2
# chunk_timeout = "2m"
# parallel_uploads = 2

[logging]
# log_level = "warn"
# log_format = "auto"   # auto, text or json
`

// SaveServer records baseURL as [server] base_url in the config file at
// path, creating the file from the template when it does not exist. Other
// lines of an existing file, comments included, are preserved.
func SaveServer(path, baseURL string) error {
	if err := validateBaseURL(baseURL); err != nil {
		return fmt.Errorf("base_url: %w", err)
	}

	slog.Info("saving server to config",
		slog.String("path", path),
		slog.String("base_url", baseURL),
	)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return atomicWriteFile(path, []byte(fmt.Sprintf(configTemplate, baseURL)))
	}

	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	newLine := fmt.Sprintf("base_url = %q", baseURL)

	header := findSectionHeader(lines, "server")
	if header < 0 {
		content := string(data)
		if content != "" && !strings.HasSuffix(content, "\n") {
			content += "\n"
		}

		content += "\n[server]\n" + newLine + "\n"

		return atomicWriteFile(path, []byte(content))
	}

	lines = setKeyInSection(lines, header, "base_url", newLine)

	return atomicWriteFile(path, []byte(strings.Join(lines, "\n")))
}

// findSectionHeader returns the line index of [name], or -1.
func findSectionHeader(lines []string, name string) int {
	header := "[" + name + "]"

	for i, line := range lines {
		if strings.TrimSpace(line) == header {
			return i
		}
	}

	return -1
}

// setKeyInSection replaces the key's line inside the section starting at
// headerLine, or inserts newLine right after the header.
func setKeyInSection(lines []string, headerLine int, key, newLine string) []string {
	for i := headerLine + 1; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, "[") {
			break
		}

		if strings.HasPrefix(trimmed, key+" ") || strings.HasPrefix(trimmed, key+"=") {
			lines[i] = newLine

			return lines
		}
	}

	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:headerLine+1]...)
	out = append(out, newLine)
	out = append(out, lines[headerLine+1:]...)

	return out
}

// atomicWriteFile writes data through a temp file in the target directory
// and renames it into place. Parent directories are created as needed.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmp := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tmp)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tmp, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
