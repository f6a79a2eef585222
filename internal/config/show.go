package config

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
)

// RenderEffective writes the resolved settings as annotated TOML-like text.
// It backs the "config show" command.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", orNone(r.ConfigPath))

	ew.printf("[server]\n")
	ew.printf("  base_url   = %q\n", r.BaseURL)

	if r.UserAgent != "" {
		ew.printf("  user_agent = %q\n", r.UserAgent)
	}

	ew.printf("\n[session]\n")
	ew.printf("  store = %q\n", r.SessionStore)
	ew.printf("  path  = %q\n", r.SessionPath)

	ew.printf("\n[network]\n")
	ew.printf("  request_timeout = %q\n", r.RequestTimeout)
	ew.printf("  refresh_timeout = %q\n", r.RefreshTimeout)

	ew.printf("\n[transfers]\n")
	ew.printf("  chunk_size       = %q  # %d bytes\n", humanize.IBytes(uint64(r.ChunkSize)), r.ChunkSize)
	ew.printf("  chunk_retries    = %d\n", r.ChunkRetries)
	ew.printf("  chunk_timeout    = %q\n", r.ChunkTimeout)
	ew.printf("  parallel_uploads = %d\n", r.ParallelUploads)

	ew.printf("\n[logging]\n")
	ew.printf("  log_level  = %q\n", r.LogLevel)
	ew.printf("  log_format = %q\n", r.LogFormat)

	return ew.err
}

// errWriter keeps the first write error so printf calls can be chained.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}

	return s
}
