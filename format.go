package main

import (
	"time"

	"github.com/dustin/go-humanize"
)

// formatSize returns a human-readable IEC size, e.g. "12 MiB".
func formatSize(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}

	return humanize.IBytes(uint64(bytes))
}

// formatTime returns a local timestamp with a relative hint,
// e.g. "2025-06-01 14:00 (15 minutes from now)".
func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04") + " (" + humanize.Time(t) + ")"
}
