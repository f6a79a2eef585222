// Package upload splits a binary payload into fixed-size chunks and sends
// them one after another through the authenticated transport client, with
// per-chunk retry and a progress callback after each delivered chunk.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/projuktisheba/vpanelctl/internal/transport"
)

const (
	// DefaultChunkSize is 5 MiB.
	DefaultChunkSize int64 = 5 << 20

	// DefaultRetries is the number of additional attempts per chunk.
	DefaultRetries = 2

	// NoRetries selects a single attempt per chunk.
	NoRetries = -1

	// DefaultPath is the chunk endpoint relative to the API base URL.
	DefaultPath = "/project/upload-project-folder"

	mib = 1 << 20
)

// Sender sends one logical request. *transport.Client implements it.
type Sender interface {
	Send(ctx context.Context, req *transport.Request) (*transport.Response, error)
}

// Options configures one upload. Zero values select defaults.
type Options struct {
	// Path is the chunk endpoint. Defaults to DefaultPath.
	Path string

	// ChunkSize is the maximum payload per chunk. Defaults to DefaultChunkSize.
	ChunkSize int64

	// Retries is the number of additional attempts per chunk after a
	// transient failure. Zero selects DefaultRetries; NoRetries disables retry.
	Retries int

	// ChunkTimeout bounds each attempt. A timeout counts as a transient
	// failure. Zero leaves only the transport client's request timeout.
	ChunkTimeout time.Duration

	// Destination holds the identifiers sent as extra form fields with every
	// chunk, e.g. projectName and projectFramework.
	Destination map[string]string

	// OnProgress is called synchronously after each delivered chunk.
	OnProgress func(Progress)
}

// Progress is the snapshot emitted after each delivered chunk.
type Progress struct {
	Filename       string
	ChunkSizeMB    float64
	UploadedChunks int
	TotalChunks    int
	// Percentage is round(UploadedChunks / TotalChunks * 100), half away
	// from zero.
	Percentage int
	BytesSent  int64
	TotalBytes int64
	Completed  bool
}

// Result describes a finished upload.
type Result struct {
	Filename    string
	TotalChunks int
	Bytes       int64
	// Message is the server's acknowledgement of the final chunk.
	Message string
}

// Engine drives chunked uploads. One Engine may run several uploads
// concurrently; each call keeps its own state.
type Engine struct {
	sender Sender
	logger *slog.Logger

	// sleepFunc waits between chunk retries. Tests override it.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewEngine creates an Engine that sends chunks through sender.
func NewEngine(sender Sender, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		sender:    sender,
		logger:    logger,
		sleepFunc: timeSleep,
	}
}

// TotalChunks returns ceil(size/chunkSize), and 1 for an empty payload.
func TotalChunks(size, chunkSize int64) int {
	if size <= 0 {
		return 1
	}

	return int((size + chunkSize - 1) / chunkSize)
}

// Percentage returns the rounded completion percentage.
func Percentage(uploaded, total int) int {
	if total <= 0 {
		return 0
	}

	return int(math.Round(float64(uploaded) / float64(total) * 100))
}

// Upload sends size bytes of blob as name. Chunks go out strictly in order.
// A zero-byte blob is sent as one empty chunk. A blob that ends before size
// fails with io.ErrUnexpectedEOF before the short chunk is sent.
//
// When a chunk exhausts its retry budget the error is a *ChunkError.
// Non-transient failures, including transport.ErrSessionExpired, are
// returned as they are without retry. Chunks already delivered stay
// delivered on every failure and on cancellation.
func (e *Engine) Upload(
	ctx context.Context, name string, blob io.ReaderAt, size int64, opts Options,
) (*Result, error) {
	if err := opts.validate(name, blob, size); err != nil {
		return nil, err
	}

	opts.applyDefaults()

	filename := normalizeName(name)
	total := TotalChunks(size, opts.ChunkSize)

	e.logger.Info("starting chunked upload",
		slog.String("filename", filename),
		slog.Int64("size", size),
		slog.Int64("chunk_size", opts.ChunkSize),
		slog.Int("total_chunks", total),
	)

	start := time.Now()

	var (
		sent    int64
		message string
	)

	for i := range total {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("upload: canceled before chunk %d: %w", i, err)
		}

		offset := int64(i) * opts.ChunkSize
		length := min(opts.ChunkSize, size-offset)

		resp, err := e.sendChunk(ctx, filename, i, total, blob, offset, length, &opts)
		if err != nil {
			return nil, err
		}

		sent += length
		message = resp.Message()

		if opts.OnProgress != nil {
			opts.OnProgress(Progress{
				Filename:       filename,
				ChunkSizeMB:    float64(opts.ChunkSize) / mib,
				UploadedChunks: i + 1,
				TotalChunks:    total,
				Percentage:     Percentage(i+1, total),
				BytesSent:      sent,
				TotalBytes:     size,
				Completed:      i == total-1,
			})
		}
	}

	e.logger.Info("chunked upload complete",
		slog.String("filename", filename),
		slog.Int("total_chunks", total),
		slog.Duration("elapsed", time.Since(start)),
	)

	return &Result{
		Filename:    filename,
		TotalChunks: total,
		Bytes:       sent,
		Message:     message,
	}, nil
}

// UploadFile uploads the file at path under its base name.
func (e *Engine) UploadFile(ctx context.Context, path string, opts Options) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("upload: opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("upload: stat %s: %w", path, err)
	}

	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrInvalidOptions, path)
	}

	return e.Upload(ctx, filepath.Base(path), f, info.Size(), opts)
}

// sendChunk delivers one chunk, retrying transient failures.
func (e *Engine) sendChunk(
	ctx context.Context, filename string, index, total int,
	blob io.ReaderAt, offset, length int64, opts *Options,
) (*transport.Response, error) {
	body, contentType, n, err := chunkBody(
		filename, index, total, opts.Destination, io.NewSectionReader(blob, offset, length),
	)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}

	// A payload shorter than its declared size (a file truncated after
	// stat) must not reach the server as a short or empty chunk.
	if n != length {
		return nil, fmt.Errorf("upload: chunk %d: read %d of %d bytes at offset %d: %w",
			index, n, length, offset, io.ErrUnexpectedEOF)
	}

	req := transport.NewRequest(http.MethodPost, opts.Path, contentType, body)
	attempts := opts.Retries + 1

	for attempt := 1; ; attempt++ {
		resp, err := e.attempt(ctx, req, opts.ChunkTimeout)
		if err == nil {
			e.logger.Debug("chunk delivered",
				slog.String("filename", filename),
				slog.Int("chunk_index", index),
				slog.Int("attempt", attempt),
			)

			return resp, nil
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("upload: chunk %d canceled: %w", index, ctx.Err())
		}

		if !retryable(err) {
			e.logger.Warn("chunk rejected",
				slog.String("filename", filename),
				slog.Int("chunk_index", index),
				slog.String("error", err.Error()),
			)

			return nil, fmt.Errorf("upload: chunk %d: %w", index, err)
		}

		if attempt >= attempts {
			e.logger.Error("chunk retry budget exhausted",
				slog.String("filename", filename),
				slog.Int("chunk_index", index),
				slog.Int("attempts", attempt),
				slog.String("error", err.Error()),
			)

			return nil, &ChunkError{ChunkIndex: index, Attempts: attempt, Err: err}
		}

		backoff := calcBackoff(attempt - 1)
		e.logger.Warn("retrying chunk",
			slog.String("filename", filename),
			slog.Int("chunk_index", index),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)

		if sleepErr := e.sleepFunc(ctx, backoff); sleepErr != nil {
			return nil, fmt.Errorf("upload: chunk %d canceled: %w", index, sleepErr)
		}
	}
}

// attempt sends req once. When timeout is set and fires while the caller's
// context is still live, the failure is reported as a transport failure.
func (e *Engine) attempt(ctx context.Context, req *transport.Request, timeout time.Duration) (*transport.Response, error) {
	if timeout <= 0 {
		return e.sender.Send(ctx, req)
	}

	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := e.sender.Send(actx, req)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: chunk attempt timed out after %s: %w", transport.ErrTransport, timeout, err)
	}

	return resp, err
}

func retryable(err error) bool {
	if errors.Is(err, transport.ErrSessionExpired) {
		return false
	}

	return transport.IsTransient(err)
}

func (o *Options) validate(name string, blob io.ReaderAt, size int64) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty filename", ErrInvalidOptions)
	case blob == nil:
		return fmt.Errorf("%w: nil payload", ErrInvalidOptions)
	case size < 0:
		return fmt.Errorf("%w: negative size %d", ErrInvalidOptions, size)
	case o.ChunkSize < 0:
		return fmt.Errorf("%w: negative chunk size %d", ErrInvalidOptions, o.ChunkSize)
	case o.Retries < NoRetries:
		return fmt.Errorf("%w: retries must be >= %d, got %d", ErrInvalidOptions, NoRetries, o.Retries)
	}

	for k := range o.Destination {
		switch k {
		case "", fieldChunk, fieldFilename, fieldChunkIndex, fieldTotalChunks:
			return fmt.Errorf("%w: reserved destination field %q", ErrInvalidOptions, k)
		}
	}

	return nil
}

func (o *Options) applyDefaults() {
	if o.Path == "" {
		o.Path = DefaultPath
	}

	if o.ChunkSize == 0 {
		o.ChunkSize = DefaultChunkSize
	}

	switch o.Retries {
	case 0:
		o.Retries = DefaultRetries
	case NoRetries:
		o.Retries = 0
	}
}
