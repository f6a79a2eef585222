package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	gosync "sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/projuktisheba/vpanelctl/internal/config"
	"github.com/projuktisheba/vpanelctl/internal/transport"
	"github.com/projuktisheba/vpanelctl/internal/upload"
)

// Destination form fields understood by the project upload endpoint.
const (
	fieldProjectName      = "projectName"
	fieldProjectFramework = "projectFramework"
)

func newUploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload FILE...",
		Short: "Upload files to a project in chunks",
		Long: `Upload one or more files in fixed-size chunks. Each chunk is retried on
network errors, timeouts, throttling and server errors; other rejections stop
that file immediately. Several files are uploaded in parallel up to
transfers.parallel_uploads.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runUpload,
	}

	f := cmd.Flags()
	f.String("project", "", "project name sent with every chunk (required)")
	f.String("framework", "", "project framework sent with every chunk")
	f.String("path", upload.DefaultPath, "chunk endpoint path")
	f.String("chunk-size", "", "chunk size, e.g. 5MiB (default from config)")
	f.Int("retries", -1, "extra attempts per chunk (default from config)")
	f.StringArray("field", nil, "extra form field as key=value (repeatable)")

	_ = cmd.MarkFlagRequired("project")

	return cmd
}

// uploadOutcome is one line of the JSON report.
type uploadOutcome struct {
	File        string `json:"file"`
	Filename    string `json:"filename,omitempty"`
	TotalChunks int    `json:"total_chunks,omitempty"`
	Bytes       int64  `json:"bytes"`
	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
	FailedChunk *int   `json:"failed_chunk,omitempty"`
}

func runUpload(cmd *cobra.Command, args []string) error {
	cc := cliContextFrom(cmd.Context())

	opts, err := uploadOptionsFromFlags(cmd, cc.Cfg)
	if err != nil {
		return err
	}

	sess, err := newAPISession(cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.requireLogin(); err != nil {
		return err
	}

	engine := upload.NewEngine(sess.Client, cc.Logger)

	outcomes, err := uploadAll(cmd.Context(), cc, engine, args, opts)

	if cc.Flags.JSON {
		if jerr := printJSON(cc.Stdout, outcomes); jerr != nil {
			return jerr
		}
	}

	return err
}

// uploadAll uploads files through a bounded errgroup. An expired session
// cancels the remaining uploads; any other failure only ends its own file.
func uploadAll(
	ctx context.Context, cc *CLIContext, engine *upload.Engine, files []string, opts upload.Options,
) ([]uploadOutcome, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cc.Cfg.ParallelUploads)

	outcomes := make([]uploadOutcome, len(files))
	errs := make([]error, len(files))

	var progressMu gosync.Mutex

	for i, file := range files {
		fileOpts := opts
		fileOpts.OnProgress = func(p upload.Progress) {
			progressMu.Lock()
			defer progressMu.Unlock()

			cc.Statusf("%s: chunk %d/%d (%d%%) %s / %s\n",
				p.Filename, p.UploadedChunks, p.TotalChunks, p.Percentage,
				formatSize(p.BytesSent), formatSize(p.TotalBytes))
		}

		g.Go(func() error {
			res, err := engine.UploadFile(gctx, file, fileOpts)
			outcomes[i] = outcomeOf(file, res, err)

			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", file, err)
				cc.Logger.Error("upload failed", "file", file, "error", err)

				if errors.Is(err, transport.ErrSessionExpired) {
					return err
				}

				return nil
			}

			cc.Statusf("Uploaded %s (%s in %d chunks)\n", res.Filename, formatSize(res.Bytes), res.TotalChunks)

			return nil
		})
	}

	// Every failure is already in errs; the group error only drives cancellation.
	_ = g.Wait()

	return outcomes, errors.Join(errs...)
}

func outcomeOf(file string, res *upload.Result, err error) uploadOutcome {
	out := uploadOutcome{File: file}

	if res != nil {
		out.Filename = res.Filename
		out.TotalChunks = res.TotalChunks
		out.Bytes = res.Bytes
		out.Message = res.Message
	}

	if err != nil {
		out.Error = err.Error()

		var chunkErr *upload.ChunkError
		if errors.As(err, &chunkErr) {
			idx := chunkErr.ChunkIndex
			out.FailedChunk = &idx
		}
	}

	return out
}

// uploadOptionsFromFlags merges flags over the resolved config.
func uploadOptionsFromFlags(cmd *cobra.Command, cfg *config.Resolved) (upload.Options, error) {
	f := cmd.Flags()

	project, _ := f.GetString("project")
	framework, _ := f.GetString("framework")
	path, _ := f.GetString("path")
	chunkSize, _ := f.GetString("chunk-size")
	retries, _ := f.GetInt("retries")
	fields, _ := f.GetStringArray("field")

	opts := upload.Options{
		Path:         path,
		ChunkSize:    cfg.ChunkSize,
		Retries:      retriesOption(cfg.ChunkRetries),
		ChunkTimeout: cfg.ChunkTimeout,
		Destination:  map[string]string{fieldProjectName: project},
	}

	if framework != "" {
		opts.Destination[fieldProjectFramework] = framework
	}

	for _, kv := range fields {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return opts, fmt.Errorf("invalid --field %q: want key=value", kv)
		}

		opts.Destination[k] = v
	}

	if chunkSize != "" {
		n, err := config.ParseSize(chunkSize)
		if err != nil {
			return opts, fmt.Errorf("--chunk-size: %w", err)
		}

		if n <= 0 {
			return opts, fmt.Errorf("--chunk-size: must be positive")
		}

		opts.ChunkSize = n
	}

	if f.Changed("retries") {
		if retries < 0 || retries > config.MaxChunkRetries {
			return opts, fmt.Errorf("--retries: must be between 0 and %d, got %d", config.MaxChunkRetries, retries)
		}

		opts.Retries = retriesOption(retries)
	}

	return opts, nil
}

// retriesOption maps a configured retry count onto upload.Options, where
// zero means "default".
func retriesOption(n int) int {
	if n == 0 {
		return upload.NoRetries
	}

	return n
}
