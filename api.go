package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/projuktisheba/vpanelctl/internal/transport"
)

func newAPICmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "api METHOD PATH",
		Short: "Send an authenticated request to the API",
		Long: `Send an authenticated request to the API and print the response body.

PATH is relative to the configured base URL. An expired access token is
refreshed once and the request replayed.

Examples:
  vpanelctl api GET /project/list
  vpanelctl api POST /project/php/init -d '{"domainName":"shop.example.com"}'
  vpanelctl api PUT /settings -d @settings.json`,
		Args: cobra.ExactArgs(2),
		RunE: runAPI,
	}

	cmd.Flags().StringP("data", "d", "", "request body; @file reads a file, @- reads stdin")
	cmd.Flags().StringArrayP("header", "H", nil, "extra header as 'Name: value' (repeatable)")
	cmd.Flags().BoolP("include", "i", false, "print the response status line before the body")

	return cmd
}

func runAPI(cmd *cobra.Command, args []string) error {
	cc := cliContextFrom(cmd.Context())

	method := strings.ToUpper(args[0])

	path := args[1]
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	data, _ := cmd.Flags().GetString("data")
	headers, _ := cmd.Flags().GetStringArray("header")
	include, _ := cmd.Flags().GetBool("include")

	body, err := readRequestBody(data, cmd.InOrStdin())
	if err != nil {
		return err
	}

	contentType := ""
	if len(body) > 0 && json.Valid(body) {
		contentType = "application/json"
	}

	req := transport.NewRequest(method, path, contentType, body)

	for _, h := range headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return fmt.Errorf("invalid header %q: want 'Name: value'", h)
		}

		req.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	sess, err := newAPISession(cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.requireLogin(); err != nil {
		return err
	}

	resp, err := sess.Client.Send(cmd.Context(), req)
	if err != nil {
		return err
	}

	if include {
		fmt.Fprintf(cc.Stdout, "HTTP %d %s\n", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	return writeResponseBody(cc.Stdout, resp.Body)
}

// readRequestBody resolves the --data value.
func readRequestBody(data string, stdin io.Reader) ([]byte, error) {
	switch {
	case data == "":
		return nil, nil
	case data == "@-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading request body from stdin: %w", err)
		}

		return b, nil
	case strings.HasPrefix(data, "@"):
		b, err := os.ReadFile(data[1:])
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}

		return b, nil
	default:
		return []byte(data), nil
	}
}

// writeResponseBody pretty-prints JSON bodies and copies anything else.
func writeResponseBody(w io.Writer, body []byte) error {
	if len(body) == 0 {
		return nil
	}

	var buf bytes.Buffer
	if json.Indent(&buf, body, "", "  ") == nil {
		buf.WriteByte('\n')
		_, err := buf.WriteTo(w)

		return err
	}

	_, err := w.Write(body)

	return err
}
