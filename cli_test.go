package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakePanel is an in-memory vpanel API: sign-in, rotating refresh, sign-out,
// one JSON endpoint and the chunk endpoint.
type fakePanel struct {
	mu            sync.Mutex
	access        string
	refresh       string
	issued        int
	refreshCalls  int
	rejectRefresh bool
	signouts      int
	chunks        []string
}

func newFakePanel(t *testing.T) (*fakePanel, *httptest.Server) {
	t.Helper()

	fp := &fakePanel{}
	srv := httptest.NewServer(http.HandlerFunc(fp.serve))
	t.Cleanup(srv.Close)

	return fp, srv
}

func (fp *fakePanel) issueLocked() map[string]any {
	fp.issued++
	fp.access = fmt.Sprintf("access-%d", fp.issued)
	fp.refresh = fmt.Sprintf("refresh-%d", fp.issued)

	return map[string]any{"accessToken": fp.access, "refreshToken": fp.refresh, "expiresIn": 900}
}

// invalidateAccess makes the stored access token stale.
func (fp *fakePanel) invalidateAccess() {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	fp.access = "revoked"
}

func (fp *fakePanel) setRejectRefresh() {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	fp.rejectRefresh = true
}

func (fp *fakePanel) snapshot() (access string, refreshCalls, signouts int, chunks []string) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	return fp.access, fp.refreshCalls, fp.signouts, append([]string(nil), fp.chunks...)
}

func (fp *fakePanel) serve(w http.ResponseWriter, r *http.Request) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	writeJSON := func(status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	fail := func(status int, msg string) {
		writeJSON(status, map[string]any{"error": true, "message": msg})
	}

	switch r.URL.Path {
	case "/auth/signin":
		var in struct{ Username, Password string }
		_ = json.NewDecoder(r.Body).Decode(&in)

		if in.Password != "secret" {
			fail(http.StatusBadRequest, "invalid username or password")
			return
		}

		out := fp.issueLocked()
		out["user"] = map[string]any{"id": 7, "name": "Ada", "email": in.Username, "role": "admin"}
		writeJSON(http.StatusOK, out)

	case "/auth/refresh":
		fp.refreshCalls++

		var in struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)

		if fp.rejectRefresh || in.RefreshToken != fp.refresh {
			fail(http.StatusUnauthorized, "refresh token expired")
			return
		}

		writeJSON(http.StatusOK, fp.issueLocked())

	case "/auth/signout":
		fp.signouts++
		writeJSON(http.StatusOK, map[string]any{"error": false, "message": "signed out"})

	case "/project/list":
		if r.Header.Get("Authorization") != "Bearer "+fp.access {
			fail(http.StatusUnauthorized, "token expired")
			return
		}

		writeJSON(http.StatusOK, map[string]any{"projects": []map[string]any{{"id": 1, "name": "shop"}}})

	case "/project/upload-project-folder":
		if r.Header.Get("Authorization") != "Bearer "+fp.access {
			fail(http.StatusUnauthorized, "token expired")
			return
		}

		if err := r.ParseMultipartForm(32 << 20); err != nil {
			fail(http.StatusBadRequest, err.Error())
			return
		}

		fp.chunks = append(fp.chunks, fmt.Sprintf("%s/%s:%s/%s",
			r.FormValue("projectName"), r.FormValue("filename"),
			r.FormValue("chunkIndex"), r.FormValue("totalChunks")))

		writeJSON(http.StatusOK, map[string]any{"error": false, "message": "chunk received"})

	default:
		fail(http.StatusNotFound, "not found")
	}
}

// isolateEnv points every config and data directory at a temp dir.
func isolateEnv(t *testing.T, serverURL string) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("VPANEL_CONFIG", "")
	t.Setenv("VPANEL_TOKEN_STORE", "")
	t.Setenv("VPANEL_SERVER", serverURL)

	return dir
}

// runCLI executes the root command with args and stdin.
func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer

	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)

	err := cmd.ExecuteContext(context.Background())

	return stdout.String(), stderr.String(), err
}

func login(t *testing.T) {
	t.Helper()

	_, _, err := runCLI(t, "secret\n", "login", "-u", "ada@example.com", "--password-stdin")
	require.NoError(t, err)
}
