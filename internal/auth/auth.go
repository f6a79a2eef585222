// Package auth talks to the vpanel authentication endpoints: sign-in,
// sign-out and the refresh exchange. It uses its own plain *http.Client so
// that auth traffic never passes through the transport client's
// refresh-and-replay logic.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/projuktisheba/vpanelctl/internal/session"
)

// Endpoint paths relative to the API base URL.
const (
	signinPath  = "/auth/signin"
	signoutPath = "/auth/signout"
	refreshPath = "/auth/refresh"
)

// maxResponseBody caps how much of an auth response is read.
const maxResponseBody = 1 << 20

// DefaultRequestTimeout bounds each sign-in, sign-out and refresh exchange.
const DefaultRequestTimeout = 30 * time.Second

var (
	// ErrRefreshFailed is returned when the refresh exchange cannot produce a
	// new pair: no stored refresh token, server rejection, network error, or
	// a malformed response.
	ErrRefreshFailed = errors.New("auth: refresh failed")

	// ErrLoginFailed is returned when sign-in is rejected.
	ErrLoginFailed = errors.New("auth: login failed")
)

// User is the profile returned by sign-in.
type User struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role"`
}

// tokenResponse is the body of a successful sign-in or refresh.
// ExpiresIn (seconds) is optional; without it the JWT exp claim is used.
type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn,omitempty"`
	User         *User  `json:"user,omitempty"`
}

// errorResponse is vpanel's error envelope.
type errorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// Client performs the auth exchanges against one vpanel server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	store      session.Store
	userAgent  string
	logger     *slog.Logger
	timeout    time.Duration

	// now is overridden in tests.
	now func() time.Time
}

// NewClient creates an auth client. store is read for the refresh token and
// never written by Refresh.
func NewClient(baseURL string, httpClient *http.Client, store session.Store, userAgent string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		store:      store,
		userAgent:  userAgent,
		logger:     logger,
		timeout:    DefaultRequestTimeout,
		now:        time.Now,
	}
}

// SetRequestTimeout changes the per-exchange deadline. Non-positive values
// keep the current one.
func (c *Client) SetRequestTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// post sends a JSON body and returns status and response body. The whole
// exchange, including reading the body, is bounded by the request timeout.
func (c *Client) post(ctx context.Context, path string, in any) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(in)
	if err != nil {
		return 0, nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response: %w", err)
	}

	return resp.StatusCode, body, nil
}

// credentialsFrom converts a token response into a credential pair.
func (c *Client) credentialsFrom(tr *tokenResponse) (*session.Credentials, error) {
	if tr.AccessToken == "" {
		return nil, errors.New("response has no access token")
	}

	cred := &session.Credentials{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
	}

	switch {
	case tr.ExpiresIn > 0:
		cred.ExpiresAt = c.now().Add(time.Duration(tr.ExpiresIn) * time.Second).UTC()
	default:
		exp, err := AccessTokenExpiry(tr.AccessToken)
		if err != nil {
			c.logger.Debug("access token has no readable expiry",
				slog.String("error", err.Error()),
			)
		}

		cred.ExpiresAt = exp
	}

	return cred, nil
}

// messageOf returns the server's error message, or the HTTP status text.
func messageOf(status int, body []byte) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Message != "" {
		return er.Message
	}

	return fmt.Sprintf("HTTP %d %s", status, http.StatusText(status))
}

func isSuccess(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}
