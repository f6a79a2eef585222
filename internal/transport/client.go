package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/projuktisheba/vpanelctl/internal/session"
)

const (
	defaultUserAgent      = "vpanelctl/0.1"
	defaultRequestTimeout = 30 * time.Second
	defaultRefreshTimeout = 15 * time.Second

	// RequestIDHeader correlates the original attempt of a logical request
	// with its post-refresh replay in client and server logs.
	RequestIDHeader = "X-Request-ID"
)

// Refresher obtains a new credential pair from the server. Defined at the
// consumer; internal/auth provides the real implementation. The client
// guarantees Refresh is never called concurrently and owns writing the
// result to the session store.
type Refresher interface {
	Refresh(ctx context.Context) (*session.Credentials, error)
}

// Options configures a Client. Zero values select defaults.
type Options struct {
	HTTPClient     *http.Client
	UserAgent      string
	RequestTimeout time.Duration
	RefreshTimeout time.Duration
	Logger         *slog.Logger
}

// refreshOutcome is what every waiter of one refresh cycle receives. All
// waiters of a cycle get the same value.
type refreshOutcome struct {
	cred *session.Credentials
	err  error
}

// pendingRequest is a request that failed authorization while a refresh was
// already running. It lives until the cycle resolves.
type pendingRequest struct {
	method string
	path   string
	ready  chan refreshOutcome // buffered(1): the resolver never blocks
}

// Client is the authenticated HTTP client for the vpanel API.
//
// Lifecycle: New, any number of concurrent Send calls, Close.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	store          session.Store
	refresher      Refresher
	userAgent      string
	requestTimeout time.Duration
	refreshTimeout time.Duration
	logger         *slog.Logger

	// newRequestID is overridden in tests for deterministic IDs.
	newRequestID func() string

	// mu guards the refresh state machine. The check of refreshing and its
	// set happen in one critical section, and pending is appended to and
	// drained under the same lock.
	mu         sync.Mutex
	refreshing bool
	pending    []*pendingRequest
	closed     bool
}

// New creates a Client for the API rooted at baseURL
// (e.g. "http://localhost:8888/api/v1").
func New(baseURL string, store session.Store, refresher Refresher, opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}

	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = defaultRefreshTimeout
	}

	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     opts.HTTPClient,
		store:          store,
		refresher:      refresher,
		userAgent:      opts.UserAgent,
		requestTimeout: opts.RequestTimeout,
		refreshTimeout: opts.RefreshTimeout,
		logger:         opts.Logger,
		newRequestID:   uuid.NewString,
	}
}

// Close stops the client from accepting new requests and releases idle
// connections. In-flight requests finish normally.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.httpClient.CloseIdleConnections()
}

// Send executes req with the current access token. On a 401 the request is
// retried exactly once after the token has been refreshed (or after the
// refresh another request already started has finished). A second 401 is
// returned to the caller as an *APIError wrapping ErrUnauthorized.
//
// If the refresh fails, the session store is cleared and the error wraps
// ErrSessionExpired. Every other failure is returned unchanged.
func (c *Client) Send(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, errors.New("transport: nil request")
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return nil, ErrClosed
	}

	reqID := req.Header.Get(RequestIDHeader)
	if reqID == "" {
		reqID = c.newRequestID()
	}

	used := c.credentials()

	resp, err := c.sendOnce(ctx, req, reqID, used)
	if err == nil || !errors.Is(err, ErrUnauthorized) {
		return resp, err
	}

	// This is the only entry into the authorization-failure branch for this
	// logical request; the replay below never comes back here.
	c.logger.Warn("request unauthorized, awaiting fresh credentials",
		slog.String("method", req.Method),
		slog.String("path", req.Path),
		slog.String("request_id", reqID),
	)

	fresh, err := c.freshCredentials(ctx, req, used)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("replaying request with refreshed credentials",
		slog.String("method", req.Method),
		slog.String("path", req.Path),
		slog.String("request_id", reqID),
	)

	return c.sendOnce(ctx, req, reqID, fresh)
}

// Do is a JSON convenience around Send: in (if non-nil) is marshaled as the
// body and a 2xx body is decoded into out (if non-nil).
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	req, err := NewJSONRequest(method, path, in)
	if err != nil {
		return err
	}

	resp, err := c.Send(ctx, req)
	if err != nil {
		return err
	}

	if out == nil || len(resp.Body) == 0 {
		return nil
	}

	return resp.DecodeJSON(out)
}

// freshCredentials returns credentials to replay a request that failed with
// a 401 while carrying used. It joins the running refresh cycle, reuses a
// pair that a cycle finished in the meantime, or starts a new cycle.
func (c *Client) freshCredentials(
	ctx context.Context, req *Request, used *session.Credentials,
) (*session.Credentials, error) {
	c.mu.Lock()

	if c.refreshing {
		p := &pendingRequest{
			method: req.Method,
			path:   req.Path,
			ready:  make(chan refreshOutcome, 1),
		}
		c.pending = append(c.pending, p)
		queued := len(c.pending)
		c.mu.Unlock()

		c.logger.Debug("refresh in flight, request queued",
			slog.String("path", req.Path),
			slog.Int("queued", queued),
		)

		select {
		case out := <-p.ready:
			return out.cred, out.err
		case <-ctx.Done():
			return nil, fmt.Errorf("transport: waiting for refresh: %w", ctx.Err())
		}
	}

	// A cycle may have completed between this request's send and its 401.
	// The store then already holds a pair this request never tried.
	if cur := c.credentials(); cur.Valid() && (used == nil || cur.AccessToken != used.AccessToken) {
		c.mu.Unlock()
		return cur, nil
	}

	c.refreshing = true
	c.mu.Unlock()

	return c.runRefresh(ctx)
}

// runRefresh performs one refresh cycle. The caller has set c.refreshing.
// The deferred finish clears the flag and drains the queue on every exit
// path. A panicking Refresher ends the session like any other refresh
// failure before the panic continues.
func (c *Client) runRefresh(ctx context.Context) (*session.Credentials, error) {
	out := refreshOutcome{
		err: fmt.Errorf("%w: refresh aborted", ErrSessionExpired),
	}

	defer func() {
		if r := recover(); r != nil {
			c.finishRefresh(c.failRefresh(fmt.Errorf("refresher panicked: %v", r)))
			panic(r)
		}

		c.finishRefresh(out)
	}()

	// Waiters depend on this cycle, so it must not die with the leader's
	// context. It is bounded by refreshTimeout instead.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
	defer cancel()

	start := time.Now()

	if c.refresher == nil {
		out = c.failRefresh(errors.New("no refresher configured"))
		return nil, out.err
	}

	cred, err := c.refresher.Refresh(rctx)
	if err == nil && !cred.Valid() {
		err = errors.New("refresher returned empty credentials")
	}

	if err != nil {
		out = c.failRefresh(err)
		return nil, out.err
	}

	if setErr := c.store.Set(cred); setErr != nil {
		c.logger.Error("failed to persist refreshed credentials",
			slog.String("error", setErr.Error()),
		)
	}

	c.logger.Info("credentials refreshed",
		slog.Duration("elapsed", time.Since(start)),
		slog.Time("expires_at", cred.ExpiresAt),
	)

	out = refreshOutcome{cred: cred.Clone()}

	return out.cred, nil
}

// failRefresh clears the session and builds the shared rejection.
func (c *Client) failRefresh(cause error) refreshOutcome {
	c.logger.Error("credential refresh failed, clearing session",
		slog.String("error", cause.Error()),
	)

	if err := c.store.Clear(); err != nil {
		c.logger.Error("failed to clear session store",
			slog.String("error", err.Error()),
		)
	}

	return refreshOutcome{err: fmt.Errorf("%w: %w", ErrSessionExpired, cause)}
}

// finishRefresh clears the in-flight flag and resolves every queued request
// with out. The queue is drained completely in one step.
func (c *Client) finishRefresh(out refreshOutcome) {
	c.mu.Lock()
	waiters := c.pending
	c.pending = nil
	c.refreshing = false
	c.mu.Unlock()

	if len(waiters) > 0 {
		c.logger.Debug("resolving queued requests",
			slog.Int("count", len(waiters)),
			slog.Bool("refreshed", out.err == nil),
		)
	}

	for _, p := range waiters {
		c.logger.Debug("releasing queued request",
			slog.String("method", p.method),
			slog.String("path", p.path),
		)

		p.ready <- refreshOutcome{cred: out.cred.Clone(), err: out.err}
	}
}

// credentials reads the current pair. A store read error is logged and
// treated as "no credentials"; the server's 401 then drives recovery.
func (c *Client) credentials() *session.Credentials {
	cred, err := c.store.Get()
	if err != nil {
		c.logger.Warn("reading session store failed",
			slog.String("error", err.Error()),
		)

		return nil
	}

	return cred
}

// sendOnce executes a single HTTP exchange (no retry) and reads the body.
func (c *Client) sendOnce(
	ctx context.Context, req *Request, reqID string, cred *session.Credentials,
) (*Response, error) {
	rctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(rctx, req.Method, c.baseURL+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("transport: creating request: %w", err)
	}

	for k, vs := range req.Header {
		httpReq.Header[k] = append([]string(nil), vs...)
	}

	httpReq.Header.Del("Authorization")

	if cred.Valid() {
		httpReq.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	}

	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set(RequestIDHeader, reqID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Caller cancellation is not a transport failure; our own deadline is.
		if ctx.Err() != nil {
			return nil, fmt.Errorf("transport: request canceled: %w", ctx.Err())
		}

		return nil, fmt.Errorf("%w: %s %s: %w", ErrTransport, req.Method, req.Path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("transport: request canceled: %w", ctx.Err())
		}

		return nil, fmt.Errorf("%w: reading response of %s %s: %w", ErrTransport, req.Method, req.Path, err)
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		c.logger.Debug("request succeeded",
			slog.String("method", req.Method),
			slog.String("path", req.Path),
			slog.Int("status", resp.StatusCode),
			slog.String("request_id", reqID),
		)

		return &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       respBody,
		}, nil
	}

	return nil, &APIError{
		StatusCode: resp.StatusCode,
		RequestID:  reqID,
		Message:    serverMessage(respBody),
		Err:        classifyStatus(resp.StatusCode),
	}
}
