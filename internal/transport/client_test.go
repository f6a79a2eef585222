package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projuktisheba/vpanelctl/internal/session"
)

// fakeRefresher hands out a fixed new pair. Like the real refresher it fails
// without a network exchange when the store holds no refresh token, and only
// counts real exchanges.
type fakeRefresher struct {
	store   session.Store
	newCred *session.Credentials
	err     error

	// release, when non-nil, holds the exchange open until closed.
	release chan struct{}

	// onExchange runs inside the exchange, before release is awaited.
	onExchange func()

	calls atomic.Int32
}

func (f *fakeRefresher) Refresh(ctx context.Context) (*session.Credentials, error) {
	cur, err := f.store.Get()
	if err != nil {
		return nil, err
	}

	if cur == nil || cur.RefreshToken == "" {
		return nil, errors.New("no refresh token")
	}

	f.calls.Add(1)

	if f.onExchange != nil {
		f.onExchange()
	}

	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if f.err != nil {
		return nil, f.err
	}

	return f.newCred.Clone(), nil
}

// countingStore records how many times Set was called.
type countingStore struct {
	session.Store
	sets atomic.Int32
}

func (s *countingStore) Set(c *session.Credentials) error {
	s.sets.Add(1)
	return s.Store.Set(c)
}

// tokenServer accepts only requests carrying "Bearer <valid>" and counts the
// 401s it hands out.
type tokenServer struct {
	*httptest.Server

	mu           sync.Mutex
	valid        string
	unauthorized atomic.Int32
	hits         atomic.Int32
	seenIDs      []string
}

func newTokenServer(t *testing.T, valid string) *tokenServer {
	t.Helper()

	ts := &tokenServer{valid: valid}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.hits.Add(1)

		ts.mu.Lock()
		ok := r.Header.Get("Authorization") == "Bearer "+ts.valid
		ts.seenIDs = append(ts.seenIDs, r.Header.Get(RequestIDHeader))
		ts.mu.Unlock()

		if !ok {
			ts.unauthorized.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":true,"message":"token expired"}`))

			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error":false,"message":"ok ` + r.URL.Path + `"}`))
	}))
	t.Cleanup(ts.Close)

	return ts
}

func oldCred() *session.Credentials {
	return &session.Credentials{AccessToken: "old", RefreshToken: "refresh-old"}
}

func newCred() *session.Credentials {
	return &session.Credentials{
		AccessToken:  "new",
		RefreshToken: "refresh-new",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
}

func newTestClient(t *testing.T, url string, store session.Store, r Refresher) *Client {
	t.Helper()

	return New(url, store, r, Options{
		Logger:         slog.Default(),
		RequestTimeout: 5 * time.Second,
		RefreshTimeout: 5 * time.Second,
	})
}

func pendingCount(c *Client) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}

func isRefreshing(c *Client) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.refreshing
}

func TestSend_Success(t *testing.T) {
	srv := newTokenServer(t, "old")
	store := session.NewMemoryStore()
	require.NoError(t, store.Set(oldCred()))

	ref := &fakeRefresher{store: store, newCred: newCred()}
	client := newTestClient(t, srv.URL, store, ref)

	resp, err := client.Send(context.Background(), NewRequest(http.MethodGet, "/domains", "", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok /domains", resp.Message())
	assert.Equal(t, int32(0), ref.calls.Load())
}

func TestSend_ConcurrentUnauthorizedRefreshesOnce(t *testing.T) {
	const n = 10

	srv := newTokenServer(t, "new")
	store := &countingStore{Store: session.NewMemoryStore()}
	require.NoError(t, store.Store.Set(oldCred()))

	ref := &fakeRefresher{store: store, newCred: newCred(), release: make(chan struct{})}
	client := newTestClient(t, srv.URL, store, ref)

	var wg sync.WaitGroup
	errs := make([]error, n)
	bodies := make([]string, n)

	for i := range n {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			resp, err := client.Send(context.Background(),
				NewRequest(http.MethodGet, fmt.Sprintf("/item/%d", i), "", nil))
			errs[i] = err

			if err == nil {
				bodies[i] = resp.Message()
			}
		}(i)
	}

	// Hold the refresh open until every other request has queued behind it.
	require.Eventually(t, func() bool {
		return ref.calls.Load() == 1 && pendingCount(client) == n-1
	}, 5*time.Second, time.Millisecond)

	close(ref.release)
	wg.Wait()

	for i := range n {
		require.NoError(t, errs[i], "request %d", i)
		assert.Equal(t, fmt.Sprintf("ok /item/%d", i), bodies[i])
	}

	assert.Equal(t, int32(1), ref.calls.Load())
	assert.Equal(t, int32(1), store.sets.Load())
	assert.Equal(t, int32(n), srv.unauthorized.Load())
	assert.Equal(t, int32(2*n), srv.hits.Load())
	assert.False(t, isRefreshing(client))
	assert.Zero(t, pendingCount(client))

	got, err := store.Get()
	require.NoError(t, err)
	assert.Equal(t, "new", got.AccessToken)
}

func TestSend_TwoRequestsShareOneRefresh(t *testing.T) {
	srv := newTokenServer(t, "new")
	store := &countingStore{Store: session.NewMemoryStore()}
	require.NoError(t, store.Store.Set(oldCred()))

	ref := &fakeRefresher{store: store, newCred: newCred(), release: make(chan struct{})}
	client := newTestClient(t, srv.URL, store, ref)

	var wg sync.WaitGroup
	var errA, errB error

	wg.Add(2)

	go func() {
		defer wg.Done()
		_, errA = client.Send(context.Background(), NewRequest(http.MethodGet, "/a", "", nil))
	}()

	go func() {
		defer wg.Done()
		_, errB = client.Send(context.Background(), NewRequest(http.MethodGet, "/b", "", nil))
	}()

	require.Eventually(t, func() bool {
		return ref.calls.Load() == 1 && pendingCount(client) == 1
	}, 5*time.Second, time.Millisecond)

	close(ref.release)
	wg.Wait()

	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, int32(1), ref.calls.Load())
	assert.Equal(t, int32(1), store.sets.Load())
}

func TestSend_RefreshFailureRejectsAllQueued(t *testing.T) {
	const n = 5

	srv := newTokenServer(t, "new")
	store := session.NewMemoryStore()
	require.NoError(t, store.Set(oldCred()))

	ref := &fakeRefresher{
		store:   store,
		err:     errors.New("refresh token revoked"),
		release: make(chan struct{}),
	}
	client := newTestClient(t, srv.URL, store, ref)

	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := range n {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.Send(context.Background(), NewRequest(http.MethodGet, "/x", "", nil))
		}(i)
	}

	require.Eventually(t, func() bool {
		return ref.calls.Load() == 1 && pendingCount(client) == n-1
	}, 5*time.Second, time.Millisecond)

	close(ref.release)
	wg.Wait()

	for i := range n {
		require.Error(t, errs[i])
		assert.ErrorIs(t, errs[i], ErrSessionExpired)
		assert.Contains(t, errs[i].Error(), "refresh token revoked")
	}

	assert.Equal(t, int32(1), ref.calls.Load())
	assert.False(t, isRefreshing(client))

	got, err := store.Get()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSend_SecondUnauthorizedNotRetried(t *testing.T) {
	srv := newTokenServer(t, "nobody-has-this")
	store := session.NewMemoryStore()
	require.NoError(t, store.Set(oldCred()))

	ref := &fakeRefresher{store: store, newCred: newCred()}
	client := newTestClient(t, srv.URL, store, ref)

	_, err := client.Send(context.Background(), NewRequest(http.MethodGet, "/me", "", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.NotErrorIs(t, err, ErrSessionExpired)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "token expired", apiErr.Message)

	assert.Equal(t, int32(2), srv.hits.Load())
	assert.Equal(t, int32(1), ref.calls.Load())
}

func TestSend_ReplayKeepsRequestID(t *testing.T) {
	srv := newTokenServer(t, "new")
	store := session.NewMemoryStore()
	require.NoError(t, store.Set(oldCred()))

	client := newTestClient(t, srv.URL, store, &fakeRefresher{store: store, newCred: newCred()})
	client.newRequestID = func() string { return "req-1" }

	_, err := client.Send(context.Background(), NewRequest(http.MethodGet, "/me", "", nil))
	require.NoError(t, err)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, []string{"req-1", "req-1"}, srv.seenIDs)
}

func TestSend_NonAuthErrorPropagates(t *testing.T) {
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":true,"message":"database down"}`))
	}))
	defer srv.Close()

	store := session.NewMemoryStore()
	require.NoError(t, store.Set(oldCred()))

	ref := &fakeRefresher{store: store, newCred: newCred()}
	client := newTestClient(t, srv.URL, store, ref)

	_, err := client.Send(context.Background(), NewRequest(http.MethodGet, "/db", "", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerError)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "database down", apiErr.Message)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, int32(0), ref.calls.Load())
}

func TestSend_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		sentinel error
	}{
		{"bad request", http.StatusBadRequest, ErrBadRequest},
		{"forbidden", http.StatusForbidden, ErrForbidden},
		{"not found", http.StatusNotFound, ErrNotFound},
		{"conflict", http.StatusConflict, ErrConflict},
		{"too large", http.StatusRequestEntityTooLarge, ErrTooLarge},
		{"throttled", http.StatusTooManyRequests, ErrThrottled},
		{"bad gateway", http.StatusBadGateway, ErrServerError},
		{"teapot", http.StatusTeapot, ErrUnexpected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			client := newTestClient(t, srv.URL, session.NewMemoryStore(), nil)

			_, err := client.Send(context.Background(), NewRequest(http.MethodGet, "/x", "", nil))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)
		})
	}
}

func TestSend_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := newTestClient(t, url, session.NewMemoryStore(), nil)

	_, err := client.Send(context.Background(), NewRequest(http.MethodGet, "/x", "", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.True(t, IsTransient(err))
}

func TestSend_TimeoutIsTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(srv.URL, session.NewMemoryStore(), nil, Options{RequestTimeout: 50 * time.Millisecond})

	_, err := client.Send(context.Background(), NewRequest(http.MethodGet, "/slow", "", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestSend_CallerCancellationIsNotTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, session.NewMemoryStore(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Send(ctx, NewRequest(http.MethodGet, "/slow", "", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrTransport)
	assert.False(t, IsTransient(err))
}

func TestSend_Headers(t *testing.T) {
	var gotAuth, gotUA, gotCT, gotBody string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		gotCT = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	store := session.NewMemoryStore()
	require.NoError(t, store.Set(oldCred()))

	client := New(srv.URL+"/", store, nil, Options{UserAgent: "test-agent"})

	req, err := NewJSONRequest(http.MethodPost, "/domains", map[string]string{"domain": "example.com"})
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer forged")

	_, err = client.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Bearer old", gotAuth)
	assert.Equal(t, "test-agent", gotUA)
	assert.Equal(t, "application/json", gotCT)
	assert.JSONEq(t, `{"domain":"example.com"}`, gotBody)

	// The caller's request descriptor is left untouched.
	assert.Equal(t, "Bearer forged", req.Header.Get("Authorization"))
}

func TestSend_NoCredentialsNoHeader(t *testing.T) {
	var gotAuth []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Values("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, session.NewMemoryStore(), nil)

	_, err := client.Send(context.Background(), NewRequest(http.MethodGet, "/public", "", nil))
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestSend_NoCredentialsUnauthorizedExpiresSession(t *testing.T) {
	srv := newTokenServer(t, "new")
	store := session.NewMemoryStore()

	ref := &fakeRefresher{store: store, newCred: newCred()}
	client := newTestClient(t, srv.URL, store, ref)

	_, err := client.Send(context.Background(), NewRequest(http.MethodGet, "/me", "", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, int32(0), ref.calls.Load())
}

func TestSend_StaleUnauthorizedReusesNewerCredentials(t *testing.T) {
	store := session.NewMemoryStore()
	require.NoError(t, store.Set(oldCred()))

	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)

		if r.Header.Get("Authorization") == "Bearer new" {
			w.WriteHeader(http.StatusOK)
			return
		}

		// Another cycle finished while this request was on the wire.
		_ = store.Set(newCred())
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	ref := &fakeRefresher{store: store, newCred: newCred()}
	client := newTestClient(t, srv.URL, store, ref)

	_, err := client.Send(context.Background(), NewRequest(http.MethodGet, "/me", "", nil))
	require.NoError(t, err)
	assert.Equal(t, int32(0), ref.calls.Load())
	assert.Equal(t, int32(2), hits.Load())
}

// panicRefresher panics on its first call and succeeds afterwards.
type panicRefresher struct {
	calls atomic.Int32
}

func (p *panicRefresher) Refresh(_ context.Context) (*session.Credentials, error) {
	if p.calls.Add(1) == 1 {
		panic("refresher exploded")
	}

	return newCred(), nil
}

func TestSend_RefreshPanicEndsSession(t *testing.T) {
	srv := newTokenServer(t, "new")
	store := session.NewMemoryStore()
	require.NoError(t, store.Set(oldCred()))

	ref := &panicRefresher{}
	client := newTestClient(t, srv.URL, store, ref)

	func() {
		defer func() {
			assert.NotNil(t, recover())
		}()

		_, _ = client.Send(context.Background(), NewRequest(http.MethodGet, "/me", "", nil))
	}()

	assert.False(t, isRefreshing(client))

	stored, err := store.Get()
	require.NoError(t, err)
	assert.Nil(t, stored, "a panicking refresh clears the session like a failed one")

	_, err = client.Send(context.Background(), NewRequest(http.MethodGet, "/me", "", nil))
	require.NoError(t, err)
	assert.Equal(t, int32(2), ref.calls.Load())
}

func TestSend_WaiterContextCanceled(t *testing.T) {
	srv := newTokenServer(t, "new")
	store := session.NewMemoryStore()
	require.NoError(t, store.Set(oldCred()))

	ref := &fakeRefresher{store: store, newCred: newCred(), release: make(chan struct{})}
	client := newTestClient(t, srv.URL, store, ref)

	leaderDone := make(chan error, 1)

	go func() {
		_, err := client.Send(context.Background(), NewRequest(http.MethodGet, "/leader", "", nil))
		leaderDone <- err
	}()

	require.Eventually(t, func() bool { return ref.calls.Load() == 1 }, 5*time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	waiterDone := make(chan error, 1)

	go func() {
		_, err := client.Send(ctx, NewRequest(http.MethodGet, "/waiter", "", nil))
		waiterDone <- err
	}()

	require.Eventually(t, func() bool { return pendingCount(client) == 1 }, 5*time.Second, time.Millisecond)

	cancel()

	err := <-waiterDone
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	close(ref.release)
	require.NoError(t, <-leaderDone)
	assert.Zero(t, pendingCount(client))
}

func TestSend_LeaderCancellationDoesNotAbortRefresh(t *testing.T) {
	srv := newTokenServer(t, "new")
	store := session.NewMemoryStore()
	require.NoError(t, store.Set(oldCred()))

	ctx, cancel := context.WithCancel(context.Background())

	ref := &fakeRefresher{store: store, newCred: newCred(), onExchange: cancel}
	client := newTestClient(t, srv.URL, store, ref)

	_, err := client.Send(ctx, NewRequest(http.MethodGet, "/me", "", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	got, getErr := store.Get()
	require.NoError(t, getErr)
	assert.Equal(t, "new", got.AccessToken)
}

func TestClose_RejectsNewRequests(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:0", session.NewMemoryStore(), nil)
	client.Close()

	_, err := client.Send(context.Background(), NewRequest(http.MethodGet, "/x", "", nil))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDo_DecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"name":"site"}`, string(b))
		_, _ = w.Write([]byte(`{"id":7,"name":"site"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, session.NewMemoryStore(), nil)

	var out struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}

	require.NoError(t, client.Do(context.Background(), http.MethodPost, "/projects",
		map[string]string{"name": "site"}, &out))
	assert.Equal(t, 7, out.ID)
	assert.Equal(t, "site", out.Name)
}

func TestAPIError_ErrorString(t *testing.T) {
	withID := &APIError{StatusCode: 404, RequestID: "abc", Message: "missing", Err: ErrNotFound}
	assert.Equal(t, "transport: HTTP 404 (request-id: abc): missing", withID.Error())

	without := &APIError{StatusCode: 500, Message: "boom", Err: ErrServerError}
	assert.Equal(t, "transport: HTTP 500: boom", without.Error())
	assert.ErrorIs(t, without, ErrServerError)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transport", fmt.Errorf("%w: reset", ErrTransport), true},
		{"503", &APIError{StatusCode: 503, Err: ErrServerError}, true},
		{"429", &APIError{StatusCode: 429, Err: ErrThrottled}, true},
		{"408", &APIError{StatusCode: 408, Err: ErrUnexpected}, true},
		{"400", &APIError{StatusCode: 400, Err: ErrBadRequest}, false},
		{"401", &APIError{StatusCode: 401, Err: ErrUnauthorized}, false},
		{"413", &APIError{StatusCode: 413, Err: ErrTooLarge}, false},
		{"session expired", ErrSessionExpired, false},
		{"canceled", context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
