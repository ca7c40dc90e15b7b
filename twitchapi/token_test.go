package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTokenServer(t *testing.T, calls *atomic.Int32, tokens ...string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		tok := tokens[len(tokens)-1]
		if n <= len(tokens) {
			tok = tokens[n-1]
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": tok,
			"expires_in":   3600,
			"token_type":   "bearer",
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestTokenSource_GetCached(t *testing.T) {
	var calls atomic.Int32
	server := newTokenServer(t, &calls, "test-token-123")

	ts := &TokenSource{
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		TokenURL:     server.URL,
		Clock:        clockwork.NewFakeClock(),
	}

	ctx := context.Background()
	token1, err := ts.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test-token-123", token1)

	token2, err := ts.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, token1, token2)
	assert.Equal(t, int32(1), calls.Load(), "second Get must be served from cache")
}

func TestTokenSource_ExpiryMargin(t *testing.T) {
	var calls atomic.Int32
	server := newTokenServer(t, &calls, "test-token-1", "test-token-2")
	clock := clockwork.NewFakeClock()

	ts := &TokenSource{
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		TokenURL:     server.URL,
		Clock:        clock,
	}
	ctx := context.Background()

	tok, err := ts.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test-token-1", tok)

	// expires_in=3600 minus the 60s margin: still valid one second before the boundary.
	clock.Advance(3539 * time.Second)
	tok, err = ts.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test-token-1", tok)
	assert.Equal(t, int32(1), calls.Load())

	// At the boundary the token is no longer reused.
	clock.Advance(time.Second)
	tok, err = ts.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test-token-2", tok)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTokenSource_SendsClientCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "test-client", r.PostForm.Get("client_id"))
		assert.Equal(t, "test-secret", r.PostForm.Get("client_secret"))
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"abc","expires_in":100,"token_type":"bearer"}`))
	}))
	defer server.Close()

	ts := &TokenSource{ClientID: "test-client", ClientSecret: "test-secret", TokenURL: server.URL}
	tok, err := ts.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)
}

func TestTokenSource_GetMissingCredentials(t *testing.T) {
	ts := &TokenSource{}

	_, err := ts.Get(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstreamAuth))
	assert.Contains(t, err.Error(), "missing client id/secret")
}

func TestTokenSource_GetServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	defer server.Close()

	ts := &TokenSource{ClientID: "bad-client", ClientSecret: "bad-secret", TokenURL: server.URL}

	tok, err := ts.Get(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamAuth)
	assert.Empty(t, tok)
	assert.Equal(t, ErrorClassAuth, Classify(err))
}

func TestTokenSource_GetEmptyToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"","expires_in":3600,"token_type":"bearer"}`))
	}))
	defer server.Close()

	ts := &TokenSource{ClientID: "test-client", ClientSecret: "test-secret", TokenURL: server.URL}

	_, err := ts.Get(context.Background())
	assert.ErrorIs(t, err, ErrUpstreamAuth)
}

func TestTokenSource_FailedRefreshKeepsNothingStale(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var fail atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"first","expires_in":120,"token_type":"bearer"}`))
	}))
	defer server.Close()

	ts := &TokenSource{ClientID: "c", ClientSecret: "s", TokenURL: server.URL, Clock: clock}
	_, err := ts.Get(context.Background())
	require.NoError(t, err)

	fail.Store(true)
	clock.Advance(61 * time.Second)
	tok, err := ts.Get(context.Background())
	assert.ErrorIs(t, err, ErrUpstreamAuth)
	assert.Empty(t, tok, "an expired token must not be handed out when the refresh fails")
}

func TestTokenSource_Invalidate(t *testing.T) {
	var calls atomic.Int32
	server := newTokenServer(t, &calls, "one", "two")

	ts := &TokenSource{ClientID: "c", ClientSecret: "s", TokenURL: server.URL, Clock: clockwork.NewFakeClock()}
	tok, err := ts.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "one", tok)

	ts.Invalidate()
	tok, err = ts.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "two", tok)
}

func TestTokenSource_ConcurrentAccess(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"test-token","expires_in":3600,"token_type":"bearer"}`))
	}))
	defer server.Close()

	ts := &TokenSource{ClientID: "c", ClientSecret: "s", TokenURL: server.URL}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := ts.Get(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "test-token", tok)
		}()
	}
	wg.Wait()

	// The refresh runs under the write lock, so waiters reuse the first result.
	assert.Equal(t, int32(1), calls.Load())
}
