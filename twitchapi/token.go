package twitchapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultTokenURL is the Twitch OAuth token endpoint.
const DefaultTokenURL = "https://id.twitch.tv/oauth2/token"

// expiryMargin is subtracted from the advertised lifetime so a token never expires mid-request.
const expiryMargin = 60 * time.Second

// TokenSource fetches and caches a Twitch app access (client credentials) token.
// The cached token is reused while Clock.Now() is before the stored expiry.
type TokenSource struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	HTTPClient   *http.Client
	Clock        clockwork.Clock

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

func (ts *TokenSource) now() time.Time {
	if ts.Clock != nil {
		return ts.Clock.Now()
	}
	return time.Now()
}

// valid must be called with ts.mu held.
func (ts *TokenSource) valid() bool {
	return ts.token != "" && ts.now().Before(ts.expiresAt)
}

// Configured reports whether client credentials are present.
func (ts *TokenSource) Configured() bool {
	return ts.ClientID != "" && ts.ClientSecret != ""
}

// Get returns a valid (fresh or cached) app access token.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	ts.mu.RLock()
	if ts.valid() {
		tok := ts.token
		ts.mu.RUnlock()
		return tok, nil
	}
	ts.mu.RUnlock()
	return ts.refresh(ctx)
}

// SetToken seeds the cache, e.g. for tests or a warm start.
func (ts *TokenSource) SetToken(token string, expiresAt time.Time) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.token = token
	ts.expiresAt = expiresAt
}

// Invalidate drops the cached token so the next Get performs a fresh exchange.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.token = ""
	ts.expiresAt = time.Time{}
}

func (ts *TokenSource) refresh(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.valid() {
		return ts.token, nil
	}
	if !ts.Configured() {
		return "", fmt.Errorf("%w: missing client id/secret for twitch app token", ErrUpstreamAuth)
	}
	tokenURL := ts.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	cc := &clientcredentials.Config{
		ClientID:     ts.ClientID,
		ClientSecret: ts.ClientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if ts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, ts.HTTPClient)
	}
	requestedAt := ts.now()
	tok, err := cc.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpstreamAuth, err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access_token in twitch response", ErrUpstreamAuth)
	}
	ts.token = tok.AccessToken
	ts.expiresAt = requestedAt.Add(lifetime(tok) - expiryMargin)
	return ts.token, nil
}

// lifetime prefers the wire expires_in value and falls back to the computed expiry.
func lifetime(tok *oauth2.Token) time.Duration {
	if tok.ExpiresIn > 0 {
		return time.Duration(tok.ExpiresIn) * time.Second
	}
	if !tok.Expiry.IsZero() {
		return time.Until(tok.Expiry)
	}
	return time.Hour
}
