// Package twitchapi contains minimal helpers to interact with Twitch Helix APIs
// for live status lookup and user id resolution, using an app access token.
package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the Helix API host.
const DefaultBaseURL = "https://api.twitch.tv"

var defaultHTTPClient = &http.Client{Timeout: 10 * time.Second}

// HelixClient provides the Helix calls needed for live detection.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	BaseURL        string
	HTTPClient     *http.Client
}

// Stream is one entry of the Helix "Get Streams" response.
type Stream struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	UserLogin    string    `json:"user_login"`
	UserName     string    `json:"user_name"`
	GameID       string    `json:"game_id"`
	GameName     string    `json:"game_name"`
	Type         string    `json:"type"`
	Title        string    `json:"title"`
	ViewerCount  int       `json:"viewer_count"`
	StartedAt    time.Time `json:"started_at"`
	ThumbnailURL string    `json:"thumbnail_url"`
}

// ThumbnailAt fills the {width}x{height} placeholders of the thumbnail template.
func (s Stream) ThumbnailAt(width, height int) string {
	r := strings.NewReplacer("{width}", fmt.Sprint(width), "{height}", fmt.Sprint(height))
	return r.Replace(s.ThumbnailURL)
}

// WatchURL returns the public channel URL for a login.
func WatchURL(login string) string {
	return "https://twitch.tv/" + login
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return defaultHTTPClient
}

func (hc *HelixClient) baseURL() string {
	if hc.BaseURL != "" {
		return strings.TrimRight(hc.BaseURL, "/")
	}
	return DefaultBaseURL
}

// get issues one authenticated GET and decodes the JSON body into out.
// Token errors are returned unchanged; everything after that wraps ErrUpstreamQuery.
func (hc *HelixClient) get(ctx context.Context, path string, q url.Values, out any) error {
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.baseURL()+path, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpstreamQuery, err)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpstreamQuery, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode == http.StatusUnauthorized {
		// Revoked or expired early; the next call exchanges a fresh token.
		hc.AppTokenSource.Invalidate()
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: %s %s: %s", ErrUpstreamQuery, path, resp.Status, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrUpstreamQuery, path, err)
	}
	return nil
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := hc.get(ctx, "/helix/users", url.Values{"login": {login}}, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", ErrUserNotFound
	}
	return body.Data[0].ID, nil
}

// GetStreams returns the currently live streams for a login (zero or one entry in practice).
func (hc *HelixClient) GetStreams(ctx context.Context, login string) ([]Stream, error) {
	if login == "" {
		return nil, fmt.Errorf("login empty")
	}
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := hc.get(ctx, "/helix/streams", url.Values{"user_login": {login}}, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// GetLiveStream returns the first live stream for login, or nil when the channel is
// offline or unknown. The two cases are indistinguishable here.
func (hc *HelixClient) GetLiveStream(ctx context.Context, login string) (*Stream, error) {
	streams, err := hc.GetStreams(ctx, login)
	if err != nil {
		return nil, err
	}
	if len(streams) == 0 {
		return nil, nil
	}
	s := streams[0]
	return &s, nil
}
