package announce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/onnwee/live-notifier/store"
	"github.com/onnwee/live-notifier/telemetry"
	"github.com/onnwee/live-notifier/twitchapi"
)

// DefaultDiscordBaseURL is the Discord REST API root.
const DefaultDiscordBaseURL = "https://discord.com/api/v10"

// Discord posts messages through the bot REST API.
type Discord struct {
	Token      string
	BaseURL    string
	HTTPClient *http.Client
}

// NewDiscord returns a Discord announcer with a 10s request timeout.
func NewDiscord(token, baseURL string) *Discord {
	return &Discord{
		Token:      token,
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *Discord) baseURL() string {
	if d.BaseURL != "" {
		return strings.TrimRight(d.BaseURL, "/")
	}
	return DefaultDiscordBaseURL
}

// Announce implements monitor.Announcer.
func (d *Discord) Announce(ctx context.Context, tenant string, sub store.Subscription, s twitchapi.Stream) error {
	ctx, span := telemetry.StartSpan(ctx, "announce", "announce.discord")
	defer span.End()

	payload, err := json.Marshal(Build(sub, s))
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	endpoint := d.baseURL() + "/channels/" + url.PathEscape(sub.ChannelID) + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bot "+d.Token)

	client := d.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("post message: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			slog.Warn("failed to close response body", slog.Any("err", cerr))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("discord create message: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		telemetry.RecordError(span, err)
		return err
	}
	telemetry.SetSpanSuccess(span)
	telemetry.LoggerWithCorr(ctx).Debug("discord message posted",
		slog.String("tenant", tenant),
		slog.String("destination", sub.ChannelID),
		slog.String("component", "announce"))
	return nil
}

// Log writes the message to the logger instead of delivering it.
type Log struct {
	Logger *slog.Logger
}

// Announce implements monitor.Announcer.
func (l Log) Announce(ctx context.Context, tenant string, sub store.Subscription, s twitchapi.Stream) error {
	logger := l.Logger
	if logger == nil {
		logger = telemetry.LoggerWithCorr(ctx)
	}
	msg := Build(sub, s)
	logger.Info("go-live announcement (dry run)",
		slog.String("tenant", tenant),
		slog.String("destination", sub.ChannelID),
		slog.String("content", msg.Content),
		slog.String("title", msg.Embeds[0].Title),
		slog.String("url", msg.Embeds[0].URL),
		slog.String("component", "announce"))
	return nil
}
