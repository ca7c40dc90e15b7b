// Command live-notifier polls Twitch for followed channels and announces each new live session once.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the subscription store (JSON file or Postgres with migrations).
//   - Starts the live-detection loop over every tenant's subscriptions.
//   - Exposes an HTTP server with the follow/unfollow/list commands, /healthz, /readyz and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/live-notifier/announce"
	"github.com/onnwee/live-notifier/command"
	"github.com/onnwee/live-notifier/config"
	"github.com/onnwee/live-notifier/monitor"
	"github.com/onnwee/live-notifier/server"
	"github.com/onnwee/live-notifier/store"
	"github.com/onnwee/live-notifier/telemetry"
	"github.com/onnwee/live-notifier/twitchapi"
)

const version = "1.0.0"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing(telemetry.ServiceName, version)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open subscription store", slog.Any("err", err), slog.String("backend", cfg.StoreBackend))
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("failed to close store", slog.Any("err", err))
		}
	}()

	tokens := &twitchapi.TokenSource{
		ClientID:     cfg.TwitchClientID,
		ClientSecret: cfg.TwitchClientSecret,
		TokenURL:     cfg.TwitchTokenURL,
	}
	helix := &twitchapi.HelixClient{
		AppTokenSource: tokens,
		ClientID:       cfg.TwitchClientID,
		BaseURL:        cfg.TwitchAPIBaseURL,
	}

	// Best-effort warm up so a credential problem shows in the first log lines rather than the first sweep.
	warmCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	if tok, err := tokens.Get(warmCtx); err != nil {
		slog.Warn("twitch app token fetch failed", slog.Any("err", err))
	} else if len(tok) > 6 {
		slog.Info("twitch app token acquired", slog.String("tail", "***"+tok[len(tok)-6:]))
	}
	cancel()

	var announcer monitor.Announcer
	if cfg.DiscordBotToken != "" {
		announcer = announce.NewDiscord(cfg.DiscordBotToken, cfg.DiscordAPIBaseURL)
		slog.Info("announcements go to discord", slog.String("api", cfg.DiscordAPIBaseURL))
	} else {
		announcer = announce.Log{}
		slog.Warn("DISCORD_BOT_TOKEN not set - announcements are only logged")
	}

	mon := monitor.New(st, helix, announcer, monitor.Config{
		Interval:       cfg.CheckInterval,
		LookupTimeout:  cfg.LookupTimeout,
		RunImmediately: cfg.CheckOnStart,
	})

	commands := &command.Handler{Store: st}
	if cfg.FollowValidateChannel {
		commands.Resolver = helix
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		mon.Run(ctx)
	}()

	startPprof()

	handlers := server.NewHandlers(st, commands, mon, tokens)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(ctx, cfg.HTTPAddr, server.NewMux(ctx, cfg, handlers)); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
			stop()
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
	wg.Wait()
}

// setupLogging configures the default logger from LOG_LEVEL and LOG_FORMAT. Defaults: level=info, format=text.
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendJSON:
		slog.Info("using json subscription store", slog.String("path", cfg.SubscriptionsPath))
		return store.OpenJSONFile(cfg.SubscriptionsPath)
	case config.BackendPostgres:
		slog.Info("using postgres subscription store", slog.String("component", "store"))
		openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		return store.OpenPostgres(openCtx, cfg.DBDsn)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// startPprof serves /debug/pprof when ENABLE_PPROF=1.
func startPprof() {
	if os.Getenv("ENABLE_PPROF") != "1" {
		return
	}
	pprofAddr := os.Getenv("PPROF_ADDR")
	if pprofAddr == "" {
		pprofAddr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
		srv := &http.Server{
			Addr:              pprofAddr,
			Handler:           nil, // default mux exposes /debug/pprof
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}
