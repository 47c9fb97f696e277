// Command fwlog is the main entrypoint for the forward-log capture bot.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Connects to each configured OneBot endpoint and keeps the connections
//     alive with a reconnect loop.
//   - Drains all platform events through a single ingestion pipeline that
//     drives the per-session recording state machine.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status, /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/fwlog/capture"
	"github.com/onnwee/fwlog/config"
	"github.com/onnwee/fwlog/db"
	"github.com/onnwee/fwlog/onebot"
	"github.com/onnwee/fwlog/server"
	"github.com/onnwee/fwlog/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
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
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config invalid", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("fwlog", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.Migrate(context.Background(), database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// One shared pipeline: the single consumer serializes all state mutations,
	// regardless of how many bot connections feed it.
	store := db.NewStore(database)
	pipeHandler := capture.NewHandler(store, capture.HandlerConfig{
		Keyword:       cfg.CommandKeyword,
		WatchSessions: cfg.WatchSessions,
	})
	pipeline := capture.NewPipeline(pipeHandler, cfg.EventQueueSize)
	go pipeline.Run(ctx)

	slog.Info("starting bots", slog.Int("bot_count", len(cfg.Bots)))
	clients := make([]*onebot.Client, 0, len(cfg.Bots))
	for _, bc := range cfg.Bots {
		client := onebot.NewClient(onebot.ClientConfig{
			Name:             bc.Name,
			URL:              bc.URL,
			Token:            bc.Token,
			CallTimeout:      cfg.CallTimeout,
			ReconnectBackoff: cfg.ReconnectBackoff,
		})
		c := client // capture for closure
		client.OnEvent(func(ev *onebot.MessageEvent) {
			pipeline.Enqueue(capture.Event{Bot: c, Msg: ev})
		})
		clients = append(clients, client)
		go client.Run(ctx)
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
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

	// HTTP server (health/status/metrics)
	go func() {
		botStatus := func() []server.BotInfo {
			out := make([]server.BotInfo, 0, len(clients))
			for _, c := range clients {
				out = append(out, server.BotInfo{Name: c.Name(), Connected: c.Connected()})
			}
			return out
		}
		if err := server.Start(ctx, database, cfg.HTTPAddr, botStatus); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
