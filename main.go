// Command chatsync is the main entrypoint for the chat sync client.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens a self-healing websocket session to the chat backend: auth
//     handshake, live message and presence sync, and day-by-day history
//     backfill into an in-memory timeline.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM: a logout frame is sent before the
// connection closes.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/onnwee/chatsync/config"
	"github.com/onnwee/chatsync/server"
	"github.com/onnwee/chatsync/session"
	"github.com/onnwee/chatsync/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

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
		// unknown level -> keep info but note once using temporary logger
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
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateSessionReady(); err != nil {
		slog.Error("session config incomplete", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("chatsync", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess := session.New(cfg)

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			// Use an http.Server with timeouts to satisfy G114 and avoid DoS risks
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
		if err := server.Start(ctx, sess, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Websocket session: reconnects forever until shutdown
	slog.Info("starting chat session",
		slog.String("room", cfg.Room),
		slog.String("username", cfg.Username),
		slog.String("ws_url", cfg.WSURL))
	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	// Block until shutdown signal or a fatal session error
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		sess.Logout()
		<-runErr
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("session ended", slog.Any("err", err), slog.String("class", session.ClassifySyncError(err).String()))
			os.Exit(1)
		}
	}
}
