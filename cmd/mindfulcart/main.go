// Command mindfulcart is the main entry point for the MindfulCart chat server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/subosito/gotenv"

	"github.com/MrWong99/mindfulcart/internal/app"
	"github.com/MrWong99/mindfulcart/internal/config"
	"github.com/MrWong99/mindfulcart/internal/observe"
	"github.com/MrWong99/mindfulcart/internal/resilience"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (built-in defaults when empty)")
	envPath := flag.String("env", ".env", "dotenv file with provider credentials (ignored when missing)")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	// Variables already set in the process environment win over the file.
	if err := gotenv.Load(*envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "mindfulcart: load %s: %v\n", *envPath, err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "mindfulcart: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "mindfulcart: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(os.Stderr, cfg.Server.LogLevel, cfg.Server.LogFormat))

	slog.Info("mindfulcart starting",
		"version", version,
		"config", configSource(*configPath),
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "mindfulcart",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics, err := observe.NewMetrics(tel.MeterProvider)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	entries, skipped, err := app.BuildEntries(cfg, reg, os.Getenv)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	dispatcher := resilience.NewDispatcher(entries,
		resilience.WithMetrics(metrics),
		resilience.WithBreaker(app.BreakerConfig(cfg)),
	)

	logStartupSummary(cfg, entries, skipped)

	application, err := app.New(cfg, dispatcher,
		app.WithMetrics(metrics),
		app.WithMetricsHandler(tel.MetricsHandler()),
		app.WithCloser(tel.Shutdown),
		app.WithShutdownTimeout(15*time.Second),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig reads path, or returns [config.Default] when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		config.ApplyDefaults(cfg)
		return cfg, config.Validate(cfg)
	}
	return config.Load(path)
}

func configSource(path string) string {
	if path == "" {
		return "(built-in defaults)"
	}
	return path
}

// ── Startup summary ───────────────────────────────────────────────────────────

// logStartupSummary reports the dispatch order. Credentials are never logged.
func logStartupSummary(cfg *config.Config, entries []resilience.Entry, skipped []app.Skipped) {
	for i, e := range entries {
		slog.Info("provider enabled",
			"order", i+1,
			"provider", e.Name,
			"kind", e.Kind,
			"timeout", e.Timeout,
		)
	}
	for _, s := range skipped {
		slog.Warn("provider disabled", "provider", s.Name, "reason", s.Reason)
	}
	if len(entries) == 0 {
		slog.Warn("no remote providers configured, every reply comes from the local responder")
	}
	slog.Info("chat settings",
		"history_limit", cfg.Chat.HistoryLimit,
		"max_tokens", cfg.Chat.MaxTokens,
		"temperature", cfg.Chat.Temperature,
		"custom_system_prompt", cfg.Chat.SystemPrompt != "",
		"breaker_max_failures", cfg.Dispatch.Breaker.MaxFailures,
	)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, level config.LogLevel, format config.LogFormat) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level.Slog()}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
