// Command embedserver runs the HTTP embedding service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zanussbaum/fast-penguin/internal/config"
	"github.com/zanussbaum/fast-penguin/internal/observe"
	"github.com/zanussbaum/fast-penguin/internal/server"
	"github.com/zanussbaum/fast-penguin/pkg/provider/embeddings"
	ollamaembed "github.com/zanussbaum/fast-penguin/pkg/provider/embeddings/ollama"
	oaembed "github.com/zanussbaum/fast-penguin/pkg/provider/embeddings/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "embedserver: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "embedserver: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("embedserver starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"provider", cfg.Embeddings.Name,
		"model", cfg.Embeddings.Model,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	obsShutdown, err := observe.Init(context.Background(), observe.Config{
		ServiceName: "embedserver",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obsShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Embedding provider ────────────────────────────────────────────────────
	provider, err := buildProvider(cfg.Embeddings)
	if err != nil {
		slog.Error("failed to build embeddings provider", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Model load ────────────────────────────────────────────────────────────
	// A failed load is not fatal. The server starts anyway and answers 503 on
	// embedding requests until a restart brings the model up.
	state := server.NewModelState(provider)
	if err := state.Load(ctx); err != nil {
		slog.Error("model load failed, serving in degraded mode", "err", err)
	} else {
		slog.Info("model loaded",
			"model", state.ModelID(),
			"dimensions", state.Dimensions(),
		)
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := server.New(state, server.Config{
		ListenAddr:  cfg.Server.ListenAddr,
		QueryPrefix: cfg.Embeddings.QueryPrefix,
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      logger,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	slog.Info("server ready, press Ctrl+C to shut down", "listen_addr", cfg.Server.ListenAddr)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			return 1
		}
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildProvider constructs the embeddings provider named in the config entry.
func buildProvider(entry config.ProviderEntry) (embeddings.Provider, error) {
	switch entry.Name {
	case "ollama":
		return ollamaembed.New(entry.BaseURL, entry.Model)
	case "openai":
		apiKey := entry.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(apiKey, entry.Model, opts...)
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", entry.Name)
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level.SlogLevel(),
	}))
}
