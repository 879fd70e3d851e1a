package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"repo-advisor/internal/app"
	"repo-advisor/internal/config"
	"repo-advisor/internal/http"
	"repo-advisor/internal/observability"
)

//go:generate swagger generate spec -o swagger.json

// General API information
//
// This API analyzes a Git repository's documentation and returns README improvement suggestions.
//
// swagger:meta
//
// ---
// swagger: '2.0'
// info:
//   title: Repo Advisor API
//   description: |
//     Clones a repository, indexes its README and key files into a vector index and asks an LLM
//     for discovery metadata and concrete README improvements.
//   version: 1.0.0
// schemes:
//   - http
//   - https
// consumes:
//   - application/json
// produces:
//   - application/json

func main() {
	// Load configuration first (needed for log level)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Configure structured logging with configurable level and format
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	slog.Debug("Logging configured", "level", cfg.LogLevel.String(), "format", cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracingCfg := observability.DefaultTracingConfig()
	tracingCfg.ServiceName = cfg.ServiceName
	tracingCfg.OTLPEndpoint = cfg.OTLPEndpoint
	tp, err := observability.InitTracing(ctx, tracingCfg)
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			slog.Error("Tracing shutdown failed", "error", err)
		}
	}()

	a, err := app.New(cfg, app.Options{})
	if err != nil {
		log.Fatalf("Failed to initialize analysis service: %v", err)
	}
	defer func() {
		_ = a.Close()
	}()

	// Report unreachable model or index servers early; requests fail until they recover.
	if err := a.CheckHealth(ctx); err != nil {
		slog.Warn("Dependency not ready", "error", err)
	}

	router := http.NewRouter(&http.Deps{
		AnalysisService: a.Service,
		HealthChecks:    a.HealthChecks,
	})

	addr := ":" + cfg.APIPort
	server := &nethttp.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting API server", "addr", addr)
		slog.Debug("LLM configuration", "provider", cfg.LLMProvider, "base_url", cfg.LLMBaseURL, "model", cfg.LLMModelName)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			slog.Error("API server failed", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		slog.Info("Shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Graceful shutdown failed", "error", err)
		}
	}
}
