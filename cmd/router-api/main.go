package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/upb/inference-router/app"
	"github.com/upb/inference-router/config"
	"github.com/upb/inference-router/internal/observability"
	"github.com/upb/inference-router/routes"
	"github.com/upb/inference-router/services/providers"
)

// defaultBaseURLs maps provider kinds to their OpenAI-compatible chat
// completions endpoints. PROVIDER_<KIND>_BASE_URL overrides.
var defaultBaseURLs = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"anthropic":  "https://api.anthropic.com/v1",
	"selfhosted": "http://localhost:11434/v1",
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "router-api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.NewDependencies(ctx, cfg, logger, buildInvokers(cfg))
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	if err := deps.Scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start quota reset scheduler: %w", err)
	}
	defer deps.Scheduler.Stop()

	if deps.UsageLog != nil {
		go deps.UsageLog.StartCleanupWorker(ctx, cfg.Scheduler.CleanupInterval, cfg.Scheduler.UsageRetention)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      routes.SetupRoutes(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("address", srv.Addr),
			zap.String("environment", cfg.Environment),
			zap.Int("models", len(cfg.Models)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}

// buildInvokers creates an HTTP invoker per provider kind referenced by the
// configured models. Endpoints and credentials come from
// PROVIDER_<KIND>_BASE_URL and PROVIDER_<KIND>_API_KEY.
func buildInvokers(cfg *config.Config) map[string]providers.Invoker {
	invokers := make(map[string]providers.Invoker)

	for _, m := range cfg.Models {
		kind := m.ProviderKind
		if _, ok := invokers[kind]; ok {
			continue
		}

		prefix := "PROVIDER_" + strings.ToUpper(strings.ReplaceAll(kind, "-", "_"))
		invokers[kind] = providers.NewHTTPInvoker(providers.HTTPInvokerConfig{
			Provider: kind,
			BaseURL:  envOrDefault(prefix+"_BASE_URL", defaultBaseURLs[kind]),
			APIKey:   os.Getenv(prefix + "_API_KEY"),
		})
	}

	return invokers
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
