package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/GermanQuintana/vetassist/internal/assistant"
	"github.com/GermanQuintana/vetassist/internal/cache"
	"github.com/GermanQuintana/vetassist/internal/config"
	"github.com/GermanQuintana/vetassist/internal/conversation"
	"github.com/GermanQuintana/vetassist/internal/engine"
	"github.com/GermanQuintana/vetassist/internal/ledger"
	"github.com/GermanQuintana/vetassist/internal/provider"
	"github.com/GermanQuintana/vetassist/internal/server"
	"github.com/GermanQuintana/vetassist/internal/telemetry"
	"github.com/GermanQuintana/vetassist/internal/tokencount"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "vetassist.toml", "Path to TOML configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: .env file not found or could not be loaded: %v\n", err)
	}

	if err := run(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := telemetry.InitLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx := context.Background()
	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer cleanup()

	assistants := make([]assistant.Config, len(cfg.Assists))
	for i, a := range cfg.Assists {
		assistants[i] = assistant.Config{
			ID:           a.ID,
			DisplayName:  a.DisplayName,
			ModelID:      a.ModelID,
			SystemPrompt: a.SystemPrompt,
			AcceptsFiles: a.AcceptsFiles,
		}
	}
	registry, err := assistant.NewRegistry(assistants)
	if err != nil {
		return fmt.Errorf("failed to build assistant registry: %w", err)
	}

	store, err := newStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	led, err := newLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer led.Close()

	responseCache, err := newCache(cfg)
	if err != nil {
		return err
	}
	defer responseCache.Close()

	client := newProviderClient(cfg, tracer, meter)

	eng, err := engine.New(engine.Deps{
		Registry:        registry,
		Store:           store,
		Ledger:          led,
		Counter:         tokencount.NewCounter(),
		Client:          client,
		Cache:           responseCache,
		Logger:          logger,
		MaxExcerptChars: cfg.Ingest.MaxExcerptChars,
		ProviderTimeout: cfg.ProviderTimeout(),
		Tracer:          tracer,
		Meter:           meter,
	})
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.New(eng, registry, logger).Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr, "provider", cfg.Provider.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

func newStore(cfg *config.Config) (conversation.Store, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		store, err := conversation.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open conversation store: %w", err)
		}
		return store, nil
	case "memory", "":
		return conversation.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
}

func newLedger(ctx context.Context, cfg *config.Config) (ledger.Ledger, error) {
	switch cfg.Ledger.Backend {
	case "postgres":
		led, err := ledger.NewPostgresLedger(ctx, cfg.Ledger.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open usage ledger: %w", err)
		}
		return led, nil
	case "memory", "":
		return ledger.NewMemoryLedger(), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend: %s", cfg.Ledger.Backend)
	}
}

func newCache(cfg *config.Config) (cache.Cache, error) {
	switch cfg.Cache.Backend {
	case "redis":
		c, err := cache.NewRedisCache(cfg.Cache.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open response cache: %w", err)
		}
		return c, nil
	case "memory", "":
		return cache.NewMemoryCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Cache.Backend)
	}
}

func newProviderClient(cfg *config.Config, tracer trace.Tracer, meter metric.Meter) provider.Client {
	timeout := cfg.ProviderTimeout()
	switch cfg.Provider.Backend {
	case config.ProviderAnthropic:
		return provider.NewAnthropicClient(cfg.Provider.BaseURL, cfg.Provider.APIKey, timeout, tracer, meter)
	case config.ProviderOllama:
		return provider.NewOllamaClient(cfg.Provider.BaseURL, timeout, tracer, meter)
	case config.ProviderGrok:
		baseURL := cfg.Provider.BaseURL
		if baseURL == "" {
			baseURL = "https://api.grok.x.ai/v1"
		}
		return provider.NewOpenAIClient("grok", baseURL, cfg.Provider.APIKey, timeout, tracer, meter)
	default:
		return provider.NewOpenAIClient("openai", cfg.Provider.BaseURL, cfg.Provider.APIKey, timeout, tracer, meter)
	}
}
