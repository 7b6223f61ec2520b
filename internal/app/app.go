// Package app wires configuration, storage, generation and transports into a
// runnable Anton service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/chaturyaganne/ai-agent/internal/catalog"
	"github.com/chaturyaganne/ai-agent/internal/config"
	"github.com/chaturyaganne/ai-agent/internal/convlog"
	"github.com/chaturyaganne/ai-agent/internal/llm"
	"github.com/chaturyaganne/ai-agent/internal/metrics"
	"github.com/chaturyaganne/ai-agent/internal/onboarding"
	"github.com/chaturyaganne/ai-agent/internal/realtime"
	"github.com/chaturyaganne/ai-agent/internal/session"
	"github.com/chaturyaganne/ai-agent/internal/store"
)

// App holds the long-lived dependencies of a running service.
type App struct {
	Config       *config.Config
	Store        *store.SQLiteStore
	Orchestrator *onboarding.Orchestrator
	Generator    llm.Generator
	Metrics      *metrics.Metrics
	Conns        *realtime.ConnRegistry

	logger  *slog.Logger
	convLog convlog.Logger
	redis   *redis.Client
	closers []func() error
}

// New opens the store and builds every component described by cfg.
// The caller must Close the returned App.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, logger: logger, Conns: realtime.NewConnRegistry()}

	if err := a.init(ctx); err != nil {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("Failed to release resources after init failure", "error", closeErr)
		}
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	cat := catalog.Default()
	if cfg.CatalogPath != "" {
		loaded, err := catalog.LoadFile(cfg.CatalogPath)
		if err != nil {
			return fmt.Errorf("load question catalog: %w", err)
		}
		cat = loaded
	}

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	a.Store = repo
	a.closers = append(a.closers, repo.Close)

	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	a.logger.Info("Database connected", "path", cfg.DBPath)

	if cfg.MetricsEnabled {
		a.Metrics = metrics.New()
	}

	convLog, err := convlog.New(convlog.Config{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("initialize conversation logger: %w", err)
	}
	a.convLog = convLog
	a.closers = append(a.closers, convLog.Close)

	locks, err := a.newLocks(ctx)
	if err != nil {
		return err
	}

	gen, err := NewGenerator(ctx, cfg.LLM, a.logger)
	if err != nil {
		return err
	}
	a.Generator = gen
	if c, ok := gen.(interface{ Close() }); ok {
		a.closers = append(a.closers, func() error { c.Close(); return nil })
	}

	responder := llm.NewResponder(gen,
		llm.WithTimeout(cfg.LLM.GenerationTimeout),
		llm.WithLogger(a.logger),
		llm.WithMetrics(a.Metrics),
	)

	a.Orchestrator = onboarding.New(repo, responder, cat,
		onboarding.WithLogger(a.logger),
		onboarding.WithLocks(locks),
		onboarding.WithResubmitPolicy(cfg.ResubmitPolicy),
		onboarding.WithConversationLog(convLog),
		onboarding.WithMetrics(a.Metrics),
		onboarding.WithMemoryCapacity(cfg.MemoryCapacity),
	)
	return nil
}

// newLocks returns a local lock registry, backed by Redis when configured.
func (a *App) newLocks(ctx context.Context) (*session.Registry, error) {
	rc := a.Config.Redis
	if rc.Addr == "" {
		return session.NewRegistry(session.WithLogger(a.logger)), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	a.redis = client
	a.closers = append(a.closers, client.Close)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", rc.Addr, err)
	}
	a.logger.Info("Distributed user locks enabled", "redis_addr", rc.Addr)

	return session.NewRegistry(
		session.WithLogger(a.logger),
		session.WithLocker(session.NewRedisLocker(client, rc.Prefix), rc.LockTTL),
	), nil
}

// NewGenerator builds the text generation backend selected by cfg.Provider.
// A model server that cannot be reached yields a generator that fails every
// call as unavailable, so replies degrade to fallback text.
func NewGenerator(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (llm.Generator, error) {
	switch cfg.Provider {
	case "", "huggingface":
		return llm.NewHuggingFace(llm.HuggingFaceConfig{
			Token:   cfg.HFToken,
			Model:   cfg.HFModel,
			BaseURL: cfg.HFBaseURL,
		}), nil
	case "gemini":
		gen, err := llm.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("initialize gemini: %w", err)
		}
		return gen, nil
	case "grpc":
		gen, err := llm.NewSidecar(llm.DefaultSidecarConfig(cfg.AgentAddr), logger)
		if err != nil {
			logger.Warn("Model server unreachable, replies will use fallback text", "address", cfg.AgentAddr, "error", err)
			return offlineGenerator{cause: err}, nil
		}
		return gen, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

type offlineGenerator struct{ cause error }

func (offlineGenerator) Name() string { return "offline" }

func (g offlineGenerator) Generate(context.Context, llm.Request) (string, error) {
	return "", fmt.Errorf("%w: %v", llm.ErrUnavailable, g.cause)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
