package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/chaturyaganne/ai-agent/internal/api"
	"github.com/chaturyaganne/ai-agent/internal/identity"
	"github.com/chaturyaganne/ai-agent/internal/middleware"
	"github.com/chaturyaganne/ai-agent/internal/onboarding"
	"github.com/chaturyaganne/ai-agent/internal/realtime"
)

// Router builds the HTTP handler tree.
func (a *App) Router() http.Handler {
	cfg := a.Config

	baseHandler := api.NewHandler(a.Orchestrator, a.logger)
	userHandler := api.NewUserHandler(baseHandler)
	healthHandler := api.NewHealthHandler(a.Store)
	wsHandler := realtime.NewWebSocketHandler(a.Orchestrator, a.Conns, originPatterns(cfg.AllowedOrigins), cfg.IsDevelopment())

	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(identity.Middleware(cfg.DefaultUsername))

	healthHandler.RegisterHealth(r)
	userHandler.RegisterRoutes(r)

	r.Get("/ws/chat", wsHandler.ServeHTTP)

	if a.Metrics != nil {
		r.Handle("/metrics", a.Metrics.Handler())
	}

	return r
}

// originPatterns converts allowed origins to the host patterns the websocket
// library matches against.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		}
	}
	return patterns
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down
// within the configured timeout.
func (a *App) Serve(ctx context.Context) error {
	if _, err := a.Orchestrator.EnsureUser(ctx, a.Config.DefaultUsername); err != nil {
		return fmt.Errorf("ensure default user: %w", err)
	}

	if a.Config.SessionIdleTTL > 0 {
		a.Orchestrator.StartIdleSweeper(ctx, a.Config.SessionIdleTTL, onboarding.DefaultSweepInterval)
	}

	ln, err := net.Listen("tcp", ":"+a.Config.Port)
	if err != nil {
		return fmt.Errorf("listen on port %s: %w", a.Config.Port, err)
	}
	return a.serve(ctx, ln)
}

func (a *App) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      a.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket connections are long-lived
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("Server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		a.logger.Info("Server stopped successfully")
		return nil
	})

	return g.Wait()
}
