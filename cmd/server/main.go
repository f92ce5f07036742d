// Careline - Customer Service Chat Server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/careline/careline/internal/api"
	"github.com/careline/careline/internal/auth"
	"github.com/careline/careline/internal/chatws"
	"github.com/careline/careline/internal/config"
	"github.com/careline/careline/internal/feedback"
	"github.com/careline/careline/internal/kb"
	"github.com/careline/careline/internal/metrics"
	"github.com/careline/careline/internal/middleware"
	"github.com/careline/careline/internal/responder"
	"github.com/careline/careline/internal/store"
	"github.com/careline/careline/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	if err := store.SeedOrdersIfEmpty(context.Background(), repo); err != nil {
		slog.Error("Failed to seed demo orders", "error", err)
		os.Exit(1)
	}

	// Initialize services.
	tokens := auth.NewManager(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, repo)
	knowledge := kb.NewService(repo, cfg.Knowledge)
	cm := chatws.NewConnectionManager()
	m := metrics.New()

	var resp responder.Responder
	if cfg.OpenAI.APIKey != "" {
		resp = responder.NewOpenAIResponder(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model, knowledge)
		slog.Info("Responder initialized", "kind", "openai", "model", cfg.OpenAI.Model)
	} else {
		resp = responder.NewRuleResponder(repo, knowledge)
		slog.Info("Responder initialized", "kind", "rules")
	}

	// Initialize handlers.
	baseHandler := api.NewHandler(repo)
	healthHandler := api.NewHealthHandler(repo)
	authHandler := api.NewAuthHandler(baseHandler, tokens, cm)
	sessionHandler := api.NewSessionHandler(baseHandler)
	knowledgeHandler := api.NewKnowledgeHandler(baseHandler, knowledge)
	wsHandler := chatws.NewHandler(repo, tokens, cm, resp, m, cfg.FrontendURL, cfg.IsDevelopment(), cfg.StreamChunkSize)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(m.Middleware)

	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", m.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		authHandler.RegisterRoutes(r)
		sessionHandler.RegisterRoutes(r, tokens)
		knowledgeHandler.RegisterRoutes(r, tokens)
		r.Get("/chat/ws/{sessionID}", wsHandler.ServeHTTP)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Create server. WriteTimeout stays 0 so long-lived WebSocket
	// connections are not cut off.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMaintenanceWorker(ctx, repo, cfg.SessionTTL)
	slog.Info("Maintenance worker started", "session_ttl", cfg.SessionTTL)

	startFeedbackAnalyzer(ctx, feedback.NewAnalyzer(repo))

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// startFeedbackAnalyzer surfaces low-rating feedback once a day.
func startFeedbackAnalyzer(ctx context.Context, analyzer *feedback.Analyzer) {
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				analyzer.Run(runCtx)
				cancel()
			}
		}
	}()
}

// startMaintenanceWorker periodically archives idle sessions and purges
// expired token blacklist entries.
func startMaintenanceWorker(ctx context.Context, repo store.Repository, sessionTTL time.Duration) {
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				archived, err := repo.CleanupExpiredSessions(runCtx, sessionTTL)
				if err != nil {
					slog.Warn("Session cleanup failed", "error", err)
				} else if archived > 0 {
					slog.Info("Archived idle sessions", "count", archived)
				}
				purged, err := repo.PurgeExpiredTokens(runCtx)
				if err != nil {
					slog.Warn("Token purge failed", "error", err)
				} else if purged > 0 {
					slog.Info("Purged expired token blacklist entries", "count", purged)
				}
				cancel()
			}
		}
	}()
}
