// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/edulab-ai/agent-hub/internal/agentlog"
	"github.com/edulab-ai/agent-hub/internal/catalog"
	"github.com/edulab-ai/agent-hub/internal/chat"
	"github.com/edulab-ai/agent-hub/internal/config"
	"github.com/edulab-ai/agent-hub/internal/handler"
	"github.com/edulab-ai/agent-hub/internal/middleware"
	"github.com/edulab-ai/agent-hub/internal/provider"
	"github.com/edulab-ai/agent-hub/internal/recorder"
	"github.com/edulab-ai/agent-hub/internal/store"
	"github.com/edulab-ai/agent-hub/internal/syncer"
	"github.com/edulab-ai/agent-hub/pkg/logger"
	"github.com/edulab-ai/agent-hub/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "agent-hub", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to the database
	st, err := store.Open(cfg.DatabaseDSN, cfg.DatabaseSchema)
	if err != nil {
		log.Error("failed to open database", zap.Error(err))
		os.Exit(1)
	}
	if err := st.Migrate(ctx); err != nil {
		log.Error("failed to migrate database", zap.Error(err))
		os.Exit(1)
	}

	// Load the agent catalog
	cat, err := catalog.Load(cfg.ToolsFile)
	if err != nil {
		log.Error("failed to load tool catalog", zap.Error(err))
		os.Exit(1)
	}
	log.Info("tool catalog loaded", zap.Int("tools", len(cat.All())))

	// Initialize the session provider backend
	backend, err := provider.NewBackend(
		provider.BackendKind(cfg.SessionProviderBackend),
		sessionAPIKey(cfg),
		cfg.SessionProviderModel,
	)
	if err != nil {
		log.Error("failed to create session provider backend", zap.Error(err))
		os.Exit(1)
	}
	sessions := provider.NewSessionProvider(backend, func(err error) {
		log.Error("session provider stream failed", zap.Error(err))
	})

	// Coze client serves both live chat and the sync reconciler
	coze := provider.NewCozeClient(cfg.CozeAPIBase, cfg.CozeAPIKey, func(err error) {
		log.Error("coze stream failed", zap.Error(err))
	})

	// The recorder posts finished turns back through the write endpoint so
	// API-recorded and sync-recorded turns take the same path.
	recorderEndpoint := cfg.RecorderEndpoint
	if recorderEndpoint == "" {
		recorderEndpoint = "http://localhost:" + cfg.ServerPort + "/api/v1/conversations"
	}
	rec := recorder.New(recorderEndpoint, log)

	// Chat orchestrator
	orch := chat.New(sessions, coze, rec, log)

	// Sync reconciler, only when bots are configured
	var reconciler *syncer.Reconciler
	if len(cfg.SyncBotIDs) > 0 && cfg.CozeAPIKey != "" {
		logClient, err := agentlog.NewClient(cfg.CozeAPIBase, cfg.CozeAPIKey)
		if err != nil {
			log.Error("failed to create conversation log client", zap.Error(err))
			os.Exit(1)
		}
		reconciler = syncer.New(logClient, st, syncer.Options{
			MaxPages:        cfg.SyncMaxPages,
			PageSize:        cfg.SyncPageSize,
			MessagePageSize: cfg.SyncMessagePageSize,
		}, log)

		go reconciler.RunEvery(ctx, cfg.SyncInterval, cfg.SyncBotIDs)
		log.Info("sync reconciler started",
			zap.Strings("bot_ids", cfg.SyncBotIDs),
			zap.Duration("interval", cfg.SyncInterval),
		)
	}

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(st)
	toolsHandler := handler.NewToolsHandler(cat)
	conversationHandler := handler.NewConversationHandler(st, log)
	chatHandler := handler.NewChatHandler(orch, cat, log)
	syncHandler := handler.NewSyncHandler(reconciler, cfg.SyncBotIDs, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		// Catalog is public
		r.Route("/tools", func(r chi.Router) {
			r.Get("/", toolsHandler.List)
			r.Get("/categories", toolsHandler.Categories)
			r.Get("/{id}", toolsHandler.Get)
		})

		// Chat serves anonymous callers too; identity is picked up when
		// a token is present.
		r.Route("/chat", func(r chi.Router) {
			r.Use(middleware.OptionalAuth(cfg.JWTSecret))

			r.Post("/session", chatHandler.StartSession)
			r.Delete("/session", chatHandler.EndSession)
			r.Get("/messages", chatHandler.Messages)
			r.Post("/message", chatHandler.SendMessage)
		})

		// Turn recording and history
		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.Create)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Auth(cfg.JWTSecret))
				r.Get("/", conversationHandler.List)
			})
		})

		// Manual sync trigger
		r.With(middleware.Auth(cfg.JWTSecret)).Post("/sync", syncHandler.Trigger)
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

// sessionAPIKey picks the key matching the configured backend.
func sessionAPIKey(cfg *config.Config) string {
	if cfg.SessionProviderBackend == "anthropic" {
		return cfg.AnthropicAPIKey
	}
	return cfg.OpenAIAPIKey
}
