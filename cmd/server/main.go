// Voz - multi-tenant voice assistant server
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

	"github.com/vozlab/voz/internal/access"
	"github.com/vozlab/voz/internal/api"
	"github.com/vozlab/voz/internal/audit"
	"github.com/vozlab/voz/internal/classifier"
	"github.com/vozlab/voz/internal/config"
	"github.com/vozlab/voz/internal/identity"
	"github.com/vozlab/voz/internal/middleware"
	"github.com/vozlab/voz/internal/model"
	"github.com/vozlab/voz/internal/orchestrator"
	"github.com/vozlab/voz/internal/provider"
	"github.com/vozlab/voz/internal/registry"
	"github.com/vozlab/voz/internal/session"
	"github.com/vozlab/voz/internal/store"
	"github.com/vozlab/voz/internal/telemetry"
	"github.com/vozlab/voz/internal/voice"
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

	logger, err = telemetry.InitLogger(cfg.Telemetry.Dir, cfg.IsDevelopment())
	if err != nil {
		slog.Error("Failed to initialize logging", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "provider_mode", cfg.ProviderMode)

	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.Init(context.Background(), cfg.Telemetry.Dir)
		if err != nil {
			slog.Error("Failed to initialize telemetry", "error", err)
			os.Exit(1)
		}
		defer shutdownTelemetry()
	}

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

	reg, err := registry.Load(cfg.AgentConfigPath)
	if err != nil {
		slog.Error("Failed to load agent registry", "error", err)
		os.Exit(1)
	}
	slog.Info("Agent registry loaded", "agents", len(reg.Active()))

	var data provider.DataProvider
	switch cfg.ProviderMode {
	case config.ProviderModeLive:
		live, err := provider.NewLive(context.Background(), cfg.DataHubDSN, cfg.CivicDSN)
		if err != nil {
			slog.Error("Failed to connect live data provider", "error", err)
			os.Exit(1)
		}
		data = live
	default:
		data = provider.NewMock()
	}
	defer data.Close()
	slog.Info("Data provider ready", "provider", data.Name())

	modelClient := model.New(model.Config{
		BaseURL:         cfg.ModelBaseURL,
		APIKey:          cfg.ModelAPIKey,
		ClassifierModel: cfg.ClassifierModel,
		GeneratorModel:  cfg.GeneratorModel,
		CallTimeout:     cfg.UpstreamCallTimeout,
	})

	var caller classifier.ModelCaller
	if cfg.ModelBaseURL != "" {
		caller = modelClient
	} else {
		slog.Warn("MODEL_BASE_URL not set, classification runs on trigger matching only")
	}
	intentClassifier := classifier.New(reg, caller, logger)
	orch := orchestrator.New(reg, data, modelClient, logger)

	tracker := session.NewTracker(repo, session.Options{
		IdleTimeout:     cfg.SessionIdleTimeout,
		SimilarityFloor: cfg.KeywordSimilarityFloor,
	}, logger)

	auditor, err := audit.New(audit.Config{
		Enabled:       cfg.AuditLog.Enabled,
		Dir:           cfg.AuditLog.Dir,
		GlobalEnabled: cfg.AuditLog.GlobalEnabled,
		GlobalPath:    cfg.AuditLog.GlobalPath,
		QueueSize:     cfg.AuditLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize audit log", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := auditor.Close(); closeErr != nil {
			slog.Warn("Failed to close audit log", "error", closeErr)
		}
	}()

	// Initialize services.
	hub := api.NewStreamHub()
	voiceManager := voice.NewManager()

	sessionFactory := func(deviceID, module string, obs voice.Observers) *voice.Session {
		agent := reg.BySlug(module)
		if agent == nil {
			agent = reg.Default()
		}
		opts := voice.SessionOptions{
			MaxRecording: cfg.MaxRecordingDuration,
		}
		if agent != nil {
			opts.Module = agent.Slug
			opts.WelcomeText = agent.Welcome
		}
		return voice.NewSession(deviceID, voice.Ports{
			Transcriber: modelClient,
			Synthesizer: modelClient,
			Classifier:  intentClassifier,
			Router:      orch,
			Tracker:     tracker,
			Auditor:     auditor,
		}, opts, obs, logger)
	}

	// Initialize handlers.
	handler := api.NewHandler(repo, tracker, intentClassifier, orch, reg, data, hub, voiceManager, auditor)
	defer handler.Close()
	voiceHandler := api.NewVoiceHandler(voiceManager, sessionFactory, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	handler.RegisterRoutes(r)

	resolveRole := func(req *http.Request) access.Role {
		if cfg.AdminToken != "" && req.Header.Get("X-Admin-Token") == cfg.AdminToken {
			return access.RoleAdmin
		}
		if cfg.IsDevelopment() {
			return access.RoleAdmin
		}
		return access.RoleVisitor
	}
	handler.RegisterAdminRoutes(r, access.NewGate("/login", "/"), resolveRole)

	// WebSocket endpoint.
	r.Get("/ws/voice", voiceHandler.ServeHTTP)

	// Create server.
	// Note: SSE connections require long timeouts (no WriteTimeout)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start background cleanup.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session.StartCleanupWorker(ctx, tracker)

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
