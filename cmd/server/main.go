// TechFlow - specialist AI agent chat server
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

	"github.com/ashureev/techflow/internal/agent"
	"github.com/ashureev/techflow/internal/analytics"
	"github.com/ashureev/techflow/internal/api"
	"github.com/ashureev/techflow/internal/chat"
	"github.com/ashureev/techflow/internal/command"
	"github.com/ashureev/techflow/internal/config"
	"github.com/ashureev/techflow/internal/conversation"
	"github.com/ashureev/techflow/internal/directory"
	"github.com/ashureev/techflow/internal/identity"
	"github.com/ashureev/techflow/internal/middleware"
	"github.com/ashureev/techflow/internal/prompt"
	"github.com/ashureev/techflow/internal/registry"
	"github.com/ashureev/techflow/internal/slack"
	"github.com/ashureev/techflow/internal/store"
	"github.com/ashureev/techflow/internal/store/redisptr"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "backend", cfg.Generation.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize storage.
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

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	healthChecks := map[string]api.Pinger{"database": repo}

	var pointers store.PointerStore = repo
	if cfg.RedisURL != "" {
		redisPointers, err := redisptr.New(ctx, cfg.RedisURL, cfg.PointerIdleTTL)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := redisPointers.Close(); closeErr != nil {
				slog.Error("Failed to close Redis client", "error", closeErr)
			}
		}()
		pointers = redisPointers
		healthChecks["redis"] = redisPointers
		slog.Info("Session pointers stored in Redis")
	}

	// Initialize core components.
	agents := directory.New(repo, logger)
	if err := agents.Seed(ctx); err != nil {
		slog.Error("Failed to seed built-in agents", "error", err)
		os.Exit(1)
	}

	conversations := conversation.New(repo, logger)
	sessions := registry.New(pointers, conversations, logger, registry.WithIdleTTL(cfg.PointerIdleTTL))
	stats := analytics.New(repo, logger)

	sweeper, err := registry.NewSweeper(sessions, cfg.PointerSweepSchedule, logger)
	if err != nil {
		slog.Error("Failed to schedule pointer sweeper", "error", err)
		os.Exit(1)
	}
	sweeper.Start()

	generator, err := agent.NewGenerator(ctx, agent.Config{
		Backend:      cfg.Generation.Backend,
		ModelName:    cfg.Generation.GeminiModel,
		GoogleAPIKey: cfg.Generation.GeminiAPIKey,
		GrpcAddr:     cfg.Generation.GrpcAddr,
		Temperature:  agent.DefaultConfig().Temperature,
		TopP:         agent.DefaultConfig().TopP,
		MaxTokens:    agent.DefaultConfig().MaxTokens,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize generation backend", "backend", cfg.Generation.Backend, "error", err)
		os.Exit(1)
	}
	if grpcClient, ok := generator.(*agent.GrpcClient); ok {
		defer grpcClient.Close()
		healthChecks["agent"] = api.PingFunc(grpcClient.Health)
	}
	slog.Info("Generation backend ready", "backend", generator.Name())

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	orchestrator := chat.New(chat.Config{
		GenerationTimeout: cfg.GenerationTimeout,
		Assembler:         prompt.NewAssembler(cfg.HistoryTurns),
	}, agents, conversations, sessions, stats, generator, logger, chat.WithTranscript(conversationLogger))

	router := command.NewRouter(agents, sessions, stats, orchestrator, logger)

	// Initialize handlers.
	apiHandler := api.NewHandler(agents, conversations, orchestrator, stats, logger)
	healthHandler := api.NewHealthHandler(healthChecks)
	conns := api.NewConnManager()
	chatSocket := api.NewChatSocket(orchestrator, conns, cfg.FrontendURL, cfg.IsDevelopment(), logger)

	if !cfg.Slack.Enabled() {
		slog.Info("Slack bot token not set, chat-platform replies will fail until configured")
	}
	if cfg.Slack.SigningSecret == "" {
		slog.Warn("SLACK_SIGNING_SECRET not set, chat-platform request signatures are not verified")
	}
	slackHandler := slack.NewHandler(slack.Config{
		SigningSecret:  cfg.Slack.SigningSecret,
		BotUserID:      cfg.Slack.BotUserID,
		BotConfigured:  cfg.Slack.Enabled(),
		ProcessTimeout: cfg.GenerationTimeout + time.Minute,
	}, router, agents, slack.NewClient(cfg.Slack.BotToken), logger)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	go limiter.Run(ctx, 10*time.Minute)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// Public routes.
	healthHandler.RegisterHealth(r)
	slackHandler.RegisterRoutes(r)

	// Web routes carry an anonymous identity and are rate limited per identity.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.IsDevelopment()))
		r.Use(limiter.Middleware)
		apiHandler.RegisterRoutes(r)
		r.Get("/ws/chat", chatSocket.ServeHTTP)
	})

	// Create server.
	// Chat sockets and slow generations need no write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

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

	conns.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if err := slackHandler.Wait(shutdownCtx); err != nil {
		slog.Warn("In-flight chat-platform events did not finish", "error", err)
	}
	sweeper.Stop(shutdownCtx)

	slog.Info("Server stopped successfully")
}
