package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ipnet-mesh/meshbot/internal/api"
	"github.com/ipnet-mesh/meshbot/internal/config"
	"github.com/ipnet-mesh/meshbot/internal/eventlog"
	"github.com/ipnet-mesh/meshbot/internal/handlers"
	"github.com/ipnet-mesh/meshbot/internal/knowledge"
	"github.com/ipnet-mesh/meshbot/internal/limiter"
	"github.com/ipnet-mesh/meshbot/internal/mesh"
	"github.com/ipnet-mesh/meshbot/internal/reasoning"
	"github.com/ipnet-mesh/meshbot/internal/registry"
	"github.com/ipnet-mesh/meshbot/internal/router"
	"github.com/ipnet-mesh/meshbot/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Initialize the record store
	recordStore := openStore(ctx, cfg, logger)
	defer recordStore.Close()

	reg := registry.New(recordStore, logger)
	events := eventlog.New(recordStore, reg, logger, cfg.EventLogMax)

	// Reply throttle: shared via Redis when configured, in-process otherwise
	var replyLimiter limiter.Limiter
	if cfg.RedisURL != "" {
		redisLimiter, err := limiter.NewRedis(ctx, cfg.RedisURL, cfg.ReplyRateLimit, cfg.ReplyRateWindow)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisLimiter.Close()
		replyLimiter = redisLimiter
		logger.Info().Msg("connected to Redis")
	} else {
		replyLimiter = limiter.NewMemory(cfg.ReplyRateLimit, cfg.ReplyRateWindow)
	}

	kb, err := knowledge.Load(cfg.KnowledgeDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("knowledge base load failed")
	}

	reasoner := reasoning.NewRules(recordStore, reg, events, kb)

	// Transport: in-memory until radio hardware support lands.
	identity := cfg.NodeIdentity
	if identity == "" {
		identity = strings.ReplaceAll(uuid.New().String(), "-", "")
		logger.Warn().Str("identity", identity).Msg("NODE_IDENTITY not set, generated an ephemeral one")
	}
	transport := mesh.NewMockTransport(identity, cfg.NodeName)

	r := router.New(router.Options{
		MaxMessageLength:        cfg.MaxMessageLength,
		ContextWindow:           cfg.ContextWindow,
		MaxConversationMessages: cfg.MaxConversationLength,
		ListenChannel:           cfg.ListenChannel,
		ChunkDelay:              cfg.ChunkDelay,
		ReasoningTimeout:        cfg.ReasoningTimeout,
	}, recordStore, reg, replyLimiter, reasoner, transport, logger)

	transport.Subscribe(r.HandleMessage)
	if err := transport.Connect(ctx); err != nil {
		logger.Fatal().Err(err).Msg("transport connect failed")
	}
	defer transport.Disconnect()

	// Status API
	h := handlers.NewHandler(recordStore, reg, events, kb)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(logger, h),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("name", cfg.NodeName).
			Str("channel", cfg.ListenChannel).
			Msg("starting mesh bridge agent")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("status API failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("status API forced to shutdown")
	}

	logger.Info().Msg("agent stopped")
}

// openStore selects the record store backend from configuration.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) store.RecordStore {
	switch cfg.StoreBackend {
	case "file":
		s, err := store.NewFileStore(cfg.DataDir)
		if err != nil {
			logger.Fatal().Err(err).Msg("file store init failed")
		}
		logger.Info().Str("dir", cfg.DataDir).Msg("using file store")
		return s
	case "sqlite":
		s, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite store init failed")
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("using sqlite store")
		return s
	case "postgres":
		if cfg.DatabaseURL == "" {
			logger.Fatal().Msg("STORE_BACKEND=postgres requires DATABASE_URL")
		}
		s, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		logger.Info().Msg("connected to PostgreSQL")
		return s
	default:
		logger.Fatal().Str("backend", cfg.StoreBackend).Msg("unknown store backend")
		return nil
	}
}
