package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Billboah/ChatApp-sub000/internal/config"
	"github.com/Billboah/ChatApp-sub000/internal/database"
	"github.com/Billboah/ChatApp-sub000/internal/fanout"
	"github.com/Billboah/ChatApp-sub000/internal/middleware"
	"github.com/Billboah/ChatApp-sub000/internal/presence"
	"github.com/Billboah/ChatApp-sub000/internal/routes"
	chatws "github.com/Billboah/ChatApp-sub000/internal/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
)

func main() {
	// 1. Load Config
	bootLogger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	cfg, err := config.LoadConfig(bootLogger)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}

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
			Str("node", cfg.NodeID).
			Logger()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Connect to Database
	if cfg.DBUrl == "" {
		logger.Fatal().Msg("DB_URL is required")
	}
	pool, err := database.Connect(ctx, cfg.DBUrl, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection failed")
	}
	defer pool.Close()

	// 3. Optional presence and cross-node relay
	hubOpts := []chatws.HubOption{chatws.WithLogger(logger.With().Str("component", "hub").Logger())}

	var tracker *presence.Tracker
	if cfg.RedisURL != "" {
		tracker, err = presence.NewTracker(ctx, cfg.RedisURL, presence.DefaultTTL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer tracker.Close()
		hubOpts = append(hubOpts, chatws.WithPresence(tracker))
		logger.Info().Msg("connected to Redis")
	}

	var relay *fanout.NATSRelay
	if cfg.NatsURL != "" {
		relay, err = fanout.NewNATSRelay(fanout.Config{URL: cfg.NatsURL, NodeID: cfg.NodeID}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("nats connection failed")
		}
		defer relay.Close()
		hubOpts = append(hubOpts, chatws.WithRelay(relay))
		logger.Info().Str("node", cfg.NodeID).Msg("connected to NATS")
	}

	// The hub outlives the signal context so handlers can still unregister
	// while fiber drains connections.
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := chatws.NewHub(hubOpts...)
	go hub.Run(hubCtx)

	if relay != nil {
		if err := relay.Subscribe(hub.DeliverRelayed); err != nil {
			logger.Fatal().Err(err).Msg("nats subscribe failed")
		}
	}

	// 4. Setup Fiber
	app := fiber.New(fiber.Config{DisableStartupMessage: !cfg.IsDevelopment()})

	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(middleware.Logger(logger))
	app.Use(middleware.Metrics())

	routes.RegisterRoutes(app, cfg, routes.Dependencies{
		DB:       pool,
		Hub:      hub,
		Presence: tracker,
		Logger:   logger,
	})

	// 5. Start Server
	go func() {
		logger.Info().Str("port", cfg.Port).Str("env", cfg.AppEnv).Msg("starting chat server")
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server...")

	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	stopHub()

	logger.Info().Msg("server stopped")
}
