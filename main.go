package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"forex-signal-engine/config"
	"forex-signal-engine/internal/api"
	"forex-signal-engine/internal/auth"
	"forex-signal-engine/internal/cache"
	"forex-signal-engine/internal/database"
	"forex-signal-engine/internal/engine"
	"forex-signal-engine/internal/events"
	"forex-signal-engine/internal/logging"
	"forex-signal-engine/internal/secrets"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the configuration file")
	generateConfig := flag.Bool("generate-config", false, "write a sample configuration file and exit")
	journalPath := flag.String("journal", "decisions.log", "path to the decision journal")
	flag.Parse()

	if *generateConfig {
		if err := config.GenerateSampleConfig(*configPath); err != nil {
			log.Fatalf("Failed to generate sample config: %v", err)
		}
		log.Printf("Sample configuration written to %s", *configPath)
		return
	}

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)
	logger.Info("structured logging initialized")

	eventBus := events.NewEventBus()
	logger.Info("event bus initialized")

	ctx := context.Background()

	// Vault overlays database/redis/JWT credentials when enabled
	vaultClient, err := secrets.NewClient(cfg.VaultConfig, logger)
	if err != nil {
		logger.Fatal("failed to initialize vault client", "error", err)
	}
	if err := vaultClient.Apply(ctx, cfg); err != nil {
		logger.Fatal("failed to load credentials from vault", "error", err)
	}

	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	}, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", "error", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal("failed to run migrations", "error", err)
	}

	repo := database.NewRepository(db)

	// Redis is optional; the engine runs memory-only when it is disabled
	// or unreachable at startup.
	var cacheService *cache.Service
	if cfg.RedisConfig.Enabled {
		cacheService, err = cache.NewService(cfg.RedisConfig, logger)
		if err != nil {
			logger.Warn("redis unavailable, continuing without cache", "error", err)
			cacheService = nil
		}
	}

	// Closed by the engine on Stop
	journal, err := engine.NewJournal(*journalPath)
	if err != nil {
		logger.Fatal("failed to open decision journal", "error", err)
	}

	eng := engine.New(cfg, eventBus, logger, engine.Options{
		Repo:    repo,
		Cache:   cacheService,
		Journal: journal,
	})

	if err := eng.LoadState(ctx); err != nil {
		logger.Fatal("failed to restore engine state", "error", err)
	}
	eng.Start()

	var jwtManager *auth.JWTManager
	if cfg.AuthConfig.Enabled {
		jwtManager = auth.NewJWTManager(cfg.AuthConfig.JWTSecret, 24*time.Hour)
		logger.Info("JWT authentication enabled")
	} else {
		logger.Warn("authentication disabled, API is open")
	}

	server := api.NewServer(cfg.ServerConfig, eng, db, cacheService, vaultClient, jwtManager, eventBus, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("failed to start web server", "error", err)
		}
	}()

	logger.Info("signal engine started",
		"pairs", len(cfg.Pairs),
		"addr", cfg.ServerConfig.Host,
		"port", cfg.ServerConfig.Port,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down web server", "error", err)
	}

	eng.Stop()

	if cacheService != nil {
		if err := cacheService.Close(); err != nil {
			logger.Error("error closing cache", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
