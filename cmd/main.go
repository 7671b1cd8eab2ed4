package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"yandexweather/internal/api"
	"yandexweather/internal/clock"
	"yandexweather/internal/config"
	"yandexweather/internal/ha"
	"yandexweather/internal/platform"
	"yandexweather/internal/restore"
	"yandexweather/internal/shadowstate"
	"yandexweather/internal/units"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func openStore(settings *config.Settings, client ha.HAClient, logger *zap.Logger) (restore.Store, error) {
	switch settings.RestoreBackend {
	case config.RestoreHA:
		return restore.NewHAStore(client), nil
	case config.RestoreMemory:
		return restore.NewMemoryStore(), nil
	default:
		if err := os.MkdirAll(filepath.Dir(settings.RestorePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create restore directory: %w", err)
		}
		return restore.OpenBoltStore(settings.RestorePath, logger)
	}
}

func main() {
	// Bootstrap logger until LOG_LEVEL is known
	bootLogger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	settings, err := config.LoadSettings(bootLogger)
	if err != nil {
		bootLogger.Fatal("Invalid settings", zap.Error(err))
	}

	logger, err := newLogger(settings.LogLevel)
	if err != nil {
		bootLogger.Fatal("Failed to create logger", zap.Error(err))
	}
	defer logger.Sync()

	unitSystem, err := units.ParseSystem(settings.UnitSystem)
	if err != nil {
		logger.Fatal("Invalid UNIT_SYSTEM", zap.Error(err))
	}

	restURL := settings.HARestURL
	if restURL == "" {
		restURL, err = ha.RESTURLFromWebSocket(settings.HAURL)
		if err != nil {
			logger.Fatal("Cannot derive Home Assistant REST URL, set HA_REST_URL", zap.Error(err))
		}
	}

	logger.Info("Starting Yandex.Weather service",
		zap.String("url", settings.HAURL),
		zap.String("rest_url", restURL),
		zap.String("units", unitSystem.Name),
		zap.String("restore_backend", settings.RestoreBackend),
		zap.Bool("read_only", settings.ReadOnly))

	// Load weather entries
	configLoader := config.NewLoader(settings.ConfigDir, logger)
	if err := configLoader.LoadAll(); err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Create HA client
	client := ha.NewClient(settings.HAURL, settings.HAToken, logger)

	// Connect to Home Assistant
	if err := client.Connect(); err != nil {
		logger.Fatal("Failed to connect to Home Assistant", zap.Error(err))
	}
	defer client.Disconnect()

	logger.Info("Connected to Home Assistant")

	writer := ha.NewRESTClient(restURL, settings.HAToken, logger)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     settings.RedisAddr,
		Password: settings.RedisPassword,
		DB:       settings.RedisDB,
	})
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis not reachable yet, entities start unavailable",
			zap.String("addr", settings.RedisAddr),
			zap.Error(err))
	}

	store, err := openStore(settings, client, logger)
	if err != nil {
		logger.Fatal("Failed to open restore store", zap.Error(err))
	}
	defer store.Close()

	tracker := shadowstate.NewTracker()
	manager := platform.NewManager(platform.Options{
		Entries:  configLoader.GetWeatherConfig().Weather,
		Redis:    redisClient,
		Bus:      client,
		Writer:   writer,
		Store:    store,
		Clock:    clock.NewRealClock(),
		Units:    unitSystem,
		ReadOnly: settings.ReadOnly,
		Tracker:  tracker,
	}, logger)

	if err := manager.Start(ctx); err != nil {
		logger.Error("Some weather entries failed to set up", zap.Error(err))
	}
	defer manager.Stop()

	apiServer := api.NewServer(manager, logger, settings.APIPort)
	if err := apiServer.Start(); err != nil {
		logger.Fatal("Failed to start API server", zap.Error(err))
	}
	defer apiServer.Stop()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if settings.ReadOnly {
		logger.Info("Running in READ-ONLY mode - no states or events will be sent to Home Assistant")
	}
	logger.Info("Application running. Press Ctrl+C to exit.",
		zap.Strings("entities", manager.EntityIDs()))

	// Wait for shutdown signal
	<-sigChan

	logger.Info("Shutting down gracefully...")
}
