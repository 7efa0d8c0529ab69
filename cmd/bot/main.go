package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/relay-bot/internal/bot"
	"github.com/xaenox/relay-bot/internal/models"
	"github.com/xaenox/relay-bot/internal/storage"
	"github.com/xaenox/relay-bot/pkg/config"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", "config.yaml"))
	}

	// Initialize storage
	var store storage.Storage
	if cfg.Database.UseInMemory {
		logger.Info("Using JSON file storage", zap.String("path", cfg.Storage.DataFile))
		mem := storage.NewMemoryStorage(cfg.Storage.DataFile, logger)
		if err := mem.Load(); err != nil {
			logger.Error("Failed to load stored data", zap.Error(err))
		}
		store = mem
	} else {
		logger.Info("Using PostgreSQL storage")
		dbConfig := storage.DatabaseConfig{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			DBName:      cfg.Database.DBName,
			SSLMode:     cfg.Database.SSLMode,
			UseInMemory: cfg.Database.UseInMemory,
		}
		store, err = storage.NewPostgresStorage(dbConfig, logger)
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer store.Close()

	// Seed the fan-out target from config on first run; once an admin has
	// switched modes, the persisted setting wins over the config file.
	if models.Mode(cfg.Bot.Mode) == models.ModeGroup {
		settings := store.Settings()
		if settings.Mode == models.ModePrivate && settings.TargetGroupID == 0 {
			if err := store.SetMode(models.ModeGroup, cfg.Bot.TargetGroupID); err != nil {
				logger.Fatal("Failed to apply configured mode", zap.Error(err))
			}
		}
	}

	// Initialize bot
	b, err := bot.New(cfg, store, logger)
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}

	// Periodic auto-save
	go func() {
		interval := time.Duration(cfg.Storage.AutoSaveInterval) * time.Second
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			if err := store.Save(); err != nil {
				logger.Error("Periodic save failed", zap.Error(err))
			}
		}
	}()

	// Save and stop on SIGINT/SIGTERM
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		logger.Info("Shutting down")
		if err := store.Save(); err != nil {
			logger.Error("Final save failed", zap.Error(err))
		}
		b.Stop()
	}()

	// Start the bot
	if err := b.Start(); err != nil {
		logger.Fatal("Bot error", zap.Error(err))
	}
}
