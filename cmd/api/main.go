package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/kurihiro0119/github-contrib-collector/internal/api"
	"github.com/kurihiro0119/github-contrib-collector/internal/config"
	"github.com/kurihiro0119/github-contrib-collector/internal/logger"
	"github.com/kurihiro0119/github-contrib-collector/internal/storage"
	"github.com/kurihiro0119/github-contrib-collector/internal/storage/postgres"
	"github.com/kurihiro0119/github-contrib-collector/internal/storage/sqlite"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.ValidateStorage(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize storage
	var store storage.Storage
	switch cfg.StorageType {
	case "postgres":
		store, err = postgres.NewPostgresStorage(cfg.PostgresURL)
		if err != nil {
			log.Fatalf("Failed to initialize PostgreSQL storage: %v", err)
		}
	case "none":
		log.Fatalf("STORAGE_TYPE=none: the API server serves stored results and needs sqlite or postgres")
	default:
		store, err = sqlite.NewSQLiteStorage(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("Failed to initialize SQLite storage: %v", err)
		}
	}
	defer store.Close()

	// Initialize handler
	handler := api.NewHandler(store)

	// Setup routes
	router := api.SetupRoutes(handler)

	// Start server
	ctx := context.Background()
	console := logger.Console{}
	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	console.Info(ctx, "Starting API server on %s", addr)
	console.Info(ctx, "Storage type: %s", cfg.StorageType)

	if err := router.Run(addr); err != nil {
		console.Error(ctx, "Failed to start server: %v", err)
		os.Exit(1)
	}
}
