package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/lumenpress/courier/internal/api"
	"github.com/lumenpress/courier/internal/config"
	"github.com/lumenpress/courier/internal/repository/memory"
	"github.com/lumenpress/courier/internal/repository/postgres"
	"github.com/lumenpress/courier/internal/service/analytics"
	"github.com/lumenpress/courier/internal/service/campaign"
	"github.com/lumenpress/courier/internal/worker"
)

// backingStore is everything the API process needs from persistence.
type backingStore interface {
	campaign.Repository
	campaign.DeliveryCanceller
	analytics.Repository
	api.RecipientStore
	worker.IngestStore
}

func main() {
	log.Println("Starting Courier API server...")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var store backingStore
	if cfg.Database.URL != "" {
		db, err := openDatabase(cfg.Database)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		store = postgres.NewStore(db)
		log.Println("Connected to database")
	} else {
		// Dev mode: everything in process, nothing survives a restart.
		store = memory.NewStore()
		log.Println("DATABASE_URL not set, using in-memory store (dev mode)")
	}

	campaignSvc := campaign.NewService(store, store)
	analyticsSvc := analytics.NewService(store, cfg.Analytics.DegradedMode)

	// The webhook endpoint feeds the ingestor, so it runs in this process.
	ingestor := worker.NewIngestor(store)
	if err := ingestor.Start(); err != nil {
		log.Fatalf("Failed to start event ingestor: %v", err)
	}
	defer ingestor.Stop()

	handlers := api.NewHandlers(campaignSvc, store, analyticsSvc, ingestor)
	server := api.NewServer(handlers)

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Listening on %s", addr)
		errCh <- server.ListenAndServe(addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Printf("Received %v, shutting down", sig)
	case err := <-errCh:
		log.Fatalf("Server error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

func openDatabase(dc config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", dc.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(dc.MaxOpenConns)
	db.SetMaxIdleConns(dc.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(dc.ConnMaxLifetime) * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
