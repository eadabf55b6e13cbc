package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/lumenpress/courier/internal/config"
	"github.com/lumenpress/courier/internal/pkg/distlock"
	"github.com/lumenpress/courier/internal/quiethours"
	"github.com/lumenpress/courier/internal/repository/memory"
	"github.com/lumenpress/courier/internal/repository/postgres"
	"github.com/lumenpress/courier/internal/service/analytics"
	"github.com/lumenpress/courier/internal/service/campaign"
	"github.com/lumenpress/courier/internal/worker"
)

// workerStore is everything the worker process needs from persistence.
type workerStore interface {
	campaign.Repository
	campaign.DeliveryCanceller
	analytics.Repository
	worker.SchedulerStore
	worker.DispatchStore
}

func main() {
	log.Println("Starting Courier delivery worker...")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var (
		store workerStore
		db    *sql.DB
	)
	if cfg.Database.URL != "" {
		db, err = openDatabase(cfg.Database)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		store = postgres.NewStore(db)
		log.Println("Connected to database")
	} else {
		store = memory.NewStore()
		log.Println("DATABASE_URL not set, using in-memory store (dev mode)")
	}

	// Redis backs the scheduler lock and transport rate limiting. Without it
	// the lock falls back to a Postgres advisory lock and rate limiting is
	// left to the provider.
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opt)
		defer redisClient.Close()
	}

	var lock distlock.DistLock
	if redisClient != nil || db != nil {
		lock = distlock.NewLock(redisClient, db, "courier:scheduler", 2*time.Minute)
	}

	var limiter *worker.RateLimiter
	if redisClient != nil {
		limiter = worker.NewRateLimiter(redisClient, worker.SendLimits{
			PerSecond: cfg.Transport.RequestsPerSecond,
			PerMinute: cfg.Transport.RequestsPerMinute,
			PerDay:    cfg.Transport.DailyLimit,
		})
		log.Printf("Rate limiting enabled: %d/s, %d/min, %d/day",
			cfg.Transport.RequestsPerSecond, cfg.Transport.RequestsPerMinute, cfg.Transport.DailyLimit)
	}

	quiet, err := quiethours.New(*cfg.QuietHours.Window, cfg.QuietHours.DefaultTimezone, cfg.QuietHours.Enabled)
	if err != nil {
		log.Fatalf("Invalid quiet hours config: %v", err)
	}

	var transport worker.Transport
	switch cfg.Transport.Kind {
	case "ses":
		transport, err = worker.NewSESTransport(cfg.Transport.AccessKey, cfg.Transport.SecretKey, cfg.Transport.Region)
		if err != nil {
			log.Fatalf("Failed to init SES transport: %v", err)
		}
		log.Printf("Using SES transport in %s", cfg.Transport.Region)
	default:
		transport = worker.NewSimulatedTransport()
		log.Println("Using simulated transport (no real mail leaves this process)")
	}

	campaignSvc := campaign.NewService(store, store)
	analyticsSvc := analytics.NewService(store, cfg.Analytics.DegradedMode)

	var digest *worker.DigestBuilder
	if cfg.Digest.Enabled {
		tz, err := time.LoadLocation(cfg.QuietHours.DefaultTimezone)
		if err != nil {
			log.Fatalf("Invalid default timezone %q: %v", cfg.QuietHours.DefaultTimezone, err)
		}
		digest = worker.NewDigestBuilder(campaignSvc, store, cfg.Digest, tz)
		log.Printf("Weekly digest enabled: weekday=%d hour=%d feed=%s",
			cfg.Digest.Weekday, cfg.Digest.SendHour(), cfg.Digest.FeedURL)
	}

	scheduler := worker.NewScheduler(store, lock, digest, cfg.Scheduler.Tick(), cfg.Scheduler.ClaimLimit)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	defer scheduler.Stop()

	dispatcher := worker.NewDispatcher(store, transport, quiet, limiter, worker.DispatcherOptions{
		BatchSize:   cfg.Dispatcher.BatchSize,
		Concurrency: cfg.Dispatcher.Concurrency,
		MaxAttempts: cfg.Dispatcher.MaxAttempts,
		BackoffBase: cfg.Dispatcher.BackoffBase(),
		BackoffCap:  cfg.Dispatcher.BackoffCap(),
		SendTimeout: cfg.Transport.Timeout(),
	})
	if err := dispatcher.Start(); err != nil {
		log.Fatalf("Failed to start dispatcher: %v", err)
	}
	defer dispatcher.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.Analytics.CaptureIntervalMinutes > 0 {
		go captureLoop(ctx, analyticsSvc, time.Duration(cfg.Analytics.CaptureIntervalMinutes)*time.Minute)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %v, shutting down", sig)
}

// captureLoop periodically snapshots every campaign that has started
// sending, so trend series grow while campaigns are in flight.
func captureLoop(ctx context.Context, svc *analytics.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.CaptureAll(ctx)
			if err != nil {
				log.Printf("[Analytics] capture cycle failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[Analytics] captured %d snapshots", n)
			}
		}
	}
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
