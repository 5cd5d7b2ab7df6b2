package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/contact-sync/internal/channel"
	"github.com/ignite/contact-sync/internal/config"
	"github.com/ignite/contact-sync/internal/ratelimit"
	"github.com/ignite/contact-sync/internal/sendgrid"
	"github.com/ignite/contact-sync/internal/syncer"
	"github.com/ignite/contact-sync/internal/userstore"
	_ "github.com/lib/pq"
)

func main() {
	log.Println("Starting contact-sync worker...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Database connection
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("Failed to ping database: %v", err)
	}
	pingCancel()
	log.Println("Connected to database")

	store := userstore.NewStore(db)

	sgClient := sendgrid.NewClient(cfg.SendGrid)
	if cfg.Redis.Enabled && cfg.Redis.URL != "" {
		limiter, err := ratelimit.NewFromURL(cfg.Redis.URL, "sendgrid", ratelimit.DefaultBudget)
		if err != nil {
			log.Printf("Warning: rate limiter disabled: %v", err)
		} else {
			defer limiter.Close()
			sgClient.SetLimiter(limiter)
			log.Println("Provider rate limiter active (Redis)")
		}
	}

	bus := channel.NewKafkaChannel(cfg.Kafka.Brokers, cfg.Kafka.GroupID)
	defer bus.Close()

	worker := syncer.NewWorker(store, sgClient, cfg.SendGrid.IDBackfillGrace())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	topics := syncer.Topics{
		Sync:        cfg.Kafka.SyncTopic,
		Delete:      cfg.Kafka.DeleteTopic,
		ListRemoval: cfg.Kafka.ListRemovalTopic,
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- worker.Run(ctx, bus, topics)
	}()
	log.Printf("Consuming topics %s, %s, %s (group %s)",
		topics.Sync, topics.Delete, topics.ListRemoval, cfg.Kafka.GroupID)

	// Periodic stats heartbeat
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.Printf("Worker stats: %v", worker.Stats())
			}
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Println("Shutting down worker...")
		cancel()
		<-runErr
	case err := <-runErr:
		if err != nil {
			log.Fatalf("Worker exited with error: %v", err)
		}
	}

	log.Println("Worker stopped")
}
