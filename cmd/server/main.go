package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ignite/contact-sync/internal/api"
	"github.com/ignite/contact-sync/internal/channel"
	"github.com/ignite/contact-sync/internal/config"
	"github.com/ignite/contact-sync/internal/pkg/distlock"
	"github.com/ignite/contact-sync/internal/ratelimit"
	"github.com/ignite/contact-sync/internal/reconcile"
	"github.com/ignite/contact-sync/internal/sendgrid"
	"github.com/ignite/contact-sync/internal/userstore"
	"github.com/ignite/contact-sync/internal/webhook"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
)

// checkPortAvailable verifies that the target port is not already in use.
// This prevents confusion from stale processes occupying the port.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v", port, addr, err)
	}
	ln.Close()
	return nil
}

func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func main() {
	log.Println("Starting contact-sync server (webhook ingest + reconciliation)...")

	// Load configuration
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("DATABASE_URL") != "" {
		log.Println("[config] DATABASE_URL env override active")
	}

	pairing, err := config.NewPairing(cfg.Groups)
	if err != nil {
		log.Fatalf("Invalid group/list pairing: %v", err)
	}

	publicKey, err := webhook.ParsePublicKey(cfg.Webhook.VerificationKey)
	if err != nil {
		log.Fatalf("Failed to parse webhook verification key: %v", err)
	}

	// Pre-flight check: verify the target port is available
	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	// Database connection
	log.Printf("Connecting to database at %s...", extractHost(cfg.Database.URL))
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("Failed to ping database: %v", err)
	}
	pingCancel()
	log.Println("Connected to database")

	store := userstore.NewStore(db)

	// Optional Redis: provider rate limiting plus the reconcile
	// single-flight lock. Without it the server still runs; reconcile
	// falls back to a Postgres advisory lock.
	var redisClient *redis.Client
	if cfg.Redis.Enabled && cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Printf("Warning: Redis unreachable, continuing without it: %v", err)
			redisClient = nil
		}
		pingCancel()
	}

	// Provider client (reconciliation reads counts through it)
	sgClient := sendgrid.NewClient(cfg.SendGrid)
	if redisClient != nil {
		sgClient.SetLimiter(ratelimit.New(redisClient, "sendgrid", ratelimit.DefaultBudget))
		log.Println("Provider rate limiter active (Redis)")
	}

	// Kafka publisher for drift alerts
	bus := channel.NewKafkaChannel(cfg.Kafka.Brokers, cfg.Kafka.GroupID)
	defer bus.Close()

	hook := webhook.NewHandler(store, pairing, publicKey, 0)

	job := reconcile.NewJob(store, sgClient, bus, cfg.Kafka.NotificationsTopic)
	lock := distlock.NewLock(redisClient, db, "reconcile", 10*time.Minute)
	recon := reconcile.NewHandler(job, cfg.Reconcile, lock)

	server := api.NewServer(cfg.Server, hook, recon, func() map[string]map[string]int64 {
		return map[string]map[string]int64{
			"webhook":   hook.Stats(),
			"reconcile": recon.Stats(),
		}
	})

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := fmt.Sprintf("%s:%d", host, port)
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Println("All services initialized — server is ready")

	<-done
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
