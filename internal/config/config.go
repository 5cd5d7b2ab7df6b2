package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ignite/contact-sync/internal/domain"
)

// Config holds all configuration for the contact-sync service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	SendGrid  SendGridConfig  `yaml:"sendgrid"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Reconcile ReconcileConfig `yaml:"reconcile"`

	// Groups maps provider suppression-group ids to the mailing list each
	// group pairs with. Loaded once and validated at startup; an
	// unresolvable group id is a configuration error, not a runtime warning.
	Groups map[domain.GroupID]domain.ListID `yaml:"groups"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection.
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds Redis connection settings for provider rate limiting.
type RedisConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// KafkaConfig holds message-channel settings.
type KafkaConfig struct {
	Brokers            []string `yaml:"brokers"`
	GroupID            string   `yaml:"group_id"`
	SyncTopic          string   `yaml:"sync_topic"`
	DeleteTopic        string   `yaml:"delete_topic"`
	ListRemovalTopic   string   `yaml:"list_removal_topic"`
	NotificationsTopic string   `yaml:"notifications_topic"`
}

// SendGridConfig holds provider contact API configuration.
type SendGridConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`

	// IDBackfillGraceMinutes is how long after contact creation the worker
	// waits before trusting a search-by-email result for id backfill. The
	// provider's search index lags its write path; looking up too early
	// risks associating a stale contact id.
	IDBackfillGraceMinutes int `yaml:"id_backfill_grace_minutes"`
}

// Timeout returns the configured timeout as a duration.
func (c SendGridConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// IDBackfillGrace returns the id-backfill grace window as a duration.
func (c SendGridConfig) IDBackfillGrace() time.Duration {
	return time.Duration(c.IDBackfillGraceMinutes) * time.Minute
}

// WebhookConfig holds inbound event-webhook verification settings.
type WebhookConfig struct {
	// VerificationKey is the provider's published ECDSA public key,
	// base64-encoded as shown in the provider dashboard.
	VerificationKey string `yaml:"verification_key"`
}

// ReconcileConfig holds reconciliation trigger authentication settings.
//
// The trigger endpoint checks the token's claims only; it does not verify
// the signature. Deploy it behind an ingress that validates the scheduler's
// OIDC token (IAP, ESP, an authenticating proxy) and never expose the port
// directly, or any caller could mint a token with the right claims.
type ReconcileConfig struct {
	// Audience is the expected `aud` claim of the scheduler's bearer token.
	Audience string `yaml:"audience"`
	// ServiceAccount is the expected `email` claim (the scheduler's
	// service-account identity). Empty disables the identity check.
	ServiceAccount string `yaml:"service_account"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.SendGrid.BaseURL == "" {
		cfg.SendGrid.BaseURL = "https://api.sendgrid.com/v3"
	}
	if cfg.SendGrid.TimeoutSeconds == 0 {
		cfg.SendGrid.TimeoutSeconds = 30
	}
	if cfg.SendGrid.IDBackfillGraceMinutes == 0 {
		cfg.SendGrid.IDBackfillGraceMinutes = 5
	}
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{"localhost:9092"}
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "contact-sync"
	}
	if cfg.Kafka.SyncTopic == "" {
		cfg.Kafka.SyncTopic = "contacts.sync"
	}
	if cfg.Kafka.DeleteTopic == "" {
		cfg.Kafka.DeleteTopic = "contacts.delete"
	}
	if cfg.Kafka.ListRemovalTopic == "" {
		cfg.Kafka.ListRemovalTopic = "contacts.list-removal"
	}
	if cfg.Kafka.NotificationsTopic == "" {
		cfg.Kafka.NotificationsTopic = "notifications"
	}

	if err := validateGroups(cfg.Groups); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("SENDGRID_API_KEY"); v != "" {
		cfg.SendGrid.APIKey = v
	}
	if v := os.Getenv("SENDGRID_BASE_URL"); v != "" {
		cfg.SendGrid.BaseURL = v
	}
	if v := os.Getenv("SENDGRID_WEBHOOK_KEY"); v != "" {
		cfg.Webhook.VerificationKey = v
	}
	if v := os.Getenv("RECONCILE_AUDIENCE"); v != "" {
		cfg.Reconcile.Audience = v
	}
	if v := os.Getenv("RECONCILE_SERVICE_ACCOUNT"); v != "" {
		cfg.Reconcile.ServiceAccount = v
	}

	return cfg, nil
}

// validateGroups checks the group↔list pairing table at startup. Every group
// must map to a non-empty list id and no two groups may share a list,
// otherwise the ingestor could not keep group suppression state and list
// membership in lockstep.
func validateGroups(groups map[domain.GroupID]domain.ListID) error {
	seen := make(map[domain.ListID]domain.GroupID, len(groups))
	for gid, lid := range groups {
		if lid == "" {
			return fmt.Errorf("config: group %d has no paired list id", gid)
		}
		if prev, dup := seen[lid]; dup {
			return fmt.Errorf("config: groups %d and %d both pair with list %q", prev, gid, lid)
		}
		seen[lid] = gid
	}
	return nil
}

// Pairing is the validated, bidirectional group↔list lookup built from
// Config.Groups.
type Pairing struct {
	listByGroup map[domain.GroupID]domain.ListID
	groupByList map[domain.ListID]domain.GroupID
}

// NewPairing builds a Pairing from a validated group map.
func NewPairing(groups map[domain.GroupID]domain.ListID) (*Pairing, error) {
	if err := validateGroups(groups); err != nil {
		return nil, err
	}
	p := &Pairing{
		listByGroup: make(map[domain.GroupID]domain.ListID, len(groups)),
		groupByList: make(map[domain.ListID]domain.GroupID, len(groups)),
	}
	for gid, lid := range groups {
		p.listByGroup[gid] = lid
		p.groupByList[lid] = gid
	}
	return p, nil
}

// ListFor returns the list paired with the given suppression group.
func (p *Pairing) ListFor(gid domain.GroupID) (domain.ListID, bool) {
	lid, ok := p.listByGroup[gid]
	return lid, ok
}

// GroupFor returns the suppression group paired with the given list.
func (p *Pairing) GroupFor(lid domain.ListID) (domain.GroupID, bool) {
	gid, ok := p.groupByList[lid]
	return gid, ok
}
