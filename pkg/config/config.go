// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

// Config holds all application configuration.
type Config struct {
	APIBaseURL string        `env:"DIWANE_API_BASE_URL" envDefault:"http://localhost:3000"`
	CacheTTL   time.Duration `env:"DIWANE_CACHE_TTL" envDefault:"5m"`
	BatchDelay time.Duration `env:"DIWANE_BATCH_DELAY" envDefault:"100ms"`
	PageSize   int           `env:"DIWANE_PAGE_SIZE" envDefault:"10"`
	HTTPPort   string        `env:"DIWANE_HTTP_PORT" envDefault:":8080"`
	LogLevel   string        `env:"DIWANE_LOG_LEVEL" envDefault:"info"`
	SessionKey string        `env:"DIWANE_SESSION_KEY" envDefault:"default"`

	Redis     RedisConfig     `envPrefix:"DIWANE_REDIS_"`
	Firestore FirestoreConfig `envPrefix:"DIWANE_FIRESTORE_"`
	PubSub    PubSubConfig    `envPrefix:"DIWANE_PUBSUB_"`
}

// RedisConfig is optional; an empty Addr keeps the cache and session in memory.
type RedisConfig struct {
	Addr      string `env:"ADDR"`
	Password  string `env:"PASSWORD"`
	DB        int    `env:"DB" envDefault:"0"`
	KeyPrefix string `env:"KEY_PREFIX" envDefault:"diwane:"`
}

// FirestoreConfig is optional; it takes precedence over Redis for sessions.
type FirestoreConfig struct {
	ProjectID  string `env:"PROJECT_ID"`
	Collection string `env:"COLLECTION" envDefault:"sessions"`
}

// PubSubConfig enables the realtime relay when project and topic are set.
// SubscriptionID additionally follows changes relayed by other instances.
type PubSubConfig struct {
	ProjectID      string `env:"PROJECT_ID"`
	TopicID        string `env:"TOPIC_ID"`
	SubscriptionID string `env:"SUBSCRIPTION_ID"`
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that env parsing alone cannot.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("DIWANE_API_BASE_URL must be an absolute URL, got %q", c.APIBaseURL)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("DIWANE_CACHE_TTL must be positive, got %s", c.CacheTTL)
	}
	if c.BatchDelay <= 0 {
		return fmt.Errorf("DIWANE_BATCH_DELAY must be positive, got %s", c.BatchDelay)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid DIWANE_LOG_LEVEL: %w", err)
	}
	return nil
}

// HasRedis reports whether a Redis address is configured.
func (c *Config) HasRedis() bool {
	return c.Redis.Addr != ""
}

// HasFirestore reports whether Firestore sessions are configured.
func (c *Config) HasFirestore() bool {
	return c.Firestore.ProjectID != ""
}

// HasPubSub reports whether the realtime relay is configured.
func (c *Config) HasPubSub() bool {
	return c.PubSub.ProjectID != "" && c.PubSub.TopicID != ""
}

// HasFollower reports whether relayed changes from other instances are followed.
func (c *Config) HasFollower() bool {
	return c.HasPubSub() && c.PubSub.SubscriptionID != ""
}
