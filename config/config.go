// Package config loads the environment settings of every prism-board binary.
package config

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"
)

// Auth selects how bearer tokens are verified.
type Auth struct {
	Domain       string        `env:"AUTH0_DOMAIN"`
	Audience     string        `env:"AUTH0_AUDIENCE"`
	TestMode     bool          `env:"AUTH0_TEST_MODE"`
	TestSecret   string        `env:"TEST_JWT_SECRET"`
	JWKSCacheTTL time.Duration `env:"JWKS_CACHE_TTL" envDefault:"15m"`
}

// Validate checks that either JWKS or shared-secret verification is configured.
func (a Auth) Validate() error {
	if a.TestMode {
		if a.TestSecret == "" {
			return fmt.Errorf("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE is on")
		}
		return nil
	}
	if a.Domain == "" || a.Audience == "" {
		return fmt.Errorf("missing Auth0 config")
	}
	return nil
}

// JWKSURL is the key set location of the configured tenant.
func (a Auth) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", a.Domain)
}

// Issuer is the expected iss claim.
func (a Auth) Issuer() string {
	return "https://" + a.Domain + "/"
}

// API configures the board API server.
type API struct {
	Debug        bool          `env:"DEBUG"`
	ListenAddr   string        `env:"LISTEN_ADDR" envDefault:":8080"`
	DatabasePath string        `env:"DATABASE_PATH" envDefault:"board.db"`
	RedisURL     string        `env:"REDIS_URL"`
	SnapshotTTL  time.Duration `env:"SNAPSHOT_CACHE_TTL" envDefault:"5m"`
	DeduperTTL   time.Duration `env:"DEDUPER_TTL" envDefault:"24h"`
	StreamBuffer int           `env:"STREAM_BUFFER" envDefault:"64"`
	PingInterval time.Duration `env:"SSE_PING_INTERVAL" envDefault:"15s"`
	AllowOrigins []string      `env:"CORS_ALLOW_ORIGINS" envSeparator:"," envDefault:"*"`

	StorageConnectionString string        `env:"STORAGE_CONNECTION_STRING"`
	EventsQueue             string        `env:"DOMAIN_EVENTS_QUEUE"`
	EnqueueWorkers          int           `env:"ENQUEUE_WORKERS" envDefault:"4"`
	EnqueueBuffer           int           `env:"ENQUEUE_BUFFER" envDefault:"1024"`
	EnqueueTimeout          time.Duration `env:"ENQUEUE_TIMEOUT" envDefault:"10s"`

	Auth Auth
}

// Validate checks cross-field constraints.
func (c API) Validate() error {
	if c.DeduperTTL <= 0 {
		return fmt.Errorf("invalid DEDUPER_TTL: must be greater than zero")
	}
	if c.StreamBuffer <= 0 {
		return fmt.Errorf("invalid STREAM_BUFFER: must be greater than zero")
	}
	if (c.StorageConnectionString == "") != (c.EventsQueue == "") {
		return fmt.Errorf("STORAGE_CONNECTION_STRING and DOMAIN_EVENTS_QUEUE must be set together")
	}
	return c.Auth.Validate()
}

// Stream configures the SSE fan-out node.
type Stream struct {
	Debug        bool          `env:"DEBUG"`
	ListenAddr   string        `env:"LISTEN_ADDR" envDefault:":8081"`
	DatabasePath string        `env:"DATABASE_PATH" envDefault:"board.db"`
	RedisURL     string        `env:"REDIS_URL,notEmpty"`
	SnapshotTTL  time.Duration `env:"SNAPSHOT_CACHE_TTL" envDefault:"5m"`
	StreamBuffer int           `env:"STREAM_BUFFER" envDefault:"64"`
	PingInterval time.Duration `env:"SSE_PING_INTERVAL" envDefault:"15s"`
	RelayRetry   time.Duration `env:"RELAY_RETRY" envDefault:"2s"`
	AllowOrigins []string      `env:"CORS_ALLOW_ORIGINS" envSeparator:"," envDefault:"*"`

	Auth Auth
}

// Init configures the one-shot storage initializer.
type Init struct {
	Debug                   bool     `env:"DEBUG"`
	DatabasePath            string   `env:"DATABASE_PATH" envDefault:"board.db"`
	StorageConnectionString string   `env:"STORAGE_CONNECTION_STRING"`
	Queues                  []string `env:"QUEUES" envSeparator:","`
	SeedFile                string   `env:"SEED_FILE"`
}

// Parse loads target from the environment.
func Parse(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// RedisOptions accepts a redis:// URL or an Azure style
// "host:port,password=...,ssl=True" connection string.
func RedisOptions(raw string) (*redis.Options, error) {
	if raw == "" {
		return nil, fmt.Errorf("missing redis config")
	}
	if opts, err := redis.ParseURL(raw); err == nil {
		return opts, nil
	}
	parts := strings.Split(raw, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	if opts.Addr == "" {
		return nil, fmt.Errorf("invalid redis connection string")
	}
	return opts, nil
}
