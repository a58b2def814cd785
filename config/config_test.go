package config

import (
	"strings"
	"testing"
	"time"
)

func TestParseAPIDefaults(t *testing.T) {
	t.Setenv("AUTH0_TEST_MODE", "true")
	t.Setenv("TEST_JWT_SECRET", "secret")
	var cfg API
	if err := Parse(&cfg); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.DeduperTTL != 24*time.Hour || cfg.StreamBuffer != 64 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if len(cfg.AllowOrigins) != 1 || cfg.AllowOrigins[0] != "*" {
		t.Fatalf("unexpected origins: %v", cfg.AllowOrigins)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestAPIValidate(t *testing.T) {
	cfg := API{DeduperTTL: time.Hour, StreamBuffer: 1}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "Auth0") {
		t.Fatalf("expected missing auth error, got %v", err)
	}
	cfg.Auth = Auth{TestMode: true}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing secret error")
	}
	cfg.Auth.TestSecret = "s"
	cfg.EventsQueue = "events"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected queue without connection string to fail")
	}
}

func TestParseError(t *testing.T) {
	t.Setenv("DEDUPER_TTL", "soon")
	var cfg API
	err := Parse(&cfg)
	if err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env error, got %v", err)
	}
}

func TestStreamRequiresRedis(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	var cfg Stream
	if err := Parse(&cfg); err == nil {
		t.Fatal("expected REDIS_URL to be required")
	}
}

func TestAuthURLs(t *testing.T) {
	a := Auth{Domain: "tenant.example.com"}
	if a.JWKSURL() != "https://tenant.example.com/.well-known/jwks.json" {
		t.Fatalf("unexpected jwks url: %s", a.JWKSURL())
	}
	if a.Issuer() != "https://tenant.example.com/" {
		t.Fatalf("unexpected issuer: %s", a.Issuer())
	}
}

func TestRedisOptions(t *testing.T) {
	opts, err := RedisOptions("redis://:pw@localhost:6380/2")
	if err != nil {
		t.Fatalf("url: %v", err)
	}
	if opts.Addr != "localhost:6380" || opts.Password != "pw" || opts.DB != 2 {
		t.Fatalf("unexpected url options: %+v", opts)
	}

	opts, err = RedisOptions("cache.example.net:6380,password=secret,ssl=True,abortConnect=False")
	if err != nil {
		t.Fatalf("azure: %v", err)
	}
	if opts.Addr != "cache.example.net:6380" || opts.Password != "secret" || opts.TLSConfig == nil {
		t.Fatalf("unexpected azure options: %+v", opts)
	}

	if _, err := RedisOptions(""); err == nil {
		t.Fatal("expected error for empty config")
	}
}
