// Command stream-service serves board event streams. It accepts no writes:
// every event arrives through the Redis relay, so any number of nodes can run
// behind a load balancer next to the API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"prism-board/api"
	"prism-board/board"
	"prism-board/config"
	"prism-board/storage"
	"prism-board/stream"
)

func main() {
	var cfg config.Stream
	if err := config.Parse(&cfg); err != nil {
		log.Fatal(err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if err := cfg.Auth.Validate(); err != nil {
		log.Fatal(err)
	}
	logger := log.StandardLogger()

	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer store.Close()

	auth, err := api.LoadAuth(cfg.Auth)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	opts, err := config.RedisOptions(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	rc := redis.NewClient(opts)
	defer rc.Close()

	hub := stream.NewHub(cfg.StreamBuffer, logger)
	boards := board.NewService(store, nil, logger)
	boards.UseSnapshots(storage.NewCache(store, rc, cfg.SnapshotTTL, logger))

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, api.HeaderSessionID},
	}))
	api.RegisterStream(e, boards, hub, auth, store, logger, cfg.PingInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stream.Relay(ctx, rc, hub, logger, cfg.RelayRetry)
		return nil
	})
	g.Go(func() error {
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		e.Logger.Fatal(err)
	}
}
