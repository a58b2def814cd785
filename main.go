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
	"prism-board/automation"
	"prism-board/board"
	"prism-board/config"
	"prism-board/domain"
	"prism-board/move"
	"prism-board/storage"
	"prism-board/stream"
)

func main() {
	var cfg config.API
	if err := config.Parse(&cfg); err != nil {
		log.Fatal(err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if err := cfg.Validate(); err != nil {
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

	hub := stream.NewHub(cfg.StreamBuffer, logger)

	var rc *redis.Client
	if cfg.RedisURL != "" {
		opts, err := config.RedisOptions(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		rc = redis.NewClient(opts)
		defer rc.Close()
	}

	cache := storage.NewCache(store, rc, cfg.SnapshotTTL, logger)
	publishers := []domain.Publisher{cache}
	if rc != nil {
		// the relay feeds the local hub from Redis, including our own events
		publishers = append(publishers, stream.NewRedisBus(rc, logger))
	} else {
		publishers = append(publishers, hub)
	}
	var sink *storage.QueueSink
	if cfg.EventsQueue != "" {
		sink, err = storage.NewQueueSink(cfg.StorageConnectionString, cfg.EventsQueue, storage.QueueOptions{
			Workers: cfg.EnqueueWorkers,
			Buffer:  cfg.EnqueueBuffer,
			Timeout: cfg.EnqueueTimeout,
		}, logger)
		if err != nil {
			log.Fatalf("queue: %v", err)
		}
		publishers = append(publishers, sink)
	}
	publisher := stream.NewFanout(publishers...)

	coord := move.NewCoordinator(store, publisher, logger)
	coord.UseAutomation(automation.NewEngine(store, coord, publisher, logger))
	boards := board.NewService(store, publisher, logger)
	boards.UseSnapshots(cache)

	deps := api.Deps{
		Boards:       boards,
		Moves:        coord,
		Hub:          hub,
		Auth:         auth,
		Health:       store,
		Logger:       logger,
		PingInterval: cfg.PingInterval,
	}
	if rc != nil {
		deps.Deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization,
			api.HeaderSessionID, api.HeaderIdempotencyKey},
	}))
	api.Register(e, deps)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	if rc != nil {
		g.Go(func() error {
			stream.Relay(ctx, rc, hub, logger, time.Second)
			return nil
		})
	}
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
	err = g.Wait()
	if sink != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if cerr := sink.Close(drainCtx); cerr != nil {
			logger.WithError(cerr).Warn("event queue drain incomplete")
		}
		cancel()
	}
	if err != nil {
		e.Logger.Fatal(err)
	}
}
