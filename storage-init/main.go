package main

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"prism-board/config"
	"prism-board/storage"
)

func main() {
	var cfg config.Init
	if err := config.Parse(&cfg); err != nil {
		log.Fatal(err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")
	ctx := context.Background()

	// Open applies pending migrations.
	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}
	defer store.Close()

	if cfg.StorageConnectionString != "" {
		if err := createQueues(ctx, cfg.StorageConnectionString, cfg.Queues); err != nil {
			log.Fatalf("create queues: %v", err)
		}
	} else if len(cfg.Queues) > 0 {
		log.Warn("QUEUES set without STORAGE_CONNECTION_STRING; skipping queue creation")
	}

	if cfg.SeedFile != "" {
		seed, err := LoadSeed(cfg.SeedFile)
		if err != nil {
			log.Fatalf("seed: %v", err)
		}
		n, err := seed.Apply(ctx, store, log.StandardLogger())
		if err != nil {
			log.Fatalf("seed: %v", err)
		}
		log.WithField("boards", n).Info("seed applied")
	}

	log.Info("storage init complete")
}

func createQueues(ctx context.Context, connStr string, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		_, err = q.Create(ctx, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
				return err
			}
		}
		log.WithField("queue", name).Debug("queue ready")
	}
	return nil
}
