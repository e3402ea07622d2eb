package main

import (
	"context"
	"log"
	"os"

	"github.com/stratumbio/teskit/internal/api"
	"github.com/stratumbio/teskit/internal/backend"
	"github.com/stratumbio/teskit/internal/backend/aks"
	"github.com/stratumbio/teskit/internal/backend/batch"
	"github.com/stratumbio/teskit/internal/config"
	"github.com/stratumbio/teskit/internal/engine"
	"github.com/stratumbio/teskit/internal/provision"
	"github.com/stratumbio/teskit/internal/storage"
	"github.com/stratumbio/teskit/internal/store"
	"github.com/stratumbio/teskit/internal/volume"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("teskit: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"backend", cfg.Backend,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	container := storage.NewClient(cfg.StorageAccountName, cfg.StorageContainer, cfg.StorageAccountKey)
	mapper := volume.NewMapper(cfg.StorageAccountName, cfg.StorageContainer, cfg.StorageAccountKey, 0)

	batchBackend := batch.New(
		batch.Config{
			AccountName:      cfg.BatchAccountName,
			AccountKey:       cfg.BatchAccountKey,
			AccountURL:       cfg.BatchAccountURL,
			PoolOverrideID:   cfg.BatchPoolID,
			DedicatedNodes:   cfg.BatchDedicatedNodes,
			LowPriorityNodes: cfg.BatchLowPriorityNodes,
			FileshareName:    cfg.FileshareName,
		},
		batch.NewClient(cfg.BatchAccountURL, cfg.BatchAccountName, cfg.BatchAccountKey),
		container,
		logger,
	)

	batchBackend.SetProvisioner(batch.NewARMProvisioner(""))

	registry := backend.NewRegistry()
	registry.Register(backend.KindBatch, batchBackend)
	registry.Register(backend.KindAKS, aks.New())

	compute, err := registry.Resolve(cfg.Backend)
	if err != nil {
		log.Fatalf("failed to resolve backend: %v", err)
	}

	eng := engine.NewEngine(db, compute, mapper, container, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reconciler := engine.NewReconciler(eng, cfg.ReconcileInterval, logger)
	go reconciler.Run(ctx)

	orchestrator := provision.NewOrchestrator(db, registry, logger)
	defer orchestrator.Wait()

	srv := api.NewServer(cfg.ListenAddr, eng, orchestrator, cfg.Backend, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
