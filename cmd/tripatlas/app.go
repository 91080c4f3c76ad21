package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/avolkovs/tripatlas/internal/api"
	"github.com/avolkovs/tripatlas/internal/config"
	"github.com/avolkovs/tripatlas/internal/download"
	"github.com/avolkovs/tripatlas/internal/logging"
	"github.com/avolkovs/tripatlas/internal/quota"
	"github.com/avolkovs/tripatlas/internal/reconcile"
	"github.com/avolkovs/tripatlas/internal/storage"
	"github.com/avolkovs/tripatlas/internal/storage/checkpoints"
	"github.com/avolkovs/tripatlas/internal/storage/entities"
	"github.com/avolkovs/tripatlas/internal/storage/mutations"
	"github.com/avolkovs/tripatlas/internal/storage/tiles"
	"github.com/avolkovs/tripatlas/internal/syncqueue"

	tripstore "github.com/avolkovs/tripatlas/internal/storage/trips"
)

// app wires the client together: config, local replica, quota ledger seeded
// from stored tiles, download engine, and sync queue.
type app struct {
	cfg    *config.Config
	log    logging.Logger
	db     *sql.DB
	client api.Client

	trips       tripstore.Repository
	tiles       tiles.Repository
	checkpoints checkpoints.Repository
	entities    entities.Repository
	mutations   mutations.Repository

	ledger *quota.Ledger
	engine *download.Engine
	queue  *syncqueue.Queue
	worker *syncqueue.Worker
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	db, err := storage.Open(ctx, cfg.DatabasePath())
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:         cfg,
		log:         log,
		db:          db,
		client:      api.NewHTTPClient(cfg.ServerEndpointAddr, cfg.AuthToken, log),
		trips:       tripstore.NewSQLiteRepository(db),
		tiles:       tiles.NewSQLiteRepository(db),
		checkpoints: checkpoints.NewSQLiteRepository(db),
		entities:    entities.NewSQLiteRepository(db),
		mutations:   mutations.NewSQLiteRepository(db),
	}

	refs, err := a.tiles.ListRefs(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("seeding quota ledger: %w", err)
	}
	a.ledger = quota.NewLedger(cfg.CacheMaxBytes)
	a.ledger.Seed(refs)

	a.engine = download.NewEngine(a.client, a.trips, a.entities, a.tiles, a.checkpoints, a.ledger, cfg, log)

	rec := reconcile.NewReconciler(a.entities, log)
	a.queue = syncqueue.NewQueue(a.client, a.entities, a.mutations, rec, log)
	a.worker = syncqueue.NewWorker(a.queue, a.client, cfg.SyncInterval, cfg.OnlineCheckInterval, log)

	return a, nil
}

func (a *app) close() {
	a.engine.Close()
	_ = a.db.Close()
}
