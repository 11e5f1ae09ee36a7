package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yairfalse/surface/analyzer"
	"github.com/yairfalse/surface/internal/config"
	"github.com/yairfalse/surface/inventory"
	"github.com/yairfalse/surface/orchestrator"
	"github.com/yairfalse/surface/storage"
	"github.com/yairfalse/surface/storage/pgstore"
	"github.com/yairfalse/surface/storage/sqlstore"
	"github.com/yairfalse/surface/wal"
)

// openStore opens the backend selected by the storage config
func openStore(ctx context.Context, sc config.StorageConfig) (storage.DocumentStore, error) {
	switch sc.Driver {
	case config.DriverMemory:
		return storage.NewMemoryStore(), nil
	case config.DriverBolt:
		if err := os.MkdirAll(sc.Path, 0755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		return storage.NewBoltStore(sc.Path)
	case config.DriverSQLite:
		if dir := filepath.Dir(sc.Path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
		}
		return sqlstore.Open(sc.Path)
	case config.DriverPostgres:
		return pgstore.Open(ctx, sc.DSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", sc.Driver)
	}
}

// journalDir is where scan journals live; empty when there is no data path
func journalDir(c *config.Config) string {
	if c.Storage.Path == "" {
		return ""
	}
	if c.Storage.Driver == config.DriverSQLite {
		return filepath.Join(filepath.Dir(c.Storage.Path), "journal")
	}
	return filepath.Join(c.Storage.Path, "journal")
}

// app bundles the services a command works with
type app struct {
	store     storage.DocumentStore
	inventory *inventory.Service
	summaries *analyzer.Aggregator
	journal   *wal.WAL
}

// newApp opens the configured store. withJournal also opens the scan journal.
func newApp(ctx context.Context, c *config.Config, withJournal bool) (*app, error) {
	if c.Storage.Driver == config.DriverMemory {
		logger.Warn().Msg("memory storage keeps nothing after this command exits")
	}

	store, err := openStore(ctx, c.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	a := &app{
		store:     store,
		inventory: inventory.NewService(store, inventory.Options{Logger: logger}),
		summaries: analyzer.NewAggregator(store),
	}

	if dir := journalDir(c); withJournal && dir != "" {
		a.journal, err = wal.Open(dir, wal.DefaultConfig())
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("open journal: %w", err)
		}
	}
	return a, nil
}

// orchestrator builds a scan orchestrator over the app store
func (a *app) orchestrator(opts orchestrator.Options) *orchestrator.Orchestrator {
	opts.Exclusive = cfg.Scanner.Exclusive
	if opts.Logger == nil {
		opts.Logger = logger
	}
	if a.journal != nil {
		opts.Journal = a.journal
	}
	return orchestrator.NewOrchestrator(a.store, opts)
}

func (a *app) Close() error {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			logger.Warn().Err(err).Msg("close journal")
		}
	}
	return a.store.Close()
}
