package server

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/nicktill/salesdash/pkg/cache"
	"github.com/nicktill/salesdash/pkg/config"
	"github.com/nicktill/salesdash/pkg/dataset"
	"github.com/nicktill/salesdash/pkg/export"
	"github.com/nicktill/salesdash/pkg/live"
	"github.com/nicktill/salesdash/pkg/loader"
	"github.com/nicktill/salesdash/pkg/logger"
	"github.com/nicktill/salesdash/pkg/query"
	"github.com/nicktill/salesdash/pkg/server/monitor"
	"github.com/nicktill/salesdash/pkg/storage"
	"github.com/nicktill/salesdash/pkg/storage/badger"
)

// Components holds everything the HTTP layer and background tasks need.
type Components struct {
	Settings config.Settings

	Snapshots storage.Snapshots // nil when snapshots are disabled
	Cache     *cache.Cache
	Engine    *query.Engine

	Query  *query.Handler
	Export *export.Handler
	Hub    *live.Hub

	Load *monitor.LoadMonitor
	Disk *monitor.DiskMonitor // nil when snapshots are disabled

	Log *logger.Logger
}

// Close releases the cache and the snapshot store.
func (c *Components) Close() error {
	c.Cache.Close()
	if c.Snapshots != nil {
		return c.Snapshots.Close()
	}
	return nil
}

// InitializeSnapshots opens the BadgerDB snapshot store when a snapshot
// directory is configured. It returns nil, nil when snapshots are disabled.
func InitializeSnapshots(s config.Settings, log *logger.Logger) (storage.Snapshots, error) {
	log = logger.OrNop(log)
	if s.SnapshotDir == "" {
		log.Info("dataset snapshots disabled")
		return nil, nil
	}
	if err := os.MkdirAll(s.SnapshotDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	store, err := badger.New(badger.Config{Path: s.SnapshotDir})
	if err != nil {
		return nil, err
	}
	log.Info("BadgerDB snapshot store opened", "dir", s.SnapshotDir)
	return store, nil
}

// Initialize wires the loader, cache, engine and handlers together.
func Initialize(s config.Settings, snaps storage.Snapshots, log *logger.Logger) (*Components, error) {
	log = logger.OrNop(log)

	loaderOpts := []loader.Option{
		loader.WithDelimiter(s.DelimiterRune()),
		loader.WithLogger(log.With("component", "loader")),
	}
	if snaps != nil {
		loaderOpts = append(loaderOpts, loader.WithSnapshots(snaps))
	}
	ld := loader.New(s.Partitions, loaderOpts...)

	c, err := cache.New(
		cache.WithMaxEntries(s.CacheMaxEntries),
		cache.WithLogger(log.With("component", "cache")),
	)
	if err != nil {
		return nil, err
	}

	loadMonitor := &monitor.LoadMonitor{}
	var engineOpts []query.Option
	engineOpts = append(engineOpts, query.WithLogger(log.With("component", "engine")))
	if s.StrictTransactions {
		engineOpts = append(engineOpts, query.WithStrictTransactions())
	}
	engine := query.NewEngine(c, &monitoredSource{src: ld, monitor: loadMonitor}, engineOpts...)

	comp := &Components{
		Settings:  s,
		Snapshots: snaps,
		Cache:     c,
		Engine:    engine,
		Query:     query.NewHandler(engine, log.With("component", "query")),
		Export:    export.NewHandler(engine, log.With("component", "export")),
		Hub:       live.NewHub(log.With("component", "live")),
		Load:      loadMonitor,
		Log:       log,
	}
	if snaps != nil {
		comp.Disk = monitor.NewDiskMonitor(s.SnapshotDir)
	}

	log.Info("engine ready",
		"partitions", len(s.Partitions),
		"cache_max_entries", s.CacheMaxEntries,
		"strict_transactions", s.StrictTransactions,
	)
	return comp, nil
}

// monitoredSource records every load attempt. The cache guarantees it runs
// at most once at a time.
type monitoredSource struct {
	src     query.Source
	monitor *monitor.LoadMonitor
}

func (m *monitoredSource) Load(ctx context.Context) (*dataset.Dataset, error) {
	start := time.Now()
	ds, err := m.src.Load(ctx)
	if err != nil {
		m.monitor.RecordFailure(err)
		return nil, err
	}
	m.monitor.RecordSuccess(ds.Len(), ds.Fingerprint(), time.Since(start))
	return ds, nil
}
