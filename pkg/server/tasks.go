package server

import (
	"context"
	"sync"
	"time"

	"github.com/nicktill/salesdash/pkg/cache"
	"github.com/nicktill/salesdash/pkg/config"
	"github.com/nicktill/salesdash/pkg/logger"
	"github.com/nicktill/salesdash/pkg/server/monitor"
	"github.com/nicktill/salesdash/pkg/storage"
	"github.com/nicktill/salesdash/pkg/storage/badger"
)

const (
	warmupRetries   = 3
	warmupBaseDelay = 5 * time.Second
	gcInterval      = 10 * time.Minute
)

// Warmup builds the dataset before the first request needs it. A failed
// load is not cached, so after the retries are spent the next query simply
// tries again.
func Warmup(ctx context.Context, c *Components) {
	for attempt := 0; attempt <= warmupRetries; attempt++ {
		if attempt > 0 {
			delay := warmupBaseDelay * time.Duration(1<<(attempt-1)) // 5s, 10s, 20s
			c.Log.Info("retrying dataset load", "in", delay, "attempt", attempt+1, "of", warmupRetries+1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}

		ds, err := c.Engine.Dataset(ctx)
		if err == nil {
			c.Log.Info("dataset warm", "rows", ds.Len())
			return
		}
		if ctx.Err() != nil {
			return
		}
		c.Log.Error("dataset load failed", "attempt", attempt+1, "of", warmupRetries+1, "error", err)
	}
	c.Log.Warn("dataset load failed after retries, queries will keep retrying on demand")
}

// StatusUpdate is the message pushed to dashboard clients.
type StatusUpdate struct {
	Type      string             `json:"type"`
	Timestamp int64              `json:"timestamp"`
	Load      monitor.LoadStatus `json:"load"`
	Cache     cache.Stats        `json:"cache"`
	Snapshots *storage.Stats     `json:"snapshots,omitempty"`
}

// collectStatus gathers one StatusUpdate.
func collectStatus(ctx context.Context, c *Components) (StatusUpdate, error) {
	update := StatusUpdate{
		Type:      "status",
		Timestamp: time.Now().Unix(),
		Load:      c.Load.Status(),
		Cache:     c.Cache.Stats(),
	}
	if c.Snapshots != nil {
		stats, err := c.Snapshots.Stats(ctx)
		if err != nil {
			return update, err
		}
		update.Snapshots = stats
	}
	return update, nil
}

// BroadcastStatus periodically pushes load and cache status to WebSocket
// clients. Uses exponential backoff on errors to prevent log spam.
func BroadcastStatus(ctx context.Context, c *Components) {
	ticker := time.NewTicker(config.BroadcastInterval)
	defer ticker.Stop()

	var consecutiveErrors int
	var lastErrorTime time.Time
	const maxBackoff = 5 * time.Minute

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.Hub.HasClients() {
				continue
			}

			update, err := collectStatus(ctx, c)
			if err != nil {
				consecutiveErrors++
				now := time.Now()

				// 1s, 2s, 4s ... capped at maxBackoff
				backoff := time.Duration(1<<uint(min(consecutiveErrors-1, 8))) * time.Second
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				if lastErrorTime.IsZero() || now.Sub(lastErrorTime) >= backoff {
					c.Log.Warn("failed to collect status for broadcast",
						"errors", consecutiveErrors, "backoff", backoff, "error", err)
					lastErrorTime = now
				}
				// load and cache status are still worth sending
			} else if consecutiveErrors > 0 {
				c.Log.Info("status broadcast recovered", "after_errors", consecutiveErrors)
				consecutiveErrors = 0
			}

			if err := c.Hub.Broadcast(update); err != nil {
				c.Log.Warn("failed to broadcast status", "error", err)
			}
		}
	}
}

// RunSnapshotGC runs BadgerDB value log GC periodically. Replacing a
// snapshot leaves the old rows in the value log until GC reclaims them.
func RunSnapshotGC(ctx context.Context, snaps storage.Snapshots, log *logger.Logger, wg *sync.WaitGroup) {
	defer wg.Done()

	store, ok := snaps.(*badger.Storage)
	if !ok {
		log.Debug("snapshot store is not BadgerDB, skipping GC")
		return
	}

	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	log.Info("BadgerDB GC scheduler started", "interval", gcInterval)

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			if err := store.RunGC(0.5); err != nil {
				log.Warn("BadgerDB GC failed", "error", err)
				continue
			}
			log.Debug("BadgerDB GC completed", "elapsed", time.Since(start).Round(time.Millisecond))
		case <-ctx.Done():
			log.Debug("stopping BadgerDB GC scheduler")
			return
		}
	}
}
