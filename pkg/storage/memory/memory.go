package memory

import (
	"context"
	"sync"
	"time"

	"github.com/nicktill/salesdash/pkg/dataset"
	"github.com/nicktill/salesdash/pkg/storage"
)

// Storage keeps snapshots in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	mu        sync.RWMutex
	snapshots map[uint64]*dataset.Dataset
	lastWrite time.Time
}

// New creates an in-memory snapshot backend
func New() *Storage {
	return &Storage{snapshots: make(map[uint64]*dataset.Dataset)}
}

// Get returns the snapshot stored under stamp
func (s *Storage) Get(ctx context.Context, stamp uint64) (*dataset.Dataset, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ds, ok := s.snapshots[stamp]
	return ds, ok, nil
}

// Put stores ds under stamp. Datasets are immutable, so the pointer is kept
// as is.
func (s *Storage) Put(ctx context.Context, stamp uint64, ds *dataset.Dataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[stamp] = ds
	s.lastWrite = time.Now().UTC()
	return nil
}

// Close releases all snapshots
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots = make(map[uint64]*dataset.Dataset)
	return nil
}

// Stats returns snapshot counts
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{Snapshots: len(s.snapshots), LastWrite: s.lastWrite}
	for _, ds := range s.snapshots {
		stats.Rows += ds.Len()
	}
	return stats, nil
}

var _ storage.Snapshots = (*Storage)(nil)
