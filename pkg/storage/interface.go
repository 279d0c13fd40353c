// Package storage persists decoded datasets so a restart against unchanged
// partitions can skip decompression and parsing.
package storage

import (
	"context"
	"time"

	"github.com/nicktill/salesdash/pkg/dataset"
)

// Snapshots defines the interface for dataset snapshot backends.
// Implementations: memory (testing), badger (production)
type Snapshots interface {
	// Get returns the dataset stored under stamp. ok is false on a miss.
	Get(ctx context.Context, stamp uint64) (ds *dataset.Dataset, ok bool, err error)

	// Put stores ds under stamp, replacing any previous snapshot
	Put(ctx context.Context, stamp uint64, ds *dataset.Dataset) error

	// Close cleanly shuts down the backend
	Close() error

	// Stats returns backend statistics
	Stats(ctx context.Context) (*Stats, error)
}

// Header is the metadata stored alongside each snapshot's rows.
type Header struct {
	Stamp       uint64                  `json:"stamp"`
	Fingerprint uint64                  `json:"fingerprint"`
	Columns     []dataset.Column        `json:"columns"`
	Partitions  []dataset.PartitionInfo `json:"partitions"`
	Rows        int                     `json:"rows"`
	Chunks      int                     `json:"chunks"`
	WrittenAt   time.Time               `json:"written_at"`
}

// HeaderOf describes ds for storage under stamp.
func HeaderOf(stamp uint64, ds *dataset.Dataset, chunks int) Header {
	return Header{
		Stamp:       stamp,
		Fingerprint: ds.Fingerprint(),
		Columns:     ds.Columns(),
		Partitions:  ds.Partitions(),
		Rows:        ds.Len(),
		Chunks:      chunks,
		WrittenAt:   time.Now().UTC(),
	}
}

// Restore rebuilds a dataset from a header and its rows.
func (h Header) Restore(records []dataset.Record) *dataset.Dataset {
	return dataset.New(records, h.Columns, h.Partitions, h.Fingerprint)
}

// Stats provides backend health and usage info
type Stats struct {
	// Snapshots currently stored
	Snapshots int `json:"snapshots"`

	// Rows across all snapshots
	Rows int `json:"rows"`

	// Storage size in bytes (0 when unknown)
	SizeBytes uint64 `json:"size_bytes"`

	// Most recent write
	LastWrite time.Time `json:"last_write"`
}
