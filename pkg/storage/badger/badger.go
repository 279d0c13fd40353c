package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/nicktill/salesdash/pkg/dataset"
	"github.com/nicktill/salesdash/pkg/storage"
)

const (
	prefixHeader byte = 'h'
	prefixRows   byte = 'r'

	// rowsPerChunk keeps a single value under badger's 1MB value threshold,
	// which in-memory mode enforces as a hard limit.
	rowsPerChunk = 1000

	// minMemTableSize keeps the default value threshold within badger's
	// batch size limit (15% of the memtable).
	minMemTableSize = 8 << 20
)

// Storage implements storage.Snapshots using BadgerDB (LSM tree).
// Only the newest snapshot is kept.
type Storage struct {
	db *badger.DB
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = laptop-friendly default)
	MaxMemoryMB int64
}

// New creates a BadgerDB snapshot backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = max(cfg.MaxMemoryMB*1024*1024/3, minMemTableSize)
	}

	// Badger has several unbounded memory consumers; cap each of them.
	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(memTableSize / 2).
		WithIndexCacheSize(memTableSize / 4).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithNumCompactors(2). // badger rejects exactly one
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Storage{db: db}, nil
}

// Get reads the snapshot stored under stamp.
// Enforces context cancellation while the read transaction runs.
func (s *Storage) Get(ctx context.Context, stamp uint64) (*dataset.Dataset, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	type getResult struct {
		ds  *dataset.Dataset
		ok  bool
		err error
	}
	done := make(chan getResult, 1)

	go func() {
		var res getResult
		res.err = s.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get(headerKey(stamp))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			if err != nil {
				return err
			}

			var h storage.Header
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &h)
			}); err != nil {
				return fmt.Errorf("failed to decode snapshot header: %w", err)
			}

			records := make([]dataset.Record, 0, h.Rows)
			for i := 0; i < h.Chunks; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				item, err := txn.Get(rowsKey(stamp, uint32(i)))
				if err != nil {
					return fmt.Errorf("snapshot chunk %d: %w", i, err)
				}
				var chunk []dataset.Record
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &chunk)
				}); err != nil {
					return fmt.Errorf("failed to decode snapshot chunk %d: %w", i, err)
				}
				records = append(records, chunk...)
			}
			if len(records) != h.Rows {
				return fmt.Errorf("snapshot has %d rows, header says %d", len(records), h.Rows)
			}

			res.ds = h.Restore(records)
			res.ok = true
			return nil
		})
		done <- res
	}()

	select {
	case res := <-done:
		return res.ds, res.ok, res.err
	case <-ctx.Done():
		return nil, false, fmt.Errorf("snapshot read cancelled: %w", ctx.Err())
	}
}

// Put replaces every stored snapshot with ds. Rows are written in chunks
// through a WriteBatch so large datasets do not exceed transaction limits;
// the header goes last, so a partial write is never visible to Get.
func (s *Storage) Put(ctx context.Context, stamp uint64, ds *dataset.Dataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.put(ctx, stamp, ds)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("snapshot write cancelled: %w", ctx.Err())
	}
}

func (s *Storage) put(ctx context.Context, stamp uint64, ds *dataset.Dataset) error {
	if err := s.db.DropPrefix([]byte{prefixHeader}, []byte{prefixRows}); err != nil {
		return fmt.Errorf("failed to drop old snapshots: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	chunks := 0
	chunk := make([]dataset.Record, 0, rowsPerChunk)
	flush := func() error {
		val, err := json.Marshal(chunk)
		if err != nil {
			return fmt.Errorf("failed to encode snapshot chunk: %w", err)
		}
		if err := wb.Set(rowsKey(stamp, uint32(chunks)), val); err != nil {
			return err
		}
		chunks++
		chunk = chunk[:0]
		return nil
	}

	for i := 0; i < ds.Len(); i++ {
		chunk = append(chunk, *ds.At(i))
		if len(chunk) == rowsPerChunk {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if len(chunk) > 0 {
		if err := flush(); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to write snapshot rows: %w", err)
	}

	header, err := json.Marshal(storage.HeaderOf(stamp, ds, chunks))
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(headerKey(stamp), header)
	})
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection.
// discardRatio: run GC if this fraction of a file can be discarded (0.5 = 50%)
// Returns nil when no rewrite was needed.
func (s *Storage) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// Stats returns snapshot counts and on-disk size
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats := &storage.Stats{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{prefixHeader}

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var h storage.Header
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &h)
			}); err != nil {
				return err
			}
			stats.Snapshots++
			stats.Rows += h.Rows
			if h.WrittenAt.After(stats.LastWrite) {
				stats.LastWrite = h.WrittenAt
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	lsmSize, vlogSize := s.db.Size()
	stats.SizeBytes = uint64(lsmSize + vlogSize)
	return stats, nil
}

// headerKey: [prefix (1 byte)][stamp (8 bytes)]
func headerKey(stamp uint64) []byte {
	key := make([]byte, 9)
	key[0] = prefixHeader
	binary.BigEndian.PutUint64(key[1:9], stamp)
	return key
}

// rowsKey: [prefix (1 byte)][stamp (8 bytes)][chunk (4 bytes)]
func rowsKey(stamp uint64, chunk uint32) []byte {
	key := make([]byte, 13)
	key[0] = prefixRows
	binary.BigEndian.PutUint64(key[1:9], stamp)
	binary.BigEndian.PutUint32(key[9:13], chunk)
	return key
}

var _ storage.Snapshots = (*Storage)(nil)
