package loader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/nicktill/salesdash/pkg/dataset"
)

// ctxCheckInterval is how many rows are decoded between cancellation checks.
const ctxCheckInterval = 10000

// partition is one decoded source file.
type partition struct {
	path    string
	columns []string // every non-artifact header name, in header order
	known   []dataset.Column
	records []dataset.Record
	digest  uint64 // xxhash of the decompressed bytes
}

// columnSet returns the sorted header names for cross-partition comparison.
func (p *partition) columnSet() []string {
	out := append([]string(nil), p.columns...)
	sort.Strings(out)
	return out
}

// openDecompressed opens path and wraps it in a decompressor chosen by the
// file extension. Unknown extensions are read as plain text.
func openDecompressed(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".gz"), strings.HasSuffix(lower, ".gzip"):
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return &stackedCloser{Reader: zr, closers: []io.Closer{zr, f}}, nil
	case strings.HasSuffix(lower, ".zst"), strings.HasSuffix(lower, ".zstd"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("zstd: %w", err)
		}
		rc := zr.IOReadCloser()
		return &stackedCloser{Reader: rc, closers: []io.Closer{rc, f}}, nil
	default:
		return f, nil
	}
}

// stackedCloser closes a decompressor and its underlying file in order.
type stackedCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedCloser) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// isArtifactColumn reports whether a header is a leftover serialization
// index ("Unnamed: 0" or an empty name).
func isArtifactColumn(name string) bool {
	return name == "" || strings.HasPrefix(name, "Unnamed:")
}

// readPartition decodes one partition into records. Coercion defaults are
// applied per cell; only structural problems become errors.
func readPartition(ctx context.Context, path string, delim rune) (*partition, error) {
	rc, err := openDecompressed(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	defer rc.Close()

	digest := xxhash.New()
	reader := csv.NewReader(io.TeeReader(rc, digest))
	reader.Comma = delim
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty partition: no header row")
		}
		return nil, &LoadError{Path: path, Line: 1, Err: err}
	}

	p := &partition{path: path}
	// index -> column for cells we decode; artifact and unknown columns are skipped
	cellColumns := make([]dataset.Column, len(header))
	decode := make([]bool, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		if isArtifactColumn(name) {
			continue
		}
		if seen[name] {
			return nil, &LoadError{Path: path, Line: 1, Err: fmt.Errorf("%w: %q", ErrDuplicateColumn, name)}
		}
		seen[name] = true
		p.columns = append(p.columns, name)

		col := dataset.Column(name)
		if _, ok := dataset.Lookup(col); ok {
			cellColumns[i] = col
			decode[i] = true
			p.known = append(p.known, col)
		}
	}

	for _, req := range dataset.RequiredColumns() {
		if !seen[string(req)] {
			return nil, &LoadError{Path: path, Line: 1, Err: fmt.Errorf("%w: %s", ErrMissingColumn, req)}
		}
	}

	interner := dataset.NewInterner()
	for line := 2; ; line++ {
		if (line-2)%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, &LoadError{Path: path, Line: line, Err: err}
			}
		}

		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				return nil, &LoadError{Path: path, Line: perr.Line, Err: perr.Err}
			}
			return nil, &LoadError{Path: path, Line: line, Err: err}
		}

		var rec dataset.Record
		for i, cell := range row {
			if !decode[i] {
				continue
			}
			if err := rec.Set(cellColumns[i], cell, interner); err != nil {
				srcLine, _ := reader.FieldPos(i)
				return nil, &LoadError{Path: path, Line: srcLine, Err: err}
			}
		}
		p.records = append(p.records, rec)
	}

	p.digest = digest.Sum64()
	return p, nil
}
