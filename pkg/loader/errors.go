package loader

import (
	"errors"
	"fmt"
)

var (
	// ErrNoPartitions is returned when the loader has nothing to read.
	ErrNoPartitions = errors.New("no partitions configured")

	// ErrMissingColumn is returned when a partition lacks a required column.
	ErrMissingColumn = errors.New("missing required column")

	// ErrDuplicateColumn is returned when a header names a column twice.
	ErrDuplicateColumn = errors.New("duplicate column")

	// ErrSchemaMismatch is returned when partitions carry different columns.
	ErrSchemaMismatch = errors.New("schema mismatch across partitions")
)

// LoadError reports a failure to build the canonical dataset. Any LoadError
// is fatal: no partial dataset is ever returned alongside it.
type LoadError struct {
	Path string // partition path, empty for loader-level failures
	Line int    // 1-based source line, 0 when not applicable
	Err  error
}

func (e *LoadError) Error() string {
	switch {
	case e.Path == "":
		return fmt.Sprintf("load: %v", e.Err)
	case e.Line > 0:
		return fmt.Sprintf("load %s:%d: %v", e.Path, e.Line, e.Err)
	default:
		return fmt.Sprintf("load %s: %v", e.Path, e.Err)
	}
}

func (e *LoadError) Unwrap() error { return e.Err }
