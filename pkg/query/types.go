package query

import (
	"fmt"
	"strings"

	"github.com/nicktill/salesdash/pkg/dataset"
)

// Agg selects the aggregation applied to a measure.
type Agg string

const (
	AggSum  Agg = "sum"
	AggMean Agg = "mean"
)

// Order selects how result rows are sorted.
type Order string

const (
	OrderValueDesc Order = "value_desc" // aggregate descending (default)
	OrderValueAsc  Order = "value_asc"  // aggregate ascending
	OrderNatural   Order = "natural"    // by group key: integers ascending, weekdays Monday first, text lexically
	OrderFirstSeen Order = "first_seen" // group keys in order of first appearance
)

// Spec describes one grouped aggregation.
type Spec struct {
	Filter   Filter           `json:"filter,omitempty"`
	GroupBy  []dataset.Column `json:"group_by"`
	Measure  dataset.Column   `json:"measure"`
	Agg      Agg              `json:"agg"`
	Order    Order            `json:"order,omitempty"`
	Limit    int              `json:"limit,omitempty"`     // 0 keeps every group
	MinCount int              `json:"min_count,omitempty"` // sums over fewer non-null values are null
}

// Normalize fills defaults.
func (s Spec) Normalize() Spec {
	if s.Order == "" {
		s.Order = OrderValueDesc
	}
	if s.Agg == "" {
		s.Agg = AggSum
	}
	return s
}

// Validate reports the first problem with s as a *QueryError.
func (s Spec) Validate() error {
	const op = "validate"
	if len(s.GroupBy) == 0 || len(s.GroupBy) > 2 {
		return &QueryError{Op: op, Field: "group_by", Reason: fmt.Sprintf("need 1 or 2 group keys, got %d", len(s.GroupBy))}
	}
	for i, c := range s.GroupBy {
		if err := checkGroupable(op, c); err != nil {
			return err
		}
		if i == 1 && c == s.GroupBy[0] {
			return &QueryError{Op: op, Field: "group_by", Reason: fmt.Sprintf("%s listed twice", c)}
		}
	}
	if err := checkMeasure(op, s.Measure); err != nil {
		return err
	}
	switch s.Agg {
	case AggSum, AggMean:
	default:
		return &QueryError{Op: op, Field: "agg", Reason: fmt.Sprintf("unknown aggregation %q", s.Agg)}
	}
	switch s.Order {
	case OrderValueDesc, OrderValueAsc, OrderNatural, OrderFirstSeen:
	default:
		return &QueryError{Op: op, Field: "order", Reason: fmt.Sprintf("unknown order %q", s.Order)}
	}
	if s.Limit < 0 {
		return &QueryError{Op: op, Field: "limit", Reason: fmt.Sprintf("must not be negative, got %d", s.Limit)}
	}
	if s.MinCount < 0 {
		return &QueryError{Op: op, Field: "min_count", Reason: fmt.Sprintf("must not be negative, got %d", s.MinCount)}
	}
	return s.Filter.Validate()
}

// String is the canonical form of s, used as its cache identity.
func (s Spec) String() string {
	keys := make([]string, len(s.GroupBy))
	for i, c := range s.GroupBy {
		keys[i] = string(c)
	}
	return fmt.Sprintf("run where %s by (%s) %s(%s) order %s limit %d min %d",
		s.Filter, strings.Join(keys, ","), s.Agg, s.Measure, s.Order, s.Limit, s.MinCount)
}

func checkGroupable(op string, c dataset.Column) error {
	f, ok := dataset.Lookup(c)
	if !ok {
		return &QueryError{Op: op, Field: string(c), Reason: "unknown column"}
	}
	if !f.Groupable() {
		return &QueryError{Op: op, Field: string(c), Reason: "not a group key"}
	}
	return nil
}

func checkMeasure(op string, c dataset.Column) error {
	f, ok := dataset.Lookup(c)
	if !ok {
		return &QueryError{Op: op, Field: string(c), Reason: "unknown column"}
	}
	if !f.Numeric() {
		return &QueryError{Op: op, Field: string(c), Reason: "not a numeric measure"}
	}
	return nil
}

// Table is a small ordered result. Cells are int, string, float64 or nil.
type Table struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// QueryError reports an invalid operation. No partial result accompanies it.
type QueryError struct {
	Op     string
	Field  string
	Reason string
}

func (e *QueryError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("query %s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("query %s: %s: %s", e.Op, e.Field, e.Reason)
}
