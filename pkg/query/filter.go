package query

import (
	"fmt"
	"slices"
	"strings"

	"github.com/nicktill/salesdash/pkg/dataset"
	"github.com/nicktill/salesdash/pkg/dedup"
)

// PredicateOp names a row predicate.
type PredicateOp string

const (
	OpStoreEq       PredicateOp = "store_eq"
	OpStateEq       PredicateOp = "state_eq"
	OpOnPromotion   PredicateOp = "onpromotion"
	OpPositiveSales PredicateOp = "positive_sales"
	OpHasOil        PredicateOp = "has_oil"
)

// Predicate is one row condition.
type Predicate struct {
	Op    PredicateOp `json:"op"`
	Store int         `json:"store_nbr,omitempty"`
	State string      `json:"state,omitempty"`
}

// StoreEq keeps rows of one store.
func StoreEq(n int) Predicate { return Predicate{Op: OpStoreEq, Store: n} }

// StateEq keeps rows of one state.
func StateEq(s string) Predicate { return Predicate{Op: OpStateEq, State: s} }

// OnPromotion keeps rows with onpromotion > 0.
func OnPromotion() Predicate { return Predicate{Op: OpOnPromotion} }

// PositiveSales keeps rows with sales > 0.
func PositiveSales() Predicate { return Predicate{Op: OpPositiveSales} }

// HasOil drops rows whose dcoilwtico is null.
func HasOil() Predicate { return Predicate{Op: OpHasOil} }

func (p Predicate) String() string {
	switch p.Op {
	case OpStoreEq:
		return fmt.Sprintf("store_nbr=%d", p.Store)
	case OpStateEq:
		return fmt.Sprintf("state=%q", p.State)
	case OpOnPromotion:
		return "onpromotion>0"
	case OpPositiveSales:
		return "sales>0"
	case OpHasOil:
		return "dcoilwtico!=null"
	}
	return fmt.Sprintf("?%s", p.Op)
}

func (p Predicate) matchRecord(r *dataset.Record) bool {
	switch p.Op {
	case OpStoreEq:
		return r.StoreNbr == p.Store
	case OpStateEq:
		return r.State != "" && r.State == p.State
	case OpOnPromotion:
		return r.OnPromotion > 0
	case OpPositiveSales:
		return r.Sales > 0
	case OpHasOil:
		return r.Oil.Valid
	}
	return false
}

func (p Predicate) matchRow(r *dedup.Row) bool {
	switch p.Op {
	case OpStoreEq:
		return r.StoreNbr == p.Store
	case OpStateEq:
		return r.State != "" && r.State == p.State
	}
	return false
}

// Filter is a conjunction of predicates. The empty filter keeps every row.
type Filter []Predicate

// Where builds a filter from predicates.
func Where(ps ...Predicate) Filter {
	return Filter(ps)
}

// And returns a new filter with ps appended.
func (f Filter) And(ps ...Predicate) Filter {
	out := make(Filter, 0, len(f)+len(ps))
	out = append(out, f...)
	return append(out, ps...)
}

// String is the canonical form: predicates sorted and deduplicated, so
// equivalent filters share cache entries.
func (f Filter) String() string {
	if len(f) == 0 {
		return "all"
	}
	parts := make([]string, len(f))
	for i, p := range f {
		parts[i] = p.String()
	}
	slices.Sort(parts)
	return strings.Join(slices.Compact(parts), " and ")
}

// Validate rejects unknown predicates.
func (f Filter) Validate() error {
	for _, p := range f {
		switch p.Op {
		case OpStoreEq, OpStateEq, OpOnPromotion, OpPositiveSales, OpHasOil:
		default:
			return &QueryError{Op: "filter", Field: string(p.Op), Reason: "unknown predicate"}
		}
	}
	return nil
}

func (f Filter) matchRecord(r *dataset.Record) bool {
	for _, p := range f {
		if !p.matchRecord(r) {
			return false
		}
	}
	return true
}

func (f Filter) matchRow(r *dedup.Row) bool {
	for _, p := range f {
		if !p.matchRow(r) {
			return false
		}
	}
	return true
}

// viewOnly rejects predicates the transaction view cannot evaluate.
func (f Filter) viewOnly() error {
	for _, p := range f {
		if p.Op != OpStoreEq && p.Op != OpStateEq {
			return &QueryError{Op: "filter", Field: string(p.Op), Reason: "not available on the transaction view"}
		}
	}
	return nil
}
