// Package dedup builds the transaction view: one row per (date, store_nbr)
// pair, so store-level measures are not multiplied by the number of product
// families sold that day.
package dedup

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/nicktill/salesdash/pkg/dataset"
)

// Row is one (date, store_nbr) pair of the transaction view.
type Row struct {
	Date         dataset.Date      `json:"date"`
	StoreNbr     int               `json:"store_nbr"`
	State        string            `json:"state,omitempty"`
	Transactions dataset.NullFloat `json:"transactions"`
	Year         dataset.NullInt   `json:"year"`
}

// View is the deduplicated, read-only transaction view.
type View struct {
	rows        []Row
	fingerprint uint64
}

// Len returns the number of pairs.
func (v *View) Len() int { return len(v.rows) }

// At returns pair i in first-occurrence order.
func (v *View) At(i int) *Row { return &v.rows[i] }

// Fingerprint identifies the view; it is derived from the dataset's.
func (v *View) Fingerprint() uint64 { return v.fingerprint }

// IntegrityError reports a pair whose rows disagree on transactions.
type IntegrityError struct {
	Date     dataset.Date
	StoreNbr int
	First    dataset.NullFloat
	Other    dataset.NullFloat
}

func (e *IntegrityError) Error() string {
	date := e.Date.String()
	if date == "" {
		date = "<null>"
	}
	return fmt.Sprintf("dedup: store %d on %s has inconsistent transactions (%v vs %v)",
		e.StoreNbr, date, e.First.Interface(), e.Other.Interface())
}

type options struct {
	strict bool
}

// Option configures Build.
type Option func(*options)

// WithStrict makes Build fail when rows of the same pair disagree on
// transactions instead of silently keeping the first one.
func WithStrict() Option {
	return func(o *options) { o.strict = true }
}

// pairKey groups rows by date and store. All null dates share one key.
type pairKey struct {
	day   int64
	valid bool
	store int
}

func keyOf(r *dataset.Record) pairKey {
	k := pairKey{store: r.StoreNbr, valid: r.Date.Valid}
	if k.valid {
		k.day = r.Date.Time.Unix()
	}
	return k
}

// Build projects ds onto (date, store_nbr, state, transactions, year) and
// keeps the first row of each pair, in dataset order.
func Build(ds *dataset.Dataset, opts ...Option) (*View, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	index := make(map[pairKey]int, ds.Len()/16+1)
	rows := make([]Row, 0, ds.Len()/16+1)
	for i := 0; i < ds.Len(); i++ {
		r := ds.At(i)
		k := keyOf(r)
		if at, ok := index[k]; ok {
			if o.strict && !sameFloat(rows[at].Transactions, r.Transactions) {
				return nil, &IntegrityError{
					Date:     r.Date,
					StoreNbr: r.StoreNbr,
					First:    rows[at].Transactions,
					Other:    r.Transactions,
				}
			}
			continue
		}
		index[k] = len(rows)
		rows = append(rows, Row{
			Date:         r.Date,
			StoreNbr:     r.StoreNbr,
			State:        r.State,
			Transactions: r.Transactions,
			Year:         r.Year,
		})
	}

	return &View{rows: rows, fingerprint: Fingerprint(ds.Fingerprint(), o.strict)}, nil
}

// Fingerprint derives the view fingerprint from a dataset fingerprint.
func Fingerprint(datasetFP uint64, strict bool) uint64 {
	var buf [9]byte
	binary.BigEndian.PutUint64(buf[:8], datasetFP)
	if strict {
		buf[8] = 1
	}
	d := xxhash.New()
	d.WriteString("txview:")
	d.Write(buf[:])
	return d.Sum64()
}

func sameFloat(a, b dataset.NullFloat) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Value == b.Value
}
