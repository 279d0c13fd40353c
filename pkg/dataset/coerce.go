package dataset

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidStore is returned when a required store_nbr cell is not an integer.
var ErrInvalidStore = errors.New("store_nbr is not an integer")

var dateLayouts = []string{
	dateLayout,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006/01/02",
	"01/02/2006",
}

// ParseDate parses a calendar date. Failures yield a null date.
func ParseDate(raw string) Date {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Date{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.Date()
			return NewDate(y, m, d)
		}
	}
	return Date{}
}

// parseFinite parses a float and rejects NaN and infinities.
func parseFinite(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// ParseSales coerces a sales cell: unparseable, missing or negative -> 0.
func ParseSales(raw string) float64 {
	v, ok := parseFinite(raw)
	if !ok || v < 0 {
		return 0
	}
	return v
}

// ParseCount coerces an onpromotion cell: unparseable, missing or negative -> 0.
// Fractional values are truncated.
func ParseCount(raw string) int64 {
	v, ok := parseFinite(raw)
	if !ok || v < 0 || v > math.MaxInt64 {
		return 0
	}
	return int64(v)
}

// ParseNullFloat coerces a nullable numeric cell; failures stay null.
func ParseNullFloat(raw string) NullFloat {
	v, ok := parseFinite(raw)
	if !ok {
		return NullFloat{}
	}
	return Float(v)
}

// ParseNullInt coerces a nullable integer cell. "2014.0" is accepted;
// "2014.5" is not.
func ParseNullInt(raw string) NullInt {
	v, ok := parseFinite(raw)
	if !ok || v != math.Trunc(v) || math.Abs(v) > math.MaxInt32 {
		return NullInt{}
	}
	return Int(int(v))
}

// ParseStore parses the required store identifier.
func ParseStore(raw string) (int, error) {
	n := ParseNullInt(raw)
	if !n.Valid {
		return 0, fmt.Errorf("%w: %q", ErrInvalidStore, raw)
	}
	return n.Value, nil
}

// Interner deduplicates categorical strings so repeated values share storage.
// Equality and grouping semantics are unaffected.
type Interner struct {
	m map[string]string
}

// NewInterner creates an empty interner.
func NewInterner() *Interner {
	return &Interner{m: make(map[string]string)}
}

// Intern returns the canonical copy of s.
func (in *Interner) Intern(s string) string {
	if s == "" {
		return ""
	}
	if v, ok := in.m[s]; ok {
		return v
	}
	in.m[s] = s
	return s
}

// Len returns the number of distinct strings seen.
func (in *Interner) Len() int { return len(in.m) }

// Set assigns a raw cell to the column it belongs to, applying the coercion
// policy of that column. Only an unparseable store_nbr is an error; every
// other failure resolves to the column's default or null.
func (r *Record) Set(c Column, raw string, in *Interner) error {
	switch c {
	case ColDate:
		r.Date = ParseDate(raw)
	case ColStoreNbr:
		n, err := ParseStore(raw)
		if err != nil {
			return err
		}
		r.StoreNbr = n
	case ColSales:
		r.Sales = ParseSales(raw)
	case ColOnPromotion:
		r.OnPromotion = ParseCount(raw)
	case ColTransactions:
		r.Transactions = ParseNullFloat(raw)
	case ColOil:
		r.Oil = ParseNullFloat(raw)
	case ColYear:
		r.Year = ParseNullInt(raw)
	case ColMonth:
		r.Month = ParseNullInt(raw)
	case ColWeek:
		r.Week = ParseNullInt(raw)
	default:
		r.setCategory(c, in.Intern(strings.TrimSpace(raw)))
	}
	return nil
}

// calendarValue returns the parsed value of a calendar column.
func (r *Record) calendarValue(c Column) NullInt {
	switch c {
	case ColYear:
		return r.Year
	case ColMonth:
		return r.Month
	default:
		return r.Week
	}
}

// deriveCalendar recomputes one calendar column from the date.
func (r *Record) deriveCalendar(c Column) {
	var v NullInt
	if r.Date.Valid {
		switch c {
		case ColYear:
			v = Int(r.Date.Time.Year())
		case ColMonth:
			v = Int(int(r.Date.Time.Month()))
		case ColWeek:
			_, w := r.Date.Time.ISOWeek()
			v = Int(w)
		}
	}
	switch c {
	case ColYear:
		r.Year = v
	case ColMonth:
		r.Month = v
	case ColWeek:
		r.Week = v
	}
}

// BackfillCalendar recomputes year, month and week from date for every row,
// one column at a time, whenever that column was absent from the source or
// holds any null. Columns that are complete are left untouched. It returns
// the columns that were recomputed.
func BackfillCalendar(records []Record, present map[Column]bool) []Column {
	var recomputed []Column
	for _, c := range CalendarColumns {
		need := !present[c]
		if !need {
			for i := range records {
				if !records[i].calendarValue(c).Valid {
					need = true
					break
				}
			}
		}
		if !need {
			continue
		}
		for i := range records {
			records[i].deriveCalendar(c)
		}
		recomputed = append(recomputed, c)
	}
	return recomputed
}
