package dataset

import (
	"encoding/json"
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar date that may be null.
type Date struct {
	Time  time.Time
	Valid bool
}

// NewDate returns a valid date at UTC midnight.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC), Valid: true}
}

func (d Date) String() string {
	if !d.Valid {
		return ""
	}
	return d.Time.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if !d.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(d.Time.Format(dateLayout))
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return fmt.Errorf("dataset: invalid date %q: %w", s, err)
	}
	*d = Date{Time: t, Valid: true}
	return nil
}

// NullFloat is a float that may be null.
type NullFloat struct {
	Value float64
	Valid bool
}

// Float returns a valid NullFloat.
func Float(v float64) NullFloat { return NullFloat{Value: v, Valid: true} }

// Interface returns the value, or nil when null.
func (n NullFloat) Interface() any {
	if !n.Valid {
		return nil
	}
	return n.Value
}

func (n NullFloat) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

func (n *NullFloat) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*n = NullFloat{}
		return nil
	}
	if err := json.Unmarshal(b, &n.Value); err != nil {
		return err
	}
	n.Valid = true
	return nil
}

// NullInt is an integer that may be null.
type NullInt struct {
	Value int
	Valid bool
}

// Int returns a valid NullInt.
func Int(v int) NullInt { return NullInt{Value: v, Valid: true} }

func (n NullInt) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

func (n *NullInt) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*n = NullInt{}
		return nil
	}
	if err := json.Unmarshal(b, &n.Value); err != nil {
		return err
	}
	n.Valid = true
	return nil
}

// Record is one row of the canonical dataset: date x store x product family.
// Empty category strings mean null.
type Record struct {
	Date         Date      `json:"date"`
	StoreNbr     int       `json:"store_nbr"`
	Family       string    `json:"family"`
	Sales        float64   `json:"sales"`
	OnPromotion  int64     `json:"onpromotion"`
	Transactions NullFloat `json:"transactions"`
	HolidayType  string    `json:"holiday_type,omitempty"`
	Locale       string    `json:"locale,omitempty"`
	LocaleName   string    `json:"locale_name,omitempty"`
	Description  string    `json:"description,omitempty"`
	Transferred  string    `json:"transferred,omitempty"`
	City         string    `json:"city,omitempty"`
	State        string    `json:"state,omitempty"`
	StoreType    string    `json:"store_type,omitempty"`
	DayOfWeek    string    `json:"day_of_week,omitempty"`
	Year         NullInt   `json:"year"`
	Month        NullInt   `json:"month"`
	Week         NullInt   `json:"week"`
	Oil          NullFloat `json:"dcoilwtico"`
}

// Dim returns the value of a groupable column as an int or a string.
// ok is false when the value is null or the column is not groupable.
func (r *Record) Dim(c Column) (v any, ok bool) {
	switch c {
	case ColStoreNbr:
		return r.StoreNbr, true
	case ColYear:
		return r.Year.Value, r.Year.Valid
	case ColMonth:
		return r.Month.Value, r.Month.Valid
	case ColWeek:
		return r.Week.Value, r.Week.Valid
	}
	s := r.category(c)
	return s, s != ""
}

// Measure returns the value of a numeric column. ok is false when the value
// is null or the column is not numeric.
func (r *Record) Measure(c Column) (float64, bool) {
	switch c {
	case ColSales:
		return r.Sales, true
	case ColOnPromotion:
		return float64(r.OnPromotion), true
	case ColTransactions:
		return r.Transactions.Value, r.Transactions.Valid
	case ColOil:
		return r.Oil.Value, r.Oil.Valid
	}
	return 0, false
}

func (r *Record) category(c Column) string {
	switch c {
	case ColFamily:
		return r.Family
	case ColHolidayType:
		return r.HolidayType
	case ColLocale:
		return r.Locale
	case ColLocaleName:
		return r.LocaleName
	case ColDescription:
		return r.Description
	case ColTransferred:
		return r.Transferred
	case ColCity:
		return r.City
	case ColState:
		return r.State
	case ColStoreType:
		return r.StoreType
	case ColDayOfWeek:
		return r.DayOfWeek
	}
	return ""
}

// setCategory assigns a categorical column; unknown columns are ignored.
func (r *Record) setCategory(c Column, v string) {
	switch c {
	case ColFamily:
		r.Family = v
	case ColHolidayType:
		r.HolidayType = v
	case ColLocale:
		r.Locale = v
	case ColLocaleName:
		r.LocaleName = v
	case ColDescription:
		r.Description = v
	case ColTransferred:
		r.Transferred = v
	case ColCity:
		r.City = v
	case ColState:
		r.State = v
	case ColStoreType:
		r.StoreType = v
	case ColDayOfWeek:
		r.DayOfWeek = v
	}
}
