package dataset

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	d := ParseDate("2016-08-15")
	require.True(t, d.Valid)
	assert.Equal(t, "2016-08-15", d.String())

	d = ParseDate("2016-08-15 00:00:00")
	require.True(t, d.Valid)
	assert.Equal(t, time.August, d.Time.Month())

	assert.False(t, ParseDate("not-a-date").Valid)
	assert.False(t, ParseDate("").Valid)
}

func TestParseSales(t *testing.T) {
	assert.Equal(t, 12.5, ParseSales("12.5"))
	assert.Equal(t, 0.0, ParseSales("abc"))
	assert.Equal(t, 0.0, ParseSales(""))
	assert.Equal(t, 0.0, ParseSales("-3"))
	assert.Equal(t, 0.0, ParseSales("NaN"))
}

func TestParseCount(t *testing.T) {
	assert.EqualValues(t, 0, ParseCount("abc"))
	assert.EqualValues(t, 3, ParseCount("3"))
	assert.EqualValues(t, 3, ParseCount("3.0"))
	assert.EqualValues(t, 0, ParseCount("-1"))
	assert.EqualValues(t, 0, ParseCount(""))
}

func TestParseNullFloatAndInt(t *testing.T) {
	assert.Equal(t, Float(93.14), ParseNullFloat(" 93.14 "))
	assert.False(t, ParseNullFloat("n/a").Valid)

	assert.Equal(t, Int(2014), ParseNullInt("2014.0"))
	assert.False(t, ParseNullInt("2014.5").Valid)
	assert.False(t, ParseNullInt("").Valid)
}

func TestRecordSet(t *testing.T) {
	in := NewInterner()
	var r Record

	require.NoError(t, r.Set(ColStoreNbr, "44", in))
	require.NoError(t, r.Set(ColOnPromotion, "abc", in))
	require.NoError(t, r.Set(ColFamily, " GROCERY I ", in))
	require.NoError(t, r.Set(ColTransactions, "", in))

	assert.Equal(t, 44, r.StoreNbr)
	assert.EqualValues(t, 0, r.OnPromotion)
	assert.Equal(t, "GROCERY I", r.Family)
	assert.False(t, r.Transactions.Valid)

	err := r.Set(ColStoreNbr, "x", in)
	require.ErrorIs(t, err, ErrInvalidStore)
}

func TestInterner(t *testing.T) {
	in := NewInterner()
	a := in.Intern("Pichincha")
	b := in.Intern(string([]byte("Pichincha")))
	assert.Equal(t, a, b)
	assert.Equal(t, 1, in.Len())
	assert.Equal(t, "", in.Intern(""))
}

func TestBackfillCalendar_RecomputesWholeColumn(t *testing.T) {
	records := []Record{
		{Date: NewDate(2015, time.January, 1), Year: Int(1999), Month: Int(1), Week: Int(1)},
		{Date: NewDate(2015, time.March, 9), Year: NullInt{}, Month: Int(3), Week: Int(11)},
	}

	got := BackfillCalendar(records, map[Column]bool{ColYear: true, ColMonth: true, ColWeek: true})

	// year had a null, so the whole column is rebuilt including the bogus 1999
	assert.Equal(t, []Column{ColYear}, got)
	assert.Equal(t, Int(2015), records[0].Year)
	assert.Equal(t, Int(2015), records[1].Year)
	assert.Equal(t, Int(3), records[1].Month)
}

func TestBackfillCalendar_AbsentColumnsAndNullDate(t *testing.T) {
	records := []Record{
		{Date: NewDate(2016, time.January, 1)},
		{Date: Date{}},
	}

	got := BackfillCalendar(records, map[Column]bool{})

	assert.Equal(t, CalendarColumns, got)
	assert.Equal(t, Int(2016), records[0].Year)
	assert.Equal(t, Int(1), records[0].Month)
	assert.Equal(t, Int(53), records[0].Week) // ISO week of 2016-01-01
	assert.False(t, records[1].Year.Valid)
	assert.False(t, records[1].Month.Valid)
	assert.False(t, records[1].Week.Valid)
}

func TestRecordJSONRoundTrip(t *testing.T) {
	in := Record{
		Date:         NewDate(2017, time.June, 30),
		StoreNbr:     3,
		Family:       "BEVERAGES",
		Sales:        10,
		Transactions: Float(2000),
		Year:         Int(2017),
		Oil:          NullFloat{},
	}
	b, err := json.Marshal(in)
	require.NoError(t, err)

	var out Record
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in, out)
}

func TestRecordDimAndMeasure(t *testing.T) {
	r := Record{StoreNbr: 7, State: "Guayas", Year: Int(2014), Oil: NullFloat{}}

	v, ok := r.Dim(ColStoreNbr)
	assert.True(t, ok)
	assert.Equal(t, 7, v)

	v, ok = r.Dim(ColState)
	assert.True(t, ok)
	assert.Equal(t, "Guayas", v)

	_, ok = r.Dim(ColCity)
	assert.False(t, ok)

	_, ok = r.Measure(ColOil)
	assert.False(t, ok)

	s, ok := r.Measure(ColSales)
	assert.True(t, ok)
	assert.Equal(t, 0.0, s)
}
