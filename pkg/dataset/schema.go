// Package dataset defines the canonical sales table: its typed schema, the
// row type, value coercion, and the immutable Dataset handle shared by every
// query once loading finishes.
package dataset

// Column names a field of the sales table as it appears in partition headers.
type Column string

const (
	ColDate         Column = "date"
	ColStoreNbr     Column = "store_nbr"
	ColFamily       Column = "family"
	ColSales        Column = "sales"
	ColOnPromotion  Column = "onpromotion"
	ColTransactions Column = "transactions"
	ColHolidayType  Column = "holiday_type"
	ColLocale       Column = "locale"
	ColLocaleName   Column = "locale_name"
	ColDescription  Column = "description"
	ColTransferred  Column = "transferred"
	ColCity         Column = "city"
	ColState        Column = "state"
	ColStoreType    Column = "store_type"
	ColDayOfWeek    Column = "day_of_week"
	ColYear         Column = "year"
	ColMonth        Column = "month"
	ColWeek         Column = "week"
	ColOil          Column = "dcoilwtico"

	// ColYearMonth is synthetic; it only appears in query results.
	ColYearMonth Column = "year_month"
)

// Kind is the storage type of a column after normalization.
type Kind int

const (
	KindDate     Kind = iota // calendar date, nullable
	KindInt                  // integer identifier or calendar field
	KindCategory             // low-cardinality text, interned
	KindFloat                // numeric measure
	KindCount                // non-negative integer measure
)

// Field describes one column of the schema.
type Field struct {
	Column   Column
	Kind     Kind
	Required bool // must be present in every partition header
	Nullable bool
}

// Groupable reports whether the field can be used as a group key.
func (f Field) Groupable() bool {
	return f.Kind == KindInt || f.Kind == KindCategory
}

// Numeric reports whether the field can be aggregated as a measure.
func (f Field) Numeric() bool {
	return f.Kind == KindFloat || f.Kind == KindCount
}

// Schema lists every known column in canonical order.
var Schema = []Field{
	{Column: ColDate, Kind: KindDate, Required: true, Nullable: true},
	{Column: ColStoreNbr, Kind: KindInt, Required: true},
	{Column: ColFamily, Kind: KindCategory, Required: true},
	{Column: ColSales, Kind: KindFloat, Required: true},
	{Column: ColOnPromotion, Kind: KindCount, Required: true},
	{Column: ColTransactions, Kind: KindFloat, Required: true, Nullable: true},
	{Column: ColHolidayType, Kind: KindCategory, Nullable: true},
	{Column: ColLocale, Kind: KindCategory, Nullable: true},
	{Column: ColLocaleName, Kind: KindCategory, Nullable: true},
	{Column: ColDescription, Kind: KindCategory, Nullable: true},
	{Column: ColTransferred, Kind: KindCategory, Nullable: true},
	{Column: ColCity, Kind: KindCategory, Nullable: true},
	{Column: ColState, Kind: KindCategory, Nullable: true},
	{Column: ColStoreType, Kind: KindCategory, Nullable: true},
	{Column: ColDayOfWeek, Kind: KindCategory, Nullable: true},
	{Column: ColYear, Kind: KindInt, Nullable: true},
	{Column: ColMonth, Kind: KindInt, Nullable: true},
	{Column: ColWeek, Kind: KindInt, Nullable: true},
	{Column: ColOil, Kind: KindFloat, Nullable: true},
}

var schemaIndex = func() map[Column]Field {
	m := make(map[Column]Field, len(Schema))
	for _, f := range Schema {
		m[f.Column] = f
	}
	return m
}()

// Lookup returns the schema field for a column.
func Lookup(c Column) (Field, bool) {
	f, ok := schemaIndex[c]
	return f, ok
}

// RequiredColumns returns the columns every partition must carry.
func RequiredColumns() []Column {
	var out []Column
	for _, f := range Schema {
		if f.Required {
			out = append(out, f.Column)
		}
	}
	return out
}

// CalendarColumns are backfilled from date when absent or incomplete.
var CalendarColumns = []Column{ColYear, ColMonth, ColWeek}
