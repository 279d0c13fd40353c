package query

import (
	"context"
	"fmt"
	"slices"

	"github.com/nicktill/salesdash/pkg/cache"
	"github.com/nicktill/salesdash/pkg/dataset"
	"github.com/nicktill/salesdash/pkg/dedup"
	"github.com/nicktill/salesdash/pkg/logger"
)

// Source produces the canonical dataset. *loader.Loader satisfies it.
type Source interface {
	Load(ctx context.Context) (*dataset.Dataset, error)
}

// Engine answers the query catalogue. Every result, including the dataset
// and the transaction view, is resolved through the cache, so a failed load
// fails every query and nothing is computed twice.
type Engine struct {
	cache  *cache.Cache
	source Source
	strict bool
	log    *logger.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithStrictTransactions makes the transaction view fail on pairs whose
// rows disagree on transactions.
func WithStrictTransactions() Option {
	return func(e *Engine) { e.strict = true }
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// NewEngine creates an engine over src, memoizing through c.
func NewEngine(c *cache.Cache, src Source, opts ...Option) *Engine {
	e := &Engine{cache: c, source: src}
	for _, opt := range opts {
		opt(e)
	}
	e.log = logger.OrNop(e.log)
	return e
}

// datasetKey has a fixed input: the canonical dataset is loaded once per
// process.
var datasetKey = cache.Key{Transform: "dataset"}

// Dataset returns the canonical dataset, loading it on first use.
func (e *Engine) Dataset(ctx context.Context) (*dataset.Dataset, error) {
	return cache.Get(ctx, e.cache, datasetKey, e.source.Load)
}

// TxView returns the transaction view, building it on first use.
func (e *Engine) TxView(ctx context.Context) (*dedup.View, error) {
	ds, err := e.Dataset(ctx)
	if err != nil {
		return nil, err
	}
	var opts []dedup.Option
	transform := "txview"
	if e.strict {
		opts = append(opts, dedup.WithStrict())
		transform = "txview strict"
	}
	key := cache.Key{Transform: transform, Input: ds.Fingerprint()}
	return cache.Get(ctx, e.cache, key, func(context.Context) (*dedup.View, error) {
		v, err := dedup.Build(ds, opts...)
		if err != nil {
			return nil, err
		}
		e.log.Info("transaction view built", "pairs", v.Len(), "rows", ds.Len())
		return v, nil
	})
}

// table memoizes fn over the dataset under transform.
func (e *Engine) table(ctx context.Context, transform string, fn func(context.Context, *dataset.Dataset) (*Table, error)) (*Table, error) {
	return memo(ctx, e, transform, fn)
}

// Run executes a generic grouped aggregation.
func (e *Engine) Run(ctx context.Context, s Spec) (*Table, error) {
	s = s.Normalize()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return e.table(ctx, s.String(), func(ctx context.Context, ds *dataset.Dataset) (*Table, error) {
		return execute(ctx, datasetSource{ds}, planOf(s))
	})
}

// TopBySum ranks groups of key by the sum of measure, descending, keeping
// the first n.
func (e *Engine) TopBySum(ctx context.Context, f Filter, key, measure dataset.Column, n int) (*Table, error) {
	if n < 1 {
		return nil, &QueryError{Op: "top", Field: "n", Reason: fmt.Sprintf("must be at least 1, got %d", n)}
	}
	return e.Run(ctx, Spec{Filter: f, GroupBy: []dataset.Column{key}, Measure: measure, Agg: AggSum, Order: OrderValueDesc, Limit: n})
}

// MeanBy averages measure per group of key, highest first. Rows carrying
// coerced defaults count toward the mean.
func (e *Engine) MeanBy(ctx context.Context, f Filter, key, measure dataset.Column) (*Table, error) {
	return e.Run(ctx, Spec{Filter: f, GroupBy: []dataset.Column{key}, Measure: measure, Agg: AggMean, Order: OrderValueDesc})
}

// Buckets are the columns TimeBucket accepts.
var Buckets = []dataset.Column{dataset.ColDayOfWeek, dataset.ColWeek, dataset.ColMonth, dataset.ColYear}

// TimeBucket aggregates measure per calendar bucket across all years, in
// the bucket's natural order.
func (e *Engine) TimeBucket(ctx context.Context, f Filter, bucket, measure dataset.Column, agg Agg) (*Table, error) {
	if !slices.Contains(Buckets, bucket) {
		return nil, &QueryError{Op: "bucket", Field: string(bucket), Reason: "not a time bucket"}
	}
	return e.Run(ctx, Spec{Filter: f, GroupBy: []dataset.Column{bucket}, Measure: measure, Agg: agg, Order: OrderNatural})
}

// Leaders picks, for each entity, the group of within with the highest sum
// of measure. With n > 0 the leaders are re-ranked by that sum and the
// first n kept; with n == 0 they are listed in entity order.
func (e *Engine) Leaders(ctx context.Context, f Filter, entity, within, measure dataset.Column, n int) (*Table, error) {
	if err := validateLeaders(f, entity, within, measure, n); err != nil {
		return nil, err
	}
	transform := fmt.Sprintf("leaders where %s entity %s within %s sum(%s) n %d", f, entity, within, measure, n)
	return e.table(ctx, transform, func(ctx context.Context, ds *dataset.Dataset) (*Table, error) {
		return leaders(ctx, datasetSource{ds}, f, entity, within, measure, n)
	})
}

func validateLeaders(f Filter, entity, within, measure dataset.Column, n int) error {
	const op = "leaders"
	if err := checkGroupable(op, entity); err != nil {
		return err
	}
	if err := checkGroupable(op, within); err != nil {
		return err
	}
	if entity == within {
		return &QueryError{Op: op, Field: string(within), Reason: "must differ from the entity key"}
	}
	if err := checkMeasure(op, measure); err != nil {
		return err
	}
	if n < 0 {
		return &QueryError{Op: op, Field: "n", Reason: fmt.Sprintf("must not be negative, got %d", n)}
	}
	return f.Validate()
}

func leaders(ctx context.Context, src source, f Filter, entity, within, measure dataset.Column, n int) (*Table, error) {
	sums, err := execute(ctx, src, plan{
		filter: f,
		keys:   []dataset.Column{entity, within},
		aggs:   []aggregate{{name: string(measure), measure: measure, agg: AggSum}},
		order:  OrderFirstSeen,
	})
	if err != nil {
		return nil, err
	}

	best := make(map[any]int)
	var rows [][]any
	for _, row := range sums.Rows {
		at, ok := best[row[0]]
		if !ok {
			best[row[0]] = len(rows)
			rows = append(rows, row)
			continue
		}
		if compareValue(row[2], rows[at][2], true) < 0 {
			rows[at] = row
		}
	}

	if n > 0 {
		slices.SortStableFunc(rows, func(a, b []any) int { return compareValue(a[2], b[2], true) })
		if len(rows) > n {
			rows = rows[:n]
		}
	} else {
		slices.SortStableFunc(rows, func(a, b []any) int { return compareDim(entity, a[0], b[0]) })
	}
	sums.Rows = rows
	return sums, nil
}

// MonthlyDriver relates the oil price to sales per (year, month): rows with
// a null dcoilwtico are dropped, then the mean price and total sales are
// computed per month, with a YYYY-MM label column.
func (e *Engine) MonthlyDriver(ctx context.Context, f Filter) (*Table, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	transform := fmt.Sprintf("monthly-driver where %s", f)
	return e.table(ctx, transform, func(ctx context.Context, ds *dataset.Dataset) (*Table, error) {
		return monthlyDriver(ctx, datasetSource{ds}, f)
	})
}

func monthlyDriver(ctx context.Context, src source, f Filter) (*Table, error) {
	t, err := execute(ctx, src, plan{
		filter: f.And(HasOil()),
		keys:   []dataset.Column{dataset.ColYear, dataset.ColMonth},
		aggs: []aggregate{
			{name: "avg_oil", measure: dataset.ColOil, agg: AggMean},
			{name: "total_sales", measure: dataset.ColSales, agg: AggSum},
		},
		order: OrderNatural,
	})
	if err != nil {
		return nil, err
	}

	t.Columns = slices.Insert(t.Columns, 2, string(dataset.ColYearMonth))
	for i, row := range t.Rows {
		label := fmt.Sprintf("%04d-%02d", row[0].(int), row[1].(int))
		t.Rows[i] = slices.Insert(row, 2, any(label))
	}
	return t, nil
}
