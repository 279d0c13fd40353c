package query

import (
	"context"
	"slices"

	"github.com/nicktill/salesdash/pkg/dataset"
	"github.com/nicktill/salesdash/pkg/dedup"
)

// ctxCheckInterval is how many rows are scanned between cancellation checks.
const ctxCheckInterval = 1 << 16

// source is a read-only table the executor can scan.
type source interface {
	Len() int
	match(i int, f Filter) bool
	dim(i int, c dataset.Column) (any, bool)
	measure(i int, c dataset.Column) (float64, bool)
}

type datasetSource struct{ ds *dataset.Dataset }

func (s datasetSource) Len() int { return s.ds.Len() }
func (s datasetSource) match(i int, f Filter) bool { return f.matchRecord(s.ds.At(i)) }
func (s datasetSource) dim(i int, c dataset.Column) (any, bool) {
	return s.ds.At(i).Dim(c)
}
func (s datasetSource) measure(i int, c dataset.Column) (float64, bool) {
	return s.ds.At(i).Measure(c)
}

// viewSource exposes the transaction view: store_nbr, state and year as
// keys, transactions as the only measure.
type viewSource struct{ v *dedup.View }

func (s viewSource) Len() int { return s.v.Len() }
func (s viewSource) match(i int, f Filter) bool { return f.matchRow(s.v.At(i)) }

func (s viewSource) dim(i int, c dataset.Column) (any, bool) {
	r := s.v.At(i)
	switch c {
	case dataset.ColStoreNbr:
		return r.StoreNbr, true
	case dataset.ColState:
		return r.State, r.State != ""
	case dataset.ColYear:
		return r.Year.Value, r.Year.Valid
	}
	return nil, false
}

func (s viewSource) measure(i int, c dataset.Column) (float64, bool) {
	if c != dataset.ColTransactions {
		return 0, false
	}
	t := s.v.At(i).Transactions
	return t.Value, t.Valid
}

// aggregate is one output measure of a plan.
type aggregate struct {
	name     string
	measure  dataset.Column
	agg      Agg
	minCount int
}

// plan is the executable form of a Spec. Several aggregates may share one
// grouping; sorting by value uses the first.
type plan struct {
	filter Filter
	keys   []dataset.Column
	aggs   []aggregate
	order  Order
	limit  int
}

func planOf(s Spec) plan {
	return plan{
		filter: s.Filter,
		keys:   s.GroupBy,
		aggs:   []aggregate{{name: string(s.Measure), measure: s.Measure, agg: s.Agg, minCount: s.MinCount}},
		order:  s.Order,
		limit:  s.Limit,
	}
}

type groupKey [2]any

type group struct {
	key    groupKey
	sums   []float64
	counts []int
}

// Execute runs a validated spec against a dataset. It is pure: the same
// dataset and spec always produce the same table.
func Execute(ctx context.Context, ds *dataset.Dataset, s Spec) (*Table, error) {
	s = s.Normalize()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return execute(ctx, datasetSource{ds}, planOf(s))
}

func execute(ctx context.Context, src source, p plan) (*Table, error) {
	var order []*group
	index := make(map[groupKey]*group)

rows:
	for i := 0; i < src.Len(); i++ {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if !src.match(i, p.filter) {
			continue
		}

		var k groupKey
		for j, c := range p.keys {
			v, ok := src.dim(i, c)
			if !ok {
				continue rows
			}
			k[j] = v
		}

		g, ok := index[k]
		if !ok {
			g = &group{key: k, sums: make([]float64, len(p.aggs)), counts: make([]int, len(p.aggs))}
			index[k] = g
			order = append(order, g)
		}
		for j, a := range p.aggs {
			if v, ok := src.measure(i, a.measure); ok {
				g.sums[j] += v
				g.counts[j]++
			}
		}
	}

	out := &Table{Columns: make([]string, 0, len(p.keys)+len(p.aggs)), Rows: make([][]any, 0, len(order))}
	for _, c := range p.keys {
		out.Columns = append(out.Columns, string(c))
	}
	for _, a := range p.aggs {
		out.Columns = append(out.Columns, a.name)
	}

	for _, g := range order {
		row := make([]any, 0, len(out.Columns))
		for j := range p.keys {
			row = append(row, g.key[j])
		}
		for j, a := range p.aggs {
			row = append(row, finish(a, g.sums[j], g.counts[j]))
		}
		out.Rows = append(out.Rows, row)
	}

	sortRows(out.Rows, p)
	if p.limit > 0 && len(out.Rows) > p.limit {
		out.Rows = out.Rows[:p.limit]
	}
	return out, nil
}

// finish turns accumulated values into the aggregate cell.
func finish(a aggregate, sum float64, n int) any {
	switch a.agg {
	case AggMean:
		if n == 0 {
			return nil
		}
		return sum / float64(n)
	default:
		if n < a.minCount {
			return nil
		}
		return sum
	}
}

// sortRows orders rows in place. Rows arrive in first-seen order and the
// sort is stable, so ties keep that order.
func sortRows(rows [][]any, p plan) {
	valueCol := len(p.keys)
	switch p.order {
	case OrderValueDesc, OrderValueAsc:
		desc := p.order == OrderValueDesc
		slices.SortStableFunc(rows, func(a, b []any) int {
			return compareValue(a[valueCol], b[valueCol], desc)
		})
	case OrderNatural:
		slices.SortStableFunc(rows, func(a, b []any) int {
			for j, c := range p.keys {
				if r := compareDim(c, a[j], b[j]); r != 0 {
					return r
				}
			}
			return 0
		})
	}
}
