package query

import (
	"context"
	"fmt"
	"slices"

	"github.com/nicktill/salesdash/pkg/cache"
	"github.com/nicktill/salesdash/pkg/dataset"
)

// Overview counts the distinct values that headline the dashboard.
type Overview struct {
	Rows     int `json:"rows"`
	Stores   int `json:"stores"`
	Families int `json:"families"`
	States   int `json:"states"`
	Months   int `json:"months"` // distinct (year, month) pairs
}

// StoreSummary describes one store.
type StoreSummary struct {
	Store                int     `json:"store_nbr"`
	FamiliesSold         int     `json:"families_sold"`          // families with sales > 0
	PromotedFamiliesSold int     `json:"promoted_families_sold"` // of those, on promotion
	PromotionSales       float64 `json:"promotion_sales"`
	SalesByYear          *Table  `json:"sales_by_year"`
	TopFamilies          *Table  `json:"top_families"`
}

// PromotionImpact compares promoted and non-promoted sales.
type PromotionImpact struct {
	TotalSales           float64           `json:"total_sales"`
	PromotedSales        float64           `json:"promoted_sales"`
	PromotedSharePct     float64           `json:"promoted_share_pct"` // 0 when there are no sales
	MeanWithPromotion    dataset.NullFloat `json:"mean_with_promotion"`
	MeanWithoutPromotion dataset.NullFloat `json:"mean_without_promotion"`
}

// storeTopFamilies is how many families StoreSummary ranks.
const storeTopFamilies = 10

func memo[T any](ctx context.Context, e *Engine, transform string, fn func(context.Context, *dataset.Dataset) (T, error)) (T, error) {
	ds, err := e.Dataset(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	key := cache.Key{Transform: transform, Input: ds.Fingerprint()}
	return cache.Get(ctx, e.cache, key, func(ctx context.Context) (T, error) {
		return fn(ctx, ds)
	})
}

// Overview returns distinct counts; nulls are not counted.
func (e *Engine) Overview(ctx context.Context) (Overview, error) {
	return memo(ctx, e, "overview", func(_ context.Context, ds *dataset.Dataset) (Overview, error) {
		return overview(ds), nil
	})
}

func overview(ds *dataset.Dataset) Overview {
	stores := make(map[int]struct{})
	families := make(map[string]struct{})
	states := make(map[string]struct{})
	months := make(map[[2]int]struct{})
	for i := 0; i < ds.Len(); i++ {
		r := ds.At(i)
		stores[r.StoreNbr] = struct{}{}
		if r.Family != "" {
			families[r.Family] = struct{}{}
		}
		if r.State != "" {
			states[r.State] = struct{}{}
		}
		if r.Year.Valid && r.Month.Valid {
			months[[2]int{r.Year.Value, r.Month.Value}] = struct{}{}
		}
	}
	return Overview{
		Rows:     ds.Len(),
		Stores:   len(stores),
		Families: len(families),
		States:   len(states),
		Months:   len(months),
	}
}

// Stores lists every store number, ascending.
func (e *Engine) Stores(ctx context.Context) ([]int, error) {
	return memo(ctx, e, "stores", func(_ context.Context, ds *dataset.Dataset) ([]int, error) {
		seen := make(map[int]struct{})
		var out []int
		for i := 0; i < ds.Len(); i++ {
			n := ds.At(i).StoreNbr
			if _, ok := seen[n]; !ok {
				seen[n] = struct{}{}
				out = append(out, n)
			}
		}
		slices.Sort(out)
		return out, nil
	})
}

// States lists every non-null state, sorted.
func (e *Engine) States(ctx context.Context) ([]string, error) {
	return memo(ctx, e, "states", func(_ context.Context, ds *dataset.Dataset) ([]string, error) {
		seen := make(map[string]struct{})
		var out []string
		for i := 0; i < ds.Len(); i++ {
			s := ds.At(i).State
			if s == "" {
				continue
			}
			if _, ok := seen[s]; !ok {
				seen[s] = struct{}{}
				out = append(out, s)
			}
		}
		slices.Sort(out)
		return out, nil
	})
}

// StoreSummary describes one store. An unknown store yields zero counts and
// empty tables.
func (e *Engine) StoreSummary(ctx context.Context, store int) (*StoreSummary, error) {
	return memo(ctx, e, fmt.Sprintf("store-summary %d", store), func(ctx context.Context, ds *dataset.Dataset) (*StoreSummary, error) {
		return storeSummary(ctx, ds, store)
	})
}

func storeSummary(ctx context.Context, ds *dataset.Dataset, store int) (*StoreSummary, error) {
	sum := &StoreSummary{Store: store}
	sold := make(map[string]struct{})
	promoted := make(map[string]struct{})
	for i := 0; i < ds.Len(); i++ {
		r := ds.At(i)
		if r.StoreNbr != store {
			continue
		}
		if r.OnPromotion > 0 {
			sum.PromotionSales += r.Sales
		}
		if r.Sales <= 0 || r.Family == "" {
			continue
		}
		sold[r.Family] = struct{}{}
		if r.OnPromotion > 0 {
			promoted[r.Family] = struct{}{}
		}
	}
	sum.FamiliesSold = len(sold)
	sum.PromotedFamiliesSold = len(promoted)

	src := datasetSource{ds}
	f := Where(StoreEq(store))
	var err error
	sum.SalesByYear, err = execute(ctx, src, planOf(Spec{
		Filter: f, GroupBy: []dataset.Column{dataset.ColYear}, Measure: dataset.ColSales, Agg: AggSum, Order: OrderNatural,
	}))
	if err != nil {
		return nil, err
	}
	sum.TopFamilies, err = execute(ctx, src, planOf(Spec{
		Filter: f, GroupBy: []dataset.Column{dataset.ColFamily}, Measure: dataset.ColSales, Agg: AggSum, Order: OrderValueDesc, Limit: storeTopFamilies,
	}))
	if err != nil {
		return nil, err
	}
	return sum, nil
}

// TransactionsByYear totals transactions per year for one state, counting
// each (date, store) pair once. Years with no known transactions are null.
func (e *Engine) TransactionsByYear(ctx context.Context, state string) (*Table, error) {
	f := Where(StateEq(state))
	if err := f.viewOnly(); err != nil {
		return nil, err
	}
	v, err := e.TxView(ctx)
	if err != nil {
		return nil, err
	}
	key := cache.Key{Transform: fmt.Sprintf("transactions-by-year where %s", f), Input: v.Fingerprint()}
	return cache.Get(ctx, e.cache, key, func(ctx context.Context) (*Table, error) {
		return execute(ctx, viewSource{v}, plan{
			filter: f,
			keys:   []dataset.Column{dataset.ColYear},
			aggs:   []aggregate{{name: string(dataset.ColTransactions), measure: dataset.ColTransactions, agg: AggSum, minCount: 1}},
			order:  OrderNatural,
		})
	})
}

// PromotionImpact measures how much of total sales happened on promotion.
func (e *Engine) PromotionImpact(ctx context.Context) (*PromotionImpact, error) {
	return memo(ctx, e, "promotion-impact", func(_ context.Context, ds *dataset.Dataset) (*PromotionImpact, error) {
		return promotionImpact(ds), nil
	})
}

func promotionImpact(ds *dataset.Dataset) *PromotionImpact {
	var (
		out             PromotionImpact
		promoted, plain int
		plainSales      float64
	)
	for i := 0; i < ds.Len(); i++ {
		r := ds.At(i)
		out.TotalSales += r.Sales
		if r.OnPromotion > 0 {
			out.PromotedSales += r.Sales
			promoted++
		} else {
			plainSales += r.Sales
			plain++
		}
	}
	if out.TotalSales > 0 {
		out.PromotedSharePct = out.PromotedSales / out.TotalSales * 100
	}
	if promoted > 0 {
		out.MeanWithPromotion = dataset.Float(out.PromotedSales / float64(promoted))
	}
	if plain > 0 {
		out.MeanWithoutPromotion = dataset.Float(plainSales / float64(plain))
	}
	return &out
}
