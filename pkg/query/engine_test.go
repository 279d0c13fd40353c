package query

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/salesdash/pkg/cache"
	"github.com/nicktill/salesdash/pkg/dataset"
	"github.com/nicktill/salesdash/pkg/dedup"
	"github.com/nicktill/salesdash/pkg/loader"
)

// countingSource hands out a fixed dataset and counts loads.
type countingSource struct {
	ds    *dataset.Dataset
	err   error
	loads atomic.Int32
}

func (s *countingSource) Load(ctx context.Context) (*dataset.Dataset, error) {
	s.loads.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.ds, nil
}

func d(day int) dataset.Date { return dataset.NewDate(2015, time.June, day) }

func sampleDataset() *dataset.Dataset {
	return dataset.New([]dataset.Record{
		{Date: d(1), StoreNbr: 1, Family: "GROCERY I", Sales: 100, OnPromotion: 2, Transactions: dataset.Float(500), State: "Pichincha", Year: dataset.Int(2015), Month: dataset.Int(6)},
		{Date: d(1), StoreNbr: 1, Family: "BEVERAGES", Sales: 50, OnPromotion: 0, Transactions: dataset.Float(500), State: "Pichincha", Year: dataset.Int(2015), Month: dataset.Int(6)},
		{Date: d(1), StoreNbr: 2, Family: "GROCERY I", Sales: 0, OnPromotion: 1, Transactions: dataset.Float(300), State: "Guayas", Year: dataset.Int(2015), Month: dataset.Int(6)},
		{Date: d(2), StoreNbr: 1, Family: "GROCERY I", Sales: 30, OnPromotion: 0, Transactions: dataset.Float(450), State: "Pichincha", Year: dataset.Int(2015), Month: dataset.Int(6)},
		{Date: d(2), StoreNbr: 1, Family: "BEVERAGES", Sales: 20, OnPromotion: 0, Transactions: dataset.Float(450), State: "Pichincha", Year: dataset.Int(2015), Month: dataset.Int(6)},
	}, nil, nil, 77)
}

func newEngine(t *testing.T, src Source, opts ...Option) *Engine {
	t.Helper()
	c, err := cache.New()
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return NewEngine(c, src, opts...)
}

func TestEngine_CachedIdempotence(t *testing.T) {
	src := &countingSource{ds: sampleDataset()}
	e := newEngine(t, src)
	ctx := context.Background()

	first, err := e.TopBySum(ctx, nil, dataset.ColFamily, dataset.ColSales, 10)
	require.NoError(t, err)
	second, err := e.TopBySum(ctx, nil, dataset.ColFamily, dataset.ColSales, 10)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.EqualValues(t, 1, src.loads.Load())
	assert.Equal(t, [][]any{{"GROCERY I", 130.0}, {"BEVERAGES", 70.0}}, first.Rows)

	// dataset + one table
	assert.EqualValues(t, 2, e.cache.Stats().Computations)
}

func TestEngine_ConcurrentIdenticalQueries(t *testing.T) {
	src := &countingSource{ds: sampleDataset()}
	e := newEngine(t, src)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.MeanBy(context.Background(), Where(StateEq("Pichincha")), dataset.ColFamily, dataset.ColSales)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, src.loads.Load())
	assert.EqualValues(t, 2, e.cache.Stats().Computations)
}

func TestEngine_LoadFailureBlocksQueriesAndIsRetried(t *testing.T) {
	src := &countingSource{err: &loader.LoadError{Path: "parte_2.csv.gz", Err: errors.New("unexpected EOF")}}
	e := newEngine(t, src)

	_, err := e.TopBySum(context.Background(), nil, dataset.ColFamily, dataset.ColSales, 5)
	var cerr *cache.ComputationError
	require.ErrorAs(t, err, &cerr)
	var lerr *loader.LoadError
	require.ErrorAs(t, err, &lerr)

	src.err = nil
	src.ds = sampleDataset()
	_, err = e.TopBySum(context.Background(), nil, dataset.ColFamily, dataset.ColSales, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 2, src.loads.Load())
}

func TestEngine_QueryErrorsAreNotComputations(t *testing.T) {
	src := &countingSource{ds: sampleDataset()}
	e := newEngine(t, src)

	_, err := e.TopBySum(context.Background(), nil, "colour", dataset.ColSales, 5)
	var qerr *QueryError
	require.ErrorAs(t, err, &qerr)

	_, err = e.TopBySum(context.Background(), nil, dataset.ColFamily, dataset.ColSales, 0)
	require.ErrorAs(t, err, &qerr)

	_, err = e.TimeBucket(context.Background(), nil, dataset.ColFamily, dataset.ColSales, AggMean)
	require.ErrorAs(t, err, &qerr)

	assert.EqualValues(t, 0, src.loads.Load())
}

func TestEngine_TransactionsByYearCountsPairsOnce(t *testing.T) {
	src := &countingSource{ds: sampleDataset()}
	e := newEngine(t, src)

	got, err := e.TransactionsByYear(context.Background(), "Pichincha")
	require.NoError(t, err)
	// store 1: 500 on day 1, 450 on day 2, not multiplied by families
	assert.Equal(t, [][]any{{2015, 950.0}}, got.Rows)

	got, err = e.TransactionsByYear(context.Background(), "Nowhere")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())

	v, err := e.TxView(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, v.Len())
}

func TestEngine_StrictTransactions(t *testing.T) {
	ds := dataset.New([]dataset.Record{
		{Date: d(1), StoreNbr: 1, Transactions: dataset.Float(1)},
		{Date: d(1), StoreNbr: 1, Transactions: dataset.Float(2)},
	}, nil, nil, 5)
	e := newEngine(t, &countingSource{ds: ds}, WithStrictTransactions())

	_, err := e.TransactionsByYear(context.Background(), "Pichincha")
	var ierr *dedup.IntegrityError
	require.ErrorAs(t, err, &ierr)
}

func TestEngine_Insights(t *testing.T) {
	e := newEngine(t, &countingSource{ds: sampleDataset()})
	ctx := context.Background()

	o, err := e.Overview(ctx)
	require.NoError(t, err)
	assert.Equal(t, Overview{Rows: 5, Stores: 2, Families: 2, States: 2, Months: 1}, o)

	stores, err := e.Stores(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, stores)

	states, err := e.States(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Guayas", "Pichincha"}, states)

	s, err := e.StoreSummary(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, s.FamiliesSold)
	assert.Equal(t, 1, s.PromotedFamiliesSold)
	assert.Equal(t, 100.0, s.PromotionSales)
	assert.Equal(t, [][]any{{2015, 200.0}}, s.SalesByYear.Rows)
	assert.Equal(t, [][]any{{"GROCERY I", 130.0}, {"BEVERAGES", 70.0}}, s.TopFamilies.Rows)

	empty, err := e.StoreSummary(ctx, 99)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.FamiliesSold)
	assert.Equal(t, 0, empty.SalesByYear.Len())

	p, err := e.PromotionImpact(ctx)
	require.NoError(t, err)
	assert.Equal(t, 200.0, p.TotalSales)
	assert.Equal(t, 100.0, p.PromotedSales)
	assert.Equal(t, 50.0, p.PromotedSharePct)
	assert.Equal(t, dataset.Float(50), p.MeanWithPromotion)
	assert.Equal(t, dataset.Float(100.0/3), p.MeanWithoutPromotion)
}

func TestPromotionImpact_NoSales(t *testing.T) {
	p := promotionImpact(dataset.New(nil, nil, nil, 0))
	assert.Equal(t, 0.0, p.PromotedSharePct)
	assert.False(t, p.MeanWithPromotion.Valid)
}

func TestEngine_LeadersAndMonthlyDriverCached(t *testing.T) {
	src := &countingSource{ds: sampleDataset()}
	e := newEngine(t, src)
	ctx := context.Background()

	l1, err := e.Leaders(ctx, nil, dataset.ColStoreNbr, dataset.ColFamily, dataset.ColSales, 15)
	require.NoError(t, err)
	l2, err := e.Leaders(ctx, nil, dataset.ColStoreNbr, dataset.ColFamily, dataset.ColSales, 15)
	require.NoError(t, err)
	assert.Same(t, l1, l2)
	assert.Equal(t, [][]any{{1, "GROCERY I", 130.0}, {2, "GROCERY I", 0.0}}, l1.Rows)

	m, err := e.MonthlyDriver(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())
}
