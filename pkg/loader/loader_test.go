package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/salesdash/pkg/dataset"
	"github.com/nicktill/salesdash/pkg/storage/memory"
)

const header = "Unnamed: 0,date,store_nbr,family,sales,onpromotion,transactions,state,city,day_of_week,year,month,dcoilwtico\n"

func writeGzip(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := gzip.NewWriter(f)
	_, err = zw.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func writeZstd(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	zw, err := zstd.NewWriter(f)
	require.NoError(t, err)
	_, err = zw.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestLoad_ConcatenatesPartitionsInOrder(t *testing.T) {
	dir := t.TempDir()
	p1 := writeGzip(t, dir, "parte_1.csv.gz", header+
		"0,2016-01-01,1,GROCERY I,10.5,0,1500,Pichincha,Quito,Friday,2016,1,\n"+
		"1,2016-01-02,1,BEVERAGES,abc,3,1500,Pichincha,Quito,Saturday,2016,1,37.5\n")
	p2 := writeZstd(t, dir, "parte_2.csv.zst", header+
		"2,2016-01-03,2,GROCERY I,-4,x,,Guayas,Guayaquil,Sunday,,1,37.1\n")

	ds, err := New([]string{p1, p2}).Load(context.Background())
	require.NoError(t, err)

	require.Equal(t, 3, ds.Len())
	assert.Equal(t, []dataset.PartitionInfo{{Path: p1, Rows: 2}, {Path: p2, Rows: 1}}, ds.Partitions())
	assert.NotContains(t, ds.Columns(), dataset.Column("Unnamed: 0"))

	first := ds.At(0)
	assert.Equal(t, "2016-01-01", first.Date.String())
	assert.Equal(t, 10.5, first.Sales)
	assert.False(t, first.Oil.Valid)

	// unparseable sales become 0
	assert.Equal(t, 0.0, ds.At(1).Sales)
	assert.EqualValues(t, 3, ds.At(1).OnPromotion)

	last := ds.At(2)
	assert.Equal(t, 2, last.StoreNbr)
	assert.Equal(t, 0.0, last.Sales)
	assert.EqualValues(t, 0, last.OnPromotion)
	assert.False(t, last.Transactions.Valid)
	// year had a null, so it is derived from date
	assert.Equal(t, dataset.Int(2016), last.Year)
	// week was absent, so it is derived for every row
	assert.Equal(t, dataset.Int(53), first.Week)
}

func TestLoad_FingerprintIsStable(t *testing.T) {
	dir := t.TempDir()
	body := header + "0,2016-01-01,1,GROCERY I,1,0,10,Pichincha,Quito,Friday,2016,1,\n"
	p := writeGzip(t, dir, "a.csv.gz", body)

	a, err := New([]string{p}).Load(context.Background())
	require.NoError(t, err)
	b, err := New([]string{p}).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	q := writeGzip(t, dir, "b.csv.gz", body+"1,2016-01-02,1,GROCERY I,2,0,10,Pichincha,Quito,Saturday,2016,1,\n")
	c, err := New([]string{q}).Load(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestLoad_SemicolonDelimiter(t *testing.T) {
	dir := t.TempDir()
	p := writeGzip(t, dir, "a.csv.gz",
		"date;store_nbr;family;sales;onpromotion;transactions\n2017-08-15;3;BREAD;7;1;900\n")

	ds, err := New([]string{p}, WithDelimiter(';')).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, ds.Len())
	assert.Equal(t, "BREAD", ds.At(0).Family)
	assert.Equal(t, dataset.Int(2017), ds.At(0).Year)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	good := writeGzip(t, dir, "good.csv.gz", header+"0,2016-01-01,1,GROCERY I,1,0,10,Pichincha,Quito,Friday,2016,1,\n")

	t.Run("no partitions", func(t *testing.T) {
		_, err := New(nil).Load(context.Background())
		require.ErrorIs(t, err, ErrNoPartitions)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := New([]string{good, filepath.Join(dir, "nope.csv.gz")}).Load(context.Background())
		var lerr *LoadError
		require.ErrorAs(t, err, &lerr)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("missing required column", func(t *testing.T) {
		p := writeGzip(t, dir, "nosales.csv.gz", "date,store_nbr,family,onpromotion,transactions\n2016-01-01,1,X,0,1\n")
		_, err := New([]string{p}).Load(context.Background())
		require.ErrorIs(t, err, ErrMissingColumn)
	})

	t.Run("schema mismatch", func(t *testing.T) {
		p := writeGzip(t, dir, "narrow.csv.gz", "date,store_nbr,family,sales,onpromotion,transactions\n2016-01-01,1,X,1,0,1\n")
		_, err := New([]string{good, p}).Load(context.Background())
		require.ErrorIs(t, err, ErrSchemaMismatch)
	})

	t.Run("corrupt archive", func(t *testing.T) {
		p := filepath.Join(dir, "corrupt.csv.gz")
		require.NoError(t, os.WriteFile(p, []byte("definitely not gzip"), 0o644))
		_, err := New([]string{p}).Load(context.Background())
		var lerr *LoadError
		require.ErrorAs(t, err, &lerr)
		assert.Equal(t, p, lerr.Path)
	})

	t.Run("bad store number", func(t *testing.T) {
		p := writeGzip(t, dir, "badstore.csv.gz", "date,store_nbr,family,sales,onpromotion,transactions\n2016-01-01,1,X,1,0,1\n2016-01-01,abc,X,1,0,1\n")
		_, err := New([]string{p}).Load(context.Background())
		var lerr *LoadError
		require.ErrorAs(t, err, &lerr)
		assert.Equal(t, 3, lerr.Line)
		assert.True(t, errors.Is(err, dataset.ErrInvalidStore))
	})
}

func TestReadPartition_CancelledContext(t *testing.T) {
	p := writeGzip(t, t.TempDir(), "a.csv.gz", header+"0,2016-01-01,1,GROCERY I,1,0,10,Pichincha,Quito,Friday,2016,1,\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := readPartition(ctx, p, ',')
	var lerr *LoadError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, p, lerr.Path)
	assert.Equal(t, 2, lerr.Line)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoad_UsesSnapshots(t *testing.T) {
	dir := t.TempDir()
	p := writeGzip(t, dir, "a.csv.gz", header+"0,2016-01-01,1,GROCERY I,1,0,10,Pichincha,Quito,Friday,2016,1,\n")
	snaps := memory.New()
	l := New([]string{p}, WithSnapshots(snaps))

	first, err := l.Load(context.Background())
	require.NoError(t, err)

	stamp, err := l.SourceStamp()
	require.NoError(t, err)
	stored, ok, err := snaps.Get(context.Background(), stamp)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Same(t, first, stored)

	second, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second)
}
