package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SALESDASH_CONFIG", "")
	t.Setenv("SALESDASH_PARTITIONS", "")

	s, warnings, err := Load()
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, DefaultPort, s.Port)
	require.Equal(t, DefaultPartitions, s.Partitions)
	require.Equal(t, ',', s.DelimiterRune())
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "salesdash.yaml")
	body := "port: \"9000\"\npartitions:\n  - a.csv.gz\n  - b.csv.gz\ncache_max_entries: 50\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	t.Setenv("SALESDASH_CONFIG", path)
	t.Setenv("PORT", "9100")
	t.Setenv("SALESDASH_PARTITIONS", "")

	s, _, err := Load()
	require.NoError(t, err)
	require.Equal(t, "9100", s.Port)
	require.Equal(t, []string{"a.csv.gz", "b.csv.gz"}, s.Partitions)
	require.EqualValues(t, 50, s.CacheMaxEntries)
}

func TestLoad_EnvPartitionsAndBadNumbers(t *testing.T) {
	t.Setenv("SALESDASH_CONFIG", "")
	t.Setenv("SALESDASH_PARTITIONS", " x.csv.gz, ,y.csv.zst ")
	t.Setenv("SALESDASH_CACHE_MAX_ENTRIES", "lots")
	t.Setenv("SALESDASH_STRICT_TRANSACTIONS", "true")

	s, warnings, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"x.csv.gz", "y.csv.zst"}, s.Partitions)
	require.EqualValues(t, DefaultCacheMaxEntries, s.CacheMaxEntries)
	require.True(t, s.StrictTransactions)
	require.Len(t, warnings, 1)
}

func TestSettings_Validate(t *testing.T) {
	s := Defaults()
	s.Delimiter = ";;"
	require.Error(t, s.Validate())

	s = Defaults()
	s.Partitions = nil
	require.Error(t, s.Validate())

	s = Defaults()
	s.CacheMaxEntries = -1
	require.Error(t, s.Validate())
}
