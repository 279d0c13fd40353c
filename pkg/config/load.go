package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Settings is the runtime configuration of the server shell.
type Settings struct {
	Port               string   `yaml:"port"`
	LogMode            string   `yaml:"log_mode"`
	Partitions         []string `yaml:"partitions"`
	Delimiter          string   `yaml:"delimiter"`
	CacheMaxEntries    int64    `yaml:"cache_max_entries"`
	SnapshotDir        string   `yaml:"snapshot_dir"`
	StrictTransactions bool     `yaml:"strict_transactions"`
}

// Defaults returns settings populated with the package defaults.
func Defaults() Settings {
	return Settings{
		Port:            DefaultPort,
		LogMode:         DefaultLogMode,
		Partitions:      append([]string(nil), DefaultPartitions...),
		Delimiter:       ",",
		CacheMaxEntries: DefaultCacheMaxEntries,
	}
}

// Load builds settings from defaults, an optional yaml file named by
// SALESDASH_CONFIG, and environment overrides (env wins). Invalid numeric or
// boolean env values are reported in warnings and the previous value is kept.
func Load() (Settings, []string, error) {
	s := Defaults()

	if path := strings.TrimSpace(os.Getenv("SALESDASH_CONFIG")); path != "" {
		if err := s.mergeFile(path); err != nil {
			return s, nil, err
		}
	}

	var warnings []string
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		s.Port = v
	}
	if v := strings.TrimSpace(os.Getenv("SALESDASH_LOG_MODE")); v != "" {
		s.LogMode = v
	}
	if v := strings.TrimSpace(os.Getenv("SALESDASH_PARTITIONS")); v != "" {
		s.Partitions = splitList(v)
	}
	if v := os.Getenv("SALESDASH_DELIMITER"); v != "" {
		s.Delimiter = v
	}
	if v := strings.TrimSpace(os.Getenv("SALESDASH_SNAPSHOT_DIR")); v != "" {
		s.SnapshotDir = v
	}
	s.CacheMaxEntries = envInt64("SALESDASH_CACHE_MAX_ENTRIES", s.CacheMaxEntries, &warnings)
	s.StrictTransactions = envBool("SALESDASH_STRICT_TRANSACTIONS", s.StrictTransactions, &warnings)

	if err := s.Validate(); err != nil {
		return s, warnings, err
	}
	return s, warnings, nil
}

// Validate checks settings that would otherwise fail late.
func (s Settings) Validate() error {
	if len(s.Partitions) == 0 {
		return fmt.Errorf("config: at least one partition is required")
	}
	if len([]rune(s.Delimiter)) != 1 {
		return fmt.Errorf("config: delimiter must be a single character, got %q", s.Delimiter)
	}
	if s.CacheMaxEntries < 0 {
		return fmt.Errorf("config: cache_max_entries must be >= 0, got %d", s.CacheMaxEntries)
	}
	return nil
}

// DelimiterRune returns the configured delimiter as a rune.
func (s Settings) DelimiterRune() rune {
	r := []rune(s.Delimiter)
	if len(r) == 0 {
		return ','
	}
	return r[0]
}

func (s *Settings) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var file Settings
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	if file.Port != "" {
		s.Port = file.Port
	}
	if file.LogMode != "" {
		s.LogMode = file.LogMode
	}
	if len(file.Partitions) > 0 {
		s.Partitions = file.Partitions
	}
	if file.Delimiter != "" {
		s.Delimiter = file.Delimiter
	}
	if file.CacheMaxEntries != 0 {
		s.CacheMaxEntries = file.CacheMaxEntries
	}
	if file.SnapshotDir != "" {
		s.SnapshotDir = file.SnapshotDir
	}
	if file.StrictTransactions {
		s.StrictTransactions = true
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envInt64 gets an int64 from environment variable or returns def.
func envInt64(key string, def int64, warnings *[]string) int64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		*warnings = append(*warnings, fmt.Sprintf("invalid value for %s: %q, using %d", key, val, def))
		return def
	}
	return parsed
}

func envBool(key string, def bool, warnings *[]string) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		*warnings = append(*warnings, fmt.Sprintf("invalid value for %s: %q, using %t", key, val, def))
		return def
	}
	return parsed
}
