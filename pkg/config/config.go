package config

import "time"

// Server defaults
const (
	DefaultPort    = "8080"
	DefaultLogMode = "dev"
)

// Partition defaults. Paths are relative to the working directory.
var DefaultPartitions = []string{
	"data/parte_1.csv.gz",
	"data/parte_2.csv.gz",
}

// Server timeouts
const (
	ServerReadTimeout  = 10 * time.Second
	ServerWriteTimeout = 30 * time.Second
	ShutdownTimeout    = 30 * time.Second
	QueryTimeout       = 30 * time.Second
)

// Cache defaults
const (
	// 0 disables eviction; the cache then lives for the process lifetime.
	DefaultCacheMaxEntries = 0
)

// Query defaults and limits
const (
	DefaultTopN = 10
	MaxTopN     = 1000
)

// Live status broadcast
const (
	BroadcastInterval = 5 * time.Second
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)
