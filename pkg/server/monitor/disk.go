package monitor

import (
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DiskMonitor reports the disk usage of the snapshot directory, caching the
// result to avoid a directory walk per request.
type DiskMonitor struct {
	dir           string
	cachedUsage   int64
	lastCheck     time.Time
	cacheDuration time.Duration
	mu            sync.Mutex
}

// NewDiskMonitor creates a monitor for dir.
func NewDiskMonitor(dir string) *DiskMonitor {
	return &DiskMonitor{
		dir:           dir,
		cacheDuration: 10 * time.Second,
	}
}

// Dir returns the monitored directory.
func (dm *DiskMonitor) Dir() string {
	return dm.dir
}

// Usage returns current usage in bytes (cached for 10 seconds).
func (dm *DiskMonitor) Usage() (int64, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if !dm.lastCheck.IsZero() && time.Since(dm.lastCheck) < dm.cacheDuration {
		return dm.cachedUsage, nil
	}

	usage, err := dirSize(dm.dir)
	if err != nil {
		return 0, err
	}

	dm.cachedUsage = usage
	dm.lastCheck = time.Now()
	return usage, nil
}

// dirSize sums actual disk usage under path, so sparse value log files are
// not over-counted.
func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			actual, err := actualFileSize(filePath, info)
			if err != nil {
				size += info.Size()
			} else {
				size += actual
			}
		}
		return nil
	})
	return size, err
}
