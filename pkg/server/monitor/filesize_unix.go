//go:build !windows

package monitor

import (
	"os"
	"syscall"
)

// actualFileSize returns allocated blocks in bytes.
func actualFileSize(_ string, info os.FileInfo) (int64, error) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.Size(), nil
	}
	// Blocks are 512 bytes regardless of the filesystem block size
	return stat.Blocks * 512, nil
}
