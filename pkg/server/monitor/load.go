package monitor

import (
	"fmt"
	"sync"
	"time"
)

// LoadMonitor tracks dataset load attempts for health checks.
type LoadMonitor struct {
	mu                sync.RWMutex
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
	rows              int
	fingerprint       uint64
	elapsed           time.Duration
}

// RecordSuccess records a completed load.
func (lm *LoadMonitor) RecordSuccess(rows int, fingerprint uint64, elapsed time.Duration) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.lastSuccess = time.Now()
	lm.lastAttempt = lm.lastSuccess
	lm.consecutiveErrors = 0
	lm.lastError = ""
	lm.rows = rows
	lm.fingerprint = fingerprint
	lm.elapsed = elapsed
}

// RecordFailure records a failed load.
func (lm *LoadMonitor) RecordFailure(err error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.lastAttempt = time.Now()
	lm.consecutiveErrors++
	if err != nil {
		lm.lastError = err.Error()
	}
}

// IsHealthy reports whether the dataset has been loaded. The dataset never
// changes once loaded, so a single success keeps the service healthy.
func (lm *LoadMonitor) IsHealthy() bool {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return !lm.lastSuccess.IsZero()
}

// LoadStatus is the load section of the health response.
type LoadStatus struct {
	Healthy           bool   `json:"healthy"`
	Rows              int    `json:"rows,omitempty"`
	Fingerprint       string `json:"fingerprint,omitempty"`
	LoadedAt          string `json:"loaded_at,omitempty"`
	LoadTime          string `json:"load_time,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current load status for health checks.
func (lm *LoadMonitor) Status() LoadStatus {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	status := LoadStatus{
		Healthy: !lm.lastSuccess.IsZero(),
	}

	if status.Healthy {
		status.Rows = lm.rows
		status.Fingerprint = fmt.Sprintf("%016x", lm.fingerprint)
		status.LoadedAt = lm.lastSuccess.Format(time.RFC3339)
		status.LoadTime = lm.elapsed.Round(time.Millisecond).String()
	}

	if !lm.lastAttempt.IsZero() {
		status.LastAttempt = lm.lastAttempt.Format(time.RFC3339)
	}

	if lm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = lm.consecutiveErrors
		status.LastError = lm.lastError
	}

	return status
}
