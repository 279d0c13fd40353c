package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/salesdash/pkg/cache"
	"github.com/nicktill/salesdash/pkg/httpx"
	"github.com/nicktill/salesdash/pkg/server/monitor"
	"github.com/nicktill/salesdash/pkg/storage"
)

var startTime = time.Now()

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string             `json:"status"`
	Version string             `json:"version"`
	Uptime  string             `json:"uptime"`
	Load    monitor.LoadStatus `json:"load"`
}

// handleHealth reports "loading" with 503 until the dataset has been built
// once; every query would fail before that.
func handleHealth(loadMonitor *monitor.LoadMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := loadMonitor.Status()
		overallStatus := "healthy"
		statusCode := http.StatusOK

		if !status.Healthy {
			overallStatus = "loading"
			if status.ConsecutiveErrors > 0 {
				overallStatus = "degraded"
			}
			statusCode = http.StatusServiceUnavailable
		}

		httpx.RespondJSON(w, statusCode, HealthResponse{
			Status:  overallStatus,
			Version: "1.0.0",
			Uptime:  time.Since(startTime).String(),
			Load:    status,
		})
	}
}

// handleCacheStats returns aggregation cache counters.
func handleCacheStats(c *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.RespondJSON(w, http.StatusOK, c.Stats())
	}
}

// SnapshotUsage represents the snapshot store's contents and disk usage.
type SnapshotUsage struct {
	Enabled   bool           `json:"enabled"`
	Store     *storage.Stats `json:"store,omitempty"`
	DiskBytes int64          `json:"disk_bytes,omitempty"`
}

// handleSnapshotStats returns snapshot store usage.
func handleSnapshotStats(snaps storage.Snapshots, disk *monitor.DiskMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if snaps == nil {
			httpx.RespondJSON(w, http.StatusOK, SnapshotUsage{})
			return
		}

		stats, err := snaps.Stats(r.Context())
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		usage := SnapshotUsage{Enabled: true, Store: stats}
		if disk != nil {
			if usage.DiskBytes, err = disk.Usage(); err != nil {
				httpx.RespondError(w, http.StatusInternalServerError, err)
				return
			}
		}
		httpx.RespondJSON(w, http.StatusOK, usage)
	}
}

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(router *mux.Router, c *Components, port string) {
	router.Use(requestLogger(c.Log))
	router.Use(corsMiddleware(port))

	api := router.PathPrefix("/v1").Subrouter()

	// Grouped queries
	api.HandleFunc("/query/top", c.Query.HandleTop).Methods("GET")
	api.HandleFunc("/query/mean", c.Query.HandleMean).Methods("GET")
	api.HandleFunc("/query/bucket", c.Query.HandleBucket).Methods("GET")
	api.HandleFunc("/query/leaders", c.Query.HandleLeaders).Methods("GET")
	api.HandleFunc("/query/monthly-driver", c.Query.HandleMonthlyDriver).Methods("GET")
	api.HandleFunc("/query/run", c.Query.HandleRun).Methods("POST")

	// Dashboard insights
	api.HandleFunc("/overview", c.Query.HandleOverview).Methods("GET")
	api.HandleFunc("/stores", c.Query.HandleStores).Methods("GET")
	api.HandleFunc("/states", c.Query.HandleStates).Methods("GET")
	api.HandleFunc("/store/{store}/summary", c.Query.HandleStoreSummary).Methods("GET")
	api.HandleFunc("/state/{state}/transactions", c.Query.HandleStateTransactions).Methods("GET")
	api.HandleFunc("/insights/promotions", c.Query.HandlePromotions).Methods("GET")

	api.HandleFunc("/export", c.Export.HandleExport).Methods("GET")

	// Operational
	api.HandleFunc("/health", handleHealth(c.Load)).Methods("GET")
	api.HandleFunc("/cache/stats", handleCacheStats(c.Cache)).Methods("GET")
	api.HandleFunc("/snapshots", handleSnapshotStats(c.Snapshots, c.Disk)).Methods("GET")
	api.HandleFunc("/ws", c.Hub.ServeWS).Methods("GET")
}

// corsMiddleware creates CORS middleware that restricts to localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	allowedOrigins := []string{
		"http://localhost:" + port,
		"http://127.0.0.1:" + port,
		"http://localhost:3000",
		"http://127.0.0.1:3000",
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, allowedOrigin := range allowedOrigins {
				if origin == allowedOrigin {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
