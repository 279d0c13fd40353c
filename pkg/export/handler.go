package export

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/nicktill/salesdash/pkg/config"
	"github.com/nicktill/salesdash/pkg/httpx"
	"github.com/nicktill/salesdash/pkg/logger"
	"github.com/nicktill/salesdash/pkg/query"
)

// Runner executes a grouped query. *query.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, s query.Spec) (*query.Table, error)
}

// Handler handles the export HTTP endpoint
type Handler struct {
	runner Runner
	log    *logger.Logger
}

// NewHandler creates a new export handler
func NewHandler(runner Runner, log *logger.Logger) *Handler {
	return &Handler{runner: runner, log: logger.OrNop(log)}
}

// HandleExport handles GET /v1/export. See the package documentation for
// its parameters.
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.RespondErrorString(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	params := r.URL.Query()
	format, err := ParseFormat(params.Get("format"))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	compress := params.Get("compress")
	if compress != "" && compress != "gzip" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "compress must be 'gzip'")
		return
	}

	spec, err := query.SpecFromValues(params)
	if err != nil {
		httpx.RespondError(w, query.StatusFor(err), err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()
	t, err := h.runner.Run(ctx, spec)
	if err != nil {
		status := query.StatusFor(err)
		if status >= http.StatusInternalServerError {
			h.log.Error("export failed", "query", spec.String(), "error", err)
		}
		httpx.RespondError(w, status, err)
		return
	}

	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("salesdash-export-%s.%s", timestamp, format)
	if format == FormatJSON {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/csv")
	}

	var out io.Writer = w
	if compress == "gzip" {
		filename += ".gz"
		w.Header().Set("Content-Encoding", "gzip")
		zw := gzip.NewWriter(w)
		defer zw.Close()
		out = zw
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))

	result, err := Write(out, format, spec.String(), t)
	if err != nil {
		// headers are already sent; all we can do is log
		h.log.Error("export write failed", "query", spec.String(), "error", err)
		return
	}

	h.log.Info("exported table", "rows", result.RowsExported, "format", format, "query", result.Query)
}
