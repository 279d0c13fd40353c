package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/nicktill/salesdash/pkg/config"
	"github.com/nicktill/salesdash/pkg/dataset"
	"github.com/nicktill/salesdash/pkg/dedup"
	"github.com/nicktill/salesdash/pkg/httpx"
	"github.com/nicktill/salesdash/pkg/loader"
	"github.com/nicktill/salesdash/pkg/logger"
)

// Handler serves the query catalogue over HTTP.
type Handler struct {
	engine *Engine
	log    *logger.Logger
}

// NewHandler creates a new query handler
func NewHandler(engine *Engine, log *logger.Logger) *Handler {
	return &Handler{engine: engine, log: logger.OrNop(log)}
}

// Response is the envelope of every successful query.
type Response struct {
	Status string `json:"status"`
	Query  string `json:"query,omitempty"` // canonical form of what ran
	Data   any    `json:"data"`
}

// StatusFor maps an engine error to an HTTP status: invalid queries are the
// caller's fault, a failed load means the service cannot answer anything.
func StatusFor(err error) int {
	var (
		qerr *QueryError
		lerr *loader.LoadError
		ierr *dedup.IntegrityError
	)
	switch {
	case errors.As(err, &qerr):
		return http.StatusBadRequest
	case errors.As(err, &lerr):
		return http.StatusServiceUnavailable
	case errors.As(err, &ierr):
		return http.StatusInternalServerError
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("query failed", "path", r.URL.Path, "error", err)
	}
	httpx.RespondError(w, status, err)
}

func (h *Handler) ok(w http.ResponseWriter, query string, data any) {
	httpx.RespondJSON(w, http.StatusOK, Response{Status: "success", Query: query, Data: data})
}

func withTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), config.QueryTimeout)
}

// topN reads n, defaulting to def and capped at config.MaxTopN.
func topN(r *http.Request, def int) (int, error) {
	n, err := intParam(r.URL.Query(), "n", def)
	if err != nil {
		return 0, err
	}
	if n > config.MaxTopN {
		n = config.MaxTopN
	}
	return n, nil
}

// HandleTop handles GET /v1/query/top?key=family&measure=sales&n=10
func (h *Handler) HandleTop(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f, err := FilterFromValues(q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	n, err := topN(r, config.DefaultTopN)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	key, measure := column(q, "key", dataset.ColFamily), column(q, "measure", dataset.ColSales)

	ctx, cancel := withTimeout(r)
	defer cancel()
	t, err := h.engine.TopBySum(ctx, f, key, measure, n)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, fmt.Sprintf("top %d where %s by %s sum(%s)", n, f, key, measure), t)
}

// HandleMean handles GET /v1/query/mean?key=holiday_type&measure=sales
func (h *Handler) HandleMean(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f, err := FilterFromValues(q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	key, measure := column(q, "key", dataset.ColFamily), column(q, "measure", dataset.ColSales)

	ctx, cancel := withTimeout(r)
	defer cancel()
	t, err := h.engine.MeanBy(ctx, f, key, measure)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, fmt.Sprintf("where %s by %s mean(%s)", f, key, measure), t)
}

// HandleBucket handles GET /v1/query/bucket?bucket=week&measure=sales&agg=mean
func (h *Handler) HandleBucket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f, err := FilterFromValues(q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	bucket, measure := column(q, "bucket", dataset.ColMonth), column(q, "measure", dataset.ColSales)
	agg := AggMean
	if s := q.Get("agg"); s != "" {
		agg = Agg(s)
	}

	ctx, cancel := withTimeout(r)
	defer cancel()
	t, err := h.engine.TimeBucket(ctx, f, bucket, measure, agg)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, fmt.Sprintf("where %s by %s %s(%s)", f, bucket, agg, measure), t)
}

// HandleLeaders handles GET /v1/query/leaders?entity=store_nbr&within=family&n=15
func (h *Handler) HandleLeaders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f, err := FilterFromValues(q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	n, err := topN(r, 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entity := column(q, "entity", dataset.ColStoreNbr)
	within := column(q, "within", dataset.ColFamily)
	measure := column(q, "measure", dataset.ColSales)

	ctx, cancel := withTimeout(r)
	defer cancel()
	t, err := h.engine.Leaders(ctx, f, entity, within, measure, n)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, fmt.Sprintf("leaders where %s entity %s within %s sum(%s) n %d", f, entity, within, measure, n), t)
}

// HandleMonthlyDriver handles GET /v1/query/monthly-driver
func (h *Handler) HandleMonthlyDriver(w http.ResponseWriter, r *http.Request) {
	f, err := FilterFromValues(r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ctx, cancel := withTimeout(r)
	defer cancel()
	t, err := h.engine.MonthlyDriver(ctx, f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, fmt.Sprintf("monthly-driver where %s", f), t)
}

// HandleRun handles POST /v1/query/run with a JSON Spec body.
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.RespondErrorString(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var s Spec
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	s = s.Normalize()

	ctx, cancel := withTimeout(r)
	defer cancel()
	t, err := h.engine.Run(ctx, s)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, s.String(), t)
}

// HandleOverview handles GET /v1/overview
func (h *Handler) HandleOverview(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()
	o, err := h.engine.Overview(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, "overview", o)
}

// HandleStores handles GET /v1/stores
func (h *Handler) HandleStores(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()
	stores, err := h.engine.Stores(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, "stores", stores)
}

// HandleStates handles GET /v1/states
func (h *Handler) HandleStates(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()
	states, err := h.engine.States(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, "states", states)
}

// HandleStoreSummary handles GET /v1/store/{store}/summary
func (h *Handler) HandleStoreSummary(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["store"]
	store, err := strconv.Atoi(raw)
	if err != nil {
		h.fail(w, r, &QueryError{Op: "params", Field: "store", Reason: fmt.Sprintf("not an integer: %q", raw)})
		return
	}

	ctx, cancel := withTimeout(r)
	defer cancel()
	s, err := h.engine.StoreSummary(ctx, store)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, fmt.Sprintf("store-summary %d", store), s)
}

// HandleStateTransactions handles GET /v1/state/{state}/transactions
func (h *Handler) HandleStateTransactions(w http.ResponseWriter, r *http.Request) {
	state := mux.Vars(r)["state"]

	ctx, cancel := withTimeout(r)
	defer cancel()
	t, err := h.engine.TransactionsByYear(ctx, state)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, fmt.Sprintf("transactions-by-year where %s", Where(StateEq(state))), t)
}

// HandlePromotions handles GET /v1/insights/promotions
func (h *Handler) HandlePromotions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()
	p, err := h.engine.PromotionImpact(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, "promotion-impact", p)
}
