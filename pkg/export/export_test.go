package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/nicktill/salesdash/pkg/query"
)

func sampleTable() *query.Table {
	return &query.Table{
		Columns: []string{"state", "total_sales"},
		Rows: [][]any{
			{"Pichincha", 1250.5},
			{"Guayas", 300.0},
			{"Azuay", nil},
		},
	}
}

func TestToJSON(t *testing.T) {
	var buf bytes.Buffer
	result, err := ToJSON(&buf, "sum(sales) by state", sampleTable())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	if result.RowsExported != 3 {
		t.Errorf("Expected 3 rows exported, got %d", result.RowsExported)
	}
	if result.Format != FormatJSON {
		t.Errorf("Expected json format, got %s", result.Format)
	}

	var exported struct {
		Metadata Metadata    `json:"metadata"`
		Table    query.Table `json:"table"`
	}
	if err := json.Unmarshal(buf.Bytes(), &exported); err != nil {
		t.Fatalf("Failed to parse exported JSON: %v", err)
	}

	if exported.Metadata.Rows != 3 {
		t.Errorf("Expected metadata rows 3, got %d", exported.Metadata.Rows)
	}
	if exported.Metadata.Query != "sum(sales) by state" {
		t.Errorf("Unexpected query in metadata: %q", exported.Metadata.Query)
	}
	if len(exported.Table.Columns) != 2 || exported.Table.Columns[1] != "total_sales" {
		t.Errorf("Unexpected columns: %v", exported.Table.Columns)
	}
	if exported.Table.Rows[2][1] != nil {
		t.Errorf("Expected null value to stay null, got %v", exported.Table.Rows[2][1])
	}
}

func TestToCSV(t *testing.T) {
	var buf bytes.Buffer
	result, err := ToCSV(&buf, "q", sampleTable())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if result.RowsExported != 3 {
		t.Errorf("Expected 3 rows exported, got %d", result.RowsExported)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse CSV: %v", err)
	}

	// header + 3 rows
	if len(records) != 4 {
		t.Fatalf("Expected 4 CSV records, got %d", len(records))
	}
	if strings.Join(records[0], ",") != "state,total_sales" {
		t.Errorf("Unexpected header: %v", records[0])
	}
	if records[1][1] != "1250.5" {
		t.Errorf("Expected 1250.5, got %q", records[1][1])
	}
	if records[2][1] != "300" {
		t.Errorf("Expected 300, got %q", records[2][1])
	}
	if records[3][1] != "" {
		t.Errorf("Expected empty cell for null, got %q", records[3][1])
	}
}

func TestToCSV_EmptyTable(t *testing.T) {
	var buf bytes.Buffer
	if _, err := ToCSV(&buf, "q", &query.Table{Columns: []string{"family", "total_sales"}}); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != "family,total_sales" {
		t.Errorf("Expected header only, got %q", got)
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat(""); err != nil || f != FormatJSON {
		t.Errorf("Expected default json, got %q, %v", f, err)
	}
	if f, err := ParseFormat("csv"); err != nil || f != FormatCSV {
		t.Errorf("Expected csv, got %q, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("Expected error for xml format")
	}
}

type stubRunner struct {
	table *query.Table
	err   error
	got   query.Spec
}

func (s *stubRunner) Run(_ context.Context, spec query.Spec) (*query.Table, error) {
	s.got = spec
	return s.table, s.err
}

func TestHandleExport_CSV(t *testing.T) {
	runner := &stubRunner{table: sampleTable()}
	h := NewHandler(runner, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/export?format=csv&group_by=state&limit=5", nil)
	rec := httptest.NewRecorder()
	h.HandleExport(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Expected text/csv, got %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "salesdash-export-") || !strings.HasSuffix(cd, ".csv") {
		t.Errorf("Unexpected Content-Disposition: %q", cd)
	}
	if runner.got.Limit != 5 || len(runner.got.GroupBy) != 1 {
		t.Errorf("Query parameters not passed through: %+v", runner.got)
	}
}

func TestHandleExport_Gzip(t *testing.T) {
	h := NewHandler(&stubRunner{table: sampleTable()}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/export?group_by=state&compress=gzip", nil)
	rec := httptest.NewRecorder()
	h.HandleExport(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("Expected gzip encoding")
	}

	zr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("Failed to open gzip body: %v", err)
	}
	body, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("Failed to read gzip body: %v", err)
	}
	if !bytes.Contains(body, []byte("Pichincha")) {
		t.Errorf("Expected exported rows in body, got %s", body)
	}
}

func TestHandleExport_Errors(t *testing.T) {
	h := NewHandler(&stubRunner{table: sampleTable()}, nil)

	cases := map[string]int{
		"/v1/export?format=xml&group_by=state":       http.StatusBadRequest,
		"/v1/export?group_by=state&compress=brotli":  http.StatusBadRequest,
		"/v1/export?group_by=state&limit=notanumber": http.StatusBadRequest,
	}
	for url, want := range cases {
		rec := httptest.NewRecorder()
		h.HandleExport(rec, httptest.NewRequest(http.MethodGet, url, nil))
		if rec.Code != want {
			t.Errorf("%s: expected %d, got %d", url, want, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	h.HandleExport(rec, httptest.NewRequest(http.MethodPost, "/v1/export", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for POST, got %d", rec.Code)
	}
}
