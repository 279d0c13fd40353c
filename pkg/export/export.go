package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nicktill/salesdash/pkg/query"
)

// Format is an output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat validates a format name; empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", fmt.Errorf("invalid format %q: must be 'json' or 'csv'", s)
}

// Metadata describes an export.
type Metadata struct {
	ExportedAt time.Time `json:"exported_at"`
	Query      string    `json:"query"`
	Rows       int       `json:"rows"`
	Format     Format    `json:"format"`
	Version    string    `json:"version"`
}

// ExportResult contains stats about the export
type ExportResult struct {
	RowsExported int       `json:"rows_exported"`
	Query        string    `json:"query"`
	Format       Format    `json:"format"`
	ExportedAt   time.Time `json:"exported_at"`
}

// Write encodes t in the given format.
func Write(w io.Writer, f Format, queryString string, t *query.Table) (*ExportResult, error) {
	if f == FormatCSV {
		return ToCSV(w, queryString, t)
	}
	return ToJSON(w, queryString, t)
}

// ToJSON writes t with metadata as pretty-printed JSON.
func ToJSON(w io.Writer, queryString string, t *query.Table) (*ExportResult, error) {
	exportData := struct {
		Metadata Metadata     `json:"metadata"`
		Table    *query.Table `json:"table"`
	}{
		Metadata: Metadata{
			ExportedAt: time.Now().UTC(),
			Query:      queryString,
			Rows:       t.Len(),
			Format:     FormatJSON,
			Version:    "1.0",
		},
		Table: t,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(exportData); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}

	return &ExportResult{
		RowsExported: t.Len(),
		Query:        queryString,
		Format:       FormatJSON,
		ExportedAt:   exportData.Metadata.ExportedAt,
	}, nil
}

// ToCSV writes t as CSV with a header row.
func ToCSV(w io.Writer, queryString string, t *query.Table) (*ExportResult, error) {
	writer := csv.NewWriter(w)

	if err := writer.Write(t.Columns); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i, cell := range row {
			record[i] = formatCell(cell)
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}

	return &ExportResult{
		RowsExported: t.Len(),
		Query:        queryString,
		Format:       FormatCSV,
		ExportedAt:   time.Now().UTC(),
	}, nil
}

func formatCell(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64)
	case int:
		return strconv.Itoa(c)
	case string:
		return c
	default:
		return fmt.Sprint(c)
	}
}
