// Package export writes query results to files for use outside the service.
//
// # Supported Formats
//
// JSON Format:
//   - Column names and rows exactly as the query API returns them
//   - Includes export metadata (timestamp, canonical query, row count)
//   - Human-readable with pretty-printing
//
// CSV Format:
//   - One header row with the column names, then one line per result row
//   - Null cells are written as empty fields
//   - Good for analysis in spreadsheets or pandas
//
// # HTTP API
//
// Export endpoint: GET /v1/export
// Query parameters:
//   - format: "json" or "csv" (default: json)
//   - compress: "gzip" to gzip the body (optional)
//   - group_by, measure, agg, order, limit, min_count: the grouped query
//   - store, state, promo, positive_sales, has_oil: row filters
//
// Example:
//
//	curl "http://localhost:8080/v1/export?format=csv&group_by=family&measure=sales&limit=10" \
//	  -o top-families.csv
package export
