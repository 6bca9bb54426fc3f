// Package export serializes fact rows for BI clients.
package export

import (
	"context"
	"fmt"
	"io"
	"strings"

	"inventory-analytics-service/internal/domain"
	"inventory-analytics-service/internal/metrics"
)

// Format is an output encoding of the fact feed.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// Columns is the fixed column order of every format.
var Columns = []string{
	"product_id",
	"date",
	"demand",
	"category",
	"price",
	"uom",
	"lead_time_days",
	"safety_stock",
	"reorder_multiplier",
	"inventory_level",
	"stockout_flag",
	"month",
	"reorder_point",
	"recommended_order_qty",
}

// ParseFormat resolves a format name. The empty string selects CSV.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatJSON, FormatXLSX:
		return f, nil
	default:
		return "", domain.NewValidationError("format", fmt.Sprintf("unsupported format %q (want csv, json or xlsx)", s))
	}
}

// ContentType is the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/csv; charset=utf-8"
	}
}

// Writer encodes fact rows one at a time. Close finishes the document and
// must be called even when no row was written; the result is then a
// header-only (or empty) document. Discard releases the writer's resources
// without finishing the document. Only the first of Close or Discard has
// any effect.
type Writer interface {
	WriteRow(row domain.FactRow) error
	Close() error
	Discard()
}

// NewWriter returns a Writer encoding format onto w.
func NewWriter(format Format, w io.Writer) (Writer, error) {
	switch format {
	case FormatCSV, "":
		return newCSVWriter(w), nil
	case FormatJSON:
		return newJSONWriter(w), nil
	case FormatXLSX:
		return newXLSXWriter(w)
	default:
		return nil, domain.NewValidationError("format", fmt.Sprintf("unsupported format %q", string(format)))
	}
}

// RowSource is an iterator of fact rows, such as *feed.Rows.
type RowSource interface {
	Next(ctx context.Context) bool
	Row() domain.FactRow
	Err() error
}

// Copy writes every row of src to w and closes w when src ends cleanly.
// On any error w is discarded instead, leaving the document unfinished. It
// returns the number of rows written.
func Copy(ctx context.Context, w Writer, src RowSource, format Format) (int64, error) {
	var n int64
	defer func() { metrics.FeedRowsEmitted.WithLabelValues(string(format)).Add(float64(n)) }()

	for src.Next(ctx) {
		if err := w.WriteRow(src.Row()); err != nil {
			w.Discard()
			return n, fmt.Errorf("export: write row: %w", err)
		}
		n++
	}
	if err := src.Err(); err != nil {
		w.Discard()
		return n, err
	}
	if err := w.Close(); err != nil {
		return n, fmt.Errorf("export: finish %s document: %w", format, err)
	}
	return n, nil
}
