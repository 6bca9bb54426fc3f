package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"inventory-analytics-service/internal/domain"
)

// csvFlushEvery bounds how many rows are buffered before a flush.
const csvFlushEvery = 500

type csvWriter struct {
	w       *csv.Writer
	started bool
	pending int
	done    bool
}

func newCSVWriter(w io.Writer) *csvWriter {
	return &csvWriter{w: csv.NewWriter(w)}
}

func (c *csvWriter) header() error {
	if c.started {
		return nil
	}
	c.started = true
	return c.w.Write(Columns)
}

func (c *csvWriter) WriteRow(row domain.FactRow) error {
	if err := c.header(); err != nil {
		return err
	}
	if err := c.w.Write(Record(row)); err != nil {
		return err
	}
	c.pending++
	if c.pending >= csvFlushEvery {
		c.pending = 0
		c.w.Flush()
		return c.w.Error()
	}
	return nil
}

func (c *csvWriter) Close() error {
	if c.done {
		return nil
	}
	c.done = true
	if err := c.header(); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

// Discard leaves buffered rows unflushed.
func (c *csvWriter) Discard() { c.done = true }

// Record renders row as text fields in Columns order. Absent values are
// empty strings.
func Record(row domain.FactRow) []string {
	multiplier := ""
	if row.ReorderMultiplier.Valid {
		multiplier = row.ReorderMultiplier.Decimal.String()
	}
	return []string{
		row.ProductID,
		row.Date.String(),
		strconv.FormatInt(row.Demand, 10),
		row.Category,
		row.Price.String(),
		row.UOM,
		strconv.Itoa(row.LeadTimeDays),
		strconv.Itoa(row.SafetyStock),
		multiplier,
		strconv.FormatInt(row.InventoryLevel, 10),
		strconv.Itoa(row.StockoutFlag),
		string(row.Month),
		optionalInt(row.ReorderPoint),
		optionalInt(row.RecommendedOrderQty),
	}
}

func optionalInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}
