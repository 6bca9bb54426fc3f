package export

import (
	"bufio"
	"io"

	"github.com/goccy/go-json"

	"inventory-analytics-service/internal/domain"
)

// jsonRow mirrors the CSV columns. Decimals are emitted as JSON numbers with
// their exact decimal text.
type jsonRow struct {
	ProductID           string       `json:"product_id"`
	Date                string       `json:"date"`
	Demand              int64        `json:"demand"`
	Category            string       `json:"category"`
	Price               json.Number  `json:"price"`
	UOM                 string       `json:"uom"`
	LeadTimeDays        int          `json:"lead_time_days"`
	SafetyStock         int          `json:"safety_stock"`
	ReorderMultiplier   *json.Number `json:"reorder_multiplier"`
	InventoryLevel      int64        `json:"inventory_level"`
	StockoutFlag        int          `json:"stockout_flag"`
	Month               string       `json:"month"`
	ReorderPoint        *int64       `json:"reorder_point"`
	RecommendedOrderQty *int64       `json:"recommended_order_qty"`
}

func toJSONRow(row domain.FactRow) jsonRow {
	out := jsonRow{
		ProductID:           row.ProductID,
		Date:                row.Date.String(),
		Demand:              row.Demand,
		Category:            row.Category,
		Price:               json.Number(row.Price.String()),
		UOM:                 row.UOM,
		LeadTimeDays:        row.LeadTimeDays,
		SafetyStock:         row.SafetyStock,
		InventoryLevel:      row.InventoryLevel,
		StockoutFlag:        row.StockoutFlag,
		Month:               string(row.Month),
		ReorderPoint:        row.ReorderPoint,
		RecommendedOrderQty: row.RecommendedOrderQty,
	}
	if row.ReorderMultiplier.Valid {
		m := json.Number(row.ReorderMultiplier.Decimal.String())
		out.ReorderMultiplier = &m
	}
	return out
}

// jsonWriter streams a JSON array, one object per row.
type jsonWriter struct {
	buf     *bufio.Writer
	started bool
	done    bool
}

func newJSONWriter(w io.Writer) *jsonWriter {
	return &jsonWriter{buf: bufio.NewWriter(w)}
}

func (j *jsonWriter) WriteRow(row domain.FactRow) error {
	b, err := json.Marshal(toJSONRow(row))
	if err != nil {
		return err
	}
	sep := byte(',')
	if !j.started {
		j.started = true
		sep = '['
	}
	if err := j.buf.WriteByte(sep); err != nil {
		return err
	}
	_, err = j.buf.Write(b)
	return err
}

func (j *jsonWriter) Close() error {
	if j.done {
		return nil
	}
	j.done = true
	if !j.started {
		j.started = true
		if err := j.buf.WriteByte('['); err != nil {
			return err
		}
	}
	if _, err := j.buf.WriteString("]\n"); err != nil {
		return err
	}
	return j.buf.Flush()
}

// Discard never writes the closing bracket.
func (j *jsonWriter) Discard() { j.done = true }
