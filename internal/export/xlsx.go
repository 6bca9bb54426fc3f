package export

import (
	"io"

	"github.com/xuri/excelize/v2"

	"inventory-analytics-service/internal/domain"
)

// SheetName is the worksheet holding the feed in XLSX output.
const SheetName = "fact_daily"

// xlsxWriter streams rows into a worksheet. The workbook is a zip archive,
// so it reaches the client only when Close writes it out.
type xlsxWriter struct {
	out     io.Writer
	file    *excelize.File
	sw      *excelize.StreamWriter
	header  int
	row     int
	started bool
	closed  bool
}

func newXLSXWriter(out io.Writer) (*xlsxWriter, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		_ = f.Close()
		return nil, err
	}
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
	})
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &xlsxWriter{out: out, file: f, sw: sw, header: header}, nil
}

func (x *xlsxWriter) writeHeader() error {
	if x.started {
		return nil
	}
	x.started = true
	values := make([]interface{}, len(Columns))
	for i, c := range Columns {
		values[i] = c
	}
	x.row = 1
	return x.sw.SetRow("A1", values, excelize.RowOpts{StyleID: x.header})
}

func (x *xlsxWriter) WriteRow(row domain.FactRow) error {
	if err := x.writeHeader(); err != nil {
		return err
	}
	x.row++
	cell, err := excelize.CoordinatesToCellName(1, x.row)
	if err != nil {
		return err
	}
	return x.sw.SetRow(cell, xlsxValues(row))
}

func (x *xlsxWriter) Close() error {
	if x.closed {
		return nil
	}
	defer x.release()
	if err := x.writeHeader(); err != nil {
		return err
	}
	if err := x.sw.Flush(); err != nil {
		return err
	}
	return x.file.Write(x.out)
}

// Discard drops the workbook. File.Close removes the temporary files the
// stream writer spills to once a sheet outgrows memory.
func (x *xlsxWriter) Discard() {
	if !x.closed {
		x.release()
	}
}

func (x *xlsxWriter) release() {
	x.closed = true
	_ = x.file.Close()
}

// xlsxValues keeps numbers numeric so spreadsheets can aggregate them. Absent
// values become blank cells.
func xlsxValues(row domain.FactRow) []interface{} {
	var multiplier, point, qty interface{}
	if row.ReorderMultiplier.Valid {
		multiplier = row.ReorderMultiplier.Decimal.InexactFloat64()
	}
	if row.ReorderPoint != nil {
		point = *row.ReorderPoint
	}
	if row.RecommendedOrderQty != nil {
		qty = *row.RecommendedOrderQty
	}
	return []interface{}{
		row.ProductID,
		row.Date.String(),
		row.Demand,
		row.Category,
		row.Price.InexactFloat64(),
		row.UOM,
		row.LeadTimeDays,
		row.SafetyStock,
		multiplier,
		row.InventoryLevel,
		row.StockoutFlag,
		string(row.Month),
		point,
		qty,
	}
}
