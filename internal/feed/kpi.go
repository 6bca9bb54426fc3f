package feed

import (
	"context"

	"github.com/shopspring/decimal"

	"inventory-analytics-service/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// KPIAccumulator folds fact rows into the KPI summary counters.
type KPIAccumulator struct {
	rows          int64
	inStock       int64
	stockoutDays  int64
	reorderAlerts int64
	totalDemand   int64
	satisfied     int64
}

// Add counts one row.
//
// Fill rate approximation: the rows only carry a stockout flag, not the
// shortfall, so the whole demand of a stockout day counts as unfilled and the
// demand of any other day counts as filled.
func (a *KPIAccumulator) Add(row domain.FactRow) {
	a.rows++
	if row.InventoryLevel > 0 {
		a.inStock++
	}
	a.totalDemand += row.Demand
	if row.StockoutFlag == 1 {
		a.stockoutDays++
	} else {
		a.satisfied += row.Demand
	}
	if below, ok := row.BelowReorderPoint(); ok && below {
		a.reorderAlerts++
	}
}

// Summary renders the counters. With no rows every rate is at its best value:
// fully in stock, no stockouts, full fill rate.
func (a *KPIAccumulator) Summary(totalSKUs int, dateRange domain.DateRange) domain.KPISummary {
	inStock := hundred
	if a.rows > 0 {
		inStock = percentage(a.inStock, a.rows)
	}
	fill := hundred
	if a.totalDemand > 0 {
		fill = percentage(a.satisfied, a.totalDemand)
	}
	return domain.KPISummary{
		TotalSKUs:         totalSKUs,
		InStockPercentage: inStock,
		// complement of the rounded figure so the two always sum to 100
		StockoutRate:     hundred.Sub(inStock),
		FillRate:         fill,
		StockoutDays:     a.stockoutDays,
		ReorderAlertDays: a.reorderAlerts,
		RowCount:         a.rows,
		TotalDemand:      a.totalDemand,
		DateRange:        dateRange.String(),
	}
}

func percentage(part, whole int64) decimal.Decimal {
	return decimal.NewFromInt(part).Mul(hundred).Div(decimal.NewFromInt(whole)).Round(2)
}

// Summarize drains rows into a KPI summary. rows is not closed.
func Summarize(ctx context.Context, rows *Rows, totalSKUs int, dateRange domain.DateRange) (domain.KPISummary, error) {
	var acc KPIAccumulator
	for rows.Next(ctx) {
		acc.Add(rows.Row())
	}
	if err := rows.Err(); err != nil {
		return domain.KPISummary{}, err
	}
	return acc.Summary(totalSKUs, dateRange), nil
}
