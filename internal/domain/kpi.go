package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// KPISummary holds the headline inventory figures for a date range.
// Percentages are rounded to two decimal places.
type KPISummary struct {
	TotalSKUs         int             `json:"total_skus"`
	InStockPercentage decimal.Decimal `json:"in_stock_percentage"`
	FillRate          decimal.Decimal `json:"fill_rate"`
	StockoutRate      decimal.Decimal `json:"stockout_rate"`
	StockoutDays      int64           `json:"stockout_days"`
	ReorderAlertDays  int64           `json:"reorder_alert_days"`
	RowCount          int64           `json:"row_count"`
	TotalDemand       int64           `json:"total_demand"`
	DateRange         string          `json:"date_range"`
}

// HealthReport describes store connectivity for readiness checks.
type HealthReport struct {
	Healthy     bool             `json:"-"`
	Status      string           `json:"status"`
	Store       string           `json:"store"`
	Database    string           `json:"database"`
	Collections map[string]int64 `json:"collections,omitempty"`
	Error       string           `json:"error,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}
