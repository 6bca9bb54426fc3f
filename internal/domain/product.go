package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Product is the catalog dimension. Prices and multipliers are decimals so they
// survive serialization without float rounding.
type Product struct {
	ID                string              `json:"product_id"`
	Category          string              `json:"category"`
	Price             decimal.Decimal     `json:"price"`
	UOM               string              `json:"uom"`
	LeadTimeDays      int                 `json:"lead_time_days"`
	SafetyStock       int                 `json:"safety_stock"`
	ReorderMultiplier decimal.NullDecimal `json:"reorder_multiplier"`
}

// DailyDemand is the demand observed for one product on one date.
type DailyDemand struct {
	ProductID string
	Date      Date
	Demand    int64
}

// InventoryLevel is the end-of-day stock for one product on one date.
type InventoryLevel struct {
	ProductID      string
	Date           Date
	InventoryLevel int64
}

// ReorderRecommendation is the monthly replenishment advice for a product.
// Month is kept as read from the store; the loader validates it.
type ReorderRecommendation struct {
	ProductID           string
	Month               string
	ReorderPoint        int64
	RecommendedOrderQty int64
}

// FactKey identifies one fact row.
type FactKey struct {
	ProductID string
	Date      Date
}

// Compare orders keys by product id (byte order) then date.
func (k FactKey) Compare(other FactKey) int {
	if c := strings.Compare(k.ProductID, other.ProductID); c != 0 {
		return c
	}
	return k.Date.Compare(other.Date)
}

// RecommendationKey identifies a recommendation by product and month.
type RecommendationKey struct {
	ProductID string
	Month     MonthKey
}

// FactRow is one denormalized (product, date) record of the daily feed.
// ReorderPoint and RecommendedOrderQty are nil when no recommendation exists
// for the product in that month.
type FactRow struct {
	ProductID           string
	Date                Date
	Demand              int64
	Category            string
	Price               decimal.Decimal
	UOM                 string
	LeadTimeDays        int
	SafetyStock         int
	ReorderMultiplier   decimal.NullDecimal
	InventoryLevel      int64
	StockoutFlag        int
	Month               MonthKey
	ReorderPoint        *int64
	RecommendedOrderQty *int64
}

// Key returns the row's (product, date) key.
func (r FactRow) Key() FactKey {
	return FactKey{ProductID: r.ProductID, Date: r.Date}
}

// BelowReorderPoint reports whether the day ended at or under the month's
// reorder point. The second result is false when no recommendation applies.
func (r FactRow) BelowReorderPoint() (bool, bool) {
	if r.ReorderPoint == nil {
		return false, false
	}
	return r.InventoryLevel <= *r.ReorderPoint, true
}

// StockoutFlag is 1 when the day ended with no stock while demand was positive.
func StockoutFlag(inventoryLevel, demand int64) int {
	if inventoryLevel == 0 && demand > 0 {
		return 1
	}
	return 0
}
