package store

import (
	"context"

	"inventory-analytics-service/internal/domain"
)

// Collection (or table) names shared by every backend.
const (
	CollectionProducts        = "products"
	CollectionDailyDemand     = "daily_demand"
	CollectionInventoryLevels = "inventory_levels"
	CollectionRecommendations = "reorder_recommendations"
)

// Collections lists the four source collections in report order.
var Collections = []string{
	CollectionProducts,
	CollectionDailyDemand,
	CollectionInventoryLevels,
	CollectionRecommendations,
}

// Cursor iterates over the results of one store query in the query's sort
// order. Close must be called on every exit path; it is safe to call twice.
type Cursor[T any] interface {
	Next(ctx context.Context) bool
	Value() T
	Err() error
	Close(ctx context.Context) error
}

// ProductFilter restricts ListProducts. A nil Category matches every product.
type ProductFilter struct {
	Category *string
}

// FactQuery selects daily facts. Range bounds are inclusive. A nil ProductIDs
// slice means every product; a non-nil empty slice matches nothing.
type FactQuery struct {
	Range      domain.DateRange
	ProductIDs []string
}

// CatalogReader reads the slow-changing dimensions.
type CatalogReader interface {
	ListProducts(ctx context.Context, filter ProductFilter) ([]domain.Product, error)
	ListCategories(ctx context.Context) ([]string, error)
	// ListRecommendations returns every recommendation sorted by product id and month.
	ListRecommendations(ctx context.Context) ([]domain.ReorderRecommendation, error)
}

// FactReader opens cursors over the daily time series. Both cursors yield
// records sorted by product id (byte order) and then date ascending.
type FactReader interface {
	DemandCursor(ctx context.Context, q FactQuery) (Cursor[domain.DailyDemand], error)
	InventoryCursor(ctx context.Context, q FactQuery) (Cursor[domain.InventoryLevel], error)
}

// HealthChecker backs the readiness check.
type HealthChecker interface {
	Ping(ctx context.Context) error
	CollectionCounts(ctx context.Context) (map[string]int64, error)
}

// Source is a complete read-only backend.
type Source interface {
	CatalogReader
	FactReader
	HealthChecker
	// Name identifies the backend in logs and health reports ("mongo", "postgres").
	Name() string
	Close(ctx context.Context) error
}
