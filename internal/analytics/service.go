// Package analytics is the query façade of the service: it validates request
// parameters and orchestrates the store, the feed engine and KPI math.
package analytics

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"inventory-analytics-service/internal/domain"
	"inventory-analytics-service/internal/feed"
	"inventory-analytics-service/internal/logging"
	"inventory-analytics-service/internal/store"
)

// ServiceName is reported by the liveness endpoint.
const ServiceName = "Inventory Optimization API"

// Config is injected at startup; the service never reads the environment.
type Config struct {
	// Database labels the backing database in health reports.
	Database     string
	DefaultStart domain.Date
	DefaultEnd   domain.Date
	// MaxLimit rejects larger feed limits when > 0.
	MaxLimit int
	// Now is the clock used for report timestamps.
	Now func() time.Time
}

// DefaultConfig returns the documented defaults (first quarter of 2024).
func DefaultConfig() Config {
	return Config{
		Database:     "inventory_demo",
		DefaultStart: domain.MustParseDate("2024-01-01"),
		DefaultEnd:   domain.MustParseDate("2024-03-31"),
		Now:          time.Now,
	}
}

// Service answers feed, catalog, KPI and health queries.
type Service struct {
	src      store.Source
	cfg      Config
	validate *validator.Validate
}

// NewService creates a new Service instance.
func NewService(src store.Source, cfg Config) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{src: src, cfg: cfg, validate: newValidator()}
}

// Config returns the service configuration.
func (s *Service) Config() Config { return s.cfg }

// DailyFacts opens the denormalized feed for q. The caller must Close the
// returned rows. An inverted date range yields no rows without a store read.
func (s *Service) DailyFacts(ctx context.Context, q FeedQuery) (*feed.Rows, error) {
	if q.Range.Empty() {
		return feed.NewRows(feed.NewDimensions(nil, nil), feed.EmptyFacts(), q.Limit), nil
	}
	rows, _, err := s.openRows(ctx, q.Range, q.Category, q.Limit)
	return rows, err
}

// openRows loads the dimensions first so a category filter restricts the
// fact read to the matching products.
func (s *Service) openRows(ctx context.Context, r domain.DateRange, category *string, limit int) (*feed.Rows, *feed.Dimensions, error) {
	dims, err := feed.LoadDimensions(ctx, s.src, category)
	if err != nil {
		return nil, nil, err
	}
	fq := store.FactQuery{Range: r}
	if category != nil {
		fq.ProductIDs = dims.ProductIDs
	}
	facts, err := feed.OpenFacts(ctx, s.src, fq)
	if err != nil {
		return nil, nil, err
	}
	return feed.NewRows(dims, facts, limit), dims, nil
}

// Products lists the catalog, optionally restricted to one category.
func (s *Service) Products(ctx context.Context, category *string) ([]domain.Product, error) {
	return s.src.ListProducts(ctx, store.ProductFilter{Category: category})
}

// Categories lists the distinct product categories in ascending order.
func (s *Service) Categories(ctx context.Context) ([]string, error) {
	return s.src.ListCategories(ctx)
}

// KPIs summarizes the same rows the feed would return for q (without limit).
func (s *Service) KPIs(ctx context.Context, q KPIQuery) (*domain.KPISummary, error) {
	rows, dims, err := s.openRows(ctx, q.Range, q.Category, 0)
	if err != nil {
		return nil, err
	}
	defer rows.Close(ctx)

	summary, err := feed.Summarize(ctx, rows, len(dims.Products), q.Range)
	if err != nil {
		return nil, err
	}
	logging.Ctx(ctx).Debug().
		Int64("rows", summary.RowCount).
		Str("date_range", summary.DateRange).
		Msg("Computed KPI summary")
	return &summary, nil
}

// Info describes the running service for the liveness endpoint.
type Info struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Database  string    `json:"database"`
	Store     string    `json:"store"`
	Timestamp time.Time `json:"timestamp"`
}

// Info returns the liveness payload. It does not touch the store.
func (s *Service) Info() Info {
	return Info{
		Status:    "healthy",
		Service:   ServiceName,
		Database:  s.cfg.Database,
		Store:     s.src.Name(),
		Timestamp: s.cfg.Now(),
	}
}

// Health pings the store and counts the documents of every collection.
func (s *Service) Health(ctx context.Context) domain.HealthReport {
	report := domain.HealthReport{
		Database:  s.cfg.Database,
		Timestamp: s.cfg.Now(),
	}
	if err := s.src.Ping(ctx); err != nil {
		return unhealthy(report, err)
	}
	counts, err := s.src.CollectionCounts(ctx)
	if err != nil {
		return unhealthy(report, err)
	}
	report.Healthy = true
	report.Status = "healthy"
	report.Store = "connected"
	report.Collections = counts
	return report
}

func unhealthy(report domain.HealthReport, err error) domain.HealthReport {
	report.Healthy = false
	report.Status = "unhealthy"
	report.Store = "disconnected"
	report.Error = "Database connection failed: " + err.Error()
	return report
}
