package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"inventory-analytics-service/internal/domain"
	"inventory-analytics-service/internal/metrics"
)

// PostgresPool holds connection pool settings for OpenPostgres.
type PostgresPool struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// QueryTimeout bounds each catalog read when > 0.
	QueryTimeout time.Duration
}

// PostgresStore implements Source on a relational mirror of the four
// collections (tables with the same names and columns).
type PostgresStore struct {
	db           *sql.DB
	queryTimeout time.Duration
}

// NewPostgresStore creates a new PostgresStore instance.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres opens a pooled connection and pings it.
func OpenPostgres(ctx context.Context, dsn string, pool PostgresPool) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open postgres: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, unavailable("ping", err)
	}
	ps := NewPostgresStore(db)
	ps.queryTimeout = pool.QueryTimeout
	return ps, nil
}

func (s *PostgresStore) Name() string { return "postgres" }

func (s *PostgresStore) Close(context.Context) error {
	return s.db.Close()
}

func (s *PostgresStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout > 0 {
		return context.WithTimeout(ctx, s.queryTimeout)
	}
	return ctx, func() {}
}

// --- CatalogReader ---

func (s *PostgresStore) ListProducts(ctx context.Context, filter ProductFilter) (_ []domain.Product, err error) {
	start := time.Now()
	defer func() { metrics.ObserveStoreQuery("select", CollectionProducts, start, err) }()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT product_id, category, price, uom, lead_time_days, safety_stock, reorder_multiplier
		FROM products`
	var args []interface{}
	if filter.Category != nil {
		query += ` WHERE category = $1`
		args = append(args, *filter.Category)
	}
	query += ` ORDER BY product_id COLLATE "C";`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyPostgres("ListProducts", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		var p domain.Product
		var price decimal.Decimal
		var multiplier decimal.NullDecimal
		if err := rows.Scan(&p.ID, &p.Category, &price, &p.UOM, &p.LeadTimeDays, &p.SafetyStock, &multiplier); err != nil {
			return nil, fmt.Errorf("store: ListProducts failed to scan product row: %w", err)
		}
		p.Price = price
		p.ReorderMultiplier = multiplier
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPostgres("ListProducts", err)
	}
	return products, nil
}

func (s *PostgresStore) ListCategories(ctx context.Context) (_ []string, err error) {
	start := time.Now()
	defer func() { metrics.ObserveStoreQuery("select", CollectionProducts, start, err) }()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT category FROM products WHERE category IS NOT NULL;`)
	if err != nil {
		return nil, classifyPostgres("ListCategories", err)
	}
	defer rows.Close()

	categories := make([]string, 0)
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("store: ListCategories failed to scan category row: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPostgres("ListCategories", err)
	}
	sort.Strings(categories)
	return categories, nil
}

func (s *PostgresStore) ListRecommendations(ctx context.Context) (_ []domain.ReorderRecommendation, err error) {
	start := time.Now()
	defer func() { metrics.ObserveStoreQuery("select", CollectionRecommendations, start, err) }()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT product_id, month, reorder_point, recommended_order_qty
		FROM reorder_recommendations
		ORDER BY product_id COLLATE "C", month;`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, classifyPostgres("ListRecommendations", err)
	}
	defer rows.Close()

	recs := make([]domain.ReorderRecommendation, 0)
	for rows.Next() {
		var r domain.ReorderRecommendation
		if err := rows.Scan(&r.ProductID, &r.Month, &r.ReorderPoint, &r.RecommendedOrderQty); err != nil {
			return nil, fmt.Errorf("store: ListRecommendations failed to scan recommendation row: %w", err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPostgres("ListRecommendations", err)
	}
	return recs, nil
}

// --- FactReader ---

// factQuery builds a range query over one fact table. Ordering uses the "C"
// collation so product ids sort by bytes, matching the Mongo backend.
func factQuery(table, valueColumn string, q FactQuery) (string, []interface{}) {
	query := fmt.Sprintf(`
		SELECT product_id, date, %s
		FROM %s
		WHERE date BETWEEN $1 AND $2`, valueColumn, table)
	args := []interface{}{q.Range.Start.String(), q.Range.End.String()}
	if q.ProductIDs != nil {
		query += ` AND product_id = ANY($3)`
		args = append(args, pq.Array(q.ProductIDs))
	}
	query += ` ORDER BY product_id COLLATE "C", date;`
	return query, args
}

func (s *PostgresStore) DemandCursor(ctx context.Context, q FactQuery) (Cursor[domain.DailyDemand], error) {
	query, args := factQuery(CollectionDailyDemand, "demand", q)
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	metrics.ObserveStoreQuery("select", CollectionDailyDemand, start, err)
	if err != nil {
		return nil, classifyPostgres("DemandCursor", err)
	}
	return &rowsCursor[domain.DailyDemand]{
		rows:  rows,
		table: CollectionDailyDemand,
		scan: func(rows *sql.Rows) (domain.DailyDemand, error) {
			var d domain.DailyDemand
			var date time.Time
			err := rows.Scan(&d.ProductID, &date, &d.Demand)
			d.Date = domain.DateOf(date)
			return d, err
		},
	}, nil
}

func (s *PostgresStore) InventoryCursor(ctx context.Context, q FactQuery) (Cursor[domain.InventoryLevel], error) {
	query, args := factQuery(CollectionInventoryLevels, "inventory_level", q)
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	metrics.ObserveStoreQuery("select", CollectionInventoryLevels, start, err)
	if err != nil {
		return nil, classifyPostgres("InventoryCursor", err)
	}
	return &rowsCursor[domain.InventoryLevel]{
		rows:  rows,
		table: CollectionInventoryLevels,
		scan: func(rows *sql.Rows) (domain.InventoryLevel, error) {
			var l domain.InventoryLevel
			var date time.Time
			err := rows.Scan(&l.ProductID, &date, &l.InventoryLevel)
			l.Date = domain.DateOf(date)
			return l, err
		},
	}, nil
}

type rowsCursor[T any] struct {
	rows  *sql.Rows
	table string
	scan  func(*sql.Rows) (T, error)
	value T
	err   error
}

func (c *rowsCursor[T]) Next(context.Context) bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	v, err := c.scan(c.rows)
	if err != nil {
		c.err = fmt.Errorf("store: failed to scan %s row: %w", c.table, err)
		return false
	}
	c.value = v
	return true
}

func (c *rowsCursor[T]) Value() T { return c.value }

func (c *rowsCursor[T]) Err() error {
	if c.err != nil {
		return c.err
	}
	if err := c.rows.Err(); err != nil {
		return classifyPostgres("cursor "+c.table, err)
	}
	return nil
}

// Close is idempotent; sql.Rows tolerates repeated Close calls.
func (c *rowsCursor[T]) Close(context.Context) error {
	return c.rows.Close()
}

// --- HealthChecker ---

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *PostgresStore) CollectionCounts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(Collections))
	for _, table := range Collections {
		var n int64
		// Table names come from the fixed Collections list.
		if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s;`, table)).Scan(&n); err != nil {
			return nil, classifyPostgres("CollectionCounts "+table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

// classifyPostgres maps connection and authentication failures onto ErrUnavailable.
func classifyPostgres(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return unavailable(op, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// SQLSTATE 08 is a connection exception, 28 an authorization failure
		if class := pqErr.Code.Class(); class == "08" || class == "28" {
			return unavailable(op, err)
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return unavailable(op, err)
	}
	return fmt.Errorf("store: %s failed: %w", op, err)
}
