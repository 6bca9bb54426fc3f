package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"inventory-analytics-service/internal/domain"
	"inventory-analytics-service/internal/logging"
	"inventory-analytics-service/internal/metrics"
	"inventory-analytics-service/internal/store"
)

// ErrUnorderedFacts is returned when a fact cursor yields a key lower than
// one it already produced.
var ErrUnorderedFacts = errors.New("feed: fact stream is not sorted by product and date")

// Stats counts the records dropped while building a feed.
type Stats struct {
	UnknownProduct           int64
	DuplicateKeys            int64
	MalformedRecommendations int64
}

// Warnings is the total number of skipped records.
func (s Stats) Warnings() int64 {
	return s.UnknownProduct + s.DuplicateKeys + s.MalformedRecommendations
}

// side is the lookahead over one sorted fact cursor.
type side[T any] struct {
	cur     store.Cursor[T]
	key     func(T) domain.FactKey
	head    T
	headKey domain.FactKey
	has     bool
	done    bool
	last    domain.FactKey
	started bool
}

// fill loads the next distinct record into head. Later records repeating the
// previous key are skipped and counted in dups.
func (s *side[T]) fill(ctx context.Context, dups *int64) error {
	if s.has || s.done {
		return nil
	}
	for s.cur.Next(ctx) {
		v := s.cur.Value()
		k := s.key(v)
		if s.started {
			switch c := k.Compare(s.last); {
			case c < 0:
				return fmt.Errorf("%w: %s/%s after %s/%s", ErrUnorderedFacts, k.ProductID, k.Date, s.last.ProductID, s.last.Date)
			case c == 0:
				*dups++
				continue
			}
		}
		s.started = true
		s.last = k
		s.head, s.headKey, s.has = v, k, true
		return nil
	}
	s.done = true
	return s.cur.Err()
}

// Rows is the streaming merge-join of a FactStream with Dimensions. Rows are
// produced in (product id, date) order, one per key present on either side.
type Rows struct {
	dims   *Dimensions
	facts  *FactStream
	limit  int
	demand side[domain.DailyDemand]
	inv    side[domain.InventoryLevel]

	row     domain.FactRow
	emitted int
	stats   Stats
	err     error
	done    bool
	closed  bool
}

// NewRows joins facts with dims. A limit of zero or less means no limit; once
// limit rows have been produced the fact cursors are closed.
func NewRows(dims *Dimensions, facts *FactStream, limit int) *Rows {
	return &Rows{
		dims:  dims,
		facts: facts,
		limit: limit,
		demand: side[domain.DailyDemand]{
			cur: facts.demand,
			key: func(d domain.DailyDemand) domain.FactKey { return domain.FactKey{ProductID: d.ProductID, Date: d.Date} },
		},
		inv: side[domain.InventoryLevel]{
			cur: facts.inventory,
			key: func(l domain.InventoryLevel) domain.FactKey { return domain.FactKey{ProductID: l.ProductID, Date: l.Date} },
		},
		stats: Stats{MalformedRecommendations: dims.MalformedRecommendations},
	}
}

// Next advances to the next row. It returns false at the end of the feed, on
// error or once the limit is reached.
func (r *Rows) Next(ctx context.Context) bool {
	for {
		if r.done || r.err != nil {
			return false
		}
		if err := r.demand.fill(ctx, &r.stats.DuplicateKeys); err != nil {
			r.err = err
			return false
		}
		if err := r.inv.fill(ctx, &r.stats.DuplicateKeys); err != nil {
			r.err = err
			return false
		}
		if !r.demand.has && !r.inv.has {
			r.finish(ctx)
			return false
		}

		var key domain.FactKey
		switch {
		case !r.inv.has:
			key = r.demand.headKey
		case !r.demand.has:
			key = r.inv.headKey
		case r.demand.headKey.Compare(r.inv.headKey) <= 0:
			key = r.demand.headKey
		default:
			key = r.inv.headKey
		}

		var demand, level int64
		if r.demand.has && r.demand.headKey == key {
			demand = r.demand.head.Demand
			r.demand.has = false
		}
		if r.inv.has && r.inv.headKey == key {
			level = r.inv.head.InventoryLevel
			r.inv.has = false
		}

		product, ok := r.dims.Products[key.ProductID]
		if !ok {
			r.stats.UnknownProduct++
			continue
		}
		r.row = buildRow(r.dims, product, key.Date, demand, level)
		r.emitted++
		if r.limit > 0 && r.emitted >= r.limit {
			r.finish(ctx)
		}
		return true
	}
}

// finish marks the feed complete and releases the cursors early.
func (r *Rows) finish(ctx context.Context) {
	r.done = true
	if err := r.facts.Close(context.WithoutCancel(ctx)); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Failed to close fact cursors")
	}
}

// Row returns the current row.
func (r *Rows) Row() domain.FactRow { return r.row }

// Err returns the error that stopped iteration, if any.
func (r *Rows) Err() error { return r.err }

// Stats returns the skip counters gathered so far.
func (r *Rows) Stats() Stats { return r.stats }

// Emitted returns the number of rows produced so far.
func (r *Rows) Emitted() int { return r.emitted }

// Close releases the fact cursors and reports the skip counters. It must be
// called on every path and is safe to call more than once.
func (r *Rows) Close(ctx context.Context) error {
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.facts.Close(context.WithoutCancel(ctx))

	metrics.RecordSkipped(metrics.ReasonUnknownProduct, r.stats.UnknownProduct)
	metrics.RecordSkipped(metrics.ReasonDuplicateKey, r.stats.DuplicateKeys)
	if n := r.stats.Warnings(); n > 0 {
		logging.Ctx(ctx).Warn().
			Int64("skipped", n).
			Int64("unknown_product", r.stats.UnknownProduct).
			Int64("duplicate_keys", r.stats.DuplicateKeys).
			Int64("malformed_recommendations", r.stats.MalformedRecommendations).
			Int("rows", r.emitted).
			Msg("Skipped inconsistent fact records")
	}
	return err
}

func buildRow(dims *Dimensions, p domain.Product, date domain.Date, demand, level int64) domain.FactRow {
	month := date.Month()
	row := domain.FactRow{
		ProductID:         p.ID,
		Date:              date,
		Demand:            demand,
		Category:          p.Category,
		Price:             p.Price,
		UOM:               p.UOM,
		LeadTimeDays:      p.LeadTimeDays,
		SafetyStock:       p.SafetyStock,
		ReorderMultiplier: p.ReorderMultiplier,
		InventoryLevel:    level,
		StockoutFlag:      domain.StockoutFlag(level, demand),
		Month:             month,
	}
	if rec, ok := dims.Recommendation(p.ID, month); ok {
		point, qty := rec.ReorderPoint, rec.RecommendedOrderQty
		row.ReorderPoint = &point
		row.RecommendedOrderQty = &qty
	}
	return row
}

// Join is the in-memory form of the feed: it sorts copies of demand and
// inventory and runs the same merge as Rows.
func Join(dims *Dimensions, demand []domain.DailyDemand, inventory []domain.InventoryLevel) ([]domain.FactRow, Stats, error) {
	d := append([]domain.DailyDemand(nil), demand...)
	sort.SliceStable(d, func(i, j int) bool {
		return domain.FactKey{ProductID: d[i].ProductID, Date: d[i].Date}.
			Compare(domain.FactKey{ProductID: d[j].ProductID, Date: d[j].Date}) < 0
	})
	inv := append([]domain.InventoryLevel(nil), inventory...)
	sort.SliceStable(inv, func(i, j int) bool {
		return domain.FactKey{ProductID: inv[i].ProductID, Date: inv[i].Date}.
			Compare(domain.FactKey{ProductID: inv[j].ProductID, Date: inv[j].Date}) < 0
	})

	ctx := context.Background()
	rows := NewRows(dims, NewFactStream(store.NewSliceCursor(d), store.NewSliceCursor(inv)), 0)
	defer rows.Close(ctx)

	out := make([]domain.FactRow, 0, len(d))
	for rows.Next(ctx) {
		out = append(out, rows.Row())
	}
	return out, rows.Stats(), rows.Err()
}
