package store

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"inventory-analytics-service/internal/domain"
	"inventory-analytics-service/internal/logging"
	"inventory-analytics-service/internal/metrics"
)

// BreakerSettings configures NewBreakerSource.
type BreakerSettings struct {
	// MaxRequests is the number of trial calls let through while half-open.
	MaxRequests uint32
	// Interval resets the failure counts while closed. Zero never resets.
	Interval time.Duration
	// Timeout is how long the breaker stays open before going half-open.
	Timeout time.Duration
	// MinRequests and FailureRatio decide when the breaker opens.
	MinRequests  uint32
	FailureRatio float64
}

// BreakerSource guards every store call of the wrapped Source with a circuit
// breaker. Only ErrUnavailable failures count against the store; rejected
// calls fail fast with ErrUnavailable. Fact cursors that fail with
// ErrUnavailable part way through are counted once, when Err reports it.
type BreakerSource struct {
	Source
	cb *gobreaker.CircuitBreaker[any]
}

// NewBreakerSource wraps src.
func NewBreakerSource(src Source, s BreakerSettings) *BreakerSource {
	name := src.Name() + "-store"
	metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(gobreaker.StateClosed))

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= s.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Store circuit breaker changed state")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrUnavailable)
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled)
		},
	})

	return &BreakerSource{Source: src, cb: cb}
}

// State reports the breaker state.
func (b *BreakerSource) State() gobreaker.State { return b.cb.State() }

func guard[T any](b *BreakerSource, op string, fn func() (T, error)) (T, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, unavailable(op, err)
		}
		return zero, err
	}
	t, _ := v.(T)
	return t, nil
}

// recordFailure counts err against the store. It is a no-op while the
// breaker is open.
func (b *BreakerSource) recordFailure(err error) {
	_, _ = b.cb.Execute(func() (any, error) { return nil, err })
}

// breakerCursor reports iteration failures to the breaker.
type breakerCursor[T any] struct {
	Cursor[T]
	b        *BreakerSource
	reported bool
}

func (c *breakerCursor[T]) Err() error {
	err := c.Cursor.Err()
	if err != nil && !c.reported && errors.Is(err, ErrUnavailable) {
		c.reported = true
		c.b.recordFailure(err)
	}
	return err
}

func (b *BreakerSource) ListProducts(ctx context.Context, filter ProductFilter) ([]domain.Product, error) {
	return guard(b, "ListProducts", func() ([]domain.Product, error) {
		return b.Source.ListProducts(ctx, filter)
	})
}

func (b *BreakerSource) ListCategories(ctx context.Context) ([]string, error) {
	return guard(b, "ListCategories", func() ([]string, error) {
		return b.Source.ListCategories(ctx)
	})
}

func (b *BreakerSource) ListRecommendations(ctx context.Context) ([]domain.ReorderRecommendation, error) {
	return guard(b, "ListRecommendations", func() ([]domain.ReorderRecommendation, error) {
		return b.Source.ListRecommendations(ctx)
	})
}

func (b *BreakerSource) DemandCursor(ctx context.Context, q FactQuery) (Cursor[domain.DailyDemand], error) {
	cur, err := guard(b, "DemandCursor", func() (Cursor[domain.DailyDemand], error) {
		return b.Source.DemandCursor(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	return &breakerCursor[domain.DailyDemand]{Cursor: cur, b: b}, nil
}

func (b *BreakerSource) InventoryCursor(ctx context.Context, q FactQuery) (Cursor[domain.InventoryLevel], error) {
	cur, err := guard(b, "InventoryCursor", func() (Cursor[domain.InventoryLevel], error) {
		return b.Source.InventoryCursor(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	return &breakerCursor[domain.InventoryLevel]{Cursor: cur, b: b}, nil
}

func (b *BreakerSource) Ping(ctx context.Context) error {
	_, err := guard(b, "Ping", func() (struct{}, error) {
		return struct{}{}, b.Source.Ping(ctx)
	})
	return err
}

func (b *BreakerSource) CollectionCounts(ctx context.Context) (map[string]int64, error) {
	return guard(b, "CollectionCounts", func() (map[string]int64, error) {
		return b.Source.CollectionCounts(ctx)
	})
}
