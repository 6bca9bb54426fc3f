package store_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inventory-analytics-service/internal/domain"
	"inventory-analytics-service/internal/store"
	"inventory-analytics-service/internal/store/storetest"
)

func newBreaker(src store.Source) *store.BreakerSource {
	return store.NewBreakerSource(src, store.BreakerSettings{
		MaxRequests:  1,
		Timeout:      time.Hour,
		MinRequests:  3,
		FailureRatio: 0.5,
	})
}

func TestBreakerSource_OpensOnUnavailable(t *testing.T) {
	mem := &storetest.Memory{Err: fmt.Errorf("dial: %w", store.ErrUnavailable)}
	b := newBreaker(mem)

	for i := 0; i < 3; i++ {
		_, err := b.ListCategories(context.Background())
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	// rejected without reaching the store
	before := mem.TotalCalls()
	_, err := b.ListProducts(context.Background(), store.ProductFilter{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrUnavailable))
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, before, mem.TotalCalls())

	assert.Error(t, b.Ping(context.Background()))
}

func TestBreakerSource_IgnoresNonAvailabilityErrors(t *testing.T) {
	mem := &storetest.Memory{Err: errors.New("decode failure")}
	b := newBreaker(mem)

	for i := 0; i < 10; i++ {
		_, err := b.ListRecommendations(context.Background())
		require.Error(t, err)
		assert.False(t, errors.Is(err, store.ErrUnavailable))
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerSource_PassesThroughResults(t *testing.T) {
	day := domain.MustParseDate("2024-01-01")
	mem := &storetest.Memory{
		Products: []domain.Product{{ID: "P1", Category: "Beverages"}},
		Demand:   []domain.DailyDemand{{ProductID: "P1", Date: day, Demand: 4}},
	}
	b := newBreaker(mem)

	assert.Equal(t, "memory", b.Name())
	categories, err := b.ListCategories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Beverages"}, categories)

	cur, err := b.DemandCursor(context.Background(), store.FactQuery{Range: domain.DateRange{Start: day, End: day}})
	require.NoError(t, err)
	require.True(t, cur.Next(context.Background()))
	assert.Equal(t, int64(4), cur.Value().Demand)
	require.NoError(t, cur.Close(context.Background()))

	counts, err := b.CollectionCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[store.CollectionDailyDemand])
	assert.NoError(t, b.Ping(context.Background()))
}

func TestBreakerSource_CountsCursorFailures(t *testing.T) {
	day := domain.MustParseDate("2024-01-01")
	mem := &storetest.Memory{
		Inventory:    []domain.InventoryLevel{{ProductID: "P1", Date: day, InventoryLevel: 3}},
		InventoryErr: fmt.Errorf("read: %w", store.ErrUnavailable),
	}
	b := newBreaker(mem)
	q := store.FactQuery{Range: domain.DateRange{Start: day, End: day}}

	// each cursor opens cleanly and then fails part way through
	for i := 0; i < 2; i++ {
		cur, err := b.InventoryCursor(context.Background(), q)
		require.NoError(t, err)
		for cur.Next(context.Background()) {
		}
		require.ErrorIs(t, cur.Err(), store.ErrUnavailable)
		require.ErrorIs(t, cur.Err(), store.ErrUnavailable)
		require.NoError(t, cur.Close(context.Background()))
	}

	assert.Equal(t, gobreaker.StateOpen, b.State())
	_, err := b.DemandCursor(context.Background(), q)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.True(t, mem.AllCursorsClosed())
}

func TestBreakerSource_CursorIgnoresOtherErrors(t *testing.T) {
	day := domain.MustParseDate("2024-01-01")
	mem := &storetest.Memory{DemandErr: errors.New("decode failure")}
	b := newBreaker(mem)
	q := store.FactQuery{Range: domain.DateRange{Start: day, End: day}}

	for i := 0; i < 5; i++ {
		cur, err := b.DemandCursor(context.Background(), q)
		require.NoError(t, err)
		assert.False(t, cur.Next(context.Background()))
		assert.Error(t, cur.Err())
		require.NoError(t, cur.Close(context.Background()))
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}
