package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inventory-analytics-service/internal/domain"
	"inventory-analytics-service/internal/logging"
	"inventory-analytics-service/internal/store"
	"inventory-analytics-service/internal/store/storetest"
)

func day(s string) domain.Date { return domain.MustParseDate(s) }

func product(id, category string) domain.Product {
	return domain.Product{
		ID:           id,
		Category:     category,
		Price:        decimal.RequireFromString("10.00"),
		UOM:          "EA",
		LeadTimeDays: 3,
		SafetyStock:  5,
	}
}

func TestJoin_SingleStockoutRow(t *testing.T) {
	dims := NewDimensions([]domain.Product{product("p1", "A")}, nil)

	rows, stats, err := Join(dims,
		[]domain.DailyDemand{{ProductID: "p1", Date: day("2024-01-01"), Demand: 5}},
		[]domain.InventoryLevel{{ProductID: "p1", Date: day("2024-01-01"), InventoryLevel: 0}},
	)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Zero(t, stats.Warnings())

	row := rows[0]
	assert.Equal(t, "p1", row.ProductID)
	assert.Equal(t, "A", row.Category)
	assert.Equal(t, int64(5), row.Demand)
	assert.Equal(t, int64(0), row.InventoryLevel)
	assert.Equal(t, 1, row.StockoutFlag)
	assert.Equal(t, domain.MonthKey("2024-01"), row.Month)
	assert.Nil(t, row.ReorderPoint)
	assert.Nil(t, row.RecommendedOrderQty)
}

func TestJoin_MissingSideIsZero(t *testing.T) {
	dims := NewDimensions([]domain.Product{product("p1", "A")}, nil)

	rows, _, err := Join(dims,
		[]domain.DailyDemand{{ProductID: "p1", Date: day("2024-01-01"), Demand: 4}},
		[]domain.InventoryLevel{{ProductID: "p1", Date: day("2024-01-02"), InventoryLevel: 9}},
	)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, day("2024-01-01"), rows[0].Date)
	assert.Equal(t, int64(4), rows[0].Demand)
	assert.Equal(t, int64(0), rows[0].InventoryLevel)
	assert.Equal(t, 1, rows[0].StockoutFlag, "zero-filled inventory with demand is a stockout")

	assert.Equal(t, day("2024-01-02"), rows[1].Date)
	assert.Equal(t, int64(0), rows[1].Demand)
	assert.Equal(t, int64(9), rows[1].InventoryLevel)
	assert.Equal(t, 0, rows[1].StockoutFlag)
}

func TestJoin_UnknownProductSkipped(t *testing.T) {
	dims := NewDimensions([]domain.Product{product("p1", "A")}, nil)

	rows, stats, err := Join(dims,
		[]domain.DailyDemand{
			{ProductID: "ghost", Date: day("2024-01-01"), Demand: 3},
			{ProductID: "p1", Date: day("2024-01-01"), Demand: 1},
		},
		[]domain.InventoryLevel{{ProductID: "ghost", Date: day("2024-01-02"), InventoryLevel: 8}},
	)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "p1", rows[0].ProductID)
	assert.Equal(t, int64(2), stats.UnknownProduct)
}

func TestJoin_RecommendationByRowMonth(t *testing.T) {
	dims := NewDimensions(
		[]domain.Product{product("p1", "A")},
		[]domain.ReorderRecommendation{
			{ProductID: "p1", Month: "2024-01", ReorderPoint: 0, RecommendedOrderQty: 0},
			{ProductID: "p1", Month: "2024-02", ReorderPoint: 20, RecommendedOrderQty: 60},
		},
	)

	rows, _, err := Join(dims,
		[]domain.DailyDemand{
			{ProductID: "p1", Date: day("2024-01-31"), Demand: 2},
			{ProductID: "p1", Date: day("2024-02-01"), Demand: 2},
			{ProductID: "p1", Date: day("2024-03-01"), Demand: 2},
		},
		nil,
	)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// a zero recommendation is still a recommendation
	require.NotNil(t, rows[0].ReorderPoint)
	assert.Equal(t, int64(0), *rows[0].ReorderPoint)

	require.NotNil(t, rows[1].ReorderPoint)
	assert.Equal(t, int64(20), *rows[1].ReorderPoint)
	assert.Equal(t, int64(60), *rows[1].RecommendedOrderQty)

	assert.Equal(t, domain.MonthKey("2024-03"), rows[2].Month)
	assert.Nil(t, rows[2].ReorderPoint)
}

func TestJoin_OrderedByProductBytesThenDate(t *testing.T) {
	dims := NewDimensions([]domain.Product{product("P2", "A"), product("P10", "A"), product("p1", "A")}, nil)

	rows, _, err := Join(dims,
		[]domain.DailyDemand{
			{ProductID: "p1", Date: day("2024-01-02")},
			{ProductID: "P2", Date: day("2024-01-02")},
			{ProductID: "P10", Date: day("2024-01-01")},
			{ProductID: "P2", Date: day("2024-01-01")},
		},
		[]domain.InventoryLevel{{ProductID: "p1", Date: day("2024-01-01"), InventoryLevel: 1}},
	)
	require.NoError(t, err)

	var keys []string
	for _, r := range rows {
		keys = append(keys, r.ProductID+"@"+r.Date.String())
	}
	assert.Equal(t, []string{
		"P10@2024-01-01",
		"P2@2024-01-01",
		"P2@2024-01-02",
		"p1@2024-01-01",
		"p1@2024-01-02",
	}, keys)
}

func TestJoin_DuplicateKeysSkipped(t *testing.T) {
	dims := NewDimensions([]domain.Product{product("p1", "A")}, nil)

	rows, stats, err := Join(dims,
		[]domain.DailyDemand{
			{ProductID: "p1", Date: day("2024-01-01"), Demand: 5},
			{ProductID: "p1", Date: day("2024-01-01"), Demand: 7},
		},
		[]domain.InventoryLevel{{ProductID: "p1", Date: day("2024-01-01"), InventoryLevel: 2}},
	)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(5), rows[0].Demand, "first record of a key wins")
	assert.Equal(t, int64(1), stats.DuplicateKeys)
}

func TestRows_UnorderedStreamFails(t *testing.T) {
	dims := NewDimensions([]domain.Product{product("p1", "A")}, nil)
	facts := NewFactStream(
		store.NewSliceCursor([]domain.DailyDemand{
			{ProductID: "p1", Date: day("2024-01-02")},
			{ProductID: "p1", Date: day("2024-01-01")},
		}),
		store.NewSliceCursor[domain.InventoryLevel](nil),
	)

	rows := NewRows(dims, facts, 0)
	defer rows.Close(context.Background())

	n := 0
	for rows.Next(context.Background()) {
		n++
	}
	assert.Equal(t, 1, n)
	assert.True(t, errors.Is(rows.Err(), ErrUnorderedFacts))
}

func TestRows_CursorErrorSurfaces(t *testing.T) {
	boom := errors.New("cursor broke")
	src := &storetest.Memory{
		Products:     []domain.Product{product("p1", "A")},
		Demand:       []domain.DailyDemand{{ProductID: "p1", Date: day("2024-01-01"), Demand: 1}},
		InventoryErr: boom,
	}
	dims := NewDimensions(src.Products, nil)
	facts, err := OpenFacts(context.Background(), src, store.FactQuery{Range: domain.DateRange{Start: day("2024-01-01"), End: day("2024-01-31")}})
	require.NoError(t, err)

	rows := NewRows(dims, facts, 0)
	for rows.Next(context.Background()) {
	}
	assert.ErrorIs(t, rows.Err(), boom)
	require.NoError(t, rows.Close(context.Background()))
	assert.True(t, src.AllCursorsClosed())
}

func fiftyRowSource() *storetest.Memory {
	src := &storetest.Memory{}
	for p := 0; p < 5; p++ {
		id := fmt.Sprintf("P%02d", p)
		src.Products = append(src.Products, product(id, "A"))
		for d := 1; d <= 10; d++ {
			date := domain.MustParseDate(fmt.Sprintf("2024-01-%02d", d))
			src.Demand = append(src.Demand, domain.DailyDemand{ProductID: id, Date: date, Demand: int64(d)})
			src.Inventory = append(src.Inventory, domain.InventoryLevel{ProductID: id, Date: date, InventoryLevel: int64((d + p) % 3)})
		}
	}
	return src
}

func collect(t *testing.T, src *storetest.Memory, limit int) []domain.FactRow {
	t.Helper()
	ctx := context.Background()
	dims := NewDimensions(src.Products, src.Recommendations)
	facts, err := OpenFacts(ctx, src, store.FactQuery{Range: domain.DateRange{Start: day("2024-01-01"), End: day("2024-01-31")}})
	require.NoError(t, err)

	rows := NewRows(dims, facts, limit)
	defer rows.Close(ctx)

	var out []domain.FactRow
	for rows.Next(ctx) {
		out = append(out, rows.Row())
	}
	require.NoError(t, rows.Err())
	return out
}

func TestRows_LimitIsPrefixOfFullFeed(t *testing.T) {
	src := fiftyRowSource()

	all := collect(t, src, 0)
	require.Len(t, all, 50)

	limited := collect(t, src, 10)
	require.Len(t, limited, 10)
	assert.Equal(t, all[:10], limited)
}

func TestRows_LimitClosesCursorsEarly(t *testing.T) {
	src := fiftyRowSource()
	ctx := context.Background()
	facts, err := OpenFacts(ctx, src, store.FactQuery{Range: domain.DateRange{Start: day("2024-01-01"), End: day("2024-01-31")}})
	require.NoError(t, err)

	rows := NewRows(NewDimensions(src.Products, nil), facts, 3)
	for i := 0; i < 3; i++ {
		require.True(t, rows.Next(ctx))
	}
	assert.True(t, src.AllCursorsClosed(), "cursors should close once the limit is reached")
	assert.False(t, rows.Next(ctx))
	assert.Equal(t, 3, rows.Emitted())
	require.NoError(t, rows.Close(ctx))
}

func TestRows_Deterministic(t *testing.T) {
	src := fiftyRowSource()
	assert.Equal(t, collect(t, src, 0), collect(t, src, 0))
}

func TestRows_CancelledContext(t *testing.T) {
	src := fiftyRowSource()
	ctx, cancel := context.WithCancel(context.Background())
	facts, err := OpenFacts(ctx, src, store.FactQuery{Range: domain.DateRange{Start: day("2024-01-01"), End: day("2024-01-31")}})
	require.NoError(t, err)

	rows := NewRows(NewDimensions(src.Products, nil), facts, 0)
	require.True(t, rows.Next(ctx))
	cancel()
	for rows.Next(ctx) {
	}
	assert.ErrorIs(t, rows.Err(), context.Canceled)

	require.NoError(t, rows.Close(ctx))
	assert.True(t, src.AllCursorsClosed())
}

func TestOpenFacts_ShortCircuits(t *testing.T) {
	src := fiftyRowSource()
	ctx := context.Background()

	inverted := store.FactQuery{Range: domain.DateRange{Start: day("2024-02-01"), End: day("2024-01-01")}}
	facts, err := OpenFacts(ctx, src, inverted)
	require.NoError(t, err)
	rows := NewRows(NewDimensions(src.Products, nil), facts, 0)
	assert.False(t, rows.Next(ctx))
	require.NoError(t, rows.Close(ctx))

	noProducts := store.FactQuery{Range: domain.DateRange{Start: day("2024-01-01"), End: day("2024-01-31")}, ProductIDs: []string{}}
	facts, err = OpenFacts(ctx, src, noProducts)
	require.NoError(t, err)
	require.NoError(t, facts.Close(ctx))

	assert.Zero(t, src.TotalCalls())
}

func TestOpenFacts_InventoryOpenFailureClosesDemand(t *testing.T) {
	src := &failingInventory{Memory: fiftyRowSource()}
	_, err := OpenFacts(context.Background(), src, store.FactQuery{Range: domain.DateRange{Start: day("2024-01-01"), End: day("2024-01-31")}})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.Equal(t, 1, src.CursorCount())
	assert.True(t, src.AllCursorsClosed())
}

type failingInventory struct {
	*storetest.Memory
}

func (f *failingInventory) InventoryCursor(context.Context, store.FactQuery) (store.Cursor[domain.InventoryLevel], error) {
	return nil, fmt.Errorf("inventory: %w", store.ErrUnavailable)
}

func TestRowsClose_LogsSkippedTotal(t *testing.T) {
	var buf bytes.Buffer
	logging.Init(logging.Config{Level: "warn", Output: &buf})
	t.Cleanup(func() { logging.Init(logging.Config{}) })

	dims := NewDimensions([]domain.Product{product("p1", "A")}, nil)
	_, stats, err := Join(dims,
		[]domain.DailyDemand{
			{ProductID: "p1", Date: day("2024-01-01"), Demand: 1},
			{ProductID: "p1", Date: day("2024-01-01"), Demand: 2},
			{ProductID: "p9", Date: day("2024-01-01"), Demand: 3},
		},
		nil,
	)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Warnings())

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "Skipped inconsistent fact records", entry["message"])
	assert.EqualValues(t, 2, entry["skipped"])
	assert.EqualValues(t, 1, entry["unknown_product"])
	assert.EqualValues(t, 1, entry["duplicate_keys"])
}
