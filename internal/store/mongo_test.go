package store

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"inventory-analytics-service/internal/domain"
)

func newMockMongo(t *testing.T) *mtest.T {
	return mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
}

func TestMongoStore_ListProducts(t *testing.T) {
	mt := newMockMongo(t)

	mt.Run("decodes ids and numeric fields", func(mt *mtest.T) {
		oid := primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "analytics.products", mtest.FirstBatch,
			bson.D{
				{Key: "_id", Value: "P2"},
				{Key: "category", Value: "Snacks"},
				{Key: "price", Value: 1.5},
				{Key: "uom", Value: "BOX"},
				{Key: "lead_time_days", Value: 4},
				{Key: "safety_stock", Value: 2},
			},
			bson.D{
				{Key: "_id", Value: oid},
				{Key: "product_id", Value: "P1"},
				{Key: "category", Value: "Beverages"},
				{Key: "price", Value: "2.25"},
				{Key: "uom", Value: "EA"},
				{Key: "lead_time_days", Value: 3},
				{Key: "safety_stock", Value: 10},
				{Key: "reorder_multiplier", Value: int32(2)},
			},
		))

		products, err := NewMongoStore(mt.DB).ListProducts(context.Background(), ProductFilter{})
		require.NoError(mt, err)
		require.Len(mt, products, 2)

		// sorted by product id regardless of store order
		assert.Equal(mt, "P1", products[0].ID)
		assert.True(mt, decimal.RequireFromString("2.25").Equal(products[0].Price))
		assert.True(mt, products[0].ReorderMultiplier.Valid)
		assert.True(mt, decimal.NewFromInt(2).Equal(products[0].ReorderMultiplier.Decimal))

		assert.Equal(mt, "P2", products[1].ID)
		assert.Equal(mt, "Snacks", products[1].Category)
		assert.True(mt, decimal.RequireFromString("1.5").Equal(products[1].Price))
		assert.False(mt, products[1].ReorderMultiplier.Valid)
	})

	mt.Run("authentication failure is unavailable", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    mongoAuthFailed,
			Message: "Authentication failed.",
			Name:    "AuthenticationFailed",
		}))

		_, err := NewMongoStore(mt.DB).ListProducts(context.Background(), ProductFilter{})
		require.Error(mt, err)
		assert.True(mt, errors.Is(err, ErrUnavailable))
	})

	mt.Run("other command errors are not unavailable", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    2,
			Message: "bad value",
			Name:    "BadValue",
		}))

		_, err := NewMongoStore(mt.DB).ListProducts(context.Background(), ProductFilter{})
		require.Error(mt, err)
		assert.False(mt, errors.Is(err, ErrUnavailable))
	})
}

func TestMongoStore_ListCategories(t *testing.T) {
	mt := newMockMongo(t)

	mt.Run("distinct values sorted", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "values", Value: bson.A{"Snacks", "Beverages", "Dairy"}},
		))

		categories, err := NewMongoStore(mt.DB).ListCategories(context.Background())
		require.NoError(mt, err)
		assert.Equal(mt, []string{"Beverages", "Dairy", "Snacks"}, categories)
	})
}

func TestMongoStore_ListRecommendations_MonthFallback(t *testing.T) {
	mt := newMockMongo(t)

	mt.Run("month from date prefix", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "analytics.reorder_recommendations", mtest.FirstBatch,
			bson.D{
				{Key: "product_id", Value: "P1"},
				{Key: "month", Value: "2024-01"},
				{Key: "reorder_point", Value: int64(40)},
				{Key: "recommended_order_qty", Value: int64(100)},
			},
			bson.D{
				{Key: "product_id", Value: "P1"},
				{Key: "date", Value: "2024-02-01"},
				{Key: "reorder_point", Value: int64(42)},
				{Key: "recommended_order_qty", Value: int64(110)},
			},
		))

		recs, err := NewMongoStore(mt.DB).ListRecommendations(context.Background())
		require.NoError(mt, err)
		require.Len(mt, recs, 2)
		assert.Equal(mt, "2024-01", recs[0].Month)
		assert.Equal(mt, "2024-02", recs[1].Month)
		assert.Equal(mt, int64(42), recs[1].ReorderPoint)
	})
}

func TestMongoStore_DemandCursor_SkipsMalformedDates(t *testing.T) {
	mt := newMockMongo(t)

	mt.Run("malformed date skipped", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "analytics.daily_demand", mtest.FirstBatch,
			bson.D{{Key: "product_id", Value: "P1"}, {Key: "date", Value: "2024-01-01"}, {Key: "demand", Value: int64(5)}},
			bson.D{{Key: "product_id", Value: "P1"}, {Key: "date", Value: "01/02/2024"}, {Key: "demand", Value: int64(9)}},
			bson.D{{Key: "product_id", Value: "P1"}, {Key: "date", Value: "2024-01-03"}, {Key: "demand", Value: int64(7)}},
		))

		q := FactQuery{Range: domain.DateRange{
			Start: domain.MustParseDate("2024-01-01"),
			End:   domain.MustParseDate("2024-01-31"),
		}}
		cur, err := NewMongoStore(mt.DB).DemandCursor(context.Background(), q)
		require.NoError(mt, err)

		var got []domain.DailyDemand
		for cur.Next(context.Background()) {
			got = append(got, cur.Value())
		}
		require.NoError(mt, cur.Err())
		require.NoError(mt, cur.Close(context.Background()))
		require.NoError(mt, cur.Close(context.Background()), "second Close should be a no-op")

		require.Len(mt, got, 2)
		assert.Equal(mt, domain.MustParseDate("2024-01-01"), got[0].Date)
		assert.Equal(mt, domain.MustParseDate("2024-01-03"), got[1].Date)
		assert.Equal(mt, int64(7), got[1].Demand)
	})
}

func TestMongoStore_InventoryCursor(t *testing.T) {
	mt := newMockMongo(t)

	mt.Run("yields levels in order", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "analytics.inventory_levels", mtest.FirstBatch,
			bson.D{{Key: "product_id", Value: "P1"}, {Key: "date", Value: "2024-01-01"}, {Key: "inventory_level", Value: int64(0)}},
			bson.D{{Key: "product_id", Value: "P2"}, {Key: "date", Value: "2024-01-01"}, {Key: "inventory_level", Value: int64(12)}},
		))

		day := domain.MustParseDate("2024-01-01")
		cur, err := NewMongoStore(mt.DB).InventoryCursor(context.Background(), FactQuery{
			Range:      domain.DateRange{Start: day, End: day},
			ProductIDs: []string{"P1", "P2"},
		})
		require.NoError(mt, err)
		defer cur.Close(context.Background())

		require.True(mt, cur.Next(context.Background()))
		assert.Equal(mt, domain.InventoryLevel{ProductID: "P1", Date: day, InventoryLevel: 0}, cur.Value())
		require.True(mt, cur.Next(context.Background()))
		assert.Equal(mt, "P2", cur.Value().ProductID)
		assert.False(mt, cur.Next(context.Background()))
		assert.NoError(mt, cur.Err())
	})
}

func TestMongoStore_CollectionCounts(t *testing.T) {
	mt := newMockMongo(t)

	mt.Run("counts every collection", func(mt *mtest.T) {
		for i, name := range Collections {
			mt.AddMockResponses(mtest.CreateCursorResponse(0, "analytics."+name, mtest.FirstBatch,
				bson.D{{Key: "n", Value: int32(10 * (i + 1))}},
			))
		}

		counts, err := NewMongoStore(mt.DB).CollectionCounts(context.Background())
		require.NoError(mt, err)
		assert.Equal(mt, int64(10), counts[CollectionProducts])
		assert.Equal(mt, int64(40), counts[CollectionRecommendations])
		assert.Len(mt, counts, 4)
	})
}

func TestFactFilter(t *testing.T) {
	r := domain.DateRange{Start: domain.MustParseDate("2024-01-01"), End: domain.MustParseDate("2024-01-31")}

	all := factFilter(FactQuery{Range: r})
	assert.Equal(t, bson.M{"$gte": "2024-01-01", "$lte": "2024-01-31"}, all["date"])
	assert.NotContains(t, all, "product_id")

	some := factFilter(FactQuery{Range: r, ProductIDs: []string{"P1"}})
	assert.Equal(t, bson.M{"$in": []string{"P1"}}, some["product_id"])
}

func TestByteOrderFind(t *testing.T) {
	opts := byteOrderFind(factSort)

	require.NotNil(t, opts.Collation)
	assert.Equal(t, "simple", opts.Collation.Locale)
	assert.Equal(t, factSort, opts.Sort)
}
