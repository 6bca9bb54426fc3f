// Package feed builds the denormalized daily fact feed: it loads the product
// and recommendation dimensions, merges the sorted demand and inventory
// streams and derives the per-row fields.
package feed

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"inventory-analytics-service/internal/domain"
	"inventory-analytics-service/internal/logging"
	"inventory-analytics-service/internal/metrics"
	"inventory-analytics-service/internal/store"
)

// Dimensions are the lookup tables joined onto the fact stream.
type Dimensions struct {
	Products        map[string]domain.Product
	Recommendations map[domain.RecommendationKey]domain.ReorderRecommendation
	// ProductIDs lists the keys of Products in byte order.
	ProductIDs []string
	// MalformedRecommendations counts recommendations dropped for a bad month key.
	MalformedRecommendations int64
}

// LoadDimensions reads the product catalog (restricted to category when it is
// non-nil) and every reorder recommendation. The two reads run concurrently.
func LoadDimensions(ctx context.Context, reader store.CatalogReader, category *string) (*Dimensions, error) {
	var (
		products []domain.Product
		recs     []domain.ReorderRecommendation
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		products, err = reader.ListProducts(gctx, store.ProductFilter{Category: category})
		return err
	})
	g.Go(func() error {
		var err error
		recs, err = reader.ListRecommendations(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dims := NewDimensions(products, recs)
	if dims.MalformedRecommendations > 0 {
		metrics.RecordSkipped(metrics.ReasonMalformedMonth, dims.MalformedRecommendations)
		logging.Ctx(ctx).Warn().
			Int64("skipped", dims.MalformedRecommendations).
			Msg("Skipped reorder recommendations with malformed month keys")
	}
	return dims, nil
}

// NewDimensions indexes already loaded records. When two recommendations share
// a (product, month) key the later one in slice order wins.
func NewDimensions(products []domain.Product, recs []domain.ReorderRecommendation) *Dimensions {
	dims := &Dimensions{
		Products:        make(map[string]domain.Product, len(products)),
		Recommendations: make(map[domain.RecommendationKey]domain.ReorderRecommendation, len(recs)),
		ProductIDs:      make([]string, 0, len(products)),
	}
	for _, p := range products {
		if _, ok := dims.Products[p.ID]; !ok {
			dims.ProductIDs = append(dims.ProductIDs, p.ID)
		}
		dims.Products[p.ID] = p
	}
	sort.Strings(dims.ProductIDs)

	for _, r := range recs {
		month, err := domain.ParseMonth(r.Month)
		if err != nil {
			dims.MalformedRecommendations++
			continue
		}
		dims.Recommendations[domain.RecommendationKey{ProductID: r.ProductID, Month: month}] = r
	}
	return dims
}

// Recommendation looks up the recommendation for a product in a month.
func (d *Dimensions) Recommendation(productID string, month domain.MonthKey) (domain.ReorderRecommendation, bool) {
	r, ok := d.Recommendations[domain.RecommendationKey{ProductID: productID, Month: month}]
	return r, ok
}
