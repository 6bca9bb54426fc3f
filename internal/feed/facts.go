package feed

import (
	"context"
	"errors"
	"fmt"

	"inventory-analytics-service/internal/domain"
	"inventory-analytics-service/internal/store"
)

// FactStream holds the two sorted fact cursors of one request.
type FactStream struct {
	demand    store.Cursor[domain.DailyDemand]
	inventory store.Cursor[domain.InventoryLevel]
	closed    bool
}

// OpenFacts opens the demand and inventory cursors for q. An empty date range
// or a non-nil empty product set yields an empty stream without a store read.
// The caller must Close the stream.
func OpenFacts(ctx context.Context, reader store.FactReader, q store.FactQuery) (*FactStream, error) {
	if q.Range.Empty() || (q.ProductIDs != nil && len(q.ProductIDs) == 0) {
		return EmptyFacts(), nil
	}

	demand, err := reader.DemandCursor(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("feed: open demand cursor: %w", err)
	}
	inventory, err := reader.InventoryCursor(ctx, q)
	if err != nil {
		_ = demand.Close(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("feed: open inventory cursor: %w", err)
	}
	return &FactStream{demand: demand, inventory: inventory}, nil
}

// EmptyFacts returns a stream with no records.
func EmptyFacts() *FactStream {
	return NewFactStream(
		store.NewSliceCursor[domain.DailyDemand](nil),
		store.NewSliceCursor[domain.InventoryLevel](nil),
	)
}

// NewFactStream wraps cursors that are already open.
func NewFactStream(demand store.Cursor[domain.DailyDemand], inventory store.Cursor[domain.InventoryLevel]) *FactStream {
	return &FactStream{demand: demand, inventory: inventory}
}

// Close closes both cursors. It is safe to call more than once.
func (s *FactStream) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Join(s.demand.Close(ctx), s.inventory.Close(ctx))
}
