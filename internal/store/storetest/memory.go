// Package storetest provides an in-memory store.Source for tests.
package storetest

import (
	"context"
	"sort"
	"sync"

	"inventory-analytics-service/internal/domain"
	"inventory-analytics-service/internal/store"
)

// Memory is a store.Source over plain slices. Fact cursors are served sorted
// by (product id, date) unless Unsorted is set.
type Memory struct {
	Products        []domain.Product
	Demand          []domain.DailyDemand
	Inventory       []domain.InventoryLevel
	Recommendations []domain.ReorderRecommendation

	// Err, when set, is returned by every call.
	Err error
	// DemandErr and InventoryErr are reported by the cursors once exhausted.
	DemandErr    error
	InventoryErr error
	// Unsorted serves facts in slice order.
	Unsorted bool

	mu      sync.Mutex
	calls   map[string]int
	cursors []closer
}

type closer interface{ Closed() bool }

var _ store.Source = (*Memory)(nil)

func (m *Memory) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[method]++
}

// Calls returns how often method was invoked.
func (m *Memory) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// TotalCalls returns the number of store reads of any kind.
func (m *Memory) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

// AllCursorsClosed reports whether every cursor handed out has been closed.
func (m *Memory) AllCursorsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.cursors {
		if !c.Closed() {
			return false
		}
	}
	return true
}

// CursorCount returns how many cursors have been opened.
func (m *Memory) CursorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cursors)
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Close(context.Context) error { return nil }

func (m *Memory) ListProducts(_ context.Context, filter store.ProductFilter) ([]domain.Product, error) {
	m.record("ListProducts")
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]domain.Product, 0, len(m.Products))
	for _, p := range m.Products {
		if filter.Category == nil || p.Category == *filter.Category {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListCategories(context.Context) ([]string, error) {
	m.record("ListCategories")
	if m.Err != nil {
		return nil, m.Err
	}
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, p := range m.Products {
		if _, ok := seen[p.Category]; ok {
			continue
		}
		seen[p.Category] = struct{}{}
		out = append(out, p.Category)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) ListRecommendations(context.Context) ([]domain.ReorderRecommendation, error) {
	m.record("ListRecommendations")
	if m.Err != nil {
		return nil, m.Err
	}
	out := append([]domain.ReorderRecommendation(nil), m.Recommendations...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].Month < out[j].Month
	})
	return out, nil
}

func (m *Memory) DemandCursor(_ context.Context, q store.FactQuery) (store.Cursor[domain.DailyDemand], error) {
	m.record("DemandCursor")
	if m.Err != nil {
		return nil, m.Err
	}
	keep := selector(q)
	items := make([]domain.DailyDemand, 0)
	for _, d := range m.Demand {
		if keep(d.ProductID, d.Date) {
			items = append(items, d)
		}
	}
	if !m.Unsorted {
		sort.SliceStable(items, func(i, j int) bool {
			return domain.FactKey{ProductID: items[i].ProductID, Date: items[i].Date}.
				Compare(domain.FactKey{ProductID: items[j].ProductID, Date: items[j].Date}) < 0
		})
	}
	return openCursor(m, items, m.DemandErr), nil
}

func (m *Memory) InventoryCursor(_ context.Context, q store.FactQuery) (store.Cursor[domain.InventoryLevel], error) {
	m.record("InventoryCursor")
	if m.Err != nil {
		return nil, m.Err
	}
	keep := selector(q)
	items := make([]domain.InventoryLevel, 0)
	for _, l := range m.Inventory {
		if keep(l.ProductID, l.Date) {
			items = append(items, l)
		}
	}
	if !m.Unsorted {
		sort.SliceStable(items, func(i, j int) bool {
			return domain.FactKey{ProductID: items[i].ProductID, Date: items[i].Date}.
				Compare(domain.FactKey{ProductID: items[j].ProductID, Date: items[j].Date}) < 0
		})
	}
	return openCursor(m, items, m.InventoryErr), nil
}

func (m *Memory) Ping(context.Context) error {
	m.record("Ping")
	return m.Err
}

func (m *Memory) CollectionCounts(context.Context) (map[string]int64, error) {
	m.record("CollectionCounts")
	if m.Err != nil {
		return nil, m.Err
	}
	return map[string]int64{
		store.CollectionProducts:        int64(len(m.Products)),
		store.CollectionDailyDemand:     int64(len(m.Demand)),
		store.CollectionInventoryLevels: int64(len(m.Inventory)),
		store.CollectionRecommendations: int64(len(m.Recommendations)),
	}, nil
}

func selector(q store.FactQuery) func(string, domain.Date) bool {
	var ids map[string]struct{}
	if q.ProductIDs != nil {
		ids = make(map[string]struct{}, len(q.ProductIDs))
		for _, id := range q.ProductIDs {
			ids[id] = struct{}{}
		}
	}
	return func(productID string, date domain.Date) bool {
		if !q.Range.Contains(date) {
			return false
		}
		if ids != nil {
			_, ok := ids[productID]
			return ok
		}
		return true
	}
}

func openCursor[T any](m *Memory, items []T, tail error) store.Cursor[T] {
	c := &cursor[T]{SliceCursor: store.NewSliceCursor(items), tail: tail}
	m.mu.Lock()
	m.cursors = append(m.cursors, c)
	m.mu.Unlock()
	return c
}

// cursor reports tail once the underlying slice is exhausted.
type cursor[T any] struct {
	*store.SliceCursor[T]
	tail error
}

func (c *cursor[T]) Err() error {
	if err := c.SliceCursor.Err(); err != nil {
		return err
	}
	return c.tail
}
