package store

import "context"

// SliceCursor serves records from memory. It backs in-memory sources and the
// pure join over already-loaded slices.
type SliceCursor[T any] struct {
	items  []T
	pos    int
	closed bool
	err    error
}

// NewSliceCursor returns a cursor over items, in slice order.
func NewSliceCursor[T any](items []T) *SliceCursor[T] {
	return &SliceCursor[T]{items: items, pos: -1}
}

func (c *SliceCursor[T]) Next(ctx context.Context) bool {
	if c.closed {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if c.pos+1 >= len(c.items) {
		return false
	}
	c.pos++
	return true
}

func (c *SliceCursor[T]) Value() T {
	var zero T
	if c.pos < 0 || c.pos >= len(c.items) {
		return zero
	}
	return c.items[c.pos]
}

func (c *SliceCursor[T]) Err() error { return c.err }

func (c *SliceCursor[T]) Close(context.Context) error {
	c.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (c *SliceCursor[T]) Closed() bool { return c.closed }
