package store

import (
	"errors"
	"fmt"
)

// Predefined errors for store operations
var (
	// ErrUnavailable means the store could not be reached or refused our
	// credentials. Callers surface it as a server-side availability error.
	ErrUnavailable = errors.New("store: unavailable")
	// ErrUnsupportedDriver is returned by Open for an unknown driver name.
	ErrUnsupportedDriver = errors.New("store: unsupported driver")
)

func unavailable(op string, err error) error {
	return fmt.Errorf("store: %s: %w: %w", op, ErrUnavailable, err)
}
