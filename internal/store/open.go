package store

import (
	"context"
	"fmt"
)

// Supported values for Options.Driver.
const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

// Options selects and configures a backend for Open.
type Options struct {
	Driver      string
	Mongo       MongoOptions
	PostgresDSN string
	Postgres    PostgresPool
}

// Open connects to the configured backend.
func Open(ctx context.Context, opts Options) (Source, error) {
	switch opts.Driver {
	case DriverMongo, "":
		return ConnectMongo(ctx, opts.Mongo)
	case DriverPostgres:
		return OpenPostgres(ctx, opts.PostgresDSN, opts.Postgres)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, opts.Driver)
	}
}
