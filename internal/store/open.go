package store

import (
	"context"
	"fmt"
)

// Open creates a Store for the configured driver. For sqlite the dsn is
// the database file path; for postgres it is a connection string.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite":
		return NewSQLiteStore(dsn)
	case "postgres":
		return NewPostgresStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q (want sqlite or postgres)", driver)
	}
}
