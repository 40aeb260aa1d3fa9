// Package store provides the entity registry and the storage driver contract.
//
// Weave resolves relations between entity types stored in different backends.
// The store package is the seam between the relation engine and those backends:
// it routes each entity type to a read/write connection pair and binds it,
// once, to a driver instance.
//
// # Drivers
//
// Every backend implements [Driver]:
//
//	type Driver interface {
//	    Get(ctx context.Context, where Where, opts ...QueryOption) ([]*Row, error)
//	    GetOne(ctx context.Context, where Where, order ...Order) (*Row, error)
//	    Count(ctx context.Context, where Where) (int64, error)
//	    ...
//	}
//
// A [Where] value that is a slice means "field value is one of".
// Bundled drivers live in store/memory, store/sqldb and store/dynamo.
//
// # Configuration
//
// Connections name a driver; routes map entity types (or "*" patterns) to
// connection names:
//
//	cfg := store.DefaultConfig()
//	cfg.Connections["default"] = store.Connection{Driver: "sql", Options: map[string]any{"dsn": dsn}}
//	cfg.Drivers["sql"] = sqldb.NewFactory().Build
//	cfg.Models = []store.ModelRoute{{Pattern: "Audit*", Read: "replica", Write: "primary"}}
//
// Entities with no matching route use the "default" connection for both
// reads and writes.
//
// # Errors
//
// Binding fails with one of:
//
//   - [ErrDriverNotInstalled] - no factory registered, or none for the connection's driver
//   - [ErrConnectionNotFound] - a route names an unknown connection
//   - [ErrInvalidConnectionDriver] - read and write connections use different drivers
//
// These indicate a misconfigured deployment and are never retried.
package store
