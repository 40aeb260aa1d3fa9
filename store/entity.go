// Package store provides the entity registry and the storage driver contract.
package store

import (
	"context"
)

// Where is a filter of field name to value. A []any value means
// "field value is one of".
type Where map[string]any

// Merge returns a new filter holding w overlaid with each of others in turn.
// Later filters win per key.
func (w Where) Merge(others ...Where) Where {
	out := make(Where, len(w))
	for k, v := range w {
		out[k] = v
	}
	for _, o := range others {
		for k, v := range o {
			out[k] = v
		}
	}
	return out
}

// Entity declares an entity type.
type Entity struct {
	// Name is the entity type name (e.g., "PostTag").
	Name string

	// Table is the table or collection name. When empty the registry derives
	// one from Name (e.g., "post_tags").
	Table string

	// Chains holds the entity's declared chain relation defaults.
	Chains map[string]any

	// QueryFields lists fields searched by free-text queries.
	QueryFields []string
}

// Target identifies which side of a connection a descriptor serves.
type Target string

const (
	Read  Target = "read"
	Write Target = "write"
)

// ConnectionDescriptor is a resolved connection for one target.
type ConnectionDescriptor struct {
	// Name is the connection's name in Config.Connections.
	Name string

	// Driver is the driver identifier (e.g., "sql", "dynamodb", "memory").
	Driver string

	// Target is read or write.
	Target Target

	// Options carries driver-specific settings (dsn, region, ...).
	Options map[string]any
}

// Connections holds the read/write pair bound to an entity.
type Connections struct {
	Read  ConnectionDescriptor
	Write ConnectionDescriptor
}

// Get returns the descriptor for a target.
func (c Connections) Get(target Target) ConnectionDescriptor {
	if target == Write {
		return c.Write
	}
	return c.Read
}

// DriverOptions is handed to a DriverFactory when an entity is bound.
type DriverOptions struct {
	Entity      string
	Table       string
	Chains      map[string]any
	QueryFields []string
	Connections Connections
}

// DriverFactory builds a driver instance for one entity type.
type DriverFactory func(ctx context.Context, opts DriverOptions) (Driver, error)

// Order is a sort instruction.
type Order struct {
	Field string
	Desc  bool
}

// Query holds optional Get parameters.
type Query struct {
	// PageSize is the number of rows per page (0 = all rows).
	PageSize int

	// Page is the 1-based page number.
	Page int

	// Order lists sort instructions.
	Order []Order
}

// Offset returns the number of rows to skip.
func (q Query) Offset() int {
	if q.PageSize <= 0 || q.Page <= 1 {
		return 0
	}
	return (q.Page - 1) * q.PageSize
}

// QueryOption configures a Get call.
type QueryOption func(*Query)

// WithPage limits Get to one page of results.
func WithPage(page, pageSize int) QueryOption {
	return func(q *Query) {
		q.Page = page
		q.PageSize = pageSize
	}
}

// WithOrder sets the sort order.
func WithOrder(order ...Order) QueryOption {
	return func(q *Query) {
		q.Order = append(q.Order, order...)
	}
}

// BuildQuery applies options to an empty Query.
func BuildQuery(opts ...QueryOption) Query {
	q := Query{Page: 1}
	for _, opt := range opts {
		opt(&q)
	}
	return q
}

// AggregateFunc names an aggregate.
type AggregateFunc string

const (
	Sum AggregateFunc = "sum"
	Avg AggregateFunc = "avg"
	Min AggregateFunc = "min"
	Max AggregateFunc = "max"
)

// Driver is the capability set a storage backend implements for one entity type.
type Driver interface {
	// Entity returns the bound entity type name.
	Entity() string

	// Table returns the table or collection name.
	Table() string

	// ConnectionName returns the configured connection name for a target.
	ConnectionName(target Target) string

	// Get returns all rows matching where.
	Get(ctx context.Context, where Where, opts ...QueryOption) ([]*Row, error)

	// GetOne returns the first matching row, or nil when none match.
	GetOne(ctx context.Context, where Where, order ...Order) (*Row, error)

	// Count returns the number of matching rows.
	Count(ctx context.Context, where Where) (int64, error)

	// Aggregate computes fn over field for the matching rows.
	Aggregate(ctx context.Context, fn AggregateFunc, field string, where Where) (float64, error)

	// Create inserts a row and returns its id.
	Create(ctx context.Context, row *Row) (any, error)

	// CreateMany inserts rows.
	CreateMany(ctx context.Context, rows []*Row) error

	// Set updates fields on the matching rows.
	Set(ctx context.Context, fields *Row, where Where) error

	// Remove deletes the matching rows.
	Remove(ctx context.Context, where Where) error
}
