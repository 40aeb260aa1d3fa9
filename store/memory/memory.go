// Package memory provides an in-process storage driver. It backs tests and
// fixture-driven tooling where a real database is not available.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/jacentio/weave/store"
)

// DriverID is the identifier the memory driver is registered under.
const DriverID = "memory"

// Database holds tables of rows shared by every driver built from it.
type Database struct {
	mu     sync.RWMutex
	tables map[string][]*store.Row
}

// NewDatabase creates an empty Database.
func NewDatabase() *Database {
	return &Database{tables: make(map[string][]*store.Row)}
}

// Insert appends rows to a table without id checks.
func (db *Database) Insert(table string, rows ...*store.Row) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, r := range rows {
		db.tables[table] = append(db.tables[table], r.Clone())
	}
}

// Rows returns copies of every row in a table.
func (db *Database) Rows(table string) []*store.Row {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]*store.Row, len(db.tables[table]))
	for i, r := range db.tables[table] {
		out[i] = r.Clone()
	}
	return out
}

// LoadJSON reads fixtures shaped as {"table": [{...}, ...], ...}.
func (db *Database) LoadJSON(r io.Reader) error {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return fmt.Errorf("decode fixtures: %w", err)
	}
	for table, data := range raw {
		var rows []*store.Row
		if err := json.Unmarshal(data, &rows); err != nil {
			return fmt.Errorf("decode table %s: %w", table, err)
		}
		db.Insert(table, rows...)
	}
	return nil
}

// Factory returns a DriverFactory serving every entity from db.
func Factory(db *Database) store.DriverFactory {
	return func(_ context.Context, opts store.DriverOptions) (store.Driver, error) {
		return &Driver{db: db, opts: opts}, nil
	}
}

// Driver is a store.Driver over a Database table.
type Driver struct {
	db   *Database
	opts store.DriverOptions
}

var _ store.Driver = (*Driver)(nil)

// Entity implements store.Driver.
func (d *Driver) Entity() string { return d.opts.Entity }

// Table implements store.Driver.
func (d *Driver) Table() string { return d.opts.Table }

// ConnectionName implements store.Driver.
func (d *Driver) ConnectionName(target store.Target) string {
	return d.opts.Connections.Get(target).Name
}

// Options returns the options the driver was built with.
func (d *Driver) Options() store.DriverOptions { return d.opts }

// Get implements store.Driver.
func (d *Driver) Get(_ context.Context, where store.Where, opts ...store.QueryOption) ([]*store.Row, error) {
	q := store.BuildQuery(opts...)

	d.db.mu.RLock()
	var rows []*store.Row
	for _, r := range d.db.tables[d.opts.Table] {
		if store.Matches(r, where) {
			rows = append(rows, r.Clone())
		}
	}
	d.db.mu.RUnlock()

	store.SortRows(rows, q.Order)

	if q.PageSize > 0 {
		start := q.Offset()
		if start >= len(rows) {
			return nil, nil
		}
		end := start + q.PageSize
		if end > len(rows) {
			end = len(rows)
		}
		rows = rows[start:end]
	}
	return rows, nil
}

// GetOne implements store.Driver.
func (d *Driver) GetOne(ctx context.Context, where store.Where, order ...store.Order) (*store.Row, error) {
	rows, err := d.Get(ctx, where, store.WithOrder(order...), store.WithPage(1, 1))
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// Count implements store.Driver.
func (d *Driver) Count(ctx context.Context, where store.Where) (int64, error) {
	rows, err := d.Get(ctx, where)
	return int64(len(rows)), err
}

// Aggregate implements store.Driver.
func (d *Driver) Aggregate(ctx context.Context, fn store.AggregateFunc, field string, where store.Where) (float64, error) {
	rows, err := d.Get(ctx, where)
	if err != nil {
		return 0, err
	}
	values := make([]float64, 0, len(rows))
	for _, r := range rows {
		v, err := cast.ToFloat64E(r.Value(field))
		if err != nil {
			return 0, fmt.Errorf("aggregate %s(%s): %w", fn, field, err)
		}
		values = append(values, v)
	}
	return store.Reduce(fn, values)
}

// Create implements store.Driver. A row without an id gets a random UUID.
func (d *Driver) Create(_ context.Context, row *store.Row) (any, error) {
	row = row.Clone()
	if !row.Has("id") || row.Value("id") == nil {
		row.Set("id", uuid.NewString())
	}
	id := row.Value("id")

	d.db.mu.Lock()
	defer d.db.mu.Unlock()
	for _, r := range d.db.tables[d.opts.Table] {
		if store.KeyString(r.Value("id")) == store.KeyString(id) {
			return nil, fmt.Errorf("%w: %s id %v", store.ErrAlreadyExists, d.opts.Entity, id)
		}
	}
	d.db.tables[d.opts.Table] = append(d.db.tables[d.opts.Table], row)
	return id, nil
}

// CreateMany implements store.Driver.
func (d *Driver) CreateMany(ctx context.Context, rows []*store.Row) error {
	for _, r := range rows {
		if _, err := d.Create(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// Set implements store.Driver.
func (d *Driver) Set(_ context.Context, fields *store.Row, where store.Where) error {
	d.db.mu.Lock()
	defer d.db.mu.Unlock()
	for _, r := range d.db.tables[d.opts.Table] {
		if !store.Matches(r, where) {
			continue
		}
		for _, f := range fields.Fields() {
			r.Set(f, fields.Value(f))
		}
	}
	return nil
}

// Remove implements store.Driver.
func (d *Driver) Remove(_ context.Context, where store.Where) error {
	d.db.mu.Lock()
	defer d.db.mu.Unlock()
	kept := d.db.tables[d.opts.Table][:0]
	for _, r := range d.db.tables[d.opts.Table] {
		if !store.Matches(r, where) {
			kept = append(kept, r)
		}
	}
	d.db.tables[d.opts.Table] = kept
	return nil
}
