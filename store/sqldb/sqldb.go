// Package sqldb provides a store.Driver over database/sql.
//
// Connections set two options: "dialect" (sqlite, mysql or postgres) and
// "dsn". The matching database/sql driver must be registered by the program,
// usually with a blank import:
//
//	import (
//	    _ "github.com/go-sql-driver/mysql"
//	    _ "github.com/jackc/pgx/v5/stdlib"
//	    _ "modernc.org/sqlite"
//	)
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/cast"

	"github.com/jacentio/weave/internal/coerce"
	"github.com/jacentio/weave/store"
)

// DriverID is the driver identifier used in connection configuration.
const DriverID = "sql"

// OpenFunc opens a database handle.
type OpenFunc func(driverName, dsn string) (*sql.DB, error)

type conn struct {
	db      *sql.DB
	dialect string
}

// Factory opens one *sql.DB per connection name and builds drivers over them.
type Factory struct {
	open OpenFunc

	mu    sync.Mutex
	conns map[string]conn
}

// NewFactory creates a Factory opening connections with sql.Open.
func NewFactory() *Factory {
	return &Factory{open: sql.Open, conns: make(map[string]conn)}
}

// Attach registers an already opened database under a connection name.
func (f *Factory) Attach(name, dialect string, db *sql.DB) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conns[name] = conn{db: db, dialect: dialect}
}

func (f *Factory) conn(desc store.ConnectionDescriptor) (conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.conns[desc.Name]; ok {
		return c, nil
	}

	dialect := strings.ToLower(cast.ToString(desc.Options["dialect"]))
	driverName, ok := driverNames[dialect]
	if !ok {
		return conn{}, fmt.Errorf("%w: connection %q has unknown dialect %q", store.ErrUnsupported, desc.Name, dialect)
	}
	dsn := cast.ToString(desc.Options["dsn"])
	if dsn == "" {
		return conn{}, fmt.Errorf("connection %q: dsn is required", desc.Name)
	}
	db, err := f.open(driverName, dsn)
	if err != nil {
		return conn{}, fmt.Errorf("open %s: %w", desc.Name, err)
	}
	c := conn{db: db, dialect: dialect}
	f.conns[desc.Name] = c
	return c, nil
}

// Build is a store.DriverFactory.
func (f *Factory) Build(_ context.Context, opts store.DriverOptions) (store.Driver, error) {
	read, err := f.conn(opts.Connections.Read)
	if err != nil {
		return nil, err
	}
	write, err := f.conn(opts.Connections.Write)
	if err != nil {
		return nil, err
	}
	table, err := quote(read.dialect, opts.Table)
	if err != nil {
		return nil, err
	}
	return &Driver{read: read, write: write, opts: opts, table: table}, nil
}

// Close closes every opened database.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var errs []error
	for name, c := range f.conns {
		if err := c.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	f.conns = make(map[string]conn)
	return errors.Join(errs...)
}

// Driver is a store.Driver over one SQL table.
type Driver struct {
	read  conn
	write conn
	opts  store.DriverOptions
	table string
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

// whereClause renders where as " WHERE ..." with ? placeholders. Conditions
// are emitted in field name order. ok is false when an empty list makes the
// filter unsatisfiable.
func whereClause(dialect string, where store.Where) (clause string, args []any, ok bool, err error) {
	if len(where) == 0 {
		return "", nil, true, nil
	}
	fields := make([]string, 0, len(where))
	for field := range where {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	conds := make([]string, 0, len(fields))
	for _, field := range fields {
		col, err := quote(dialect, field)
		if err != nil {
			return "", nil, false, err
		}
		want := where[field]
		if list, isList := store.AsList(want); isList {
			if len(list) == 0 {
				return "", nil, false, nil
			}
			marks := strings.TrimSuffix(strings.Repeat("?, ", len(list)), ", ")
			conds = append(conds, fmt.Sprintf("%s IN (%s)", col, marks))
			for _, v := range list {
				args = append(args, arg(v))
			}
			continue
		}
		if want == nil {
			conds = append(conds, col+" IS NULL")
			continue
		}
		conds = append(conds, col+" = ?")
		args = append(args, arg(want))
	}
	return " WHERE " + strings.Join(conds, " AND "), args, true, nil
}

// arg converts nested values to JSON text.
func arg(v any) any {
	switch v.(type) {
	case *store.Row, []any, map[string]any:
		s, err := coerce.Marshal(v)
		if err != nil {
			return v
		}
		return s
	}
	return v
}

func (d *Driver) orderClause(order []store.Order) (string, error) {
	if len(order) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(order))
	for _, o := range order {
		col, err := quote(d.read.dialect, o.Field)
		if err != nil {
			return "", err
		}
		if o.Desc {
			col += " DESC"
		}
		parts = append(parts, col)
	}
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

// Get implements store.Driver.
func (d *Driver) Get(ctx context.Context, where store.Where, opts ...store.QueryOption) ([]*store.Row, error) {
	q := store.BuildQuery(opts...)

	clause, args, ok, err := whereClause(d.read.dialect, where)
	if err != nil || !ok {
		return nil, err
	}
	order, err := d.orderClause(q.Order)
	if err != nil {
		return nil, err
	}
	query := "SELECT * FROM " + d.table + clause + order
	if q.PageSize > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, q.PageSize, q.Offset())
	}

	rows, err := d.read.db.QueryContext(ctx, rebind(d.read.dialect, query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func scanRows(rows *sql.Rows) ([]*store.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []*store.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := &store.Row{}
		for i, col := range cols {
			row.Set(col, columnValue(values[i]))
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func columnValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case int, int8, int16, int32, uint8, uint16, uint32:
		return cast.ToInt64(t)
	case float32:
		return float64(t)
	}
	return v
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
	clause, args, ok, err := whereClause(d.read.dialect, where)
	if err != nil || !ok {
		return 0, err
	}
	var n int64
	query := rebind(d.read.dialect, "SELECT COUNT(*) FROM "+d.table+clause)
	if err := d.read.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Aggregate implements store.Driver. An aggregate over no rows is 0.
func (d *Driver) Aggregate(ctx context.Context, fn store.AggregateFunc, field string, where store.Where) (float64, error) {
	switch fn {
	case store.Sum, store.Avg, store.Min, store.Max:
	default:
		return 0, fmt.Errorf("%w: aggregate %q", store.ErrUnsupported, fn)
	}
	col, err := quote(d.read.dialect, field)
	if err != nil {
		return 0, err
	}
	clause, args, ok, err := whereClause(d.read.dialect, where)
	if err != nil || !ok {
		return 0, err
	}
	var v sql.NullFloat64
	query := rebind(d.read.dialect, fmt.Sprintf("SELECT %s(%s) FROM %s%s", strings.ToUpper(string(fn)), col, d.table, clause))
	if err := d.read.db.QueryRowContext(ctx, query, args...).Scan(&v); err != nil {
		return 0, err
	}
	return v.Float64, nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Create implements store.Driver. Rows without an id get the database
// generated one.
func (d *Driver) Create(ctx context.Context, row *store.Row) (any, error) {
	return d.insert(ctx, d.write.db, row)
}

func (d *Driver) insert(ctx context.Context, ex execer, row *store.Row) (any, error) {
	fields := row.Fields()
	if len(fields) == 0 {
		return nil, fmt.Errorf("create %s: row has no fields", d.opts.Entity)
	}
	cols := make([]string, len(fields))
	args := make([]any, len(fields))
	for i, f := range fields {
		col, err := quote(d.write.dialect, f)
		if err != nil {
			return nil, err
		}
		cols[i] = col
		args[i] = arg(row.Value(f))
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(fields)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", d.table, strings.Join(cols, ", "), marks)

	id, hasID := row.Get("id")
	if hasID && id != nil {
		if _, err := ex.ExecContext(ctx, rebind(d.write.dialect, query), args...); err != nil {
			return nil, d.mapInsertError(err)
		}
		return id, nil
	}

	if d.write.dialect == Postgres {
		var generated any
		if err := ex.QueryRowContext(ctx, rebind(Postgres, query+` RETURNING "id"`), args...).Scan(&generated); err != nil {
			return nil, d.mapInsertError(err)
		}
		return columnValue(generated), nil
	}
	res, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, d.mapInsertError(err)
	}
	return res.LastInsertId()
}

func (d *Driver) mapInsertError(err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s: %v", store.ErrAlreadyExists, d.opts.Entity, err)
	}
	return err
}

// CreateMany implements store.Driver. Rows are inserted in one transaction.
func (d *Driver) CreateMany(ctx context.Context, rows []*store.Row) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := d.write.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := d.insert(ctx, tx, row); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Set implements store.Driver.
func (d *Driver) Set(ctx context.Context, fields *store.Row, where store.Where) error {
	names := fields.Fields()
	if len(names) == 0 {
		return nil
	}
	sets := make([]string, len(names))
	args := make([]any, 0, len(names))
	for i, f := range names {
		col, err := quote(d.write.dialect, f)
		if err != nil {
			return err
		}
		sets[i] = col + " = ?"
		args = append(args, arg(fields.Value(f)))
	}
	clause, whereArgs, ok, err := whereClause(d.write.dialect, where)
	if err != nil || !ok {
		return err
	}
	query := "UPDATE " + d.table + " SET " + strings.Join(sets, ", ") + clause
	_, err = d.write.db.ExecContext(ctx, rebind(d.write.dialect, query), append(args, whereArgs...)...)
	return err
}

// Remove implements store.Driver.
func (d *Driver) Remove(ctx context.Context, where store.Where) error {
	clause, args, ok, err := whereClause(d.write.dialect, where)
	if err != nil || !ok {
		return err
	}
	_, err = d.write.db.ExecContext(ctx, rebind(d.write.dialect, "DELETE FROM "+d.table+clause), args...)
	return err
}
