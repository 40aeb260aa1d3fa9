package format

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jacentio/weave/internal/coerce"
	"github.com/jacentio/weave/store"
)

// DefaultConcurrency is the number of relation fields resolved at once.
const DefaultConcurrency = 4

// EntitySource hands out the driver for an entity type. *store.Registry
// implements it.
type EntitySource interface {
	Entity(ctx context.Context, name string) (store.Driver, error)
}

// TypeFunc converts a single field value to a declared type.
type TypeFunc func(typ string, value any, field string, row *store.Row) (any, error)

// Option configures a Formatter.
type Option func(*Formatter)

// WithTypes replaces the field type converter. The default is coerce.Apply.
func WithTypes(fn TypeFunc) Option {
	return func(f *Formatter) {
		f.types = fn
	}
}

// WithLogger sets the logger. Fetches are logged at Debug.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Formatter) {
		f.logger = logger
	}
}

// WithMaxDepth limits nested named-format expansion. Zero means unlimited.
func WithMaxDepth(n int) Option {
	return func(f *Formatter) {
		f.maxDepth = n
	}
}

// WithConcurrency sets how many relation fields of one format are resolved
// concurrently.
func WithConcurrency(n int) Option {
	return func(f *Formatter) {
		f.concurrency = n
	}
}

// WithFormats registers named formats. Invalid formats panic.
func WithFormats(formats ...*Format) Option {
	return func(f *Formatter) {
		if err := f.Register(formats...); err != nil {
			panic(err)
		}
	}
}

// Formatter applies formats to batches of rows, resolving relation fields
// against an EntitySource with at most one fetch per relation field per call.
type Formatter struct {
	entities    EntitySource
	types       TypeFunc
	logger      *slog.Logger
	maxDepth    int
	concurrency int

	mu      sync.RWMutex
	formats map[string]*Format
}

// NewFormatter creates a Formatter.
func NewFormatter(entities EntitySource, opts ...Option) *Formatter {
	f := &Formatter{
		entities:    entities,
		types:       coerce.Apply,
		concurrency: DefaultConcurrency,
		formats:     make(map[string]*Format),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	if f.concurrency < 1 {
		f.concurrency = 1
	}
	return f
}

// Register adds named formats, replacing any with the same name.
func (f *Formatter) Register(formats ...*Format) error {
	for _, fm := range formats {
		if fm.Name == "" {
			return fmt.Errorf("%w: format has no name", ErrInvalidSpec)
		}
		if err := fm.Validate(); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fm := range formats {
		f.formats[fm.Name] = fm
	}
	return nil
}

// Lookup returns a registered format.
func (f *Formatter) Lookup(name string) (*Format, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	fm, ok := f.formats[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
	return fm, nil
}

// Formats returns the registered format names.
func (f *Formatter) Formats() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.formats))
	for name := range f.formats {
		names = append(names, name)
	}
	return names
}

// Apply formats rows. The output holds one row per input row, in order,
// with exactly the format's fields in declaration order.
func (f *Formatter) Apply(ctx context.Context, fm *Format, rows []*store.Row, req Request) ([]*store.Row, error) {
	return f.apply(ctx, fm, rows, req, 0)
}

// ApplyNamed formats rows with a registered format.
func (f *Formatter) ApplyNamed(ctx context.Context, name string, rows []*store.Row, req Request) ([]*store.Row, error) {
	fm, err := f.Lookup(name)
	if err != nil {
		return nil, err
	}
	return f.apply(ctx, fm, rows, req, 0)
}

// ApplyOne formats a single row.
func (f *Formatter) ApplyOne(ctx context.Context, fm *Format, row *store.Row, req Request) (*store.Row, error) {
	out, err := f.apply(ctx, fm, []*store.Row{row}, req, 0)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (f *Formatter) apply(ctx context.Context, fm *Format, rows []*store.Row, req Request, depth int) ([]*store.Row, error) {
	if f.maxDepth > 0 && depth > f.maxDepth {
		return nil, fmt.Errorf("%w: format %q at depth %d", ErrMaxDepth, fm.Name, depth)
	}
	if len(rows) == 0 {
		return []*store.Row{}, nil
	}

	slots := make([][]any, len(fm.Defs))
	fields := make([]Field, len(fm.Defs))

	// Scalars are converted before any relation fetch starts.
	for i, def := range fm.Defs {
		fields[i] = normalize(def.Field)
		sc, ok := fields[i].(Scalar)
		if !ok {
			continue
		}
		vals, err := f.scalar(def.Name, sc, rows)
		if err != nil {
			return nil, err
		}
		slots[i] = vals
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, def := range fm.Defs {
		field := fields[i]
		if _, ok := field.(Scalar); ok {
			continue
		}
		g.Go(func() error {
			vals, err := f.relation(gctx, def.Name, field, rows, req, depth)
			if err != nil {
				return err
			}
			slots[i] = vals
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*store.Row, len(rows))
	for r := range rows {
		row := &store.Row{}
		for i, def := range fm.Defs {
			row.Set(def.Name, slots[i][r])
		}
		out[r] = row
	}
	return out, nil
}

func (f *Formatter) scalar(name string, sc Scalar, rows []*store.Row) ([]any, error) {
	out := make([]any, len(rows))
	for i, row := range rows {
		v, err := f.types(sc.Type, row.Value(name), name, row)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *Formatter) relation(ctx context.Context, name string, field Field, rows []*store.Row, req Request, depth int) ([]any, error) {
	exp, expand := req[name]
	switch fd := field.(type) {
	case Object:
		return f.object(ctx, name, fd, rows, exp, expand, depth)
	case Partial:
		return f.partial(ctx, fd, rows, exp, expand, depth)
	case MultipleObject:
		return f.multipleObject(ctx, name, fd, rows, exp, expand, depth)
	case ObjectSwitch:
		return f.objectSwitch(ctx, name, fd, rows, exp, expand, depth)
	case Chain:
		return f.chain(ctx, fd, rows, exp, expand, depth)
	}
	return nil, fmt.Errorf("%w: field %q has unsupported kind %T", ErrInvalidSpec, name, field)
}

func normalize(field Field) Field {
	switch fd := field.(type) {
	case *Scalar:
		return *fd
	case *Object:
		return *fd
	case *Partial:
		return *fd
	case *MultipleObject:
		return *fd
	case *ObjectSwitch:
		return *fd
	case *Chain:
		return *fd
	}
	return field
}

// Validate checks that every relation names what it needs to resolve.
func (fm *Format) Validate() error {
	for _, def := range fm.Defs {
		if err := validateField(normalize(def.Field)); err != nil {
			return fmt.Errorf("format %q field %q: %w", fm.Name, def.Name, err)
		}
	}
	return nil
}

func validateField(field Field) error {
	switch fd := field.(type) {
	case nil:
		return fmt.Errorf("%w: missing declaration", ErrInvalidSpec)
	case Scalar:
		return nil
	case Object:
		return validateReference(fd.Reference)
	case Partial:
		return validateReference(fd.Reference)
	case MultipleObject:
		return validateReference(fd.Reference)
	case ObjectSwitch:
		if fd.Discriminator == "" {
			return fmt.Errorf("%w: object-switch needs a discriminator field", ErrInvalidSpec)
		}
		for value, c := range fd.Cases {
			if err := validateReference(c.Reference); err != nil {
				return fmt.Errorf("case %q: %w", value, err)
			}
		}
		return nil
	case Chain:
		if fd.Via.Entity == "" || fd.Via.Identity == "" {
			return fmt.Errorf("%w: chain needs a join entity and identity field", ErrInvalidSpec)
		}
		return validateReference(fd.Reference)
	}
	return fmt.Errorf("%w: unsupported kind %T", ErrInvalidSpec, field)
}

func validateReference(ref Reference) error {
	if ref.Entity == "" {
		return fmt.Errorf("%w: relation has no entity", ErrInvalidSpec)
	}
	return nil
}
