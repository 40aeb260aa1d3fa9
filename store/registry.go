package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-openapi/inflect"
	"golang.org/x/sync/singleflight"
)

// Registry binds entity types to driver instances. Each entity type is bound
// lazily on first use and the driver is memoized until Reset.
type Registry struct {
	config Config
	logger *slog.Logger

	mu       sync.RWMutex
	entities map[string]Entity
	handles  map[string]Driver
	epoch    uint64

	group singleflight.Group
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates a new Registry.
func NewRegistry(config Config, opts ...Option) *Registry {
	config.validate()
	r := &Registry{
		config:   config,
		logger:   slog.Default(),
		entities: make(map[string]Entity),
		handles:  make(map[string]Driver),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Declare registers entity declarations. Declaring an entity that is already
// bound has no effect on the bound driver until Reset.
func (r *Registry) Declare(entities ...Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entities {
		r.entities[e.Name] = e
	}
}

// Entity returns the driver bound to an entity type, binding it on first use.
// Concurrent first calls for the same type share one binding, which runs
// detached from the caller's cancellation.
func (r *Registry) Entity(ctx context.Context, name string) (Driver, error) {
	r.mu.RLock()
	drv, ok := r.handles[name]
	r.mu.RUnlock()
	if ok {
		return drv, nil
	}

	v, err, _ := r.group.Do(name, func() (any, error) {
		r.mu.RLock()
		drv, ok := r.handles[name]
		epoch := r.epoch
		r.mu.RUnlock()
		if ok {
			return drv, nil
		}

		drv, err := r.bind(context.WithoutCancel(ctx), name)
		if err != nil {
			r.logger.Error("failed to bind entity",
				"entity", name,
				"error", err,
			)
			return nil, err
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if existing, ok := r.handles[name]; ok {
			return existing, nil
		}
		if epoch == r.epoch {
			r.handles[name] = drv
		}
		return drv, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Driver), nil
}

// Bound reports whether an entity type currently has a memoized driver.
func (r *Registry) Bound(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handles[name]
	return ok
}

// Reset returns every entity type to unbound. Callers must ensure no
// resolution is in flight.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles = make(map[string]Driver)
	r.epoch++
}

// Route returns the connections an entity type would bind to, without
// constructing a driver.
func (r *Registry) Route(name string) (Connections, error) {
	readName, writeName := r.config.route(name)

	read, err := r.connection(readName, Read)
	if err != nil {
		return Connections{}, err
	}
	write, err := r.connection(writeName, Write)
	if err != nil {
		return Connections{}, err
	}

	if read.Driver != write.Driver {
		return Connections{}, fmt.Errorf("%w: entity %q reads with %q and writes with %q",
			ErrInvalidConnectionDriver, name, read.Driver, write.Driver)
	}
	return Connections{Read: read, Write: write}, nil
}

// bind resolves connections and constructs the driver for an entity type.
func (r *Registry) bind(ctx context.Context, name string) (Driver, error) {
	if len(r.config.Drivers) == 0 {
		return nil, fmt.Errorf("%w: no driver factory registered", ErrDriverNotInstalled)
	}

	conns, err := r.Route(name)
	if err != nil {
		return nil, err
	}

	factory, ok := r.config.Drivers[conns.Read.Driver]
	if !ok {
		return nil, fmt.Errorf("%w: no factory for driver %q", ErrDriverNotInstalled, conns.Read.Driver)
	}

	r.mu.RLock()
	decl, declared := r.entities[name]
	r.mu.RUnlock()
	if !declared {
		decl = Entity{Name: name}
	}

	opts := DriverOptions{
		Entity:      name,
		Table:       decl.Table,
		Chains:      mergeChains(decl.Chains, r.config.Chains[name]),
		QueryFields: decl.QueryFields,
		Connections: conns,
	}
	if opts.Table == "" {
		opts.Table = TableName(name)
	}

	drv, err := factory(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", name, err)
	}

	r.logger.Info("entity bound",
		"entity", name,
		"table", opts.Table,
		"driver", conns.Read.Driver,
		"read", conns.Read.Name,
		"write", conns.Write.Name,
	)
	return drv, nil
}

func (r *Registry) connection(name string, target Target) (ConnectionDescriptor, error) {
	conn, ok := r.config.Connections[name]
	if !ok {
		return ConnectionDescriptor{}, fmt.Errorf("%w: %q (%s)", ErrConnectionNotFound, name, target)
	}
	return ConnectionDescriptor{
		Name:    name,
		Driver:  conn.Driver,
		Target:  target,
		Options: conn.Options,
	}, nil
}

// TableName derives a table name from an entity type name
// (e.g., "PostTag" -> "post_tags").
func TableName(entity string) string {
	return inflect.Underscore(inflect.Pluralize(entity))
}
