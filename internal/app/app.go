// Package app wires configuration, logging, drivers and the registry into
// the components the weave binaries run.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jacentio/weave/config"
	"github.com/jacentio/weave/format"
	"github.com/jacentio/weave/internal/log"
	"github.com/jacentio/weave/store"
	"github.com/jacentio/weave/store/dynamo"
	"github.com/jacentio/weave/store/memory"
	"github.com/jacentio/weave/store/sqldb"
	"github.com/jacentio/weave/stream"
	"github.com/jacentio/weave/validate"
)

// Options configures Open.
type Options struct {
	// ConfigPath is the configuration file; empty looks for ./weave.yaml.
	ConfigPath string

	// LogLevel overrides the configured log level.
	LogLevel string

	// LogOutput receives log records. Default: os.Stderr.
	LogOutput io.Writer

	// Fixtures is a JSON file loaded into the memory driver's database.
	Fixtures string
}

// App holds the wired components.
type App struct {
	Config   config.File
	Logger   *slog.Logger
	Registry *store.Registry
	Memory   *memory.Database

	sql *sqldb.Factory
}

// Open loads configuration and builds the registry. Every driver is
// registered: memory, sql and dynamodb.
func Open(opts Options) (*App, error) {
	file, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	level := file.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger, err := log.New(level, file.Logging.Format, out)
	if err != nil {
		return nil, err
	}

	mem := memory.NewDatabase()
	if opts.Fixtures != "" {
		if err := loadFixtures(mem, opts.Fixtures); err != nil {
			return nil, err
		}
	}

	sqlFactory := sqldb.NewFactory()
	cfg, err := file.Database.StoreConfig(map[string]store.DriverFactory{
		memory.DriverID: memory.Factory(mem),
		sqldb.DriverID:  sqlFactory.Build,
		dynamo.DriverID: dynamo.ConnectFactory(dynamo.NewClient),
	})
	if err != nil {
		return nil, err
	}

	registry := store.NewRegistry(cfg, store.WithLogger(logger))
	registry.Declare(file.Database.StoreEntities()...)

	logger.Debug("configuration loaded",
		"connections", len(cfg.Connections),
		"models", len(cfg.Models),
	)
	return &App{
		Config:   file,
		Logger:   logger,
		Registry: registry,
		Memory:   mem,
		sql:      sqlFactory,
	}, nil
}

func loadFixtures(db *memory.Database, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open fixtures: %w", err)
	}
	defer f.Close()
	return db.LoadJSON(f)
}

// Close releases database connections.
func (a *App) Close() error {
	return a.sql.Close()
}

// Formatter returns a formatter loaded with the configured format file.
func (a *App) Formatter() (*format.Formatter, error) {
	f := format.NewFormatter(a.Registry, format.WithLogger(a.Logger))
	path := a.Config.Path(a.Config.Formats)
	if path == "" {
		return f, nil
	}
	formats, err := readFile(path, format.LoadFormats)
	if err != nil {
		return nil, fmt.Errorf("load formats: %w", err)
	}
	if err := f.Register(formats...); err != nil {
		return nil, err
	}
	return f, nil
}

// Validator returns a validator over the registry.
func (a *App) Validator() *validate.Validator {
	return validate.New(a.Registry, validate.WithLogger(a.Logger))
}

// Rules loads a rules file; an empty path uses the configured one.
func (a *App) Rules(path string) ([]validate.Rule, error) {
	if path == "" {
		path = a.Config.Path(a.Config.Rules)
	}
	if path == "" {
		return nil, errors.New("no rules file configured")
	}
	rules, err := readFile(path, validate.LoadRules)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	return rules, nil
}

// StreamHandler returns a stream handler with the configured per-table rules.
func (a *App) StreamHandler(opts ...stream.Option) (*stream.Handler, error) {
	rules := make(map[string][]validate.Rule, len(a.Config.Stream))
	for _, s := range a.Config.Stream {
		if s.Table == "" {
			return nil, fmt.Errorf("%w: stream rules without table", config.ErrInvalidConfig)
		}
		loaded, err := readFile(a.Config.Path(s.Rules), validate.LoadRules)
		if err != nil {
			return nil, fmt.Errorf("load stream rules for %s: %w", s.Table, err)
		}
		rules[s.Table] = append(rules[s.Table], loaded...)
	}
	opts = append([]stream.Option{stream.WithLogger(a.Logger)}, opts...)
	return stream.NewHandler(a.Validator(), rules, opts...), nil
}

// Fetch reads rows of an entity type matching where.
func (a *App) Fetch(ctx context.Context, entity string, where store.Where, opts ...store.QueryOption) ([]*store.Row, error) {
	drv, err := a.Registry.Entity(ctx, entity)
	if err != nil {
		return nil, err
	}
	return drv.Get(ctx, where, opts...)
}

func readFile[T any](path string, load func(io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, err
	}
	defer f.Close()
	return load(f)
}
