// Package config loads the weave configuration file.
//
// A configuration file looks like:
//
//	logging:
//	  level: info
//	  format: text
//	database:
//	  connections:
//	    default:
//	      driver: sql
//	      dialect: sqlite
//	      dsn: file:weave.db
//	    events:
//	      driver: dynamodb
//	      region: eu-west-1
//	  models:
//	    - pattern: Event*
//	      read: events
//	  entities:
//	    - name: PostTag
//	      table: post_tag_links
//	  chains:
//	    - entity: Post
//	      relations:
//	        tags: {model: PostTag, identity: post_tag}
//	formats: formats.yaml
//	rules: rules.yaml
//	stream:
//	  - table: posts
//	    rules: posts.rules.yaml
//
// Every key can be overridden with a WEAVE_ environment variable, with dots
// replaced by underscores (e.g., WEAVE_LOGGING_LEVEL,
// WEAVE_DATABASE_CONNECTIONS_DEFAULT_DSN).
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/jacentio/weave/store"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "WEAVE"

// connectionEnvKeys are the connection options that can be set from the
// environment even when the file does not mention them.
var connectionEnvKeys = []string{"dsn", "password", "region", "profile", "endpoint", "table_prefix"}

// ErrInvalidConfig is returned for a configuration that cannot be used.
var ErrInvalidConfig = errors.New("weave: invalid config")

// File is the parsed configuration file.
type File struct {
	Logging  Logging  `mapstructure:"logging"`
	Database Database `mapstructure:"database"`

	// Formats is the path of the format definitions file.
	Formats string `mapstructure:"formats"`

	// Rules is the path of the validation rules file.
	Rules string `mapstructure:"rules"`

	// Stream lists the rules files applied by the stream handler per table.
	Stream []StreamRules `mapstructure:"stream"`

	dir string
}

// StreamRules binds a rules file to a DynamoDB table.
type StreamRules struct {
	Table string `mapstructure:"table"`
	Rules string `mapstructure:"rules"`
}

// Logging configures the process logger.
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Database configures the entity registry.
type Database struct {
	// Connections maps connection names to a driver and its options.
	Connections map[string]map[string]any `mapstructure:"connections"`

	Models   []Route  `mapstructure:"models"`
	Entities []Entity `mapstructure:"entities"`
	Chains   []Chain  `mapstructure:"chains"`
}

// Route routes entity types to connections.
type Route struct {
	Pattern string `mapstructure:"pattern"`
	Read    string `mapstructure:"read"`
	Write   string `mapstructure:"write"`
}

// Entity declares an entity type.
type Entity struct {
	Name        string   `mapstructure:"name"`
	Table       string   `mapstructure:"table"`
	QueryFields []string `mapstructure:"query_fields"`
}

// Chain holds chain relation overrides for one entity type. Entity names
// are case sensitive, so they are carried as values rather than keys.
type Chain struct {
	Entity    string         `mapstructure:"entity"`
	Relations map[string]any `mapstructure:"relations"`
}

// Load reads the configuration at path. An empty path looks for weave.yaml
// in the working directory and falls back to defaults and environment
// variables when there is none.
func Load(path string) (File, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	for _, key := range []string{"logging.level", "logging.format", "formats", "rules"} {
		_ = v.BindEnv(key)
	}

	dir := "."
	if path == "" {
		v.SetConfigName("weave")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return File{}, fmt.Errorf("read config: %w", err)
			}
		}
	} else {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return File{}, fmt.Errorf("read config %s: %w", path, err)
		}
		dir = filepath.Dir(path)
	}

	for name := range v.GetStringMap("database.connections") {
		for _, key := range connectionEnvKeys {
			_ = v.BindEnv("database.connections." + name + "." + key)
		}
	}

	var f File
	if err := v.Unmarshal(&f); err != nil {
		return File{}, fmt.Errorf("decode config: %w", err)
	}
	f.dir = dir
	return f, nil
}

// Path resolves p relative to the directory of the configuration file.
func (f File) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(f.dir, p)
}

// StoreConfig builds the registry configuration. drivers maps driver
// identifiers to factories; a connection naming an unknown driver is an error.
func (d Database) StoreConfig(drivers map[string]store.DriverFactory) (store.Config, error) {
	cfg := store.DefaultConfig()
	for id, factory := range drivers {
		cfg.Drivers[id] = factory
	}

	for name, raw := range d.Connections {
		driver := cast.ToString(raw["driver"])
		if driver == "" {
			return store.Config{}, fmt.Errorf("%w: connection %q has no driver", ErrInvalidConfig, name)
		}
		if _, ok := cfg.Drivers[driver]; !ok {
			return store.Config{}, fmt.Errorf("%w: connection %q uses driver %q: %w",
				ErrInvalidConfig, name, driver, store.ErrDriverNotInstalled)
		}
		opts := make(map[string]any, len(raw))
		for k, val := range raw {
			if k != "driver" {
				opts[k] = val
			}
		}
		cfg.Connections[name] = store.Connection{Driver: driver, Options: opts}
	}

	for _, r := range d.Models {
		if r.Pattern == "" {
			return store.Config{}, fmt.Errorf("%w: model route without pattern", ErrInvalidConfig)
		}
		cfg.Models = append(cfg.Models, store.ModelRoute{Pattern: r.Pattern, Read: r.Read, Write: r.Write})
	}

	for _, c := range d.Chains {
		if c.Entity == "" {
			return store.Config{}, fmt.Errorf("%w: chain override without entity", ErrInvalidConfig)
		}
		cfg.Chains[c.Entity] = c.Relations
	}
	return cfg, nil
}

// StoreEntities returns the declared entity types.
func (d Database) StoreEntities() []store.Entity {
	out := make([]store.Entity, 0, len(d.Entities))
	for _, e := range d.Entities {
		out = append(out, store.Entity{Name: e.Name, Table: e.Table, QueryFields: e.QueryFields})
	}
	return out
}
