package store

// DefaultConnection is the connection name used when no route matches an entity.
const DefaultConnection = "default"

// Connection is one named connection in the configuration.
type Connection struct {
	// Driver is the driver identifier, a key of Config.Drivers.
	Driver string

	// Options carries driver-specific settings.
	Options map[string]any
}

// ModelRoute routes entity types to read/write connection names.
type ModelRoute struct {
	// Pattern is an entity type name, or a pattern where "*" matches one or
	// more characters (e.g., "Post*").
	Pattern string

	// Read is the connection name for reads. Empty falls back to Write.
	Read string

	// Write is the connection name for writes. Empty falls back to Read.
	Write string
}

// Config holds configuration for the Registry.
type Config struct {
	// Connections maps connection names to their settings.
	Connections map[string]Connection

	// Drivers maps driver identifiers to factories.
	Drivers map[string]DriverFactory

	// Models routes entity types to connections. Exact matches win over
	// patterns; patterns are tried in order.
	// Default: every entity uses "default" for both read and write.
	Models []ModelRoute

	// Chains holds per-entity overrides merged over declared chain defaults.
	Chains map[string]map[string]any
}

// DefaultConfig returns an empty configuration ready for connections and drivers.
func DefaultConfig() Config {
	return Config{
		Connections: make(map[string]Connection),
		Drivers:     make(map[string]DriverFactory),
		Chains:      make(map[string]map[string]any),
	}
}

// validate fills nil maps and normalises routes.
func (c *Config) validate() {
	if c.Connections == nil {
		c.Connections = make(map[string]Connection)
	}
	if c.Drivers == nil {
		c.Drivers = make(map[string]DriverFactory)
	}
	if c.Chains == nil {
		c.Chains = make(map[string]map[string]any)
	}
	c.Models = append([]ModelRoute(nil), c.Models...)
	for i := range c.Models {
		route := &c.Models[i]
		if route.Read == "" {
			route.Read = route.Write
		}
		if route.Write == "" {
			route.Write = route.Read
		}
		if route.Read == "" {
			route.Read = DefaultConnection
			route.Write = DefaultConnection
		}
	}
}
