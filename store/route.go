package store

import (
	"regexp"
	"strings"
)

// route returns the read/write connection names for an entity type.
func (c *Config) route(entity string) (read, write string) {
	for _, r := range c.Models {
		if r.Pattern == entity {
			return r.Read, r.Write
		}
	}
	for _, r := range c.Models {
		if !strings.Contains(r.Pattern, "*") {
			continue
		}
		if patternRegexp(r.Pattern).MatchString(entity) {
			return r.Read, r.Write
		}
	}
	return DefaultConnection, DefaultConnection
}

// patternRegexp compiles a model pattern where "*" matches one or more characters.
func patternRegexp(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile("^" + strings.Join(parts, ".+") + "$")
}

// mergeChains deep-merges override over base. Override wins per key; nested
// maps are merged recursively. Neither input is modified.
func mergeChains(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		if bm, ok := out[k].(map[string]any); ok {
			if om, ok := v.(map[string]any); ok {
				out[k] = mergeChains(bm, om)
				continue
			}
		}
		out[k] = v
	}
	return out
}
