package format

import (
	"strings"

	"github.com/jacentio/weave/store"
)

// Request selects which relation fields are expanded (fetched) in one call.
// A field absent from the request gets its unexpanded default.
type Request map[string]Expand

// Expand holds per-call settings for one expanded field.
type Expand struct {
	// Nested is passed to the named format applied to the related rows.
	Nested Request

	// Where is merged into the relation's fetch, over its static filter.
	Where store.Where
}

// Fields returns a request expanding the named top-level fields.
func Fields(names ...string) Request {
	req := make(Request, len(names))
	for _, n := range names {
		req[n] = Expand{}
	}
	return req
}

// ParseRequest builds a request from a comma separated list of dotted paths:
//
//	ParseRequest("user,tags.author")
//
// expands user and tags, and author inside the format applied to tags.
func ParseRequest(s string) Request {
	req := Request{}
	for _, path := range strings.Split(s, ",") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		req.add(strings.Split(path, "."))
	}
	return req
}

func (r Request) add(parts []string) {
	exp := r[parts[0]]
	if len(parts) > 1 {
		if exp.Nested == nil {
			exp.Nested = Request{}
		}
		exp.Nested.add(parts[1:])
	}
	r[parts[0]] = exp
}

// Has reports whether a field is expanded.
func (r Request) Has(name string) bool {
	_, ok := r[name]
	return ok
}
