package format

import (
	"context"
	"fmt"

	"github.com/jacentio/weave/store"
)

// resolve fetches the rows of ref whose join field is one of keys, in a
// single Get, and returns their projections indexed by stringified join
// value. Keys with no row are absent from the result.
func (f *Formatter) resolve(ctx context.Context, ref Reference, keys []any, exp Expand, depth int) (map[string]any, error) {
	if len(keys) == 0 {
		return map[string]any{}, nil
	}
	if err := validateReference(ref); err != nil {
		return nil, err
	}
	drv, err := f.entities.Entity(ctx, ref.Entity)
	if err != nil {
		return nil, err
	}

	key := ref.key()
	where := ref.Where.Merge(exp.Where, store.Where{key: keys})
	f.logger.Debug("resolving relation", "entity", ref.Entity, "field", key, "keys", len(keys))

	rows, err := drv.Get(ctx, where)
	if err != nil {
		return nil, err
	}
	projected, err := f.project(ctx, ref.Select, rows, exp, depth)
	if err != nil {
		return nil, err
	}

	// A later row with the same join value replaces an earlier one.
	out := make(map[string]any, len(rows))
	for i, row := range rows {
		out[store.KeyString(row.Value(key))] = projected[i]
	}
	return out, nil
}

func (f *Formatter) project(ctx context.Context, sel Projection, rows []*store.Row, exp Expand, depth int) ([]any, error) {
	out := make([]any, len(rows))
	switch {
	case sel.Field != nil:
		for i, row := range rows {
			v, err := f.pick(row, *sel.Field)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
	case len(sel.Fields) > 0:
		for i, row := range rows {
			picked := &store.Row{}
			for _, spec := range sel.Fields {
				v, err := f.pick(row, spec)
				if err != nil {
					return nil, err
				}
				picked.Set(spec.Name, v)
			}
			out[i] = picked
		}
	case sel.Format != "":
		fm, err := f.Lookup(sel.Format)
		if err != nil {
			return nil, err
		}
		formatted, err := f.apply(ctx, fm, rows, exp.Nested, depth+1)
		if err != nil {
			return nil, err
		}
		for i, row := range formatted {
			out[i] = row
		}
	default:
		for i, row := range rows {
			out[i] = row
		}
	}
	return out, nil
}

func (f *Formatter) pick(row *store.Row, spec FieldSpec) (any, error) {
	v, err := row.Field(spec.Name)
	if err != nil {
		return nil, err
	}
	return f.types(spec.Type, v, spec.Name, row)
}

// placeholder builds the id-only value for a key that is not fetched.
func (f *Formatter) placeholder(ref Reference, id any) (any, error) {
	if ref.IDType == "" {
		return Ref{ID: id}, nil
	}
	v, err := f.types(ref.IDType, id, ref.key(), nil)
	if err != nil {
		return nil, fmt.Errorf("placeholder for %s: %w", ref.Entity, err)
	}
	return Ref{ID: v}, nil
}

// keySet collects distinct non-nil keys in first-seen order.
type keySet struct {
	seen map[string]struct{}
	keys []any
}

func newKeySet() *keySet {
	return &keySet{seen: make(map[string]struct{})}
}

func (s *keySet) add(v any) {
	if v == nil {
		return
	}
	k := store.KeyString(v)
	if _, ok := s.seen[k]; ok {
		return
	}
	s.seen[k] = struct{}{}
	s.keys = append(s.keys, v)
}
