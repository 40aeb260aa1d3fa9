package format

import (
	"context"
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/jacentio/weave/store"
)

func sourceOr(source, fallback string) string {
	if source == "" {
		return fallback
	}
	return source
}

func (f *Formatter) object(ctx context.Context, name string, o Object, rows []*store.Row, exp Expand, expand bool, depth int) ([]any, error) {
	source := sourceOr(o.Source, name)
	out := make([]any, len(rows))

	if !expand {
		refs := make(map[string]any)
		for i, row := range rows {
			raw := row.Value(source)
			if raw == nil {
				continue
			}
			k := store.KeyString(raw)
			ref, ok := refs[k]
			if !ok {
				var err error
				if ref, err = f.placeholder(o.Reference, raw); err != nil {
					return nil, err
				}
				refs[k] = ref
			}
			out[i] = ref
		}
		return out, nil
	}

	keys := newKeySet()
	for _, row := range rows {
		keys.add(row.Value(source))
	}
	resolved, err := f.resolve(ctx, o.Reference, keys.keys, exp, depth)
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		raw := row.Value(source)
		if raw == nil {
			continue
		}
		if v, ok := resolved[store.KeyString(raw)]; ok {
			out[i] = v
			continue
		}
		out[i] = Ref{ID: raw}
	}
	return out, nil
}

func (f *Formatter) partial(ctx context.Context, p Partial, rows []*store.Row, exp Expand, expand bool, depth int) ([]any, error) {
	out := make([]any, len(rows))
	if !expand {
		return out, nil
	}

	source := sourceOr(p.Source, "id")
	keys := newKeySet()
	for _, row := range rows {
		keys.add(row.Value(source))
	}
	resolved, err := f.resolve(ctx, p.Reference, keys.keys, exp, depth)
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		raw := row.Value(source)
		if raw == nil {
			continue
		}
		out[i] = resolved[store.KeyString(raw)]
	}
	return out, nil
}

func (f *Formatter) multipleObject(ctx context.Context, name string, m MultipleObject, rows []*store.Row, exp Expand, expand bool, depth int) ([]any, error) {
	source := sourceOr(m.Source, name)
	tokens := make([][]any, len(rows))
	keys := newKeySet()
	for i, row := range rows {
		toks, err := splitTokens(row.Value(source), m.Separator)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		tokens[i] = toks
		for _, t := range toks {
			keys.add(t)
		}
	}

	values := make(map[string]any, len(keys.keys))
	if expand {
		resolved, err := f.resolve(ctx, m.Reference, keys.keys, exp, depth)
		if err != nil {
			return nil, err
		}
		values = resolved
	} else {
		for _, k := range keys.keys {
			ref, err := f.placeholder(m.Reference, k)
			if err != nil {
				return nil, err
			}
			values[store.KeyString(k)] = ref
		}
	}

	out := make([]any, len(rows))
	for i, toks := range tokens {
		list := make([]any, 0, len(toks))
		for _, t := range toks {
			if v, ok := values[store.KeyString(t)]; ok {
				list = append(list, v)
			}
		}
		out[i] = list
	}
	return out, nil
}

// splitTokens decodes a multi-valued key field into its ordered keys.
func splitTokens(raw any, sep string) ([]any, error) {
	if raw == nil {
		return nil, nil
	}
	if list, ok := store.AsList(raw); ok {
		return compact(list), nil
	}
	s, ok := raw.(string)
	if !ok {
		return []any{raw}, nil
	}
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	if sep == SeparatorJSON {
		v, err := store.ParseJSONValue([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("decode key list: %w", err)
		}
		if list, ok := v.([]any); ok {
			return compact(list), nil
		}
		return compact([]any{v}), nil
	}
	if sep == "" {
		sep = ","
	}
	parts := strings.Split(s, sep)
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

func compact(list []any) []any {
	out := make([]any, 0, len(list))
	for _, v := range list {
		if v == nil || store.KeyString(v) == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func (f *Formatter) objectSwitch(ctx context.Context, name string, s ObjectSwitch, rows []*store.Row, exp Expand, expand bool, depth int) ([]any, error) {
	source := sourceOr(s.Source, name)

	discs := make([]string, len(rows))
	buckets := make(map[string]*keySet)
	var order []string
	for i, row := range rows {
		key := row.Value(source)
		if key == nil {
			continue
		}
		d := discriminatorString(row.Value(s.Discriminator))
		discs[i] = d
		b, ok := buckets[d]
		if !ok {
			b = newKeySet()
			buckets[d] = b
			order = append(order, d)
		}
		b.add(key)
	}

	resolved := make(map[string]map[string]any, len(buckets))
	if expand {
		for _, d := range order {
			c, ok := s.Cases[d]
			if !ok {
				continue
			}
			vals, err := f.resolve(ctx, c.Reference, buckets[d].keys, exp, depth)
			if err != nil {
				return nil, err
			}
			resolved[d] = vals
		}
	}

	out := make([]any, len(rows))
	for i, row := range rows {
		key := row.Value(source)
		if key == nil {
			continue
		}
		d := discs[i]
		c, ok := s.Cases[d]
		if !ok {
			out[i] = Ref{ID: key}
			continue
		}
		if vals, fetched := resolved[d]; fetched {
			if v, hit := vals[store.KeyString(key)]; hit {
				out[i] = v
				continue
			}
			if !c.Optional {
				out[i] = Ref{ID: key}
			}
			continue
		}
		if c.Optional {
			continue
		}
		ref, err := f.placeholder(c.Reference, key)
		if err != nil {
			return nil, err
		}
		out[i] = ref
	}
	return out, nil
}

// discriminatorString reduces a discriminator value to its case key. Enum
// shaped values ({"value": ...}) select by their value.
func discriminatorString(v any) string {
	switch t := v.(type) {
	case *store.Row:
		return store.KeyString(t.Value("value"))
	case map[string]any:
		return store.KeyString(t["value"])
	case driver.Valuer:
		dv, err := t.Value()
		if err != nil {
			return ""
		}
		return store.KeyString(dv)
	case fmt.Stringer:
		return t.String()
	}
	return store.KeyString(v)
}

func (f *Formatter) chain(ctx context.Context, c Chain, rows []*store.Row, exp Expand, expand bool, depth int) ([]any, error) {
	out := make([]any, len(rows))
	for i := range out {
		out[i] = []any{}
	}
	if !expand {
		return out, nil
	}

	source := sourceOr(c.Source, "id")
	ids := newKeySet()
	for _, row := range rows {
		ids.add(row.Value(source))
	}
	if len(ids.keys) == 0 {
		return out, nil
	}

	join, err := f.entities.Entity(ctx, c.Via.Entity)
	if err != nil {
		return nil, err
	}
	parentField := sourceOr(c.Via.Field, "id")
	f.logger.Debug("resolving chain", "entity", c.Via.Entity, "field", parentField, "keys", len(ids.keys))
	links, err := join.Get(ctx, store.Where{parentField: ids.keys})
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return out, nil
	}

	groups := make(map[string][]any)
	children := newKeySet()
	for _, link := range links {
		child := link.Value(c.Via.Identity)
		if child == nil {
			continue
		}
		parent := store.KeyString(link.Value(parentField))
		groups[parent] = append(groups[parent], child)
		children.add(child)
	}

	resolved, err := f.resolve(ctx, c.Reference, children.keys, exp, depth)
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		raw := row.Value(source)
		if raw == nil {
			continue
		}
		list := []any{}
		for _, child := range groups[store.KeyString(raw)] {
			if v, ok := resolved[store.KeyString(child)]; ok {
				list = append(list, v)
			}
		}
		out[i] = list
	}
	return out, nil
}
