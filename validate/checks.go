package validate

import (
	"context"
	"fmt"

	"github.com/jacentio/weave/store"
)

func (o Options) driver(ctx context.Context, entities EntitySource) (store.Driver, error) {
	if o.Entity == "" {
		return nil, fmt.Errorf("%w: no entity", ErrInvalidRule)
	}
	return entities.Entity(ctx, o.Entity)
}

// field returns the single entity field matched by exists checks.
func (o Options) field() string {
	if len(o.Fields) == 0 || o.Fields[0].Target == "" {
		return "id"
	}
	return o.Fields[0].Target
}

// Unique fails with CodeNotUnique when a row matches the value. Each plain
// field ref matches the value; a {property: target} ref matches the record's
// property, so composite keys can be checked. Only nil and an empty list
// pass without a lookup; zero values such as 0, "" and false are checked.
func Unique(ctx context.Context, entities EntitySource, in Input) (string, error) {
	if in.Value == nil {
		return "", nil
	}
	if list, ok := store.AsList(in.Value); ok && len(list) == 0 {
		return "", nil
	}
	drv, err := in.Options.driver(ctx, entities)
	if err != nil {
		return "", err
	}

	keys := store.Where{}
	refs := in.Options.Fields
	if len(refs) == 0 {
		refs = []FieldRef{{Target: in.Field}}
	}
	for _, ref := range refs {
		if ref.Property == "" {
			keys[ref.Target] = in.Value
			continue
		}
		keys[ref.Target] = in.Record.Value(ref.Property)
	}

	row, err := drv.GetOne(ctx, in.Options.Where.Merge(keys))
	if err != nil {
		return "", err
	}
	if row != nil {
		return CodeNotUnique, nil
	}
	return "", nil
}

// Exists fails with CodeNotExists when no row matches the value.
func Exists(ctx context.Context, entities EntitySource, in Input) (string, error) {
	if Empty(in.Value) {
		return "", nil
	}
	drv, err := in.Options.driver(ctx, entities)
	if err != nil {
		return "", err
	}
	row, err := drv.GetOne(ctx, in.Options.Where.Merge(store.Where{in.Options.field(): in.Value}))
	if err != nil {
		return "", err
	}
	if row == nil {
		return CodeNotExists, nil
	}
	return "", nil
}

// ExistsList fails with CodeNotExistsList unless every element of the value
// matches a row. A scalar value is checked as a one element list.
func ExistsList(ctx context.Context, entities EntitySource, in Input) (string, error) {
	if Empty(in.Value) {
		return "", nil
	}
	list, ok := store.AsList(in.Value)
	if !ok {
		list = []any{in.Value}
	}
	drv, err := in.Options.driver(ctx, entities)
	if err != nil {
		return "", err
	}

	field := in.Options.field()
	rows, err := drv.Get(ctx, in.Options.Where.Merge(store.Where{field: list}))
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return CodeNotExistsList, nil
	}
	found := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		found[store.KeyString(row.Value(field))] = struct{}{}
	}
	for _, item := range list {
		if _, ok := found[store.KeyString(item)]; !ok {
			return CodeNotExistsList, nil
		}
	}
	return "", nil
}
