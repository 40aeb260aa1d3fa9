// Package coerce converts single field values to declared types.
package coerce

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/spf13/cast"

	"github.com/jacentio/weave/store"
)

// ErrUnknownType is returned for a type name Apply does not know.
var ErrUnknownType = errors.New("weave: unknown field type")

// Type names understood by Apply.
const (
	Number  = "number"
	Integer = "integer"
	Float   = "float"
	Text    = "text"
	Boolean = "boolean"
	Date    = "date"
	JSON    = "json"
)

// Apply converts value to typ. The field name and row are accepted for
// converters that depend on sibling fields; the built-in types ignore them.
// An empty typ returns value unchanged and nil always stays nil.
func Apply(typ string, value any, field string, row *store.Row) (any, error) {
	if typ == "" || value == nil {
		return value, nil
	}
	switch typ {
	case Number:
		f, err := cast.ToFloat64E(value)
		if err != nil {
			return nil, convErr(typ, field, value, err)
		}
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f), nil
		}
		return f, nil
	case Integer:
		i, err := cast.ToInt64E(value)
		if err != nil {
			return nil, convErr(typ, field, value, err)
		}
		return i, nil
	case Float:
		f, err := cast.ToFloat64E(value)
		if err != nil {
			return nil, convErr(typ, field, value, err)
		}
		return f, nil
	case Text:
		return store.KeyString(value), nil
	case Boolean:
		b, err := cast.ToBoolE(value)
		if err != nil {
			return nil, convErr(typ, field, value, err)
		}
		return b, nil
	case Date:
		t, err := cast.ToTimeE(value)
		if err != nil {
			return nil, convErr(typ, field, value, err)
		}
		return t.UTC().Format(time.RFC3339), nil
	case JSON:
		s, ok := value.(string)
		if !ok {
			return value, nil
		}
		v, err := store.ParseJSONValue([]byte(s))
		if err != nil {
			return nil, convErr(typ, field, value, err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("%w: %q (field %q)", ErrUnknownType, typ, field)
}

// Valid reports whether typ is a type Apply understands.
func Valid(typ string) bool {
	switch typ {
	case "", Number, Integer, Float, Text, Boolean, Date, JSON:
		return true
	}
	return false
}

func convErr(typ, field string, value any, err error) error {
	return fmt.Errorf("convert field %q value %v to %s: %w", field, value, typ, err)
}

// Marshal is the inverse of JSON for values that must be stored as text.
func Marshal(value any) (string, error) {
	if s, ok := value.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
