package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cast"
)

// Row is an ordered field map. It is the unit drivers return and the formatter
// produces. Field order is the insertion order and is preserved through JSON.
type Row struct {
	keys   []string
	values map[string]any
}

// NewRow builds a row from alternating field names and values.
//
//	store.NewRow("id", 1, "name", "User One")
func NewRow(kv ...any) *Row {
	if len(kv)%2 != 0 {
		panic("store: NewRow called with an odd number of arguments")
	}
	r := &Row{values: make(map[string]any, len(kv)/2)}
	for i := 0; i < len(kv); i += 2 {
		name, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("store: NewRow field name at position %d is %T, not string", i, kv[i]))
		}
		r.Set(name, kv[i+1])
	}
	return r
}

// RowFromMap builds a row from a map. Fields are ordered by name since map
// iteration order is undefined.
func RowFromMap(m map[string]any) *Row {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)

	r := &Row{values: make(map[string]any, len(m))}
	for _, name := range names {
		r.Set(name, m[name])
	}
	return r
}

// Set assigns a field, appending it to the field order if it is new.
func (r *Row) Set(field string, value any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[field]; !ok {
		r.keys = append(r.keys, field)
	}
	r.values[field] = value
}

// Get returns the field value and whether the row carries the field.
func (r *Row) Get(field string) (any, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r.values[field]
	return v, ok
}

// Field returns the field value or ErrUnknownField.
func (r *Row) Field(field string) (any, error) {
	v, ok := r.Get(field)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return v, nil
}

// Value returns the field value, or nil when the row does not carry it.
func (r *Row) Value(field string) any {
	v, _ := r.Get(field)
	return v
}

// String returns the field value cast to a string ("" when missing).
func (r *Row) String(field string) string {
	return KeyString(r.Value(field))
}

// Has reports whether the row carries the field.
func (r *Row) Has(field string) bool {
	_, ok := r.Get(field)
	return ok
}

// Delete removes a field.
func (r *Row) Delete(field string) {
	if r == nil {
		return
	}
	if _, ok := r.values[field]; !ok {
		return
	}
	delete(r.values, field)
	for i, k := range r.keys {
		if k == field {
			r.keys = append(r.keys[:i], r.keys[i+1:]...)
			break
		}
	}
}

// Fields returns the field names in order.
func (r *Row) Fields() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of fields.
func (r *Row) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// Clone returns a shallow copy.
func (r *Row) Clone() *Row {
	if r == nil {
		return nil
	}
	c := &Row{
		keys:   make([]string, len(r.keys)),
		values: make(map[string]any, len(r.values)),
	}
	copy(c.keys, r.keys)
	for k, v := range r.values {
		c.values[k] = v
	}
	return c
}

// Map returns the fields as a plain map. Nested rows are converted too.
func (r *Row) Map() map[string]any {
	if r == nil {
		return nil
	}
	out := make(map[string]any, len(r.keys))
	for _, k := range r.keys {
		out[k] = plain(r.values[k])
	}
	return out
}

func plain(v any) any {
	switch t := v.(type) {
	case *Row:
		return t.Map()
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = plain(item)
		}
		return out
	default:
		return v
	}
}

// MarshalJSON encodes the row as a JSON object in field order.
func (r *Row) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		val, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping field order. Nested objects
// become *Row, arrays become []any and integral numbers become int64.
func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("weave: row must be a JSON object, got %v", tok)
	}
	decoded, err := decodeObject(dec)
	if err != nil {
		return err
	}
	*r = *decoded
	return nil
}

// DecodeRows reads a JSON array of objects.
func DecodeRows(rd io.Reader) ([]*Row, error) {
	dec := json.NewDecoder(rd)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, fmt.Errorf("weave: expected a JSON array of rows, got %v", tok)
	}

	var rows []*Row
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if d, ok := tok.(json.Delim); !ok || d != '{' {
			return nil, fmt.Errorf("weave: expected a JSON object, got %v", tok)
		}
		row, err := decodeObject(dec)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return rows, nil
}

func decodeObject(dec *json.Decoder) (*Row, error) {
	row := &Row{values: make(map[string]any)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("weave: expected field name, got %v", tok)
		}
		val, err := decodeValue(dec)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		row.Set(name, val)
	}
	// closing '}'
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return row, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			list := []any{}
			for dec.More() {
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				list = append(list, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return list, nil
		}
		return nil, fmt.Errorf("weave: unexpected delimiter %v", t)
	case json.Number:
		return number(t), nil
	default:
		return t, nil
	}
}

func number(n json.Number) any {
	if !strings.ContainsAny(n.String(), ".eE") {
		if i, err := n.Int64(); err == nil {
			return i
		}
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

// ParseJSONValue decodes a JSON document with the same conventions as
// Row.UnmarshalJSON.
func ParseJSONValue(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return decodeValue(dec)
}

// KeyString stringifies a key value for equality checks across mixed types,
// so that 7, int64(7), 7.0 and "7" all compare equal.
func KeyString(v any) string {
	if v == nil {
		return ""
	}
	if s, err := cast.ToStringE(v); err == nil {
		return s
	}
	return fmt.Sprint(v)
}
