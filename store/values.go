package store

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"

	"github.com/spf13/cast"
)

// AsList returns v as a []any when it is a slice or array (other than
// []byte), and false otherwise.
func AsList(v any) ([]any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case []any:
		return t, true
	case []byte:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// Matches reports whether a row satisfies a filter. Values are compared by
// KeyString; a list value matches when any element matches.
func Matches(row *Row, where Where) bool {
	for field, want := range where {
		got, ok := row.Get(field)
		if list, isList := AsList(want); isList {
			if !ok || !containsKey(list, got) {
				return false
			}
			continue
		}
		if !ok {
			if want != nil {
				return false
			}
			continue
		}
		if KeyString(got) != KeyString(want) {
			return false
		}
	}
	return true
}

func containsKey(list []any, v any) bool {
	key := KeyString(v)
	for _, item := range list {
		if KeyString(item) == key {
			return true
		}
	}
	return false
}

// Compare orders two field values: numerically when both are numbers,
// otherwise by their string form.
func Compare(a, b any) int {
	fa, errA := cast.ToFloat64E(a)
	fb, errB := cast.ToFloat64E(b)
	if errA == nil && errB == nil && isNumeric(a) && isNumeric(b) {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	sa, sb := KeyString(a), KeyString(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	}
	return 0
}

func isNumeric(v any) bool {
	switch t := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	case string:
		_, err := strconv.ParseFloat(t, 64)
		return err == nil
	}
	return false
}

// SortRows sorts rows in place by the given order. It is stable so rows with
// equal sort keys keep their original order.
func SortRows(rows []*Row, order []Order) {
	if len(order) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range order {
			c := Compare(rows[i].Value(o.Field), rows[j].Value(o.Field))
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// Reduce applies an aggregate to values. An empty input yields 0.
func Reduce(fn AggregateFunc, values []float64) (float64, error) {
	if len(values) == 0 {
		switch fn {
		case Sum, Avg, Min, Max:
			return 0, nil
		}
		return 0, fmt.Errorf("%w: aggregate %q", ErrUnsupported, fn)
	}
	switch fn {
	case Sum, Avg:
		var total float64
		for _, v := range values {
			total += v
		}
		if fn == Avg {
			return total / float64(len(values)), nil
		}
		return total, nil
	case Min, Max:
		out := values[0]
		for _, v := range values[1:] {
			if (fn == Min && v < out) || (fn == Max && v > out) {
				out = v
			}
		}
		return out, nil
	}
	return 0, fmt.Errorf("%w: aggregate %q", ErrUnsupported, fn)
}
