package dynamo

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/weave/store"
)

// maxInOperands is the DynamoDB limit on IN operands.
const maxInOperands = 100

// filter is a compiled Where.
type filter struct {
	expr   string
	names  map[string]string
	values map[string]types.AttributeValue

	// empty is set when a list condition has no values, so nothing can match.
	empty bool
}

// compileWhere builds a filter expression from where, always excluding
// soft-deleted items. Conditions are emitted in field name order.
func compileWhere(where store.Where) (filter, error) {
	f := filter{
		names:  make(map[string]string),
		values: make(map[string]types.AttributeValue),
	}
	clauses := []string{TTLFilterExpr()}

	fields := make([]string, 0, len(where))
	for field := range where {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for i, field := range fields {
		name := "#f" + strconv.Itoa(i)
		f.names[name] = field
		want := where[field]

		if list, ok := store.AsList(want); ok {
			if len(list) == 0 {
				f.empty = true
				return f, nil
			}
			clause, err := f.in(name, i, list)
			if err != nil {
				return f, fmt.Errorf("field %q: %w", field, err)
			}
			clauses = append(clauses, clause)
			continue
		}
		if want == nil {
			clauses = append(clauses, fmt.Sprintf("attribute_not_exists(%s)", name))
			continue
		}
		av, err := attributevalue.Marshal(want)
		if err != nil {
			return f, fmt.Errorf("field %q: %w", field, err)
		}
		placeholder := fmt.Sprintf(":v%d", i)
		f.values[placeholder] = av
		clauses = append(clauses, fmt.Sprintf("%s = %s", name, placeholder))
	}

	f.expr = strings.Join(clauses, " AND ")
	f.names = mergeExprNames(TTLFilterNames(), f.names)
	f.values = mergeExprValues(TTLFilterValues(), f.values)
	return f, nil
}

// in emits one IN clause per chunk of maxInOperands values, joined by OR.
func (f *filter) in(name string, field int, list []any) (string, error) {
	var groups []string
	for start := 0; start < len(list); start += maxInOperands {
		end := min(start+maxInOperands, len(list))
		operands := make([]string, 0, end-start)
		for j := start; j < end; j++ {
			av, err := attributevalue.Marshal(list[j])
			if err != nil {
				return "", err
			}
			placeholder := fmt.Sprintf(":v%d_%d", field, j)
			f.values[placeholder] = av
			operands = append(operands, placeholder)
		}
		groups = append(groups, fmt.Sprintf("%s IN (%s)", name, strings.Join(operands, ", ")))
	}
	if len(groups) == 1 {
		return groups[0], nil
	}
	return "(" + strings.Join(groups, " OR ") + ")", nil
}

// keyOnly returns the key values when where filters on the key field alone.
func keyOnly(where store.Where, key string) ([]any, bool) {
	if len(where) != 1 {
		return nil, false
	}
	want, ok := where[key]
	if !ok || want == nil {
		return nil, false
	}
	if list, isList := store.AsList(want); isList {
		return list, true
	}
	return []any{want}, true
}
