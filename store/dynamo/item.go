package dynamo

import (
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/weave/store"
)

// rowFromItem converts a DynamoDB item to a row. Fields are ordered by name
// and the soft-delete attribute is dropped.
func rowFromItem(item map[string]types.AttributeValue) *store.Row {
	m := make(map[string]any, len(item))
	for k, av := range item {
		if k == TTLAttribute {
			continue
		}
		m[k] = valueFrom(av)
	}
	return store.RowFromMap(m)
}

// valueFrom converts an attribute value to the row value conventions:
// integral numbers become int64, other numbers float64 and maps *store.Row.
func valueFrom(av types.AttributeValue) any {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return number(v.Value)
	case *types.AttributeValueMemberBOOL:
		return v.Value
	case *types.AttributeValueMemberNULL:
		return nil
	case *types.AttributeValueMemberB:
		return v.Value
	case *types.AttributeValueMemberL:
		out := make([]any, len(v.Value))
		for i, item := range v.Value {
			out[i] = valueFrom(item)
		}
		return out
	case *types.AttributeValueMemberM:
		m := make(map[string]any, len(v.Value))
		for k, item := range v.Value {
			m[k] = valueFrom(item)
		}
		return store.RowFromMap(m)
	case *types.AttributeValueMemberSS:
		out := make([]any, len(v.Value))
		for i, s := range v.Value {
			out[i] = s
		}
		return out
	case *types.AttributeValueMemberNS:
		out := make([]any, len(v.Value))
		for i, s := range v.Value {
			out[i] = number(s)
		}
		return out
	case *types.AttributeValueMemberBS:
		out := make([]any, len(v.Value))
		for i, b := range v.Value {
			out[i] = b
		}
		return out
	}
	return nil
}

func number(s string) any {
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// itemFromRow marshals a row, nested rows included.
func itemFromRow(row *store.Row) (map[string]types.AttributeValue, error) {
	return attributevalue.MarshalMap(row.Map())
}
