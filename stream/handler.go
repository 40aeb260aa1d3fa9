// Package stream provides DynamoDB Streams handlers that validate written items.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/weave/store"
	"github.com/jacentio/weave/store/dynamo"
	"github.com/jacentio/weave/validate"
)

// Invalid describes one stream record whose new image failed validation.
type Invalid struct {
	EventID    string               `json:"event_id"`
	Table      string               `json:"table"`
	Key        store.Where          `json:"key"`
	Violations []validate.Violation `json:"violations"`
}

// ViolationFunc is called for each invalid record. A returned error marks
// the record as failed so the stream retries it.
type ViolationFunc func(ctx context.Context, invalid Invalid) error

// Handler validates DynamoDB stream records against per-table rules.
type Handler struct {
	validator   *validate.Validator
	rules       map[string][]validate.Rule
	logger      *slog.Logger
	onViolation ViolationFunc
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// OnViolation registers a callback for invalid records.
func OnViolation(fn ViolationFunc) Option {
	return func(h *Handler) {
		h.onViolation = fn
	}
}

// NewHandler creates a new stream handler. rules is keyed by table name;
// records from tables without rules are skipped.
func NewHandler(v *validate.Validator, rules map[string][]validate.Rule, opts ...Option) *Handler {
	h := &Handler{
		validator: v,
		rules:     rules,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleValidate processes a DynamoDB stream batch. Records that could not be
// validated are reported as batch item failures so only they are retried.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleValidate(ctx context.Context, event events.DynamoDBEvent) (events.DynamoDBEventResponse, error) {
	var resp events.DynamoDBEventResponse
	for _, record := range event.Records {
		invalid, err := h.processRecord(ctx, record)
		if err == nil && invalid != nil && h.onViolation != nil {
			err = h.onViolation(ctx, *invalid)
		}
		if err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.DynamoDBBatchItemFailure{
				ItemIdentifier: record.Change.SequenceNumber,
			})
		}
	}
	return resp, nil
}

// processRecord validates the new image of an INSERT or MODIFY record. It
// returns nil when the record is skipped or valid.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) (*Invalid, error) {
	if record.EventName != "INSERT" && record.EventName != "MODIFY" {
		return nil, nil
	}
	// Soft-deleted items are not validated.
	if getNumberAttr(record.Change.NewImage, dynamo.TTLAttribute) != 0 {
		return nil, nil
	}

	table := TableFromARN(record.EventSourceArn)
	rules := h.rules[table]
	if len(rules) == 0 {
		return nil, nil
	}
	if h.validator == nil {
		return nil, fmt.Errorf("table %s: no validator configured", table)
	}

	row, err := RowFromImage(record.Change.NewImage)
	if err != nil {
		return nil, fmt.Errorf("convert image: %w", err)
	}
	result, err := h.validator.Validate(ctx, rules, row)
	if err != nil {
		return nil, fmt.Errorf("validate %s: %w", table, err)
	}
	if result.OK() {
		return nil, nil
	}

	key, err := KeyWhere(record.Change.Keys)
	if err != nil {
		return nil, fmt.Errorf("convert key: %w", err)
	}
	invalid := &Invalid{
		EventID:    record.EventID,
		Table:      table,
		Key:        key,
		Violations: result.Violations,
	}
	for _, v := range result.Violations {
		h.logger.Warn("stream record failed validation",
			"eventID", record.EventID,
			"table", table,
			"field", v.Field,
			"check", v.Check,
			"code", v.Code,
		)
	}
	return invalid, nil
}

// TableFromARN extracts the table name from a stream or table ARN
// (arn:aws:dynamodb:region:account:table/NAME/stream/LABEL).
func TableFromARN(arn string) string {
	_, rest, ok := strings.Cut(arn, ":table/")
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(rest, "/")
	return name
}

// RowFromImage converts a stream image to a row with fields ordered by name.
func RowFromImage(image map[string]events.DynamoDBAttributeValue) (*store.Row, error) {
	m := make(map[string]any, len(image))
	for k, v := range image {
		val, err := attrValue(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		m[k] = val
	}
	return store.RowFromMap(m), nil
}

// KeyWhere converts a stream key to a filter on the key attributes.
func KeyWhere(keys map[string]events.DynamoDBAttributeValue) (store.Where, error) {
	row, err := RowFromImage(keys)
	if err != nil {
		return nil, err
	}
	return store.Where(row.Map()), nil
}

func attrValue(v events.DynamoDBAttributeValue) (any, error) {
	switch v.DataType() {
	case events.DataTypeString:
		return v.String(), nil
	case events.DataTypeNumber:
		return parseNumber(v.Number())
	case events.DataTypeBoolean:
		return v.Boolean(), nil
	case events.DataTypeNull:
		return nil, nil
	case events.DataTypeBinary:
		return v.Binary(), nil
	case events.DataTypeStringSet:
		out := make([]any, 0, len(v.StringSet()))
		for _, s := range v.StringSet() {
			out = append(out, s)
		}
		return out, nil
	case events.DataTypeNumberSet:
		out := make([]any, 0, len(v.NumberSet()))
		for _, s := range v.NumberSet() {
			n, err := parseNumber(s)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	case events.DataTypeList:
		out := make([]any, 0, len(v.List()))
		for _, item := range v.List() {
			val, err := attrValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, val)
		}
		return out, nil
	case events.DataTypeMap:
		return RowFromImage(v.Map())
	}
	return nil, fmt.Errorf("unsupported attribute type %v", v.DataType())
}

func parseNumber(s string) (any, error) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	return f, nil
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeNumber {
			n, _ := strconv.ParseInt(v.Number(), 10, 64)
			return n
		}
	}
	return 0
}
