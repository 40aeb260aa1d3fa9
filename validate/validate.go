// Package validate checks record field values against the entity store:
// uniqueness, existence and existence of every element of a list.
package validate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/jacentio/weave/store"
)

// Failure codes of the built-in checks.
const (
	CodeNotUnique     = "14.0"
	CodeNotExists     = "19.0"
	CodeNotExistsList = "20.0"
)

// Built-in check names.
const (
	CheckUnique     = "unique"
	CheckExists     = "exists"
	CheckExistsList = "exists-list"
)

var (
	// ErrUnknownCheck is returned when a rule names an unregistered check.
	ErrUnknownCheck = errors.New("weave: unknown validation check")

	// ErrInvalidRule is returned when a rule is missing required options.
	ErrInvalidRule = errors.New("weave: invalid validation rule")
)

// EntitySource hands out the driver for an entity type. *store.Registry
// implements it.
type EntitySource interface {
	Entity(ctx context.Context, name string) (store.Driver, error)
}

// FieldRef maps a value onto an entity field. A plain reference (Property
// empty) matches Target against the validated value; otherwise Target is
// matched against the record's Property.
type FieldRef struct {
	Property string
	Target   string
}

// Options configures a check.
type Options struct {
	// Entity is the entity type queried.
	Entity string

	// Fields are the entity fields matched. Default: the validated field for
	// unique, "id" for exists and exists-list.
	Fields []FieldRef

	// Where is merged under the generated filter.
	Where store.Where
}

// Input is what a check receives.
type Input struct {
	// Field is the validated field name.
	Field string

	// Value is the validated value.
	Value any

	Options Options

	// Record is the full record being validated.
	Record *store.Row
}

// Check runs one check and returns a failure code, or "" when it passes.
type Check func(ctx context.Context, entities EntitySource, in Input) (string, error)

// Rule applies a check to a record field.
type Rule struct {
	Field   string
	Check   string
	Options Options
}

// Violation is one failed rule.
type Violation struct {
	Field   string `json:"field"`
	Check   string `json:"check"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result holds every violation of a Validate call.
type Result struct {
	Violations []Violation `json:"violations"`
}

// OK reports whether every rule passed.
func (r Result) OK() bool {
	return len(r.Violations) == 0
}

// Codes returns the failure codes recorded for a field.
func (r Result) Codes(field string) []string {
	var out []string
	for _, v := range r.Violations {
		if v.Field == field {
			out = append(out, v.Code)
		}
	}
	return out
}

// ByField groups violations by field.
func (r Result) ByField() map[string][]Violation {
	out := make(map[string][]Violation)
	for _, v := range r.Violations {
		out[v.Field] = append(out[v.Field], v)
	}
	return out
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

// Validator runs rules against records.
type Validator struct {
	entities EntitySource
	logger   *slog.Logger

	mu     sync.RWMutex
	checks map[string]Check
	codes  map[string]string
}

// New creates a Validator with the built-in checks and codes registered.
func New(entities EntitySource, opts ...Option) *Validator {
	v := &Validator{
		entities: entities,
		checks: map[string]Check{
			CheckUnique:     Unique,
			CheckExists:     Exists,
			CheckExistsList: ExistsList,
		},
		codes: map[string]string{
			CodeNotUnique:     "not unique",
			CodeNotExists:     "not exists on db",
			CodeNotExistsList: "one or more not exists on db",
		},
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = slog.Default()
	}
	return v
}

// RegisterCheck adds or replaces a named check.
func (v *Validator) RegisterCheck(name string, check Check) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.checks[name] = check
}

// RegisterCode adds or replaces the message for a failure code.
func (v *Validator) RegisterCode(code, message string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.codes[code] = message
}

// Message returns the message registered for a code, or the code itself.
func (v *Validator) Message(code string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if msg, ok := v.codes[code]; ok {
		return msg
	}
	return code
}

// Run runs a single named check.
func (v *Validator) Run(ctx context.Context, check string, in Input) (string, error) {
	v.mu.RLock()
	fn, ok := v.checks[check]
	v.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCheck, check)
	}
	return fn(ctx, v.entities, in)
}

// Validate runs every rule against record and collects all failures.
// Errors are returned only for misconfigured rules and driver failures.
func (v *Validator) Validate(ctx context.Context, rules []Rule, record *store.Row) (Result, error) {
	var res Result
	for _, rule := range rules {
		code, err := v.Run(ctx, rule.Check, Input{
			Field:   rule.Field,
			Value:   record.Value(rule.Field),
			Options: rule.Options,
			Record:  record,
		})
		if err != nil {
			return Result{}, fmt.Errorf("validate %s (%s): %w", rule.Field, rule.Check, err)
		}
		if code == "" {
			continue
		}
		v.logger.Debug("validation failed", "field", rule.Field, "check", rule.Check, "code", code)
		res.Violations = append(res.Violations, Violation{
			Field:   rule.Field,
			Check:   rule.Check,
			Code:    code,
			Message: v.Message(code),
		})
	}
	return res, nil
}

// Empty reports whether a value is empty: nil, "", false, a numeric zero or
// an empty list. Empty values pass exists and exists-list.
func Empty(value any) bool {
	if value == nil {
		return true
	}
	if list, ok := store.AsList(value); ok {
		return len(list) == 0
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return rv.IsZero()
	case reflect.Pointer, reflect.Map, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
