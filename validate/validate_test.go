package validate_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/weave/store"
	"github.com/jacentio/weave/store/memory"
	"github.com/jacentio/weave/validate"
)

func newValidator(t *testing.T) *validate.Validator {
	t.Helper()

	db := memory.NewDatabase()
	db.Insert("users",
		store.NewRow("id", int64(1), "email", "one@example.com", "tenant_id", "acme"),
	)
	db.Insert("tags",
		store.NewRow("id", int64(10), "label", "A"),
		store.NewRow("id", int64(11), "label", "C", "active", false),
	)
	db.Insert("counters",
		store.NewRow("id", int64(1), "slot", int64(0), "flag", false, "note", ""),
	)

	cfg := store.DefaultConfig()
	cfg.Connections[store.DefaultConnection] = store.Connection{Driver: memory.DriverID}
	cfg.Drivers[memory.DriverID] = memory.Factory(db)
	return validate.New(store.NewRegistry(cfg))
}

func run(t *testing.T, v *validate.Validator, check string, value any, opts validate.Options) string {
	t.Helper()
	code, err := v.Run(context.Background(), check, validate.Input{Field: "email", Value: value, Options: opts})
	require.NoError(t, err)
	return code
}

// --- Empty values ---

func TestChecks_FalsyValuesPassExists(t *testing.T) {
	v := newValidator(t)
	empties := []any{nil, "", 0, int64(0), false, []any{}, []string{}}
	checks := []string{validate.CheckExists, validate.CheckExistsList}

	for _, check := range checks {
		for _, value := range empties {
			// No entity configured: empty values must pass before any lookup.
			code, err := v.Run(context.Background(), check, validate.Input{Field: "x", Value: value})
			assert.NoError(t, err, "%s on %#v", check, value)
			assert.Empty(t, code, "%s on %#v", check, value)
		}
	}
}

func TestUnique_NilValuePasses(t *testing.T) {
	v := newValidator(t)

	for _, value := range []any{nil, []any{}} {
		code, err := v.Run(context.Background(), validate.CheckUnique, validate.Input{Field: "x", Value: value})
		assert.NoError(t, err, "unique on %#v", value)
		assert.Empty(t, code, "unique on %#v", value)
	}
}

func TestUnique_ZeroValuesAreChecked(t *testing.T) {
	v := newValidator(t)
	opts := func(field string) validate.Options {
		return validate.Options{Entity: "Counter", Fields: []validate.FieldRef{{Target: field}}}
	}

	assert.Equal(t, validate.CodeNotUnique, run(t, v, validate.CheckUnique, int64(0), opts("slot")))
	assert.Equal(t, validate.CodeNotUnique, run(t, v, validate.CheckUnique, 0, opts("slot")))
	assert.Equal(t, validate.CodeNotUnique, run(t, v, validate.CheckUnique, false, opts("flag")))
	assert.Equal(t, validate.CodeNotUnique, run(t, v, validate.CheckUnique, "", opts("note")))

	assert.Empty(t, run(t, v, validate.CheckUnique, int64(1), opts("slot")))
	assert.Empty(t, run(t, v, validate.CheckUnique, true, opts("flag")))
}

// --- unique ---

func TestUnique(t *testing.T) {
	v := newValidator(t)
	opts := validate.Options{Entity: "User"}

	assert.Equal(t, validate.CodeNotUnique, run(t, v, validate.CheckUnique, "one@example.com", opts))
	assert.Empty(t, run(t, v, validate.CheckUnique, "two@example.com", opts))
}

func TestUnique_CompositeKey(t *testing.T) {
	v := newValidator(t)
	rules := []validate.Rule{{
		Field: "email",
		Check: validate.CheckUnique,
		Options: validate.Options{
			Entity: "User",
			Fields: []validate.FieldRef{{Target: "email"}, {Property: "tenant", Target: "tenant_id"}},
		},
	}}

	res, err := v.Validate(context.Background(), rules, store.NewRow("email", "one@example.com", "tenant", "acme"))
	require.NoError(t, err)
	assert.Equal(t, []string{validate.CodeNotUnique}, res.Codes("email"))

	res, err = v.Validate(context.Background(), rules, store.NewRow("email", "one@example.com", "tenant", "globex"))
	require.NoError(t, err)
	assert.True(t, res.OK())
}

// --- exists ---

func TestExists(t *testing.T) {
	v := newValidator(t)
	opts := validate.Options{Entity: "Tag", Fields: []validate.FieldRef{{Target: "label"}}}

	assert.Equal(t, validate.CodeNotExists, run(t, v, validate.CheckExists, "B", opts))
	assert.Empty(t, run(t, v, validate.CheckExists, "A", opts))

	byID := validate.Options{Entity: "Tag"}
	assert.Empty(t, run(t, v, validate.CheckExists, "10", byID))
}

func TestExists_StaticWhere(t *testing.T) {
	v := newValidator(t)
	opts := validate.Options{
		Entity: "Tag",
		Fields: []validate.FieldRef{{Target: "label"}},
		Where:  store.Where{"active": false},
	}
	assert.Equal(t, validate.CodeNotExists, run(t, v, validate.CheckExists, "A", opts))
	assert.Empty(t, run(t, v, validate.CheckExists, "C", opts))
}

// --- exists-list ---

func TestExistsList(t *testing.T) {
	v := newValidator(t)
	opts := validate.Options{Entity: "Tag", Fields: []validate.FieldRef{{Target: "label"}}}

	assert.Equal(t, validate.CodeNotExistsList, run(t, v, validate.CheckExistsList, []any{"A", "B"}, opts))
	assert.Equal(t, validate.CodeNotExistsList, run(t, v, validate.CheckExistsList, []string{"X"}, opts))
	assert.Empty(t, run(t, v, validate.CheckExistsList, []string{"A", "C"}, opts))
	assert.Empty(t, run(t, v, validate.CheckExistsList, "A", opts))
}

// --- Validator ---

func TestValidate_CollectsAllFailures(t *testing.T) {
	v := newValidator(t)
	rules := []validate.Rule{
		{Field: "email", Check: validate.CheckUnique, Options: validate.Options{Entity: "User"}},
		{Field: "tag", Check: validate.CheckExists, Options: validate.Options{Entity: "Tag", Fields: []validate.FieldRef{{Target: "label"}}}},
		{Field: "tags", Check: validate.CheckExistsList, Options: validate.Options{Entity: "Tag", Fields: []validate.FieldRef{{Target: "label"}}}},
	}
	record := store.NewRow("email", "one@example.com", "tag", "Z", "tags", []any{"A"})

	res, err := v.Validate(context.Background(), rules, record)
	require.NoError(t, err)
	require.Len(t, res.Violations, 2)
	assert.Equal(t, validate.Violation{Field: "email", Check: "unique", Code: "14.0", Message: "not unique"}, res.Violations[0])
	assert.Equal(t, validate.Violation{Field: "tag", Check: "exists", Code: "19.0", Message: "not exists on db"}, res.Violations[1])
	assert.Len(t, res.ByField(), 2)
	assert.False(t, res.OK())
}

func TestValidate_UnknownCheck(t *testing.T) {
	v := newValidator(t)
	_, err := v.Validate(context.Background(), []validate.Rule{{Field: "a", Check: "regex"}}, store.NewRow("a", "x"))
	assert.ErrorIs(t, err, validate.ErrUnknownCheck)
}

func TestValidate_MissingEntity(t *testing.T) {
	v := newValidator(t)
	_, err := v.Validate(context.Background(), []validate.Rule{{Field: "a", Check: validate.CheckExists}}, store.NewRow("a", "x"))
	assert.ErrorIs(t, err, validate.ErrInvalidRule)
}

func TestValidate_CustomCheckAndCode(t *testing.T) {
	v := newValidator(t)
	v.RegisterCode("30.0", "too long")
	v.RegisterCheck("short", func(_ context.Context, _ validate.EntitySource, in validate.Input) (string, error) {
		if len(store.KeyString(in.Value)) > 3 {
			return "30.0", nil
		}
		return "", nil
	})

	res, err := v.Validate(context.Background(), []validate.Rule{{Field: "name", Check: "short"}}, store.NewRow("name", "abcdef"))
	require.NoError(t, err)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, "too long", res.Violations[0].Message)
	assert.Equal(t, "99.0", v.Message("99.0"))
}

func TestValidate_DriverErrorPropagates(t *testing.T) {
	errDown := errors.New("database down")
	cfg := store.DefaultConfig()
	cfg.Connections[store.DefaultConnection] = store.Connection{Driver: "broken"}
	cfg.Drivers["broken"] = func(context.Context, store.DriverOptions) (store.Driver, error) {
		return nil, errDown
	}
	v := validate.New(store.NewRegistry(cfg))

	_, err := v.Validate(context.Background(),
		[]validate.Rule{{Field: "a", Check: validate.CheckExists, Options: validate.Options{Entity: "User"}}},
		store.NewRow("a", "x"))
	assert.ErrorIs(t, err, errDown)
}

// --- LoadRules ---

func TestLoadRules(t *testing.T) {
	rules, err := validate.LoadRules(strings.NewReader(`
email:
  - check: unique
    model: User
    field: [email, {tenant: tenant_id}]
    where: {deleted: false}
tags:
  - check: exists-list
    model: Tag
    field: label
  - check: exists
    model: Tag
`))
	require.NoError(t, err)
	require.Len(t, rules, 3)

	assert.Equal(t, validate.Rule{
		Field: "email",
		Check: "unique",
		Options: validate.Options{
			Entity: "User",
			Fields: []validate.FieldRef{{Target: "email"}, {Property: "tenant", Target: "tenant_id"}},
			Where:  store.Where{"deleted": false},
		},
	}, rules[0])
	assert.Equal(t, []validate.FieldRef{{Target: "label"}}, rules[1].Options.Fields)
	assert.Equal(t, "tags", rules[2].Field)
	assert.Nil(t, rules[2].Options.Fields)
}

func TestLoadRules_MissingCheck(t *testing.T) {
	_, err := validate.LoadRules(strings.NewReader("email:\n  - model: User\n"))
	assert.ErrorIs(t, err, validate.ErrInvalidRule)
}
