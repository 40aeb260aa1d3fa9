package format

import (
	"encoding/json"

	"github.com/jacentio/weave/store"
)

// Field is the declaration of one output field. The set of implementations
// is closed: Scalar, Object, Partial, MultipleObject, ObjectSwitch and Chain.
type Field interface {
	field()
}

// Scalar copies a field from the source row, converting it when Type is set.
type Scalar struct {
	Type string
}

// FieldSpec names a field of a related row and the type it is converted to.
type FieldSpec struct {
	Name string
	Type string
}

// Projection selects what a resolved related row becomes. At most one of
// Field, Fields and Format is used, in that order of precedence. When none is
// set the fetched row is returned as is.
type Projection struct {
	// Field extracts a single field.
	Field *FieldSpec

	// Fields builds a row of the listed fields, in order.
	Fields []FieldSpec

	// Format applies a named format to the related rows.
	Format string
}

// Reference points at the related entity type.
type Reference struct {
	// Entity is the related entity type.
	Entity string

	// Key is the join field on the related entity. Default: "id".
	Key string

	// IDType converts ids carried by id-only placeholders.
	IDType string

	// Select is applied to each resolved row.
	Select Projection

	// Where is merged into every fetch.
	Where store.Where
}

func (r Reference) key() string {
	if r.Key == "" {
		return "id"
	}
	return r.Key
}

// Object resolves a foreign key to the related row. Without expansion each
// parent gets an id-only Ref.
type Object struct {
	Reference

	// Source is the parent field holding the key. Default: the output field name.
	Source string
}

// Partial resolves an optional related row, keyed by the parent's own id by
// default. Without expansion, or when nothing is found, the value is nil.
type Partial struct {
	Reference

	// Source is the parent field holding the key. Default: "id".
	Source string
}

// MultipleObject resolves a string encoding several keys into a list.
type MultipleObject struct {
	Reference

	// Source is the parent field holding the encoded keys. Default: the output field name.
	Source string

	// Separator splits the encoded keys. "json" decodes a JSON array.
	// Default: ",".
	Separator string
}

// SeparatorJSON selects JSON array decoding for MultipleObject.
const SeparatorJSON = "json"

// Case is one branch of an ObjectSwitch.
type Case struct {
	Reference

	// Optional makes a missing related row resolve to nil instead of a Ref.
	Optional bool
}

// ObjectSwitch resolves a key against the entity selected by a discriminator.
type ObjectSwitch struct {
	// Discriminator is the parent field selecting the case.
	Discriminator string

	// Source is the parent field holding the key. Default: the output field name.
	Source string

	// Cases maps discriminator values to references.
	Cases map[string]Case
}

// Via describes the join entity of a Chain.
type Via struct {
	// Entity is the join entity type.
	Entity string

	// Field is the join entity field holding the parent id. Default: "id".
	Field string

	// Identity is the join entity field holding the child key.
	Identity string
}

// Chain resolves a many-to-many relation through a join entity.
type Chain struct {
	Reference

	// Source is the parent field holding the id. Default: "id".
	Source string

	// Via is the join entity.
	Via Via
}

func (Scalar) field()         {}
func (Object) field()         {}
func (Partial) field()        {}
func (MultipleObject) field() {}
func (ObjectSwitch) field()   {}
func (Chain) field()          {}

// Def is a named output field.
type Def struct {
	Name  string
	Field Field
}

// Format is an ordered list of output fields.
type Format struct {
	Name string
	Defs []Def
}

// New creates an empty named format.
func New(name string) *Format {
	return &Format{Name: name}
}

// Add appends an output field and returns the format for chaining.
func (f *Format) Add(name string, field Field) *Format {
	f.Defs = append(f.Defs, Def{Name: name, Field: field})
	return f
}

// Ref is an id-only placeholder for a related row that was not fetched.
type Ref struct {
	ID any
}

// MarshalJSON encodes the placeholder as {"id": ...}.
func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{"id": r.ID})
}
