package format

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/jacentio/weave/internal/coerce"
	"github.com/jacentio/weave/store"
)

// Relation kind names used in format files.
const (
	KindObject         = "object"
	KindPartial        = "partial"
	KindMultipleObject = "multiple-object"
	KindObjectSwitch   = "object-switch"
	KindChain          = "chain"
)

// LoadFormats reads named formats from YAML. Field order is kept:
//
//	post:
//	  id: number
//	  title: text
//	  user:
//	    relation: object
//	    model: {name: User, type: number}
//	    format: user
//	  tags:
//	    relation: chain
//	    model: {name: Tag}
//	    chain: {model: {name: PostTag, field: post}, identity: tag}
//	    field: {name: label}
//
// A field given as a string is a scalar of that type (empty or null for
// untyped).
func LoadFormats(r io.Reader) ([]*Format, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode formats: %w", err)
	}
	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: formats file must be a mapping of format names (line %d)", ErrInvalidSpec, root.Line)
	}

	var out []*Format
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value
		body := root.Content[i+1]
		fm, err := loadFormat(name, body)
		if err != nil {
			return nil, err
		}
		out = append(out, fm)
	}
	return out, nil
}

func loadFormat(name string, body *yaml.Node) (*Format, error) {
	fm := New(name)
	if body.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: format %q must be a mapping (line %d)", ErrInvalidSpec, name, body.Line)
	}
	for i := 0; i+1 < len(body.Content); i += 2 {
		fieldName := body.Content[i].Value
		field, err := loadField(body.Content[i+1])
		if err != nil {
			return nil, fmt.Errorf("format %q field %q: %w", name, fieldName, err)
		}
		fm.Add(fieldName, field)
	}
	if err := fm.Validate(); err != nil {
		return nil, err
	}
	return fm, nil
}

type modelNode struct {
	Name  string `yaml:"name"`
	Field string `yaml:"field"`
	Type  string `yaml:"type"`
}

type chainNode struct {
	Model    modelNode `yaml:"model"`
	Identity string    `yaml:"identity"`
}

type fieldNode struct {
	Relation      string      `yaml:"relation"`
	Type          string      `yaml:"type"`
	Model         modelNode   `yaml:"model"`
	Field         yaml.Node   `yaml:"field"`
	Fields        []yaml.Node `yaml:"fields"`
	Format        string      `yaml:"format"`
	Source        string      `yaml:"source"`
	Separator     string      `yaml:"separator"`
	Where         store.Where `yaml:"where"`
	Chain         chainNode   `yaml:"chain"`
	Discriminator string      `yaml:"discriminator"`
	Cases         yaml.Node   `yaml:"cases"`
	Optional      bool        `yaml:"optional"`
}

func loadField(n *yaml.Node) (Field, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag == "!!null" {
			return Scalar{}, nil
		}
		return scalarField(n.Value, n.Line)
	case yaml.MappingNode:
	default:
		return nil, fmt.Errorf("%w: unexpected node at line %d", ErrInvalidSpec, n.Line)
	}

	var fn fieldNode
	if err := n.Decode(&fn); err != nil {
		return nil, fmt.Errorf("decode field: %w", err)
	}
	if fn.Relation == "" {
		return scalarField(fn.Type, n.Line)
	}

	ref, err := fn.reference(fn.Model)
	if err != nil {
		return nil, err
	}

	switch fn.Relation {
	case KindObject:
		return Object{Reference: ref, Source: fn.Source}, nil
	case KindPartial:
		return Partial{Reference: ref, Source: fn.Source}, nil
	case KindMultipleObject:
		return MultipleObject{Reference: ref, Source: fn.Source, Separator: fn.Separator}, nil
	case KindChain:
		return Chain{
			Reference: ref,
			Source:    fn.Source,
			Via: Via{
				Entity:   fn.Chain.Model.Name,
				Field:    fn.Chain.Model.Field,
				Identity: fn.Chain.Identity,
			},
		}, nil
	case KindObjectSwitch:
		return fn.objectSwitch()
	}
	return nil, fmt.Errorf("%w: unknown relation %q at line %d", ErrInvalidSpec, fn.Relation, n.Line)
}

func scalarField(typ string, line int) (Field, error) {
	if !coerce.Valid(typ) {
		return nil, fmt.Errorf("%w: unknown type %q at line %d", ErrInvalidSpec, typ, line)
	}
	return Scalar{Type: typ}, nil
}

func (fn fieldNode) reference(model modelNode) (Reference, error) {
	ref := Reference{
		Entity: model.Name,
		Key:    model.Field,
		IDType: model.Type,
		Where:  fn.Where,
	}
	sel, err := fn.projection()
	if err != nil {
		return Reference{}, err
	}
	ref.Select = sel
	return ref, nil
}

func (fn fieldNode) projection() (Projection, error) {
	var sel Projection
	sel.Format = fn.Format
	if fn.Field.Kind != 0 {
		spec, err := fieldSpec(&fn.Field)
		if err != nil {
			return sel, err
		}
		sel.Field = &spec
	}
	for i := range fn.Fields {
		spec, err := fieldSpec(&fn.Fields[i])
		if err != nil {
			return sel, err
		}
		sel.Fields = append(sel.Fields, spec)
	}
	return sel, nil
}

// fieldSpec accepts "label" or {name: label, type: text}.
func fieldSpec(n *yaml.Node) (FieldSpec, error) {
	if n.Kind == yaml.ScalarNode {
		return FieldSpec{Name: n.Value}, nil
	}
	var m modelNode
	if err := n.Decode(&m); err != nil {
		return FieldSpec{}, fmt.Errorf("decode projected field: %w", err)
	}
	if m.Name == "" {
		return FieldSpec{}, fmt.Errorf("%w: projected field without a name at line %d", ErrInvalidSpec, n.Line)
	}
	return FieldSpec{Name: m.Name, Type: m.Type}, nil
}

func (fn fieldNode) objectSwitch() (Field, error) {
	sw := ObjectSwitch{
		Discriminator: fn.Discriminator,
		Source:        fn.Source,
		Cases:         make(map[string]Case),
	}
	if fn.Cases.Kind != 0 && fn.Cases.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: cases must be a mapping at line %d", ErrInvalidSpec, fn.Cases.Line)
	}
	for i := 0; i+1 < len(fn.Cases.Content); i += 2 {
		value := fn.Cases.Content[i].Value
		var cn fieldNode
		if err := fn.Cases.Content[i+1].Decode(&cn); err != nil {
			return nil, fmt.Errorf("decode case %q: %w", value, err)
		}
		ref, err := cn.reference(cn.Model)
		if err != nil {
			return nil, fmt.Errorf("case %q: %w", value, err)
		}
		sw.Cases[value] = Case{Reference: ref, Optional: cn.Optional}
	}
	return sw, nil
}
