package validate

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/jacentio/weave/store"
)

// LoadRules reads rules from YAML, keyed by record field:
//
//	email:
//	  - check: unique
//	    model: User
//	    field: [email, {tenant: tenant_id}]
//	tags:
//	  - check: exists-list
//	    model: Tag
//	    field: label
//	    where: {active: true}
//
// Rules are returned in file order.
func LoadRules(r io.Reader) ([]Rule, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: rules file must be a mapping of field names (line %d)", ErrInvalidRule, root.Line)
	}

	var rules []Rule
	for i := 0; i+1 < len(root.Content); i += 2 {
		field := root.Content[i].Value
		var entries []ruleNode
		if err := root.Content[i+1].Decode(&entries); err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		for _, e := range entries {
			if e.Check == "" {
				return nil, fmt.Errorf("%w: field %q has a rule without a check", ErrInvalidRule, field)
			}
			rules = append(rules, Rule{
				Field: field,
				Check: e.Check,
				Options: Options{
					Entity: e.Model,
					Fields: e.Field,
					Where:  e.Where,
				},
			})
		}
	}
	return rules, nil
}

type ruleNode struct {
	Check string      `yaml:"check"`
	Model string      `yaml:"model"`
	Field fieldRefs   `yaml:"field"`
	Where store.Where `yaml:"where"`
}

type fieldRefs []FieldRef

// UnmarshalYAML accepts a name, a {property: target} mapping, or a list of
// either.
func (f *fieldRefs) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		*f = fieldRefs{{Target: n.Value}}
		return nil
	case yaml.MappingNode:
		refs, err := mappingRefs(n)
		if err != nil {
			return err
		}
		*f = refs
		return nil
	case yaml.SequenceNode:
		var out fieldRefs
		for _, item := range n.Content {
			switch item.Kind {
			case yaml.ScalarNode:
				out = append(out, FieldRef{Target: item.Value})
			case yaml.MappingNode:
				refs, err := mappingRefs(item)
				if err != nil {
					return err
				}
				out = append(out, refs...)
			default:
				return fmt.Errorf("%w: unexpected field reference at line %d", ErrInvalidRule, item.Line)
			}
		}
		*f = out
		return nil
	}
	return fmt.Errorf("%w: unexpected field reference at line %d", ErrInvalidRule, n.Line)
}

func mappingRefs(n *yaml.Node) (fieldRefs, error) {
	var out fieldRefs
	for i := 0; i+1 < len(n.Content); i += 2 {
		target := n.Content[i+1]
		if target.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("%w: field reference target must be a name (line %d)", ErrInvalidRule, target.Line)
		}
		out = append(out, FieldRef{Property: n.Content[i].Value, Target: target.Value})
	}
	return out, nil
}
