package neoogm

import (
	"fmt"
	"strings"
)

// ConstraintKind tags the constraint variants the catalog understands.
type ConstraintKind int

const (
	ConstraintUnsupported ConstraintKind = iota
	ConstraintUniqueness
	ConstraintExistence
	ConstraintNodeKey
)

func (k ConstraintKind) String() string {
	switch k {
	case ConstraintUniqueness:
		return "uniqueness"
	case ConstraintExistence:
		return "existence"
	case ConstraintNodeKey:
		return "node_key"
	default:
		return "unsupported"
	}
}

func (k ConstraintKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *ConstraintKind) UnmarshalText(text []byte) error {
	for _, candidate := range []ConstraintKind{ConstraintUniqueness, ConstraintExistence, ConstraintNodeKey, ConstraintUnsupported} {
		if candidate.String() == string(text) {
			*k = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown constraint kind %q", text)
}

// ConstraintDescriptor describes one constraint in the database catalog.
type ConstraintDescriptor struct {
	Name       string         `yaml:"name"`
	Kind       ConstraintKind `yaml:"kind"`
	Entity     EntityType     `yaml:"entity"`
	Label      string         `yaml:"label"`
	Properties []string       `yaml:"properties"`
	// OwnedIndex is the backing index that is dropped together with the constraint.
	OwnedIndex string `yaml:"owned_index,omitempty"`
	// Raw is the constraint type exactly as the server reported it.
	Raw string `yaml:"raw_type,omitempty"`
}

func (c ConstraintDescriptor) String() string {
	return fmt.Sprintf("%s %s on %s %s(%s)", c.Kind, c.Name, c.Entity, c.Label, strings.Join(c.Properties, ", "))
}

// sameRule reports whether c and other enforce the same rule regardless of name.
func (c ConstraintDescriptor) sameRule(other ConstraintDescriptor) bool {
	return c.Kind == other.Kind && c.Entity == other.Entity && c.Label == other.Label && equalStrings(c.Properties, other.Properties)
}

// IndexKind tags the index variants the catalog understands.
type IndexKind int

const (
	IndexUnsupported IndexKind = iota
	IndexRange
	IndexText
	IndexPoint
	IndexTokenLookup
	IndexFullText
	IndexVector
)

func (k IndexKind) String() string {
	switch k {
	case IndexRange:
		return "range"
	case IndexText:
		return "text"
	case IndexPoint:
		return "point"
	case IndexTokenLookup:
		return "lookup"
	case IndexFullText:
		return "fulltext"
	case IndexVector:
		return "vector"
	default:
		return "unsupported"
	}
}

func (k IndexKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *IndexKind) UnmarshalText(text []byte) error {
	for candidate := IndexUnsupported; candidate <= IndexVector; candidate++ {
		if candidate.String() == string(text) {
			*k = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown index kind %q", text)
}

// IndexDescriptor describes one index in the database catalog.
type IndexDescriptor struct {
	Name       string     `yaml:"name"`
	Kind       IndexKind  `yaml:"kind"`
	Entity     EntityType `yaml:"entity"`
	Label      string     `yaml:"label"`
	Properties []string   `yaml:"properties"`
	// OwningConstraint names the constraint that created this index, if any.
	OwningConstraint string `yaml:"owning_constraint,omitempty"`
	// Raw is the index type exactly as the server reported it.
	Raw string `yaml:"raw_type,omitempty"`
}

func (i IndexDescriptor) String() string {
	return fmt.Sprintf("%s index %s on %s %s(%s)", i.Kind, i.Name, i.Entity, i.Label, strings.Join(i.Properties, ", "))
}

func (i IndexDescriptor) sameRule(other IndexDescriptor) bool {
	return i.Kind == other.Kind && i.Entity == other.Entity && i.Label == other.Label && equalStrings(i.Properties, other.Properties)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func constraintName(kind ConstraintKind, label string, props []string) string {
	prefix := "constraint_unique_"
	switch kind {
	case ConstraintExistence:
		prefix = "constraint_exists_"
	case ConstraintNodeKey:
		prefix = "constraint_node_key_"
	}
	return prefix + label + "_" + strings.Join(props, "_")
}

func indexName(label string, props []string) string {
	if len(props) == 0 {
		return "index_" + label
	}
	return "index_" + label + "_" + strings.Join(props, "_")
}
