package neoogm

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// PropertyType is the semantic type a raw record value is coerced to before it is written.
type PropertyType int

const (
	StringType PropertyType = iota
	IntegerType
	FloatType
	BooleanType
	DateTimeType
	UniqueIDType
)

func (t PropertyType) String() string {
	switch t {
	case StringType:
		return "string"
	case IntegerType:
		return "integer"
	case FloatType:
		return "float"
	case BooleanType:
		return "boolean"
	case DateTimeType:
		return "datetime"
	case UniqueIDType:
		return "unique_id"
	default:
		return "invalid"
	}
}

// ParsePropertyType maps the names produced by PropertyType.String back to types.
func ParsePropertyType(name string) (PropertyType, error) {
	for t := StringType; t <= UniqueIDType; t++ {
		if t.String() == strings.ToLower(name) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown property type %q", name)
}

// PropertySpec declares one property of a model.
type PropertySpec struct {
	Name        string
	Type        PropertyType
	Index       bool
	UniqueIndex bool
	Required    bool
	Default     func() any
}

// HasDefault reports whether a value is generated when a record leaves the property out.
func (p PropertySpec) HasDefault() bool {
	return p.Default != nil
}

// PropertyOption customises a PropertySpec.
type PropertyOption func(*PropertySpec)

// Indexed requests a single-property index.
func Indexed() PropertyOption {
	return func(p *PropertySpec) { p.Index = true }
}

// Unique requests a uniqueness constraint, which also makes the property part of the merge key.
func Unique() PropertyOption {
	return func(p *PropertySpec) { p.UniqueIndex = true }
}

// Required makes records without a value for the property invalid, unless it has a default.
func Required() PropertyOption {
	return func(p *PropertySpec) { p.Required = true }
}

// Default sets the generator used when a record has no value for the property.
func Default(fn func() any) PropertyOption {
	return func(p *PropertySpec) { p.Default = fn }
}

func newProperty(name string, t PropertyType, opts []PropertyOption) PropertySpec {
	p := PropertySpec{Name: name, Type: t}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

func StringProperty(name string, opts ...PropertyOption) PropertySpec {
	return newProperty(name, StringType, opts)
}

func IntegerProperty(name string, opts ...PropertyOption) PropertySpec {
	return newProperty(name, IntegerType, opts)
}

func FloatProperty(name string, opts ...PropertyOption) PropertySpec {
	return newProperty(name, FloatType, opts)
}

func BooleanProperty(name string, opts ...PropertyOption) PropertySpec {
	return newProperty(name, BooleanType, opts)
}

func DateTimeProperty(name string, opts ...PropertyOption) PropertySpec {
	return newProperty(name, DateTimeType, opts)
}

// UniqueIDProperty is a unique-indexed string that defaults to a random hex UUID.
func UniqueIDProperty(name string, opts ...PropertyOption) PropertySpec {
	opts = append([]PropertyOption{Unique(), Default(NewUniqueID)}, opts...)
	return newProperty(name, UniqueIDType, opts)
}

// NewUniqueID returns a random UUID as 32 hex characters.
func NewUniqueID() any {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// EntityType tells nodes and relationships apart in models and catalog descriptors.
type EntityType int

const (
	EntityNode EntityType = iota
	EntityRelationship
)

func (e EntityType) String() string {
	if e == EntityRelationship {
		return "relationship"
	}
	return "node"
}

func (e EntityType) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *EntityType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "node", "":
		*e = EntityNode
	case "relationship":
		*e = EntityRelationship
	default:
		return fmt.Errorf("unknown entity type %q", text)
	}
	return nil
}

// Model is a declared node label or relationship type together with its properties.
type Model interface {
	Entity() EntityType
	Name() string
	Properties() []PropertySpec
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type modelDefinition struct {
	name       string
	properties []PropertySpec
	byName     map[string]int
}

func defineModel(kind, name string, props []PropertySpec) (modelDefinition, error) {
	if !identifierPattern.MatchString(name) {
		return modelDefinition{}, fmt.Errorf("invalid %s name %q", kind, name)
	}

	def := modelDefinition{
		name:       name,
		properties: make([]PropertySpec, 0, len(props)),
		byName:     make(map[string]int, len(props)),
	}
	for _, p := range props {
		if !identifierPattern.MatchString(p.Name) {
			return modelDefinition{}, fmt.Errorf("invalid property name %q on %s", p.Name, name)
		}
		if _, dup := def.byName[p.Name]; dup {
			return modelDefinition{}, fmt.Errorf("property %q declared twice on %s", p.Name, name)
		}
		def.byName[p.Name] = len(def.properties)
		def.properties = append(def.properties, p)
	}
	return def, nil
}

func (d modelDefinition) Name() string {
	return d.name
}

// Properties returns a copy of the declared properties in declaration order.
func (d modelDefinition) Properties() []PropertySpec {
	return append([]PropertySpec(nil), d.properties...)
}

// Property looks up a declared property by name.
func (d modelDefinition) Property(name string) (PropertySpec, bool) {
	idx, ok := d.byName[name]
	if !ok {
		return PropertySpec{}, false
	}
	return d.properties[idx], true
}

// NodeModel declares a node label.
type NodeModel struct {
	modelDefinition
}

// DefineNode validates and freezes a node model.
func DefineNode(label string, props ...PropertySpec) (*NodeModel, error) {
	def, err := defineModel("label", label, props)
	if err != nil {
		return nil, err
	}
	return &NodeModel{def}, nil
}

// MustDefineNode is like DefineNode but panics on an invalid definition.
func MustDefineNode(label string, props ...PropertySpec) *NodeModel {
	m, err := DefineNode(label, props...)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *NodeModel) Entity() EntityType {
	return EntityNode
}

// Label is the node label; same as Name.
func (m *NodeModel) Label() string {
	return m.name
}

// MergeKey returns the properties batch upserts match on: every unique-indexed or required
// property, in declaration order.
func (m *NodeModel) MergeKey() []PropertySpec {
	var key []PropertySpec
	for _, p := range m.properties {
		if p.UniqueIndex || p.Required {
			key = append(key, p)
		}
	}
	return key
}

// RelationshipModel declares a relationship type.
type RelationshipModel struct {
	modelDefinition
}

// DefineRelationship validates and freezes a relationship model.
func DefineRelationship(relType string, props ...PropertySpec) (*RelationshipModel, error) {
	def, err := defineModel("relationship type", relType, props)
	if err != nil {
		return nil, err
	}
	return &RelationshipModel{def}, nil
}

func (m *RelationshipModel) Entity() EntityType {
	return EntityRelationship
}

// Registry collects models so that their labels can be installed together.
type Registry struct {
	mu     sync.RWMutex
	models map[string]Model
}

func NewRegistry(models ...Model) *Registry {
	r := &Registry{models: map[string]Model{}}
	for _, m := range models {
		r.Register(m)
	}
	return r
}

// Register adds m, replacing any model of the same entity type and name.
func (r *Registry) Register(m Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[registryKey(m)] = m
}

// Models returns the registered models sorted by entity type then name.
func (r *Registry) Models() []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	models := make([]Model, 0, len(r.models))
	for _, m := range r.models {
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool {
		return registryKey(models[i]) < registryKey(models[j])
	})
	return models
}

func registryKey(m Model) string {
	return m.Entity().String() + ":" + m.Name()
}
