package schema

import (
	"fmt"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/insight/backend/pkg/common"
)

// FieldType describes how the parser reads and normalizes a field.
type FieldType int

const (
	FieldText FieldType = iota
	FieldNumber
	FieldOrdinal
	FieldDate
	FieldTopics
)

// Field describes one attribute of an element kind.
//
// Number fields are clamped to [Min, Max] and fall back to Default when
// missing. Ordinal fields accept only Values and fall back to DefaultValue.
type Field struct {
	Name         string
	Type         FieldType
	Description  string
	Min          float64
	Max          float64
	Default      float64
	Values       []string
	DefaultValue string
}

// Descriptor is the declarative description of one element kind.
type Descriptor struct {
	Kind         common.ElementKind
	Label        string
	ResponseKey  string
	Instructions string
	Required     []Field
	Optional     []Field
	Categories   []string
	MergeKey     []string
	Aggregates   []string
}

// Field returns the field with the given name from the required or optional set.
func (d Descriptor) Field(name string) (Field, bool) {
	for _, f := range d.Required {
		if f.Name == name {
			return f, true
		}
	}
	for _, f := range d.Optional {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// IsRequired reports whether the field is required for the kind.
func (d Descriptor) IsRequired(name string) bool {
	for _, f := range d.Required {
		if f.Name == name {
			return true
		}
	}
	return false
}

// Category returns the registry spelling of name if it matches one of the
// kind's categories case-insensitively.
func (d Descriptor) Category(name string) (string, bool) {
	for _, c := range d.Categories {
		if strings.EqualFold(strings.TrimSpace(name), c) {
			return c, true
		}
	}
	return "", false
}

// Registry is an immutable lookup of element descriptors. It is built once
// and handed to the prompt builder and the parser.
type Registry struct {
	descriptors map[common.ElementKind]Descriptor
	topics      []string
}

// NewRegistry validates and freezes the given descriptors. Every known kind
// must be described exactly once.
func NewRegistry(suggestedTopics []string, descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{
		descriptors: make(map[common.ElementKind]Descriptor, len(descriptors)),
		topics:      slices.Clone(suggestedTopics),
	}
	for _, d := range descriptors {
		if !d.Kind.Valid() {
			return nil, fmt.Errorf("unknown element kind %q", d.Kind)
		}
		if _, ok := r.descriptors[d.Kind]; ok {
			return nil, fmt.Errorf("element kind %q described twice", d.Kind)
		}
		if !d.IsRequired("name") {
			return nil, fmt.Errorf("element kind %q must require a name", d.Kind)
		}
		r.descriptors[d.Kind] = cloneDescriptor(d)
	}
	for _, k := range common.AllKinds() {
		if _, ok := r.descriptors[k]; !ok {
			return nil, fmt.Errorf("element kind %q is not described", k)
		}
	}
	return r, nil
}

// Describe returns a copy of the descriptor of kind.
func (r *Registry) Describe(kind common.ElementKind) (Descriptor, bool) {
	d, ok := r.descriptors[kind]
	if !ok {
		return Descriptor{}, false
	}
	return cloneDescriptor(d), true
}

// SuggestedTopics returns the topic labels the prompt offers to the model.
func (r *Registry) SuggestedTopics() []string {
	return slices.Clone(r.topics)
}

func cloneDescriptor(d Descriptor) Descriptor {
	d.Required = cloneFields(d.Required)
	d.Optional = cloneFields(d.Optional)
	d.Categories = slices.Clone(d.Categories)
	d.MergeKey = slices.Clone(d.MergeKey)
	d.Aggregates = slices.Clone(d.Aggregates)
	return d
}

func cloneFields(fields []Field) []Field {
	out := make([]Field, len(fields))
	for i, f := range fields {
		f.Values = slices.Clone(f.Values)
		out[i] = f
	}
	return out
}
