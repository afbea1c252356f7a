// Package mapping turns declarative type mappings into the document builders,
// interceptors and type resolution a work plan consumes.
package mapping

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/evanschultz/indexplan/internal/workplan"
)

// DefaultMaxDepth bounds containment walks and nested embedding when a catalog sets none.
const DefaultMaxDepth = 8

// ErrInvalidMapping and related errors describe catalog failures.
var (
	ErrInvalidMapping      = errors.New("invalid mapping")
	ErrUnsupportedInstance = errors.New("unsupported entity instance")
)

// TypeSpec declares how one entity type is indexed.
type TypeSpec struct {
	Name            string
	Indexed         bool
	ProvidedID      bool
	DocumentIDField string
	Fields          []string
	Embeds          []EmbedSpec
	Intercept       *InterceptSpec
}

// EmbedSpec declares that documents of the owning type embed records of Type
// referenced by Field.
type EmbedSpec struct {
	Field  string
	Type   string
	Fields []string
	As     string
}

// InterceptSpec overrides containment propagation when Field equals Equals.
type InterceptSpec struct {
	Field    string
	Equals   string
	Override string
}

// containerEdge records that ContainerType embeds the keyed type through Field.
type containerEdge struct {
	containerType string
	field         string
}

// typeMapping is the validated form of one TypeSpec.
type typeMapping struct {
	spec        TypeSpec
	interceptor workplan.Interceptor
}

// Catalog holds validated type mappings and the inverse containment edges.
type Catalog struct {
	types      map[string]*typeMapping
	order      []string
	containers map[string][]containerEdge
	maxDepth   int
}

// NewCatalog validates specs and derives containment edges from embeds.
func NewCatalog(specs []TypeSpec, maxDepth int) (*Catalog, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	c := &Catalog{
		types:      make(map[string]*typeMapping, len(specs)),
		order:      make([]string, 0, len(specs)),
		containers: map[string][]containerEdge{},
		maxDepth:   maxDepth,
	}
	for idx, spec := range specs {
		spec.Name = strings.TrimSpace(spec.Name)
		if spec.Name == "" {
			return nil, fmt.Errorf("%w: types[%d].name is required", ErrInvalidMapping, idx)
		}
		if _, ok := c.types[spec.Name]; ok {
			return nil, fmt.Errorf("%w: types[%d].name is duplicated: %s", ErrInvalidMapping, idx, spec.Name)
		}
		if !spec.Indexed && spec.ProvidedID {
			return nil, fmt.Errorf("%w: type %q cannot use provided ids without an index", ErrInvalidMapping, spec.Name)
		}
		if spec.Indexed && len(spec.Fields) == 0 && len(spec.Embeds) == 0 {
			return nil, fmt.Errorf("%w: indexed type %q maps no fields", ErrInvalidMapping, spec.Name)
		}
		mapping := &typeMapping{spec: spec}
		if spec.Intercept != nil {
			interceptor, err := newFieldInterceptor(*spec.Intercept)
			if err != nil {
				return nil, fmt.Errorf("%w: type %q: %v", ErrInvalidMapping, spec.Name, err)
			}
			mapping.interceptor = interceptor
		}
		c.types[spec.Name] = mapping
		c.order = append(c.order, spec.Name)
	}
	for _, name := range c.order {
		spec := c.types[name].spec
		for idx, embed := range spec.Embeds {
			if strings.TrimSpace(embed.Field) == "" {
				return nil, fmt.Errorf("%w: type %q embeds[%d].field is required", ErrInvalidMapping, name, idx)
			}
			if _, ok := c.types[embed.Type]; !ok {
				return nil, fmt.Errorf("%w: type %q embeds unknown type %q", ErrInvalidMapping, name, embed.Type)
			}
			c.containers[embed.Type] = append(c.containers[embed.Type], containerEdge{
				containerType: name,
				field:         embed.Field,
			})
		}
	}
	return c, nil
}

// Types returns mapped type names in declaration order.
func (c *Catalog) Types() []string {
	return slices.Clone(c.order)
}

// Has reports whether a type is mapped.
func (c *Catalog) Has(entityType string) bool {
	_, ok := c.types[entityType]
	return ok
}

// Indexed reports whether a type owns documents in the index.
func (c *Catalog) Indexed(entityType string) bool {
	mapping, ok := c.types[entityType]
	return ok && mapping.spec.Indexed
}

// MaxDepth returns the containment and embedding depth bound.
func (c *Catalog) MaxDepth() int {
	return c.maxDepth
}

// ContainerTypes returns the types whose documents embed entityType.
func (c *Catalog) ContainerTypes(entityType string) []string {
	edges := c.containers[entityType]
	out := make([]string, 0, len(edges))
	for _, edge := range edges {
		if !slices.Contains(out, edge.containerType) {
			out = append(out, edge.containerType)
		}
	}
	return out
}

// TypeInfo summarizes one mapped type.
type TypeInfo struct {
	Name        string   `json:"name"`
	Indexed     bool     `json:"indexed"`
	ContainedIn []string `json:"contained_in"`
}

// Describe lists every mapped type in declaration order with the types that embed it.
func (c *Catalog) Describe() []TypeInfo {
	out := make([]TypeInfo, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, TypeInfo{
			Name:        name,
			Indexed:     c.Indexed(name),
			ContainedIn: c.ContainerTypes(name),
		})
	}
	return out
}

// Bind returns the work-plan collaborators for one unit of work over corpus.
func (c *Catalog) Bind(corpus *Corpus) *Session {
	if corpus == nil {
		corpus = NewCorpus(nil)
	}
	return &Session{catalog: c, corpus: corpus}
}
