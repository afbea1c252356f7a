package mapping

import (
	"fmt"
	"strings"

	"github.com/evanschultz/indexplan/internal/domain"
	"github.com/evanschultz/indexplan/internal/workplan"
)

// Reach carries the remaining containment depth between discoveries.
type Reach struct {
	Depth int
}

// Session binds a catalog to the corpus of one unit of work. It implements
// workplan.BindingResolver and workplan.TypeResolver.
type Session struct {
	catalog *Catalog
	corpus  *Corpus
}

// Binding returns the indexed or contained-only binding of entityType.
func (s *Session) Binding(entityType string) (workplan.Binding, error) {
	mapping, ok := s.catalog.types[entityType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", workplan.ErrNoBinding, entityType)
	}
	builder := &documentBuilder{mapping: mapping, session: s}
	if !mapping.spec.Indexed {
		return workplan.ContainedOnlyType{Discoverer: builder}, nil
	}
	binding := workplan.IndexedType{Builder: builder}
	if mapping.interceptor != nil {
		binding.Interceptor = mapping.interceptor
	}
	return binding, nil
}

// EventType prefers the declared event type and falls back to the instance.
func (s *Session) EventType(event domain.ChangeEvent) (string, error) {
	if entityType := strings.TrimSpace(event.EntityType); entityType != "" {
		return entityType, nil
	}
	return s.InstanceType(event.Entity)
}

// InstanceType returns the record type of instance.
func (s *Session) InstanceType(instance any) (string, error) {
	rec, err := asRecord(instance)
	if err != nil {
		return "", err
	}
	return rec.Type, nil
}

// asRecord unwraps the instance shapes the catalog understands.
func asRecord(instance any) (*domain.Record, error) {
	switch typed := instance.(type) {
	case *domain.Record:
		if typed == nil {
			return nil, fmt.Errorf("%w: nil record", ErrUnsupportedInstance)
		}
		return typed, nil
	case domain.Record:
		return &typed, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedInstance, instance)
	}
}

// documentBuilder builds documents and discovers containers for one mapped type.
type documentBuilder struct {
	mapping *typeMapping
	session *Session
}

// RequiresProvidedID reports whether ids must come from the change event.
func (b *documentBuilder) RequiresProvidedID() bool {
	return b.mapping.spec.ProvidedID
}

// IdentifierMatchesDocumentID reports whether the document id is the record id.
func (b *documentBuilder) IdentifierMatchesDocumentID() bool {
	field := strings.TrimSpace(b.mapping.spec.DocumentIDField)
	return field == "" || field == "id"
}

// ExtractID returns the document id of a record, or "" for contained-only types.
func (b *documentBuilder) ExtractID(instance any) (string, error) {
	if !b.mapping.spec.Indexed {
		return "", nil
	}
	rec, err := asRecord(instance)
	if err != nil {
		return "", err
	}
	return b.documentID(rec), nil
}

// documentID resolves the configured document id field.
func (b *documentBuilder) documentID(rec *domain.Record) string {
	if b.IdentifierMatchesDocumentID() {
		return rec.ID
	}
	value, ok := rec.Field(b.mapping.spec.DocumentIDField)
	if !ok || value == nil {
		return ""
	}
	return domain.FormatValue(value)
}

// ContributeOperations appends delete then add for one tracked record.
func (b *documentBuilder) ContributeOperations(c workplan.Contribution, out []domain.Operation) ([]domain.Operation, error) {
	if !b.mapping.spec.Indexed {
		return out, nil
	}
	if c.Delete {
		out = append(out, domain.Operation{
			Kind:       domain.OpDelete,
			TenantID:   c.TenantID,
			EntityType: c.EntityType,
			ID:         c.ID,
		})
	}
	if !c.Add {
		return out, nil
	}
	if c.Entity == nil {
		return nil, fmt.Errorf("%w: add %s %s", workplan.ErrMissingInstance, c.EntityType, c.ID)
	}
	rec, err := asRecord(c.Entity)
	if err != nil {
		return nil, err
	}
	doc := b.session.buildDocument(rec, b.mapping.spec.Fields, b.session.catalog.maxDepth)
	doc["id"] = c.ID
	doc["_type"] = c.EntityType
	out = append(out, domain.Operation{
		Kind:       domain.OpAdd,
		TenantID:   c.TenantID,
		EntityType: c.EntityType,
		ID:         c.ID,
		Document:   doc,
	})
	return out, nil
}

// DiscoverContainment reports every record whose document embeds instance.
func (b *documentBuilder) DiscoverContainment(instance any, sink workplan.Recurser, reach workplan.Reach, tenantID string) error {
	depth := b.session.catalog.maxDepth
	if r, ok := reach.(Reach); ok {
		depth = r.Depth
	}
	if depth <= 0 {
		return nil
	}
	rec, err := asRecord(instance)
	if err != nil {
		return err
	}
	for _, edge := range b.session.catalog.containers[b.mapping.spec.Name] {
		for _, container := range b.session.corpus.Referencing(tenantID, edge.containerType, edge.field, rec.ID) {
			if err := sink.RecurseContainedIn(container, Reach{Depth: depth - 1}, tenantID); err != nil {
				return err
			}
		}
	}
	return nil
}

// buildDocument projects fields of rec and nests embedded records up to depth.
func (s *Session) buildDocument(rec *domain.Record, fields []string, depth int) domain.Document {
	doc := domain.Document{}
	for _, field := range fields {
		if value, ok := rec.Field(field); ok {
			doc[field] = value
		}
	}
	if depth <= 0 {
		return doc
	}
	mapping, ok := s.catalog.types[rec.Type]
	if !ok {
		return doc
	}
	for _, embed := range mapping.spec.Embeds {
		embedded := make([]domain.Document, 0)
		for _, ref := range rec.References(embed.Field) {
			target, ok := s.corpus.Get(rec.TenantID, embed.Type, ref)
			if !ok {
				continue
			}
			nested := s.buildDocument(target, embed.Fields, depth-1)
			nested["id"] = target.ID
			embedded = append(embedded, nested)
		}
		name := strings.TrimSpace(embed.As)
		if name == "" {
			name = embed.Field
		}
		doc[name] = embedded
	}
	return doc
}
