package workplan

import (
	"errors"
	"fmt"

	"github.com/evanschultz/indexplan/internal/domain"
)

// fakeEntity is a minimal live instance with explicit containment edges.
type fakeEntity struct {
	typ        string
	id         string
	embeddedIn []*fakeEntity
}

// fakeBuilder emits delete-before-add operations and follows embeddedIn edges.
type fakeBuilder struct {
	providedID     bool
	idMatchesDocID bool
	docIDPrefix    string
	discoverCalls  int
}

// RequiresProvidedID reports the configured provided-id mode.
func (b *fakeBuilder) RequiresProvidedID() bool { return b.providedID }

// IdentifierMatchesDocumentID reports the configured id matching mode.
func (b *fakeBuilder) IdentifierMatchesDocumentID() bool { return b.idMatchesDocID }

// ExtractID returns the entity id with the optional prefix.
func (b *fakeBuilder) ExtractID(instance any) (string, error) {
	entity, ok := instance.(*fakeEntity)
	if !ok {
		return "", fmt.Errorf("unexpected instance %T", instance)
	}
	return b.docIDPrefix + entity.id, nil
}

// ContributeOperations appends delete then add.
func (b *fakeBuilder) ContributeOperations(c Contribution, out []domain.Operation) ([]domain.Operation, error) {
	if c.Delete {
		out = append(out, domain.Operation{Kind: domain.OpDelete, TenantID: c.TenantID, EntityType: c.EntityType, ID: c.ID})
	}
	if c.Add {
		if c.Entity == nil {
			return nil, ErrMissingInstance
		}
		out = append(out, domain.Operation{
			Kind:       domain.OpAdd,
			TenantID:   c.TenantID,
			EntityType: c.EntityType,
			ID:         c.ID,
			Document:   domain.Document{"id": c.ID},
		})
	}
	return out, nil
}

// DiscoverContainment reports every container of instance.
func (b *fakeBuilder) DiscoverContainment(instance any, sink Recurser, reach Reach, tenantID string) error {
	b.discoverCalls++
	entity, ok := instance.(*fakeEntity)
	if !ok {
		return fmt.Errorf("unexpected instance %T", instance)
	}
	for _, container := range entity.embeddedIn {
		if err := sink.RecurseContainedIn(container, reach, tenantID); err != nil {
			return err
		}
	}
	return nil
}

// fakeInterceptor returns one fixed override.
type fakeInterceptor struct {
	override Override
	calls    int
}

// OnUpdate returns the configured override.
func (i *fakeInterceptor) OnUpdate(any) Override {
	i.calls++
	return i.override
}

// fakeRegistry resolves bindings and types from fixed maps.
type fakeRegistry struct {
	bindings map[string]Binding
}

// Binding returns the registered binding.
func (r *fakeRegistry) Binding(entityType string) (Binding, error) {
	binding, ok := r.bindings[entityType]
	if !ok {
		return nil, ErrNoBinding
	}
	return binding, nil
}

// EventType prefers the event type and falls back to the instance.
func (r *fakeRegistry) EventType(event domain.ChangeEvent) (string, error) {
	if event.EntityType != "" {
		return event.EntityType, nil
	}
	return r.InstanceType(event.Entity)
}

// InstanceType returns the fake entity type.
func (r *fakeRegistry) InstanceType(instance any) (string, error) {
	entity, ok := instance.(*fakeEntity)
	if !ok || entity == nil {
		return "", errors.New("unknown instance")
	}
	return entity.typ, nil
}

// newFakePlan builds a plan over the supplied bindings.
func newFakePlan(bindings map[string]Binding) *WorkPlan {
	registry := &fakeRegistry{bindings: bindings}
	return New(registry, registry)
}

// event builds one change event for a fake entity.
func event(kind domain.WorkKind, entity *fakeEntity) domain.ChangeEvent {
	return domain.ChangeEvent{
		Kind:       kind,
		TenantID:   "t1",
		EntityType: entity.typ,
		Entity:     entity,
		ID:         entity.id,
	}
}

// plan finalizes and flattens p, failing the test on error.
func plan(t interface {
	Helper()
	Fatalf(string, ...any)
}, p *WorkPlan) []domain.Operation {
	t.Helper()
	if err := p.ProcessContainedInAndPrepareExecution(); err != nil {
		t.Fatalf("ProcessContainedInAndPrepareExecution() error = %v", err)
	}
	ops, err := p.PlannedOperations()
	if err != nil {
		t.Fatalf("PlannedOperations() error = %v", err)
	}
	return ops
}

// labels renders operations as compact strings for comparison.
func labels(ops []domain.Operation) []string {
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		out = append(out, op.String())
	}
	return out
}
