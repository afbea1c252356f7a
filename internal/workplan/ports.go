package workplan

import (
	"fmt"

	"github.com/evanschultz/indexplan/internal/domain"
)

// Reach bounds one containment walk. Its meaning belongs to the builder that
// created it; the plan only carries it between discoveries. A nil Reach marks
// the start of a walk.
type Reach any

// Override is an interceptor verdict for an entity reached through containment.
type Override int

// Override values returned by an Interceptor.
const (
	OverrideApplyDefault Override = iota
	OverrideUpdate
	OverrideSkip
	OverrideRemove
)

// String returns the override name.
func (o Override) String() string {
	switch o {
	case OverrideApplyDefault:
		return "apply_default"
	case OverrideUpdate:
		return "update"
	case OverrideSkip:
		return "skip"
	case OverrideRemove:
		return "remove"
	default:
		return fmt.Sprintf("override(%d)", int(o))
	}
}

// Interceptor lets a mapping override default propagation for one entity type.
type Interceptor interface {
	OnUpdate(instance any) Override
}

// Recurser receives entities discovered through containment edges.
type Recurser interface {
	RecurseContainedIn(value any, reach Reach, tenantID string) error
}

// ContainmentDiscoverer reports every entity whose document embeds instance.
type ContainmentDiscoverer interface {
	DiscoverContainment(instance any, sink Recurser, reach Reach, tenantID string) error
}

// Contribution describes the operations one tracked entity needs.
type Contribution struct {
	TenantID   string
	EntityType string
	Entity     any
	ID         string
	Delete     bool
	Add        bool
}

// DocumentBuilder builds index operations for one indexed entity type.
type DocumentBuilder interface {
	ContainmentDiscoverer

	// RequiresProvidedID reports whether ids come from the caller rather than the instance.
	RequiresProvidedID() bool
	// IdentifierMatchesDocumentID reports whether the document id is the natural identifier.
	IdentifierMatchesDocumentID() bool
	// ExtractID returns the document id of instance; an empty id means none is derivable.
	ExtractID(instance any) (string, error)
	// ContributeOperations appends the operations for c to out. Delete precedes add.
	ContributeOperations(c Contribution, out []domain.Operation) ([]domain.Operation, error)
}

// Binding ties an entity type to its builder. IndexedType and ContainedOnlyType are the only implementations.
type Binding interface {
	binding()
}

// IndexedType binds a type that owns documents in the index.
type IndexedType struct {
	Builder     DocumentBuilder
	Interceptor Interceptor
}

func (IndexedType) binding() {}

// ContainedOnlyType binds a type with no index of its own that only exists embedded in other documents.
type ContainedOnlyType struct {
	Discoverer ContainmentDiscoverer
}

func (ContainedOnlyType) binding() {}

// BindingResolver returns the binding for an entity type.
type BindingResolver interface {
	Binding(entityType string) (Binding, error)
}

// TypeResolver resolves the runtime entity type of events and instances.
type TypeResolver interface {
	EventType(event domain.ChangeEvent) (string, error)
	InstanceType(instance any) (string, error)
}
