package workplan

import (
	"fmt"

	"github.com/evanschultz/indexplan/internal/domain"
)

// entityWork tracks the add/delete intent of one entity inside a plan.
// The (add, delete) pair is the whole state.
type entityWork struct {
	entity               any
	add                  bool
	delete               bool
	containedInProcessed bool
}

// newEntityWork sets the initial state from the first event touching an entity.
func newEntityWork(event domain.ChangeEvent) (*entityWork, error) {
	w := &entityWork{entity: event.Entity}
	switch event.Kind {
	case domain.WorkAdd:
		w.add = true
	case domain.WorkDelete, domain.WorkPurge:
		w.delete = true
	case domain.WorkCollection, domain.WorkUpdate, domain.WorkIndex:
		w.add = true
		w.delete = true
	default:
		return nil, fmt.Errorf("%w: %q", ErrIllegalWorkKind, event.Kind)
	}
	return w, nil
}

// newReindexWork tracks an entity reached through containment that must be rebuilt.
func newReindexWork(entity any) *entityWork {
	return &entityWork{
		entity:               entity,
		add:                  true,
		delete:               true,
		containedInProcessed: true,
	}
}

// newRemovalWork tracks an entity reached through containment that must leave the index.
func newRemovalWork(entity any) *entityWork {
	return &entityWork{
		entity:               entity,
		delete:               true,
		containedInProcessed: true,
	}
}

// freshAdd reports whether the entity was created in this unit of work and nothing else happened yet.
func (w *entityWork) freshAdd() bool {
	return w.add && !w.delete
}

// addWork folds one more event for the same entity into the tracked state.
func (w *entityWork) addWork(event domain.ChangeEvent) error {
	switch event.Kind {
	case domain.WorkUpdate, domain.WorkIndex:
		if !w.freshAdd() {
			w.add = true
			w.delete = true
		}
	case domain.WorkAdd:
		w.add = true
	case domain.WorkDelete, domain.WorkPurge:
		if w.freshAdd() {
			w.add = false
			w.delete = false
		} else {
			w.add = false
			w.delete = true
		}
	case domain.WorkCollection:
		if !w.add && !w.delete {
			w.add = true
			w.delete = true
		}
	default:
		return fmt.Errorf("%w: %q", ErrIllegalWorkKind, event.Kind)
	}
	if event.Entity != nil {
		w.entity = event.Entity
	}
	return nil
}

// enqueue appends this entity's operations. A cancelled entity contributes nothing.
func (w *entityWork) enqueue(builder DocumentBuilder, c Contribution, out []domain.Operation) ([]domain.Operation, error) {
	if !w.add && !w.delete {
		return out, nil
	}
	c.Entity = w.entity
	c.Add = w.add
	c.Delete = w.delete
	return builder.ContributeOperations(c, out)
}

// processContainedIn runs the one-shot containment propagation for this entity.
func (w *entityWork) processContainedIn(discoverer ContainmentDiscoverer, sink Recurser, tenantID string) error {
	if w.entity == nil || w.containedInProcessed {
		return nil
	}
	w.containedInProcessed = true
	if !w.add && !w.delete {
		return nil
	}
	return discoverer.DiscoverContainment(w.entity, sink, nil, tenantID)
}
