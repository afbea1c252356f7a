// Package workplan reduces the change events of one unit of work to the minimal
// list of index operations, and propagates changes to documents that embed the
// changed entities.
//
// A WorkPlan is single-writer and single-use: populate with AddWork, finalize
// with ProcessContainedInAndPrepareExecution, flatten with PlannedOperations,
// then discard it.
package workplan

import (
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/evanschultz/indexplan/internal/domain"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Option configures a WorkPlan.
type Option func(*WorkPlan)

// WithLogger sets the logger used for skipped containment propagation.
func WithLogger(logger *log.Logger) Option {
	return func(p *WorkPlan) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// containedInRequest is one pending entry of the containment worklist.
type containedInRequest struct {
	value    any
	reach    Reach
	tenantID string
}

// WorkPlan collects change events for one unit of work.
//
// Aggregators are kept in first-touch order, so the flattened output is
// deterministic: types in the order they were first seen, and within a type
// purge-all, then delete-by-query, then entities in first-touch order.
type WorkPlan struct {
	bindings BindingResolver
	types    TypeResolver
	logger   *log.Logger

	classes  *orderedmap.OrderedMap[classKey, *classWork]
	pending  []containedInRequest
	approx   int
	prepared bool
	consumed bool
}

// New constructs an empty work plan.
func New(bindings BindingResolver, types TypeResolver, opts ...Option) *WorkPlan {
	p := &WorkPlan{
		bindings: bindings,
		types:    types,
		logger:   log.New(io.Discard),
		classes:  orderedmap.New[classKey, *classWork](),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// AddWork records one change event.
func (p *WorkPlan) AddWork(event domain.ChangeEvent) error {
	p.approx++
	entityType, err := p.types.EventType(event)
	if err != nil {
		return fmt.Errorf("resolve event type: %w", err)
	}
	class, err := p.classFor(event.TenantID, entityType)
	if err != nil {
		return err
	}
	return class.addWork(event)
}

// Clear abandons everything recorded so far.
func (p *WorkPlan) Clear() {
	p.classes = orderedmap.New[classKey, *classWork]()
	p.pending = nil
	p.approx = 0
	p.prepared = false
	p.consumed = false
}

// Size returns an approximate count of recorded events. It only grows, even when
// events cancel each other, and is meant for batch-size flush heuristics.
func (p *WorkPlan) Size() int {
	return p.approx
}

// ProcessContainedInAndPrepareExecution walks containment edges of every tracked
// entity. Aggregators created during the walk are not walked themselves: the
// entities they track were discovered, and fully propagated, by the walk.
func (p *WorkPlan) ProcessContainedInAndPrepareExecution() error {
	snapshot := make([]*classWork, 0, p.classes.Len())
	for pair := p.classes.Oldest(); pair != nil; pair = pair.Next() {
		snapshot = append(snapshot, pair.Value)
	}
	for _, class := range snapshot {
		if err := class.processContainedIn(p); err != nil {
			return fmt.Errorf("process %s containment: %w", class.key.entityType, err)
		}
		if err := p.drain(); err != nil {
			return err
		}
	}
	if err := p.drain(); err != nil {
		return err
	}
	p.prepared = true
	return nil
}

// RecurseContainedIn schedules an entity that embeds a changed entity. Builders
// call it while discovering containment edges; the request is queued and handled
// by the finalize pass, so deep graphs never grow the call stack.
func (p *WorkPlan) RecurseContainedIn(value any, reach Reach, tenantID string) error {
	if value == nil {
		return nil
	}
	p.pending = append(p.pending, containedInRequest{value: value, reach: reach, tenantID: tenantID})
	return nil
}

// drain processes the containment worklist until it is empty.
func (p *WorkPlan) drain() error {
	for len(p.pending) > 0 {
		next := p.pending[0]
		p.pending[0] = containedInRequest{}
		p.pending = p.pending[1:]

		entityType, err := p.types.InstanceType(next.value)
		if err != nil {
			return fmt.Errorf("resolve contained type: %w", err)
		}
		class, err := p.classFor(next.tenantID, entityType)
		if err != nil {
			return err
		}
		if err := class.recurseContainedIn(next.value, next.reach, p); err != nil {
			return fmt.Errorf("recurse into %s: %w", entityType, err)
		}
	}
	p.pending = nil
	return nil
}

// PlannedOperations flattens the plan into its ordered operation list. The plan
// must be prepared first and can be flattened once.
func (p *WorkPlan) PlannedOperations() ([]domain.Operation, error) {
	if p.consumed {
		return nil, ErrPlanConsumed
	}
	if !p.prepared {
		return nil, ErrNotPrepared
	}
	out := make([]domain.Operation, 0, p.approx)
	for pair := p.classes.Oldest(); pair != nil; pair = pair.Next() {
		var err error
		out, err = pair.Value.enqueue(out)
		if err != nil {
			return nil, err
		}
	}
	p.consumed = true
	return out, nil
}

// classFor returns the aggregator for (tenant, type), creating it on first use.
func (p *WorkPlan) classFor(tenantID, entityType string) (*classWork, error) {
	if entityType == "" {
		return nil, ErrUnresolvableType
	}
	key := classKey{tenantID: tenantID, entityType: entityType}
	if class, ok := p.classes.Get(key); ok {
		return class, nil
	}
	binding, err := p.bindings.Binding(entityType)
	if err != nil {
		return nil, fmt.Errorf("bind %q: %w", entityType, err)
	}
	if binding == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoBinding, entityType)
	}
	class, err := newClassWork(key, binding, p.logger.With("entity_type", entityType))
	if err != nil {
		return nil, err
	}
	p.classes.Set(key, class)
	return class, nil
}
