package workplan

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/evanschultz/indexplan/internal/domain"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// classKey identifies one aggregator inside a plan.
type classKey struct {
	tenantID   string
	entityType string
}

// classWork aggregates every change for one (tenant, entity type) pair.
type classWork struct {
	key        classKey
	indexed    *IndexedType
	discoverer ContainmentDiscoverer
	entities   *orderedmap.OrderedMap[string, *entityWork]
	purgeAll   bool
	queries    []*domain.DeletionQuery
	logger     *log.Logger
}

// newClassWork resolves the binding variant once for the aggregator's lifetime.
func newClassWork(key classKey, binding Binding, logger *log.Logger) (*classWork, error) {
	c := &classWork{
		key:      key,
		entities: orderedmap.New[string, *entityWork](),
		logger:   logger,
	}
	switch b := binding.(type) {
	case IndexedType:
		if b.Builder == nil {
			return nil, fmt.Errorf("%w: indexed type %q has no builder", ErrInvalidBinding, key.entityType)
		}
		c.indexed = &b
		c.discoverer = b.Builder
	case *IndexedType:
		if b == nil || b.Builder == nil {
			return nil, fmt.Errorf("%w: indexed type %q has no builder", ErrInvalidBinding, key.entityType)
		}
		indexed := *b
		c.indexed = &indexed
		c.discoverer = indexed.Builder
	case ContainedOnlyType:
		if b.Discoverer == nil {
			return nil, fmt.Errorf("%w: contained type %q has no discoverer", ErrInvalidBinding, key.entityType)
		}
		c.discoverer = b.Discoverer
	case *ContainedOnlyType:
		if b == nil || b.Discoverer == nil {
			return nil, fmt.Errorf("%w: contained type %q has no discoverer", ErrInvalidBinding, key.entityType)
		}
		c.discoverer = b.Discoverer
	default:
		return nil, fmt.Errorf("%w: %T for %q", ErrInvalidBinding, binding, key.entityType)
	}
	return c, nil
}

// containedInOnly reports whether the type has no index of its own.
func (c *classWork) containedInOnly() bool {
	return c.indexed == nil
}

// addWork routes one event to the type-wide state or to an entity tracker.
func (c *classWork) addWork(event domain.ChangeEvent) error {
	switch event.Kind {
	case domain.WorkPurgeAll:
		c.entities = orderedmap.New[string, *entityWork]()
		c.queries = nil
		c.purgeAll = true
		return nil
	case domain.WorkDeleteByQuery:
		if event.Query == nil {
			return fmt.Errorf("%w: delete_by_query for %q", domain.ErrInvalidQuery, c.key.entityType)
		}
		c.queries = append(c.queries, event.Query)
		return nil
	}

	id, err := c.lookupID(event)
	if err != nil {
		return err
	}
	if existing, ok := c.entities.Get(id); ok {
		return existing.addWork(event)
	}
	created, err := newEntityWork(event)
	if err != nil {
		return err
	}
	c.entities.Set(id, created)
	return nil
}

// lookupID picks the identity used to key the entity tracker.
// The raw event id wins whenever the live instance's identifier cannot be trusted yet.
func (c *classWork) lookupID(event domain.ChangeEvent) (string, error) {
	var id string
	switch {
	case c.containedInOnly():
		id = event.ID
	case c.indexed.Builder.RequiresProvidedID():
		id = event.ID
	case event.IdentifierRolledBack && c.indexed.Builder.IdentifierMatchesDocumentID():
		id = event.ID
	case event.Entity == nil:
		id = event.ID
	default:
		extracted, err := c.indexed.Builder.ExtractID(event.Entity)
		if err != nil {
			return "", fmt.Errorf("extract %s id: %w", c.key.entityType, err)
		}
		id = extracted
	}
	if id == "" {
		return "", fmt.Errorf("%w: %s %s", ErrMissingIdentity, event.Kind, c.key.entityType)
	}
	return id, nil
}

// enqueue appends purge-all, then delete-by-query, then per-entity operations.
func (c *classWork) enqueue(out []domain.Operation) ([]domain.Operation, error) {
	if c.purgeAll {
		out = append(out, domain.Operation{
			Kind:       domain.OpPurgeAll,
			TenantID:   c.key.tenantID,
			EntityType: c.key.entityType,
		})
	}
	for _, query := range c.queries {
		out = append(out, domain.Operation{
			Kind:       domain.OpDeleteByQuery,
			TenantID:   c.key.tenantID,
			EntityType: c.key.entityType,
			Query:      query,
		})
	}
	if c.containedInOnly() {
		return out, nil
	}
	for pair := c.entities.Oldest(); pair != nil; pair = pair.Next() {
		var err error
		out, err = pair.Value.enqueue(c.indexed.Builder, Contribution{
			TenantID:   c.key.tenantID,
			EntityType: c.key.entityType,
			ID:         pair.Key,
		}, out)
		if err != nil {
			return nil, fmt.Errorf("contribute %s %s: %w", c.key.entityType, pair.Key, err)
		}
	}
	return out, nil
}

// processContainedIn runs the one-shot propagation of every entity tracked when the pass started.
func (c *classWork) processContainedIn(sink Recurser) error {
	snapshot := make([]*entityWork, 0, c.entities.Len())
	for pair := c.entities.Oldest(); pair != nil; pair = pair.Next() {
		snapshot = append(snapshot, pair.Value)
	}
	for _, work := range snapshot {
		if err := work.processContainedIn(c.discoverer, sink, c.key.tenantID); err != nil {
			return err
		}
	}
	return nil
}

// recurseContainedIn schedules an entity reached through a containment edge.
// An entity already tracked is left alone; that is the cycle guard.
func (c *classWork) recurseContainedIn(value any, reach Reach, sink Recurser) error {
	if c.containedInOnly() {
		// No derivable identity, so nothing to deduplicate against.
		return c.discoverer.DiscoverContainment(value, sink, reach, c.key.tenantID)
	}
	builder := c.indexed.Builder
	if builder.RequiresProvidedID() {
		c.logger.Warn("containment reaches a type with provided ids; skipped", "tenant", c.key.tenantID)
		return nil
	}
	id, err := builder.ExtractID(value)
	if err != nil {
		return fmt.Errorf("extract %s id: %w", c.key.entityType, err)
	}
	if id == "" {
		return builder.DiscoverContainment(value, sink, reach, c.key.tenantID)
	}
	if _, ok := c.entities.Get(id); ok {
		return nil
	}

	override := OverrideApplyDefault
	if c.indexed.Interceptor != nil {
		override = c.indexed.Interceptor.OnUpdate(value)
	}
	switch override {
	case OverrideApplyDefault, OverrideUpdate:
		c.entities.Set(id, newReindexWork(value))
	case OverrideSkip:
		c.logger.Debug("interceptor skipped contained entity", "tenant", c.key.tenantID, "id", id)
		return nil
	case OverrideRemove:
		c.entities.Set(id, newRemovalWork(value))
	default:
		return fmt.Errorf("%w: %s for %s %s", ErrUnknownOverride, override, c.key.entityType, id)
	}
	return builder.DiscoverContainment(value, sink, reach, c.key.tenantID)
}
