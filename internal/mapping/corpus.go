package mapping

import (
	"slices"
	"strings"

	"github.com/evanschultz/indexplan/internal/domain"
)

// recordKey addresses one record.
type recordKey struct {
	tenantID   string
	entityType string
	id         string
}

// typeKey addresses all records of one type in one tenant.
type typeKey struct {
	tenantID   string
	entityType string
}

// Corpus is an in-memory view of persisted records used to resolve embeds
// and containment edges while a plan is built.
type Corpus struct {
	records map[recordKey]*domain.Record
	byType  map[typeKey][]*domain.Record
}

// NewCorpus indexes records by tenant, type and id.
func NewCorpus(records []domain.Record) *Corpus {
	c := &Corpus{
		records: make(map[recordKey]*domain.Record, len(records)),
		byType:  map[typeKey][]*domain.Record{},
	}
	for idx := range records {
		c.Put(records[idx])
	}
	return c
}

// Put stores or replaces one record.
func (c *Corpus) Put(record domain.Record) {
	rec := record
	key := recordKey{tenantID: rec.TenantID, entityType: rec.Type, id: rec.ID}
	tk := typeKey{tenantID: rec.TenantID, entityType: rec.Type}
	if _, ok := c.records[key]; ok {
		c.byType[tk] = slices.DeleteFunc(c.byType[tk], func(existing *domain.Record) bool {
			return existing.ID == rec.ID
		})
	}
	c.records[key] = &rec
	c.byType[tk] = append(c.byType[tk], &rec)
}

// Get returns one record.
func (c *Corpus) Get(tenantID, entityType, id string) (*domain.Record, bool) {
	rec, ok := c.records[recordKey{tenantID: tenantID, entityType: entityType, id: id}]
	return rec, ok
}

// Len returns the number of records.
func (c *Corpus) Len() int {
	return len(c.records)
}

// Referencing returns records of containerType whose field references id, ordered by id.
func (c *Corpus) Referencing(tenantID, containerType, field, id string) []*domain.Record {
	var out []*domain.Record
	for _, rec := range c.byType[typeKey{tenantID: tenantID, entityType: containerType}] {
		if slices.Contains(rec.References(field), id) {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b *domain.Record) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out
}
