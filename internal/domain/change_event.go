package domain

import (
	"strings"
	"time"
)

// WorkKind describes what happened to one entity inside a unit of work.
type WorkKind string

// WorkKind values accepted by the indexing work plan.
const (
	WorkAdd           WorkKind = "add"
	WorkUpdate        WorkKind = "update"
	WorkDelete        WorkKind = "delete"
	WorkPurge         WorkKind = "purge"
	WorkCollection    WorkKind = "collection"
	WorkIndex         WorkKind = "index"
	WorkPurgeAll      WorkKind = "purge_all"
	WorkDeleteByQuery WorkKind = "delete_by_query"
)

// validWorkKinds stores every supported work kind.
var validWorkKinds = []WorkKind{
	WorkAdd,
	WorkUpdate,
	WorkDelete,
	WorkPurge,
	WorkCollection,
	WorkIndex,
	WorkPurgeAll,
	WorkDeleteByQuery,
}

// ParseWorkKind normalizes and validates one work kind.
func ParseWorkKind(raw string) (WorkKind, error) {
	kind := WorkKind(strings.TrimSpace(strings.ToLower(raw)))
	for _, candidate := range validWorkKinds {
		if kind == candidate {
			return kind, nil
		}
	}
	return "", ErrInvalidWorkKind
}

// TypeWide reports whether the kind applies to a whole entity type rather than one entity.
func (k WorkKind) TypeWide() bool {
	return k == WorkPurgeAll || k == WorkDeleteByQuery
}

// ChangeEvent is one change notification fed into a work plan.
//
// Entity is the live instance when one is available. ID is the raw identity
// carried by the persistence layer and may be empty for type-wide kinds.
type ChangeEvent struct {
	Kind                 WorkKind
	TenantID             string
	EntityType           string
	Entity               any
	ID                   string
	Query                *DeletionQuery
	IdentifierRolledBack bool
}

// JournalEntry is one persisted change awaiting indexing.
type JournalEntry struct {
	ID                   string
	UnitID               string
	Seq                  int64
	Kind                 WorkKind
	TenantID             string
	EntityType           string
	EntityID             string
	Record               *Record
	Query                *DeletionQuery
	IdentifierRolledBack bool
	RecordedAt           time.Time
	AppliedAt            *time.Time
}

// Event converts the journal entry into a work-plan change event.
func (e JournalEntry) Event() ChangeEvent {
	event := ChangeEvent{
		Kind:                 e.Kind,
		TenantID:             e.TenantID,
		EntityType:           e.EntityType,
		ID:                   e.EntityID,
		Query:                e.Query,
		IdentifierRolledBack: e.IdentifierRolledBack,
	}
	if e.Record != nil {
		event.Entity = e.Record
	}
	return event
}
