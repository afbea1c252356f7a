package domain

import "time"

// IndexBatch is one planned operation list applied to the index together
// with the journal entries it consumed.
type IndexBatch struct {
	ID         string
	UnitID     string
	Operations []Operation
	JournalIDs []string
	AppliedAt  time.Time
}

// IndexedDocument is one document currently stored in the index.
type IndexedDocument struct {
	TenantID   string    `json:"tenant_id"`
	EntityType string    `json:"entity_type"`
	ID         string    `json:"id"`
	Document   Document  `json:"document"`
	BatchID    string    `json:"batch_id"`
	IndexedAt  time.Time `json:"indexed_at"`
}

// RecordRef addresses one record.
type RecordRef struct {
	TenantID string
	Type     string
	ID       string
}

// RecordMutation is one ordered change to persisted records. Exactly one of Put and Delete is set.
type RecordMutation struct {
	Put    *Record
	Delete *RecordRef
}

// ChangeSet is the durable side of one recorded unit of work.
type ChangeSet struct {
	Mutations []RecordMutation
	Journal   []JournalEntry
}
