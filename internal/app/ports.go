package app

import (
	"context"

	"github.com/evanschultz/indexplan/internal/domain"
)

// Repository stores records and the change journal.
type Repository interface {
	GetRecord(context.Context, domain.RecordRef) (domain.Record, error)
	ListRecords(context.Context, string) ([]domain.Record, error)
	CommitChangeSet(context.Context, domain.ChangeSet) error
	ListPendingJournal(context.Context, int) ([]domain.JournalEntry, error)
}

// IndexStore applies planned operations and serves indexed documents.
type IndexStore interface {
	ApplyBatch(context.Context, domain.IndexBatch) error
	ListDocuments(context.Context, string, string) ([]domain.IndexedDocument, error)
}
