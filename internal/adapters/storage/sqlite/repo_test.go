package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/evanschultz/indexplan/internal/app"
	"github.com/evanschultz/indexplan/internal/domain"
	"github.com/evanschultz/indexplan/internal/mapping"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "indexplan.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})
	return repo
}

func mustRecord(t *testing.T, typ, id string, fields map[string]any) domain.Record {
	t.Helper()
	rec, err := domain.NewRecord(domain.RecordInput{TenantID: "acme", Type: typ, ID: id, Fields: fields}, time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("NewRecord() error = %v", err)
	}
	return rec
}

func TestRepository_RecordsAndJournal(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)

	author := mustRecord(t, "author", "a1", map[string]any{"name": "Le Guin"})
	book := mustRecord(t, "book", "b1", map[string]any{"title": "The Dispossessed", "author_ids": []any{"a1"}})
	err := repo.CommitChangeSet(ctx, domain.ChangeSet{
		Mutations: []domain.RecordMutation{{Put: &author}, {Put: &book}},
		Journal: []domain.JournalEntry{
			{ID: "j1", UnitID: "u1", Kind: domain.WorkAdd, TenantID: "acme", EntityType: "author", EntityID: "a1", Record: &author, RecordedAt: now},
			{ID: "j2", UnitID: "u1", Kind: domain.WorkAdd, TenantID: "acme", EntityType: "book", EntityID: "b1", Record: &book, RecordedAt: now},
			{ID: "j3", UnitID: "u1", Kind: domain.WorkDeleteByQuery, TenantID: "acme", EntityType: "book", Query: &domain.DeletionQuery{Field: "year", Value: "1999"}, RecordedAt: now},
		},
	})
	if err != nil {
		t.Fatalf("CommitChangeSet() error = %v", err)
	}

	loaded, err := repo.GetRecord(ctx, domain.RecordRef{TenantID: "acme", Type: "book", ID: "b1"})
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if loaded.Fields["title"] != "The Dispossessed" {
		t.Fatalf("unexpected record %#v", loaded)
	}
	if refs := loaded.References("author_ids"); len(refs) != 1 || refs[0] != "a1" {
		t.Fatalf("unexpected references %v", refs)
	}
	if _, err := repo.GetRecord(ctx, domain.RecordRef{TenantID: "other", Type: "book", ID: "b1"}); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other tenant, got %v", err)
	}

	records, err := repo.ListRecords(ctx, "acme")
	if err != nil {
		t.Fatalf("ListRecords() error = %v", err)
	}
	if len(records) != 2 || records[0].Type != "author" || records[1].Type != "book" {
		t.Fatalf("unexpected records %#v", records)
	}

	pending, err := repo.ListPendingJournal(ctx, 0)
	if err != nil {
		t.Fatalf("ListPendingJournal() error = %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending entries, got %d", len(pending))
	}
	if pending[0].ID != "j1" || pending[0].Seq >= pending[1].Seq {
		t.Fatalf("expected recording order, got %#v", pending)
	}
	if pending[1].Record == nil || pending[1].Record.ID != "b1" {
		t.Fatalf("expected journal snapshot, got %#v", pending[1].Record)
	}
	if pending[2].Query == nil || pending[2].Query.String() != "year=1999" {
		t.Fatalf("unexpected query %#v", pending[2].Query)
	}
	limited, err := repo.ListPendingJournal(ctx, 1)
	if err != nil {
		t.Fatalf("ListPendingJournal(limit) error = %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(limited))
	}

	err = repo.CommitChangeSet(ctx, domain.ChangeSet{
		Mutations: []domain.RecordMutation{{Delete: &domain.RecordRef{TenantID: "acme", Type: "book", ID: "b1"}}},
		Journal:   []domain.JournalEntry{{ID: "j4", UnitID: "u2", Kind: domain.WorkDelete, TenantID: "acme", EntityType: "book", EntityID: "b1", RecordedAt: now}},
	})
	if err != nil {
		t.Fatalf("CommitChangeSet(delete) error = %v", err)
	}
	if _, err := repo.GetRecord(ctx, domain.RecordRef{TenantID: "acme", Type: "book", ID: "b1"}); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected deleted record, got %v", err)
	}
}

func TestRepository_CommitChangeSetRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	rec := mustRecord(t, "author", "a1", map[string]any{"name": "Le Guin"})
	err := repo.CommitChangeSet(ctx, domain.ChangeSet{
		Mutations: []domain.RecordMutation{{Put: &rec}},
		Journal:   []domain.JournalEntry{{ID: "", UnitID: "u1", Kind: domain.WorkAdd, TenantID: "acme", EntityType: "author", EntityID: "a1"}},
	})
	if !errors.Is(err, domain.ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
	if _, err := repo.GetRecord(ctx, domain.RecordRef{TenantID: "acme", Type: "author", ID: "a1"}); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected rollback, got %v", err)
	}
}

func TestRepository_ApplyBatch(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)

	err := repo.CommitChangeSet(ctx, domain.ChangeSet{
		Journal: []domain.JournalEntry{
			{ID: "j1", UnitID: "u1", Kind: domain.WorkAdd, TenantID: "acme", EntityType: "book", EntityID: "b1", RecordedAt: now},
			{ID: "j2", UnitID: "u1", Kind: domain.WorkAdd, TenantID: "acme", EntityType: "book", EntityID: "b2", RecordedAt: now},
		},
	})
	if err != nil {
		t.Fatalf("CommitChangeSet() error = %v", err)
	}

	err = repo.ApplyBatch(ctx, domain.IndexBatch{
		ID:     "batch-1",
		UnitID: "u1",
		Operations: []domain.Operation{
			{Kind: domain.OpAdd, TenantID: "acme", EntityType: "book", ID: "b1", Document: domain.Document{"title": "A", "year": 1999}},
			{Kind: domain.OpAdd, TenantID: "acme", EntityType: "book", ID: "b2", Document: domain.Document{"title": "B", "year": 2001}},
			{Kind: domain.OpAdd, TenantID: "acme", EntityType: "author", ID: "a1", Document: domain.Document{"name": "Le Guin"}},
		},
		JournalIDs: []string{"j1", "j2"},
		AppliedAt:  now,
	})
	if err != nil {
		t.Fatalf("ApplyBatch() error = %v", err)
	}
	docs, err := repo.ListDocuments(ctx, "acme", "")
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	if len(docs) != 3 || docs[0].EntityType != "author" || docs[0].BatchID != "batch-1" {
		t.Fatalf("unexpected documents %#v", docs)
	}
	pending, _ := repo.ListPendingJournal(ctx, 0)
	if len(pending) != 0 {
		t.Fatalf("expected journal applied, got %d pending", len(pending))
	}

	err = repo.ApplyBatch(ctx, domain.IndexBatch{
		ID:     "batch-2",
		UnitID: "u2",
		Operations: []domain.Operation{
			{Kind: domain.OpDeleteByQuery, TenantID: "acme", EntityType: "book", Query: &domain.DeletionQuery{Field: "year", Value: "1999"}},
			{Kind: domain.OpDelete, TenantID: "acme", EntityType: "author", ID: "a1"},
		},
		AppliedAt: now,
	})
	if err != nil {
		t.Fatalf("ApplyBatch(delete) error = %v", err)
	}
	docs, _ = repo.ListDocuments(ctx, "acme", "")
	if len(docs) != 1 || docs[0].ID != "b2" {
		t.Fatalf("expected only b2, got %#v", docs)
	}

	err = repo.ApplyBatch(ctx, domain.IndexBatch{
		ID:         "batch-3",
		Operations: []domain.Operation{{Kind: domain.OpPurgeAll, TenantID: "acme", EntityType: "book"}},
		AppliedAt:  now,
	})
	if err != nil {
		t.Fatalf("ApplyBatch(purge) error = %v", err)
	}
	docs, _ = repo.ListDocuments(ctx, "acme", "book")
	if len(docs) != 0 {
		t.Fatalf("expected purge to remove books, got %#v", docs)
	}
}

func TestRepository_ApplyBatchRejectsUnknownJournal(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	err := repo.ApplyBatch(ctx, domain.IndexBatch{
		ID:         "batch-1",
		Operations: []domain.Operation{{Kind: domain.OpAdd, TenantID: "acme", EntityType: "book", ID: "b1", Document: domain.Document{"title": "A"}}},
		JournalIDs: []string{"missing"},
		AppliedAt:  time.Now(),
	})
	if !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	docs, _ := repo.ListDocuments(ctx, "acme", "")
	if len(docs) != 0 {
		t.Fatalf("expected rollback to drop the document, got %#v", docs)
	}
}

func TestOpenInMemory(t *testing.T) {
	repo, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})
	if err := repo.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	records, err := repo.ListRecords(context.Background(), "acme")
	if err != nil || len(records) != 0 {
		t.Fatalf("expected empty store, got %v / %v", records, err)
	}
}

func TestServiceFlushAgainstSQLite(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	catalog, err := mapping.NewCatalog([]mapping.TypeSpec{
		{Name: "author", Indexed: true, Fields: []string{"name"}},
		{
			Name:    "book",
			Indexed: true,
			Fields:  []string{"title"},
			Embeds:  []mapping.EmbedSpec{{Field: "author_ids", Type: "author", Fields: []string{"name"}, As: "authors"}},
		},
	}, 0)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	counter := 0
	svc := app.NewService(repo, repo, catalog, func() string {
		counter++
		return fmt.Sprintf("id-%d", counter)
	}, nil, app.ServiceConfig{})

	_, err = svc.RecordChanges(ctx, []app.ChangeInput{
		{TenantID: "acme", Type: "author", ID: "a1", Fields: map[string]any{"name": "Le Guin"}},
		{TenantID: "acme", Type: "book", ID: "b1", Fields: map[string]any{"title": "The Dispossessed", "author_ids": []string{"a1"}}},
	})
	if err != nil {
		t.Fatalf("RecordChanges() error = %v", err)
	}
	if _, err := svc.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if _, err := svc.PutRecord(ctx, "acme", "author", "a1", map[string]any{"name": "Ursula K. Le Guin"}); err != nil {
		t.Fatalf("PutRecord() error = %v", err)
	}
	report, err := svc.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if report.Operations != 4 {
		t.Fatalf("expected author and book to be rebuilt, got %#v", report)
	}

	docs, err := svc.Documents(ctx, "acme", "book")
	if err != nil {
		t.Fatalf("Documents() error = %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 book document, got %d", len(docs))
	}
	authors, ok := docs[0].Document["authors"].([]any)
	if !ok || len(authors) != 1 {
		t.Fatalf("unexpected authors %#v", docs[0].Document["authors"])
	}
	if name := authors[0].(map[string]any)["name"]; name != "Ursula K. Le Guin" {
		t.Fatalf("expected refreshed name, got %v", name)
	}
}

func TestRepository_DeleteByQueryMatchesLargeNumbers(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	err := repo.ApplyBatch(ctx, domain.IndexBatch{
		ID: "batch-1",
		Operations: []domain.Operation{
			{Kind: domain.OpAdd, TenantID: "acme", EntityType: "book", ID: "b1", Document: domain.Document{"print_run": 12345678}},
			{Kind: domain.OpAdd, TenantID: "acme", EntityType: "book", ID: "b2", Document: domain.Document{"print_run": 5000}},
		},
		AppliedAt: now,
	})
	if err != nil {
		t.Fatalf("ApplyBatch() error = %v", err)
	}
	err = repo.ApplyBatch(ctx, domain.IndexBatch{
		ID:         "batch-2",
		Operations: []domain.Operation{{Kind: domain.OpDeleteByQuery, TenantID: "acme", EntityType: "book", Query: &domain.DeletionQuery{Field: "print_run", Value: "12345678"}}},
		AppliedAt:  now,
	})
	if err != nil {
		t.Fatalf("ApplyBatch(delete_by_query) error = %v", err)
	}
	docs, err := repo.ListDocuments(ctx, "acme", "book")
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "b2" {
		t.Fatalf("expected only b2 to remain, got %#v", docs)
	}
}
