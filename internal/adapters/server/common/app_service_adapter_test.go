package common

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/evanschultz/indexplan/internal/adapters/storage/sqlite"
	"github.com/evanschultz/indexplan/internal/app"
	"github.com/evanschultz/indexplan/internal/domain"
	"github.com/evanschultz/indexplan/internal/mapping"
)

// newTestAdapter builds an adapter over an in-memory store with an author/book catalog.
func newTestAdapter(t *testing.T) *AppServiceAdapter {
	t.Helper()
	repo, err := sqlite.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})
	catalog, err := mapping.NewCatalog([]mapping.TypeSpec{
		{Name: "author", Indexed: true, Fields: []string{"name"}},
		{Name: "book", Indexed: true, Fields: []string{"title", "year"}},
	}, 0)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	counter := 0
	svc := app.NewService(repo, repo, catalog, func() string {
		counter++
		return fmt.Sprintf("id-%d", counter)
	}, nil, app.ServiceConfig{})
	return NewAppServiceAdapter(svc)
}

// TestAppServiceAdapterRoundTrip verifies record, plan, flush and list through the adapter.
func TestAppServiceAdapterRoundTrip(t *testing.T) {
	ctx := context.Background()
	adapter := newTestAdapter(t)

	receipt, err := adapter.RecordChanges(ctx, RecordChangesRequest{Changes: []ChangeRequest{
		{Kind: "PUT", Type: "book", ID: "b1", Fields: map[string]any{"title": "Kindred", "year": 1979}},
		{Type: "author", ID: "a1", Fields: map[string]any{"name": "Butler"}},
	}})
	if err != nil {
		t.Fatalf("RecordChanges() error = %v", err)
	}
	if receipt.Entries != 2 || receipt.UnitID == "" {
		t.Fatalf("unexpected receipt %#v", receipt)
	}

	plan, err := adapter.Plan(ctx)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if plan.Applied || plan.Operations != 2 {
		t.Fatalf("unexpected plan %#v", plan)
	}
	flushed, err := adapter.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if !flushed.Applied || len(flushed.Batches) != 1 {
		t.Fatalf("unexpected flush %#v", flushed)
	}

	docs, err := adapter.ListDocuments(ctx, DocumentsRequest{Type: "book"})
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "b1" || docs[0].TenantID != domain.DefaultTenant {
		t.Fatalf("unexpected documents %#v", docs)
	}
	types, err := adapter.ListTypes(ctx)
	if err != nil {
		t.Fatalf("ListTypes() error = %v", err)
	}
	if len(types) != 2 {
		t.Fatalf("unexpected types %v", types)
	}
}

// TestAppServiceAdapterDeleteByQuery verifies query fields become a deletion query.
func TestAppServiceAdapterDeleteByQuery(t *testing.T) {
	ctx := context.Background()
	adapter := newTestAdapter(t)

	_, err := adapter.RecordChanges(ctx, RecordChangesRequest{Changes: []ChangeRequest{
		{Kind: "delete_by_query", Type: "book", QueryField: "year", QueryValue: "1979"},
	}})
	if err != nil {
		t.Fatalf("RecordChanges() error = %v", err)
	}
	plan, err := adapter.Plan(ctx)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(plan.Batches) != 1 || plan.Batches[0].Operations[0].String() != "delete_by_query(book, year=1979)" {
		t.Fatalf("unexpected plan %#v", plan)
	}
}

// TestAppServiceAdapterMapsErrors verifies error categories survive the adapter.
func TestAppServiceAdapterMapsErrors(t *testing.T) {
	ctx := context.Background()
	adapter := newTestAdapter(t)

	cases := []struct {
		name string
		req  RecordChangesRequest
		want error
	}{
		{name: "empty", req: RecordChangesRequest{}, want: ErrInvalidRequest},
		{name: "missing type", req: RecordChangesRequest{Changes: []ChangeRequest{{ID: "x"}}}, want: ErrInvalidRequest},
		{name: "bad kind", req: RecordChangesRequest{Changes: []ChangeRequest{{Kind: "rename", Type: "book", ID: "b1"}}}, want: ErrInvalidRequest},
		{name: "unknown type", req: RecordChangesRequest{Changes: []ChangeRequest{{Type: "magazine", ID: "m1"}}}, want: ErrUnknownType},
		{name: "index missing", req: RecordChangesRequest{Changes: []ChangeRequest{{Kind: "index", Type: "book", ID: "b9"}}}, want: ErrNotFound},
		{name: "missing query", req: RecordChangesRequest{Changes: []ChangeRequest{{Kind: "delete_by_query", Type: "book"}}}, want: ErrInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := adapter.RecordChanges(ctx, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if _, err := adapter.ListDocuments(ctx, DocumentsRequest{Type: "magazine"}); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

// TestNilAdapterFailsClosed verifies an unconfigured adapter rejects calls.
func TestNilAdapterFailsClosed(t *testing.T) {
	var adapter *AppServiceAdapter
	if _, err := adapter.Plan(context.Background()); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
