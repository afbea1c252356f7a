package domain

import (
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"
)

func TestNewRecordNormalizesInput(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	fields := map[string]any{"name": "Le Guin"}
	rec, err := NewRecord(RecordInput{Type: " author ", ID: " a1 ", Fields: fields}, now)
	if err != nil {
		t.Fatalf("NewRecord() error = %v", err)
	}
	if rec.Type != "author" || rec.ID != "a1" || rec.TenantID != DefaultTenant {
		t.Fatalf("unexpected record identity %#v", rec)
	}
	if rec.UpdatedAt.Location() != time.UTC {
		t.Fatalf("expected UTC timestamp, got %v", rec.UpdatedAt)
	}
	fields["name"] = "mutated"
	if rec.Fields["name"] != "Le Guin" {
		t.Fatal("expected record fields to be copied")
	}

	if _, err := NewRecord(RecordInput{ID: "a1"}, now); !errors.Is(err, ErrInvalidEntityType) {
		t.Fatalf("expected ErrInvalidEntityType, got %v", err)
	}
	if _, err := NewRecord(RecordInput{Type: "author", ID: "  "}, now); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
}

func TestRecordReferences(t *testing.T) {
	rec := &Record{Fields: map[string]any{
		"single":  "a1",
		"blank":   " ",
		"strings": []string{"a1", "", "a2"},
		"anys":    []any{"a3", nil, float64(7)},
		"number":  float64(42),
	}}
	cases := map[string][]string{
		"single":  {"a1"},
		"blank":   nil,
		"strings": {"a1", "a2"},
		"anys":    {"a3", "7"},
		"number":  {"42"},
		"missing": nil,
	}
	for field, want := range cases {
		if got := rec.References(field); !slices.Equal(got, want) {
			t.Fatalf("References(%q) = %v, want %v", field, got, want)
		}
	}
	var nilRec *Record
	if got := nilRec.References("single"); got != nil {
		t.Fatalf("expected nil references from nil record, got %v", got)
	}
}

func TestParseWorkKind(t *testing.T) {
	kind, err := ParseWorkKind("  Delete_By_Query ")
	if err != nil || kind != WorkDeleteByQuery {
		t.Fatalf("ParseWorkKind() = %q, %v", kind, err)
	}
	if !kind.TypeWide() || WorkPurge.TypeWide() {
		t.Fatal("unexpected TypeWide classification")
	}
	if _, err := ParseWorkKind("explode"); !errors.Is(err, ErrInvalidWorkKind) {
		t.Fatalf("expected ErrInvalidWorkKind, got %v", err)
	}
}

func TestDeletionQueryMatches(t *testing.T) {
	q, err := NewDeletionQuery(" year ", "1979")
	if err != nil {
		t.Fatalf("NewDeletionQuery() error = %v", err)
	}
	if q.String() != "year=1979" {
		t.Fatalf("String() = %q", q.String())
	}
	if !q.Matches(Document{"year": float64(1979)}) {
		t.Fatal("expected numeric field to match its printed value")
	}
	if q.Matches(Document{"year": "1980"}) || q.Matches(Document{"title": "x"}) || q.Matches(nil) {
		t.Fatal("unexpected match")
	}
	if _, err := NewDeletionQuery(" ", "x"); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestOperationString(t *testing.T) {
	q, _ := NewDeletionQuery("status", "draft")
	cases := []struct {
		op   Operation
		want string
	}{
		{op: Operation{Kind: OpAdd, EntityType: "book", ID: "b1"}, want: "add(book, b1)"},
		{op: Operation{Kind: OpDelete, EntityType: "book", ID: "b1"}, want: "delete(book, b1)"},
		{op: Operation{Kind: OpPurgeAll, EntityType: "book"}, want: "purge_all(book)"},
		{op: Operation{Kind: OpDeleteByQuery, EntityType: "book", Query: q}, want: "delete_by_query(book, status=draft)"},
	}
	for _, tc := range cases {
		if got := tc.op.String(); got != tc.want {
			t.Fatalf("String() = %q, want %q", got, tc.want)
		}
	}
}

func TestJournalEntryEvent(t *testing.T) {
	rec := &Record{TenantID: "acme", Type: "book", ID: "b1"}
	entry := JournalEntry{Kind: WorkUpdate, TenantID: "acme", EntityType: "book", EntityID: "b1", Record: rec, IdentifierRolledBack: true}
	event := entry.Event()
	if event.Entity != rec || event.ID != "b1" || !event.IdentifierRolledBack {
		t.Fatalf("unexpected event %#v", event)
	}
	if (JournalEntry{Kind: WorkPurgeAll}).Event().Entity != nil {
		t.Fatal("expected nil entity without a record snapshot")
	}
}

func TestFormatValue(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{in: float64(12345678), want: "12345678"},
		{in: float64(1979), want: "1979"},
		{in: 2.5, want: "2.5"},
		{in: float32(0.5), want: "0.5"},
		{in: json.Number("12345678"), want: "12345678"},
		{in: 42, want: "42"},
		{in: true, want: "true"},
		{in: "a1", want: "a1"},
		{in: nil, want: ""},
	}
	for _, tc := range cases {
		if got := FormatValue(tc.in); got != tc.want {
			t.Fatalf("FormatValue(%#v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestJSONDecodedNumbersMatchAsIDs(t *testing.T) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(`{"author_ids":[12345678],"editor_id":87654321,"year":12345678}`), &fields); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	rec := &Record{Fields: fields}
	if got := rec.References("author_ids"); !slices.Equal(got, []string{"12345678"}) {
		t.Fatalf("References(author_ids) = %v", got)
	}
	if got := rec.References("editor_id"); !slices.Equal(got, []string{"87654321"}) {
		t.Fatalf("References(editor_id) = %v", got)
	}

	q, err := NewDeletionQuery("year", "12345678")
	if err != nil {
		t.Fatalf("NewDeletionQuery() error = %v", err)
	}
	if !q.Matches(Document(fields)) {
		t.Fatalf("expected %s to match %v", q, fields)
	}
}
