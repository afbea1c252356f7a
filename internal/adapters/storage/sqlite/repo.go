package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/evanschultz/indexplan/internal/app"
	"github.com/evanschultz/indexplan/internal/domain"
	_ "modernc.org/sqlite"
)

// driverName defines a package constant value.
const driverName = "sqlite"

// Repository stores records, the change journal and the document index.
type Repository struct {
	db *sql.DB
}

// Open opens the database at path, creating parent directories and schema.
func Open(path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// OpenInMemory opens a private in-memory database.
func OpenInMemory() (*Repository, error) {
	db, err := sql.Open(driverName, ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	// Every connection gets its own :memory: database.
	db.SetMaxOpenConns(1)
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the underlying database.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping reports whether the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// migrate handles migrate.
func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS records (
			tenant_id TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			id TEXT NOT NULL,
			fields_json TEXT NOT NULL DEFAULT '{}',
			updated_at TEXT NOT NULL,
			PRIMARY KEY (tenant_id, entity_type, id)
		);`,
		`CREATE TABLE IF NOT EXISTS change_journal (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			unit_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL DEFAULT '',
			record_json TEXT,
			query_field TEXT,
			query_value TEXT,
			identifier_rolled_back INTEGER NOT NULL DEFAULT 0,
			recorded_at TEXT NOT NULL,
			applied_at TEXT,
			batch_id TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_change_journal_pending ON change_journal(applied_at, seq);`,
		`CREATE TABLE IF NOT EXISTS index_batches (
			id TEXT PRIMARY KEY,
			unit_id TEXT NOT NULL,
			operations_json TEXT NOT NULL DEFAULT '[]',
			journal_count INTEGER NOT NULL DEFAULT 0,
			applied_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS index_documents (
			tenant_id TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			id TEXT NOT NULL,
			document_json TEXT NOT NULL DEFAULT '{}',
			batch_id TEXT NOT NULL,
			indexed_at TEXT NOT NULL,
			PRIMARY KEY (tenant_id, entity_type, id)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// GetRecord returns one stored record.
func (r *Repository) GetRecord(ctx context.Context, ref domain.RecordRef) (domain.Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT tenant_id, entity_type, id, fields_json, updated_at
		FROM records
		WHERE tenant_id = ? AND entity_type = ? AND id = ?
	`, ref.TenantID, ref.Type, ref.ID)
	return scanRecord(row)
}

// ListRecords lists every record of one tenant.
func (r *Repository) ListRecords(ctx context.Context, tenantID string) ([]domain.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tenant_id, entity_type, id, fields_json, updated_at
		FROM records
		WHERE tenant_id = ?
		ORDER BY entity_type ASC, id ASC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CommitChangeSet applies record mutations and appends journal entries in one transaction.
func (r *Repository) CommitChangeSet(ctx context.Context, set domain.ChangeSet) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, mutation := range set.Mutations {
		switch {
		case mutation.Put != nil:
			if err = upsertRecord(ctx, tx, *mutation.Put); err != nil {
				return err
			}
		case mutation.Delete != nil:
			ref := mutation.Delete
			if _, err = tx.ExecContext(ctx, `DELETE FROM records WHERE tenant_id = ? AND entity_type = ? AND id = ?`, ref.TenantID, ref.Type, ref.ID); err != nil {
				return fmt.Errorf("delete record: %w", err)
			}
		}
	}
	for _, entry := range set.Journal {
		if err = insertJournalEntry(ctx, tx, entry); err != nil {
			return err
		}
	}

	err = tx.Commit()
	return err
}

// ListPendingJournal lists unapplied journal entries in recording order. A non-positive limit lists all.
func (r *Repository) ListPendingJournal(ctx context.Context, limit int) ([]domain.JournalEntry, error) {
	query := `
		SELECT seq, id, unit_id, kind, tenant_id, entity_type, entity_id, record_json, query_field, query_value,
			identifier_rolled_back, recorded_at, applied_at
		FROM change_journal
		WHERE applied_at IS NULL
		ORDER BY seq ASC
	`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.JournalEntry, 0)
	for rows.Next() {
		entry, err := scanJournalEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// ApplyBatch applies planned operations to the document index and marks the consumed
// journal entries applied, all in one transaction.
func (r *Repository) ApplyBatch(ctx context.Context, batch domain.IndexBatch) (err error) {
	if strings.TrimSpace(batch.ID) == "" {
		return domain.ErrInvalidID
	}
	appliedAt := batch.AppliedAt
	if appliedAt.IsZero() {
		appliedAt = time.Now().UTC()
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, op := range batch.Operations {
		if err = applyOperation(ctx, tx, op, batch.ID, appliedAt); err != nil {
			return fmt.Errorf("apply %s: %w", op, err)
		}
	}

	opsJSON, err := json.Marshal(batch.Operations)
	if err != nil {
		return fmt.Errorf("encode batch operations: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO index_batches(id, unit_id, operations_json, journal_count, applied_at)
		VALUES (?, ?, ?, ?, ?)
	`, batch.ID, batch.UnitID, string(opsJSON), len(batch.JournalIDs), ts(appliedAt)); err != nil {
		return fmt.Errorf("insert index batch: %w", err)
	}
	for _, journalID := range batch.JournalIDs {
		var res sql.Result
		res, err = tx.ExecContext(ctx, `
			UPDATE change_journal SET applied_at = ?, batch_id = ?
			WHERE id = ? AND applied_at IS NULL
		`, ts(appliedAt), batch.ID, journalID)
		if err != nil {
			return fmt.Errorf("mark journal entry applied: %w", err)
		}
		if err = translateNoRows(res); err != nil {
			return fmt.Errorf("mark journal entry %s applied: %w", journalID, err)
		}
	}

	err = tx.Commit()
	return err
}

// ListDocuments lists indexed documents of one tenant, optionally restricted to a type.
func (r *Repository) ListDocuments(ctx context.Context, tenantID, entityType string) ([]domain.IndexedDocument, error) {
	query := `
		SELECT tenant_id, entity_type, id, document_json, batch_id, indexed_at
		FROM index_documents
		WHERE tenant_id = ?
	`
	args := []any{tenantID}
	if entityType != "" {
		query += ` AND entity_type = ?`
		args = append(args, entityType)
	}
	query += ` ORDER BY entity_type ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.IndexedDocument, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// execerContext represents a write-only DB contract used by DB and Tx implementations.
type execerContext interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}

// queryerContext represents a read contract used by DB and Tx implementations.
type queryerContext interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}

// txContext is the subset of *sql.Tx used while applying operations.
type txContext interface {
	execerContext
	queryerContext
}

// upsertRecord inserts or replaces one record.
func upsertRecord(ctx context.Context, execer execerContext, rec domain.Record) error {
	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("encode record fields: %w", err)
	}
	_, err = execer.ExecContext(ctx, `
		INSERT INTO records(tenant_id, entity_type, id, fields_json, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, entity_type, id) DO UPDATE SET
			fields_json = excluded.fields_json,
			updated_at = excluded.updated_at
	`, rec.TenantID, rec.Type, rec.ID, string(fieldsJSON), ts(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// insertJournalEntry appends one journal entry.
func insertJournalEntry(ctx context.Context, execer execerContext, entry domain.JournalEntry) error {
	if strings.TrimSpace(entry.ID) == "" {
		return domain.ErrInvalidID
	}
	var recordJSON, queryField, queryValue any
	if entry.Record != nil {
		raw, err := json.Marshal(entry.Record)
		if err != nil {
			return fmt.Errorf("encode journal record: %w", err)
		}
		recordJSON = string(raw)
	}
	if entry.Query != nil {
		queryField = entry.Query.Field
		queryValue = entry.Query.Value
	}
	rolledBack := 0
	if entry.IdentifierRolledBack {
		rolledBack = 1
	}
	_, err := execer.ExecContext(ctx, `
		INSERT INTO change_journal(id, unit_id, kind, tenant_id, entity_type, entity_id, record_json, query_field, query_value,
			identifier_rolled_back, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID,
		entry.UnitID,
		string(entry.Kind),
		entry.TenantID,
		entry.EntityType,
		entry.EntityID,
		recordJSON,
		queryField,
		queryValue,
		rolledBack,
		ts(entry.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// applyOperation applies one planned operation to index_documents.
func applyOperation(ctx context.Context, tx txContext, op domain.Operation, batchID string, appliedAt time.Time) error {
	switch op.Kind {
	case domain.OpPurgeAll:
		_, err := tx.ExecContext(ctx, `DELETE FROM index_documents WHERE tenant_id = ? AND entity_type = ?`, op.TenantID, op.EntityType)
		return err
	case domain.OpDeleteByQuery:
		if op.Query == nil {
			return domain.ErrInvalidQuery
		}
		ids, err := matchingDocumentIDs(ctx, tx, op)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM index_documents WHERE tenant_id = ? AND entity_type = ? AND id = ?`, op.TenantID, op.EntityType, id); err != nil {
				return err
			}
		}
		return nil
	case domain.OpDelete:
		_, err := tx.ExecContext(ctx, `DELETE FROM index_documents WHERE tenant_id = ? AND entity_type = ? AND id = ?`, op.TenantID, op.EntityType, op.ID)
		return err
	case domain.OpAdd:
		docJSON, err := json.Marshal(op.Document)
		if err != nil {
			return fmt.Errorf("encode document: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO index_documents(tenant_id, entity_type, id, document_json, batch_id, indexed_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(tenant_id, entity_type, id) DO UPDATE SET
				document_json = excluded.document_json,
				batch_id = excluded.batch_id,
				indexed_at = excluded.indexed_at
		`, op.TenantID, op.EntityType, op.ID, string(docJSON), batchID, ts(appliedAt))
		return err
	default:
		return fmt.Errorf("unsupported operation kind %q", op.Kind)
	}
}

// matchingDocumentIDs returns ids of documents of the operation's type that satisfy its query.
func matchingDocumentIDs(ctx context.Context, q queryerContext, op domain.Operation) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, document_json FROM index_documents WHERE tenant_id = ? AND entity_type = ?
	`, op.TenantID, op.EntityType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var (
			id     string
			docRaw string
			doc    domain.Document
		)
		if err := rows.Scan(&id, &docRaw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(docRaw), &doc); err != nil {
			return nil, fmt.Errorf("decode index_documents.document_json: %w", err)
		}
		if op.Query.Matches(doc) {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

// scanner represents scanner data used by this package.
type scanner interface {
	Scan(dest ...any) error
}

// scanRecord handles scan record.
func scanRecord(s scanner) (domain.Record, error) {
	var (
		rec        domain.Record
		fieldsRaw  string
		updatedRaw string
	)
	if err := s.Scan(&rec.TenantID, &rec.Type, &rec.ID, &fieldsRaw, &updatedRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Record{}, app.ErrNotFound
		}
		return domain.Record{}, err
	}
	if strings.TrimSpace(fieldsRaw) == "" {
		fieldsRaw = "{}"
	}
	if err := json.Unmarshal([]byte(fieldsRaw), &rec.Fields); err != nil {
		return domain.Record{}, fmt.Errorf("decode records.fields_json: %w", err)
	}
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	rec.UpdatedAt = parseTS(updatedRaw)
	return rec, nil
}

// scanJournalEntry handles scan journal entry.
func scanJournalEntry(s scanner) (domain.JournalEntry, error) {
	var (
		entry       domain.JournalEntry
		kind        string
		recordRaw   sql.NullString
		queryField  sql.NullString
		queryValue  sql.NullString
		rolledBack  int
		recordedRaw string
		appliedRaw  sql.NullString
	)
	if err := s.Scan(
		&entry.Seq,
		&entry.ID,
		&entry.UnitID,
		&kind,
		&entry.TenantID,
		&entry.EntityType,
		&entry.EntityID,
		&recordRaw,
		&queryField,
		&queryValue,
		&rolledBack,
		&recordedRaw,
		&appliedRaw,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.JournalEntry{}, app.ErrNotFound
		}
		return domain.JournalEntry{}, err
	}
	parsedKind, err := domain.ParseWorkKind(kind)
	if err != nil {
		return domain.JournalEntry{}, fmt.Errorf("decode change_journal.kind: %w", err)
	}
	entry.Kind = parsedKind
	if recordRaw.Valid && strings.TrimSpace(recordRaw.String) != "" {
		var rec domain.Record
		if err := json.Unmarshal([]byte(recordRaw.String), &rec); err != nil {
			return domain.JournalEntry{}, fmt.Errorf("decode change_journal.record_json: %w", err)
		}
		entry.Record = &rec
	}
	if queryField.Valid {
		entry.Query = &domain.DeletionQuery{Field: queryField.String, Value: queryValue.String}
	}
	entry.IdentifierRolledBack = rolledBack != 0
	entry.RecordedAt = parseTS(recordedRaw)
	entry.AppliedAt = parseNullTS(appliedRaw)
	return entry, nil
}

// scanDocument handles scan document.
func scanDocument(s scanner) (domain.IndexedDocument, error) {
	var (
		doc        domain.IndexedDocument
		docRaw     string
		indexedRaw string
	)
	if err := s.Scan(&doc.TenantID, &doc.EntityType, &doc.ID, &docRaw, &doc.BatchID, &indexedRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.IndexedDocument{}, app.ErrNotFound
		}
		return domain.IndexedDocument{}, err
	}
	if err := json.Unmarshal([]byte(docRaw), &doc.Document); err != nil {
		return domain.IndexedDocument{}, fmt.Errorf("decode index_documents.document_json: %w", err)
	}
	doc.IndexedAt = parseTS(indexedRaw)
	return doc, nil
}

// translateNoRows handles translate no rows.
func translateNoRows(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return app.ErrNotFound
	}
	return nil
}

// ts handles ts.
func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTS parses input into a normalized form.
func parseTS(v string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

// parseNullTS parses input into a normalized form.
func parseNullTS(v sql.NullString) *time.Time {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil
	}
	ts := parseTS(v.String)
	return &ts
}
