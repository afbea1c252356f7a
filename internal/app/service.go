package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/evanschultz/indexplan/internal/domain"
	"github.com/evanschultz/indexplan/internal/mapping"
	"github.com/evanschultz/indexplan/internal/workplan"
)

// defaultBatchSize bounds one work plan when the config sets none.
const defaultBatchSize = 1000

// ServiceConfig holds configuration for service.
type ServiceConfig struct {
	BatchSize     int
	DefaultTenant string
	Logger        *log.Logger
	Metrics       *Metrics
}

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// Service records changes and turns the pending journal into index operations.
type Service struct {
	repo          Repository
	index         IndexStore
	catalog       *mapping.Catalog
	idGen         IDGenerator
	clock         Clock
	batchSize     int
	defaultTenant string
	logger        *log.Logger
	metrics       *Metrics
}

// NewService constructs a new value for this package.
func NewService(repo Repository, index IndexStore, catalog *mapping.Catalog, idGen IDGenerator, clock Clock, cfg ServiceConfig) *Service {
	if idGen == nil {
		idGen = func() string { return "" }
	}
	if clock == nil {
		clock = time.Now
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	cfg.DefaultTenant = strings.TrimSpace(cfg.DefaultTenant)
	if cfg.DefaultTenant == "" {
		cfg.DefaultTenant = domain.DefaultTenant
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard)
	}
	return &Service{
		repo:          repo,
		index:         index,
		catalog:       catalog,
		idGen:         idGen,
		clock:         clock,
		batchSize:     cfg.BatchSize,
		defaultTenant: cfg.DefaultTenant,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
	}
}

// Types returns the mapped entity types.
func (s *Service) Types() []string {
	return s.catalog.Types()
}

// DescribeTypes reports whether each mapped type is indexed and which types embed it.
func (s *Service) DescribeTypes() []mapping.TypeInfo {
	return s.catalog.Describe()
}

// ChangeInput holds one change to record. An empty Kind stores Fields and
// picks add or update depending on whether the record exists.
type ChangeInput struct {
	Kind                 domain.WorkKind       `json:"kind"`
	TenantID             string                `json:"tenant_id"`
	Type                 string                `json:"type"`
	ID                   string                `json:"id"`
	Fields               map[string]any        `json:"fields,omitempty"`
	Query                *domain.DeletionQuery `json:"query,omitempty"`
	IdentifierRolledBack bool                  `json:"identifier_rolled_back,omitempty"`
}

// Receipt identifies one recorded unit of work.
type Receipt struct {
	UnitID  string `json:"unit_id"`
	Entries int    `json:"entries"`
}

// RecordChanges persists changes as one unit of work and journals them for indexing.
func (s *Service) RecordChanges(ctx context.Context, changes []ChangeInput) (Receipt, error) {
	if len(changes) == 0 {
		return Receipt{}, ErrNothingRecorded
	}
	now := s.clock().UTC()
	unitID := s.idGen()
	overlay := map[domain.RecordRef]*domain.Record{}
	lookup := func(ref domain.RecordRef) (*domain.Record, error) {
		if rec, ok := overlay[ref]; ok {
			if rec == nil {
				return nil, ErrNotFound
			}
			return rec, nil
		}
		rec, err := s.repo.GetRecord(ctx, ref)
		if err != nil {
			return nil, err
		}
		return &rec, nil
	}

	var set domain.ChangeSet
	for idx, change := range changes {
		entry, mutation, err := s.prepareChange(change, lookup, now)
		if err != nil {
			return Receipt{}, fmt.Errorf("change %d: %w", idx, err)
		}
		entry.ID = s.idGen()
		entry.UnitID = unitID
		entry.RecordedAt = now
		set.Journal = append(set.Journal, entry)
		if mutation == nil {
			continue
		}
		set.Mutations = append(set.Mutations, *mutation)
		if mutation.Put != nil {
			overlay[refOf(*mutation.Put)] = mutation.Put
		} else {
			overlay[*mutation.Delete] = nil
		}
	}
	if err := s.repo.CommitChangeSet(ctx, set); err != nil {
		return Receipt{}, err
	}
	s.logger.Debug("unit of work recorded", "unit_id", unitID, "entries", len(set.Journal), "mutations", len(set.Mutations))
	return Receipt{UnitID: unitID, Entries: len(set.Journal)}, nil
}

// PutRecord stores one record as its own unit of work.
func (s *Service) PutRecord(ctx context.Context, tenantID, entityType, id string, fields map[string]any) (Receipt, error) {
	return s.RecordChanges(ctx, []ChangeInput{{TenantID: tenantID, Type: entityType, ID: id, Fields: fields}})
}

// DeleteRecord removes one record and its document.
func (s *Service) DeleteRecord(ctx context.Context, tenantID, entityType, id string) (Receipt, error) {
	return s.RecordChanges(ctx, []ChangeInput{{Kind: domain.WorkDelete, TenantID: tenantID, Type: entityType, ID: id}})
}

// Touch journals an index-only change (index, collection or purge) for one record.
func (s *Service) Touch(ctx context.Context, kind domain.WorkKind, tenantID, entityType, id string) (Receipt, error) {
	switch kind {
	case domain.WorkIndex, domain.WorkCollection, domain.WorkPurge:
	default:
		return Receipt{}, fmt.Errorf("%w: touch does not accept %q", ErrInvalidChange, kind)
	}
	return s.RecordChanges(ctx, []ChangeInput{{Kind: kind, TenantID: tenantID, Type: entityType, ID: id}})
}

// PurgeType removes every document of one type from the index. Records are kept.
func (s *Service) PurgeType(ctx context.Context, tenantID, entityType string) (Receipt, error) {
	return s.RecordChanges(ctx, []ChangeInput{{Kind: domain.WorkPurgeAll, TenantID: tenantID, Type: entityType}})
}

// DeleteWhere removes documents of one type whose field equals value. Records are kept.
func (s *Service) DeleteWhere(ctx context.Context, tenantID, entityType, field, value string) (Receipt, error) {
	query, err := domain.NewDeletionQuery(field, value)
	if err != nil {
		return Receipt{}, err
	}
	return s.RecordChanges(ctx, []ChangeInput{{Kind: domain.WorkDeleteByQuery, TenantID: tenantID, Type: entityType, Query: query}})
}

// prepareChange validates one change and derives its journal entry and record mutation.
func (s *Service) prepareChange(change ChangeInput, lookup func(domain.RecordRef) (*domain.Record, error), now time.Time) (domain.JournalEntry, *domain.RecordMutation, error) {
	tenantID := s.tenant(change.TenantID)
	entityType := strings.TrimSpace(change.Type)
	if !s.catalog.Has(entityType) {
		return domain.JournalEntry{}, nil, fmt.Errorf("%w: %q", ErrUnknownType, entityType)
	}
	ref := domain.RecordRef{TenantID: tenantID, Type: entityType, ID: strings.TrimSpace(change.ID)}
	entry := domain.JournalEntry{
		Kind:                 change.Kind,
		TenantID:             tenantID,
		EntityType:           entityType,
		EntityID:             ref.ID,
		IdentifierRolledBack: change.IdentifierRolledBack,
	}

	existing, err := lookup(ref)
	switch {
	case change.Kind.TypeWide():
		existing, err = nil, nil
	case ref.ID == "":
		return domain.JournalEntry{}, nil, fmt.Errorf("%w: %s requires an id", ErrInvalidChange, kindLabel(change.Kind))
	case errors.Is(err, ErrNotFound):
		existing, err = nil, nil
	}
	if err != nil {
		return domain.JournalEntry{}, nil, err
	}

	switch change.Kind {
	case "", domain.WorkAdd, domain.WorkUpdate:
		if entry.Kind == "" {
			entry.Kind = domain.WorkAdd
			if existing != nil {
				entry.Kind = domain.WorkUpdate
			}
		}
		rec, err := domain.NewRecord(domain.RecordInput{TenantID: tenantID, Type: entityType, ID: ref.ID, Fields: change.Fields}, now)
		if err != nil {
			return domain.JournalEntry{}, nil, err
		}
		entry.Record = &rec
		return entry, &domain.RecordMutation{Put: &rec}, nil
	case domain.WorkIndex, domain.WorkCollection:
		if existing == nil {
			return domain.JournalEntry{}, nil, fmt.Errorf("%w: %s %s", ErrNotFound, entityType, ref.ID)
		}
		entry.Record = existing
		return entry, nil, nil
	case domain.WorkDelete:
		if existing == nil {
			return entry, nil, nil
		}
		entry.Record = existing
		return entry, &domain.RecordMutation{Delete: &ref}, nil
	case domain.WorkPurge:
		entry.Record = existing
		return entry, nil, nil
	case domain.WorkPurgeAll:
		entry.EntityID = ""
		return entry, nil, nil
	case domain.WorkDeleteByQuery:
		if change.Query == nil {
			return domain.JournalEntry{}, nil, domain.ErrInvalidQuery
		}
		query, err := domain.NewDeletionQuery(change.Query.Field, change.Query.Value)
		if err != nil {
			return domain.JournalEntry{}, nil, err
		}
		entry.EntityID = ""
		entry.Query = query
		return entry, nil, nil
	default:
		return domain.JournalEntry{}, nil, fmt.Errorf("%w: kind %q", ErrInvalidChange, change.Kind)
	}
}

// PlannedBatch is one work plan's output.
type PlannedBatch struct {
	ID         string             `json:"id"`
	UnitID     string             `json:"unit_id"`
	Events     int                `json:"events"`
	Operations []domain.Operation `json:"operations"`
}

// FlushReport summarizes one pass over the pending journal.
type FlushReport struct {
	Applied    bool           `json:"applied"`
	Events     int            `json:"events"`
	Operations int            `json:"operations"`
	Batches    []PlannedBatch `json:"batches"`
}

// Plan computes the operations the pending journal would produce without applying them.
func (s *Service) Plan(ctx context.Context) (FlushReport, error) {
	return s.run(ctx, false)
}

// Flush plans and applies the pending journal, one work plan per unit of work.
// A unit is split into several plans once a plan reaches the batch size.
func (s *Service) Flush(ctx context.Context) (FlushReport, error) {
	started := s.clock()
	report, err := s.run(ctx, true)
	if err != nil {
		return report, err
	}
	s.metrics.observeFlush(started, s.clock())
	return report, nil
}

// Documents lists indexed documents for one tenant and optional type.
func (s *Service) Documents(ctx context.Context, tenantID, entityType string) ([]domain.IndexedDocument, error) {
	entityType = strings.TrimSpace(entityType)
	if entityType != "" && !s.catalog.Has(entityType) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, entityType)
	}
	return s.index.ListDocuments(ctx, s.tenant(tenantID), entityType)
}

// run drives work plans over the pending journal.
func (s *Service) run(ctx context.Context, apply bool) (FlushReport, error) {
	report := FlushReport{Applied: apply, Batches: []PlannedBatch{}}
	entries, err := s.repo.ListPendingJournal(ctx, 0)
	if err != nil {
		return report, fmt.Errorf("list pending journal: %w", err)
	}
	for _, unit := range groupUnits(entries) {
		batches, err := s.runUnit(ctx, unit, apply)
		report.Batches = append(report.Batches, batches...)
		for _, batch := range batches {
			report.Events += batch.Events
			report.Operations += len(batch.Operations)
		}
		if err != nil {
			return report, err
		}
	}
	return report, nil
}

// runUnit plans one unit of work, cutting a batch whenever the plan reaches the batch size.
func (s *Service) runUnit(ctx context.Context, unit []domain.JournalEntry, apply bool) ([]PlannedBatch, error) {
	unitID := unit[0].UnitID
	corpus, err := s.loadCorpus(ctx, unit)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("planning unit", "unit_id", unitID, "entries", len(unit), "corpus_records", corpus.Len())
	session := s.catalog.Bind(corpus)
	newPlan := func() *workplan.WorkPlan {
		return workplan.New(session, session, workplan.WithLogger(s.logger))
	}

	var (
		batches  []PlannedBatch
		consumed []string
		plan     = newPlan()
	)
	cut := func() error {
		batch, err := s.executeBatch(ctx, unitID, plan, consumed, apply)
		if err != nil {
			plan.Clear()
			return err
		}
		batches = append(batches, batch)
		plan = newPlan()
		consumed = nil
		return nil
	}
	for _, entry := range unit {
		if err := plan.AddWork(refreshEvent(entry, corpus)); err != nil {
			plan.Clear()
			return batches, fmt.Errorf("plan journal entry %s: %w", entry.ID, err)
		}
		s.metrics.observeEvent()
		consumed = append(consumed, entry.ID)
		if plan.Size() >= s.batchSize {
			if err := cut(); err != nil {
				return batches, err
			}
		}
	}
	if len(consumed) > 0 {
		if err := cut(); err != nil {
			return batches, err
		}
	}
	return batches, nil
}

// executeBatch finalizes one plan and, when applying, hands its operations to the index.
func (s *Service) executeBatch(ctx context.Context, unitID string, plan *workplan.WorkPlan, journalIDs []string, apply bool) (PlannedBatch, error) {
	if err := plan.ProcessContainedInAndPrepareExecution(); err != nil {
		return PlannedBatch{}, fmt.Errorf("prepare unit %s: %w", unitID, err)
	}
	ops, err := plan.PlannedOperations()
	if err != nil {
		return PlannedBatch{}, fmt.Errorf("flatten unit %s: %w", unitID, err)
	}
	batch := PlannedBatch{
		ID:         s.idGen(),
		UnitID:     unitID,
		Events:     len(journalIDs),
		Operations: ops,
	}
	if !apply {
		return batch, nil
	}
	if err := s.index.ApplyBatch(ctx, domain.IndexBatch{
		ID:         batch.ID,
		UnitID:     unitID,
		Operations: ops,
		JournalIDs: append([]string(nil), journalIDs...),
		AppliedAt:  s.clock().UTC(),
	}); err != nil {
		return PlannedBatch{}, fmt.Errorf("apply unit %s: %w", unitID, err)
	}
	s.metrics.observeBatch(ops)
	s.logger.Info("index batch applied", "unit_id", unitID, "batch_id", batch.ID, "events", batch.Events, "operations", len(ops))
	return batch, nil
}

// loadCorpus reads the current records of every tenant touched by the unit.
func (s *Service) loadCorpus(ctx context.Context, unit []domain.JournalEntry) (*mapping.Corpus, error) {
	seen := map[string]struct{}{}
	var records []domain.Record
	for _, entry := range unit {
		if _, ok := seen[entry.TenantID]; ok {
			continue
		}
		seen[entry.TenantID] = struct{}{}
		tenantRecords, err := s.repo.ListRecords(ctx, entry.TenantID)
		if err != nil {
			return nil, fmt.Errorf("list records for tenant %q: %w", entry.TenantID, err)
		}
		records = append(records, tenantRecords...)
	}
	return mapping.NewCorpus(records), nil
}

// refreshEvent swaps journal snapshots for the current record when the entity should be rebuilt.
func refreshEvent(entry domain.JournalEntry, corpus *mapping.Corpus) domain.ChangeEvent {
	event := entry.Event()
	switch entry.Kind {
	case domain.WorkAdd, domain.WorkUpdate, domain.WorkIndex, domain.WorkCollection:
		if current, ok := corpus.Get(entry.TenantID, entry.EntityType, entry.EntityID); ok {
			event.Entity = current
		}
	}
	return event
}

// groupUnits splits journal entries into units of work, keeping first-seen order.
func groupUnits(entries []domain.JournalEntry) [][]domain.JournalEntry {
	index := map[string]int{}
	var units [][]domain.JournalEntry
	for _, entry := range entries {
		pos, ok := index[entry.UnitID]
		if !ok {
			pos = len(units)
			index[entry.UnitID] = pos
			units = append(units, nil)
		}
		units[pos] = append(units[pos], entry)
	}
	return units
}

// tenant applies the configured default tenant.
func (s *Service) tenant(raw string) string {
	if tenantID := strings.TrimSpace(raw); tenantID != "" {
		return tenantID
	}
	return s.defaultTenant
}

// refOf returns the address of a record.
func refOf(rec domain.Record) domain.RecordRef {
	return domain.RecordRef{TenantID: rec.TenantID, Type: rec.Type, ID: rec.ID}
}

// kindLabel renders a change kind for errors.
func kindLabel(kind domain.WorkKind) string {
	if kind == "" {
		return "put"
	}
	return string(kind)
}
