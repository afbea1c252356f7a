package common

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/evanschultz/indexplan/internal/app"
	"github.com/evanschultz/indexplan/internal/domain"
)

// AppServiceAdapter maps transport contracts onto app.Service.
type AppServiceAdapter struct {
	service *app.Service
}

// NewAppServiceAdapter builds one common adapter over an app.Service instance.
func NewAppServiceAdapter(service *app.Service) *AppServiceAdapter {
	return &AppServiceAdapter{service: service}
}

// RecordChanges validates transport changes and records them as one unit of work.
func (a *AppServiceAdapter) RecordChanges(ctx context.Context, in RecordChangesRequest) (ChangeReceipt, error) {
	if a == nil || a.service == nil {
		return ChangeReceipt{}, fmt.Errorf("app service adapter is not configured: %w", ErrInvalidRequest)
	}
	if len(in.Changes) == 0 {
		return ChangeReceipt{}, fmt.Errorf("changes are required: %w", ErrInvalidRequest)
	}
	changes := make([]app.ChangeInput, 0, len(in.Changes))
	for idx, change := range in.Changes {
		converted, err := convertChange(change)
		if err != nil {
			return ChangeReceipt{}, fmt.Errorf("change %d: %w", idx, err)
		}
		changes = append(changes, converted)
	}
	receipt, err := a.service.RecordChanges(ctx, changes)
	if err != nil {
		return ChangeReceipt{}, mapAppError("record changes", err)
	}
	return ChangeReceipt{UnitID: receipt.UnitID, Entries: receipt.Entries}, nil
}

// Plan computes pending operations without applying them.
func (a *AppServiceAdapter) Plan(ctx context.Context) (PlanResult, error) {
	if a == nil || a.service == nil {
		return PlanResult{}, fmt.Errorf("app service adapter is not configured: %w", ErrInvalidRequest)
	}
	report, err := a.service.Plan(ctx)
	if err != nil {
		return PlanResult{}, mapAppError("plan", err)
	}
	return convertReport(report), nil
}

// Flush applies pending operations to the index.
func (a *AppServiceAdapter) Flush(ctx context.Context) (PlanResult, error) {
	if a == nil || a.service == nil {
		return PlanResult{}, fmt.Errorf("app service adapter is not configured: %w", ErrInvalidRequest)
	}
	report, err := a.service.Flush(ctx)
	if err != nil {
		return convertReport(report), mapAppError("flush", err)
	}
	return convertReport(report), nil
}

// ListDocuments lists indexed documents.
func (a *AppServiceAdapter) ListDocuments(ctx context.Context, in DocumentsRequest) ([]domain.IndexedDocument, error) {
	if a == nil || a.service == nil {
		return nil, fmt.Errorf("app service adapter is not configured: %w", ErrInvalidRequest)
	}
	docs, err := a.service.Documents(ctx, in.TenantID, in.Type)
	if err != nil {
		return nil, mapAppError("list documents", err)
	}
	return docs, nil
}

// ListTypes lists mapped entity types.
func (a *AppServiceAdapter) ListTypes(_ context.Context) ([]string, error) {
	if a == nil || a.service == nil {
		return nil, fmt.Errorf("app service adapter is not configured: %w", ErrInvalidRequest)
	}
	return a.service.Types(), nil
}

// convertChange maps one transport change onto the app input.
func convertChange(in ChangeRequest) (app.ChangeInput, error) {
	out := app.ChangeInput{
		TenantID:             strings.TrimSpace(in.TenantID),
		Type:                 strings.TrimSpace(in.Type),
		ID:                   strings.TrimSpace(in.ID),
		Fields:               in.Fields,
		IdentifierRolledBack: in.IdentifierRolledBack,
	}
	if out.Type == "" {
		return app.ChangeInput{}, fmt.Errorf("type is required: %w", ErrInvalidRequest)
	}
	rawKind := strings.TrimSpace(strings.ToLower(in.Kind))
	if rawKind != "" && rawKind != KindPut {
		kind, err := domain.ParseWorkKind(rawKind)
		if err != nil {
			return app.ChangeInput{}, fmt.Errorf("kind %q: %w", in.Kind, errors.Join(ErrInvalidRequest, err))
		}
		out.Kind = kind
	}
	if strings.TrimSpace(in.QueryField) != "" {
		query, err := domain.NewDeletionQuery(in.QueryField, in.QueryValue)
		if err != nil {
			return app.ChangeInput{}, errors.Join(ErrInvalidRequest, err)
		}
		out.Query = query
	}
	return out, nil
}

// convertReport maps an app report onto the transport result.
func convertReport(report app.FlushReport) PlanResult {
	out := PlanResult{
		Applied:    report.Applied,
		Events:     report.Events,
		Operations: report.Operations,
		Batches:    make([]Batch, 0, len(report.Batches)),
	}
	for _, batch := range report.Batches {
		ops := batch.Operations
		if ops == nil {
			ops = []domain.Operation{}
		}
		out.Batches = append(out.Batches, Batch{
			ID:         batch.ID,
			UnitID:     batch.UnitID,
			Events:     batch.Events,
			Operations: ops,
		})
	}
	return out
}

// mapAppError maps app and domain errors onto transport error categories.
func mapAppError(operation string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, app.ErrNotFound):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrNotFound, err))
	case errors.Is(err, app.ErrUnknownType):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrUnknownType, err))
	case errors.Is(err, app.ErrInvalidChange),
		errors.Is(err, app.ErrNothingRecorded),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidEntityType),
		errors.Is(err, domain.ErrInvalidWorkKind),
		errors.Is(err, domain.ErrInvalidQuery):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrInvalidRequest, err))
	default:
		return fmt.Errorf("%s: %w", operation, err)
	}
}
