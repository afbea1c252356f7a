// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"context"
	"errors"

	"github.com/evanschultz/indexplan/internal/domain"
)

// KindPut is the transport name for a store-and-index change whose add/update kind is derived.
const KindPut = "put"

// ErrInvalidRequest reports malformed transport input.
var ErrInvalidRequest = errors.New("invalid request")

// ErrUnknownType reports an entity type missing from the mapping catalog.
var ErrUnknownType = errors.New("unknown entity type")

// ErrNotFound reports missing transport-visible resources.
var ErrNotFound = errors.New("not found")

// ChangeRequest is one change in a recorded unit of work.
type ChangeRequest struct {
	Kind                 string         `json:"kind,omitempty"`
	TenantID             string         `json:"tenant_id,omitempty"`
	Type                 string         `json:"type"`
	ID                   string         `json:"id,omitempty"`
	Fields               map[string]any `json:"fields,omitempty"`
	QueryField           string         `json:"query_field,omitempty"`
	QueryValue           string         `json:"query_value,omitempty"`
	IdentifierRolledBack bool           `json:"identifier_rolled_back,omitempty"`
}

// RecordChangesRequest wraps one unit of work.
type RecordChangesRequest struct {
	Changes []ChangeRequest `json:"changes"`
}

// ChangeReceipt acknowledges one recorded unit of work.
type ChangeReceipt struct {
	UnitID  string `json:"unit_id"`
	Entries int    `json:"entries"`
}

// Batch is one planned or applied operation list.
type Batch struct {
	ID         string             `json:"id"`
	UnitID     string             `json:"unit_id"`
	Events     int                `json:"events"`
	Operations []domain.Operation `json:"operations"`
}

// PlanResult summarizes one pass over the pending journal.
type PlanResult struct {
	Applied    bool    `json:"applied"`
	Events     int     `json:"events"`
	Operations int     `json:"operations"`
	Batches    []Batch `json:"batches"`
}

// DocumentsRequest filters indexed documents.
type DocumentsRequest struct {
	TenantID string
	Type     string
}

// IndexingService is the surface shared by the HTTP and MCP adapters.
type IndexingService interface {
	RecordChanges(context.Context, RecordChangesRequest) (ChangeReceipt, error)
	Plan(context.Context) (PlanResult, error)
	Flush(context.Context) (PlanResult, error)
	ListDocuments(context.Context, DocumentsRequest) ([]domain.IndexedDocument, error)
	ListTypes(context.Context) ([]string, error)
}
