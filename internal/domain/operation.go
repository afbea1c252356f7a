package domain

import (
	"fmt"
	"strings"
)

// OperationKind identifies one index mutation.
type OperationKind string

// OperationKind values emitted by a work plan.
const (
	OpPurgeAll      OperationKind = "purge_all"
	OpDeleteByQuery OperationKind = "delete_by_query"
	OpDelete        OperationKind = "delete"
	OpAdd           OperationKind = "add"
)

// Document is the field payload of one indexed document.
type Document map[string]any

// Operation is one index mutation produced by a work plan.
type Operation struct {
	Kind       OperationKind  `json:"kind"`
	TenantID   string         `json:"tenant_id,omitempty"`
	EntityType string         `json:"entity_type"`
	ID         string         `json:"id,omitempty"`
	Query      *DeletionQuery `json:"query,omitempty"`
	Document   Document       `json:"document,omitempty"`
}

// String renders a compact operation label for logs and tables.
func (o Operation) String() string {
	switch o.Kind {
	case OpPurgeAll:
		return fmt.Sprintf("%s(%s)", o.Kind, o.EntityType)
	case OpDeleteByQuery:
		return fmt.Sprintf("%s(%s, %s)", o.Kind, o.EntityType, o.Query)
	default:
		return fmt.Sprintf("%s(%s, %s)", o.Kind, o.EntityType, o.ID)
	}
}

// DeletionQuery selects indexed documents of one type by an exact field value.
type DeletionQuery struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// NewDeletionQuery validates and constructs a deletion query.
func NewDeletionQuery(field, value string) (*DeletionQuery, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return nil, ErrInvalidQuery
	}
	return &DeletionQuery{Field: field, Value: value}, nil
}

// Matches reports whether a document satisfies the query.
func (q *DeletionQuery) Matches(doc Document) bool {
	if q == nil || doc == nil {
		return false
	}
	value, ok := doc[q.Field]
	if !ok {
		return false
	}
	return FormatValue(value) == q.Value
}

// String renders the query as field=value.
func (q *DeletionQuery) String() string {
	if q == nil {
		return ""
	}
	return q.Field + "=" + q.Value
}
