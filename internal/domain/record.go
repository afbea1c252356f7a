package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"
)

// DefaultTenant is used when a change carries no tenant marker.
const DefaultTenant = "default"

// Record is one persisted entity that may be indexed or embedded in other documents.
type Record struct {
	TenantID  string         `json:"tenant_id"`
	Type      string         `json:"type"`
	ID        string         `json:"id"`
	Fields    map[string]any `json:"fields"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// RecordInput holds values used to construct a record.
type RecordInput struct {
	TenantID string
	Type     string
	ID       string
	Fields   map[string]any
}

// NewRecord validates input and constructs a record.
func NewRecord(in RecordInput, now time.Time) (Record, error) {
	in.Type = strings.TrimSpace(in.Type)
	in.ID = strings.TrimSpace(in.ID)
	in.TenantID = strings.TrimSpace(in.TenantID)
	if in.Type == "" {
		return Record{}, ErrInvalidEntityType
	}
	if in.ID == "" {
		return Record{}, ErrInvalidID
	}
	if in.TenantID == "" {
		in.TenantID = DefaultTenant
	}
	fields := make(map[string]any, len(in.Fields))
	maps.Copy(fields, in.Fields)
	return Record{
		TenantID:  in.TenantID,
		Type:      in.Type,
		ID:        in.ID,
		Fields:    fields,
		UpdatedAt: now.UTC(),
	}, nil
}

// Field returns one field value.
func (r *Record) Field(name string) (any, bool) {
	if r == nil || r.Fields == nil {
		return nil, false
	}
	value, ok := r.Fields[name]
	return value, ok
}

// References returns the ids referenced by one field. Scalar and list values are both accepted.
func (r *Record) References(field string) []string {
	value, ok := r.Field(field)
	if !ok || value == nil {
		return nil
	}
	switch typed := value.(type) {
	case string:
		if strings.TrimSpace(typed) == "" {
			return nil
		}
		return []string{typed}
	case []string:
		out := make([]string, 0, len(typed))
		for _, id := range typed {
			if strings.TrimSpace(id) != "" {
				out = append(out, id)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			if item == nil {
				continue
			}
			id := FormatValue(item)
			if strings.TrimSpace(id) != "" {
				out = append(out, id)
			}
		}
		return out
	default:
		return []string{FormatValue(typed)}
	}
}

// FormatValue renders a scalar field value the way ids and query values are written.
// Floats print without exponent, so a JSON-decoded 12345678 reads "12345678".
func FormatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	case json.Number:
		return typed.String()
	case bool:
		return strconv.FormatBool(typed)
	case fmt.Stringer:
		return typed.String()
	default:
		return fmt.Sprint(typed)
	}
}
