// Package httpapi provides the REST HTTP adapter for the server surfaces.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/evanschultz/indexplan/internal/adapters/server/common"
)

// maxRequestBodyBytes limits decoded JSON payload size for fail-closed request handling.
const maxRequestBodyBytes int64 = 1 << 20

// Handler serves the versioned API subrouter mounted under `/api/v1`.
type Handler struct {
	indexing common.IndexingService
}

// APIError represents one structured API failure response.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Hint    string         `json:"hint,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// ErrorEnvelope wraps one structured API error.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// NewHandler constructs one HTTP API adapter over the indexing service.
func NewHandler(indexing common.IndexingService) *Handler {
	return &Handler{indexing: indexing}
}

// route binds one endpoint to its method and handler.
type route struct {
	method string
	handle func(*Handler, http.ResponseWriter, *http.Request)
}

var routes = map[string]route{
	"changes":   {method: http.MethodPost, handle: (*Handler).handleRecordChanges},
	"plan":      {method: http.MethodGet, handle: (*Handler).handlePlan},
	"flush":     {method: http.MethodPost, handle: (*Handler).handleFlush},
	"documents": {method: http.MethodGet, handle: (*Handler).handleListDocuments},
	"types":     {method: http.MethodGet, handle: (*Handler).handleListTypes},
}

// ServeHTTP routes one versioned API request to the matching handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.indexing == nil {
		writeJSONError(w, http.StatusServiceUnavailable, APIError{
			Code:    "service_unavailable",
			Message: "indexing service is not configured",
		})
		return
	}
	rt, ok := routes[strings.Trim(strings.TrimSpace(r.URL.Path), "/")]
	if !ok {
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: "endpoint not found",
		})
		return
	}
	if r.Method != rt.method {
		writeMethodNotAllowed(w, rt.method)
		return
	}
	rt.handle(h, w, r)
}

// handleRecordChanges serves POST `/changes`.
func (h *Handler) handleRecordChanges(w http.ResponseWriter, r *http.Request) {
	var req common.RecordChangesRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	receipt, err := h.indexing.RecordChanges(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// handlePlan serves GET `/plan`.
func (h *Handler) handlePlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.indexing.Plan(r.Context())
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// handleFlush serves POST `/flush`.
func (h *Handler) handleFlush(w http.ResponseWriter, r *http.Request) {
	result, err := h.indexing.Flush(r.Context())
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleListDocuments serves GET `/documents`.
func (h *Handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.indexing.ListDocuments(r.Context(), common.DocumentsRequest{
		TenantID: strings.TrimSpace(r.URL.Query().Get("tenant_id")),
		Type:     strings.TrimSpace(r.URL.Query().Get("type")),
	})
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
	})
}

// handleListTypes serves GET `/types`.
func (h *Handler) handleListTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.indexing.ListTypes(r.Context())
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"types": types,
	})
}

// errorMapping pairs a transport sentinel with its HTTP response.
type errorMapping struct {
	target error
	status int
	code   string
	hint   string
}

var errorMappings = []errorMapping{
	{target: common.ErrNotFound, status: http.StatusNotFound, code: "not_found"},
	{target: common.ErrUnknownType, status: http.StatusUnprocessableEntity, code: "unknown_type", hint: "Map the type under [[types]] in the config file."},
	{target: common.ErrInvalidRequest, status: http.StatusBadRequest, code: "invalid_request"},
}

// writeErrorFrom maps adapter errors into structured HTTP responses.
func writeErrorFrom(w http.ResponseWriter, err error) {
	if err == nil {
		writeJSONError(w, http.StatusInternalServerError, APIError{Code: "internal_error", Message: "unknown error"})
		return
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			writeJSONError(w, m.status, APIError{Code: m.code, Message: err.Error(), Hint: m.hint})
			return
		}
	}
	writeJSONError(w, http.StatusInternalServerError, APIError{Code: "internal_error", Message: err.Error()})
}

// writeMethodNotAllowed writes a structured 405 response with an `Allow` header.
func writeMethodNotAllowed(w http.ResponseWriter, method string) {
	w.Header().Set("Allow", method)
	writeJSONError(w, http.StatusMethodNotAllowed, APIError{
		Code:    "method_not_allowed",
		Message: "method not allowed",
	})
}

// writeJSONError writes one structured error envelope.
func writeJSONError(w http.ResponseWriter, statusCode int, apiErr APIError) {
	writeJSON(w, statusCode, ErrorEnvelope{Error: apiErr})
}

// writeJSON writes one JSON response envelope.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":{"code":"encode_error","message":"%s"}}`, err.Error()), http.StatusInternalServerError)
	}
}

// decodeJSONBody decodes one required JSON request body with strict shape checks.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request body: trailing content: %w", common.ErrInvalidRequest)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("request canceled: %w", ctx.Err())
	default:
		return nil
	}
}
