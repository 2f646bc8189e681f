// Package httpapi carries the JSON response helpers shared by the domain handlers.
package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// Problem type URIs surfaced on error responses.
const (
	ProblemTypeValidation = "https://clasora.example/problems/validation-error"
	ProblemTypeNotFound   = "https://clasora.example/problems/not-found"
	ProblemTypeConflict   = "https://clasora.example/problems/conflict"
	ProblemTypeLocked     = "https://clasora.example/problems/locked"
	ProblemTypeRateLimit  = "https://clasora.example/problems/rate-limited"
	ProblemTypeInternal   = "https://clasora.example/problems/internal-error"
)

// ProblemDetails is the RFC 7807 error body shared by all endpoints.
// Extra fields carry the structured conflict payload when present.
type ProblemDetails struct {
	Type   string         `json:"type"`
	Title  string         `json:"title"`
	Detail string         `json:"detail,omitempty"`
	Status int            `json:"status"`
	Code   string         `json:"code,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// WriteJSON encodes value as the response body with the given status.
func WriteJSON(w http.ResponseWriter, logger *zap.Logger, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil && logger != nil {
		logger.Error("encode response body", zap.Error(err))
	}
}

// WriteProblem encodes a problem-details error response.
func WriteProblem(w http.ResponseWriter, logger *zap.Logger, problem ProblemDetails) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)
	if err := json.NewEncoder(w).Encode(problem); err != nil && logger != nil {
		logger.Error("encode problem body", zap.Error(err))
	}
}

// DecodeBody parses the request body into target, enforcing valid JSON.
func DecodeBody(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	return decoder.Decode(target)
}
