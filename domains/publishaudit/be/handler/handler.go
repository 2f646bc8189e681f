// Package handler exposes publish telemetry over HTTP.
package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clasora/uiconfig-service/domains/publishaudit/be/service"
	"github.com/clasora/uiconfig-service/platform/go/httpapi"
	"github.com/clasora/uiconfig-service/platform/go/logging"
	"github.com/clasora/uiconfig-service/platform/go/persistence"
)

// Handler routes telemetry requests to the service layer.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("publishaudit service is required")
	}
	if logger == nil {
		panic("logger is required")
	}

	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the telemetry endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/attempts", h.attempts)
	r.Get("/metrics", h.rollup)
	r.Get("/trend", h.trend)
	return r
}

func tupleFromRequest(r *http.Request) persistence.ScopeTuple {
	tuple := persistence.ScopeTuple{
		ConfigType: r.URL.Query().Get("configType"),
		Segment:    r.URL.Query().Get("segment"),
		Scope:      r.URL.Query().Get("scope"),
	}
	if scopeID := r.URL.Query().Get("scopeId"); scopeID != "" {
		tuple.ScopeID = &scopeID
	}
	return tuple
}

func (h *Handler) attempts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpapi.WriteProblem(w, h.logger, httpapi.ProblemDetails{
				Type:   httpapi.ProblemTypeValidation,
				Title:  "Validation error",
				Detail: "limit must be an integer",
				Status: http.StatusBadRequest,
			})
			return
		}
		limit = parsed
	}

	entries, err := h.svc.Attempts(r.Context(), tupleFromRequest(r), limit)
	if err != nil {
		h.writeInternal(w, r, err)
		return
	}
	httpapi.WriteJSON(w, h.logger, http.StatusOK, map[string]any{"items": entries})
}

func (h *Handler) rollup(w http.ResponseWriter, r *http.Request) {
	rollup, err := h.svc.Rollup(r.Context(), tupleFromRequest(r))
	if err != nil {
		h.writeInternal(w, r, err)
		return
	}
	httpapi.WriteJSON(w, h.logger, http.StatusOK, rollup)
}

func (h *Handler) trend(w http.ResponseWriter, r *http.Request) {
	buckets, err := h.svc.Trend(r.Context(), tupleFromRequest(r))
	if err != nil {
		h.writeInternal(w, r, err)
		return
	}
	httpapi.WriteJSON(w, h.logger, http.StatusOK, map[string]any{"buckets": buckets})
}

func (h *Handler) writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	logging.FromRequest(r, h.logger).Error("publishaudit handler", zap.Error(err))
	httpapi.WriteProblem(w, h.logger, httpapi.ProblemDetails{
		Type:   httpapi.ProblemTypeInternal,
		Title:  "Internal error",
		Detail: "unexpected error",
		Status: http.StatusInternalServerError,
	})
}
