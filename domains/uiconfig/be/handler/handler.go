// Package handler exposes the uiconfig service over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clasora/uiconfig-service/domains/uiconfig/be/service"
	"github.com/clasora/uiconfig-service/platform/go/httpapi"
	"github.com/clasora/uiconfig-service/platform/go/logging"
	"github.com/clasora/uiconfig-service/platform/go/persistence"
)

// Handler routes UI configuration requests to the service layer.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("uiconfig service is required")
	}
	if logger == nil {
		panic("logger is required")
	}

	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the configuration endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{configType}", h.getConfiguration)
	r.Get("/{configType}/history", h.getHistory)
	r.Get("/{configType}/diff", h.getDiff)
	r.Put("/{configType}/draft", h.saveDraft)
	r.Post("/{configType}/publish", h.publish)
	r.Post("/{configType}/rollback", h.rollback)
	return r
}

func tupleFromRequest(r *http.Request) persistence.ScopeTuple {
	tuple := persistence.ScopeTuple{
		ConfigType: chi.URLParam(r, "configType"),
		Segment:    r.URL.Query().Get("segment"),
		Scope:      r.URL.Query().Get("scope"),
	}
	if scopeID := r.URL.Query().Get("scopeId"); scopeID != "" {
		tuple.ScopeID = &scopeID
	}
	return tuple
}

func (h *Handler) getConfiguration(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Get(r.Context(), tupleFromRequest(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, h.logger, http.StatusOK, view)
}

func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	params := persistence.HistoryParams{}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			h.writeValidation(w, "limit must be an integer")
			return
		}
		params.Limit = limit
	}
	if status := r.URL.Query().Get("status"); status != "" {
		params.Status = &status
	}

	history, err := h.svc.History(r.Context(), tupleFromRequest(r), params)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, h.logger, http.StatusOK, map[string]any{"items": history})
}

func (h *Handler) getDiff(w http.ResponseWriter, r *http.Request) {
	diff, err := h.svc.DiffStatuses(r.Context(), tupleFromRequest(r),
		r.URL.Query().Get("fromStatus"), r.URL.Query().Get("toStatus"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, h.logger, http.StatusOK, diff)
}

type saveDraftBody struct {
	ConfigData json.RawMessage `json:"configData"`
	Layout     json.RawMessage `json:"layout,omitempty"`
	Widgets    json.RawMessage `json:"widgets,omitempty"`
}

func (h *Handler) saveDraft(w http.ResponseWriter, r *http.Request) {
	var body saveDraftBody
	if err := httpapi.DecodeBody(r, &body); err != nil {
		h.writeValidation(w, "request body must be valid JSON")
		return
	}

	record, err := h.svc.SaveDraft(r.Context(), service.SaveDraftRequest{
		Tuple:      tupleFromRequest(r),
		ConfigData: body.ConfigData,
		Layout:     body.Layout,
		Widgets:    body.Widgets,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, h.logger, http.StatusCreated, record)
}

type publishBody struct {
	ConfigID        *uuid.UUID `json:"configId,omitempty"`
	ExpectedVersion *int       `json:"expectedVersion,omitempty"`
	ExpectedHash    string     `json:"expectedHash,omitempty"`
	OwnerType       string     `json:"ownerType,omitempty"`
	OwnerID         string     `json:"ownerId,omitempty"`
	RetryCount      int        `json:"retryCount,omitempty"`
	Confirm         bool       `json:"confirm"`
}

func (h *Handler) publish(w http.ResponseWriter, r *http.Request) {
	var body publishBody
	if err := httpapi.DecodeBody(r, &body); err != nil {
		h.writeValidation(w, "request body must be valid JSON")
		return
	}

	result, err := h.svc.Publish(r.Context(), service.PublishRequest{
		Tuple:           tupleFromRequest(r),
		ConfigID:        body.ConfigID,
		ExpectedVersion: body.ExpectedVersion,
		ExpectedHash:    body.ExpectedHash,
		OwnerType:       body.OwnerType,
		OwnerID:         body.OwnerID,
		RetryCount:      body.RetryCount,
		Confirm:         body.Confirm,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, h.logger, http.StatusOK, result)
}

type rollbackBody struct {
	ConfigID *uuid.UUID `json:"configId,omitempty"`
	Reason   string     `json:"reason"`
	Confirm  bool       `json:"confirm"`
}

func (h *Handler) rollback(w http.ResponseWriter, r *http.Request) {
	var body rollbackBody
	if err := httpapi.DecodeBody(r, &body); err != nil {
		h.writeValidation(w, "request body must be valid JSON")
		return
	}

	result, err := h.svc.Rollback(r.Context(), service.RollbackRequest{
		Tuple:    tupleFromRequest(r),
		ConfigID: body.ConfigID,
		Reason:   body.Reason,
		Confirm:  body.Confirm,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, h.logger, http.StatusOK, result)
}

func (h *Handler) writeValidation(w http.ResponseWriter, detail string) {
	httpapi.WriteProblem(w, h.logger, httpapi.ProblemDetails{
		Type:   httpapi.ProblemTypeValidation,
		Title:  "Validation error",
		Detail: detail,
		Status: http.StatusBadRequest,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	logger := logging.FromRequest(r, h.logger)

	var validation *service.ValidationError
	if errors.As(err, &validation) {
		fields := map[string]any{}
		for field, messages := range validation.Fields {
			fields[field] = messages
		}
		httpapi.WriteProblem(w, h.logger, httpapi.ProblemDetails{
			Type:   httpapi.ProblemTypeValidation,
			Title:  "Validation error",
			Status: http.StatusBadRequest,
			Fields: fields,
		})
		return
	}

	var guardrail *service.GuardrailError
	if errors.As(err, &guardrail) {
		httpapi.WriteProblem(w, h.logger, httpapi.ProblemDetails{
			Type:   httpapi.ProblemTypeValidation,
			Title:  "Guardrail violation",
			Detail: guardrail.Reason,
			Status: http.StatusUnprocessableEntity,
			Code:   "guardrail_violation",
		})
		return
	}

	var conflict *service.ConflictError
	if errors.As(err, &conflict) {
		problem := httpapi.ProblemDetails{
			Type:   httpapi.ProblemTypeConflict,
			Title:  "Conflict",
			Detail: conflict.Message,
			Status: http.StatusConflict,
			Code:   string(conflict.Code),
			Extra:  conflictExtra(conflict),
		}
		if conflict.Code == service.CodeLocked {
			problem.Type = httpapi.ProblemTypeLocked
			problem.Title = "Publish in progress"
			problem.Status = http.StatusLocked
		}
		httpapi.WriteProblem(w, h.logger, problem)
		return
	}

	if errors.Is(err, service.ErrNotFound) {
		httpapi.WriteProblem(w, h.logger, httpapi.ProblemDetails{
			Type:   httpapi.ProblemTypeNotFound,
			Title:  "Not found",
			Detail: "configuration not found",
			Status: http.StatusNotFound,
		})
		return
	}

	logger.Error("uiconfig handler", zap.Error(err))
	httpapi.WriteProblem(w, h.logger, httpapi.ProblemDetails{
		Type:   httpapi.ProblemTypeInternal,
		Title:  "Internal error",
		Detail: "unexpected error",
		Status: http.StatusInternalServerError,
	})
}

func conflictExtra(conflict *service.ConflictError) map[string]any {
	extra := map[string]any{}
	if conflict.CurrentVersion > 0 {
		extra["currentVersion"] = conflict.CurrentVersion
	}
	if conflict.SubmittedVersion > 0 {
		extra["submittedVersion"] = conflict.SubmittedVersion
	}
	if conflict.NewerDraftVersion > 0 {
		extra["newerDraftVersion"] = conflict.NewerDraftVersion
	}
	if conflict.LastPublishedBy != "" {
		extra["lastPublishedBy"] = conflict.LastPublishedBy
	}
	if conflict.LastPublishedAt != nil {
		extra["lastPublishedAt"] = conflict.LastPublishedAt
	}
	if conflict.Holder != "" {
		extra["holder"] = conflict.Holder
	}
	if conflict.RetryAfterMs > 0 {
		extra["retryAfterMs"] = conflict.RetryAfterMs
	}
	if len(extra) == 0 {
		return nil
	}
	return extra
}
