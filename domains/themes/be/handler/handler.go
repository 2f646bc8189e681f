// Package handler exposes theme management and resolution over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clasora/uiconfig-service/domains/themes/be/service"
	"github.com/clasora/uiconfig-service/platform/go/httpapi"
	"github.com/clasora/uiconfig-service/platform/go/logging"
)

// Handler routes theme requests to the service layer.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("themes service is required")
	}
	if logger == nil {
		panic("logger is required")
	}

	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the theme endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/effective", h.resolve)
	r.Get("/{themeID}", h.get)
	r.Post("/assignments", h.assign)
	return r
}

type createBody struct {
	Name     string          `json:"name"`
	Tokens   json.RawMessage `json:"tokens"`
	IsActive bool            `json:"isActive"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var body createBody
	if err := httpapi.DecodeBody(r, &body); err != nil {
		h.writeValidation(w, "request body must be valid JSON")
		return
	}

	record, err := h.svc.Create(r.Context(), service.CreateThemeRequest{
		Name:     body.Name,
		Tokens:   body.Tokens,
		IsActive: body.IsActive,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, h.logger, http.StatusCreated, record)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, h.logger, http.StatusOK, map[string]any{"items": records})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "themeID"))
	if err != nil {
		h.writeValidation(w, "themeID must be a UUID")
		return
	}

	record, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, h.logger, http.StatusOK, record)
}

type assignBody struct {
	ThemeID uuid.UUID `json:"themeId"`
	Scope   string    `json:"scope"`
	ScopeID *string   `json:"scopeId,omitempty"`
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	var body assignBody
	if err := httpapi.DecodeBody(r, &body); err != nil {
		h.writeValidation(w, "request body must be valid JSON")
		return
	}

	assignment, err := h.svc.Assign(r.Context(), service.AssignRequest{
		ThemeID: body.ThemeID,
		Scope:   body.Scope,
		ScopeID: body.ScopeID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, h.logger, http.StatusCreated, assignment)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	var tenantID *string
	if tenant := r.URL.Query().Get("tenantId"); tenant != "" {
		tenantID = &tenant
	}

	effective, err := h.svc.Resolve(r.Context(), tenantID, r.URL.Query().Get("mode"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, h.logger, http.StatusOK, effective)
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
	var validation *service.TokenValidationError
	if errors.As(err, &validation) {
		h.writeValidation(w, validation.Detail)
		return
	}

	var subset *service.SubsetError
	if errors.As(err, &subset) {
		httpapi.WriteProblem(w, h.logger, httpapi.ProblemDetails{
			Type:   httpapi.ProblemTypeValidation,
			Title:  "Override exceeds global theme",
			Detail: subset.Error(),
			Status: http.StatusUnprocessableEntity,
		})
		return
	}

	if errors.Is(err, service.ErrThemeNotFound) {
		httpapi.WriteProblem(w, h.logger, httpapi.ProblemDetails{
			Type:   httpapi.ProblemTypeNotFound,
			Title:  "Not found",
			Detail: "theme not found",
			Status: http.StatusNotFound,
		})
		return
	}

	if errors.Is(err, service.ErrNameTaken) {
		httpapi.WriteProblem(w, h.logger, httpapi.ProblemDetails{
			Type:   httpapi.ProblemTypeConflict,
			Title:  "Conflict",
			Detail: "a theme with this name already exists",
			Status: http.StatusConflict,
		})
		return
	}

	logging.FromRequest(r, h.logger).Error("themes handler", zap.Error(err))
	httpapi.WriteProblem(w, h.logger, httpapi.ProblemDetails{
		Type:   httpapi.ProblemTypeInternal,
		Title:  "Internal error",
		Detail: "unexpected error",
		Status: http.StatusInternalServerError,
	})
}
