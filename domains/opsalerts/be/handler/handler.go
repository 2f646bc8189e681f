// Package handler exposes the ops alerting endpoints.
package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clasora/uiconfig-service/domains/opsalerts/be/service"
	audit "github.com/clasora/uiconfig-service/domains/publishaudit/be/service"
	"github.com/clasora/uiconfig-service/platform/go/httpapi"
	"github.com/clasora/uiconfig-service/platform/go/logging"
	"github.com/clasora/uiconfig-service/platform/go/persistence"
)

// Handler routes alerting requests to the service layer.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("opsalerts service is required")
	}
	if logger == nil {
		panic("logger is required")
	}

	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the alerting endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/simulate", h.simulate)
	r.Get("/secrets", h.secretPresence)
	r.Get("/thresholds", h.thresholds)
	r.Get("/deliveries", h.deliveries)
	return r
}

type simulateBody struct {
	ConfigType    string         `json:"configType"`
	Segment       string         `json:"segment"`
	Scope         string         `json:"scope"`
	ScopeID       string         `json:"scopeId,omitempty"`
	Window        string         `json:"window,omitempty"`
	Channels      []string       `json:"channels,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	SampleMetrics *audit.Metrics `json:"sampleMetrics,omitempty"`
}

// simulate always answers 200; the simulation outcome, including blocked and
// rate-limited runs, is carried in the body's status field.
func (h *Handler) simulate(w http.ResponseWriter, r *http.Request) {
	var body simulateBody
	if err := httpapi.DecodeBody(r, &body); err != nil {
		httpapi.WriteProblem(w, h.logger, httpapi.ProblemDetails{
			Type:   httpapi.ProblemTypeValidation,
			Title:  "Validation error",
			Detail: "request body must be valid JSON",
			Status: http.StatusBadRequest,
		})
		return
	}

	for _, channel := range body.Channels {
		if !isKnownChannel(channel) {
			httpapi.WriteProblem(w, h.logger, httpapi.ProblemDetails{
				Type:   httpapi.ProblemTypeValidation,
				Title:  "Validation error",
				Detail: "unknown channel " + channel,
				Status: http.StatusBadRequest,
			})
			return
		}
	}

	tuple := persistence.ScopeTuple{
		ConfigType: body.ConfigType,
		Segment:    body.Segment,
		Scope:      body.Scope,
	}
	if body.ScopeID != "" {
		tuple.ScopeID = &body.ScopeID
	}

	result, err := h.svc.Simulate(r.Context(), service.SimulateRequest{
		Tuple:         tuple,
		Window:        body.Window,
		Channels:      body.Channels,
		CorrelationID: body.CorrelationID,
		SampleMetrics: body.SampleMetrics,
	})
	if err != nil {
		h.writeInternal(w, r, err)
		return
	}
	httpapi.WriteJSON(w, h.logger, http.StatusOK, result)
}

func isKnownChannel(channel string) bool {
	for _, known := range service.AllChannels {
		if channel == known {
			return true
		}
	}
	return false
}

func (h *Handler) secretPresence(w http.ResponseWriter, r *http.Request) {
	httpapi.WriteJSON(w, h.logger, http.StatusOK, map[string]any{
		"channels": h.svc.SecretPresence(r.Context()),
	})
}

func (h *Handler) thresholds(w http.ResponseWriter, r *http.Request) {
	httpapi.WriteJSON(w, h.logger, http.StatusOK, map[string]any{
		"thresholds": h.svc.Thresholds(),
	})
}

func (h *Handler) deliveries(w http.ResponseWriter, r *http.Request) {
	query := persistence.DeliveryQuery{
		CorrelationID: r.URL.Query().Get("correlationId"),
	}
	if channels := r.URL.Query().Get("channels"); channels != "" {
		query.Channels = strings.Split(channels, ",")
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			httpapi.WriteProblem(w, h.logger, httpapi.ProblemDetails{
				Type:   httpapi.ProblemTypeValidation,
				Title:  "Validation error",
				Detail: "limit must be an integer",
				Status: http.StatusBadRequest,
			})
			return
		}
		query.Limit = limit
	}

	attempts, err := h.svc.DeliveryAttempts(r.Context(), query)
	if err != nil {
		h.writeInternal(w, r, err)
		return
	}
	httpapi.WriteJSON(w, h.logger, http.StatusOK, map[string]any{"items": attempts})
}

func (h *Handler) writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	logging.FromRequest(r, h.logger).Error("opsalerts handler", zap.Error(err))
	httpapi.WriteProblem(w, h.logger, httpapi.ProblemDetails{
		Type:   httpapi.ProblemTypeInternal,
		Title:  "Internal error",
		Detail: "unexpected error",
		Status: http.StatusInternalServerError,
	})
}
