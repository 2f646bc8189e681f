package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/clasora/uiconfig-service/platform/go/requesttrace"
)

// RequestTrace resolves the acting identity from gateway-forwarded headers and
// stores it on the context so services can stamp audit entries.
// X-Actor-Id and X-Actor-Email are set by the upstream auth gateway;
// X-Actor-Kind distinguishes the automated ops path from interactive operators.
func RequestTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())

		actorID := strings.TrimSpace(r.Header.Get("X-Actor-Id"))
		if actorID == "" {
			next.ServeHTTP(w, r.WithContext(requesttrace.IntoContext(r.Context(), requesttrace.Anonymous(requestID))))
			return
		}

		kind := requesttrace.ActorKindOperator
		if strings.EqualFold(r.Header.Get("X-Actor-Kind"), "automation") {
			kind = requesttrace.ActorKindAutomation
		}

		actor := requesttrace.ActorInfo{
			Kind:      kind,
			ActorID:   actorID,
			Email:     strings.TrimSpace(r.Header.Get("X-Actor-Email")),
			RequestID: requestID,
		}

		next.ServeHTTP(w, r.WithContext(requesttrace.IntoContext(r.Context(), actor)))
	})
}
