package requesttrace

import "context"

type contextKey string

const ctxActorInfo contextKey = "UICONFIG_REQUEST_TRACE"

// ActorKind represents who initiated a request.
type ActorKind string

const (
	ActorKindOperator   ActorKind = "operator"
	ActorKindAutomation ActorKind = "automation"
	ActorKindAnonymous  ActorKind = "anonymous"
)

// ActorInfo captures request-scoped identity needed for publish auditing.
// The upstream gateway authenticates callers; this service only carries the
// identity it forwards. Email is optional but recorded on audit entries when set.
type ActorInfo struct {
	Kind      ActorKind
	ActorID   string
	Email     string
	RequestID string
}

// IntoContext stores the ActorInfo in the provided context.
func IntoContext(ctx context.Context, actor ActorInfo) context.Context {
	return context.WithValue(ctx, ctxActorInfo, actor)
}

// FromContext extracts the ActorInfo from context, returning false when not present.
func FromContext(ctx context.Context) (ActorInfo, bool) {
	if ctx == nil {
		return ActorInfo{}, false
	}
	v := ctx.Value(ctxActorInfo)
	if v == nil {
		return ActorInfo{}, false
	}

	actor, ok := v.(ActorInfo)
	return actor, ok
}

// FromContextOrAnonymous returns the ActorInfo stored on the context, or an anonymous record when absent.
func FromContextOrAnonymous(ctx context.Context) ActorInfo {
	if actor, ok := FromContext(ctx); ok {
		return actor
	}
	return Anonymous("")
}

// Anonymous builds an ActorInfo for unattributed requests.
func Anonymous(requestID string) ActorInfo {
	return ActorInfo{Kind: ActorKindAnonymous, ActorID: "anonymous", RequestID: requestID}
}

// Automation builds an ActorInfo for the automated ops path (scheduled alert evaluation).
func Automation(requestID string) ActorInfo {
	return ActorInfo{Kind: ActorKindAutomation, ActorID: "ops-automation", RequestID: requestID}
}
