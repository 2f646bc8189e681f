package service

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	audit "github.com/clasora/uiconfig-service/domains/publishaudit/be/service"
	"github.com/clasora/uiconfig-service/platform/go/persistence"
	"github.com/clasora/uiconfig-service/platform/go/requesttrace"
)

// Simulation outcomes reported to the caller. The endpoint answers 200 for
// all of them; status is part of the body, not the HTTP layer.
const (
	SimulationDelivered      = "delivered"
	SimulationPartialFail    = "partial_fail"
	SimulationFailed         = "failed"
	SimulationNoAlerts       = "no_alerts"
	SimulationBlockedSecrets = "blocked_missing_secrets"
	SimulationRateLimited    = "rate_limited"
)

// SimulateRequest triggers one threshold evaluation and delivery pass.
// SampleMetrics, when set, replaces the stored window rollup so operators can
// dry-run the threshold table against hypothetical numbers. A caller-supplied
// CorrelationID threads an external trace through the delivery trail.
type SimulateRequest struct {
	Tuple         persistence.ScopeTuple
	Window        string
	Channels      []string
	CorrelationID string
	SampleMetrics *audit.Metrics
}

// SimulateResult reports what the simulation did. RetryAfterSeconds is set on
// rate-limited runs; the caller waits that long before retrying.
type SimulateResult struct {
	Status            string          `json:"status"`
	CorrelationID     string          `json:"correlationId"`
	Window            string          `json:"window"`
	Alerts            []Alert         `json:"alerts,omitempty"`
	MissingKeys       []string        `json:"missingKeys,omitempty"`
	RetryAfterSeconds int64           `json:"retryAfterSeconds,omitempty"`
	Delivery          *DeliveryReport `json:"delivery,omitempty"`
}

// Service drives threshold evaluation and alert delivery.
type Service interface {
	Simulate(ctx context.Context, request SimulateRequest) (SimulateResult, error)
	SecretPresence(ctx context.Context) map[string]SecretStatus
	DeliveryAttempts(ctx context.Context, query persistence.DeliveryQuery) ([]persistence.DeliveryAttempt, error)
	Thresholds() []Threshold
}

// DeliveryLister is the read side of the delivery store.
type DeliveryLister interface {
	DeliveryRecorder
	List(ctx context.Context, query persistence.DeliveryQuery) ([]persistence.DeliveryAttempt, error)
}

type service struct {
	logger     *zap.Logger
	telemetry  audit.Service
	secrets    ChannelSecrets
	thresholds []Threshold
	dispatcher *Dispatcher
	store      DeliveryLister
	limiter    *RateLimiter
	transports map[string]Transport
	now        func() time.Time
}

// New builds the alerting service with the real channel transports.
func New(logger *zap.Logger, telemetry audit.Service, store DeliveryLister, secrets ChannelSecrets) Service {
	return newService(logger, telemetry, store, secrets, map[string]Transport{
		ChannelSMTP:      NewSMTPTransport(secrets),
		ChannelSlack:     NewSlackTransport(secrets),
		ChannelPagerDuty: NewPagerDutyTransport(secrets),
	})
}

func newService(logger *zap.Logger, telemetry audit.Service, store DeliveryLister, secrets ChannelSecrets, transports map[string]Transport) *service {
	return &service{
		logger:     logger,
		telemetry:  telemetry,
		secrets:    secrets,
		thresholds: DefaultThresholds(),
		dispatcher: NewDispatcher(logger, store),
		store:      store,
		limiter:    NewRateLimiter(),
		transports: transports,
		now:        time.Now,
	}
}

// Simulate evaluates the tuple's current window metrics and, when thresholds
// trip, fans the alerts out to the requested channels. The whole pipeline is
// audited: blocked and rate-limited runs still leave a trace.
func (s *service) Simulate(ctx context.Context, request SimulateRequest) (SimulateResult, error) {
	actor := requesttrace.FromContextOrAnonymous(ctx)
	correlationID := request.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	window := request.Window
	if window == "" {
		window = audit.WindowHour
	}
	channels := request.Channels
	if len(channels) == 0 {
		channels = AllChannels
	}

	result := SimulateResult{CorrelationID: correlationID, Window: window}

	// Only the automated path is throttled; operators debug interactively.
	if actor.Kind == requesttrace.ActorKindAutomation {
		allowed, retryAfter := s.limiter.Allow(actor.ActorID)
		if !allowed {
			s.logger.Warn("alert simulation rate limited",
				zap.String("actor", actor.ActorID),
				zap.String("correlationId", correlationID),
				zap.Duration("retryAfter", retryAfter))
			result.Status = SimulationRateLimited
			result.RetryAfterSeconds = int64(math.Ceil(retryAfter.Seconds()))
			if result.RetryAfterSeconds < 1 {
				result.RetryAfterSeconds = 1
			}
			return result, nil
		}
	}

	windowMetrics := audit.Metrics{}
	if request.SampleMetrics != nil {
		windowMetrics = *request.SampleMetrics
	} else {
		rollup, err := s.telemetry.Rollup(ctx, request.Tuple)
		if err != nil {
			return SimulateResult{}, err
		}
		windowMetrics = rollup.Windows[window]
	}
	alerts := Evaluate(windowMetrics, s.thresholds)
	result.Alerts = alerts

	s.logger.Info("simulation triggered",
		zap.String("actor", actor.ActorID),
		zap.String("kind", string(actor.Kind)),
		zap.String("correlationId", correlationID),
		zap.String("window", window),
		zap.Int("alerts", len(alerts)))

	// Secrets gate first, even on a quiet window: a broken environment must
	// surface now, not on the night the thresholds finally trip.
	var missing []string
	for _, channel := range channels {
		missing = append(missing, s.secrets.Missing(channel)...)
	}
	if len(missing) > 0 {
		result.Status = SimulationBlockedSecrets
		result.MissingKeys = missing
		for _, channel := range channels {
			if len(s.secrets.Missing(channel)) == 0 {
				continue
			}
			if err := s.store.Append(ctx, persistence.InsertDeliveryAttemptParams{
				CorrelationID:  correlationID,
				Channel:        channel,
				Attempt:        0,
				DeliveryStatus: DeliveryFail,
				FailureClass:   SimulationBlockedSecrets,
				Message:        "channel secrets not configured",
			}); err != nil {
				s.logger.Error("record blocked delivery", zap.Error(err))
			}
		}
		return result, nil
	}

	if len(alerts) == 0 {
		result.Status = SimulationNoAlerts
		return result, nil
	}

	transports := make([]Transport, 0, len(channels))
	for _, channel := range channels {
		if transport, ok := s.transports[channel]; ok {
			transports = append(transports, transport)
		}
	}

	payload := AlertPayload{
		CorrelationID: correlationID,
		TriggeredBy:   actor.ActorID,
		TriggeredAt:   s.now(),
		Window:        window,
		Alerts:        alerts,
	}
	report := s.dispatcher.Deliver(ctx, payload, transports)
	result.Delivery = &report

	switch report.Status {
	case DeliveryOK:
		result.Status = SimulationDelivered
	case DeliveryPartialFail:
		result.Status = SimulationPartialFail
	default:
		result.Status = SimulationFailed
	}
	return result, nil
}

// SecretPresence reports which channels are deliverable without exposing values.
func (s *service) SecretPresence(context.Context) map[string]SecretStatus {
	return s.secrets.Presence()
}

func (s *service) DeliveryAttempts(ctx context.Context, query persistence.DeliveryQuery) ([]persistence.DeliveryAttempt, error) {
	return s.store.List(ctx, query)
}

func (s *service) Thresholds() []Threshold {
	return s.thresholds
}
