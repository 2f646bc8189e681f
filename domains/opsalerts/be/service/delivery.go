package service

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clasora/uiconfig-service/platform/go/metrics"
	"github.com/clasora/uiconfig-service/platform/go/persistence"
)

// retrySchedule is the fixed per-channel backoff: an immediate attempt, then
// two retries. No jitter; the schedule is short enough that thundering-herd
// concerns do not apply to a handful of channels.
var retrySchedule = []time.Duration{0, 700 * time.Millisecond, 1600 * time.Millisecond}

// Delivery outcomes for the whole fan-out and for single channels.
const (
	DeliveryOK          = "ok"
	DeliveryFail        = "fail"
	DeliveryPartialFail = "partial_fail"
)

// Failure classes recorded on exhausted channels.
const (
	FailureWebhookTargetInvalid = "webhook_target_invalid"
	FailureProviderRateLimited  = "provider_rate_limited"
	FailureAuthError            = "auth_error"
	FailureTLSError             = "tls_error"
	FailureNetworkTimeout       = "network_timeout"
	FailureDNSResolution        = "dns_resolution_failed"
	FailureChannelError         = "channel_error"
)

// AlertPayload is the notification content handed to every transport.
type AlertPayload struct {
	CorrelationID string    `json:"correlationId"`
	TriggeredBy   string    `json:"triggeredBy"`
	TriggeredAt   time.Time `json:"triggeredAt"`
	Window        string    `json:"window"`
	Alerts        []Alert   `json:"alerts"`
}

// ProviderError lets transports attach the provider's HTTP status so failures
// classify precisely. Transports wrap low-level errors without a status as-is.
type ProviderError struct {
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider returned %d: %v", e.StatusCode, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transport delivers one alert payload over a single channel.
type Transport interface {
	Name() string
	Send(ctx context.Context, payload AlertPayload) error
}

// ChannelResult is the terminal outcome of one channel's retry loop.
type ChannelResult struct {
	Channel      string `json:"channel"`
	Status       string `json:"status"`
	Attempts     int    `json:"attempts"`
	FailureClass string `json:"failureClass,omitempty"`
	Message      string `json:"message,omitempty"`
}

// DeliveryReport aggregates all channel outcomes for one simulation.
type DeliveryReport struct {
	Status   string          `json:"status"`
	Channels []ChannelResult `json:"channels"`
}

// DeliveryRecorder is the slice of the delivery store the dispatcher needs.
type DeliveryRecorder interface {
	Append(ctx context.Context, params persistence.InsertDeliveryAttemptParams) error
}

// Dispatcher fans one payload out to every requested transport concurrently,
// retrying each channel independently on the fixed schedule.
type Dispatcher struct {
	logger   *zap.Logger
	recorder DeliveryRecorder
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(logger *zap.Logger, recorder DeliveryRecorder) *Dispatcher {
	return &Dispatcher{
		logger:   logger,
		recorder: recorder,
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Deliver runs all transports concurrently and blocks until every channel
// reaches a terminal state. Channel order in the report follows the input.
func (d *Dispatcher) Deliver(ctx context.Context, payload AlertPayload, transports []Transport) DeliveryReport {
	results := make([]ChannelResult, len(transports))

	var wg sync.WaitGroup
	for i, transport := range transports {
		wg.Add(1)
		go func(index int, transport Transport) {
			defer wg.Done()
			results[index] = d.deliverChannel(ctx, payload, transport)
		}(i, transport)
	}
	wg.Wait()

	report := DeliveryReport{Channels: results}
	failures := 0
	for _, result := range results {
		if result.Status != DeliveryOK {
			failures++
		}
	}
	switch {
	case failures == 0:
		report.Status = DeliveryOK
	case failures == len(results):
		report.Status = DeliveryFail
	default:
		report.Status = DeliveryPartialFail
	}
	return report
}

func (d *Dispatcher) deliverChannel(ctx context.Context, payload AlertPayload, transport Transport) ChannelResult {
	channel := transport.Name()
	var lastErr error

	for attempt, backoff := range retrySchedule {
		if err := d.sleep(ctx, backoff); err != nil {
			lastErr = err
			break
		}

		err := transport.Send(ctx, payload)
		d.recordAttempt(ctx, payload.CorrelationID, channel, attempt+1, backoff, err)

		if err == nil {
			metrics.AlertDeliveries.WithLabelValues(channel, DeliveryOK).Inc()
			return ChannelResult{Channel: channel, Status: DeliveryOK, Attempts: attempt + 1}
		}
		lastErr = err

		// Non-transient failures never succeed on retry.
		switch classifyFailure(err) {
		case FailureWebhookTargetInvalid, FailureAuthError:
			metrics.AlertDeliveries.WithLabelValues(channel, DeliveryFail).Inc()
			return ChannelResult{
				Channel:      channel,
				Status:       DeliveryFail,
				Attempts:     attempt + 1,
				FailureClass: classifyFailure(err),
				Message:      err.Error(),
			}
		}
	}

	metrics.AlertDeliveries.WithLabelValues(channel, DeliveryFail).Inc()
	result := ChannelResult{
		Channel:  channel,
		Status:   DeliveryFail,
		Attempts: len(retrySchedule),
	}
	if lastErr != nil {
		result.FailureClass = classifyFailure(lastErr)
		result.Message = lastErr.Error()
	}
	return result
}

func (d *Dispatcher) recordAttempt(ctx context.Context, correlationID, channel string, attempt int, backoff time.Duration, sendErr error) {
	params := persistence.InsertDeliveryAttemptParams{
		CorrelationID:  correlationID,
		Channel:        channel,
		Attempt:        attempt,
		BackoffMs:      backoff.Milliseconds(),
		DeliveryStatus: DeliveryOK,
	}
	if sendErr != nil {
		params.DeliveryStatus = DeliveryFail
		params.FailureClass = classifyFailure(sendErr)
		params.Message = sendErr.Error()
		var provider *ProviderError
		if errors.As(sendErr, &provider) {
			params.ProviderStatus = fmt.Sprintf("%d", provider.StatusCode)
		}
	}

	if err := d.recorder.Append(ctx, params); err != nil {
		d.logger.Error("record delivery attempt",
			zap.String("channel", channel),
			zap.String("correlationId", correlationID),
			zap.Error(err))
	}
}

// classifyFailure maps transport errors onto the fixed failure taxonomy the
// ops dashboard filters by.
func classifyFailure(err error) string {
	var provider *ProviderError
	if errors.As(err, &provider) {
		switch {
		case provider.StatusCode == 404 || provider.StatusCode == 410:
			return FailureWebhookTargetInvalid
		case provider.StatusCode == 429:
			return FailureProviderRateLimited
		case provider.StatusCode == 401 || provider.StatusCode == 403:
			return FailureAuthError
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return FailureDNSResolution
	}

	var certErr *tls.CertificateVerificationError
	var unknownAuthority x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	if errors.As(err, &certErr) || errors.As(err, &unknownAuthority) || errors.As(err, &hostnameErr) {
		return FailureTLSError
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureNetworkTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureNetworkTimeout
	}

	return FailureChannelError
}
