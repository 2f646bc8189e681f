package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const pagerDutyEventsURL = "https://events.pagerduty.com/v2/enqueue"

// SlackTransport posts alerts to an incoming-webhook URL.
type SlackTransport struct {
	secrets ChannelSecrets
	client  *http.Client
}

// NewSlackTransport builds the Slack transport from channel secrets.
func NewSlackTransport(secrets ChannelSecrets) *SlackTransport {
	return &SlackTransport{
		secrets: secrets,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *SlackTransport) Name() string { return ChannelSlack }

func (t *SlackTransport) Send(ctx context.Context, payload AlertPayload) error {
	blocks := make([]map[string]any, 0, len(payload.Alerts)+1)
	blocks = append(blocks, map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Publish SLO alerts* (%s window, correlation `%s`)", payload.Window, payload.CorrelationID),
		},
	})
	for _, alert := range payload.Alerts {
		blocks = append(blocks, map[string]any{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": fmt.Sprintf("`%s` %s", alert.Severity, alert.Summary),
			},
		})
	}

	return postJSON(ctx, t.client, t.secrets.SlackWebhookURL, map[string]any{"blocks": blocks})
}

// PagerDutyTransport enqueues alerts through the Events API v2.
type PagerDutyTransport struct {
	secrets  ChannelSecrets
	client   *http.Client
	eventURL string
}

// NewPagerDutyTransport builds the PagerDuty transport from channel secrets.
func NewPagerDutyTransport(secrets ChannelSecrets) *PagerDutyTransport {
	return &PagerDutyTransport{
		secrets:  secrets,
		client:   &http.Client{Timeout: 10 * time.Second},
		eventURL: pagerDutyEventsURL,
	}
}

func (t *PagerDutyTransport) Name() string { return ChannelPagerDuty }

func (t *PagerDutyTransport) Send(ctx context.Context, payload AlertPayload) error {
	severity := "warning"
	summary := fmt.Sprintf("%d publish SLO alert(s)", len(payload.Alerts))
	for _, alert := range payload.Alerts {
		if alert.Severity == SeverityCritical {
			severity = "critical"
			summary = alert.Summary
			break
		}
	}

	event := map[string]any{
		"routing_key":  t.secrets.PagerDutyRoutingKey,
		"event_action": "trigger",
		"dedup_key":    payload.CorrelationID,
		"payload": map[string]any{
			"summary":   summary,
			"source":    "uiconfig-service",
			"severity":  severity,
			"timestamp": payload.TriggeredAt.UTC().Format(time.RFC3339),
			"custom_details": map[string]any{
				"window": payload.Window,
				"alerts": payload.Alerts,
			},
		},
	}

	return postJSON(ctx, t.client, t.eventURL, event)
}

func postJSON(ctx context.Context, client *http.Client, url string, body any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode alert payload: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return nil
	}
	return &ProviderError{
		StatusCode: response.StatusCode,
		Err:        fmt.Errorf("alert delivery rejected"),
	}
}
