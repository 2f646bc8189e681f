package service

// Channel names accepted by the alerting pipeline.
const (
	ChannelSMTP      = "smtp"
	ChannelSlack     = "slack"
	ChannelPagerDuty = "pagerduty"
)

// AllChannels lists every supported channel in delivery order.
var AllChannels = []string{ChannelSMTP, ChannelSlack, ChannelPagerDuty}

// ChannelSecrets holds the per-channel credentials injected from the
// environment. Values are never logged; only key presence is reported.
type ChannelSecrets struct {
	SMTPHost        string
	SMTPPort        string
	SMTPFrom        string
	SMTPTo          string
	SMTPUser        string
	SMTPPass        string
	SMTPAuthEnabled bool
	SMTPImplicitTLS bool

	SlackWebhookURL string

	PagerDutyRoutingKey string
}

// Missing returns the environment keys still unset for the channel. An empty
// result means the channel is deliverable.
func (s ChannelSecrets) Missing(channel string) []string {
	var missing []string
	switch channel {
	case ChannelSMTP:
		if s.SMTPHost == "" {
			missing = append(missing, "ALERT_SMTP_HOST")
		}
		if s.SMTPPort == "" {
			missing = append(missing, "ALERT_SMTP_PORT")
		}
		if s.SMTPFrom == "" {
			missing = append(missing, "ALERT_SMTP_FROM")
		}
		if s.SMTPTo == "" {
			missing = append(missing, "ALERT_SMTP_TO")
		}
		if s.SMTPAuthEnabled {
			if s.SMTPUser == "" {
				missing = append(missing, "ALERT_SMTP_USER")
			}
			if s.SMTPPass == "" {
				missing = append(missing, "ALERT_SMTP_PASS")
			}
		}
	case ChannelSlack:
		if s.SlackWebhookURL == "" {
			missing = append(missing, "ALERT_SLACK_WEBHOOK_URL")
		}
	case ChannelPagerDuty:
		if s.PagerDutyRoutingKey == "" {
			missing = append(missing, "ALERT_PAGERDUTY_ROUTING_KEY")
		}
	}
	return missing
}

// SecretStatus reports one channel's deliverability without exposing values.
type SecretStatus struct {
	Configured  bool     `json:"configured"`
	MissingKeys []string `json:"missingKeys,omitempty"`
}

// Presence reports, per channel, whether it is fully configured and which
// environment keys are still unset.
func (s ChannelSecrets) Presence() map[string]SecretStatus {
	presence := make(map[string]SecretStatus, len(AllChannels))
	for _, channel := range AllChannels {
		missing := s.Missing(channel)
		presence[channel] = SecretStatus{Configured: len(missing) == 0, MissingKeys: missing}
	}
	return presence
}
