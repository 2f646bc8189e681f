package service

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// SMTPTransport delivers alerts as plain-text email. Port 465 style implicit
// TLS and STARTTLS upgrades are both supported; auth is optional for relays
// inside the private network.
type SMTPTransport struct {
	secrets ChannelSecrets
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewSMTPTransport builds the SMTP transport from channel secrets.
func NewSMTPTransport(secrets ChannelSecrets) *SMTPTransport {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	return &SMTPTransport{secrets: secrets, dial: dialer.DialContext}
}

func (t *SMTPTransport) Name() string { return ChannelSMTP }

func (t *SMTPTransport) Send(ctx context.Context, payload AlertPayload) error {
	addr := net.JoinHostPort(t.secrets.SMTPHost, t.secrets.SMTPPort)

	conn, err := t.dial(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp relay: %w", err)
	}

	if t.secrets.SMTPImplicitTLS {
		conn = tls.Client(conn, &tls.Config{ServerName: t.secrets.SMTPHost})
	}

	client, err := smtp.NewClient(conn, t.secrets.SMTPHost)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if !t.secrets.SMTPImplicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: t.secrets.SMTPHost}); err != nil {
				return fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}

	if t.secrets.SMTPAuthEnabled {
		auth := smtp.PlainAuth("", t.secrets.SMTPUser, t.secrets.SMTPPass, t.secrets.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(t.secrets.SMTPFrom); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	recipients := strings.Split(t.secrets.SMTPTo, ",")
	for _, recipient := range recipients {
		if err := client.Rcpt(strings.TrimSpace(recipient)); err != nil {
			return fmt.Errorf("smtp rcpt to: %w", err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := writer.Write([]byte(t.message(payload))); err != nil {
		writer.Close()
		return fmt.Errorf("smtp write body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("smtp close body: %w", err)
	}

	return client.Quit()
}

func (t *SMTPTransport) message(payload AlertPayload) string {
	var body strings.Builder
	subject := fmt.Sprintf("[uiconfig] %d publish SLO alert(s)", len(payload.Alerts))

	fmt.Fprintf(&body, "From: %s\r\n", t.secrets.SMTPFrom)
	fmt.Fprintf(&body, "To: %s\r\n", t.secrets.SMTPTo)
	fmt.Fprintf(&body, "Subject: %s\r\n", subject)
	body.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")

	fmt.Fprintf(&body, "Correlation: %s\r\n", payload.CorrelationID)
	fmt.Fprintf(&body, "Triggered by: %s at %s\r\n", payload.TriggeredBy, payload.TriggeredAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&body, "Window: %s\r\n\r\n", payload.Window)
	for _, alert := range payload.Alerts {
		fmt.Fprintf(&body, "[%s] %s\r\n", strings.ToUpper(string(alert.Severity)), alert.Summary)
	}
	return body.String()
}
