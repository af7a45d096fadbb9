package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"time"

	"go.uber.org/zap"

	"vigil/core"
)

// Mailer delivers a single email. Implementations must be safe for
// concurrent use.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Config holds notification channel settings
type Config struct {
	Enabled     bool     `json:"enabled" mapstructure:"enabled"`
	MinSeverity string   `json:"min_severity" mapstructure:"min_severity"`
	Recipients  []string `json:"recipients" mapstructure:"recipients"`

	SMTPHost     string `json:"smtp_host" mapstructure:"smtp_host"`
	SMTPPort     int    `json:"smtp_port" mapstructure:"smtp_port"`
	SMTPUsername string `json:"smtp_username" mapstructure:"smtp_username"`
	SMTPPassword string `json:"-" mapstructure:"smtp_password"`
	FromAddress  string `json:"from_address" mapstructure:"from_address"`

	WebhookURL string `json:"webhook_url" mapstructure:"webhook_url"`
}

// SMTPMailer sends mail through a plain SMTP relay
type SMTPMailer struct {
	cfg Config
}

// NewSMTPMailer creates a mailer from channel config
func NewSMTPMailer(cfg Config) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) Send(_ context.Context, to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", m.cfg.SMTPHost, m.cfg.SMTPPort)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		m.cfg.FromAddress, to, subject, body)

	var auth smtp.Auth
	if m.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", m.cfg.SMTPUsername, m.cfg.SMTPPassword, m.cfg.SMTPHost)
	}
	if err := smtp.SendMail(addr, auth, m.cfg.FromAddress, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", to, err)
	}
	return nil
}

// DeliveryResult records the outcome for one recipient
type DeliveryResult struct {
	Recipient string `json:"recipient"`
	Sent      bool   `json:"sent"`
	Error     string `json:"error,omitempty"`
}

// Notifier fans incident and response notifications out to email
// recipients and an optional webhook. A failure for one recipient never
// aborts delivery to the rest.
type Notifier struct {
	cfg    Config
	mailer Mailer
	client *http.Client
	logger *zap.SugaredLogger
}

// NewNotifier creates a notifier. A nil mailer disables email delivery.
func NewNotifier(cfg Config, mailer Mailer, logger *zap.SugaredLogger) *Notifier {
	return &Notifier{
		cfg:    cfg,
		mailer: mailer,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// severityPasses applies the channel's minimum severity filter
func (n *Notifier) severityPasses(severity core.Severity) bool {
	if n.cfg.MinSeverity == "" {
		return true
	}
	minimum := core.Severity(n.cfg.MinSeverity)
	if !minimum.IsValid() {
		return true
	}
	return severity.AtLeast(minimum)
}

// NotifyIncident sends a triage notification for categories that require
// one. It is best effort: errors are logged and folded into the results,
// never returned.
func (n *Notifier) NotifyIncident(ctx context.Context, incident *core.TriagedIncident) []DeliveryResult {
	if !n.cfg.Enabled || !incident.Category.RequiresNotification() {
		return nil
	}
	if !n.severityPasses(incident.EventSnapshot.Severity) {
		return nil
	}

	subject := fmt.Sprintf("[%s] Security incident: %s",
		incident.Category, incident.EventSnapshot.EventType)
	body := fmt.Sprintf("Incident %s\nSeverity: %s\nCategory: %s\nReasoning: %s\nRespond by: %s\n",
		incident.ID, incident.EventSnapshot.Severity, incident.Category,
		incident.Reasoning, incident.SLADeadline.Format(time.RFC3339))

	results := n.SendEmails(ctx, n.cfg.Recipients, subject, body)
	n.postWebhook(ctx, map[string]interface{}{
		"incident_id": incident.ID,
		"category":    incident.Category,
		"severity":    incident.EventSnapshot.Severity,
		"event_type":  incident.EventSnapshot.EventType,
	})
	return results
}

// SendEmails delivers to each recipient independently and reports
// per-recipient outcomes.
func (n *Notifier) SendEmails(ctx context.Context, recipients []string, subject, body string) []DeliveryResult {
	if n.mailer == nil || len(recipients) == 0 {
		return nil
	}
	results := make([]DeliveryResult, 0, len(recipients))
	for _, recipient := range recipients {
		result := DeliveryResult{Recipient: recipient, Sent: true}
		if err := n.mailer.Send(ctx, recipient, subject, body); err != nil {
			result.Sent = false
			result.Error = err.Error()
			n.logger.Warnw("Email delivery failed", "recipient", recipient, "error", err)
		}
		results = append(results, result)
	}
	return results
}

func (n *Notifier) postWebhook(ctx context.Context, payload map[string]interface{}) {
	if n.cfg.WebhookURL == "" {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(raw))
	if err != nil {
		n.logger.Warnw("Webhook request build failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warnw("Webhook delivery failed", "url", n.cfg.WebhookURL, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.logger.Warnw("Webhook returned non-success status", "status", resp.StatusCode)
	}
}
