package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/gridshield/backend/internal/config"
	"github.com/gridshield/backend/internal/pipeline"
)

// EmailSender delivers an alert to one mailbox.
type EmailSender interface {
	Send(ctx context.Context, to string, alert Alert) error
	Enabled() bool
}

// ChatSender posts an alert to the team chat.
type ChatSender interface {
	Send(ctx context.Context, alert Alert) error
	Enabled() bool
}

// WebhookSender pushes an alert to external HTTP endpoints.
type WebhookSender interface {
	Send(ctx context.Context, alert Alert) error
	Enabled() bool
}

// ============================================================================
// Email
// ============================================================================

// EmailSink sends alerts over SMTP with STARTTLS when the server offers it.
type EmailSink struct {
	cfg config.EmailConfig
	log *slog.Logger
}

func NewEmailSink(cfg config.EmailConfig, log *slog.Logger) *EmailSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &EmailSink{cfg: cfg, log: log}
}

func (s *EmailSink) Enabled() bool { return s.cfg.Enabled }

func (s *EmailSink) Send(ctx context.Context, to string, alert Alert) error {
	addr := net.JoinHostPort(s.cfg.SMTPHost, fmt.Sprintf("%d", s.cfg.SMTPPort))

	deadline := time.Now().Add(s.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	conn, err := net.DialTimeout("tcp", addr, time.Until(deadline))
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	_ = conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, s.cfg.SMTPHost)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(nil); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if s.cfg.SMTPUser != "" {
		auth := smtp.PlainAuth("", s.cfg.SMTPUser, s.cfg.SMTPPass, s.cfg.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(s.cfg.From); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(emailBody(s.cfg.From, to, alert)); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	s.log.Info("alert email sent", "to", to, "alert_id", alert.ID)
	return client.Quit()
}

func emailBody(from, to string, alert Alert) []byte {
	subject := fmt.Sprintf("[GRIDSHIELD] %s: %s", strings.ToUpper(string(alert.Severity)), alert.Title)

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&b, "GridShield Security Alert\r\n\r\n")
	fmt.Fprintf(&b, "Title: %s\r\n", alert.Title)
	fmt.Fprintf(&b, "Severity: %s\r\n", alert.Severity)
	fmt.Fprintf(&b, "Source: %s\r\n", alert.Source)
	fmt.Fprintf(&b, "Time: %s\r\n\r\n", alert.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "%s\r\n", alert.Message)
	return []byte(b.String())
}

// ============================================================================
// Chat
// ============================================================================

var chatColors = map[pipeline.Severity]string{
	pipeline.SeverityLow:      "#36a64f",
	pipeline.SeverityMedium:   "#ffaa00",
	pipeline.SeverityHigh:     "#ff0000",
	pipeline.SeverityCritical: "#8b0000",
}

// ChatSink posts Slack-compatible webhook payloads.
type ChatSink struct {
	cfg    config.ChatConfig
	client *http.Client
	log    *slog.Logger
}

func NewChatSink(cfg config.ChatConfig, log *slog.Logger) *ChatSink {
	return &ChatSink{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

func (s *ChatSink) Enabled() bool { return s.cfg.Enabled && s.cfg.WebhookURL != "" }

func (s *ChatSink) Send(ctx context.Context, alert Alert) error {
	payload := map[string]interface{}{
		"channel":  s.cfg.Channel,
		"username": s.cfg.Username,
		"text":     fmt.Sprintf("*%s*\n%s", alert.Title, alert.Message),
		"attachments": []map[string]interface{}{{
			"color": chatColors[alert.Severity],
			"fields": []map[string]interface{}{
				{"title": "Severity", "value": string(alert.Severity), "short": true},
				{"title": "Source", "value": alert.Source, "short": true},
				{"title": "Time", "value": alert.CreatedAt.Format(time.RFC3339), "short": false},
			},
		}},
	}

	if err := postJSON(ctx, s.client, s.cfg.WebhookURL, payload); err != nil {
		return fmt.Errorf("chat webhook: %w", err)
	}
	s.log.Info("chat notification sent", "channel", s.cfg.Channel, "alert_id", alert.ID)
	return nil
}

// ============================================================================
// Webhook
// ============================================================================

// WebhookSink fans an alert out to every configured URL; delivery succeeds
// when at least one endpoint accepts it.
type WebhookSink struct {
	cfg    config.WebhookConfig
	client *http.Client
	log    *slog.Logger
}

func NewWebhookSink(cfg config.WebhookConfig, log *slog.Logger) *WebhookSink {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSink{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

func (s *WebhookSink) Enabled() bool { return s.cfg.Enabled && len(s.cfg.URLs) > 0 }

func (s *WebhookSink) Send(ctx context.Context, alert Alert) error {
	payload := map[string]interface{}{
		"event_type": "alert",
		"alert":      alert,
		"timestamp":  alert.CreatedAt.Format(time.RFC3339),
	}

	var delivered int
	var lastErr error
	for _, url := range s.cfg.URLs {
		if err := postJSON(ctx, s.client, url, payload); err != nil {
			s.log.Error("webhook delivery failed", "url", url, "error", err)
			lastErr = err
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return fmt.Errorf("webhook: no endpoint accepted the alert: %w", lastErr)
	}
	return nil
}

func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %s", resp.Status)
	}
	return nil
}
