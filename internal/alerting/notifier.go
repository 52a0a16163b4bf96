package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gridshield/backend/internal/events"
	"github.com/gridshield/backend/internal/pipeline"
)

// SendResult aggregates per-channel delivery outcomes for one alert.
type SendResult struct {
	Success  bool            `json:"success"`
	Reason   string          `json:"reason,omitempty"`
	AlertID  string          `json:"alert_id,omitempty"`
	Channels map[string]bool `json:"channels,omitempty"`
}

// Notifier deduplicates, creates and fans alerts out over the configured
// channels. Overall success means at least one channel accepted the alert.
type Notifier struct {
	manager  *Manager
	email    EmailSender
	chat     ChatSender
	webhook  WebhookSender
	channels []string

	// severity (or "default") -> email recipients
	recipients map[string][]string

	emitter events.EventEmitter
	log     *slog.Logger
}

type NotifierOptions struct {
	Manager    *Manager
	Email      EmailSender
	Chat       ChatSender
	Webhook    WebhookSender
	Channels   []string
	Recipients map[string][]string
	Emitter    events.EventEmitter
	Logger     *slog.Logger
}

func NewNotifier(opts NotifierOptions) *Notifier {
	channels := opts.Channels
	if len(channels) == 0 {
		channels = []string{"email", "chat", "webhook"}
	}
	emitter := opts.Emitter
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	return &Notifier{
		manager:    opts.Manager,
		email:      opts.Email,
		chat:       opts.Chat,
		webhook:    opts.Webhook,
		channels:   channels,
		recipients: opts.Recipients,
		emitter:    emitter,
		log:        opts.Logger,
	}
}

// Send creates and delivers an alert. Duplicates within the dedup window
// are suppressed without side effects.
func (n *Notifier) Send(ctx context.Context, title, message string, severity pipeline.Severity, source string, metadata map[string]interface{}) SendResult {
	if n.manager.IsDuplicate(title, message) {
		n.log.Debug("duplicate alert suppressed", "title", title)
		return SendResult{Success: false, Reason: "duplicate"}
	}

	alert := n.manager.Create(title, message, severity, source, metadata)
	result := SendResult{AlertID: alert.ID, Channels: map[string]bool{}}

	for _, channel := range n.channels {
		switch channel {
		case "email":
			n.sendEmail(ctx, alert, &result)
		case "chat":
			n.sendChat(ctx, alert, &result)
		case "webhook":
			n.sendWebhook(ctx, alert, &result)
		default:
			n.log.Warn("unknown alert channel", "channel", channel)
		}
	}

	for _, ok := range result.Channels {
		if ok {
			result.Success = true
			break
		}
	}
	if result.Success {
		n.emitter.Emit(events.EventAlertSent, "alerting", alert.ID, map[string]interface{}{
			"title":    alert.Title,
			"severity": string(alert.Severity),
			"channels": result.Channels,
		})
	}
	return result
}

// SendThreat composes and sends the alert for a detection.
func (n *Notifier) SendThreat(ctx context.Context, det *pipeline.Detection) SendResult {
	sourceIP := det.SourceIP
	if sourceIP == "" {
		sourceIP = "unknown"
	}

	title := strings.ToUpper(det.AttackType) + " Attack Detected"
	message := fmt.Sprintf(
		"Attack type: %s\nSource IP: %s\nSeverity: %s\nConfidence: %.2f%%",
		det.AttackType, sourceIP, det.Severity, det.Confidence*100,
	)

	metadata := map[string]interface{}{
		"attack_type": det.AttackType,
		"detector":    det.Detector,
		"source_ip":   det.SourceIP,
		"confidence":  det.Confidence,
	}
	return n.Send(ctx, title, message, det.Severity, "threat_detection", metadata)
}

// Replay re-delivers an existing alert on the named channels; escalation
// uses it to repeat notifications for unresolved alerts.
func (n *Notifier) Replay(ctx context.Context, alert Alert, channels []string) {
	result := SendResult{AlertID: alert.ID, Channels: map[string]bool{}}
	for _, channel := range channels {
		switch channel {
		case "email":
			n.sendEmail(ctx, alert, &result)
		case "chat":
			n.sendChat(ctx, alert, &result)
		case "webhook":
			n.sendWebhook(ctx, alert, &result)
		}
	}
}

func (n *Notifier) sendEmail(ctx context.Context, alert Alert, result *SendResult) {
	if n.email == nil || !n.email.Enabled() {
		return
	}
	recipients := n.recipients[string(alert.Severity)]
	if len(recipients) == 0 {
		recipients = n.recipients["default"]
	}
	for _, to := range recipients {
		key := "email:" + to
		if err := n.email.Send(ctx, to, alert); err != nil {
			n.log.Error("email delivery failed", "to", to, "alert_id", alert.ID, "error", err)
			result.Channels[key] = false
			continue
		}
		n.manager.MarkSent(alert.ID, key)
		result.Channels[key] = true
	}
}

func (n *Notifier) sendChat(ctx context.Context, alert Alert, result *SendResult) {
	if n.chat == nil || !n.chat.Enabled() {
		return
	}
	if err := n.chat.Send(ctx, alert); err != nil {
		n.log.Error("chat delivery failed", "alert_id", alert.ID, "error", err)
		result.Channels["chat"] = false
		return
	}
	n.manager.MarkSent(alert.ID, "chat")
	result.Channels["chat"] = true
}

func (n *Notifier) sendWebhook(ctx context.Context, alert Alert, result *SendResult) {
	if n.webhook == nil || !n.webhook.Enabled() {
		return
	}
	if err := n.webhook.Send(ctx, alert); err != nil {
		n.log.Error("webhook delivery failed", "alert_id", alert.ID, "error", err)
		result.Channels["webhook"] = false
		return
	}
	n.manager.MarkSent(alert.ID, "webhook")
	result.Channels["webhook"] = true
}
