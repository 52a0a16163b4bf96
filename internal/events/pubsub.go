package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/gridshield/backend/internal/pipeline"
)

// LogEnvelope is the wire format of a record on the "logs" topic. Only Raw
// is required; Source and Metadata are collector-supplied context merged
// into the parsed record.
type LogEnvelope struct {
	Raw      string                 `json:"raw"`
	Source   string                 `json:"source,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Message is one bus delivery. Ack commits the message (call only after the
// record is persisted); Nack requests redelivery.
type Message struct {
	Data []byte
	Key  string
	Ack  func()
	Nack func()
}

// Consumer pulls log envelopes off the ingestion bus.
type Consumer interface {
	// Receive blocks, invoking handle for each delivery, until ctx is
	// cancelled. The implementation bounds the number of outstanding
	// (unacked) messages.
	Receive(ctx context.Context, handle func(ctx context.Context, msg *Message)) error
}

// LogPublisher pushes envelopes onto the "logs" topic (used by collectors
// and the HTTP ingest endpoint).
type LogPublisher interface {
	PublishLog(ctx context.Context, env *LogEnvelope) error
}

// ThreatPublisher pushes confirmed threats onto the "threats" topic.
type ThreatPublisher interface {
	PublishThreat(ctx context.Context, rec *pipeline.Record) error
}

// PubSubBus wraps the in-memory EventBus and connects the pipeline to
// Google Cloud Pub/Sub for durable, cross-service delivery.
type PubSubBus struct {
	*EventBus // live dashboard subscribers keep working

	client       *pubsub.Client
	logsTopic    *pubsub.Topic
	threatsTopic *pubsub.Topic
	sub          *pubsub.Subscription
	log          *slog.Logger
}

// PubSubOptions name the topics and subscription the bus binds to.
type PubSubOptions struct {
	ProjectID        string
	LogsTopic        string
	LogsSubscription string
	ThreatsTopic     string // empty disables threat publication
	MaxInFlight      int
}

// NewPubSubBus connects to Pub/Sub. Topics and the subscription must
// already exist; creating them is a deployment concern.
func NewPubSubBus(ctx context.Context, opts PubSubOptions, log *slog.Logger) (*PubSubBus, error) {
	client, err := pubsub.NewClient(ctx, opts.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}

	bus := &PubSubBus{
		EventBus:  NewEventBus(),
		client:    client,
		logsTopic: client.Topic(opts.LogsTopic),
		sub:       client.Subscription(opts.LogsSubscription),
		log:       log,
	}
	if opts.ThreatsTopic != "" {
		bus.threatsTopic = client.Topic(opts.ThreatsTopic)
	}
	if opts.MaxInFlight > 0 {
		bus.sub.ReceiveSettings.MaxOutstandingMessages = opts.MaxInFlight
	}
	return bus, nil
}

// Receive implements Consumer on the logs subscription.
func (b *PubSubBus) Receive(ctx context.Context, handle func(ctx context.Context, msg *Message)) error {
	return b.sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		handle(ctx, &Message{
			Data: m.Data,
			Key:  m.Attributes["source"],
			Ack:  m.Ack,
			Nack: m.Nack,
		})
	})
}

// PublishLog implements LogPublisher.
func (b *PubSubBus) PublishLog(ctx context.Context, env *LogEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	res := b.logsTopic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"source": env.Source},
	})
	if _, err := res.Get(ctx); err != nil {
		return fmt.Errorf("publish log: %w", err)
	}
	return nil
}

// PublishThreat implements ThreatPublisher. A no-op when no threats topic
// is configured.
func (b *PubSubBus) PublishThreat(ctx context.Context, rec *pipeline.Record) error {
	if b.threatsTopic == nil {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode threat: %w", err)
	}
	attrs := map[string]string{"source": rec.Source}
	if top := rec.TopDetection(); top != nil {
		attrs["attack_type"] = top.AttackType
		attrs["severity"] = string(top.Severity)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := b.threatsTopic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx); err != nil {
		return fmt.Errorf("publish threat: %w", err)
	}
	return nil
}

// Close flushes pending publishes and releases the client.
func (b *PubSubBus) Close() error {
	b.logsTopic.Stop()
	if b.threatsTopic != nil {
		b.threatsTopic.Stop()
	}
	return b.client.Close()
}
