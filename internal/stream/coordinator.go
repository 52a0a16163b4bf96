// Package stream runs the pipeline: it pulls records off the ingestion bus,
// drives them through parse, normalize, enrich, predict and detect, persists
// them, and hands confirmed threats to automation and alerting.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridshield/backend/internal/alerting"
	"github.com/gridshield/backend/internal/automation"
	"github.com/gridshield/backend/internal/config"
	"github.com/gridshield/backend/internal/detect"
	"github.com/gridshield/backend/internal/enrich"
	"github.com/gridshield/backend/internal/events"
	"github.com/gridshield/backend/internal/ingest"
	"github.com/gridshield/backend/internal/ml"
	"github.com/gridshield/backend/internal/monitoring"
	"github.com/gridshield/backend/internal/pipeline"
	"github.com/gridshield/backend/internal/storage"
)

// ThreatCollection is the DocStore collection detections are stored in.
const ThreatCollection = "threats"

// Coordinator owns the worker pool between the bus and the pipeline
// stages. Messages are acked only after persistence succeeds; everything
// after the ack is a side effect that tolerates replay.
type Coordinator struct {
	consumer   events.Consumer
	registry   *ingest.Registry
	normalizer *ingest.Normalizer
	enrichers  *enrich.Chain
	predictor  *ml.Predictor
	engine     *detect.Engine

	docs       storage.DocStore
	timeSeries storage.TimeSeriesStore

	orchestrator *automation.Orchestrator
	notifier     *alerting.Notifier
	threats      events.ThreatPublisher
	emitter      events.EventEmitter

	metrics *monitoring.Metrics
	log     *slog.Logger

	workers       int
	maxInFlight   int
	shutdownGrace time.Duration

	jobs chan *events.Message
	wg   sync.WaitGroup
}

type CoordinatorOptions struct {
	Consumer   events.Consumer
	Registry   *ingest.Registry
	Normalizer *ingest.Normalizer
	Enrichers  *enrich.Chain
	Predictor  *ml.Predictor
	Engine     *detect.Engine

	Docs       storage.DocStore
	TimeSeries storage.TimeSeriesStore

	Orchestrator *automation.Orchestrator
	Notifier     *alerting.Notifier
	Threats      events.ThreatPublisher
	Emitter      events.EventEmitter

	Metrics *monitoring.Metrics
	Logger  *slog.Logger
	Stream  config.StreamConfig
}

func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	workers := opts.Stream.Workers
	if workers <= 0 {
		workers = 8
	}
	maxInFlight := opts.Stream.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 64
	}
	grace := opts.Stream.ShutdownGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}
	emitter := opts.Emitter
	if emitter == nil {
		emitter = events.NopEmitter{}
	}

	return &Coordinator{
		consumer:      opts.Consumer,
		registry:      opts.Registry,
		normalizer:    opts.Normalizer,
		enrichers:     opts.Enrichers,
		predictor:     opts.Predictor,
		engine:        opts.Engine,
		docs:          opts.Docs,
		timeSeries:    opts.TimeSeries,
		orchestrator:  opts.Orchestrator,
		notifier:      opts.Notifier,
		threats:       opts.Threats,
		emitter:       emitter,
		metrics:       opts.Metrics,
		log:           opts.Logger,
		workers:       workers,
		maxInFlight:   maxInFlight,
		shutdownGrace: grace,
		jobs:          make(chan *events.Message, maxInFlight),
	}
}

// Run consumes the bus until ctx is cancelled, then drains in-flight work
// for at most the shutdown grace period. In-flight messages that miss the
// grace window are nacked for redelivery.
func (c *Coordinator) Run(ctx context.Context) error {
	// Workers keep a cancel-free context so records already pulled can
	// finish persisting during the drain window.
	drainCtx := context.WithoutCancel(ctx)
	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker(drainCtx)
	}

	err := c.consumer.Receive(ctx, func(_ context.Context, msg *events.Message) {
		select {
		case c.jobs <- msg:
		case <-ctx.Done():
			msg.Nack()
		}
	})

	close(c.jobs)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(c.shutdownGrace):
		c.log.Warn("shutdown grace elapsed with workers still draining")
	}

	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *Coordinator) worker(ctx context.Context) {
	defer c.wg.Done()
	for msg := range c.jobs {
		c.handle(ctx, msg)
	}
}

// handle processes one delivery with full isolation: a panic in any stage
// nacks that record and the worker moves on.
func (c *Coordinator) handle(ctx context.Context, msg *events.Message) {
	c.metrics.InFlight.Inc()
	defer c.metrics.InFlight.Dec()

	defer func() {
		if r := recover(); r != nil {
			c.log.Error("record processing panicked", "panic", r, "key", msg.Key)
			msg.Nack()
		}
	}()

	c.process(ctx, msg)
}

func (c *Coordinator) process(ctx context.Context, msg *events.Message) {
	started := time.Now()

	var env events.LogEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil || env.Raw == "" {
		// Collectors that bypass the envelope publish bare lines.
		env = events.LogEnvelope{Raw: string(msg.Data), Source: msg.Key}
	}

	source := env.Source
	if source == "" {
		source = "unknown"
	}

	metadata := make(map[string]interface{}, len(env.Metadata)+2)
	for k, v := range env.Metadata {
		metadata[k] = v
	}
	// Caller metadata is merged over parsed fields, so the original line
	// survives reserialization-free even for structured formats.
	metadata["raw"] = env.Raw
	if _, ok := metadata["source"]; !ok && env.Source != "" {
		metadata["source"] = env.Source
	}

	parsed, ok := c.registry.Parse(env.Raw, "", metadata)
	if !ok {
		c.metrics.LogsProcessed.WithLabelValues(source, "parse_error").Inc()
		c.log.Warn("record dropped, unparseable", "source", source)
		msg.Ack()
		return
	}

	rec := c.normalizer.Normalize(parsed)
	c.enrichers.Enrich(ctx, rec)

	rec.Prediction = c.predictor.Predict(rec)
	c.observePrediction(rec.Prediction)

	rec.Detections = c.engine.Detect(ctx, rec)
	for _, det := range rec.Detections {
		c.metrics.ThreatsDetected.WithLabelValues(det.AttackType, string(det.Severity)).Inc()
	}

	if err := c.persist(ctx, rec); err != nil {
		c.metrics.LogsProcessed.WithLabelValues(rec.Source, "persist_error").Inc()
		c.log.Error("record not persisted, nacking", "source", rec.Source, "error", err)
		msg.Nack()
		return
	}
	msg.Ack()
	c.metrics.LogsProcessed.WithLabelValues(rec.Source, "processed").Inc()
	c.metrics.RecordDuration.WithLabelValues("pipeline").Observe(time.Since(started).Seconds())

	if len(rec.Detections) == 0 {
		return
	}
	for i := range rec.Detections {
		c.respond(ctx, rec, &rec.Detections[i])
	}
	if c.threats != nil {
		if err := c.threats.PublishThreat(ctx, rec); err != nil {
			c.log.Error("threat publish failed", "error", err)
		}
	}
}

func (c *Coordinator) persist(ctx context.Context, rec *pipeline.Record) error {
	if c.timeSeries != nil {
		if err := c.timeSeries.InsertLog(ctx, storage.RowFromRecord(rec)); err != nil {
			return err
		}
	}
	if c.docs != nil {
		for i := range rec.Detections {
			if err := c.docs.Insert(ctx, ThreatCollection, threatDoc(rec, &rec.Detections[i])); err != nil {
				return err
			}
		}
	}
	return nil
}

// respond runs the post-ack side effects for one detection. Detections on
// the same record are handled independently; the combined automation report
// accumulates on the record. All of it tolerates replay: automation
// actuators are idempotent and the alert manager deduplicates.
func (c *Coordinator) respond(ctx context.Context, rec *pipeline.Record, det *pipeline.Detection) {
	c.log.Warn("threat detected",
		"attack_type", det.AttackType,
		"severity", det.Severity,
		"confidence", det.Confidence,
		"source_ip", det.SourceIP)

	c.emitter.Emit(events.EventThreatDetected, "detection", det.AttackType, map[string]interface{}{
		"attack_type": det.AttackType,
		"severity":    string(det.Severity),
		"confidence":  det.Confidence,
		"source_ip":   det.SourceIP,
	})

	if c.orchestrator != nil {
		report := c.orchestrator.HandleThreat(ctx, det)
		if rec.Automation == nil {
			rec.Automation = report
		} else {
			rec.Automation.Actions = append(rec.Automation.Actions, report.Actions...)
			rec.Automation.Approvals = append(rec.Automation.Approvals, report.Approvals...)
			rec.Automation.Errors = append(rec.Automation.Errors, report.Errors...)
			rec.Automation.Success = rec.Automation.Success || report.Success
		}
		for _, action := range report.Actions {
			c.metrics.AutomationActions.WithLabelValues(action.Type, action.Status).Inc()
		}
	}

	if c.notifier != nil {
		result := c.notifier.SendThreat(ctx, det)
		for channel, ok := range result.Channels {
			if ok {
				c.metrics.AlertsSent.WithLabelValues(channel, string(det.Severity)).Inc()
			}
		}
	}
}

func (c *Coordinator) observePrediction(pred *pipeline.MLPrediction) {
	if pred == nil {
		return
	}
	result := "normal"
	switch {
	case !pred.ModelReady:
		result = "neutral"
	case pred.IsAttack:
		result = "attack"
	case pred.IsAnomaly:
		result = "anomaly"
	}
	c.metrics.MLPredictions.WithLabelValues("ensemble", result).Inc()
}

func threatDoc(rec *pipeline.Record, det *pipeline.Detection) map[string]interface{} {
	doc := map[string]interface{}{
		"threat_id":   uuid.New().String(),
		"attack_type": det.AttackType,
		"detector":    det.Detector,
		"severity":    string(det.Severity),
		"confidence":  det.Confidence,
		"timestamp":   rec.Timestamp.Format(time.RFC3339Nano),
		"source":      rec.Source,
		"host":        rec.Host,
		"message":     rec.Message,
	}
	if det.SourceIP != "" {
		doc["source_ip"] = det.SourceIP
	}
	if det.User != "" {
		doc["user"] = det.User
	}
	if len(det.Indicators) > 0 {
		doc["indicators"] = det.Indicators
	}
	if len(det.Context) > 0 {
		doc["context"] = det.Context
	}
	return doc
}
