package alerting

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gridshield/backend/internal/config"
	"github.com/gridshield/backend/internal/events"
)

// EscalationRule replays notification channels for alerts that stay
// unresolved. Each replay raises the alert's escalation level, and the next
// replay waits timeout*(level+1) from creation.
type EscalationRule struct {
	Name       string
	Conditions map[string]string
	Actions    []string
	Timeout    time.Duration
}

func (r EscalationRule) matches(alert Alert) bool {
	for key, want := range r.Conditions {
		var got string
		switch key {
		case "severity":
			got = string(alert.Severity)
		case "source":
			got = alert.Source
		case "status":
			got = alert.Status
		case "title":
			got = alert.Title
		default:
			return false
		}
		if got != want {
			return false
		}
	}
	return true
}

// Escalator sweeps unresolved alerts on an interval and replays matching
// rules' channels through the notifier.
type Escalator struct {
	manager  *Manager
	notifier *Notifier
	rules    []EscalationRule
	interval time.Duration
	emitter  events.EventEmitter
	log      *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	levels map[string]int // alert id -> escalation level

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewEscalator(cfg config.EscalationConfig, manager *Manager, notifier *Notifier, log *slog.Logger, emitter events.EventEmitter) *Escalator {
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}

	rules := make([]EscalationRule, 0, len(cfg.Rules))
	for _, spec := range cfg.Rules {
		timeout := time.Duration(spec.TimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = 300 * time.Second
		}
		rules = append(rules, EscalationRule{
			Name:       spec.Name,
			Conditions: spec.Conditions,
			Actions:    spec.Actions,
			Timeout:    timeout,
		})
	}

	return &Escalator{
		manager:  manager,
		notifier: notifier,
		rules:    rules,
		interval: interval,
		emitter:  emitter,
		log:      log,
		now:      time.Now,
		levels:   make(map[string]int),
		stop:     make(chan struct{}),
	}
}

func (e *Escalator) Start() {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.sweep(context.Background())
			case <-e.stop:
				return
			}
		}
	}()
}

func (e *Escalator) Stop() {
	close(e.stop)
	e.wg.Wait()
}

// Due returns the channels to replay for an alert at the given level, or
// nil when no matching rule's timeout has elapsed yet.
func (e *Escalator) Due(alert Alert, level int) []string {
	var actions []string
	elapsed := e.now().Sub(alert.CreatedAt)
	for _, rule := range e.rules {
		if !rule.matches(alert) {
			continue
		}
		if elapsed >= rule.Timeout*time.Duration(level+1) {
			actions = append(actions, rule.Actions...)
		}
	}
	return actions
}

func (e *Escalator) sweep(ctx context.Context) {
	for _, alert := range e.manager.List(Filters{}) {
		if alert.Status == AlertResolved {
			e.mu.Lock()
			delete(e.levels, alert.ID)
			e.mu.Unlock()
			continue
		}

		e.mu.Lock()
		level := e.levels[alert.ID]
		e.mu.Unlock()

		channels := e.Due(alert, level)
		if len(channels) == 0 {
			continue
		}

		e.log.Warn("escalating unresolved alert",
			"alert_id", alert.ID,
			"title", alert.Title,
			"level", level+1,
			"channels", channels)
		e.notifier.Replay(ctx, alert, channels)
		e.emitter.Emit(events.EventAlertEscalated, "alerting", alert.ID, map[string]interface{}{
			"title":    alert.Title,
			"severity": string(alert.Severity),
			"level":    level + 1,
			"channels": channels,
		})

		e.mu.Lock()
		e.levels[alert.ID] = level + 1
		e.mu.Unlock()
	}
}
