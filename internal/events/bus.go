// Package events carries the ingestion bus and the in-process event stream.
//
// Two planes:
//   - Pub/Sub: durable at-least-once log ingestion (topic "logs") and threat
//     publication (topic "threats").
//   - In-memory: immediate push of CloudEvents to live dashboard
//     subscribers (websocket /events/stream).
package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Event types emitted by the pipeline.
const (
	EventThreatDetected      = "gridshield.threat.detected"
	EventAlertSent           = "gridshield.alert.sent"
	EventAlertEscalated      = "gridshield.alert.escalated"
	EventAutomationExecuted  = "gridshield.automation.executed"
	EventApprovalRequested   = "gridshield.approval.requested"
	EventApprovalDecided     = "gridshield.approval.decided"
	EventBreakerStateChanged = "gridshield.breaker.state_changed"
)

// EventEmitter publishes CloudEvents. Satisfied by both EventBus and
// PubSubBus so components stay decoupled from the transport.
type EventEmitter interface {
	Emit(eventType, source, subject string, data map[string]interface{})
}

// NopEmitter discards events; useful in tests.
type NopEmitter struct{}

func (NopEmitter) Emit(string, string, string, map[string]interface{}) {}

// CloudEvent is the CloudEvents 1.0 envelope for all GridShield events.
type CloudEvent struct {
	SpecVersion string                 `json:"specversion"`
	Type        string                 `json:"type"`
	Source      string                 `json:"source"`
	ID          string                 `json:"id"`
	Time        time.Time              `json:"time"`
	Subject     string                 `json:"subject,omitempty"`
	Data        map[string]interface{} `json:"data"`
}

// NewCloudEvent creates a CloudEvents 1.0 compliant event.
func NewCloudEvent(eventType, source, subject string, data map[string]interface{}) *CloudEvent {
	return &CloudEvent{
		SpecVersion: "1.0",
		Type:        eventType,
		Source:      source,
		ID:          fmt.Sprintf("ce-%d", time.Now().UnixNano()),
		Time:        time.Now().UTC(),
		Subject:     subject,
		Data:        data,
	}
}

// JSON serializes the event.
func (ce *CloudEvent) JSON() ([]byte, error) {
	return json.Marshal(ce)
}

// EventBus is an in-process pub/sub event bus. Subscribers receive
// CloudEvents in real time; slow subscribers drop events rather than block
// the pipeline.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan *CloudEvent
	allSubs     []chan *CloudEvent
	bufferSize  int
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan *CloudEvent),
		bufferSize:  100,
	}
}

// Subscribe creates a channel that receives events of specific types.
// Pass no eventTypes to receive ALL events.
func (eb *EventBus) Subscribe(eventTypes ...string) chan *CloudEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan *CloudEvent, eb.bufferSize)
	if len(eventTypes) == 0 {
		eb.allSubs = append(eb.allSubs, ch)
	} else {
		for _, et := range eventTypes {
			eb.subscribers[et] = append(eb.subscribers[et], ch)
		}
	}
	return ch
}

// Unsubscribe removes a subscription channel and closes it.
func (eb *EventBus) Unsubscribe(ch chan *CloudEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for et, subs := range eb.subscribers {
		eb.subscribers[et] = removeChan(subs, ch)
	}
	eb.allSubs = removeChan(eb.allSubs, ch)
	close(ch)
}

func removeChan(subs []chan *CloudEvent, ch chan *CloudEvent) []chan *CloudEvent {
	filtered := subs[:0]
	for _, s := range subs {
		if s != ch {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

// Publish sends an event to all matching subscribers. Full channels are
// skipped.
func (eb *EventBus) Publish(event *CloudEvent) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, ch := range eb.subscribers[event.Type] {
		select {
		case ch <- event:
		default:
		}
	}
	for _, ch := range eb.allSubs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Emit creates and publishes an event.
func (eb *EventBus) Emit(eventType, source, subject string, data map[string]interface{}) {
	eb.Publish(NewCloudEvent(eventType, source, subject, data))
}

// SubscriberCount returns the total number of active subscriptions.
func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	count := len(eb.allSubs)
	for _, subs := range eb.subscribers {
		count += len(subs)
	}
	return count
}
