package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloudEventEnvelope(t *testing.T) {
	ev := NewCloudEvent(EventThreatDetected, "stream", "rec-1", map[string]interface{}{
		"attack_type": "ddos",
	})

	assert.Equal(t, "1.0", ev.SpecVersion)
	assert.Equal(t, EventThreatDetected, ev.Type)
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Time.IsZero())

	raw, err := ev.JSON()
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "1.0", decoded["specversion"])
	assert.Equal(t, "rec-1", decoded["subject"])
}

func TestBusRoutesByType(t *testing.T) {
	bus := NewEventBus()
	threats := bus.Subscribe(EventThreatDetected)
	all := bus.Subscribe()

	bus.Emit(EventThreatDetected, "stream", "rec-1", nil)
	bus.Emit(EventAlertSent, "alerting", "alert-1", nil)

	require.Len(t, threats, 1)
	got := <-threats
	assert.Equal(t, EventThreatDetected, got.Type)

	// The catch-all subscription sees both.
	require.Len(t, all, 2)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(EventAlertSent)
	require.Equal(t, 1, bus.SubscriberCount())

	bus.Unsubscribe(ch)
	assert.Equal(t, 0, bus.SubscriberCount())
	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	bus.Emit(EventAlertSent, "alerting", "alert-2", nil)
}

func TestFullSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewEventBus()
	bus.bufferSize = 1
	ch := bus.Subscribe(EventThreatDetected)

	bus.Emit(EventThreatDetected, "stream", "rec-1", nil)
	// Second event is dropped for this slow subscriber, not queued behind it.
	bus.Emit(EventThreatDetected, "stream", "rec-2", nil)

	require.Len(t, ch, 1)
	got := <-ch
	assert.Equal(t, "rec-1", got.Subject)
}
