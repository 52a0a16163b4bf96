package detect

import (
	"sync"
	"time"
)

const windowShards = 16

// slidingWindow counts events per key within a rolling time window. Keys
// are sharded so concurrent detectors on different sources rarely contend.
type slidingWindow struct {
	window time.Duration
	shards [windowShards]windowShard
}

type windowShard struct {
	mu     sync.Mutex
	events map[string][]time.Time
}

func newSlidingWindow(window time.Duration) *slidingWindow {
	w := &slidingWindow{window: window}
	for i := range w.shards {
		w.shards[i].events = make(map[string][]time.Time)
	}
	return w
}

func (w *slidingWindow) shard(key string) *windowShard {
	h := uint32(2166136261)
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return &w.shards[h%windowShards]
}

// Add records an event for key at ts and returns the count of events still
// inside the window, the new event included. Expired events are dropped on
// the way.
func (w *slidingWindow) Add(key string, ts time.Time) int {
	s := w.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := ts.Add(-w.window)
	kept := s.events[key][:0]
	for _, t := range s.events[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, ts)
	s.events[key] = kept
	return len(kept)
}

// Oldest returns the oldest retained event for key, ok=false when none.
func (w *slidingWindow) Oldest(key string) (time.Time, bool) {
	s := w.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events[key]) == 0 {
		return time.Time{}, false
	}
	return s.events[key][0], true
}

// Prune drops every key whose events have all expired relative to now.
func (w *slidingWindow) Prune(now time.Time) {
	cutoff := now.Add(-w.window)
	for i := range w.shards {
		s := &w.shards[i]
		s.mu.Lock()
		for key, events := range s.events {
			if len(events) == 0 || !events[len(events)-1].After(cutoff) {
				delete(s.events, key)
			}
		}
		s.mu.Unlock()
	}
}
