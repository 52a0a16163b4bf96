package ingest

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gridshield/backend/internal/pipeline"
)

// Fields lifted onto the canonical record; everything else lands in
// metadata.
var standardFields = map[string]bool{
	"timestamp": true, "source": true, "host": true, "hostname": true,
	"service": true, "app_name": true, "tag": true, "level": true,
	"log_level": true, "message": true, "text": true, "_text": true,
	"raw": true, "metadata": true,
}

var syslogSeverityLevels = map[int]string{
	0: pipeline.LevelCritical, // emergency
	1: pipeline.LevelCritical, // alert
	2: pipeline.LevelCritical,
	3: pipeline.LevelError,
	4: pipeline.LevelWarning,
	5: pipeline.LevelInfo, // notice
	6: pipeline.LevelInfo,
	7: pipeline.LevelDebug,
}

var textLevels = map[string]string{
	"DEBUG":     pipeline.LevelDebug,
	"INFO":      pipeline.LevelInfo,
	"NOTICE":    pipeline.LevelInfo,
	"WARNING":   pipeline.LevelWarning,
	"WARN":      pipeline.LevelWarning,
	"ERROR":     pipeline.LevelError,
	"ERR":       pipeline.LevelError,
	"CRITICAL":  pipeline.LevelCritical,
	"FATAL":     pipeline.LevelCritical,
	"ALERT":     pipeline.LevelCritical,
	"EMERGENCY": pipeline.LevelCritical,
}

// Normalizer maps parsed records to the canonical schema. It is a pure
// function of the parsed record plus the wall clock.
type Normalizer struct {
	MaxMessageLength int
	MaxClockDrift    time.Duration

	// now is the clock, swappable in tests.
	now func() time.Time
}

func NewNormalizer(maxMessageLength int, maxClockDrift time.Duration) *Normalizer {
	return &Normalizer{
		MaxMessageLength: maxMessageLength,
		MaxClockDrift:    maxClockDrift,
		now:              time.Now,
	}
}

// Normalize produces a canonical record. Raw is preserved verbatim when the
// parsed record carries one; otherwise the record is reserialized so replay
// is always possible.
func (n *Normalizer) Normalize(parsed ParsedRecord) *pipeline.Record {
	rec := &pipeline.Record{
		Timestamp: n.extractTimestamp(parsed),
		Source:    stringField(parsed, "unknown", "source"),
		Host:      stringField(parsed, "unknown", "host", "hostname"),
		Service:   stringField(parsed, "unknown", "service", "app_name", "tag"),
		Level:     n.extractLevel(parsed),
		Message:   n.extractMessage(parsed),
		Raw:       extractRaw(parsed),
		Metadata:  map[string]interface{}{},
	}

	for key, value := range parsed {
		if !standardFields[key] {
			rec.Metadata[key] = value
		}
	}
	return rec
}

// extractTimestamp accepts ISO-8601 (with or without trailing Z), numeric
// epoch seconds or milliseconds, and falls back to ingest wall clock.
// Event times further than MaxClockDrift from now are distrusted and
// replaced with the wall clock; the original value is kept in metadata by
// the caller since unknown fields carry over.
func (n *Normalizer) extractTimestamp(parsed ParsedRecord) time.Time {
	now := n.now().UTC()

	ts, ok := parsed["timestamp"]
	if !ok {
		return now
	}

	var t time.Time
	switch v := ts.(type) {
	case time.Time:
		t = v
	case float64:
		t = epochToTime(v)
	case int64:
		t = epochToTime(float64(v))
	case string:
		parsedT, ok := parseTimeString(v)
		if !ok {
			return now
		}
		t = parsedT
	default:
		return now
	}

	t = t.UTC()
	if n.MaxClockDrift > 0 {
		if d := now.Sub(t); d > n.MaxClockDrift || d < -n.MaxClockDrift {
			return now
		}
	}
	return t
}

func parseTimeString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999", // ISO-8601 without zone
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return epochToTime(f), true
	}
	return time.Time{}, false
}

// epochToTime autodetects seconds vs milliseconds by magnitude: values
// above 1e12 cannot be second-precision timestamps this side of year 33658.
func epochToTime(v float64) time.Time {
	if math.Abs(v) >= 1e12 {
		return time.UnixMilli(int64(v))
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*1e9))
}

func (n *Normalizer) extractLevel(parsed ParsedRecord) string {
	for _, key := range []string{"level", "severity", "log_level"} {
		v, ok := parsed[key]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			if lvl, ok := textLevels[strings.ToUpper(t)]; ok {
				return lvl
			}
			if num, err := strconv.Atoi(t); err == nil {
				if lvl, ok := syslogSeverityLevels[num]; ok {
					return lvl
				}
			}
		case int:
			if lvl, ok := syslogSeverityLevels[t]; ok {
				return lvl
			}
		case float64:
			if lvl, ok := syslogSeverityLevels[int(t)]; ok {
				return lvl
			}
		}
	}
	return pipeline.LevelInfo
}

func (n *Normalizer) extractMessage(parsed ParsedRecord) string {
	msg := stringField(parsed, "", "message", "text", "_text", "raw")
	if msg == "" {
		msg = stringifyRecord(parsed)
	}
	msg = strings.TrimSpace(msg)
	if n.MaxMessageLength > 0 && len(msg) > n.MaxMessageLength {
		msg = msg[:n.MaxMessageLength]
	}
	return msg
}

func extractRaw(parsed ParsedRecord) string {
	if raw, ok := parsed["raw"].(string); ok && raw != "" {
		return raw
	}
	return stringifyRecord(parsed)
}

func stringField(parsed ParsedRecord, fallback string, keys ...string) string {
	for _, key := range keys {
		if v, ok := parsed[key]; ok {
			switch t := v.(type) {
			case string:
				if t != "" {
					return t
				}
			case nil:
			default:
				return fmt.Sprintf("%v", t)
			}
		}
	}
	return fallback
}

func stringifyRecord(parsed ParsedRecord) string {
	b, err := json.Marshal(parsed)
	if err != nil {
		return fmt.Sprintf("%v", parsed)
	}
	return string(b)
}
