package detect

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gridshield/backend/internal/config"
	"github.com/gridshield/backend/internal/pipeline"
)

// InsiderDetector tracks per-user suspicious behavior: repeated off-hours
// activity, repeated failures, privilege escalation and data movement.
type InsiderDetector struct {
	unusualHoursThreshold int
	failedThreshold       int

	mu           sync.Mutex
	unusualHours map[string]int
	failures     map[string]int
}

func NewInsiderDetector(cfg config.InsiderConfig) *InsiderDetector {
	return &InsiderDetector{
		unusualHoursThreshold: cfg.UnusualHoursThreshold,
		failedThreshold:       cfg.FailedAccessThreshold,
		unusualHours:          make(map[string]int),
		failures:              make(map[string]int),
	}
}

func (d *InsiderDetector) Name() string { return "insider_threat" }

func (d *InsiderDetector) Detect(_ context.Context, rec *pipeline.Record) *pipeline.Detection {
	user := rec.User()
	if user == "" {
		return nil
	}

	message := strings.ToLower(rec.Message)
	var indicators []string

	if isUnusualHours(rec.Timestamp) {
		if d.bump(d.unusualHours, user) >= d.unusualHoursThreshold {
			indicators = append(indicators, "unusual_hours")
		}
	}

	if strings.Contains(message, "failed") || rec.Level == pipeline.LevelError {
		if d.bump(d.failures, user) >= d.failedThreshold {
			indicators = append(indicators, "multiple_failed_access")
		}
	}

	if strings.Contains(message, "sudo") || strings.Contains(message, "admin") {
		indicators = append(indicators, "privilege_escalation")
	}

	for _, keyword := range []string{"download", "export", "copy", "transfer"} {
		if strings.Contains(message, keyword) {
			indicators = append(indicators, "data_access")
			break
		}
	}

	if len(indicators) > 0 {
		return &pipeline.Detection{
			AttackType: pipeline.AttackInsiderThreat,
			Detector:   d.Name(),
			Severity:   pipeline.SeverityHigh,
			Confidence: min(1.0, float64(len(indicators))/3.0),
			User:       user,
			Indicators: indicators,
		}
	}

	if pred := rec.Prediction; pred != nil &&
		pred.AttackType == pipeline.AttackInsiderThreat && pred.Confidence > 0.7 {
		return &pipeline.Detection{
			AttackType: pipeline.AttackInsiderThreat,
			Detector:   d.Name(),
			Severity:   pipeline.SeverityHigh,
			Confidence: pred.Confidence,
			User:       user,
			Indicators: []string{"ml_detected"},
		}
	}
	return nil
}

func (d *InsiderDetector) bump(counts map[string]int, user string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	counts[user]++
	return counts[user]
}

// Off-hours is 22:00 through 05:59.
func isUnusualHours(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	hour := t.Hour()
	return hour >= 22 || hour < 6
}
