package detect

import (
	"context"
	"time"

	"github.com/gridshield/backend/internal/config"
	"github.com/gridshield/backend/internal/pipeline"
)

// APTDetector watches for low-and-slow persistence: a source that stays
// active over weeks while keeping its per-day volume small.
type APTDetector struct {
	timelineDays  int
	minActivities int
	timeline      *slidingWindow

	now func() time.Time
}

func NewAPTDetector(cfg config.APTConfig) *APTDetector {
	return &APTDetector{
		timelineDays:  cfg.TimelineDays,
		minActivities: cfg.MinActivities,
		timeline:      newSlidingWindow(time.Duration(cfg.TimelineDays) * 24 * time.Hour),
		now:           time.Now,
	}
}

func (d *APTDetector) Name() string { return "apt" }

func (d *APTDetector) Detect(_ context.Context, rec *pipeline.Record) *pipeline.Detection {
	sourceIP := rec.SourceIP()
	if sourceIP == "" {
		return nil
	}

	now := d.now()
	count := d.timeline.Add(sourceIP, now)
	if count < d.minActivities {
		return nil
	}

	var indicators []string
	spanDays := 0
	if oldest, ok := d.timeline.Oldest(sourceIP); ok {
		spanDays = int(now.Sub(oldest).Hours() / 24)
		if spanDays > 7 && float64(count)/float64(spanDays) < 2 {
			indicators = append(indicators, "low_and_slow")
		}
	}

	if pred := rec.Prediction; pred != nil && pred.AttackType == pipeline.AttackAPT {
		indicators = append(indicators, "ml_detected")
	}

	if len(indicators) == 0 {
		return nil
	}

	return &pipeline.Detection{
		AttackType: pipeline.AttackAPT,
		Detector:   d.Name(),
		Severity:   pipeline.SeverityCritical,
		Confidence: min(1.0, float64(count)/float64(d.minActivities*2)),
		SourceIP:   sourceIP,
		Indicators: indicators,
		Context: map[string]interface{}{
			"activity_count": count,
			"timeline_days":  spanDays,
		},
	}
}
