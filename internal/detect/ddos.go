package detect

import (
	"context"
	"time"

	"github.com/gridshield/backend/internal/config"
	"github.com/gridshield/backend/internal/pipeline"
)

// DDoSDetector trips when one source IP floods the ingest stream. The
// configured rps_threshold is a per-window request budget: the effective
// per-second rate limit is rps_threshold/window_seconds.
type DDoSDetector struct {
	threshold float64 // requests per second
	window    time.Duration
	requests  *slidingWindow

	now func() time.Time
}

func NewDDoSDetector(cfg config.DDoSConfig) *DDoSDetector {
	window := time.Duration(cfg.WindowSeconds) * time.Second
	return &DDoSDetector{
		threshold: float64(cfg.RPSThreshold) / float64(cfg.WindowSeconds),
		window:    window,
		requests:  newSlidingWindow(window),
		now:       time.Now,
	}
}

func (d *DDoSDetector) Name() string { return "ddos" }

func (d *DDoSDetector) Detect(_ context.Context, rec *pipeline.Record) *pipeline.Detection {
	sourceIP := rec.SourceIP()
	if sourceIP == "" {
		return nil
	}

	count := d.requests.Add(sourceIP, d.now())
	rps := float64(count) / d.window.Seconds()
	if rps <= d.threshold {
		return nil
	}

	return &pipeline.Detection{
		AttackType: pipeline.AttackDDoS,
		Detector:   d.Name(),
		Severity:   pipeline.SeverityHigh,
		Confidence: min(1.0, rps/(d.threshold*2)),
		SourceIP:   sourceIP,
		Context: map[string]interface{}{
			"requests_per_second": rps,
			"request_count":       count,
			"threshold":           d.threshold,
		},
	}
}
