package detect

import (
	"context"
	"strings"

	"github.com/gridshield/backend/internal/pipeline"
)

// IntrusionDetector matches scan, brute-force and exploitation indicators,
// then falls back to threat intelligence and the ML classifier.
type IntrusionDetector struct{}

func NewIntrusionDetector() *IntrusionDetector { return &IntrusionDetector{} }

func (d *IntrusionDetector) Name() string { return "network_intrusion" }

func (d *IntrusionDetector) Detect(_ context.Context, rec *pipeline.Record) *pipeline.Detection {
	message := strings.ToLower(rec.Message)
	if matched := matchIndicators(message, intrusionPatterns); len(matched) > 0 {
		return &pipeline.Detection{
			AttackType: pipeline.AttackNetworkIntrusion,
			Detector:   d.Name(),
			Severity:   pipeline.SeverityHigh,
			Confidence: min(1.0, float64(len(matched))/3.0),
			Indicators: matched,
			Context:    map[string]interface{}{"match_count": len(matched)},
		}
	}

	if intel := rec.ThreatIntel; intel != nil && (intel.IsMalicious || intel.IsSuspicious) {
		return &pipeline.Detection{
			AttackType: pipeline.AttackNetworkIntrusion,
			Detector:   d.Name(),
			Severity:   pipeline.SeverityHigh,
			Confidence: float64(intel.Confidence) / 100.0,
			SourceIP:   intel.IP,
			Indicators: []string{"threat_intel"},
		}
	}

	if pred := rec.Prediction; pred != nil &&
		pred.AttackType == pipeline.AttackNetworkIntrusion && pred.Confidence > 0.7 {
		return &pipeline.Detection{
			AttackType: pipeline.AttackNetworkIntrusion,
			Detector:   d.Name(),
			Severity:   pipeline.SeverityHigh,
			Confidence: pred.Confidence,
			Indicators: []string{"ml_detected"},
		}
	}
	return nil
}
