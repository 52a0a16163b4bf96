package detect

import (
	"context"
	"strings"

	"github.com/gridshield/backend/internal/pipeline"
)

// MalwareDetector matches malware family names, C2 traffic and persistence
// indicators, with a high-confidence ML classification as fallback.
type MalwareDetector struct{}

func NewMalwareDetector() *MalwareDetector { return &MalwareDetector{} }

func (d *MalwareDetector) Name() string { return "malware" }

func (d *MalwareDetector) Detect(_ context.Context, rec *pipeline.Record) *pipeline.Detection {
	message := strings.ToLower(rec.Message)
	if matched := matchIndicators(message, malwarePatterns); len(matched) > 0 {
		return &pipeline.Detection{
			AttackType: pipeline.AttackMalware,
			Detector:   d.Name(),
			Severity:   pipeline.SeverityHigh,
			Confidence: min(1.0, float64(len(matched))/2.0),
			Indicators: matched,
			Context:    map[string]interface{}{"match_count": len(matched)},
		}
	}

	if pred := rec.Prediction; pred != nil &&
		pred.AttackType == pipeline.AttackMalware && pred.Confidence > 0.6 {
		return &pipeline.Detection{
			AttackType: pipeline.AttackMalware,
			Detector:   d.Name(),
			Severity:   pipeline.SeverityHigh,
			Confidence: pred.Confidence,
			Indicators: []string{"ml_detected"},
		}
	}
	return nil
}
