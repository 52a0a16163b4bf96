package detect

import (
	"context"
	"strings"

	"github.com/gridshield/backend/internal/pipeline"
)

// RansomwareDetector matches encryption and ransom-note indicators in the
// message, falling back to a high-confidence ML classification.
type RansomwareDetector struct{}

func NewRansomwareDetector() *RansomwareDetector { return &RansomwareDetector{} }

func (d *RansomwareDetector) Name() string { return "ransomware" }

func (d *RansomwareDetector) Detect(_ context.Context, rec *pipeline.Record) *pipeline.Detection {
	message := strings.ToLower(rec.Message)
	if matched := matchIndicators(message, ransomwarePatterns); len(matched) > 0 {
		return &pipeline.Detection{
			AttackType: pipeline.AttackRansomware,
			Detector:   d.Name(),
			Severity:   pipeline.SeverityCritical,
			Confidence: min(1.0, float64(len(matched))/2.0),
			Indicators: matched,
			Context:    map[string]interface{}{"match_count": len(matched)},
		}
	}

	if pred := rec.Prediction; pred != nil &&
		pred.AttackType == pipeline.AttackRansomware && pred.Confidence > 0.6 {
		return &pipeline.Detection{
			AttackType: pipeline.AttackRansomware,
			Detector:   d.Name(),
			Severity:   pipeline.SeverityCritical,
			Confidence: pred.Confidence,
			Indicators: []string{"ml_detected"},
		}
	}
	return nil
}
