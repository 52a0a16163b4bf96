package detect

import (
	"context"
	"strings"

	"github.com/gridshield/backend/internal/pipeline"
)

// SCADADetector guards industrial control traffic. It only fires on
// records tied to a known industrial protocol, then matches attack
// indicators in the message.
type SCADADetector struct{}

func NewSCADADetector() *SCADADetector { return &SCADADetector{} }

func (d *SCADADetector) Name() string { return "scada" }

func (d *SCADADetector) Detect(_ context.Context, rec *pipeline.Record) *pipeline.Detection {
	if !isIndustrial(rec) {
		return nil
	}

	message := strings.ToLower(rec.Message)
	if matched := matchIndicators(message, scadaAttackPatterns); len(matched) > 0 {
		return &pipeline.Detection{
			AttackType: pipeline.AttackSCADA,
			Detector:   d.Name(),
			Severity:   pipeline.SeverityCritical,
			Confidence: min(1.0, float64(len(matched))/3.0),
			Indicators: matched,
			Context:    map[string]interface{}{"match_count": len(matched)},
		}
	}

	if pred := rec.Prediction; pred != nil &&
		pred.AttackType == pipeline.AttackSCADA && pred.Confidence > 0.6 {
		return &pipeline.Detection{
			AttackType: pipeline.AttackSCADA,
			Detector:   d.Name(),
			Severity:   pipeline.SeverityCritical,
			Confidence: pred.Confidence,
			Indicators: []string{"ml_detected"},
		}
	}
	return nil
}

func isIndustrial(rec *pipeline.Record) bool {
	protocol := strings.ToLower(rec.Protocol())
	service := strings.ToLower(rec.Service)
	message := strings.ToLower(rec.Message)
	for _, p := range scadaProtocols {
		if strings.Contains(protocol, p) || strings.Contains(service, p) || strings.Contains(message, p) {
			return true
		}
	}
	return false
}
