package detect

import (
	"context"
	"math"

	"github.com/gridshield/backend/internal/config"
	"github.com/gridshield/backend/internal/pipeline"
)

// ZeroDayDetector flags records the anomaly model marks as highly
// abnormal while the classifier sees nothing it recognizes.
type ZeroDayDetector struct {
	anomalyThreshold float64
}

func NewZeroDayDetector(cfg config.ZeroDayConfig) *ZeroDayDetector {
	return &ZeroDayDetector{anomalyThreshold: cfg.AnomalyThreshold}
}

func (d *ZeroDayDetector) Name() string { return "zero_day" }

func (d *ZeroDayDetector) Detect(_ context.Context, rec *pipeline.Record) *pipeline.Detection {
	pred := rec.Prediction
	if pred == nil || !pred.IsAnomaly {
		return nil
	}
	if pred.AttackType != pipeline.AttackNormal {
		return nil
	}
	if math.Abs(pred.AnomalyScore) <= d.anomalyThreshold {
		return nil
	}

	return &pipeline.Detection{
		AttackType: pipeline.AttackZeroDay,
		Detector:   d.Name(),
		Severity:   pipeline.SeverityCritical,
		Confidence: min(1.0, math.Abs(pred.AnomalyScore)),
		Context:    map[string]interface{}{"anomaly_score": pred.AnomalyScore},
	}
}
