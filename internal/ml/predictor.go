package ml

import (
	"log/slog"
	"math"

	"github.com/gridshield/backend/internal/pipeline"
)

// AnomalyScorer flags records whose feature vector falls outside the
// learned normal region. Score magnitude grows with abnormality.
type AnomalyScorer interface {
	Score(features FeatureSet) (score float64, isAnomaly bool)
	Trained() bool
}

// AttackClassifier maps a feature vector to an attack type with a
// confidence in [0, 1].
type AttackClassifier interface {
	Classify(features FeatureSet) (attackType string, confidence float64)
	Trained() bool
}

// Ensemble combines the anomaly scorer and the attack classifier. Either
// model may be nil; a nil model simply contributes nothing.
type Ensemble struct {
	scorer     AnomalyScorer
	classifier AttackClassifier

	anomalyWeight        float64
	classificationWeight float64
}

func NewEnsemble(scorer AnomalyScorer, classifier AttackClassifier) *Ensemble {
	return &Ensemble{
		scorer:               scorer,
		classifier:           classifier,
		anomalyWeight:        0.5,
		classificationWeight: 0.5,
	}
}

// Ready reports whether every configured model is trained. A nil model
// counts as ready.
func (m *Ensemble) Ready() bool {
	if m.scorer != nil && !m.scorer.Trained() {
		return false
	}
	if m.classifier != nil && !m.classifier.Trained() {
		return false
	}
	return true
}

// Predict combines both model outputs into one verdict.
func (m *Ensemble) Predict(features FeatureSet) *pipeline.MLPrediction {
	pred := &pipeline.MLPrediction{
		AttackType: pipeline.AttackNormal,
		ModelReady: true,
	}

	if m.scorer != nil && m.scorer.Trained() {
		score, isAnomaly := m.scorer.Score(features)
		pred.AnomalyScore = score
		pred.IsAnomaly = isAnomaly
	}

	if m.classifier != nil && m.classifier.Trained() {
		attackType, confidence := m.classifier.Classify(features)
		pred.AttackType = attackType
		pred.Confidence = confidence
		if attackType != pipeline.AttackNormal && confidence > 0.5 {
			pred.IsAttack = true
		}
	}

	pred.IsThreat = pred.IsAnomaly || pred.IsAttack

	anomalyConfidence := 0.0
	if pred.AnomalyScore != 0 {
		anomalyConfidence = math.Abs(pred.AnomalyScore) / 10.0
	}
	pred.CombinedConfidence = anomalyConfidence*m.anomalyWeight +
		pred.Confidence*m.classificationWeight

	return pred
}

// Predictor extracts features and runs the ensemble for each record. With
// no ensemble, or an untrained one, every record gets the neutral
// prediction so the rule detectors still see a populated field.
type Predictor struct {
	extractor *Extractor
	ensemble  *Ensemble
	log       *slog.Logger
}

func NewPredictor(ensemble *Ensemble, log *slog.Logger) *Predictor {
	return &Predictor{
		extractor: NewExtractor(),
		ensemble:  ensemble,
		log:       log,
	}
}

// Predict annotates the record with the ensemble verdict.
func (p *Predictor) Predict(rec *pipeline.Record) *pipeline.MLPrediction {
	if p.ensemble == nil || !p.ensemble.Ready() {
		return &pipeline.MLPrediction{
			AttackType: pipeline.AttackNormal,
			ModelReady: false,
		}
	}
	features := p.extractor.Extract(rec)
	pred := p.ensemble.Predict(features)
	if pred.IsThreat {
		p.log.Debug("ml threat prediction",
			"attack_type", pred.AttackType,
			"confidence", pred.Confidence,
			"anomaly_score", pred.AnomalyScore)
	}
	return pred
}

// ============================================================================
// Baseline models
// ============================================================================

// ThresholdScorer is the baseline anomaly model: a weighted sum over the
// suspicious text and threat-intel features, anomalous above the cutoff.
// It stands in until a trained model is plugged behind the interface.
type ThresholdScorer struct {
	Cutoff float64
}

func NewThresholdScorer() *ThresholdScorer {
	return &ThresholdScorer{Cutoff: 3.0}
}

func (s *ThresholdScorer) Trained() bool { return true }

func (s *ThresholdScorer) Score(f FeatureSet) (float64, bool) {
	score := f["sql_injection_count"]*2 +
		f["xss_count"]*2 +
		f["path_traversal_count"]*2 +
		f["brute_force_count"] +
		f["is_malicious"]*4 +
		f["is_suspicious"]*2
	if f["log_level"] >= 4 {
		score += 1
	}
	return score, score >= s.Cutoff
}

// RuleClassifier is the baseline attack classifier: pattern-family counts
// vote for an attack type, ties broken by the fixed family order.
type RuleClassifier struct{}

func NewRuleClassifier() *RuleClassifier { return &RuleClassifier{} }

func (c *RuleClassifier) Trained() bool { return true }

func (c *RuleClassifier) Classify(f FeatureSet) (string, float64) {
	type vote struct {
		attackType string
		weight     float64
	}
	votes := []vote{
		{pipeline.AttackNetworkIntrusion, f["sql_injection_count"] + f["xss_count"] + f["path_traversal_count"]},
		{pipeline.AttackMalware, f["command_injection_count"] * f["has_url"]},
		{pipeline.AttackInsiderThreat, f["brute_force_count"] * (1 - f["is_business_hours"])},
	}
	if f["is_malicious"] > 0 {
		votes = append(votes, vote{pipeline.AttackAPT, 2})
	}

	best := vote{attackType: pipeline.AttackNormal}
	for _, v := range votes {
		if v.weight > best.weight {
			best = v
		}
	}
	if best.weight == 0 {
		return pipeline.AttackNormal, 0
	}
	confidence := math.Min(1, best.weight/4)
	return best.attackType, confidence
}
