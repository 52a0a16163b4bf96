package ml

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridshield/backend/internal/pipeline"
)

type fixedScorer struct {
	score   float64
	anomaly bool
	trained bool
}

func (s fixedScorer) Score(FeatureSet) (float64, bool) { return s.score, s.anomaly }
func (s fixedScorer) Trained() bool                    { return s.trained }

type fixedClassifier struct {
	attackType string
	confidence float64
	trained    bool
}

func (c fixedClassifier) Classify(FeatureSet) (string, float64) {
	return c.attackType, c.confidence
}
func (c fixedClassifier) Trained() bool { return c.trained }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPredictorNeutralWhenNoEnsemble(t *testing.T) {
	p := NewPredictor(nil, discardLogger())
	pred := p.Predict(&pipeline.Record{Metadata: map[string]interface{}{}})
	require.NotNil(t, pred)
	assert.False(t, pred.ModelReady)
	assert.False(t, pred.IsThreat)
	assert.Equal(t, pipeline.AttackNormal, pred.AttackType)
	assert.Equal(t, 0.0, pred.Confidence)
}

func TestPredictorNeutralWhenUntrained(t *testing.T) {
	ensemble := NewEnsemble(fixedScorer{trained: false}, nil)
	p := NewPredictor(ensemble, discardLogger())
	pred := p.Predict(&pipeline.Record{Metadata: map[string]interface{}{}})
	assert.False(t, pred.ModelReady)
	assert.False(t, pred.IsThreat)
}

func TestEnsembleCombinedConfidence(t *testing.T) {
	ensemble := NewEnsemble(
		fixedScorer{score: 6, anomaly: true, trained: true},
		fixedClassifier{attackType: pipeline.AttackDDoS, confidence: 0.8, trained: true},
	)
	pred := ensemble.Predict(FeatureSet{})

	assert.True(t, pred.IsAnomaly)
	assert.True(t, pred.IsAttack)
	assert.True(t, pred.IsThreat)
	assert.Equal(t, pipeline.AttackDDoS, pred.AttackType)
	// 0.5*|6|/10 + 0.5*0.8
	assert.InDelta(t, 0.7, pred.CombinedConfidence, 1e-9)
}

func TestEnsembleAttackRequiresConfidence(t *testing.T) {
	ensemble := NewEnsemble(nil,
		fixedClassifier{attackType: pipeline.AttackMalware, confidence: 0.4, trained: true})
	pred := ensemble.Predict(FeatureSet{})
	assert.False(t, pred.IsAttack)
	assert.False(t, pred.IsThreat)

	ensemble = NewEnsemble(nil,
		fixedClassifier{attackType: pipeline.AttackNormal, confidence: 0.99, trained: true})
	pred = ensemble.Predict(FeatureSet{})
	assert.False(t, pred.IsAttack)
}

func TestThresholdScorer(t *testing.T) {
	s := NewThresholdScorer()

	_, anomaly := s.Score(FeatureSet{"brute_force_count": 1})
	assert.False(t, anomaly)

	score, anomaly := s.Score(FeatureSet{"is_malicious": 1})
	assert.True(t, anomaly)
	assert.Equal(t, 4.0, score)
}

func TestRuleClassifier(t *testing.T) {
	c := NewRuleClassifier()

	attackType, confidence := c.Classify(FeatureSet{})
	assert.Equal(t, pipeline.AttackNormal, attackType)
	assert.Equal(t, 0.0, confidence)

	attackType, confidence = c.Classify(FeatureSet{"sql_injection_count": 3, "xss_count": 1})
	assert.Equal(t, pipeline.AttackNetworkIntrusion, attackType)
	assert.Equal(t, 1.0, confidence)
}
