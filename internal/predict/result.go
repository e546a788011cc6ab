package predict

import (
	"github.com/streamwatch/tender-risk/internal/artifacts"
	"github.com/streamwatch/tender-risk/internal/ml"
	"github.com/streamwatch/tender-risk/internal/rules"
	"github.com/streamwatch/tender-risk/internal/tender"
)

// Columns appended to a CSV by batch prediction, in order.
const (
	ColPredicted     = "predicted_suspicious"
	ColProbability   = "suspicion_probability"
	ColPredictedTier = "predicted_risk_tier"
)

// AppendedColumns returns the prediction columns in output order.
func AppendedColumns() []string {
	return []string{ColPredicted, ColProbability, ColPredictedTier}
}

// Result is the classifier output for one tender.
type Result struct {
	PredictedSuspicious int                `json:"predicted_suspicious"`
	Probability         float64            `json:"suspicion_probability"`
	Tier                rules.Tier         `json:"predicted_risk_tier"`
	Features            map[string]float64 `json:"features"`
}

// Classify builds rec's features with the set's statistics and encoders and
// runs the classifier. The probability is rounded to four decimals and the
// hard prediction is taken from the rounded value so both always agree.
func Classify(set *artifacts.Set, rec tender.Record) Result {
	v := set.Builder().Build(rec)
	p := rules.Round(set.Probability(v), 4)
	predicted := 0
	if p >= ml.DecisionThreshold {
		predicted = 1
	}
	return Result{
		PredictedSuspicious: predicted,
		Probability:         p,
		Tier:                rules.TierForProbability(p),
		Features:            v.Map(),
	}
}
