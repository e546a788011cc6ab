package ml

import (
	"math"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// DecisionThreshold turns a probability into a hard prediction.
const DecisionThreshold = 0.5

// Confusion holds binary confusion counts for the positive class.
type Confusion struct {
	TP int `json:"tp"`
	FP int `json:"fp"`
	TN int `json:"tn"`
	FN int `json:"fn"`
}

// Metrics are the held-out evaluation results of one candidate.
type Metrics struct {
	ROCAUC    float64   `json:"roc_auc"`
	Accuracy  float64   `json:"accuracy"`
	Precision float64   `json:"precision"`
	Recall    float64   `json:"recall"`
	F1        float64   `json:"f1"`
	Confusion Confusion `json:"confusion_matrix"`
}

// NewConfusion thresholds probs at DecisionThreshold against y.
func NewConfusion(y []int, probs []float64) Confusion {
	var c Confusion
	for i, p := range probs {
		predicted := p >= DecisionThreshold
		switch {
		case predicted && y[i] == 1:
			c.TP++
		case predicted:
			c.FP++
		case y[i] == 1:
			c.FN++
		default:
			c.TN++
		}
	}
	return c
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func (c Confusion) Accuracy() float64 { return ratio(c.TP+c.TN, c.TP+c.TN+c.FP+c.FN) }

func (c Confusion) Precision() float64 { return ratio(c.TP, c.TP+c.FP) }

func (c Confusion) Recall() float64 { return ratio(c.TP, c.TP+c.FN) }

// F1 is the harmonic mean of precision and recall, 0 when both are 0.
func (c Confusion) F1() float64 {
	p, r := c.Precision(), c.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// ROCAUC computes the area under the ROC curve with the trapezoid rule. Tied
// scores are handled by gonum's ROC, which emits one point per distinct
// score. A single-class y has no defined curve and yields 0.5.
func ROCAUC(y []int, probs []float64) float64 {
	neg, pos := ClassCounts(y)
	if neg == 0 || pos == 0 {
		return 0.5
	}
	scores := append([]float64(nil), probs...)
	classes := make([]bool, len(y))
	for i, label := range y {
		classes[i] = label == 1
	}
	stat.SortWeightedLabeled(scores, classes, nil)
	tpr, fpr, _ := stat.ROC(nil, scores, classes, nil)
	return integrate.Trapezoidal(fpr, tpr)
}

// Evaluate computes all held-out metrics.
func Evaluate(y []int, probs []float64) Metrics {
	c := NewConfusion(y, probs)
	return Metrics{
		ROCAUC:    ROCAUC(y, probs),
		Accuracy:  c.Accuracy(),
		Precision: c.Precision(),
		Recall:    c.Recall(),
		F1:        c.F1(),
		Confusion: c,
	}
}

// MeanStd returns the mean and population standard deviation of v.
func MeanStd(v []float64) (float64, float64) {
	if len(v) == 0 {
		return math.NaN(), math.NaN()
	}
	return stat.PopMeanStdDev(v, nil)
}
