package predict

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/streamwatch/tender-risk/internal/features"
	"github.com/streamwatch/tender-risk/internal/rules"
	"github.com/streamwatch/tender-risk/internal/tender"
)

// DistributionBins is the number of equal-width histogram bins over [0,100].
const DistributionBins = 20

// Bin is one histogram bucket, [Lower, Upper). The last bin includes 100.
type Bin struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int     `json:"count"`
}

// Distribution summarizes the composite risk scores of a scored corpus.
type Distribution struct {
	Total      int            `json:"total"`
	Mean       float64        `json:"mean"`
	Median     float64        `json:"median"`
	Std        float64        `json:"std"`
	Bins       []Bin          `json:"bins"`
	TierCounts map[string]int `json:"tier_counts"`
}

// RiskDistribution computes histogram and summary statistics for scores.
func RiskDistribution(scores []float64) Distribution {
	width := 100.0 / DistributionBins
	d := Distribution{
		Total: len(scores),
		Bins:  make([]Bin, DistributionBins),
		TierCounts: map[string]int{
			string(rules.TierHigh):   0,
			string(rules.TierMedium): 0,
			string(rules.TierLow):    0,
		},
	}
	for i := range d.Bins {
		d.Bins[i] = Bin{Lower: float64(i) * width, Upper: float64(i+1) * width}
	}
	if len(scores) == 0 {
		return d
	}

	for _, s := range scores {
		i := int(s / width)
		if i >= DistributionBins {
			i = DistributionBins - 1
		}
		if i < 0 {
			i = 0
		}
		d.Bins[i].Count++
		d.TierCounts[string(rules.TierForScore(s))]++
	}

	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	d.Mean = rules.Round(stat.Mean(scores, nil), 2)
	d.Median = rules.Round(features.Quantile(0.5, sorted), 2)
	if len(scores) > 1 {
		d.Std = rules.Round(stat.StdDev(scores, nil), 2)
	}
	return d
}

// ReadRiskDistribution loads a consolidated scores file and summarizes its
// risk_score column.
func ReadRiskDistribution(path string) (Distribution, error) {
	ds, err := tender.ReadFile(path, tender.ScoredSchema)
	if err != nil {
		return Distribution{}, err
	}
	scores, err := ds.FloatColumn(tender.ColRiskScore)
	if err != nil {
		return Distribution{}, fmt.Errorf("%s: %w", ds.Name, err)
	}
	return RiskDistribution(scores), nil
}
