package features

import (
	"math"
	"sort"

	"github.com/streamwatch/tender-risk/internal/tender"
)

const (
	// DefaultMinCategorySamples is the smallest category size for which
	// percentile and concentration statistics are considered meaningful.
	DefaultMinCategorySamples = 10
	// HighValuePercentile is the per-category amount percentile above which a
	// contract counts as high value.
	HighValuePercentile = 0.95
)

// CategoryStats summarizes one procurement category of the corpus.
type CategoryStats struct {
	Count       int                `json:"count"`
	P95Amount   float64            `json:"p95_amount"`
	BuyerCounts map[string]int     `json:"buyer_counts"`
	BuyerMeans  map[string]float64 `json:"buyer_mean_amounts"`
}

// CorpusStats are computed once over the full corpus and never mutated
// afterwards.
type CorpusStats struct {
	MinSamples int                       `json:"min_samples"`
	Records    int                       `json:"records"`
	Categories map[string]*CategoryStats `json:"categories"`
}

// ComputeStats derives per-category statistics from records.
func ComputeStats(records []tender.Record, minSamples int) *CorpusStats {
	if minSamples <= 0 {
		minSamples = DefaultMinCategorySamples
	}

	amounts := make(map[string][]float64)
	sums := make(map[string]map[string]float64)
	stats := &CorpusStats{
		MinSamples: minSamples,
		Records:    len(records),
		Categories: make(map[string]*CategoryStats),
	}

	for _, r := range records {
		cs, ok := stats.Categories[r.Category]
		if !ok {
			cs = &CategoryStats{
				BuyerCounts: make(map[string]int),
				BuyerMeans:  make(map[string]float64),
			}
			stats.Categories[r.Category] = cs
			sums[r.Category] = make(map[string]float64)
		}
		cs.Count++
		cs.BuyerCounts[r.Buyer]++
		sums[r.Category][r.Buyer] += r.Amount
		amounts[r.Category] = append(amounts[r.Category], r.Amount)
	}

	for cat, cs := range stats.Categories {
		xs := amounts[cat]
		sort.Float64s(xs)
		cs.P95Amount = Quantile(HighValuePercentile, xs)
		for buyer, n := range cs.BuyerCounts {
			cs.BuyerMeans[buyer] = sums[cat][buyer] / float64(n)
		}
	}

	return stats
}

func (s *CorpusStats) category(name string) (*CategoryStats, bool) {
	if s == nil {
		return nil, false
	}
	cs, ok := s.Categories[name]
	return cs, ok
}

// HighValueThreshold returns the p95 amount for category. ok is false when
// the category is unknown or below the minimum sample floor.
func (s *CorpusStats) HighValueThreshold(category string) (float64, bool) {
	cs, ok := s.category(category)
	if !ok || cs.Count < s.MinSamples {
		return 0, false
	}
	if math.IsNaN(cs.P95Amount) || math.IsInf(cs.P95Amount, 0) {
		return 0, false
	}
	return cs.P95Amount, true
}

// BuyerShare returns the buyer's share of the category's tenders, with the
// same sparse-category exemption as HighValueThreshold.
func (s *CorpusStats) BuyerShare(category, buyer string) (float64, bool) {
	cs, ok := s.category(category)
	if !ok || cs.Count < s.MinSamples || cs.Count == 0 {
		return 0, false
	}
	return float64(cs.BuyerCounts[buyer]) / float64(cs.Count), true
}

// BuyerAverage returns the buyer's mean amount within category, or zero when
// the buyer has no history there.
func (s *CorpusStats) BuyerAverage(category, buyer string) float64 {
	cs, ok := s.category(category)
	if !ok {
		return 0
	}
	return cs.BuyerMeans[buyer]
}

// Quantile returns the p-quantile of sorted using linear interpolation
// between order statistics (h = (n-1)p). An empty input yields NaN.
func Quantile(p float64, sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return sorted[0]
	}
	h := float64(n-1) * p
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	if lo < 0 {
		return sorted[0]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}
