package rules

import (
	"fmt"
	"math"
	"strings"

	"github.com/streamwatch/tender-risk/internal/features"
	"github.com/streamwatch/tender-risk/internal/tender"
)

const (
	// RuleShare is the part of the 0-100 scale driven by rule flags.
	RuleShare = 85.0
	// AnomalyShare is the part driven by the continuous anomaly score.
	AnomalyShare = 15.0
)

// Tier buckets a score or probability.
type Tier string

const (
	TierLow    Tier = "Low"
	TierMedium Tier = "Medium"
	TierHigh   Tier = "High"
)

// TierForScore buckets a composite risk score: <30 Low, [30,60) Medium,
// >=60 High.
func TierForScore(score float64) Tier {
	switch {
	case score >= 60:
		return TierHigh
	case score >= 30:
		return TierMedium
	default:
		return TierLow
	}
}

// TierForProbability buckets a classifier probability: >=0.7 High, >=0.3
// Medium. It is unrelated to TierForScore.
func TierForProbability(p float64) Tier {
	switch {
	case p >= 0.7:
		return TierHigh
	case p >= 0.3:
		return TierMedium
	default:
		return TierLow
	}
}

// Composite combines the rule weights and the continuous anomaly score into a
// score on [0,100], rounded to two decimals.
func Composite(weightedSum int, anomalyScore float64) float64 {
	if math.IsNaN(anomalyScore) {
		anomalyScore = 0
	}
	anomalyScore = clamp(anomalyScore, 0, 1)
	score := float64(weightedSum)/float64(MaxWeight)*RuleShare + anomalyScore*AnomalyShare
	return Round(clamp(score, 0, 100), 2)
}

// Round rounds x to the given number of decimals.
func Round(x float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(x*p) / p
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// AnomalyScorer is the part of the anomaly detector the scorer needs.
type AnomalyScorer interface {
	Score(v features.Vector) float64
	Flag(v features.Vector) bool
}

// Assessment is the rule-stage result for a single tender.
type Assessment struct {
	Record       tender.Record   `json:"record"`
	Features     features.Vector `json:"-"`
	Flags        Flags           `json:"-"`
	AnomalyScore float64         `json:"anomaly_score"`
	AnomalyFlag  bool            `json:"ml_anomaly_flag"`
	RiskScore    float64         `json:"risk_score"`
	Tier         Tier            `json:"risk_tier"`
	Explanation  string          `json:"risk_explanation"`
}

// Scorer runs feature building, rule evaluation and anomaly scoring. It is
// safe for concurrent use.
type Scorer struct {
	stats    *features.CorpusStats
	builder  *features.Builder
	detector AnomalyScorer
}

// NewScorer creates a scorer. detector may be nil, in which case every
// anomaly score is zero.
func NewScorer(stats *features.CorpusStats, builder *features.Builder, detector AnomalyScorer) *Scorer {
	if builder == nil {
		builder = features.NewBuilder(stats, nil)
	}
	return &Scorer{stats: stats, builder: builder, detector: detector}
}

// Builder returns the feature builder used by the scorer.
func (s *Scorer) Builder() *features.Builder { return s.builder }

// Assess scores rec.
func (s *Scorer) Assess(rec tender.Record) Assessment {
	v := s.builder.Build(rec)
	flags := Evaluate(rec, s.stats)

	var anomaly float64
	var anomalyFlag bool
	if s.detector != nil {
		anomaly = s.detector.Score(v)
		anomalyFlag = s.detector.Flag(v)
	}

	score := Composite(flags.WeightedSum(), anomaly)
	return Assessment{
		Record:       rec,
		Features:     v,
		Flags:        flags,
		AnomalyScore: anomaly,
		AnomalyFlag:  anomalyFlag,
		RiskScore:    score,
		Tier:         TierForScore(score),
		Explanation:  explain(rec, flags, anomalyFlag),
	}
}

// AssessAll scores every record, preserving order.
func (s *Scorer) AssessAll(records []tender.Record) []Assessment {
	out := make([]Assessment, len(records))
	for i, r := range records {
		out[i] = s.Assess(r)
	}
	return out
}

// explain joins fired flag reasons by descending weight. The anomaly flag is
// display-only and appended last.
func explain(rec tender.Record, flags Flags, anomalyFlag bool) string {
	reasons := flags.Reasons(rec)
	if anomalyFlag {
		reasons = append(reasons, anomalyExplanation)
	}
	if len(reasons) == 0 {
		return noFlagsExplanation
	}
	return strings.Join(reasons, "; ")
}

// BreakdownRow is one line of a score breakdown.
type BreakdownRow struct {
	Flag         string `json:"flag"`
	Fired        bool   `json:"fired"`
	Weight       int    `json:"weight"`
	Contribution int    `json:"contribution"`
}

// Breakdown shows how a risk score was assembled.
type Breakdown struct {
	Rows             []BreakdownRow `json:"flags"`
	WeightedSum      int            `json:"weighted_sum"`
	MaxWeight        int            `json:"max_weight"`
	RuleComponent    float64        `json:"rule_component"`
	AnomalyScore     float64        `json:"anomaly_score"`
	AnomalyComponent float64        `json:"anomaly_component"`
	AnomalyFlag      bool           `json:"ml_anomaly_flag"`
	RiskScore        float64        `json:"risk_score"`
	Tier             Tier           `json:"risk_tier"`
}

// Breakdown returns the per-flag composition of the assessment's score.
func (a Assessment) Breakdown() Breakdown {
	b := Breakdown{
		MaxWeight:    MaxWeight,
		WeightedSum:  a.Flags.WeightedSum(),
		AnomalyScore: a.AnomalyScore,
		AnomalyFlag:  a.AnomalyFlag,
		RiskScore:    a.RiskScore,
		Tier:         a.Tier,
	}
	for _, f := range AllFlags() {
		row := BreakdownRow{Flag: f.Name(), Fired: a.Flags.Has(f), Weight: f.Weight()}
		if row.Fired {
			row.Contribution = row.Weight
		}
		b.Rows = append(b.Rows, row)
	}
	b.RuleComponent = Round(float64(b.WeightedSum)/float64(MaxWeight)*RuleShare, 2)
	b.AnomalyComponent = Round(clamp(a.AnomalyScore, 0, 1)*AnomalyShare, 2)
	return b
}

// String renders the breakdown as a fixed-width table.
func (b Breakdown) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Risk Score: %.2f/100 (Tier: %s)\n\n", b.RiskScore, b.Tier)
	fmt.Fprintf(&sb, "%-28s %-6s %-7s %s\n", "Flag", "Fired", "Weight", "Contribution")
	sb.WriteString(strings.Repeat("-", 60) + "\n")
	for _, r := range b.Rows {
		fired := "no"
		if r.Fired {
			fired = "YES"
		}
		fmt.Fprintf(&sb, "%-28s %-6s %-7d %d\n", r.Flag, fired, r.Weight, r.Contribution)
	}
	sb.WriteString(strings.Repeat("-", 60) + "\n")
	fmt.Fprintf(&sb, "Weighted Sum: %d/%d\n", b.WeightedSum, b.MaxWeight)
	fmt.Fprintf(&sb, "Score: (%d/%d) x %.0f + %.4f x %.0f = %.2f\n",
		b.WeightedSum, b.MaxWeight, RuleShare, b.AnomalyScore, AnomalyShare, b.RiskScore)
	return sb.String()
}
