package artifacts

import (
	"fmt"
	"time"

	"github.com/streamwatch/tender-risk/internal/anomaly"
	"github.com/streamwatch/tender-risk/internal/features"
	"github.com/streamwatch/tender-risk/internal/rules"
	"github.com/streamwatch/tender-risk/internal/tender"
)

// Baseline is everything rule scoring needs: corpus statistics, categorical
// encoders and the fitted anomaly detector. It is fitted over the whole input
// corpus before any per-file scoring and is independent of the classifier,
// so rule scores can be produced before a model exists.
type Baseline struct {
	Stats    *features.CorpusStats `json:"stats"`
	Encoders *features.Encoders    `json:"encoders"`
	Detector *anomaly.Model        `json:"detector"`
	Sources  []string              `json:"sources"`
	FittedAt time.Time             `json:"fitted_at"`
}

// FitBaseline computes corpus statistics and encoders over records and fits
// the detector on the resulting feature vectors.
func FitBaseline(records []tender.Record, minSamples int, cfg anomaly.Config, sources []string) (*Baseline, error) {
	stats := features.ComputeStats(records, minSamples)
	encoders := features.FitEncoders(records)
	vectors := features.NewBuilder(stats, encoders).BuildAll(records)

	detector, err := anomaly.Fit(vectors, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to fit anomaly detector: %w", err)
	}

	return &Baseline{
		Stats:    stats,
		Encoders: encoders,
		Detector: detector,
		Sources:  append([]string(nil), sources...),
		FittedAt: time.Now().UTC(),
	}, nil
}

// Builder returns a feature builder bound to the baseline statistics.
func (b *Baseline) Builder() *features.Builder {
	return features.NewBuilder(b.Stats, b.Encoders)
}

// Scorer returns a rule scorer using the baseline detector.
func (b *Baseline) Scorer() *rules.Scorer {
	return rules.NewScorer(b.Stats, b.Builder(), b.Detector)
}

// Validate checks a decoded baseline.
func (b *Baseline) Validate() error {
	if b.Stats == nil || b.Encoders == nil || b.Detector == nil {
		return fmt.Errorf("baseline is incomplete")
	}
	if b.Encoders.Method == nil || b.Encoders.Category == nil || b.Encoders.Buyer == nil {
		return fmt.Errorf("baseline encoders are incomplete")
	}
	return b.Detector.Validate()
}
