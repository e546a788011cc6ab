package anomaly

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/streamwatch/tender-risk/internal/features"
)

// ErrTooFewSamples is returned when the corpus is too small to isolate points.
var ErrTooFewSamples = errors.New("anomaly detector needs at least two samples")

// Config controls detector fitting.
type Config struct {
	Trees         int     `json:"trees" mapstructure:"trees"`
	SampleSize    int     `json:"sample_size" mapstructure:"sample_size"`
	Contamination float64 `json:"contamination" mapstructure:"contamination"`
	Seed          int64   `json:"seed" mapstructure:"seed"`
}

// DefaultConfig mirrors the tuning used for the yearly datasets.
func DefaultConfig() Config {
	return Config{
		Trees:         200,
		SampleSize:    256,
		Contamination: 0.1,
		Seed:          42,
	}
}

// detectorColumns are the engineered features the detector sees.
var detectorColumns = []int{
	features.FeatLogAmount,
	features.FeatTenderers,
	features.FeatDurationDays,
	features.FeatAmountVsBuyerAvg,
}

// Model is a fitted isolation forest together with the input scaler, the
// min-max bounds used to normalize raw scores to [0,1] and the raw-score
// cutoff for the contamination fraction. All of it is persisted so that
// scores are reproducible across processes.
type Model struct {
	Config     Config           `json:"config"`
	Columns    []int            `json:"columns"`
	Scaler     *features.Scaler `json:"scaler"`
	Trees      []iTree          `json:"trees"`
	SampleSize int              `json:"sample_size"`
	MinRaw     float64          `json:"min_raw"`
	MaxRaw     float64          `json:"max_raw"`
	Cutoff     float64          `json:"cutoff"`
	Fitted     int              `json:"fitted_samples"`
}

// Fit trains a detector over the corpus vectors.
func Fit(vectors []features.Vector, cfg Config) (*Model, error) {
	if len(vectors) < 2 {
		return nil, ErrTooFewSamples
	}
	def := DefaultConfig()
	if cfg.Trees <= 0 {
		cfg.Trees = def.Trees
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = def.SampleSize
	}
	if cfg.Contamination <= 0 || cfg.Contamination >= 0.5 {
		return nil, fmt.Errorf("contamination must be in (0, 0.5), got %v", cfg.Contamination)
	}

	x := project(vectors)
	scaler, err := features.FitScaler(x)
	if err != nil {
		return nil, fmt.Errorf("failed to fit detector scaler: %w", err)
	}
	x = scaler.Transform(x)

	psi := cfg.SampleSize
	if psi > len(x) {
		psi = len(x)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(psi))))

	rng := rand.New(rand.NewSource(cfg.Seed))
	m := &Model{
		Config:     cfg,
		Columns:    append([]int(nil), detectorColumns...),
		Scaler:     scaler,
		Trees:      make([]iTree, cfg.Trees),
		SampleSize: psi,
		Fitted:     len(x),
	}
	for t := range m.Trees {
		idx := rng.Perm(len(x))[:psi]
		m.Trees[t] = buildTree(x, idx, maxDepth, rng)
	}

	raws := make([]float64, len(x))
	for i, row := range x {
		raws[i] = m.rawScaled(row)
	}
	sort.Float64s(raws)
	m.MinRaw = raws[0]
	m.MaxRaw = raws[len(raws)-1]
	m.Cutoff = features.Quantile(1-cfg.Contamination, raws)

	return m, nil
}

func project(vectors []features.Vector) [][]float64 {
	x := make([][]float64, len(vectors))
	for i, v := range vectors {
		row := make([]float64, len(detectorColumns))
		for j, c := range detectorColumns {
			row[j] = v[c]
		}
		x[i] = row
	}
	return x
}

func (m *Model) rawScaled(row []float64) float64 {
	if len(m.Trees) == 0 {
		return 0
	}
	total := 0.0
	for _, t := range m.Trees {
		total += t.pathLength(row)
	}
	mean := total / float64(len(m.Trees))
	c := averagePathLength(m.SampleSize)
	if c == 0 {
		return 0
	}
	return math.Pow(2, -mean/c)
}

// Raw returns the isolation-forest outlier score of v in (0,1]; higher is
// more anomalous. Raw scores are only comparable within one fit.
func (m *Model) Raw(v features.Vector) float64 {
	row := make([]float64, len(m.Columns))
	for j, c := range m.Columns {
		row[j] = v[c]
	}
	return m.rawScaled(m.Scaler.TransformRow(row))
}

// Score returns the raw score min-max normalized against the training
// corpus and clamped to [0,1].
func (m *Model) Score(v features.Vector) float64 {
	span := m.MaxRaw - m.MinRaw
	if span <= 0 {
		return 0
	}
	s := (m.Raw(v) - m.MinRaw) / span
	return math.Max(0, math.Min(1, s))
}

// Flag reports whether v falls within the contamination fraction of the most
// anomalous training points.
func (m *Model) Flag(v features.Vector) bool {
	return m.Raw(v) > m.Cutoff
}

// Validate checks a decoded model for internal consistency.
func (m *Model) Validate() error {
	if m.Scaler == nil || len(m.Trees) == 0 {
		return errors.New("detector model is empty")
	}
	if len(m.Scaler.Mean) != len(m.Columns) {
		return fmt.Errorf("detector scaler has %d columns, expected %d", len(m.Scaler.Mean), len(m.Columns))
	}
	for _, c := range m.Columns {
		if c < 0 || c >= features.NumFeatures {
			return fmt.Errorf("detector column %d out of range", c)
		}
	}
	for i, t := range m.Trees {
		if err := t.validate(len(m.Columns)); err != nil {
			return fmt.Errorf("detector tree %d: %w", i, err)
		}
	}
	return nil
}
