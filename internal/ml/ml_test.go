package ml

import (
	"context"
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamwatch/tender-risk/internal/features"
)

// separable returns n rows where the label is 1 iff x0 + x1 > 1.2.
func separable(n int, seed int64) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	x := make([][]float64, n)
	y := make([]int, n)
	for i := range x {
		a, b := rng.Float64(), rng.Float64()
		x[i] = []float64{a, b, rng.Float64()}
		if a+b > 1.2 {
			y[i] = 1
		}
	}
	return x, y
}

func fastLearners(seed int64) []Learner {
	return []Learner{
		GradientBoosting{Trees: 30, MaxDepth: 3, LearningRate: 0.1, Subsample: 0.8, MinSamplesLeaf: 1, Seed: seed},
		RandomForest{Trees: 30, MaxDepth: 5, MinSamplesLeaf: 1, Balanced: true, Seed: seed},
	}
}

func TestLearnersFitSeparableData(t *testing.T) {
	x, y := separable(300, 1)
	for _, l := range fastLearners(3) {
		t.Run(l.Name(), func(t *testing.T) {
			m, err := l.Fit(context.Background(), x, y, nil)
			require.NoError(t, err)
			assert.Equal(t, l.Name(), m.Name())

			probs := PredictAll(m, x)
			for _, p := range probs {
				assert.GreaterOrEqual(t, p, 0.0)
				assert.LessOrEqual(t, p, 1.0)
			}
			assert.Greater(t, ROCAUC(y, probs), 0.9)

			imp := m.FeatureImportances()
			require.Len(t, imp, 3)
			sum := 0.0
			for _, v := range imp {
				assert.GreaterOrEqual(t, v, 0.0)
				sum += v
			}
			assert.InDelta(t, 1.0, sum, 1e-9)
			assert.Greater(t, imp[0], imp[2])
		})
	}
}

func TestLearnersDeterministic(t *testing.T) {
	x, y := separable(120, 2)
	for _, l := range fastLearners(9) {
		a, err := l.Fit(context.Background(), x, y, nil)
		require.NoError(t, err)
		b, err := l.Fit(context.Background(), x, y, nil)
		require.NoError(t, err)
		assert.Equal(t, PredictAll(a, x), PredictAll(b, x), l.Name())
	}
}

func TestFitHonorsCancellation(t *testing.T) {
	x, y := separable(50, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, l := range fastLearners(1) {
		_, err := l.Fit(ctx, x, y, nil)
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestFitRejectsBadInput(t *testing.T) {
	l := DefaultRandomForest(1)
	_, err := l.Fit(context.Background(), nil, nil, nil)
	assert.ErrorIs(t, err, ErrInsufficientSamples)

	_, err = l.Fit(context.Background(), [][]float64{{1}}, []int{2}, nil)
	assert.Error(t, err)
}

func TestSMOTEBalancesClasses(t *testing.T) {
	x := [][]float64{{0, 0}, {1, 1}, {2, 2}, {3, 3}, {4, 4}, {5, 5}, {10, 10}, {11, 11}}
	y := []int{0, 0, 0, 0, 0, 0, 1, 1}

	bx, by, err := SMOTE{K: 5, Seed: 1}.Resample(x, y)
	require.NoError(t, err)
	neg, pos := ClassCounts(by)
	assert.Equal(t, neg, pos)
	assert.Len(t, bx, 12)

	// Synthetic points lie on the segment between the two minority rows.
	for _, row := range bx[len(x):] {
		assert.GreaterOrEqual(t, row[0], 10.0)
		assert.LessOrEqual(t, row[0], 11.0)
		assert.Equal(t, row[0], row[1])
	}
	// Originals untouched.
	assert.Equal(t, x, bx[:len(x)])
}

func TestRebalanceFallsBackToWeights(t *testing.T) {
	x := [][]float64{{0}, {1}, {2}, {9}}
	y := []int{0, 0, 0, 1}

	_, _, err := SMOTE{}.Resample(x, y)
	assert.ErrorIs(t, err, ErrOversampleUnavailable)

	bx, by, w, how := Rebalance(x, y, 5, 1)
	assert.Equal(t, RebalanceClassWeights, how)
	assert.Equal(t, x, bx)
	assert.Equal(t, y, by)
	assert.InDelta(t, 4.0/6.0, w[0], 1e-9)
	assert.InDelta(t, 2.0, w[3], 1e-9)
}

func TestStratifiedSplitPreservesRatio(t *testing.T) {
	y := make([]int, 100)
	for i := 0; i < 20; i++ {
		y[i] = 1
	}
	train, test := StratifiedSplit(y, 0.2, 42)
	assert.Len(t, test, 20)
	assert.Len(t, train, 80)

	_, pos := ClassCounts(pick(y, test))
	assert.Equal(t, 4, pos)

	seen := map[int]bool{}
	for _, i := range append(append([]int(nil), train...), test...) {
		assert.False(t, seen[i])
		seen[i] = true
	}
	assert.Len(t, seen, 100)
}

func TestStratifiedKFold(t *testing.T) {
	y := make([]int, 50)
	for i := 0; i < 10; i++ {
		y[i] = 1
	}
	folds := StratifiedKFold(y, 5, 1)
	require.Len(t, folds, 5)
	for _, f := range folds {
		assert.Len(t, f.Test, 10)
		assert.Len(t, f.Train, 40)
		_, pos := ClassCounts(pick(y, f.Test))
		assert.Equal(t, 2, pos)
	}
}

func pick(y []int, idx []int) []int {
	out := make([]int, len(idx))
	for n, i := range idx {
		out[n] = y[i]
	}
	return out
}

func TestMetrics(t *testing.T) {
	tests := []struct {
		name  string
		y     []int
		probs []float64
		auc   float64
	}{
		{"perfect", []int{0, 0, 1, 1}, []float64{0.1, 0.2, 0.8, 0.9}, 1},
		{"inverted", []int{0, 0, 1, 1}, []float64{0.9, 0.8, 0.2, 0.1}, 0},
		{"ties", []int{0, 1, 0, 1}, []float64{0.5, 0.5, 0.5, 0.5}, 0.5},
		{"mixed", []int{0, 1, 0, 1}, []float64{0.1, 0.3, 0.35, 0.8}, 0.75},
		{"single class", []int{1, 1}, []float64{0.3, 0.6}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.auc, ROCAUC(tt.y, tt.probs), 1e-9)
		})
	}

	m := Evaluate([]int{1, 1, 0, 0, 1}, []float64{0.9, 0.2, 0.7, 0.1, 0.6})
	assert.Equal(t, Confusion{TP: 2, FP: 1, TN: 1, FN: 1}, m.Confusion)
	assert.InDelta(t, 0.6, m.Accuracy, 1e-9)
	assert.InDelta(t, 2.0/3.0, m.Precision, 1e-9)
	assert.InDelta(t, 2.0/3.0, m.Recall, 1e-9)
	assert.InDelta(t, 2.0/3.0, m.F1, 1e-9)
}

type stubModel struct{ name string }

func (s stubModel) Name() string                   { return s.name }
func (s stubModel) PredictProba([]float64) float64 { return 0 }
func (s stubModel) FeatureImportances() []float64  { return nil }

func TestSelectBest(t *testing.T) {
	tests := []struct {
		name  string
		cands []Candidate
		want  string
	}{
		{"higher auc", []Candidate{
			{stubModel{"a"}, Metrics{ROCAUC: 0.8, F1: 0.9}},
			{stubModel{"b"}, Metrics{ROCAUC: 0.85, F1: 0.1}},
		}, "b"},
		{"tie broken by f1", []Candidate{
			{stubModel{"a"}, Metrics{ROCAUC: 0.8, F1: 0.5}},
			{stubModel{"b"}, Metrics{ROCAUC: 0.8, F1: 0.6}},
		}, "b"},
		{"full tie keeps first", []Candidate{
			{stubModel{"a"}, Metrics{ROCAUC: 0.8, F1: 0.5}},
			{stubModel{"b"}, Metrics{ROCAUC: 0.8, F1: 0.5}},
		}, "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			best, ok := SelectBest(tt.cands)
			require.True(t, ok)
			assert.Equal(t, tt.want, best.Model.Name())
		})
	}

	_, ok := SelectBest(nil)
	assert.False(t, ok)
}

func TestModelEnvelopeRoundTrip(t *testing.T) {
	x, y := separable(80, 4)
	for _, l := range fastLearners(2) {
		m, err := l.Fit(context.Background(), x, y, nil)
		require.NoError(t, err)

		data, err := MarshalModel(m)
		require.NoError(t, err)
		back, err := UnmarshalModel(data)
		require.NoError(t, err)

		assert.Equal(t, m.Name(), back.Name())
		assert.Equal(t, PredictAll(m, x), PredictAll(back, x))
	}

	_, err := UnmarshalModel([]byte(`{"type":"Perceptron","model":{}}`))
	assert.Error(t, err)
}

func vectorsFrom(x [][]float64) []features.Vector {
	out := make([]features.Vector, len(x))
	for i, row := range x {
		copy(out[i][:], row)
	}
	return out
}

func TestTrainerSelectsAndReports(t *testing.T) {
	x, y := separable(200, 5)
	cfg := DefaultConfig()
	cfg.CVFolds = 3
	tr := NewTrainer(cfg, fastLearners(cfg.Seed)...)

	res, err := tr.Train(context.Background(), vectorsFrom(x), y)
	require.NoError(t, err)

	r := res.Report
	assert.Contains(t, []string{ModelGradientBoosting, ModelRandomForest}, r.Model)
	assert.Equal(t, res.Model.Name(), r.Model)
	assert.Equal(t, features.Columns(), r.Features)
	assert.Equal(t, 200, r.TrainSamples+r.TestSamples)
	assert.InDelta(t, 40, r.TestSamples, 1)
	assert.Equal(t, 3, r.CVFolds)
	assert.Greater(t, r.ROCAUC, 0.8)
	assert.Len(t, r.Candidates, 2)

	sum := 0.0
	for _, v := range r.FeatureImportances {
		assert.GreaterOrEqual(t, v, 0.0)
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Len(t, res.Scaler.Mean, features.NumFeatures)

	_, err = json.Marshal(r)
	assert.NoError(t, err)
}

func TestTrainerRejectsUnusableCorpus(t *testing.T) {
	tr := NewTrainer(DefaultConfig(), fastLearners(1)...)

	x, y := separable(20, 6)
	_, err := tr.Train(context.Background(), vectorsFrom(x), y)
	assert.ErrorIs(t, err, ErrInsufficientSamples)

	x, _ = separable(60, 7)
	_, err = tr.Train(context.Background(), vectorsFrom(x), make([]int, 60))
	assert.ErrorIs(t, err, ErrSingleClass)
}
