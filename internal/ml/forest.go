package ml

import (
	"context"
	"errors"
	"math"
	"math/rand"
)

// RandomForest grows bagged trees on bootstrap samples with per-split
// feature subsampling and balanced class weights.
type RandomForest struct {
	Trees          int
	MaxDepth       int
	MinSamplesLeaf int
	// MaxFeatures <= 0 selects sqrt(d).
	MaxFeatures int
	Balanced    bool
	Seed        int64
}

// DefaultRandomForest returns the production hyperparameters.
func DefaultRandomForest(seed int64) RandomForest {
	return RandomForest{Trees: 200, MaxDepth: 6, MinSamplesLeaf: 1, Balanced: true, Seed: seed}
}

func (rf RandomForest) Name() string { return ModelRandomForest }

// Fit trains the forest. w may be nil.
func (rf RandomForest) Fit(ctx context.Context, x [][]float64, y []int, w []float64) (Model, error) {
	if err := checkTrainingInput(x, y, w); err != nil {
		return nil, err
	}
	n, d := len(x), len(x[0])

	weights := baseWeights(y, w)
	if rf.Balanced {
		cw := BalancedClassWeights(y)
		for i := range weights {
			weights[i] *= cw[y[i]]
		}
	}

	maxFeatures := rf.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = int(math.Max(1, math.Floor(math.Sqrt(float64(d)))))
	}
	params := treeParams{maxDepth: rf.MaxDepth, minSamplesLeaf: rf.MinSamplesLeaf, maxFeatures: maxFeatures}

	target := make([]float64, n)
	for i, label := range y {
		target[i] = float64(label)
	}
	leaf := func(idx []int) float64 {
		var sw, swy float64
		for _, i := range idx {
			sw += weights[i]
			swy += weights[i] * target[i]
		}
		if sw == 0 {
			return 0
		}
		return swy / sw
	}

	rng := rand.New(rand.NewSource(rf.Seed))
	model := &ForestModel{Trees: make([]Tree, rf.Trees)}
	total := make([]float64, d)
	for t := range model.Trees {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		idx := make([]int, n)
		for i := range idx {
			idx[i] = rng.Intn(n)
		}
		imp := make([]float64, d)
		model.Trees[t] = growTree(x, target, weights, idx, params, rng, leaf, imp)
		for j, v := range normalizeIfAny(imp) {
			total[j] += v
		}
	}
	model.Importances = normalize(total)
	return model, nil
}

// ForestModel averages the leaf probabilities of its trees.
type ForestModel struct {
	Trees       []Tree    `json:"trees"`
	Importances []float64 `json:"importances"`
}

func (m *ForestModel) Name() string { return ModelRandomForest }

func (m *ForestModel) PredictProba(x []float64) float64 {
	if len(m.Trees) == 0 {
		return 0
	}
	sum := 0.0
	for i := range m.Trees {
		sum += m.Trees[i].Predict(x)
	}
	return sum / float64(len(m.Trees))
}

func (m *ForestModel) FeatureImportances() []float64 {
	return append([]float64(nil), m.Importances...)
}

// normalizeIfAny normalizes a per-tree importance vector, leaving trees that
// never split as zeros.
func normalizeIfAny(v []float64) []float64 {
	for _, x := range v {
		if x > 0 {
			return normalize(v)
		}
	}
	return v
}

func baseWeights(y []int, w []float64) []float64 {
	out := make([]float64, len(y))
	for i := range out {
		out[i] = 1
		if w != nil {
			out[i] = w[i]
		}
	}
	return out
}

func checkTrainingInput(x [][]float64, y []int, w []float64) error {
	if len(x) == 0 {
		return ErrInsufficientSamples
	}
	if len(x) != len(y) {
		return errors.New("feature and label counts differ")
	}
	if w != nil && len(w) != len(y) {
		return errors.New("weight and label counts differ")
	}
	for _, label := range y {
		if label != 0 && label != 1 {
			return errors.New("labels must be 0 or 1")
		}
	}
	return nil
}
