package ml

import (
	"context"
	"math"
	"math/rand"
)

// GradientBoosting fits shallow regression trees to the gradient of the
// binomial deviance, with Newton-step leaf values and row subsampling.
type GradientBoosting struct {
	Trees          int
	MaxDepth       int
	LearningRate   float64
	Subsample      float64
	MinSamplesLeaf int
	Seed           int64
}

// DefaultGradientBoosting returns the production hyperparameters.
func DefaultGradientBoosting(seed int64) GradientBoosting {
	return GradientBoosting{Trees: 200, MaxDepth: 4, LearningRate: 0.1, Subsample: 0.8, MinSamplesLeaf: 1, Seed: seed}
}

func (gb GradientBoosting) Name() string { return ModelGradientBoosting }

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

// Fit trains the ensemble. w may be nil.
func (gb GradientBoosting) Fit(ctx context.Context, x [][]float64, y []int, w []float64) (Model, error) {
	if err := checkTrainingInput(x, y, w); err != nil {
		return nil, err
	}
	n, d := len(x), len(x[0])
	weights := baseWeights(y, w)

	var sw, swy float64
	for i, label := range y {
		sw += weights[i]
		swy += weights[i] * float64(label)
	}
	prior := math.Min(math.Max(swy/sw, 1e-6), 1-1e-6)
	init := math.Log(prior / (1 - prior))

	raw := make([]float64, n)
	for i := range raw {
		raw[i] = init
	}
	prob := make([]float64, n)
	residual := make([]float64, n)

	leaf := func(idx []int) float64 {
		var num, den float64
		for _, i := range idx {
			num += weights[i] * residual[i]
			den += weights[i] * prob[i] * (1 - prob[i])
		}
		if den < 1e-150 {
			return 0
		}
		return num / den
	}

	subsample := gb.Subsample
	if subsample <= 0 || subsample > 1 {
		subsample = 1
	}
	bag := int(math.Max(1, math.Round(subsample*float64(n))))

	rng := rand.New(rand.NewSource(gb.Seed))
	params := treeParams{maxDepth: gb.MaxDepth, minSamplesLeaf: gb.MinSamplesLeaf}
	model := &BoostingModel{Init: init, LearningRate: gb.LearningRate, Trees: make([]Tree, gb.Trees)}
	imp := make([]float64, d)

	for t := range model.Trees {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range raw {
			prob[i] = sigmoid(raw[i])
			residual[i] = float64(y[i]) - prob[i]
		}
		idx := rng.Perm(n)[:bag]
		tree := growTree(x, residual, weights, idx, params, rng, leaf, imp)
		model.Trees[t] = tree
		for i, row := range x {
			raw[i] += gb.LearningRate * tree.Predict(row)
		}
	}

	model.Importances = normalize(imp)
	return model, nil
}

// BoostingModel is a fitted gradient-boosted ensemble.
type BoostingModel struct {
	Init         float64   `json:"init"`
	LearningRate float64   `json:"learning_rate"`
	Trees        []Tree    `json:"trees"`
	Importances  []float64 `json:"importances"`
}

func (m *BoostingModel) Name() string { return ModelGradientBoosting }

func (m *BoostingModel) PredictProba(x []float64) float64 {
	raw := m.Init
	for i := range m.Trees {
		raw += m.LearningRate * m.Trees[i].Predict(x)
	}
	return sigmoid(raw)
}

func (m *BoostingModel) FeatureImportances() []float64 {
	return append([]float64(nil), m.Importances...)
}
