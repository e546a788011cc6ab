// Package ml trains and evaluates the supervised suspicion classifier.
//
// Learners and fitted models are kept behind two small interfaces so the
// trainer, the selection step and the serving path never depend on a
// particular ensemble implementation.
package ml

import (
	"context"
	"errors"
)

const (
	ModelGradientBoosting = "GradientBoosting"
	ModelRandomForest     = "RandomForest"
)

var (
	// ErrInsufficientSamples is returned when the corpus is below the
	// configured minimum size.
	ErrInsufficientSamples = errors.New("not enough samples to train a classifier")
	// ErrSingleClass is returned when the labels contain only one class.
	ErrSingleClass = errors.New("training labels contain a single class")
)

// Model is a fitted binary classifier.
type Model interface {
	Name() string
	// PredictProba returns the probability of the positive class for one
	// already-scaled feature row.
	PredictProba(x []float64) float64
	// FeatureImportances returns non-negative importances summing to one.
	FeatureImportances() []float64
}

// Learner fits a Model. Implementations must be deterministic for a fixed
// seed and must honor ctx cancellation between trees.
type Learner interface {
	Name() string
	Fit(ctx context.Context, x [][]float64, y []int, w []float64) (Model, error)
}

// PredictAll scores every row of x.
func PredictAll(m Model, x [][]float64) []float64 {
	out := make([]float64, len(x))
	for i, row := range x {
		out[i] = m.PredictProba(row)
	}
	return out
}

// ClassCounts returns the number of negatives and positives in y.
func ClassCounts(y []int) (neg, pos int) {
	for _, label := range y {
		if label == 1 {
			pos++
		} else {
			neg++
		}
	}
	return neg, pos
}

// BalancedClassWeights returns n / (2 * count) per class, the weighting that
// makes both classes contribute equally to the loss.
func BalancedClassWeights(y []int) [2]float64 {
	neg, pos := ClassCounts(y)
	n := float64(len(y))
	var w [2]float64
	if neg > 0 {
		w[0] = n / (2 * float64(neg))
	}
	if pos > 0 {
		w[1] = n / (2 * float64(pos))
	}
	return w
}
