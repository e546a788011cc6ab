package ml

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/streamwatch/tender-risk/internal/features"
)

// Config controls a training run.
type Config struct {
	TestFraction   float64 `json:"test_fraction" mapstructure:"test_fraction"`
	Seed           int64   `json:"seed" mapstructure:"seed"`
	MinSamples     int     `json:"min_samples" mapstructure:"min_samples"`
	CVFolds        int     `json:"cv_folds" mapstructure:"cv_folds"`
	SMOTENeighbors int     `json:"smote_neighbors" mapstructure:"smote_neighbors"`
}

// DefaultConfig returns the production training policy.
func DefaultConfig() Config {
	return Config{
		TestFraction:   0.2,
		Seed:           42,
		MinSamples:     50,
		CVFolds:        5,
		SMOTENeighbors: DefaultNeighbors,
	}
}

// Report is the persisted summary of a training run.
type Report struct {
	Model              string             `json:"model"`
	ROCAUC             float64            `json:"roc_auc"`
	Accuracy           float64            `json:"accuracy"`
	Precision          float64            `json:"precision"`
	Recall             float64            `json:"recall"`
	F1                 float64            `json:"f1_score"`
	ConfusionMatrix    Confusion          `json:"confusion_matrix"`
	CVFolds            int                `json:"cv_folds"`
	CVROCAUCMean       float64            `json:"cv_roc_auc_mean"`
	CVROCAUCStd        float64            `json:"cv_roc_auc_std"`
	FeatureImportances map[string]float64 `json:"feature_importances"`
	Features           []string           `json:"features"`
	TrainSamples       int                `json:"train_samples"`
	TestSamples        int                `json:"test_samples"`
	PositiveSamples    int                `json:"positive_samples"`
	Rebalance          string             `json:"rebalance"`
	Candidates         map[string]Metrics `json:"candidates"`
	Threshold          float64            `json:"threshold"`
	TrainedAt          time.Time          `json:"trained_at"`
}

// Result is the output of a successful training run.
type Result struct {
	Model  Model
	Scaler *features.Scaler
	Report Report
}

// Trainer runs the split, scale, rebalance, fit, evaluate and select steps.
type Trainer struct {
	cfg      Config
	learners []Learner
}

// NewTrainer returns a trainer with the given learners, or the gradient
// boosting and random forest defaults when none are passed.
func NewTrainer(cfg Config, learners ...Learner) *Trainer {
	def := DefaultConfig()
	if cfg.TestFraction <= 0 || cfg.TestFraction >= 1 {
		cfg.TestFraction = def.TestFraction
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.SMOTENeighbors <= 0 {
		cfg.SMOTENeighbors = def.SMOTENeighbors
	}
	if len(learners) == 0 {
		learners = []Learner{DefaultGradientBoosting(cfg.Seed), DefaultRandomForest(cfg.Seed)}
	}
	return &Trainer{cfg: cfg, learners: learners}
}

// Validate checks that a labeled corpus can be trained on.
func (t *Trainer) Validate(y []int) error {
	if len(y) < t.cfg.MinSamples {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientSamples, len(y), t.cfg.MinSamples)
	}
	neg, pos := ClassCounts(y)
	if neg == 0 || pos == 0 {
		return fmt.Errorf("%w: %d negatives, %d positives", ErrSingleClass, neg, pos)
	}
	if neg < 2 || pos < 2 {
		return fmt.Errorf("%w: each class needs at least two samples for a stratified split", ErrInsufficientSamples)
	}
	return nil
}

// Train fits every learner on the rebalanced training partition and returns
// the best candidate by held-out ROC-AUC. The returned report's Threshold is
// left for the caller to fill.
func (t *Trainer) Train(ctx context.Context, vectors []features.Vector, y []int) (*Result, error) {
	if len(vectors) != len(y) {
		return nil, fmt.Errorf("have %d vectors and %d labels", len(vectors), len(y))
	}
	if err := t.Validate(y); err != nil {
		return nil, err
	}

	x := features.Matrix(vectors)
	trainIdx, testIdx := StratifiedSplit(y, t.cfg.TestFraction, t.cfg.Seed)
	xTrain, yTrain := Take(x, y, trainIdx)
	xTest, yTest := Take(x, y, testIdx)

	scaler, err := features.FitScaler(xTrain)
	if err != nil {
		return nil, fmt.Errorf("failed to fit scaler: %w", err)
	}
	xTrain = scaler.Transform(xTrain)
	xTest = scaler.Transform(xTest)

	xBal, yBal, wBal, rebalance := Rebalance(xTrain, yTrain, t.cfg.SMOTENeighbors, t.cfg.Seed)
	slog.Info("Training partition prepared",
		"train", len(xTrain),
		"test", len(xTest),
		"balanced", len(xBal),
		"rebalance", rebalance)

	cands := make([]Candidate, len(t.learners))
	g, gctx := errgroup.WithContext(ctx)
	for i, l := range t.learners {
		i, l := i, l
		g.Go(func() error {
			m, err := l.Fit(gctx, xBal, yBal, wBal)
			if err != nil {
				return fmt.Errorf("failed to train %s: %w", l.Name(), err)
			}
			cands[i] = Candidate{Model: m, Metrics: Evaluate(yTest, PredictAll(m, xTest))}
			slog.Info("Candidate evaluated",
				"model", l.Name(),
				"roc_auc", cands[i].Metrics.ROCAUC,
				"f1", cands[i].Metrics.F1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	best, _ := SelectBest(cands)
	var learner Learner
	for _, l := range t.learners {
		if l.Name() == best.Model.Name() {
			learner = l
		}
	}

	cvMean, cvStd, folds, err := t.crossValidate(ctx, learner, scaler.Transform(x), y)
	if err != nil {
		return nil, err
	}

	_, pos := ClassCounts(y)
	report := Report{
		Model:              best.Model.Name(),
		ROCAUC:             roundTo(best.Metrics.ROCAUC, 4),
		Accuracy:           roundTo(best.Metrics.Accuracy, 4),
		Precision:          roundTo(best.Metrics.Precision, 4),
		Recall:             roundTo(best.Metrics.Recall, 4),
		F1:                 roundTo(best.Metrics.F1, 4),
		ConfusionMatrix:    best.Metrics.Confusion,
		CVFolds:            folds,
		CVROCAUCMean:       roundTo(cvMean, 4),
		CVROCAUCStd:        roundTo(cvStd, 4),
		FeatureImportances: importanceMap(best.Model.FeatureImportances()),
		Features:           features.Columns(),
		TrainSamples:       len(xTrain),
		TestSamples:        len(xTest),
		PositiveSamples:    pos,
		Rebalance:          rebalance,
		Candidates:         make(map[string]Metrics, len(cands)),
		TrainedAt:          time.Now().UTC(),
	}
	for _, c := range cands {
		report.Candidates[c.Model.Name()] = c.Metrics
	}

	return &Result{Model: best.Model, Scaler: scaler, Report: report}, nil
}

// crossValidate reports the mean and population std of ROC-AUC over
// stratified folds, rebalancing only each training fold. Folds whose test
// side holds a single class are skipped; zero folds reports zeros.
func (t *Trainer) crossValidate(ctx context.Context, l Learner, x [][]float64, y []int) (float64, float64, int, error) {
	if t.cfg.CVFolds < 2 {
		return 0, 0, 0, nil
	}
	var aucs []float64
	for n, fold := range StratifiedKFold(y, t.cfg.CVFolds, t.cfg.Seed) {
		if err := ctx.Err(); err != nil {
			return 0, 0, 0, err
		}
		_, testY := Take(x, y, fold.Test)
		if neg, pos := ClassCounts(testY); neg == 0 || pos == 0 {
			continue
		}
		trainX, trainY := Take(x, y, fold.Train)
		if neg, pos := ClassCounts(trainY); neg == 0 || pos == 0 {
			continue
		}
		bx, by, bw, _ := Rebalance(trainX, trainY, t.cfg.SMOTENeighbors, t.cfg.Seed+int64(n))
		m, err := l.Fit(ctx, bx, by, bw)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("cross-validation fold %d: %w", n, err)
		}
		testX, _ := Take(x, y, fold.Test)
		aucs = append(aucs, ROCAUC(testY, PredictAll(m, testX)))
	}
	if len(aucs) == 0 {
		return 0, 0, 0, nil
	}
	mean, std := MeanStd(aucs)
	return mean, std, len(aucs), nil
}

func importanceMap(imp []float64) map[string]float64 {
	cols := features.Columns()
	out := make(map[string]float64, len(cols))
	for i, c := range cols {
		if i < len(imp) {
			out[c] = imp[i]
		}
	}
	return out
}

func roundTo(x float64, decimals int) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	p := math.Pow(10, float64(decimals))
	return math.Round(x*p) / p
}
