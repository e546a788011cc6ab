// Package pipeline drives the offline jobs: rule scoring of every input
// file, classifier training on the consolidated scores, and re-scoring with
// the trained model.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/streamwatch/tender-risk/internal/artifacts"
	"github.com/streamwatch/tender-risk/internal/batch"
	"github.com/streamwatch/tender-risk/internal/database"
	"github.com/streamwatch/tender-risk/internal/features"
	"github.com/streamwatch/tender-risk/internal/ml"
	"github.com/streamwatch/tender-risk/internal/monitoring"
	"github.com/streamwatch/tender-risk/internal/rules"
	"github.com/streamwatch/tender-risk/internal/tender"
)

// Config bundles the settings of every stage.
type Config struct {
	Batch          batch.Config
	Train          ml.Config
	LabelThreshold float64
}

// StageFunc runs one named stage of Run. It must call fn and return its
// error, optionally wrapped.
type StageFunc func(ctx context.Context, name string, fn func(context.Context) error) error

func runStage(ctx context.Context, _ string, fn func(context.Context) error) error {
	return fn(ctx)
}

// Pipeline runs scoring and training jobs against one artifact store.
type Pipeline struct {
	cfg      Config
	store    *artifacts.Store
	registry *database.RegistryService
	logger   *monitoring.Logger
	scorer   *batch.Scorer
	learners []ml.Learner
	stage    StageFunc
}

// New creates a pipeline. registry may be nil, in which case runs are not
// recorded. learners override the default candidates.
func New(cfg Config, store *artifacts.Store, registry *database.RegistryService, logger *monitoring.Logger, metrics *monitoring.Metrics, learners ...ml.Learner) *Pipeline {
	if logger == nil {
		logger = monitoring.NewLogger(io.Discard, 0)
	}
	return &Pipeline{
		cfg:      cfg,
		store:    store,
		registry: registry,
		logger:   logger,
		scorer:   batch.NewScorer(cfg.Batch, logger, metrics),
		learners: learners,
		stage:    runStage,
	}
}

// SetStageHook wraps each stage of Run ("score", "train", "rescore"), e.g.
// to trace it. A nil hook restores the default.
func (p *Pipeline) SetStageHook(hook StageFunc) {
	if hook == nil {
		hook = runStage
	}
	p.stage = hook
}

// ConsolidatedPath is where scoring writes the training corpus.
func (p *Pipeline) ConsolidatedPath() string {
	return filepath.Join(p.cfg.Batch.OutputDir, batch.ConsolidatedFile)
}

// Score runs one batch scoring pass. A nil baseline fits a new one, which is
// then persisted. A nil set writes scores only.
func (p *Pipeline) Score(ctx context.Context, phase string, baseline *artifacts.Baseline, set *artifacts.Set) (*batch.Result, error) {
	job := p.beginBatch(phase)

	res, err := p.scorer.Run(ctx, batch.Options{Phase: phase, Baseline: baseline, Set: set})
	p.endBatch(job, res, set, err)
	if err != nil {
		return res, err
	}

	if baseline == nil {
		if err := p.store.SaveBaseline(res.Baseline); err != nil {
			return res, fmt.Errorf("failed to persist scoring baseline: %w", err)
		}
	}
	return res, nil
}

// Train fits a classifier on the consolidated scores file and installs the
// result as the current artifact set. On any failure nothing is saved and the
// previous set stays current.
func (p *Pipeline) Train(ctx context.Context, baseline *artifacts.Baseline) (*artifacts.Set, error) {
	startedAt := time.Now().UTC()

	if baseline == nil {
		b, err := p.store.LoadBaseline()
		if err != nil {
			return nil, fmt.Errorf("run scoring before training: %w", err)
		}
		baseline = b
	}

	vectors, labels, err := p.labeledCorpus(baseline)
	if err != nil {
		p.recordTraining("", nil, startedAt, len(labels), labels, err)
		return nil, err
	}

	res, err := ml.NewTrainer(p.cfg.Train, p.learners...).Train(ctx, vectors, labels)
	if err != nil {
		p.recordTraining("", nil, startedAt, len(labels), labels, err)
		return nil, err
	}

	res.Report.Threshold = rules.NewLabelDeriver(p.cfg.LabelThreshold).Threshold
	set := &artifacts.Set{
		Model:    res.Model,
		Scaler:   res.Scaler,
		Encoders: baseline.Encoders,
		Stats:    baseline.Stats,
		Columns:  features.Columns(),
		Report:   res.Report,
	}
	version, err := p.store.Save(set)
	if err != nil {
		p.recordTraining("", nil, startedAt, len(labels), labels, err)
		return nil, err
	}

	p.recordTraining(version, &set.Report, startedAt, len(labels), labels, nil)
	p.logger.TrainingCompleted(version, set.Report.Model, set.Report.ROCAUC, set.Report.F1, len(labels), time.Since(startedAt))
	return set, nil
}

// labeledCorpus reads the consolidated scores and derives a label for each
// record from its composite risk score.
func (p *Pipeline) labeledCorpus(baseline *artifacts.Baseline) ([]features.Vector, []int, error) {
	ds, err := tender.ReadFile(p.ConsolidatedPath(), tender.ScoredSchema)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read training corpus: %w", err)
	}
	scores, err := ds.FloatColumn(tender.ColRiskScore)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read training corpus: %w", err)
	}

	deriver := rules.NewLabelDeriver(p.cfg.LabelThreshold)
	labels := make([]int, len(scores))
	for i, s := range scores {
		labels[i] = deriver.Label(s)
	}
	return baseline.Builder().BuildAll(ds.Records), labels, nil
}

// RunResult summarizes a full score, train and re-score run.
type RunResult struct {
	Scoring   *batch.Summary
	Set       *artifacts.Set
	Rescoring *batch.Summary
}

// Run scores every input file, trains on the consolidated corpus and
// re-scores every file with the new model. The re-scoring pass reuses the
// baseline of the first pass so rule scores do not move.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	out := &RunResult{}

	var first *batch.Result
	err := p.stage(ctx, "score", func(ctx context.Context) error {
		var err error
		first, err = p.Score(ctx, "score", nil, nil)
		return err
	})
	if first != nil {
		out.Scoring = first.Summary
	}
	if err != nil {
		return out, err
	}

	err = p.stage(ctx, "train", func(ctx context.Context) error {
		var err error
		out.Set, err = p.Train(ctx, first.Baseline)
		return err
	})
	if err != nil {
		return out, err
	}

	err = p.stage(ctx, "rescore", func(ctx context.Context) error {
		second, err := p.Score(ctx, "rescore", first.Baseline, out.Set)
		if second != nil {
			out.Rescoring = second.Summary
		}
		return err
	})
	return out, err
}

func (p *Pipeline) beginBatch(phase string) *database.BatchJob {
	if p.registry == nil {
		return nil
	}
	job, err := p.registry.BeginBatch(phase)
	if err != nil {
		p.logger.Warn("Failed to register batch job", "phase", phase, "error", err)
		return nil
	}
	return job
}

func (p *Pipeline) endBatch(job *database.BatchJob, res *batch.Result, set *artifacts.Set, runErr error) {
	if job == nil {
		return
	}

	var summary *batch.Summary
	if res != nil {
		summary = res.Summary
	}
	switch {
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		job.Status = database.JobCancelled
	case runErr != nil:
		job.Status = database.JobFailed
	case summary != nil && summary.FailedFiles > 0:
		job.Status = database.JobPartial
	default:
		job.Status = database.JobSucceeded
	}
	if summary != nil {
		job.FilesTotal = len(summary.Files)
		job.FilesFailed = summary.FailedFiles
		job.Records = summary.TotalRecords
		job.Skipped = summary.TotalSkipped
	}
	if set != nil {
		job.ModelVersion = set.Version
	}

	var payload interface{}
	if summary != nil {
		payload = summary
	}
	if err := p.registry.EndBatch(job, payload); err != nil {
		p.logger.Warn("Failed to record batch job", "id", job.ID, "error", err)
	}
}

func (p *Pipeline) recordTraining(version string, report *ml.Report, startedAt time.Time, samples int, labels []int, trainErr error) {
	_, positives := ml.ClassCounts(labels)
	if trainErr != nil {
		p.logger.TrainingFailed(trainErr, samples)
	}
	if p.registry == nil {
		return
	}
	if _, err := p.registry.RecordTraining(version, report, startedAt, samples, positives, trainErr); err != nil {
		p.logger.Warn("Failed to record training run", "error", err)
	}
}
