// Package batch scores every input dataset file and writes per-file and
// consolidated outputs.
//
// A run has three stages. All files are loaded in parallel; the scoring
// baseline (corpus statistics, encoders and anomaly detector) is then fitted
// once over every loaded record; only after that barrier are files scored,
// again in parallel. Cancellation is honoured between files.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/streamwatch/tender-risk/internal/anomaly"
	"github.com/streamwatch/tender-risk/internal/artifacts"
	"github.com/streamwatch/tender-risk/internal/monitoring"
	"github.com/streamwatch/tender-risk/internal/predict"
	"github.com/streamwatch/tender-risk/internal/rules"
	"github.com/streamwatch/tender-risk/internal/tender"
)

// ErrNoInputs is returned when the input directory holds no matching files.
var ErrNoInputs = errors.New("no input datasets found")

// Config controls a batch run.
type Config struct {
	InputDir           string         `mapstructure:"input_dir"`
	InputGlob          string         `mapstructure:"input_glob"`
	OutputDir          string         `mapstructure:"output_dir"`
	Workers            int            `mapstructure:"workers"`
	MinCategorySamples int            `mapstructure:"min_category_samples"`
	Anomaly            anomaly.Config `mapstructure:"anomaly"`
}

// DefaultConfig returns the standard layout.
func DefaultConfig() Config {
	return Config{
		InputDir:           "./datasets",
		InputGlob:          "ocds_mapped_procurement_data*.csv",
		OutputDir:          "./output_datasets",
		Workers:            runtime.NumCPU(),
		MinCategorySamples: 10,
		Anomaly:            anomaly.DefaultConfig(),
	}
}

// Discover lists files in dir matching glob, sorted by name.
func Discover(dir, glob string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, glob))
	if err != nil {
		return nil, fmt.Errorf("invalid input pattern %q: %w", glob, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w in %s matching %s", ErrNoInputs, dir, glob)
	}
	sort.Strings(matches)
	return matches, nil
}

// FileSummary reports the outcome for one input file.
type FileSummary struct {
	File            string         `json:"file"`
	Records         int            `json:"records"`
	SkippedRows     int            `json:"skipped_rows"`
	Tiers           map[string]int `json:"risk_tiers,omitempty"`
	Suspicious      int            `json:"predicted_suspicious,omitempty"`
	ScoresPath      string         `json:"scores_path,omitempty"`
	PredictionsPath string         `json:"predictions_path,omitempty"`
	Error           string         `json:"error,omitempty"`
	Cancelled       bool           `json:"cancelled,omitempty"`
}

// Failed reports whether the file produced no outputs.
func (f FileSummary) Failed() bool { return f.Error != "" || f.Cancelled }

// Summary reports a whole batch run.
type Summary struct {
	Phase            string        `json:"phase"`
	StartedAt        time.Time     `json:"started_at"`
	FinishedAt       time.Time     `json:"finished_at"`
	ModelVersion     string        `json:"model_version,omitempty"`
	Files            []FileSummary `json:"files"`
	TotalRecords     int           `json:"total_records"`
	TotalSkipped     int           `json:"total_skipped_rows"`
	FailedFiles      int           `json:"failed_files"`
	ConsolidatedPath string        `json:"consolidated_path,omitempty"`
}

// Options vary a single run.
type Options struct {
	// Phase labels the run in logs and the summary.
	Phase string
	// Baseline, when set, is reused instead of fitting a new one.
	Baseline *artifacts.Baseline
	// Set, when set, adds classifier predictions.
	Set *artifacts.Set
}

// Result is the outcome of Run.
type Result struct {
	Summary  *Summary
	Baseline *artifacts.Baseline
}

// Scorer runs batch scoring jobs.
type Scorer struct {
	cfg     Config
	logger  *monitoring.Logger
	metrics *monitoring.Metrics
}

// NewScorer creates a batch scorer. logger and metrics may be nil.
func NewScorer(cfg Config, logger *monitoring.Logger, metrics *monitoring.Metrics) *Scorer {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = monitoring.NewLogger(io.Discard, 0)
	}
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}
	return &Scorer{cfg: cfg, logger: logger, metrics: metrics}
}

type loaded struct {
	path string
	ds   *tender.Dataset
	err  error
}

// Run scores every discovered input file. Files that cannot be loaded fail
// individually. If ctx is cancelled, files already written stay on disk, the
// consolidated file is not written and ctx.Err() is returned together with
// the partial summary.
func (s *Scorer) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Phase == "" {
		opts.Phase = "score"
	}
	summary := &Summary{Phase: opts.Phase, StartedAt: time.Now().UTC()}
	if opts.Set != nil {
		summary.ModelVersion = opts.Set.Version
	}

	paths, err := Discover(s.cfg.InputDir, s.cfg.InputGlob)
	if err != nil {
		return nil, err
	}

	files, err := s.load(ctx, paths)
	if err != nil {
		return nil, err
	}

	baseline := opts.Baseline
	if baseline == nil {
		baseline, err = s.fitBaseline(files)
		if err != nil {
			return nil, err
		}
	}
	scorer := baseline.Scorer()

	summary.Files = make([]FileSummary, len(files))
	consolidated := make([][]scoredRow, len(files))

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Workers)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			fs := FileSummary{File: filepath.Base(f.path)}
			switch {
			case ctx.Err() != nil:
				fs.Cancelled = true
			case f.err != nil:
				fs.Error = f.err.Error()
				s.logger.FileFailed(fs.File, opts.Phase, f.err)
			default:
				rows, err := s.scoreFile(f, scorer, opts, &fs)
				if err != nil {
					fs.Error = err.Error()
					s.logger.FileFailed(fs.File, opts.Phase, err)
				} else {
					consolidated[i] = rows
				}
			}
			summary.Files[i] = fs
			return nil
		})
	}
	_ = g.Wait()

	for _, fs := range summary.Files {
		summary.TotalRecords += fs.Records
		summary.TotalSkipped += fs.SkippedRows
		if fs.Failed() {
			summary.FailedFiles++
		}
	}

	if err := ctx.Err(); err != nil {
		summary.FinishedAt = time.Now().UTC()
		return &Result{Summary: summary, Baseline: baseline}, err
	}

	var all []scoredRow
	for _, rows := range consolidated {
		all = append(all, rows...)
	}
	if len(all) > 0 {
		path := filepath.Join(s.cfg.OutputDir, ConsolidatedFile)
		if err := tender.WriteCSV(path, ScoresHeader(), sortedCells(all)); err != nil {
			return nil, fmt.Errorf("failed to write consolidated scores: %w", err)
		}
		summary.ConsolidatedPath = path
	}

	summary.FinishedAt = time.Now().UTC()
	if err := tender.WriteJSON(filepath.Join(s.cfg.OutputDir, SummaryFile), summary); err != nil {
		return nil, fmt.Errorf("failed to write batch summary: %w", err)
	}

	if summary.FailedFiles == len(files) {
		return &Result{Summary: summary, Baseline: baseline}, fmt.Errorf("all %d input files failed", len(files))
	}
	return &Result{Summary: summary, Baseline: baseline}, nil
}

// load reads every file concurrently. Per-file errors are kept with the file.
func (s *Scorer) load(ctx context.Context, paths []string) ([]loaded, error) {
	files := make([]loaded, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ds, err := tender.ReadFile(p, tender.RawSchema)
			files[i] = loaded{path: p, ds: ds, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

func (s *Scorer) fitBaseline(files []loaded) (*artifacts.Baseline, error) {
	var records []tender.Record
	var sources []string
	for _, f := range files {
		if f.err != nil {
			continue
		}
		records = append(records, f.ds.Records...)
		sources = append(sources, filepath.Base(f.path))
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no readable records", ErrNoInputs)
	}

	start := time.Now()
	b, err := artifacts.FitBaseline(records, s.cfg.MinCategorySamples, s.cfg.Anomaly, sources)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Scoring baseline fitted",
		"records", len(records),
		"files", len(sources),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return b, nil
}

func (s *Scorer) scoreFile(f loaded, scorer *rules.Scorer, opts Options, fs *FileSummary) ([]scoredRow, error) {
	start := time.Now()
	fs.Records = f.ds.Len()
	fs.SkippedRows = f.ds.Skipped
	fs.Tiers = map[string]int{
		string(rules.TierHigh):   0,
		string(rules.TierMedium): 0,
		string(rules.TierLow):    0,
	}

	assessments := scorer.AssessAll(f.ds.Records)
	rows := make([]scoredRow, len(assessments))
	for i, a := range assessments {
		rows[i] = scoresRow(a)
		fs.Tiers[string(a.Tier)]++
	}
	s.metrics.RecordScored(len(assessments))

	fs.ScoresPath = ScoresPath(s.cfg.OutputDir, f.path)
	if err := tender.WriteCSV(fs.ScoresPath, ScoresHeader(), sortedCells(rows)); err != nil {
		return nil, err
	}

	if opts.Set != nil {
		preds := make([]scoredRow, len(f.ds.Records))
		for i, rec := range f.ds.Records {
			res := predict.Classify(opts.Set, rec)
			preds[i] = predictionsRow(rec, res)
			fs.Suspicious += res.PredictedSuspicious
		}
		fs.PredictionsPath = PredictionsPath(s.cfg.OutputDir, f.path)
		if err := tender.WriteCSV(fs.PredictionsPath, PredictionsHeader(), sortedCells(preds)); err != nil {
			return nil, err
		}
	}

	s.logger.FileScored(fs.File, opts.Phase, fs.Records, fs.SkippedRows, fs.Tiers[string(rules.TierHigh)], time.Since(start))
	return rows, nil
}
