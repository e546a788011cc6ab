// Package predict serves single and batch inference from an installed
// artifact set.
package predict

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/streamwatch/tender-risk/internal/artifacts"
	"github.com/streamwatch/tender-risk/internal/monitoring"
	"github.com/streamwatch/tender-risk/internal/rules"
	"github.com/streamwatch/tender-risk/internal/tender"
)

var (
	// ErrModelUnavailable is returned for supervised predictions before any
	// artifact set has been installed.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrScoringUnavailable is returned for rule scoring before a baseline
	// has been fitted.
	ErrScoringUnavailable = errors.New("scoring baseline unavailable")
)

// Service answers prediction requests. The artifact set and the baseline are
// each held behind an atomic pointer: a request loads the pointer once and
// uses that value throughout, so a concurrent reload can never mix parts of
// two sets.
type Service struct {
	store    *artifacts.Store
	set      atomic.Pointer[artifacts.Set]
	baseline atomic.Pointer[artifacts.Baseline]
	metrics  *monitoring.Metrics
	logger   *monitoring.Logger
}

// NewService creates a service backed by store. Nothing is loaded until
// Reload or Install is called. metrics and logger may be nil.
func NewService(store *artifacts.Store, metrics *monitoring.Metrics, logger *monitoring.Logger) *Service {
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}
	if logger == nil {
		logger = monitoring.NewLogger(io.Discard, 0)
	}
	return &Service{store: store, metrics: metrics, logger: logger}
}

// Install makes set the active artifact set.
func (s *Service) Install(set *artifacts.Set) error {
	if err := set.Validate(); err != nil {
		return err
	}
	s.set.Store(set)
	return nil
}

// InstallBaseline makes b the active scoring baseline.
func (s *Service) InstallBaseline(b *artifacts.Baseline) error {
	if err := b.Validate(); err != nil {
		return err
	}
	s.baseline.Store(b)
	return nil
}

// Reload reads the current artifact set and baseline from the store. A part
// that fails to load keeps its previously installed value. The returned
// error reports the artifact set; a missing baseline is not an error.
func (s *Service) Reload() error {
	if s.store == nil {
		return ErrModelUnavailable
	}

	if b, err := s.store.LoadBaseline(); err == nil {
		s.baseline.Store(b)
	} else if !errors.Is(err, artifacts.ErrNoBaseline) {
		s.logger.Warn("Failed to load scoring baseline", "error", err)
	}

	set, err := s.store.LoadCurrent()
	if err != nil {
		s.metrics.RecordReload(false)
		if errors.Is(err, artifacts.ErrNoArtifacts) {
			return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
		}
		return err
	}
	s.set.Store(set)
	s.metrics.RecordReload(true)
	s.logger.SystemLogger("model_installed", set.Version)
	return nil
}

// Ready reports whether a model is installed.
func (s *Service) Ready() bool { return s.set.Load() != nil }

// Current returns the installed artifact set or ErrModelUnavailable.
func (s *Service) Current() (*artifacts.Set, error) {
	set := s.set.Load()
	if set == nil {
		s.metrics.IncrementModelUnavailable()
		return nil, ErrModelUnavailable
	}
	return set, nil
}

// Baseline returns the installed baseline or ErrScoringUnavailable.
func (s *Service) Baseline() (*artifacts.Baseline, error) {
	b := s.baseline.Load()
	if b == nil {
		return nil, ErrScoringUnavailable
	}
	return b, nil
}

// Predict classifies one record.
func (s *Service) Predict(rec tender.Record) (Result, string, error) {
	start := time.Now()
	set, err := s.Current()
	if err != nil {
		return Result{}, "", err
	}
	res := Classify(set, rec)
	s.metrics.RecordPrediction(string(res.Tier), res.PredictedSuspicious == 1, false)
	s.logger.PredictionServed("single", 1, set.Version, time.Since(start))
	return res, set.Version, nil
}

// Score runs rule scoring only. It does not need a trained model.
func (s *Service) Score(rec tender.Record) (rules.Assessment, error) {
	b, err := s.Baseline()
	if err != nil {
		return rules.Assessment{}, err
	}
	s.metrics.RecordScored(1)
	return b.Scorer().Assess(rec), nil
}

// Row is one input row of a batch prediction. Result is nil for rows that
// could not be parsed.
type Row struct {
	Line   int      `json:"line"`
	Cells  []string `json:"-"`
	Result *Result  `json:"prediction,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// Batch is the outcome of a batch prediction over one CSV upload.
type Batch struct {
	Version string
	Header  []string
	Rows    []Row
}

// PredictBatch classifies every row of a raw CSV. Every input row yields one
// output row in input order; malformed rows carry an error instead of a
// prediction. A missing required column fails the whole batch with
// tender.ErrMissingColumns.
func (s *Service) PredictBatch(r io.Reader) (*Batch, error) {
	start := time.Now()
	set, err := s.Current()
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: file is empty", tender.ErrMissingColumns)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	ix, err := tender.NewIndex(tender.RawSchema, header)
	if err != nil {
		return nil, err
	}

	out := &Batch{Version: set.Version, Header: header}
	line := 1
	for {
		cells, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		row := Row{Line: line, Cells: cells}
		rec, err := ix.Parse(cells)
		switch {
		case len(cells) > len(header):
			row.Error = fmt.Sprintf("%v: row has %d cells, header has %d", tender.ErrMalformedRow, len(cells), len(header))
		case err != nil:
			row.Error = err.Error()
		default:
			res := Classify(set, rec)
			row.Result = &res
			s.metrics.RecordPrediction(string(res.Tier), res.PredictedSuspicious == 1, true)
		}
		out.Rows = append(out.Rows, row)
	}

	s.logger.PredictionServed("batch", len(out.Rows), set.Version, time.Since(start))
	return out, nil
}

// WriteCSV writes the original header and cells with the three prediction
// columns appended. Short rows are padded to the header width and long rows
// are written in full. Unparseable rows get empty prediction cells.
func (b *Batch) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := append(append([]string(nil), b.Header...), AppendedColumns()...)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range b.Rows {
		width := len(b.Header)
		if len(row.Cells) > width {
			width = len(row.Cells)
		}
		cells := make([]string, width, width+3)
		copy(cells, row.Cells)
		if row.Result != nil {
			cells = append(cells,
				strconv.Itoa(row.Result.PredictedSuspicious),
				strconv.FormatFloat(row.Result.Probability, 'f', 4, 64),
				string(row.Result.Tier),
			)
		} else {
			cells = append(cells, "", "", "")
		}
		if err := cw.Write(cells); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Summary is the JSON form of a batch prediction.
type Summary struct {
	ModelVersion       string         `json:"model_version"`
	TotalRecords       int            `json:"total_records"`
	Predicted          int            `json:"predicted_records"`
	Skipped            int            `json:"skipped_records"`
	Suspicious         int            `json:"suspicious_count"`
	Clean              int            `json:"clean_count"`
	SuspicionRate      float64        `json:"suspicion_rate"`
	TierCounts         map[string]int `json:"tier_counts"`
	AverageProbability float64        `json:"avg_probability"`
	Predictions        []Row          `json:"predictions"`
}

// Summarize aggregates the batch. Rates and averages are over predicted
// rows only.
func (b *Batch) Summarize() Summary {
	s := Summary{
		ModelVersion: b.Version,
		TotalRecords: len(b.Rows),
		TierCounts: map[string]int{
			string(rules.TierHigh):   0,
			string(rules.TierMedium): 0,
			string(rules.TierLow):    0,
		},
		Predictions: b.Rows,
	}
	sum := 0.0
	for _, row := range b.Rows {
		if row.Result == nil {
			s.Skipped++
			continue
		}
		s.Predicted++
		sum += row.Result.Probability
		s.TierCounts[string(row.Result.Tier)]++
		if row.Result.PredictedSuspicious == 1 {
			s.Suspicious++
		} else {
			s.Clean++
		}
	}
	if s.Predicted > 0 {
		s.SuspicionRate = rules.Round(float64(s.Suspicious)/float64(s.Predicted), 4)
		s.AverageProbability = rules.Round(sum/float64(s.Predicted), 4)
	}
	return s
}
