package database

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/streamwatch/tender-risk/internal/ml"
)

// RegistryService records training runs and batch jobs. The registry is
// history only; the artifact store decides which model set is current.
type RegistryService struct {
	repo *Repository
}

// NewRegistryService creates a new registry service
func NewRegistryService(repo *Repository) *RegistryService {
	return &RegistryService{repo: repo}
}

// RecordTraining stores the outcome of a training run. A non-nil trainErr
// records a failed run; report is ignored in that case.
func (s *RegistryService) RecordTraining(version string, report *ml.Report, startedAt time.Time, samples, positives int, trainErr error) (*TrainingRun, error) {
	run := NewTrainingRun(startedAt)
	run.FinishedAt = time.Now().UTC()
	run.Samples = samples
	run.Positives = positives

	if trainErr != nil {
		run.Status = RunFailed
		run.Error = trainErr.Error()
	} else {
		run.Status = RunSucceeded
		run.Version = version
		if report != nil {
			data, err := json.Marshal(report)
			if err != nil {
				return nil, fmt.Errorf("failed to encode training report: %w", err)
			}
			run.Model = report.Model
			run.ROCAUC = report.ROCAUC
			run.F1 = report.F1
			run.Report = string(data)
		}
	}

	if err := s.repo.InsertTrainingRun(run); err != nil {
		return nil, err
	}
	return run, nil
}

// History returns the latest training runs.
func (s *RegistryService) History(limit int) ([]TrainingRun, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.ListTrainingRuns(limit)
}

// BeginBatch registers a running batch job.
func (s *RegistryService) BeginBatch(phase string) (*BatchJob, error) {
	job := NewBatchJob(phase)
	if err := s.repo.StartBatchJob(job); err != nil {
		return nil, err
	}
	return job, nil
}

// EndBatch stores the final counters of job along with its JSON summary.
func (s *RegistryService) EndBatch(job *BatchJob, summary interface{}) error {
	if summary != nil {
		data, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("failed to encode batch summary: %w", err)
		}
		job.Summary = string(data)
	}
	return s.repo.FinishBatchJob(job)
}

// Job returns one batch job.
func (s *RegistryService) Job(id string) (*BatchJob, error) {
	return s.repo.GetBatchJob(id)
}
