package database

import (
	"time"

	"github.com/google/uuid"
)

// Training run statuses.
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Batch job statuses.
const (
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobPartial   = "partial"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// TrainingRun records one classifier training attempt.
type TrainingRun struct {
	ID         string    `json:"id" db:"id"`
	Version    string    `json:"version,omitempty" db:"version"`
	Status     string    `json:"status" db:"status"`
	Model      string    `json:"model,omitempty" db:"model"`
	ROCAUC     float64   `json:"roc_auc" db:"roc_auc"`
	F1         float64   `json:"f1" db:"f1"`
	Samples    int       `json:"samples" db:"samples"`
	Positives  int       `json:"positives" db:"positives"`
	Report     string    `json:"-" db:"report"`
	Error      string    `json:"error,omitempty" db:"error"`
	StartedAt  time.Time `json:"started_at" db:"started_at"`
	FinishedAt time.Time `json:"finished_at" db:"finished_at"`
}

// BatchJob records one batch scoring pass over the input files.
type BatchJob struct {
	ID           string     `json:"id" db:"id"`
	Phase        string     `json:"phase" db:"phase"`
	Status       string     `json:"status" db:"status"`
	FilesTotal   int        `json:"files_total" db:"files_total"`
	FilesFailed  int        `json:"files_failed" db:"files_failed"`
	Records      int        `json:"records" db:"records"`
	Skipped      int        `json:"skipped" db:"skipped"`
	ModelVersion string     `json:"model_version,omitempty" db:"model_version"`
	Summary      string     `json:"-" db:"summary"`
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}

// NewTrainingRun creates a run record with a generated ID
func NewTrainingRun(startedAt time.Time) *TrainingRun {
	return &TrainingRun{
		ID:        uuid.New().String(),
		StartedAt: startedAt,
	}
}

// NewBatchJob creates a running job record with a generated ID
func NewBatchJob(phase string) *BatchJob {
	return &BatchJob{
		ID:        uuid.New().String(),
		Phase:     phase,
		Status:    JobRunning,
		StartedAt: time.Now().UTC(),
	}
}
