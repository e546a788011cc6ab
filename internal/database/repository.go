package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Repository handles database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// InsertTrainingRun stores a finished training run.
func (r *Repository) InsertTrainingRun(run *TrainingRun) error {
	stmt, err := r.db.GetPreparedStatement("insert_training_run")
	if err != nil {
		return err
	}
	_, err = stmt.Exec(
		run.ID, nullable(run.Version), run.Status, nullable(run.Model), run.ROCAUC, run.F1,
		run.Samples, run.Positives, nullable(run.Report), nullable(run.Error),
		run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert training run: %w", err)
	}
	return nil
}

// ListTrainingRuns returns the most recent runs first.
func (r *Repository) ListTrainingRuns(limit int) ([]TrainingRun, error) {
	rows, err := r.db.Query(`
		SELECT id, version, status, model, roc_auc, f1, samples, positives, report, error, started_at, finished_at
		FROM training_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query training runs: %w", err)
	}
	defer rows.Close()

	var runs []TrainingRun
	for rows.Next() {
		var run TrainingRun
		var version, model, report, errText sql.NullString
		var auc, f1 sql.NullFloat64
		if err := rows.Scan(
			&run.ID, &version, &run.Status, &model, &auc, &f1,
			&run.Samples, &run.Positives, &report, &errText,
			&run.StartedAt, &run.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan training run: %w", err)
		}
		run.Version = version.String
		run.Model = model.String
		run.Report = report.String
		run.Error = errText.String
		run.ROCAUC = auc.Float64
		run.F1 = f1.Float64
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// StartBatchJob inserts a running job.
func (r *Repository) StartBatchJob(job *BatchJob) error {
	stmt, err := r.db.GetPreparedStatement("insert_batch_job")
	if err != nil {
		return err
	}
	if _, err := stmt.Exec(job.ID, job.Phase, job.Status, job.StartedAt); err != nil {
		return fmt.Errorf("failed to insert batch job: %w", err)
	}
	return nil
}

// FinishBatchJob stores the final state of a job.
func (r *Repository) FinishBatchJob(job *BatchJob) error {
	now := time.Now().UTC()
	job.FinishedAt = &now

	stmt, err := r.db.GetPreparedStatement("finish_batch_job")
	if err != nil {
		return err
	}
	res, err := stmt.Exec(
		job.Status, job.FilesTotal, job.FilesFailed, job.Records, job.Skipped,
		nullable(job.ModelVersion), nullable(job.Summary), now, job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update batch job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("batch job %s not found", job.ID)
	}
	return nil
}

// GetBatchJob fetches one job by ID.
func (r *Repository) GetBatchJob(id string) (*BatchJob, error) {
	var job BatchJob
	var version, summary sql.NullString
	var finished sql.NullTime
	err := r.db.QueryRow(`
		SELECT id, phase, status, files_total, files_failed, records, skipped, model_version, summary, started_at, finished_at
		FROM batch_jobs
		WHERE id = ?
	`, id).Scan(
		&job.ID, &job.Phase, &job.Status, &job.FilesTotal, &job.FilesFailed,
		&job.Records, &job.Skipped, &version, &summary, &job.StartedAt, &finished,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get batch job: %w", err)
	}
	job.ModelVersion = version.String
	job.Summary = summary.String
	if finished.Valid {
		t := finished.Time
		job.FinishedAt = &t
	}
	return &job, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
