package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"data-act-broker/internal/model"
	"data-act-broker/pkg/errors"
)

const jobColumns = `j.id, j.submission_id, j.file_type, j.job_type, j.status, j.original_filename,
	j.storage_filename, j.file_size, j.number_of_rows, j.number_of_errors, j.number_of_warnings,
	j.report_path, j.error_message, j.created_at, j.updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var (
		job                                      model.Job
		fileType, original, storage, report, msg sql.NullString
	)
	err := row.Scan(&job.ID, &job.SubmissionID, &fileType, &job.JobType, &job.Status, &original,
		&storage, &job.FileSize, &job.NumberOfRows, &job.NumberOfErrors, &job.NumberOfWarnings,
		&report, &msg, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	job.FileType = stringPtr(fileType)
	job.OriginalFilename = stringPtr(original)
	job.StorageFilename = stringPtr(storage)
	job.ReportPath = stringPtr(report)
	job.ErrorMessage = stringPtr(msg)
	return &job, nil
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...interface{}) ([]model.Job, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (s *Store) CreateJob(ctx context.Context, job *model.Job) error {
	if job.Status == "" {
		job.Status = model.JobWaiting
	}
	query := `INSERT INTO job (submission_id, file_type, job_type, status, original_filename, storage_filename, file_size)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	res, err := s.conn(ctx).ExecContext(ctx, query, job.SubmissionID, nullString(job.FileType), job.JobType,
		job.Status, nullString(job.OriginalFilename), nullString(job.StorageFilename), job.FileSize)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	job.ID, err = res.LastInsertId()
	return err
}

func (s *Store) GetJob(ctx context.Context, id int64) (*model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM job j WHERE j.id = ?`

	job, err := scanJob(s.conn(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", errors.ErrJobNotFound, id)
	}
	return job, err
}

func (s *Store) ListJobs(ctx context.Context, submissionID int64) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM job j WHERE j.submission_id = ? ORDER BY j.id`
	return s.queryJobs(ctx, query, submissionID)
}

func (s *Store) AddDependency(ctx context.Context, jobID, prerequisiteID int64) error {
	query := `INSERT INTO job_dependency (job_id, prerequisite_id) VALUES (?, ?)`
	_, err := s.conn(ctx).ExecContext(ctx, query, jobID, prerequisiteID)
	return err
}

// Prerequisites returns the jobs the given job depends on.
func (s *Store) Prerequisites(ctx context.Context, jobID int64) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM job j
		JOIN job_dependency d ON d.prerequisite_id = j.id
		WHERE d.job_id = ? ORDER BY j.id`
	return s.queryJobs(ctx, query, jobID)
}

// Dependents returns the jobs that depend on the given job.
func (s *Store) Dependents(ctx context.Context, jobID int64) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM job j
		JOIN job_dependency d ON d.job_id = j.id
		WHERE d.prerequisite_id = ? ORDER BY j.id`
	return s.queryJobs(ctx, query, jobID)
}

// TransitionJob moves a job from one status to another only if it is still
// in the expected status.
func (s *Store) TransitionJob(ctx context.Context, id int64, from, to model.JobStatus) error {
	query := `UPDATE job SET status = ? WHERE id = ? AND status = ?`
	res, err := s.conn(ctx).ExecContext(ctx, query, to, id, from)
	if err != nil {
		return fmt.Errorf("failed to update job %d status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: job %d is not %s", errors.ErrInvalidTransition, id, from)
	}
	return nil
}

func (s *Store) RecordOutcome(ctx context.Context, id int64, outcome model.JobOutcome) error {
	query := `UPDATE job SET number_of_rows = ?, number_of_errors = ?, number_of_warnings = ?,
		file_size = ?, report_path = ?, error_message = ? WHERE id = ?`
	_, err := s.conn(ctx).ExecContext(ctx, query, outcome.NumberOfRows, outcome.NumberOfErrors,
		outcome.NumberOfWarnings, outcome.FileSize, emptyAsNull(outcome.ReportPath),
		emptyAsNull(outcome.ErrorMessage), id)
	if err != nil {
		return fmt.Errorf("failed to record outcome of job %d: %w", id, err)
	}
	return nil
}

func (s *Store) SetUploadFile(ctx context.Context, id int64, storageFilename string, size int64) error {
	query := `UPDATE job SET storage_filename = ?, file_size = ? WHERE id = ?`
	_, err := s.conn(ctx).ExecContext(ctx, query, storageFilename, size, id)
	return err
}

// DeleteJobs removes jobs; dependencies, file status and error metadata
// cascade.
func (s *Store) DeleteJobs(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `DELETE FROM job WHERE id IN (` + placeholders + `)`
	_, err := s.conn(ctx).ExecContext(ctx, query, args...)
	return err
}

func emptyAsNull(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
