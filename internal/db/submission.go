package db

import (
	"context"
	"database/sql"
	"fmt"

	"data-act-broker/internal/model"
	"data-act-broker/pkg/errors"
)

const submissionColumns = `id, user_id, cgac_code, frec_code, reporting_start, reporting_end,
	is_quarter_format, is_fabs, publish_status, number_of_errors, number_of_warnings, created_at, updated_at`

func (s *Store) CreateSubmission(ctx context.Context, sub *model.Submission) error {
	if sub.PublishStatus == "" {
		sub.PublishStatus = model.PublishUnpublished
	}
	query := `INSERT INTO submission (user_id, cgac_code, frec_code, reporting_start, reporting_end,
		is_quarter_format, is_fabs, publish_status) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := s.conn(ctx).ExecContext(ctx, query, sub.UserID, nullString(sub.CGACCode), nullString(sub.FRECCode),
		sub.ReportingStart, sub.ReportingEnd, sub.IsQuarterFormat, sub.IsFABS, sub.PublishStatus)
	if err != nil {
		return fmt.Errorf("failed to insert submission: %w", err)
	}
	sub.ID, err = res.LastInsertId()
	return err
}

func (s *Store) GetSubmission(ctx context.Context, id int64) (*model.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submission WHERE id = ?`

	var (
		sub        model.Submission
		cgac, frec sql.NullString
	)
	err := s.conn(ctx).QueryRowContext(ctx, query, id).Scan(
		&sub.ID, &sub.UserID, &cgac, &frec, &sub.ReportingStart, &sub.ReportingEnd,
		&sub.IsQuarterFormat, &sub.IsFABS, &sub.PublishStatus, &sub.NumberOfErrors,
		&sub.NumberOfWarnings, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", errors.ErrSubmissionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	sub.CGACCode = stringPtr(cgac)
	sub.FRECCode = stringPtr(frec)
	return &sub, nil
}

func (s *Store) SetPublishStatus(ctx context.Context, id int64, status model.PublishStatus) error {
	query := `UPDATE submission SET publish_status = ? WHERE id = ?`
	_, err := s.conn(ctx).ExecContext(ctx, query, status, id)
	return err
}

// RollupSubmission recomputes the submission's error and warning totals
// from its validation jobs.
func (s *Store) RollupSubmission(ctx context.Context, id int64) error {
	query := `UPDATE submission SET
		number_of_errors = (SELECT COALESCE(SUM(j.number_of_errors), 0) FROM job j
			WHERE j.submission_id = ? AND j.job_type <> ?),
		number_of_warnings = (SELECT COALESCE(SUM(j.number_of_warnings), 0) FROM job j
			WHERE j.submission_id = ? AND j.job_type <> ?)
		WHERE id = ?`
	_, err := s.conn(ctx).ExecContext(ctx, query,
		id, model.JobFileUpload, id, model.JobFileUpload, id)
	if err != nil {
		return fmt.Errorf("failed to roll up submission %d: %w", id, err)
	}
	return nil
}
