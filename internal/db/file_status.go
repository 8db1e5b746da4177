package db

import (
	"context"
	"database/sql"
	"fmt"

	"data-act-broker/internal/model"
)

func (s *Store) UpsertFileStatus(ctx context.Context, fs model.FileStatus) error {
	query := `INSERT INTO file_status (job_id, status, headers_missing, headers_duplicated, row_errors_present)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE status = VALUES(status), headers_missing = VALUES(headers_missing),
			headers_duplicated = VALUES(headers_duplicated), row_errors_present = VALUES(row_errors_present)`

	_, err := s.conn(ctx).ExecContext(ctx, query, fs.JobID, fs.Status,
		emptyAsNull(fs.HeadersMissing), emptyAsNull(fs.HeadersDuplicated), fs.RowErrorsPresent)
	if err != nil {
		return fmt.Errorf("failed to upsert file status for job %d: %w", fs.JobID, err)
	}
	return nil
}

// GetFileStatus returns nil without error when the job has no status yet.
func (s *Store) GetFileStatus(ctx context.Context, jobID int64) (*model.FileStatus, error) {
	query := `SELECT job_id, status, headers_missing, headers_duplicated, row_errors_present
		FROM file_status WHERE job_id = ?`

	var (
		fs           model.FileStatus
		missing, dup sql.NullString
	)
	err := s.conn(ctx).QueryRowContext(ctx, query, jobID).Scan(
		&fs.JobID, &fs.Status, &missing, &dup, &fs.RowErrorsPresent)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	fs.HeadersMissing = missing.String
	fs.HeadersDuplicated = dup.String
	return &fs, nil
}

func (s *Store) DeleteFileStatus(ctx context.Context, jobID int64) error {
	_, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM file_status WHERE job_id = ?`, jobID)
	return err
}
