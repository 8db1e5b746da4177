package db

import (
	"context"
	"database/sql"
	"fmt"

	"data-act-broker/internal/errormeta"
	"data-act-broker/internal/model"
)

// UpsertErrorMetadata writes aggregated rows; an existing row with the same
// key has its occurrences added and its descriptive fields replaced.
func (s *Store) UpsertErrorMetadata(ctx context.Context, rows []model.ErrorMetadata) error {
	query := `INSERT INTO error_metadata (job_id, error_key, filename, field_name, error_type, occurrences,
		first_row, rule_failed, original_rule_label, file_type, target_file_type, severity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE occurrences = occurrences + VALUES(occurrences),
			filename = VALUES(filename), rule_failed = VALUES(rule_failed),
			severity = VALUES(severity)`

	return s.InTx(ctx, func(ctx context.Context) error {
		for _, m := range rows {
			_, err := s.conn(ctx).ExecContext(ctx, query, m.JobID, errormeta.Key(m), m.Filename,
				m.FieldName, m.ErrorType, m.Occurrences, m.FirstRow, nullString(m.RuleFailedMessage),
				nullString(m.OriginalRuleLabel), nullString(m.FileType), nullString(m.TargetFileType), m.Severity)
			if err != nil {
				return fmt.Errorf("failed to upsert error metadata for job %d: %w", m.JobID, err)
			}
		}
		return nil
	})
}

func (s *Store) ListErrorMetadata(ctx context.Context, jobID int64) ([]model.ErrorMetadata, error) {
	query := `SELECT id, job_id, filename, field_name, error_type, occurrences, first_row, rule_failed,
		original_rule_label, file_type, target_file_type, severity
		FROM error_metadata WHERE job_id = ? ORDER BY id`

	rows, err := s.conn(ctx).QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ErrorMetadata
	for rows.Next() {
		var (
			m                           model.ErrorMetadata
			rule, label, source, target sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.JobID, &m.Filename, &m.FieldName, &m.ErrorType, &m.Occurrences,
			&m.FirstRow, &rule, &label, &source, &target, &m.Severity); err != nil {
			return nil, err
		}
		m.RuleFailedMessage = stringPtr(rule)
		m.OriginalRuleLabel = stringPtr(label)
		m.FileType = stringPtr(source)
		m.TargetFileType = stringPtr(target)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) DeleteErrorMetadata(ctx context.Context, jobID int64) error {
	_, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM error_metadata WHERE job_id = ?`, jobID)
	return err
}

// CountErrorMetadata sums occurrences of the job's rows by severity.
func (s *Store) CountErrorMetadata(ctx context.Context, jobID int64) (errs, warnings int64, err error) {
	query := `SELECT
		COALESCE(SUM(CASE WHEN severity = ? THEN occurrences ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN severity = ? THEN occurrences ELSE 0 END), 0)
		FROM error_metadata WHERE job_id = ?`
	err = s.conn(ctx).QueryRowContext(ctx, query, model.SeverityFatal, model.SeverityWarning, jobID).
		Scan(&errs, &warnings)
	return errs, warnings, err
}
