package db

import (
	"context"
	"database/sql"
	"fmt"

	"data-act-broker/internal/model"
)

const ruleColumns = `id, rule_label, severity, file_type, target_file_type, cross_file_flag,
	sql_text, error_message, query_name, active`

// UpsertRules inserts or refreshes rules keyed by (label, file, target).
func (s *Store) UpsertRules(ctx context.Context, rules []model.RuleSQL) error {
	query := `INSERT INTO rule_sql (rule_label, severity, file_type, target_file_type, cross_file_flag,
		sql_text, error_message, query_name, active) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE severity = VALUES(severity), cross_file_flag = VALUES(cross_file_flag),
			sql_text = VALUES(sql_text), error_message = VALUES(error_message),
			query_name = VALUES(query_name), active = VALUES(active)`

	return s.InTx(ctx, func(ctx context.Context) error {
		for _, r := range rules {
			_, err := s.conn(ctx).ExecContext(ctx, query, r.RuleLabel, r.Severity, r.FileType,
				nullString(r.TargetFileType), r.CrossFileFlag, r.SQLText, r.ErrorMessage,
				nullString(r.QueryName), r.Active)
			if err != nil {
				return fmt.Errorf("failed to upsert rule %s: %w", r.RuleLabel, err)
			}
		}
		return nil
	})
}

// ActiveRules returns the active rules of a file type. A nil target selects
// single-file rules; otherwise cross-file rules for that target.
func (s *Store) ActiveRules(ctx context.Context, fileType string, target *string) ([]model.RuleSQL, error) {
	query := `SELECT ` + ruleColumns + ` FROM rule_sql
		WHERE active = TRUE AND file_type = ? AND target_key = ? ORDER BY rule_label`
	return s.queryRules(ctx, query, fileType, derefString(target))
}

// AllActiveRules returns every active rule.
func (s *Store) AllActiveRules(ctx context.Context) ([]model.RuleSQL, error) {
	query := `SELECT ` + ruleColumns + ` FROM rule_sql WHERE active = TRUE ORDER BY file_type, target_key, rule_label`
	return s.queryRules(ctx, query)
}

func (s *Store) queryRules(ctx context.Context, query string, args ...interface{}) ([]model.RuleSQL, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RuleSQL
	for rows.Next() {
		var (
			r                 model.RuleSQL
			target, queryName sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.RuleLabel, &r.Severity, &r.FileType, &target, &r.CrossFileFlag,
			&r.SQLText, &r.ErrorMessage, &queryName, &r.Active); err != nil {
			return nil, err
		}
		r.TargetFileType = stringPtr(target)
		r.QueryName = stringPtr(queryName)
		out = append(out, r)
	}
	return out, rows.Err()
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
