package db

import (
	"context"
	"database/sql"
	"fmt"

	"data-act-broker/internal/model"
)

// RuleSettings returns the settings of one agency (nil for the global
// defaults) for a file, target and severity, by ascending priority.
func (s *Store) RuleSettings(ctx context.Context, agencyCode *string, fileType string, target *string, severity model.Severity) ([]model.RuleSetting, error) {
	query := `SELECT id, agency_code, rule_label, file_type, target_file_type, severity, priority, impact
		FROM rule_setting
		WHERE agency_key = ? AND file_type = ? AND target_key = ? AND severity = ?
		ORDER BY priority, rule_label`

	rows, err := s.conn(ctx).QueryContext(ctx, query, derefString(agencyCode), fileType, derefString(target), severity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RuleSetting
	for rows.Next() {
		var (
			rs          model.RuleSetting
			agency, tgt sql.NullString
		)
		if err := rows.Scan(&rs.ID, &agency, &rs.RuleLabel, &rs.FileType, &tgt, &rs.Severity,
			&rs.Priority, &rs.Impact); err != nil {
			return nil, err
		}
		rs.AgencyCode = stringPtr(agency)
		rs.TargetFileType = stringPtr(tgt)
		out = append(out, rs)
	}
	return out, rows.Err()
}

// ReplaceRuleSettings swaps an agency's settings for one file, target and
// severity with the given rows.
func (s *Store) ReplaceRuleSettings(ctx context.Context, agencyCode string, fileType string, target *string, severity model.Severity, settings []model.RuleSetting) error {
	return s.InTx(ctx, func(ctx context.Context) error {
		del := `DELETE FROM rule_setting WHERE agency_key = ? AND file_type = ? AND target_key = ? AND severity = ?`
		if _, err := s.conn(ctx).ExecContext(ctx, del, agencyCode, fileType, derefString(target), severity); err != nil {
			return fmt.Errorf("failed to clear rule settings: %w", err)
		}
		agency := agencyCode
		for _, rs := range settings {
			rs.AgencyCode = &agency
			if err := s.insertRuleSetting(ctx, rs, false); err != nil {
				return err
			}
		}
		return nil
	})
}

// EnsureDefaultSettings inserts global defaults that do not exist yet;
// existing rows keep their priority and impact.
func (s *Store) EnsureDefaultSettings(ctx context.Context, settings []model.RuleSetting) error {
	return s.InTx(ctx, func(ctx context.Context) error {
		for _, rs := range settings {
			rs.AgencyCode = nil
			if err := s.insertRuleSetting(ctx, rs, true); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) insertRuleSetting(ctx context.Context, rs model.RuleSetting, ignoreExisting bool) error {
	verb := "INSERT"
	if ignoreExisting {
		verb = "INSERT IGNORE"
	}
	query := verb + ` INTO rule_setting (agency_code, rule_label, file_type, target_file_type, severity, priority, impact)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.conn(ctx).ExecContext(ctx, query, nullString(rs.AgencyCode), rs.RuleLabel, rs.FileType,
		nullString(rs.TargetFileType), rs.Severity, rs.Priority, rs.Impact)
	if err != nil {
		return fmt.Errorf("failed to insert rule setting %s: %w", rs.RuleLabel, err)
	}
	return nil
}
