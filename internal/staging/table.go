// Package staging materializes the per-file-type staging tables that rule
// SQL runs against, and writes validated rows into them.
package staging

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"data-act-broker/internal/model"
	"data-act-broker/internal/schema"
)

// maxPlaceholders is MySQL's limit of bound parameters per statement.
const maxPlaceholders = 65535

// DB is the subset of *sql.DB the staging layer uses.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

var syntheticColumns = []string{"submission_id", "job_id", "row_number", "valid_record"}

func quote(name string) string {
	return "`" + name + "`"
}

func columnType(ft model.FieldType) string {
	switch ft {
	case model.FieldInt, model.FieldLong:
		return "BIGINT NULL"
	case model.FieldDecimal:
		return fmt.Sprintf("DECIMAL(%d,%d) NULL", model.DecimalPrecision, model.DecimalScale)
	case model.FieldBoolean:
		return "BOOLEAN NULL"
	default:
		return "TEXT NULL"
	}
}

// CreateTableSQL is the DDL of a file type's staging table.
func CreateTableSQL(s *schema.Schema) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", quote(s.FileType.Table))
	b.WriteString("    `id` BIGINT NOT NULL AUTO_INCREMENT,\n")
	b.WriteString("    `submission_id` BIGINT NOT NULL,\n")
	b.WriteString("    `job_id` BIGINT NOT NULL,\n")
	b.WriteString("    `row_number` BIGINT NOT NULL,\n")
	b.WriteString("    `valid_record` BOOLEAN NOT NULL DEFAULT TRUE,\n")
	for _, c := range s.Columns {
		fmt.Fprintf(&b, "    %s %s,\n", quote(c.ShortName), columnType(c.FieldType))
	}
	if key := s.FileType.UniqueKey; key != "" {
		fmt.Fprintf(&b, "    %s VARCHAR(255) NULL,\n", quote(key))
		fmt.Fprintf(&b, "    KEY %s (`submission_id`, %s),\n", quote("idx_"+s.FileType.Table+"_key"), quote(key))
	}
	fmt.Fprintf(&b, "    KEY %s (`submission_id`, `row_number`),\n", quote("idx_"+s.FileType.Table+"_row"))
	b.WriteString("    PRIMARY KEY (`id`)\n")
	b.WriteString(") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4")
	return b.String()
}

// insertColumns lists the staging columns in insert order.
func insertColumns(s *schema.Schema) []string {
	cols := append([]string{}, syntheticColumns...)
	for _, c := range s.Columns {
		cols = append(cols, c.ShortName)
	}
	if key := s.FileType.UniqueKey; key != "" {
		cols = append(cols, key)
	}
	return cols
}

func insertPrefix(table string, cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES ", quote(table), strings.Join(quoted, ", "))
}

func valuesClause(rows, cols int) string {
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", cols), ", ") + ")"
	return strings.TrimSuffix(strings.Repeat(tuple+", ", rows), ", ")
}

// Tables manages staging data that is not tied to a running job.
type Tables struct {
	db       DB
	registry *schema.Registry
}

func NewTables(db DB, registry *schema.Registry) *Tables {
	return &Tables{db: db, registry: registry}
}

// Ensure creates every staging table that does not exist yet.
func (t *Tables) Ensure(ctx context.Context) error {
	for _, s := range t.registry.Schemas() {
		if _, err := t.db.ExecContext(ctx, CreateTableSQL(s)); err != nil {
			return fmt.Errorf("failed to create staging table %s: %w", s.FileType.Table, err)
		}
	}
	return nil
}

// Clear removes the staging and flex rows of one submission and file type.
func (t *Tables) Clear(ctx context.Context, submissionID int64, fileType string) error {
	s, err := t.registry.Get(fileType)
	if err != nil {
		return err
	}
	return clearRows(ctx, t.db, s, submissionID)
}

func clearRows(ctx context.Context, db DB, s *schema.Schema, submissionID int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE `submission_id` = ?", quote(s.FileType.Table))
	if _, err := db.ExecContext(ctx, query, submissionID); err != nil {
		return fmt.Errorf("failed to clear %s for submission %d: %w", s.FileType.Table, submissionID, err)
	}
	flex := "DELETE FROM `flex_field` WHERE `submission_id` = ? AND `file_type` = ?"
	if _, err := db.ExecContext(ctx, flex, submissionID, s.FileType.Name); err != nil {
		return fmt.Errorf("failed to clear flex fields for submission %d: %w", submissionID, err)
	}
	return nil
}

// Count returns the number of staged rows and of valid rows.
func (t *Tables) Count(ctx context.Context, submissionID int64, fileType string) (total, valid int64, err error) {
	s, err := t.registry.Get(fileType)
	if err != nil {
		return 0, 0, err
	}
	query := fmt.Sprintf("SELECT COUNT(*), COALESCE(SUM(`valid_record`), 0) FROM %s WHERE `submission_id` = ?",
		quote(s.FileType.Table))
	err = t.db.QueryRowContext(ctx, query, submissionID).Scan(&total, &valid)
	return total, valid, err
}

// Flex returns the flex cells of the given rows keyed by row number then
// header.
func (t *Tables) Flex(ctx context.Context, submissionID int64, fileType string, rowNumbers []int64) (map[int64]map[string]string, error) {
	out := make(map[int64]map[string]string)
	if len(rowNumbers) == 0 {
		return out, nil
	}

	// Chunked to stay under the placeholder limit.
	const chunk = 1000
	for start := 0; start < len(rowNumbers); start += chunk {
		end := start + chunk
		if end > len(rowNumbers) {
			end = len(rowNumbers)
		}
		part := rowNumbers[start:end]

		args := []interface{}{submissionID, fileType}
		for _, n := range part {
			args = append(args, n)
		}
		query := "SELECT `row_number`, `header`, `cell` FROM `flex_field` " +
			"WHERE `submission_id` = ? AND `file_type` = ? AND `row_number` IN (" +
			strings.TrimSuffix(strings.Repeat("?, ", len(part)), ", ") + ")"

		if err := scanFlex(ctx, t.db, query, args, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func scanFlex(ctx context.Context, db DB, query string, args []interface{}, out map[int64]map[string]string) error {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to read flex fields: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			row    int64
			header string
			cell   sql.NullString
		)
		if err := rows.Scan(&row, &header, &cell); err != nil {
			return err
		}
		if out[row] == nil {
			out[row] = make(map[string]string)
		}
		out[row][header] = cell.String
	}
	return rows.Err()
}
