package staging

import (
	"context"
	"fmt"

	"data-act-broker/internal/schema"

	"github.com/rs/zerolog"
)

const flexColumnCount = 6

// Row is one validated row ready for staging.
type Row struct {
	RowNumber int64
	Values    map[string]interface{}
	Valid     bool
	UniqueKey string
	Flex      map[string]*string
}

type flexCell struct {
	rowNumber int64
	header    string
	cell      *string
}

// Writer batches the rows of one job into its staging table.
type Writer struct {
	db           DB
	schema       *schema.Schema
	submissionID int64
	jobID        int64
	batchSize    int
	columns      []string
	prefix       string
	log          zerolog.Logger

	pending []Row
	flex    []flexCell
	written int64
}

// NewWriter caps batchSize so a batch never exceeds the placeholder limit.
func NewWriter(db DB, s *schema.Schema, submissionID, jobID int64, batchSize int, log zerolog.Logger) *Writer {
	cols := insertColumns(s)
	if batchSize < 1 {
		batchSize = 1
	}
	if limit := maxPlaceholders / len(cols); batchSize > limit {
		batchSize = limit
	}
	return &Writer{
		db:           db,
		schema:       s,
		submissionID: submissionID,
		jobID:        jobID,
		batchSize:    batchSize,
		columns:      cols,
		prefix:       insertPrefix(s.FileType.Table, cols),
		log:          log,
	}
}

// BatchSize is the effective batch size after capping.
func (w *Writer) BatchSize() int {
	return w.batchSize
}

// Prepare creates the table if needed and purges rows left by a previous
// run for the same submission and file type.
func (w *Writer) Prepare(ctx context.Context) error {
	if _, err := w.db.ExecContext(ctx, CreateTableSQL(w.schema)); err != nil {
		return fmt.Errorf("failed to create staging table %s: %w", w.schema.FileType.Table, err)
	}
	return clearRows(ctx, w.db, w.schema, w.submissionID)
}

// Write queues a row and flushes when the batch is full.
func (w *Writer) Write(ctx context.Context, row Row) error {
	w.pending = append(w.pending, row)
	for header, cell := range row.Flex {
		w.flex = append(w.flex, flexCell{rowNumber: row.RowNumber, header: header, cell: cell})
	}
	if len(w.pending) >= w.batchSize {
		return w.Flush(ctx)
	}
	return nil
}

// Flush writes any queued rows.
func (w *Writer) Flush(ctx context.Context) error {
	if len(w.pending) > 0 {
		args := make([]interface{}, 0, len(w.pending)*len(w.columns))
		for _, row := range w.pending {
			args = append(args, w.rowArgs(row)...)
		}
		query := w.prefix + valuesClause(len(w.pending), len(w.columns))
		if _, err := w.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert staging rows: %w", err)
		}
		w.written += int64(len(w.pending))
		w.log.Debug().Int("rows", len(w.pending)).Int64("written", w.written).Msg("Staging batch written")
		w.pending = w.pending[:0]
	}
	return w.flushFlex(ctx)
}

func (w *Writer) flushFlex(ctx context.Context) error {
	limit := maxPlaceholders / flexColumnCount
	for len(w.flex) > 0 {
		n := len(w.flex)
		if n > limit {
			n = limit
		}
		args := make([]interface{}, 0, n*flexColumnCount)
		for _, f := range w.flex[:n] {
			var cell interface{}
			if f.cell != nil {
				cell = *f.cell
			}
			args = append(args, w.submissionID, w.jobID, w.schema.FileType.Name, f.rowNumber, f.header, cell)
		}
		query := "INSERT INTO `flex_field` (`submission_id`, `job_id`, `file_type`, `row_number`, `header`, `cell`) VALUES " +
			valuesClause(n, flexColumnCount)
		if _, err := w.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert flex fields: %w", err)
		}
		w.flex = w.flex[n:]
	}
	w.flex = nil
	return nil
}

func (w *Writer) rowArgs(row Row) []interface{} {
	args := make([]interface{}, 0, len(w.columns))
	args = append(args, w.submissionID, w.jobID, row.RowNumber, row.Valid)
	for _, c := range w.schema.Columns {
		args = append(args, row.Values[c.ShortName])
	}
	if w.schema.FileType.UniqueKey != "" {
		var key interface{}
		if row.UniqueKey != "" {
			key = row.UniqueKey
		}
		args = append(args, key)
	}
	return args
}

// Discard drops queued rows and deletes everything this writer staged, so
// an aborted file leaves no partial rows behind.
func (w *Writer) Discard(ctx context.Context) error {
	w.pending = w.pending[:0]
	w.flex = nil
	if err := clearRows(ctx, w.db, w.schema, w.submissionID); err != nil {
		return err
	}
	w.log.Debug().Int64("rows", w.written).Msg("Staged rows discarded")
	w.written = 0
	return nil
}

// Written is the number of rows inserted so far.
func (w *Writer) Written() int64 {
	return w.written
}
