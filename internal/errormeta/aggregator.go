// Package errormeta accumulates row-level offenses per job and flushes
// them to the error-metadata store when the job ends.
package errormeta

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"data-act-broker/internal/model"
)

// Store persists aggregated error metadata.
type Store interface {
	UpsertErrorMetadata(ctx context.Context, rows []model.ErrorMetadata) error
}

// RowError is a single offense on a single row.
type RowError struct {
	JobID          int64
	Filename       string
	Field          string
	Type           model.ErrorType
	RowNumber      int64
	Message        string
	RuleLabel      string
	FileType       string
	TargetFileType string
	Severity       model.Severity
}

type entryKey struct {
	jobID  int64
	field  string
	kind   string
	source string
	target string
}

type jobEntries struct {
	order   []entryKey
	entries map[entryKey]*model.ErrorMetadata
	present bool
}

type Aggregator struct {
	store Store

	mu   sync.Mutex
	jobs map[int64]*jobEntries
}

func NewAggregator(store Store) *Aggregator {
	return &Aggregator{
		store: store,
		jobs:  make(map[int64]*jobEntries),
	}
}

func keyOf(e RowError) entryKey {
	kind := string(e.Type)
	if e.RuleLabel != "" {
		kind = e.RuleLabel
	}
	return entryKey{
		jobID:  e.JobID,
		field:  e.Field,
		kind:   kind,
		source: e.FileType,
		target: e.TargetFileType,
	}
}

// Record counts one offense. The first row is kept from the first
// occurrence; descriptive fields follow the latest one.
func (a *Aggregator) Record(e RowError) {
	a.mu.Lock()
	defer a.mu.Unlock()

	job, ok := a.jobs[e.JobID]
	if !ok {
		job = &jobEntries{entries: make(map[entryKey]*model.ErrorMetadata)}
		a.jobs[e.JobID] = job
	}
	job.present = true

	k := keyOf(e)
	m, ok := job.entries[k]
	if !ok {
		m = &model.ErrorMetadata{
			JobID:     e.JobID,
			FieldName: e.Field,
			ErrorType: e.Type,
			FirstRow:  e.RowNumber,
		}
		job.entries[k] = m
		job.order = append(job.order, k)
	}
	m.Occurrences++
	m.Filename = e.Filename
	m.Severity = e.Severity
	m.RuleFailedMessage = optional(e.Message)
	m.OriginalRuleLabel = optional(e.RuleLabel)
	m.FileType = optional(e.FileType)
	m.TargetFileType = optional(e.TargetFileType)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// RowErrorsPresent reports whether any offense was recorded for the job
// since its last flush.
func (a *Aggregator) RowErrorsPresent(jobID int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	job, ok := a.jobs[jobID]
	return ok && job.present
}

// Totals sums occurrences for the job by severity.
func (a *Aggregator) Totals(jobID int64) (errs, warnings int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	job, ok := a.jobs[jobID]
	if !ok {
		return 0, 0
	}
	for _, m := range job.entries {
		switch m.Severity {
		case model.SeverityWarning:
			warnings += m.Occurrences
		default:
			errs += m.Occurrences
		}
	}
	return errs, warnings
}

// Entries returns a snapshot of the job's aggregated rows in first-seen
// order.
func (a *Aggregator) Entries(jobID int64) []model.ErrorMetadata {
	a.mu.Lock()
	defer a.mu.Unlock()
	job, ok := a.jobs[jobID]
	if !ok {
		return nil
	}
	out := make([]model.ErrorMetadata, 0, len(job.order))
	for _, k := range job.order {
		out = append(out, *job.entries[k])
	}
	return out
}

// Flush upserts the job's entries and forgets them. Entries of other jobs
// are untouched. On a store error the entries are kept.
func (a *Aggregator) Flush(ctx context.Context, jobID int64) error {
	rows := a.Entries(jobID)
	if len(rows) > 0 {
		if err := a.store.UpsertErrorMetadata(ctx, rows); err != nil {
			return fmt.Errorf("failed to flush error metadata for job %d: %w", jobID, err)
		}
	}

	a.mu.Lock()
	delete(a.jobs, jobID)
	a.mu.Unlock()
	return nil
}

// Key is the stable identity of an error-metadata row within its job,
// used as the upsert key by the store.
func Key(m model.ErrorMetadata) string {
	kind := string(m.ErrorType)
	if m.OriginalRuleLabel != nil {
		kind = *m.OriginalRuleLabel
	}
	return strings.Join([]string{m.FieldName, kind, deref(m.FileType), deref(m.TargetFileType)}, "|")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
