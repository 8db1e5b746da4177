package worker

import (
	"context"

	"data-act-broker/internal/model"
	"data-act-broker/internal/report"
	"data-act-broker/internal/storage"
)

// reportSet is the error and warning report of one job or one cross-file
// pair.
type reportSet struct {
	errors   *report.Writer
	warnings *report.Writer
}

func newReportSet(errorName, warningName string) (*reportSet, error) {
	errs, err := report.NewWriter(errorName)
	if err != nil {
		return nil, err
	}
	warnings, err := report.NewWriter(warningName)
	if err != nil {
		errs.Discard()
		return nil, err
	}
	return &reportSet{errors: errs, warnings: warnings}, nil
}

func (r *reportSet) write(severity model.Severity, row report.Row) error {
	if severity == model.SeverityWarning {
		return r.warnings.Write(row)
	}
	return r.errors.Write(row)
}

// replaceErrors swaps the error report for a header-error report.
func (r *reportSet) replaceErrors(missing, duplicated []string) error {
	w, err := report.NewHeaderErrorWriter(r.errors.Name(), missing, duplicated)
	if err != nil {
		return err
	}
	r.errors.Discard()
	r.errors = w
	return nil
}

func (r *reportSet) upload(ctx context.Context, store storage.Storage, submissionID int64) error {
	for _, w := range []*report.Writer{r.errors, r.warnings} {
		if err := w.Upload(ctx, store, storage.ReportKey(submissionID, w.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (r *reportSet) discard() {
	r.errors.Discard()
	r.warnings.Discard()
}

// valueProvided renders a cell as "field: value".
func valueProvided(field, value string) string {
	if value == "" {
		return ""
	}
	return field + ": " + value
}
