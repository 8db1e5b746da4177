package worker

import (
	"context"
	"io"

	"data-act-broker/internal/errormeta"
	"data-act-broker/internal/metrics"
	"data-act-broker/internal/model"
	"data-act-broker/internal/reader"
	"data-act-broker/internal/report"
	"data-act-broker/internal/rules"
	"data-act-broker/internal/staging"
	"data-act-broker/internal/storage"
	"data-act-broker/internal/validation"
	"data-act-broker/pkg/errors"

	"github.com/rs/zerolog"
)

// findingBatch is how many rule findings are held before their flex cells
// are looked up.
const findingBatch = 500

// validateFile runs a csv_record_validation job: read, validate and stage
// every row, then run the file's SQL rules.
func (w *Worker) validateFile(ctx context.Context, job *model.Job, sub *model.Submission, log zerolog.Logger) result {
	fileType := job.FileTypeName()
	errorName := report.ErrorReportName(sub.ID, fileType)
	reports, err := newReportSet(errorName, report.WarningReportName(sub.ID, fileType))
	if err != nil {
		return result{err: errors.Wrap(errors.KindJob, err, "failed to start reports")}
	}
	defer reports.discard()

	res := w.readFile(ctx, job, sub, reports, log)
	if ctx.Err() != nil {
		return res
	}

	if herr, ok := errors.AsError(res.err); ok && herr.Kind == errors.KindHeader {
		if err := reports.replaceErrors(herr.HeadersMissing, herr.HeadersDuplicated); err != nil {
			log.Error().Err(err).Msg("Failed to write header error report")
		}
	}
	if err := reports.upload(ctx, w.deps.Reports, sub.ID); err != nil {
		log.Error().Err(err).Msg("Failed to upload reports")
		if res.err == nil {
			res.err = errors.Wrap(errors.KindJob, err, "failed to upload reports")
		}
	}
	res.outcome.ReportPath = storage.ReportKey(sub.ID, errorName)
	return res
}

func (w *Worker) readFile(ctx context.Context, job *model.Job, sub *model.Submission, reports *reportSet, log zerolog.Logger) result {
	var out model.JobOutcome
	fileType := job.FileTypeName()

	s, err := w.deps.Registry.Get(fileType)
	if err != nil {
		return result{err: errors.Wrap(errors.KindFileType, err, "unknown file type "+fileType)}
	}

	upload, err := w.uploadOf(ctx, job)
	if err != nil {
		return result{err: err}
	}
	key := *upload.StorageFilename
	filename := key
	if upload.OriginalFilename != nil && *upload.OriginalFilename != "" {
		filename = *upload.OriginalFilename
	}

	size, err := w.deps.Files.Size(ctx, key)
	if err != nil {
		return result{err: errors.Wrap(errors.KindJob, err, "failed to stat "+key)}
	}
	out.FileSize = size
	if size == 0 {
		return result{outcome: out, err: errors.New(errors.KindBlankFile, "file is empty")}
	}

	body, err := w.deps.Files.Download(ctx, key)
	if err != nil {
		return result{outcome: out, err: errors.Wrap(errors.KindJob, err, "failed to download "+key)}
	}
	rd, err := reader.Open(ctx, w.deps.Registry, s, filename, body, reader.Options{MaxRows: w.deps.Config.Validator.MaxRows})
	if err != nil {
		return result{outcome: out, err: err}
	}
	defer rd.Close()

	stage := w.deps.NewWriter(s, sub.ID, job.ID)
	if err := stage.Prepare(ctx); err != nil {
		return result{outcome: out, err: errors.Wrap(errors.KindJob, err, "failed to clear staging rows")}
	}
	// A file that is not read to the end keeps none of its rows. A cancelled
	// run leaves them for the next attempt's Prepare.
	abort := func(res result) result {
		if ctx.Err() != nil {
			return res
		}
		if err := stage.Discard(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to discard staged rows")
		}
		return res
	}

	fabs := sub.IsFABS || s.FileType.FABS || w.deps.Config.IsFABSFileType(fileType)
	v := validation.New(s, fabs)
	field := func(short string) string {
		if rd.LongForm() {
			return s.LongName(short)
		}
		return short
	}

	for {
		rec, err := rd.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			out.NumberOfRows = rd.Stats().TotalRows
			return abort(result{outcome: out, err: err})
		}

		row := staging.Row{RowNumber: rec.RowNumber, Flex: rec.Flex}
		cells := rec.Values
		var found []validation.ErrorRecord
		if rec.Malformed {
			found = []validation.ErrorRecord{validation.MalformedRow()}
		} else {
			checked := v.Validate(rec.Values)
			found = checked.Errors
			row.Values = checked.Values
			row.Valid = checked.Valid()
			cells = checked.Cells(rec.Values)
		}

		uniqueID := ""
		if k, ok := s.UniqueKey(cells); ok {
			row.UniqueKey = k
			uniqueID = s.UniqueIDLabel(k)
		}

		flex := report.FormatFlexPtr(rec.Flex)
		for _, e := range found {
			w.aggregator.Record(errormeta.RowError{
				JobID:     job.ID,
				Filename:  filename,
				Field:     e.Field,
				Type:      e.Type,
				RowNumber: rec.RowNumber,
				Message:   e.Message,
				RuleLabel: e.RuleLabel,
				FileType:  fileType,
				Severity:  e.Severity,
			})
			name := field(e.Field)
			err := reports.write(e.Severity, report.Row{
				UniqueID:      uniqueID,
				FieldName:     name,
				ErrorMessage:  e.Message,
				ValueProvided: valueProvided(name, e.Value),
				ExpectedValue: e.Expected,
				FlexField:     flex,
				RowNumber:     rec.RowNumber,
				RuleLabel:     e.RuleLabel,
			})
			if err != nil {
				return abort(result{outcome: out, err: errors.Wrap(errors.KindJob, err, "failed to write report")})
			}
		}

		if err := stage.Write(ctx, row); err != nil {
			return abort(result{outcome: out, err: errors.Wrap(errors.KindJob, err, "failed to stage rows")})
		}
		metrics.RowsValidated.WithLabelValues(fileType).Inc()
	}
	if rd.Cancelled() {
		return result{outcome: out, err: ctx.Err()}
	}

	stats := rd.Stats()
	out.NumberOfRows = stats.TotalRows
	if err := stage.Flush(ctx); err != nil {
		return abort(result{outcome: out, err: errors.Wrap(errors.KindJob, err, "failed to stage rows")})
	}
	log.Info().
		Int64("rows", stats.TotalRows).
		Int64("staged", stage.Written()).
		Int("short_rows", len(stats.ShortRows)).
		Int("long_rows", len(stats.LongRows)).
		Msg("Rows validated")

	findings := w.newFindingWriter(ctx, job, sub, filename, reports)
	err = w.deps.Rules.RunSingleFile(ctx, sub, fileType, findings.add)
	if err == nil {
		err = findings.flush()
	}
	if err != nil {
		if ctx.Err() != nil {
			return result{outcome: out, err: ctx.Err()}
		}
		return result{outcome: out, err: errors.Wrap(errors.KindJob, err, "failed to run rules")}
	}
	return result{outcome: out}
}

// uploadOf returns the finished file_upload prerequisite of a csv job.
func (w *Worker) uploadOf(ctx context.Context, job *model.Job) (*model.Job, error) {
	prereqs, err := w.deps.Store.Prerequisites(ctx, job.ID)
	if err != nil {
		return nil, errors.Wrap(errors.KindJob, err, "failed to load prerequisites")
	}
	for i := range prereqs {
		p := prereqs[i]
		if p.JobType == model.JobFileUpload && p.StorageFilename != nil && *p.StorageFilename != "" {
			return &p, nil
		}
	}
	return nil, errors.New(errors.KindJob, "no uploaded file for job")
}

// findingWriter records rule findings and writes them to a report set,
// looking up flex cells in batches.
type findingWriter struct {
	w        *Worker
	ctx      context.Context
	job      *model.Job
	sub      *model.Submission
	filename string
	reports  *reportSet
	pending  []rules.Finding
}

func (w *Worker) newFindingWriter(ctx context.Context, job *model.Job, sub *model.Submission, filename string, reports *reportSet) *findingWriter {
	return &findingWriter{
		w:        w,
		ctx:      ctx,
		job:      job,
		sub:      sub,
		filename: filename,
		reports:  reports,
	}
}

func (f *findingWriter) add(finding rules.Finding) error {
	f.pending = append(f.pending, finding)
	if len(f.pending) < findingBatch {
		return nil
	}
	return f.flush()
}

func (f *findingWriter) flush() error {
	if len(f.pending) == 0 {
		return nil
	}
	flex, err := f.lookupFlex()
	if err != nil {
		return err
	}

	for _, finding := range f.pending {
		source := finding.SourceFileType
		f.w.aggregator.Record(errormeta.RowError{
			JobID:          f.job.ID,
			Filename:       f.filename,
			Field:          finding.FieldName,
			Type:           model.ErrorTypeRuleFailed,
			RowNumber:      finding.RowNumber,
			Message:        finding.Rule.ErrorMessage,
			RuleLabel:      finding.RuleLabel,
			FileType:       source,
			TargetFileType: finding.TargetFileType,
			Severity:       finding.Severity,
		})

		uniqueID := ""
		if finding.UniqueID != "" {
			if s, err := f.w.deps.Registry.Get(source); err == nil {
				uniqueID = s.UniqueIDLabel(finding.UniqueID)
			}
		}
		err := f.reports.write(finding.Severity, report.Row{
			UniqueID:      uniqueID,
			FieldName:     finding.FieldName,
			ErrorMessage:  finding.Rule.ErrorMessage,
			ValueProvided: finding.ValueProvided,
			ExpectedValue: finding.Expected,
			Difference:    finding.Difference,
			FlexField:     report.FormatFlex(flex[source][finding.RowNumber]),
			RowNumber:     finding.RowNumber,
			RuleLabel:     finding.RuleLabel,
		})
		if err != nil {
			return err
		}
	}
	f.pending = f.pending[:0]
	return nil
}

// lookupFlex fetches the flex cells of the pending findings' rows, keyed
// by file type then row number.
func (f *findingWriter) lookupFlex() (map[string]map[int64]map[string]string, error) {
	rows := make(map[string][]int64)
	for _, finding := range f.pending {
		if finding.RowNumber > 0 {
			rows[finding.SourceFileType] = append(rows[finding.SourceFileType], finding.RowNumber)
		}
	}
	out := make(map[string]map[int64]map[string]string, len(rows))
	for fileType, numbers := range rows {
		flex, err := f.w.deps.Flex.Flex(f.ctx, f.sub.ID, fileType, numbers)
		if err != nil {
			return nil, err
		}
		out[fileType] = flex
	}
	return out, nil
}
