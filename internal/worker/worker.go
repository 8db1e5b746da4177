// Package worker runs one validation job to completion inside the child
// process started by the dispatcher.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"data-act-broker/internal/config"
	"data-act-broker/internal/errormeta"
	"data-act-broker/internal/logger"
	"data-act-broker/internal/metrics"
	"data-act-broker/internal/model"
	"data-act-broker/internal/rules"
	"data-act-broker/internal/schema"
	"data-act-broker/internal/staging"
	"data-act-broker/internal/storage"
	"data-act-broker/pkg/errors"

	"github.com/rs/zerolog"
)

// Store is the state a worker reads and writes besides its job row.
type Store interface {
	errormeta.Store
	GetSubmission(ctx context.Context, id int64) (*model.Submission, error)
	ListJobs(ctx context.Context, submissionID int64) ([]model.Job, error)
	Prerequisites(ctx context.Context, jobID int64) ([]model.Job, error)
	UpsertFileStatus(ctx context.Context, fs model.FileStatus) error
	DeleteErrorMetadata(ctx context.Context, jobID int64) error
}

// Jobs moves the job through the state machine.
type Jobs interface {
	Start(ctx context.Context, jobID int64, allowed ...model.JobType) (*model.Job, error)
	Finish(ctx context.Context, jobID int64, to model.JobStatus, outcome model.JobOutcome) error
}

// Rules runs the SQL rules against staged data.
type Rules interface {
	RunSingleFile(ctx context.Context, sub *model.Submission, fileType string, emit rules.Emit) error
	CrossPairs(ctx context.Context, fileTypes []string) ([]rules.Pair, error)
	RunCrossFile(ctx context.Context, sub *model.Submission, pair rules.Pair, emit rules.Emit) error
}

// FlexReader looks up the flex cells of staged rows.
type FlexReader interface {
	Flex(ctx context.Context, submissionID int64, fileType string, rowNumbers []int64) (map[int64]map[string]string, error)
}

// RowWriter stages the rows of one job.
type RowWriter interface {
	Prepare(ctx context.Context) error
	Write(ctx context.Context, row staging.Row) error
	Flush(ctx context.Context) error
	Discard(ctx context.Context) error
	Written() int64
}

// WriterFactory opens a RowWriter for a job.
type WriterFactory func(s *schema.Schema, submissionID, jobID int64) RowWriter

// Deps is everything a job run touches, passed down explicitly.
type Deps struct {
	Config    *config.Config
	Registry  *schema.Registry
	Store     Store
	Jobs      Jobs
	Rules     Rules
	Flex      FlexReader
	NewWriter WriterFactory
	Files     storage.Storage
	Reports   storage.Storage
	Log       zerolog.Logger
}

// StagingWriters adapts staging.NewWriter to a WriterFactory.
func StagingWriters(db staging.DB, batchSize int, log zerolog.Logger) WriterFactory {
	return func(s *schema.Schema, submissionID, jobID int64) RowWriter {
		return staging.NewWriter(db, s, submissionID, jobID, batchSize, log)
	}
}

type Worker struct {
	deps       Deps
	aggregator *errormeta.Aggregator
	log        zerolog.Logger
}

func New(deps Deps) *Worker {
	return &Worker{
		deps:       deps,
		aggregator: errormeta.NewAggregator(deps.Store),
		log:        deps.Log,
	}
}

// result is how a run ended before its outcome is recorded.
type result struct {
	outcome model.JobOutcome
	err     error
}

// Run claims the job, validates it and records the outcome. It returns an
// error only when the outcome could not be recorded or the job could not
// be claimed yet; a job that is already terminal is skipped.
func (w *Worker) Run(ctx context.Context, jobID int64) (err error) {
	job, err := w.deps.Jobs.Start(ctx, jobID, model.JobCSVRecordValidation, model.JobValidation)
	if err != nil {
		if job != nil && job.Status.IsTerminal() {
			w.log.Warn().Int64("job_id", jobID).Str("status", string(job.Status)).Msg("Job already finished, skipping")
			return nil
		}
		if errors.Is(err, errors.ErrWrongJobType) || errors.Is(err, errors.ErrJobNotFound) {
			w.log.Error().Err(err).Int64("job_id", jobID).Msg("Job cannot be validated")
			return nil
		}
		return errors.NewRetryableError(err, fmt.Sprintf("job %d could not be started", jobID))
	}

	sub, err := w.deps.Store.GetSubmission(ctx, job.SubmissionID)
	if err != nil {
		return w.finish(ctx, job, time.Now(), result{err: errors.Wrap(errors.KindJob, err, "failed to load submission")})
	}

	log := logger.ForJob(w.log, job.ID, sub.ID).With().
		Str("job_type", string(job.JobType)).Str("file_type", job.FileTypeName()).Logger()
	log.Info().Msg("Processing validation job")

	started := time.Now()
	res := w.safeRun(ctx, job, sub, log)

	// Interrupted runs leave the job running for the dispatcher to roll back.
	if ctx.Err() != nil {
		log.Warn().Msg("Validation cancelled")
		return ctx.Err()
	}
	return w.finish(ctx, job, started, res)
}

func (w *Worker) safeRun(ctx context.Context, job *model.Job, sub *model.Submission, log zerolog.Logger) (res result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Validation panicked")
			res = result{err: errors.New(errors.KindUnknown, fmt.Sprintf("%v", r))}
		}
	}()

	if err := w.deps.Store.DeleteErrorMetadata(ctx, job.ID); err != nil {
		return result{err: errors.Wrap(errors.KindJob, err, "failed to clear previous error metadata")}
	}

	if job.JobType == model.JobValidation {
		return w.validateCrossFile(ctx, job, sub, log)
	}
	return w.validateFile(ctx, job, sub, log)
}

func (w *Worker) finish(ctx context.Context, job *model.Job, started time.Time, res result) error {
	present := w.aggregator.RowErrorsPresent(job.ID)
	res.outcome.NumberOfErrors, res.outcome.NumberOfWarnings = w.aggregator.Totals(job.ID)
	if err := w.aggregator.Flush(ctx, job.ID); err != nil && res.err == nil {
		res.err = errors.Wrap(errors.KindJob, err, "failed to record error metadata")
	}

	status := model.JobFinished
	fs := model.FileStatus{JobID: job.ID, Status: model.FileComplete, RowErrorsPresent: present}
	if res.err != nil {
		kind := errors.KindOf(res.err)
		status = model.JobFailed
		if kind.IsFileLevel() {
			status = model.JobInvalid
		}
		if res.outcome.ErrorMessage == "" {
			res.outcome.ErrorMessage = res.err.Error()
		}
		fs.Status = fileStatusOf(kind)
		if herr, ok := errors.AsError(res.err); ok {
			fs.HeadersMissing = model.JoinHeaders(herr.HeadersMissing)
			fs.HeadersDuplicated = model.JoinHeaders(herr.HeadersDuplicated)
		}
		w.log.Error().Err(res.err).Int64("job_id", job.ID).Str("kind", string(kind)).Msg("Validation did not complete")
	}

	if job.JobType == model.JobCSVRecordValidation {
		if err := w.deps.Store.UpsertFileStatus(ctx, fs); err != nil {
			return errors.NewRetryableError(err, fmt.Sprintf("file status of job %d not recorded", job.ID))
		}
	}
	if err := w.deps.Jobs.Finish(ctx, job.ID, status, res.outcome); err != nil {
		return errors.NewRetryableError(err, fmt.Sprintf("outcome of job %d not recorded", job.ID))
	}

	metrics.JobDuration.WithLabelValues(string(job.JobType), string(status)).Observe(time.Since(started).Seconds())
	metrics.ErrorsRecorded.WithLabelValues(string(model.SeverityFatal)).Add(float64(res.outcome.NumberOfErrors))
	metrics.ErrorsRecorded.WithLabelValues(string(model.SeverityWarning)).Add(float64(res.outcome.NumberOfWarnings))
	w.log.Info().
		Int64("job_id", job.ID).
		Str("status", string(status)).
		Int64("rows", res.outcome.NumberOfRows).
		Int64("errors", res.outcome.NumberOfErrors).
		Int64("warnings", res.outcome.NumberOfWarnings).
		Msg("Validation job complete")
	return nil
}

func fileStatusOf(kind errors.Kind) model.FileStatusCode {
	switch kind {
	case errors.KindHeader:
		return model.FileHeaderError
	case errors.KindSingleRow:
		return model.FileSingleRowError
	case errors.KindEncoding:
		return model.FileEncodingError
	case errors.KindRowCount:
		return model.FileRowCountError
	case errors.KindFileType:
		return model.FileTypeError
	case errors.KindBlankFile:
		return model.FileBlankError
	case errors.KindJob:
		return model.FileJobError
	default:
		return model.FileUnknownError
	}
}
