package jobs

import (
	"context"
	"fmt"

	"data-act-broker/internal/model"
	"data-act-broker/pkg/errors"

	"github.com/rs/zerolog"
)

// Store is the persistence the state machine needs.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	CreateSubmission(ctx context.Context, sub *model.Submission) error
	GetSubmission(ctx context.Context, id int64) (*model.Submission, error)
	SetPublishStatus(ctx context.Context, id int64, status model.PublishStatus) error
	RollupSubmission(ctx context.Context, id int64) error

	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id int64) (*model.Job, error)
	ListJobs(ctx context.Context, submissionID int64) ([]model.Job, error)
	AddDependency(ctx context.Context, jobID, prerequisiteID int64) error
	Prerequisites(ctx context.Context, jobID int64) ([]model.Job, error)
	Dependents(ctx context.Context, jobID int64) ([]model.Job, error)
	TransitionJob(ctx context.Context, id int64, from, to model.JobStatus) error
	RecordOutcome(ctx context.Context, id int64, outcome model.JobOutcome) error
	SetUploadFile(ctx context.Context, id int64, storageFilename string, size int64) error
	DeleteJobs(ctx context.Context, ids ...int64) error

	GetFileStatus(ctx context.Context, jobID int64) (*model.FileStatus, error)
}

// Enqueuer publishes a job to the work queue.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, jobID int64, workType string) error
}

// StagingCleaner drops the staged rows of a file being replaced.
type StagingCleaner interface {
	Clear(ctx context.Context, submissionID int64, fileType string) error
}

type Manager struct {
	store    Store
	queue    Enqueuer
	staging  StagingCleaner
	workType string
	log      zerolog.Logger
}

func NewManager(store Store, queue Enqueuer, staging StagingCleaner, workType string, log zerolog.Logger) *Manager {
	return &Manager{
		store:    store,
		queue:    queue,
		staging:  staging,
		workType: workType,
		log:      log.With().Str("component", "jobs").Logger(),
	}
}

// CreateSubmission creates the submission with an upload and a validation
// job per file type, plus one cross-file job that waits on every validation
// job. A submission without cross-file pairs still gets the cross job; it
// finishes with nothing to check.
func (m *Manager) CreateSubmission(ctx context.Context, sub *model.Submission, fileTypes []string) ([]model.Job, error) {
	var created []model.Job
	err := m.store.InTx(ctx, func(ctx context.Context) error {
		if err := m.store.CreateSubmission(ctx, sub); err != nil {
			return err
		}

		var csvJobs []int64
		for _, ft := range fileTypes {
			upload, csv, err := m.createFileJobs(ctx, sub.ID, ft, nil)
			if err != nil {
				return err
			}
			created = append(created, *upload, *csv)
			csvJobs = append(csvJobs, csv.ID)
		}

		cross, err := m.createCrossJob(ctx, sub.ID, csvJobs)
		if err != nil {
			return err
		}
		created = append(created, *cross)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create submission: %w", err)
	}

	m.log.Info().Int64("submission_id", sub.ID).Strs("file_types", fileTypes).Msg("Submission created")
	return created, nil
}

func (m *Manager) createFileJobs(ctx context.Context, submissionID int64, fileType string, originalFilename *string) (*model.Job, *model.Job, error) {
	ft := fileType
	upload := &model.Job{
		SubmissionID:     submissionID,
		FileType:         &ft,
		JobType:          model.JobFileUpload,
		OriginalFilename: originalFilename,
	}
	if err := m.store.CreateJob(ctx, upload); err != nil {
		return nil, nil, err
	}

	csv := &model.Job{
		SubmissionID:     submissionID,
		FileType:         &ft,
		JobType:          model.JobCSVRecordValidation,
		OriginalFilename: originalFilename,
	}
	if err := m.store.CreateJob(ctx, csv); err != nil {
		return nil, nil, err
	}
	if err := m.store.AddDependency(ctx, csv.ID, upload.ID); err != nil {
		return nil, nil, err
	}
	return upload, csv, nil
}

func (m *Manager) createCrossJob(ctx context.Context, submissionID int64, prerequisites []int64) (*model.Job, error) {
	cross := &model.Job{SubmissionID: submissionID, JobType: model.JobValidation}
	if err := m.store.CreateJob(ctx, cross); err != nil {
		return nil, err
	}
	for _, id := range prerequisites {
		if err := m.store.AddDependency(ctx, cross.ID, id); err != nil {
			return nil, err
		}
	}
	return cross, nil
}

// FinalizeUpload records a completed upload and releases the jobs waiting
// on it.
func (m *Manager) FinalizeUpload(ctx context.Context, jobID int64, storageFilename string, size int64) error {
	var ready []model.Job
	err := m.store.InTx(ctx, func(ctx context.Context) error {
		job, err := m.store.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job.JobType != model.JobFileUpload {
			return fmt.Errorf("%w: job %d is %s", errors.ErrWrongJobType, jobID, job.JobType)
		}

		// The upload itself happened outside the broker, so walk the job
		// through the states it skipped.
		status := job.Status
		if status == model.JobWaiting {
			if err := m.store.TransitionJob(ctx, jobID, model.JobWaiting, model.JobReady); err != nil {
				return err
			}
			status = model.JobReady
		}
		if status == model.JobReady {
			if err := m.store.TransitionJob(ctx, jobID, model.JobReady, model.JobRunning); err != nil {
				return err
			}
			status = model.JobRunning
		}
		if err := checkTransition(jobID, status, model.JobFinished); err != nil {
			return err
		}

		if err := m.store.SetUploadFile(ctx, jobID, storageFilename, size); err != nil {
			return err
		}
		if err := m.store.RecordOutcome(ctx, jobID, model.JobOutcome{FileSize: size}); err != nil {
			return err
		}
		if err := m.store.TransitionJob(ctx, jobID, model.JobRunning, model.JobFinished); err != nil {
			return err
		}
		ready, err = m.promote(ctx, jobID)
		return err
	})
	if err != nil {
		return err
	}
	return m.enqueue(ctx, ready)
}

// promote moves every waiting dependent whose prerequisites are all
// finished to ready and returns them.
func (m *Manager) promote(ctx context.Context, jobID int64) ([]model.Job, error) {
	dependents, err := m.store.Dependents(ctx, jobID)
	if err != nil {
		return nil, err
	}

	var ready []model.Job
	for _, dep := range dependents {
		if dep.Status != model.JobWaiting {
			continue
		}
		ok, err := m.prerequisitesFinished(ctx, dep.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if err := m.store.TransitionJob(ctx, dep.ID, model.JobWaiting, model.JobReady); err != nil {
			return nil, err
		}
		dep.Status = model.JobReady
		ready = append(ready, dep)
	}
	return ready, nil
}

func (m *Manager) prerequisitesFinished(ctx context.Context, jobID int64) (bool, error) {
	prereqs, err := m.store.Prerequisites(ctx, jobID)
	if err != nil {
		return false, err
	}
	for _, p := range prereqs {
		if p.Status != model.JobFinished {
			return false, nil
		}
	}
	return true, nil
}

func (m *Manager) enqueue(ctx context.Context, jobs []model.Job) error {
	for _, job := range jobs {
		if !enqueued(job.JobType) {
			continue
		}
		if err := m.queue.EnqueueJob(ctx, job.ID, m.workType); err != nil {
			return fmt.Errorf("failed to enqueue job %d: %w", job.ID, err)
		}
		m.log.Info().Int64("job_id", job.ID).Str("job_type", string(job.JobType)).Msg("Job enqueued")
	}
	return nil
}

// Start claims a ready job for a worker. The job type must be one of
// allowed and every prerequisite must be finished.
func (m *Manager) Start(ctx context.Context, jobID int64, allowed ...model.JobType) (*model.Job, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if len(allowed) > 0 {
		match := false
		for _, t := range allowed {
			if job.JobType == t {
				match = true
			}
		}
		if !match {
			return job, fmt.Errorf("%w: job %d is %s", errors.ErrWrongJobType, jobID, job.JobType)
		}
	}

	if err := checkTransition(jobID, job.Status, model.JobRunning); err != nil {
		return job, err
	}
	ok, err := m.prerequisitesFinished(ctx, jobID)
	if err != nil {
		return job, err
	}
	if !ok {
		return job, fmt.Errorf("%w: job %d", errors.ErrPrerequisites, jobID)
	}

	if err := m.store.TransitionJob(ctx, jobID, model.JobReady, model.JobRunning); err != nil {
		return job, err
	}
	job.Status = model.JobRunning
	return job, nil
}

// Finish moves a running job to a terminal status, writes its outcome,
// rolls the totals into the submission and releases dependents.
func (m *Manager) Finish(ctx context.Context, jobID int64, to model.JobStatus, outcome model.JobOutcome) error {
	if !to.IsTerminal() {
		return &TransitionError{JobID: jobID, From: model.JobRunning, To: to}
	}

	var ready []model.Job
	err := m.store.InTx(ctx, func(ctx context.Context) error {
		job, err := m.store.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if err := checkTransition(jobID, job.Status, to); err != nil {
			return err
		}
		if err := m.store.RecordOutcome(ctx, jobID, outcome); err != nil {
			return err
		}
		if err := m.store.TransitionJob(ctx, jobID, model.JobRunning, to); err != nil {
			return err
		}
		if err := m.store.RollupSubmission(ctx, job.SubmissionID); err != nil {
			return err
		}
		// Cross-file readiness only changes when a prerequisite finishes.
		if to == model.JobFinished {
			ready, err = m.promote(ctx, jobID)
		}
		return err
	})
	if err != nil {
		return err
	}

	m.log.Info().Int64("job_id", jobID).Str("status", string(to)).
		Int64("errors", outcome.NumberOfErrors).Int64("warnings", outcome.NumberOfWarnings).
		Msg("Job finished")
	return m.enqueue(ctx, ready)
}

// Fail marks a running job failed with a message, keeping nothing else.
func (m *Manager) Fail(ctx context.Context, jobID int64, message string) error {
	return m.Finish(ctx, jobID, model.JobFailed, model.JobOutcome{ErrorMessage: message})
}

// Rollback returns a running job to ready so a redelivered message can run
// it again. A job that already left running is left alone.
func (m *Manager) Rollback(ctx context.Context, jobID int64) error {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != model.JobRunning {
		return nil
	}
	if err := m.store.TransitionJob(ctx, jobID, model.JobRunning, model.JobReady); err != nil {
		return err
	}
	m.log.Warn().Int64("job_id", jobID).Msg("Job rolled back to ready")
	return nil
}

// Reupload replaces the file of one file type. The old upload and
// validation jobs are deleted with their metadata, fresh ones are created,
// the cross-file job starts over and a published submission becomes
// updated. It returns the new upload job.
func (m *Manager) Reupload(ctx context.Context, submissionID int64, fileType, originalFilename string) (*model.Job, error) {
	var upload *model.Job
	err := m.store.InTx(ctx, func(ctx context.Context) error {
		sub, err := m.store.GetSubmission(ctx, submissionID)
		if err != nil {
			return err
		}
		jobs, err := m.store.ListJobs(ctx, submissionID)
		if err != nil {
			return err
		}

		var stale []int64
		var csvJobs []int64
		for _, j := range jobs {
			switch {
			case j.JobType == model.JobValidation:
				stale = append(stale, j.ID)
			case j.FileTypeName() == fileType:
				if j.Status == model.JobRunning {
					return fmt.Errorf("%w: job %d is running", errors.ErrInvalidTransition, j.ID)
				}
				stale = append(stale, j.ID)
			case j.JobType == model.JobCSVRecordValidation:
				csvJobs = append(csvJobs, j.ID)
			}
		}
		if err := m.store.DeleteJobs(ctx, stale...); err != nil {
			return err
		}

		name := originalFilename
		var csv *model.Job
		upload, csv, err = m.createFileJobs(ctx, submissionID, fileType, &name)
		if err != nil {
			return err
		}
		csvJobs = append(csvJobs, csv.ID)

		if _, err := m.createCrossJob(ctx, submissionID, csvJobs); err != nil {
			return err
		}
		if sub.PublishStatus == model.PublishPublished {
			if err := m.store.SetPublishStatus(ctx, submissionID, model.PublishUpdated); err != nil {
				return err
			}
		}
		return m.store.RollupSubmission(ctx, submissionID)
	})
	if err != nil {
		return nil, err
	}

	if err := m.staging.Clear(ctx, submissionID, fileType); err != nil {
		return nil, err
	}
	m.log.Info().Int64("submission_id", submissionID).Str("file_type", fileType).Msg("File replaced")
	return upload, nil
}

// Status summarizes a submission and each of its jobs.
func (m *Manager) Status(ctx context.Context, submissionID int64) (*model.SubmissionStatusResponse, error) {
	sub, err := m.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	jobs, err := m.store.ListJobs(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	resp := &model.SubmissionStatusResponse{
		SubmissionID:     sub.ID,
		PublishStatus:    sub.PublishStatus,
		NumberOfErrors:   sub.NumberOfErrors,
		NumberOfWarnings: sub.NumberOfWarnings,
		Jobs:             make([]model.JobStatusResponse, 0, len(jobs)),
	}
	for _, j := range jobs {
		js := model.JobStatusResponse{
			JobID:            j.ID,
			JobType:          j.JobType,
			FileType:         j.FileTypeName(),
			Status:           j.Status,
			NumberOfRows:     j.NumberOfRows,
			NumberOfErrors:   j.NumberOfErrors,
			NumberOfWarnings: j.NumberOfWarnings,
		}
		if j.ReportPath != nil {
			js.ReportPath = *j.ReportPath
		}
		if j.ErrorMessage != nil {
			js.ErrorMessage = *j.ErrorMessage
		}
		if j.JobType == model.JobCSVRecordValidation {
			fs, err := m.store.GetFileStatus(ctx, j.ID)
			if err != nil {
				return nil, err
			}
			if fs != nil {
				js.FileStatus = fs.Status
				js.MissingHeaders = model.SplitHeaders(fs.HeadersMissing)
				js.DuplicateHeaders = model.SplitHeaders(fs.HeadersDuplicated)
			}
		}
		resp.Jobs = append(resp.Jobs, js)
	}
	return resp, nil
}
