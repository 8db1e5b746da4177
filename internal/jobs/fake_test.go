package jobs

import (
	"context"
	"fmt"
	"sort"

	"data-act-broker/internal/model"
	"data-act-broker/pkg/errors"
)

type dependency struct{ job, prereq int64 }

type fakeStore struct {
	nextID      int64
	submissions map[int64]*model.Submission
	jobs        map[int64]*model.Job
	deps        []dependency
	fileStatus  map[int64]*model.FileStatus
	rollups     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		submissions: make(map[int64]*model.Submission),
		jobs:        make(map[int64]*model.Job),
		fileStatus:  make(map[int64]*model.FileStatus),
	}
}

func (f *fakeStore) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (f *fakeStore) CreateSubmission(ctx context.Context, sub *model.Submission) error {
	sub.ID = f.id()
	if sub.PublishStatus == "" {
		sub.PublishStatus = model.PublishUnpublished
	}
	cp := *sub
	f.submissions[sub.ID] = &cp
	return nil
}

func (f *fakeStore) GetSubmission(ctx context.Context, id int64) (*model.Submission, error) {
	s, ok := f.submissions[id]
	if !ok {
		return nil, errors.ErrSubmissionNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) SetPublishStatus(ctx context.Context, id int64, status model.PublishStatus) error {
	f.submissions[id].PublishStatus = status
	return nil
}

func (f *fakeStore) RollupSubmission(ctx context.Context, id int64) error {
	f.rollups++
	var errs, warns int64
	for _, j := range f.jobs {
		if j.SubmissionID == id && j.JobType != model.JobFileUpload {
			errs += j.NumberOfErrors
			warns += j.NumberOfWarnings
		}
	}
	f.submissions[id].NumberOfErrors = errs
	f.submissions[id].NumberOfWarnings = warns
	return nil
}

func (f *fakeStore) CreateJob(ctx context.Context, job *model.Job) error {
	job.ID = f.id()
	if job.Status == "" {
		job.Status = model.JobWaiting
	}
	cp := *job
	f.jobs[job.ID] = &cp
	return nil
}

func (f *fakeStore) GetJob(ctx context.Context, id int64) (*model.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", errors.ErrJobNotFound, id)
	}
	cp := *j
	return &cp, nil
}

func (f *fakeStore) sorted(filter func(*model.Job) bool) []model.Job {
	var out []model.Job
	for _, j := range f.jobs {
		if filter(j) {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

func (f *fakeStore) ListJobs(ctx context.Context, submissionID int64) ([]model.Job, error) {
	return f.sorted(func(j *model.Job) bool { return j.SubmissionID == submissionID }), nil
}

func (f *fakeStore) AddDependency(ctx context.Context, jobID, prerequisiteID int64) error {
	f.deps = append(f.deps, dependency{jobID, prerequisiteID})
	return nil
}

func (f *fakeStore) Prerequisites(ctx context.Context, jobID int64) ([]model.Job, error) {
	ids := map[int64]bool{}
	for _, d := range f.deps {
		if d.job == jobID {
			ids[d.prereq] = true
		}
	}
	return f.sorted(func(j *model.Job) bool { return ids[j.ID] }), nil
}

func (f *fakeStore) Dependents(ctx context.Context, jobID int64) ([]model.Job, error) {
	ids := map[int64]bool{}
	for _, d := range f.deps {
		if d.prereq == jobID {
			ids[d.job] = true
		}
	}
	return f.sorted(func(j *model.Job) bool { return ids[j.ID] }), nil
}

func (f *fakeStore) TransitionJob(ctx context.Context, id int64, from, to model.JobStatus) error {
	j, ok := f.jobs[id]
	if !ok || j.Status != from {
		return fmt.Errorf("%w: job %d is not %s", errors.ErrInvalidTransition, id, from)
	}
	j.Status = to
	return nil
}

func (f *fakeStore) RecordOutcome(ctx context.Context, id int64, o model.JobOutcome) error {
	j := f.jobs[id]
	j.NumberOfRows = o.NumberOfRows
	j.NumberOfErrors = o.NumberOfErrors
	j.NumberOfWarnings = o.NumberOfWarnings
	j.FileSize = o.FileSize
	if o.ReportPath != "" {
		j.ReportPath = &o.ReportPath
	}
	if o.ErrorMessage != "" {
		j.ErrorMessage = &o.ErrorMessage
	}
	return nil
}

func (f *fakeStore) SetUploadFile(ctx context.Context, id int64, storageFilename string, size int64) error {
	f.jobs[id].StorageFilename = &storageFilename
	f.jobs[id].FileSize = size
	return nil
}

func (f *fakeStore) DeleteJobs(ctx context.Context, ids ...int64) error {
	gone := map[int64]bool{}
	for _, id := range ids {
		gone[id] = true
		delete(f.jobs, id)
		delete(f.fileStatus, id)
	}
	kept := f.deps[:0]
	for _, d := range f.deps {
		if !gone[d.job] && !gone[d.prereq] {
			kept = append(kept, d)
		}
	}
	f.deps = kept
	return nil
}

func (f *fakeStore) GetFileStatus(ctx context.Context, jobID int64) (*model.FileStatus, error) {
	return f.fileStatus[jobID], nil
}

type fakeQueue struct {
	jobs []int64
	err  error
}

func (q *fakeQueue) EnqueueJob(ctx context.Context, jobID int64, workType string) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, jobID)
	return nil
}

type fakeStaging struct {
	cleared []string
}

func (s *fakeStaging) Clear(ctx context.Context, submissionID int64, fileType string) error {
	s.cleared = append(s.cleared, fmt.Sprintf("%d:%s", submissionID, fileType))
	return nil
}
