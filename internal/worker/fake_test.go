package worker

import (
	"context"
	"sync"

	"data-act-broker/internal/model"
	"data-act-broker/internal/rules"
	"data-act-broker/internal/schema"
	"data-act-broker/internal/staging"
	"data-act-broker/pkg/errors"
)

type fakeStore struct {
	mu          sync.Mutex
	submissions map[int64]*model.Submission
	jobs        []model.Job
	prereqs     map[int64][]model.Job
	fileStatus  map[int64]model.FileStatus
	metadata    []model.ErrorMetadata
	cleared     []int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		submissions: make(map[int64]*model.Submission),
		prereqs:     make(map[int64][]model.Job),
		fileStatus:  make(map[int64]model.FileStatus),
	}
}

func (s *fakeStore) UpsertErrorMetadata(ctx context.Context, rows []model.ErrorMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata = append(s.metadata, rows...)
	return nil
}

func (s *fakeStore) GetSubmission(ctx context.Context, id int64) (*model.Submission, error) {
	sub, ok := s.submissions[id]
	if !ok {
		return nil, errors.ErrSubmissionNotFound
	}
	return sub, nil
}

func (s *fakeStore) ListJobs(ctx context.Context, submissionID int64) ([]model.Job, error) {
	var out []model.Job
	for _, j := range s.jobs {
		if j.SubmissionID == submissionID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *fakeStore) Prerequisites(ctx context.Context, jobID int64) ([]model.Job, error) {
	return s.prereqs[jobID], nil
}

func (s *fakeStore) UpsertFileStatus(ctx context.Context, fs model.FileStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fileStatus[fs.JobID] = fs
	return nil
}

func (s *fakeStore) DeleteErrorMetadata(ctx context.Context, jobID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = append(s.cleared, jobID)
	return nil
}

type finished struct {
	status  model.JobStatus
	outcome model.JobOutcome
}

type fakeJobs struct {
	jobs      map[int64]*model.Job
	startErr  error
	finishErr error
	finished  map[int64]finished
}

func newFakeJobs(jobs ...model.Job) *fakeJobs {
	f := &fakeJobs{jobs: make(map[int64]*model.Job), finished: make(map[int64]finished)}
	for i := range jobs {
		j := jobs[i]
		f.jobs[j.ID] = &j
	}
	return f
}

func (f *fakeJobs) Start(ctx context.Context, jobID int64, allowed ...model.JobType) (*model.Job, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, errors.ErrJobNotFound
	}
	if f.startErr != nil {
		return job, f.startErr
	}
	job.Status = model.JobRunning
	return job, nil
}

func (f *fakeJobs) Finish(ctx context.Context, jobID int64, to model.JobStatus, outcome model.JobOutcome) error {
	if f.finishErr != nil {
		return f.finishErr
	}
	f.jobs[jobID].Status = to
	f.finished[jobID] = finished{status: to, outcome: outcome}
	return nil
}

type fakeRules struct {
	single    map[string][]rules.Finding
	pairs     []rules.Pair
	cross     map[string][]rules.Finding
	crossErr  error
	singleRan []string
}

func (r *fakeRules) RunSingleFile(ctx context.Context, sub *model.Submission, fileType string, emit rules.Emit) error {
	r.singleRan = append(r.singleRan, fileType)
	for _, f := range r.single[fileType] {
		if err := emit(f); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeRules) CrossPairs(ctx context.Context, fileTypes []string) ([]rules.Pair, error) {
	return r.pairs, nil
}

func (r *fakeRules) RunCrossFile(ctx context.Context, sub *model.Submission, pair rules.Pair, emit rules.Emit) error {
	if r.crossErr != nil {
		return r.crossErr
	}
	for _, f := range r.cross[pair.String()] {
		if err := emit(f); err != nil {
			return err
		}
	}
	return nil
}

type fakeFlex struct {
	cells map[string]map[int64]map[string]string
}

func (f *fakeFlex) Flex(ctx context.Context, submissionID int64, fileType string, rowNumbers []int64) (map[int64]map[string]string, error) {
	out := make(map[int64]map[string]string)
	for _, n := range rowNumbers {
		if cells, ok := f.cells[fileType][n]; ok {
			out[n] = cells
		}
	}
	return out, nil
}

type fakeRowWriter struct {
	batchSize int
	prepared  bool
	discarded bool
	pending   []staging.Row
	rows      []staging.Row
}

func (w *fakeRowWriter) Prepare(ctx context.Context) error {
	w.prepared = true
	w.rows = nil
	return nil
}

func (w *fakeRowWriter) Write(ctx context.Context, row staging.Row) error {
	w.pending = append(w.pending, row)
	if w.batchSize > 0 && len(w.pending) >= w.batchSize {
		return w.Flush(ctx)
	}
	return nil
}

func (w *fakeRowWriter) Flush(ctx context.Context) error {
	w.rows = append(w.rows, w.pending...)
	w.pending = nil
	return nil
}

func (w *fakeRowWriter) Discard(ctx context.Context) error {
	w.discarded = true
	w.pending = nil
	w.rows = nil
	return nil
}

func (w *fakeRowWriter) Written() int64 {
	return int64(len(w.rows))
}

func (w *fakeRowWriter) factory() WriterFactory {
	return func(*schema.Schema, int64, int64) RowWriter { return w }
}
