// Package jobs owns the job state machine and the dependency graph between
// the upload, single-file and cross-file jobs of a submission.
package jobs

import (
	"fmt"

	"data-act-broker/internal/model"
	"data-act-broker/pkg/errors"
)

// transitions lists the legal moves. running -> ready is the rollback used
// when a worker is interrupted and the message goes back to the queue.
var transitions = map[model.JobStatus][]model.JobStatus{
	model.JobWaiting: {model.JobReady},
	model.JobReady:   {model.JobRunning},
	model.JobRunning: {model.JobFinished, model.JobInvalid, model.JobFailed, model.JobReady},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to model.JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type TransitionError struct {
	JobID int64
	From  model.JobStatus
	To    model.JobStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %d: illegal transition %s -> %s", e.JobID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return errors.ErrInvalidTransition
}

func checkTransition(jobID int64, from, to model.JobStatus) error {
	if !CanTransition(from, to) {
		return &TransitionError{JobID: jobID, From: from, To: to}
	}
	return nil
}

// enqueued reports whether a job of this type is sent to the work queue when
// it becomes ready.
func enqueued(t model.JobType) bool {
	return t == model.JobCSVRecordValidation || t == model.JobValidation
}
