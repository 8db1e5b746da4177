package worker

import (
	"context"
	"fmt"

	"data-act-broker/internal/dispatcher"
	"data-act-broker/pkg/errors"

	"github.com/rs/zerolog"
)

// Lifecycle is what the exit handler needs to settle a job whose child did
// not record an outcome.
type Lifecycle interface {
	Rollback(ctx context.Context, jobID int64) error
	Fail(ctx context.Context, jobID int64, message string) error
}

// ExitHandler returns the dispatcher hook for validation children. A job
// whose message will be delivered again is rolled back to ready so the
// next delivery can claim it. A job whose message is dead-lettered, now or
// by the queue on its last delivery, is failed.
func ExitHandler(jobs Lifecycle, log zerolog.Logger) dispatcher.ExitHandler {
	return func(ctx context.Context, exit dispatcher.Exit) error {
		if exit.Disposition == dispatcher.Delete {
			return nil
		}
		jobID, err := exit.Message.JobID()
		if err != nil {
			return err
		}

		switch {
		case exit.Disposition == dispatcher.DeadLetter:
			log.Error().Int64("job_id", jobID).Int("exit_code", exit.ExitCode).Msg("Job dead-lettered, marking failed")
			return fail(ctx, jobs, jobID, fmt.Sprintf("job_error: validator exited with code %d after exhausting retries", exit.ExitCode), log)
		case exit.Disposition == dispatcher.Leave && exit.LastDelivery():
			log.Error().Int64("job_id", jobID).Int("exit_code", exit.ExitCode).
				Int("receive_count", exit.Message.ReceiveCount).Msg("Job failed on its last delivery, marking failed")
			return fail(ctx, jobs, jobID, fmt.Sprintf("job_error: validator exited with code %d on its last delivery", exit.ExitCode), log)
		default:
			log.Warn().Int64("job_id", jobID).Int("exit_code", exit.ExitCode).
				Str("disposition", exit.Disposition.String()).Msg("Returning job to ready")
			return jobs.Rollback(ctx, jobID)
		}
	}
}

// fail ignores a job that already left running.
func fail(ctx context.Context, jobs Lifecycle, jobID int64, message string, log zerolog.Logger) error {
	err := jobs.Fail(ctx, jobID, message)
	if errors.Is(err, errors.ErrInvalidTransition) {
		log.Warn().Int64("job_id", jobID).Msg("Job already left running")
		return nil
	}
	return err
}
