package worker

import (
	"context"
	"sort"

	"data-act-broker/internal/model"
	"data-act-broker/internal/report"
	"data-act-broker/pkg/errors"

	"github.com/rs/zerolog"
)

// validateCrossFile runs a validation job: every cross-file rule over every
// pair of the submission's files that has one.
func (w *Worker) validateCrossFile(ctx context.Context, job *model.Job, sub *model.Submission, log zerolog.Logger) result {
	fileTypes, err := w.submissionFileTypes(ctx, sub.ID)
	if err != nil {
		return result{err: errors.Wrap(errors.KindJob, err, "failed to list submission files")}
	}
	pairs, err := w.deps.Rules.CrossPairs(ctx, fileTypes)
	if err != nil {
		return result{err: errors.Wrap(errors.KindJob, err, "failed to pair submission files")}
	}

	for _, pair := range pairs {
		if err := ctx.Err(); err != nil {
			return result{err: err}
		}
		src, tgt := pair.Source.Name, pair.Target.Name
		reports, err := newReportSet(
			report.CrossErrorReportName(sub.ID, src, tgt),
			report.CrossWarningReportName(sub.ID, src, tgt),
		)
		if err != nil {
			return result{err: errors.Wrap(errors.KindJob, err, "failed to start reports")}
		}

		findings := w.newFindingWriter(ctx, job, sub, "cross-"+src+"-"+tgt, reports)
		err = w.deps.Rules.RunCrossFile(ctx, sub, pair, findings.add)
		if err == nil {
			err = findings.flush()
		}
		if err == nil {
			err = reports.upload(ctx, w.deps.Reports, sub.ID)
		}
		reports.discard()
		if err != nil {
			if ctx.Err() != nil {
				return result{err: ctx.Err()}
			}
			if errors.KindOf(err) != errors.KindJob {
				err = errors.Wrap(errors.KindJob, err, "cross-file validation of "+pair.String()+" failed")
			}
			return result{err: err}
		}
		log.Info().Str("pair", pair.String()).Msg("Cross-file rules complete")
	}
	return result{}
}

// submissionFileTypes lists the file types with a csv job, in file order.
func (w *Worker) submissionFileTypes(ctx context.Context, submissionID int64) ([]string, error) {
	jobs, err := w.deps.Store.ListJobs(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	order := make(map[string]int)
	var types []string
	for _, j := range jobs {
		if j.JobType != model.JobCSVRecordValidation || j.FileType == nil {
			continue
		}
		s, err := w.deps.Registry.Get(*j.FileType)
		if err != nil {
			return nil, err
		}
		if _, seen := order[*j.FileType]; !seen {
			order[*j.FileType] = s.FileType.Order
			types = append(types, *j.FileType)
		}
	}
	sort.Slice(types, func(i, k int) bool { return order[types[i]] < order[types[k]] })
	return types, nil
}
