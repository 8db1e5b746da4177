package worker

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"data-act-broker/internal/config"
	"data-act-broker/internal/model"
	"data-act-broker/internal/report"
	"data-act-broker/internal/rules"
	"data-act-broker/internal/schema"
	"data-act-broker/internal/storage"
	"data-act-broker/pkg/errors"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	submissionID = int64(7)
	uploadJobID  = int64(1)
	csvJobID     = int64(2)
	crossJobID   = int64(9)
)

type fixture struct {
	registry   *schema.Registry
	store      *fakeStore
	jobs       *fakeJobs
	rules      *fakeRules
	flex       *fakeFlex
	staged     *fakeRowWriter
	filesDir   string
	reportsDir string
	worker     *Worker
}

func strPtr(s string) *string { return &s }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := schema.Load()
	require.NoError(t, err)

	f := &fixture{
		registry:   reg,
		store:      newFakeStore(),
		rules:      &fakeRules{},
		flex:       &fakeFlex{},
		staged:     &fakeRowWriter{},
		filesDir:   t.TempDir(),
		reportsDir: t.TempDir(),
	}
	f.store.submissions[submissionID] = &model.Submission{ID: submissionID, CGACCode: strPtr("097")}

	upload := model.Job{
		ID: uploadJobID, SubmissionID: submissionID, FileType: strPtr("A"),
		JobType: model.JobFileUpload, Status: model.JobFinished,
		OriginalFilename: strPtr("approp.csv"), StorageFilename: strPtr("a.csv"),
	}
	csvJob := model.Job{ID: csvJobID, SubmissionID: submissionID, FileType: strPtr("A"), JobType: model.JobCSVRecordValidation, Status: model.JobReady}
	cross := model.Job{ID: crossJobID, SubmissionID: submissionID, JobType: model.JobValidation, Status: model.JobReady}
	f.store.jobs = []model.Job{upload, csvJob, cross}
	f.store.prereqs[csvJobID] = []model.Job{upload}
	f.jobs = newFakeJobs(csvJob, cross)

	f.worker = New(Deps{
		Config:    &config.Config{},
		Registry:  reg,
		Store:     f.store,
		Jobs:      f.jobs,
		Rules:     f.rules,
		Flex:      f.flex,
		NewWriter: f.staged.factory(),
		Files:     storage.NewLocalStorage(f.filesDir),
		Reports:   storage.NewLocalStorage(f.reportsDir),
		Log:       zerolog.Nop(),
	})
	return f
}

func (f *fixture) writeFile(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.filesDir, "a.csv"), []byte(content), 0o644))
}

func (f *fixture) readReport(t *testing.T, name string) [][]string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.reportsDir, storage.ReportKey(submissionID, name)))
	require.NoError(t, err)
	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	return records
}

// appropriationFile builds an A file. Every row sets all required columns
// to 1 except those named in blank.
func appropriationFile(t *testing.T, reg *schema.Registry, extra []string, blanks ...[]string) string {
	t.Helper()
	s, err := reg.Get("A")
	require.NoError(t, err)

	header := append(append([]string{}, s.ExpectedHeaders...), extra...)
	var b strings.Builder
	b.WriteString(strings.Join(header, ",") + "\n")
	for _, blank := range blanks {
		cells := make([]string, len(header))
		for _, req := range s.Required {
			for i, h := range header {
				if h == req {
					cells[i] = "1"
				}
			}
		}
		for i, h := range header {
			for _, skip := range blank {
				if h == skip {
					cells[i] = ""
				}
			}
			if strings.HasPrefix(h, "flex_") {
				cells[i] = "note"
			}
		}
		b.WriteString(strings.Join(cells, ",") + "\n")
	}
	return b.String()
}

func TestRun_ValidatesAndStagesRows(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, appropriationFile(t, f.registry, []string{"flex_note"}, nil, []string{"agency_identifier"}))

	require.NoError(t, f.worker.Run(context.Background(), csvJobID))

	done := f.jobs.finished[csvJobID]
	assert.Equal(t, model.JobFinished, done.status)
	assert.Equal(t, int64(2), done.outcome.NumberOfRows)
	assert.Equal(t, int64(1), done.outcome.NumberOfErrors)
	assert.Equal(t, int64(0), done.outcome.NumberOfWarnings)
	assert.Equal(t, storage.ReportKey(submissionID, report.ErrorReportName(submissionID, "A")), done.outcome.ReportPath)
	assert.Positive(t, done.outcome.FileSize)

	require.Len(t, f.staged.rows, 2)
	assert.True(t, f.staged.prepared)
	assert.True(t, f.staged.rows[0].Valid)
	assert.False(t, f.staged.rows[1].Valid)
	assert.Equal(t, int64(2), f.staged.rows[0].RowNumber)
	assert.Equal(t, int64(3), f.staged.rows[1].RowNumber)
	assert.False(t, f.staged.discarded)

	// Display TAS is built from the zero-padded cells that are staged.
	assert.Equal(t, "001", f.staged.rows[0].Values["agency_identifier"])
	assert.Equal(t, "001-0001-001", f.staged.rows[0].UniqueKey)
	assert.Equal(t, "0001-001", f.staged.rows[1].UniqueKey)

	fs := f.store.fileStatus[csvJobID]
	assert.Equal(t, model.FileComplete, fs.Status)
	assert.True(t, fs.RowErrorsPresent)

	require.Len(t, f.store.metadata, 1)
	assert.Equal(t, "agency_identifier", f.store.metadata[0].FieldName)
	assert.Equal(t, model.ErrorTypeRequired, f.store.metadata[0].ErrorType)
	assert.Equal(t, int64(3), f.store.metadata[0].FirstRow)
	assert.Equal(t, "approp.csv", f.store.metadata[0].Filename)
	assert.Equal(t, []int64{csvJobID}, f.store.cleared)
	assert.Equal(t, []string{"A"}, f.rules.singleRan)

	errs := f.readReport(t, report.ErrorReportName(submissionID, "A"))
	require.Len(t, errs, 2)
	assert.Equal(t, report.Header, errs[0])
	assert.Equal(t, "TAS: 0001-001", errs[1][0])
	assert.Equal(t, "agency_identifier", errs[1][1])
	assert.Equal(t, "(not blank)", errs[1][4])
	assert.Equal(t, "flex_note: note", errs[1][6])
	assert.Equal(t, "3", errs[1][7])

	warnings := f.readReport(t, report.WarningReportName(submissionID, "A"))
	assert.Len(t, warnings, 1)
}

func TestRun_RuleFindingsCarryFlexCells(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, appropriationFile(t, f.registry, nil, nil))
	f.rules.single = map[string][]rules.Finding{
		"A": {{
			Rule:           model.RuleSQL{RuleLabel: "A16", ErrorMessage: "Amounts must balance"},
			RowNumber:      2,
			FieldName:      "total_budgetary_resources_cpe",
			ValueProvided:  "total_budgetary_resources_cpe: 1",
			Expected:       "2",
			Difference:     "-1",
			UniqueID:       "097-X-0100-000",
			RuleLabel:      "A16",
			Severity:       model.SeverityWarning,
			SourceFileType: "A",
		}},
	}
	f.flex.cells = map[string]map[int64]map[string]string{"A": {2: {"flex_b": "2", "flex_a": "1"}}}

	require.NoError(t, f.worker.Run(context.Background(), csvJobID))

	done := f.jobs.finished[csvJobID]
	assert.Equal(t, model.JobFinished, done.status)
	assert.Equal(t, int64(0), done.outcome.NumberOfErrors)
	assert.Equal(t, int64(1), done.outcome.NumberOfWarnings)

	require.Len(t, f.store.metadata, 1)
	m := f.store.metadata[0]
	assert.Equal(t, model.ErrorTypeRuleFailed, m.ErrorType)
	require.NotNil(t, m.OriginalRuleLabel)
	assert.Equal(t, "A16", *m.OriginalRuleLabel)
	assert.Equal(t, model.SeverityWarning, m.Severity)

	warnings := f.readReport(t, report.WarningReportName(submissionID, "A"))
	require.Len(t, warnings, 2)
	assert.Equal(t, []string{
		"TAS: 097-X-0100-000", "total_budgetary_resources_cpe", "Amounts must balance",
		"total_budgetary_resources_cpe: 1", "2", "-1", "flex_a: 1, flex_b: 2", "2", "A16",
	}, warnings[1])
}

func TestRun_HeaderErrorEndsInvalid(t *testing.T) {
	f := newFixture(t)
	s, err := f.registry.Get("A")
	require.NoError(t, err)
	content := appropriationFile(t, f.registry, nil, nil)
	content = strings.Replace(content, "agency_identifier", "wrong_name", 1)
	f.writeFile(t, content)

	require.NoError(t, f.worker.Run(context.Background(), csvJobID))

	done := f.jobs.finished[csvJobID]
	assert.Equal(t, model.JobInvalid, done.status)
	assert.Contains(t, done.outcome.ErrorMessage, string(errors.KindHeader))

	fs := f.store.fileStatus[csvJobID]
	assert.Equal(t, model.FileHeaderError, fs.Status)
	assert.Contains(t, model.SplitHeaders(fs.HeadersMissing), s.LongName("agency_identifier"))
	assert.Empty(t, f.staged.rows)

	errs := f.readReport(t, report.ErrorReportName(submissionID, "A"))
	require.Len(t, errs, 2)
	assert.Equal(t, report.HeaderErrorHeader, errs[0])
	assert.Equal(t, []string{report.MissingHeader, s.LongName("agency_identifier")}, errs[1])
}

func TestRun_FileLevelErrors(t *testing.T) {
	tests := []struct {
		name    string
		content func(reg *schema.Registry) string
		status  model.FileStatusCode
	}{
		{
			name:    "blank file",
			content: func(*schema.Registry) string { return "" },
			status:  model.FileBlankError,
		},
		{
			name:    "header only",
			content: func(reg *schema.Registry) string { return appropriationFile(t, reg, nil) },
			status:  model.FileSingleRowError,
		},
		{
			name: "bad encoding",
			content: func(reg *schema.Registry) string {
				return appropriationFile(t, reg, nil, nil) + "\xff\xfe,bad\n"
			},
			status: model.FileEncodingError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.staged.batchSize = 1
			f.writeFile(t, tt.content(f.registry))

			require.NoError(t, f.worker.Run(context.Background(), csvJobID))
			assert.Equal(t, model.JobInvalid, f.jobs.finished[csvJobID].status)
			assert.Equal(t, tt.status, f.store.fileStatus[csvJobID].Status)
			assert.Empty(t, f.staged.rows)
		})
	}
}

func TestRun_RowCountLimit(t *testing.T) {
	f := newFixture(t)
	f.staged.batchSize = 1
	f.worker.deps.Config.Validator.MaxRows = 2
	f.writeFile(t, appropriationFile(t, f.registry, nil, nil, nil, nil))

	require.NoError(t, f.worker.Run(context.Background(), csvJobID))
	assert.Equal(t, model.JobInvalid, f.jobs.finished[csvJobID].status)
	assert.Equal(t, model.FileRowCountError, f.store.fileStatus[csvJobID].Status)

	// Rows flushed before the limit was hit are purged.
	assert.True(t, f.staged.discarded)
	assert.Empty(t, f.staged.rows)
	assert.Empty(t, f.staged.pending)
}

func TestRun_MissingUploadFails(t *testing.T) {
	f := newFixture(t)
	f.store.prereqs[csvJobID] = nil

	require.NoError(t, f.worker.Run(context.Background(), csvJobID))
	assert.Equal(t, model.JobFailed, f.jobs.finished[csvJobID].status)
	assert.Equal(t, model.FileJobError, f.store.fileStatus[csvJobID].Status)
}

func TestRun_SkipsTerminalAndUnclaimableJobs(t *testing.T) {
	f := newFixture(t)
	f.jobs.jobs[csvJobID].Status = model.JobFinished
	f.jobs.startErr = errors.ErrInvalidTransition
	assert.NoError(t, f.worker.Run(context.Background(), csvJobID))
	assert.Empty(t, f.jobs.finished)

	assert.NoError(t, f.worker.Run(context.Background(), 404))

	f = newFixture(t)
	f.jobs.startErr = errors.ErrPrerequisites
	err := f.worker.Run(context.Background(), csvJobID)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPrerequisites)
	assert.True(t, errors.IsRetryable(err))
}

func TestRun_UnrecordedOutcomeIsAnError(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, appropriationFile(t, f.registry, nil, nil))
	f.jobs.finishErr = assert.AnError

	err := f.worker.Run(context.Background(), csvJobID)
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.True(t, errors.IsRetryable(err))
}

func TestRun_CancelledLeavesJobRunning(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, appropriationFile(t, f.registry, nil, nil, nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.worker.Run(ctx, csvJobID)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.jobs.finished)
	assert.Equal(t, model.JobRunning, f.jobs.jobs[csvJobID].Status)
}

func TestRun_CrossFile(t *testing.T) {
	f := newFixture(t)
	pair, err := rules.NewPair(f.registry, "B", "A")
	require.NoError(t, err)
	f.store.jobs = append(f.store.jobs, model.Job{ID: 4, SubmissionID: submissionID, FileType: strPtr("B"), JobType: model.JobCSVRecordValidation})
	f.rules.pairs = []rules.Pair{pair}
	f.rules.cross = map[string][]rules.Finding{
		pair.String(): {{
			Rule:           model.RuleSQL{RuleLabel: "A18", ErrorMessage: "Missing in B"},
			RowNumber:      5,
			FieldName:      "gross_outlay_amount_by_tas_cpe",
			RuleLabel:      "A18",
			Severity:       model.SeverityFatal,
			SourceFileType: "A",
			TargetFileType: "B",
		}},
	}

	require.NoError(t, f.worker.Run(context.Background(), crossJobID))

	done := f.jobs.finished[crossJobID]
	assert.Equal(t, model.JobFinished, done.status)
	assert.Equal(t, int64(1), done.outcome.NumberOfErrors)
	assert.NotContains(t, f.store.fileStatus, crossJobID)

	require.Len(t, f.store.metadata, 1)
	m := f.store.metadata[0]
	require.NotNil(t, m.FileType)
	require.NotNil(t, m.TargetFileType)
	assert.Equal(t, "A", *m.FileType)
	assert.Equal(t, "B", *m.TargetFileType)
	assert.Equal(t, int64(5), m.FirstRow)

	errs := f.readReport(t, report.CrossErrorReportName(submissionID, "A", "B"))
	require.Len(t, errs, 2)
	assert.Equal(t, "A18", errs[1][8])
	warnings := f.readReport(t, report.CrossWarningReportName(submissionID, "A", "B"))
	assert.Len(t, warnings, 1)
}

func TestRun_CrossFileWithoutPairsFinishes(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.worker.Run(context.Background(), crossJobID))

	done := f.jobs.finished[crossJobID]
	assert.Equal(t, model.JobFinished, done.status)
	assert.Equal(t, int64(0), done.outcome.NumberOfErrors)
	assert.Empty(t, f.store.metadata)
	assert.Empty(t, done.outcome.ReportPath)
}

func TestRun_CrossFileRuleFailureFailsJob(t *testing.T) {
	f := newFixture(t)
	pair, err := rules.NewPair(f.registry, "A", "B")
	require.NoError(t, err)
	f.rules.pairs = []rules.Pair{pair}
	f.rules.crossErr = errors.Wrap(errors.KindJob, assert.AnError, "cross-file rule A18 failed")

	require.NoError(t, f.worker.Run(context.Background(), crossJobID))
	done := f.jobs.finished[crossJobID]
	assert.Equal(t, model.JobFailed, done.status)
	assert.Contains(t, done.outcome.ErrorMessage, "A18")
}

func TestFileStatusOf(t *testing.T) {
	assert.Equal(t, model.FileHeaderError, fileStatusOf(errors.KindHeader))
	assert.Equal(t, model.FileTypeError, fileStatusOf(errors.KindFileType))
	assert.Equal(t, model.FileJobError, fileStatusOf(errors.KindJob))
	assert.Equal(t, model.FileUnknownError, fileStatusOf(errors.KindUnknown))
}
