package model

import "time"

type JobType string

const (
	JobFileUpload          JobType = "file_upload"
	JobCSVRecordValidation JobType = "csv_record_validation"
	JobValidation          JobType = "validation"
)

type JobStatus string

const (
	JobWaiting  JobStatus = "waiting"
	JobReady    JobStatus = "ready"
	JobRunning  JobStatus = "running"
	JobFinished JobStatus = "finished"
	JobInvalid  JobStatus = "invalid"
	JobFailed   JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobFinished || s == JobInvalid || s == JobFailed
}

type Job struct {
	ID               int64     `json:"id" db:"id"`
	SubmissionID     int64     `json:"submission_id" db:"submission_id"`
	FileType         *string   `json:"file_type,omitempty" db:"file_type"`
	JobType          JobType   `json:"job_type" db:"job_type"`
	Status           JobStatus `json:"status" db:"status"`
	OriginalFilename *string   `json:"original_filename,omitempty" db:"original_filename"`
	StorageFilename  *string   `json:"storage_filename,omitempty" db:"storage_filename"`
	FileSize         int64     `json:"file_size" db:"file_size"`
	NumberOfRows     int64     `json:"number_of_rows" db:"number_of_rows"`
	NumberOfErrors   int64     `json:"number_of_errors" db:"number_of_errors"`
	NumberOfWarnings int64     `json:"number_of_warnings" db:"number_of_warnings"`
	ReportPath       *string   `json:"report_path,omitempty" db:"report_path"`
	ErrorMessage     *string   `json:"error_message,omitempty" db:"error_message"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// FileTypeName returns the file type or an empty string for cross-file jobs.
func (j *Job) FileTypeName() string {
	if j.FileType == nil {
		return ""
	}
	return *j.FileType
}

// JobOutcome is written to the job row on any transition out of running.
type JobOutcome struct {
	NumberOfRows     int64
	NumberOfErrors   int64
	NumberOfWarnings int64
	FileSize         int64
	ReportPath       string
	ErrorMessage     string
}

type PublishStatus string

const (
	PublishUnpublished PublishStatus = "unpublished"
	PublishPublished   PublishStatus = "published"
	PublishUpdated     PublishStatus = "updated"
)

type Submission struct {
	ID               int64         `json:"id" db:"id"`
	UserID           int64         `json:"user_id" db:"user_id"`
	CGACCode         *string       `json:"cgac_code,omitempty" db:"cgac_code"`
	FRECCode         *string       `json:"frec_code,omitempty" db:"frec_code"`
	ReportingStart   time.Time     `json:"reporting_start_date" db:"reporting_start_date"`
	ReportingEnd     time.Time     `json:"reporting_end_date" db:"reporting_end_date"`
	IsQuarterFormat  bool          `json:"is_quarter_format" db:"is_quarter_format"`
	IsFABS           bool          `json:"is_fabs" db:"is_fabs"`
	PublishStatus    PublishStatus `json:"publish_status" db:"publish_status"`
	NumberOfErrors   int64         `json:"number_of_errors" db:"number_of_errors"`
	NumberOfWarnings int64         `json:"number_of_warnings" db:"number_of_warnings"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at" db:"updated_at"`
}

// AgencyCode returns the CGAC code, falling back to the FREC code.
func (s *Submission) AgencyCode() string {
	if s.CGACCode != nil && *s.CGACCode != "" {
		return *s.CGACCode
	}
	if s.FRECCode != nil {
		return *s.FRECCode
	}
	return ""
}
