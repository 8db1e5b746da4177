package model

// ValidationMessage is the body of a queue message once decoded.
type ValidationMessage struct {
	JobID    int64  `json:"job_id"`
	WorkType string `json:"work_type"`
}

type FinalizeJobRequest struct {
	JobID           int64  `json:"upload_id" binding:"required"`
	StorageFilename string `json:"storage_filename" binding:"required"`
	FileSize        int64  `json:"file_size" binding:"gte=0"`
}

type RuleSettingItem struct {
	Label        string `json:"label"`
	Description  string `json:"description"`
	Significance int    `json:"significance"`
	Impact       Impact `json:"impact"`
}

type RuleSettingsResponse struct {
	Errors   []RuleSettingItem `json:"errors"`
	Warnings []RuleSettingItem `json:"warnings"`
}

type SaveRuleSettingsRequest struct {
	AgencyCode string            `json:"agency_code" binding:"required"`
	File       string            `json:"file" binding:"required"`
	Errors     []RuleSettingItem `json:"errors"`
	Warnings   []RuleSettingItem `json:"warnings"`
}

type JobStatusResponse struct {
	JobID            int64          `json:"job_id"`
	JobType          JobType        `json:"job_type"`
	FileType         string         `json:"file_type,omitempty"`
	Status           JobStatus      `json:"job_status"`
	FileStatus       FileStatusCode `json:"file_status,omitempty"`
	MissingHeaders   []string       `json:"missing_headers,omitempty"`
	DuplicateHeaders []string       `json:"duplicated_headers,omitempty"`
	NumberOfRows     int64          `json:"number_of_rows"`
	NumberOfErrors   int64          `json:"number_of_errors"`
	NumberOfWarnings int64          `json:"number_of_warnings"`
	ReportPath       string         `json:"report_path,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
}

type SubmissionStatusResponse struct {
	SubmissionID     int64               `json:"submission_id"`
	PublishStatus    PublishStatus       `json:"publish_status"`
	NumberOfErrors   int64               `json:"number_of_errors"`
	NumberOfWarnings int64               `json:"number_of_warnings"`
	Jobs             []JobStatusResponse `json:"jobs"`
}

type CreateSubmissionRequest struct {
	UserID          int64    `json:"user_id"`
	CGACCode        *string  `json:"cgac_code"`
	FRECCode        *string  `json:"frec_code"`
	ReportingStart  string   `json:"reporting_period_start_date" binding:"required"`
	ReportingEnd    string   `json:"reporting_period_end_date" binding:"required"`
	IsQuarterFormat bool     `json:"is_quarter"`
	IsFABS          bool     `json:"is_fabs"`
	FileTypes       []string `json:"file_types" binding:"required,min=1"`
}

type ReuploadRequest struct {
	FileType         string `json:"file_type" binding:"required"`
	OriginalFilename string `json:"original_filename" binding:"required"`
}
