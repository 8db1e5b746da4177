package model

type Severity string

const (
	SeverityFatal   Severity = "fatal"
	SeverityWarning Severity = "warning"
)

type Impact string

const (
	ImpactLow    Impact = "low"
	ImpactMedium Impact = "medium"
	ImpactHigh   Impact = "high"
)

func (i Impact) Valid() bool {
	return i == ImpactLow || i == ImpactMedium || i == ImpactHigh
}

type ErrorType string

const (
	ErrorTypeType       ErrorType = "type"
	ErrorTypeRequired   ErrorType = "required"
	ErrorTypeValue      ErrorType = "value"
	ErrorTypeRead       ErrorType = "read"
	ErrorTypeWrite      ErrorType = "write"
	ErrorTypeUnknown    ErrorType = "unknown"
	ErrorTypeLength     ErrorType = "length"
	ErrorTypeFormat     ErrorType = "format"
	ErrorTypeRuleFailed ErrorType = "rule_failed"
)

type RuleSQL struct {
	ID             int64    `json:"id" db:"id" yaml:"-"`
	RuleLabel      string   `json:"rule_label" db:"rule_label" yaml:"label"`
	Severity       Severity `json:"severity" db:"severity" yaml:"severity"`
	FileType       string   `json:"file_type" db:"file_type" yaml:"file"`
	TargetFileType *string  `json:"target_file_type,omitempty" db:"target_file_type" yaml:"target_file"`
	CrossFileFlag  bool     `json:"cross_file_flag" db:"cross_file_flag" yaml:"cross_file"`
	SQLText        string   `json:"-" db:"sql_text" yaml:"sql"`
	ErrorMessage   string   `json:"error_message" db:"error_message" yaml:"message"`
	QueryName      *string  `json:"query_name,omitempty" db:"query_name" yaml:"query_name"`
	Active         bool     `json:"active" db:"active" yaml:"-"`
}

// Target returns the target file type or an empty string.
func (r *RuleSQL) Target() string {
	if r.TargetFileType == nil {
		return ""
	}
	return *r.TargetFileType
}

type RuleSetting struct {
	ID             int64    `json:"id" db:"id"`
	AgencyCode     *string  `json:"agency_code,omitempty" db:"agency_code"`
	RuleLabel      string   `json:"rule_label" db:"rule_label"`
	FileType       string   `json:"file_type" db:"file_type"`
	TargetFileType *string  `json:"target_file_type,omitempty" db:"target_file_type"`
	Severity       Severity `json:"severity" db:"severity"`
	Priority       int      `json:"priority" db:"priority"`
	Impact         Impact   `json:"impact" db:"impact"`
}

type ErrorMetadata struct {
	ID                int64     `json:"id" db:"id"`
	JobID             int64     `json:"job_id" db:"job_id"`
	Filename          string    `json:"filename" db:"filename"`
	FieldName         string    `json:"field_name" db:"field_name"`
	ErrorType         ErrorType `json:"error_type" db:"error_type"`
	Occurrences       int64     `json:"occurrences" db:"occurrences"`
	FirstRow          int64     `json:"first_row" db:"first_row"`
	RuleFailedMessage *string   `json:"rule_failed,omitempty" db:"rule_failed"`
	OriginalRuleLabel *string   `json:"original_rule_label,omitempty" db:"original_rule_label"`
	FileType          *string   `json:"file_type,omitempty" db:"file_type"`
	TargetFileType    *string   `json:"target_file_type,omitempty" db:"target_file_type"`
	Severity          Severity  `json:"severity" db:"severity"`
}
