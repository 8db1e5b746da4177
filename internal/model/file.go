package model

import "strings"

type FieldType string

const (
	FieldString  FieldType = "STRING"
	FieldInt     FieldType = "INT"
	FieldLong    FieldType = "LONG"
	FieldDecimal FieldType = "DECIMAL"
	FieldBoolean FieldType = "BOOLEAN"
	FieldDate    FieldType = "DATE"
)

// Staged DECIMAL columns are DECIMAL(DecimalPrecision, DecimalScale).
const (
	DecimalPrecision = 65
	DecimalScale     = 30
)

// IsNumber reports whether values of the type are parsed as numbers.
func (t FieldType) IsNumber() bool {
	return t == FieldInt || t == FieldLong || t == FieldDecimal
}

// FileType is one of the known submission file categories.
type FileType struct {
	ID        int    `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	LongName  string `json:"long_name" yaml:"long_name"`
	Order     int    `json:"order" yaml:"order"`
	Table     string `json:"table" yaml:"table"`
	UniqueKey string `json:"unique_key" yaml:"unique_key"`
	FABS      bool   `json:"fabs" yaml:"fabs"`
}

type FileColumn struct {
	FileType   string    `json:"file_type" yaml:"-"`
	LongName   string    `json:"long_name" yaml:"long_name"`
	ShortName  string    `json:"short_name" yaml:"short_name"`
	FieldType  FieldType `json:"field_type" yaml:"type"`
	Required   bool      `json:"required" yaml:"required"`
	MaxLength  *int      `json:"max_length,omitempty" yaml:"max_length"`
	PaddedFlag bool      `json:"padded_flag" yaml:"padded"`
}

type LabelType string

const (
	LabelRequired  LabelType = "required"
	LabelTypeCheck LabelType = "type"
	LabelFormat    LabelType = "format"
)

type ValidationLabel struct {
	Label        string    `json:"label" yaml:"label"`
	ErrorMessage string    `json:"error_message" yaml:"error_message"`
	FileType     string    `json:"file_type" yaml:"-"`
	ColumnName   string    `json:"column_name" yaml:"column"`
	LabelType    LabelType `json:"label_type" yaml:"label_type"`
}

// FileStatusCode is the file-level outcome of a validation job.
type FileStatusCode string

const (
	FileIncomplete     FileStatusCode = "incomplete"
	FileComplete       FileStatusCode = "complete"
	FileHeaderError    FileStatusCode = "header_error"
	FileUnknownError   FileStatusCode = "unknown_error"
	FileSingleRowError FileStatusCode = "single_row_error"
	FileJobError       FileStatusCode = "job_error"
	FileEncodingError  FileStatusCode = "encoding_error"
	FileRowCountError  FileStatusCode = "row_count_error"
	FileTypeError      FileStatusCode = "file_type_error"
	FileBlankError     FileStatusCode = "blank_file_error"
)

type FileStatus struct {
	JobID             int64          `json:"job_id" db:"job_id"`
	Status            FileStatusCode `json:"status" db:"status"`
	HeadersMissing    string         `json:"headers_missing" db:"headers_missing"`
	HeadersDuplicated string         `json:"headers_duplicated" db:"headers_duplicated"`
	RowErrorsPresent  bool           `json:"row_errors_present" db:"row_errors_present"`
}

// JoinHeaders flattens a header list for the file status row.
func JoinHeaders(headers []string) string {
	return strings.Join(headers, ", ")
}

func SplitHeaders(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, ", ")
}
