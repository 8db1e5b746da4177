package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrJobNotFound        = errors.New("job not found")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrInvalidTransition  = errors.New("invalid job status transition")
	ErrPrerequisites      = errors.New("job prerequisites are not finished")
	ErrWrongJobType       = errors.New("wrong job type for this operation")
	ErrUnknownFileType    = errors.New("unknown file type")
	ErrNoRedrivePolicy    = errors.New("queue has no redrive policy")
)

// Kind classifies a failure. Row-level kinds are aggregated into error
// metadata, file-level kinds end the job as invalid and operational kinds
// end it as failed.
type Kind string

const (
	KindType        Kind = "type_error"
	KindRequired    Kind = "required_error"
	KindValue       Kind = "value_error"
	KindLength      Kind = "length_error"
	KindFieldFormat Kind = "field_format_error"
	KindRead        Kind = "read_error"
	KindWrite       Kind = "write_error"
	KindRuleFailed  Kind = "rule_failed"
	KindHeader      Kind = "header_error"
	KindSingleRow   Kind = "single_row_error"
	KindEncoding    Kind = "encoding_error"
	KindRowCount    Kind = "row_count_error"
	KindFileType    Kind = "file_type_error"
	KindBlankFile   Kind = "blank_file_error"
	KindJob         Kind = "job_error"
	KindUnknown     Kind = "unknown_error"
)

func (k Kind) IsRowLevel() bool {
	switch k {
	case KindType, KindRequired, KindValue, KindLength, KindFieldFormat, KindRead, KindWrite, KindRuleFailed:
		return true
	}
	return false
}

func (k Kind) IsFileLevel() bool {
	switch k {
	case KindHeader, KindSingleRow, KindEncoding, KindRowCount, KindFileType, KindBlankFile:
		return true
	}
	return false
}

func (k Kind) IsOperational() bool {
	return k == KindJob || k == KindUnknown
}

// Error is the result error of a validation run.
type Error struct {
	Kind    Kind
	Message string
	Err     error

	// Populated for header errors, long-form names.
	HeadersMissing    []string
	HeadersDuplicated []string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, err error, message string) error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func NewHeaderError(missing, duplicated []string) error {
	return &Error{
		Kind:              KindHeader,
		Message:           "missing or duplicated headers",
		HeadersMissing:    missing,
		HeadersDuplicated: duplicated,
	}
}

// KindOf returns the kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// AsError unwraps err into *Error when possible.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field '%s' with value '%v': %s",
		e.Field, e.Value, e.Message)
}

type RetryableError struct {
	Err     error
	Message string
}

func (e RetryableError) Error() string {
	return fmt.Sprintf("retryable error: %s - %s", e.Message, e.Err.Error())
}

func (e RetryableError) Unwrap() error {
	return e.Err
}

func NewRetryableError(err error, message string) error {
	return RetryableError{
		Err:     err,
		Message: message,
	}
}

func IsRetryable(err error) bool {
	var r RetryableError
	return errors.As(err, &r)
}

// QueueWorkDispatcherError reports a dispatcher misconfiguration or a
// message that cannot be routed.
type QueueWorkDispatcherError struct {
	Message string
	Err     error
}

func (e *QueueWorkDispatcherError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("queue work dispatcher: %s: %v", e.Message, e.Err)
	}
	return "queue work dispatcher: " + e.Message
}

func (e *QueueWorkDispatcherError) Unwrap() error {
	return e.Err
}

// Is/As re-exported so callers only import one errors package.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
