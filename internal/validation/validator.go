// Package validation applies the intrinsic schema checks to a single row
// and coerces its cells to typed values.
package validation

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"data-act-broker/internal/model"
	"data-act-broker/internal/schema"
)

const (
	MessageRequired = "This field is required for all submissions but was not provided in this row."
	MessageType     = "The value provided was of the wrong type. Note that all type errors in a line must be fixed before the rest of the validation logic is applied to that line."
	MessageLength   = "Value was longer than maximum length for this field."
	MessageDate     = "Date should follow the YYYYMMDD format."
	MessageRead     = "Could not parse this record correctly."

	ExpectedNotBlank = "(not blank)"

	// FieldFormattingError is the field name recorded for malformed rows.
	FieldFormattingError = "Formatting Error"

	// LabelDate is attached to every date format error.
	LabelDate = "DABSDATETIME"
)

var decimalPattern = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)$`)

// ErrorRecord is one intrinsic offense found on a row.
type ErrorRecord struct {
	Field     string
	Type      model.ErrorType
	Message   string
	Value     string
	Expected  string
	RuleLabel string
	Severity  model.Severity
}

// Result is the outcome of validating one row. Values holds the coerced
// cells keyed by short name; a nil entry is stored as NULL.
type Result struct {
	Errors []ErrorRecord
	Values map[string]interface{}
}

// Valid reports whether no fatal error was found.
func (r Result) Valid() bool {
	for _, e := range r.Errors {
		if e.Severity == model.SeverityFatal {
			return false
		}
	}
	return true
}

// Cells returns raw with every text cell replaced by its coerced form, so
// keys derived from it match what is staged.
func (r Result) Cells(raw map[string]*string) map[string]*string {
	cells := make(map[string]*string, len(raw))
	for k, v := range raw {
		if s, ok := r.Values[k].(string); ok {
			v = &s
		}
		cells[k] = v
	}
	return cells
}

type Validator struct {
	schema *schema.Schema
	fabs   bool
}

// New builds a validator. In FABS mode required and type errors carry the
// validation label of their column.
func New(s *schema.Schema, fabs bool) *Validator {
	return &Validator{schema: s, fabs: fabs}
}

func (v *Validator) Validate(row map[string]*string) Result {
	s := v.schema
	res := Result{Values: make(map[string]interface{}, len(s.Columns))}
	typeFailed := make(map[string]bool)

	for _, field := range s.Required {
		if row[field] == nil {
			res.Errors = append(res.Errors, ErrorRecord{
				Field:     field,
				Type:      model.ErrorTypeRequired,
				Message:   MessageRequired,
				Expected:  ExpectedNotBlank,
				RuleLabel: v.label(model.LabelRequired, field),
				Severity:  model.SeverityFatal,
			})
		}
	}

	for _, field := range s.Numbers {
		value := row[field]
		if value == nil {
			continue
		}
		col, _ := s.Column(field)
		if _, ok := parseNumber(col.FieldType, *value); !ok {
			typeFailed[field] = true
			res.Errors = append(res.Errors, v.typeError(field, *value, typeName(col.FieldType)))
		}
	}

	for _, field := range s.Booleans {
		value := row[field]
		if value == nil {
			continue
		}
		if _, ok := parseBoolean(*value); !ok {
			typeFailed[field] = true
			res.Errors = append(res.Errors, v.typeError(field, *value, "boolean"))
		}
	}

	for _, field := range s.Dates {
		value := row[field]
		if value == nil || validDate(*value) {
			continue
		}
		res.Errors = append(res.Errors, ErrorRecord{
			Field:     field,
			Type:      model.ErrorTypeFormat,
			Message:   MessageDate,
			Value:     *value,
			Expected:  "A date in the YYYYMMDD format.",
			RuleLabel: LabelDate,
			Severity:  model.SeverityFatal,
		})
	}

	for _, field := range s.Lengths {
		value := row[field]
		if value == nil || typeFailed[field] {
			continue
		}
		col, _ := s.Column(field)
		if utf8.RuneCountInString(*value) > *col.MaxLength {
			res.Errors = append(res.Errors, ErrorRecord{
				Field:    field,
				Type:     model.ErrorTypeLength,
				Message:  MessageLength,
				Value:    *value,
				Expected: "Max length: " + strconv.Itoa(*col.MaxLength),
				Severity: model.SeverityFatal,
			})
		}
	}

	for _, col := range s.Columns {
		value := row[col.ShortName]
		if value == nil || typeFailed[col.ShortName] {
			res.Values[col.ShortName] = nil
			continue
		}
		res.Values[col.ShortName] = coerce(col, *value)
	}
	return res
}

func (v *Validator) typeError(field, value, name string) ErrorRecord {
	return ErrorRecord{
		Field:     field,
		Type:      model.ErrorTypeType,
		Message:   MessageType,
		Value:     value,
		Expected:  "This field must be a " + name,
		RuleLabel: v.label(model.LabelTypeCheck, field),
		Severity:  model.SeverityFatal,
	}
}

func (v *Validator) label(kind model.LabelType, field string) string {
	if !v.fabs {
		return ""
	}
	if l, ok := v.schema.Label(kind, field); ok {
		return l.Label
	}
	return ""
}

// MalformedRow is the single error recorded for a row whose cell count
// does not match the header.
func MalformedRow() ErrorRecord {
	return ErrorRecord{
		Field:    FieldFormattingError,
		Type:     model.ErrorTypeRead,
		Message:  MessageRead,
		Severity: model.SeverityFatal,
	}
}

func typeName(ft model.FieldType) string {
	switch ft {
	case model.FieldInt:
		return "int"
	case model.FieldLong:
		return "long"
	default:
		return "decimal"
	}
}

func stripCommas(value string) string {
	return strings.ReplaceAll(value, ",", "")
}

// decimalFits reports whether a decimal literal fits the staged column
// without rounding.
func decimalFits(v string) bool {
	v = strings.TrimLeft(v, "+-")
	whole, frac, _ := strings.Cut(v, ".")
	whole = strings.TrimLeft(whole, "0")
	return len(whole) <= model.DecimalPrecision-model.DecimalScale && len(frac) <= model.DecimalScale
}

// parseNumber returns the canonical value for a numeric cell: int64 for
// INT and LONG, a comma-free string for DECIMAL.
func parseNumber(ft model.FieldType, value string) (interface{}, bool) {
	v := stripCommas(value)
	switch ft {
	case model.FieldInt:
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return nil, false
		}
		return n, true
	case model.FieldLong:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, false
		}
		return n, true
	default:
		if !decimalPattern.MatchString(v) || !decimalFits(v) {
			return nil, false
		}
		return v, true
	}
}

func parseBoolean(value string) (bool, bool) {
	switch strings.ToUpper(value) {
	case "TRUE", "YES", "1":
		return true, true
	case "FALSE", "NO", "0":
		return false, true
	}
	return false, false
}

func validDate(value string) bool {
	if len(value) != 8 {
		return false
	}
	_, err := time.Parse("20060102", value)
	return err == nil
}
