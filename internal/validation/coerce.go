package validation

import (
	"strings"

	"data-act-broker/internal/model"
)

// coerce converts a cell that passed its type check into the value written
// to staging.
func coerce(col model.FileColumn, value string) interface{} {
	switch {
	case col.FieldType.IsNumber():
		n, ok := parseNumber(col.FieldType, value)
		if !ok {
			return nil
		}
		return n
	case col.FieldType == model.FieldBoolean:
		b, _ := parseBoolean(value)
		return b
	case col.PaddedFlag:
		return pad(value, col.MaxLength)
	}
	return value
}

// pad left-pads an all-digit value with zeros up to maxLength.
func pad(value string, maxLength *int) string {
	if maxLength == nil || len(value) >= *maxLength || !allDigits(value) {
		return value
	}
	return strings.Repeat("0", *maxLength-len(value)) + value
}

func allDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
