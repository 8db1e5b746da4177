package validation

import (
	"strings"
	"testing"

	"data-act-broker/internal/model"
	"data-act-broker/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func schemaFor(t *testing.T, fileType string) *schema.Schema {
	t.Helper()
	reg, err := schema.Load()
	require.NoError(t, err)
	s, err := reg.Get(fileType)
	require.NoError(t, err)
	return s
}

func str(v string) *string { return &v }

func validD2Row() map[string]*string {
	return map[string]*string{
		"fain":                       str("ABC123"),
		"awarding_sub_tier_agency_c": str("12"),
		"action_date":                str("20240131"),
		"record_type":                str("2"),
		"total_funding_amount":       str("1,000,000"),
		"federal_action_obligation":  str("-1,234.50"),
		"is_historical":              str("yes"),
	}
}

func findError(res Result, field string, typ model.ErrorType) (ErrorRecord, bool) {
	for _, e := range res.Errors {
		if e.Field == field && e.Type == typ {
			return e, true
		}
	}
	return ErrorRecord{}, false
}

func TestValidate_ValidRowIsCoerced(t *testing.T) {
	v := New(schemaFor(t, "D2"), false)
	res := v.Validate(validD2Row())

	assert.Empty(t, res.Errors)
	assert.True(t, res.Valid())
	assert.Equal(t, "0012", res.Values["awarding_sub_tier_agency_c"])
	assert.Equal(t, int64(2), res.Values["record_type"])
	assert.Equal(t, int64(1000000), res.Values["total_funding_amount"])
	assert.Equal(t, "-1234.50", res.Values["federal_action_obligation"])
	assert.Equal(t, true, res.Values["is_historical"])
	assert.Equal(t, "20240131", res.Values["action_date"])
	assert.Nil(t, res.Values["uri"])
}

func TestValidate_Required(t *testing.T) {
	row := validD2Row()
	row["action_date"] = nil

	res := New(schemaFor(t, "D2"), false).Validate(row)
	e, ok := findError(res, "action_date", model.ErrorTypeRequired)
	require.True(t, ok)
	assert.Equal(t, ExpectedNotBlank, e.Expected)
	assert.Equal(t, model.SeverityFatal, e.Severity)
	assert.Empty(t, e.RuleLabel)
	assert.False(t, res.Valid())
}

func TestValidate_TypeErrors(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		value    string
		expected string
	}{
		{"int", "record_type", "two", "This field must be a int"},
		{"int overflow", "record_type", "99999999999", "This field must be a int"},
		{"long", "total_funding_amount", "1.5", "This field must be a long"},
		{"decimal", "federal_action_obligation", "1.2.3", "This field must be a decimal"},
		{"boolean", "is_historical", "maybe", "This field must be a boolean"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := validD2Row()
			row[tt.field] = str(tt.value)

			res := New(schemaFor(t, "D2"), false).Validate(row)
			e, ok := findError(res, tt.field, model.ErrorTypeType)
			require.True(t, ok)
			assert.Equal(t, tt.expected, e.Expected)
			assert.Equal(t, tt.value, e.Value)
			assert.Nil(t, res.Values[tt.field])
		})
	}
}

func TestValidate_NumbersAcceptSignAndCommas(t *testing.T) {
	for _, value := range []string{"+12", "-12", "1,234", "0.5", ".5", "5."} {
		_, ok := parseNumber(model.FieldDecimal, value)
		assert.True(t, ok, value)
	}
	for _, value := range []string{"", "-", "1e5", "abc", "1.2.3"} {
		_, ok := parseNumber(model.FieldDecimal, value)
		assert.False(t, ok, value)
	}
}

func TestValidate_DecimalMustFitStagedColumn(t *testing.T) {
	whole := strings.Repeat("9", model.DecimalPrecision-model.DecimalScale)
	frac := strings.Repeat("1", model.DecimalScale)

	tests := []struct {
		value string
		ok    bool
	}{
		{whole + "." + frac, true},
		{"-" + whole + "." + frac, true},
		{"000" + whole, true},
		{"9" + whole, false},
		{"1." + frac + "1", false},
	}
	for _, tt := range tests {
		got, ok := parseNumber(model.FieldDecimal, tt.value)
		assert.Equal(t, tt.ok, ok, tt.value)
		if tt.ok {
			assert.Equal(t, tt.value, got)
		}
	}

	row := validD2Row()
	row["federal_action_obligation"] = str("1." + frac + "1")
	res := New(schemaFor(t, "D2"), false).Validate(row)
	rec, found := findError(res, "federal_action_obligation", model.ErrorTypeType)
	require.True(t, found)
	assert.Equal(t, "This field must be a decimal", rec.Expected)
	assert.Nil(t, res.Values["federal_action_obligation"])
}

func TestValidate_DateFormat(t *testing.T) {
	for _, value := range []string{"2024-01-31", "20241301", "2024013", "01/31/2024"} {
		row := validD2Row()
		row["action_date"] = str(value)

		res := New(schemaFor(t, "D2"), false).Validate(row)
		e, ok := findError(res, "action_date", model.ErrorTypeFormat)
		require.True(t, ok, value)
		assert.Equal(t, LabelDate, e.RuleLabel)
	}
}

func TestValidate_Length(t *testing.T) {
	s := schemaFor(t, "A")
	row := map[string]*string{
		"agency_identifier": str("12345"),
		"main_account_code": str("0100"),
		"sub_account_code":  str("000"),
	}
	res := New(s, false).Validate(row)
	e, ok := findError(res, "agency_identifier", model.ErrorTypeLength)
	require.True(t, ok)
	assert.Equal(t, "Max length: 3", e.Expected)

	d2 := validD2Row()
	d2["assistance_listing_number"] = str("10.555555")
	res = New(schemaFor(t, "D2"), false).Validate(d2)
	_, ok = findError(res, "assistance_listing_number", model.ErrorTypeLength)
	assert.True(t, ok)
}

func TestValidate_ErrorOrder(t *testing.T) {
	row := validD2Row()
	row["action_date"] = nil
	row["record_type"] = str("x")
	row["fain"] = str("this-fain-value-is-far-too-long-for-the-column")

	res := New(schemaFor(t, "D2"), false).Validate(row)
	require.Len(t, res.Errors, 3)
	assert.Equal(t, model.ErrorTypeRequired, res.Errors[0].Type)
	assert.Equal(t, model.ErrorTypeType, res.Errors[1].Type)
	assert.Equal(t, model.ErrorTypeLength, res.Errors[2].Type)
}

func TestValidate_FABSLabels(t *testing.T) {
	s := schemaFor(t, "FABS")
	row := map[string]*string{"record_type": str("abc")}

	res := New(s, true).Validate(row)
	req, ok := findError(res, "action_date", model.ErrorTypeRequired)
	require.True(t, ok)
	assert.Equal(t, "FABSREQ2", req.RuleLabel)

	typ, ok := findError(res, "record_type", model.ErrorTypeType)
	require.True(t, ok)
	assert.Equal(t, "FABS1.1", typ.RuleLabel)

	res = New(s, false).Validate(row)
	req, ok = findError(res, "action_date", model.ErrorTypeRequired)
	require.True(t, ok)
	assert.Empty(t, req.RuleLabel)
}

func TestPad(t *testing.T) {
	three := 3
	assert.Equal(t, "020", pad("20", &three))
	assert.Equal(t, "020", pad("020", &three))
	assert.Equal(t, "2A", pad("2A", &three))
	assert.Equal(t, "1234", pad("1234", &three))
	assert.Equal(t, "20", pad("20", nil))
}

func TestMalformedRow(t *testing.T) {
	e := MalformedRow()
	assert.Equal(t, FieldFormattingError, e.Field)
	assert.Equal(t, model.ErrorTypeRead, e.Type)
	assert.Equal(t, model.SeverityFatal, e.Severity)
}

func TestResult_CellsArePadded(t *testing.T) {
	raw := map[string]*string{
		"agency_identifier": str("97"),
		"main_account_code": str("100"),
		"sub_account_code":  nil,
	}
	res := New(schemaFor(t, "A"), false).Validate(raw)
	cells := res.Cells(raw)

	require.NotNil(t, cells["agency_identifier"])
	assert.Equal(t, "097", *cells["agency_identifier"])
	assert.Equal(t, "0100", *cells["main_account_code"])
	assert.Nil(t, cells["sub_account_code"])
	assert.Equal(t, "97", *raw["agency_identifier"])
	assert.Equal(t, "097-0100", schema.DisplayTAS(cells))
}
