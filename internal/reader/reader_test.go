package reader

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"data-act-broker/internal/schema"
	"data-act-broker/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func appropriationSchema(t *testing.T) (*schema.Registry, *schema.Schema) {
	t.Helper()
	reg, err := schema.Load()
	require.NoError(t, err)
	s, err := reg.Get("A")
	require.NoError(t, err)
	return reg, s
}

// buildFile writes a delimited file whose header is the expected short
// names plus extra, and whose rows set only the given columns.
func buildFile(s *schema.Schema, delim string, extra []string, rows ...map[string]string) string {
	header := append(append([]string{}, s.ExpectedHeaders...), extra...)
	var b strings.Builder
	b.WriteString(strings.Join(header, delim))
	b.WriteString("\n")
	for _, row := range rows {
		cells := make([]string, len(header))
		for i, h := range header {
			cells[i] = row[h]
		}
		b.WriteString(strings.Join(cells, delim))
		b.WriteString("\n")
	}
	return b.String()
}

func open(t *testing.T, filename, content string) (*Reader, error) {
	t.Helper()
	reg, s := appropriationSchema(t)
	return Open(context.Background(), reg, s, filename, io.NopCloser(strings.NewReader(content)), Options{})
}

func readAll(t *testing.T, r *Reader) []*Record {
	t.Helper()
	var out []*Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}

func TestDetectDelimiter(t *testing.T) {
	assert.Equal(t, '|', detectDelimiter("a|b|c"))
	assert.Equal(t, ',', detectDelimiter("a,b,c"))
	assert.Equal(t, ',', detectDelimiter("a|b,c"))
	assert.Equal(t, ',', detectDelimiter("abc"))
	assert.Equal(t, '|', detectDelimiter("a,b|c|d"))
}

func TestNormalizeCell(t *testing.T) {
	assert.Nil(t, normalizeCell(""))
	assert.Nil(t, normalizeCell("   "))
	assert.Nil(t, normalizeCell(`""`))
	assert.Nil(t, normalizeCell(`" "`))
	assert.Equal(t, "abc", *normalizeCell("  abc "))
	assert.Equal(t, "abc", *normalizeCell(`"abc"`))
	assert.Equal(t, `"abc"`, *normalizeCell(`""abc""`))
}

func TestReader_PipeDelimitedShortHeaders(t *testing.T) {
	_, s := appropriationSchema(t)
	content := buildFile(s, "|", nil,
		map[string]string{"agency_identifier": "020", "main_account_code": "0100"},
		map[string]string{"agency_identifier": " 97 ", "sub_account_code": "000"},
	)

	r, err := open(t, "a.txt", content)
	require.NoError(t, err)
	defer r.Close()
	assert.False(t, r.LongForm())

	records := readAll(t, r)
	require.Len(t, records, 2)

	assert.Equal(t, int64(2), records[0].RowNumber)
	assert.Equal(t, "020", *records[0].Values["agency_identifier"])
	assert.Equal(t, "0100", *records[0].Values["main_account_code"])
	assert.Nil(t, records[0].Values["sub_account_code"])
	assert.False(t, records[0].Malformed)

	assert.Equal(t, int64(3), records[1].RowNumber)
	assert.Equal(t, "97", *records[1].Values["agency_identifier"])

	assert.Equal(t, int64(2), r.Stats().TotalRows)
	assert.Empty(t, r.Stats().ShortRows)
}

func TestReader_LongHeadersAndQuotedCells(t *testing.T) {
	_, s := appropriationSchema(t)
	long := make([]string, len(s.ExpectedHeaders))
	for i, h := range s.ExpectedHeaders {
		long[i] = s.LongName(h)
	}
	cells := make([]string, len(long))
	cells[1] = `"1,2"`
	content := "\ufeff" + strings.Join(long, ",") + "\n\n" + strings.Join(cells, ",") + "\n"

	r, err := open(t, "a.csv", content)
	require.NoError(t, err)
	defer r.Close()
	assert.True(t, r.LongForm())

	records := readAll(t, r)
	require.Len(t, records, 1)
	assert.Equal(t, "1,2", *records[0].Values["agency_identifier"])
	assert.Equal(t, int64(2), records[0].RowNumber)
}

func TestReader_FlexAndSkippedColumns(t *testing.T) {
	_, s := appropriationSchema(t)
	content := buildFile(s, ",", []string{"flex_note", "unrelated"},
		map[string]string{"agency_identifier": "020", "flex_note": "hello", "unrelated": "ignored"},
	)

	r, err := open(t, "a.csv", content)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, []string{"flex_note"}, r.FlexHeaders())

	records := readAll(t, r)
	require.Len(t, records, 1)
	assert.Equal(t, "hello", *records[0].Flex["flex_note"])
	_, ok := records[0].Values["unrelated"]
	assert.False(t, ok)
}

func TestReader_ShortAndLongRows(t *testing.T) {
	_, s := appropriationSchema(t)
	content := buildFile(s, ",", nil, map[string]string{"agency_identifier": "020"}) +
		"020,0100\n" +
		strings.Repeat("x,", len(s.ExpectedHeaders)+1) + "x\n"

	r, err := open(t, "a.csv", content)
	require.NoError(t, err)
	defer r.Close()

	records := readAll(t, r)
	require.Len(t, records, 3)
	assert.False(t, records[0].Malformed)
	assert.True(t, records[1].Malformed)
	assert.True(t, records[2].Malformed)
	assert.Equal(t, "020", *records[1].Values[s.ExpectedHeaders[0]])

	stats := r.Stats()
	assert.Equal(t, []int64{3}, stats.ShortRows)
	assert.Equal(t, []int64{4}, stats.LongRows)
}

func TestReader_HeaderError(t *testing.T) {
	_, s := appropriationSchema(t)
	header := append([]string{}, s.ExpectedHeaders...)
	header[1] = "wrong_name"
	header = append(header, "main_account_code")
	content := strings.Join(header, ",") + "\n" + strings.Repeat(",", len(header)-1) + "1\n"

	_, err := open(t, "a.csv", content)
	require.Error(t, err)

	herr, ok := errors.AsError(err)
	require.True(t, ok)
	assert.Equal(t, errors.KindHeader, herr.Kind)
	assert.Equal(t, []string{"AgencyIdentifier"}, herr.HeadersMissing)
	assert.Equal(t, []string{"MainAccountCode"}, herr.HeadersDuplicated)
}

func TestReader_SingleRowErrors(t *testing.T) {
	_, s := appropriationSchema(t)

	_, err := open(t, "a.csv", "")
	assert.Equal(t, errors.KindSingleRow, errors.KindOf(err))

	_, err = open(t, "a.csv", "\n   \n")
	assert.Equal(t, errors.KindSingleRow, errors.KindOf(err))

	_, err = open(t, "a.csv", buildFile(s, ",", nil))
	assert.Equal(t, errors.KindSingleRow, errors.KindOf(err))
}

func TestReader_EncodingError(t *testing.T) {
	_, s := appropriationSchema(t)
	content := buildFile(s, ",", nil, map[string]string{"agency_identifier": "020"}) +
		"\xff\xfe,bad\n"

	r, err := open(t, "a.csv", content)
	if err != nil {
		assert.Equal(t, errors.KindEncoding, errors.KindOf(err))
		return
	}
	defer r.Close()

	var last error
	for {
		_, err := r.Next()
		if err != nil {
			last = err
			break
		}
	}
	assert.Equal(t, errors.KindEncoding, errors.KindOf(last))
}

func TestReader_FileTypeError(t *testing.T) {
	_, err := open(t, "a.pdf", "x")
	assert.Equal(t, errors.KindFileType, errors.KindOf(err))
}

func TestReader_MaxRows(t *testing.T) {
	reg, s := appropriationSchema(t)
	content := buildFile(s, ",", nil,
		map[string]string{"agency_identifier": "1"},
		map[string]string{"agency_identifier": "2"},
		map[string]string{"agency_identifier": "3"},
	)
	r, err := Open(context.Background(), reg, s, "a.csv", io.NopCloser(strings.NewReader(content)), Options{MaxRows: 2})
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	assert.Equal(t, errors.KindRowCount, errors.KindOf(err))
}

func TestReader_Cancellation(t *testing.T) {
	reg, s := appropriationSchema(t)
	content := buildFile(s, ",", nil,
		map[string]string{"agency_identifier": "1"},
		map[string]string{"agency_identifier": "2"},
	)
	ctx, cancel := context.WithCancel(context.Background())
	r, err := Open(ctx, reg, s, "a.csv", io.NopCloser(strings.NewReader(content)), Options{})
	require.NoError(t, err)

	_, err = r.Next()
	require.NoError(t, err)

	cancel()
	rec, err := r.Next()
	assert.Nil(t, rec)
	assert.Equal(t, io.EOF, err)
	assert.True(t, r.Cancelled())
}

func TestReader_Spreadsheet(t *testing.T) {
	reg, s := appropriationSchema(t)

	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	header := make([]interface{}, len(s.ExpectedHeaders))
	for i, h := range s.ExpectedHeaders {
		header[i] = h
	}
	require.NoError(t, f.SetSheetRow(sheet, "A1", &header))
	row := make([]interface{}, len(s.ExpectedHeaders))
	for i := range row {
		row[i] = "1"
	}
	require.NoError(t, f.SetSheetRow(sheet, "A2", &row))

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	r, err := Open(context.Background(), reg, s, "a.xlsx", io.NopCloser(bytes.NewReader(buf.Bytes())), Options{})
	require.NoError(t, err)
	defer r.Close()

	records := readAll(t, r)
	require.Len(t, records, 1)
	assert.Equal(t, int64(2), records[0].RowNumber)
	assert.Equal(t, "1", *records[0].Values["agency_identifier"])
}
