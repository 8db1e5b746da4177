// Package report writes the error and warning CSV reports of a job.
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

var (
	Header            = []string{"Unique ID", "Field Name", "Error Message", "Value Provided", "Expected Value", "Difference", "Flex Field", "Row Number", "Rule Label"}
	HeaderErrorHeader = []string{"Error type", "Header name"}
)

const (
	MissingHeader    = "Missing header"
	DuplicatedHeader = "Duplicated header"
)

// Row is one line of an error or warning report.
type Row struct {
	UniqueID      string
	FieldName     string
	ErrorMessage  string
	ValueProvided string
	ExpectedValue string
	Difference    string
	FlexField     string
	RowNumber     int64
	RuleLabel     string
}

func (r Row) record() []string {
	row := ""
	if r.RowNumber > 0 {
		row = strconv.FormatInt(r.RowNumber, 10)
	}
	return []string{r.UniqueID, r.FieldName, r.ErrorMessage, r.ValueProvided, r.ExpectedValue, r.Difference, r.FlexField, row, r.RuleLabel}
}

// Uploader is the part of storage a report needs.
type Uploader interface {
	Upload(ctx context.Context, key string, data io.Reader) error
}

// Writer spools a report to a temporary file until it is uploaded.
type Writer struct {
	name string
	file *os.File
	csv  *csv.Writer
	rows int
}

// NewWriter starts a report with the row-level header.
func NewWriter(name string) (*Writer, error) {
	return newWriter(name, Header)
}

// NewHeaderErrorWriter starts a report listing missing and duplicated
// headers.
func NewHeaderErrorWriter(name string, missing, duplicated []string) (*Writer, error) {
	w, err := newWriter(name, HeaderErrorHeader)
	if err != nil {
		return nil, err
	}
	for _, h := range missing {
		if err := w.write([]string{MissingHeader, h}); err != nil {
			w.Discard()
			return nil, err
		}
	}
	for _, h := range duplicated {
		if err := w.write([]string{DuplicatedHeader, h}); err != nil {
			w.Discard()
			return nil, err
		}
	}
	return w, nil
}

func newWriter(name string, header []string) (*Writer, error) {
	f, err := os.CreateTemp("", "report-*.csv")
	if err != nil {
		return nil, fmt.Errorf("failed to create report %s: %w", name, err)
	}
	w := &Writer{name: name, file: f, csv: csv.NewWriter(f)}
	if err := w.csv.Write(header); err != nil {
		w.Discard()
		return nil, err
	}
	return w, nil
}

func (w *Writer) write(record []string) error {
	if err := w.csv.Write(record); err != nil {
		return fmt.Errorf("failed to write report %s: %w", w.name, err)
	}
	w.rows++
	return nil
}

func (w *Writer) Write(r Row) error {
	return w.write(r.record())
}

func (w *Writer) Name() string {
	return w.name
}

// Rows is the number of lines written after the header.
func (w *Writer) Rows() int {
	return w.rows
}

// Upload flushes the report, stores it under key and removes the spool file.
func (w *Writer) Upload(ctx context.Context, store Uploader, key string) error {
	defer w.Discard()

	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("failed to flush report %s: %w", w.name, err)
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := store.Upload(ctx, key, w.file); err != nil {
		return fmt.Errorf("failed to upload report %s: %w", w.name, err)
	}
	return nil
}

// Discard removes the spool file. Safe to call more than once.
func (w *Writer) Discard() {
	if w.file == nil {
		return
	}
	w.file.Close()
	os.Remove(w.file.Name())
	w.file = nil
}

// FormatFlex renders flex cells as "header: value" pairs sorted by header.
func FormatFlex(flex map[string]string) string {
	if len(flex) == 0 {
		return ""
	}
	headers := make([]string, 0, len(flex))
	for h := range flex {
		headers = append(headers, h)
	}
	sort.Strings(headers)

	parts := make([]string, len(headers))
	for i, h := range headers {
		parts[i] = h + ": " + flex[h]
	}
	return strings.Join(parts, ", ")
}

// FormatFlexPtr is FormatFlex for cells read straight from a file, where a
// blank cell is nil.
func FormatFlexPtr(flex map[string]*string) string {
	if len(flex) == 0 {
		return ""
	}
	out := make(map[string]string, len(flex))
	for h, v := range flex {
		if v != nil {
			out[h] = *v
		} else {
			out[h] = ""
		}
	}
	return FormatFlex(out)
}

func ErrorReportName(submissionID int64, fileType string) string {
	return fmt.Sprintf("submission_%d_%s_error_report.csv", submissionID, strings.ToLower(fileType))
}

func WarningReportName(submissionID int64, fileType string) string {
	return fmt.Sprintf("submission_%d_%s_warning_report.csv", submissionID, strings.ToLower(fileType))
}

func CrossErrorReportName(submissionID int64, source, target string) string {
	return fmt.Sprintf("submission_%d_cross_%s_%s_error_report.csv", submissionID, strings.ToLower(source), strings.ToLower(target))
}

func CrossWarningReportName(submissionID int64, source, target string) string {
	return fmt.Sprintf("submission_%d_cross_%s_%s_warning_report.csv", submissionID, strings.ToLower(source), strings.ToLower(target))
}
