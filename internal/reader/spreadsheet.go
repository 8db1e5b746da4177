package reader

import (
	"io"

	"data-act-broker/pkg/errors"

	"github.com/xuri/excelize/v2"
)

type spreadsheetSource struct {
	body io.Closer
	file *excelize.File
	rows *excelize.Rows
}

// newSpreadsheetSource streams the first worksheet of an .xlsx upload.
func newSpreadsheetSource(body io.ReadCloser) (*spreadsheetSource, error) {
	file, err := excelize.OpenReader(body)
	if err != nil {
		body.Close()
		return nil, errors.Wrap(errors.KindFileType, err, "failed to open spreadsheet")
	}

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		file.Close()
		body.Close()
		return nil, errors.New(errors.KindSingleRow, "spreadsheet has no worksheets")
	}

	rows, err := file.Rows(sheets[0])
	if err != nil {
		file.Close()
		body.Close()
		return nil, errors.Wrap(errors.KindRead, err, "failed to read worksheet")
	}

	return &spreadsheetSource{body: body, file: file, rows: rows}, nil
}

func (s *spreadsheetSource) Next() ([]string, error) {
	if !s.rows.Next() {
		if err := s.rows.Error(); err != nil {
			return nil, errors.Wrap(errors.KindRead, err, "failed to read worksheet row")
		}
		return nil, io.EOF
	}
	cols, err := s.rows.Columns()
	if err != nil {
		return nil, errors.Wrap(errors.KindRead, err, "failed to read worksheet row")
	}
	return cols, nil
}

func (s *spreadsheetSource) Close() error {
	s.rows.Close()
	s.file.Close()
	return s.body.Close()
}
