package reader

import (
	"io"
	"path/filepath"
	"strings"

	"data-act-broker/pkg/errors"
)

// Source yields raw rows of cells. Next returns io.EOF after the last row.
type Source interface {
	Next() ([]string, error)
	Close() error
}

// NewSource picks the row source for a submission file by its extension.
func NewSource(filename string, body io.ReadCloser) (Source, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".txt":
		return newDelimitedSource(body)
	case ".xlsx":
		return newSpreadsheetSource(body)
	default:
		body.Close()
		return nil, errors.New(errors.KindFileType,
			"file must be a .csv, .txt or .xlsx file, got "+filepath.Base(filename))
	}
}
