package reader

import (
	"bufio"
	"encoding/csv"
	"io"
	"strings"

	"data-act-broker/pkg/errors"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

type delimitedSource struct {
	body      io.Closer
	csv       *csv.Reader
	delimiter rune
	empty     bool
}

// newDelimitedSource reads the first non-empty line to pick the delimiter,
// then streams the rest of the file through encoding/csv. Any byte that is
// not valid UTF-8 surfaces as an encoding error.
func newDelimitedSource(body io.ReadCloser) (*delimitedSource, error) {
	decoded := transform.NewReader(body, transform.Chain(
		encoding.UTF8Validator,
		unicode.BOMOverride(transform.Nop),
	))
	br := bufio.NewReader(decoded)

	s := &delimitedSource{body: body}

	var headerLine string
	for {
		line, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			body.Close()
			return nil, classifyReadError(err)
		}
		if strings.TrimSpace(line) != "" {
			headerLine = line
			break
		}
		if err == io.EOF {
			s.empty = true
			return s, nil
		}
	}

	s.delimiter = detectDelimiter(headerLine)
	r := csv.NewReader(io.MultiReader(strings.NewReader(headerLine), br))
	r.Comma = s.delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = false
	s.csv = r
	return s, nil
}

// detectDelimiter counts pipes and commas in the header line; ties go to
// the comma.
func detectDelimiter(header string) rune {
	if strings.Count(header, "|") > strings.Count(header, ",") {
		return '|'
	}
	return ','
}

func (s *delimitedSource) Next() ([]string, error) {
	if s.empty {
		return nil, io.EOF
	}
	record, err := s.csv.Read()
	if err == nil || err == io.EOF {
		return record, err
	}
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) && !errors.Is(err, encoding.ErrInvalidUTF8) {
		// The row could not be tokenized; hand back what we have so the
		// caller reports it as a formatting error.
		return record, errMalformed
	}
	return nil, classifyReadError(err)
}

func (s *delimitedSource) Close() error {
	return s.body.Close()
}

func classifyReadError(err error) error {
	if errors.Is(err, encoding.ErrInvalidUTF8) {
		return errors.Wrap(errors.KindEncoding, err, "file is not valid UTF-8")
	}
	return errors.Wrap(errors.KindRead, err, "failed to read file")
}
