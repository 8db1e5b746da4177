// Package reader streams submission files row by row, normalizing the
// header row against a file type schema.
package reader

import (
	"context"
	"io"
	"strings"

	"data-act-broker/internal/schema"
	"data-act-broker/pkg/errors"
)

var errMalformed = errors.New(errors.KindRead, "record could not be tokenized")

type columnKind int

const (
	columnExpected columnKind = iota
	columnFlex
	columnSkip
)

type column struct {
	name string
	kind columnKind
}

// Record is one data row. Values holds every expected column of the schema;
// nil means the cell was empty or absent.
type Record struct {
	RowNumber int64
	Values    map[string]*string
	Flex      map[string]*string

	// Malformed is set when the cell count differs from the header's.
	Malformed bool
}

type Stats struct {
	TotalRows int64
	ShortRows []int64
	LongRows  []int64
}

type Options struct {
	// MaxRows caps the number of data rows; zero means unlimited.
	MaxRows int64
}

type Reader struct {
	ctx      context.Context
	schema   *schema.Schema
	source   Source
	opts     Options
	columns  []column
	flex     []string
	longForm bool

	rowNumber        int64
	pending          []string
	pendingMalformed bool
	stats     Stats
	cancelled bool
	closed    bool
}

// Open reads and checks the header row of body. The returned reader owns
// body and closes it on Close, on cancellation or on a failed Open.
func Open(ctx context.Context, registry *schema.Registry, s *schema.Schema, filename string, body io.ReadCloser, opts Options) (*Reader, error) {
	source, err := NewSource(filename, body)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		ctx:    ctx,
		schema: s,
		source: source,
		opts:   opts,
	}

	header, err := r.nextNonBlank()
	if err == io.EOF {
		r.Close()
		return nil, errors.New(errors.KindSingleRow, "file is empty")
	}
	if err != nil {
		r.Close()
		return nil, headerReadError(err)
	}
	r.rowNumber = 1

	if err := r.parseHeader(registry, header); err != nil {
		r.Close()
		return nil, err
	}

	// A header without data rows is rejected up front.
	first, err := r.nextNonBlank()
	if err == io.EOF {
		r.Close()
		return nil, errors.New(errors.KindSingleRow, "file contains a header row but no data rows")
	}
	if err != nil && err != errMalformed {
		r.Close()
		return nil, err
	}
	if first == nil {
		first = []string{}
	}
	r.pending = first
	r.pendingMalformed = err == errMalformed
	return r, nil
}

func headerReadError(err error) error {
	if errors.KindOf(err) == errors.KindEncoding {
		return err
	}
	if err == errMalformed {
		return errors.New(errors.KindHeader, "header row could not be parsed")
	}
	return err
}

func (r *Reader) parseHeader(registry *schema.Registry, raw []string) error {
	names, longForm := registry.NormalizeHeaders(r.schema, raw)
	r.longForm = longForm

	expected := make(map[string]bool, len(r.schema.ExpectedHeaders))
	for _, h := range r.schema.ExpectedHeaders {
		expected[h] = true
	}

	seen := make(map[string]int, len(names))
	r.columns = make([]column, len(names))
	for i, name := range names {
		switch {
		case expected[name]:
			r.columns[i] = column{name: name, kind: columnExpected}
			seen[name]++
		case schema.IsFlex(name):
			r.columns[i] = column{name: name, kind: columnFlex}
			r.flex = append(r.flex, name)
		default:
			r.columns[i] = column{name: name, kind: columnSkip}
		}
	}

	var missing, duplicated []string
	for _, h := range r.schema.ExpectedHeaders {
		switch n := seen[h]; {
		case n == 0:
			missing = append(missing, r.schema.LongName(h))
		case n > 1:
			duplicated = append(duplicated, r.schema.LongName(h))
		}
	}
	if len(missing) > 0 || len(duplicated) > 0 {
		return errors.NewHeaderError(missing, duplicated)
	}
	return nil
}

// nextNonBlank returns the next row with at least one non-empty cell.
func (r *Reader) nextNonBlank() ([]string, error) {
	for {
		cells, err := r.source.Next()
		if err != nil {
			return cells, err
		}
		if !isBlank(cells) {
			return cells, nil
		}
	}
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if normalizeCell(c) != nil {
			return false
		}
	}
	return true
}

// Next returns the next data record, or io.EOF when the file is exhausted
// or the reader's context was cancelled.
func (r *Reader) Next() (*Record, error) {
	if r.closed {
		return nil, io.EOF
	}
	if r.ctx.Err() != nil {
		r.cancelled = true
		r.Close()
		return nil, io.EOF
	}

	var (
		cells []string
		err   error
	)
	if r.pending != nil {
		cells, r.pending = r.pending, nil
		if r.pendingMalformed {
			err = errMalformed
		}
	} else {
		cells, err = r.nextNonBlank()
	}

	malformed := false
	switch {
	case err == io.EOF:
		return nil, io.EOF
	case err == errMalformed:
		malformed = true
	case err != nil:
		return nil, err
	}

	r.rowNumber++
	r.stats.TotalRows++
	if r.opts.MaxRows > 0 && r.stats.TotalRows > r.opts.MaxRows {
		return nil, errors.New(errors.KindRowCount, "file exceeds the maximum number of rows")
	}

	rec := &Record{
		RowNumber: r.rowNumber,
		Values:    make(map[string]*string, len(r.schema.ExpectedHeaders)),
		Flex:      make(map[string]*string, len(r.flex)),
		Malformed: malformed,
	}
	for _, h := range r.schema.ExpectedHeaders {
		rec.Values[h] = nil
	}
	for _, h := range r.flex {
		rec.Flex[h] = nil
	}

	switch {
	case len(cells) < len(r.columns):
		rec.Malformed = true
		r.stats.ShortRows = append(r.stats.ShortRows, r.rowNumber)
	case len(cells) > len(r.columns):
		rec.Malformed = true
		r.stats.LongRows = append(r.stats.LongRows, r.rowNumber)
	}

	for i, c := range cells {
		if i >= len(r.columns) {
			break
		}
		col := r.columns[i]
		switch col.kind {
		case columnExpected:
			rec.Values[col.name] = normalizeCell(c)
		case columnFlex:
			rec.Flex[col.name] = normalizeCell(c)
		}
	}
	return rec, nil
}

// normalizeCell trims whitespace and one layer of surrounding quotes;
// empty results become nil.
func normalizeCell(c string) *string {
	v := strings.TrimSpace(c)
	if len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
		v = strings.TrimSpace(v[1 : len(v)-1])
	}
	if v == "" {
		return nil
	}
	return &v
}

// Headers returns the expected short names in schema order.
func (r *Reader) Headers() []string {
	return r.schema.ExpectedHeaders
}

// FlexHeaders returns the flex headers in file order.
func (r *Reader) FlexHeaders() []string {
	return r.flex
}

// LongForm reports whether the header row used long names.
func (r *Reader) LongForm() bool {
	return r.longForm
}

func (r *Reader) Stats() Stats {
	return r.stats
}

// Cancelled reports whether reading stopped because the context ended.
func (r *Reader) Cancelled() bool {
	return r.cancelled
}

func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.source.Close()
}
