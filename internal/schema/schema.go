// Package schema is the immutable catalog of submission file types, their
// columns and the header canonicalization table.
package schema

import (
	"embed"
	"fmt"
	"sort"

	"data-act-broker/internal/model"
	"data-act-broker/pkg/errors"

	"gopkg.in/yaml.v3"
)

//go:embed assets/schema.yaml
var assetsFS embed.FS

type fileTypeDoc struct {
	model.FileType `yaml:",inline"`
	Columns        []model.FileColumn `yaml:"columns"`
	ExtraColumns   []model.FileColumn `yaml:"extra_columns"`
}

type labelDoc struct {
	model.ValidationLabel `yaml:",inline"`
	FileType              string `yaml:"file_type"`
}

type catalogDoc struct {
	FileTypes        []fileTypeDoc     `yaml:"file_types"`
	HeaderAliases    map[string]string `yaml:"header_aliases"`
	ValidationLabels []labelDoc        `yaml:"validation_labels"`
}

// Schema is the derived view of one file type.
type Schema struct {
	FileType    model.FileType
	Columns     []model.FileColumn
	LongToShort map[string]string
	ShortToLong map[string]string

	ExpectedHeaders []string
	Required        []string
	Numbers         []string
	Booleans        []string
	Dates           []string
	Lengths         []string
	Padded          []string

	// Labels keyed by label type then column short name.
	Labels map[model.LabelType]map[string]model.ValidationLabel

	byShort map[string]model.FileColumn
}

// Column returns the column with the given short name.
func (s *Schema) Column(short string) (model.FileColumn, bool) {
	c, ok := s.byShort[short]
	return c, ok
}

// Label returns the validation label for a column, if any.
func (s *Schema) Label(kind model.LabelType, short string) (model.ValidationLabel, bool) {
	l, ok := s.Labels[kind][short]
	return l, ok
}

// LongName returns the long header for a short name, or the short name
// itself when unknown.
func (s *Schema) LongName(short string) string {
	if long, ok := s.ShortToLong[short]; ok {
		return long
	}
	return short
}

type Registry struct {
	schemas []*Schema
	byName  map[string]*Schema
	aliases map[string]string
}

// Load builds the registry from the embedded catalog.
func Load() (*Registry, error) {
	data, err := assetsFS.ReadFile("assets/schema.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema catalog: %w", err)
	}
	return Parse(data)
}

// MustLoad is Load for process start-up.
func MustLoad() *Registry {
	r, err := Load()
	if err != nil {
		panic(err)
	}
	return r
}

func Parse(data []byte) (*Registry, error) {
	var doc catalogDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema catalog: %w", err)
	}

	r := &Registry{
		byName:  make(map[string]*Schema, len(doc.FileTypes)),
		aliases: make(map[string]string, len(doc.HeaderAliases)),
	}
	for from, to := range doc.HeaderAliases {
		r.aliases[Clean(from)] = Clean(to)
	}

	for _, ft := range doc.FileTypes {
		cols := make([]model.FileColumn, 0, len(ft.Columns)+len(ft.ExtraColumns))
		cols = append(cols, ft.Columns...)
		cols = append(cols, ft.ExtraColumns...)
		s, err := newSchema(ft.FileType, cols)
		if err != nil {
			return nil, err
		}
		r.schemas = append(r.schemas, s)
		r.byName[s.FileType.Name] = s
	}

	for _, l := range doc.ValidationLabels {
		s, ok := r.byName[l.FileType]
		if !ok {
			return nil, fmt.Errorf("validation label %s: %w: %s", l.Label, errors.ErrUnknownFileType, l.FileType)
		}
		label := l.ValidationLabel
		label.FileType = l.FileType
		if s.Labels[label.LabelType] == nil {
			s.Labels[label.LabelType] = make(map[string]model.ValidationLabel)
		}
		s.Labels[label.LabelType][label.ColumnName] = label
	}

	sort.Slice(r.schemas, func(i, j int) bool {
		return r.schemas[i].FileType.Order < r.schemas[j].FileType.Order
	})
	return r, nil
}

func newSchema(ft model.FileType, cols []model.FileColumn) (*Schema, error) {
	s := &Schema{
		FileType:    ft,
		LongToShort: make(map[string]string, len(cols)),
		ShortToLong: make(map[string]string, len(cols)),
		Labels:      make(map[model.LabelType]map[string]model.ValidationLabel),
		byShort:     make(map[string]model.FileColumn, len(cols)),
	}

	for _, c := range cols {
		c.FileType = ft.Name
		c.ShortName = Clean(c.ShortName)
		if _, dup := s.byShort[c.ShortName]; dup {
			return nil, fmt.Errorf("file type %s: duplicate column %s", ft.Name, c.ShortName)
		}
		if c.FieldType == "" {
			c.FieldType = model.FieldString
		}

		s.Columns = append(s.Columns, c)
		s.byShort[c.ShortName] = c
		s.LongToShort[Clean(c.LongName)] = c.ShortName
		s.ShortToLong[c.ShortName] = c.LongName
		s.ExpectedHeaders = append(s.ExpectedHeaders, c.ShortName)

		if c.Required {
			s.Required = append(s.Required, c.ShortName)
		}
		switch {
		case c.FieldType.IsNumber():
			s.Numbers = append(s.Numbers, c.ShortName)
		case c.FieldType == model.FieldBoolean:
			s.Booleans = append(s.Booleans, c.ShortName)
		case c.FieldType == model.FieldDate:
			s.Dates = append(s.Dates, c.ShortName)
		}
		if c.MaxLength != nil {
			s.Lengths = append(s.Lengths, c.ShortName)
		}
		if c.PaddedFlag {
			s.Padded = append(s.Padded, c.ShortName)
		}
	}
	return s, nil
}

// Get returns the schema of a file type by short name (A, B, C, ...).
func (r *Registry) Get(fileType string) (*Schema, error) {
	s, ok := r.byName[fileType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrUnknownFileType, fileType)
	}
	return s, nil
}

// FileTypes returns all file types ordered by their order index.
func (r *Registry) FileTypes() []model.FileType {
	out := make([]model.FileType, len(r.schemas))
	for i, s := range r.schemas {
		out[i] = s.FileType
	}
	return out
}

// Schemas returns all schemas ordered by file type order.
func (r *Registry) Schemas() []*Schema {
	out := make([]*Schema, len(r.schemas))
	copy(out, r.schemas)
	return out
}
