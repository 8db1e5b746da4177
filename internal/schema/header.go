package schema

import (
	"strings"
	"unicode"
)

const FlexPrefix = "flex_"

// Clean canonicalizes a header cell: surrounding quotes and whitespace are
// stripped, the text is lowercased and internal whitespace removed.
func Clean(header string) string {
	h := strings.TrimSpace(header)
	h = strings.Trim(h, `"`)
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(h)
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, h)
}

// IsFlex reports whether a canonical header designates a flex field.
func IsFlex(header string) bool {
	return strings.HasPrefix(header, FlexPrefix)
}

// Alias rewrites a cleaned legacy header spelling to its current form.
func (r *Registry) Alias(header string) string {
	if to, ok := r.aliases[header]; ok {
		return to
	}
	return header
}

// NormalizeHeaders cleans, de-aliases and translates a raw header row into
// short names. When more than half of the cells are long names the whole
// row is treated as long-form. The second return value reports which form
// was detected.
func (r *Registry) NormalizeHeaders(s *Schema, raw []string) ([]string, bool) {
	cleaned := make([]string, len(raw))
	longMatches := 0
	for i, h := range raw {
		c := r.Alias(Clean(h))
		cleaned[i] = c
		if _, ok := s.LongToShort[c]; ok {
			longMatches++
		}
	}

	isLong := len(cleaned) > 0 && longMatches*2 > len(cleaned)
	if !isLong {
		return cleaned, false
	}

	out := make([]string, len(cleaned))
	for i, c := range cleaned {
		if short, ok := s.LongToShort[c]; ok {
			out[i] = short
			continue
		}
		out[i] = c
	}
	return out, true
}
