package schema

import (
	"regexp"
	"strings"
)

// Canonical field names, in canonical column order.
const (
	FieldName        = "name"
	FieldSymptoms    = "symptoms"
	FieldDescription = "description"
	FieldTreatments  = "treatments"
	FieldContagious  = "contagious"
	FieldChronic     = "chronic"
	FieldURL         = "url"
)

// Fields is the canonical column order. Every adapted table and the merged
// table carry exactly these columns, in this order.
var Fields = []string{
	FieldName,
	FieldSymptoms,
	FieldDescription,
	FieldTreatments,
	FieldContagious,
	FieldChronic,
	FieldURL,
}

// ValueSeparator joins multi-valued fields (symptoms, treatments).
const ValueSeparator = ", "

// Record is one row of the canonical table.
//
// String fields use "" as their empty value; Contagious and Chronic use
// Unknown until backfill or index-time resolution decides them.
type Record struct {
	Name        string   `json:"name"`
	Symptoms    string   `json:"symptoms"`
	Description string   `json:"description"`
	Treatments  string   `json:"treatments"`
	Contagious  TriState `json:"contagious"`
	Chronic     TriState `json:"chronic"`
	URL         string   `json:"url"`
}

// Values renders the record in canonical column order.
func (r Record) Values() []string {
	return []string{
		r.Name,
		r.Symptoms,
		r.Description,
		r.Treatments,
		r.Contagious.String(),
		r.Chronic.String(),
		r.URL,
	}
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// NormalizeName trims, lowercases and replaces internal whitespace runs
// with a single underscore. "  Common  Cold " → "common_cold".
func NormalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	return whitespaceRun.ReplaceAllString(s, "_")
}

// NormalizeSeparators rewrites "|" value separators to ", ".
// "a|b| c" → "a, b, c"
func NormalizeSeparators(s string) string {
	if !strings.Contains(s, "|") {
		return s
	}
	parts := strings.Split(s, "|")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ValueSeparator)
}

// SplitValues splits a multi-valued field on commas, trimming spaces and
// stray quotes and discarding empty tokens.
func SplitValues(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), `"`)
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
