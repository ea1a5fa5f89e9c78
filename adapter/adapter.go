// Package adapter maps heterogeneous source tables into the canonical
// seven-field schema.
package adapter

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"diseaseindex/csvio"
	"diseaseindex/schema"
)

// Source declares how one raw table maps into the canonical schema.
type Source struct {
	Name string

	// Rename maps a source column to a canonical field. Keys are matched
	// against normalized headers ("Disease Name" and "disease_name" are the
	// same column). Columns that neither appear here nor already carry a
	// canonical name are dropped.
	Rename map[string]string

	// Defaults overrides the canonical default for fields the source lacks.
	Defaults map[string]string

	// MultiValued lists fields whose "|" separators are rewritten to ", ".
	// Nil means symptoms and treatments.
	MultiValued []string
}

// DefaultMultiValued are the fields rewritten when Source.MultiValued is nil.
var DefaultMultiValued = []string{schema.FieldSymptoms, schema.FieldTreatments}

// SchemaMappingError reports a source that has no column able to become
// the canonical name. It is a configuration error, fatal for the run.
type SchemaMappingError struct {
	Source string
	Column string
}

func (e *SchemaMappingError) Error() string {
	return fmt.Sprintf("source %q: no column %q to map to %q", e.Source, e.Column, schema.FieldName)
}

// Options tunes row normalization.
type Options struct {
	// Workers bounds parallel row normalization. <=1 runs inline.
	Workers int
}

// Stats counts per-source conditions surfaced to the caller.
type Stats struct {
	Rows              int // canonical rows produced
	SkippedRows       int // raw rows with a mismatched field count
	MalformedBools    int // boolean cells outside the closed token sets
	DroppedNoSymptoms int // binary-matrix rows without any active symptom
	ExtractFailures   int // report rows whose extraction returned an error
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Rows += o.Rows
	s.SkippedRows += o.SkippedRows
	s.MalformedBools += o.MalformedBools
	s.DroppedNoSymptoms += o.DroppedNoSymptoms
	s.ExtractFailures += o.ExtractFailures
}

// mapping resolves each canonical field to a raw column index (-1 when the
// source lacks it) plus the defaults used for missing fields.
type mapping struct {
	cols        [7]int
	defaults    schema.Record
	multiValued map[string]bool
}

func newMapping(raw *csvio.RawTable, src Source) (*mapping, error) {
	m := &mapping{multiValued: make(map[string]bool)}
	for i := range m.cols {
		m.cols[i] = -1
	}

	// Sorted so that two source columns renamed to one field resolve the
	// same way on every run.
	froms := make([]string, 0, len(src.Rename))
	renamed := make(map[string]bool, len(src.Rename))
	for from := range src.Rename {
		froms = append(froms, from)
		renamed[csvio.NormalizeHeader(from)] = true
	}
	sort.Strings(froms)

	nameSource := schema.FieldName
	for i, field := range schema.Fields {
		// A declared rename wins over a column that already has the canonical name.
		for _, from := range froms {
			if src.Rename[from] != field {
				continue
			}
			col := csvio.NormalizeHeader(from)
			if field == schema.FieldName && nameSource == schema.FieldName {
				nameSource = col
			}
			if idx := raw.Index(col); idx >= 0 {
				m.cols[i] = idx
				break
			}
		}
		if m.cols[i] < 0 && !renamed[field] {
			m.cols[i] = raw.Index(field)
		}
	}
	if m.cols[0] < 0 {
		return nil, &SchemaMappingError{Source: src.Name, Column: nameSource}
	}

	var err error
	m.defaults, err = defaultsFor(src)
	if err != nil {
		return nil, err
	}

	mv := src.MultiValued
	if mv == nil {
		mv = DefaultMultiValued
	}
	for _, f := range mv {
		m.multiValued[f] = true
	}
	return m, nil
}

func defaultsFor(src Source) (schema.Record, error) {
	var d schema.Record
	for field, v := range src.Defaults {
		switch field {
		case schema.FieldName:
			d.Name = v
		case schema.FieldSymptoms:
			d.Symptoms = v
		case schema.FieldDescription:
			d.Description = v
		case schema.FieldTreatments:
			d.Treatments = v
		case schema.FieldURL:
			d.URL = v
		case schema.FieldContagious, schema.FieldChronic:
			ts, ok := schema.ParseTriState(v)
			if !ok {
				return d, fmt.Errorf("source %q: invalid default %q for %s", src.Name, v, field)
			}
			if field == schema.FieldContagious {
				d.Contagious = ts
			} else {
				d.Chronic = ts
			}
		default:
			return d, fmt.Errorf("source %q: default for unknown field %q", src.Name, field)
		}
	}
	return d, nil
}

// cell returns the value of canonical field i, or "" with present=false
// when the source lacks the field.
func (m *mapping) cell(row []string, i int) (string, bool) {
	idx := m.cols[i]
	if idx < 0 || idx >= len(row) {
		return "", false
	}
	return strings.TrimSpace(row[idx]), true
}

// record builds the canonical record for one raw row. It is stateless and
// safe to call concurrently.
func (m *mapping) record(row []string) (schema.Record, int) {
	r := m.defaults
	malformed := 0

	str := func(i int, dst *string) {
		if v, ok := m.cell(row, i); ok {
			*dst = v
		}
		if m.multiValued[schema.Fields[i]] {
			*dst = schema.NormalizeSeparators(*dst)
		}
	}
	tri := func(i int, dst *schema.TriState) {
		v, ok := m.cell(row, i)
		if !ok {
			return
		}
		ts, valid := schema.ParseTriState(v)
		if !valid {
			malformed++
		}
		*dst = ts
	}

	str(0, &r.Name)
	str(1, &r.Symptoms)
	str(2, &r.Description)
	str(3, &r.Treatments)
	tri(4, &r.Contagious)
	tri(5, &r.Chronic)
	str(6, &r.URL)

	r.Name = schema.NormalizeName(r.Name)
	return r, malformed
}

// Adapt maps every row of raw into the canonical schema, preserving row
// order.
func Adapt(raw *csvio.RawTable, src Source, opts Options) ([]schema.Record, Stats, error) {
	m, err := newMapping(raw, src)
	if err != nil {
		return nil, Stats{}, err
	}

	out := make([]schema.Record, len(raw.Rows))
	malformed := make([]int, len(raw.Rows))

	forEachChunk(len(raw.Rows), opts.Workers, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out[i], malformed[i] = m.record(raw.Rows[i])
		}
	})

	stats := Stats{Rows: len(out), SkippedRows: raw.Skipped}
	for _, n := range malformed {
		stats.MalformedBools += n
	}
	return out, stats, nil
}

// forEachChunk splits [0,n) into contiguous chunks processed by up to
// workers goroutines. fn must only touch indices in its own chunk.
func forEachChunk(n, workers int, fn func(lo, hi int)) {
	if workers <= 1 || n < 2*workers {
		fn(0, n)
		return
	}
	size := (n + workers - 1) / workers
	var g errgroup.Group
	for lo := 0; lo < n; lo += size {
		lo, hi := lo, min(lo+size, n)
		g.Go(func() error {
			fn(lo, hi)
			return nil
		})
	}
	_ = g.Wait()
}
