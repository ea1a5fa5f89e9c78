package csvio

import (
	"encoding/csv"
	"fmt"
	"io"

	"diseaseindex/schema"
)

// WriteCanonical writes records as CSV with the canonical header row.
func WriteCanonical(w io.Writer, records []schema.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(schema.Fields); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i := range records {
		if err := cw.Write(records[i].Values()); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCanonical parses a canonical CSV produced by WriteCanonical.
// Boolean cells are parsed leniently; the count of cells outside the
// closed token sets is returned alongside the records.
func ReadCanonical(r io.Reader) ([]schema.Record, int, error) {
	t, err := Read(r)
	if err != nil {
		return nil, 0, err
	}
	for _, f := range schema.Fields {
		if !t.Has(f) {
			return nil, 0, fmt.Errorf("canonical table missing column %q", f)
		}
	}

	malformed := 0
	records := make([]schema.Record, 0, len(t.Rows))
	for _, row := range t.Rows {
		contagious, ok := schema.ParseTriState(t.Value(row, schema.FieldContagious))
		if !ok {
			malformed++
		}
		chronic, ok := schema.ParseTriState(t.Value(row, schema.FieldChronic))
		if !ok {
			malformed++
		}
		records = append(records, schema.Record{
			Name:        t.Value(row, schema.FieldName),
			Symptoms:    t.Value(row, schema.FieldSymptoms),
			Description: t.Value(row, schema.FieldDescription),
			Treatments:  t.Value(row, schema.FieldTreatments),
			Contagious:  contagious,
			Chronic:     chronic,
			URL:         t.Value(row, schema.FieldURL),
		})
	}
	return records, malformed, nil
}
