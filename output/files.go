package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"diseaseindex/csvio"
	"diseaseindex/schema"
)

// WriteCanonicalCSV publishes the merged canonical table.
func WriteCanonicalCSV(path string, records []schema.Record) error {
	return WriteAtomic(path, func(w io.Writer) error {
		return EncodeCanonicalCSV(w, records)
	})
}

// EncodeCanonicalCSV writes the canonical table as CSV with a header row.
func EncodeCanonicalCSV(w io.Writer, records []schema.Record) error {
	return csvio.WriteCanonical(w, records)
}

// ReadCanonicalCSV loads a table written by WriteCanonicalCSV.
func ReadCanonicalCSV(path string) ([]schema.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	recs, _, err := csvio.ReadCanonical(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return recs, nil
}

// WriteJSON publishes v as indented JSON. Map keys are emitted sorted, so
// identical indices produce identical bytes.
func WriteJSON(path string, v any) error {
	return WriteAtomic(path, func(w io.Writer) error {
		if err := EncodeJSON(w, v); err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		return nil
	})
}

// EncodeJSON writes v as indented JSON.
func EncodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ReadJSON decodes a file written by WriteJSON into v.
func ReadJSON(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
