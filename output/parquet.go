package output

import (
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"

	"diseaseindex/schema"
)

// CanonicalRow is the Parquet layout of a canonical record. Unknown
// booleans are stored as nulls.
type CanonicalRow struct {
	Name        string `parquet:"name"`
	Symptoms    string `parquet:"symptoms"`
	Description string `parquet:"description"`
	Treatments  string `parquet:"treatments"`
	Contagious  *bool  `parquet:"contagious,optional"`
	Chronic     *bool  `parquet:"chronic,optional"`
	URL         string `parquet:"url"`
}

func toRow(r schema.Record) CanonicalRow {
	return CanonicalRow{
		Name:        r.Name,
		Symptoms:    r.Symptoms,
		Description: r.Description,
		Treatments:  r.Treatments,
		Contagious:  boolPtr(r.Contagious),
		Chronic:     boolPtr(r.Chronic),
		URL:         r.URL,
	}
}

func (c CanonicalRow) record() schema.Record {
	return schema.Record{
		Name:        c.Name,
		Symptoms:    c.Symptoms,
		Description: c.Description,
		Treatments:  c.Treatments,
		Contagious:  fromPtr(c.Contagious),
		Chronic:     fromPtr(c.Chronic),
		URL:         c.URL,
	}
}

func boolPtr(t schema.TriState) *bool {
	if !t.Known() {
		return nil
	}
	b := t.Bool()
	return &b
}

func fromPtr(b *bool) schema.TriState {
	if b == nil {
		return schema.Unknown
	}
	return schema.FromBool(*b)
}

const parquetBatch = 10_000

// WriteCanonicalParquet publishes the merged table as zstd Parquet with
// page statistics. Rows keep canonical (name-sorted) order, which makes
// row-group min/max on name selective.
func WriteCanonicalParquet(path string, records []schema.Record) error {
	return WriteAtomic(path, func(w io.Writer) error {
		return EncodeCanonicalParquet(w, records)
	})
}

// EncodeCanonicalParquet writes records to w in the CanonicalRow layout.
func EncodeCanonicalParquet(w io.Writer, records []schema.Record) error {
	pw := parquet.NewGenericWriter[CanonicalRow](w,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedDefault}),
		parquet.PageBufferSize(8*1024),
		parquet.DataPageStatistics(true),
		parquet.CreatedBy("diseaseindex", "1.0", ""),
	)
	batch := make([]CanonicalRow, 0, min(parquetBatch, len(records)))
	for i := range records {
		batch = append(batch, toRow(records[i]))
		if len(batch) == cap(batch) {
			if _, err := pw.Write(batch); err != nil {
				_ = pw.Close()
				return fmt.Errorf("write parquet rows: %w", err)
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if _, err := pw.Write(batch); err != nil {
			_ = pw.Close()
			return fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

// ReadCanonicalParquet loads a file written by WriteCanonicalParquet.
func ReadCanonicalParquet(path string) ([]schema.Record, error) {
	rows, err := parquet.ReadFile[CanonicalRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	out := make([]schema.Record, len(rows))
	for i := range rows {
		out[i] = rows[i].record()
	}
	return out, nil
}
