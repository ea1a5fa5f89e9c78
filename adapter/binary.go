package adapter

import (
	"sort"
	"strings"

	"diseaseindex/csvio"
	"diseaseindex/schema"
)

// AdaptBinaryMatrix maps a one-hot symptom matrix: one disease column and
// one flag column per symptom. The disease column is the column renamed to
// name, or the first column when no rename is declared. Every other column
// is a symptom; a cell counts as active when it resolves to true.
//
// Rows with no active symptom carry nothing worth indexing and are dropped.
func AdaptBinaryMatrix(raw *csvio.RawTable, src Source, opts Options) ([]schema.Record, Stats, error) {
	// Same resolution as newMapping: sorted rename keys, first present
	// column wins.
	froms := make([]string, 0, len(src.Rename))
	for from, to := range src.Rename {
		if to == schema.FieldName {
			froms = append(froms, from)
		}
	}
	sort.Strings(froms)

	nameIdx := -1
	for _, from := range froms {
		if nameIdx = raw.Index(csvio.NormalizeHeader(from)); nameIdx >= 0 {
			break
		}
	}
	if nameIdx < 0 && len(froms) > 0 {
		return nil, Stats{}, &SchemaMappingError{Source: src.Name, Column: csvio.NormalizeHeader(froms[0])}
	}
	if nameIdx < 0 {
		if len(raw.Header) == 0 {
			return nil, Stats{}, &SchemaMappingError{Source: src.Name, Column: schema.FieldName}
		}
		nameIdx = 0
	}

	defaults, err := defaultsFor(src)
	if err != nil {
		return nil, Stats{}, err
	}

	out := make([]schema.Record, len(raw.Rows))
	keep := make([]bool, len(raw.Rows))

	forEachChunk(len(raw.Rows), opts.Workers, func(lo, hi int) {
		var active []string
		for i := lo; i < hi; i++ {
			row := raw.Rows[i]
			active = active[:0]
			for c, v := range row {
				if c == nameIdx {
					continue
				}
				if schema.Resolve(v) && raw.Labels[c] != "" {
					active = append(active, strings.ToLower(raw.Labels[c]))
				}
			}
			if len(active) == 0 {
				continue
			}
			r := defaults
			r.Name = schema.NormalizeName(row[nameIdx])
			r.Symptoms = strings.Join(active, schema.ValueSeparator)
			out[i] = r
			keep[i] = true
		}
	})

	stats := Stats{SkippedRows: raw.Skipped}
	records := out[:0]
	for i := range out {
		if !keep[i] {
			stats.DroppedNoSymptoms++
			continue
		}
		records = append(records, out[i])
	}
	stats.Rows = len(records)
	return records, stats, nil
}
