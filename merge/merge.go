// Package merge unions adapted source tables into one canonical table.
package merge

import (
	"sort"

	"diseaseindex/backfill"
	"diseaseindex/schema"
)

// Stats counts what the merge did to its input.
type Stats struct {
	InputRows          int
	DroppedEmptyName   int
	DuplicatesRemoved  int
	BackfillContagious int
	BackfillChronic    int
	BackfillTreatments int
	OutputRows         int
}

// Merge concatenates tables in the given order, drops rows without a name,
// removes exact duplicates, backfills missing contagious/chronic/treatments
// from attrs and sorts by name. The input tables are not modified.
//
// Sorting is stable, so rows sharing a name keep their concatenation order
// and repeated runs over the same input produce identical output.
func Merge(tables [][]schema.Record, attrs *backfill.Map) ([]schema.Record, Stats) {
	var stats Stats
	for _, t := range tables {
		stats.InputRows += len(t)
	}

	rows := make([]schema.Record, 0, stats.InputRows)
	for _, t := range tables {
		for _, r := range t {
			r.Name = schema.NormalizeName(r.Name)
			if r.Name == "" {
				stats.DroppedEmptyName++
				continue
			}
			rows = append(rows, r)
		}
	}

	rows = dedupe(rows, &stats)

	for i := range rows {
		backfillRow(&rows[i], attrs, &stats)
	}

	// Backfill can make two previously distinct rows identical.
	rows = dedupe(rows, &stats)

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Name < rows[j].Name
	})

	stats.OutputRows = len(rows)
	return rows, stats
}

// dedupe keeps the first occurrence of each distinct record.
func dedupe(rows []schema.Record, stats *Stats) []schema.Record {
	seen := make(map[schema.Record]struct{}, len(rows))
	out := rows[:0]
	for _, r := range rows {
		if _, dup := seen[r]; dup {
			stats.DuplicatesRemoved++
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

func backfillRow(r *schema.Record, attrs *backfill.Map, stats *Stats) {
	if r.Contagious.Known() && r.Chronic.Known() && r.Treatments != "" {
		return
	}
	a, ok := attrs.Get(r.Name)
	if !ok {
		return
	}
	if !r.Contagious.Known() && a.Contagious.Known() {
		r.Contagious = a.Contagious
		stats.BackfillContagious++
	}
	if !r.Chronic.Known() && a.Chronic.Known() {
		r.Chronic = a.Chronic
		stats.BackfillChronic++
	}
	if r.Treatments == "" && a.Treatments != "" {
		r.Treatments = a.Treatments
		stats.BackfillTreatments++
	}
}
