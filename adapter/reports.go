package adapter

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"diseaseindex/csvio"
	"diseaseindex/schema"
)

// Extractor pulls symptom mentions out of free text. Results carry no
// guarantee of determinism or completeness; an empty result means no
// symptoms were found.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]string, error)
}

// AdaptReports maps a table of free-text patient reports. Rows are adapted
// like any other source, then the description of each row is sent to ex and
// the extracted symptoms replace the row's symptoms.
//
// Extraction errors are counted and the row keeps no symptoms; only context
// cancellation aborts the call.
func AdaptReports(ctx context.Context, raw *csvio.RawTable, src Source, ex Extractor, opts Options) ([]schema.Record, Stats, error) {
	records, stats, err := Adapt(raw, src, opts)
	if err != nil {
		return nil, stats, err
	}

	failed := make([]bool, len(records))
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range records {
		text := strings.TrimSpace(records[i].Description)
		if text == "" {
			records[i].Symptoms = ""
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			found, err := ex.Extract(gctx, text)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed[i] = true
				records[i].Symptoms = ""
				return nil
			}
			records[i].Symptoms = joinSymptoms(found)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stats, err
	}

	for _, f := range failed {
		if f {
			stats.ExtractFailures++
		}
	}
	return records, stats, nil
}

// joinSymptoms trims and de-duplicates extracted mentions, keeping their
// order. Commas inside a mention would split it at index time, so they are
// replaced with spaces.
func joinSymptoms(found []string) string {
	seen := make(map[string]bool, len(found))
	out := make([]string, 0, len(found))
	for _, s := range found {
		s = strings.Join(strings.Fields(strings.ReplaceAll(s, ",", " ")), " ")
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return strings.Join(out, schema.ValueSeparator)
}
