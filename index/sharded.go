package index

import (
	"context"
	"hash/fnv"

	"golang.org/x/sync/errgroup"

	"diseaseindex/schema"
)

// BuildSharded produces the same indices as Build using parallel workers.
// Rows are parsed concurrently, then each shard folds every row in table
// order but only accumulates the symptom and disease keys that hash to it,
// so each key has a single writer and first-seen order is preserved.
func BuildSharded(ctx context.Context, table []schema.Record, shards int) (SymptomIndex, DiseaseIndex, Stats, error) {
	if shards <= 1 {
		si, di, st := Build(table)
		return si, di, st, nil
	}

	rows := make([]row, len(table))
	g, gctx := errgroup.WithContext(ctx)
	size := max(1, (len(table)+shards-1)/shards)
	for lo := 0; lo < len(table); lo += size {
		lo, hi := lo, min(lo+size, len(table))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if i%1024 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				rows[i] = parse(table[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, Stats{}, err
	}

	accs := make([]*Accumulator, shards)
	g, gctx = errgroup.WithContext(ctx)
	for s := 0; s < shards; s++ {
		acc := NewAccumulator()
		accs[s] = acc
		owns := func(key string) bool { return shardOf(key, shards) == s }
		g.Go(func() error {
			for i := range rows {
				if i%1024 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				acc.add(rows[i], owns)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, Stats{}, err
	}

	si := make(SymptomIndex)
	di := make(DiseaseIndex)
	stats := Stats{Rows: len(table)}
	for _, acc := range accs {
		s, d, st := acc.Result()
		for k, v := range s {
			si[k] = v
		}
		for k, v := range d {
			di[k] = v
		}
		stats.add(st)
	}
	return si, di, stats, nil
}

func shardOf(key string, shards int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(shards))
}
