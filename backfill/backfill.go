// Package backfill holds per-disease attributes taken from one
// authoritative reference source, used to repair rows that lack them.
package backfill

import "diseaseindex/schema"

// Attributes are the fields a reference source reliably carries.
type Attributes struct {
	Contagious schema.TriState
	Chronic    schema.TriState
	Treatments string
}

// Map is read-only once built.
type Map struct {
	m map[string]Attributes
}

// Build indexes the reference rows by normalized name. Later rows for the
// same name overwrite earlier ones. Rows with an empty name are ignored.
func Build(reference []schema.Record) *Map {
	m := make(map[string]Attributes, len(reference))
	for _, r := range reference {
		name := schema.NormalizeName(r.Name)
		if name == "" {
			continue
		}
		m[name] = Attributes{
			Contagious: r.Contagious,
			Chronic:    r.Chronic,
			Treatments: r.Treatments,
		}
	}
	return &Map{m: m}
}

// Get returns the attributes known for name. A nil Map knows nothing.
func (b *Map) Get(name string) (Attributes, bool) {
	if b == nil {
		return Attributes{}, false
	}
	a, ok := b.m[schema.NormalizeName(name)]
	return a, ok
}

// Len returns the number of diseases in the map.
func (b *Map) Len() int {
	if b == nil {
		return 0
	}
	return len(b.m)
}
