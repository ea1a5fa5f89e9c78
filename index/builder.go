package index

import (
	"sort"
	"strings"

	"diseaseindex/schema"
)

// row is a canonical record parsed for indexing. Parsing is stateless, so
// rows can be parsed in parallel before accumulation.
type row struct {
	disease    string
	symptoms   []string
	info       DiseaseInfo
	contagious schema.TriState
	chronic    schema.TriState
	treatment  string
	source     string
}

func parse(r schema.Record) row {
	disease := schema.NormalizeName(strings.Trim(r.Name, `"`))
	p := row{
		disease:    disease,
		contagious: r.Contagious,
		chronic:    r.Chronic,
		treatment:  strings.TrimSpace(strings.Trim(r.Treatments, `"`)),
		source:     strings.TrimSpace(strings.Trim(r.URL, `"`)),
	}
	for _, s := range schema.SplitValues(r.Symptoms) {
		p.symptoms = append(p.symptoms, strings.ToLower(s))
	}
	p.info = DiseaseInfo{
		Disease:    disease,
		Text:       strings.TrimSpace(strings.Trim(r.Description, `"`)),
		SourceURL:  p.source,
		Treatment:  p.treatment,
		Contagious: r.Contagious.Bool(),
		Chronic:    r.Chronic.Bool(),
	}
	return p
}

type symptomEntry struct {
	infos []DiseaseInfo
	pos   map[string]int // disease → position in infos
}

type diseaseAcc struct {
	symptoms   map[string]struct{}
	treatments map[string]struct{}
	sources    map[string]struct{}
	contagious schema.TriState
	chronic    schema.TriState
}

// Accumulator is the state of the index fold. The zero value is not usable;
// call NewAccumulator.
type Accumulator struct {
	symptoms map[string]*symptomEntry
	diseases map[string]*diseaseAcc
	stats    Stats
}

// NewAccumulator returns an empty fold state.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		symptoms: make(map[string]*symptomEntry),
		diseases: make(map[string]*diseaseAcc),
	}
}

// Add folds one canonical row into the accumulator and returns it.
// Rows must be added in canonical table order: the first row seen for a
// (symptom, disease) pair or a disease attribute wins conflicts.
func (a *Accumulator) Add(r schema.Record) *Accumulator {
	a.stats.Rows++
	a.add(parse(r), nil)
	return a
}

// add folds a parsed row. When owns is non-nil only the symptom and
// disease keys it accepts are accumulated, which lets shards split the
// key space while each sees every row in order.
func (a *Accumulator) add(p row, owns func(string) bool) {
	if p.disease == "" {
		if owns == nil || owns(p.disease) {
			a.stats.SkippedRows++
		}
		return
	}

	for _, s := range p.symptoms {
		if owns != nil && !owns("s:"+s) {
			continue
		}
		e, ok := a.symptoms[s]
		if !ok {
			e = &symptomEntry{pos: make(map[string]int)}
			a.symptoms[s] = e
		}
		if i, seen := e.pos[p.disease]; seen {
			e.infos[i] = MergeInfo(e.infos[i], p.info)
			continue
		}
		e.pos[p.disease] = len(e.infos)
		e.infos = append(e.infos, p.info)
		a.stats.Pairs++
	}

	if owns != nil && !owns("d:"+p.disease) {
		return
	}
	if len(p.symptoms) == 0 {
		a.stats.RowsWithoutSymptoms++
	}
	d, ok := a.diseases[p.disease]
	if !ok {
		d = &diseaseAcc{
			symptoms:   make(map[string]struct{}),
			treatments: make(map[string]struct{}),
			sources:    make(map[string]struct{}),
		}
		a.diseases[p.disease] = d
	}
	for _, s := range p.symptoms {
		d.symptoms[s] = struct{}{}
	}
	if p.treatment != "" {
		d.treatments[p.treatment] = struct{}{}
	}
	if p.source != "" {
		d.sources[p.source] = struct{}{}
	}
	a.stats.AttributeConflicts += resolveAttr(&d.contagious, p.contagious)
	a.stats.AttributeConflicts += resolveAttr(&d.chronic, p.chronic)
}

// resolveAttr keeps the first known value. It returns 1 when a later known
// value disagrees with it.
func resolveAttr(cur *schema.TriState, v schema.TriState) int {
	if !v.Known() {
		return 0
	}
	if !cur.Known() {
		*cur = v
		return 0
	}
	if *cur != v {
		return 1
	}
	return 0
}

// Result materializes both indices. Set-valued fields are sorted so the
// output does not depend on map iteration order.
func (a *Accumulator) Result() (SymptomIndex, DiseaseIndex, Stats) {
	si := make(SymptomIndex, len(a.symptoms))
	for s, e := range a.symptoms {
		si[s] = append([]DiseaseInfo(nil), e.infos...)
	}

	di := make(DiseaseIndex, len(a.diseases))
	for name, d := range a.diseases {
		di[name] = DiseaseEntry{
			Symptoms:   sortedKeys(d.symptoms),
			Treatments: sortedKeys(d.treatments),
			Sources:    sortedKeys(d.sources),
			Contagious: d.contagious.Bool(),
			Chronic:    d.chronic.Bool(),
		}
	}
	return si, di, a.stats
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build folds the whole canonical table into both indices.
func Build(table []schema.Record) (SymptomIndex, DiseaseIndex, Stats) {
	acc := NewAccumulator()
	for _, r := range table {
		acc.Add(r)
	}
	return acc.Result()
}
