// Package index builds the symptom→diseases and disease→attributes search
// indices from the canonical table.
package index

// DiseaseInfo is one disease listed under a symptom.
type DiseaseInfo struct {
	Disease    string `json:"disease"`
	Text       string `json:"text"`
	SourceURL  string `json:"source_url"`
	Treatment  string `json:"treatment"`
	Contagious bool   `json:"contagious"`
	Chronic    bool   `json:"chronic"`
}

// SymptomIndex maps a normalized symptom to the diseases that list it, in
// the order they were first seen.
type SymptomIndex map[string][]DiseaseInfo

// DiseaseEntry aggregates every row of one disease.
type DiseaseEntry struct {
	Symptoms   []string `json:"symptoms"`
	Treatments []string `json:"treatments"`
	Sources    []string `json:"sources"`
	Contagious bool     `json:"contagious"`
	Chronic    bool     `json:"chronic"`
}

// DiseaseIndex maps a normalized disease name to its aggregate.
type DiseaseIndex map[string]DiseaseEntry

// Stats describes one build.
type Stats struct {
	Rows                int // canonical rows folded
	SkippedRows         int // rows without a disease name
	RowsWithoutSymptoms int
	Pairs               int // distinct (symptom, disease) pairs
	// AttributeConflicts counts rows whose known contagious or chronic value
	// disagreed with the value already chosen for their disease.
	AttributeConflicts int
}

func (s *Stats) add(o Stats) {
	s.Rows += o.Rows
	s.SkippedRows += o.SkippedRows
	s.RowsWithoutSymptoms += o.RowsWithoutSymptoms
	s.Pairs += o.Pairs
	s.AttributeConflicts += o.AttributeConflicts
}

// MergeInfo combines two entries for the same (symptom, disease) pair.
// a was seen first: its non-empty text, source_url and treatment win, and b
// only fills fields a left empty. Booleans always come from a.
func MergeInfo(a, b DiseaseInfo) DiseaseInfo {
	if a.Text == "" {
		a.Text = b.Text
	}
	if a.SourceURL == "" {
		a.SourceURL = b.SourceURL
	}
	if a.Treatment == "" {
		a.Treatment = b.Treatment
	}
	return a
}
