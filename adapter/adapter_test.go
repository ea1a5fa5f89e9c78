package adapter

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"
	"testing"

	"diseaseindex/csvio"
	"diseaseindex/schema"
)

// trainSource mirrors a scraped dataset with provenance-only columns and
// pipe-separated symptom lists.
var trainSource = Source{
	Name: "train",
	Rename: map[string]string{
		"source_url":                       schema.FieldURL,
		"disease_name":                     schema.FieldName,
		"symptom_list":                     schema.FieldSymptoms,
		"generated_sentence_from_symptoms": schema.FieldDescription,
	},
}

func trainTable() *csvio.RawTable {
	return csvio.NewRawTable("train.csv",
		[]string{"disease_name", "symptom_list", "generated_sentence_from_symptoms", "source_url", "scrape_id"},
		[][]string{
			{"  Common Cold ", "a|b|c", "sneezy", "http://a", "17"},
			{"Flu", "fever| cough", "", "", "18"},
		})
}

func TestAdaptRenamesAndFillsDefaults(t *testing.T) {
	got, stats, err := Adapt(trainTable(), trainSource, Options{})
	if err != nil {
		t.Fatalf("Adapt: %v", err)
	}

	want := []schema.Record{
		{Name: "common_cold", Symptoms: "a, b, c", Description: "sneezy", URL: "http://a"},
		{Name: "flu", Symptoms: "fever, cough"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Adapt:\n got %+v\nwant %+v", got, want)
	}
	if stats.Rows != 2 || stats.SkippedRows != 0 || stats.MalformedBools != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestAdaptPipeSeparatedSymptoms(t *testing.T) {
	raw := csvio.NewRawTable("s", []string{"name", "symptoms"}, [][]string{{"x", "a|b|c"}})
	got, _, err := Adapt(raw, Source{Name: "s"}, Options{})
	if err != nil {
		t.Fatalf("Adapt: %v", err)
	}
	if got[0].Symptoms != "a, b, c" {
		t.Errorf("Symptoms = %q, want %q", got[0].Symptoms, "a, b, c")
	}
}

func TestAdaptMissingNameColumn(t *testing.T) {
	raw := csvio.NewRawTable("s", []string{"label", "text"}, [][]string{{"flu", "x"}})

	_, _, err := Adapt(raw, Source{Name: "reports", Rename: map[string]string{"disease": schema.FieldName}}, Options{})
	var sme *SchemaMappingError
	if !errors.As(err, &sme) {
		t.Fatalf("expected SchemaMappingError, got %v", err)
	}
	if sme.Column != "disease" || sme.Source != "reports" {
		t.Errorf("unexpected error fields %+v", sme)
	}

	_, _, err = Adapt(raw, Source{Name: "plain"}, Options{})
	if !errors.As(err, &sme) || sme.Column != schema.FieldName {
		t.Fatalf("expected SchemaMappingError naming %q, got %v", schema.FieldName, err)
	}
}

func TestAdaptRenameWinsOverCanonicalColumn(t *testing.T) {
	raw := csvio.NewRawTable("s", []string{"name", "label"}, [][]string{{"ignored", "Flu"}})
	got, _, err := Adapt(raw, Source{Name: "s", Rename: map[string]string{"label": schema.FieldName}}, Options{})
	if err != nil {
		t.Fatalf("Adapt: %v", err)
	}
	if got[0].Name != "flu" {
		t.Errorf("Name = %q, want flu", got[0].Name)
	}
}

func TestAdaptBooleansAndDefaults(t *testing.T) {
	raw := csvio.NewRawTable("s",
		[]string{"Name", "Contagious", "Chronic", "Treatments"},
		[][]string{
			{"flu", "1", "0", "rest|fluids"},
			{"gout", "", "True", ""},
			{"odd", "perhaps", "", ""},
		})
	src := Source{Name: "s", Defaults: map[string]string{schema.FieldURL: "dataset://s"}}

	got, stats, err := Adapt(raw, src, Options{})
	if err != nil {
		t.Fatalf("Adapt: %v", err)
	}
	if got[0].Contagious != schema.True || got[0].Chronic != schema.False {
		t.Errorf("flu booleans = %v/%v", got[0].Contagious, got[0].Chronic)
	}
	if got[0].Treatments != "rest, fluids" {
		t.Errorf("Treatments = %q", got[0].Treatments)
	}
	if got[1].Contagious != schema.Unknown || got[1].Chronic != schema.True {
		t.Errorf("gout booleans = %v/%v", got[1].Contagious, got[1].Chronic)
	}
	if got[2].Contagious != schema.False {
		t.Errorf("malformed token should default to false, got %v", got[2].Contagious)
	}
	if stats.MalformedBools != 1 {
		t.Errorf("MalformedBools = %d, want 1", stats.MalformedBools)
	}
	for _, r := range got {
		if r.URL != "dataset://s" {
			t.Errorf("default URL not applied: %+v", r)
		}
	}
}

func TestAdaptInvalidDefault(t *testing.T) {
	raw := csvio.NewRawTable("s", []string{"name"}, [][]string{{"flu"}})
	if _, _, err := Adapt(raw, Source{Name: "s", Defaults: map[string]string{"contagious": "sometimes"}}, Options{}); err == nil {
		t.Error("expected error for invalid boolean default")
	}
	if _, _, err := Adapt(raw, Source{Name: "s", Defaults: map[string]string{"severity": "high"}}, Options{}); err == nil {
		t.Error("expected error for default on unknown field")
	}
}

func TestAdaptCustomMultiValued(t *testing.T) {
	raw := csvio.NewRawTable("s", []string{"name", "symptoms", "url"}, [][]string{{"flu", "a|b", "http://x|y"}})
	got, _, err := Adapt(raw, Source{Name: "s", MultiValued: []string{schema.FieldURL}}, Options{})
	if err != nil {
		t.Fatalf("Adapt: %v", err)
	}
	if got[0].Symptoms != "a|b" || got[0].URL != "http://x, y" {
		t.Errorf("got %+v", got[0])
	}
}

func TestAdaptParallelMatchesSequential(t *testing.T) {
	var rows [][]string
	for i := 0; i < 500; i++ {
		rows = append(rows, []string{fmt.Sprintf("Disease %d", i%37), "s1|s2", "1"})
	}
	raw := csvio.NewRawTable("s", []string{"name", "symptoms", "chronic"}, rows)

	seq, _, err := Adapt(raw, Source{Name: "s"}, Options{Workers: 1})
	if err != nil {
		t.Fatalf("Adapt sequential: %v", err)
	}
	par, _, err := Adapt(raw, Source{Name: "s"}, Options{Workers: 8})
	if err != nil {
		t.Fatalf("Adapt parallel: %v", err)
	}
	if !reflect.DeepEqual(seq, par) {
		t.Error("parallel adaptation changed the output")
	}
}

func TestAdaptBinaryMatrix(t *testing.T) {
	raw := csvio.NewRawTable("matrix",
		[]string{"diseases", "Anxiety and nervousness", "Depression", "Shortness of breath"},
		[][]string{
			{"Panic Disorder", "1", "0", "1"},
			{"Healthy", "0", "0", "0"},
			{"Depression", "0", "1", "0"},
		})

	got, stats, err := AdaptBinaryMatrix(raw, Source{Name: "matrix"}, Options{})
	if err != nil {
		t.Fatalf("AdaptBinaryMatrix: %v", err)
	}
	want := []schema.Record{
		{Name: "panic_disorder", Symptoms: "anxiety and nervousness, shortness of breath"},
		{Name: "depression", Symptoms: "depression"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v\nwant %+v", got, want)
	}
	if stats.DroppedNoSymptoms != 1 || stats.Rows != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestAdaptBinaryMatrixRenamedNameColumn(t *testing.T) {
	raw := csvio.NewRawTable("matrix", []string{"fever", "disease"}, [][]string{{"1", "Flu"}})
	src := Source{Name: "matrix", Rename: map[string]string{"disease": schema.FieldName}}

	got, _, err := AdaptBinaryMatrix(raw, src, Options{})
	if err != nil {
		t.Fatalf("AdaptBinaryMatrix: %v", err)
	}
	if len(got) != 1 || got[0].Name != "flu" || got[0].Symptoms != "fever" {
		t.Errorf("got %+v", got)
	}

	src.Rename = map[string]string{"illness": schema.FieldName}
	var sme *SchemaMappingError
	if _, _, err := AdaptBinaryMatrix(raw, src, Options{}); !errors.As(err, &sme) {
		t.Errorf("expected SchemaMappingError, got %v", err)
	}
}

func TestAdaptBinaryMatrixSeveralNameRenames(t *testing.T) {
	raw := csvio.NewRawTable("matrix",
		[]string{"label", "disease", "fever"},
		[][]string{{"Grippe", "Flu", "1"}})
	src := Source{Name: "matrix", Rename: map[string]string{
		"label":   schema.FieldName,
		"disease": schema.FieldName,
	}}

	for i := 0; i < 20; i++ {
		got, _, err := AdaptBinaryMatrix(raw, src, Options{})
		if err != nil {
			t.Fatal(err)
		}
		// "disease" sorts first, so it is the name column and "label" is a symptom.
		if len(got) != 1 || got[0].Name != "flu" || got[0].Symptoms != "fever" {
			t.Fatalf("run %d: got %+v", i, got)
		}
	}
}

type mapExtractor map[string][]string

func (m mapExtractor) Extract(_ context.Context, text string) ([]string, error) {
	return m[text], nil
}

type failingExtractor struct{ calls atomic.Int32 }

func (f *failingExtractor) Extract(context.Context, string) ([]string, error) {
	f.calls.Add(1)
	return nil, errors.New("model unavailable")
}

var reportSource = Source{
	Name:   "patient_reports",
	Rename: map[string]string{"label": schema.FieldName, "text": schema.FieldDescription},
}

func reportTable() *csvio.RawTable {
	return csvio.NewRawTable("reports", []string{"", "label", "text"}, [][]string{
		{"0", "Psoriasis", "I have a rash and itching"},
		{"1", "Flu", ""},
		{"2", "Flu", "nothing notable"},
	})
}

func TestAdaptReports(t *testing.T) {
	ex := mapExtractor{
		"I have a rash and itching": {"rash", " itching ", "rash", ""},
	}
	got, stats, err := AdaptReports(context.Background(), reportTable(), reportSource, ex, Options{Workers: 4})
	if err != nil {
		t.Fatalf("AdaptReports: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(got))
	}
	if got[0].Name != "psoriasis" || got[0].Symptoms != "rash, itching" {
		t.Errorf("row 0 = %+v", got[0])
	}
	if got[1].Symptoms != "" || got[2].Symptoms != "" {
		t.Errorf("rows without extracted symptoms should be empty: %+v %+v", got[1], got[2])
	}
	if stats.ExtractFailures != 0 {
		t.Errorf("ExtractFailures = %d", stats.ExtractFailures)
	}
}

func TestAdaptReportsExtractorFailure(t *testing.T) {
	ex := &failingExtractor{}
	got, stats, err := AdaptReports(context.Background(), reportTable(), reportSource, ex, Options{})
	if err != nil {
		t.Fatalf("AdaptReports: %v", err)
	}
	if stats.ExtractFailures != 2 || ex.calls.Load() != 2 {
		t.Errorf("failures=%d calls=%d, want 2 and 2", stats.ExtractFailures, ex.calls.Load())
	}
	for _, r := range got {
		if r.Symptoms != "" {
			t.Errorf("failed extraction should leave no symptoms: %+v", r)
		}
	}
}

func TestAdaptReportsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := AdaptReports(ctx, reportTable(), reportSource, mapExtractor{}, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestJoinSymptoms(t *testing.T) {
	got := joinSymptoms([]string{"chest  pain", "pain, sharp", "chest pain"})
	if want := "chest pain, pain sharp"; got != want {
		t.Errorf("joinSymptoms = %q, want %q", got, want)
	}
	if got := joinSymptoms(nil); got != "" {
		t.Errorf("joinSymptoms(nil) = %q, want empty", got)
	}
}
