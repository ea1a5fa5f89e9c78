package output

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"diseaseindex/index"
	"diseaseindex/schema"
)

func sampleRecords() []schema.Record {
	return []schema.Record{
		{Name: "asthma", Symptoms: "wheezing, cough", Chronic: schema.True, Contagious: schema.False},
		{Name: "flu", Symptoms: "fever, cough", Description: `acute "viral" infection`, Treatments: "rest, fluids", Contagious: schema.True, URL: "http://x/flu"},
		{Name: "rash"},
	}
}

func TestWriteAtomicFailureLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")
	boom := errors.New("boom")

	err := WriteAtomic(path, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("leftover files: %v", entries)
	}
}

func TestWriteAtomicReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.txt")
	for _, body := range []string{"first", "second"} {
		if err := WriteAtomic(path, func(w io.Writer) error {
			_, err := io.WriteString(w, body)
			return err
		}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "second" {
		t.Errorf("content = %q", got)
	}
}

func TestCanonicalCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "merged.csv")
	want := sampleRecords()
	if err := WriteCanonicalCSV(path, want); err != nil {
		t.Fatal(err)
	}
	got, err := ReadCanonicalCSV(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v\nwant %+v", got, want)
	}
}

func TestCanonicalParquetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "merged.parquet")
	want := sampleRecords()
	if err := WriteCanonicalParquet(path, want); err != nil {
		t.Fatal(err)
	}
	got, err := ReadCanonicalParquet(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v\nwant %+v", got, want)
	}
}

func TestCanonicalParquetUnknownIsNull(t *testing.T) {
	row := toRow(schema.Record{Name: "rash"})
	if row.Contagious != nil || row.Chronic != nil {
		t.Errorf("unknown booleans should be null: %+v", row)
	}
	row = toRow(schema.Record{Name: "flu", Contagious: schema.False})
	if row.Contagious == nil || *row.Contagious {
		t.Errorf("false should be stored as false: %+v", row)
	}
}

func TestJSONIndexDeterministic(t *testing.T) {
	sym, dis, _ := index.Build(sampleRecords())
	dir := t.TempDir()
	a, b := filepath.Join(dir, "a.json"), filepath.Join(dir, "b.json")
	if err := WriteJSON(a, sym); err != nil {
		t.Fatal(err)
	}
	if err := WriteJSON(b, sym); err != nil {
		t.Fatal(err)
	}
	ab, _ := os.ReadFile(a)
	bb, _ := os.ReadFile(b)
	if string(ab) != string(bb) {
		t.Error("same index produced different bytes")
	}

	var back index.SymptomIndex
	if err := ReadJSON(a, &back); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(back, sym) {
		t.Errorf("symptom index round trip mismatch:\n%+v\n%+v", back, sym)
	}

	p := filepath.Join(dir, "d.json")
	if err := WriteJSON(p, dis); err != nil {
		t.Fatal(err)
	}
	var dback index.DiseaseIndex
	if err := ReadJSON(p, &dback); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(dback, dis) {
		t.Errorf("disease index round trip mismatch")
	}
}

func writeString(s string) func(io.Writer) error {
	return func(w io.Writer) error {
		_, err := io.WriteString(w, s)
		return err
	}
}

func readString(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestBatchStageIsInvisibleUntilCommit(t *testing.T) {
	dir := t.TempDir()
	a, b := filepath.Join(dir, "a.csv"), filepath.Join(dir, "b.json")

	batch := NewBatch()
	if err := batch.Stage(a, writeString("new a")); err != nil {
		t.Fatal(err)
	}
	if err := batch.Stage(b, writeString("new b")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(a); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("staged file visible before commit: %v", err)
	}
	if err := batch.Commit(); err != nil {
		t.Fatal(err)
	}
	batch.Finalize()

	if readString(t, a) != "new a" || readString(t, b) != "new b" {
		t.Error("committed contents wrong")
	}
	if got := dirNames(t, dir); !reflect.DeepEqual(got, []string{"a.csv", "b.json"}) {
		t.Errorf("dir = %v", got)
	}
}

func TestBatchFailedCommitRestoresPreviousFiles(t *testing.T) {
	dir := t.TempDir()
	a, b := filepath.Join(dir, "a.csv"), filepath.Join(dir, "b.json")
	if err := os.WriteFile(a, []byte("old a"), 0o644); err != nil {
		t.Fatal(err)
	}

	batch := NewBatch()
	if err := batch.Stage(a, writeString("new a")); err != nil {
		t.Fatal(err)
	}
	if err := batch.Stage(b, writeString("new b")); err != nil {
		t.Fatal(err)
	}
	// b's destination turns into a directory after staging.
	if err := os.Mkdir(b, 0o755); err != nil {
		t.Fatal(err)
	}

	if err := batch.Commit(); err == nil {
		t.Fatal("expected commit error")
	}
	if got := readString(t, a); got != "old a" {
		t.Errorf("a = %q, want previous content", got)
	}
	if got := dirNames(t, dir); !reflect.DeepEqual(got, []string{"a.csv", "b.json"}) {
		t.Errorf("leftover files: %v", got)
	}
}

func TestBatchRollbackAfterCommit(t *testing.T) {
	dir := t.TempDir()
	a, b := filepath.Join(dir, "a.csv"), filepath.Join(dir, "b.json")
	if err := os.WriteFile(a, []byte("old a"), 0o644); err != nil {
		t.Fatal(err)
	}

	batch := NewBatch()
	for path, body := range map[string]string{a: "new a", b: "new b"} {
		if err := batch.Stage(path, writeString(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := batch.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := batch.Rollback(); err != nil {
		t.Fatal(err)
	}

	if got := readString(t, a); got != "old a" {
		t.Errorf("a = %q, want previous content", got)
	}
	if _, err := os.Stat(b); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("b should not exist after rollback: %v", err)
	}
	if got := dirNames(t, dir); !reflect.DeepEqual(got, []string{"a.csv"}) {
		t.Errorf("leftover files: %v", got)
	}
}

func TestBatchStageFailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	batch := NewBatch()
	if err := batch.Stage(filepath.Join(dir, "a.csv"), writeString("a")); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("boom")
	if err := batch.Stage(filepath.Join(dir, "b.csv"), func(io.Writer) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if err := batch.Rollback(); err != nil {
		t.Fatal(err)
	}
	if got := dirNames(t, dir); len(got) != 0 {
		t.Errorf("leftover files: %v", got)
	}
}
