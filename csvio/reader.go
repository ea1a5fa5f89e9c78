package csvio

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// RawTable is one source file as read from disk: a normalized header and
// the data rows whose field count matches it.
type RawTable struct {
	Source  string
	Header  []string // normalized column names
	Labels  []string // column names as written in the file, trimmed
	Rows    [][]string
	colIdx  map[string]int
	Skipped int // rows dropped because their field count did not match the header
}

// ReadFile reads a delimited-text source file.
func ReadFile(path string) (*RawTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	t, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	t.Source = path
	return t, nil
}

// Read parses a CSV stream with a header row.
func Read(r io.Reader) (*RawTable, error) {
	bufReader := bufio.NewReaderSize(r, 256*1024)

	// Skip UTF-8 BOM if present
	bom, err := bufReader.Peek(3)
	if err == nil && len(bom) >= 3 && bom[0] == 0xEF && bom[1] == 0xBB && bom[2] == 0xBF {
		bufReader.Discard(3)
	}

	reader := csv.NewReader(bufReader)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.New("empty file: missing header row")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	t := &RawTable{
		Header: make([]string, len(header)),
		Labels: make([]string, len(header)),
		colIdx: make(map[string]int, len(header)),
	}
	for i, h := range header {
		t.Labels[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		h = NormalizeHeader(h)
		t.Header[i] = h
		if _, dup := t.colIdx[h]; !dup {
			t.colIdx[h] = i
		}
	}

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(t.Rows)+t.Skipped+2, err)
		}

		// Skip empty rows
		if len(row) == 0 || (len(row) == 1 && row[0] == "") {
			continue
		}
		if len(row) != len(t.Header) {
			t.Skipped++
			continue
		}
		for i := range row {
			row[i] = strings.ToValidUTF8(row[i], "\uFFFD")
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// NewRawTable builds a table from in-memory rows. Rows whose field count
// differs from the header are skipped and counted, as when reading a file.
func NewRawTable(source string, header []string, rows [][]string) *RawTable {
	t := &RawTable{
		Source: source,
		Header: make([]string, len(header)),
		Labels: make([]string, len(header)),
		colIdx: make(map[string]int, len(header)),
	}
	for i, h := range header {
		t.Labels[i] = strings.TrimSpace(h)
		h = NormalizeHeader(h)
		t.Header[i] = h
		if _, dup := t.colIdx[h]; !dup {
			t.colIdx[h] = i
		}
	}
	for _, row := range rows {
		if len(row) != len(t.Header) {
			t.Skipped++
			continue
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// NormalizeHeader trims a column name, strips a leading BOM, lowercases it
// and turns spaces into underscores. " Disease Name" → "disease_name".
func NormalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.ReplaceAll(h, " ", "_")
}

// Index returns the position of a normalized column, or -1.
func (t *RawTable) Index(col string) int {
	if i, ok := t.colIdx[col]; ok {
		return i
	}
	return -1
}

// Has reports whether the table carries the column.
func (t *RawTable) Has(col string) bool {
	_, ok := t.colIdx[col]
	return ok
}

// Value returns the trimmed cell for col, or "" if the column is absent.
func (t *RawTable) Value(row []string, col string) string {
	if i, ok := t.colIdx[col]; ok && i < len(row) {
		return strings.TrimSpace(row[i])
	}
	return ""
}
