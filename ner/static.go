package ner

import (
	"context"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Static matches a fixed vocabulary of symptom phrases. It is used for
// offline runs and tests where no model endpoint is available.
type Static struct {
	phrases []string
}

// NewStatic builds a matcher for the given phrases. Matching is
// case-insensitive and respects word boundaries.
func NewStatic(phrases ...string) *Static {
	s := &Static{}
	seen := make(map[string]bool, len(phrases))
	for _, p := range phrases {
		p = strings.ToLower(strings.Join(strings.Fields(p), " "))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		s.phrases = append(s.phrases, p)
	}
	return s
}

// Extract returns the vocabulary phrases present in text, ordered by their
// first occurrence.
func (s *Static) Extract(_ context.Context, text string) ([]string, error) {
	lower := strings.ToLower(text)

	type hit struct {
		pos    int
		phrase string
	}
	var hits []hit
	for _, p := range s.phrases {
		if pos := indexWord(lower, p); pos >= 0 {
			hits = append(hits, hit{pos, p})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.phrase
	}
	return out, nil
}

// indexWord finds phrase in text at word boundaries, or returns -1.
func indexWord(text, phrase string) int {
	for off := 0; off < len(text); {
		i := strings.Index(text[off:], phrase)
		if i < 0 {
			return -1
		}
		start := off + i
		end := start + len(phrase)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return start
		}
		off = start + 1
	}
	return -1
}

func boundaryBefore(text string, start int) bool {
	if start <= 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:start])
	return !isWordRune(r)
}

func boundaryAfter(text string, end int) bool {
	if end >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[end:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
