package schema

import (
	"fmt"
	"strings"
)

// TriState is a boolean that may also be unknown.
type TriState int8

const (
	Unknown TriState = iota
	False
	True
)

// truthy is the closed set of tokens resolved to true. Matching is
// case-insensitive after trimming.
var truthy = map[string]bool{
	"1":    true,
	"1.0":  true,
	"true": true,
	"yes":  true,
}

// falsy tokens resolve to false without being reported as malformed.
var falsy = map[string]bool{
	"0":     true,
	"0.0":   true,
	"false": true,
	"no":    true,
}

// Resolve reports whether s is one of the truthy tokens
// "1", "1.0", "true", "yes" (case-insensitive). Everything else is false.
func Resolve(s string) bool {
	return truthy[strings.ToLower(strings.TrimSpace(s))]
}

// ParseTriState parses a raw boolean cell. Empty cells are Unknown.
// Tokens outside the closed truthy/falsy sets parse as False with ok=false,
// so callers can count them as malformed.
func ParseTriState(s string) (v TriState, ok bool) {
	t := strings.ToLower(strings.TrimSpace(s))
	switch {
	case t == "":
		return Unknown, true
	case truthy[t]:
		return True, true
	case falsy[t]:
		return False, true
	}
	return False, false
}

// Known reports whether the value is True or False.
func (t TriState) Known() bool { return t == True || t == False }

// Bool resolves the value; Unknown resolves to false.
func (t TriState) Bool() bool { return t == True }

func (t TriState) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	}
	return ""
}

// FromBool converts a plain boolean.
func FromBool(b bool) TriState {
	if b {
		return True
	}
	return False
}

// MarshalText renders "true", "false" or "" for Unknown.
func (t TriState) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText accepts only the canonical renderings.
func (t *TriState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "true":
		*t = True
	case "false":
		*t = False
	case "":
		*t = Unknown
	default:
		return fmt.Errorf("invalid tri-state value %q", b)
	}
	return nil
}
