package voucher

import (
	"errors"
	"strings"
)

var (
	// ErrCodeRequired is returned when an empty code is submitted.
	ErrCodeRequired = errors.New("enter a discount code")
	// ErrCodeNotRecognised indicates the code is not configured for the site.
	ErrCodeNotRecognised = errors.New("code not recognised")
	// ErrCodeAlreadyApplied indicates the code is already in the applied set.
	ErrCodeAlreadyApplied = errors.New("code already applied")
	// ErrOnlyOnePercentCode blocks a second percentage code.
	ErrOnlyOnePercentCode = errors.New("only one percentage discount can be used")
)

// Registry resolves codes case-insensitively and guards the applied set.
type Registry struct {
	codes map[string]Code
}

// NewRegistry indexes the configured codes. The first definition of a code wins.
func NewRegistry(codes []Code) *Registry {
	r := &Registry{codes: make(map[string]Code, len(codes))}
	for _, c := range codes {
		key := normalise(c.Code)
		if key == "" {
			continue
		}
		if _, exists := r.codes[key]; exists {
			continue
		}
		r.codes[key] = c
	}
	return r
}

// Lookup finds a configured code.
func (r *Registry) Lookup(code string) (Code, bool) {
	if r == nil {
		return Code{}, false
	}
	c, ok := r.codes[normalise(code)]
	return c, ok
}

// Apply validates input against the applied set and returns the new set with
// the canonical spelling of the code appended. The input slice is not modified.
func (r *Registry) Apply(applied []string, input string) ([]string, Code, error) {
	if normalise(input) == "" {
		return applied, Code{}, ErrCodeRequired
	}
	match, ok := r.Lookup(input)
	if !ok {
		return applied, Code{}, ErrCodeNotRecognised
	}
	for _, existing := range applied {
		if normalise(existing) == normalise(match.Code) {
			return applied, Code{}, ErrCodeAlreadyApplied
		}
	}
	if match.Kind == KindPercent {
		for _, existing := range applied {
			if c, ok := r.Lookup(existing); ok && c.Kind == KindPercent {
				return applied, Code{}, ErrOnlyOnePercentCode
			}
		}
	}
	next := make([]string, 0, len(applied)+1)
	next = append(next, applied...)
	next = append(next, match.Code)
	return next, match, nil
}

// RemoveCode drops code from the applied set. No registry is needed since
// retired codes must stay removable.
func RemoveCode(applied []string, code string) []string {
	key := normalise(code)
	next := make([]string, 0, len(applied))
	for _, c := range applied {
		if normalise(c) != key {
			next = append(next, c)
		}
	}
	return next
}

// Resolve maps applied code strings to their definitions, skipping codes that
// are no longer configured.
func (r *Registry) Resolve(applied []string) []Code {
	out := make([]Code, 0, len(applied))
	for _, c := range applied {
		if code, ok := r.Lookup(c); ok {
			out = append(out, code)
		}
	}
	return out
}

func normalise(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
