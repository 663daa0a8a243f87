package planner

import "strings"

// Headers is an insertion-ordered, case-insensitive header bag. Set
// overwrites a prior value for the same lowercased name while keeping the
// canonical casing of whichever Set call last touched that name — matching
// spec.md §4.4's "Case-insensitive overwrite semantics apply: a later
// header replaces an earlier one with the same lowercased name."
type Headers struct {
	order  []string
	canon  map[string]string // lower -> canonical name as last set
	values map[string]string // lower -> value
}

// NewHeaders returns an empty header bag.
func NewHeaders() *Headers {
	return &Headers{
		canon:  make(map[string]string),
		values: make(map[string]string),
	}
}

// Set inserts or overwrites a header by case-insensitive name.
func (h *Headers) Set(name, value string) {
	lower := strings.ToLower(name)
	if _, exists := h.values[lower]; !exists {
		h.order = append(h.order, lower)
	}
	h.canon[lower] = name
	h.values[lower] = value
}

// Get looks up a header case-insensitively.
func (h *Headers) Get(name string) (string, bool) {
	v, ok := h.values[strings.ToLower(name)]
	return v, ok
}

// Each calls fn for every header in insertion order using the last-set
// canonical casing.
func (h *Headers) Each(fn func(name, value string)) {
	for _, lower := range h.order {
		fn(h.canon[lower], h.values[lower])
	}
}

// Len returns the number of distinct headers.
func (h *Headers) Len() int { return len(h.order) }

// Map returns a plain map copy keyed by canonical casing, useful for tests.
func (h *Headers) Map() map[string]string {
	out := make(map[string]string, len(h.order))
	h.Each(func(name, value string) { out[name] = value })
	return out
}
