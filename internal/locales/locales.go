// Package locales maintains the registry of locales the engine translates
// between. Codes are validated and canonicalized with golang.org/x/text.
package locales

import (
	"strings"

	"github.com/locflow/locflow/internal/fault"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// All is the sentinel accepted wherever a locale set is expected.
const All = "all"

// Registry holds the supported target locales for a deployment.
type Registry struct {
	source string
	tags   map[string]language.Tag
	order  []string
}

// NewRegistry validates the source locale and every target code.
func NewRegistry(source string, targets []string) (*Registry, error) {
	if _, err := language.Parse(source); err != nil {
		return nil, fault.Wrap(fault.Validation, err, "invalid source locale %q", source)
	}
	r := &Registry{source: source, tags: make(map[string]language.Tag, len(targets))}
	for _, code := range targets {
		code = strings.TrimSpace(code)
		if code == "" || code == source {
			continue
		}
		tag, err := language.Parse(code)
		if err != nil {
			return nil, fault.Wrap(fault.Validation, err, "invalid target locale %q", code)
		}
		if _, dup := r.tags[code]; dup {
			continue
		}
		r.tags[code] = tag
		r.order = append(r.order, code)
	}
	if len(r.order) == 0 {
		return nil, fault.New(fault.Validation, "no target locales configured")
	}
	return r, nil
}

// Source returns the source locale code.
func (r *Registry) Source() string { return r.source }

// Targets returns all supported target codes in configuration order.
func (r *Registry) Targets() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Contains reports whether code is a supported target locale.
func (r *Registry) Contains(code string) bool {
	_, ok := r.tags[code]
	return ok
}

// Filter resolves a requested locale list against the registry. A nil or
// empty list, or the single element "all", selects every supported target.
// Unsupported codes are dropped; an empty result is the caller's problem to
// classify.
func (r *Registry) Filter(requested []string) []string {
	if len(requested) == 0 || (len(requested) == 1 && requested[0] == All) {
		return r.Targets()
	}
	var out []string
	for _, code := range requested {
		if r.Contains(code) {
			out = append(out, code)
		}
	}
	return out
}

// DisplayName returns the English name of a locale for use in prompts,
// e.g. "ru" -> "Russian". Falls back to the raw code when unparsable.
func DisplayName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return code
}
