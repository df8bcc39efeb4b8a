/*
Package filter evaluates extracted records against the configured organization
and keyword filters.
*/
package filter

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shanehull/douclip/internal/types"
)

// DefaultSnippetSize is the width, in characters, of the excerpt stored with
// each match.
const DefaultSnippetSize = 500

// ErrInvalidFilter is wrapped by every validation failure from Compile.
var ErrInvalidFilter = errors.New("invalid filter")

type PredicateKind string

const (
	PredicateContains PredicateKind = "contains"
	PredicateEquals   PredicateKind = "equals"
	PredicatePrefix   PredicateKind = "prefix"
	PredicateAny      PredicateKind = "any"
)

// Descriptor is the raw, configuration-shaped form of a filter.
type Descriptor struct {
	Name         string   `yaml:"name"`
	Section      string   `yaml:"section"`
	Organization OrgSpec  `yaml:"organization"`
	Keywords     []string `yaml:"keywords"`
}

type OrgSpec struct {
	Match string `yaml:"match"`
	Value string `yaml:"value"`
}

// OrgPredicate tests an article's declared organization (artCategory).
type OrgPredicate struct {
	Kind  PredicateKind
	Value string
	lower string
}

// Matches reports whether the predicate holds for org. Comparison is
// case-insensitive.
func (p OrgPredicate) Matches(org string) bool {
	o := strings.ToLower(strings.TrimSpace(org))
	switch p.Kind {
	case PredicateAny:
		return true
	case PredicateEquals:
		return o == p.lower
	case PredicatePrefix:
		return strings.HasPrefix(o, p.lower)
	default:
		return strings.Contains(o, p.lower)
	}
}

// Filter is a validated, immutable filter.
type Filter struct {
	Name         string
	Section      string
	Organization OrgPredicate
	Keywords     []string
	lowered      []string
}

// Candidate is a match before it is persisted.
type Candidate struct {
	FilterName string
	Keyword    string
	Snippet    string
}

// Compile validates descriptors and returns filters in declaration order.
func Compile(descriptors []Descriptor) ([]Filter, error) {
	if len(descriptors) == 0 {
		return nil, fmt.Errorf("%w: at least one filter is required", ErrInvalidFilter)
	}

	seen := make(map[string]struct{}, len(descriptors))
	filters := make([]Filter, 0, len(descriptors))

	for i, d := range descriptors {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: filter #%d has no name", ErrInvalidFilter, i+1)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: duplicate filter name %q", ErrInvalidFilter, name)
		}
		seen[name] = struct{}{}

		pred, err := compilePredicate(d.Organization)
		if err != nil {
			return nil, fmt.Errorf("%w: filter %q: %v", ErrInvalidFilter, name, err)
		}

		if len(d.Keywords) == 0 {
			return nil, fmt.Errorf("%w: filter %q has no keywords", ErrInvalidFilter, name)
		}
		f := Filter{
			Name:         name,
			Section:      strings.ToUpper(strings.TrimSpace(d.Section)),
			Organization: pred,
		}
		for _, kw := range d.Keywords {
			kw = strings.TrimSpace(kw)
			if kw == "" {
				return nil, fmt.Errorf("%w: filter %q has a blank keyword", ErrInvalidFilter, name)
			}
			f.Keywords = append(f.Keywords, kw)
			f.lowered = append(f.lowered, strings.ToLower(kw))
		}

		filters = append(filters, f)
	}

	return filters, nil
}

func compilePredicate(spec OrgSpec) (OrgPredicate, error) {
	kind := PredicateKind(strings.ToLower(strings.TrimSpace(spec.Match)))
	if kind == "" {
		kind = PredicateContains
	}
	value := strings.TrimSpace(spec.Value)

	switch kind {
	case PredicateAny:
	case PredicateContains, PredicateEquals, PredicatePrefix:
		if value == "" {
			return OrgPredicate{}, fmt.Errorf("organization predicate %q needs a value", kind)
		}
	default:
		return OrgPredicate{}, fmt.Errorf("unknown organization predicate %q", spec.Match)
	}

	return OrgPredicate{Kind: kind, Value: value, lower: strings.ToLower(value)}, nil
}

// Sections returns the distinct sections named by filters, in first-seen
// order. Filters without a section contribute nothing.
func Sections(filters []Filter) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, f := range filters {
		if f.Section == "" {
			continue
		}
		if _, ok := seen[f.Section]; ok {
			continue
		}
		seen[f.Section] = struct{}{}
		out = append(out, f.Section)
	}
	return out
}

// Engine evaluates records with a fixed snippet size.
type Engine struct {
	filters     []Filter
	snippetSize int
}

func NewEngine(filters []Filter, snippetSize int) *Engine {
	if snippetSize <= 0 {
		snippetSize = DefaultSnippetSize
	}
	return &Engine{filters: filters, snippetSize: snippetSize}
}

// Evaluate returns one candidate per (filter, keyword) that occurs in rec,
// filters in declared order and keywords in declared order.
func (e *Engine) Evaluate(rec types.Record) []Candidate {
	if strings.TrimSpace(rec.Text) == "" {
		return nil
	}

	lowerText := strings.ToLower(rec.Text)
	var runes []rune
	var out []Candidate

	for _, f := range e.filters {
		if f.Section != "" && !strings.EqualFold(f.Section, rec.Section) {
			continue
		}
		// Fallback documents carry no organization metadata.
		if rec.HasOrganization && !f.Organization.Matches(rec.Organization) {
			continue
		}

		for i, kw := range f.lowered {
			idx := strings.Index(lowerText, kw)
			if idx == -1 {
				continue
			}
			if runes == nil {
				runes = []rune(rec.Text)
			}
			// strings.ToLower maps rune for rune, so rune offsets agree
			// between lowerText and rec.Text.
			start := utf8.RuneCountInString(lowerText[:idx])
			out = append(out, Candidate{
				FilterName: f.Name,
				Keyword:    f.Keywords[i],
				Snippet:    snippet(runes, start, utf8.RuneCountInString(kw), e.snippetSize),
			})
		}
	}

	return out
}

// snippet returns a window of at most size runes centred on the keyword at
// [start, start+kwLen), clipped to the text. The keyword is always included.
func snippet(text []rune, start, kwLen, size int) string {
	pad := (size - kwLen) / 2
	if pad < 0 {
		pad = 0
	}

	from := start - pad
	to := start + kwLen + pad
	if from < 0 {
		to -= from
		from = 0
	}
	if to > len(text) {
		from -= to - len(text)
		to = len(text)
		if from < 0 {
			from = 0
		}
	}

	return strings.TrimSpace(string(text[from:to]))
}
