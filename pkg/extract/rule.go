// Package extract turns free-text questions about exchanges into structured filters.
//
// Extraction is a cascade: rules are evaluated in a fixed declared order and the first
// rule that matches wins. Rules never combine; a rule that needs two kinds of filter
// (for example a deadline window narrowed to a named coordinator) composes them itself.
package extract

import (
	"strings"
	"time"

	"github.com/ekaya-inc/exchange-query-engine/pkg/models"
)

// Rule is one independently testable extractor.
type Rule interface {
	// Name identifies the rule in logs and learning records.
	Name() string
	// TryMatch returns a match, or (nil, false) when the text carries nothing this rule recognizes.
	TryMatch(text string) (*models.Match, bool)
}

// Clock returns the current time. Time-relative rules take one so tests are deterministic.
type Clock func() time.Time

// DefaultRules returns the extraction rules in priority order.
//
// The deadline rule runs ahead of the name rule and folds any name it sees into its own
// coordinator clause, so a question mentioning both a statutory deadline and a person is
// answered by the deadline template instead of a plain name search. Without a deadline
// keyword the deadline rule never fires and name patterns take precedence over everything else.
// The order is policy; change it here and the pipeline tests will show the consequences.
func DefaultRules(clock Clock) []Rule {
	if clock == nil {
		clock = time.Now
	}
	names := NewNameRule()
	return []Rule{
		NewDeadlineRule(clock, names),
		names,
		NewTimeRule(clock),
		NewLocationRule(),
		NewNumericRule(),
		NewStatusRule(),
		NewRelationshipRule(),
	}
}

// Pipeline evaluates rules in order.
type Pipeline struct {
	rules []Rule
}

// NewPipeline creates a pipeline over the given rules. The slice order is the priority order.
func NewPipeline(rules ...Rule) *Pipeline {
	return &Pipeline{rules: rules}
}

// Extract returns the first match in priority order, or nil when no rule fires.
func (p *Pipeline) Extract(text string) *models.Match {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	for _, r := range p.rules {
		if m, ok := r.TryMatch(text); ok && m != nil {
			m.Rule = r.Name()
			return m
		}
	}
	return nil
}

// ExtractAll returns every rule that fires, in priority order.
func (p *Pipeline) ExtractAll(text string) []*models.Match {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var matches []*models.Match
	for _, r := range p.rules {
		if m, ok := r.TryMatch(text); ok && m != nil {
			m.Rule = r.Name()
			matches = append(matches, m)
		}
	}
	return matches
}

// Rules returns the rule names in priority order.
func (p *Pipeline) Rules() []string {
	names := make([]string, len(p.rules))
	for i, r := range p.rules {
		names[i] = r.Name()
	}
	return names
}

var numberWords = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
}

// parseCount parses a small count written as digits or a word.
func parseCount(s string) (int, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, ok := numberWords[s]; ok {
		return n, true
	}
	n := 0
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
		if n > 100000 {
			return 0, false
		}
	}
	return n, true
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
