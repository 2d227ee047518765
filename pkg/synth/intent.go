// Package synth builds parameterized SELECT statements from an extracted intent.
//
// The template library is fixed: the target entity and the filter kind choose the shape of
// the statement (table, joins, combinator, ordering) and every value taken from the question
// is bound as a $n parameter.
package synth

import (
	"regexp"
	"strings"

	"github.com/ekaya-inc/exchange-query-engine/pkg/extract"
	"github.com/ekaya-inc/exchange-query-engine/pkg/models"
)

// Intent is the entity and result shape a question asks for.
type Intent struct {
	Entity models.Entity
	Shape  models.Shape
	// Limit is the row cap for list queries. It is never above the synthesizer's list limit.
	Limit int
}

var (
	countPattern     = regexp.MustCompile(`(?i)\b(?:how many|count|number of|total number|tally)\b`)
	aggregatePattern = regexp.MustCompile(`(?i)\b(?:total|sum|average|avg|mean|combined|aggregate)\b(?:\s+\w+){0,3}\s+(?:value|price|amount|worth|proceeds)s?\b|\b(?:value|price|amount)s?\s+(?:total|sum|average)\b`)
	groupPattern     = regexp.MustCompile(`(?i)\b(?:per|by each|for each|grouped by|group by|breakdown by|broken down by)\b|\b(?:each|every|by)\s+(?:coordinator|client|assignee)s?\b`)
	limitPattern     = regexp.MustCompile(`(?i)\b(?:top|first|latest|newest|most recent|recent)\s+(\d+|[a-z]+)\s+([a-z]+)`)
	timeUnitWord     = regexp.MustCompile(`(?i)^(?:hours?|days?|weeks?|months?|quarters?|years?)$`)
)

// DetectIntent resolves the entity and shape for text. The match target, when present,
// wins over keywords in the text. ok is false when no entity can be determined.
func (s *Synthesizer) DetectIntent(text string, m *models.Match) (Intent, bool) {
	in := Intent{Shape: models.ShapeList, Limit: s.listLimit}

	switch {
	case m != nil && m.Target != "":
		in.Entity = m.Target
	default:
		e, ok := extract.DetectEntity(text)
		if !ok {
			return Intent{}, false
		}
		in.Entity = e
	}

	switch {
	case in.Entity == models.EntityExchanges && aggregatePattern.MatchString(text):
		in.Shape = models.ShapeAggregate
	case countPattern.MatchString(text):
		in.Shape = models.ShapeCount
		if m != nil && m.Kind == models.MatchRelationship && groupPattern.MatchString(text) {
			in.Shape = models.ShapeAggregate
		}
	case m != nil && m.Kind == models.MatchRelationship && groupPattern.MatchString(text):
		in.Shape = models.ShapeAggregate
	}

	if in.Shape == models.ShapeList {
		if n, ok := requestedLimit(text); ok && n < in.Limit {
			in.Limit = n
		}
	}
	return in, true
}

// requestedLimit reads an explicit "top 10 exchanges" style row count. Time windows
// such as "latest 3 months" are not row counts.
func requestedLimit(text string) (int, bool) {
	for _, m := range limitPattern.FindAllStringSubmatch(text, -1) {
		if timeUnitWord.MatchString(m[2]) {
			continue
		}
		n, ok := parseCount(m[1])
		if ok && n > 0 {
			return n, true
		}
	}
	return 0, false
}

var countWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6, "seven": 7,
	"eight": 8, "nine": 9, "ten": 10, "twenty": 20, "fifty": 50,
}

func parseCount(s string) (int, bool) {
	s = strings.ToLower(s)
	if n, ok := countWords[s]; ok {
		return n, true
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
		if n > 10000 {
			return 0, false
		}
	}
	return n, s != ""
}
