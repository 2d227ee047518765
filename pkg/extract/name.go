package extract

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/ekaya-inc/exchange-query-engine/pkg/models"
)

const nameTok = `[A-Z][A-Za-z'\-]*`

var (
	// last name contains 'Smith', first name is "Yechiel"
	fieldNamePattern = regexp.MustCompile(`(?i)\b(first|last|sur)\s*name\s+(?:contains|containing|includes|including|is|equals|like|matching|matches|starts with|of)\s+(['"]?)([a-z][a-z'\-]*)`)

	// named Johnson, called Katzovitz, Yechiel
	namedPattern = regexp.MustCompile(`\b(?:named|called)\s+['"]?(` + nameTok + `(?:\s*,\s*` + nameTok + `|\s+` + nameTok + `)?)`)

	// Katzovitz, Yechiel
	surnameFirstPattern = regexp.MustCompile(`\b(` + nameTok + `),\s*(` + nameTok + `)\b`)

	// with John Smith, for Jane Doe
	prepositionNamePattern = regexp.MustCompile(`\b(?:with|for|by|about|client|contact)\s+(` + nameTok + `\s+` + nameTok + `)\b`)

	roleBeforeNamed = regexp.MustCompile(`(?i)\b(coordinator|client|assignee)s?\s+(?:is\s+|was\s+)?$`)
)

// nameStopwords are capitalized words that open sentences or name things other than people.
var nameStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "all": true, "any": true,
	"show": true, "list": true, "find": true, "get": true, "how": true, "what": true, "which": true,
	"who": true, "where": true, "when": true, "give": true, "display": true, "count": true,
	"me": true, "my": true, "i": true, "is": true, "are": true, "with": true, "for": true,
	"exchange": true, "exchanges": true, "task": true, "tasks": true, "contact": true, "contacts": true,
	"user": true, "users": true, "document": true, "documents": true, "message": true, "messages": true,
	"client": true, "clients": true, "coordinator": true, "coordinators": true,
	"deadline": true, "deadlines": true, "day": true, "days": true, "status": true,
	"january": true, "february": true, "march": true, "april": true, "may": true, "june": true,
	"july": true, "august": true, "september": true, "october": true, "november": true, "december": true,
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true, "friday": true,
	"saturday": true, "sunday": true, "today": true, "yesterday": true,
	"active": true, "pending": true, "completed": true, "cancelled": true,
}

// NameRule recognizes explicit person or organization names.
type NameRule struct{}

// NewNameRule creates the name extraction rule.
func NewNameRule() *NameRule { return &NameRule{} }

func (r *NameRule) Name() string { return "name" }

func (r *NameRule) TryMatch(text string) (*models.Match, bool) {
	nf, literal, confidence := r.find(text)
	if nf == nil {
		return nil, false
	}
	target := targetOr(text, models.EntityExchanges)
	return &models.Match{
		Kind:       models.MatchName,
		Literal:    literal,
		Normalized: strings.Join(nf.Tokens, " "),
		Target:     target,
		Confidence: confidence,
		Filter:     nf,
	}, true
}

// find returns the name filter in text, the literal it came from, and a confidence.
func (r *NameRule) find(text string) (*models.NameFilter, string, float64) {
	if m := fieldNamePattern.FindStringSubmatch(text); m != nil {
		field := models.NameFieldLast
		if strings.EqualFold(m[1], "first") {
			field = models.NameFieldFirst
		}
		quoted, raw := m[2] != "", m[3]
		if quoted {
			// The token class allows apostrophes (O'Brien), so it also takes the closing quote.
			raw = strings.TrimRight(raw, m[2])
		}
		if len(raw) >= 2 && (quoted || unicode.IsUpper(rune(raw[0]))) {
			tok := raw
			if !unicode.IsUpper(rune(raw[0])) {
				tok = titleCase(raw)
			}
			return &models.NameFilter{Tokens: []string{tok}, Field: field}, m[0], 0.95
		}
	}

	if loc := namedPattern.FindStringSubmatchIndex(text); loc != nil {
		raw := text[loc[2]:loc[3]]
		if tokens := SplitNameTokens(raw); len(tokens) > 0 {
			nf := &models.NameFilter{Tokens: tokens, Field: models.NameFieldAny}
			if rm := roleBeforeNamed.FindStringSubmatch(text[:loc[0]]); rm != nil {
				nf.Role = roleFor(rm[1])
			}
			return nf, text[loc[0]:loc[1]], 0.9
		}
	}

	for _, m := range surnameFirstPattern.FindAllStringSubmatch(text, -1) {
		if isPlace(m[1]) || isPlace(m[2]) {
			continue
		}
		if tokens := SplitNameTokens(m[0]); len(tokens) == 2 {
			return &models.NameFilter{Tokens: tokens, Field: models.NameFieldAny}, m[0], 0.85
		}
	}

	for _, m := range prepositionNamePattern.FindAllStringSubmatch(text, -1) {
		if isPlace(m[1]) {
			continue
		}
		if tokens := SplitNameTokens(m[1]); len(tokens) == 2 {
			return &models.NameFilter{Tokens: tokens, Field: models.NameFieldAny}, m[1], 0.7
		}
	}

	return nil, "", 0
}

// SplitNameTokens splits raw name input on commas, then whitespace, and keeps only
// tokens that look like names. Filler words are dropped.
func SplitNameTokens(raw string) []string {
	var tokens []string
	for _, part := range strings.Split(raw, ",") {
		for _, tok := range strings.Fields(part) {
			tok = strings.Trim(tok, `'".?!:;()`)
			if LooksLikeNameToken(tok) {
				tokens = append(tokens, tok)
			}
		}
	}
	return tokens
}

// LooksLikeNameToken applies the capitalization heuristic: at least two characters,
// an uppercase first letter, letters (plus apostrophe and hyphen) after it, and not a
// known filler word.
func LooksLikeNameToken(tok string) bool {
	if len(tok) < 2 || nameStopwords[strings.ToLower(tok)] {
		return false
	}
	for i, r := range tok {
		if i == 0 {
			if !unicode.IsUpper(r) {
				return false
			}
			continue
		}
		if !unicode.IsLetter(r) && r != '\'' && r != '-' {
			return false
		}
	}
	return true
}

func roleFor(word string) models.Relation {
	switch strings.ToLower(word) {
	case "coordinator":
		return models.RelationCoordinator
	case "client":
		return models.RelationClient
	case "assignee":
		return models.RelationAssignee
	default:
		return models.RelationNone
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
