package learning

import (
	"regexp"
	"strings"

	"github.com/jinzhu/inflection"
)

// keywordsPerPattern is how many leading significant keywords form a pattern key.
const keywordsPerPattern = 3

var wordPattern = regexp.MustCompile(`[a-z0-9]+`)

var stopwords = map[string]bool{
	"a": true, "about": true, "all": true, "an": true, "and": true, "any": true, "are": true,
	"by": true, "can": true, "do": true, "does": true, "display": true, "find": true, "for": true,
	"from": true, "get": true, "give": true, "have": true, "how": true, "i": true, "in": true,
	"is": true, "it": true, "list": true, "many": true, "me": true, "my": true, "of": true,
	"on": true, "or": true, "our": true, "please": true, "show": true, "system": true,
	"that": true, "the": true, "their": true, "there": true, "these": true, "this": true,
	"those": true, "to": true, "us": true, "was": true, "we": true, "were": true, "what": true,
	"which": true, "who": true, "with": true, "you": true,
}

// Keywords returns the significant words of a question in order of appearance:
// lowercased, stopwords removed, singularized and de-duplicated.
func Keywords(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if stopwords[w] || (len(w) < 2 && !isDigits(w)) {
			continue
		}
		if !isDigits(w) {
			w = inflection.Singular(w)
		}
		if seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// PatternKey is "{intent}_{k1_k2_k3}" over the first significant keywords.
func PatternKey(intentType string, keywords []string) string {
	if len(keywords) > keywordsPerPattern {
		keywords = keywords[:keywordsPerPattern]
	}
	if len(keywords) == 0 {
		return intentType
	}
	return intentType + "_" + strings.Join(keywords, "_")
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// overlap is the share of query keywords that also appear in a pattern's keywords.
func overlap(query, pattern []string) float64 {
	if len(query) == 0 || len(pattern) == 0 {
		return 0
	}
	in := make(map[string]bool, len(pattern))
	for _, k := range pattern {
		in[k] = true
	}
	hits := 0
	for _, k := range query {
		if in[k] {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}
