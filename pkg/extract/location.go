package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/ekaya-inc/exchange-query-engine/pkg/models"
)

var stateCodes = map[string]string{
	"alabama": "AL", "alaska": "AK", "arizona": "AZ", "arkansas": "AR", "california": "CA",
	"colorado": "CO", "connecticut": "CT", "delaware": "DE", "district of columbia": "DC",
	"florida": "FL", "georgia": "GA", "hawaii": "HI", "idaho": "ID", "illinois": "IL",
	"indiana": "IN", "iowa": "IA", "kansas": "KS", "kentucky": "KY", "louisiana": "LA",
	"maine": "ME", "maryland": "MD", "massachusetts": "MA", "michigan": "MI", "minnesota": "MN",
	"mississippi": "MS", "missouri": "MO", "montana": "MT", "nebraska": "NE", "nevada": "NV",
	"new hampshire": "NH", "new jersey": "NJ", "new mexico": "NM", "new york": "NY",
	"north carolina": "NC", "north dakota": "ND", "ohio": "OH", "oklahoma": "OK", "oregon": "OR",
	"pennsylvania": "PA", "rhode island": "RI", "south carolina": "SC", "south dakota": "SD",
	"tennessee": "TN", "texas": "TX", "utah": "UT", "vermont": "VT", "virginia": "VA",
	"washington": "WA", "west virginia": "WV", "wisconsin": "WI", "wyoming": "WY",
}

// cities maps a city name to its state code.
var cities = map[string]string{
	"new york city": "NY", "brooklyn": "NY", "manhattan": "NY", "los angeles": "CA",
	"san francisco": "CA", "san diego": "CA", "san jose": "CA", "sacramento": "CA",
	"chicago": "IL", "houston": "TX", "dallas": "TX", "austin": "TX", "san antonio": "TX",
	"phoenix": "AZ", "scottsdale": "AZ", "philadelphia": "PA", "pittsburgh": "PA",
	"miami": "FL", "orlando": "FL", "tampa": "FL", "jacksonville": "FL", "atlanta": "GA",
	"boston": "MA", "seattle": "WA", "portland": "OR", "denver": "CO", "las vegas": "NV",
	"nashville": "TN", "charlotte": "NC", "raleigh": "NC", "columbus": "OH", "cleveland": "OH",
	"detroit": "MI", "minneapolis": "MN", "salt lake city": "UT", "baltimore": "MD",
	"newark": "NJ", "lakewood": "NJ", "honolulu": "HI", "st. louis": "MO", "kansas city": "MO",
	"new orleans": "LA", "indianapolis": "IN", "milwaukee": "WI", "boise": "ID",
}

var (
	stateNamePattern = alternation(keys(stateCodes))
	cityPattern      = regexp.MustCompile(`(?i)\b(?:in|from|near|around|at|located in|based in)\s+` + alternation(keys(cities)).String())
	codePattern      = regexp.MustCompile(`\b(?:in|from|located in|based in)\s+([A-Z]{2})\b`)
	cityStatePattern = regexp.MustCompile(`\b([A-Z][a-z]+(?:\s[A-Z][a-z]+)*),\s*([A-Z]{2})\b`)
	validCodes       = func() map[string]bool {
		m := make(map[string]bool, len(stateCodes))
		for _, c := range stateCodes {
			m[c] = true
		}
		return m
	}()
)

// LocationRule recognizes US states (full names or USPS codes) and major cities.
type LocationRule struct{}

// NewLocationRule creates the location extraction rule.
func NewLocationRule() *LocationRule { return &LocationRule{} }

func (r *LocationRule) Name() string { return "location" }

func (r *LocationRule) TryMatch(text string) (*models.Match, bool) {
	lf, literal := r.find(text)
	if lf == nil {
		return nil, false
	}
	normalized := lf.State
	if lf.City != "" {
		normalized = strings.TrimSuffix(lf.City+", "+lf.State, ", ")
	}
	return &models.Match{
		Kind:       models.MatchLocation,
		Literal:    literal,
		Normalized: normalized,
		Target:     targetOr(text, models.EntityExchanges),
		Confidence: 0.8,
		Filter:     lf,
	}, true
}

func (r *LocationRule) find(text string) (*models.LocationFilter, string) {
	if m := cityStatePattern.FindStringSubmatch(text); m != nil && validCodes[m[2]] {
		return &models.LocationFilter{City: m[1], State: m[2]}, m[0]
	}
	if m := cityPattern.FindStringSubmatch(text); m != nil {
		name := strings.ToLower(m[1])
		return &models.LocationFilter{City: displayName(name), State: cities[name]}, m[0]
	}
	if m := stateNamePattern.FindStringSubmatch(text); m != nil {
		return &models.LocationFilter{State: stateCodes[strings.ToLower(m[1])]}, m[0]
	}
	if m := codePattern.FindStringSubmatch(text); m != nil && validCodes[m[1]] {
		return &models.LocationFilter{State: m[1]}, m[0]
	}
	return nil, ""
}

// isPlace reports whether s names a known state or city.
func isPlace(s string) bool {
	l := strings.ToLower(strings.TrimSpace(s))
	if _, ok := stateCodes[l]; ok {
		return true
	}
	if _, ok := cities[l]; ok {
		return true
	}
	return len(s) == 2 && validCodes[s]
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	// Longest first so "west virginia" wins over "virginia".
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

func alternation(words []string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
}

func displayName(s string) string {
	parts := strings.Fields(s)
	for i, p := range parts {
		parts[i] = titleCase(p)
	}
	return strings.Join(parts, " ")
}
