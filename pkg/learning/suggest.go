package learning

import (
	"math"
	"sort"
	"time"

	"github.com/ekaya-inc/exchange-query-engine/pkg/models"
)

// Score weights.
const (
	weightIntent    = 0.30
	weightKeywords  = 0.30
	weightSuccess   = 0.25
	weightFrequency = 0.15

	// frequencySaturation is the observation count at which the frequency term reaches 1.
	frequencySaturation = 100

	// A pattern is proven after this many observations with a success rate above one half.
	provenCount = 3
)

// Suggestion is one ranked example question.
type Suggestion struct {
	Query       string  `json:"query"`
	IntentType  string  `json:"intentType"`
	TargetTable string  `json:"targetTable,omitempty"`
	Score       float64 `json:"score"`
	SuccessRate float64 `json:"successRate"`
	Count       int     `json:"count"`
}

// Suggest ranks learned patterns against a partial question and returns up to limit
// example queries. intentType is the shape detected for the partial question and may
// be empty. Only patterns that once produced SQL are eligible. Proven patterns rank
// ahead of the rest; within each group the weighted score decides.
func (s *Store) Suggest(partial, intentType string, limit int) []Suggestion {
	if limit <= 0 {
		return nil
	}
	queryKeywords := Keywords(partial)

	type ranked struct {
		Suggestion
		proven bool
		key    string
	}

	s.mu.Lock()
	candidates := make([]ranked, 0, len(s.patterns))
	for key, p := range s.patterns {
		if p.SuccessfulSQL == "" {
			continue
		}
		candidates = append(candidates, ranked{
			Suggestion: Suggestion{
				Query:       p.ExampleQuery,
				IntentType:  p.IntentType,
				TargetTable: p.TargetTable,
				Score:       score(p, intentType, queryKeywords),
				SuccessRate: p.SuccessRate,
				Count:       p.Count,
			},
			proven: p.Count >= provenCount && p.SuccessRate > 0.5,
			key:    key,
		})
	}
	s.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.proven != b.proven {
			return a.proven
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.key < b.key
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]Suggestion, len(candidates))
	for i, c := range candidates {
		out[i] = c.Suggestion
	}
	return out
}

func score(p *models.LearnedPattern, intentType string, queryKeywords []string) float64 {
	intent := 0.0
	if intentType != "" && p.IntentType == intentType {
		intent = 1.0
	}
	frequency := math.Min(1, math.Log1p(float64(p.Count))/math.Log1p(frequencySaturation))
	return weightIntent*intent +
		weightKeywords*overlap(queryKeywords, p.Keywords) +
		weightSuccess*p.SuccessRate +
		weightFrequency*frequency
}

// Stats summarizes the learning store.
type Stats struct {
	TotalQueries   int                      `json:"totalQueries"`
	Successful     int                      `json:"successful"`
	Failed         int                      `json:"failed"`
	SuccessRate    float64                  `json:"successRate"`
	FailuresByKind map[models.ErrorKind]int `json:"failuresByKind"`
	PatternCount   int                      `json:"patternCount"`
	TopPatterns    []models.LearnedPattern  `json:"topPatterns"`
	LastUpdated    time.Time                `json:"lastUpdated"`
}

// topPatternCount is how many patterns Stats lists.
const topPatternCount = 5

// Stats reports totals over the retained history. Degraded answers count once as
// successful; their privileged-path failure shows up only in FailuresByKind.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Successful:     len(s.successes),
		FailuresByKind: make(map[models.ErrorKind]int),
		PatternCount:   len(s.patterns),
		LastUpdated:    s.lastUpdated,
	}
	for _, f := range s.failures {
		st.FailuresByKind[f.ErrorKind]++
		if f.ErrorKind != models.ErrorKindPrivilegedExecution {
			st.Failed++
		}
	}
	st.TotalQueries = st.Successful + st.Failed
	if st.TotalQueries > 0 {
		st.SuccessRate = float64(st.Successful) / float64(st.TotalQueries)
	}

	top := make([]models.LearnedPattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		top = append(top, *p)
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Key < top[j].Key
	})
	if len(top) > topPatternCount {
		top = top[:topPatternCount]
	}
	st.TopPatterns = top
	return st
}
