package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/ekaya-inc/exchange-query-engine/pkg/models"
)

// defaultDeadlineDays is the look-ahead for an approaching deadline with no stated window.
const defaultDeadlineDays = 30

var (
	deadlineTrigger   = regexp.MustCompile(`(?i)\b(?:(45|180)[\s-]*days?\b|deadlines?\b|overdue\b|past due\b)`)
	identificationKey = regexp.MustCompile(`(?i)\b(?:45[\s-]*days?|identification|identify)\b`)
	completionKey     = regexp.MustCompile(`(?i)\b(?:180[\s-]*days?|completion|closing|close)\b`)
	missedKey         = regexp.MustCompile(`(?i)\b(?:missed|past|overdue|expired|passed|blown|late)\b`)
	windowPattern     = regexp.MustCompile(`(?i)\b(?:in|within|over|during)\s+(?:the\s+)?(?:next\s+)?(\d+|[a-z]+)\s+(days?|weeks?|months?)\b`)
	approachingKey    = regexp.MustCompile(`(?i)\b(?:approaching|coming\s+up|upcoming)\b`)
	nextUnitPattern   = regexp.MustCompile(`(?i)\bnext\s+(week|month)\b`)
)

// DeadlineRule recognizes the 45-day identification and 180-day completion windows of an
// exchange, task due dates, and the "approaching"/"missed" framing around them.
type DeadlineRule struct {
	clock Clock
	names *NameRule
}

// NewDeadlineRule creates the deadline rule. names, when set, is used to fold a coordinator
// name found in the same question into the deadline filter.
func NewDeadlineRule(clock Clock, names *NameRule) *DeadlineRule {
	if clock == nil {
		clock = time.Now
	}
	return &DeadlineRule{clock: clock, names: names}
}

func (r *DeadlineRule) Name() string { return "deadline" }

func (r *DeadlineRule) TryMatch(text string) (*models.Match, bool) {
	loc := deadlineTrigger.FindStringIndex(text)
	if loc == nil {
		// "approaching in the next 2 weeks" names the window without the word deadline.
		if !windowPattern.MatchString(text) {
			return nil, false
		}
		if loc = approachingKey.FindStringIndex(text); loc == nil {
			return nil, false
		}
	}

	target := targetOr(text, models.EntityExchanges)
	if target != models.EntityTasks {
		target = models.EntityExchanges
	}

	df := &models.DeadlineFilter{Deadline: models.DeadlineAny, Mode: models.DeadlineApproaching}
	switch {
	case target == models.EntityTasks:
		df.Deadline = models.DeadlineTaskDue
	case identificationKey.MatchString(text):
		df.Deadline = models.DeadlineIdentification
	case completionKey.MatchString(text):
		df.Deadline = models.DeadlineCompletion
	}

	now := r.clock()
	today := startOfDay(now)
	if missedKey.MatchString(text) {
		df.Mode = models.DeadlineMissed
		df.To = today
	} else {
		df.From = today
		df.To = windowEnd(today, text)
	}

	if r.names != nil && target == models.EntityExchanges {
		if nf, _, _ := r.names.find(text); nf != nil {
			nf.Role = models.RelationCoordinator
			df.Coordinator = nf
		}
	}

	literal := text[loc[0]:loc[1]]
	return &models.Match{
		Kind:       models.MatchDeadline,
		Literal:    literal,
		Normalized: string(df.Deadline) + ":" + string(df.Mode),
		Target:     target,
		Confidence: 0.9,
		Filter:     df,
	}, true
}

// windowEnd returns the end of the look-ahead an approaching-deadline question asks about.
func windowEnd(today time.Time, text string) time.Time {
	if m := windowPattern.FindStringSubmatch(text); m != nil {
		if n, ok := parseCount(m[1]); ok && n > 0 {
			return addUnits(today, m[2], n)
		}
	}
	if m := nextUnitPattern.FindStringSubmatch(text); m != nil {
		return addUnits(today, m[1], 1)
	}
	return today.AddDate(0, 0, defaultDeadlineDays)
}

// addUnits moves today forward by n calendar units. Months count as 30 days so
// "next month" and "in 1 month" agree regardless of the current month's length.
func addUnits(today time.Time, unit string, n int) time.Time {
	switch strings.TrimSuffix(strings.ToLower(unit), "s") {
	case "week":
		return today.AddDate(0, 0, 7*n)
	case "month":
		return today.AddDate(0, 0, 30*n)
	default:
		return today.AddDate(0, 0, n)
	}
}
