package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ekaya-inc/exchange-query-engine/pkg/models"
)

const monthNames = `january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sep|sept|oct|nov|dec`

var (
	lastNPattern      = regexp.MustCompile(`(?i)\b(?:last|past|previous)\s+(\d+|[a-z]+)\s+(hours?|days?|weeks?|months?|years?)\b`)
	calendarPattern   = regexp.MustCompile(`(?i)\b(this|last|previous)\s+(week|month|quarter|year)\b`)
	dayPattern        = regexp.MustCompile(`(?i)\b(today|yesterday)\b`)
	monthYearPattern  = regexp.MustCompile(`(?i)\b(before|after|since|in|during)\s+(` + monthNames + `)\.?\s+(\d{4})\b`)
	yearPattern       = regexp.MustCompile(`(?i)\b(before|after|since|in|during)\s+((?:19|20)\d{2})\b`)
	duePattern        = regexp.MustCompile(`(?i)\bdue\b`)
	monthAbbreviation = map[string]time.Month{
		"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
		"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
		"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
	}
)

// TimeRule recognizes relative and calendar time expressions.
type TimeRule struct {
	clock Clock
}

// NewTimeRule creates the time-range rule.
func NewTimeRule(clock Clock) *TimeRule {
	if clock == nil {
		clock = time.Now
	}
	return &TimeRule{clock: clock}
}

func (r *TimeRule) Name() string { return "time_range" }

func (r *TimeRule) TryMatch(text string) (*models.Match, bool) {
	tf, literal := r.find(text, r.clock())
	if tf == nil {
		return nil, false
	}
	target := targetOr(text, models.EntityExchanges)
	tf.Due = target == models.EntityTasks && duePattern.MatchString(text)
	return &models.Match{
		Kind:       models.MatchTimeRange,
		Literal:    literal,
		Normalized: tf.Label,
		Target:     target,
		Confidence: 0.85,
		Filter:     tf,
	}, true
}

func (r *TimeRule) find(text string, now time.Time) (*models.TimeRangeFilter, string) {
	today := startOfDay(now)

	if m := lastNPattern.FindStringSubmatch(text); m != nil {
		if n, ok := parseCount(m[1]); ok && n > 0 {
			unit := strings.TrimSuffix(strings.ToLower(m[2]), "s")
			var from time.Time
			switch unit {
			case "hour":
				from = now.Add(-time.Duration(n) * time.Hour)
			case "day":
				from = today.AddDate(0, 0, -n)
			case "week":
				from = today.AddDate(0, 0, -7*n)
			case "month":
				from = today.AddDate(0, -n, 0)
			default:
				from = today.AddDate(-n, 0, 0)
			}
			label := "in the last " + strconv.Itoa(n) + " " + unit
			if n != 1 {
				label += "s"
			}
			return &models.TimeRangeFilter{From: from, To: now, Label: label}, m[0]
		}
	}

	if m := calendarPattern.FindStringSubmatch(text); m != nil {
		which, unit := strings.ToLower(m[1]), strings.ToLower(m[2])
		from, to := calendarPeriod(today, unit, which != "this")
		label := "this " + unit
		if which != "this" {
			label = "last " + unit
		}
		return &models.TimeRangeFilter{From: from, To: to, Label: label}, m[0]
	}

	if m := dayPattern.FindStringSubmatch(text); m != nil {
		if strings.EqualFold(m[1], "today") {
			return &models.TimeRangeFilter{From: today, To: today.AddDate(0, 0, 1), Label: "today"}, m[0]
		}
		return &models.TimeRangeFilter{From: today.AddDate(0, 0, -1), To: today, Label: "yesterday"}, m[0]
	}

	if m := monthYearPattern.FindStringSubmatch(text); m != nil {
		month, ok := parseMonth(m[2])
		year, err := strconv.Atoi(m[3])
		if ok && err == nil {
			start := time.Date(year, month, 1, 0, 0, 0, 0, now.Location())
			end := start.AddDate(0, 1, 0)
			return boundedRange(strings.ToLower(m[1]), start, end, month.String()+" "+m[3]), m[0]
		}
	}

	if m := yearPattern.FindStringSubmatch(text); m != nil {
		year, _ := strconv.Atoi(m[2])
		start := time.Date(year, time.January, 1, 0, 0, 0, 0, now.Location())
		return boundedRange(strings.ToLower(m[1]), start, start.AddDate(1, 0, 0), m[2]), m[0]
	}

	return nil, ""
}

// calendarPeriod returns the current (or previous) calendar week, month, quarter, or year
// containing today. Weeks start on Monday.
func calendarPeriod(today time.Time, unit string, previous bool) (time.Time, time.Time) {
	var from time.Time
	var step func(time.Time, int) time.Time
	switch unit {
	case "week":
		offset := (int(today.Weekday()) + 6) % 7
		from = today.AddDate(0, 0, -offset)
		step = func(t time.Time, n int) time.Time { return t.AddDate(0, 0, 7*n) }
	case "month":
		from = time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location())
		step = func(t time.Time, n int) time.Time { return t.AddDate(0, n, 0) }
	case "quarter":
		q := (int(today.Month()) - 1) / 3
		from = time.Date(today.Year(), time.Month(q*3+1), 1, 0, 0, 0, 0, today.Location())
		step = func(t time.Time, n int) time.Time { return t.AddDate(0, 3*n, 0) }
	default:
		from = time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, today.Location())
		step = func(t time.Time, n int) time.Time { return t.AddDate(n, 0, 0) }
	}
	if previous {
		from = step(from, -1)
	}
	return from, step(from, 1)
}

func boundedRange(op string, start, end time.Time, label string) *models.TimeRangeFilter {
	switch op {
	case "before":
		return &models.TimeRangeFilter{To: start, Label: "before " + label}
	case "after":
		return &models.TimeRangeFilter{From: end, Label: "after " + label}
	case "since":
		return &models.TimeRangeFilter{From: start, Label: "since " + label}
	default:
		return &models.TimeRangeFilter{From: start, To: end, Label: "in " + label}
	}
}

func parseMonth(s string) (time.Month, bool) {
	s = strings.ToLower(s)
	if len(s) >= 3 {
		if m, ok := monthAbbreviation[s[:3]]; ok {
			return m, true
		}
	}
	return 0, false
}
