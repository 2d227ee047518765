package extract

import (
	"regexp"

	"github.com/ekaya-inc/exchange-query-engine/pkg/models"
)

type statusKeyword struct {
	pattern *regexp.Regexp
	values  []string
}

// Canonical status enums per entity. Order matters: more specific phrases come first.
var (
	exchangeStatuses = []statusKeyword{
		{regexp.MustCompile(`(?i)\bin[\s-]progress\b`), []string{"in_progress"}},
		{regexp.MustCompile(`(?i)\bon[\s-]hold\b|\bpaused\b`), []string{"on_hold"}},
		{regexp.MustCompile(`(?i)\b(?:cancel+ed|canceled|terminated)\b`), []string{"cancelled"}},
		{regexp.MustCompile(`(?i)\b(?:completed?|closed|finished|done)\b`), []string{"completed"}},
		{regexp.MustCompile(`(?i)\b(?:pending|not started)\b`), []string{"pending"}},
		{regexp.MustCompile(`(?i)\b(?:active|open|ongoing|current)\b`), []string{"active", "in_progress"}},
	}
	taskStatuses = []statusKeyword{
		{regexp.MustCompile(`(?i)\bin[\s-]progress\b|\bstarted\b`), []string{"IN_PROGRESS"}},
		{regexp.MustCompile(`(?i)\b(?:blocked|stuck)\b`), []string{"BLOCKED"}},
		{regexp.MustCompile(`(?i)\b(?:completed?|finished|done|closed)\b`), []string{"COMPLETED"}},
		{regexp.MustCompile(`(?i)\b(?:pending|open|outstanding|incomplete|todo)\b`), []string{"PENDING", "IN_PROGRESS"}},
	}
	inactiveUser = regexp.MustCompile(`(?i)\b(?:inactive|disabled|deactivated)\b`)
	activeUser   = regexp.MustCompile(`(?i)\b(?:active|enabled)\b`)
)

// StatusRule maps workflow keywords to the canonical status enum of the target entity.
type StatusRule struct{}

// NewStatusRule creates the status rule.
func NewStatusRule() *StatusRule { return &StatusRule{} }

func (r *StatusRule) Name() string { return "status" }

func (r *StatusRule) TryMatch(text string) (*models.Match, bool) {
	target := targetOr(text, models.EntityExchanges)
	sf, literal := findStatus(target, text)
	if sf == nil {
		return nil, false
	}
	return &models.Match{
		Kind:       models.MatchStatus,
		Literal:    literal,
		Normalized: sf.Describe(),
		Target:     target,
		Confidence: 0.75,
		Filter:     sf,
	}, true
}

// findStatus returns nil for entities without a status column.
func findStatus(target models.Entity, text string) (*models.StatusFilter, string) {
	switch target {
	case models.EntityUsers:
		if lit := inactiveUser.FindString(text); lit != "" {
			active := false
			return &models.StatusFilter{Active: &active}, lit
		}
		if lit := activeUser.FindString(text); lit != "" {
			active := true
			return &models.StatusFilter{Active: &active}, lit
		}
		return nil, ""
	case models.EntityExchanges:
		return firstStatus(exchangeStatuses, text)
	case models.EntityTasks:
		return firstStatus(taskStatuses, text)
	default:
		return nil, ""
	}
}

func firstStatus(keywords []statusKeyword, text string) (*models.StatusFilter, string) {
	for _, k := range keywords {
		if lit := k.pattern.FindString(text); lit != "" {
			return &models.StatusFilter{Values: append([]string(nil), k.values...)}, lit
		}
	}
	return nil, ""
}
