package extract

import (
	"regexp"

	"github.com/ekaya-inc/exchange-query-engine/pkg/models"
)

var (
	coordinatorKeyword = regexp.MustCompile(`(?i)\bcoordinat(?:or|ors|ed|ing)\b`)
	clientKeyword      = regexp.MustCompile(`(?i)\b(?:clients?|exchangers?|taxpayers?)\b`)
	assigneeKeyword    = regexp.MustCompile(`(?i)\b(?:assigned|assignees?|owners?)\b`)
	mineKeyword        = regexp.MustCompile(`(?i)\b(?:my|mine)\b|\bassigned to me\b|\bi(?:'m| am) (?:the )?(?:coordinator|assignee)\b`)
)

// RelationshipRule recognizes references to a related person (coordinator, client,
// assignee) that require a one-hop join.
type RelationshipRule struct{}

// NewRelationshipRule creates the relationship rule.
func NewRelationshipRule() *RelationshipRule { return &RelationshipRule{} }

func (r *RelationshipRule) Name() string { return "relationship" }

func (r *RelationshipRule) TryMatch(text string) (*models.Match, bool) {
	mine := mineKeyword.FindString(text)
	target := targetOr(text, models.EntityExchanges)

	var relation models.Relation
	var literal string
	switch {
	case target == models.EntityTasks && assigneeKeyword.MatchString(text):
		relation, literal = models.RelationAssignee, assigneeKeyword.FindString(text)
	case target == models.EntityExchanges && coordinatorKeyword.MatchString(text):
		relation, literal = models.RelationCoordinator, coordinatorKeyword.FindString(text)
	case target == models.EntityExchanges && clientKeyword.MatchString(text):
		relation, literal = models.RelationClient, clientKeyword.FindString(text)
	case mine != "" && target == models.EntityTasks:
		relation, literal = models.RelationAssignee, mine
	case mine != "" && target == models.EntityExchanges:
		relation, literal = models.RelationCoordinator, mine
	default:
		return nil, false
	}

	rf := &models.RelationshipFilter{Relation: relation, Mine: mine != ""}
	return &models.Match{
		Kind:       models.MatchRelationship,
		Literal:    literal,
		Normalized: string(relation),
		Target:     target,
		Confidence: 0.7,
		Filter:     rf,
	}, true
}
