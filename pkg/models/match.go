package models

import (
	"fmt"
	"strings"
	"time"
)

// MatchKind discriminates the structured filter carried by a Match.
type MatchKind string

const (
	MatchName         MatchKind = "name"
	MatchDeadline     MatchKind = "deadline"
	MatchTimeRange    MatchKind = "time_range"
	MatchLocation     MatchKind = "location"
	MatchNumericRange MatchKind = "numeric_range"
	MatchStatus       MatchKind = "status"
	MatchRelationship MatchKind = "relationship"
)

// Match is the result of one extraction rule firing on a question.
type Match struct {
	Rule       string    `json:"rule"`
	Kind       MatchKind `json:"kind"`
	Literal    string    `json:"literal"`
	Normalized string    `json:"normalized"`
	Target     Entity    `json:"target,omitempty"`
	Confidence float64   `json:"confidence"`
	Filter     Filter    `json:"filter"`
}

// Filter is implemented by every structured filter variant. Only types in this package implement it.
type Filter interface {
	Kind() MatchKind
	// Describe returns a short phrase usable inside an explanation sentence.
	Describe() string
	isFilter()
}

// NameField restricts which name columns a name filter searches.
type NameField string

const (
	NameFieldAny   NameField = "any"
	NameFieldFirst NameField = "first"
	NameFieldLast  NameField = "last"
)

// Relation is a one-hop relationship from the primary entity to a person.
type Relation string

const (
	RelationNone        Relation = ""
	RelationCoordinator Relation = "coordinator"
	RelationClient      Relation = "client"
	RelationAssignee    Relation = "assignee"
)

// NameFilter matches people or organizations by name tokens. Every token must match some name column.
type NameFilter struct {
	Tokens []string  `json:"tokens"`
	Field  NameField `json:"field"`
	Role   Relation  `json:"role,omitempty"`
}

func (f *NameFilter) Kind() MatchKind { return MatchName }
func (f *NameFilter) isFilter()       {}

func (f *NameFilter) Describe() string {
	who := "a name"
	switch f.Field {
	case NameFieldFirst:
		who = "a first name"
	case NameFieldLast:
		who = "a last name"
	}
	if f.Role != RelationNone {
		who = fmt.Sprintf("a %s with %s", f.Role, who)
	}
	return fmt.Sprintf("%s matching %q", who, strings.Join(f.Tokens, " "))
}

// DeadlineColumn is the statutory or task deadline a deadline filter targets.
type DeadlineColumn string

const (
	DeadlineIdentification DeadlineColumn = "identification" // 45-day
	DeadlineCompletion     DeadlineColumn = "completion"     // 180-day
	DeadlineAny            DeadlineColumn = "any"
	DeadlineTaskDue        DeadlineColumn = "task_due"
)

// DeadlineMode distinguishes upcoming deadlines from missed ones.
type DeadlineMode string

const (
	DeadlineApproaching DeadlineMode = "approaching"
	DeadlineMissed      DeadlineMode = "missed"
)

// DeadlineFilter selects records by a deadline window. Coordinator optionally narrows
// the result to a named coordinator inside the same template.
type DeadlineFilter struct {
	Deadline    DeadlineColumn `json:"deadline"`
	Mode        DeadlineMode   `json:"mode"`
	From        time.Time      `json:"from"`
	To          time.Time      `json:"to"`
	Coordinator *NameFilter    `json:"coordinator,omitempty"`
}

func (f *DeadlineFilter) Kind() MatchKind { return MatchDeadline }
func (f *DeadlineFilter) isFilter()       {}

func (f *DeadlineFilter) Describe() string {
	label := "deadline"
	switch f.Deadline {
	case DeadlineIdentification:
		label = "45-day identification deadline"
	case DeadlineCompletion:
		label = "180-day completion deadline"
	case DeadlineTaskDue:
		label = "due date"
	}
	var desc string
	if f.Mode == DeadlineMissed {
		desc = "that missed their " + label
	} else {
		desc = fmt.Sprintf("with a %s between %s and %s", label, f.From.Format("Jan 2, 2006"), f.To.Format("Jan 2, 2006"))
	}
	if f.Coordinator != nil {
		desc += fmt.Sprintf(" and a coordinator matching %q", strings.Join(f.Coordinator.Tokens, " "))
	}
	return desc
}

// TimeRangeFilter bounds a timestamp column. A zero From or To leaves that side open.
type TimeRangeFilter struct {
	From  time.Time `json:"from"`
	To    time.Time `json:"to"`
	Label string    `json:"label"`
	// Due targets the due date instead of the creation time where the entity has one.
	Due bool `json:"due,omitempty"`
}

func (f *TimeRangeFilter) Kind() MatchKind { return MatchTimeRange }
func (f *TimeRangeFilter) isFilter()       {}

func (f *TimeRangeFilter) Describe() string {
	if f.Due {
		return "due " + f.Label
	}
	return "created " + f.Label
}

// LocationFilter matches a US state (USPS code) and/or a city.
type LocationFilter struct {
	State string `json:"state,omitempty"`
	City  string `json:"city,omitempty"`
}

func (f *LocationFilter) Kind() MatchKind { return MatchLocation }
func (f *LocationFilter) isFilter()       {}

func (f *LocationFilter) Describe() string {
	switch {
	case f.City != "" && f.State != "":
		return fmt.Sprintf("located in %s, %s", f.City, f.State)
	case f.City != "":
		return "located in " + f.City
	default:
		return "located in " + f.State
	}
}

// NumericOp is the comparison applied by a numeric filter.
type NumericOp string

const (
	NumericGTE     NumericOp = "gte"
	NumericLTE     NumericOp = "lte"
	NumericBetween NumericOp = "between"
)

// NumericFilter is a monetary threshold on an amount column.
type NumericFilter struct {
	Column string    `json:"column"`
	Op     NumericOp `json:"op"`
	Min    float64   `json:"min,omitempty"`
	Max    float64   `json:"max,omitempty"`
}

func (f *NumericFilter) Kind() MatchKind { return MatchNumericRange }
func (f *NumericFilter) isFilter()       {}

func (f *NumericFilter) Describe() string {
	label := strings.ReplaceAll(f.Column, "_", " ")
	switch f.Op {
	case NumericGTE:
		return fmt.Sprintf("with %s of at least $%s", label, formatAmount(f.Min))
	case NumericLTE:
		return fmt.Sprintf("with %s of at most $%s", label, formatAmount(f.Max))
	default:
		return fmt.Sprintf("with %s between $%s and $%s", label, formatAmount(f.Min), formatAmount(f.Max))
	}
}

// StatusFilter restricts a workflow status. Active is used instead of Values for users.
type StatusFilter struct {
	Values []string `json:"values,omitempty"`
	Active *bool    `json:"active,omitempty"`
}

func (f *StatusFilter) Kind() MatchKind { return MatchStatus }
func (f *StatusFilter) isFilter()       {}

func (f *StatusFilter) Describe() string {
	if f.Active != nil {
		if *f.Active {
			return "that are active"
		}
		return "that are inactive"
	}
	return "with status " + strings.Join(f.Values, " or ")
}

// RelationshipFilter requires a join to a related person. Mine scopes it to the acting user.
type RelationshipFilter struct {
	Relation Relation `json:"relation"`
	Mine     bool     `json:"mine,omitempty"`
}

func (f *RelationshipFilter) Kind() MatchKind { return MatchRelationship }
func (f *RelationshipFilter) isFilter()       {}

func (f *RelationshipFilter) Describe() string {
	if f.Mine {
		if f.Relation == RelationAssignee {
			return "assigned to you"
		}
		return "where you are the " + string(f.Relation)
	}
	return "with their " + string(f.Relation)
}

func formatAmount(v float64) string {
	switch {
	case v >= 1_000_000 && int64(v)%100_000 == 0:
		return strings.TrimSuffix(fmt.Sprintf("%.1f", v/1_000_000), ".0") + "M"
	case v >= 1_000 && int64(v)%1_000 == 0:
		return fmt.Sprintf("%dk", int64(v/1_000))
	default:
		return strings.TrimSuffix(fmt.Sprintf("%.2f", v), ".00")
	}
}
