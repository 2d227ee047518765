package synth

import (
	"errors"
	"fmt"

	"github.com/ekaya-inc/exchange-query-engine/pkg/models"
)

var (
	// ErrNoTemplate means no template expresses the filter for the target entity.
	// Callers treat it as a classification failure, never as an empty result.
	ErrNoTemplate = errors.New("no query template for this question")
	// ErrUserRequired means the question is scoped to "my" records but no acting user was given.
	ErrUserRequired = errors.New("question refers to the current user but no user was provided")
)

// DefaultListLimit caps list queries when no limit is configured.
const DefaultListLimit = 50

// Synthesizer turns an intent plus at most one filter into a parameterized SELECT.
type Synthesizer struct {
	listLimit int
}

// New creates a synthesizer with the given list row cap.
func New(listLimit int) *Synthesizer {
	if listLimit <= 0 {
		listLimit = DefaultListLimit
	}
	return &Synthesizer{listLimit: listLimit}
}

// ListLimit returns the row cap applied to list queries.
func (s *Synthesizer) ListLimit() int { return s.listLimit }

// Synthesize builds the query for in and the optional match. userID scopes "my ..." questions.
func (s *Synthesizer) Synthesize(in Intent, m *models.Match, userID string) (*models.SynthesizedQuery, error) {
	spec, ok := tableSpecs[in.Entity]
	if !ok {
		return nil, fmt.Errorf("%w: unknown entity %q", ErrNoTemplate, in.Entity)
	}
	limit := in.Limit
	if limit <= 0 || limit > s.listLimit {
		limit = s.listLimit
	}

	b := newBuilder(spec)
	kind := "all"
	var group *person

	if m != nil && m.Filter != nil {
		kind = string(m.Filter.Kind())
		var err error
		switch f := m.Filter.(type) {
		case *models.NameFilter:
			err = applyName(b, in.Entity, f)
		case *models.DeadlineFilter:
			err = applyDeadline(b, in.Entity, f)
		case *models.TimeRangeFilter:
			err = applyTimeRange(b, in.Entity, f)
		case *models.LocationFilter:
			err = applyLocation(b, in.Entity, f)
		case *models.NumericFilter:
			err = applyNumeric(b, in.Entity, f)
		case *models.StatusFilter:
			err = applyStatus(b, in.Entity, f)
		case *models.RelationshipFilter:
			if f.Mine {
				err = applyMine(b, in.Entity, userID)
				break
			}
			p, found := personFor(in.Entity, f.Relation)
			if !found {
				err = fmt.Errorf("%w: %s relation on %s", ErrNoTemplate, f.Relation, in.Entity)
				break
			}
			j := p.join
			j.inner = true
			b.addJoin(j)
			group = &p
		default:
			err = fmt.Errorf("%w: filter %T", ErrNoTemplate, f)
		}
		if err != nil {
			return nil, err
		}
	}

	q := &models.SynthesizedQuery{
		Entity:           in.Entity,
		Shape:            in.Shape,
		Match:            m,
		HasPatternFilter: b.pattern,
	}

	switch in.Shape {
	case models.ShapeCount:
		q.SQL = b.countSQL()
	case models.ShapeAggregate:
		switch {
		case group != nil:
			countAlias := spec.name + "_count"
			q.SQL = b.groupSQL(group.label, group.join.alias+".display_name", group.key, countAlias, limit)
			q.OrderBy = countAlias + " DESC"
			q.Limit = limit
		case in.Entity == models.EntityExchanges:
			q.SQL = b.valueSQL()
		default:
			q.Shape = models.ShapeCount
			q.SQL = b.countSQL()
		}
	default:
		q.Shape = models.ShapeList
		q.SQL = b.listSQL(s.joinedNames(in.Entity, b), limit)
		q.OrderBy = b.orderBy
		if q.OrderBy == "" {
			q.OrderBy = b.col("created_at") + " DESC"
		}
		q.Limit = limit
	}

	q.Params = b.params
	q.Tables = b.tables()
	q.HasJoin = len(b.joins) > 0
	q.Template = fmt.Sprintf("%s.%s.%s", in.Entity, q.Shape, kind)
	return q, nil
}

// joinedNames adds the display name of every joined person to list output.
func (s *Synthesizer) joinedNames(entity models.Entity, b *builder) []string {
	var cols []string
	for _, p := range people[entity] {
		for _, j := range b.joins {
			if j.alias == p.join.alias {
				cols = append(cols, fmt.Sprintf("%s.display_name AS %s", j.alias, p.label))
			}
		}
	}
	return cols
}
