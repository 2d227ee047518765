package synth

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/exchange-query-engine/pkg/extract"
	"github.com/ekaya-inc/exchange-query-engine/pkg/models"
)

type tableSpec struct {
	name        string
	alias       string
	listColumns []string
	// nameColumns are searched by name filters when the entity itself is a person.
	nameColumns  []string
	hasFirstLast bool
}

var tableSpecs = map[models.Entity]tableSpec{
	models.EntityExchanges: {
		name:  "exchanges",
		alias: "e",
		listColumns: []string{"id", "exchange_number", "name", "status", "property_city", "property_state",
			"exchange_value", "identification_deadline", "completion_deadline", "created_at"},
		nameColumns: []string{"name"},
	},
	models.EntityContacts: {
		name:         "contacts",
		alias:        "c",
		listColumns:  []string{"id", "first_name", "last_name", "company", "display_name", "email", "city", "state", "created_at"},
		nameColumns:  []string{"first_name", "last_name", "company", "display_name"},
		hasFirstLast: true,
	},
	models.EntityUsers: {
		name:         "users",
		alias:        "u",
		listColumns:  []string{"id", "first_name", "last_name", "display_name", "email", "role", "is_active", "created_at"},
		nameColumns:  []string{"first_name", "last_name", "display_name"},
		hasFirstLast: true,
	},
	models.EntityTasks: {
		name:        "tasks",
		alias:       "t",
		listColumns: []string{"id", "title", "status", "priority", "exchange_id", "assigned_to", "due_date", "created_at"},
		nameColumns: []string{"title"},
	},
	models.EntityDocuments: {
		name:        "documents",
		alias:       "d",
		listColumns: []string{"id", "exchange_id", "file_name", "category", "uploaded_by", "created_at"},
	},
	models.EntityMessages: {
		name:        "messages",
		alias:       "m",
		listColumns: []string{"id", "exchange_id", "sender_id", "content", "created_at"},
	},
}

// person is a one-hop join from a primary entity to a related person table.
type person struct {
	relation models.Relation
	join     join
	// label names the grouped column and the joined display column in list output.
	label string
	key   string
}

var people = map[models.Entity][]person{
	models.EntityExchanges: {
		{
			relation: models.RelationClient,
			join:     join{table: "contacts", alias: "c", on: "c.id = e.client_id"},
			label:    "client_name",
			key:      "c.id",
		},
		{
			relation: models.RelationCoordinator,
			join:     join{table: "users", alias: "u", on: "u.id = e.coordinator_id"},
			label:    "coordinator_name",
			key:      "u.id",
		},
	},
	models.EntityTasks: {
		{
			relation: models.RelationAssignee,
			join:     join{table: "users", alias: "u", on: "u.id = t.assigned_to"},
			label:    "assignee_name",
			key:      "u.id",
		},
	},
}

var personNameColumns = map[string][]string{
	"contacts": {"first_name", "last_name", "company", "display_name"},
	"users":    {"first_name", "last_name", "display_name"},
}

func personFor(entity models.Entity, rel models.Relation) (person, bool) {
	for _, p := range people[entity] {
		if p.relation == rel {
			return p, true
		}
	}
	return person{}, false
}

// amountColumns are the numeric columns a threshold may target.
var amountColumns = map[string]bool{
	extract.ColumnExchangeValue:    true,
	extract.ColumnRelinquishedSale: true,
	extract.ColumnReplacementPrice: true,
}

// closedExchangeStatuses never have live deadlines.
var closedExchangeStatuses = []string{"completed", "cancelled"}

// applyName adds one condition per token. Each token must match at least one name
// column of the primary entity or of a one-hop related person.
func applyName(b *builder, entity models.Entity, nf *models.NameFilter) error {
	tokens := nf.Tokens
	if len(tokens) == 0 {
		return fmt.Errorf("%w: empty name filter", ErrNoTemplate)
	}

	type target struct {
		alias        string
		columns      []string
		hasFirstLast bool
	}
	var targets []target

	spec := tableSpecs[entity]
	own := nf.Role == models.RelationNone || len(people[entity]) == 0
	if own && len(spec.nameColumns) > 0 {
		targets = append(targets, target{spec.alias, spec.nameColumns, spec.hasFirstLast})
	}
	for _, p := range people[entity] {
		if nf.Role != models.RelationNone && nf.Role != p.relation {
			continue
		}
		b.addJoin(p.join)
		targets = append(targets, target{p.join.alias, personNameColumns[p.join.table], true})
	}
	if len(targets) == 0 {
		return fmt.Errorf("%w: name filter on %s", ErrNoTemplate, entity)
	}

	for _, tok := range tokens {
		ph := b.arg("%" + escapeLike(tok) + "%")
		var ors []string
		for _, t := range targets {
			for _, c := range t.columns {
				if !fieldAllows(nf.Field, c) {
					continue
				}
				ors = append(ors, fmt.Sprintf("%s.%s ILIKE %s", t.alias, c, ph))
			}
			if t.hasFirstLast && nf.Field == models.NameFieldAny {
				ors = append(ors, fmt.Sprintf("CONCAT(%s.first_name, ' ', %s.last_name) ILIKE %s", t.alias, t.alias, ph))
			}
		}
		if len(ors) == 0 {
			return fmt.Errorf("%w: %s name on %s", ErrNoTemplate, nf.Field, entity)
		}
		b.addWhere("(" + strings.Join(ors, " OR ") + ")")
	}
	b.pattern = true
	return nil
}

func fieldAllows(field models.NameField, column string) bool {
	switch field {
	case models.NameFieldFirst:
		return column == "first_name"
	case models.NameFieldLast:
		return column == "last_name"
	default:
		return true
	}
}

// escapeLike escapes LIKE wildcards so a token only ever matches literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func applyDeadline(b *builder, entity models.Entity, df *models.DeadlineFilter) error {
	switch entity {
	case models.EntityExchanges:
		var cols []string
		switch df.Deadline {
		case models.DeadlineIdentification:
			cols = []string{b.col("identification_deadline")}
		case models.DeadlineCompletion:
			cols = []string{b.col("completion_deadline")}
		case models.DeadlineAny:
			cols = []string{b.col("identification_deadline"), b.col("completion_deadline")}
		default:
			return fmt.Errorf("%w: %s deadline on exchanges", ErrNoTemplate, df.Deadline)
		}
		b.addWhere("NOT (" + b.col("status") + " = ANY(" + b.arg(closedExchangeStatuses) + "))")
		applyDeadlineWindow(b, cols, df)
		if len(cols) == 1 {
			b.orderBy = cols[0] + " ASC"
		} else {
			b.orderBy = "LEAST(" + strings.Join(cols, ", ") + ") ASC"
		}
		if df.Coordinator != nil {
			nf := *df.Coordinator
			nf.Role = models.RelationCoordinator
			return applyName(b, entity, &nf)
		}
		return nil
	case models.EntityTasks:
		due := b.col("due_date")
		b.addWhere(b.col("status") + " <> " + b.arg("COMPLETED"))
		applyDeadlineWindow(b, []string{due}, df)
		b.orderBy = due + " ASC"
		return nil
	default:
		return fmt.Errorf("%w: deadline on %s", ErrNoTemplate, entity)
	}
}

func applyDeadlineWindow(b *builder, cols []string, df *models.DeadlineFilter) {
	var ors []string
	if df.Mode == models.DeadlineMissed {
		to := b.arg(df.To)
		for _, c := range cols {
			ors = append(ors, c+" < "+to)
		}
	} else {
		from, to := b.arg(df.From), b.arg(df.To)
		for _, c := range cols {
			ors = append(ors, fmt.Sprintf("%s BETWEEN %s AND %s", c, from, to))
		}
	}
	if len(ors) == 1 {
		b.addWhere(ors[0])
		return
	}
	b.addWhere("(" + strings.Join(ors, " OR ") + ")")
}

func applyTimeRange(b *builder, entity models.Entity, tf *models.TimeRangeFilter) error {
	col := b.col("created_at")
	if tf.Due && entity == models.EntityTasks {
		col = b.col("due_date")
		b.orderBy = col + " ASC"
	}
	if tf.From.IsZero() && tf.To.IsZero() {
		return fmt.Errorf("%w: unbounded time range", ErrNoTemplate)
	}
	if !tf.From.IsZero() {
		b.addWhere(col + " >= " + b.arg(tf.From))
	}
	if !tf.To.IsZero() {
		b.addWhere(col + " < " + b.arg(tf.To))
	}
	return nil
}

func applyLocation(b *builder, entity models.Entity, lf *models.LocationFilter) error {
	var stateCol, cityCol string
	switch entity {
	case models.EntityExchanges:
		stateCol, cityCol = b.col("property_state"), b.col("property_city")
	case models.EntityContacts:
		stateCol, cityCol = b.col("state"), b.col("city")
	default:
		return fmt.Errorf("%w: location on %s", ErrNoTemplate, entity)
	}
	if lf.State != "" {
		b.addWhere("UPPER(" + stateCol + ") = " + b.arg(strings.ToUpper(lf.State)))
	}
	if lf.City != "" {
		b.addWhere("LOWER(" + cityCol + ") = " + b.arg(strings.ToLower(lf.City)))
	}
	return nil
}

func applyNumeric(b *builder, entity models.Entity, nf *models.NumericFilter) error {
	if entity != models.EntityExchanges || !amountColumns[nf.Column] {
		return fmt.Errorf("%w: amount filter on %s", ErrNoTemplate, entity)
	}
	col := b.col(nf.Column)
	switch nf.Op {
	case models.NumericGTE:
		b.addWhere(col + " >= " + b.arg(nf.Min))
	case models.NumericLTE:
		b.addWhere(col + " <= " + b.arg(nf.Max))
	case models.NumericBetween:
		b.addWhere(fmt.Sprintf("%s BETWEEN %s AND %s", col, b.arg(nf.Min), b.arg(nf.Max)))
	default:
		return fmt.Errorf("%w: numeric op %q", ErrNoTemplate, nf.Op)
	}
	b.orderBy = col + " DESC"
	return nil
}

func applyStatus(b *builder, entity models.Entity, sf *models.StatusFilter) error {
	switch entity {
	case models.EntityExchanges, models.EntityTasks:
		if len(sf.Values) == 0 {
			return fmt.Errorf("%w: empty status filter", ErrNoTemplate)
		}
		if len(sf.Values) == 1 {
			b.addWhere(b.col("status") + " = " + b.arg(sf.Values[0]))
		} else {
			b.addWhere(b.col("status") + " = ANY(" + b.arg(sf.Values) + ")")
		}
		return nil
	case models.EntityUsers:
		if sf.Active == nil {
			return fmt.Errorf("%w: user status without activity flag", ErrNoTemplate)
		}
		b.addWhere(b.col("is_active") + " = " + b.arg(*sf.Active))
		return nil
	default:
		return fmt.Errorf("%w: status on %s", ErrNoTemplate, entity)
	}
}

// applyMine scopes the query to records owned by the acting user.
func applyMine(b *builder, entity models.Entity, userID string) error {
	if userID == "" {
		return ErrUserRequired
	}
	switch entity {
	case models.EntityExchanges:
		b.addWhere(b.col("coordinator_id") + " = " + b.arg(userID))
	case models.EntityTasks:
		b.addWhere(b.col("assigned_to") + " = " + b.arg(userID))
	case models.EntityDocuments:
		b.addWhere(b.col("uploaded_by") + " = " + b.arg(userID))
	case models.EntityMessages:
		b.addWhere(b.col("sender_id") + " = " + b.arg(userID))
	default:
		return fmt.Errorf("%w: ownership on %s", ErrNoTemplate, entity)
	}
	return nil
}
