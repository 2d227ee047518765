package synth

import (
	"fmt"
	"sort"
	"strings"
)

// builder accumulates the parts of one SELECT and its bound parameters.
type builder struct {
	table   tableSpec
	joins   []join
	where   []string
	params  []any
	orderBy string
	pattern bool
}

type join struct {
	table string
	alias string
	on    string
	inner bool
}

func newBuilder(t tableSpec) *builder {
	return &builder{table: t}
}

// arg binds v and returns its placeholder.
func (b *builder) arg(v any) string {
	b.params = append(b.params, v)
	return fmt.Sprintf("$%d", len(b.params))
}

func (b *builder) addWhere(cond string) {
	b.where = append(b.where, cond)
}

// addJoin adds a join once; a later inner join upgrades an earlier left join.
func (b *builder) addJoin(j join) {
	for i, existing := range b.joins {
		if existing.alias == j.alias {
			b.joins[i].inner = existing.inner || j.inner
			return
		}
	}
	b.joins = append(b.joins, j)
}

func (b *builder) col(name string) string {
	return b.table.alias + "." + name
}

func (b *builder) tables() []string {
	seen := map[string]bool{b.table.name: true}
	for _, j := range b.joins {
		seen[j.table] = true
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (b *builder) from() string {
	var sb strings.Builder
	sb.WriteString(" FROM ")
	sb.WriteString(b.table.name)
	sb.WriteString(" ")
	sb.WriteString(b.table.alias)
	for _, j := range b.joins {
		if j.inner {
			sb.WriteString(" JOIN ")
		} else {
			sb.WriteString(" LEFT JOIN ")
		}
		fmt.Fprintf(&sb, "%s %s ON %s", j.table, j.alias, j.on)
	}
	if len(b.where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.where, " AND "))
	}
	return sb.String()
}

func (b *builder) countSQL() string {
	return "SELECT COUNT(*) AS count" + b.from()
}

func (b *builder) listSQL(extra []string, limit int) string {
	cols := make([]string, 0, len(b.table.listColumns)+len(extra))
	for _, c := range b.table.listColumns {
		cols = append(cols, b.col(c))
	}
	cols = append(cols, extra...)
	order := b.orderBy
	if order == "" {
		order = b.col("created_at") + " DESC"
	}
	return fmt.Sprintf("SELECT %s%s ORDER BY %s, %s LIMIT %d",
		strings.Join(cols, ", "), b.from(), order, b.col("id"), limit)
}

// groupSQL counts primary rows per related person.
func (b *builder) groupSQL(label, nameExpr, keyExpr, countAlias string, limit int) string {
	return fmt.Sprintf("SELECT %s AS %s, COUNT(%s) AS %s%s GROUP BY %s, %s ORDER BY %s DESC, %s LIMIT %d",
		nameExpr, label, b.col("id"), countAlias, b.from(), keyExpr, nameExpr, countAlias, label, limit)
}

func (b *builder) valueSQL() string {
	return "SELECT COUNT(*) AS count, COALESCE(SUM(" + b.col("exchange_value") + "), 0) AS total_value, " +
		"COALESCE(AVG(" + b.col("exchange_value") + "), 0) AS average_value" + b.from()
}
