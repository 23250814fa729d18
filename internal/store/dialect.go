package store

import (
	"strconv"
	"strings"
)

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// Rebind rewrites ? placeholders into $n for PostgreSQL.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// TextMatch returns a predicate matching term against the given text
// columns, plus its arguments.
func (d Dialect) TextMatch(term string, columns ...string) (string, []any) {
	if d == Postgres {
		expr := make([]string, len(columns))
		for i, col := range columns {
			expr[i] = "COALESCE(" + col + ", '')"
		}
		return "to_tsvector('english', " + strings.Join(expr, " || ' ' || ") + ") @@ plainto_tsquery('english', ?)", []any{term}
	}
	like := "%" + strings.ToLower(term) + "%"
	parts := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, col := range columns {
		parts[i] = "LOWER(" + col + ") LIKE ?"
		args[i] = like
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

// MigrationsDir is the embedded directory holding this dialect's migrations.
func (d Dialect) MigrationsDir() string {
	return "migrations/" + string(d)
}
