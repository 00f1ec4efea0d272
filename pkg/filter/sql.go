package filter

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ToSQL converts f into a WHERE fragment with PostgreSQL positional parameters.
// Placeholders start at $argOffset+1 so the fragment can be appended to a query
// that already has arguments. An empty filter yields "TRUE".
func ToSQL(f Filter, fields Fields, argOffset int) (string, []any, error) {
	var (
		parts []string
		args  []any
	)
	next := func(v any) string {
		args = append(args, sqlValue(v))
		return fmt.Sprintf("$%d", argOffset+len(args))
	}

	for _, name := range sortedKeys(f) {
		cond := f[name]
		col, err := fields.Column(name)
		if err != nil {
			return "", nil, err
		}
		if err := cond.validate(name); err != nil {
			return "", nil, err
		}
		if cond.Missing {
			parts = append(parts, col+" IS NULL")
			continue
		}
		if cond.Exact != nil {
			parts = append(parts, col+" = "+next(cond.Exact))
		}
		if cond.Contains != "" {
			parts = append(parts, col+" ILIKE "+next("%"+likeEscaper.Replace(cond.Contains)+"%"))
		}
		if cond.Greater != nil {
			parts = append(parts, col+" > "+next(cond.Greater))
		}
		if cond.Less != nil {
			parts = append(parts, col+" < "+next(cond.Less))
		}
	}

	if len(parts) == 0 {
		return "TRUE", nil, nil
	}
	return strings.Join(parts, " AND "), args, nil
}

// OrderBy returns an ORDER BY clause with the id tiebreaker.
// Nulls sort first ascending and last descending, as in MongoDB.
func OrderBy(s Sort, fields Fields) (string, error) {
	if s.Field == "" {
		s.Field = "id"
	}
	col, err := fields.Column(s.Field)
	if err != nil {
		return "", err
	}
	clause := "ORDER BY " + col
	if s.Desc {
		clause += " DESC NULLS LAST"
	} else {
		clause += " ASC NULLS FIRST"
	}
	idCol, err := fields.Column("id")
	if err != nil {
		return "", err
	}
	if idCol != col {
		clause += ", " + idCol + " ASC"
	}
	return clause, nil
}

// LimitOffset returns the LIMIT/OFFSET clause for a normalized query.
func LimitOffset(q Query) string {
	q = q.Normalize()
	return fmt.Sprintf("LIMIT %d OFFSET %d", q.PageSize, q.Offset())
}

func sqlValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC()
	case fmt.Stringer:
		return t.String()
	default:
		return v
	}
}

func sortedKeys(f Filter) []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
