package filter

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Record exposes named field values to the in-memory backend.
// The second return value is false when the field is absent or null.
type Record interface {
	FieldValue(name string) (any, bool)
}

// Match reports whether rec satisfies every condition in f.
// Absent fields only match a Missing condition.
func Match(rec Record, f Filter) (bool, error) {
	for name, cond := range f {
		if err := cond.validate(name); err != nil {
			return false, err
		}
		raw, ok := rec.FieldValue(name)
		var v any
		if ok {
			v = normalize(raw)
		}
		if cond.Missing {
			if v != nil {
				return false, nil
			}
			continue
		}
		if v == nil {
			return false, nil
		}

		if cond.Exact != nil {
			c, err := compare(v, normalize(cond.Exact))
			if err != nil || c != 0 {
				return false, nil
			}
		}
		if cond.Contains != "" {
			s, isString := v.(string)
			if !isString || !strings.Contains(strings.ToLower(s), strings.ToLower(cond.Contains)) {
				return false, nil
			}
		}
		if cond.Greater != nil {
			c, err := compare(v, normalize(cond.Greater))
			if err != nil {
				return false, err
			}
			if c <= 0 {
				return false, nil
			}
		}
		if cond.Less != nil {
			c, err := compare(v, normalize(cond.Less))
			if err != nil {
				return false, err
			}
			if c >= 0 {
				return false, nil
			}
		}
	}
	return true, nil
}

// Apply filters, sorts and paginates records in memory.
func Apply[T Record](items []T, q Query) (Page[T], error) {
	q = q.Normalize()

	matched := make([]T, 0, len(items))
	for _, it := range items {
		ok, err := Match(it, q.Filter)
		if err != nil {
			return Page[T]{}, err
		}
		if ok {
			matched = append(matched, it)
		}
	}

	var sortErr error
	slices.SortStableFunc(matched, func(a, b T) int {
		c, err := compareField(a, b, q.Sort.Field)
		if err != nil && sortErr == nil {
			sortErr = err
		}
		if q.Sort.Desc {
			c = -c
		}
		if c != 0 || q.Sort.Field == "id" {
			return c
		}
		c, _ = compareField(a, b, "id")
		return c
	})
	if sortErr != nil {
		return Page[T]{}, sortErr
	}

	total := int64(len(matched))
	start := min(q.Offset(), total)
	end := min(start+int64(q.PageSize), total)
	return NewPage(matched[start:end], q, total), nil
}

// compareField orders absent values before present ones.
func compareField(a, b Record, field string) (int, error) {
	av, aok := a.FieldValue(field)
	bv, bok := b.FieldValue(field)
	an, bn := normalize(av), normalize(bv)
	aok = aok && an != nil
	bok = bok && bn != nil
	switch {
	case !aok && !bok:
		return 0, nil
	case !aok:
		return -1, nil
	case !bok:
		return 1, nil
	}
	return compare(an, bn)
}

// normalize folds the value kinds stored in records into int64, float64,
// string, bool and time.Time.
func normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC()
	case time.Time:
		return t.UTC()
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case uint:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return int64(t)
	case float32:
		return float64(t)
	case float64:
		return t
	case string:
		return t
	case bool:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return v
	}
}

func compare(a, b any) (int, error) {
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return cmp.Compare(x, y), nil
		case float64:
			return cmp.Compare(float64(x), y), nil
		}
	case float64:
		switch y := b.(type) {
		case float64:
			return cmp.Compare(x, y), nil
		case int64:
			return cmp.Compare(x, float64(y)), nil
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), nil
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y), nil
		}
	case bool:
		if y, ok := b.(bool); ok {
			if x == y {
				return 0, nil
			}
			if !x {
				return -1, nil
			}
			return 1, nil
		}
	}
	return 0, fmt.Errorf("%w: %T vs %T", ErrNotComparable, a, b)
}
