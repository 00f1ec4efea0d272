package filter

import (
	"fmt"
	"strings"
	"unicode"
)

// Condition holds the operators applied to a single field.
// Operators set on the same Condition are combined with AND.
type Condition struct {
	Exact    any    `json:"exact,omitempty"`
	Contains string `json:"contains,omitempty"`
	Greater  any    `json:"greater,omitempty"`
	Less     any    `json:"less,omitempty"`
	// Missing matches absent or null fields and excludes every other operator.
	Missing  bool   `json:"missing,omitempty"`
}

// IsZero reports whether no operator is set.
func (c Condition) IsZero() bool {
	return c.Exact == nil && c.Contains == "" && c.Greater == nil && c.Less == nil && !c.Missing
}

func (c Condition) validate(field string) error {
	if c.IsZero() {
		return fmt.Errorf("%w: no operator for field %q", ErrInvalidCondition, field)
	}
	if c.Missing && (c.Exact != nil || c.Contains != "" || c.Greater != nil || c.Less != nil) {
		return fmt.Errorf("%w: missing combined with a value operator for field %q", ErrInvalidCondition, field)
	}
	return nil
}

// Filter maps field names to conditions. All fields must match.
type Filter map[string]Condition

// Where returns a single-field filter using the default matching rules for value.
func Where(field string, value any) Filter {
	return Filter{}.And(field, value)
}

// And adds the default condition for field and returns the filter.
// A nil filter is allocated on demand.
func (f Filter) And(field string, value any) Filter {
	if f == nil {
		f = Filter{}
	}
	cond := f[field]
	if s, ok := value.(string); ok && !IsIdentifier(field) {
		cond.Contains = s
	} else {
		cond.Exact = value
	}
	f[field] = cond
	return f
}

// Greater adds a strict lower bound for field.
func (f Filter) Greater(field string, value any) Filter {
	if f == nil {
		f = Filter{}
	}
	cond := f[field]
	cond.Greater = value
	f[field] = cond
	return f
}

// Less adds a strict upper bound for field.
func (f Filter) Less(field string, value any) Filter {
	if f == nil {
		f = Filter{}
	}
	cond := f[field]
	cond.Less = value
	f[field] = cond
	return f
}

// Missing requires field to be absent or null.
func (f Filter) Missing(field string) Filter {
	if f == nil {
		f = Filter{}
	}
	f[field] = Condition{Missing: true}
	return f
}

// Validate checks that every field is known and carries a usable set of operators.
func (f Filter) Validate(fields Fields) error {
	for name, cond := range f {
		if _, err := fields.Column(name); err != nil {
			return err
		}
		if err := cond.validate(name); err != nil {
			return err
		}
	}
	return nil
}

// IsIdentifier reports whether field names an identifier-like key.
// Identifier fields are always matched exactly, never by substring.
func IsIdentifier(field string) bool {
	switch {
	case field == "id", field == "_id", field == "ID":
		return true
	case strings.HasSuffix(field, "_id"):
		return true
	case strings.HasSuffix(field, "ID") && len(field) > 2:
		return true
	case strings.HasSuffix(field, "Id") && len(field) > 2:
		// camelCase boundary: "createdByUserId" but not "paid"
		r := rune(field[len(field)-3])
		return unicode.IsLower(r) || unicode.IsDigit(r)
	}
	return false
}

// Fields maps public filter field names to storage column/document names.
type Fields map[string]string

// Column resolves a public field name.
func (fs Fields) Column(name string) (string, error) {
	col, ok := fs[name]
	if !ok || col == "" {
		return "", fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return col, nil
}
