package store

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// NormalizeKey turns every whitespace rune of a trimmed key into an
// underscore, so "birth place" is stored and queried as "birth_place".
func NormalizeKey(k string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(k))
}

// NormalizeRelationType trims t and replaces its spaces with underscores.
func NormalizeRelationType(t string) string {
	return NormalizeKey(t)
}

// ValidIdentifier reports whether s can be interpolated into a query as a
// label or property name.
func ValidIdentifier(s string) bool {
	return identRe.MatchString(s)
}

// CheckLabel validates an entity or relationship type.
func CheckLabel(label string) error {
	if !ValidIdentifier(label) {
		return fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	return nil
}

// NormalizeAttributes returns a copy of attrs with normalised keys and
// canonical scalar values. Integers become int64 and other numbers float64.
func NormalizeAttributes(attrs Attributes) (Attributes, error) {
	out := make(Attributes, len(attrs))
	for k, v := range attrs {
		key := NormalizeKey(k)
		if !ValidIdentifier(key) {
			return nil, fmt.Errorf("%w: key %q", ErrInvalidAttributes, k)
		}
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("%w: keys collide as %q", ErrInvalidAttributes, key)
		}
		sv, ok := Scalar(v)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a scalar (%T)", ErrInvalidAttributes, k, v)
		}
		out[key] = sv
	}
	return out, nil
}

// NormalizeConstraints normalises field names and values. Constraints with
// unusable fields or non-scalar values are rejected.
func NormalizeConstraints(constraints []Constraint) ([]Constraint, error) {
	if len(constraints) == 0 {
		return nil, ErrNoConstraints
	}
	out := make([]Constraint, 0, len(constraints))
	for _, c := range constraints {
		field := NormalizeKey(c.Field)
		if !ValidIdentifier(field) {
			return nil, fmt.Errorf("%w: field %q", ErrInvalidAttributes, c.Field)
		}
		v, ok := Scalar(c.Value)
		if !ok {
			return nil, fmt.Errorf("%w: value for %q is not a scalar", ErrInvalidAttributes, c.Field)
		}
		out = append(out, Constraint{Field: field, Value: v})
	}
	return out, nil
}

// Scalar reports whether v is a string, bool or finite number and returns
// it in canonical form.
func Scalar(v any) (any, bool) {
	switch x := v.(type) {
	case string, bool:
		return x, true
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint:
		if uint64(x) > math.MaxInt64 {
			return nil, false
		}
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return nil, false
		}
		return int64(x), true
	case float32:
		return finite(float64(x))
	case float64:
		return finite(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, true
		}
		f, err := x.Float64()
		if err != nil {
			return nil, false
		}
		return finite(f)
	default:
		return nil, false
	}
}

func finite(f float64) (any, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	return f, true
}
