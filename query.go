package storefront

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Operator represents a comparison operation in filters.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNe       Operator = "ne"
	OpGt       Operator = "gt"
	OpGe       Operator = "ge"
	OpLt       Operator = "lt"
	OpLe       Operator = "le"
	OpIn       Operator = "in"
	OpNotIn    Operator = "not_in"
	OpBetween  Operator = "between"
	OpPrefix   Operator = "prefix"   // string starts with
	OpContains Operator = "contains" // string contains, case-insensitive
	OpIsNull   Operator = "isnull"
	OpNotNull  Operator = "notnull"
)

// Condition is a simple filter condition (field op value) over entity fields.
// The pseudo-fields "id" and "slug" address the entity columns.
type Condition struct {
	Field string
	Op    Operator
	// Value can be a single value, []any for OpIn, or [2]any for OpBetween.
	Value any
}

// Filter selects entities of one kind for a list operation.
type Filter struct {
	Conditions []Condition
	PageSize   int32
	Cursor     string
}

// Where returns a filter with the given conditions.
func Where(conditions ...Condition) Filter {
	return Filter{Conditions: conditions}
}

// Match reports whether ent satisfies every condition.
func (f Filter) Match(ent Entity) bool {
	for _, c := range f.Conditions {
		if !c.Match(ent) {
			return false
		}
	}
	return true
}

// Match reports whether ent satisfies the condition.
func (c Condition) Match(ent Entity) bool {
	var (
		v       any
		present bool
	)
	switch c.Field {
	case "id":
		v, present = ent.ID, true
	case "slug":
		v, present = ent.Slug, ent.Slug != ""
	default:
		v, present = ent.Fields[c.Field]
	}
	present = present && v != nil

	switch c.Op {
	case OpIsNull:
		return !present
	case OpNotNull:
		return present
	case OpEq, "":
		return present && equalValues(v, c.Value)
	case OpNe:
		return !present || !equalValues(v, c.Value)
	case OpIn, OpNotIn:
		found := false
		for _, candidate := range toSlice(c.Value) {
			if present && equalValues(v, candidate) {
				found = true
				break
			}
		}
		return found == (c.Op == OpIn)
	case OpGt, OpGe, OpLt, OpLe:
		if !present {
			return false
		}
		cmp, ok := compareValues(v, c.Value)
		if !ok {
			return false
		}
		switch c.Op {
		case OpGt:
			return cmp > 0
		case OpGe:
			return cmp >= 0
		case OpLt:
			return cmp < 0
		default:
			return cmp <= 0
		}
	case OpBetween:
		bounds, ok := c.Value.([2]any)
		if !present || !ok {
			return false
		}
		lo, okLo := compareValues(v, bounds[0])
		hi, okHi := compareValues(v, bounds[1])
		return okLo && okHi && lo >= 0 && hi <= 0
	case OpPrefix:
		s, ok := v.(string)
		return present && ok && strings.HasPrefix(s, fmt.Sprint(c.Value))
	case OpContains:
		s, ok := v.(string)
		return present && ok && strings.Contains(strings.ToLower(s), strings.ToLower(fmt.Sprint(c.Value)))
	default:
		return false
	}
}

func toSlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// equalValues compares decoded JSON values; numbers compare numerically so
// that 4500 (int) matches 4500 (float64 from JSON).
func equalValues(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func compareValues(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if !okA || !okB {
		return 0, false
	}
	return strings.Compare(sa, sb), true
}

// toFloat converts numeric values (including json.Number) to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Helper functions for creating conditions
func Eq(field string, value any) Condition {
	return Condition{Field: field, Op: OpEq, Value: value}
}

func Ne(field string, value any) Condition {
	return Condition{Field: field, Op: OpNe, Value: value}
}

func Gt(field string, value any) Condition {
	return Condition{Field: field, Op: OpGt, Value: value}
}

func Ge(field string, value any) Condition {
	return Condition{Field: field, Op: OpGe, Value: value}
}

func Lt(field string, value any) Condition {
	return Condition{Field: field, Op: OpLt, Value: value}
}

func Le(field string, value any) Condition {
	return Condition{Field: field, Op: OpLe, Value: value}
}

func In(field string, values ...any) Condition {
	return Condition{Field: field, Op: OpIn, Value: values}
}

func NotIn(field string, values ...any) Condition {
	return Condition{Field: field, Op: OpNotIn, Value: values}
}

func Between(field string, from, to any) Condition {
	return Condition{Field: field, Op: OpBetween, Value: [2]any{from, to}}
}

func Prefix(field string, value string) Condition {
	return Condition{Field: field, Op: OpPrefix, Value: value}
}

func Contains(field string, value string) Condition {
	return Condition{Field: field, Op: OpContains, Value: value}
}

func IsNull(field string) Condition {
	return Condition{Field: field, Op: OpIsNull, Value: nil}
}

func NotNull(field string) Condition {
	return Condition{Field: field, Op: OpNotNull, Value: nil}
}
