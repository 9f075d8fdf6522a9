package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Op is a comparison operator in the backend's filter syntax.
type Op string

const (
	OpEq      Op = "_eq"
	OpNeq     Op = "_neq"
	OpLt      Op = "_lt"
	OpLte     Op = "_lte"
	OpGt      Op = "_gt"
	OpGte     Op = "_gte"
	OpIn      Op = "_in"
	OpNull    Op = "_null"
	OpNotNull Op = "_nnull"
)

var knownOps = map[Op]string{
	OpEq:      "=",
	OpNeq:     "<>",
	OpLt:      "<",
	OpLte:     "<=",
	OpGt:      ">",
	OpGte:     ">=",
	OpIn:      "IN",
	OpNull:    "IS NULL",
	OpNotNull: "IS NOT NULL",
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidField reports whether name is safe to use as a column identifier.
func ValidField(name string) bool {
	return fieldPattern.MatchString(name)
}

// Filter is a boolean predicate over records. The zero Filter matches
// every record.
type Filter struct {
	Field string
	Op    Op
	Value any
	And   []Filter
	Or    []Filter
}

func Eq(field string, v any) Filter  { return Filter{Field: field, Op: OpEq, Value: v} }
func Neq(field string, v any) Filter { return Filter{Field: field, Op: OpNeq, Value: v} }
func Lt(field string, v any) Filter  { return Filter{Field: field, Op: OpLt, Value: v} }
func Lte(field string, v any) Filter { return Filter{Field: field, Op: OpLte, Value: v} }
func Gt(field string, v any) Filter  { return Filter{Field: field, Op: OpGt, Value: v} }
func Gte(field string, v any) Filter { return Filter{Field: field, Op: OpGte, Value: v} }
func IsNull(field string) Filter     { return Filter{Field: field, Op: OpNull} }
func NotNull(field string) Filter    { return Filter{Field: field, Op: OpNotNull} }

// In matches records whose field equals any of values.
func In[T any](field string, values ...T) Filter {
	vs := make([]any, len(values))
	for i, v := range values {
		vs[i] = v
	}
	return Filter{Field: field, Op: OpIn, Value: vs}
}

// And combines filters; zero filters are ignored.
func And(filters ...Filter) Filter {
	parts := nonZero(filters)
	if len(parts) == 1 {
		return parts[0]
	}
	return Filter{And: parts}
}

// Or matches when any of filters matches; zero filters are ignored.
func Or(filters ...Filter) Filter {
	parts := nonZero(filters)
	if len(parts) == 1 {
		return parts[0]
	}
	return Filter{Or: parts}
}

func nonZero(filters []Filter) []Filter {
	out := make([]Filter, 0, len(filters))
	for _, f := range filters {
		if !f.IsZero() {
			out = append(out, f)
		}
	}
	return out
}

// IsZero reports whether f matches everything.
func (f Filter) IsZero() bool {
	return f.Field == "" && len(f.And) == 0 && len(f.Or) == 0
}

// MarshalJSON renders the backend filter syntax, e.g. {"id":{"_eq":3}}.
func (f Filter) MarshalJSON() ([]byte, error) {
	switch {
	case len(f.And) > 0:
		return json.Marshal(map[string][]Filter{"_and": f.And})
	case len(f.Or) > 0:
		return json.Marshal(map[string][]Filter{"_or": f.Or})
	case f.Field == "":
		return []byte("{}"), nil
	}
	var cond map[Op]any
	switch f.Op {
	case OpNull:
		cond = map[Op]any{OpNull: true}
	case OpNotNull:
		cond = map[Op]any{OpNotNull: true}
	default:
		cond = map[Op]any{f.Op: f.Value}
	}
	return json.Marshal(map[string]any{f.Field: cond})
}

// UnmarshalJSON parses the backend filter syntax. Several keys at one
// level are combined with AND. RFC3339 strings become time.Time.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("filter: %w", err)
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []Filter
	for _, key := range keys {
		switch key {
		case "_and", "_or":
			var subs []Filter
			if err := json.Unmarshal(raw[key], &subs); err != nil {
				return fmt.Errorf("filter %s: %w", key, err)
			}
			if key == "_and" {
				parts = append(parts, Filter{And: subs})
			} else {
				parts = append(parts, Filter{Or: subs})
			}
		default:
			var conds map[string]json.RawMessage
			if err := json.Unmarshal(raw[key], &conds); err != nil {
				return fmt.Errorf("filter field %s: %w", key, err)
			}
			ops := make([]string, 0, len(conds))
			for op := range conds {
				ops = append(ops, op)
			}
			sort.Strings(ops)
			for _, op := range ops {
				leaf, err := parseLeaf(key, Op(op), conds[op])
				if err != nil {
					return err
				}
				parts = append(parts, leaf)
			}
		}
	}

	switch len(parts) {
	case 0:
		*f = Filter{}
	case 1:
		*f = parts[0]
	default:
		*f = Filter{And: parts}
	}
	return nil
}

func parseLeaf(field string, op Op, raw json.RawMessage) (Filter, error) {
	if _, ok := knownOps[op]; !ok {
		return Filter{}, fmt.Errorf("filter field %s: unsupported operator %q", field, op)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Filter{}, fmt.Errorf("filter field %s: %w", field, err)
	}
	v = fromJSON(v)

	switch op {
	case OpNull, OpNotNull:
		want, _ := v.(bool)
		if (op == OpNull) == want {
			return IsNull(field), nil
		}
		return NotNull(field), nil
	case OpIn:
		if _, ok := v.([]any); !ok {
			v = []any{v}
		}
	}
	return Filter{Field: field, Op: op, Value: v}, nil
}

func fromJSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case string:
		if t, err := time.Parse(time.RFC3339Nano, x); err == nil {
			return t
		}
		return x
	case []any:
		for i := range x {
			x[i] = fromJSON(x[i])
		}
		return x
	}
	return v
}

// Match evaluates f against rec.
func (f Filter) Match(rec Record) bool {
	switch {
	case len(f.And) > 0:
		for _, sub := range f.And {
			if !sub.Match(rec) {
				return false
			}
		}
		return true
	case len(f.Or) > 0:
		for _, sub := range f.Or {
			if sub.Match(rec) {
				return true
			}
		}
		return false
	case f.Field == "":
		return true
	}

	v := rec[f.Field]
	switch f.Op {
	case OpEq:
		return equal(v, f.Value)
	case OpNeq:
		return !equal(v, f.Value)
	case OpNull:
		return normalize(v) == nil
	case OpNotNull:
		return normalize(v) != nil
	case OpIn:
		for _, want := range toSlice(f.Value) {
			if equal(v, want) {
				return true
			}
		}
		return false
	}

	if normalize(v) == nil || normalize(f.Value) == nil {
		return false
	}
	c, ok := Compare(v, f.Value)
	if !ok {
		return false
	}
	switch f.Op {
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	}
	return false
}

// SQL renders f as a parameterised WHERE clause. An empty clause means no
// restriction.
func (f Filter) SQL() (string, []any, error) {
	switch {
	case len(f.And) > 0, len(f.Or) > 0:
		subs, joiner := f.And, " AND "
		if len(f.Or) > 0 {
			subs, joiner = f.Or, " OR "
		}
		clauses := make([]string, 0, len(subs))
		var args []any
		for _, sub := range subs {
			clause, subArgs, err := sub.SQL()
			if err != nil {
				return "", nil, err
			}
			if clause == "" {
				continue
			}
			clauses = append(clauses, clause)
			args = append(args, subArgs...)
		}
		if len(clauses) == 0 {
			return "", nil, nil
		}
		return "(" + strings.Join(clauses, joiner) + ")", args, nil
	case f.Field == "":
		return "", nil, nil
	}

	if !fieldPattern.MatchString(f.Field) {
		return "", nil, fmt.Errorf("%w: filter field name %q", ErrInvalidQuery, f.Field)
	}
	sqlOp, ok := knownOps[f.Op]
	if !ok {
		return "", nil, fmt.Errorf("%w: filter operator %q", ErrInvalidQuery, f.Op)
	}
	col := "`" + f.Field + "`"

	switch f.Op {
	case OpNull, OpNotNull:
		return col + " " + sqlOp, nil, nil
	case OpIn:
		values := toSlice(f.Value)
		if len(values) == 0 {
			return "1 = 0", nil, nil
		}
		return col + " IN ?", []any{values}, nil
	case OpEq:
		if f.Value == nil {
			return col + " IS NULL", nil, nil
		}
	case OpNeq:
		if f.Value == nil {
			return col + " IS NOT NULL", nil, nil
		}
	}
	return col + " " + sqlOp + " ?", []any{f.Value}, nil
}

func toSlice(v any) []any {
	if vs, ok := v.([]any); ok {
		return vs
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func equal(a, b any) bool {
	c, ok := Compare(a, b)
	return ok && c == 0
}

// Compare orders two record values. Numbers compare numerically, times
// (including RFC3339 strings) as instants, nil before everything else.
// ok is false for values of unrelated types.
func Compare(a, b any) (int, bool) {
	na, nb := normalize(a), normalize(b)
	switch {
	case na == nil && nb == nil:
		return 0, true
	case na == nil:
		return -1, true
	case nb == nil:
		return 1, true
	}

	switch x := na.(type) {
	case float64:
		y, ok := nb.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case time.Time:
		y, ok := nb.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	case string:
		y, ok := nb.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case bool:
		y, ok := nb.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case float64:
		return x
	case float32:
		return float64(x)
	case int, int32, int64, uint, uint32, uint64, json.Number:
		n, _ := ToInt64(x)
		if num, ok := x.(json.Number); ok {
			f, _ := num.Float64()
			return f
		}
		return float64(n)
	case time.Time:
		return x
	case string:
		if t, err := time.Parse(time.RFC3339Nano, x); err == nil {
			return t
		}
		return x
	case bool:
		return x
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		return normalize(rv.Elem().Interface())
	}
	return v
}
