package filter

import (
	"strings"
	"time"
)

// evalNode evaluates a normalized node against a document's field map.
func (c *Compiled) evalNode(e *Expr, fields map[string]any) bool {
	if !e.IsLeaf() {
		switch e.Group {
		case GroupNot:
			return !c.evalNode(e.Children[0], fields)
		case GroupOr:
			for _, ch := range e.Children {
				if c.evalNode(ch, fields) {
					return true
				}
			}
			return false
		default:
			for _, ch := range e.Children {
				if !c.evalNode(ch, fields) {
					return false
				}
			}
			return true
		}
	}

	val, present := resolvePath(fields, e.Field)

	switch e.Op {
	case OpIsNull:
		return !present || val == nil
	case OpIsNotNull:
		return present && val != nil
	}
	// A missing intermediate key makes every other leaf false.
	if !present || val == nil {
		return false
	}

	switch e.Op {
	case OpEq:
		return compare(val, e.Value) == 0
	case OpNeq:
		return comparable2(val, e.Value) && compare(val, e.Value) != 0
	case OpLt:
		return comparable2(val, e.Value) && compare(val, e.Value) < 0
	case OpLte:
		return comparable2(val, e.Value) && compare(val, e.Value) <= 0
	case OpGt:
		return comparable2(val, e.Value) && compare(val, e.Value) > 0
	case OpGte:
		return comparable2(val, e.Value) && compare(val, e.Value) >= 0
	case OpIn:
		for _, v := range e.Value.Arr {
			if compare(val, v) == 0 {
				return true
			}
		}
		return false
	case OpNotIn:
		for _, v := range e.Value.Arr {
			if compare(val, v) == 0 {
				return false
			}
		}
		return true
	case OpAnyOf:
		elems := arrayElems(val)
		for _, want := range e.Value.Arr {
			for _, have := range elems {
				if compare(have, want) == 0 {
					return true
				}
			}
		}
		return false
	case OpAllOf:
		elems := arrayElems(val)
		for _, want := range e.Value.Arr {
			found := false
			for _, have := range elems {
				if compare(have, want) == 0 {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	case OpNoneOf:
		elems := arrayElems(val)
		for _, want := range e.Value.Arr {
			for _, have := range elems {
				if compare(have, want) == 0 {
					return false
				}
			}
		}
		return true
	case OpContains:
		s, ok := val.(string)
		return ok && textMatch(s, e.Value.Str, e.CaseSensitive, strings.Contains)
	case OpStartsWith:
		s, ok := val.(string)
		return ok && textMatch(s, e.Value.Str, e.CaseSensitive, strings.HasPrefix)
	case OpEndsWith:
		s, ok := val.(string)
		return ok && textMatch(s, e.Value.Str, e.CaseSensitive, strings.HasSuffix)
	case OpRegex:
		s, ok := val.(string)
		if !ok {
			return false
		}
		re := c.regexes[regexKey(e)]
		return re != nil && re.MatchString(s)
	default:
		return false
	}
}

// resolvePath walks a dot path through nested maps. The boolean reports
// whether every intermediate key existed.
func resolvePath(fields map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = fields
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func textMatch(s, arg string, caseSensitive bool, fn func(string, string) bool) bool {
	if caseSensitive {
		return fn(s, arg)
	}
	return fn(strings.ToLower(s), strings.ToLower(arg))
}

// arrayElems widens the supported array shapes to []any.
func arrayElems(val any) []any {
	switch a := val.(type) {
	case []any:
		return a
	case []string:
		out := make([]any, len(a))
		for i, s := range a {
			out[i] = s
		}
		return out
	case []float64:
		out := make([]any, len(a))
		for i, f := range a {
			out[i] = f
		}
		return out
	default:
		return nil
	}
}

// compare orders a document value against a filter value. Returns 0 on
// equality, <0/>0 ordering for comparable kinds, and a nonzero sentinel for
// incomparable pairs (so Eq is false without panicking).
func compare(doc any, v Value) int {
	const incomparable = 2
	switch v.Kind {
	case KindString:
		s, ok := doc.(string)
		if !ok {
			return incomparable
		}
		return strings.Compare(s, v.Str)
	case KindNumber:
		f, ok := toFloat(doc)
		if !ok {
			return incomparable
		}
		switch {
		case f < v.Num:
			return -1
		case f > v.Num:
			return 1
		default:
			return 0
		}
	case KindBool:
		b, ok := doc.(bool)
		if !ok {
			return incomparable
		}
		if b == v.Bool {
			return 0
		}
		return 1
	case KindTime:
		t, ok := toTime(doc)
		if !ok {
			return incomparable
		}
		switch {
		case t.Before(v.Time):
			return -1
		case t.After(v.Time):
			return 1
		default:
			return 0
		}
	default:
		return incomparable
	}
}

// comparable2 reports whether the pair is orderable at all; NEQ and the
// ordering operators are false for incomparable pairs, mirroring SQL NULL
// semantics on type mismatch.
func comparable2(doc any, v Value) bool {
	switch v.Kind {
	case KindString:
		_, ok := doc.(string)
		return ok
	case KindNumber:
		_, ok := toFloat(doc)
		return ok
	case KindBool:
		_, ok := doc.(bool)
		return ok
	case KindTime:
		_, ok := toTime(doc)
		return ok
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}
