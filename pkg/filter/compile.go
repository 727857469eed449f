package filter

import (
	"regexp"
	"strings"
	"time"

	"github.com/mnemos/mnemos/pkg/errs"
)

// Options tune a single compilation.
type Options struct {
	// Now anchors time_window rewrites. Zero means time.Now().
	Now time.Time

	// AllowUnboundedRegex permits unbounded-width regexes on unindexed
	// fields. Off by default.
	AllowUnboundedRegex bool
}

// Compiled is the result of compiling a filter tree once per query. It
// carries both renderings of the same normalized tree: a parameterized
// WHERE clause for relational pushdown and an in-memory evaluator. Both
// produce bit-identical inclusion decisions.
type Compiled struct {
	tree    *Expr
	where   string
	args    []any
	eval    func(fields map[string]any) bool
	regexes map[string]*regexp.Regexp
}

// Where returns the parameterized clause and its bound arguments.
func (c *Compiled) Where() (string, []any) {
	if c == nil {
		return "", nil
	}
	return c.where, c.args
}

// Tree returns the normalized tree the compilation used.
func (c *Compiled) Tree() *Expr {
	if c == nil {
		return nil
	}
	return c.tree
}

// Eval evaluates the compiled predicate against an in-memory document. A
// nil Compiled matches everything.
func (c *Compiled) Eval(fields map[string]any) bool {
	if c == nil || c.eval == nil {
		return true
	}
	return c.eval(fields)
}

// Compile normalizes, type-checks, and renders the tree. A nil tree
// compiles to the match-everything predicate.
func Compile(e *Expr, reg *TypeRegistry, opts Options) (*Compiled, error) {
	if e == nil {
		return nil, nil
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC()
	}
	norm, err := normalize(e.Clone(), opts.Now)
	if err != nil {
		return nil, err
	}
	if norm == nil {
		return nil, nil
	}
	c := &Compiled{tree: norm, regexes: make(map[string]*regexp.Regexp)}
	if err := c.check(norm, reg, opts); err != nil {
		return nil, err
	}
	var sb strings.Builder
	if err := c.render(norm, &sb); err != nil {
		return nil, err
	}
	c.where = sb.String()
	c.eval = func(fields map[string]any) bool { return c.evalNode(norm, fields) }
	return c, nil
}

// normalize collapses single-child groups, flattens nested same-operator
// groups, and rewrites the BETWEEN and time_window sugars.
func normalize(e *Expr, now time.Time) (*Expr, error) {
	if e == nil {
		return nil, nil
	}
	if e.IsLeaf() {
		switch e.Op {
		case OpBetween:
			if e.Value.Kind != KindArray || len(e.Value.Arr) != 2 {
				return nil, errs.Newf(errs.KindFilterType, "filter.compile",
					"between on %q requires a [lo, hi] pair", e.Field)
			}
			lo, hi := e.Value.Arr[0], e.Value.Arr[1]
			return &Expr{Group: GroupAnd, Children: []*Expr{
				Gte(e.Field, lo),
				Lte(e.Field, hi),
			}}, nil
		case OpTimeWindow:
			if e.Value.Kind != KindDuration {
				return nil, errs.Newf(errs.KindFilterType, "filter.compile",
					"time_window on %q requires a duration", e.Field)
			}
			return Gte(e.Field, Time(now.Add(-e.Value.Dur))), nil
		}
		return e, nil
	}

	flat := make([]*Expr, 0, len(e.Children))
	for _, c := range e.Children {
		n, err := normalize(c, now)
		if err != nil {
			return nil, err
		}
		if n == nil {
			continue
		}
		// Flatten nested groups with the same operator.
		if !n.IsLeaf() && n.Group == e.Group && e.Group != GroupNot {
			flat = append(flat, n.Children...)
		} else {
			flat = append(flat, n)
		}
	}
	switch len(flat) {
	case 0:
		return nil, nil
	case 1:
		if e.Group != GroupNot {
			return flat[0], nil
		}
	}
	if e.Group == GroupNot && len(flat) != 1 {
		return nil, errs.New(errs.KindFilterType, "filter.compile", "NOT requires exactly one child")
	}
	return &Expr{Group: e.Group, Children: flat}, nil
}

// check validates leaf value kinds against the registry and pre-compiles
// regexes, refusing unbounded patterns on unindexed fields.
func (c *Compiled) check(e *Expr, reg *TypeRegistry, opts Options) error {
	if !e.IsLeaf() {
		for _, ch := range e.Children {
			if err := c.check(ch, reg, opts); err != nil {
				return err
			}
		}
		return nil
	}
	if e.Field == "" {
		return errs.New(errs.KindFilterType, "filter.compile", "leaf without a field path")
	}

	switch e.Op {
	case OpIsNull, OpIsNotNull:
		return nil
	case OpContains, OpStartsWith, OpEndsWith:
		if e.Value.Kind != KindString {
			return typeMismatch(e, KindString)
		}
		return nil
	case OpRegex:
		if e.Value.Kind != KindString {
			return typeMismatch(e, KindString)
		}
		pattern := e.Value.Str
		if !opts.AllowUnboundedRegex && !reg.Indexed(e.Field) && unboundedPattern(pattern) {
			return errs.Newf(errs.KindFilterType, "filter.compile",
				"unbounded regex %q refused on unindexed field %q", pattern, e.Field)
		}
		if !e.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return errs.Wrap(errs.KindFilterType, "filter.compile", err)
		}
		c.regexes[regexKey(e)] = re
		return nil
	case OpIn, OpNotIn, OpAnyOf, OpAllOf, OpNoneOf:
		if e.Value.Kind != KindArray {
			return typeMismatch(e, KindArray)
		}
		return c.checkScalarAgainst(e, reg, elementKind(e.Value))
	default:
		return c.checkScalarAgainst(e, reg, e.Value.Kind)
	}
}

// checkScalarAgainst compares the effective value kind against the field's
// registered type. Unknown fields are learned, not rejected: nested
// metadata keys are open-world.
func (c *Compiled) checkScalarAgainst(e *Expr, reg *TypeRegistry, got ValueKind) error {
	want, known := reg.KindOf(e.Field)
	if !known {
		reg.Learn(e.Field, got)
		return nil
	}
	if want == got {
		return nil
	}
	// Set operators compare element kinds against array fields.
	if want == KindArray && (e.Op == OpAnyOf || e.Op == OpAllOf || e.Op == OpNoneOf) {
		return nil
	}
	return errs.Newf(errs.KindFilterType, "filter.compile",
		"field %q is %s, got %s for %s", e.Field, want, got, e.Op)
}

func typeMismatch(e *Expr, want ValueKind) error {
	return errs.Newf(errs.KindFilterType, "filter.compile",
		"operator %s on %q requires a %s value, got %s", e.Op, e.Field, want, e.Value.Kind)
}

func elementKind(v Value) ValueKind {
	if len(v.Arr) == 0 {
		return KindString
	}
	return v.Arr[0].Kind
}

// unboundedPattern is a conservative width check: a pattern with an
// unbounded quantifier and no literal anchor can scan the whole field.
func unboundedPattern(p string) bool {
	if strings.HasPrefix(p, "^") && !strings.ContainsAny(p, "*+") {
		return false
	}
	return strings.Contains(p, ".*") || strings.Contains(p, ".+") ||
		strings.Contains(p, "){0,}") || strings.Contains(p, ",}")
}

func regexKey(e *Expr) string {
	if e.CaseSensitive {
		return e.Field + "\x00cs\x00" + e.Value.Str
	}
	return e.Field + "\x00ci\x00" + e.Value.Str
}
