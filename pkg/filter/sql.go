package filter

import (
	"fmt"
	"strings"
)

// render emits the parameterized WHERE clause for a normalized node.
// Placeholders are `?`; the store adapter rewrites them to its dialect.
func (c *Compiled) render(e *Expr, sb *strings.Builder) error {
	if !e.IsLeaf() {
		switch e.Group {
		case GroupNot:
			sb.WriteString("NOT (")
			if err := c.render(e.Children[0], sb); err != nil {
				return err
			}
			sb.WriteString(")")
			return nil
		default:
			sep := " AND "
			if e.Group == GroupOr {
				sep = " OR "
			}
			sb.WriteString("(")
			for i, ch := range e.Children {
				if i > 0 {
					sb.WriteString(sep)
				}
				if err := c.render(ch, sb); err != nil {
					return err
				}
			}
			sb.WriteString(")")
			return nil
		}
	}

	col := columnRef(e.Field)
	switch e.Op {
	case OpEq:
		c.emit(sb, col+" = ?", e.Value)
	case OpNeq:
		c.emit(sb, col+" <> ?", e.Value)
	case OpLt:
		c.emit(sb, col+" < ?", e.Value)
	case OpLte:
		c.emit(sb, col+" <= ?", e.Value)
	case OpGt:
		c.emit(sb, col+" > ?", e.Value)
	case OpGte:
		c.emit(sb, col+" >= ?", e.Value)
	case OpIn, OpNotIn:
		neg := ""
		if e.Op == OpNotIn {
			neg = "NOT "
		}
		ph := placeholders(len(e.Value.Arr))
		sb.WriteString(col + " " + neg + "IN (" + ph + ")")
		for _, v := range e.Value.Arr {
			c.args = append(c.args, v.Arg())
		}
	case OpAnyOf:
		c.emit(sb, col+" && ?", e.Value)
	case OpAllOf:
		c.emit(sb, col+" @> ?", e.Value)
	case OpNoneOf:
		c.emit(sb, "NOT ("+col+" && ?)", e.Value)
	case OpContains:
		c.emitText(sb, col, "LIKE", "%"+escapeLike(e.Value.Str)+"%", e.CaseSensitive)
	case OpStartsWith:
		c.emitText(sb, col, "LIKE", escapeLike(e.Value.Str)+"%", e.CaseSensitive)
	case OpEndsWith:
		c.emitText(sb, col, "LIKE", "%"+escapeLike(e.Value.Str), e.CaseSensitive)
	case OpRegex:
		op := "~*"
		if e.CaseSensitive {
			op = "~"
		}
		c.emit(sb, col+" "+op+" ?", e.Value)
	case OpIsNull:
		sb.WriteString(col + " IS NULL")
	case OpIsNotNull:
		sb.WriteString(col + " IS NOT NULL")
	default:
		return fmt.Errorf("filter: unrenderable operator %s", e.Op)
	}
	return nil
}

func (c *Compiled) emit(sb *strings.Builder, clause string, v Value) {
	sb.WriteString(clause)
	c.args = append(c.args, v.Arg())
}

func (c *Compiled) emitText(sb *strings.Builder, col, op, arg string, caseSensitive bool) {
	if caseSensitive {
		sb.WriteString(col + " " + op + " ?")
	} else {
		sb.WriteString("LOWER(" + col + ") " + op + " LOWER(?)")
	}
	c.args = append(c.args, arg)
}

// columnRef maps a dot path onto a column or a JSON path expression over
// the metadata column.
func columnRef(field string) string {
	parts := strings.Split(field, ".")
	if len(parts) == 1 {
		return quoteIdent(parts[0])
	}
	var sb strings.Builder
	sb.WriteString(quoteIdent(parts[0]))
	for i, p := range parts[1:] {
		if i == len(parts)-2 {
			sb.WriteString("->>")
		} else {
			sb.WriteString("->")
		}
		sb.WriteString("'" + strings.ReplaceAll(p, "'", "''") + "'")
	}
	return sb.String()
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func placeholders(n int) string {
	if n == 0 {
		return "NULL"
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}
