package verdict

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// condition is a parsed rule expression: clauses joined by &&.
type condition struct {
	src     string
	clauses []clause
}

type clause struct {
	left  operand
	op    string
	right operand
}

type operand struct {
	name  string // empty for literals
	value float64
	abs   bool
}

// parseCondition parses "operand op operand [&& operand op operand ...]".
func parseCondition(src string) (condition, error) {
	c := condition{src: strings.TrimSpace(src)}
	if c.src == "" {
		return c, fmt.Errorf("verdict: empty condition")
	}
	for _, part := range strings.Split(c.src, "&&") {
		parts := strings.Fields(part)
		if len(parts) != 3 {
			return c, fmt.Errorf("verdict: condition %q: want \"operand op operand\", got %q", src, strings.TrimSpace(part))
		}
		if !validOp(parts[1]) {
			return c, fmt.Errorf("verdict: condition %q: unknown operator %q", src, parts[1])
		}
		left, err := parseOperand(parts[0])
		if err != nil {
			return c, fmt.Errorf("verdict: condition %q: %w", src, err)
		}
		right, err := parseOperand(parts[2])
		if err != nil {
			return c, fmt.Errorf("verdict: condition %q: %w", src, err)
		}
		c.clauses = append(c.clauses, clause{left: left, op: parts[1], right: right})
	}
	return c, nil
}

func parseOperand(s string) (operand, error) {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return operand{value: v}, nil
	}
	var o operand
	if strings.HasPrefix(s, "abs(") && strings.HasSuffix(s, ")") {
		o.abs = true
		s = s[len("abs(") : len(s)-1]
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return operand{value: math.Abs(v)}, nil
		}
	}
	if !validName(s) {
		return o, fmt.Errorf("invalid operand %q", s)
	}
	o.name = s
	return o, nil
}

// validName accepts identifiers made of letters, digits, '_', '.' and '-',
// starting with a letter or '_'.
func validName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case i > 0 && (r == '.' || r == '-' || (r >= '0' && r <= '9')):
		default:
			return false
		}
	}
	return true
}

func validOp(op string) bool {
	switch op {
	case ">", ">=", "<", "<=", "==", "!=":
		return true
	}
	return false
}

// eval reports whether every clause holds. Unresolvable names make it false.
func (c condition) eval(thresholds, values map[string]float64) bool {
	for _, cl := range c.clauses {
		l, ok := cl.left.resolve(thresholds, values)
		if !ok {
			return false
		}
		r, ok := cl.right.resolve(thresholds, values)
		if !ok {
			return false
		}
		if !compareFloat(l, cl.op, r) {
			return false
		}
	}
	return true
}

func (o operand) resolve(thresholds, values map[string]float64) (float64, bool) {
	v := o.value
	if o.name != "" {
		var ok bool
		if v, ok = thresholds[o.name]; !ok {
			if v, ok = values[o.name]; !ok {
				return 0, false
			}
		}
	}
	if math.IsNaN(v) {
		return 0, false
	}
	if o.abs {
		v = math.Abs(v)
	}
	return v, true
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
