package aggregate

import (
	"fmt"
	"strconv"
	"strings"
)

// Predicate decides whether a normalized outcome label counts toward the
// observable.
type Predicate func(label string) bool

// Equals matches labels identical to want. want is compared after the label
// has been normalized, so "1" on a 1-channel sweep matches "1" only.
func Equals(want string) Predicate {
	return func(label string) bool { return label == want }
}

// Boundary matches labels whose most significant character is first and whose
// least significant character is last, e.g. Boundary('1', '0') for a domain
// wall running from channel N-1 down to channel 0.
func Boundary(first, last byte) Predicate {
	return func(label string) bool {
		return len(label) > 0 && label[0] == first && label[len(label)-1] == last
	}
}

// BitSet matches labels whose character at pos (0 = most significant) equals value.
func BitSet(pos int, value byte) Predicate {
	return func(label string) bool {
		return pos >= 0 && pos < len(label) && label[pos] == value
	}
}

// All matches when every predicate matches. All() matches everything.
func All(preds ...Predicate) Predicate {
	return func(label string) bool {
		for _, p := range preds {
			if !p(label) {
				return false
			}
		}
		return true
	}
}

// ParsePredicate builds a Predicate from a config string. Terms are joined by
// '&' and each term is one of:
//
//	equals:<label>
//	boundary:<first>,<last>
//	bit:<pos>=<value>
func ParsePredicate(spec string) (Predicate, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("aggregate: empty predicate")
	}
	var preds []Predicate
	for _, term := range strings.Split(spec, "&") {
		kind, arg, ok := strings.Cut(strings.TrimSpace(term), ":")
		if !ok {
			return nil, fmt.Errorf("aggregate: predicate term %q: missing ':'", term)
		}
		switch kind {
		case "equals":
			if arg == "" {
				return nil, fmt.Errorf("aggregate: equals: empty label")
			}
			preds = append(preds, Equals(arg))
		case "boundary":
			first, last, ok := strings.Cut(arg, ",")
			if !ok || len(first) != 1 || len(last) != 1 {
				return nil, fmt.Errorf("aggregate: boundary %q: want <char>,<char>", arg)
			}
			preds = append(preds, Boundary(first[0], last[0]))
		case "bit":
			pos, val, ok := strings.Cut(arg, "=")
			if !ok || len(val) != 1 {
				return nil, fmt.Errorf("aggregate: bit %q: want <pos>=<char>", arg)
			}
			n, err := strconv.Atoi(pos)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("aggregate: bit %q: bad position", arg)
			}
			preds = append(preds, BitSet(n, val[0]))
		default:
			return nil, fmt.Errorf("aggregate: unknown predicate kind %q", kind)
		}
	}
	if len(preds) == 1 {
		return preds[0], nil
	}
	return All(preds...), nil
}
