package policy

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// MatchCondition evaluates a single condition against the context. A non-nil
// error is a diagnostic only: the condition counts as a non-match and the
// call proceeds (evaluation never fails a tool call). For OpRegex a
// precompiled pattern may be supplied; pass nil to compile on the fly.
func MatchCondition(c *EvalContext, cond Condition, re *regexp.Regexp) (bool, error) {
	v, ok := c.Resolve(cond.Field)
	if !ok {
		return false, nil
	}

	switch cond.Operator {
	case OpEquals:
		return DeepEqual(v, cond.Value), nil

	case OpContains, OpStartsWith, OpEndsWith:
		s, sok := v.(string)
		want, wok := cond.Value.(string)
		if !sok || !wok {
			return false, nil
		}
		switch cond.Operator {
		case OpContains:
			return strings.Contains(s, want), nil
		case OpStartsWith:
			return strings.HasPrefix(s, want), nil
		default:
			return strings.HasSuffix(s, want), nil
		}

	case OpRegex:
		s, sok := v.(string)
		if !sok {
			return false, nil
		}
		if re == nil {
			pat, pok := cond.Value.(string)
			if !pok {
				return false, fmt.Errorf("regex value must be a string, got %T", cond.Value)
			}
			var err error
			re, err = regexp.Compile(pat)
			if err != nil {
				return false, fmt.Errorf("compile regex %q: %w", pat, err)
			}
		}
		return re.MatchString(s), nil

	case OpIn:
		arr, aok := cond.Value.([]any)
		if !aok {
			return false, nil
		}
		for _, el := range arr {
			if DeepEqual(v, el) {
				return true, nil
			}
		}
		return false, nil

	case OpGT, OpLT, OpGTE, OpLTE:
		a, aok := ToFloat(v)
		b, bok := ToFloat(cond.Value)
		if !aok || !bok {
			return false, nil
		}
		switch cond.Operator {
		case OpGT:
			return a > b, nil
		case OpLT:
			return a < b, nil
		case OpGTE:
			return a >= b, nil
		default:
			return a <= b, nil
		}

	default:
		return false, fmt.Errorf("unknown operator %q", cond.Operator)
	}
}

// DeepEqual compares two JSON-shaped values: scalars by value, sequences
// elementwise, mappings keywise. Numbers compare numerically regardless of
// their Go representation, so an int 7 from a YAML policy equals a float64 7
// from a JSON caller. Strings never equal numbers.
func DeepEqual(a, b any) bool {
	if fa, ok := ToNumber(a); ok {
		fb, bok := ToNumber(b)
		return bok && fa == fb
	}
	if _, ok := ToNumber(b); ok {
		return false
	}

	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !DeepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !DeepEqual(v, bvv) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(a, b)
	}
}

// ToNumber returns the numeric value of v for any Go numeric representation,
// including json.Number. Strings and booleans are not numbers.
func ToNumber(v any) (float64, bool) {
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

// ToFloat coerces v for the numeric operators: numbers pass through and
// strings are parsed. Anything else, a parse failure, or NaN reports false.
func ToFloat(v any) (float64, bool) {
	if f, ok := ToNumber(v); ok {
		return f, !math.IsNaN(f)
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
