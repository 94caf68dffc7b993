// Operator registry for selectors.

package docdb

import (
	"math"
	"regexp"
	"strings"
)

// operatorBuilder compiles one value operator. sel is the whole operator
// object, for operators that read a sibling such as $options.
type operatorBuilder func(operand any, sel map[string]any) (valueMatcher, error)

type logicalBuilder func(operand any) (docMatcher, error)

var (
	valueOperators   map[string]operatorBuilder
	logicalOperators map[string]logicalBuilder
)

func init() {
	valueOperators = map[string]operatorBuilder{
		"$eq":            opEq,
		"$in":            opIn,
		"$all":           opAll,
		"$lt":            inequality(func(c int) bool { return c < 0 }),
		"$lte":           inequality(func(c int) bool { return c <= 0 }),
		"$gt":            inequality(func(c int) bool { return c > 0 }),
		"$gte":           inequality(func(c int) bool { return c >= 0 }),
		"$ne":            opNe,
		"$nin":           opNin,
		"$exists":        opExists,
		"$mod":           opMod,
		"$size":          opSize,
		"$type":          opType,
		"$regex":         opRegex,
		"$options":       func(any, map[string]any) (valueMatcher, error) { return matchAll, nil },
		"$elemMatch":     opElemMatch,
		"$not":           opNot,
		"$near":          func(any, map[string]any) (valueMatcher, error) { return matchAll, nil },
		"$geoIntersects": func(any, map[string]any) (valueMatcher, error) { return matchAll, nil },
	}
	logicalOperators = map[string]logicalBuilder{
		"$and":   logical("$and", func(ok bool) bool { return !ok }, false),
		"$or":    logical("$or", func(ok bool) bool { return ok }, true),
		"$nor":   logical("$nor", func(ok bool) bool { return ok }, false),
		"$where": opWhere,
	}
}

// logical builds $and/$or/$nor. Evaluation stops at the first sub-result
// for which stop returns true; the result is then stopResult, otherwise its
// negation.
func logical(name string, stop func(bool) bool, stopResult bool) logicalBuilder {
	return func(operand any) (docMatcher, error) {
		subs, ok := asArray(operand)
		if !ok || len(subs) == 0 {
			return nil, configErrorf("%s requires a non-empty array", name)
		}
		matchers := make([]docMatcher, len(subs))
		for i, s := range subs {
			m, err := compileSubSelector(s)
			if err != nil {
				return nil, err
			}
			matchers[i] = m
		}
		return func(v any) (bool, error) {
			for _, m := range matchers {
				ok, err := m(v)
				if err != nil {
					return false, err
				}
				if stop(ok) {
					return stopResult, nil
				}
			}
			return !stopResult, nil
		}, nil
	}
}

func opWhere(operand any) (docMatcher, error) {
	switch f := operand.(type) {
	case Predicate:
		return func(v any) (bool, error) { return f(asDocument(v)), nil }, nil
	case func(Document) bool:
		return func(v any) (bool, error) { return f(asDocument(v)), nil }, nil
	case Matcher:
		return func(v any) (bool, error) { return f(asDocument(v)) }, nil
	case func(Document) (bool, error):
		return func(v any) (bool, error) { return f(asDocument(v)) }, nil
	case string:
		return nil, configErrorf("$where expressions are not supported; pass a Predicate")
	}
	return nil, configErrorf("$where requires a Predicate, got %T", operand)
}

func opEq(operand any, _ map[string]any) (valueMatcher, error) {
	return compileValueSelector(operand)
}

func inSet(operand []any) func(x any) (bool, error) {
	return func(x any) (bool, error) {
		for _, o := range operand {
			if re, ok := o.(*regexp.Regexp); ok {
				if s, ok := x.(string); ok && re.MatchString(s) {
					return true, nil
				}
				continue
			}
			if DeepEqual(x, o) {
				return true, nil
			}
		}
		return false, nil
	}
}

func opIn(operand any, _ map[string]any) (valueMatcher, error) {
	set, ok := asArray(operand)
	if !ok {
		return nil, configErrorf("$in requires an array")
	}
	in := inSet(set)
	return func(v any) (bool, error) {
		return anyIfArrayPlus(v, in)
	}, nil
}

func opNin(operand any, _ map[string]any) (valueMatcher, error) {
	set, ok := asArray(operand)
	if !ok {
		return nil, configErrorf("$nin requires an array")
	}
	in := inSet(set)
	return func(v any) (bool, error) {
		if v == nil {
			return true, nil
		}
		ok, err := anyIfArrayPlus(v, in)
		return !ok, err
	}, nil
}

func opAll(operand any, _ map[string]any) (valueMatcher, error) {
	want, ok := asArray(operand)
	if !ok {
		return nil, configErrorf("$all requires an array")
	}
	return func(v any) (bool, error) {
		have, ok := asArray(v)
		if !ok {
			return false, nil
		}
		for _, w := range want {
			found := false
			for _, h := range have {
				if DeepEqual(w, h) {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		}
		return true, nil
	}, nil
}

// inequality compares each branch value against the operand with Compare, so
// values of another class match according to the class order.
func inequality(accept func(int) bool) operatorBuilder {
	return func(operand any, _ map[string]any) (valueMatcher, error) {
		return func(v any) (bool, error) {
			return anyIfArray(v, func(x any) (bool, error) {
				c, err := Compare(x, operand)
				if err != nil {
					return false, err
				}
				return accept(c), nil
			})
		}, nil
	}
}

func opNe(operand any, _ map[string]any) (valueMatcher, error) {
	eq := equalTo(operand)
	return func(v any) (bool, error) {
		ok, err := anyIfArrayPlus(v, eq)
		return !ok, err
	}, nil
}

func opExists(operand any, _ map[string]any) (valueMatcher, error) {
	want := isTruthy(operand)
	return func(v any) (bool, error) {
		return want == (v != nil), nil
	}, nil
}

func opMod(operand any, _ map[string]any) (valueMatcher, error) {
	args, ok := asArray(operand)
	if !ok || len(args) != 2 {
		return nil, configErrorf("$mod requires [divisor, remainder]")
	}
	div, ok1 := toFloat(args[0])
	rem, ok2 := toFloat(args[1])
	if !ok1 || !ok2 || div == 0 {
		return nil, configErrorf("$mod requires a non-zero numeric divisor and a numeric remainder")
	}
	return func(v any) (bool, error) {
		return anyIfArray(v, func(x any) (bool, error) {
			f, ok := toFloat(x)
			if !ok {
				return false, nil
			}
			return f-div*math.Floor(f/div) == rem, nil
		})
	}, nil
}

func opSize(operand any, _ map[string]any) (valueMatcher, error) {
	n, ok := toFloat(operand)
	if !ok {
		return nil, configErrorf("$size requires a number")
	}
	return func(v any) (bool, error) {
		a, ok := asArray(v)
		return ok && float64(len(a)) == n, nil
	}, nil
}

func opType(operand any, _ map[string]any) (valueMatcher, error) {
	code, ok := toFloat(operand)
	if !ok {
		return nil, configErrorf("$type requires a numeric type code")
	}
	return func(v any) (bool, error) {
		if v == nil {
			return false, nil
		}
		return anyIfArray(v, func(x any) (bool, error) {
			return float64(TypeOf(x).typeCode()) == code, nil
		})
	}, nil
}

func opRegex(operand any, sel map[string]any) (valueMatcher, error) {
	var opts any
	if sel != nil {
		opts = sel["$options"]
	}
	re, err := compileRegex(operand, opts)
	if err != nil {
		return nil, err
	}
	return regexMatcher(re), nil
}

// compileRegex accepts a pattern string or *regexp.Regexp and applies the
// i, m and s flags found in options.
func compileRegex(pattern, options any) (*regexp.Regexp, error) {
	var src string
	switch p := pattern.(type) {
	case string:
		src = p
	case *regexp.Regexp:
		if options == nil {
			return p, nil
		}
		src = p.String()
	default:
		return nil, configErrorf("$regex requires a string, got %T", pattern)
	}
	if options != nil {
		o, ok := options.(string)
		if !ok {
			return nil, configErrorf("$options must be a string")
		}
		flags := ""
		for _, r := range o {
			switch r {
			case 'i', 'm', 's':
				if !strings.ContainsRune(flags, r) {
					flags += string(r)
				}
			default:
				return nil, configErrorf("unsupported regex option %q", r)
			}
		}
		if flags != "" {
			src = "(?" + flags + ")" + src
		}
	}
	re, err := regexp.Compile(src)
	if err != nil {
		return nil, configErrorf("bad regex %q: %v", src, err)
	}
	return re, nil
}

func regexMatcher(re *regexp.Regexp) valueMatcher {
	return func(v any) (bool, error) {
		if v == nil {
			return false, nil
		}
		return anyIfArray(v, func(x any) (bool, error) {
			s, ok := x.(string)
			return ok && re.MatchString(s), nil
		})
	}
}

// opElemMatch matches arrays with at least one element satisfying the
// operand: a document selector, or a value-operator object applied to the
// element itself.
func opElemMatch(operand any, _ map[string]any) (valueMatcher, error) {
	m, ok := asMap(operand)
	if !ok {
		return nil, configErrorf("$elemMatch requires a mapping")
	}
	var match func(any) (bool, error)
	if isValueOperatorObject(m) {
		vm, err := compileOperators(m)
		if err != nil {
			return nil, err
		}
		match = vm
	} else {
		dm, err := compileDocumentSelector(m)
		if err != nil {
			return nil, err
		}
		match = dm
	}
	return func(v any) (bool, error) {
		a, ok := asArray(v)
		if !ok {
			return false, nil
		}
		for _, e := range a {
			ok, err := match(e)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	}, nil
}

func isValueOperatorObject(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if _, ok := valueOperators[k]; !ok {
			return false
		}
	}
	return true
}

func opNot(operand any, _ map[string]any) (valueMatcher, error) {
	vm, err := compileValueSelector(operand)
	if err != nil {
		return nil, err
	}
	return func(v any) (bool, error) {
		ok, err := vm(v)
		return !ok, err
	}, nil
}
