package matcher

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrUnknownAttribute is returned when a rule names an attribute that
	// has no accessor.
	ErrUnknownAttribute = errors.New("matcher: unknown request attribute")
	// ErrInvalidRule is returned for malformed expectations.
	ErrInvalidRule = errors.New("matcher: invalid rule")
)

// Matcher decides whether a stack entry applies to a request.
type Matcher interface {
	Match(r *http.Request) bool
	String() string
}

// Func is a predicate matcher. A panic inside the function is not recovered.
type Func func(r *http.Request) bool

// Match calls f.
func (f Func) Match(r *http.Request) bool {
	return f(r)
}

// String returns an opaque marker; predicates cannot be described.
func (f Func) String() string {
	return "<predicate>"
}

// Matches reports whether m matches r. A nil matcher always matches.
func Matches(m Matcher, r *http.Request) bool {
	if m == nil {
		return true
	}
	return m.Match(r)
}

// Expectation is the right-hand side of a rule.
type Expectation interface {
	test(value string) bool
	describe(attr string) string
}

type equal string

func (e equal) test(value string) bool { return value == string(e) }

func (e equal) describe(attr string) string {
	return attr + " == " + strconv.Quote(string(e))
}

type oneOf []string

func (o oneOf) test(value string) bool {
	for _, v := range o {
		if v == value {
			return true
		}
	}
	return false
}

func (o oneOf) describe(attr string) string {
	quoted := make([]string, len(o))
	for i, v := range o {
		quoted[i] = strconv.Quote(v)
	}
	return attr + " in [" + strings.Join(quoted, ", ") + "]"
}

type pattern struct {
	re *regexp.Regexp
}

func (p pattern) test(value string) bool { return p.re.MatchString(value) }

func (p pattern) describe(attr string) string {
	return attr + " =~ /" + strings.ReplaceAll(p.re.String(), "/", `\/`) + "/"
}

// Equal expects the attribute to equal v exactly.
func Equal(v string) Expectation {
	return equal(v)
}

// OneOf expects the attribute to be one of values.
func OneOf(values ...string) Expectation {
	return oneOf(append([]string(nil), values...))
}

// Pattern expects the attribute to match the regular expression expr.
func Pattern(expr string) (Expectation, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: pattern %q: %v", ErrInvalidRule, expr, err)
	}
	return pattern{re: re}, nil
}

// MustPattern is like Pattern but panics on a bad expression.
func MustPattern(expr string) Expectation {
	p, err := Pattern(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// Rule pairs a request attribute with an expectation.
type Rule struct {
	attr   Attribute
	expect Expectation
}

// NewRule validates attr and builds a rule.
func NewRule(attr string, expect Expectation) (Rule, error) {
	if expect == nil {
		return Rule{}, fmt.Errorf("%w: %s has no expectation", ErrInvalidRule, attr)
	}
	a, err := ParseAttribute(attr)
	if err != nil {
		return Rule{}, err
	}
	return Rule{attr: a, expect: expect}, nil
}

// Attribute returns the attribute the rule reads.
func (r Rule) Attribute() Attribute {
	return r.attr
}

// Match reports whether the rule holds for req.
func (r Rule) Match(req *http.Request) bool {
	return r.expect.test(r.attr.Value(req))
}

func (r Rule) String() string {
	return r.expect.describe(r.attr.Name())
}

// Rules is a conjunction. The empty set matches every request.
type Rules []Rule

// Match reports whether every rule holds, stopping at the first failure.
func (rs Rules) Match(r *http.Request) bool {
	for _, rule := range rs {
		if !rule.Match(r) {
			return false
		}
	}
	return true
}

func (rs Rules) String() string {
	parts := make([]string, len(rs))
	for i, rule := range rs {
		parts[i] = rule.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// All builds a rule set from attribute/expectation pairs, in order.
func All(pairs ...any) (Rules, error) {
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("%w: odd number of arguments to All", ErrInvalidRule)
	}
	rules := make(Rules, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		attr, ok := pairs[i].(string)
		if !ok {
			return nil, fmt.Errorf("%w: attribute name must be a string, got %T", ErrInvalidRule, pairs[i])
		}
		expect, err := expectationOf(pairs[i+1])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", attr, err)
		}
		rule, err := NewRule(attr, expect)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// MustAll is like All but panics on error.
func MustAll(pairs ...any) Rules {
	rules, err := All(pairs...)
	if err != nil {
		panic(err)
	}
	return rules
}

// FromMap builds a rule set from a decoded config map. Rules are ordered by
// attribute name.
func FromMap(m map[string]any) (Rules, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, k, m[k])
	}
	return All(pairs...)
}

// expectationOf interprets a config or literal value:
// a string is equality, a list is membership, {pattern: re} is a pattern.
func expectationOf(v any) (Expectation, error) {
	switch val := v.(type) {
	case Expectation:
		return val, nil
	case *regexp.Regexp:
		if val == nil {
			return nil, fmt.Errorf("%w: nil pattern", ErrInvalidRule)
		}
		return pattern{re: val}, nil
	case string:
		return Equal(val), nil
	case []string:
		return OneOf(val...), nil
	case []any:
		values := make([]string, 0, len(val))
		for _, item := range val {
			s, err := scalar(item)
			if err != nil {
				return nil, err
			}
			values = append(values, s)
		}
		return OneOf(values...), nil
	case map[string]any:
		return expectationFromMap(val)
	case nil:
		return nil, fmt.Errorf("%w: missing value", ErrInvalidRule)
	default:
		s, err := scalar(val)
		if err != nil {
			return nil, err
		}
		return Equal(s), nil
	}
}

func expectationFromMap(m map[string]any) (Expectation, error) {
	if len(m) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one of pattern, equals, in", ErrInvalidRule)
	}
	var op string
	for op = range m {
	}
	v := m[op]

	switch op {
	case "pattern":
		expr, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: pattern must be a string", ErrInvalidRule)
		}
		return Pattern(expr)
	case "equals":
		s, err := scalar(v)
		if err != nil {
			return nil, err
		}
		return Equal(s), nil
	case "in":
		list, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: in must be a list", ErrInvalidRule)
		}
		return expectationOf(list)
	default:
		return nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidRule, op)
	}
}

func scalar(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case int, int64, float64, bool:
		return fmt.Sprint(val), nil
	default:
		return "", fmt.Errorf("%w: unsupported value of type %T", ErrInvalidRule, v)
	}
}
