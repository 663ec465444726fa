package abac

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Operator is the comparison a rule applies. The set is closed; OpUnknown
// stands for any name outside it and never matches.
type Operator uint8

const (
	OpUnknown Operator = iota
	OpEquals
	OpNotEquals
	OpIn
	OpNotIn
	OpContains
	OpNotContains
	OpGreaterThan
	OpLessThan
	OpGreaterThanOrEqual
	OpLessThanOrEqual
	OpExists
	OpNotExists
	OpRegex
)

var operatorNames = [...]string{
	OpUnknown:            "unknown",
	OpEquals:             "equals",
	OpNotEquals:          "notEquals",
	OpIn:                 "in",
	OpNotIn:              "notIn",
	OpContains:           "contains",
	OpNotContains:        "notContains",
	OpGreaterThan:        "greaterThan",
	OpLessThan:           "lessThan",
	OpGreaterThanOrEqual: "greaterThanOrEqual",
	OpLessThanOrEqual:    "lessThanOrEqual",
	OpExists:             "exists",
	OpNotExists:          "notExists",
	OpRegex:              "regex",
}

// ParseOperator maps an operator name to its enum value.
func ParseOperator(s string) (Operator, bool) {
	for i, name := range operatorNames {
		if i != int(OpUnknown) && name == s {
			return Operator(i), true
		}
	}
	return OpUnknown, false
}

// Operators lists every known operator in declaration order.
func Operators() []Operator {
	out := make([]Operator, 0, len(operatorNames)-1)
	for i := range operatorNames {
		if i != int(OpUnknown) {
			out = append(out, Operator(i))
		}
	}
	return out
}

func (o Operator) String() string {
	if int(o) < len(operatorNames) {
		return operatorNames[o]
	}
	return fmt.Sprintf("operator(%d)", uint8(o))
}

func (o Operator) Valid() bool {
	return o != OpUnknown && int(o) < len(operatorNames)
}

func (o Operator) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText never fails: an unrecognized name decodes to OpUnknown so a
// bad rule evaluates to false instead of aborting a load. ValidateRule reports it.
func (o *Operator) UnmarshalText(b []byte) error {
	op, _ := ParseOperator(strings.TrimSpace(string(b)))
	*o = op
	return nil
}

func (o Operator) MarshalYAML() (any, error) {
	return o.String(), nil
}

func (o *Operator) UnmarshalYAML(node *yaml.Node) error {
	return o.UnmarshalText([]byte(node.Value))
}

// EvaluateRule applies one rule. The rule value is resolved as an attribute
// when it carries a namespace prefix such as "resource.".
func EvaluateRule(rule *PolicyRule, subject Subject, resource Resource, env Environment) bool {
	attrValue := ResolveAttribute(rule.Attribute, subject, resource, env)
	want := rule.Value
	literal := true
	if ref, ok := isAttributeReference(rule.Value); ok {
		want = ResolveAttribute(ref, subject, resource, env)
		literal = false
	}
	return applyOperator(rule.Operator, attrValue, want, literal)
}

func applyOperator(op Operator, attr, want any, literal bool) bool {
	switch op {
	case OpEquals:
		return opEquals(attr, want, literal)
	case OpNotEquals:
		return !looseIdentical(attr, want) && !stringIdentical(attr, want)
	case OpIn:
		list, ok := asList(want)
		if !ok {
			return false
		}
		return member(list, attr)
	case OpNotIn:
		list, ok := asList(want)
		if !ok {
			return true
		}
		return !member(list, attr)
	case OpContains:
		return opContains(attr, want, false)
	case OpNotContains:
		return opContains(attr, want, true)
	case OpGreaterThan:
		a, b := orderedOperands(attr, want)
		return a > b
	case OpLessThan:
		a, b := orderedOperands(attr, want)
		return a < b
	case OpGreaterThanOrEqual:
		a, b := orderedOperands(attr, want)
		return a >= b
	case OpLessThanOrEqual:
		a, b := orderedOperands(attr, want)
		return a <= b
	case OpExists:
		return attr != nil
	case OpNotExists:
		return attr == nil
	case OpRegex:
		return opRegex(attr, want)
	default:
		return false
	}
}

// opEquals accepts raw identity, string identity, and for literal rule values
// a trimmed case-insensitive match. Values resolved from an attribute
// reference must be identical. A missing attribute never equals anything,
// not even another missing value.
func opEquals(attr, want any, literal bool) bool {
	if attr == nil {
		return false
	}
	if looseIdentical(attr, want) || stringIdentical(attr, want) {
		return true
	}
	if !literal || attr == nil || want == nil {
		return false
	}
	return normalizeString(attr) == normalizeString(want)
}

func opContains(attr, want any, negate bool) bool {
	if as, ok := attr.(string); ok {
		if ws, ok := want.(string); ok {
			return strings.Contains(as, ws) != negate
		}
	}
	if list, ok := asList(attr); ok {
		return member(list, want) != negate
	}
	return negate
}

func opRegex(attr, want any) bool {
	s, ok := attr.(string)
	if !ok {
		return false
	}
	pattern, ok := want.(string)
	if !ok {
		return false
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}
