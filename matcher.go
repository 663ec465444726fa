package abac

import (
	"fmt"
	"strings"
)

// MatchPolicy evaluates one policy against a request. It returns the policy's
// effect and true when the policy applies and its rules hold; otherwise ok is
// false and the policy has no say in the decision.
func MatchPolicy(p *Policy, subject Subject, resource Resource, action string, env Environment) (Effect, bool) {
	return matchPolicy(p, subject, resource, action, env, nil)
}

// tracer collects explain lines; a nil tracer records nothing.
type tracer struct {
	lines []string
}

func newTracer() *tracer {
	return &tracer{lines: make([]string, 0, 16)}
}

func (t *tracer) addf(format string, args ...any) {
	if t == nil {
		return
	}
	t.lines = append(t.lines, fmt.Sprintf(format, args...))
}

func matchPolicy(p *Policy, subject Subject, resource Resource, action string, env Environment, tr *tracer) (Effect, bool) {
	if p == nil {
		return "", false
	}
	if p.ResourceType != resource.Type() {
		tr.addf("policy=%s resource_type_no_match want=%s got=%s", p.ID, p.ResourceType, resource.Type())
		return "", false
	}
	if p.Action != action {
		tr.addf("policy=%s action_no_match want=%s got=%s", p.ID, p.Action, action)
		return "", false
	}
	if !p.IsActive {
		tr.addf("policy=%s inactive", p.ID)
		return "", false
	}

	matched := evaluateRules(p, subject, resource, env, tr)
	tr.addf("policy=%s rules=%d result=%v effect=%s", p.ID, len(p.Rules), matched, p.Effect)
	if !matched {
		return "", false
	}
	return p.Effect, true
}

func evaluateRules(p *Policy, subject Subject, resource Resource, env Environment, tr *tracer) bool {
	if len(p.Rules) == 0 {
		return true
	}
	sorted := SortRules(p.Rules)

	evalRule := func(r PolicyRule) bool {
		ok := EvaluateRule(&r, subject, resource, env)
		tr.addf("  rule order=%d %s %s %v -> %v", r.Order, r.Attribute, r.Operator, r.Value, ok)
		return ok
	}

	if !hasGroups(sorted) {
		return Combine(sorted, evalRule, ruleOperator)
	}

	groups := PartitionRules(sorted)
	evalGroup := func(g RuleGroup) bool {
		ok := Combine(g, evalRule, ruleOperator)
		tr.addf("  group [%s] -> %v", groupLabel(g), ok)
		return ok
	}
	return Combine(groups, evalGroup, groupOperator)
}

func groupLabel(g RuleGroup) string {
	attrs := make([]string, len(g))
	for i := range g {
		attrs[i] = g[i].Attribute
	}
	return strings.Join(attrs, ", ")
}
