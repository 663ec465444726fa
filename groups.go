package abac

import (
	"slices"
)

// RuleGroup is a contiguous run of rules evaluated as one boolean unit.
type RuleGroup []PolicyRule

// last returns the rule that carries the group's combine operator.
func (g RuleGroup) last() *PolicyRule {
	return &g[len(g)-1]
}

// SortRules returns a copy of rules ordered by Order. Equal orders keep their
// original relative position.
func SortRules(rules []PolicyRule) []PolicyRule {
	sorted := slices.Clone(rules)
	slices.SortStableFunc(sorted, func(a, b PolicyRule) int { return a.Order - b.Order })
	return sorted
}

// hasGroups reports whether any rule carries a group index.
func hasGroups(rules []PolicyRule) bool {
	for i := range rules {
		if rules[i].GroupIndex != nil {
			return true
		}
	}
	return false
}

// PartitionRules splits order-sorted rules into groups. A rule without a
// group index is a group of its own. Rules sharing an index form one group
// only while they are adjacent; an index that shows up again after a
// different one opens a new, separate group.
func PartitionRules(sorted []PolicyRule) []RuleGroup {
	groups := make([]RuleGroup, 0, len(sorted))
	var current RuleGroup
	var currentIndex *int

	flush := func() {
		if len(current) > 0 {
			groups = append(groups, current)
			current = nil
		}
	}

	for _, rule := range sorted {
		switch {
		case rule.GroupIndex == nil:
			flush()
			groups = append(groups, RuleGroup{rule})
			currentIndex = nil
		case currentIndex != nil && *rule.GroupIndex == *currentIndex:
			current = append(current, rule)
		default:
			flush()
			current = RuleGroup{rule}
			currentIndex = rule.GroupIndex
		}
	}
	flush()
	return groups
}

// Combine folds item results left to right. The operator joining item i to
// the accumulator comes from op(prev, cur). An empty list is true. Every item
// is evaluated; there is no short-circuit and no precedence.
func Combine[T any](items []T, eval func(T) bool, op func(prev, cur T) LogicalOperator) bool {
	if len(items) == 0 {
		return true
	}
	acc := eval(items[0])
	for i := 1; i < len(items); i++ {
		res := eval(items[i])
		if op(items[i-1], items[i]).IsAnd() {
			acc = acc && res
		} else {
			acc = acc || res
		}
	}
	return acc
}

// ruleOperator joins a rule with the previous rule of its group.
func ruleOperator(_, cur PolicyRule) LogicalOperator {
	return cur.LogicalOperator
}

// groupOperator joins a group with the previous group, taken from the
// previous group's last rule.
func groupOperator(prev, _ RuleGroup) LogicalOperator {
	return prev.last().combineOperator()
}
