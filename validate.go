package abac

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ValidatePolicy reports every structural problem of p as one joined error.
// It is meant for write paths; evaluation never calls it.
func ValidatePolicy(p *Policy) error {
	if p == nil {
		return errors.New("policy is nil")
	}
	var errs []error
	if len(strings.TrimSpace(p.Name)) < 2 {
		errs = append(errs, fmt.Errorf("policy %q: name must be at least 2 characters", p.ID))
	}
	if !p.Effect.Is(EffectAllow) && !p.Effect.Is(EffectDeny) {
		errs = append(errs, fmt.Errorf("policy %q: effect must be ALLOW or DENY, got %q", p.ID, p.Effect))
	}
	if strings.TrimSpace(p.Action) == "" {
		errs = append(errs, fmt.Errorf("policy %q: action is required", p.ID))
	}
	if strings.TrimSpace(p.ResourceType) == "" {
		errs = append(errs, fmt.Errorf("policy %q: resourceType is required", p.ID))
	}
	if p.Priority < 0 {
		errs = append(errs, fmt.Errorf("policy %q: priority must be >= 0, got %d", p.ID, p.Priority))
	}
	for i := range p.Rules {
		if err := ValidateRule(&p.Rules[i]); err != nil {
			errs = append(errs, fmt.Errorf("policy %q rule %d: %w", p.ID, i, err))
		}
	}
	for i, a := range p.Assignments {
		if a.UserID == "" && a.RoleID == "" {
			errs = append(errs, fmt.Errorf("policy %q assignment %d: userId or roleId is required", p.ID, i))
		}
	}
	return errors.Join(errs...)
}

// ValidateRule checks a single rule.
func ValidateRule(r *PolicyRule) error {
	if r == nil {
		return errors.New("rule is nil")
	}
	var errs []error
	if strings.TrimSpace(r.Attribute) == "" {
		errs = append(errs, errors.New("attribute is required"))
	}
	if !r.Operator.Valid() {
		errs = append(errs, fmt.Errorf("unknown operator %q", r.Operator))
	}
	if !validLogical(r.LogicalOperator) {
		errs = append(errs, fmt.Errorf("logicalOperator must be AND or OR, got %q", r.LogicalOperator))
	}
	if !validLogical(r.GroupCombineOperator) {
		errs = append(errs, fmt.Errorf("groupCombineOperator must be AND or OR, got %q", r.GroupCombineOperator))
	}
	if r.Order < 0 {
		errs = append(errs, fmt.Errorf("order must be >= 0, got %d", r.Order))
	}
	if r.GroupIndex != nil && *r.GroupIndex < 0 {
		errs = append(errs, fmt.Errorf("groupIndex must be >= 0, got %d", *r.GroupIndex))
	}
	if !validRuleValue(r.Value) {
		errs = append(errs, fmt.Errorf("unsupported value type %T", r.Value))
	}
	return errors.Join(errs...)
}

func validLogical(o LogicalOperator) bool {
	return o == "" || strings.EqualFold(string(o), string(LogicalAnd)) || strings.EqualFold(string(o), string(LogicalOr))
}

func validRuleValue(v any) bool {
	switch v.(type) {
	case nil, string, time.Time:
		return true
	}
	if f, ok := numeric(v); ok {
		return finite(f)
	}
	list, ok := asList(v)
	if !ok {
		return false
	}
	for _, e := range list {
		if _, isStr := e.(string); isStr {
			continue
		}
		if f, isNum := numeric(e); !isNum || !finite(f) {
			return false
		}
	}
	return true
}

// finite rejects NaN and the infinities, which have no JSON form.
func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
