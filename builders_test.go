package abac_test

import (
	"testing"

	"github.com/oarkflow/abac"
)

func TestPolicyBuilderDefaults(t *testing.T) {
	p := abac.NewPolicyBuilder().ID("p1").Name("Read").Action("read").ResourceType("document").
		AssignUser("u1").
		Rule(abac.NewRule("user.role", abac.OpEquals, "ADMIN")).
		Rule(abac.NewRule("user.department", abac.OpEquals, "Ops").Or()).
		Rule(abac.NewRule("resource.status", abac.OpExists, nil).Order(10)).
		Rule(abac.NewRule("resource.id", abac.OpExists, nil)).
		Build()

	if !p.IsActive || p.Priority != abac.DefaultPriority || p.Effect != abac.EffectAllow {
		t.Fatalf("unexpected defaults: %+v", p)
	}
	wantOrders := []int{0, 1, 10, 11}
	for i, r := range p.Rules {
		if r.Order != wantOrders[i] {
			t.Fatalf("rule %d: order %d want %d", i, r.Order, wantOrders[i])
		}
	}
	if p.Rules[1].LogicalOperator != abac.LogicalOr {
		t.Fatalf("expected OR on second rule")
	}
	if len(p.Assignments) != 1 || p.Assignments[0].PolicyID != "p1" || p.Assignments[0].UserID != "u1" {
		t.Fatalf("unexpected assignments: %+v", p.Assignments)
	}
	if err := abac.ValidatePolicy(p); err != nil {
		t.Fatalf("built policy should validate: %v", err)
	}
}

func TestPolicyClone(t *testing.T) {
	p := complianceDeletePolicy()
	dup := p.Clone()
	*dup.Rules[0].GroupIndex = 99
	dup.Rules[1].Value = "changed"
	if *p.Rules[0].GroupIndex != 1 || p.Rules[1].Value != "resource.createdBy" {
		t.Fatalf("clone shares rule state with the original")
	}
}
