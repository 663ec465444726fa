package abac_test

import (
	"testing"

	"github.com/oarkflow/abac"
)

// complianceDeletePolicy grants delete to admins, to creators of DRAFT or
// REJECTED documents, and to auditors of documents that are not APPROVED.
func complianceDeletePolicy() *abac.Policy {
	return abac.NewPolicyBuilder().
		ID("delete-compliance").
		Name("Delete Compliance Documents").
		Action("delete:compliance-document").
		ResourceType("compliance-document").
		Rule(abac.NewRule("user.role", abac.OpEquals, "ADMIN").Group(1).Or()).
		Rule(abac.NewRule("user.id", abac.OpEquals, "resource.createdBy").Group(2)).
		Rule(abac.NewRule("resource.status", abac.OpIn, []any{"DRAFT", "REJECTED"}).Group(2).And().ThenOr()).
		Rule(abac.NewRule("user.role", abac.OpEquals, "AUDITOR").Group(3).And()).
		Rule(abac.NewRule("resource.status", abac.OpNotEquals, "APPROVED").Group(3).And()).
		Build()
}

func TestMatchPolicyGroupedRules(t *testing.T) {
	p := complianceDeletePolicy()
	doc := func(status, createdBy string) abac.Resource {
		return abac.NewResource("compliance-document", map[string]any{"id": "doc-1", "status": status, "createdBy": createdBy})
	}
	cases := []struct {
		name     string
		subject  abac.Subject
		resource abac.Resource
		want     bool
	}{
		{"admin any status", abac.NewSubject("a1", map[string]any{"role": "ADMIN"}), doc("APPROVED", "u1"), true},
		{"admin lower case", abac.NewSubject("a1", map[string]any{"role": "admin"}), doc("APPROVED", "u1"), true},
		{"creator draft", abac.NewSubject("u1", map[string]any{"role": "USER"}), doc("DRAFT", "u1"), true},
		{"creator rejected", abac.NewSubject("u1", map[string]any{"role": "USER"}), doc("REJECTED", "u1"), true},
		{"creator approved", abac.NewSubject("u1", map[string]any{"role": "USER"}), doc("APPROVED", "u1"), false},
		{"other user draft", abac.NewSubject("u2", map[string]any{"role": "USER"}), doc("DRAFT", "u1"), false},
		{"auditor pending", abac.NewSubject("x1", map[string]any{"role": "AUDITOR"}), doc("PENDING", "u1"), true},
		{"auditor approved", abac.NewSubject("x1", map[string]any{"role": "AUDITOR"}), doc("APPROVED", "u1"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			effect, ok := abac.MatchPolicy(p, c.subject, c.resource, "delete:compliance-document", nil)
			if ok != c.want {
				t.Fatalf("match = %v want %v", ok, c.want)
			}
			if ok && effect != abac.EffectAllow {
				t.Fatalf("expected ALLOW effect, got %q", effect)
			}
		})
	}
}

func TestMatchPolicyGates(t *testing.T) {
	p := abac.NewPolicyBuilder().ID("p").Name("read docs").Action("read").ResourceType("document").Build()
	subject := abac.NewSubject("u1", nil)
	doc := abac.NewResource("document", nil)

	if _, ok := abac.MatchPolicy(p, subject, doc, "read", nil); !ok {
		t.Fatalf("a policy without rules matches unconditionally")
	}
	if _, ok := abac.MatchPolicy(p, subject, abac.NewResource("user", nil), "read", nil); ok {
		t.Fatalf("resource type must match")
	}
	if _, ok := abac.MatchPolicy(p, subject, doc, "write", nil); ok {
		t.Fatalf("action must match")
	}
	p.IsActive = false
	if _, ok := abac.MatchPolicy(p, subject, doc, "read", nil); ok {
		t.Fatalf("inactive policies never match")
	}
	if _, ok := abac.MatchPolicy(nil, subject, doc, "read", nil); ok {
		t.Fatalf("nil policy never matches")
	}
}

func TestMatchPolicyFlatRules(t *testing.T) {
	// (role == ADMIN OR department == Quality) AND status == DRAFT
	p := abac.NewPolicyBuilder().ID("flat").Name("flat rules").Action("edit").ResourceType("document").
		Rule(abac.NewRule("user.role", abac.OpEquals, "ADMIN")).
		Rule(abac.NewRule("user.department", abac.OpEquals, "Quality").Or()).
		Rule(abac.NewRule("resource.status", abac.OpEquals, "DRAFT").And()).
		Build()
	cases := []struct {
		role, dept, status string
		want               bool
	}{
		{"ADMIN", "Ops", "DRAFT", true},
		{"USER", "Quality", "DRAFT", true},
		{"ADMIN", "Ops", "APPROVED", false},
		{"USER", "Ops", "DRAFT", false},
	}
	for _, c := range cases {
		s := abac.NewSubject("u", map[string]any{"role": c.role, "department": c.dept})
		r := abac.NewResource("document", map[string]any{"status": c.status})
		if _, ok := abac.MatchPolicy(p, s, r, "edit", nil); ok != c.want {
			t.Fatalf("%+v: match = %v want %v", c, ok, c.want)
		}
	}
}

func TestMatchPolicyUsesRuleOrderNotSliceOrder(t *testing.T) {
	// evaluated as false OR true => true; in slice order it would be true AND false => false
	p := &abac.Policy{
		ID: "ordered", Name: "ordered", Effect: abac.EffectAllow, Action: "read", ResourceType: "document", IsActive: true,
		Rules: []abac.PolicyRule{
			{Attribute: "user.role", Operator: abac.OpEquals, Value: "ADMIN", Order: 1, LogicalOperator: abac.LogicalOr},
			{Attribute: "user.role", Operator: abac.OpEquals, Value: "NOBODY", Order: 0},
		},
	}
	s := abac.NewSubject("u", map[string]any{"role": "ADMIN"})
	if _, ok := abac.MatchPolicy(p, s, abac.NewResource("document", nil), "read", nil); !ok {
		t.Fatalf("expected rules to be evaluated by order")
	}
}

// (A OR B) AND C over every combination of inputs.
func TestGroupedRulesTruthTable(t *testing.T) {
	p := abac.NewPolicyBuilder().ID("grouped").Name("grouped").Action("read").ResourceType("document").
		Rule(abac.NewRule("user.a", abac.OpEquals, "yes").Group(1)).
		Rule(abac.NewRule("user.b", abac.OpEquals, "yes").Group(1).Or().ThenAnd()).
		Rule(abac.NewRule("user.c", abac.OpEquals, "yes").Group(2)).
		Build()
	flag := func(v bool) string {
		if v {
			return "yes"
		}
		return "no"
	}
	for i := 0; i < 8; i++ {
		a, b, c := i&4 != 0, i&2 != 0, i&1 != 0
		subject := abac.NewSubject("u1", map[string]any{"a": flag(a), "b": flag(b), "c": flag(c)})
		_, got := abac.MatchPolicy(p, subject, abac.NewResource("document", nil), "read", nil)
		if want := (a || b) && c; got != want {
			t.Fatalf("A=%v B=%v C=%v: got %v want %v", a, b, c, got, want)
		}
	}
}
