package abac

import (
	"testing"
	"time"
)

func TestParseOperator(t *testing.T) {
	for _, op := range Operators() {
		got, ok := ParseOperator(op.String())
		if !ok || got != op {
			t.Fatalf("ParseOperator(%q) = %v,%v", op.String(), got, ok)
		}
	}
	if op, ok := ParseOperator("between"); ok || op != OpUnknown {
		t.Fatalf("expected unknown operator, got %v", op)
	}
	if op, ok := ParseOperator("unknown"); ok || op != OpUnknown {
		t.Fatalf("the unknown placeholder must not parse as a valid operator")
	}
	var op Operator
	if err := op.UnmarshalText([]byte("bogus")); err != nil || op != OpUnknown {
		t.Fatalf("UnmarshalText should map bogus names to OpUnknown without error")
	}
}

func TestApplyOperator(t *testing.T) {
	jan := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		op   Operator
		attr any
		want any
		ok   bool
	}{
		{"equals exact", OpEquals, "ADMIN", "ADMIN", true},
		{"equals normalized", OpEquals, " admin", "ADMIN", true},
		{"equals number and string", OpEquals, 5, "5", true},
		{"equals missing vs empty", OpEquals, nil, "", false},
		{"equals missing vs nil", OpEquals, nil, nil, false},
		{"equals different", OpEquals, "USER", "ADMIN", false},
		{"notEquals is not normalized", OpNotEquals, "admin", "ADMIN", true},
		{"notEquals same", OpNotEquals, "ADMIN", "ADMIN", false},
		{"notEquals string form", OpNotEquals, "5", 5, false},
		{"notEquals missing", OpNotEquals, nil, "APPROVED", true},
		{"in", OpIn, "AUDITOR", []any{"ADMIN", "AUDITOR"}, true},
		{"in is case sensitive", OpIn, "auditor", []any{"ADMIN", "AUDITOR"}, false},
		{"in coerces numbers", OpIn, 2, []any{"1", "2"}, true},
		{"in with non list", OpIn, "ADMIN", "ADMIN", false},
		{"in missing", OpIn, nil, []any{"ADMIN"}, false},
		{"notIn", OpNotIn, "USER", []string{"ADMIN"}, true},
		{"notIn member", OpNotIn, "ADMIN", []string{"ADMIN"}, false},
		{"notIn non list", OpNotIn, "ADMIN", "ADMIN", true},
		{"notIn missing", OpNotIn, nil, []any{"ADMIN"}, true},
		{"contains substring", OpContains, "hello world", "world", true},
		{"contains list", OpContains, []any{"a", "b"}, "b", true},
		{"contains list miss", OpContains, []any{"a", "b"}, "c", false},
		{"contains number", OpContains, 42, "4", false},
		{"notContains substring", OpNotContains, "hello", "xyz", true},
		{"notContains list", OpNotContains, []string{"a"}, "a", false},
		{"notContains number", OpNotContains, 42, "4", true},
		{"greaterThan numbers", OpGreaterThan, 10, 9, true},
		{"greaterThan string number", OpGreaterThan, "10", 9, true},
		{"greaterThan non numeric", OpGreaterThan, "abc", 1, false},
		{"greaterThan missing", OpGreaterThan, nil, 0, false},
		{"lessThan dates", OpLessThan, "2024-12-31", "2025-01-01", true},
		{"lessThan time vs string", OpLessThan, jan, "2025-06-01", true},
		{"greaterThanOrEqual equal", OpGreaterThanOrEqual, 3, 3.0, true},
		{"lessThanOrEqual", OpLessThanOrEqual, 2, "3", true},
		{"lessThanOrEqual missing", OpLessThanOrEqual, nil, 0, false},
		{"exists", OpExists, "", nil, true},
		{"exists missing", OpExists, nil, nil, false},
		{"notExists", OpNotExists, nil, nil, true},
		{"regex match", OpRegex, "abc123", `^abc\d+$`, true},
		{"regex miss", OpRegex, "xyz", `^abc`, false},
		{"regex invalid pattern", OpRegex, "abc", `([`, false},
		{"regex non string", OpRegex, 123, `\d+`, false},
		{"unknown operator", OpUnknown, "x", "x", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := applyOperator(c.op, c.attr, c.want, true); got != c.ok {
				t.Fatalf("%s(%#v, %#v) = %v want %v", c.op, c.attr, c.want, got, c.ok)
			}
		})
	}
}

func TestEvaluateRuleWithReference(t *testing.T) {
	subject := NewSubject("u1", map[string]any{"role": "USER"})
	own := NewResource("document", map[string]any{"createdBy": "u1"})
	other := NewResource("document", map[string]any{"createdBy": "U1"})
	rule := PolicyRule{Attribute: "user.id", Operator: OpEquals, Value: "resource.createdBy"}

	if !EvaluateRule(&rule, subject, own, nil) {
		t.Fatalf("expected reference equality to match")
	}
	// references are compared exactly
	if EvaluateRule(&rule, subject, other, nil) {
		t.Fatalf("expected case-different reference not to match")
	}
	// a missing referenced attribute never equals a present one
	if EvaluateRule(&rule, subject, NewResource("document", nil), nil) {
		t.Fatalf("expected missing reference not to match")
	}
	dept := PolicyRule{Attribute: "user.departmentId", Operator: OpEquals, Value: "resource.departmentId"}
	if EvaluateRule(&dept, NewSubject("u1", nil), NewResource("document", nil), nil) {
		t.Fatalf("expected two missing attributes not to be equal")
	}
}

func TestEvaluateRuleEnvironment(t *testing.T) {
	env := Environment{"time": "2025-05-01T10:00:00Z"}
	rule := PolicyRule{Attribute: "environment.time", Operator: OpGreaterThan, Value: "2025-01-01T00:00:00Z"}
	if !EvaluateRule(&rule, nil, nil, env) {
		t.Fatalf("expected environment time comparison to hold")
	}
}
