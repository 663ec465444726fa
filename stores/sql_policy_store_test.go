package stores

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/oarkflow/abac"
	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"
)

func setupTestDB(t *testing.T) *squealx.DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	db := squealx.NewDb(sqlDB, "sqlite", "testdb")
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := MigrateResources(db); err != nil {
		t.Fatalf("migrate resources: %v", err)
	}
	return db
}

func TestSQLPolicyStore(t *testing.T) {
	exercisePolicyStore(t, NewSQLPolicyStore(setupTestDB(t)))
}

func TestSQLPolicyStoreRoundTripsRules(t *testing.T) {
	ctx := context.Background()
	store := NewSQLPolicyStore(setupTestDB(t))

	p := abac.NewPolicyBuilder().
		ID("delete-compliance").
		Name("Compliance delete").
		Effect(abac.EffectDeny).
		Action("delete:compliance-document").
		ResourceType("compliance-document").
		Priority(5).
		AssignRole("role-officer").
		Rule(abac.NewRule("resource.status", abac.OpEquals, "APPROVED").Group(0)).
		Rule(abac.NewRule("resource.department", abac.OpEquals, "user.department").Group(0).ThenOr()).
		Rule(abac.NewRule("resource.expirationDate", abac.OpLessThan, "environment.time").Group(1).ThenOr()).
		Rule(abac.NewRule("user.level", abac.OpGreaterThanOrEqual, 3).Or()).
		Build()
	if err := store.CreatePolicy(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.GetPolicy(ctx, "delete-compliance")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Effect != abac.EffectDeny || got.Priority != 5 || !got.IsActive {
		t.Fatalf("unexpected policy header %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Fatalf("created_at should be stored")
	}
	if len(got.Rules) != 4 {
		t.Fatalf("expected 4 rules, got %d", len(got.Rules))
	}
	for i, r := range got.Rules {
		if r.Order != p.Rules[i].Order || r.Attribute != p.Rules[i].Attribute || r.Operator != p.Rules[i].Operator {
			t.Fatalf("rule %d mismatch: %+v vs %+v", i, r, p.Rules[i])
		}
	}
	if g := got.Rules[1].GroupIndex; g == nil || *g != 0 {
		t.Fatalf("rule 1 group index lost: %v", g)
	}
	if got.Rules[1].GroupCombineOperator != abac.LogicalOr {
		t.Fatalf("group combine operator lost: %q", got.Rules[1].GroupCombineOperator)
	}
	if got.Rules[3].GroupIndex != nil {
		t.Fatalf("ungrouped rule gained a group index")
	}
	if got.Rules[3].LogicalOperator != abac.LogicalOr {
		t.Fatalf("logical operator lost: %q", got.Rules[3].LogicalOperator)
	}
	// numbers come back as JSON numbers
	if v, ok := got.Rules[3].Value.(float64); !ok || v != 3 {
		t.Fatalf("numeric value = %#v", got.Rules[3].Value)
	}
	if len(got.Assignments) != 1 || got.Assignments[0].RoleID != "role-officer" || got.Assignments[0].UserID != "" {
		t.Fatalf("assignments = %+v", got.Assignments)
	}

	// the stored policy still decides the same way
	subject := abac.NewSubject("u1", map[string]any{"department": "Legal", "level": 1})
	resource := abac.NewResource("compliance-document", map[string]any{
		"status":         "approved",
		"department":     "Legal",
		"expirationDate": time.Now().Add(-time.Hour),
	})
	env := abac.Environment{"time": time.Now()}
	if effect, ok := abac.MatchPolicy(got, subject, resource, "delete:compliance-document", env); !ok || effect != abac.EffectDeny {
		t.Fatalf("stored policy should match, got %v %v", effect, ok)
	}
}

func TestSQLPolicyStoreSkipsInactive(t *testing.T) {
	ctx := context.Background()
	store := NewSQLPolicyStore(setupTestDB(t))
	p := samplePolicy("off", 1)
	p.IsActive = false
	if err := store.CreatePolicy(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}
	list, err := store.ListPolicies(ctx, abac.PolicyQuery{ResourceType: "document", Action: "read"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("inactive policy listed: %v", ids(list))
	}
	got, err := store.GetPolicy(ctx, "off")
	if err != nil {
		t.Fatalf("get inactive: %v", err)
	}
	if got.IsActive {
		t.Fatalf("is_active not stored")
	}
}

func adminOnly(id string) *abac.Policy {
	return abac.NewPolicyBuilder().ID(id).Name("admins " + id).Action("read").ResourceType("document").
		Rule(abac.NewRule("user.role", abac.OpEquals, "ADMIN")).Build()
}

func guestAllowed(t *testing.T, store abac.PolicyStore, id string) bool {
	t.Helper()
	got, err := store.GetPolicy(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	guest := abac.NewSubject("guest", map[string]any{"role": "GUEST"})
	_, ok := abac.MatchPolicy(got, guest, abac.NewResource("document", nil), "read", nil)
	return ok
}

func TestSQLPolicyStoreRejectsNonFiniteValues(t *testing.T) {
	ctx := context.Background()
	store := NewSQLPolicyStore(setupTestDB(t))
	if err := store.CreatePolicy(ctx, adminOnly("p")); err != nil {
		t.Fatalf("create: %v", err)
	}
	bad := adminOnly("p")
	bad.Rules[0].Value = math.NaN()
	if err := store.UpdatePolicy(ctx, bad); err == nil {
		t.Fatalf("expected NaN value to be rejected")
	}
	if guestAllowed(t, store, "p") {
		t.Fatalf("failed update must keep the stored rules")
	}
	if err := store.CreatePolicy(ctx, &abac.Policy{ID: "q", Name: "inf", Effect: abac.EffectAllow, Action: "read", ResourceType: "document",
		Rules: []abac.PolicyRule{{Attribute: "user.level", Operator: abac.OpIn, Value: []any{1, math.Inf(1)}}}}); err == nil {
		t.Fatalf("expected Inf in a list to be rejected")
	}
	if _, err := store.GetPolicy(ctx, "q"); !errors.Is(err, abac.ErrPolicyNotFound) {
		t.Fatalf("rejected policy must not be stored, got %v", err)
	}
}

func TestSQLPolicyStoreWritesAreAtomic(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	store := NewSQLPolicyStore(db)
	if err := store.CreatePolicy(ctx, adminOnly("p")); err != nil {
		t.Fatalf("create: %v", err)
	}

	// the rules delete succeeds, then the assignments statement fails
	if _, err := db.ExecContext(ctx, `DROP TABLE policy_assignments`); err != nil {
		t.Fatalf("drop: %v", err)
	}
	unrestricted := samplePolicy("p", 1)
	if err := store.UpdatePolicy(ctx, unrestricted); err == nil {
		t.Fatalf("expected update to fail")
	}
	withAssignment := adminOnly("r")
	withAssignment.Assignments = []abac.PolicyAssignment{{ID: "a1", UserID: "u1"}}
	if err := store.CreatePolicy(ctx, withAssignment); err == nil {
		t.Fatalf("expected create to fail")
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if guestAllowed(t, store, "p") {
		t.Fatalf("rolled back update must keep the stored rules")
	}
	if _, err := store.GetPolicy(ctx, "r"); !errors.Is(err, abac.ErrPolicyNotFound) {
		t.Fatalf("rolled back create left a policy row: %v", err)
	}
	if err := store.UpdatePolicy(ctx, adminOnly("missing")); !errors.Is(err, abac.ErrPolicyNotFound) {
		t.Fatalf("expected ErrPolicyNotFound, got %v", err)
	}
}
