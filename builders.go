package abac

// Builders provide a fluent API for creating Policies and their rules

// PolicyBuilder builds a Policy
type PolicyBuilder struct {
	p         *Policy
	nextOrder int
}

// NewPolicyBuilder starts an active ALLOW policy with the default priority of 100.
func NewPolicyBuilder() *PolicyBuilder {
	return &PolicyBuilder{p: &Policy{Effect: EffectAllow, Priority: DefaultPriority, IsActive: true, Rules: []PolicyRule{}}}
}

func (b *PolicyBuilder) ID(id string) *PolicyBuilder             { b.p.ID = id; return b }
func (b *PolicyBuilder) Name(n string) *PolicyBuilder            { b.p.Name = n; return b }
func (b *PolicyBuilder) Description(d string) *PolicyBuilder     { b.p.Description = d; return b }
func (b *PolicyBuilder) Effect(e Effect) *PolicyBuilder          { b.p.Effect = e; return b }
func (b *PolicyBuilder) Action(a string) *PolicyBuilder          { b.p.Action = a; return b }
func (b *PolicyBuilder) ResourceType(t string) *PolicyBuilder    { b.p.ResourceType = t; return b }
func (b *PolicyBuilder) Priority(p int) *PolicyBuilder           { b.p.Priority = p; return b }
func (b *PolicyBuilder) Active(active bool) *PolicyBuilder       { b.p.IsActive = active; return b }
func (b *PolicyBuilder) AssignUser(userID string) *PolicyBuilder { return b.assign(userID, "") }
func (b *PolicyBuilder) AssignRole(roleID string) *PolicyBuilder { return b.assign("", roleID) }

func (b *PolicyBuilder) assign(userID, roleID string) *PolicyBuilder {
	b.p.Assignments = append(b.p.Assignments, PolicyAssignment{PolicyID: b.p.ID, UserID: userID, RoleID: roleID})
	return b
}

// Rule appends a rule. A rule without an explicit order is placed after the
// previous one.
func (b *PolicyBuilder) Rule(r *RuleBuilder) *PolicyBuilder {
	rule := r.Build()
	if !r.ordered {
		rule.Order = b.nextOrder
	}
	b.nextOrder = rule.Order + 1
	b.p.Rules = append(b.p.Rules, rule)
	return b
}

// Build returns the policy. Assignments pick up the final policy id.
func (b *PolicyBuilder) Build() *Policy {
	for i := range b.p.Assignments {
		b.p.Assignments[i].PolicyID = b.p.ID
	}
	return b.p
}

// RuleBuilder builds a PolicyRule
type RuleBuilder struct {
	r       PolicyRule
	ordered bool
}

// NewRule starts a rule comparing attribute with op against value.
func NewRule(attribute string, op Operator, value any) *RuleBuilder {
	return &RuleBuilder{r: PolicyRule{Attribute: attribute, Operator: op, Value: value}}
}

func (b *RuleBuilder) ID(id string) *RuleBuilder  { b.r.ID = id; return b }
func (b *RuleBuilder) And() *RuleBuilder          { b.r.LogicalOperator = LogicalAnd; return b }
func (b *RuleBuilder) Or() *RuleBuilder           { b.r.LogicalOperator = LogicalOr; return b }
func (b *RuleBuilder) Group(idx int) *RuleBuilder { b.r.GroupIndex = IntPtr(idx); return b }
func (b *RuleBuilder) Order(o int) *RuleBuilder   { b.r.Order = o; b.ordered = true; return b }

// ThenOr and ThenAnd set how the group ending with this rule joins the next group.
func (b *RuleBuilder) ThenOr() *RuleBuilder  { b.r.GroupCombineOperator = LogicalOr; return b }
func (b *RuleBuilder) ThenAnd() *RuleBuilder { b.r.GroupCombineOperator = LogicalAnd; return b }

func (b *RuleBuilder) Build() PolicyRule { return b.r }
