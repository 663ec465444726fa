package abac

import (
	"errors"
	"strings"
	"time"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// Attributes is an open-ended attribute record. Nested values may be maps.
type Attributes map[string]any

// Well-known attribute keys. Anything else is an extension attribute.
const (
	AttrID             = "id"
	AttrType           = "type"
	AttrEmail          = "email"
	AttrName           = "name"
	AttrRole           = "role"
	AttrRoleID         = "roleId"
	AttrDepartment     = "department"
	AttrDepartmentID   = "departmentId"
	AttrJobTitle       = "jobTitle"
	AttrJobTitleID     = "jobTitleId"
	AttrStatus         = "status"
	AttrCreatedBy      = "createdBy"
	AttrCategory       = "category"
	AttrCategoryID     = "categoryId"
	AttrExpirationDate = "expirationDate"
	AttrTime           = "time"
	AttrIP             = "ip"
)

// Subject describes who is requesting access
type Subject Attributes

// Resource describes what is being accessed. It must carry a "type".
type Resource Attributes

// Environment carries request context such as time or ip
type Environment Attributes

// NewSubject copies attrs and forces the stable identifier.
func NewSubject(id string, attrs map[string]any) Subject {
	s := make(Subject, len(attrs)+1)
	for k, v := range attrs {
		s[k] = v
	}
	s[AttrID] = id
	return s
}

func (s Subject) ID() string     { return attrString(s, AttrID) }
func (s Subject) Role() string   { return attrString(s, AttrRole) }
func (s Subject) RoleID() string { return attrString(s, AttrRoleID) }

// NewResource builds a resource record of the given type.
func NewResource(resourceType string, attrs map[string]any) Resource {
	r := make(Resource, len(attrs)+1)
	for k, v := range attrs {
		r[k] = v
	}
	r[AttrType] = resourceType
	return r
}

func (r Resource) Type() string { return attrString(r, AttrType) }
func (r Resource) ID() string   { return attrString(r, AttrID) }

func attrString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// Effect is the outcome a matching policy asserts
type Effect string

const (
	EffectAllow Effect = "ALLOW"
	EffectDeny  Effect = "DENY"
)

// Is compares effects case-insensitively; stored values are not always upper-case.
func (e Effect) Is(other Effect) bool {
	return strings.EqualFold(strings.TrimSpace(string(e)), string(other))
}

// LogicalOperator joins a rule (or group) with the previous one.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// IsAnd reports whether the operator folds with &&. Unset means AND;
// any other value folds with ||.
func (o LogicalOperator) IsAnd() bool {
	return o == "" || strings.EqualFold(string(o), string(LogicalAnd))
}

// PolicyRule is one attribute comparison within a policy
type PolicyRule struct {
	ID                   string          `json:"id,omitempty" yaml:"id,omitempty"`
	Attribute            string          `json:"attribute" yaml:"attribute"`
	Operator             Operator        `json:"operator" yaml:"operator"`
	Value                any             `json:"value,omitempty" yaml:"value,omitempty"`
	LogicalOperator      LogicalOperator `json:"logicalOperator,omitempty" yaml:"logicalOperator,omitempty"`
	Order                int             `json:"order" yaml:"order"`
	GroupIndex           *int            `json:"groupIndex,omitempty" yaml:"groupIndex,omitempty"`
	GroupCombineOperator LogicalOperator `json:"groupCombineOperator,omitempty" yaml:"groupCombineOperator,omitempty"`
}

// combineOperator is how the group ending with this rule joins the next group.
func (r *PolicyRule) combineOperator() LogicalOperator {
	if r.GroupCombineOperator != "" {
		return r.GroupCombineOperator
	}
	return r.LogicalOperator
}

// PolicyAssignment scopes a policy to a user or a role
type PolicyAssignment struct {
	ID       string `json:"id,omitempty" yaml:"id,omitempty"`
	PolicyID string `json:"policyId,omitempty" yaml:"policyId,omitempty"`
	UserID   string `json:"userId,omitempty" yaml:"userId,omitempty"`
	RoleID   string `json:"roleId,omitempty" yaml:"roleId,omitempty"`
}

// Policy is a named, prioritized rule set for one action on one resource type.
// Lower priority values are evaluated first.
type Policy struct {
	ID           string             `json:"id" yaml:"id"`
	Name         string             `json:"name" yaml:"name"`
	Description  string             `json:"description,omitempty" yaml:"description,omitempty"`
	Effect       Effect             `json:"effect" yaml:"effect"`
	Action       string             `json:"action" yaml:"action"`
	ResourceType string             `json:"resourceType" yaml:"resourceType"`
	Priority     int                `json:"priority" yaml:"priority"`
	IsActive     bool               `json:"isActive" yaml:"isActive"`
	Rules        []PolicyRule       `json:"rules,omitempty" yaml:"rules,omitempty"`
	Assignments  []PolicyAssignment `json:"assignments,omitempty" yaml:"assignments,omitempty"`
	CreatedAt    time.Time          `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
	UpdatedAt    time.Time          `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
}

// Clone returns a deep enough copy for stores to hand out safely.
func (p *Policy) Clone() *Policy {
	if p == nil {
		return nil
	}
	dup := *p
	dup.Rules = make([]PolicyRule, len(p.Rules))
	for i, r := range p.Rules {
		if r.GroupIndex != nil {
			g := *r.GroupIndex
			r.GroupIndex = &g
		}
		dup.Rules[i] = r
	}
	dup.Assignments = append([]PolicyAssignment(nil), p.Assignments...)
	return &dup
}

// Decision is the final verdict for one request. It is never persisted.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Effect    Effect    `json:"effect"`
	Reason    string    `json:"reason"`
	MatchedBy string    `json:"matched_by,omitempty"` // policy id
	Trace     []string  `json:"trace,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AccessRequest bundles the inputs of one decision
type AccessRequest struct {
	Subject     Subject     `json:"subject"`
	Resource    Resource    `json:"resource"`
	Action      string      `json:"action"`
	Environment Environment `json:"environment,omitempty"`
}

var (
	ErrResourceNotFound = errors.New("resource not found")
	ErrNoResourceLoader = errors.New("no resource loader configured")
	ErrPolicyNotFound   = errors.New("policy not found")
)

// IntPtr is a small helper for building grouped rules.
func IntPtr(v int) *int { return &v }
