package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oarkflow/abac"
	"github.com/oarkflow/squealx"
)

// SQLPolicyStore persists policies, their rules and assignments in SQL (squealx)
type SQLPolicyStore struct {
	db  *squealx.DB
	now func() time.Time
}

func NewSQLPolicyStore(db *squealx.DB) *SQLPolicyStore {
	return &SQLPolicyStore{db: db, now: time.Now}
}

func (s *SQLPolicyStore) CreatePolicy(ctx context.Context, p *abac.Policy) error {
	if err := abac.ValidatePolicy(p); err != nil {
		return err
	}
	rules, err := encodeRules(p)
	if err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	return s.inTx(ctx, func(tx *squealx.Tx) error {
		q := `INSERT INTO policies(id, name, description, effect, action, resource_type, priority, is_active, created_at, updated_at) VALUES(:id, :name, :description, :effect, :action, :resource_type, :priority, :is_active, :created_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, q, policyParams(p)); err != nil {
			return fmt.Errorf("insert policy %s: %w", p.ID, err)
		}
		return insertChildren(ctx, tx, p, rules)
	})
}

// UpdatePolicy replaces the policy row, its rules and its assignments in one
// transaction. A failure leaves the stored policy untouched.
func (s *SQLPolicyStore) UpdatePolicy(ctx context.Context, p *abac.Policy) error {
	if err := abac.ValidatePolicy(p); err != nil {
		return err
	}
	rules, err := encodeRules(p)
	if err != nil {
		return err
	}
	updatedAt := s.now()
	err = s.inTx(ctx, func(tx *squealx.Tx) error {
		params := policyParams(p)
		params["updated_at"] = sqlTimeOrNil(updatedAt)
		q := `UPDATE policies SET name=:name, description=:description, effect=:effect, action=:action, resource_type=:resource_type, priority=:priority, is_active=:is_active, updated_at=:updated_at WHERE id=:id`
		res, err := tx.NamedExecContext(ctx, q, params)
		if err != nil {
			return fmt.Errorf("update policy %s: %w", p.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("%w: %s", abac.ErrPolicyNotFound, p.ID)
		}
		if err := deleteChildren(ctx, tx, p.ID); err != nil {
			return err
		}
		return insertChildren(ctx, tx, p, rules)
	})
	if err != nil {
		return err
	}
	p.UpdatedAt = updatedAt
	return nil
}

func (s *SQLPolicyStore) DeletePolicy(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *squealx.Tx) error {
		if err := deleteChildren(ctx, tx, id); err != nil {
			return err
		}
		_, err := tx.NamedExecContext(ctx, `DELETE FROM policies WHERE id = :id`, map[string]any{"id": id})
		return err
	})
}

// inTx commits when fn succeeds and rolls back otherwise.
func (s *SQLPolicyStore) inTx(ctx context.Context, fn func(tx *squealx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin policy tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLPolicyStore) GetPolicy(ctx context.Context, id string) (*abac.Policy, error) {
	q := `SELECT id, name, description, effect, action, resource_type, priority, is_active, created_at, updated_at FROM policies WHERE id = :id`
	policies, err := s.queryPolicies(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(policies) == 0 {
		return nil, fmt.Errorf("%w: %s", abac.ErrPolicyNotFound, id)
	}
	return policies[0], nil
}

// ListPolicies filters on type, action and activity in SQL. When the query
// names a subject, assignment filtering is done with EXISTS / NOT EXISTS.
// Equal priorities come back in insertion order.
func (s *SQLPolicyStore) ListPolicies(ctx context.Context, q abac.PolicyQuery) ([]*abac.Policy, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT p.id, p.name, p.description, p.effect, p.action, p.resource_type, p.priority, p.is_active, p.created_at, p.updated_at FROM policies p WHERE p.resource_type = :resource_type AND p.action = :action AND p.is_active = 1`)
	args := map[string]any{"resource_type": q.ResourceType, "action": q.Action}

	if q.SubjectID != "" || q.SubjectRoleID != "" {
		var match []string
		if q.SubjectID != "" {
			match = append(match, `a.user_id = :user_id`)
			args["user_id"] = q.SubjectID
		}
		if q.SubjectRoleID != "" {
			match = append(match, `a.role_id = :role_id`)
			args["role_id"] = q.SubjectRoleID
		}
		sb.WriteString(` AND (EXISTS (SELECT 1 FROM policy_assignments a WHERE a.policy_id = p.id AND (`)
		sb.WriteString(strings.Join(match, " OR "))
		sb.WriteString(`))`)
		if q.IncludeUnassigned {
			sb.WriteString(` OR NOT EXISTS (SELECT 1 FROM policy_assignments a WHERE a.policy_id = p.id)`)
		}
		sb.WriteString(`)`)
	}
	sb.WriteString(` ORDER BY p.priority ASC, p.rowid ASC`)
	return s.queryPolicies(ctx, sb.String(), args)
}

// queryPolicies reads the policy rows first and closes the cursor before
// loading rules and assignments.
func (s *SQLPolicyStore) queryPolicies(ctx context.Context, q string, args map[string]any) ([]*abac.Policy, error) {
	r, err := s.db.NamedQueryContext(ctx, q, args)
	if err != nil {
		return nil, err
	}
	out := make([]*abac.Policy, 0)
	for r.Next() {
		var (
			p                     abac.Policy
			effect                string
			isActive              int
			createdRaw, updateRaw any
		)
		if err := r.Scan(&p.ID, &p.Name, &p.Description, &effect, &p.Action, &p.ResourceType, &p.Priority, &isActive, &createdRaw, &updateRaw); err != nil {
			r.Close()
			return nil, err
		}
		p.Effect = abac.Effect(effect)
		p.IsActive = isActive != 0
		p.CreatedAt = scanTime(createdRaw)
		p.UpdatedAt = scanTime(updateRaw)
		out = append(out, &p)
	}
	if err := r.Err(); err != nil {
		r.Close()
		return nil, err
	}
	r.Close()
	for _, p := range out {
		if p.Rules, err = s.loadRules(ctx, p.ID); err != nil {
			return nil, err
		}
		if p.Assignments, err = s.loadAssignments(ctx, p.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLPolicyStore) loadRules(ctx context.Context, policyID string) ([]abac.PolicyRule, error) {
	q := `SELECT rule_id, attribute, operator, value_json, logical_operator, rule_order, group_index, group_combine_operator FROM policy_rules WHERE policy_id = :policy_id ORDER BY rule_order ASC, seq ASC`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"policy_id": policyID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	rules := make([]abac.PolicyRule, 0)
	for r.Next() {
		var (
			rule             abac.PolicyRule
			operator         string
			valueJSON        sql.NullString
			logical, combine string
			groupIndex       sql.NullInt64
		)
		if err := r.Scan(&rule.ID, &rule.Attribute, &operator, &valueJSON, &logical, &rule.Order, &groupIndex, &combine); err != nil {
			return nil, err
		}
		rule.Operator, _ = abac.ParseOperator(operator)
		rule.LogicalOperator = abac.LogicalOperator(logical)
		rule.GroupCombineOperator = abac.LogicalOperator(combine)
		if groupIndex.Valid {
			rule.GroupIndex = abac.IntPtr(int(groupIndex.Int64))
		}
		if valueJSON.Valid && valueJSON.String != "" {
			if err := json.Unmarshal([]byte(valueJSON.String), &rule.Value); err != nil {
				return nil, fmt.Errorf("decode rule value of policy %s: %w", policyID, err)
			}
		}
		rules = append(rules, rule)
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("read rules of policy %s: %w", policyID, err)
	}
	return rules, nil
}

func (s *SQLPolicyStore) loadAssignments(ctx context.Context, policyID string) ([]abac.PolicyAssignment, error) {
	q := `SELECT assignment_id, user_id, role_id FROM policy_assignments WHERE policy_id = :policy_id ORDER BY seq ASC`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"policy_id": policyID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var out []abac.PolicyAssignment
	for r.Next() {
		var id string
		var userID, roleID sql.NullString
		if err := r.Scan(&id, &userID, &roleID); err != nil {
			return nil, err
		}
		out = append(out, abac.PolicyAssignment{ID: id, PolicyID: policyID, UserID: userID.String, RoleID: roleID.String})
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("read assignments of policy %s: %w", policyID, err)
	}
	return out, nil
}

// encodeRules builds the policy_rules rows up front so that a value that
// cannot be encoded fails before anything is written.
func encodeRules(p *abac.Policy) ([]map[string]any, error) {
	rows := make([]map[string]any, 0, len(p.Rules))
	for _, rule := range p.Rules {
		var valueJSON any
		if rule.Value != nil {
			b, err := json.Marshal(rule.Value)
			if err != nil {
				return nil, fmt.Errorf("encode rule value of policy %s: %w", p.ID, err)
			}
			valueJSON = string(b)
		}
		var groupIndex any
		if rule.GroupIndex != nil {
			groupIndex = *rule.GroupIndex
		}
		rows = append(rows, map[string]any{
			"rule_id":                rule.ID,
			"policy_id":              p.ID,
			"attribute":              rule.Attribute,
			"operator":               rule.Operator.String(),
			"value_json":             valueJSON,
			"logical_operator":       string(rule.LogicalOperator),
			"rule_order":             rule.Order,
			"group_index":            groupIndex,
			"group_combine_operator": string(rule.GroupCombineOperator),
		})
	}
	return rows, nil
}

func insertChildren(ctx context.Context, tx *squealx.Tx, p *abac.Policy, rules []map[string]any) error {
	ruleQ := `INSERT INTO policy_rules(rule_id, policy_id, attribute, operator, value_json, logical_operator, rule_order, group_index, group_combine_operator) VALUES(:rule_id, :policy_id, :attribute, :operator, :value_json, :logical_operator, :rule_order, :group_index, :group_combine_operator)`
	for _, row := range rules {
		if _, err := tx.NamedExecContext(ctx, ruleQ, row); err != nil {
			return fmt.Errorf("insert rule of policy %s: %w", p.ID, err)
		}
	}
	assignQ := `INSERT INTO policy_assignments(assignment_id, policy_id, user_id, role_id) VALUES(:assignment_id, :policy_id, :user_id, :role_id)`
	for _, a := range p.Assignments {
		_, err := tx.NamedExecContext(ctx, assignQ, map[string]any{
			"assignment_id": a.ID,
			"policy_id":     p.ID,
			"user_id":       nullIfEmpty(a.UserID),
			"role_id":       nullIfEmpty(a.RoleID),
		})
		if err != nil {
			return fmt.Errorf("insert assignment of policy %s: %w", p.ID, err)
		}
	}
	return nil
}

func deleteChildren(ctx context.Context, tx *squealx.Tx, policyID string) error {
	args := map[string]any{"policy_id": policyID}
	if _, err := tx.NamedExecContext(ctx, `DELETE FROM policy_rules WHERE policy_id = :policy_id`, args); err != nil {
		return err
	}
	_, err := tx.NamedExecContext(ctx, `DELETE FROM policy_assignments WHERE policy_id = :policy_id`, args)
	return err
}

func policyParams(p *abac.Policy) map[string]any {
	return map[string]any{
		"id":            p.ID,
		"name":          p.Name,
		"description":   p.Description,
		"effect":        strings.ToUpper(string(p.Effect)),
		"action":        p.Action,
		"resource_type": p.ResourceType,
		"priority":      p.Priority,
		"is_active":     boolToInt(p.IsActive),
		"created_at":    sqlTimeOrNil(p.CreatedAt),
		"updated_at":    sqlTimeOrNil(p.UpdatedAt),
	}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
