package abac

import (
	"context"
	"fmt"
	"slices"
)

// ============================================================================
// STORAGE INTERFACES
// ============================================================================

// PolicyQuery selects candidate policies for one request.
type PolicyQuery struct {
	ResourceType string
	Action       string
	// SubjectID and SubjectRoleID enable assignment filtering when either is set.
	SubjectID     string
	SubjectRoleID string
	// IncludeUnassigned also admits policies that have no assignments.
	IncludeUnassigned bool
}

// CacheKey is a stable key for caching the result of a query.
func (q PolicyQuery) CacheKey() string {
	return fmt.Sprintf("%s|%s|%s|%s|%t", q.ResourceType, q.Action, q.SubjectID, q.SubjectRoleID, q.IncludeUnassigned)
}

// PolicyStore returns active policies matching a query, ascending by priority.
type PolicyStore interface {
	ListPolicies(ctx context.Context, q PolicyQuery) ([]*Policy, error)
}

// PolicyWriter is the administrative side of a store.
type PolicyWriter interface {
	CreatePolicy(ctx context.Context, p *Policy) error
	UpdatePolicy(ctx context.Context, p *Policy) error
	DeletePolicy(ctx context.Context, id string) error
	GetPolicy(ctx context.Context, id string) (*Policy, error)
}

// ResourceLoader fetches the flattened attribute record of a resource.
// A missing record is reported as ErrResourceNotFound. Loaders may answer
// types they hold no records for with the bare {id, type} record.
type ResourceLoader interface {
	LoadResourceAttributes(ctx context.Context, resourceType, resourceID string) (Resource, error)
}

// AppliesTo is the store-side filter: active, same resource type and action,
// and when the query names a subject, assigned to that user or role (or
// unassigned, if the query admits unassigned policies).
func AppliesTo(p *Policy, q PolicyQuery) bool {
	if p == nil || !p.IsActive || p.ResourceType != q.ResourceType || p.Action != q.Action {
		return false
	}
	if q.SubjectID == "" && q.SubjectRoleID == "" {
		return true
	}
	if len(p.Assignments) == 0 {
		return q.IncludeUnassigned
	}
	for _, a := range p.Assignments {
		if q.SubjectID != "" && a.UserID == q.SubjectID {
			return true
		}
		if q.SubjectRoleID != "" && a.RoleID == q.SubjectRoleID {
			return true
		}
	}
	return false
}

// SortByPriority orders policies ascending by priority in place. Ties keep
// their existing order.
func SortByPriority(policies []*Policy) {
	slices.SortStableFunc(policies, func(a, b *Policy) int { return a.Priority - b.Priority })
}
