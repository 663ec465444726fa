package stores

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/oarkflow/abac"
)

// MemoryPolicyStore implements policy persistence in-memory for testing/demo
type MemoryPolicyStore struct {
	mu       sync.RWMutex
	policies map[string]*abac.Policy
	seq      map[string]uint64
	nextSeq  uint64
	now      func() time.Time
}

func NewMemoryPolicyStore(policies ...*abac.Policy) *MemoryPolicyStore {
	s := &MemoryPolicyStore{
		policies: make(map[string]*abac.Policy),
		seq:      make(map[string]uint64),
		now:      time.Now,
	}
	for _, p := range policies {
		if p != nil {
			s.put(p.Clone())
		}
	}
	return s
}

// put stores p, keeping the insertion sequence of an existing id.
func (s *MemoryPolicyStore) put(p *abac.Policy) {
	if _, ok := s.seq[p.ID]; !ok {
		s.nextSeq++
		s.seq[p.ID] = s.nextSeq
	}
	s.policies[p.ID] = p
}

func (s *MemoryPolicyStore) CreatePolicy(ctx context.Context, p *abac.Policy) error {
	if err := abac.ValidatePolicy(p); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.policies[p.ID]; exists {
		return fmt.Errorf("policy already exists: %s", p.ID)
	}
	p.CreatedAt = s.now()
	p.UpdatedAt = p.CreatedAt
	s.put(p.Clone())
	return nil
}

func (s *MemoryPolicyStore) UpdatePolicy(ctx context.Context, p *abac.Policy) error {
	if err := abac.ValidatePolicy(p); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.policies[p.ID]
	if !ok {
		return fmt.Errorf("%w: %s", abac.ErrPolicyNotFound, p.ID)
	}
	p.CreatedAt = old.CreatedAt
	p.UpdatedAt = s.now()
	s.put(p.Clone())
	return nil
}

func (s *MemoryPolicyStore) DeletePolicy(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.policies, id)
	delete(s.seq, id)
	return nil
}

func (s *MemoryPolicyStore) GetPolicy(ctx context.Context, id string) (*abac.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", abac.ErrPolicyNotFound, id)
	}
	return p.Clone(), nil
}

// ListPolicies returns clones of the matching policies, ascending by
// priority and then by insertion order.
func (s *MemoryPolicyStore) ListPolicies(ctx context.Context, q abac.PolicyQuery) ([]*abac.Policy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*abac.Policy, 0)
	for _, p := range s.policies {
		if abac.AppliesTo(p, q) {
			result = append(result, p)
		}
	}
	// map order is random; fix insertion order before the stable priority sort
	s.sortBySeq(result)
	abac.SortByPriority(result)
	for i, p := range result {
		result[i] = p.Clone()
	}
	return result, nil
}

func (s *MemoryPolicyStore) sortBySeq(policies []*abac.Policy) {
	slices.SortFunc(policies, func(a, b *abac.Policy) int {
		return cmp.Compare(s.seq[a.ID], s.seq[b.ID])
	})
}

// All returns every stored policy in insertion order.
func (s *MemoryPolicyStore) All() []*abac.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*abac.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p)
	}
	s.sortBySeq(out)
	for i, p := range out {
		out[i] = p.Clone()
	}
	return out
}

// MemoryResourceLoader serves resource records registered by type and id.
// Like SQLResourceLoader, a type that was never registered yields the bare
// {id, type} record; a missing id of a registered type is ErrResourceNotFound.
type MemoryResourceLoader struct {
	mu        sync.RWMutex
	resources map[string]abac.Resource
	types     map[string]struct{}
}

func NewMemoryResourceLoader() *MemoryResourceLoader {
	return &MemoryResourceLoader{resources: make(map[string]abac.Resource), types: make(map[string]struct{})}
}

func resourceKey(resourceType, id string) string { return resourceType + "/" + id }

// Put registers a resource under its own type and id.
func (l *MemoryResourceLoader) Put(r abac.Resource) {
	l.mu.Lock()
	defer l.mu.Unlock()
	dup := make(abac.Resource, len(r))
	for k, v := range r {
		dup[k] = v
	}
	l.resources[resourceKey(r.Type(), r.ID())] = dup
	l.types[r.Type()] = struct{}{}
}

func (l *MemoryResourceLoader) Delete(resourceType, id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.resources, resourceKey(resourceType, id))
}

func (l *MemoryResourceLoader) LoadResourceAttributes(ctx context.Context, resourceType, resourceID string) (abac.Resource, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.resources[resourceKey(resourceType, resourceID)]
	if !ok {
		if _, known := l.types[resourceType]; !known {
			return abac.NewResource(resourceType, map[string]any{abac.AttrID: resourceID}), nil
		}
		return nil, abac.ErrResourceNotFound
	}
	dup := make(abac.Resource, len(r))
	for k, v := range r {
		dup[k] = v
	}
	return dup, nil
}
