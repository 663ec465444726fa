package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oarkflow/abac"
	"github.com/redis/go-redis/v9"
)

// RedisPolicyStore keeps each policy as JSON under {prefix}policy:{id} and
// indexes ids in a set per resource type and action
// ({prefix}index:{resourceType}:{action}).
type RedisPolicyStore struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

func NewRedisPolicyStore(client redis.Cmdable, prefix string) *RedisPolicyStore {
	return &RedisPolicyStore{client: client, prefix: prefix, now: time.Now}
}

func (r *RedisPolicyStore) policyKey(id string) string {
	return r.prefix + "policy:" + id
}

func (r *RedisPolicyStore) indexKey(resourceType, action string) string {
	return fmt.Sprintf("%sindex:%s:%s", r.prefix, resourceType, action)
}

func (r *RedisPolicyStore) CreatePolicy(ctx context.Context, p *abac.Policy) error {
	if err := abac.ValidatePolicy(p); err != nil {
		return err
	}
	n, err := r.client.Exists(ctx, r.policyKey(p.ID)).Result()
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("policy already exists: %s", p.ID)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = r.now()
	}
	p.UpdatedAt = p.CreatedAt
	return r.write(ctx, p)
}

func (r *RedisPolicyStore) UpdatePolicy(ctx context.Context, p *abac.Policy) error {
	if err := abac.ValidatePolicy(p); err != nil {
		return err
	}
	old, err := r.GetPolicy(ctx, p.ID)
	if err != nil {
		return err
	}
	if old.ResourceType != p.ResourceType || old.Action != p.Action {
		if err := r.client.SRem(ctx, r.indexKey(old.ResourceType, old.Action), p.ID).Err(); err != nil {
			return err
		}
	}
	p.CreatedAt = old.CreatedAt
	p.UpdatedAt = r.now()
	return r.write(ctx, p)
}

func (r *RedisPolicyStore) write(ctx context.Context, p *abac.Policy) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode policy %s: %w", p.ID, err)
	}
	if err := r.client.Set(ctx, r.policyKey(p.ID), b, 0).Err(); err != nil {
		return err
	}
	return r.client.SAdd(ctx, r.indexKey(p.ResourceType, p.Action), p.ID).Err()
}

func (r *RedisPolicyStore) DeletePolicy(ctx context.Context, id string) error {
	old, err := r.GetPolicy(ctx, id)
	if errors.Is(err, abac.ErrPolicyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := r.client.Del(ctx, r.policyKey(id)).Err(); err != nil {
		return err
	}
	return r.client.SRem(ctx, r.indexKey(old.ResourceType, old.Action), id).Err()
}

func (r *RedisPolicyStore) GetPolicy(ctx context.Context, id string) (*abac.Policy, error) {
	b, err := r.client.Get(ctx, r.policyKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", abac.ErrPolicyNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	p := &abac.Policy{}
	if err := json.Unmarshal(b, p); err != nil {
		return nil, fmt.Errorf("decode policy %s: %w", id, err)
	}
	return p, nil
}

// ListPolicies reads the index set for the query's type and action and
// filters the decoded policies. Ties in priority keep creation order.
func (r *RedisPolicyStore) ListPolicies(ctx context.Context, q abac.PolicyQuery) ([]*abac.Policy, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey(q.ResourceType, q.Action)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*abac.Policy, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.policyKey(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// index entry without a policy body
			continue
		}
		p := &abac.Policy{}
		if err := json.Unmarshal([]byte(raw), p); err != nil {
			return nil, fmt.Errorf("decode policy %s: %w", ids[i], err)
		}
		if abac.AppliesTo(p, q) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b *abac.Policy) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	abac.SortByPriority(out)
	return out, nil
}
