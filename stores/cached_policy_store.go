package stores

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/oarkflow/abac"
)

// CachedPolicyStore is a read-through cache (ristretto) in front of any
// PolicyStore. Entries are keyed by the whole query. Only policy lists are
// cached, never decisions.
type CachedPolicyStore struct {
	next  abac.PolicyStore
	cache *ristretto.Cache
	ttl   time.Duration
	// generation is part of every key so Invalidate drops entries still
	// sitting in ristretto's set buffers.
	generation atomic.Uint64
}

type CacheOptions struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	TTL         time.Duration
}

func (o CacheOptions) withDefaults() CacheOptions {
	if o.NumCounters <= 0 {
		o.NumCounters = 1e4
	}
	if o.MaxCost <= 0 {
		o.MaxCost = 1 << 20
	}
	if o.BufferItems <= 0 {
		o.BufferItems = 64
	}
	return o
}

func NewCachedPolicyStore(next abac.PolicyStore, opts CacheOptions) (*CachedPolicyStore, error) {
	if next == nil {
		return nil, fmt.Errorf("cached policy store: backing store is required")
	}
	opts = opts.withDefaults()
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: opts.NumCounters,
		MaxCost:     opts.MaxCost,
		BufferItems: opts.BufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("create policy cache: %w", err)
	}
	return &CachedPolicyStore{next: next, cache: cache, ttl: opts.TTL}, nil
}

// NewCachedPolicyStoreFromConfig wraps next when the cache is enabled and
// returns next unchanged otherwise.
func NewCachedPolicyStoreFromConfig(next abac.PolicyStore, cfg abac.PolicyCacheConfig) (abac.PolicyStore, error) {
	if !cfg.Enabled {
		return next, nil
	}
	return NewCachedPolicyStore(next, CacheOptions{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		TTL:         cfg.TTL(),
	})
}

func (c *CachedPolicyStore) key(q abac.PolicyQuery) string {
	return fmt.Sprintf("%d|%s", c.generation.Load(), q.CacheKey())
}

// ListPolicies serves from cache when possible. Store errors are returned
// as-is and never cached. Callers get their own copies.
func (c *CachedPolicyStore) ListPolicies(ctx context.Context, q abac.PolicyQuery) ([]*abac.Policy, error) {
	key := c.key(q)
	if v, ok := c.cache.Get(key); ok {
		if cached, ok := v.([]*abac.Policy); ok {
			return clonePolicies(cached), nil
		}
	}
	policies, err := c.next.ListPolicies(ctx, q)
	if err != nil {
		return nil, err
	}
	snapshot := clonePolicies(policies)
	cost := int64(len(snapshot) + 1)
	if c.ttl > 0 {
		c.cache.SetWithTTL(key, snapshot, cost, c.ttl)
	} else {
		c.cache.Set(key, snapshot, cost)
	}
	return policies, nil
}

// Invalidate drops every cached entry. Call it after writing to the backing store.
func (c *CachedPolicyStore) Invalidate() {
	c.generation.Add(1)
	c.cache.Clear()
}

// Wait blocks until buffered writes are applied; tests use it to make a Set visible.
func (c *CachedPolicyStore) Wait() {
	c.cache.Wait()
}

// OnPolicyChange lets a ChangeDistributor invalidate this cache.
func (c *CachedPolicyStore) OnPolicyChange(ctx context.Context, change abac.PolicyChange) error {
	c.Invalidate()
	return nil
}

func (c *CachedPolicyStore) Close() {
	c.cache.Close()
}

func clonePolicies(in []*abac.Policy) []*abac.Policy {
	out := make([]*abac.Policy, len(in))
	for i, p := range in {
		out[i] = p.Clone()
	}
	return out
}

// ChangeNotifier receives a PolicyChange after each successful write.
type ChangeNotifier interface {
	NotifyPolicyChange(change abac.PolicyChange) bool
}

// CachedPolicyWriter also forwards writes, invalidates the cache after each
// one and announces the change when a notifier is set.
type CachedPolicyWriter struct {
	*CachedPolicyStore
	writer   abac.PolicyWriter
	notifier ChangeNotifier
}

func NewCachedPolicyWriter(cache *CachedPolicyStore, w abac.PolicyWriter) *CachedPolicyWriter {
	return &CachedPolicyWriter{CachedPolicyStore: cache, writer: w}
}

// WithNotifier sets where successful writes are announced.
func (c *CachedPolicyWriter) WithNotifier(n ChangeNotifier) *CachedPolicyWriter {
	c.notifier = n
	return c
}

func (c *CachedPolicyWriter) CreatePolicy(ctx context.Context, p *abac.Policy) error {
	if err := c.writer.CreatePolicy(ctx, p); err != nil {
		return err
	}
	c.changed(p.ID, p.ResourceType, p.Action)
	return nil
}

func (c *CachedPolicyWriter) UpdatePolicy(ctx context.Context, p *abac.Policy) error {
	if err := c.writer.UpdatePolicy(ctx, p); err != nil {
		return err
	}
	c.changed(p.ID, p.ResourceType, p.Action)
	return nil
}

func (c *CachedPolicyWriter) DeletePolicy(ctx context.Context, id string) error {
	if err := c.writer.DeletePolicy(ctx, id); err != nil {
		return err
	}
	c.changed(id, "", "")
	return nil
}

func (c *CachedPolicyWriter) GetPolicy(ctx context.Context, id string) (*abac.Policy, error) {
	return c.writer.GetPolicy(ctx, id)
}

func (c *CachedPolicyWriter) changed(id, resourceType, action string) {
	c.Invalidate()
	if c.notifier != nil {
		c.notifier.NotifyPolicyChange(abac.PolicyChange{PolicyID: id, ResourceType: resourceType, Action: action, At: time.Now()})
	}
}
