package abac

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oarkflow/abac/logger"
)

// ============================================================================
// DECISION ENGINE
// ============================================================================

const (
	ReasonExplicitDeny = "explicit deny"
	ReasonPolicyAllow  = "policy allow"
	ReasonNoPolicies   = "no applicable policies"
	ReasonDefaultDeny  = "default deny"
	ReasonNoResource   = "resource not found"
)

// Engine decides access requests against a PolicyStore. It holds no
// per-request state and is safe for concurrent use.
type Engine struct {
	policyStore      PolicyStore
	resourceLoader   ResourceLoader
	logger           logger.Logger
	batchWorkerCount int
	now              func() time.Time
}

// EngineOption configures an Engine
type EngineOption func(*Engine) error

func WithResourceLoader(l ResourceLoader) EngineOption {
	return func(e *Engine) error {
		e.resourceLoader = l
		return nil
	}
}

func WithBatchWorkers(n int) EngineOption {
	return func(e *Engine) error {
		if n <= 0 {
			return fmt.Errorf("batch worker count must be positive, got %d", n)
		}
		e.batchWorkerCount = n
		return nil
	}
}

func NewEngine(store PolicyStore, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("policy store is required")
	}
	e := &Engine{
		policyStore:      store,
		logger:           logger.NewNullLogger(),
		batchWorkerCount: 8,
		now:              time.Now,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// CheckAccess reports whether subject may perform action on resource.
func (e *Engine) CheckAccess(ctx context.Context, subject Subject, resource Resource, action string, env Environment) (bool, error) {
	d, err := e.Decide(ctx, &AccessRequest{Subject: subject, Resource: resource, Action: action, Environment: env})
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// CheckAccessWithResource loads the resource record first and then checks
// access. A missing record denies.
func (e *Engine) CheckAccessWithResource(ctx context.Context, subject Subject, resourceType, resourceID, action string, env Environment) (bool, error) {
	d, err := e.DecideWithResource(ctx, subject, resourceType, resourceID, action, env)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// DecideWithResource is CheckAccessWithResource returning the full decision.
func (e *Engine) DecideWithResource(ctx context.Context, subject Subject, resourceType, resourceID, action string, env Environment) (*Decision, error) {
	return e.decideWithResource(ctx, subject, resourceType, resourceID, action, env, nil)
}

// ExplainWithResource is DecideWithResource with a trace.
func (e *Engine) ExplainWithResource(ctx context.Context, subject Subject, resourceType, resourceID, action string, env Environment) (*Decision, error) {
	return e.decideWithResource(ctx, subject, resourceType, resourceID, action, env, newTracer())
}

func (e *Engine) decideWithResource(ctx context.Context, subject Subject, resourceType, resourceID, action string, env Environment, tr *tracer) (*Decision, error) {
	if e.resourceLoader == nil {
		return nil, ErrNoResourceLoader
	}
	resource, err := e.resourceLoader.LoadResourceAttributes(ctx, resourceType, resourceID)
	if errors.Is(err, ErrResourceNotFound) {
		e.logger.Debug("abac resource not found", "resource_type", resourceType, "resource_id", resourceID)
		tr.addf("resource %s/%s not found", resourceType, resourceID)
		d := &Decision{Effect: EffectDeny, Reason: ReasonNoResource, Timestamp: e.now()}
		if tr != nil {
			d.Trace = tr.lines
		}
		return d, nil
	}
	if err != nil {
		return nil, err
	}
	// the caller's type wins over whatever the loader recorded; the loader's
	// map may be shared so it is copied, not written
	resource = NewResource(resourceType, resource)
	return e.decide(ctx, &AccessRequest{Subject: subject, Resource: resource, Action: action, Environment: env}, tr)
}

// Decide runs the decision state machine and reports which policy decided.
func (e *Engine) Decide(ctx context.Context, req *AccessRequest) (*Decision, error) {
	return e.decide(ctx, req, nil)
}

// Explain is Decide with a step-by-step trace of every candidate policy.
func (e *Engine) Explain(ctx context.Context, req *AccessRequest) (*Decision, error) {
	return e.decide(ctx, req, newTracer())
}

func (e *Engine) decide(ctx context.Context, req *AccessRequest, tr *tracer) (*Decision, error) {
	if req == nil {
		return nil, fmt.Errorf("access request is required")
	}
	decision := &Decision{Effect: EffectDeny, Timestamp: e.now()}
	finish := func(reason string) *Decision {
		decision.Reason = reason
		if tr != nil {
			decision.Trace = tr.lines
		}
		e.logger.Debug("abac decision",
			"subject", req.Subject.ID(),
			"resource_type", req.Resource.Type(),
			"action", req.Action,
			"allowed", decision.Allowed,
			"matched_by", decision.MatchedBy,
			"reason", reason)
		return decision
	}

	q := PolicyQuery{
		ResourceType:      req.Resource.Type(),
		Action:            req.Action,
		SubjectID:         req.Subject.ID(),
		SubjectRoleID:     req.Subject.RoleID(),
		IncludeUnassigned: true,
	}
	policies, err := e.policyStore.ListPolicies(ctx, q)
	if err != nil {
		e.logger.Error("abac policy fetch failed", "resource_type", q.ResourceType, "action", q.Action, "error", err.Error())
		return nil, err
	}
	tr.addf("fetched %d candidate policies for %s on %s", len(policies), req.Action, q.ResourceType)
	if len(policies) == 0 {
		return finish(ReasonNoPolicies), nil
	}

	for _, p := range policies {
		effect, ok := matchPolicy(p, req.Subject, req.Resource, req.Action, req.Environment, tr)
		if !ok {
			continue
		}
		if effect.Is(EffectDeny) {
			decision.MatchedBy = p.ID
			tr.addf("DENY by policy: %s", p.ID)
			return finish(ReasonExplicitDeny), nil
		}
		if effect.Is(EffectAllow) {
			decision.Allowed = true
			decision.Effect = EffectAllow
			decision.MatchedBy = p.ID
			tr.addf("ALLOW by policy: %s", p.ID)
			return finish(ReasonPolicyAllow), nil
		}
		tr.addf("policy=%s unrecognized effect %q ignored", p.ID, p.Effect)
	}
	tr.addf("no policy matched")
	return finish(ReasonDefaultDeny), nil
}

// BatchDecide evaluates independent requests concurrently. Results keep the
// request order; the first error cancels the remaining work.
func (e *Engine) BatchDecide(ctx context.Context, requests []AccessRequest) ([]*Decision, error) {
	decisions := make([]*Decision, len(requests))
	if len(requests) == 0 {
		return decisions, nil
	}
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := min(e.batchWorkerCount, len(requests))
	jobs := make(chan int)
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				d, err := e.Decide(ctx, &requests[i])
				if err != nil {
					errOnce.Do(func() {
						firstErr = err
						cancel()
					})
					continue
				}
				decisions[i] = d
			}
		}()
	}
feed:
	for i := range requests {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	if err := parent.Err(); err != nil {
		return nil, err
	}
	return decisions, nil
}
