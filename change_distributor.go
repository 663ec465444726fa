package abac

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oarkflow/abac/logger"
)

// PolicyChange announces that a policy was written or removed.
type PolicyChange struct {
	PolicyID     string    `json:"policyId"`
	ResourceType string    `json:"resourceType,omitempty"`
	Action       string    `json:"action,omitempty"`
	At           time.Time `json:"at"`
}

type ChangeSubscriber interface {
	OnPolicyChange(ctx context.Context, change PolicyChange) error
}

type ChangeSubscriberFunc func(ctx context.Context, change PolicyChange) error

func (f ChangeSubscriberFunc) OnPolicyChange(ctx context.Context, change PolicyChange) error {
	return f(ctx, change)
}

// ChangeDistributor fans policy changes out to subscribers on a background
// goroutine, typically policy caches that must drop stale entries.
type ChangeDistributor struct {
	logger      logger.Logger
	notifyCh    chan PolicyChange
	stopCh      chan struct{}
	subscribers []ChangeSubscriber
	mu          sync.RWMutex
	started     bool
	wg          sync.WaitGroup
}

type ChangeDistributorOption func(*ChangeDistributor)

func WithDistributorLogger(l logger.Logger) ChangeDistributorOption {
	return func(d *ChangeDistributor) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithDistributorBuffer sets how many pending changes are queued before
// NotifyPolicyChange starts dropping.
func WithDistributorBuffer(n int) ChangeDistributorOption {
	return func(d *ChangeDistributor) {
		if n > 0 {
			d.notifyCh = make(chan PolicyChange, n)
		}
	}
}

func NewChangeDistributor(opts ...ChangeDistributorOption) *ChangeDistributor {
	d := &ChangeDistributor{
		logger:   logger.NewNullLogger(),
		notifyCh: make(chan PolicyChange, 1024),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *ChangeDistributor) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	// a fresh channel per run so Stop then Start works
	stop := make(chan struct{})
	d.stopCh = stop
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case change := <-d.notifyCh:
				d.distribute(ctx, change)
			}
		}
	}()
}

func (d *ChangeDistributor) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	close(d.stopCh)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// NotifyPolicyChange queues a change without blocking. It reports false when
// the queue is full and the change was dropped.
func (d *ChangeDistributor) NotifyPolicyChange(change PolicyChange) bool {
	if change.At.IsZero() {
		change.At = time.Now()
	}
	select {
	case d.notifyCh <- change:
		return true
	default:
		d.logger.Error("abac policy change dropped", "policy_id", change.PolicyID)
		return false
	}
}

func (d *ChangeDistributor) RegisterSubscriber(sub ChangeSubscriber) {
	if sub == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers = append(d.subscribers, sub)
}

func (d *ChangeDistributor) distribute(ctx context.Context, change PolicyChange) {
	d.mu.RLock()
	subs := append([]ChangeSubscriber(nil), d.subscribers...)
	d.mu.RUnlock()
	for _, sub := range subs {
		if err := sub.OnPolicyChange(ctx, change); err != nil {
			d.logger.Error("abac policy change subscriber failed", "policy_id", change.PolicyID, "error", fmt.Sprint(err))
		}
	}
}
