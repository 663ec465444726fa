package abac_test

import (
	"context"
	"testing"
	"time"

	"github.com/oarkflow/abac"
)

func TestChangeDistributorDeliversChanges(t *testing.T) {
	dist := abac.NewChangeDistributor()
	received := make(chan abac.PolicyChange, 1)
	dist.RegisterSubscriber(abac.ChangeSubscriberFunc(func(ctx context.Context, change abac.PolicyChange) error {
		received <- change
		return nil
	}))
	dist.Start(context.Background())

	if !dist.NotifyPolicyChange(abac.PolicyChange{PolicyID: "p1", ResourceType: "document", Action: "read"}) {
		t.Fatalf("expected change to be queued")
	}

	select {
	case change := <-received:
		if change.PolicyID != "p1" || change.At.IsZero() {
			t.Fatalf("unexpected change: %+v", change)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for change")
	}

	if err := dist.Stop(context.Background()); err != nil {
		t.Fatalf("stop distributor: %v", err)
	}
	// stopping twice is a no-op
	if err := dist.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestChangeDistributorDropsWhenFull(t *testing.T) {
	dist := abac.NewChangeDistributor(abac.WithDistributorBuffer(1))
	if !dist.NotifyPolicyChange(abac.PolicyChange{PolicyID: "a"}) {
		t.Fatalf("first change should fit")
	}
	if dist.NotifyPolicyChange(abac.PolicyChange{PolicyID: "b"}) {
		t.Fatalf("second change should be dropped while nothing drains the queue")
	}
}

func TestChangeDistributorRestarts(t *testing.T) {
	dist := abac.NewChangeDistributor()
	received := make(chan abac.PolicyChange, 1)
	dist.RegisterSubscriber(abac.ChangeSubscriberFunc(func(ctx context.Context, change abac.PolicyChange) error {
		received <- change
		return nil
	}))
	ctx := context.Background()
	dist.Start(ctx)
	if err := dist.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	dist.Start(ctx)
	defer dist.Stop(ctx)
	dist.NotifyPolicyChange(abac.PolicyChange{PolicyID: "after-restart"})
	select {
	case change := <-received:
		if change.PolicyID != "after-restart" {
			t.Fatalf("unexpected change: %+v", change)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("restarted distributor delivered nothing")
	}
}
