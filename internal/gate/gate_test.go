package gate

import (
	"context"
	"testing"
	"time"

	"github.com/actionchat/actionchat/internal/broker"
)

func TestApproveResumes(t *testing.T) {
	g := New()
	id := g.Request()

	go func() {
		time.Sleep(10 * time.Millisecond)
		if !g.Resolve(id, true) {
			t.Error("resolve reported unknown approval")
		}
	}()

	approved, err := g.Await(context.Background(), id, time.Second)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if !approved {
		t.Fatal("expected approved=true")
	}
	if g.PendingCount() != 0 {
		t.Fatalf("expected no pending approvals, got %d", g.PendingCount())
	}
}

func TestRejectDeliveredBeforeAwait(t *testing.T) {
	g := New()
	id := g.Request()

	// Decision lands before the stream branch reaches Await.
	if !g.Resolve(id, false) {
		t.Fatal("resolve should buffer the decision")
	}
	approved, err := g.Await(context.Background(), id, time.Second)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if approved {
		t.Fatal("expected approved=false")
	}
	// A second decision for the same approval is rejected.
	if g.Resolve(id, true) {
		t.Fatal("expected duplicate resolve to fail")
	}
}

func TestAwaitTimeout(t *testing.T) {
	g := New()
	id := g.Request()

	_, err := g.Await(context.Background(), id, 20*time.Millisecond)
	if !broker.Is(err, broker.KindApprovalTimeout) {
		t.Fatalf("expected approval_timeout, got %v", err)
	}
	// A late decision finds nothing to resolve.
	if g.Resolve(id, true) {
		t.Fatal("resolve should fail after timeout")
	}
}

func TestAwaitContextCancelled(t *testing.T) {
	g := New()
	id := g.Request()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Await(ctx, id, time.Second)
	if !broker.Is(err, broker.KindApprovalTimeout) {
		t.Fatalf("expected approval_timeout on disconnect, got %v", err)
	}
}

func TestResolveUnknown(t *testing.T) {
	g := New()
	if g.Resolve("nope", true) {
		t.Fatal("expected unknown approval to report false")
	}
}
