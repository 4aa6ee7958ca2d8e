// Package gate implements the approval state machine for dangerous
// operations. A gated invocation suspends its branch of the stream
// until the user decides, while sibling tool calls keep running.
package gate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/actionchat/actionchat/internal/broker"
)

// DefaultWindow bounds how long a pending approval survives without a
// decision before the turn gives up on it.
const DefaultWindow = 5 * time.Minute

// Gate tracks pending approvals by id. Safe for concurrent use; one
// Gate serves the whole process.
type Gate struct {
	mu      sync.Mutex
	pending map[string]chan bool
}

func New() *Gate {
	return &Gate{pending: make(map[string]chan bool)}
}

// Request registers a new pending approval and returns its id. The
// returned id travels to the client inside the approval_requested
// stream frame.
func (g *Gate) Request() string {
	id := uuid.NewString()
	ch := make(chan bool, 1)
	g.mu.Lock()
	g.pending[id] = ch
	g.mu.Unlock()
	return id
}

// Resolve delivers a decision. Reports false when the approval is
// unknown or already resolved, so callers can tell the client. The
// decision buffers if the waiter has not reached Await yet.
func (g *Gate) Resolve(approvalID string, approved bool) bool {
	g.mu.Lock()
	ch, ok := g.pending[approvalID]
	g.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- approved:
		log.Info().Str("approval_id", approvalID).Bool("approved", approved).Msg("approval resolved")
		return true
	default:
		return false
	}
}

// Await blocks until the decision arrives, the window elapses, or the
// context ends. Timeout and cancellation both surface as
// approval_timeout so the invocation lands in pending_confirmation.
func (g *Gate) Await(ctx context.Context, approvalID string, window time.Duration) (bool, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	g.mu.Lock()
	ch, ok := g.pending[approvalID]
	g.mu.Unlock()
	if !ok {
		return false, broker.E(broker.KindInternal, "unknown approval %s", approvalID)
	}

	timer := time.NewTimer(window)
	defer timer.Stop()

	select {
	case approved := <-ch:
		g.abandon(approvalID)
		return approved, nil
	case <-timer.C:
		g.abandon(approvalID)
		return false, broker.E(broker.KindApprovalTimeout, "no decision for approval %s", approvalID)
	case <-ctx.Done():
		g.abandon(approvalID)
		return false, broker.Wrap(broker.KindApprovalTimeout, ctx.Err(), "stream closed awaiting approval %s", approvalID)
	}
}

func (g *Gate) abandon(approvalID string) {
	g.mu.Lock()
	delete(g.pending, approvalID)
	g.mu.Unlock()
}

// PendingCount reports how many approvals are outstanding.
func (g *Gate) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}
