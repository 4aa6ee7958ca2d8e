package paginate

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/actionchat/actionchat/internal/broker"
	"github.com/actionchat/actionchat/internal/executor"
	"github.com/actionchat/actionchat/pkg/models"
)

const (
	// defaultWindowTTL is how long an untouched page window survives;
	// maxWindows caps how many are tracked at once.
	defaultWindowTTL = 30 * time.Minute
	maxWindows       = 256
)

// invocation is the per-invocation pagination state: the request
// template for re-issue, the cache of fetched pages, and the latest
// detection. pages is always a contiguous [1..k] range. touched is
// guarded by Engine.mu, everything else by invocation.mu.
type invocation struct {
	mu       sync.Mutex
	req      executor.Request
	args     map[string]interface{}
	det      Detection
	pages    [][]interface{}
	hasMore  bool
	inFlight bool

	touched time.Time
}

// Engine tracks pagination per tool invocation. The cache is process
// memory only; windows expire after a period of disuse and the client
// drops them explicitly when done viewing.
type Engine struct {
	exec *executor.Executor

	mu    sync.Mutex
	byInv map[string]*invocation
	ttl   time.Duration
}

func NewEngine(exec *executor.Executor) *Engine {
	return &Engine{exec: exec, byInv: make(map[string]*invocation), ttl: defaultWindowTTL}
}

// PageInfo describes the cache after a mutation.
type PageInfo struct {
	Family  Family        `json:"family,omitempty"`
	Pages   int           `json:"pages"`
	HasMore bool          `json:"has_more"`
	Data    []interface{} `json:"data,omitempty"`
}

// Track inspects a completed call's response and, when a pagination
// family matches, seeds the invocation's cache with page 1. Returns
// nil for non-paginated responses.
func (e *Engine) Track(toolCallID string, req *executor.Request, body interface{}) *PageInfo {
	if toolCallID == "" {
		return nil
	}
	det := Detect(req.Args, body)
	if det.Family == FamilyNone || det.Data == nil {
		return nil
	}

	inv := &invocation{
		req:     *req,
		args:    req.Args,
		det:     det,
		pages:   [][]interface{}{det.Data},
		hasMore: det.HasMore,
	}
	e.mu.Lock()
	e.pruneLocked(time.Now())
	inv.touched = time.Now()
	e.byInv[toolCallID] = inv
	e.mu.Unlock()

	return &PageInfo{Family: det.Family, Pages: 1, HasMore: det.HasMore, Data: det.Data}
}

func (e *Engine) lookup(toolCallID string) (*invocation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	inv, ok := e.byInv[toolCallID]
	if ok && now.Sub(inv.touched) >= e.ttl {
		delete(e.byInv, toolCallID)
		ok = false
	}
	if !ok {
		return nil, broker.E(broker.KindInternal, "no pagination state for invocation %s", toolCallID)
	}
	inv.touched = now
	return inv, nil
}

// pruneLocked evicts expired windows and, past the cap, the stalest
// ones. Callers hold e.mu.
func (e *Engine) pruneLocked(now time.Time) {
	for id, inv := range e.byInv {
		if now.Sub(inv.touched) >= e.ttl {
			delete(e.byInv, id)
		}
	}
	for len(e.byInv) >= maxWindows {
		oldestID := ""
		var oldest time.Time
		for id, inv := range e.byInv {
			if oldestID == "" || inv.touched.Before(oldest) {
				oldestID, oldest = id, inv.touched
			}
		}
		delete(e.byInv, oldestID)
	}
}

// FetchNextPage silently re-executes the invocation's operation with
// pagination arguments advanced, appends the new page to the cache,
// and returns it. The model is not re-engaged; the dispatch still
// writes an audit record flagged paginated. At most one fetch is in
// flight per invocation.
func (e *Engine) FetchNextPage(ctx context.Context, toolCallID string) (*PageInfo, error) {
	inv, err := e.lookup(toolCallID)
	if err != nil {
		return nil, err
	}

	inv.mu.Lock()
	if inv.inFlight {
		inv.mu.Unlock()
		return nil, broker.E(broker.KindInternal, "page fetch already in flight for invocation %s", toolCallID)
	}
	if !inv.hasMore {
		info := &PageInfo{Family: inv.det.Family, Pages: len(inv.pages), HasMore: false}
		inv.mu.Unlock()
		return info, nil
	}
	inv.inFlight = true
	fetched := 0
	for _, p := range inv.pages {
		fetched += len(p)
	}
	nextArgs := inv.det.NextArgs(inv.args, fetched)
	req := inv.req
	inv.mu.Unlock()

	req.Args = nextArgs
	req.ToolCallID = "" // a fresh dispatch, not a duplicate of the original
	req.Paginated = true

	env, err := e.exec.Execute(ctx, &req)

	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.inFlight = false
	if err != nil {
		return nil, err
	}
	if env.Meta.ResponseStatus < 200 || env.Meta.ResponseStatus >= 300 {
		return nil, broker.E(broker.KindUpstreamHTTP, "page fetch returned %d", env.Meta.ResponseStatus)
	}

	det := Detect(nextArgs, env.Meta.ResponseBody)
	if det.Data == nil {
		det.Data = []interface{}{}
	}
	inv.pages = append(inv.pages, det.Data)
	inv.args = nextArgs
	if det.Family == inv.det.Family {
		inv.det = det
		inv.hasMore = det.HasMore
	} else {
		inv.hasMore = false
	}

	log.Debug().
		Str("tool_call_id", toolCallID).
		Int("page", len(inv.pages)).
		Bool("has_more", inv.hasMore).
		Msg("fetched next page")
	return &PageInfo{Family: inv.det.Family, Pages: len(inv.pages), HasMore: inv.hasMore, Data: det.Data}, nil
}

// ViewPage returns cached page k (1-based).
func (e *Engine) ViewPage(toolCallID string, k int) ([]interface{}, error) {
	inv, err := e.lookup(toolCallID)
	if err != nil {
		return nil, err
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if k < 1 || k > len(inv.pages) {
		return nil, broker.E(broker.KindInternal, "page %d not cached for invocation %s", k, toolCallID)
	}
	return inv.pages[k-1], nil
}

// ViewAll concatenates every cached page in index order.
func (e *Engine) ViewAll(toolCallID string) ([]interface{}, error) {
	inv, err := e.lookup(toolCallID)
	if err != nil {
		return nil, err
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	var all []interface{}
	for _, page := range inv.pages {
		all = append(all, page...)
	}
	return all, nil
}

// Drop discards an invocation's cache when the client is done viewing
// its pages. Undropped windows expire on their own after the TTL.
func (e *Engine) Drop(toolCallID string) {
	e.mu.Lock()
	delete(e.byInv, toolCallID)
	e.mu.Unlock()
}

// Paginate is the direct entry behind the paginate endpoint: execute
// the operation once, then report the detection alongside the
// envelope so clients can keep fetching.
func (e *Engine) Paginate(ctx context.Context, req *executor.Request) (*models.Envelope, *PageInfo, error) {
	req.Paginated = true
	env, err := e.exec.Execute(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	info := e.Track(req.ToolCallID, req, env.Meta.ResponseBody)
	return env, info, nil
}
