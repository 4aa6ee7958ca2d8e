package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actionchat/actionchat/internal/adapters"
	"github.com/actionchat/actionchat/internal/executor"
	"github.com/actionchat/actionchat/internal/gate"
	"github.com/actionchat/actionchat/internal/mcppool"
	"github.com/actionchat/actionchat/internal/paginate"
	"github.com/actionchat/actionchat/internal/resolver"
	"github.com/actionchat/actionchat/internal/router"
	"github.com/actionchat/actionchat/internal/selector"
	"github.com/actionchat/actionchat/internal/store"
	"github.com/actionchat/actionchat/pkg/models"
)

// chunkRecorder is a thread-safe Emitter.
type chunkRecorder struct {
	mu     sync.Mutex
	chunks []models.StreamChunk
}

func (c *chunkRecorder) emit(chunk models.StreamChunk) {
	c.mu.Lock()
	c.chunks = append(c.chunks, chunk)
	c.mu.Unlock()
}

func (c *chunkRecorder) all() []models.StreamChunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.StreamChunk(nil), c.chunks...)
}

func (c *chunkRecorder) approvalID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, chunk := range c.chunks {
		if chunk.ToolState != nil && chunk.ToolState.State == models.StateApprovalRequested {
			return chunk.ToolState.ApprovalID
		}
	}
	return ""
}

// scriptedModel serves OpenAI-style SSE: the first completion emits a
// tool call, every later one plain text.
func scriptedModel(t *testing.T, wireName, argsJSON string) *httptest.Server {
	t.Helper()
	var calls int32
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		n := atomic.AddInt32(&calls, 1)
		var chunks []map[string]interface{}
		if n == 1 {
			chunks = []map[string]interface{}{
				sseChunk(map[string]interface{}{"tool_calls": []interface{}{
					map[string]interface{}{"index": 0, "id": "call_1", "type": "function",
						"function": map[string]interface{}{"name": wireName, "arguments": argsJSON}},
				}}, "tool_calls"),
			}
		} else {
			chunks = []map[string]interface{}{
				sseChunk(map[string]interface{}{"content": "All done."}, "stop"),
			}
		}
		for _, chunk := range chunks {
			raw, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "data: %s\n\n", raw)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func sseChunk(delta map[string]interface{}, finish string) map[string]interface{} {
	choice := map[string]interface{}{"index": 0, "delta": delta}
	if finish != "" {
		choice["finish_reason"] = finish
	}
	return map[string]interface{}{
		"id": "chatcmpl-1", "object": "chat.completion.chunk", "model": "gpt-4o",
		"choices": []interface{}{choice},
	}
}

type fixture struct {
	runner  *Runner
	store   *store.MemoryStore
	gate    *gate.Gate
	turnReq *TurnRequest
}

func newFixture(t *testing.T, op models.Operation, upstream, modelURL string) *fixture {
	t.Helper()
	t.Setenv("ACTIONCHAT_DATA_DIR", "-")
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	require.NoError(t, s.CreateOrg(ctx, &models.Org{ID: "org-1", Name: "Acme", Owner: "user-1"}))
	require.NoError(t, s.CreateAgent(ctx, &models.Agent{ID: "agent-1", OrgID: "org-1", Name: "ops", Model: "gpt-4o"}))
	src := &models.Source{
		ID: "src-1", OrgID: "org-1", Name: "billing", BaseURL: upstream,
		SourceKind: models.SourceOpenAPI, AuthKind: models.AuthNone,
	}
	require.NoError(t, s.CreateSource(ctx, src))
	require.NoError(t, s.ReplaceOperations(ctx, "src-1", []models.Operation{op}))
	require.NoError(t, s.CreateLink(ctx, &models.AgentSourceLink{
		ID: "link-1", AgentID: "agent-1", SourceID: "src-1", Permission: models.PermissionReadWrite,
	}))

	g := gate.New()
	exec := executor.New(s, adapters.NewRegistry(), mcppool.NewPool(time.Second), 5*time.Second)
	runner := NewRunner(
		s,
		selector.New(s, nil),
		resolver.New(s, time.Minute),
		exec,
		paginate.NewEngine(exec),
		g,
		router.New(router.Config{APIKey: "test", BaseURL: modelURL + "/v1"}),
	)
	runner.approvalWindow = 2 * time.Second

	return &fixture{
		runner: runner,
		store:  s,
		gate:   g,
		turnReq: &TurnRequest{
			AgentID: "agent-1",
			OrgID:   "org-1",
			UserID:  "user-1",
			Message: "list the things",
		},
	}
}

func TestRunTurnWithToolCall(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data":     []interface{}{map[string]interface{}{"id": "t_1", "name": "first"}},
			"has_more": false,
		})
	}))
	defer upstream.Close()

	op := models.Operation{
		ID: "11111111-2222-3333-4444-555555555555", SourceID: "src-1",
		OperationID: "listThings", Name: "list_things", Method: "GET", Path: "/v1/things",
		ParameterSchema: map[string]models.ParameterSpec{
			"limit": {Type: "integer", In: "query"},
		},
		RiskLevel: models.RiskSafe,
	}
	wireName := models.ToolIdentifier(op.Name, op.ID)

	model := scriptedModel(t, wireName, `{"limit": 5}`)
	defer model.Close()

	fx := newFixture(t, op, upstream.URL, model.URL)
	rec := &chunkRecorder{}

	chatID, err := fx.runner.Run(context.Background(), fx.turnReq, rec.emit)
	require.NoError(t, err)
	require.NotEmpty(t, chatID)

	chunks := rec.all()
	var sawInput, sawResult, sawDone bool
	var text string
	for _, chunk := range chunks {
		if chunk.ToolState != nil && chunk.ToolState.State == models.StateInputAvailable {
			sawInput = true
			assert.Equal(t, wireName, chunk.ToolState.ToolName)
		}
		if chunk.ToolResult != nil {
			sawResult = true
			require.NotNil(t, chunk.ToolResult.Output)
			assert.Contains(t, chunk.ToolResult.Output.Result, "1 items returned")
		}
		if chunk.Done {
			sawDone = true
		}
		text += chunk.Content
	}
	assert.True(t, sawInput)
	assert.True(t, sawResult)
	assert.True(t, sawDone)
	assert.Equal(t, "All done.", text)

	// Persisted turn: user + assistant with the tool trace.
	msgs, err := fx.store.ListMessages(context.Background(), chatID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, models.StateOutputAvailable, msgs[1].ToolCalls[0].State)

	actions, err := fx.store.ListActions(context.Background(), models.ActionFilter{OrgID: "org-1"})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, models.ActionCompleted, actions[0].Status)
}

func TestRunTurnDangerousRejected(t *testing.T) {
	var upstreamHits int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&upstreamHits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	op := models.Operation{
		ID: "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee", SourceID: "src-1",
		OperationID: "deleteUser", Name: "delete_user", Method: "DELETE", Path: "/v1/users/{id}",
		ParameterSchema: map[string]models.ParameterSpec{
			"id": {Type: "string", In: "path", Required: true},
		},
		RiskLevel: models.RiskDangerous, RequiresConfirmation: true,
	}
	wireName := models.ToolIdentifier(op.Name, op.ID)

	model := scriptedModel(t, wireName, `{"id": "u_1"}`)
	defer model.Close()

	fx := newFixture(t, op, upstream.URL, model.URL)
	rec := &chunkRecorder{}

	done := make(chan error, 1)
	go func() {
		_, err := fx.runner.Run(context.Background(), fx.turnReq, rec.emit)
		done <- err
	}()

	// Wait for the gate, then decline.
	var approvalID string
	require.Eventually(t, func() bool {
		approvalID = rec.approvalID()
		return approvalID != ""
	}, 2*time.Second, 10*time.Millisecond)
	require.True(t, fx.gate.Resolve(approvalID, false))
	require.NoError(t, <-done)

	assert.Equal(t, int32(0), atomic.LoadInt32(&upstreamHits), "upstream must never be called")

	actions, err := fx.store.ListActions(context.Background(), models.ActionFilter{OrgID: "org-1"})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, models.ActionRejected, actions[0].Status)

	// The snapshot carries the declined decision.
	chats, err := fx.store.ListChats(context.Background(), "org-1", "user-1", 10)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	msgs, err := fx.store.ListMessages(context.Background(), chats[0].ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Len(t, msgs[1].ToolCalls, 1)
	snap := msgs[1].ToolCalls[0]
	require.NotNil(t, snap.Approved)
	assert.False(t, *snap.Approved)
	assert.Equal(t, models.StateOutputAvailable, snap.State)
}

func TestRunTurnDangerousApproved(t *testing.T) {
	var upstreamHits int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&upstreamHits, 1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"deleted": true})
	}))
	defer upstream.Close()

	op := models.Operation{
		ID: "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee", SourceID: "src-1",
		OperationID: "deleteUser", Name: "delete_user", Method: "DELETE", Path: "/v1/users/{id}",
		ParameterSchema: map[string]models.ParameterSpec{
			"id": {Type: "string", In: "path", Required: true},
		},
		RiskLevel: models.RiskDangerous, RequiresConfirmation: true,
	}
	wireName := models.ToolIdentifier(op.Name, op.ID)

	model := scriptedModel(t, wireName, `{"id": "u_1"}`)
	defer model.Close()

	fx := newFixture(t, op, upstream.URL, model.URL)
	rec := &chunkRecorder{}

	done := make(chan error, 1)
	go func() {
		_, err := fx.runner.Run(context.Background(), fx.turnReq, rec.emit)
		done <- err
	}()

	var approvalID string
	require.Eventually(t, func() bool {
		approvalID = rec.approvalID()
		return approvalID != ""
	}, 2*time.Second, 10*time.Millisecond)
	require.True(t, fx.gate.Resolve(approvalID, true))
	require.NoError(t, <-done)

	assert.Equal(t, int32(1), atomic.LoadInt32(&upstreamHits))

	// The record created at the gate advanced in place: still exactly
	// one, now completed, carrying the dispatched URL.
	actions, err := fx.store.ListActions(context.Background(), models.ActionFilter{OrgID: "org-1"})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, models.ActionCompleted, actions[0].Status)
	assert.Contains(t, actions[0].URL, "/v1/users/u_1")
	assert.Equal(t, 200, actions[0].ResponseStatus)
}

func TestRunTurnApprovalTimeoutStaysPending(t *testing.T) {
	var upstreamHits int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&upstreamHits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	op := models.Operation{
		ID: "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee", SourceID: "src-1",
		OperationID: "deleteUser", Name: "delete_user", Method: "DELETE", Path: "/v1/users/{id}",
		ParameterSchema: map[string]models.ParameterSpec{
			"id": {Type: "string", In: "path", Required: true},
		},
		RiskLevel: models.RiskDangerous, RequiresConfirmation: true,
	}
	wireName := models.ToolIdentifier(op.Name, op.ID)

	model := scriptedModel(t, wireName, `{"id": "u_1"}`)
	defer model.Close()

	fx := newFixture(t, op, upstream.URL, model.URL)
	fx.runner.approvalWindow = 50 * time.Millisecond
	rec := &chunkRecorder{}

	_, err := fx.runner.Run(context.Background(), fx.turnReq, rec.emit)
	require.NoError(t, err)

	assert.Equal(t, int32(0), atomic.LoadInt32(&upstreamHits), "upstream must never be called")

	actions, err := fx.store.ListActions(context.Background(), models.ActionFilter{OrgID: "org-1"})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, models.ActionPendingConfirmation, actions[0].Status)
}
