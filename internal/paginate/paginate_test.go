package paginate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actionchat/actionchat/internal/adapters"
	"github.com/actionchat/actionchat/internal/executor"
	"github.com/actionchat/actionchat/internal/mcppool"
	"github.com/actionchat/actionchat/internal/store"
	"github.com/actionchat/actionchat/pkg/models"
)

func item(id string) map[string]interface{} {
	return map[string]interface{}{"id": id}
}

func TestDetectCursorFamily(t *testing.T) {
	body := map[string]interface{}{
		"data":     []interface{}{item("a"), item("b")},
		"has_more": true,
	}
	det := Detect(nil, body)
	assert.Equal(t, FamilyCursor, det.Family)
	assert.Equal(t, "b", det.Cursor)
	assert.True(t, det.HasMore)

	next := det.NextArgs(map[string]interface{}{"limit": float64(2)}, 2)
	assert.Equal(t, "b", next["starting_after"])
	assert.Equal(t, float64(2), next["limit"])
}

func TestDetectCursorExhausted(t *testing.T) {
	body := map[string]interface{}{
		"data":     []interface{}{item("z")},
		"has_more": false,
	}
	det := Detect(nil, body)
	assert.Equal(t, FamilyCursor, det.Family)
	assert.False(t, det.HasMore)
}

func TestDetectOffsetFamily(t *testing.T) {
	args := map[string]interface{}{"limit": float64(2), "offset": float64(0)}
	body := map[string]interface{}{"results": []interface{}{item("a"), item("b")}}
	det := Detect(args, body)
	assert.Equal(t, FamilyOffset, det.Family)
	assert.True(t, det.HasMore)

	next := det.NextArgs(args, 2)
	assert.Equal(t, float64(2), next["offset"])
}

func TestDetectOffsetShortPage(t *testing.T) {
	args := map[string]interface{}{"limit": float64(10)}
	body := map[string]interface{}{"results": []interface{}{item("a")}}
	det := Detect(args, body)
	assert.Equal(t, FamilyOffset, det.Family)
	assert.False(t, det.HasMore)
}

func TestDetectPageFamily(t *testing.T) {
	args := map[string]interface{}{"page": float64(1)}
	body := map[string]interface{}{
		"items":       []interface{}{item("a")},
		"page":        float64(1),
		"total_pages": float64(3),
	}
	det := Detect(args, body)
	assert.Equal(t, FamilyPage, det.Family)
	assert.True(t, det.HasMore)

	next := det.NextArgs(args, 1)
	assert.Equal(t, float64(2), next["page"])
}

func TestDetectNoFamily(t *testing.T) {
	det := Detect(nil, map[string]interface{}{"id": "cus_1"})
	assert.Equal(t, FamilyNone, det.Family)
	assert.False(t, det.HasMore)
}

func TestDetectBareArray(t *testing.T) {
	det := Detect(map[string]interface{}{"limit": float64(2)}, []interface{}{item("a"), item("b")})
	assert.Equal(t, FamilyOffset, det.Family)
	assert.Len(t, det.Data, 2)
}

// ── Engine ───────────────────────────────────────────────────

func newTestEngine(t *testing.T) (*Engine, func() []models.ActionRecord) {
	t.Helper()
	t.Setenv("ACTIONCHAT_DATA_DIR", "-")
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	exec := executor.New(s, adapters.NewRegistry(), mcppool.NewPool(time.Second), 5*time.Second)
	return NewEngine(exec), func() []models.ActionRecord {
		recs, err := s.ListActions(context.Background(), models.ActionFilter{OrgID: "org-1"})
		require.NoError(t, err)
		return recs
	}
}

func cursorServer(t *testing.T) *httptest.Server {
	t.Helper()
	pages := map[string]map[string]interface{}{
		"": {
			"data":     []interface{}{item("a"), item("b")},
			"has_more": true,
		},
		"b": {
			"data":     []interface{}{item("c"), item("d")},
			"has_more": false,
		},
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		after := r.URL.Query().Get("starting_after")
		page, ok := pages[after]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(page)
	}))
}

func listRequest(baseURL string) *executor.Request {
	return &executor.Request{
		Op: &models.Operation{
			ID:          "op-list",
			SourceID:    "src-1",
			OperationID: "listThings",
			Name:        "list_things",
			Method:      "GET",
			Path:        "/v1/things",
			ParameterSchema: map[string]models.ParameterSpec{
				"limit":          {Type: "integer", In: "query"},
				"starting_after": {Type: "string", In: "query"},
			},
		},
		Source: &models.Source{
			ID: "src-1", OrgID: "org-1", Name: "things",
			BaseURL: baseURL, SourceKind: models.SourceOpenAPI, AuthKind: models.AuthNone,
		},
		OrgID:      "org-1",
		UserID:     "user-1",
		ToolCallID: "call_1",
		ToolName:   "list_things_abcd1234",
		Args:       map[string]interface{}{"limit": float64(2)},
	}
}

func TestFetchNextPageCursor(t *testing.T) {
	srv := cursorServer(t)
	defer srv.Close()

	engine, actions := newTestEngine(t)
	req := listRequest(srv.URL)

	env, info, err := engine.Paginate(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, FamilyCursor, info.Family)
	assert.Equal(t, 1, info.Pages)
	assert.True(t, info.HasMore)
	assert.Equal(t, 200, env.Meta.ResponseStatus)

	next, err := engine.FetchNextPage(context.Background(), "call_1")
	require.NoError(t, err)
	assert.Equal(t, 2, next.Pages)
	assert.False(t, next.HasMore)
	require.Len(t, next.Data, 2)
	assert.Equal(t, "c", next.Data[0].(map[string]interface{})["id"])

	// Cache holds the contiguous range [1..2].
	page1, err := engine.ViewPage("call_1", 1)
	require.NoError(t, err)
	assert.Equal(t, "a", page1[0].(map[string]interface{})["id"])
	all, err := engine.ViewAll("call_1")
	require.NoError(t, err)
	assert.Len(t, all, 4)
	_, err = engine.ViewPage("call_1", 3)
	assert.Error(t, err)

	// Both dispatches audited, both flagged paginated.
	recs := actions()
	require.Len(t, recs, 2)
	for _, rec := range recs {
		assert.True(t, rec.Paginated)
	}
}

func TestFetchNextPageExhausted(t *testing.T) {
	srv := cursorServer(t)
	defer srv.Close()

	engine, _ := newTestEngine(t)
	_, _, err := engine.Paginate(context.Background(), listRequest(srv.URL))
	require.NoError(t, err)

	_, err = engine.FetchNextPage(context.Background(), "call_1")
	require.NoError(t, err)

	// No more pages: the call is a no-op reporting the cache size.
	info, err := engine.FetchNextPage(context.Background(), "call_1")
	require.NoError(t, err)
	assert.Equal(t, 2, info.Pages)
	assert.False(t, info.HasMore)
}

func TestWindowExpiresAfterTTL(t *testing.T) {
	srv := cursorServer(t)
	defer srv.Close()

	engine, _ := newTestEngine(t)
	_, _, err := engine.Paginate(context.Background(), listRequest(srv.URL))
	require.NoError(t, err)

	// Age the window past the TTL; the next access misses.
	engine.mu.Lock()
	engine.byInv["call_1"].touched = time.Now().Add(-time.Hour)
	engine.mu.Unlock()

	_, err = engine.ViewAll("call_1")
	assert.Error(t, err)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.Empty(t, engine.byInv)
}

func TestDropReleasesWindow(t *testing.T) {
	srv := cursorServer(t)
	defer srv.Close()

	engine, _ := newTestEngine(t)
	_, info, err := engine.Paginate(context.Background(), listRequest(srv.URL))
	require.NoError(t, err)
	require.NotNil(t, info)

	engine.Drop("call_1")
	_, err = engine.ViewAll("call_1")
	assert.Error(t, err)
	_, err = engine.FetchNextPage(context.Background(), "call_1")
	assert.Error(t, err)
}

func TestTrackIgnoresNonPaginated(t *testing.T) {
	engine, _ := newTestEngine(t)
	info := engine.Track("call_9", listRequest("http://unused"), map[string]interface{}{"id": "x"})
	assert.Nil(t, info)
	_, err := engine.ViewAll("call_9")
	assert.Error(t, err)
}
