package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actionchat/actionchat/internal/config"
	"github.com/actionchat/actionchat/pkg/models"
)

const widgetSpec = `{
  "openapi": "3.0.0",
  "info": {"title": "Widgets", "version": "1.0.0"},
  "paths": {
    "/v1/widgets": {
      "get": {
        "operationId": "listWidgets",
        "summary": "List widgets",
        "parameters": [
          {"name": "limit", "in": "query", "schema": {"type": "integer"}}
        ]
      }
    },
    "/v1/widgets/{id}": {
      "parameters": [
        {"name": "id", "in": "path", "required": true, "schema": {"type": "string"}}
      ],
      "delete": {"operationId": "removeWidget", "summary": "Remove a widget"}
    }
  }
}`

func newTestServer(t *testing.T) *Server {
	t.Helper()
	t.Setenv("ACTIONCHAT_DATA_DIR", "-")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("ACTIONCHAT_API_KEYS", "")
	t.Setenv("ACTIONCHAT_JWT_SECRET", "")

	srv, err := NewWithConfig(context.Background(), config.Load())
	require.NoError(t, err)
	t.Cleanup(func() {
		srv.Pool.CloseAll()
		srv.Store.Close()
	})
	return srv
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
}

func TestHealthAndVersionArePublic(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{"/health", "/version"} {
		rec := doJSON(t, srv.Handler, "GET", path, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestBindIngestAndExecuteFlow(t *testing.T) {
	var upstreamHits int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&upstreamHits, 1)
		assert.Equal(t, "/v1/widgets", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []interface{}{
				map[string]interface{}{"id": "w_1", "name": "anvil"},
				map[string]interface{}{"id": "w_2", "name": "hammer"},
			},
			"has_more": false,
		})
	}))
	defer upstream.Close()

	srv := newTestServer(t)

	// Bind the source.
	rec := doJSON(t, srv.Handler, "POST", "/api/v1/sources", map[string]interface{}{
		"name":        "widgets",
		"base_url":    upstream.URL,
		"source_kind": "openapi",
		"auth_kind":   "none",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var src models.Source
	decode(t, rec, &src)

	// Ingest the document.
	req := httptest.NewRequest("POST", "/api/v1/sources/"+src.ID+"/ingest", bytes.NewBufferString(widgetSpec))
	ingestRec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(ingestRec, req)
	require.Equal(t, http.StatusOK, ingestRec.Code, ingestRec.Body.String())

	rec = doJSON(t, srv.Handler, "GET", "/api/v1/sources/"+src.ID+"/operations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ops []models.Operation
	decode(t, rec, &ops)
	require.Len(t, ops, 2)

	var listOp, deleteOp models.Operation
	for _, op := range ops {
		switch op.Name {
		case "listWidgets":
			listOp = op
		case "removeWidget":
			deleteOp = op
		}
	}
	require.NotEmpty(t, listOp.ID)
	require.NotEmpty(t, deleteOp.ID)

	// Create an agent and link the source.
	rec = doJSON(t, srv.Handler, "POST", "/api/v1/agents", map[string]interface{}{
		"name":  "ops",
		"model": "gpt-4o",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var agent models.Agent
	decode(t, rec, &agent)

	rec = doJSON(t, srv.Handler, "POST", "/api/v1/agents/"+agent.ID+"/links", map[string]interface{}{
		"source_id":  src.ID,
		"permission": "read_write",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Direct dispatch of the safe read.
	wireList := models.ToolIdentifier(listOp.Name, listOp.ID)
	rec = doJSON(t, srv.Handler, "POST", "/api/v1/tools/execute", map[string]interface{}{
		"agent_id": agent.ID,
		"tool":     wireList,
		"params":   map[string]interface{}{"limit": 2},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var execResp struct {
		OK     bool            `json:"ok"`
		Result models.Envelope `json:"result"`
	}
	decode(t, rec, &execResp)
	assert.True(t, execResp.OK)
	assert.Contains(t, execResp.Result.Result, "2 items returned")
	assert.Equal(t, int32(1), atomic.LoadInt32(&upstreamHits))

	// The dangerous delete is held for confirmation.
	wireDelete := models.ToolIdentifier(deleteOp.Name, deleteOp.ID)
	rec = doJSON(t, srv.Handler, "POST", "/api/v1/tools/execute", map[string]interface{}{
		"agent_id": agent.ID,
		"tool":     wireDelete,
		"params":   map[string]interface{}{"id": "w_1"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var gated map[string]interface{}
	decode(t, rec, &gated)
	assert.Equal(t, false, gated["ok"])
	assert.Equal(t, true, gated["requires_confirmation"])
	assert.Equal(t, int32(1), atomic.LoadInt32(&upstreamHits), "gated call must not reach upstream")

	// One completed action in the audit trail.
	rec = doJSON(t, srv.Handler, "GET", "/api/v1/activity", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Records []models.ActionRecord `json:"records"`
		Total   int64                 `json:"total"`
	}
	decode(t, rec, &page)
	require.Len(t, page.Records, 1)
	assert.Equal(t, models.ActionCompleted, page.Records[0].Status)
	assert.Equal(t, int64(1), page.Total)
}

func TestUnknownApprovalReturns404(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv.Handler, "POST", "/api/v1/approvals", models.ApprovalDecision{
		ApprovalID: "nope", Approved: true,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMCPSourceRejectsNonHTTPURI(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv.Handler, "POST", "/api/v1/sources", map[string]interface{}{
		"name":        "local-tools",
		"server_uri":  "stdio:///usr/bin/some-mcp",
		"source_kind": "mcp",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
}

func TestAPIKeyAuthEnforced(t *testing.T) {
	t.Setenv("ACTIONCHAT_DATA_DIR", "-")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("ACTIONCHAT_API_KEYS", "sk-test=org-1:user-1")
	t.Setenv("ACTIONCHAT_JWT_SECRET", "")

	srv, err := NewWithConfig(context.Background(), config.Load())
	require.NoError(t, err)
	defer srv.Store.Close()

	rec := doJSON(t, srv.Handler, "GET", "/api/v1/activity", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest("GET", "/api/v1/activity", nil)
	req.Header.Set("X-API-Key", "sk-test")
	authed := httptest.NewRecorder()
	srv.Handler.ServeHTTP(authed, req)
	assert.Equal(t, http.StatusOK, authed.Code, authed.Body.String())
}
