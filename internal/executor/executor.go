// Package executor dispatches resolved operations against upstream
// APIs and MCP servers, normalizes the outcome into an envelope for
// the chat stream, and writes the durable audit record.
package executor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/actionchat/actionchat/internal/adapters"
	"github.com/actionchat/actionchat/internal/broker"
	"github.com/actionchat/actionchat/internal/mcppool"
	"github.com/actionchat/actionchat/internal/store"
	"github.com/actionchat/actionchat/pkg/models"
)

const (
	defaultTimeout = 60 * time.Second

	// maxResponseRead bounds how much of an upstream body is read.
	maxResponseRead = 4 * 1024 * 1024

	// defaultDedupTTL is how long a dispatched envelope is remembered
	// for tool-call-id dedup; maxDedupEntries caps the cache outright.
	defaultDedupTTL = 15 * time.Minute
	maxDedupEntries = 1024
)

// Request carries everything needed to dispatch one operation.
type Request struct {
	Op     *models.Operation
	Source *models.Source
	Cred   *models.Credential
	Hints  *models.RuntimeHints

	OrgID   string
	UserID  string
	AgentID string

	// ToolCallID dedupes retried dispatches within a process. ToolName
	// is the wire name shown in the audit trail.
	ToolCallID string
	ToolName   string

	// ActionID, when set, names an existing audit record to advance in
	// place instead of appending a new one. The confirmation gate
	// creates the record when it parks a call for approval.
	ActionID string

	Args      map[string]interface{}
	Paginated bool
}

// Executor performs upstream dispatches. One instance serves all
// tenants; per-call state arrives in the Request.
type Executor struct {
	store    store.Store
	adapters *adapters.Registry
	pool     *mcppool.Pool
	client   *http.Client
	timeout  time.Duration

	mu       sync.Mutex
	seen     map[string]seenEntry
	dedupTTL time.Duration
}

// seenEntry is one dedup cache slot; entries expire after dedupTTL.
type seenEntry struct {
	env *models.Envelope
	at  time.Time
}

func New(s store.Store, reg *adapters.Registry, pool *mcppool.Pool, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Executor{
		store:    s,
		adapters: reg,
		pool:     pool,
		client:   &http.Client{Timeout: timeout},
		timeout:  timeout,
		seen:     make(map[string]seenEntry),
		dedupTTL: defaultDedupTTL,
	}
}

// Execute dispatches one operation. A repeated ToolCallID returns the
// cached envelope without touching the upstream again; otherwise
// exactly one ActionRecord is written per call.
func (e *Executor) Execute(ctx context.Context, req *Request) (*models.Envelope, error) {
	if req.ToolCallID != "" {
		e.mu.Lock()
		if entry, ok := e.seen[req.ToolCallID]; ok && time.Since(entry.at) < e.dedupTTL {
			e.mu.Unlock()
			log.Debug().Str("tool_call_id", req.ToolCallID).Msg("duplicate tool call, returning cached result")
			return entry.env, nil
		}
		e.mu.Unlock()
	}

	args := CleanArgs(req.Args)

	var adapter *adapters.Adapter
	if req.Op.Method != models.MethodMCP {
		adapter = e.adapters.Match(req.Source.BaseURL)
		args = adapter.ApplyBefore(args, req.Op, req.Source)
	}
	args = ApplyArgHints(req.Hints, req.Op.Name, args)

	var res *models.ExecResult
	var reqBody string
	var err error
	if req.Op.Method == models.MethodMCP || req.Source.SourceKind == models.SourceMCP {
		res, reqBody, err = e.executeMCP(ctx, req, args)
	} else {
		res, reqBody, err = e.executeHTTP(ctx, req, adapter, args)
	}
	if err != nil {
		return nil, err
	}

	body, warning := ApplyResponseHints(req.Hints, res.Body)
	res.Body = body

	summary := SummarizeForLLM(res.Body, res.Status)
	if res.ErrorMessage != "" && res.Status == 0 {
		summary = "Request failed: " + res.ErrorMessage
	}
	if warning != "" {
		summary += "\n" + warning
	}

	e.record(ctx, req, res, reqBody)

	env := &models.Envelope{
		Meta: models.ActionMeta{
			ToolID:         req.Op.ID,
			ToolName:       req.ToolName,
			SourceID:       req.Source.ID,
			SourceName:     req.Source.Name,
			Method:         req.Op.Method,
			URL:            res.URL,
			RequestBody:    reqBody,
			ResponseStatus: res.Status,
			ResponseBody:   res.Body,
			DurationMs:     res.DurationMs,
			ErrorMessage:   res.ErrorMessage,
		},
		Result: summary,
	}
	if req.ToolCallID != "" {
		e.mu.Lock()
		e.pruneSeenLocked(time.Now())
		e.seen[req.ToolCallID] = seenEntry{env: env, at: time.Now()}
		e.mu.Unlock()
	}
	return env, nil
}

// pruneSeenLocked drops expired dedup entries and, past the cap, the
// oldest ones. Callers hold e.mu.
func (e *Executor) pruneSeenLocked(now time.Time) {
	for id, entry := range e.seen {
		if now.Sub(entry.at) >= e.dedupTTL {
			delete(e.seen, id)
		}
	}
	for len(e.seen) >= maxDedupEntries {
		oldestID := ""
		var oldest time.Time
		for id, entry := range e.seen {
			if oldestID == "" || entry.at.Before(oldest) {
				oldestID, oldest = id, entry.at
			}
		}
		delete(e.seen, oldestID)
	}
}

// RecordRejection writes the audit entry for a gated call the user
// declined. A pending record named by ActionID advances to rejected;
// otherwise a fresh record is appended. No upstream traffic happens.
func (e *Executor) RecordRejection(ctx context.Context, req *Request) {
	rec := &models.ActionRecord{
		OrgID:    req.OrgID,
		UserID:   req.UserID,
		AgentID:  req.AgentID,
		ToolID:   req.Op.ID,
		SourceID: req.Source.ID,
		Method:   req.Op.Method,
		URL:      req.Op.Path,
		Status:   models.ActionRejected,
	}
	if req.ActionID != "" {
		rec.ID = req.ActionID
		if err := e.store.UpdateAction(ctx, rec); err != nil {
			log.Error().Err(err).Str("action_id", req.ActionID).Msg("failed to record rejection")
		}
		return
	}
	rec.ID = uuid.NewString()
	if err := e.store.CreateAction(ctx, rec); err != nil {
		log.Error().Err(err).Str("tool_id", req.Op.ID).Msg("failed to record rejection")
	}
}

func (e *Executor) record(ctx context.Context, req *Request, res *models.ExecResult, reqBody string) {
	status := models.ActionCompleted
	if !res.OK() {
		status = models.ActionFailed
	}
	rec := &models.ActionRecord{
		OrgID:          req.OrgID,
		UserID:         req.UserID,
		AgentID:        req.AgentID,
		ToolID:         req.Op.ID,
		SourceID:       req.Source.ID,
		Method:         req.Op.Method,
		URL:            res.URL,
		RequestBody:    reqBody,
		ResponseStatus: res.Status,
		ResponseBody:   rawBodyText(res.Body),
		DurationMs:     res.DurationMs,
		Status:         status,
		ErrorMessage:   res.ErrorMessage,
		Paginated:      req.Paginated,
	}
	if req.ActionID != "" {
		rec.ID = req.ActionID
		if err := e.store.UpdateAction(ctx, rec); err != nil {
			log.Error().Err(err).Str("action_id", req.ActionID).Msg("failed to update action")
		}
		return
	}
	rec.ID = uuid.NewString()
	if err := e.store.CreateAction(ctx, rec); err != nil {
		log.Error().Err(err).Str("tool_id", req.Op.ID).Msg("failed to record action")
	}
}

// ── MCP dispatch ─────────────────────────────────────────────

func (e *Executor) executeMCP(ctx context.Context, req *Request, args map[string]interface{}) (*models.ExecResult, string, error) {
	toolName := req.Op.MCPToolName
	if toolName == "" {
		toolName = req.Op.Name
	}

	reqBody := marshalArgs(args)
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	result, err := e.pool.CallTool(callCtx, req.Source, req.Cred, toolName, args)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		if broker.Is(err, broker.KindMCPUnsupportedTransport) {
			return nil, "", err
		}
		return &models.ExecResult{
			URL:          req.Source.ServerURI,
			Status:       0,
			DurationMs:   elapsed,
			ErrorMessage: err.Error(),
		}, reqBody, nil
	}

	res := &models.ExecResult{
		URL:        req.Source.ServerURI,
		Status:     http.StatusOK,
		Body:       result.Body,
		DurationMs: elapsed,
	}
	if result.IsError {
		res.Status = http.StatusBadGateway
		res.ErrorMessage = "tool reported an error"
	}
	return res, reqBody, nil
}

// ── HTTP dispatch ────────────────────────────────────────────

func (e *Executor) executeHTTP(ctx context.Context, req *Request, adapter *adapters.Adapter, args map[string]interface{}) (*models.ExecResult, string, error) {
	fullURL, consumed := BuildURL(req.Source.BaseURL, req.Op.Path, args, req.Op.ParameterSchema)
	var body map[string]interface{}
	if methodHasBody(req.Op.Method) {
		body = BuildBody(args, req.Op.ParameterSchema, req.Op.RequestBodySchema, consumed)
	}

	var payload []byte
	contentType := ""
	if body != nil {
		switch adapter.ContentType {
		case adapters.ContentForm:
			payload = []byte(adapters.FormEncode(body))
			contentType = "application/x-www-form-urlencoded"
		default:
			var err error
			payload, err = json.Marshal(body)
			if err != nil {
				return nil, "", broker.Wrap(broker.KindInternal, err, "marshal request body")
			}
			contentType = "application/json"
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Op.Method, fullURL, bytes.NewReader(payload))
	if err != nil {
		return nil, "", broker.Wrap(broker.KindInternal, err, "build request for %s", req.Op.Name)
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if err := applyAuth(httpReq, req.Source, req.Cred); err != nil {
		return nil, "", err
	}
	for k, v := range adapter.ExtraHeaders(req.Source, req.Cred) {
		httpReq.Header.Set(k, v)
	}
	if req.UserID != "" {
		httpReq.Header.Set("X-Mock-User", req.UserID)
	}

	reqBody := string(payload)
	start := time.Now()
	resp, err := e.client.Do(httpReq)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return &models.ExecResult{
			URL:          fullURL,
			Status:       0,
			DurationMs:   elapsed,
			ErrorMessage: transportError(err),
		}, reqBody, nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseRead))
	if err != nil {
		return &models.ExecResult{
			URL:          fullURL,
			Status:       resp.StatusCode,
			DurationMs:   elapsed,
			ErrorMessage: fmt.Sprintf("read response: %v", err),
		}, reqBody, nil
	}

	parsed := parseBody(raw)
	if adapter != nil && parsed != nil {
		parsed = adapter.ApplyAfter(parsed, req.Op, req.Source)
	}

	res := &models.ExecResult{
		URL:        fullURL,
		Status:     resp.StatusCode,
		Body:       parsed,
		DurationMs: elapsed,
	}
	if !res.OK() {
		res.ErrorMessage = fmt.Sprintf("upstream returned %d", resp.StatusCode)
	}
	return res, reqBody, nil
}

// methodHasBody reports whether the method carries a request body.
// GET-family dispatches route every argument through the path or
// query and send none.
func methodHasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// applyAuth sets the upstream auth header for the source's scheme.
// A scheme that needs a credential fails as missing_credentials when
// none is bound; passthrough forwards the user's token only when one
// is present.
func applyAuth(req *http.Request, src *models.Source, cred *models.Credential) error {
	switch src.AuthKind {
	case models.AuthNone:
		return nil
	case models.AuthPassthrough:
		if cred != nil && cred.Token != "" {
			req.Header.Set("Authorization", "Bearer "+cred.Token)
		}
		return nil
	case models.AuthBearer:
		if cred == nil || cred.Token == "" {
			return broker.E(broker.KindMissingCredentials, "no token bound for source %s", src.Name)
		}
		req.Header.Set("Authorization", "Bearer "+cred.Token)
	case models.AuthAPIKey:
		if cred == nil || cred.APIKey == "" {
			return broker.E(broker.KindMissingCredentials, "no API key bound for source %s", src.Name)
		}
		name := "X-API-Key"
		if src.AuthConfig != nil && src.AuthConfig.HeaderName != "" {
			name = src.AuthConfig.HeaderName
		}
		req.Header.Set(name, cred.APIKey)
	case models.AuthBasic:
		if cred == nil || cred.Username == "" {
			return broker.E(broker.KindMissingCredentials, "no basic credentials bound for source %s", src.Name)
		}
		raw := base64.StdEncoding.EncodeToString([]byte(cred.Username + ":" + cred.Password))
		req.Header.Set("Authorization", "Basic "+raw)
	case models.AuthHeaderPair:
		if cred == nil || cred.HeaderName == "" {
			return broker.E(broker.KindMissingCredentials, "no header credentials bound for source %s", src.Name)
		}
		req.Header.Set(cred.HeaderName, cred.HeaderValue)
	}
	return nil
}

// parseBody decodes a JSON response, falling back to a text wrapper
// for non-JSON upstreams.
func parseBody(raw []byte) interface{} {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(trimmed, &v); err == nil {
		return v
	}
	text := string(trimmed)
	if len(text) > models.ResponseBodyCap {
		text = text[:models.ResponseBodyCap]
	}
	return map[string]interface{}{"text": text}
}

func transportError(err error) string {
	msg := err.Error()
	if strings.Contains(msg, "context deadline exceeded") {
		return "request timed out"
	}
	return msg
}

func marshalArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return ""
	}
	b, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return string(b)
}
