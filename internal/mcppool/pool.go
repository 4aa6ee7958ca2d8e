// Package mcppool maintains pooled MCP client connections to upstream
// tool servers. Connections are keyed by (source, credential tail) so
// different users of the same server never share a session, while
// repeated calls by one user reuse the established transport.
package mcppool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog/log"

	"github.com/actionchat/actionchat/internal/broker"
	"github.com/actionchat/actionchat/pkg/models"
)

const (
	clientName      = "actionchat"
	clientVersion   = "1.0.0"
	protocolVersion = "2024-11-05"

	defaultCallTimeout = 60 * time.Second
)

// poolKey identifies one pooled connection. The credential tail keeps
// sessions per-user without storing the secret in the key.
type poolKey struct {
	sourceID string
	credTail string
}

type pooledConn struct {
	client *mcpclient.Client
}

// Pool lazily dials MCP servers over streamable HTTP and caches the
// initialized clients. Safe for concurrent use.
type Pool struct {
	mu      sync.Mutex
	conns   map[poolKey]*pooledConn
	timeout time.Duration
}

func NewPool(timeout time.Duration) *Pool {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Pool{
		conns:   make(map[poolKey]*pooledConn),
		timeout: timeout,
	}
}

// headerRoundTripper injects static headers on every request of a
// pooled connection. Used to carry upstream auth.
type headerRoundTripper struct {
	base    http.RoundTripper
	headers map[string]string
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(h.headers) > 0 {
		req = req.Clone(req.Context())
		for k, v := range h.headers {
			req.Header.Set(k, v)
		}
	}
	return h.base.RoundTrip(req)
}

// ValidateServerURI rejects server URIs the pool cannot dial. Only
// streamable HTTP transports are supported; stdio command URIs are a
// deployment-side concern this service does not take on.
func ValidateServerURI(uri string) error {
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		return nil
	}
	return broker.E(broker.KindMCPUnsupportedTransport,
		"unsupported MCP transport for %q: only http(s) streamable servers are supported", uri)
}

// get returns an initialized client for (source, credential), dialing
// and performing the MCP handshake on first use.
func (p *Pool) get(ctx context.Context, src *models.Source, cred *models.Credential) (*pooledConn, poolKey, error) {
	key := poolKey{sourceID: src.ID}
	if cred != nil {
		key.credTail = cred.Tail()
	}

	p.mu.Lock()
	if conn, ok := p.conns[key]; ok {
		p.mu.Unlock()
		return conn, key, nil
	}
	p.mu.Unlock()

	conn, err := p.dial(ctx, src, cred)
	if err != nil {
		return nil, key, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.conns[key]; ok {
		// Lost the race; keep the winner.
		_ = conn.client.Close()
		return existing, key, nil
	}
	p.conns[key] = conn
	return conn, key, nil
}

func (p *Pool) dial(ctx context.Context, src *models.Source, cred *models.Credential) (*pooledConn, error) {
	if err := ValidateServerURI(src.ServerURI); err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		Transport: &headerRoundTripper{
			base:    http.DefaultTransport,
			headers: authHeaders(src, cred),
		},
		Timeout: p.timeout,
	}

	c, err := mcpclient.NewStreamableHttpClient(
		src.ServerURI,
		mcptransport.WithHTTPTimeout(p.timeout),
		mcptransport.WithHTTPBasicClient(httpClient),
	)
	if err != nil {
		return nil, broker.Wrap(broker.KindUpstreamTransport, err, "create MCP client for source %s", src.ID)
	}

	// Start with a background context so the transport outlives the
	// request that triggered the dial.
	if err := c.Start(context.Background()); err != nil {
		return nil, broker.Wrap(broker.KindUpstreamTransport, err, "start MCP transport for source %s", src.ID)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = protocolVersion
	initReq.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, broker.Wrap(broker.KindUpstreamTransport, err, "MCP initialize failed for source %s", src.ID)
	}

	log.Info().
		Str("source_id", src.ID).
		Str("server_uri", src.ServerURI).
		Msg("mcp connection established")
	return &pooledConn{client: c}, nil
}

// authHeaders maps the source's auth scheme onto HTTP headers carried
// by every request of the connection.
func authHeaders(src *models.Source, cred *models.Credential) map[string]string {
	if cred == nil {
		return nil
	}
	switch src.AuthKind {
	case models.AuthBearer, models.AuthPassthrough:
		if cred.Token != "" {
			return map[string]string{"Authorization": "Bearer " + cred.Token}
		}
	case models.AuthAPIKey:
		name := "X-API-Key"
		if src.AuthConfig != nil && src.AuthConfig.HeaderName != "" {
			name = src.AuthConfig.HeaderName
		}
		if cred.APIKey != "" {
			return map[string]string{name: cred.APIKey}
		}
	case models.AuthHeaderPair:
		if cred.HeaderName != "" {
			return map[string]string{cred.HeaderName: cred.HeaderValue}
		}
	}
	return nil
}

func (p *Pool) evict(key poolKey) {
	p.mu.Lock()
	conn, ok := p.conns[key]
	if ok {
		delete(p.conns, key)
	}
	p.mu.Unlock()
	if ok {
		_ = conn.client.Close()
	}
}

// ListTools fetches the server's tool inventory, used at ingestion.
func (p *Pool) ListTools(ctx context.Context, src *models.Source, cred *models.Credential) ([]mcp.Tool, error) {
	conn, key, err := p.get(ctx, src, cred)
	if err != nil {
		return nil, err
	}
	resp, err := conn.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		// One reconnect attempt per call. A pooled transport may have
		// gone stale since the last use.
		p.evict(key)
		conn, _, rerr := p.get(ctx, src, cred)
		if rerr != nil {
			return nil, rerr
		}
		resp, err = conn.client.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			return nil, broker.Wrap(broker.KindUpstreamTransport, err, "MCP tools/list failed for source %s", src.ID)
		}
	}
	return resp.Tools, nil
}

// CallResult is the folded outcome of one tools/call round trip.
type CallResult struct {
	Body    interface{}
	IsError bool
}

// CallTool invokes a named tool and folds the MCP content array into a
// single body value. Retries once through a fresh connection on
// transport failure.
func (p *Pool) CallTool(ctx context.Context, src *models.Source, cred *models.Credential, toolName string, args map[string]interface{}) (*CallResult, error) {
	conn, key, err := p.get(ctx, src, cred)
	if err != nil {
		return nil, err
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = args

	resp, err := conn.client.CallTool(ctx, req)
	if err != nil {
		p.evict(key)
		conn, _, rerr := p.get(ctx, src, cred)
		if rerr != nil {
			return nil, rerr
		}
		resp, err = conn.client.CallTool(ctx, req)
		if err != nil {
			return nil, broker.Wrap(broker.KindUpstreamTransport, err, "MCP tools/call %s failed for source %s", toolName, src.ID)
		}
	}

	return &CallResult{
		Body:    FoldContent(resp.Content),
		IsError: resp.IsError,
	}, nil
}

// CloseSource drops every pooled connection for one source. Called when
// a source is deleted or its credentials rotate.
func (p *Pool) CloseSource(sourceID string) {
	p.mu.Lock()
	var stale []*pooledConn
	for key, conn := range p.conns {
		if key.sourceID == sourceID {
			stale = append(stale, conn)
			delete(p.conns, key)
		}
	}
	p.mu.Unlock()
	for _, conn := range stale {
		_ = conn.client.Close()
	}
}

// CloseAll tears down the pool on shutdown.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[poolKey]*pooledConn)
	p.mu.Unlock()
	for _, conn := range conns {
		_ = conn.client.Close()
	}
}

// FoldContent collapses an MCP content array into one body value.
// A single text block that parses as JSON becomes structured data;
// multiple text blocks concatenate; non-text blocks leave a marker.
func FoldContent(contents []mcp.Content) interface{} {
	var texts []string
	for _, c := range contents {
		switch block := c.(type) {
		case mcp.TextContent:
			texts = append(texts, block.Text)
		case mcp.ImageContent:
			texts = append(texts, fmt.Sprintf("[image: %s]", block.MIMEType))
		case mcp.EmbeddedResource:
			texts = append(texts, "[embedded resource]")
		}
	}
	if len(texts) == 0 {
		return nil
	}
	joined := strings.Join(texts, "\n")
	if parsed, ok := tryParseJSON(joined); ok {
		return parsed
	}
	return map[string]interface{}{"text": joined}
}

func tryParseJSON(s string) (interface{}, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return nil, false
	}
	var v interface{}
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return nil, false
	}
	return v, true
}
