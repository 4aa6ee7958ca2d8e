package models

import (
	"time"
)

// ── Org (Workspace/Tenant) ───────────────────────────────────

type Org struct {
	ID        string            `json:"id" db:"id"`
	Name      string            `json:"name" db:"name"`
	Owner     string            `json:"owner" db:"owner"`
	Tags      map[string]string `json:"tags,omitempty"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}

// ── Agent ────────────────────────────────────────────────────

// Agent is a per-org configuration binding a system prompt, a model
// choice, and a set of Sources (via AgentSourceLink).
type Agent struct {
	ID           string    `json:"id" db:"id"`
	OrgID        string    `json:"org_id" db:"org_id"`
	Name         string    `json:"name" db:"name"`
	Description  string    `json:"description,omitempty" db:"description"`
	SystemPrompt string    `json:"system_prompt,omitempty" db:"system_prompt"`
	Model        string    `json:"model" db:"model"`
	MaxSteps     int       `json:"max_steps,omitempty" db:"max_steps"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
	CreatedBy    string    `json:"created_by,omitempty" db:"created_by"`
}

// ── Source ───────────────────────────────────────────────────

type SourceKind string

const (
	SourceOpenAPI SourceKind = "openapi"
	SourceMCP     SourceKind = "mcp"
	SourceManual  SourceKind = "manual"
)

type AuthKind string

const (
	AuthNone        AuthKind = "none"
	AuthBearer      AuthKind = "bearer"
	AuthAPIKey      AuthKind = "apiKey"
	AuthBasic       AuthKind = "basic"
	AuthHeaderPair  AuthKind = "headerPair"
	AuthPassthrough AuthKind = "passthrough"
)

// AuthConfig describes how credentials map onto upstream requests:
// header names for apiKey auth, field labels shown when binding, etc.
type AuthConfig struct {
	HeaderName  string   `json:"header_name,omitempty"`  // apiKey: defaults to X-API-Key
	FieldLabels []string `json:"field_labels,omitempty"` // labels for the credential form
}

// Source is a bound upstream service. Every Source belongs to exactly
// one org; it is exposed to agents through AgentSourceLinks.
type Source struct {
	ID          string      `json:"id" db:"id"`
	OrgID       string      `json:"org_id" db:"org_id"`
	Name        string      `json:"name" db:"name"`
	Description string      `json:"description,omitempty" db:"description"`
	BaseURL     string      `json:"base_url,omitempty" db:"base_url"`     // HTTP sources
	ServerURI   string      `json:"server_uri,omitempty" db:"server_uri"` // MCP sources
	SourceKind  SourceKind  `json:"source_kind" db:"source_kind"`
	AuthKind    AuthKind    `json:"auth_kind" db:"auth_kind"`
	AuthConfig  *AuthConfig `json:"auth_config,omitempty"`

	// TemplateRef points into the shared template catalog; the template
	// carries runtime hints applied to every call against this source.
	TemplateRef string `json:"template_ref,omitempty" db:"template_ref"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ── Operation ────────────────────────────────────────────────

type RiskLevel string

const (
	RiskSafe      RiskLevel = "safe"
	RiskModerate  RiskLevel = "moderate"
	RiskDangerous RiskLevel = "dangerous"
)

// MethodMCP marks operations dispatched over MCP instead of HTTP.
const MethodMCP = "MCP"

// ParameterSpec describes one property of an Operation's parameter
// schema. In tags where each argument belongs: path, query, or body.
type ParameterSpec struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	In          string `json:"in"` // path, query, body
	Required    bool   `json:"required,omitempty"`
}

// Operation is a single callable API action derived from a Source.
//
// Exactly one of the two embedding columns is populated per record; the
// width is fixed per deployment by the configured embedding driver.
type Operation struct {
	ID          string `json:"id" db:"id"`
	SourceID    string `json:"source_id" db:"source_id"`
	OperationID string `json:"operation_id" db:"operation_id"` // stable across re-ingests
	Name        string `json:"name" db:"name"`
	Description string `json:"description,omitempty" db:"description"`
	Method      string `json:"method" db:"method"` // GET/POST/PUT/PATCH/DELETE/HEAD/OPTIONS/MCP
	Path        string `json:"path,omitempty" db:"path"`
	MCPToolName string `json:"mcp_tool_name,omitempty" db:"mcp_tool_name"`

	ParameterSchema   map[string]ParameterSpec `json:"parameter_schema,omitempty"`
	RequestBodySchema map[string]interface{}   `json:"request_body_schema,omitempty"`

	RiskLevel            RiskLevel `json:"risk_level" db:"risk_level"`
	RequiresConfirmation bool      `json:"requires_confirmation" db:"requires_confirmation"`
	Tags                 []string  `json:"tags,omitempty"`

	Embedding1536 []float64 `json:"-" db:"embedding_1536"`
	Embedding768  []float64 `json:"-" db:"embedding_768"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// IsRead reports whether the operation only reads upstream state.
func (o *Operation) IsRead() bool {
	switch o.Method {
	case "GET", "HEAD", "OPTIONS":
		return true
	}
	return false
}

// Embedding returns whichever vector column is populated.
func (o *Operation) Embedding() []float64 {
	if len(o.Embedding1536) > 0 {
		return o.Embedding1536
	}
	return o.Embedding768
}

// SetEmbedding stores the vector in the column matching its width.
func (o *Operation) SetEmbedding(v []float64) {
	switch len(v) {
	case 1536:
		o.Embedding1536 = v
		o.Embedding768 = nil
	case 768:
		o.Embedding768 = v
		o.Embedding1536 = nil
	}
}

// ── Agent ↔ Source Link ──────────────────────────────────────

type Permission string

const (
	PermissionRead      Permission = "read"
	PermissionReadWrite Permission = "read_write"
)

// AgentSourceLink connects an Agent to a Source with a capability.
// permission=read exposes only GET/HEAD/OPTIONS operations.
type AgentSourceLink struct {
	ID         string     `json:"id" db:"id"`
	AgentID    string     `json:"agent_id" db:"agent_id"`
	SourceID   string     `json:"source_id" db:"source_id"`
	Permission Permission `json:"permission" db:"permission"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// ── Credential ───────────────────────────────────────────────

// Credential is a per-user secret bound to a single Source. Never
// shared across users; at most one active Credential per (user, source).
type Credential struct {
	ID       string `json:"id" db:"id"`
	OrgID    string `json:"org_id" db:"org_id"`
	UserID   string `json:"user_id" db:"user_id"`
	SourceID string `json:"source_id" db:"source_id"`

	Token       string `json:"token,omitempty" db:"token"`               // bearer / passthrough
	APIKey      string `json:"api_key,omitempty" db:"api_key"`           // apiKey
	Username    string `json:"username,omitempty" db:"username"`         // basic
	Password    string `json:"password,omitempty" db:"password"`         // basic
	HeaderName  string `json:"header_name,omitempty" db:"header_name"`   // headerPair
	HeaderValue string `json:"header_value,omitempty" db:"header_value"` // headerPair

	Active        bool       `json:"active" db:"active"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	RotatedAt     *time.Time `json:"rotated_at,omitempty" db:"rotated_at"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty" db:"deactivated_at"`
}

// Tail returns the last 8 characters of the credential's strongest
// secret. Used to key pooled MCP connections without holding the secret.
func (c *Credential) Tail() string {
	secret := c.Token
	if secret == "" {
		secret = c.APIKey
	}
	if secret == "" {
		secret = c.HeaderValue
	}
	if secret == "" {
		secret = c.Password
	}
	if len(secret) <= 8 {
		return secret
	}
	return secret[len(secret)-8:]
}

// ── Source Templates & Runtime Hints ─────────────────────────

// ListExpansionHint injects default values for an expansion parameter
// on tools whose name matches the glob (e.g. "list_*").
type ListExpansionHint struct {
	Param    string   `json:"param"`     // e.g. "expand"
	Default  []string `json:"default"`   // e.g. ["*"] or ["data.customer"]
	ToolGlob string   `json:"tool_glob"` // e.g. "list_*"
}

// ResponseHints control post-processing of upstream responses.
type ResponseHints struct {
	UnwrapData bool `json:"unwrap_data,omitempty"` // unwrap body.data when true
	DetectThin bool `json:"detect_thin,omitempty"` // warn on {id}-only list items
}

// RuntimeHints are template-level rewrites applied to every call made
// against sources referencing the template.
type RuntimeHints struct {
	ListExpansion   *ListExpansionHint `json:"list_expansion,omitempty"`
	FetchEnrichment string             `json:"fetch_enrichment,omitempty"` // companion tool for thin results
	LLMGuidance     string             `json:"llm_guidance,omitempty"`     // appended to the system prompt
	Response        ResponseHints      `json:"response,omitempty"`
}

// SourceTemplate is a shared catalog entry describing a known vendor.
type SourceTemplate struct {
	ID        string        `json:"id" db:"id"`
	Name      string        `json:"name" db:"name"`
	Vendor    string        `json:"vendor" db:"vendor"`
	BaseURL   string        `json:"base_url,omitempty" db:"base_url"`
	Hints     *RuntimeHints `json:"runtime_hints,omitempty"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
}

// ── Tool Invocation ──────────────────────────────────────────

// InvocationState is the per-invocation state machine. Transitions are
// strictly monotonic:
//
//	input_streaming → input_available →
//	  (approval_requested → approval_responded)? →
//	  (output_available | output_error)
type InvocationState string

const (
	StateInputStreaming    InvocationState = "input_streaming"
	StateInputAvailable    InvocationState = "input_available"
	StateApprovalRequested InvocationState = "approval_requested"
	StateApprovalResponded InvocationState = "approval_responded"
	StateOutputAvailable   InvocationState = "output_available"
	StateOutputError       InvocationState = "output_error"
)

// stateRank orders states for the monotonicity check.
var stateRank = map[InvocationState]int{
	StateInputStreaming:    0,
	StateInputAvailable:    1,
	StateApprovalRequested: 2,
	StateApprovalResponded: 3,
	StateOutputAvailable:   4,
	StateOutputError:       4,
}

// CanTransition reports whether moving from s to next preserves the
// monotonic ordering.
func (s InvocationState) CanTransition(next InvocationState) bool {
	return stateRank[next] > stateRank[s]
}

// ToolInvocation is one Operation dispatch within a turn.
type ToolInvocation struct {
	ToolCallID  string                 `json:"tool_call_id"`
	OperationID string                 `json:"operation_id"`
	ToolName    string                 `json:"tool_name"`
	Input       map[string]interface{} `json:"input,omitempty"`
	State       InvocationState        `json:"state"`
	ApprovalID  string                 `json:"approval_id,omitempty"`
	Approved    *bool                  `json:"approved,omitempty"`
	Output      *Envelope              `json:"output,omitempty"`
	DurationMs  int64                  `json:"duration_ms,omitempty"`
	Status      int                    `json:"status,omitempty"` // upstream HTTP status, 0 on transport error
	StartedAt   time.Time              `json:"started_at,omitempty"`
}

// ── Action Records ───────────────────────────────────────────

type ActionStatus string

const (
	ActionPendingConfirmation ActionStatus = "pending_confirmation"
	ActionConfirmed           ActionStatus = "confirmed"
	ActionRejected            ActionStatus = "rejected"
	ActionExecuting           ActionStatus = "executing"
	ActionCompleted           ActionStatus = "completed"
	ActionFailed              ActionStatus = "failed"
)

// ActionRecord is the durable audit entry written for every dispatched
// Operation. Append-only; past records are never mutated.
type ActionRecord struct {
	ID             string       `json:"id" db:"id"`
	OrgID          string       `json:"org_id" db:"org_id"`
	UserID         string       `json:"user_id" db:"user_id"`
	AgentID        string       `json:"agent_id,omitempty" db:"agent_id"`
	ToolID         string       `json:"tool_id" db:"tool_id"`
	SourceID       string       `json:"source_id" db:"source_id"`
	Method         string       `json:"method" db:"method"`
	URL            string       `json:"url" db:"url"`
	RequestBody    string       `json:"request_body,omitempty" db:"request_body"`
	ResponseStatus int          `json:"response_status" db:"response_status"`
	ResponseBody   string       `json:"response_body,omitempty" db:"response_body"` // capped at ResponseBodyCap
	DurationMs     int64        `json:"duration_ms" db:"duration_ms"`
	Status         ActionStatus `json:"status" db:"status"`
	ErrorMessage   string       `json:"error_message,omitempty" db:"error_message"`
	Paginated      bool         `json:"paginated" db:"paginated"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
}

// ResponseBodyCap bounds the response body stored on an ActionRecord.
const ResponseBodyCap = 64 * 1024

// ActionFilter provides query options for listing action records.
type ActionFilter struct {
	OrgID  string
	UserID string
	Status string
	Limit  int
	Offset int
}

// ── Tool Output Envelope ─────────────────────────────────────

// ActionMeta is the `_actionchat` metadata block attached to every
// executor result. The UI renders ResponseBody; the model sees only the
// envelope's Result summary.
type ActionMeta struct {
	ToolID         string      `json:"tool_id"`
	ToolName       string      `json:"tool_name"`
	SourceID       string      `json:"source_id"`
	SourceName     string      `json:"source_name"`
	Method         string      `json:"method"`
	URL            string      `json:"url"`
	RequestBody    string      `json:"request_body,omitempty"`
	ResponseStatus int         `json:"response_status"`
	ResponseBody   interface{} `json:"response_body,omitempty"`
	DurationMs     int64       `json:"duration_ms"`
	ErrorMessage   string      `json:"error_message,omitempty"`
}

// Envelope wraps an executor result for the chat stream.
type Envelope struct {
	Meta   ActionMeta `json:"_actionchat"`
	Result string     `json:"result"`
}

// ExecResult is the raw outcome of a single upstream dispatch.
type ExecResult struct {
	URL          string      `json:"url"`
	Status       int         `json:"status"`
	Body         interface{} `json:"body,omitempty"`
	DurationMs   int64       `json:"duration_ms"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

// OK reports whether the upstream responded with a 2xx status.
func (r *ExecResult) OK() bool {
	return r.Status >= 200 && r.Status < 300 && r.ErrorMessage == ""
}

// ── Chat & Messages ──────────────────────────────────────────

type Chat struct {
	ID        string    `json:"id" db:"id"`
	OrgID     string    `json:"org_id" db:"org_id"`
	UserID    string    `json:"user_id" db:"user_id"`
	AgentID   string    `json:"agent_id" db:"agent_id"`
	Title     string    `json:"title,omitempty" db:"title"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ToolCallSnapshot is the persisted trace of one invocation, stored on
// the assistant message so historical chats replay without re-executing
// upstreams.
type ToolCallSnapshot struct {
	ToolCallID string                 `json:"tool_call_id"`
	ToolID     string                 `json:"tool_id"`
	ToolName   string                 `json:"tool_name"`
	State      InvocationState        `json:"state"`
	Input      map[string]interface{} `json:"input,omitempty"`
	Output     *Envelope              `json:"output,omitempty"`
	Approved   *bool                  `json:"approved,omitempty"`
	DurationMs int64                  `json:"duration_ms,omitempty"`
}

type ChatMessage struct {
	ID        string             `json:"id" db:"id"`
	ChatID    string             `json:"chat_id" db:"chat_id"`
	Role      string             `json:"role" db:"role"` // user, assistant
	Content   string             `json:"content" db:"content"`
	ToolCalls []ToolCallSnapshot `json:"tool_calls,omitempty"`
	CreatedAt time.Time          `json:"created_at" db:"created_at"`
}

// ── Chat Stream Frames ───────────────────────────────────────

// StreamChunk is a single frame on the chat SSE stream. Exactly one of
// the payload fields is set per frame.
type StreamChunk struct {
	Content    string           `json:"content,omitempty"`     // assistant text delta
	ToolState  *ToolStateChunk  `json:"tool_state,omitempty"`  // invocation state transition
	ToolResult *ToolResultChunk `json:"tool_result,omitempty"` // completed invocation output
	Done       bool             `json:"done,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// ToolStateChunk announces an invocation state transition to the client.
type ToolStateChunk struct {
	ToolCallID string                 `json:"tool_call_id"`
	ToolName   string                 `json:"tool_name,omitempty"`
	State      InvocationState        `json:"state"`
	Input      map[string]interface{} `json:"input,omitempty"`
	ApprovalID string                 `json:"approval_id,omitempty"`
}

// ToolResultChunk delivers a completed invocation's envelope.
type ToolResultChunk struct {
	ToolCallID string    `json:"tool_call_id"`
	Output     *Envelope `json:"output"`
}

// ApprovalDecision is the back-channel frame resolving a pending gate.
type ApprovalDecision struct {
	ApprovalID string `json:"approvalId"`
	Approved   bool   `json:"approved"`
}

// ── Identity ─────────────────────────────────────────────────

// Identity is the authenticated caller resolved by the auth middleware.
type Identity struct {
	UserID string `json:"user_id"`
	OrgID  string `json:"org_id"`
	Email  string `json:"email,omitempty"`
}
