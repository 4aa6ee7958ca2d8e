// Package store provides the storage interface and implementations for
// the ActionChat broker. The in-memory store backs local development and
// tests; PostgreSQL (with pgvector) backs production deployments.
package store

import (
	"context"
	"errors"

	"github.com/actionchat/actionchat/pkg/models"
)

// Store is the primary storage interface for the broker. All handler
// and pipeline code depends on this interface, making it easy to swap
// between in-memory (tests) and PostgreSQL (production) implementations.
type Store interface {
	OrgStore
	AgentStore
	SourceStore
	OperationStore
	LinkStore
	CredentialStore
	TemplateStore
	ChatStore
	ActionStore

	// Ping checks if the database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate runs database migrations.
	Migrate(ctx context.Context) error
}

// ── Org Store ───────────────────────────────────────────────

type OrgStore interface {
	ListOrgs(ctx context.Context) ([]models.Org, error)
	GetOrg(ctx context.Context, id string) (*models.Org, error)
	CreateOrg(ctx context.Context, org *models.Org) error
}

// ── Agent Store ─────────────────────────────────────────────

type AgentStore interface {
	ListAgents(ctx context.Context, orgID string) ([]models.Agent, error)
	GetAgent(ctx context.Context, orgID, id string) (*models.Agent, error)
	CreateAgent(ctx context.Context, agent *models.Agent) error
	UpdateAgent(ctx context.Context, agent *models.Agent) error
	DeleteAgent(ctx context.Context, orgID, id string) error
}

// ── Source Store ────────────────────────────────────────────

type SourceStore interface {
	ListSources(ctx context.Context, orgID string) ([]models.Source, error)
	GetSource(ctx context.Context, orgID, id string) (*models.Source, error)
	CreateSource(ctx context.Context, source *models.Source) error
	UpdateSource(ctx context.Context, source *models.Source) error

	// DeleteSource removes the source together with its operations,
	// agent links, and credentials. Action records survive.
	DeleteSource(ctx context.Context, orgID, id string) error
}

// ── Operation Store ─────────────────────────────────────────

// OperationMatch pairs an operation with its similarity score from a
// vector search. Score is cosine similarity in [0, 1].
type OperationMatch struct {
	Operation models.Operation
	Score     float64
}

type OperationStore interface {
	ListOperations(ctx context.Context, sourceID string) ([]models.Operation, error)
	GetOperation(ctx context.Context, id string) (*models.Operation, error)

	// GetOperationByShortID resolves the 8-char ID suffix carried in
	// wire tool names, scoped to the given sources.
	GetOperationByShortID(ctx context.Context, sourceIDs []string, shortID string) (*models.Operation, error)

	// ReplaceOperations atomically swaps a source's operation set on
	// re-ingest. Rows matching an existing operation_id keep their ID
	// so wire tool names stay stable.
	ReplaceOperations(ctx context.Context, sourceID string, ops []models.Operation) error

	// SetOperationEmbedding writes the vector column matching the
	// vector's width.
	SetOperationEmbedding(ctx context.Context, id string, vector []float64) error

	// SearchOperations returns the topK operations across the given
	// sources nearest to the query vector, best first.
	SearchOperations(ctx context.Context, sourceIDs []string, vector []float64, topK int) ([]OperationMatch, error)
}

// ── Agent ↔ Source Link Store ───────────────────────────────

type LinkStore interface {
	ListLinks(ctx context.Context, agentID string) ([]models.AgentSourceLink, error)
	CreateLink(ctx context.Context, link *models.AgentSourceLink) error
	DeleteLink(ctx context.Context, agentID, sourceID string) error
}

// ── Credential Store ────────────────────────────────────────

type CredentialStore interface {
	// CreateCredential stores a new active credential, deactivating
	// any prior active credential for the same (user, source).
	CreateCredential(ctx context.Context, cred *models.Credential) error

	// GetActiveCredential returns the single active credential for
	// (user, source), or ErrNotFound.
	GetActiveCredential(ctx context.Context, orgID, userID, sourceID string) (*models.Credential, error)

	// RotateCredential swaps the secret material in place, stamping
	// RotatedAt. The credential keeps its ID.
	RotateCredential(ctx context.Context, cred *models.Credential) error

	DeactivateCredential(ctx context.Context, orgID, userID, id string) error
	ListCredentials(ctx context.Context, orgID, userID string) ([]models.Credential, error)
}

// ── Source Template Store ───────────────────────────────────

type TemplateStore interface {
	ListTemplates(ctx context.Context) ([]models.SourceTemplate, error)
	GetTemplate(ctx context.Context, id string) (*models.SourceTemplate, error)
	UpsertTemplate(ctx context.Context, tpl *models.SourceTemplate) error
}

// ── Chat Store ──────────────────────────────────────────────

type ChatStore interface {
	CreateChat(ctx context.Context, chat *models.Chat) error
	GetChat(ctx context.Context, orgID, id string) (*models.Chat, error)
	UpdateChat(ctx context.Context, chat *models.Chat) error
	ListChats(ctx context.Context, orgID, userID string, limit int) ([]models.Chat, error)

	// AppendMessage adds a message to a chat and bumps the chat's
	// UpdatedAt. Messages are append-only.
	AppendMessage(ctx context.Context, msg *models.ChatMessage) error
	ListMessages(ctx context.Context, chatID string) ([]models.ChatMessage, error)
}

// ── Action Store ────────────────────────────────────────────

type ActionStore interface {
	// CreateAction appends an audit record. Response bodies larger
	// than models.ResponseBodyCap are truncated before storage.
	CreateAction(ctx context.Context, rec *models.ActionRecord) error

	// UpdateAction advances a record through its status lifecycle.
	// Only Status, URL, RequestBody, ResponseStatus, ResponseBody,
	// DurationMs, ErrorMessage, and Paginated may change after
	// creation; URL and RequestBody are unknown until dispatch when a
	// record is created pending confirmation.
	UpdateAction(ctx context.Context, rec *models.ActionRecord) error

	GetAction(ctx context.Context, orgID, id string) (*models.ActionRecord, error)
	ListActions(ctx context.Context, filter models.ActionFilter) ([]models.ActionRecord, error)
	CountActions(ctx context.Context, filter models.ActionFilter) (int64, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// IsNotFound reports whether err is an ErrNotFound.
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}
