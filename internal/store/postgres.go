// Package store — PostgreSQL Store implementation.
// Requires the pgvector extension for operation embedding search.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/actionchat/actionchat/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and verifies reachability.
func NewPostgresStore(ctx context.Context, connURL string, maxConns int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	log.Info().Int("max_conns", maxConns).Msg("PostgreSQL store initialized")
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Migrate creates the schema. Idempotent; runs on every startup.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	ddl := `
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS ac_orgs (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			owner      TEXT NOT NULL DEFAULT '',
			tags       JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS ac_agents (
			id            TEXT PRIMARY KEY,
			org_id        TEXT NOT NULL REFERENCES ac_orgs(id),
			name          TEXT NOT NULL,
			description   TEXT NOT NULL DEFAULT '',
			system_prompt TEXT NOT NULL DEFAULT '',
			model         TEXT NOT NULL DEFAULT '',
			max_steps     INT NOT NULL DEFAULT 0,
			created_by    TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_ac_agents_org ON ac_agents (org_id);

		CREATE TABLE IF NOT EXISTS ac_sources (
			id           TEXT PRIMARY KEY,
			org_id       TEXT NOT NULL REFERENCES ac_orgs(id),
			name         TEXT NOT NULL,
			description  TEXT NOT NULL DEFAULT '',
			base_url     TEXT NOT NULL DEFAULT '',
			server_uri   TEXT NOT NULL DEFAULT '',
			source_kind  TEXT NOT NULL,
			auth_kind    TEXT NOT NULL,
			auth_config  JSONB,
			template_ref TEXT NOT NULL DEFAULT '',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_ac_sources_org ON ac_sources (org_id);

		CREATE TABLE IF NOT EXISTS ac_operations (
			id                    TEXT PRIMARY KEY,
			source_id             TEXT NOT NULL REFERENCES ac_sources(id) ON DELETE CASCADE,
			operation_id          TEXT NOT NULL,
			name                  TEXT NOT NULL,
			description           TEXT NOT NULL DEFAULT '',
			method                TEXT NOT NULL,
			path                  TEXT NOT NULL DEFAULT '',
			mcp_tool_name         TEXT NOT NULL DEFAULT '',
			parameter_schema      JSONB NOT NULL DEFAULT '{}',
			request_body_schema   JSONB NOT NULL DEFAULT '{}',
			risk_level            TEXT NOT NULL DEFAULT 'safe',
			requires_confirmation BOOLEAN NOT NULL DEFAULT FALSE,
			tags                  JSONB NOT NULL DEFAULT '[]',
			embedding_1536        vector(1536),
			embedding_768         vector(768),
			created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (source_id, operation_id)
		);
		CREATE INDEX IF NOT EXISTS idx_ac_operations_source ON ac_operations (source_id);

		CREATE TABLE IF NOT EXISTS ac_links (
			id         TEXT PRIMARY KEY,
			agent_id   TEXT NOT NULL REFERENCES ac_agents(id) ON DELETE CASCADE,
			source_id  TEXT NOT NULL REFERENCES ac_sources(id) ON DELETE CASCADE,
			permission TEXT NOT NULL DEFAULT 'read',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (agent_id, source_id)
		);

		CREATE TABLE IF NOT EXISTS ac_credentials (
			id             TEXT PRIMARY KEY,
			org_id         TEXT NOT NULL,
			user_id        TEXT NOT NULL,
			source_id      TEXT NOT NULL REFERENCES ac_sources(id) ON DELETE CASCADE,
			token          TEXT NOT NULL DEFAULT '',
			api_key        TEXT NOT NULL DEFAULT '',
			username       TEXT NOT NULL DEFAULT '',
			password       TEXT NOT NULL DEFAULT '',
			header_name    TEXT NOT NULL DEFAULT '',
			header_value   TEXT NOT NULL DEFAULT '',
			active         BOOLEAN NOT NULL DEFAULT TRUE,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			rotated_at     TIMESTAMPTZ,
			deactivated_at TIMESTAMPTZ
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_ac_credentials_active
			ON ac_credentials (user_id, source_id) WHERE active;

		CREATE TABLE IF NOT EXISTS ac_templates (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			vendor     TEXT NOT NULL,
			base_url   TEXT NOT NULL DEFAULT '',
			hints      JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS ac_chats (
			id         TEXT PRIMARY KEY,
			org_id     TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			agent_id   TEXT NOT NULL,
			title      TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_ac_chats_user ON ac_chats (org_id, user_id, updated_at DESC);

		CREATE TABLE IF NOT EXISTS ac_messages (
			id         TEXT PRIMARY KEY,
			chat_id    TEXT NOT NULL REFERENCES ac_chats(id) ON DELETE CASCADE,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL DEFAULT '',
			tool_calls JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_ac_messages_chat ON ac_messages (chat_id, created_at);

		CREATE TABLE IF NOT EXISTS ac_actions (
			id              TEXT PRIMARY KEY,
			org_id          TEXT NOT NULL,
			user_id         TEXT NOT NULL,
			agent_id        TEXT NOT NULL DEFAULT '',
			tool_id         TEXT NOT NULL,
			source_id       TEXT NOT NULL,
			method          TEXT NOT NULL,
			url             TEXT NOT NULL,
			request_body    TEXT NOT NULL DEFAULT '',
			response_status INT NOT NULL DEFAULT 0,
			response_body   TEXT NOT NULL DEFAULT '',
			duration_ms     BIGINT NOT NULL DEFAULT 0,
			status          TEXT NOT NULL,
			error_message   TEXT NOT NULL DEFAULT '',
			paginated       BOOLEAN NOT NULL DEFAULT FALSE,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_ac_actions_org ON ac_actions (org_id, created_at DESC);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// ── Org Store ───────────────────────────────────────────────

func (s *PostgresStore) ListOrgs(ctx context.Context) ([]models.Org, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, owner, tags, created_at FROM ac_orgs ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list orgs: %w", err)
	}
	defer rows.Close()

	out := make([]models.Org, 0)
	for rows.Next() {
		var o models.Org
		var tags []byte
		if err := rows.Scan(&o.ID, &o.Name, &o.Owner, &tags, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan org: %w", err)
		}
		unmarshalJSON(tags, &o.Tags)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetOrg(ctx context.Context, id string) (*models.Org, error) {
	var o models.Org
	var tags []byte
	err := s.pool.QueryRow(ctx, `SELECT id, name, owner, tags, created_at FROM ac_orgs WHERE id = $1`, id).
		Scan(&o.ID, &o.Name, &o.Owner, &tags, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "org", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get org: %w", err)
	}
	unmarshalJSON(tags, &o.Tags)
	return &o, nil
}

func (s *PostgresStore) CreateOrg(ctx context.Context, org *models.Org) error {
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ac_orgs (id, name, owner, tags, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		org.ID, org.Name, org.Owner, marshalJSON(org.Tags), org.CreatedAt)
	return err
}

// ── Agent Store ─────────────────────────────────────────────

const agentCols = `id, org_id, name, description, system_prompt, model, max_steps, created_by, created_at, updated_at`

func scanAgent(row pgx.Row) (*models.Agent, error) {
	var a models.Agent
	err := row.Scan(&a.ID, &a.OrgID, &a.Name, &a.Description, &a.SystemPrompt,
		&a.Model, &a.MaxSteps, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) ListAgents(ctx context.Context, orgID string) ([]models.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+agentCols+` FROM ac_agents WHERE org_id = $1 ORDER BY created_at`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	out := make([]models.Agent, 0)
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetAgent(ctx context.Context, orgID, id string) (*models.Agent, error) {
	a, err := scanAgent(s.pool.QueryRow(ctx,
		`SELECT `+agentCols+` FROM ac_agents WHERE org_id = $1 AND id = $2`, orgID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "agent", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) CreateAgent(ctx context.Context, agent *models.Agent) error {
	now := time.Now()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ac_agents (`+agentCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		agent.ID, agent.OrgID, agent.Name, agent.Description, agent.SystemPrompt,
		agent.Model, agent.MaxSteps, agent.CreatedBy, agent.CreatedAt, agent.UpdatedAt)
	return err
}

func (s *PostgresStore) UpdateAgent(ctx context.Context, agent *models.Agent) error {
	agent.UpdatedAt = time.Now()
	tag, err := s.pool.Exec(ctx,
		`UPDATE ac_agents SET name = $3, description = $4, system_prompt = $5, model = $6,
		 max_steps = $7, updated_at = $8 WHERE org_id = $1 AND id = $2`,
		agent.OrgID, agent.ID, agent.Name, agent.Description, agent.SystemPrompt,
		agent.Model, agent.MaxSteps, agent.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "agent", Key: agent.ID}
	}
	return nil
}

func (s *PostgresStore) DeleteAgent(ctx context.Context, orgID, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM ac_agents WHERE org_id = $1 AND id = $2`, orgID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "agent", Key: id}
	}
	return nil
}

// ── Source Store ────────────────────────────────────────────

const sourceCols = `id, org_id, name, description, base_url, server_uri, source_kind, auth_kind, auth_config, template_ref, created_at, updated_at`

func scanSource(row pgx.Row) (*models.Source, error) {
	var src models.Source
	var authCfg []byte
	err := row.Scan(&src.ID, &src.OrgID, &src.Name, &src.Description, &src.BaseURL,
		&src.ServerURI, &src.SourceKind, &src.AuthKind, &authCfg, &src.TemplateRef,
		&src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(authCfg) > 0 {
		src.AuthConfig = &models.AuthConfig{}
		unmarshalJSON(authCfg, src.AuthConfig)
	}
	return &src, nil
}

func (s *PostgresStore) ListSources(ctx context.Context, orgID string) ([]models.Source, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sourceCols+` FROM ac_sources WHERE org_id = $1 ORDER BY created_at`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	out := make([]models.Source, 0)
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, *src)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetSource(ctx context.Context, orgID, id string) (*models.Source, error) {
	src, err := scanSource(s.pool.QueryRow(ctx,
		`SELECT `+sourceCols+` FROM ac_sources WHERE org_id = $1 AND id = $2`, orgID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "source", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get source: %w", err)
	}
	return src, nil
}

func (s *PostgresStore) CreateSource(ctx context.Context, source *models.Source) error {
	now := time.Now()
	if source.CreatedAt.IsZero() {
		source.CreatedAt = now
	}
	source.UpdatedAt = now
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ac_sources (`+sourceCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		source.ID, source.OrgID, source.Name, source.Description, source.BaseURL,
		source.ServerURI, source.SourceKind, source.AuthKind, marshalJSONPtr(source.AuthConfig),
		source.TemplateRef, source.CreatedAt, source.UpdatedAt)
	return err
}

func (s *PostgresStore) UpdateSource(ctx context.Context, source *models.Source) error {
	source.UpdatedAt = time.Now()
	tag, err := s.pool.Exec(ctx,
		`UPDATE ac_sources SET name = $3, description = $4, base_url = $5, server_uri = $6,
		 auth_kind = $7, auth_config = $8, template_ref = $9, updated_at = $10
		 WHERE org_id = $1 AND id = $2`,
		source.OrgID, source.ID, source.Name, source.Description, source.BaseURL,
		source.ServerURI, source.AuthKind, marshalJSONPtr(source.AuthConfig),
		source.TemplateRef, source.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "source", Key: source.ID}
	}
	return nil
}

func (s *PostgresStore) DeleteSource(ctx context.Context, orgID, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM ac_sources WHERE org_id = $1 AND id = $2`, orgID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "source", Key: id}
	}
	return nil
}

// ── Operation Store ─────────────────────────────────────────

const operationCols = `id, source_id, operation_id, name, description, method, path, mcp_tool_name,
	parameter_schema, request_body_schema, risk_level, requires_confirmation, tags, created_at`

func scanOperation(row pgx.Row) (*models.Operation, error) {
	var op models.Operation
	var paramSchema, bodySchema, tags []byte
	err := row.Scan(&op.ID, &op.SourceID, &op.OperationID, &op.Name, &op.Description,
		&op.Method, &op.Path, &op.MCPToolName, &paramSchema, &bodySchema,
		&op.RiskLevel, &op.RequiresConfirmation, &tags, &op.CreatedAt)
	if err != nil {
		return nil, err
	}
	unmarshalJSON(paramSchema, &op.ParameterSchema)
	unmarshalJSON(bodySchema, &op.RequestBodySchema)
	unmarshalJSON(tags, &op.Tags)
	return &op, nil
}

func (s *PostgresStore) ListOperations(ctx context.Context, sourceID string) ([]models.Operation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+operationCols+` FROM ac_operations WHERE source_id = $1 ORDER BY created_at, operation_id`,
		sourceID)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	out := make([]models.Operation, 0)
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		out = append(out, *op)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetOperation(ctx context.Context, id string) (*models.Operation, error) {
	op, err := scanOperation(s.pool.QueryRow(ctx,
		`SELECT `+operationCols+` FROM ac_operations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "operation", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get operation: %w", err)
	}
	return op, nil
}

func (s *PostgresStore) GetOperationByShortID(ctx context.Context, sourceIDs []string, shortID string) (*models.Operation, error) {
	// IDs are UUIDs; the short form is the first 8 hex chars with
	// hyphens stripped, which for UUIDs equals the raw prefix.
	op, err := scanOperation(s.pool.QueryRow(ctx,
		`SELECT `+operationCols+` FROM ac_operations
		 WHERE source_id = ANY($1) AND REPLACE(id, '-', '') LIKE $2 || '%'`,
		sourceIDs, shortID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "operation", Key: shortID}
	}
	if err != nil {
		return nil, fmt.Errorf("get operation by short id: %w", err)
	}
	return op, nil
}

func (s *PostgresStore) ReplaceOperations(ctx context.Context, sourceID string, ops []models.Operation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("replace operations: %w", err)
	}
	defer tx.Rollback(ctx)

	// Map existing operation_ids to row IDs so stable operations keep
	// their IDs (and wire tool names) across re-ingests.
	rows, err := tx.Query(ctx,
		`SELECT operation_id, id, created_at FROM ac_operations WHERE source_id = $1`, sourceID)
	if err != nil {
		return fmt.Errorf("replace operations: %w", err)
	}
	type prior struct {
		id        string
		createdAt time.Time
	}
	existing := make(map[string]prior)
	for rows.Next() {
		var opID string
		var p prior
		if err := rows.Scan(&opID, &p.id, &p.createdAt); err != nil {
			rows.Close()
			return fmt.Errorf("replace operations: %w", err)
		}
		existing[opID] = p
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("replace operations: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM ac_operations WHERE source_id = $1`, sourceID); err != nil {
		return fmt.Errorf("replace operations: %w", err)
	}

	now := time.Now()
	for i := range ops {
		op := ops[i]
		op.SourceID = sourceID
		if p, ok := existing[op.OperationID]; ok {
			op.ID = p.id
			op.CreatedAt = p.createdAt
		} else if op.CreatedAt.IsZero() {
			op.CreatedAt = now
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO ac_operations (`+operationCols+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			op.ID, op.SourceID, op.OperationID, op.Name, op.Description,
			op.Method, op.Path, op.MCPToolName,
			marshalJSON(op.ParameterSchema), marshalJSON(op.RequestBodySchema),
			op.RiskLevel, op.RequiresConfirmation, marshalJSON(op.Tags), op.CreatedAt)
		if err != nil {
			return fmt.Errorf("replace operations: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) SetOperationEmbedding(ctx context.Context, id string, vector []float64) error {
	col := embeddingColumn(len(vector))
	if col == "" {
		return fmt.Errorf("unsupported embedding width %d", len(vector))
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE ac_operations SET `+col+` = $2 WHERE id = $1`, id, pgvectorArray(vector))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "operation", Key: id}
	}
	return nil
}

func (s *PostgresStore) SearchOperations(ctx context.Context, sourceIDs []string, vector []float64, topK int) ([]OperationMatch, error) {
	col := embeddingColumn(len(vector))
	if col == "" {
		return nil, fmt.Errorf("unsupported embedding width %d", len(vector))
	}

	query := `SELECT ` + operationCols + `, 1 - (` + col + ` <=> $1) AS score
		FROM ac_operations
		WHERE source_id = ANY($2) AND ` + col + ` IS NOT NULL
		ORDER BY ` + col + ` <=> $1 LIMIT $3`

	rows, err := s.pool.Query(ctx, query, pgvectorArray(vector), sourceIDs, topK)
	if err != nil {
		return nil, fmt.Errorf("search operations: %w", err)
	}
	defer rows.Close()

	out := make([]OperationMatch, 0, topK)
	for rows.Next() {
		var op models.Operation
		var paramSchema, bodySchema, tags []byte
		var score float64
		err := rows.Scan(&op.ID, &op.SourceID, &op.OperationID, &op.Name, &op.Description,
			&op.Method, &op.Path, &op.MCPToolName, &paramSchema, &bodySchema,
			&op.RiskLevel, &op.RequiresConfirmation, &tags, &op.CreatedAt, &score)
		if err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		unmarshalJSON(paramSchema, &op.ParameterSchema)
		unmarshalJSON(bodySchema, &op.RequestBodySchema)
		unmarshalJSON(tags, &op.Tags)
		out = append(out, OperationMatch{Operation: op, Score: score})
	}
	return out, rows.Err()
}

func embeddingColumn(width int) string {
	switch width {
	case 1536:
		return "embedding_1536"
	case 768:
		return "embedding_768"
	}
	return ""
}

// ── Agent ↔ Source Link Store ───────────────────────────────

func (s *PostgresStore) ListLinks(ctx context.Context, agentID string) ([]models.AgentSourceLink, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, agent_id, source_id, permission, created_at FROM ac_links
		 WHERE agent_id = $1 ORDER BY created_at`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	out := make([]models.AgentSourceLink, 0)
	for rows.Next() {
		var l models.AgentSourceLink
		if err := rows.Scan(&l.ID, &l.AgentID, &l.SourceID, &l.Permission, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateLink(ctx context.Context, link *models.AgentSourceLink) error {
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ac_links (id, agent_id, source_id, permission, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (agent_id, source_id) DO UPDATE SET permission = EXCLUDED.permission`,
		link.ID, link.AgentID, link.SourceID, link.Permission, link.CreatedAt)
	return err
}

func (s *PostgresStore) DeleteLink(ctx context.Context, agentID, sourceID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM ac_links WHERE agent_id = $1 AND source_id = $2`, agentID, sourceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "link", Key: agentID + ":" + sourceID}
	}
	return nil
}

// ── Credential Store ────────────────────────────────────────

const credentialCols = `id, org_id, user_id, source_id, token, api_key, username, password,
	header_name, header_value, active, created_at, rotated_at, deactivated_at`

func scanCredential(row pgx.Row) (*models.Credential, error) {
	var c models.Credential
	err := row.Scan(&c.ID, &c.OrgID, &c.UserID, &c.SourceID, &c.Token, &c.APIKey,
		&c.Username, &c.Password, &c.HeaderName, &c.HeaderValue, &c.Active,
		&c.CreatedAt, &c.RotatedAt, &c.DeactivatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) CreateCredential(ctx context.Context, cred *models.Credential) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("create credential: %w", err)
	}
	defer tx.Rollback(ctx)

	// Exactly one active credential per (user, source).
	_, err = tx.Exec(ctx,
		`UPDATE ac_credentials SET active = FALSE, deactivated_at = NOW()
		 WHERE user_id = $1 AND source_id = $2 AND active`,
		cred.UserID, cred.SourceID)
	if err != nil {
		return fmt.Errorf("create credential: %w", err)
	}

	cred.Active = true
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now()
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO ac_credentials (`+credentialCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		cred.ID, cred.OrgID, cred.UserID, cred.SourceID, cred.Token, cred.APIKey,
		cred.Username, cred.Password, cred.HeaderName, cred.HeaderValue, cred.Active,
		cred.CreatedAt, cred.RotatedAt, cred.DeactivatedAt)
	if err != nil {
		return fmt.Errorf("create credential: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetActiveCredential(ctx context.Context, orgID, userID, sourceID string) (*models.Credential, error) {
	c, err := scanCredential(s.pool.QueryRow(ctx,
		`SELECT `+credentialCols+` FROM ac_credentials
		 WHERE org_id = $1 AND user_id = $2 AND source_id = $3 AND active`,
		orgID, userID, sourceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "credential", Key: userID + ":" + sourceID}
	}
	if err != nil {
		return nil, fmt.Errorf("get active credential: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) RotateCredential(ctx context.Context, cred *models.Credential) error {
	now := time.Now()
	tag, err := s.pool.Exec(ctx,
		`UPDATE ac_credentials SET token = $4, api_key = $5, username = $6, password = $7,
		 header_name = $8, header_value = $9, rotated_at = $10
		 WHERE id = $1 AND org_id = $2 AND user_id = $3`,
		cred.ID, cred.OrgID, cred.UserID, cred.Token, cred.APIKey, cred.Username,
		cred.Password, cred.HeaderName, cred.HeaderValue, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "credential", Key: cred.ID}
	}
	cred.RotatedAt = &now
	return nil
}

func (s *PostgresStore) DeactivateCredential(ctx context.Context, orgID, userID, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ac_credentials SET active = FALSE, deactivated_at = NOW()
		 WHERE id = $1 AND org_id = $2 AND user_id = $3 AND active`,
		id, orgID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "credential", Key: id}
	}
	return nil
}

func (s *PostgresStore) ListCredentials(ctx context.Context, orgID, userID string) ([]models.Credential, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+credentialCols+` FROM ac_credentials
		 WHERE org_id = $1 AND user_id = $2 ORDER BY created_at`, orgID, userID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	out := make([]models.Credential, 0)
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ── Source Template Store ───────────────────────────────────

func (s *PostgresStore) ListTemplates(ctx context.Context) ([]models.SourceTemplate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, vendor, base_url, hints, created_at FROM ac_templates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	out := make([]models.SourceTemplate, 0)
	for rows.Next() {
		var t models.SourceTemplate
		var hints []byte
		if err := rows.Scan(&t.ID, &t.Name, &t.Vendor, &t.BaseURL, &hints, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		if len(hints) > 0 {
			t.Hints = &models.RuntimeHints{}
			unmarshalJSON(hints, t.Hints)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetTemplate(ctx context.Context, id string) (*models.SourceTemplate, error) {
	var t models.SourceTemplate
	var hints []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, vendor, base_url, hints, created_at FROM ac_templates WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.Vendor, &t.BaseURL, &hints, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "template", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	if len(hints) > 0 {
		t.Hints = &models.RuntimeHints{}
		unmarshalJSON(hints, t.Hints)
	}
	return &t, nil
}

func (s *PostgresStore) UpsertTemplate(ctx context.Context, tpl *models.SourceTemplate) error {
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ac_templates (id, name, vendor, base_url, hints, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, vendor = EXCLUDED.vendor,
			base_url = EXCLUDED.base_url, hints = EXCLUDED.hints`,
		tpl.ID, tpl.Name, tpl.Vendor, tpl.BaseURL, marshalJSONPtr(tpl.Hints), tpl.CreatedAt)
	return err
}

// ── Chat Store ──────────────────────────────────────────────

func (s *PostgresStore) CreateChat(ctx context.Context, chat *models.Chat) error {
	now := time.Now()
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = now
	}
	chat.UpdatedAt = now
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ac_chats (id, org_id, user_id, agent_id, title, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		chat.ID, chat.OrgID, chat.UserID, chat.AgentID, chat.Title, chat.CreatedAt, chat.UpdatedAt)
	return err
}

func (s *PostgresStore) GetChat(ctx context.Context, orgID, id string) (*models.Chat, error) {
	var c models.Chat
	err := s.pool.QueryRow(ctx,
		`SELECT id, org_id, user_id, agent_id, title, created_at, updated_at
		 FROM ac_chats WHERE org_id = $1 AND id = $2`, orgID, id).
		Scan(&c.ID, &c.OrgID, &c.UserID, &c.AgentID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "chat", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) UpdateChat(ctx context.Context, chat *models.Chat) error {
	chat.UpdatedAt = time.Now()
	tag, err := s.pool.Exec(ctx,
		`UPDATE ac_chats SET title = $3, updated_at = $4 WHERE org_id = $1 AND id = $2`,
		chat.OrgID, chat.ID, chat.Title, chat.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "chat", Key: chat.ID}
	}
	return nil
}

func (s *PostgresStore) ListChats(ctx context.Context, orgID, userID string, limit int) ([]models.Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, org_id, user_id, agent_id, title, created_at, updated_at
		 FROM ac_chats WHERE org_id = $1 AND user_id = $2
		 ORDER BY updated_at DESC LIMIT $3`, orgID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	out := make([]models.Chat, 0)
	for rows.Next() {
		var c models.Chat
		if err := rows.Scan(&c.ID, &c.OrgID, &c.UserID, &c.AgentID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE ac_chats SET updated_at = NOW() WHERE id = $1`, msg.ChatID)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "chat", Key: msg.ChatID}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO ac_messages (id, chat_id, role, content, tool_calls, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.ChatID, msg.Role, msg.Content, marshalJSON(msg.ToolCalls), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListMessages(ctx context.Context, chatID string) ([]models.ChatMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, chat_id, role, content, tool_calls, created_at
		 FROM ac_messages WHERE chat_id = $1 ORDER BY created_at, id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := make([]models.ChatMessage, 0)
	for rows.Next() {
		var msg models.ChatMessage
		var toolCalls []byte
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Role, &msg.Content, &toolCalls, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		unmarshalJSON(toolCalls, &msg.ToolCalls)
		out = append(out, msg)
	}
	return out, rows.Err()
}

// ── Action Store ────────────────────────────────────────────

const actionCols = `id, org_id, user_id, agent_id, tool_id, source_id, method, url, request_body,
	response_status, response_body, duration_ms, status, error_message, paginated, created_at`

func (s *PostgresStore) CreateAction(ctx context.Context, rec *models.ActionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.ResponseBody = capBody(rec.ResponseBody)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ac_actions (`+actionCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		rec.ID, rec.OrgID, rec.UserID, rec.AgentID, rec.ToolID, rec.SourceID,
		rec.Method, rec.URL, rec.RequestBody, rec.ResponseStatus, rec.ResponseBody,
		rec.DurationMs, rec.Status, rec.ErrorMessage, rec.Paginated, rec.CreatedAt)
	return err
}

func (s *PostgresStore) UpdateAction(ctx context.Context, rec *models.ActionRecord) error {
	rec.ResponseBody = capBody(rec.ResponseBody)
	tag, err := s.pool.Exec(ctx,
		`UPDATE ac_actions SET status = $3, url = $4, request_body = $5,
		 response_status = $6, response_body = $7, duration_ms = $8,
		 error_message = $9, paginated = $10
		 WHERE id = $1 AND org_id = $2`,
		rec.ID, rec.OrgID, rec.Status, rec.URL, rec.RequestBody,
		rec.ResponseStatus, rec.ResponseBody, rec.DurationMs,
		rec.ErrorMessage, rec.Paginated)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "action", Key: rec.ID}
	}
	return nil
}

func scanAction(row pgx.Row) (*models.ActionRecord, error) {
	var a models.ActionRecord
	err := row.Scan(&a.ID, &a.OrgID, &a.UserID, &a.AgentID, &a.ToolID, &a.SourceID,
		&a.Method, &a.URL, &a.RequestBody, &a.ResponseStatus, &a.ResponseBody,
		&a.DurationMs, &a.Status, &a.ErrorMessage, &a.Paginated, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) GetAction(ctx context.Context, orgID, id string) (*models.ActionRecord, error) {
	a, err := scanAction(s.pool.QueryRow(ctx,
		`SELECT `+actionCols+` FROM ac_actions WHERE org_id = $1 AND id = $2`, orgID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "action", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get action: %w", err)
	}
	return a, nil
}

func actionFilterSQL(filter models.ActionFilter) (string, []interface{}) {
	var where []string
	var args []interface{}
	if filter.OrgID != "" {
		args = append(args, filter.OrgID)
		where = append(where, fmt.Sprintf("org_id = $%d", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(where) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

func (s *PostgresStore) ListActions(ctx context.Context, filter models.ActionFilter) ([]models.ActionRecord, error) {
	clause, args := actionFilterSQL(filter)
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	limitIdx := len(args)
	args = append(args, filter.Offset)
	offsetIdx := len(args)

	query := fmt.Sprintf(`SELECT `+actionCols+` FROM ac_actions%s
		ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, clause, limitIdx, offsetIdx)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	out := make([]models.ActionRecord, 0)
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountActions(ctx context.Context, filter models.ActionFilter) (int64, error) {
	clause, args := actionFilterSQL(filter)
	var n int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM ac_actions"+clause, args...).Scan(&n)
	return n, err
}

// ── Helpers ─────────────────────────────────────────────────

// pgvectorArray converts a float64 slice to pgvector's text format: [1.0,2.0,3.0]
func pgvectorArray(v []float64) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(fmt.Sprintf("%g", f))
	}
	sb.WriteByte(']')
	return sb.String()
}

func marshalJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return data
}

// marshalJSONPtr returns nil for nil pointers so the column stays NULL.
func marshalJSONPtr(v interface{}) []byte {
	if v == nil {
		return nil
	}
	switch p := v.(type) {
	case *models.AuthConfig:
		if p == nil {
			return nil
		}
	case *models.RuntimeHints:
		if p == nil {
			return nil
		}
	}
	return marshalJSON(v)
}

func unmarshalJSON(data []byte, v interface{}) {
	if len(data) == 0 {
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		log.Warn().Err(err).Msg("Failed to decode JSONB column")
	}
}
