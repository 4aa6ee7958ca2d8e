// Package store — in-memory Store implementation.
// Used as a fallback when PostgreSQL is not available (local dev, tests).
// Supports file-based snapshot persistence so data survives restarts.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/actionchat/actionchat/internal/vectorindex"
	"github.com/actionchat/actionchat/pkg/models"
	"github.com/rs/zerolog/log"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Orgs        map[string]*models.Org             `json:"orgs"`
	Agents      map[string]*models.Agent           `json:"agents"`
	Sources     map[string]*models.Source          `json:"sources"`
	Operations  map[string]*models.Operation       `json:"operations"`
	Links       map[string]*models.AgentSourceLink `json:"links"`   // key: agent_id:source_id
	Credentials map[string]*models.Credential      `json:"credentials"`
	Templates   map[string]*models.SourceTemplate  `json:"templates"`
	Chats       map[string]*models.Chat            `json:"chats"`
	Messages    map[string][]*models.ChatMessage   `json:"messages"` // key: chat_id
	Actions     []*models.ActionRecord             `json:"actions"`
}

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu          sync.RWMutex
	orgs        map[string]*models.Org
	agents      map[string]*models.Agent
	sources     map[string]*models.Source
	operations  map[string]*models.Operation
	links       map[string]*models.AgentSourceLink // key: agent_id:source_id
	credentials map[string]*models.Credential
	templates   map[string]*models.SourceTemplate
	chats       map[string]*models.Chat
	messages    map[string][]*models.ChatMessage // key: chat_id
	actions     []*models.ActionRecord           // append-only audit log
	actionIdx   map[string]int                   // id → index into actions

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals background goroutines to stop
	closeOnce    sync.Once
}

// NewMemoryStore creates a new in-memory store.
// If ACTIONCHAT_DATA_DIR is set, data is persisted to a JSON file in
// that directory. Set it to "-" to disable persistence entirely.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		orgs:        make(map[string]*models.Org),
		agents:      make(map[string]*models.Agent),
		sources:     make(map[string]*models.Source),
		operations:  make(map[string]*models.Operation),
		links:       make(map[string]*models.AgentSourceLink),
		credentials: make(map[string]*models.Credential),
		templates:   make(map[string]*models.SourceTemplate),
		chats:       make(map[string]*models.Chat),
		messages:    make(map[string][]*models.ChatMessage),
		actions:     make([]*models.ActionRecord, 0),
		actionIdx:   make(map[string]int),
		saveCh:      make(chan struct{}, 1),
		doneCh:      make(chan struct{}),
	}

	dataDir := os.Getenv("ACTIONCHAT_DATA_DIR")
	switch dataDir {
	case "-":
		dataDir = ""
	case "":
		if home, err := os.UserHomeDir(); err == nil {
			dataDir = filepath.Join(home, ".actionchat")
		}
	}
	if dataDir != "" {
		m.snapshotPath = filepath.Join(dataDir, "data.json")
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("Memory store configured")
	return m
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
		// Already pending
	}
}

// saveLoop runs in a goroutine, debouncing save requests (max 1 write per 500ms).
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond) // debounce
			m.saveSnapshot()
		}
	}
}

// saveSnapshot persists all data to disk as JSON.
func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	snap := snapshot{
		Orgs:        m.orgs,
		Agents:      m.agents,
		Sources:     m.sources,
		Operations:  m.operations,
		Links:       m.links,
		Credentials: m.credentials,
		Templates:   m.templates,
		Chats:       m.chats,
		Messages:    m.messages,
		Actions:     m.actions,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	// Write to temp file then rename for atomicity
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
		return
	}

	log.Debug().Str("path", m.snapshotPath).Msg("Snapshot saved")
}

// loadSnapshot reads data from disk on startup.
func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.Orgs != nil {
		m.orgs = snap.Orgs
	}
	if snap.Agents != nil {
		m.agents = snap.Agents
	}
	if snap.Sources != nil {
		m.sources = snap.Sources
	}
	if snap.Operations != nil {
		m.operations = snap.Operations
	}
	if snap.Links != nil {
		m.links = snap.Links
	}
	if snap.Credentials != nil {
		m.credentials = snap.Credentials
	}
	if snap.Templates != nil {
		m.templates = snap.Templates
	}
	if snap.Chats != nil {
		m.chats = snap.Chats
	}
	if snap.Messages != nil {
		m.messages = snap.Messages
	}
	if snap.Actions != nil {
		m.actions = snap.Actions
		m.actionIdx = make(map[string]int, len(m.actions))
		for i, a := range m.actions {
			m.actionIdx[a.ID] = i
		}
	}

	log.Info().
		Int("sources", len(m.sources)).
		Int("operations", len(m.operations)).
		Int("actions", len(m.actions)).
		Str("path", m.snapshotPath).
		Msg("Snapshot loaded")
}

// ── Org Store ───────────────────────────────────────────────

func (m *MemoryStore) ListOrgs(_ context.Context) ([]models.Org, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Org, 0, len(m.orgs))
	for _, o := range m.orgs {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) GetOrg(_ context.Context, id string) (*models.Org, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orgs[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "org", Key: id}
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) CreateOrg(_ context.Context, org *models.Org) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now()
	}
	cp := *org
	m.orgs[org.ID] = &cp
	m.requestSave()
	return nil
}

// ── Agent Store ─────────────────────────────────────────────

func (m *MemoryStore) ListAgents(_ context.Context, orgID string) ([]models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Agent, 0)
	for _, a := range m.agents {
		if a.OrgID == orgID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) GetAgent(_ context.Context, orgID, id string) (*models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	if !ok || a.OrgID != orgID {
		return nil, &ErrNotFound{Entity: "agent", Key: id}
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) CreateAgent(_ context.Context, agent *models.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now
	cp := *agent
	m.agents[agent.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateAgent(_ context.Context, agent *models.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.agents[agent.ID]
	if !ok || existing.OrgID != agent.OrgID {
		return &ErrNotFound{Entity: "agent", Key: agent.ID}
	}
	agent.CreatedAt = existing.CreatedAt
	agent.UpdatedAt = time.Now()
	cp := *agent
	m.agents[agent.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteAgent(_ context.Context, orgID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok || a.OrgID != orgID {
		return &ErrNotFound{Entity: "agent", Key: id}
	}
	delete(m.agents, id)
	for k, l := range m.links {
		if l.AgentID == id {
			delete(m.links, k)
		}
	}
	m.requestSave()
	return nil
}

// ── Source Store ────────────────────────────────────────────

func (m *MemoryStore) ListSources(_ context.Context, orgID string) ([]models.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Source, 0)
	for _, s := range m.sources {
		if s.OrgID == orgID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) GetSource(_ context.Context, orgID, id string) (*models.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sources[id]
	if !ok || s.OrgID != orgID {
		return nil, &ErrNotFound{Entity: "source", Key: id}
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) CreateSource(_ context.Context, source *models.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if source.CreatedAt.IsZero() {
		source.CreatedAt = now
	}
	source.UpdatedAt = now
	cp := *source
	m.sources[source.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateSource(_ context.Context, source *models.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.sources[source.ID]
	if !ok || existing.OrgID != source.OrgID {
		return &ErrNotFound{Entity: "source", Key: source.ID}
	}
	source.CreatedAt = existing.CreatedAt
	source.UpdatedAt = time.Now()
	cp := *source
	m.sources[source.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteSource(_ context.Context, orgID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[id]
	if !ok || s.OrgID != orgID {
		return &ErrNotFound{Entity: "source", Key: id}
	}
	delete(m.sources, id)
	for opID, op := range m.operations {
		if op.SourceID == id {
			delete(m.operations, opID)
		}
	}
	for k, l := range m.links {
		if l.SourceID == id {
			delete(m.links, k)
		}
	}
	for cid, c := range m.credentials {
		if c.SourceID == id {
			delete(m.credentials, cid)
		}
	}
	m.requestSave()
	return nil
}

// ── Operation Store ─────────────────────────────────────────

func (m *MemoryStore) ListOperations(_ context.Context, sourceID string) ([]models.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Operation, 0)
	for _, op := range m.operations {
		if op.SourceID == sourceID {
			out = append(out, *op)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].OperationID < out[j].OperationID
	})
	return out, nil
}

func (m *MemoryStore) GetOperation(_ context.Context, id string) (*models.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	op, ok := m.operations[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "operation", Key: id}
	}
	cp := *op
	return &cp, nil
}

func (m *MemoryStore) GetOperationByShortID(_ context.Context, sourceIDs []string, shortID string) (*models.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	allowed := make(map[string]bool, len(sourceIDs))
	for _, id := range sourceIDs {
		allowed[id] = true
	}
	for _, op := range m.operations {
		if allowed[op.SourceID] && models.ShortID(op.ID, 8) == shortID {
			cp := *op
			return &cp, nil
		}
	}
	return nil, &ErrNotFound{Entity: "operation", Key: shortID}
}

func (m *MemoryStore) ReplaceOperations(_ context.Context, sourceID string, ops []models.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Index existing rows by operation_id so stable operations keep
	// their IDs (and therefore their wire tool names) across re-ingests.
	existing := make(map[string]*models.Operation)
	for id, op := range m.operations {
		if op.SourceID == sourceID {
			existing[op.OperationID] = op
			delete(m.operations, id)
		}
	}

	now := time.Now()
	for i := range ops {
		cp := ops[i]
		cp.SourceID = sourceID
		if prev, ok := existing[cp.OperationID]; ok {
			cp.ID = prev.ID
			cp.CreatedAt = prev.CreatedAt
		} else if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		m.operations[cp.ID] = &cp
	}
	m.requestSave()
	return nil
}

func (m *MemoryStore) SetOperationEmbedding(_ context.Context, id string, vector []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.operations[id]
	if !ok {
		return &ErrNotFound{Entity: "operation", Key: id}
	}
	op.SetEmbedding(vector)
	m.requestSave()
	return nil
}

func (m *MemoryStore) SearchOperations(_ context.Context, sourceIDs []string, vector []float64, topK int) ([]OperationMatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	allowed := make(map[string]bool, len(sourceIDs))
	for _, id := range sourceIDs {
		allowed[id] = true
	}
	ids := make([]string, 0)
	for id, op := range m.operations {
		if allowed[op.SourceID] {
			ids = append(ids, id)
		}
	}

	scored := vectorindex.TopK(vector, ids, func(id string) []float64 {
		v := m.operations[id].Embedding()
		if len(v) != len(vector) {
			return nil
		}
		return v
	}, topK)

	out := make([]OperationMatch, len(scored))
	for i, s := range scored {
		out[i] = OperationMatch{Operation: *m.operations[s.ID], Score: s.Score}
	}
	return out, nil
}

// ── Agent ↔ Source Link Store ───────────────────────────────

func linkKey(agentID, sourceID string) string {
	return agentID + ":" + sourceID
}

func (m *MemoryStore) ListLinks(_ context.Context, agentID string) ([]models.AgentSourceLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.AgentSourceLink, 0)
	for _, l := range m.links {
		if l.AgentID == agentID {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CreateLink(_ context.Context, link *models.AgentSourceLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now()
	}
	cp := *link
	m.links[linkKey(link.AgentID, link.SourceID)] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteLink(_ context.Context, agentID, sourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := linkKey(agentID, sourceID)
	if _, ok := m.links[k]; !ok {
		return &ErrNotFound{Entity: "link", Key: k}
	}
	delete(m.links, k)
	m.requestSave()
	return nil
}

// ── Credential Store ────────────────────────────────────────

func (m *MemoryStore) CreateCredential(_ context.Context, cred *models.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	// Exactly one active credential per (user, source): binding a new
	// one retires the old.
	for _, c := range m.credentials {
		if c.Active && c.UserID == cred.UserID && c.SourceID == cred.SourceID {
			c.Active = false
			t := now
			c.DeactivatedAt = &t
		}
	}

	cred.Active = true
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cp := *cred
	m.credentials[cred.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetActiveCredential(_ context.Context, orgID, userID, sourceID string) (*models.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.credentials {
		if c.Active && c.OrgID == orgID && c.UserID == userID && c.SourceID == sourceID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, &ErrNotFound{Entity: "credential", Key: userID + ":" + sourceID}
}

func (m *MemoryStore) RotateCredential(_ context.Context, cred *models.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.credentials[cred.ID]
	if !ok || existing.OrgID != cred.OrgID || existing.UserID != cred.UserID {
		return &ErrNotFound{Entity: "credential", Key: cred.ID}
	}
	existing.Token = cred.Token
	existing.APIKey = cred.APIKey
	existing.Username = cred.Username
	existing.Password = cred.Password
	existing.HeaderName = cred.HeaderName
	existing.HeaderValue = cred.HeaderValue
	now := time.Now()
	existing.RotatedAt = &now
	*cred = *existing
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeactivateCredential(_ context.Context, orgID, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[id]
	if !ok || c.OrgID != orgID || c.UserID != userID {
		return &ErrNotFound{Entity: "credential", Key: id}
	}
	if c.Active {
		c.Active = false
		now := time.Now()
		c.DeactivatedAt = &now
	}
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListCredentials(_ context.Context, orgID, userID string) ([]models.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Credential, 0)
	for _, c := range m.credentials {
		if c.OrgID == orgID && c.UserID == userID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ── Source Template Store ───────────────────────────────────

func (m *MemoryStore) ListTemplates(_ context.Context) ([]models.SourceTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.SourceTemplate, 0, len(m.templates))
	for _, t := range m.templates {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) GetTemplate(_ context.Context, id string) (*models.SourceTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "template", Key: id}
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) UpsertTemplate(_ context.Context, tpl *models.SourceTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = time.Now()
	}
	cp := *tpl
	m.templates[tpl.ID] = &cp
	m.requestSave()
	return nil
}

// ── Chat Store ──────────────────────────────────────────────

func (m *MemoryStore) CreateChat(_ context.Context, chat *models.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = now
	}
	chat.UpdatedAt = now
	cp := *chat
	m.chats[chat.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetChat(_ context.Context, orgID, id string) (*models.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chats[id]
	if !ok || c.OrgID != orgID {
		return nil, &ErrNotFound{Entity: "chat", Key: id}
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) UpdateChat(_ context.Context, chat *models.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.chats[chat.ID]
	if !ok || existing.OrgID != chat.OrgID {
		return &ErrNotFound{Entity: "chat", Key: chat.ID}
	}
	chat.CreatedAt = existing.CreatedAt
	chat.UpdatedAt = time.Now()
	cp := *chat
	m.chats[chat.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListChats(_ context.Context, orgID, userID string, limit int) ([]models.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Chat, 0)
	for _, c := range m.chats {
		if c.OrgID == orgID && c.UserID == userID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, msg *models.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	chat, ok := m.chats[msg.ChatID]
	if !ok {
		return &ErrNotFound{Entity: "chat", Key: msg.ChatID}
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	cp := *msg
	m.messages[msg.ChatID] = append(m.messages[msg.ChatID], &cp)
	chat.UpdatedAt = time.Now()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListMessages(_ context.Context, chatID string) ([]models.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[chatID]
	out := make([]models.ChatMessage, len(msgs))
	for i, msg := range msgs {
		out[i] = *msg
	}
	return out, nil
}

// ── Action Store ────────────────────────────────────────────

func (m *MemoryStore) CreateAction(_ context.Context, rec *models.ActionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.ResponseBody = capBody(rec.ResponseBody)
	cp := *rec
	m.actions = append(m.actions, &cp)
	m.actionIdx[cp.ID] = len(m.actions) - 1
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateAction(_ context.Context, rec *models.ActionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.actionIdx[rec.ID]
	if !ok || m.actions[i].OrgID != rec.OrgID {
		return &ErrNotFound{Entity: "action", Key: rec.ID}
	}
	existing := m.actions[i]
	existing.Status = rec.Status
	existing.URL = rec.URL
	existing.RequestBody = rec.RequestBody
	existing.ResponseStatus = rec.ResponseStatus
	existing.ResponseBody = capBody(rec.ResponseBody)
	existing.DurationMs = rec.DurationMs
	existing.ErrorMessage = rec.ErrorMessage
	existing.Paginated = rec.Paginated
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetAction(_ context.Context, orgID, id string) (*models.ActionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.actionIdx[id]
	if !ok || m.actions[i].OrgID != orgID {
		return nil, &ErrNotFound{Entity: "action", Key: id}
	}
	cp := *m.actions[i]
	return &cp, nil
}

func (m *MemoryStore) ListActions(_ context.Context, filter models.ActionFilter) ([]models.ActionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]models.ActionRecord, 0)
	// Newest first: the log is append-only so walk it backwards.
	for i := len(m.actions) - 1; i >= 0; i-- {
		a := m.actions[i]
		if !actionMatches(a, filter) {
			continue
		}
		matched = append(matched, *a)
	}

	offset := filter.Offset
	if offset > len(matched) {
		offset = len(matched)
	}
	matched = matched[offset:]

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *MemoryStore) CountActions(_ context.Context, filter models.ActionFilter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, a := range m.actions {
		if actionMatches(a, filter) {
			n++
		}
	}
	return n, nil
}

func actionMatches(a *models.ActionRecord, f models.ActionFilter) bool {
	if f.OrgID != "" && a.OrgID != f.OrgID {
		return false
	}
	if f.UserID != "" && a.UserID != f.UserID {
		return false
	}
	if f.Status != "" && string(a.Status) != f.Status {
		return false
	}
	return true
}

func capBody(body string) string {
	if len(body) <= models.ResponseBodyCap {
		return body
	}
	// Cut at a rune boundary so the stored prefix stays valid UTF-8.
	cut := models.ResponseBodyCap
	for cut > 0 && !isRuneStart(body[cut]) {
		cut--
	}
	return body[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// ── Lifecycle ───────────────────────────────────────────────

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

func (m *MemoryStore) Migrate(_ context.Context) error { return nil }

func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() {
		close(m.doneCh)
		if m.snapshotPath != "" {
			m.saveSnapshot()
		}
	})
	return nil
}
