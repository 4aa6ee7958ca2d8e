// Package selector resolves an agent's bound sources into the bounded,
// permission-filtered operation set a model may call in one turn.
package selector

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/actionchat/actionchat/internal/embeddings"
	"github.com/actionchat/actionchat/internal/store"
	"github.com/actionchat/actionchat/pkg/models"
)

// KCap bounds the number of operations exposed to the model per turn.
const KCap = 64

// SearchToolsName is the builtin discovery operation always appended to
// the exposed set.
const SearchToolsName = "search_tools"

// Candidate is one exposed operation together with its source context.
type Candidate struct {
	Operation models.Operation
	Source    models.Source
	WireName  string
	Hints     *models.RuntimeHints // from the source's template, may be nil
}

// SearchHit is one row of the search_tools builtin's result.
type SearchHit struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Method      string  `json:"method"`
	Path        string  `json:"path"`
	Match       float64 `json:"match"` // percent
}

// Selector builds per-turn candidate sets.
type Selector struct {
	store   store.Store
	indexer *embeddings.Indexer // nil disables k-NN
}

func New(st store.Store, indexer *embeddings.Indexer) *Selector {
	return &Selector{store: st, indexer: indexer}
}

// Select produces the ordered candidate list for a turn. When the
// permitted set exceeds KCap, k-NN on the turn text picks the subset;
// without embeddings the first KCap in lexical name order are used.
func (s *Selector) Select(ctx context.Context, orgID string, agent *models.Agent, turnText string) ([]Candidate, error) {
	all, sources, err := s.permittedOperations(ctx, orgID, agent)
	if err != nil {
		return nil, err
	}

	if len(all) > KCap {
		all = s.narrow(ctx, all, sources, turnText)
	}

	hintsBySource := make(map[string]*models.RuntimeHints, len(sources))
	for id, src := range sources {
		hintsBySource[id] = s.templateHints(ctx, &src)
	}

	out := make([]Candidate, 0, len(all))
	for _, op := range all {
		out = append(out, Candidate{
			Operation: op,
			Source:    sources[op.SourceID],
			WireName:  models.ToolIdentifier(op.Name, op.ID),
			Hints:     hintsBySource[op.SourceID],
		})
	}
	return out, nil
}

// templateHints loads the runtime hints behind a source's template
// reference, tolerating missing templates.
func (s *Selector) templateHints(ctx context.Context, src *models.Source) *models.RuntimeHints {
	if src.TemplateRef == "" {
		return nil
	}
	tpl, err := s.store.GetTemplate(ctx, src.TemplateRef)
	if err != nil {
		log.Warn().Err(err).Str("template_ref", src.TemplateRef).Msg("Template lookup failed")
		return nil
	}
	return tpl.Hints
}

// permittedOperations resolves links → sources → operations, dropping
// write operations on read-only links.
func (s *Selector) permittedOperations(ctx context.Context, orgID string, agent *models.Agent) ([]models.Operation, map[string]models.Source, error) {
	links, err := s.store.ListLinks(ctx, agent.ID)
	if err != nil {
		return nil, nil, err
	}

	sources := make(map[string]models.Source)
	var all []models.Operation
	for _, link := range links {
		src, err := s.store.GetSource(ctx, orgID, link.SourceID)
		if err != nil {
			log.Warn().Err(err).Str("source_id", link.SourceID).Msg("Linked source missing, skipping")
			continue
		}
		sources[src.ID] = *src

		ops, err := s.store.ListOperations(ctx, src.ID)
		if err != nil {
			return nil, nil, err
		}
		for _, op := range ops {
			if link.Permission == models.PermissionRead && !op.IsRead() {
				continue
			}
			all = append(all, op)
		}
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Name != all[j].Name {
			return all[i].Name < all[j].Name
		}
		return all[i].ID < all[j].ID
	})
	return all, sources, nil
}

// narrow shrinks an over-cap candidate set to KCap, preferring k-NN on
// the turn text and falling back to the lexical prefix.
func (s *Selector) narrow(ctx context.Context, all []models.Operation, sources map[string]models.Source, turnText string) []models.Operation {
	permitted := make(map[string]models.Operation, len(all))
	for _, op := range all {
		permitted[op.ID] = op
	}

	if s.indexer != nil && strings.TrimSpace(turnText) != "" {
		vector, err := s.indexer.EmbedQuery(ctx, turnText)
		if err != nil {
			log.Warn().Err(err).Msg("Turn embedding failed, using lexical selection")
		} else if len(vector) > 0 {
			sourceIDs := make([]string, 0, len(sources))
			for id := range sources {
				sourceIDs = append(sourceIDs, id)
			}
			matches, err := s.store.SearchOperations(ctx, sourceIDs, vector, KCap*2)
			if err != nil {
				log.Warn().Err(err).Msg("Vector search failed, using lexical selection")
			} else if len(matches) > 0 {
				picked := make([]models.Operation, 0, KCap)
				for _, m := range matches {
					op, ok := permitted[m.Operation.ID]
					if !ok {
						continue
					}
					picked = append(picked, op)
					if len(picked) == KCap {
						break
					}
				}
				if len(picked) > 0 {
					return picked
				}
			}
		}
	}

	return all[:KCap]
}

// SearchTools runs the builtin discovery operation over the complete
// permitted set, so the model can reach operations beyond the cap.
func (s *Selector) SearchTools(ctx context.Context, orgID string, agent *models.Agent, query string) ([]SearchHit, error) {
	all, sources, err := s.permittedOperations(ctx, orgID, agent)
	if err != nil {
		return nil, err
	}

	const maxHits = 20

	if s.indexer != nil {
		vector, err := s.indexer.EmbedQuery(ctx, query)
		if err == nil && len(vector) > 0 {
			sourceIDs := make([]string, 0, len(sources))
			for id := range sources {
				sourceIDs = append(sourceIDs, id)
			}
			permitted := make(map[string]bool, len(all))
			for _, op := range all {
				permitted[op.ID] = true
			}
			matches, err := s.store.SearchOperations(ctx, sourceIDs, vector, maxHits*2)
			if err == nil && len(matches) > 0 {
				hits := make([]SearchHit, 0, maxHits)
				for _, m := range matches {
					if !permitted[m.Operation.ID] {
						continue
					}
					hits = append(hits, toHit(m.Operation, m.Score*100))
					if len(hits) == maxHits {
						break
					}
				}
				return hits, nil
			}
		}
	}

	// Lexical fallback: substring match over name and description.
	needle := strings.ToLower(strings.TrimSpace(query))
	hits := make([]SearchHit, 0, maxHits)
	for _, op := range all {
		if needle != "" &&
			!strings.Contains(strings.ToLower(op.Name), needle) &&
			!strings.Contains(strings.ToLower(op.Description), needle) {
			continue
		}
		hits = append(hits, toHit(op, 0))
		if len(hits) == maxHits {
			break
		}
	}
	return hits, nil
}

func toHit(op models.Operation, match float64) SearchHit {
	path := op.Path
	if op.Method == models.MethodMCP {
		path = op.MCPToolName
	}
	return SearchHit{
		Name:        op.Name,
		Description: op.Description,
		Method:      op.Method,
		Path:        path,
		Match:       match,
	}
}

// Resolve maps a wire tool name back to its operation, scoped to the
// agent's linked sources and their link permissions. A write operation
// behind a read-only link is invisible here just as it is in Select.
func (s *Selector) Resolve(ctx context.Context, orgID string, agent *models.Agent, wireName string) (*models.Operation, *models.Source, error) {
	links, err := s.store.ListLinks(ctx, agent.ID)
	if err != nil {
		return nil, nil, err
	}
	sourceIDs := make([]string, 0, len(links))
	linkBySource := make(map[string]models.AgentSourceLink, len(links))
	for _, l := range links {
		sourceIDs = append(sourceIDs, l.SourceID)
		linkBySource[l.SourceID] = l
	}

	shortID := models.ToolIDSuffix(wireName)
	if shortID == "" {
		return nil, nil, &store.ErrNotFound{Entity: "operation", Key: wireName}
	}
	op, err := s.store.GetOperationByShortID(ctx, sourceIDs, shortID)
	if err != nil {
		return nil, nil, err
	}
	if linkBySource[op.SourceID].Permission == models.PermissionRead && !op.IsRead() {
		return nil, nil, &store.ErrNotFound{Entity: "operation", Key: wireName}
	}
	src, err := s.store.GetSource(ctx, orgID, op.SourceID)
	if err != nil {
		return nil, nil, err
	}
	return op, src, nil
}
