// Package chat runs user turns: select tools, stream the model, gate
// and dispatch tool calls, feed summaries back, and persist the
// conversation when the turn completes.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/actionchat/actionchat/internal/broker"
	"github.com/actionchat/actionchat/internal/catalog"
	"github.com/actionchat/actionchat/internal/executor"
	"github.com/actionchat/actionchat/internal/gate"
	"github.com/actionchat/actionchat/internal/paginate"
	"github.com/actionchat/actionchat/internal/resolver"
	"github.com/actionchat/actionchat/internal/router"
	"github.com/actionchat/actionchat/internal/selector"
	"github.com/actionchat/actionchat/internal/store"
	"github.com/actionchat/actionchat/pkg/models"
)

const (
	// DefaultMaxSteps bounds the model ↔ tool loop per turn.
	DefaultMaxSteps = 10

	// DefaultTurnDeadline bounds one whole turn including approvals.
	DefaultTurnDeadline = 10 * time.Minute

	maxChatTitle = 80
)

// Runner drives one user turn end to end.
type Runner struct {
	store store.Store
	sel   *selector.Selector
	creds *resolver.Resolver
	exec  *executor.Executor
	pages *paginate.Engine
	gate  *gate.Gate
	model *router.Router

	approvalWindow time.Duration
	turnDeadline   time.Duration
}

func NewRunner(s store.Store, sel *selector.Selector, creds *resolver.Resolver, exec *executor.Executor, pages *paginate.Engine, g *gate.Gate, model *router.Router) *Runner {
	return &Runner{
		store:          s,
		sel:            sel,
		creds:          creds,
		exec:           exec,
		pages:          pages,
		gate:           g,
		model:          model,
		approvalWindow: gate.DefaultWindow,
		turnDeadline:   DefaultTurnDeadline,
	}
}

// Gate exposes the approval gate so the approvals endpoint can resolve
// decisions into a running turn.
func (r *Runner) Gate() *gate.Gate { return r.gate }

// SetTurnDeadline overrides the default per-turn deadline.
func (r *Runner) SetTurnDeadline(d time.Duration) {
	if d > 0 {
		r.turnDeadline = d
	}
}

// TurnRequest is one incoming user turn.
type TurnRequest struct {
	ChatID  string
	AgentID string
	OrgID   string
	UserID  string
	Message string
}

// Emitter receives stream chunks. Implementations must be safe for
// concurrent use; parallel tool calls emit from their own goroutines.
type Emitter func(models.StreamChunk)

// Run executes one turn and returns the chat id (created lazily on the
// first turn). Stream frames go through emit as they happen; the final
// persisted state is written before Run returns.
func (r *Runner) Run(ctx context.Context, req *TurnRequest, emit Emitter) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.turnDeadline)
	defer cancel()

	agent, err := r.store.GetAgent(ctx, req.OrgID, req.AgentID)
	if err != nil {
		return "", err
	}

	chatID, history, err := r.ensureChat(ctx, req)
	if err != nil {
		return "", err
	}

	candidates, err := r.sel.Select(ctx, req.OrgID, agent, req.Message)
	if err != nil {
		return chatID, err
	}
	byWire := make(map[string]selector.Candidate, len(candidates))
	for _, c := range candidates {
		byWire[c.WireName] = c
	}

	messages := r.buildMessages(agent, candidates, history, req.Message)
	tools := buildToolDefs(candidates)

	maxSteps := agent.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	var assistantText strings.Builder
	var snapshots []models.ToolCallSnapshot

	for step := 1; step <= maxSteps; step++ {
		result, err := r.model.StreamStep(ctx, agent.Model, messages, tools, func(delta string) {
			assistantText.WriteString(delta)
			emit(models.StreamChunk{Content: delta})
		})
		if err != nil {
			return chatID, err
		}

		if len(result.ToolCalls) == 0 {
			break
		}

		stepSnaps := r.dispatchCalls(ctx, req, agent, byWire, result.ToolCalls, emit)
		snapshots = append(snapshots, stepSnaps...)

		messages = append(messages, assistantCallMessage(result))
		for i, call := range result.ToolCalls {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: call.ID,
				Content:    toolMessageContent(stepSnaps[i]),
			})
		}

		if result.FinishReason != string(openai.FinishReasonToolCalls) {
			break
		}
	}

	if err := r.persistTurn(ctx, chatID, req, assistantText.String(), snapshots); err != nil {
		log.Error().Err(err).Str("chat_id", chatID).Msg("failed to persist turn")
	}
	emit(models.StreamChunk{Done: true})
	return chatID, nil
}

// ensureChat loads or lazily creates the chat and returns its history.
func (r *Runner) ensureChat(ctx context.Context, req *TurnRequest) (string, []models.ChatMessage, error) {
	if req.ChatID != "" {
		if _, err := r.store.GetChat(ctx, req.OrgID, req.ChatID); err != nil {
			return "", nil, err
		}
		history, err := r.store.ListMessages(ctx, req.ChatID)
		if err != nil {
			return "", nil, err
		}
		return req.ChatID, history, nil
	}

	title := req.Message
	if len(title) > maxChatTitle {
		title = title[:maxChatTitle]
	}
	chat := &models.Chat{
		ID:      uuid.NewString(),
		OrgID:   req.OrgID,
		UserID:  req.UserID,
		AgentID: req.AgentID,
		Title:   title,
	}
	if err := r.store.CreateChat(ctx, chat); err != nil {
		return "", nil, err
	}
	return chat.ID, nil, nil
}

// buildMessages assembles the model conversation: system prompt with
// template guidance, persisted history, then the new user message.
func (r *Runner) buildMessages(agent *models.Agent, candidates []selector.Candidate, history []models.ChatMessage, userText string) []openai.ChatCompletionMessage {
	system := agent.SystemPrompt
	if system == "" {
		system = "You are a helpful assistant that can call the connected APIs on the user's behalf."
	}
	if guidance := collectGuidance(candidates); guidance != "" {
		system += "\n\n" + guidance
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
	}
	for _, msg := range history {
		role := openai.ChatMessageRoleUser
		if msg.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	return append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: userText})
}

// collectGuidance gathers template llm_guidance across the candidate
// sources, deduplicated, in stable order.
func collectGuidance(candidates []selector.Candidate) string {
	seen := make(map[string]bool)
	var lines []string
	for _, c := range candidates {
		hints := c.Hints
		if hints == nil || hints.LLMGuidance == "" || seen[hints.LLMGuidance] {
			continue
		}
		seen[hints.LLMGuidance] = true
		lines = append(lines, hints.LLMGuidance)
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

// buildToolDefs converts candidates into model tool definitions and
// appends the search_tools builtin.
func buildToolDefs(candidates []selector.Candidate) []router.ToolDef {
	defs := make([]router.ToolDef, 0, len(candidates)+1)
	for _, c := range candidates {
		defs = append(defs, router.ToolDef{
			Name:        c.WireName,
			Description: c.Operation.Description,
			Parameters:  parameterJSONSchema(c.Operation.ParameterSchema),
		})
	}
	defs = append(defs, router.ToolDef{
		Name:        selector.SearchToolsName,
		Description: "Search all available API operations by natural-language query. Use when none of the listed tools fit.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{"type": "string", "description": "What you want to do"},
			},
			"required": []string{"query"},
		},
	})
	return defs
}

func parameterJSONSchema(schema map[string]models.ParameterSpec) map[string]interface{} {
	props := make(map[string]interface{}, len(schema))
	var required []string
	for name, spec := range schema {
		typ := spec.Type
		if typ == "" {
			typ = "string"
		}
		prop := map[string]interface{}{"type": typ}
		if spec.Description != "" {
			prop["description"] = spec.Description
		}
		props[name] = prop
		if spec.Required {
			required = append(required, name)
		}
	}
	out := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		sort.Strings(required)
		out["required"] = required
	}
	return out
}

// dispatchCalls runs one step's tool calls in parallel and returns a
// snapshot per call, in the model's emission order.
func (r *Runner) dispatchCalls(ctx context.Context, req *TurnRequest, agent *models.Agent, byWire map[string]selector.Candidate, calls []router.ToolCall, emit Emitter) []models.ToolCallSnapshot {
	snaps := make([]models.ToolCallSnapshot, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call router.ToolCall) {
			defer wg.Done()
			snaps[i] = r.dispatchOne(ctx, req, agent, byWire, call, emit)
		}(i, call)
	}
	wg.Wait()
	return snaps
}

func (r *Runner) dispatchOne(ctx context.Context, req *TurnRequest, agent *models.Agent, byWire map[string]selector.Candidate, call router.ToolCall, emit Emitter) models.ToolCallSnapshot {
	args := parseArgs(call.Arguments)
	snap := models.ToolCallSnapshot{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Input:      args,
		State:      models.StateInputAvailable,
	}
	emit(models.StreamChunk{ToolState: &models.ToolStateChunk{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		State:      models.StateInputAvailable,
		Input:      args,
	}})

	if call.Name == selector.SearchToolsName {
		return r.runSearchTools(ctx, req, agent, call, args, snap, emit)
	}

	cand, ok := byWire[call.Name]
	if !ok {
		// The model may call a tool it discovered mid-turn.
		op, src, err := r.sel.Resolve(ctx, req.OrgID, agent, call.Name)
		if err != nil {
			return r.failSnapshot(snap, call, emit, fmt.Sprintf("unknown tool %s", call.Name))
		}
		cand = selector.Candidate{Operation: *op, Source: *src, WireName: call.Name}
		cand.Hints = catalog.HintsFor(ctx, r.store, src)
	}
	snap.ToolID = cand.Operation.ID

	cred, err := r.creds.Resolve(ctx, &cand.Source, req.OrgID, req.UserID)
	if err != nil {
		return r.failSnapshot(snap, call, emit, err.Error())
	}

	execReq := &executor.Request{
		Op:         &cand.Operation,
		Source:     &cand.Source,
		Cred:       cred,
		Hints:      cand.Hints,
		OrgID:      req.OrgID,
		UserID:     req.UserID,
		AgentID:    agent.ID,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Args:       args,
	}

	if cand.Operation.RequiresConfirmation || cand.Operation.RiskLevel == models.RiskDangerous {
		approvalID := r.gate.Request()
		if rec := r.recordPending(ctx, req, agent, &cand, call); rec != nil {
			execReq.ActionID = rec.ID
		}
		snap.State = models.StateApprovalRequested
		emit(models.StreamChunk{ToolState: &models.ToolStateChunk{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			State:      models.StateApprovalRequested,
			Input:      args,
			ApprovalID: approvalID,
		}})

		approved, err := r.gate.Await(ctx, approvalID, r.approvalWindow)
		if err != nil {
			// No decision: the audit record stays pending_confirmation
			// and the turn finishes without this call's result.
			return snap
		}
		snap.Approved = &approved
		snap.State = models.StateApprovalResponded
		emit(models.StreamChunk{ToolState: &models.ToolStateChunk{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			State:      models.StateApprovalResponded,
		}})

		if !approved {
			r.exec.RecordRejection(ctx, execReq)
			snap.State = models.StateOutputAvailable
			snap.Output = &models.Envelope{
				Meta:   models.ActionMeta{ToolID: cand.Operation.ID, ToolName: call.Name, SourceID: cand.Source.ID, SourceName: cand.Source.Name, ResponseBody: map[string]interface{}{"rejected": true}},
				Result: "The user declined this action.",
			}
			emit(models.StreamChunk{ToolResult: &models.ToolResultChunk{ToolCallID: call.ID, Output: snap.Output}})
			return snap
		}
	}

	started := time.Now()
	env, err := r.exec.Execute(ctx, execReq)
	snap.DurationMs = time.Since(started).Milliseconds()
	if err != nil {
		return r.failSnapshot(snap, call, emit, err.Error())
	}

	r.pages.Track(call.ID, execReq, env.Meta.ResponseBody)

	snap.State = models.StateOutputAvailable
	snap.Output = env
	emit(models.StreamChunk{ToolResult: &models.ToolResultChunk{ToolCallID: call.ID, Output: env}})
	return snap
}

func (r *Runner) runSearchTools(ctx context.Context, req *TurnRequest, agent *models.Agent, call router.ToolCall, args map[string]interface{}, snap models.ToolCallSnapshot, emit Emitter) models.ToolCallSnapshot {
	query, _ := args["query"].(string)
	hits, err := r.sel.SearchTools(ctx, req.OrgID, agent, query)
	if err != nil {
		return r.failSnapshot(snap, call, emit, err.Error())
	}
	raw, _ := json.Marshal(hits)
	snap.State = models.StateOutputAvailable
	snap.Output = &models.Envelope{
		Meta:   models.ActionMeta{ToolName: selector.SearchToolsName, ResponseStatus: 200, ResponseBody: hits},
		Result: string(raw),
	}
	emit(models.StreamChunk{ToolResult: &models.ToolResultChunk{ToolCallID: call.ID, Output: snap.Output}})
	return snap
}

func (r *Runner) failSnapshot(snap models.ToolCallSnapshot, call router.ToolCall, emit Emitter, msg string) models.ToolCallSnapshot {
	snap.State = models.StateOutputError
	snap.Output = &models.Envelope{
		Meta:   models.ActionMeta{ToolName: call.Name, ErrorMessage: msg},
		Result: "Error: " + msg,
	}
	emit(models.StreamChunk{ToolResult: &models.ToolResultChunk{ToolCallID: call.ID, Output: snap.Output}})
	return snap
}

// recordPending writes the audit record for a call parked at the gate.
// The decision advances the same record to rejected, or to the final
// dispatch outcome when approved; without a decision it stays pending.
func (r *Runner) recordPending(ctx context.Context, req *TurnRequest, agent *models.Agent, cand *selector.Candidate, call router.ToolCall) *models.ActionRecord {
	rec := &models.ActionRecord{
		ID:       uuid.NewString(),
		OrgID:    req.OrgID,
		UserID:   req.UserID,
		AgentID:  agent.ID,
		ToolID:   cand.Operation.ID,
		SourceID: cand.Source.ID,
		Method:   cand.Operation.Method,
		URL:      cand.Operation.Path,
		Status:   models.ActionPendingConfirmation,
	}
	if err := r.store.CreateAction(ctx, rec); err != nil {
		log.Error().Err(err).Str("tool_call_id", call.ID).Msg("failed to record pending confirmation")
		return nil
	}
	return rec
}

// persistTurn writes the user and assistant messages with the tool
// call trace. Uses a fresh context so a cancelled turn still persists
// what fully arrived.
func (r *Runner) persistTurn(ctx context.Context, chatID string, req *TurnRequest, assistantText string, snapshots []models.ToolCallSnapshot) error {
	persistCtx := context.WithoutCancel(ctx)
	if err := r.store.AppendMessage(persistCtx, &models.ChatMessage{
		ID:      uuid.NewString(),
		ChatID:  chatID,
		Role:    "user",
		Content: req.Message,
	}); err != nil {
		return err
	}
	return r.store.AppendMessage(persistCtx, &models.ChatMessage{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Role:      "assistant",
		Content:   assistantText,
		ToolCalls: snapshots,
	})
}

func assistantCallMessage(result *router.StepResult) openai.ChatCompletionMessage {
	msg := openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: result.Content,
	}
	for _, call := range result.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
			ID:   call.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      call.Name,
				Arguments: call.Arguments,
			},
		})
	}
	return msg
}

// toolMessageContent is what the model reads back for one call: the
// summary string, or the error taxonomy kind on failure.
func toolMessageContent(snap models.ToolCallSnapshot) string {
	if snap.Output == nil {
		return string(broker.KindApprovalTimeout) + ": awaiting user confirmation"
	}
	return snap.Output.Result
}

func parseArgs(raw string) map[string]interface{} {
	if strings.TrimSpace(raw) == "" {
		return map[string]interface{}{}
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]interface{}{}
	}
	return args
}
