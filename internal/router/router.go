// Package router mediates the language model stream. The broker never
// generates text itself; it forwards the conversation plus the exposed
// tool set to an OpenAI-compatible endpoint and relays deltas while
// accumulating tool calls for dispatch.
package router

import (
	"context"
	"errors"
	"io"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/rs/zerolog/log"

	"github.com/actionchat/actionchat/internal/broker"
)

const defaultModel = "gpt-4o"

// Config holds the model endpoint settings.
type Config struct {
	APIKey  string
	BaseURL string // optional OpenAI-compatible endpoint
	Model   string // default model when the agent does not pin one
}

// Router streams model steps. One instance serves all tenants.
type Router struct {
	client *openai.Client
	model  string
}

func New(cfg Config) *Router {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &Router{client: openai.NewClientWithConfig(oc), model: model}
}

// ToolDef is one callable exposed to the model for a step.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// ToolCall is a completed tool invocation request from the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// StepResult is the outcome of one model step.
type StepResult struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
}

// StreamStep runs a single model step: send the conversation, relay
// text deltas through onDelta as they arrive, and accumulate tool-call
// fragments until the stream finishes. The model may re-emit identical
// calls across steps; dedup happens downstream by tool call id.
func (r *Router) StreamStep(ctx context.Context, model string, messages []openai.ChatCompletionMessage, tools []ToolDef, onDelta func(string)) (*StepResult, error) {
	if model == "" {
		model = r.model
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	}
	for _, tool := range tools {
		params := tool.Parameters
		if params == nil {
			params = map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			}
		}
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}

	started := time.Now()
	stream, err := r.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, broker.Wrap(broker.KindInternal, err, "open model stream")
	}
	defer stream.Close()

	result := &StepResult{}

	// Tool calls stream as fragments: the id and name arrive on the
	// first chunk for an index, argument JSON accumulates afterwards.
	pending := make(map[int]*ToolCall)

	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return nil, broker.Wrap(broker.KindInternal, ctx.Err(), "model stream cancelled")
			}
			return nil, broker.Wrap(broker.KindInternal, err, "model stream")
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if choice.Delta.Content != "" {
			result.Content += choice.Delta.Content
			if onDelta != nil {
				onDelta(choice.Delta.Content)
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			call, ok := pending[index]
			if !ok {
				call = &ToolCall{}
				pending[index] = call
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			call.Arguments += tc.Function.Arguments
		}

		if choice.FinishReason != "" {
			result.FinishReason = string(choice.FinishReason)
		}
	}

	indices := make([]int, 0, len(pending))
	for i := range pending {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	for _, i := range indices {
		call := pending[i]
		if call.ID != "" && call.Name != "" {
			result.ToolCalls = append(result.ToolCalls, *call)
		}
	}

	log.Debug().
		Str("model", model).
		Int("tool_calls", len(result.ToolCalls)).
		Str("finish_reason", result.FinishReason).
		Dur("elapsed", time.Since(started)).
		Msg("model step complete")
	return result, nil
}
