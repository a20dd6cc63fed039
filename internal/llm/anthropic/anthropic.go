// Package anthropic adapts Anthropic's Claude API to the llm.Provider
// contract via a single blocking call (Generate), rather than the
// streaming interface the provider's native SDK exposes.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nexus-kernel/agentkernel/internal/llm"
)

// Config configures a Provider.
type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int
}

// Provider implements llm.Provider against the Anthropic Messages API.
type Provider struct {
	client       anthropic.Client
	defaultModel string
	maxTokens    int
}

// New constructs a Provider. APIKey is required.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Provider{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		maxTokens:    cfg.MaxTokens,
	}, nil
}

// Name returns the provider identifier used for routing and logging.
func (p *Provider) Name() string { return "anthropic" }

// Generate sends messages to Claude and returns a single unified
// response (§6), blocking until the full completion arrives.
func (p *Provider) Generate(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec, opts llm.Options) (*llm.Response, error) {
	model := opts.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
	}

	var system string
	converted, err := convertMessages(messages, &system)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert messages: %w", err)
	}
	params.Messages = converted
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	if len(tools) > 0 {
		toolParams, err := convertTools(tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = toolParams
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	return convertResponse(msg), nil
}

func convertMessages(messages []llm.Message, system *string) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, m := range messages {
		if m.Role == "system" {
			if *system != "" {
				*system += "\n\n"
			}
			*system += m.Content
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if m.Content != "" {
			content = append(content, anthropic.NewTextBlock(m.Content))
		}
		if m.ToolCallID != "" && m.Role == "tool" {
			content = append(content, anthropic.NewToolResultBlock(m.ToolCallID, m.ToolContent, false))
		}
		if m.ToolName != "" && m.Role == "assistant" && m.ToolCallID != "" {
			var input map[string]any
			if len(m.ToolInput) > 0 {
				if err := json.Unmarshal(m.ToolInput, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call input: %w", err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(m.ToolCallID, input, m.ToolName))
		}
		if len(content) == 0 {
			continue
		}

		if m.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertTools(tools []llm.ToolSpec) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if toolParam.OfTool != nil {
			toolParam.OfTool.Description = anthropic.String(t.Description)
		}
		result = append(result, toolParam)
	}
	return result, nil
}

func convertResponse(msg *anthropic.Message) *llm.Response {
	resp := &llm.Response{FinishReason: llm.FinishReasonStop}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Text += variant.Text
		case anthropic.ToolUseBlock:
			resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
				ID:    variant.ID,
				Name:  variant.Name,
				Input: json.RawMessage(variant.Input),
			})
		}
	}

	switch msg.StopReason {
	case anthropic.StopReasonToolUse:
		resp.FinishReason = llm.FinishReasonToolCalls
	case anthropic.StopReasonMaxTokens:
		resp.FinishReason = llm.FinishReasonLength
	default:
		resp.FinishReason = llm.FinishReasonStop
	}
	return resp
}
