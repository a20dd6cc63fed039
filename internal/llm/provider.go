// Package llm defines the collaborator contract the kernel consumes for
// text generation (§6 "LLM provider"). The concrete wire format of any
// given backend is out of scope; this package only fixes the shape the
// Planner (C3) and Semantic Integrity Checker (C10) call through.
package llm

import (
	"context"
	"encoding/json"
)

// FinishReason classifies why a Generate call stopped producing text.
type FinishReason string

const (
	FinishReasonStop      FinishReason = "stop"
	FinishReasonToolCalls FinishReason = "tool_calls"
	FinishReasonLength    FinishReason = "length"
	FinishReasonSafety    FinishReason = "safety_block"
)

// Message is one turn of conversation passed to a provider. It is
// deliberately narrower than pkg/models.Message: providers never see
// persistence metadata, only what shapes the completion.
type Message struct {
	Role        string          `json:"role"`
	Content     string          `json:"content,omitempty"`
	ToolCallID  string          `json:"tool_call_id,omitempty"`
	ToolName    string          `json:"tool_name,omitempty"`
	ToolInput   json.RawMessage `json:"tool_input,omitempty"`
	ToolContent string          `json:"tool_content,omitempty"`
}

// ToolSpec describes a callable tool for providers that support tool
// calling. Shape mirrors internal/tools.Descriptor's externally visible
// fields so a Registry can be projected into a []ToolSpec directly.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// Options carries the generation knobs the planner and integrity
// checker actually need. Provider-specific extras (thinking budgets,
// sampling params) live behind the Extra bag rather than growing this
// struct per backend.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
	Extra       map[string]any
}

// ToolCall is a provider's request to invoke a named tool with the
// given JSON arguments.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Response is the unified result of a Generate call (§6).
type Response struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason FinishReason
	SafetyReason string
}

// Provider generates a completion from a message history and an
// optional tool set. Implementations must be safe for concurrent use;
// the Planner and Integrity Checker both call through a shared
// instance from multiple goroutines.
type Provider interface {
	Generate(ctx context.Context, messages []Message, tools []ToolSpec, opts Options) (*Response, error)
	Name() string
}
