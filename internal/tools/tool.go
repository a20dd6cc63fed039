// Package tools implements the Tool Registry & Invoker (C2): tool
// descriptors, schema validation, timeout/retry enforcement, and
// best-effort auto-indexing of index-worthy tool results into memory.
package tools

import (
	"context"
	"encoding/json"
	"time"
)

// SideEffect classifies a tool by the side effects it may have. Pure and
// read tools never need confirmation; write and external tools may carry
// additional policy in the future.
type SideEffect string

const (
	SideEffectPure     SideEffect = "pure"
	SideEffectRead     SideEffect = "read"
	SideEffectWrite    SideEffect = "write"
	SideEffectExternal SideEffect = "external"
)

// Descriptor documents a tool for both the planner's tool-selection
// prompt and the invoker's validation/execution policy.
type Descriptor struct {
	Name       string
	What       string // one-line description of what the tool does
	WhenToUse  string // guidance on when an agent should reach for it
	Schema     json.RawMessage
	SideEffect SideEffect

	// Timeout overrides the registry default (max 10 minutes). Zero uses
	// the default.
	Timeout time.Duration

	// Indexable marks a tool whose successful results are worth
	// best-effort auto-indexing into memory (§4.2).
	Indexable bool
}

// Handler executes a tool call. args has already passed schema
// validation; ctx carries the invocation deadline.
type Handler func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
