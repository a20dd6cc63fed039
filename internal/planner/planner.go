// Package planner implements the Planner (C3): classifying an incoming
// user message and producing or resuming a bounded Plan (pkg/models.Plan)
// that the Graph Executor steps through.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/nexus-kernel/agentkernel/internal/llm"
	"github.com/nexus-kernel/agentkernel/internal/tools"
	"github.com/nexus-kernel/agentkernel/pkg/models"
)

// Decision is the outcome of classifying+planning a single user message.
type Decision struct {
	// Resume is true when the message acknowledges a pending
	// waiting_user plan; Plan is the same plan advanced past its wait
	// step rather than a freshly produced one.
	Resume bool

	// NeedsPlan is false for plain chat the planner LLM judged to
	// require no tool use; Plan is nil in that case.
	NeedsPlan bool

	// Plan is non-nil when NeedsPlan or Resume is true.
	Plan *models.Plan

	// SuppressWebSearch mirrors §4.3's force_web_search override.
	SuppressWebSearch bool
}

// Planner classifies messages and drives plan production via an LLM
// provider, validating its JSON output against planResponseSchema
// before it becomes a models.Plan.
type Planner struct {
	provider llm.Provider
	registry *tools.Registry
	schema   *jsonschema.Schema
	model    string
}

// New constructs a Planner. model overrides the provider's default
// model for planning calls; pass "" to use the provider's default.
func New(provider llm.Provider, registry *tools.Registry, model string) (*Planner, error) {
	schema, err := compilePlanResponseSchema()
	if err != nil {
		return nil, fmt.Errorf("compile plan response schema: %w", err)
	}
	return &Planner{provider: provider, registry: registry, schema: schema, model: model}, nil
}

// Decide classifies content and, unless it resumes a pending plan,
// calls the LLM provider to produce a new one (§4.3).
func (p *Planner) Decide(ctx context.Context, session *models.Session, originMessageID, content string, forceWebSearch bool) (Decision, error) {
	suppress := suppressForceWebSearch(content)

	if pending := pendingPlan(session); pending != nil && pending.Status == models.PlanStatusWaitingUser && isAcknowledgement(content) {
		resumed := resumeAfterWait(pending)
		return Decision{Resume: true, NeedsPlan: true, Plan: resumed, SuppressWebSearch: suppress}, nil
	}

	raw, err := p.askLLM(ctx, session, content)
	if err != nil {
		// §4.5: planner failures fall back to needs_plan=false rather
		// than surfacing an error to the caller.
		return Decision{NeedsPlan: false, SuppressWebSearch: suppress}, nil
	}

	if !raw.NeedsPlan {
		return Decision{NeedsPlan: false, SuppressWebSearch: suppress}, nil
	}

	plan := buildPlan(session.TenantID, originMessageID, raw.Steps)
	return Decision{NeedsPlan: true, Plan: plan, SuppressWebSearch: suppress}, nil
}

func pendingPlan(session *models.Session) *models.Plan {
	if session == nil || session.Metadata == nil {
		return nil
	}
	v, ok := session.Metadata[models.PendingPlanMetadataKey]
	if !ok {
		return nil
	}
	switch plan := v.(type) {
	case *models.Plan:
		return plan
	case models.Plan:
		return &plan
	default:
		return nil
	}
}

// resumeAfterWait advances a waiting_user plan past its current
// WaitUser step and marks it running again (§4.3: "the next user
// message resumes at the step after the wait").
func resumeAfterWait(plan *models.Plan) *models.Plan {
	resumed := *plan
	resumed.CurrentStepIndex++
	if resumed.Done() {
		resumed.Status = models.PlanStatusCompleted
	} else {
		resumed.Status = models.PlanStatusRunning
	}
	return &resumed
}

func (p *Planner) askLLM(ctx context.Context, session *models.Session, content string) (*rawPlanResponse, error) {
	messages := []llm.Message{
		{Role: "system", Content: plannerSystemPrompt()},
		{Role: "user", Content: content},
	}

	var toolSpecs []llm.ToolSpec
	if p.registry != nil {
		for _, d := range p.registry.Descriptors() {
			toolSpecs = append(toolSpecs, llm.ToolSpec{
				Name:        d.Name,
				Description: d.What + " " + d.WhenToUse,
				Schema:      d.Schema,
			})
		}
	}

	resp, err := p.provider.Generate(ctx, messages, toolSpecs, llm.Options{Model: p.model})
	if err != nil {
		return nil, err
	}
	if resp.FinishReason == llm.FinishReasonSafety {
		return nil, fmt.Errorf("planner generation blocked: %s", resp.SafetyReason)
	}

	var decoded any
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return &rawPlanResponse{NeedsPlan: false}, nil
	}
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return nil, fmt.Errorf("planner output is not valid json: %w", err)
	}
	if err := p.schema.Validate(decoded); err != nil {
		return nil, fmt.Errorf("planner output failed schema validation: %w", err)
	}

	var raw rawPlanResponse
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("decode validated planner output: %w", err)
	}
	return &raw, nil
}

func plannerSystemPrompt() string {
	return "You are the planning stage of an assistant. Respond with a single JSON object " +
		"matching {\"needs_plan\": bool, \"steps\": [...]}. Only set needs_plan=true when tool " +
		"use or a multi-step response is required."
}

// buildPlan converts validated raw steps into a models.Plan, truncating
// to models.MaxPlanSteps and marking Partial when truncation occurred
// (§8, spec.md §4.3 "at most 5 steps").
func buildPlan(tenantID, originMessageID string, rawSteps []rawStep) *models.Plan {
	partial := false
	if len(rawSteps) > models.MaxPlanSteps {
		rawSteps = rawSteps[:models.MaxPlanSteps]
		partial = true
	}

	steps := make([]models.Step, 0, len(rawSteps))
	for _, rs := range rawSteps {
		steps = append(steps, models.Step{
			Kind:     models.StepKind(rs.Kind),
			ToolName: rs.ToolName,
			ToolArgs: rs.ToolArgs,
			Draft:    rs.Draft,
			Question: rs.Question,
		})
	}

	return &models.Plan{
		ID:               uuid.NewString(),
		TenantID:         tenantID,
		OriginMessageID:  originMessageID,
		Steps:            steps,
		CurrentStepIndex: 0,
		Status:           models.PlanStatusRunning,
		Partial:          partial,
	}
}
