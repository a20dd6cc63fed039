package models

import "encoding/json"

// StepKind discriminates the tagged-union variants a Step can hold
// (§9 "dynamically typed plans → tagged variants with an explicit schema").
type StepKind string

const (
	StepKindTool     StepKind = "tool"
	StepKindRespond  StepKind = "respond"
	StepKindWaitUser StepKind = "wait_user"
)

// Step is one entry in a Plan. Exactly one of the kind-specific payloads
// is populated, selected by Kind.
type Step struct {
	Kind StepKind `json:"kind"`

	// Tool variant.
	ToolName string          `json:"tool_name,omitempty"`
	ToolArgs json.RawMessage `json:"tool_args,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`

	// Respond variant.
	Draft string `json:"draft,omitempty"`

	// WaitUser variant.
	Question string `json:"question,omitempty"`
}

// PlanStatus is the lifecycle state of a Plan (§3, §4.3).
type PlanStatus string

const (
	PlanStatusRunning     PlanStatus = "running"
	PlanStatusWaitingUser PlanStatus = "waiting_user"
	PlanStatusCompleted   PlanStatus = "completed"
	PlanStatusFailed      PlanStatus = "failed"
)

// MaxPlanSteps is the hard cap on steps the Planner may produce for a
// single plan; a longer plan is truncated and marked partial (§8).
const MaxPlanSteps = 5

// Plan is the Planner's output for a single user message: an ordered,
// bounded sequence of Steps, with a cursor tracking the next step to
// execute. At most one Plan may be pending per Session (stored in
// Session.Metadata[PendingPlanMetadataKey]).
type Plan struct {
	ID               string     `json:"id"`
	TenantID         string     `json:"tenant_id"`
	OriginMessageID  string     `json:"origin_message_id"`
	Steps            []Step     `json:"steps"`
	CurrentStepIndex int        `json:"current_step_index"`
	Status           PlanStatus `json:"status"`
	Partial          bool       `json:"partial,omitempty"`
}

// Done reports whether the plan has no remaining steps to execute.
func (p *Plan) Done() bool {
	return p.CurrentStepIndex >= len(p.Steps)
}

// CurrentStep returns the step the plan is paused at, or nil if done.
func (p *Plan) CurrentStep() *Step {
	if p.Done() {
		return nil
	}
	return &p.Steps[p.CurrentStepIndex]
}
