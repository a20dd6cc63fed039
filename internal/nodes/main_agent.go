package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/nexus-kernel/agentkernel/internal/llm"
	"github.com/nexus-kernel/agentkernel/pkg/models"
)

// MainAgent is the only node that produces text visible to the user
// (§4.4). It consumes the plan, memories, and tool results and emits
// AssistantDraft plus zero or more notifications-for-user.
type MainAgent struct {
	provider llm.Provider
	model    string
}

// NewMainAgent constructs a MainAgent over the given provider. model
// overrides the provider's default; pass "" to use it.
func NewMainAgent(provider llm.Provider, model string) *MainAgent {
	return &MainAgent{provider: provider, model: model}
}

// Run executes the Main Agent node (§4.5: "node failures ... main-agent
// failure yields a fixed apology message and a log entry"). It never
// returns an error to the caller; instead it records failure by
// falling back to the apology draft so the graph always terminates with
// a user-visible response.
func (a *MainAgent) Run(ctx context.Context, state *State) *State {
	next := state.Clone()

	if state.Plan != nil && state.Plan.Status == models.PlanStatusFailed {
		next.AssistantDraft = failedPlanSummary(state.Plan)
		return next
	}
	if step := currentRespondStep(state.Plan); step != nil {
		next.AssistantDraft = step.Draft
		return next
	}
	if step := currentWaitStep(state.Plan); step != nil {
		next.AssistantDraft = step.Question
		return next
	}

	messages := a.buildMessages(state)
	resp, err := a.provider.Generate(ctx, messages, nil, llm.Options{Model: a.model})
	if err != nil {
		next.AssistantDraft = apologyMessage
		return next
	}
	if resp.FinishReason == llm.FinishReasonSafety {
		next.AssistantDraft = apologyMessage
		return next
	}

	next.AssistantDraft = resp.Text
	return next
}

const apologyMessage = "I ran into a problem putting that response together. Could you try rephrasing your request?"

func failedPlanSummary(plan *models.Plan) string {
	var done, pending []string
	for i, step := range plan.Steps {
		label := stepLabel(step)
		if i < plan.CurrentStepIndex {
			done = append(done, label)
		} else {
			pending = append(pending, label)
		}
	}
	var b strings.Builder
	b.WriteString("I wasn't able to finish everything. ")
	if len(done) > 0 {
		fmt.Fprintf(&b, "Completed: %s. ", strings.Join(done, ", "))
	}
	if len(pending) > 0 {
		fmt.Fprintf(&b, "Did not complete: %s.", strings.Join(pending, ", "))
	}
	return b.String()
}

func stepLabel(step models.Step) string {
	switch step.Kind {
	case models.StepKindTool:
		return step.ToolName
	case models.StepKindRespond:
		return "final response"
	case models.StepKindWaitUser:
		return "follow-up question"
	default:
		return string(step.Kind)
	}
}

func currentRespondStep(plan *models.Plan) *models.Step {
	if plan == nil {
		return nil
	}
	step := plan.CurrentStep()
	if step == nil || step.Kind != models.StepKindRespond {
		return nil
	}
	return step
}

func currentWaitStep(plan *models.Plan) *models.Step {
	if plan == nil {
		return nil
	}
	step := plan.CurrentStep()
	if step == nil || step.Kind != models.StepKindWaitUser {
		return nil
	}
	return step
}

func (a *MainAgent) buildMessages(state *State) []llm.Message {
	var system strings.Builder
	system.WriteString("You are a helpful assistant. Use the retrieved memories and tool results below if relevant.")
	for _, m := range state.Memories {
		if m.Entry != nil {
			fmt.Fprintf(&system, "\n- memory: %s", m.Entry.Content)
		}
	}
	for _, tr := range state.ToolResults {
		fmt.Fprintf(&system, "\n- tool result (%s): %s", tr.ToolCallID, tr.Content)
	}

	messages := []llm.Message{{Role: "system", Content: system.String()}}
	if state.Message != nil {
		messages = append(messages, llm.Message{Role: "user", Content: state.Message.Content})
	}
	return messages
}
