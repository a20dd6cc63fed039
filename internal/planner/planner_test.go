package planner

import (
	"context"
	"testing"

	"github.com/nexus-kernel/agentkernel/internal/llm"
	"github.com/nexus-kernel/agentkernel/internal/tools"
	"github.com/nexus-kernel/agentkernel/pkg/models"
)

type fakeProvider struct {
	response *llm.Response
	err      error
}

func (f *fakeProvider) Generate(ctx context.Context, messages []llm.Message, specs []llm.ToolSpec, opts llm.Options) (*llm.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func (f *fakeProvider) Name() string { return "fake" }

func newPlanner(t *testing.T, resp *llm.Response) *Planner {
	t.Helper()
	p, err := New(&fakeProvider{response: resp}, tools.NewRegistry(), "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestIsAcknowledgement(t *testing.T) {
	cases := map[string]bool{
		"ok":          true,
		"Ok!":         true,
		"thanks":      true,
		"sounds good": true,
		"please search the web for cat facts": false,
		"":             false,
		"yep":          true,
		"sì, grazie":   true,
		"va bene":      true,
	}
	for input, want := range cases {
		if got := isAcknowledgement(input); got != want {
			t.Errorf("isAcknowledgement(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestSuppressForceWebSearch_ShortNonWebMessage(t *testing.T) {
	if !suppressForceWebSearch("hi there") {
		t.Error("expected short non-web message to suppress force_web_search")
	}
}

func TestSuppressForceWebSearch_WebIntentKept(t *testing.T) {
	if suppressForceWebSearch("search the latest news") {
		t.Error("expected web-intent message to not suppress force_web_search")
	}
}

func TestDecide_PlainChatNoPlan(t *testing.T) {
	p := newPlanner(t, &llm.Response{Text: `{"needs_plan": false}`, FinishReason: llm.FinishReasonStop})
	session := &models.Session{ID: "s1", TenantID: "t1"}

	decision, err := p.Decide(context.Background(), session, "m1", "hello", false)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decision.NeedsPlan || decision.Plan != nil {
		t.Errorf("expected no plan, got %+v", decision)
	}
}

func TestDecide_ProducesPlan(t *testing.T) {
	resp := &llm.Response{
		Text: `{"needs_plan": true, "steps": [
			{"kind": "tool", "tool_name": "web_search", "tool_args": {"query":"go 1.23"}},
			{"kind": "respond", "draft": "here you go"}
		]}`,
		FinishReason: llm.FinishReasonStop,
	}
	p := newPlanner(t, resp)
	session := &models.Session{ID: "s1", TenantID: "t1"}

	decision, err := p.Decide(context.Background(), session, "m1", "what's new in go 1.23?", false)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !decision.NeedsPlan || decision.Plan == nil {
		t.Fatalf("expected a plan, got %+v", decision)
	}
	if len(decision.Plan.Steps) != 2 {
		t.Errorf("len(Steps) = %d, want 2", len(decision.Plan.Steps))
	}
	if decision.Plan.Status != models.PlanStatusRunning {
		t.Errorf("Status = %v, want running", decision.Plan.Status)
	}
}

func TestDecide_TruncatesOverlongPlan(t *testing.T) {
	resp := &llm.Response{
		Text: `{"needs_plan": true, "steps": [
			{"kind":"tool","tool_name":"a"},
			{"kind":"tool","tool_name":"b"},
			{"kind":"tool","tool_name":"c"},
			{"kind":"tool","tool_name":"d"},
			{"kind":"tool","tool_name":"e"},
			{"kind":"tool","tool_name":"f"}
		]}`,
		FinishReason: llm.FinishReasonStop,
	}
	p := newPlanner(t, resp)
	session := &models.Session{ID: "s1", TenantID: "t1"}

	decision, err := p.Decide(context.Background(), session, "m1", "do six things", false)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if len(decision.Plan.Steps) != models.MaxPlanSteps {
		t.Errorf("len(Steps) = %d, want %d", len(decision.Plan.Steps), models.MaxPlanSteps)
	}
	if !decision.Plan.Partial {
		t.Error("expected Partial=true for truncated plan")
	}
}

func TestDecide_SchemaRejectsUnknownField(t *testing.T) {
	p := newPlanner(t, &llm.Response{Text: `{"needs_plan": true, "bogus": 1}`, FinishReason: llm.FinishReasonStop})
	session := &models.Session{ID: "s1", TenantID: "t1"}

	decision, err := p.Decide(context.Background(), session, "m1", "hello", false)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	// §4.5: planner failures fall back to needs_plan=false rather than
	// propagating the schema error to the caller.
	if decision.NeedsPlan {
		t.Error("expected fallback to needs_plan=false on schema validation failure")
	}
}

func TestDecide_ResumesWaitingPlan(t *testing.T) {
	pending := &models.Plan{
		ID:               "p1",
		TenantID:         "t1",
		Steps:            []models.Step{{Kind: models.StepKindWaitUser, Question: "proceed?"}, {Kind: models.StepKindRespond, Draft: "done"}},
		CurrentStepIndex: 0,
		Status:           models.PlanStatusWaitingUser,
	}
	session := &models.Session{
		ID:       "s1",
		TenantID: "t1",
		Metadata: map[string]any{models.PendingPlanMetadataKey: pending},
	}
	p := newPlanner(t, &llm.Response{Text: `{"needs_plan": false}`})

	decision, err := p.Decide(context.Background(), session, "m2", "yes", false)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !decision.Resume {
		t.Fatal("expected Resume=true")
	}
	if decision.Plan.CurrentStepIndex != 1 {
		t.Errorf("CurrentStepIndex = %d, want 1", decision.Plan.CurrentStepIndex)
	}
	if decision.Plan.Status != models.PlanStatusRunning {
		t.Errorf("Status = %v, want running", decision.Plan.Status)
	}
}

func TestAttachToolResult_AdvancesCursor(t *testing.T) {
	plan := &models.Plan{
		Steps:  []models.Step{{Kind: models.StepKindTool, ToolName: "x"}, {Kind: models.StepKindRespond}},
		Status: models.PlanStatusRunning,
	}
	AttachToolResult(plan, []byte(`{"ok":true}`))
	if plan.CurrentStepIndex != 1 {
		t.Errorf("CurrentStepIndex = %d, want 1", plan.CurrentStepIndex)
	}
	if string(plan.Steps[0].Result) != `{"ok":true}` {
		t.Errorf("Result not attached: %+v", plan.Steps[0])
	}
}

func TestComplete_MarksCompleted(t *testing.T) {
	plan := &models.Plan{
		Steps:            []models.Step{{Kind: models.StepKindRespond, Draft: "hi"}},
		CurrentStepIndex: 0,
		Status:           models.PlanStatusRunning,
	}
	Complete(plan)
	if plan.Status != models.PlanStatusCompleted {
		t.Errorf("Status = %v, want completed", plan.Status)
	}
	if !plan.Done() {
		t.Error("expected plan to be done")
	}
}

func TestFail_MarksFailed(t *testing.T) {
	plan := &models.Plan{Status: models.PlanStatusRunning}
	Fail(plan)
	if plan.Status != models.PlanStatusFailed {
		t.Errorf("Status = %v, want failed", plan.Status)
	}
}
