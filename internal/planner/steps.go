package planner

import "github.com/nexus-kernel/agentkernel/pkg/models"

// AttachToolResult records a Tool step's result and advances the
// cursor past it (§4.3: "the result is attached to the step and passed
// as context to subsequent steps").
func AttachToolResult(plan *models.Plan, result []byte) {
	step := plan.CurrentStep()
	if step == nil || step.Kind != models.StepKindTool {
		return
	}
	step.Result = result
	plan.CurrentStepIndex++
	if plan.Done() {
		plan.Status = models.PlanStatusCompleted
	}
}

// EnterWait suspends the plan at its current WaitUser step (§4.3).
// The caller is responsible for persisting the plan to session metadata
// and emitting step.Question to the user.
func EnterWait(plan *models.Plan) {
	step := plan.CurrentStep()
	if step == nil || step.Kind != models.StepKindWaitUser {
		return
	}
	plan.Status = models.PlanStatusWaitingUser
}

// Complete terminates the plan at its current Respond step (§4.3).
func Complete(plan *models.Plan) {
	step := plan.CurrentStep()
	if step == nil || step.Kind != models.StepKindRespond {
		return
	}
	plan.CurrentStepIndex++
	plan.Status = models.PlanStatusCompleted
}

// Fail marks the plan failed after a step error (§4.3: "the main agent
// still produces a user-visible message summarising what succeeded and
// what did not").
func Fail(plan *models.Plan) {
	plan.Status = models.PlanStatusFailed
}
