package nodes

import (
	"context"

	"github.com/nexus-kernel/agentkernel/pkg/models"
)

// IntegrityAgent is a thin wrapper around the Semantic Integrity
// Checker (C10). It never produces user-visible text; it only decides,
// for one candidate memory entry, whether to let it through to storage.
// Raising the resolve_contradiction task is the checker's own side
// effect (§4.10 step 4, e.g. internal/integrity.Checker.raise) — the
// agent does not duplicate it here, since the checker has the richer
// comparison context (rationale, notification payload) that Evaluate's
// generic CheckResult doesn't carry.
type IntegrityAgent struct {
	checker Checker
}

// NewIntegrityAgent constructs an IntegrityAgent. A nil checker makes
// every candidate pass unchallenged.
func NewIntegrityAgent(checker Checker) *IntegrityAgent {
	return &IntegrityAgent{checker: checker}
}

// Evaluate checks candidate against existing memory and reports whether
// the caller should proceed to commit it to long-term memory. A
// confident contradiction (§4.10 confidence ≥ 0.90) returns
// proceed=false; the checker itself is responsible for raising the
// resolve_contradiction task.
func (ia *IntegrityAgent) Evaluate(ctx context.Context, tenantID, userID string, candidate *models.MemoryEntry) (proceed bool) {
	if ia.checker == nil {
		return true
	}
	result, err := ia.checker.Check(ctx, tenantID, userID, candidate)
	if err != nil || result == nil {
		return true
	}
	if !result.Contradicts || result.Confidence < ContradictionConfidenceThreshold {
		return true
	}
	return false
}
