// Package integrity implements the Semantic Integrity Checker (C10):
// detects logical contradictions between a new long-term memory
// candidate and a user's existing memories. The parallel pairwise
// comparison fan-out is grounded on
// internal/multiagent/capability_router.go's bounded-concurrency
// candidate evaluation, applied here to contradiction checks instead
// of capability scoring; the string-similarity pre-filter is plain
// stdlib trigram/Jaccard, kept cheap because the check always runs as
// a background task that must not delay the user response.
package integrity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/nexus-kernel/agentkernel/internal/llm"
	"github.com/nexus-kernel/agentkernel/internal/nodes"
	"github.com/nexus-kernel/agentkernel/pkg/models"
)

const (
	// candidateCount is how many similar memories are fetched for
	// comparison (§4.10 "top 5").
	candidateCount = 5
	// minExistingImportance gates which existing memories are even
	// considered (§4.10 "importance ≥ 0.7").
	minExistingImportance = 0.7
	// duplicateSimilarityThreshold treats near-identical text as a
	// duplicate rather than a contradiction (§4.10).
	duplicateSimilarityThreshold = 0.95
	// maxParallelComparisons bounds the fan-out of LLM comparison calls
	// per Check invocation.
	maxParallelComparisons = 5
)

// SimilaritySearcher is the subset of the Memory Manager (C1) used to
// fetch candidates for comparison.
type SimilaritySearcher interface {
	Query(ctx context.Context, scope models.MemoryScope, scopeID, queryText string, k int, minImportance float32) (*models.SearchResponse, error)
}

// TaskEnqueuer is the Priority Task Queue (C6) contract used to raise
// resolve_contradiction tasks.
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, task *models.Task) error
}

// NotificationPublisher is the Notification Center (C9) contract used
// to raise the blocking notification accompanying a contradiction.
type NotificationPublisher interface {
	Publish(ctx context.Context, n *models.Notification) error
}

// Checker is the concrete C10 implementation; its Check method
// satisfies the nodes.Checker interface the Integrity Agent (C4)
// depends on.
type Checker struct {
	memory        SimilaritySearcher
	queue         TaskEnqueuer
	notifications NotificationPublisher
	provider      llm.Provider
	model         string
}

// New constructs a Checker.
func New(memory SimilaritySearcher, queue TaskEnqueuer, notifications NotificationPublisher, provider llm.Provider, model string) *Checker {
	return &Checker{memory: memory, queue: queue, notifications: notifications, provider: provider, model: model}
}

type comparison struct {
	existing   *models.MemoryEntry
	confidence float64
	contradict bool
}

// Check runs the C10 algorithm against candidate and reports the
// highest-confidence contradiction found, if any clears the
// confidence floor. On a confident contradiction it also enqueues a
// resolve_contradiction task and publishes a blocking notification
// (§4.10 step 4); both are best-effort side effects and do not affect
// the returned verdict.
func (c *Checker) Check(ctx context.Context, tenantID, userID string, candidate *models.MemoryEntry) (*nodes.CheckResult, error) {
	if c.memory == nil {
		return &nodes.CheckResult{Contradicts: false}, nil
	}

	resp, err := c.memory.Query(ctx, models.ScopeGlobal, userID, candidate.Content, candidateCount, minExistingImportance)
	if err != nil {
		return nil, err
	}

	var survivors []*models.MemoryEntry
	for _, result := range resp.Results {
		if result.Entry == nil || result.Entry.ID == candidate.ID {
			continue
		}
		if incompatibleTypes(candidate, result.Entry) {
			continue
		}
		if trigramJaccard(candidate.Content, result.Entry.Content) > duplicateSimilarityThreshold {
			continue
		}
		survivors = append(survivors, result.Entry)
	}
	if len(survivors) == 0 {
		return &nodes.CheckResult{Contradicts: false}, nil
	}

	comparisons := c.compareAll(ctx, candidate, survivors)

	var best *comparison
	for i := range comparisons {
		cmp := comparisons[i]
		if cmp == nil || !cmp.contradict {
			continue
		}
		if best == nil || cmp.confidence > best.confidence {
			best = cmp
		}
	}
	if best == nil || best.confidence < nodes.ContradictionConfidenceThreshold {
		return &nodes.CheckResult{Contradicts: false}, nil
	}

	c.raise(ctx, tenantID, userID, candidate, best)

	return &nodes.CheckResult{
		Contradicts:  true,
		ExistingID:   best.existing.ID,
		Confidence:   best.confidence,
		ExistingText: best.existing.Content,
	}, nil
}

func incompatibleTypes(candidate, existing *models.MemoryEntry) bool {
	ct := factType(candidate)
	et := factType(existing)
	return ct != "" && et != "" && ct != et
}

func factType(entry *models.MemoryEntry) string {
	if len(entry.Metadata.Tags) == 0 {
		return ""
	}
	return entry.Metadata.Tags[0]
}

// compareAll runs the LLM comparison for each survivor, bounded to
// maxParallelComparisons in flight at once.
func (c *Checker) compareAll(ctx context.Context, candidate *models.MemoryEntry, survivors []*models.MemoryEntry) []*comparison {
	results := make([]*comparison, len(survivors))
	sem := make(chan struct{}, maxParallelComparisons)
	var wg sync.WaitGroup

	for i, existing := range survivors {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, existing *models.MemoryEntry) {
			defer wg.Done()
			defer func() { <-sem }()
			cmp, err := c.compareOne(ctx, candidate, existing)
			if err != nil {
				return
			}
			results[i] = cmp
		}(i, existing)
	}
	wg.Wait()
	return results
}

type llmVerdict struct {
	Contradiction bool    `json:"contradiction"`
	Confidence    float64 `json:"confidence"`
	Rationale     string  `json:"rationale"`
}

func (c *Checker) compareOne(ctx context.Context, candidate, existing *models.MemoryEntry) (*comparison, error) {
	if c.provider == nil {
		return nil, nil
	}
	messages := []llm.Message{
		{Role: "system", Content: "Decide whether two statements about the same person logically contradict each other. " +
			`Respond with JSON {"contradiction": bool, "confidence": 0-1, "rationale": "..."}.`},
		{Role: "user", Content: fmt.Sprintf("Statement A: %s\nStatement B: %s", existing.Content, candidate.Content)},
	}
	resp, err := c.provider.Generate(ctx, messages, nil, llm.Options{Model: c.model})
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(resp.Text)
	var verdict llmVerdict
	if err := json.Unmarshal([]byte(text), &verdict); err != nil {
		return nil, err
	}
	return &comparison{existing: existing, confidence: verdict.Confidence, contradict: verdict.Contradiction}, nil
}

func (c *Checker) raise(ctx context.Context, tenantID, userID string, candidate *models.MemoryEntry, best *comparison) {
	if c.queue != nil {
		_ = c.queue.Enqueue(ctx, &models.Task{
			TenantID:    tenantID,
			Priority:    models.PriorityHigh,
			OriginAgent: "integrity_checker",
			Type:        "resolve_contradiction",
			Payload: map[string]any{
				"user_id":       userID,
				"new_text":      candidate.Content,
				"existing_id":   best.existing.ID,
				"existing_text": best.existing.Content,
				"confidence":    best.confidence,
			},
		})
	}
	if c.notifications != nil {
		_ = c.notifications.Publish(ctx, &models.Notification{
			TenantID:    tenantID,
			UserID:      userID,
			Type:        "memory_contradiction",
			Priority:    models.PriorityCritical,
			ReferenceID: best.existing.ID,
			Payload: map[string]any{
				"new_text":      candidate.Content,
				"existing_text": best.existing.Content,
				"confidence":    best.confidence,
				"resolution_options": []string{"choose_a", "choose_b", "no_contradiction", "merge_with_context"},
			},
		})
	}
}
