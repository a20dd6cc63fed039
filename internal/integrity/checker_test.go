package integrity

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/nexus-kernel/agentkernel/internal/llm"
	"github.com/nexus-kernel/agentkernel/pkg/models"
)

func TestTrigramJaccard_NearDuplicateScoresHigh(t *testing.T) {
	sim := trigramJaccard("Born on July 12, 1990", "Born on July 12 1990")
	if sim < duplicateSimilarityThreshold {
		t.Errorf("similarity = %f, want >= %f for near-identical text", sim, duplicateSimilarityThreshold)
	}
}

func TestTrigramJaccard_UnrelatedScoresLow(t *testing.T) {
	sim := trigramJaccard("Born on July 12, 1990", "Prefers dark roast coffee")
	if sim > 0.3 {
		t.Errorf("similarity = %f, want low for unrelated text", sim)
	}
}

type fakeSearcher struct {
	results []*models.SearchResult
}

func (f *fakeSearcher) Query(ctx context.Context, scope models.MemoryScope, scopeID, queryText string, k int, minImportance float32) (*models.SearchResponse, error) {
	return &models.SearchResponse{Results: f.results}, nil
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*models.Task
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, task *models.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return nil
}

type fakePublisher struct {
	mu  sync.Mutex
	ns  []*models.Notification
}

func (f *fakePublisher) Publish(ctx context.Context, n *models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ns = append(f.ns, n)
	return nil
}

type scriptedProvider struct {
	verdict llmVerdict
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Generate(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec, opts llm.Options) (*llm.Response, error) {
	body, _ := json.Marshal(p.verdict)
	return &llm.Response{Text: string(body), FinishReason: llm.FinishReasonStop}, nil
}

func TestCheck_ReportsContradictionAboveConfidenceFloor(t *testing.T) {
	existing := &models.MemoryEntry{ID: "mem-1", Content: "Born on July 12, 1990", Metadata: models.MemoryMetadata{Tags: []string{"fact"}}}
	searcher := &fakeSearcher{results: []*models.SearchResult{{Entry: existing}}}
	queue := &fakeEnqueuer{}
	pub := &fakePublisher{}
	provider := &scriptedProvider{verdict: llmVerdict{Contradiction: true, Confidence: 0.95}}

	c := New(searcher, queue, pub, provider, "test-model")
	candidate := &models.MemoryEntry{ID: "new-1", Content: "Born on August 15, 1990", Metadata: models.MemoryMetadata{Tags: []string{"fact"}}}

	result, err := c.Check(context.Background(), "t1", "u1", candidate)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !result.Contradicts {
		t.Fatal("expected a reported contradiction")
	}
	if result.Confidence < 0.90 {
		t.Errorf("confidence = %f, want >= 0.90", result.Confidence)
	}
	if len(queue.tasks) != 1 || queue.tasks[0].Type != "resolve_contradiction" {
		t.Errorf("tasks = %+v, want one resolve_contradiction task", queue.tasks)
	}
	if len(pub.ns) != 1 || pub.ns[0].Priority != models.PriorityCritical {
		t.Errorf("notifications = %+v, want one critical (blocking) notification", pub.ns)
	}
}

func TestCheck_BelowConfidenceFloorNotReported(t *testing.T) {
	existing := &models.MemoryEntry{ID: "mem-1", Content: "Born on July 12, 1990", Metadata: models.MemoryMetadata{Tags: []string{"fact"}}}
	searcher := &fakeSearcher{results: []*models.SearchResult{{Entry: existing}}}
	queue := &fakeEnqueuer{}
	pub := &fakePublisher{}
	provider := &scriptedProvider{verdict: llmVerdict{Contradiction: true, Confidence: 0.5}}

	c := New(searcher, queue, pub, provider, "test-model")
	candidate := &models.MemoryEntry{ID: "new-1", Content: "Born on August 15, 1990", Metadata: models.MemoryMetadata{Tags: []string{"fact"}}}

	result, err := c.Check(context.Background(), "t1", "u1", candidate)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Contradicts {
		t.Fatal("low-confidence verdict must not be reported as a contradiction")
	}
	if len(queue.tasks) != 0 || len(pub.ns) != 0 {
		t.Error("no task or notification should be raised below the confidence floor")
	}
}

func TestCheck_SkipsIncompatibleTypes(t *testing.T) {
	existing := &models.MemoryEntry{ID: "mem-1", Content: "Prefers dark roast", Metadata: models.MemoryMetadata{Tags: []string{"preference"}}}
	searcher := &fakeSearcher{results: []*models.SearchResult{{Entry: existing}}}
	provider := &scriptedProvider{verdict: llmVerdict{Contradiction: true, Confidence: 0.99}}

	c := New(searcher, &fakeEnqueuer{}, &fakePublisher{}, provider, "test-model")
	candidate := &models.MemoryEntry{ID: "new-1", Content: "Born on August 15, 1990", Metadata: models.MemoryMetadata{Tags: []string{"fact"}}}

	result, err := c.Check(context.Background(), "t1", "u1", candidate)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Contradicts {
		t.Fatal("fact vs preference pairs must be skipped by the type pre-filter")
	}
}

func TestCheck_SkipsNearDuplicateAsNotAContradiction(t *testing.T) {
	existing := &models.MemoryEntry{ID: "mem-1", Content: "Born on July 12, 1990", Metadata: models.MemoryMetadata{Tags: []string{"fact"}}}
	searcher := &fakeSearcher{results: []*models.SearchResult{{Entry: existing}}}
	provider := &scriptedProvider{verdict: llmVerdict{Contradiction: true, Confidence: 0.99}}

	c := New(searcher, &fakeEnqueuer{}, &fakePublisher{}, provider, "test-model")
	candidate := &models.MemoryEntry{ID: "new-1", Content: "Born on July 12 1990", Metadata: models.MemoryMetadata{Tags: []string{"fact"}}}

	result, err := c.Check(context.Background(), "t1", "u1", candidate)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Contradicts {
		t.Fatal("near-duplicate text must be treated as a duplicate, not a contradiction")
	}
}

func TestCheck_NoSimilarMemoriesReturnsNoContradiction(t *testing.T) {
	searcher := &fakeSearcher{results: nil}
	c := New(searcher, &fakeEnqueuer{}, &fakePublisher{}, &scriptedProvider{}, "test-model")
	candidate := &models.MemoryEntry{ID: "new-1", Content: "Born on August 15, 1990"}

	result, err := c.Check(context.Background(), "t1", "u1", candidate)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Contradicts {
		t.Fatal("expected no contradiction with no existing memories")
	}
}

type erroringProvider struct{}

func (erroringProvider) Name() string { return "erroring" }
func (erroringProvider) Generate(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec, opts llm.Options) (*llm.Response, error) {
	return nil, fmt.Errorf("boom")
}

func TestCheck_ComparisonErrorIsNotFatal(t *testing.T) {
	existing := &models.MemoryEntry{ID: "mem-1", Content: "Born on July 12, 1990", Metadata: models.MemoryMetadata{Tags: []string{"fact"}}}
	searcher := &fakeSearcher{results: []*models.SearchResult{{Entry: existing}}}
	c := New(searcher, &fakeEnqueuer{}, &fakePublisher{}, erroringProvider{}, "test-model")
	candidate := &models.MemoryEntry{ID: "new-1", Content: "Born on August 15, 1990", Metadata: models.MemoryMetadata{Tags: []string{"fact"}}}

	result, err := c.Check(context.Background(), "t1", "u1", candidate)
	if err != nil {
		t.Fatalf("Check should not surface provider errors: %v", err)
	}
	if result.Contradicts {
		t.Fatal("a failed comparison must not be treated as a contradiction")
	}
}
