package kernel

import (
	"context"
	"testing"

	"github.com/nexus-kernel/agentkernel/internal/config"
	"github.com/nexus-kernel/agentkernel/internal/llm"
)

type fakeProvider struct{}

func (fakeProvider) Generate(ctx context.Context, messages []llm.Message, specs []llm.ToolSpec, opts llm.Options) (*llm.Response, error) {
	return &llm.Response{Text: "hello there", FinishReason: llm.FinishReasonStop}, nil
}

func (fakeProvider) Name() string { return "fake" }

func newTestKernel(t *testing.T) *Kernel {
	t.Helper()
	k, err := New(config.Default(), Dependencies{Provider: fakeProvider{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return k
}

func TestHandleMessageCreatesSessionAndReplies(t *testing.T) {
	k := newTestKernel(t)

	resp, err := k.HandleMessage(context.Background(), "tenant-1", "user-1", "", "hi there")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if resp.SessionID == "" {
		t.Fatal("expected a session to be created")
	}
	if resp.Message == nil || resp.Message.Content == "" {
		t.Fatal("expected a non-empty assistant reply")
	}
}

func TestHandleMessageReusesSession(t *testing.T) {
	k := newTestKernel(t)

	first, err := k.HandleMessage(context.Background(), "tenant-1", "user-1", "", "first turn")
	if err != nil {
		t.Fatalf("HandleMessage (first): %v", err)
	}

	second, err := k.HandleMessage(context.Background(), "tenant-1", "user-1", first.SessionID, "second turn")
	if err != nil {
		t.Fatalf("HandleMessage (second): %v", err)
	}
	if second.SessionID != first.SessionID {
		t.Fatalf("expected session %q to be reused, got %q", first.SessionID, second.SessionID)
	}
}

func TestHandleMessageUnknownSessionFallsBackToNew(t *testing.T) {
	k := newTestKernel(t)

	resp, err := k.HandleMessage(context.Background(), "tenant-1", "user-1", "does-not-exist", "hi")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if resp.SessionID == "" || resp.SessionID == "does-not-exist" {
		t.Fatalf("expected a freshly created session, got %q", resp.SessionID)
	}
}

func TestArchiveSession(t *testing.T) {
	k := newTestKernel(t)

	resp, err := k.HandleMessage(context.Background(), "tenant-1", "user-1", "", "hi")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if err := k.ArchiveSession(context.Background(), resp.SessionID); err != nil {
		t.Fatalf("ArchiveSession: %v", err)
	}
}

func TestNewRequiresProvider(t *testing.T) {
	if _, err := New(config.Default(), Dependencies{}); err == nil {
		t.Fatal("expected an error when no llm.Provider is supplied")
	}
}

func TestNewRequiresConfig(t *testing.T) {
	if _, err := New(nil, Dependencies{Provider: fakeProvider{}}); err == nil {
		t.Fatal("expected an error when config is nil")
	}
}

func TestWorkerCountIsBoundedAndPositive(t *testing.T) {
	n := workerCount()
	if n < 1 || n > maxWorkerCap {
		t.Fatalf("workerCount() = %d, want between 1 and %d", n, maxWorkerCap)
	}
}
