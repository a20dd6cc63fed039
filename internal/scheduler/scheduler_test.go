package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nexus-kernel/agentkernel/pkg/models"
)

type recordingQueue struct {
	mu    sync.Mutex
	tasks []*models.Task
}

func (q *recordingQueue) Enqueue(ctx context.Context, task *models.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *recordingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func TestManager_InvokesDueHandlerAndEnqueuesTasks(t *testing.T) {
	q := &recordingQueue{}
	m := New(q, nil)

	var calls int32
	m.Register("digest_agent", 50*time.Millisecond, func(ctx context.Context) ([]*models.Task, error) {
		atomic.AddInt32(&calls, 1)
		return []*models.Task{{ID: "digest-1", Priority: models.PriorityLow}}, nil
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { <-m.Stop().Done() }()

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&calls) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if atomic.LoadInt32(&calls) == 0 {
		t.Fatal("handler was never invoked")
	}
	if q.count() == 0 {
		t.Fatal("handler's tasks were never enqueued")
	}
}

func TestManager_SkipsOverlappingInvocationWhileRunning(t *testing.T) {
	q := &recordingQueue{}
	m := New(q, nil)

	var running int32
	var maxConcurrent int32
	release := make(chan struct{})

	m.Register("slow_agent", 10*time.Millisecond, func(ctx context.Context) ([]*models.Task, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&maxConcurrent)
			if n <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&running, -1)
		return nil, nil
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	time.Sleep(120 * time.Millisecond)
	close(release)
	<-m.Stop().Done()

	if got := atomic.LoadInt32(&maxConcurrent); got > 1 {
		t.Errorf("max concurrent invocations of the same agent = %d, want at most 1", got)
	}
}

func TestManager_RunsIndependentAgentsConcurrently(t *testing.T) {
	q := &recordingQueue{}
	m := New(q, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	ran := make(map[string]bool)
	var mu sync.Mutex

	register := func(name string) {
		m.Register(name, 20*time.Millisecond, func(ctx context.Context) ([]*models.Task, error) {
			mu.Lock()
			if !ran[name] {
				ran[name] = true
				wg.Done()
			}
			mu.Unlock()
			return nil, nil
		})
	}
	register("agent_a")
	register("agent_b")

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { <-m.Stop().Done() }()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("both agents were never invoked")
	}
}

func TestManager_HandlerErrorDoesNotStopScheduler(t *testing.T) {
	q := &recordingQueue{}
	m := New(q, nil)

	var calls int32
	m.Register("flaky_agent", 20*time.Millisecond, func(ctx context.Context) ([]*models.Task, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errFlaky
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { <-m.Stop().Done() }()

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&calls) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if atomic.LoadInt32(&calls) < 2 {
		t.Fatal("scheduler stopped retrying after a handler error")
	}
}

type flakyErr struct{}

func (flakyErr) Error() string { return "flaky handler failure" }

var errFlaky = flakyErr{}
