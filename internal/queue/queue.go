// Package queue implements the Priority Task Queue (C6): a single
// in-process, priority-ordered, lease-based queue shared across agents.
// No direct teacher analogue exists for a cross-agent priority queue
// (internal/jobs is an async single-tool-call job store and
// internal/tasks is a cron schedule store); this package is grounded on
// their shape — context-first methods, an in-memory mutex-guarded
// store, models.Task as the unit of work — and backed by container/heap
// for priority ordering, since no example repo carries a priority-queue
// library.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nexus-kernel/agentkernel/pkg/models"
)

// DefaultSoftCap is the queue size above which info/low priority tasks
// are dropped rather than enqueued (§4.6 "recommend 10 000").
const DefaultSoftCap = 10000

// DefaultLease is how long a dequeued task may stay in flight before
// it is eligible for reclaim by another consumer (§4.6 "default 5
// min").
const DefaultLease = 5 * time.Minute

// pollInterval bounds how long Dequeue waits before re-checking
// visible_after tasks that are not yet ready, when nothing else wakes
// it sooner.
const pollInterval = 250 * time.Millisecond

// ErrClosed is returned by Enqueue/Dequeue once the queue has been
// closed.
var ErrClosed = errors.New("queue: closed")

// Stats reports queue-wide counters.
type Stats struct {
	Pending      int
	InFlight     int
	DroppedCount int64
}

// Queue is a single in-process priority task queue (§4.6).
type Queue struct {
	mu      sync.Mutex
	pending taskHeap
	inFlight map[string]*entry
	byID     map[string]*entry
	wake     chan struct{}
	closed   bool
	seq      int64
	dropped  int64

	softCap      int
	defaultLease time.Duration
}

// Config configures a Queue.
type Config struct {
	SoftCap      int
	DefaultLease time.Duration
}

// New constructs a Queue. Zero-value Config fields fall back to
// DefaultSoftCap and DefaultLease.
func New(cfg Config) *Queue {
	if cfg.SoftCap <= 0 {
		cfg.SoftCap = DefaultSoftCap
	}
	if cfg.DefaultLease <= 0 {
		cfg.DefaultLease = DefaultLease
	}
	q := &Queue{
		inFlight:     make(map[string]*entry),
		byID:         make(map[string]*entry),
		wake:         make(chan struct{}, 1),
		softCap:      cfg.SoftCap,
		defaultLease: cfg.DefaultLease,
	}
	heap.Init(&q.pending)
	return q
}

// Enqueue adds task to the queue (§4.6 "non-blocking"). info and low
// priority tasks are silently dropped (with a counter increment) once
// the queue's total size exceeds its soft cap; medium and above are
// always kept.
func (q *Queue) Enqueue(ctx context.Context, task *models.Task) error {
	if task == nil {
		return errors.New("queue: nil task")
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}

	total := len(q.pending) + len(q.inFlight)
	if total >= q.softCap && lowValue(task.Priority) {
		q.dropped++
		q.mu.Unlock()
		return nil
	}

	task.Status = models.TaskStatusPending
	q.seq++
	e := &entry{task: task, seq: q.seq}
	heap.Push(&q.pending, e)
	q.byID[task.ID] = e
	q.mu.Unlock()

	q.signal()
	return nil
}

func lowValue(p models.Priority) bool {
	return p == models.PriorityInfo || p == models.PriorityLow
}

// Dequeue returns the highest-priority eligible task (visible_after
// already elapsed), blocking until one is available or ctx is
// cancelled (§4.6). The returned task's lease expires after the
// queue's default lease unless Complete is called first.
func (q *Queue) Dequeue(ctx context.Context) (*models.Task, error) {
	for {
		task, wait, err := q.tryDequeue()
		if err != nil {
			return nil, err
		}
		if task != nil {
			return task, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// tryDequeue pops the first ready task, or reports how long the caller
// should wait before trying again (bounded by pollInterval).
func (q *Queue) tryDequeue() (*models.Task, time.Duration, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, 0, ErrClosed
	}

	now := time.Now()
	q.reclaimExpiredLocked(now)

	var deferred []*entry
	for len(q.pending) > 0 {
		e := heap.Pop(&q.pending).(*entry)
		if !e.task.Ready(now) {
			deferred = append(deferred, e)
			continue
		}
		for _, d := range deferred {
			heap.Push(&q.pending, d)
		}
		e.task.Status = models.TaskStatusInFlight
		e.task.Attempts++
		e.leaseExpiry = now.Add(q.defaultLease)
		e.inFlight = true
		q.inFlight[e.task.ID] = e
		return e.task, 0, nil
	}
	for _, d := range deferred {
		heap.Push(&q.pending, d)
	}
	return nil, pollInterval, nil
}

// reclaimExpiredLocked re-queues in-flight tasks whose lease has
// expired without a Complete call (§4.6 "reclaimed after a configurable
// lease"). Callers must hold q.mu.
func (q *Queue) reclaimExpiredLocked(now time.Time) {
	for id, e := range q.inFlight {
		if now.Before(e.leaseExpiry) {
			continue
		}
		delete(q.inFlight, id)
		e.inFlight = false
		e.task.Status = models.TaskStatusPending
		e.task.LeaseOwner = ""
		heap.Push(&q.pending, e)
	}
}

// Complete transitions an in-flight task to a terminal state (§4.6).
// Completing an unknown or already-completed task is a no-op.
func (q *Queue) Complete(ctx context.Context, taskID string, status models.TaskStatus) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.inFlight[taskID]
	if !ok {
		return nil
	}
	delete(q.inFlight, taskID)
	delete(q.byID, taskID)
	e.task.Status = status
	return nil
}

// Stats returns a snapshot of queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending:      len(q.pending),
		InFlight:     len(q.inFlight),
		DroppedCount: q.dropped,
	}
}

// Close stops accepting new tasks; blocked Dequeue calls return
// ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
