package queue

import (
	"container/heap"
	"time"

	"github.com/nexus-kernel/agentkernel/pkg/models"
)

// entry wraps a Task with the bookkeeping the heap needs: seq breaks
// ties within a priority class to keep FIFO ordering (§4.6 "fair within
// priority: FIFO inside each priority class"), and leaseExpiry tracks
// in-flight tasks for reclaim.
type entry struct {
	task        *models.Task
	seq         int64
	leaseExpiry time.Time
	inFlight    bool
	index       int
}

// taskHeap orders entries by (priority rank, seq) so container/heap
// always pops the highest-priority, oldest-enqueued ready task. It is
// used only for pending (not in-flight) entries.
type taskHeap []*entry

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	ri, rj := h[i].task.Priority.Rank(), h[j].task.Priority.Rank()
	if ri != rj {
		return ri < rj
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

var _ heap.Interface = (*taskHeap)(nil)
