package models

import "time"

// TaskStatus is the lifecycle state of a queued Task (§3, §4.6).
type TaskStatus string

const (
	TaskStatusPending     TaskStatus = "pending"
	TaskStatusInFlight    TaskStatus = "in_flight"
	TaskStatusWaitingUser TaskStatus = "waiting_user"
	TaskStatusCompleted   TaskStatus = "completed"
	TaskStatusFailed      TaskStatus = "failed"
)

// Task is a unit of background work submitted to the priority task queue
// (§4.6) by a poller, the scheduler, or an agent node. Ordering within a
// priority class is FIFO; a Task is not visible to consumers until
// VisibleAfter has elapsed (zero value means immediately visible).
type Task struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"`
	Priority     Priority       `json:"priority"`
	OriginAgent  string         `json:"origin_agent"`
	Type         string         `json:"type"`
	Payload      map[string]any `json:"payload,omitempty"`
	Status       TaskStatus     `json:"status"`
	VisibleAfter time.Time      `json:"visible_after,omitempty"`
	LeaseOwner   string         `json:"lease_owner,omitempty"`
	LeaseExpiry  time.Time      `json:"lease_expiry,omitempty"`
	Attempts     int            `json:"attempts"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Ready reports whether the task is visible to consumers at instant now.
func (t *Task) Ready(now time.Time) bool {
	return t.VisibleAfter.IsZero() || !t.VisibleAfter.After(now)
}
