package models

import "time"

// Priority is shared between Notification and Task to classify urgency.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
	PriorityInfo     Priority = "info"
)

// priorityRank orders priorities from most to least urgent for queue and
// dequeue ordering (§4.6).
var priorityRank = map[Priority]int{
	PriorityCritical: 0,
	PriorityHigh:      1,
	PriorityMedium:    2,
	PriorityLow:       3,
	PriorityInfo:      4,
}

// Rank returns the dequeue ordering rank of p; lower ranks dequeue first.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return len(priorityRank)
}

// NotificationChannel is how a Notification is delivered, assigned from
// its Priority (§4.9).
type NotificationChannel string

const (
	ChannelBlocking  NotificationChannel = "blocking"
	ChannelImmediate NotificationChannel = "immediate"
	ChannelAsync     NotificationChannel = "async"
	ChannelDigest    NotificationChannel = "digest"
	ChannelLog       NotificationChannel = "log"
)

// Notification is a user-facing event raised by a poller, the integrity
// checker, or a plan step (§4.9). Notifications dedup within a 60s window
// on (Type, UserID, ReferenceID).
type Notification struct {
	ID          string              `json:"id"`
	TenantID    string              `json:"tenant_id"`
	UserID      string              `json:"user_id"`
	SessionID   string              `json:"session_id,omitempty"`
	Type        string              `json:"type"`
	Priority    Priority            `json:"priority"`
	Channel     NotificationChannel `json:"channel"`
	Payload     map[string]any      `json:"payload,omitempty"`
	ReferenceID string              `json:"reference_id,omitempty"`
	Read        bool                `json:"read"`
	ResolvedAt  *time.Time          `json:"resolved_at,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

// DedupKey returns the (type, user_id, reference_id) tuple used to
// suppress duplicate notifications raised within the dedup window.
func (n *Notification) DedupKey() [3]string {
	return [3]string{n.Type, n.UserID, n.ReferenceID}
}

// ChannelForPriority assigns the delivery channel implied by a priority
// (§4.9: "assigns a channel from the priority").
func ChannelForPriority(p Priority) NotificationChannel {
	switch p {
	case PriorityCritical:
		return ChannelBlocking
	case PriorityHigh:
		return ChannelImmediate
	case PriorityMedium:
		return ChannelAsync
	case PriorityLow:
		return ChannelDigest
	default:
		return ChannelLog
	}
}
