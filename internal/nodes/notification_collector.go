package nodes

import "github.com/nexus-kernel/agentkernel/pkg/models"

// highPriorityRank is the cutoff rank at or below which a notification
// is surfaced directly in the response rather than left for async/digest
// delivery (§4.4: "partitions by priority (≥ high vs rest)").
var highPriorityRank = models.PriorityHigh.Rank()

// NotificationCollector drains the per-request notification buffer,
// partitions it by priority, and attaches counts and the high-priority
// subset to the response (§4.4).
type NotificationCollector struct{}

// NewNotificationCollector constructs a NotificationCollector.
func NewNotificationCollector() *NotificationCollector { return &NotificationCollector{} }

// Run executes the Notification Collector node.
func (c *NotificationCollector) Run(state *State) *State {
	next := state.Clone()

	var high []*models.Notification
	for _, n := range next.NotificationsBuffer {
		if n == nil {
			continue
		}
		if n.Priority.Rank() <= highPriorityRank {
			high = append(high, n)
		}
	}

	next.HighPriorityNotifications = high
	next.NotificationCount = len(next.NotificationsBuffer)
	next.NotificationsBuffer = nil
	return next
}
