// Package nodes implements the Agent Nodes (C4): pure state-transform
// functions the Graph Executor (C5) steps through. Every node consumes
// a State and returns a new State; none of them speak to the user
// except the Main Agent.
package nodes

import "github.com/nexus-kernel/agentkernel/pkg/models"

// State is the shared record threaded through the graph for a single
// request (§4.4).
type State struct {
	Message  *models.Message
	Session  *models.Session
	Memories []*models.SearchResult
	Plan     *models.Plan

	// Task carries a dequeued background task through the synthetic-event
	// graph (§2 "Graph Executor with synthetic event"). Request-pipeline
	// nodes never set it.
	Task *models.Task

	ToolResults []models.ToolResult

	// NotificationsBuffer accumulates notifications raised by any node
	// during this request; the Notification Collector partitions and
	// drains it.
	NotificationsBuffer []*models.Notification

	// AssistantDraft is the text the Main Agent produced. Only the
	// Main Agent writes this field.
	AssistantDraft string

	// HighPriorityNotifications and NotificationCount are filled in by
	// the Notification Collector for the response formatter.
	HighPriorityNotifications []*models.Notification
	NotificationCount         int
}

// Clone returns a shallow copy of s for nodes that spawn background
// work (§4.5: "State is copy-on-write at node boundaries so background
// tasks observe an immutable snapshot"). Slice fields are copied so the
// background goroutine's appends never race with the critical path's.
func (s *State) Clone() *State {
	clone := *s
	clone.Memories = append([]*models.SearchResult(nil), s.Memories...)
	clone.ToolResults = append([]models.ToolResult(nil), s.ToolResults...)
	clone.NotificationsBuffer = append([]*models.Notification(nil), s.NotificationsBuffer...)
	clone.HighPriorityNotifications = append([]*models.Notification(nil), s.HighPriorityNotifications...)
	return &clone
}
