// Package kernel is the composition root: it wires C1-C11 into the two
// graphs named by the request/background data flow and exposes the
// kernel's public entry points (§2). Nothing outside this package
// constructs the concrete collaborators directly; callers depend on
// Kernel alone so tests can substitute a smaller wiring.
package kernel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/nexus-kernel/agentkernel/internal/graph"
	"github.com/nexus-kernel/agentkernel/internal/memory"
	"github.com/nexus-kernel/agentkernel/internal/nodes"
	"github.com/nexus-kernel/agentkernel/internal/notifications"
	"github.com/nexus-kernel/agentkernel/internal/observability"
	"github.com/nexus-kernel/agentkernel/internal/planner"
	"github.com/nexus-kernel/agentkernel/internal/session"
	"github.com/nexus-kernel/agentkernel/internal/tools"
	"github.com/nexus-kernel/agentkernel/pkg/models"
)

// instrumented wraps fn so every traversal of a request-pipeline node
// records its wall-clock duration through the Graph Executor's metrics
// (§4.5, observability.Metrics.RecordGraphNode) and opens a trace span
// for the node transition (observability.Tracer.TraceGraphNode).
func instrumented(id graph.NodeID, metrics *observability.Metrics, tracer *observability.Tracer, fn graph.NodeFunc) graph.NodeFunc {
	return func(ctx context.Context, state *nodes.State) (*nodes.State, error) {
		spanCtx := ctx
		var span trace.Span
		if tracer != nil {
			spanCtx, span = tracer.TraceGraphNode(ctx, string(id))
		}

		start := time.Now()
		next, err := fn(spanCtx, state)
		if metrics != nil {
			metrics.RecordGraphNode(string(id), time.Since(start).Seconds())
		}
		if tracer != nil {
			if err != nil {
				tracer.RecordError(span, err)
			}
			span.End()
		}
		return next, err
	}
}

// Graph node IDs for the request pipeline (§2's literal data-flow line).
const (
	nodeLoadContext        graph.NodeID = "load-context"
	nodePlanner            graph.NodeID = "planner"
	nodeToolLoop           graph.NodeID = "tool-loop"
	nodeMainAgent          graph.NodeID = "main-agent"
	nodeNotificationDrain  graph.NodeID = "notification-collector"
	nodeResponseFormatter  graph.NodeID = "response-formatter"
)

// contextMemoryCount and contextMinImportance bound how much long-term
// memory load-context pulls in per turn, mirroring the Main Agent's own
// retrieval budget rather than introducing a second tunable (§4.1, §4.4).
const (
	contextMemoryCount    = 8
	contextMinImportance  = 0.0
)

// loadContextNode records the incoming turn in short-term memory and
// retrieves relevant long-term memories for it (§4.1, §4.4's
// load-context stage of the request pipeline).
func loadContextNode(mem *memory.Manager) graph.NodeFunc {
	return func(ctx context.Context, state *nodes.State) (*nodes.State, error) {
		next := state.Clone()
		if next.Session == nil || next.Message == nil || mem == nil {
			return next, nil
		}

		mem.RecordMessage(next.Session.ID, next.Message)

		resp, err := mem.Query(ctx, models.ScopeGlobal, next.Session.UserID, next.Message.Content, contextMemoryCount, contextMinImportance)
		if err == nil && resp != nil {
			next.Memories = resp.Results
		}
		return next, nil
	}
}

// plannerNode runs the Planner (C3) and attaches its decision's Plan, if
// any, to the state (§4.3).
func plannerNode(p *planner.Planner) graph.NodeFunc {
	return func(ctx context.Context, state *nodes.State) (*nodes.State, error) {
		next := state.Clone()
		if next.Message == nil || next.Session == nil || p == nil {
			return next, nil
		}

		decision, err := p.Decide(ctx, next.Session, next.Message.ID, next.Message.Content, false)
		if err != nil {
			return next, nil
		}
		if decision.NeedsPlan {
			next.Plan = decision.Plan
		}
		return next, nil
	}
}

// toolLoopNode drives a running Plan's Tool steps to completion (C2):
// it invokes each tool in turn, attaches the result, and advances the
// plan cursor, stopping at the first non-tool step, the first failed
// invocation, or plan completion (§2 "tool-loop", §4.3).
func toolLoopNode(invoker *tools.Invoker) graph.NodeFunc {
	return func(ctx context.Context, state *nodes.State) (*nodes.State, error) {
		next := state.Clone()
		if next.Plan == nil || invoker == nil {
			return next, nil
		}

		tenantID, userID, sessionID := "", "", ""
		if next.Session != nil {
			tenantID, userID, sessionID = next.Session.TenantID, next.Session.UserID, next.Session.ID
		}

		for next.Plan.Status == models.PlanStatusRunning {
			step := next.Plan.CurrentStep()
			if step == nil {
				break
			}
			switch step.Kind {
			case models.StepKindTool:
				result := invoker.Invoke(ctx, step.ToolName, step.ToolArgs, tenantID, userID, sessionID)
				if !result.OK {
					planner.Fail(next.Plan)
					return next, nil
				}
				next.ToolResults = append(next.ToolResults, models.ToolResult{ToolCallID: step.ToolName, Content: string(result.Value)})
				planner.AttachToolResult(next.Plan, result.Value)
			case models.StepKindWaitUser:
				planner.EnterWait(next.Plan)
				return next, nil
			default:
				// Respond (or an unrecognised kind): nothing left for the
				// tool loop to do; main-agent and response-formatter take
				// it from here.
				return next, nil
			}
		}
		return next, nil
	}
}

// mainAgentNode adapts nodes.MainAgent's error-free Run into a
// graph.NodeFunc.
func mainAgentNode(agent *nodes.MainAgent) graph.NodeFunc {
	return func(ctx context.Context, state *nodes.State) (*nodes.State, error) {
		return agent.Run(ctx, state), nil
	}
}

// notificationCollectorNode adapts nodes.NotificationCollector into a
// graph.NodeFunc.
func notificationCollectorNode(collector *nodes.NotificationCollector) graph.NodeFunc {
	return func(ctx context.Context, state *nodes.State) (*nodes.State, error) {
		return collector.Run(state), nil
	}
}

// responseFormatterNode closes out a Respond step once the Main Agent
// has surfaced its draft, and persists the plan's pending/terminal state
// back to the session (§4.3, §4.11: "at most one pending plan per
// session").
func responseFormatterNode(store *session.Store) graph.NodeFunc {
	return func(ctx context.Context, state *nodes.State) (*nodes.State, error) {
		next := state.Clone()
		if next.Plan == nil || next.Session == nil {
			return next, nil
		}

		if step := next.Plan.CurrentStep(); step != nil && step.Kind == models.StepKindRespond && next.Plan.Status == models.PlanStatusRunning {
			planner.Complete(next.Plan)
		}

		switch next.Plan.Status {
		case models.PlanStatusWaitingUser:
			_ = store.SetPendingPlan(ctx, next.Session.ID, next.Plan)
		case models.PlanStatusCompleted, models.PlanStatusFailed:
			_ = store.SetPendingPlan(ctx, next.Session.ID, nil)
		}
		return next, nil
	}
}

// buildRequestGraph assembles the §2 request pipeline: load-context →
// planner → tool-loop → main-agent → notification-collector →
// response-formatter, with Knowledge extraction (C4) dispatched as a
// background task off main-agent so it never delays the user response.
func buildRequestGraph(
	mem *memory.Manager,
	pl *planner.Planner,
	invoker *tools.Invoker,
	agent *nodes.MainAgent,
	knowledge *nodes.KnowledgeAgent,
	collector *nodes.NotificationCollector,
	store *session.Store,
	metrics *observability.Metrics,
	tracer *observability.Tracer,
) *graph.Graph {
	g := graph.New(nodeLoadContext)

	g.AddNode(nodeLoadContext, instrumented(nodeLoadContext, metrics, tracer, loadContextNode(mem)))
	g.AddNode(nodePlanner, instrumented(nodePlanner, metrics, tracer, plannerNode(pl)))
	g.AddNode(nodeToolLoop, instrumented(nodeToolLoop, metrics, tracer, toolLoopNode(invoker)))
	g.AddNode(nodeMainAgent, instrumented(nodeMainAgent, metrics, tracer, mainAgentNode(agent)))
	g.AddNode(nodeNotificationDrain, instrumented(nodeNotificationDrain, metrics, tracer, notificationCollectorNode(collector)))
	g.AddNode(nodeResponseFormatter, instrumented(nodeResponseFormatter, metrics, tracer, responseFormatterNode(store)))

	g.AddEdge(nodeLoadContext, nodePlanner, nil)
	g.AddEdge(nodePlanner, nodeToolLoop, nil)
	g.AddEdge(nodeToolLoop, nodeMainAgent, nil)
	g.AddEdge(nodeMainAgent, nodeNotificationDrain, nil)
	g.AddEdge(nodeNotificationDrain, nodeResponseFormatter, nil)

	if knowledge != nil {
		g.AddBackground(nodeMainAgent, func(ctx context.Context, snapshot *nodes.State) {
			knowledge.Run(ctx, snapshot)
		})
	}

	return g
}

// Background graph node IDs for the §2 "Graph Executor with synthetic
// event" flow a dequeued Task walks.
const (
	nodeSynthesize graph.NodeID = "synthesize"
	nodePublish    graph.NodeID = "publish"
)

// synthesizeTaskNode turns a dequeued Task into a user-facing
// Notification, the synthetic event the background flow hands to the
// rest of the graph (§2).
func synthesizeTaskNode() graph.NodeFunc {
	return func(ctx context.Context, state *nodes.State) (*nodes.State, error) {
		next := state.Clone()
		task := next.Task
		if task == nil {
			return next, nil
		}

		n := &models.Notification{
			TenantID: task.TenantID,
			Type:     task.Type,
			Priority: task.Priority,
			Payload:  task.Payload,
		}
		if uid, ok := task.Payload["user_id"].(string); ok {
			n.UserID = uid
		}
		next.NotificationsBuffer = append(next.NotificationsBuffer, n)
		return next, nil
	}
}

// publishNode drains every notification the background flow produced
// through the Notification Center (C9), unfiltered by priority (§4.9:
// every priority still gets a channel, just a different one).
func publishNode(center *notifications.Center) graph.NodeFunc {
	return func(ctx context.Context, state *nodes.State) (*nodes.State, error) {
		next := state.Clone()
		for _, n := range next.NotificationsBuffer {
			if n == nil || center == nil {
				continue
			}
			_ = center.Publish(ctx, n)
		}
		next.NotificationsBuffer = nil
		return next, nil
	}
}

// buildBackgroundGraph assembles the synthetic-event graph a dequeued
// Task walks on its way to the Notification Center (§2 "Background
// flow: Scheduler → pollers → tasks → Graph Executor with synthetic
// event → notifications").
func buildBackgroundGraph(center *notifications.Center) *graph.Graph {
	g := graph.New(nodeSynthesize)
	g.AddNode(nodeSynthesize, synthesizeTaskNode())
	g.AddNode(nodePublish, publishNode(center))
	g.AddEdge(nodeSynthesize, nodePublish, nil)
	return g
}
