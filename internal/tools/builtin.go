package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nexus-kernel/agentkernel/pkg/models"
)

// WebSearchProvider performs a web search; implemented by a collaborator
// outside the kernel core (§6).
type WebSearchProvider interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchHit, error)
}

// SearchHit is a single web search result.
type SearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// UnreadLister lists unread email for a user, per Integration (§6).
type UnreadLister interface {
	ListUnread(ctx context.Context, userID string, since time.Time, max int) ([]json.RawMessage, error)
}

// EventLister lists calendar events for a user within a window (§6).
type EventLister interface {
	ListEvents(ctx context.Context, userID string, start, end time.Time) ([]json.RawMessage, error)
}

// ReminderSetter schedules a reminder for a user.
type ReminderSetter interface {
	SetReminder(ctx context.Context, userID string, at time.Time, note string) error
}

// MCPCaller forwards a call to a named MCP server (§6).
type MCPCaller interface {
	Call(ctx context.Context, server, method string, args json.RawMessage) (json.RawMessage, error)
}

// SessionNoter durably inserts a medium-term, session-scoped note
// (C1's note_medium operation).
type SessionNoter interface {
	NoteMedium(ctx context.Context, tenantID, sessionID, content string) (*models.MemoryEntry, error)
}

const webSearchSchema = `{
  "type": "object",
  "required": ["query"],
  "properties": {
    "query": { "type": "string", "minLength": 1 },
    "max_results": { "type": "integer", "minimum": 1, "maximum": 20 }
  },
  "additionalProperties": false
}`

const listUnreadSchema = `{
  "type": "object",
  "required": ["user_id"],
  "properties": {
    "user_id": { "type": "string", "minLength": 1 },
    "max": { "type": "integer", "minimum": 1, "maximum": 100 }
  },
  "additionalProperties": false
}`

const listEventsSchema = `{
  "type": "object",
  "required": ["user_id", "start", "end"],
  "properties": {
    "user_id": { "type": "string", "minLength": 1 },
    "start": { "type": "string", "format": "date-time" },
    "end": { "type": "string", "format": "date-time" }
  },
  "additionalProperties": false
}`

const setReminderSchema = `{
  "type": "object",
  "required": ["user_id", "at", "note"],
  "properties": {
    "user_id": { "type": "string", "minLength": 1 },
    "at": { "type": "string", "format": "date-time" },
    "note": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": false
}`

const noteSessionSchema = `{
  "type": "object",
  "required": ["tenant_id", "session_id", "content"],
  "properties": {
    "tenant_id": { "type": "string", "minLength": 1 },
    "session_id": { "type": "string", "minLength": 1 },
    "content": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": false
}`

const mcpCallSchema = `{
  "type": "object",
  "required": ["server", "method"],
  "properties": {
    "server": { "type": "string", "minLength": 1 },
    "method": { "type": "string", "minLength": 1 },
    "args": {}
  },
  "additionalProperties": false
}`

// RegisterBuiltins registers the kernel's standard tool set against
// collaborator implementations (§6). Any nil provider is skipped, so a
// deployment can wire only the integrations it has.
func RegisterBuiltins(r *Registry, web WebSearchProvider, mail UnreadLister, cal EventLister, reminders ReminderSetter, mcp MCPCaller, notes SessionNoter) error {
	if web != nil {
		if err := r.Register(Descriptor{
			Name:       "web_search",
			What:       "Searches the web and returns ranked results.",
			WhenToUse:  "When the user asks about current events or facts not already known.",
			Schema:     json.RawMessage(webSearchSchema),
			SideEffect: SideEffectRead,
			Indexable:  true,
		}, webSearchHandler(web)); err != nil {
			return err
		}
	}
	if mail != nil {
		if err := r.Register(Descriptor{
			Name:       "list_unread",
			What:       "Lists unread email for a user.",
			WhenToUse:  "When the user asks about their inbox or a poller checks for new mail.",
			Schema:     json.RawMessage(listUnreadSchema),
			SideEffect: SideEffectRead,
		}, listUnreadHandler(mail)); err != nil {
			return err
		}
	}
	if cal != nil {
		if err := r.Register(Descriptor{
			Name:       "list_events",
			What:       "Lists calendar events for a user within a time window.",
			WhenToUse:  "When the user asks about their schedule or a poller checks upcoming events.",
			Schema:     json.RawMessage(listEventsSchema),
			SideEffect: SideEffectRead,
		}, listEventsHandler(cal)); err != nil {
			return err
		}
	}
	if reminders != nil {
		if err := r.Register(Descriptor{
			Name:       "set_reminder",
			What:       "Schedules a reminder note for a user at a future time.",
			WhenToUse:  "When the user asks to be reminded of something.",
			Schema:     json.RawMessage(setReminderSchema),
			SideEffect: SideEffectWrite,
		}, setReminderHandler(reminders)); err != nil {
			return err
		}
	}
	if notes != nil {
		if err := r.Register(Descriptor{
			Name:       "note_session",
			What:       "Durably notes a piece of session-scoped context that should survive for the rest of this conversation but need not become a permanent memory.",
			WhenToUse:  "When something worth remembering for the rest of the session comes up but isn't a durable fact or preference about the user.",
			Schema:     json.RawMessage(noteSessionSchema),
			SideEffect: SideEffectWrite,
		}, noteSessionHandler(notes)); err != nil {
			return err
		}
	}
	if mcp != nil {
		if err := r.Register(Descriptor{
			Name:       "mcp_call",
			What:       "Calls a method on a configured external MCP tool server.",
			WhenToUse:  "When a capability is only available through an MCP server integration.",
			Schema:     json.RawMessage(mcpCallSchema),
			SideEffect: SideEffectExternal,
			Timeout:    5 * time.Minute,
		}, mcpCallHandler(mcp)); err != nil {
			return err
		}
	}
	return nil
}

func webSearchHandler(web WebSearchProvider) Handler {
	return func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var req struct {
			Query      string `json:"query"`
			MaxResults int    `json:"max_results"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, NewError(ErrorKindBadArgs, err.Error())
		}
		if req.MaxResults == 0 {
			req.MaxResults = 5
		}
		hits, err := web.Search(ctx, req.Query, req.MaxResults)
		if err != nil {
			return nil, NewError(ErrorKindUpstreamUnavailable, err.Error())
		}
		return json.Marshal(hits)
	}
}

func listUnreadHandler(mail UnreadLister) Handler {
	return func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var req struct {
			UserID string `json:"user_id"`
			Max    int    `json:"max"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, NewError(ErrorKindBadArgs, err.Error())
		}
		if req.Max == 0 {
			req.Max = 20
		}
		since := time.Now().Add(-24 * time.Hour)
		msgs, err := mail.ListUnread(ctx, req.UserID, since, req.Max)
		if err != nil {
			return nil, NewError(ErrorKindUpstreamUnavailable, err.Error())
		}
		return json.Marshal(msgs)
	}
}

func listEventsHandler(cal EventLister) Handler {
	return func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var req struct {
			UserID string    `json:"user_id"`
			Start  time.Time `json:"start"`
			End    time.Time `json:"end"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, NewError(ErrorKindBadArgs, err.Error())
		}
		events, err := cal.ListEvents(ctx, req.UserID, req.Start, req.End)
		if err != nil {
			return nil, NewError(ErrorKindUpstreamUnavailable, err.Error())
		}
		return json.Marshal(events)
	}
}

func setReminderHandler(reminders ReminderSetter) Handler {
	return func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var req struct {
			UserID string    `json:"user_id"`
			At     time.Time `json:"at"`
			Note   string    `json:"note"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, NewError(ErrorKindBadArgs, err.Error())
		}
		if err := reminders.SetReminder(ctx, req.UserID, req.At, req.Note); err != nil {
			return nil, NewError(ErrorKindUpstreamUnavailable, err.Error())
		}
		return json.Marshal(map[string]bool{"ok": true})
	}
}

func noteSessionHandler(notes SessionNoter) Handler {
	return func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var req struct {
			TenantID  string `json:"tenant_id"`
			SessionID string `json:"session_id"`
			Content   string `json:"content"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, NewError(ErrorKindBadArgs, err.Error())
		}
		entry, err := notes.NoteMedium(ctx, req.TenantID, req.SessionID, req.Content)
		if err != nil {
			return nil, NewError(ErrorKindInternal, err.Error())
		}
		return json.Marshal(entry)
	}
}

func mcpCallHandler(mcp MCPCaller) Handler {
	return func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var req struct {
			Server string          `json:"server"`
			Method string          `json:"method"`
			Args   json.RawMessage `json:"args"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, NewError(ErrorKindBadArgs, err.Error())
		}
		out, err := mcp.Call(ctx, req.Server, req.Method, req.Args)
		if err != nil {
			return nil, NewError(ErrorKindUpstreamUnavailable, err.Error())
		}
		return out, nil
	}
}
