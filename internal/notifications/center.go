// Package notifications implements the Notification Center (C9):
// publish/list/mark_read/resolve/delete over Notification entities,
// with a 60-second dedup window and a live push-stream per owning
// user. Grounded on the teacher's event-sink fan-out shape
// (internal/agent/event_sink.go, internal/observability/events.go) --
// adapted from fire-and-forget agent events to stored, queryable
// Notifications with subscriber streaming.
package notifications

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-kernel/agentkernel/pkg/models"
)

// DedupWindow is how long identical (type, user_id, reference_id)
// notifications are coalesced (§4.9).
const DedupWindow = 60 * time.Second

// StreamEvent is a single push-stream message (§6): either a full
// snapshot on subscribe, or an incremental event afterward.
type StreamEvent struct {
	Type  string               `json:"type"`
	Event *models.Notification `json:"event,omitempty"`
	Events []*models.Notification `json:"events,omitempty"`
}

// Filters narrows a list() call (§4.9).
type Filters struct {
	SessionID string
	Priority  models.Priority
	Read      *bool
}

type subscriber struct {
	userID string
	ch     chan StreamEvent
}

// Center is the single in-process Notification Center.
type Center struct {
	mu            sync.Mutex
	byID          map[string]*models.Notification
	byUser        map[string][]*models.Notification
	lastPublished map[[3]string]time.Time
	subscribers   map[string][]*subscriber
}

// New constructs an empty Center.
func New() *Center {
	return &Center{
		byID:          make(map[string]*models.Notification),
		byUser:        make(map[string][]*models.Notification),
		lastPublished: make(map[[3]string]time.Time),
		subscribers:   make(map[string][]*subscriber),
	}
}

// Publish normalises, stores, and streams n. A notification sharing
// (type, user_id, reference_id) with one published within the dedup
// window is coalesced (dropped) instead of stored again.
func (c *Center) Publish(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if n.Channel == "" {
		n.Channel = models.ChannelForPriority(n.Priority)
	}

	c.mu.Lock()
	key := n.DedupKey()
	if last, ok := c.lastPublished[key]; ok && n.CreatedAt.Sub(last) < DedupWindow {
		c.mu.Unlock()
		return nil
	}
	c.lastPublished[key] = n.CreatedAt
	c.byID[n.ID] = n
	c.byUser[n.UserID] = append(c.byUser[n.UserID], n)
	subs := append([]*subscriber(nil), c.subscribers[n.UserID]...)
	c.mu.Unlock()

	for _, s := range subs {
		c.deliver(s, StreamEvent{Type: "notification", Event: n})
	}
	return nil
}

func (c *Center) deliver(s *subscriber, ev StreamEvent) {
	select {
	case s.ch <- ev:
	default:
	}
}

// List returns a user's notifications matching filters, newest first.
func (c *Center) List(ctx context.Context, userID string, f Filters) ([]*models.Notification, error) {
	c.mu.Lock()
	all := append([]*models.Notification(nil), c.byUser[userID]...)
	c.mu.Unlock()

	out := make([]*models.Notification, 0, len(all))
	for _, n := range all {
		if f.SessionID != "" && n.SessionID != f.SessionID {
			continue
		}
		if f.Priority != "" && n.Priority != f.Priority {
			continue
		}
		if f.Read != nil && n.Read != *f.Read {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// MarkRead flags the given notifications read.
func (c *Center) MarkRead(ctx context.Context, ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if n, ok := c.byID[id]; ok {
			n.Read = true
		}
	}
	return nil
}

// Resolve marks a notification resolved. resolutionText is currently
// only recorded via the resolved_at timestamp; the core does not
// interpret free text beyond storing it in Payload.
func (c *Center) Resolve(ctx context.Context, id, resolutionText string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.byID[id]
	if !ok {
		return nil
	}
	now := time.Now()
	n.ResolvedAt = &now
	if resolutionText != "" {
		if n.Payload == nil {
			n.Payload = make(map[string]any)
		}
		n.Payload["resolution"] = resolutionText
	}
	return nil
}

// Delete removes notifications by ID.
func (c *Center) Delete(ctx context.Context, ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	toDelete := make(map[string]bool, len(ids))
	for _, id := range ids {
		toDelete[id] = true
		delete(c.byID, id)
	}
	for userID, list := range c.byUser {
		filtered := list[:0]
		for _, n := range list {
			if !toDelete[n.ID] {
				filtered = append(filtered, n)
			}
		}
		c.byUser[userID] = filtered
	}
	return nil
}

// Subscribe registers a live push-stream subscriber for userID,
// sending an immediate snapshot followed by incremental events. The
// returned cancel func must be called to unsubscribe; the channel is
// buffered and non-blocking, so a slow consumer drops events rather
// than stalling Publish.
func (c *Center) Subscribe(ctx context.Context, userID string, bufferSize int) (<-chan StreamEvent, func()) {
	if bufferSize <= 0 {
		bufferSize = 32
	}
	s := &subscriber{userID: userID, ch: make(chan StreamEvent, bufferSize)}

	c.mu.Lock()
	snapshot := append([]*models.Notification(nil), c.byUser[userID]...)
	c.subscribers[userID] = append(c.subscribers[userID], s)
	c.mu.Unlock()

	s.ch <- StreamEvent{Type: "notifications_snapshot", Events: snapshot}

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		subs := c.subscribers[userID]
		for i, existing := range subs {
			if existing == s {
				c.subscribers[userID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(s.ch)
	}
	return s.ch, cancel
}
