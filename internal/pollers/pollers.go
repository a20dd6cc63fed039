// Package pollers implements the Background Pollers (C8): scheduled
// handlers that check external collaborators for new email, upcoming
// calendar events, and service health, emitting Notifications for the
// Notification Center (C9). Each poller is registered as a
// scheduler.Handler and is grounded on the teacher's own channel and
// reminder plumbing, adapted to the §6 collaborator interfaces.
package pollers

import (
	"context"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/nexus-kernel/agentkernel/pkg/models"
)

// IntegrationLister lists a tenant's enabled integrations for a
// service, so each poller iterates only the ones it needs.
type IntegrationLister interface {
	ListIntegrations(ctx context.Context, service models.IntegrationService) ([]*models.Integration, error)
}

// NotificationPublisher is the C9 contract pollers raise events
// through.
type NotificationPublisher interface {
	Publish(ctx context.Context, n *models.Notification) error
}

// EmailMessage is a normalised unread message returned by an email
// collaborator (§6 "list_unread(since, max)").
type EmailMessage struct {
	ID         string
	Subject    string
	ReceivedAt time.Time
}

// EmailProvider lists unread messages for a single integration.
type EmailProvider interface {
	ListUnread(ctx context.Context, integrationID string, since time.Time, max int) ([]EmailMessage, error)
}

var urgencyTokens = regexp.MustCompile(`(?i)\b(urgent|asap|immediately|action required|critical|emergency)\b`)

const (
	emailLookback        = 24 * time.Hour
	emailBootstrapCap    = 5
	emailRecentThreshold = 5 * time.Minute
)

// EmailPoller implements the unread-message poller of §4.8. Each
// integration's last-seen message is tracked in memory; the first run
// against an integration only notifies its 5 newest messages
// (bootstrap), to avoid a notification storm on first connect.
type EmailPoller struct {
	integrations IntegrationLister
	provider     EmailProvider
	publisher    NotificationPublisher

	mu          sync.Mutex
	lastSeenID  map[string]string
	bootstrapped map[string]bool
}

// NewEmailPoller constructs an EmailPoller.
func NewEmailPoller(integrations IntegrationLister, provider EmailProvider, publisher NotificationPublisher) *EmailPoller {
	return &EmailPoller{
		integrations: integrations,
		provider:     provider,
		publisher:    publisher,
		lastSeenID:   make(map[string]string),
		bootstrapped: make(map[string]bool),
	}
}

// Poll is the scheduler.Handler for the email poller; it never
// produces queue Tasks, only Notifications published directly.
func (p *EmailPoller) Poll(ctx context.Context) ([]*models.Task, error) {
	integrations, err := p.integrations.ListIntegrations(ctx, models.IntegrationServiceEmail)
	if err != nil {
		return nil, err
	}

	since := time.Now().Add(-emailLookback)
	for _, integration := range integrations {
		if !integration.Enabled {
			continue
		}
		messages, err := p.provider.ListUnread(ctx, integration.ID, since, 0)
		if err != nil {
			continue
		}
		p.process(ctx, integration, messages)
	}
	return nil, nil
}

func (p *EmailPoller) process(ctx context.Context, integration *models.Integration, messages []EmailMessage) {
	sort.Slice(messages, func(i, j int) bool { return messages[i].ReceivedAt.Before(messages[j].ReceivedAt) })

	p.mu.Lock()
	lastSeen := p.lastSeenID[integration.ID]
	firstRun := !p.bootstrapped[integration.ID]
	p.mu.Unlock()

	fresh := messages
	if lastSeen != "" {
		fresh = messagesAfter(messages, lastSeen)
	}
	if firstRun && len(fresh) > emailBootstrapCap {
		fresh = fresh[len(fresh)-emailBootstrapCap:]
	}

	now := time.Now()
	for _, msg := range fresh {
		n := &models.Notification{
			TenantID:    integration.TenantID,
			UserID:      integration.UserID,
			Type:        "email_unread",
			Priority:    emailPriority(msg, now),
			ReferenceID: msg.ID,
			Payload: map[string]any{
				"integration_id": integration.ID,
				"subject":        msg.Subject,
			},
			CreatedAt: now,
		}
		n.Channel = models.ChannelForPriority(n.Priority)
		_ = p.publisher.Publish(ctx, n)
	}

	if len(messages) == 0 {
		return
	}
	p.mu.Lock()
	p.lastSeenID[integration.ID] = messages[len(messages)-1].ID
	p.bootstrapped[integration.ID] = true
	p.mu.Unlock()
}

func messagesAfter(messages []EmailMessage, lastSeenID string) []EmailMessage {
	for i, m := range messages {
		if m.ID == lastSeenID {
			return messages[i+1:]
		}
	}
	return messages
}

func emailPriority(msg EmailMessage, now time.Time) models.Priority {
	switch {
	case urgencyTokens.MatchString(msg.Subject):
		return models.PriorityHigh
	case now.Sub(msg.ReceivedAt) < emailRecentThreshold:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

// CalendarEvent is a normalised upcoming event (§6 "list_events(start,
// end)").
type CalendarEvent struct {
	ID      string
	Title   string
	StartAt time.Time
}

// CalendarProvider lists events in a window for a single integration.
type CalendarProvider interface {
	ListEvents(ctx context.Context, integrationID string, start, end time.Time) ([]CalendarEvent, error)
}

const calendarLookahead = 2 * time.Hour

// CalendarPoller implements the upcoming-event reminder watcher of
// §4.8: a 15-minute and a 5-minute reminder per event, each fired at
// most once.
type CalendarPoller struct {
	integrations IntegrationLister
	provider     CalendarProvider
	publisher    NotificationPublisher

	mu        sync.Mutex
	reminded  map[string]map[time.Duration]bool
}

// NewCalendarPoller constructs a CalendarPoller.
func NewCalendarPoller(integrations IntegrationLister, provider CalendarProvider, publisher NotificationPublisher) *CalendarPoller {
	return &CalendarPoller{
		integrations: integrations,
		provider:     provider,
		publisher:    publisher,
		reminded:     make(map[string]map[time.Duration]bool),
	}
}

var reminderThresholds = []time.Duration{15 * time.Minute, 5 * time.Minute}

// Poll is the scheduler.Handler for the calendar watcher.
func (p *CalendarPoller) Poll(ctx context.Context) ([]*models.Task, error) {
	integrations, err := p.integrations.ListIntegrations(ctx, models.IntegrationServiceCalendar)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	window := now.Add(calendarLookahead)
	for _, integration := range integrations {
		if !integration.Enabled {
			continue
		}
		events, err := p.provider.ListEvents(ctx, integration.ID, now, window)
		if err != nil {
			continue
		}
		for _, event := range events {
			p.considerEvent(ctx, integration, event, now)
		}
	}
	return nil, nil
}

func (p *CalendarPoller) considerEvent(ctx context.Context, integration *models.Integration, event CalendarEvent, now time.Time) {
	untilStart := event.StartAt.Sub(now)
	for _, threshold := range reminderThresholds {
		if untilStart > threshold {
			continue
		}
		if p.alreadyReminded(event.ID, threshold) {
			continue
		}
		priority := models.PriorityMedium
		if threshold <= 5*time.Minute {
			priority = models.PriorityHigh
		}
		n := &models.Notification{
			TenantID:    integration.TenantID,
			UserID:      integration.UserID,
			Type:        "calendar_reminder",
			Priority:    priority,
			ReferenceID: event.ID,
			Payload: map[string]any{
				"integration_id": integration.ID,
				"title":          event.Title,
				"starts_at":      event.StartAt,
				"threshold_min":  int(threshold.Minutes()),
			},
			CreatedAt: now,
		}
		n.Channel = models.ChannelForPriority(n.Priority)
		_ = p.publisher.Publish(ctx, n)
		p.markReminded(event.ID, threshold)
	}
}

func (p *CalendarPoller) alreadyReminded(eventID string, threshold time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reminded[eventID][threshold]
}

func (p *CalendarPoller) markReminded(eventID string, threshold time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.reminded[eventID]
	if !ok {
		set = make(map[time.Duration]bool)
		p.reminded[eventID] = set
	}
	set[threshold] = true
}
