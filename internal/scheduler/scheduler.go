// Package scheduler implements the Scheduled Task Manager (C7): a
// registry of {agent_name, interval, last_run, handler} entries driven
// by a single per-second tick, grounded on robfig/cron/v3's scheduling
// loop (already in use for cron-style jobs elsewhere in the stack) and
// its SkipIfStillRunning chain, which matches this component's
// no-overlap-per-agent requirement.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nexus-kernel/agentkernel/pkg/models"
)

// Handler produces zero or more Tasks to enqueue into the Priority
// Task Queue (C6); it is invoked in its own goroutine each time its
// interval elapses.
type Handler func(ctx context.Context) ([]*models.Task, error)

// Enqueuer is the C6 contract the Manager enqueues produced Tasks into.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *models.Task) error
}

type registration struct {
	mu        sync.Mutex
	agentName string
	interval  time.Duration
	handler   Handler
	lastRun   time.Time
	running   bool
	startedAt time.Time
}

// Manager holds the registry and drives its per-second tick via
// robfig/cron.
type Manager struct {
	mu     sync.Mutex
	regs   []*registration
	cron   *cron.Cron
	queue  Enqueuer
	logger *slog.Logger
}

// New constructs a Manager. logger may be nil.
func New(queue Enqueuer, logger *slog.Logger) *Manager {
	return &Manager{
		cron:   cron.New(cron.WithSeconds()),
		queue:  queue,
		logger: logger,
	}
}

// Register adds an agent's scheduled handler to the registry.
// interval must be positive.
func (m *Manager) Register(agentName string, interval time.Duration, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs = append(m.regs, &registration{agentName: agentName, interval: interval, handler: handler})
}

// Start begins the per-second tick loop (§4.7 "a single scheduler
// goroutine wakes every second").
func (m *Manager) Start(ctx context.Context) error {
	_, err := m.cron.AddFunc("* * * * * *", func() { m.tick(ctx) })
	if err != nil {
		return err
	}
	m.cron.Start()
	return nil
}

// Stop halts the tick loop. It does not wait for in-flight handlers.
func (m *Manager) Stop() context.Context {
	return m.cron.Stop()
}

func (m *Manager) tick(ctx context.Context) {
	m.mu.Lock()
	regs := append([]*registration(nil), m.regs...)
	m.mu.Unlock()

	now := time.Now()
	for _, r := range regs {
		r.mu.Lock()
		due := r.lastRun.IsZero() || now.Sub(r.lastRun) >= r.interval
		if r.running && now.Sub(r.startedAt) > 2*r.interval {
			m.logWarn("scheduled handler exceeded 2x its interval without returning; skipping new invocation", r.agentName)
		}
		shouldRun := due && !r.running
		if shouldRun {
			r.running = true
			r.startedAt = now
		}
		r.mu.Unlock()

		if shouldRun {
			go m.invoke(ctx, r)
		}
	}
}

func (m *Manager) invoke(ctx context.Context, r *registration) {
	defer func() {
		r.mu.Lock()
		r.running = false
		r.lastRun = time.Now()
		r.mu.Unlock()
	}()

	tasks, err := r.handler(ctx)
	if err != nil {
		m.logWarn("scheduled handler returned an error: "+err.Error(), r.agentName)
		return
	}
	if m.queue == nil {
		return
	}
	for _, task := range tasks {
		_ = m.queue.Enqueue(ctx, task)
	}
}

func (m *Manager) logWarn(msg, agentName string) {
	if m.logger == nil {
		return
	}
	m.logger.Warn(msg, "agent", agentName)
}
