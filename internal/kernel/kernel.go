package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-kernel/agentkernel/internal/config"
	"github.com/nexus-kernel/agentkernel/internal/graph"
	"github.com/nexus-kernel/agentkernel/internal/integrity"
	"github.com/nexus-kernel/agentkernel/internal/llm"
	"github.com/nexus-kernel/agentkernel/internal/memory"
	"github.com/nexus-kernel/agentkernel/internal/nodes"
	"github.com/nexus-kernel/agentkernel/internal/notifications"
	"github.com/nexus-kernel/agentkernel/internal/observability"
	"github.com/nexus-kernel/agentkernel/internal/planner"
	"github.com/nexus-kernel/agentkernel/internal/pollers"
	"github.com/nexus-kernel/agentkernel/internal/queue"
	"github.com/nexus-kernel/agentkernel/internal/scheduler"
	"github.com/nexus-kernel/agentkernel/internal/session"
	"github.com/nexus-kernel/agentkernel/internal/tools"
	"github.com/nexus-kernel/agentkernel/pkg/models"
)

// defaultWorkerMultiplier and maxWorkerCap implement §5's "parallel
// workers with cooperative suspension" sizing recommendation (4x CPU
// cores, capped at 64).
const (
	defaultWorkerMultiplier = 4
	maxWorkerCap            = 64
)

// httpProbeTimeout bounds a single health-target HTTP check (§4.8).
const httpProbeTimeout = 5 * time.Second

// Dependencies are the external collaborators SPEC_FULL.md treats as
// outside the kernel core (§6, §9 "constructed services passed in, not
// looked up globally"): the LLM provider and any optional tool/channel
// integrations a deployment has configured. Nil fields simply disable
// the feature they back.
type Dependencies struct {
	Provider       llm.Provider
	PlannerModel   string
	AgentModel     string
	IntegrityModel string

	WebSearch tools.WebSearchProvider
	Mail      tools.UnreadLister
	Calendar  tools.EventLister
	Reminders tools.ReminderSetter
	MCP       tools.MCPCaller

	EmailProvider    pollers.EmailProvider
	CalendarProvider pollers.CalendarProvider
	Integrations     pollers.IntegrationLister

	Logger *observability.Logger
}

// Kernel wires the eleven components into the request and background
// graphs and exposes the entry points a transport collaborator drives
// (§2, §9: "the HTTP/SSE transport is an external collaborator").
type Kernel struct {
	memory        *memory.Manager
	invoker       *tools.Invoker
	planner       *planner.Planner
	queue         *queue.Queue
	scheduler     *scheduler.Manager
	notifications *notifications.Center
	sessions      *session.Store
	metrics       *observability.Metrics
	logger        *observability.Logger
	events        *observability.EventRecorder

	emailPoller    *pollers.EmailPoller
	calendarPoller *pollers.CalendarPoller
	healthPoller   *pollers.HealthPoller

	requestGraph    *graph.Graph
	backgroundGraph *graph.Graph

	tracer         *observability.Tracer
	tracerShutdown func(context.Context) error

	workerCount int
	cancel      context.CancelFunc
}

// New constructs a Kernel from typed configuration and its external
// collaborators. The returned Kernel is not yet running background
// work; call Start to launch the scheduler and worker pool.
func New(cfg *config.Config, deps Dependencies) (*Kernel, error) {
	if cfg == nil {
		return nil, fmt.Errorf("kernel: config is required")
	}
	if deps.Provider == nil {
		return nil, fmt.Errorf("kernel: an llm.Provider is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = observability.NewLogger(logConfigFrom(cfg.Observability.Logging))
	}
	metrics := observability.NewMetrics()
	tracer, tracerShutdown := observability.NewTracer(traceConfigFrom(cfg.Observability.Tracing))
	events := observability.NewEventRecorder(observability.NewMemoryEventStore(0), logger)

	mem, err := memory.NewManager(memoryConfigFrom(cfg.Memory))
	if err != nil {
		return nil, fmt.Errorf("kernel: construct memory manager: %w", err)
	}

	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry, deps.WebSearch, deps.Mail, deps.Calendar, deps.Reminders, deps.MCP, mem); err != nil {
		return nil, fmt.Errorf("kernel: register builtin tools: %w", err)
	}
	invoker := tools.NewInvoker(registry, mem, logger).WithEventRecorder(events)

	pl, err := planner.New(deps.Provider, registry, deps.PlannerModel)
	if err != nil {
		return nil, fmt.Errorf("kernel: construct planner: %w", err)
	}

	q := queue.New(queue.Config{SoftCap: cfg.Queue.Capacity, DefaultLease: cfg.Queue.LeaseDuration})
	center := notifications.New()
	sessions := session.New()

	checker := integrity.New(mem, q, center, deps.Provider, deps.IntegrityModel)
	integrityAgent := nodes.NewIntegrityAgent(checker)
	knowledgeAgent, err := nodes.NewKnowledgeAgent(deps.Provider, deps.IntegrityModel, integrityAgent, mem)
	if err != nil {
		return nil, fmt.Errorf("kernel: construct knowledge agent: %w", err)
	}
	mainAgent := nodes.NewMainAgent(deps.Provider, deps.AgentModel)
	collector := nodes.NewNotificationCollector()

	requestGraph := buildRequestGraph(mem, pl, invoker, mainAgent, knowledgeAgent, collector, sessions, metrics, tracer)
	backgroundGraph := buildBackgroundGraph(center)

	sched := scheduler.New(q, slog.Default())

	k := &Kernel{
		memory:          mem,
		invoker:         invoker,
		planner:         pl,
		queue:           q,
		scheduler:       sched,
		notifications:   center,
		sessions:        sessions,
		metrics:         metrics,
		logger:          logger,
		events:          events,
		requestGraph:    requestGraph,
		backgroundGraph: backgroundGraph,
		tracer:          tracer,
		tracerShutdown:  tracerShutdown,
		workerCount:     workerCount(),
	}

	k.wirePollers(cfg, deps, center)
	return k, nil
}

func workerCount() int {
	n := runtime.NumCPU() * defaultWorkerMultiplier
	if n > maxWorkerCap {
		n = maxWorkerCap
	}
	if n < 1 {
		n = 1
	}
	return n
}

// wirePollers registers the three Background Pollers (C8) with the
// Scheduled Task Manager (C7) whenever their collaborators are present
// (§4.7, §4.8).
func (k *Kernel) wirePollers(cfg *config.Config, deps Dependencies, center *notifications.Center) {
	if deps.Integrations != nil && deps.EmailProvider != nil {
		k.emailPoller = pollers.NewEmailPoller(deps.Integrations, deps.EmailProvider, center)
		k.scheduler.Register("email_poller", cfg.Pollers.Email.Interval, k.emailPoller.Poll)
	}
	if deps.Integrations != nil && deps.CalendarProvider != nil {
		k.calendarPoller = pollers.NewCalendarPoller(deps.Integrations, deps.CalendarProvider, center)
		k.scheduler.Register("calendar_poller", cfg.Pollers.Calendar.Interval, k.calendarPoller.Poll)
	}
	if len(cfg.Pollers.Health.Targets) > 0 {
		k.healthPoller = pollers.NewHealthPoller(center, "", nil)
		for _, target := range cfg.Pollers.Health.Targets {
			k.healthPoller.Register(pollers.Probe{
				ID:       target.Name,
				Resource: target.Name,
				Handler:  httpProbe(target.URL),
				Severity: models.PriorityHigh,
			})
		}
		k.scheduler.Register("health_poller", cfg.Pollers.Health.Interval, k.healthPoller.Poll)
	}
}

// httpProbe builds a pollers.ProbeFunc that treats any non-2xx response
// or transport error as unhealthy (§4.8).
func httpProbe(url string) pollers.ProbeFunc {
	client := &http.Client{Timeout: httpProbeTimeout}
	return func(ctx context.Context) (pollers.HealthStatus, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return pollers.HealthUnhealthy, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return pollers.HealthUnhealthy, err
		}
		defer resp.Body.Close()
		switch {
		case resp.StatusCode < 300:
			return pollers.HealthHealthy, nil
		case resp.StatusCode < 500:
			return pollers.HealthDegraded, nil
		default:
			return pollers.HealthUnhealthy, nil
		}
	}
}

func memoryConfigFrom(c config.MemoryConfig) *memory.Config {
	cfg := &memory.Config{
		Backend:           c.Backend,
		Dimension:         1536,
		ShortTermCapacity: c.ShortTermCapacity,
		HybridAlpha:       c.HybridAlpha,
		Embeddings: memory.EmbeddingsConfig{
			Provider: c.EmbeddingProvider,
			Model:    c.EmbeddingModel,
		},
	}
	switch c.Backend {
	case "pgvector":
		cfg.Pgvector.DSN = c.BackendDSN
	case "lancedb":
		cfg.LanceDB.Path = c.BackendDSN
	default:
		cfg.Backend = "sqlitevec"
		cfg.SQLiteVec.Path = c.BackendDSN
	}
	return cfg
}

// logConfigFrom maps the YAML-facing config.LogConfig onto
// observability.LogConfig, which carries additional fields (Output,
// AddSource, RedactPatterns) that have no YAML representation and keep
// their zero values here.
func logConfigFrom(c config.LogConfig) observability.LogConfig {
	return observability.LogConfig{
		Level:  c.Level,
		Format: c.Format,
	}
}

// traceConfigFrom maps the YAML-facing config.TraceConfigYAML onto
// observability.TraceConfig. An empty Endpoint (including when tracing
// is disabled in config) makes NewTracer hand back its no-op tracer, so
// there's no separate on/off switch to thread through here.
func traceConfigFrom(c config.TraceConfigYAML) observability.TraceConfig {
	cfg := observability.TraceConfig{
		ServiceName: c.ServiceName,
		Environment: "production",
	}
	if c.Enabled {
		cfg.Endpoint = c.Endpoint
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "agentkernel"
	}
	return cfg
}

// Start launches the Scheduled Task Manager (C7) and the background
// worker pool that drains the Priority Task Queue (C6) through the
// synthetic-event graph (§2, §5). It returns once both are running;
// call the returned context's cancel (via Stop) to shut them down.
func (k *Kernel) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	k.cancel = cancel

	if err := k.scheduler.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("kernel: start scheduler: %w", err)
	}

	for i := 0; i < k.workerCount; i++ {
		go k.backgroundWorkerLoop(runCtx)
	}
	return nil
}

// Stop signals the scheduler and worker pool to wind down. It does not
// block for in-flight work to drain; callers that need that guarantee
// should wait on the scheduler's own Stop() context.
func (k *Kernel) Stop() {
	if k.cancel != nil {
		k.cancel()
	}
	k.scheduler.Stop()
	k.queue.Close()
	if k.tracerShutdown != nil {
		_ = k.tracerShutdown(context.Background())
	}
}

// backgroundWorkerLoop is one member of the bounded worker pool (§5):
// it blocks on Dequeue, walks the dequeued Task through the
// synthetic-event graph, and reports completion back to the queue.
func (k *Kernel) backgroundWorkerLoop(ctx context.Context) {
	for {
		task, err := k.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		k.processTask(ctx, task)
	}
}

func (k *Kernel) processTask(ctx context.Context, task *models.Task) {
	state := &nodes.State{Task: task}
	if _, err := k.backgroundGraph.Run(ctx, state); err != nil {
		k.logger.Error(ctx, "background task failed", "task_id", task.ID, "type", task.Type, "error", err)
		_ = k.queue.Complete(ctx, task.ID, models.TaskStatusFailed)
		return
	}
	_ = k.queue.Complete(ctx, task.ID, models.TaskStatusCompleted)
}

// Response is the user-visible outcome of HandleMessage (§2).
type Response struct {
	SessionID                 string
	Message                   *models.Message
	HighPriorityNotifications []*models.Notification
	NotificationCount         int
}

// HandleMessage is the kernel's entry point for a single user turn
// (§2's request data flow). It creates a session if sessionID is empty,
// serialises concurrent turns on the same session (§5), and walks the
// request graph to produce a reply.
func (k *Kernel) HandleMessage(ctx context.Context, tenantID, userID, sessionID, content string) (*Response, error) {
	sess, err := k.resolveSession(ctx, tenantID, userID, sessionID)
	if err != nil {
		return nil, err
	}

	if err := k.sessions.Lock(ctx, sess.ID); err != nil {
		return nil, fmt.Errorf("kernel: acquire session lock: %w", err)
	}
	defer k.sessions.Unlock(sess.ID)

	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		TenantID:  tenantID,
		Role:      models.RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}

	spanCtx, span := k.tracer.TraceRequest(ctx, sess.ID)
	defer span.End()

	runStart := time.Now()
	if k.events != nil {
		_ = k.events.RecordRunStart(spanCtx, msg.ID, map[string]interface{}{"session_id": sess.ID})
	}

	initial := &nodes.State{Message: msg, Session: sess}
	final, err := k.requestGraph.Run(spanCtx, initial)
	if k.events != nil {
		_ = k.events.RecordRunEnd(spanCtx, time.Since(runStart), err)
	}
	if err != nil {
		k.tracer.RecordError(span, err)
		return nil, fmt.Errorf("kernel: run request graph: %w", err)
	}

	k.sessions.AdvanceCursor(ctx, sess.ID, msg.CreatedAt)

	assistant := &models.Message{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		TenantID:  tenantID,
		Role:      models.RoleAssistant,
		Content:   final.AssistantDraft,
		CreatedAt: time.Now(),
	}

	return &Response{
		SessionID:                 sess.ID,
		Message:                   assistant,
		HighPriorityNotifications: final.HighPriorityNotifications,
		NotificationCount:         final.NotificationCount,
	}, nil
}

func (k *Kernel) resolveSession(ctx context.Context, tenantID, userID, sessionID string) (*models.Session, error) {
	if sessionID == "" {
		return k.sessions.Create(ctx, tenantID, userID)
	}
	sess, err := k.sessions.Get(ctx, sessionID)
	if err == session.ErrNotFound {
		return k.sessions.Create(ctx, tenantID, userID)
	}
	return sess, err
}

// ArchiveSession archives a session (C11, §4.11).
func (k *Kernel) ArchiveSession(ctx context.Context, sessionID string) error {
	return k.sessions.Archive(ctx, sessionID)
}

// Notifications exposes the Notification Center (C9) for transports
// that need to list, subscribe, or resolve notifications directly.
func (k *Kernel) Notifications() *notifications.Center {
	return k.notifications
}
