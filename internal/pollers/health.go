package pollers

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nexus-kernel/agentkernel/pkg/models"
)

// HealthStatus is a probe's observed state.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

func (s HealthStatus) gaugeValue() float64 {
	switch s {
	case HealthHealthy:
		return 0
	case HealthDegraded:
		return 1
	default:
		return 2
	}
}

// ProbeFunc checks a single resource's health.
type ProbeFunc func(ctx context.Context) (HealthStatus, error)

// Probe registers one resource to watch (§4.8 "a registry of probes
// {id, resource, handler, interval, severity}").
type Probe struct {
	ID       string
	Resource string
	Handler  ProbeFunc
	Severity models.Priority
}

// debounceConfirmations is how many consecutive confirming probes a
// status transition needs before it is reported (§4.8).
const debounceConfirmations = 2

type probeState struct {
	mu               sync.Mutex
	reported         HealthStatus
	pending          HealthStatus
	pendingCount     int
}

// HealthPoller runs a registry of probes and reports debounced status
// transitions as notifications and Prometheus gauges.
type HealthPoller struct {
	publisher NotificationPublisher
	tenantID  string

	mu     sync.Mutex
	probes map[string]*Probe
	states map[string]*probeState

	gauge *prometheus.GaugeVec
}

// NewHealthPoller constructs a HealthPoller. registerer may be nil to
// skip Prometheus registration (e.g. in tests).
func NewHealthPoller(publisher NotificationPublisher, tenantID string, registerer prometheus.Registerer) *HealthPoller {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "agentkernel",
		Subsystem: "health",
		Name:      "probe_status",
		Help:      "Service health probe status: 0=healthy 1=degraded 2=unhealthy.",
	}, []string{"probe_id", "resource"})

	if registerer != nil {
		registerer.MustRegister(gauge)
	}

	return &HealthPoller{
		publisher: publisher,
		tenantID:  tenantID,
		probes:    make(map[string]*Probe),
		states:    make(map[string]*probeState),
		gauge:     gauge,
	}
}

// Register adds a probe to the registry.
func (h *HealthPoller) Register(p Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[p.ID] = &p
	h.states[p.ID] = &probeState{reported: HealthHealthy, pending: HealthHealthy}
}

// Poll is the scheduler.Handler that runs every registered probe.
func (h *HealthPoller) Poll(ctx context.Context) ([]*models.Task, error) {
	h.mu.Lock()
	probes := make([]*Probe, 0, len(h.probes))
	for _, p := range h.probes {
		probes = append(probes, p)
	}
	h.mu.Unlock()

	for _, p := range probes {
		status, err := p.Handler(ctx)
		if err != nil {
			status = HealthUnhealthy
		}
		h.observe(ctx, p, status)
	}
	return nil, nil
}

func (h *HealthPoller) observe(ctx context.Context, p *Probe, status HealthStatus) {
	h.mu.Lock()
	state := h.states[p.ID]
	h.mu.Unlock()
	if state == nil {
		return
	}

	state.mu.Lock()
	transitioned := false
	previous := state.reported
	if status == state.reported {
		state.pending = status
		state.pendingCount = 0
	} else if status == state.pending {
		state.pendingCount++
		if state.pendingCount >= debounceConfirmations-1 {
			state.reported = status
			state.pendingCount = 0
			transitioned = true
		}
	} else {
		state.pending = status
		state.pendingCount = 1
	}
	reported := state.reported
	state.mu.Unlock()

	h.gauge.WithLabelValues(p.ID, p.Resource).Set(reported.gaugeValue())

	if !transitioned {
		return
	}
	n := &models.Notification{
		TenantID:    h.tenantID,
		Type:        "service_health_transition",
		Priority:    p.Severity,
		ReferenceID: p.ID,
		Payload: map[string]any{
			"resource": p.Resource,
			"from":     string(previous),
			"to":       string(reported),
		},
		CreatedAt: time.Now(),
	}
	n.Channel = models.ChannelForPriority(n.Priority)
	_ = h.publisher.Publish(ctx, n)
}
