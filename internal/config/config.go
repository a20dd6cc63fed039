// Package config loads the kernel's typed configuration from YAML/JSON5
// files, resolving $include directives and env-var interpolation (see
// loader.go).
package config

import "time"

// Config is the root configuration tree for a kernel deployment.
type Config struct {
	Memory        MemoryConfig        `yaml:"memory"`
	Tools         ToolsConfig         `yaml:"tools"`
	Planner       PlannerConfig       `yaml:"planner"`
	Queue         QueueConfig         `yaml:"queue"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Pollers       PollersConfig       `yaml:"pollers"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Integrity     IntegrityConfig     `yaml:"integrity"`
	Session       SessionConfig       `yaml:"session"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// MemoryConfig configures the Memory Manager's backend, embedding
// provider, and scoring/GC behavior (§4.1).
type MemoryConfig struct {
	Backend            string        `yaml:"backend"` // "sqlitevec", "pgvector", "lancedb"
	BackendDSN         string        `yaml:"backend_dsn"`
	EmbeddingProvider  string        `yaml:"embedding_provider"` // "openai", "ollama"
	EmbeddingModel     string        `yaml:"embedding_model"`
	HybridAlpha        float32       `yaml:"hybrid_alpha"`        // weight of semantic score, 0..1
	MinImportance      float32       `yaml:"min_importance"`
	ShortTermCapacity  int           `yaml:"short_term_capacity"` // ring size, default 20
	MediumTermTTL      time.Duration `yaml:"medium_term_ttl"`
	GCInterval         time.Duration `yaml:"gc_interval"`
	DedupSimilarity    float32       `yaml:"dedup_similarity"` // content-fingerprint threshold
}

// ToolsConfig configures the Tool Registry & Invoker (§4.2).
type ToolsConfig struct {
	DefaultTimeout    time.Duration         `yaml:"default_timeout"`
	RetryBaseDelay    time.Duration         `yaml:"retry_base_delay"`
	RetryMaxAttempts  int                   `yaml:"retry_max_attempts"`
	RetryJitterFrac   float64               `yaml:"retry_jitter_frac"`
	Timeouts          map[string]time.Duration `yaml:"timeouts"` // per-tool overrides
	MCPServers        []MCPServerConfig     `yaml:"mcp_servers"`
}

// MCPServerConfig describes an external tool server the mcp_call tool
// can reach (§4.2, §6).
type MCPServerConfig struct {
	Name    string `yaml:"name"`
	URL     string `yaml:"url"`
	AuthEnv string `yaml:"auth_env"` // env var holding the bearer token
}

// PlannerConfig configures the Planner (§4.3).
type PlannerConfig struct {
	MaxSteps           int     `yaml:"max_steps"`
	AckConfidenceFloor float32 `yaml:"ack_confidence_floor"`
}

// QueueConfig configures the Priority Task Queue (§4.6).
type QueueConfig struct {
	Capacity      int           `yaml:"capacity"`
	LeaseDuration time.Duration `yaml:"lease_duration"`
	ReclaimPoll   time.Duration `yaml:"reclaim_poll"`
}

// SchedulerConfig configures the Scheduled Task Manager (§4.7).
type SchedulerConfig struct {
	TickInterval        time.Duration `yaml:"tick_interval"`
	StuckMultiplier      float64       `yaml:"stuck_multiplier"` // default 2.0
}

// PollersConfig configures the Background Pollers (§4.8).
type PollersConfig struct {
	Email    EmailPollerConfig    `yaml:"email"`
	Calendar CalendarPollerConfig `yaml:"calendar"`
	Health   HealthPollerConfig   `yaml:"health"`
}

// EmailPollerConfig configures the email unread-message poller.
type EmailPollerConfig struct {
	Interval     time.Duration `yaml:"interval"`
	LookbackWindow time.Duration `yaml:"lookback_window"` // default 24h
	UrgencyTokens  []string      `yaml:"urgency_tokens"`
}

// CalendarPollerConfig configures the calendar reminder watcher.
type CalendarPollerConfig struct {
	Interval       time.Duration `yaml:"interval"`
	LongReminder   time.Duration `yaml:"long_reminder"`  // default 15m
	ShortReminder  time.Duration `yaml:"short_reminder"` // default 5m
}

// HealthPollerConfig configures service-health probing.
type HealthPollerConfig struct {
	Interval          time.Duration    `yaml:"interval"`
	Targets           []HealthTarget   `yaml:"targets"`
	DebounceProbes    int              `yaml:"debounce_probes"` // default 2
}

// HealthTarget is a single service-health probe target.
type HealthTarget struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// NotificationsConfig configures the Notification Center (§4.9). Channel
// assignment itself is a pure function of priority
// (models.ChannelForPriority), not configurable.
type NotificationsConfig struct {
	DedupWindow time.Duration `yaml:"dedup_window"` // default 60s
}

// IntegrityConfig configures the Semantic Integrity Checker (§4.10).
type IntegrityConfig struct {
	SimilarityDuplicateFloor float32 `yaml:"similarity_duplicate_floor"` // default 0.95
	ConfidenceReportFloor    float32 `yaml:"confidence_report_floor"`    // default 0.90
	MaxConcurrentComparisons int     `yaml:"max_concurrent_comparisons"`
}

// SessionConfig configures Session & Conversation State (§4.11).
type SessionConfig struct {
	MaxPendingPlansPerSession int `yaml:"max_pending_plans_per_session"` // always 1
}

// ObservabilityConfig configures logging, metrics, and tracing.
type ObservabilityConfig struct {
	Logging LogConfig      `yaml:"logging"`
	Tracing TraceConfigYAML `yaml:"tracing"`
}

// LogConfig mirrors observability.LogConfig's YAML shape.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// TraceConfigYAML mirrors observability.TraceConfig's YAML shape.
type TraceConfigYAML struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	Endpoint    string `yaml:"endpoint"`
}

// Load reads and parses the configuration at path, resolving $include
// directives and env-var interpolation.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	return decodeRawConfig(raw)
}

// Default returns a Config populated with the kernel's default values.
func Default() *Config {
	return &Config{
		Memory: MemoryConfig{
			Backend:           "sqlitevec",
			EmbeddingProvider: "ollama",
			HybridAlpha:       0.7,
			ShortTermCapacity: 20,
			MediumTermTTL:     30 * 24 * time.Hour,
			GCInterval:        time.Hour,
			DedupSimilarity:   0.95,
		},
		Tools: ToolsConfig{
			DefaultTimeout:   30 * time.Second,
			RetryBaseDelay:   time.Second,
			RetryMaxAttempts: 3,
			RetryJitterFrac:  0.2,
		},
		Planner: PlannerConfig{
			MaxSteps:           5,
			AckConfidenceFloor: 0.6,
		},
		Queue: QueueConfig{
			Capacity:      10000,
			LeaseDuration: 30 * time.Second,
			ReclaimPoll:   5 * time.Second,
		},
		Scheduler: SchedulerConfig{
			TickInterval:    time.Second,
			StuckMultiplier: 2.0,
		},
		Pollers: PollersConfig{
			Email: EmailPollerConfig{
				Interval:       time.Minute,
				LookbackWindow: 24 * time.Hour,
				UrgencyTokens:  []string{"urgent", "asap", "immediately", "critical"},
			},
			Calendar: CalendarPollerConfig{
				Interval:      time.Minute,
				LongReminder:  15 * time.Minute,
				ShortReminder: 5 * time.Minute,
			},
			Health: HealthPollerConfig{
				Interval:       30 * time.Second,
				DebounceProbes: 2,
			},
		},
		Notifications: NotificationsConfig{
			DedupWindow: 60 * time.Second,
		},
		Integrity: IntegrityConfig{
			SimilarityDuplicateFloor: 0.95,
			ConfidenceReportFloor:    0.90,
			MaxConcurrentComparisons: 8,
		},
		Session: SessionConfig{
			MaxPendingPlansPerSession: 1,
		},
	}
}
