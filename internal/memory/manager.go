// Package memory implements the three-tier Memory Manager (C1): an
// in-process short-term ring per session, TTL-bound medium-term notes,
// and a deduped, vector-indexed long-term store with hybrid scoring and
// a degraded-mode keyword fallback.
package memory

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nexus-kernel/agentkernel/internal/memory/backend"
	"github.com/nexus-kernel/agentkernel/internal/memory/backend/lancedb"
	"github.com/nexus-kernel/agentkernel/internal/memory/backend/pgvector"
	"github.com/nexus-kernel/agentkernel/internal/memory/backend/sqlitevec"
	"github.com/nexus-kernel/agentkernel/internal/memory/embeddings"
	"github.com/nexus-kernel/agentkernel/internal/memory/embeddings/ollama"
	"github.com/nexus-kernel/agentkernel/internal/memory/embeddings/openai"
	"github.com/nexus-kernel/agentkernel/pkg/models"
)

// MediumTermTTL is the default lifetime of a medium-term note (§3: ~30d).
const MediumTermTTL = 30 * 24 * time.Hour

// DefaultHybridAlpha weighs semantic vs. keyword score in query() (§4.1).
const DefaultHybridAlpha = 0.7

// Config contains configuration for the memory manager.
type Config struct {
	Backend   string `yaml:"backend"` // sqlite-vec, lancedb, pgvector
	Dimension int    `yaml:"dimension"`

	SQLiteVec SQLiteVecConfig `yaml:"sqlite_vec"`
	Pgvector  PgvectorConfig  `yaml:"pgvector"`
	LanceDB   LanceDBConfig   `yaml:"lancedb"`

	Embeddings EmbeddingsConfig `yaml:"embeddings"`

	ShortTermCapacity int     `yaml:"short_term_capacity"` // default 20
	HybridAlpha       float32 `yaml:"hybrid_alpha"`        // default 0.7
	MinContentLength  int     `yaml:"min_content_length"`
}

// SQLiteVecConfig contains sqlite-vec specific configuration.
type SQLiteVecConfig struct {
	Path string `yaml:"path"`
}

// PgvectorConfig contains pgvector specific configuration.
type PgvectorConfig struct {
	DSN           string `yaml:"dsn"`
	DB            *sql.DB `yaml:"-"`
	RunMigrations bool   `yaml:"run_migrations"`
}

// LanceDBConfig contains LanceDB specific configuration.
type LanceDBConfig struct {
	Path         string `yaml:"path"`
	IndexType    string `yaml:"index_type"`
	MetricType   string `yaml:"metric_type"`
	NProbes      int    `yaml:"n_probes"`
	EF           int    `yaml:"ef"`
	RefineFactor int    `yaml:"refine_factor"`
}

// EmbeddingsConfig contains embedding provider configuration.
type EmbeddingsConfig struct {
	Provider  string `yaml:"provider"` // openai, ollama
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	OllamaURL string `yaml:"ollama_url"`
}

// Stats contains memory store statistics.
type Stats struct {
	TotalEntries      int64  `json:"total_entries"`
	Backend           string `json:"backend"`
	EmbeddingProvider string `json:"embedding_provider"`
	EmbeddingModel    string `json:"embedding_model"`
	Dimension         int    `json:"dimension"`
}

// Manager coordinates the three memory tiers.
type Manager struct {
	backend  backend.Backend
	embedder embeddings.Provider
	config   *Config

	cache *embeddingCache

	shortMu sync.Mutex
	short   map[string][]*models.Message // sessionID -> ring

	// fingerprintMu guards fpIndex, the per-(user_id, fingerprint)
	// dedup index backing add_long's upsert contract (§5: "serialises
	// updates per (user_id, content_fingerprint) via fine-grained locks").
	fingerprintMu sync.Mutex
	fpIndex       map[string]string // userID+"|"+fingerprint -> entry id

	// expiryMu guards expiryIndex, tracking medium-term TTLs for gc().
	expiryMu    sync.Mutex
	expiryIndex map[string]time.Time // entry id -> expires_at
}

// NewManager creates a new memory manager with the given configuration.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("memory config is required")
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = 1536
	}
	if cfg.ShortTermCapacity == 0 {
		cfg.ShortTermCapacity = 20
	}
	if cfg.HybridAlpha == 0 {
		cfg.HybridAlpha = DefaultHybridAlpha
	}
	if cfg.MinContentLength == 0 {
		cfg.MinContentLength = 10
	}

	var b backend.Backend
	var err error
	switch cfg.Backend {
	case "sqlite-vec", "sqlitevec", "sqlite", "":
		b, err = sqlitevec.New(sqlitevec.Config{Path: cfg.SQLiteVec.Path, Dimension: cfg.Dimension})
	case "pgvector", "postgres", "postgresql":
		b, err = pgvector.New(pgvector.Config{
			DSN:           cfg.Pgvector.DSN,
			DB:            cfg.Pgvector.DB,
			Dimension:     cfg.Dimension,
			RunMigrations: cfg.Pgvector.RunMigrations,
		})
	case "lancedb", "lance":
		b, err = lancedb.New(lancedb.Config{
			Path:       cfg.LanceDB.Path,
			Dimension:  cfg.Dimension,
			IndexType:  lancedb.IndexType(cfg.LanceDB.IndexType),
			MetricType: cfg.LanceDB.MetricType,
		})
	default:
		return nil, fmt.Errorf("unknown backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize backend: %w", err)
	}

	var emb embeddings.Provider
	switch cfg.Embeddings.Provider {
	case "openai", "":
		emb, err = openai.New(openai.Config{APIKey: cfg.Embeddings.APIKey, BaseURL: cfg.Embeddings.BaseURL, Model: cfg.Embeddings.Model})
	case "ollama":
		emb, err = ollama.New(ollama.Config{BaseURL: cfg.Embeddings.OllamaURL, Model: cfg.Embeddings.Model})
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Embeddings.Provider)
	}
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	return &Manager{
		backend:     b,
		embedder:    emb,
		config:      cfg,
		cache:       newEmbeddingCache(1000),
		short:       make(map[string][]*models.Message),
		fpIndex:     make(map[string]string),
		expiryIndex: make(map[string]time.Time),
	}, nil
}

// RecordMessage appends a message to the session's short-term ring,
// evicting the oldest entry once the ring is full. Not persisted.
func (m *Manager) RecordMessage(sessionID string, msg *models.Message) {
	m.shortMu.Lock()
	defer m.shortMu.Unlock()

	ring := append(m.short[sessionID], msg)
	if over := len(ring) - m.config.ShortTermCapacity; over > 0 {
		ring = ring[over:]
	}
	m.short[sessionID] = ring
}

// ShortTerm returns a snapshot of the session's short-term ring.
func (m *Manager) ShortTerm(sessionID string) []*models.Message {
	m.shortMu.Lock()
	defer m.shortMu.Unlock()
	out := make([]*models.Message, len(m.short[sessionID]))
	copy(out, m.short[sessionID])
	return out
}

// NoteMedium durably inserts a medium-term note and its embedding in the
// session-scoped collection, setting expires_at = now + 30d (§4.1).
func (m *Manager) NoteMedium(ctx context.Context, tenantID, sessionID, content string) (*models.MemoryEntry, error) {
	now := time.Now()
	expires := now.Add(MediumTermTTL)
	entry := &models.MemoryEntry{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		SessionID: sessionID,
		Scope:     models.ScopeSession,
		ScopeID:   sessionID,
		Tier:      models.TierMedium,
		Content:   content,
		ExpiresAt: &expires,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.embedEntries(ctx, []*models.MemoryEntry{entry}); err != nil {
		return nil, fmt.Errorf("failed to embed medium-term note: %w", err)
	}
	if err := m.backend.Index(ctx, []*models.MemoryEntry{entry}); err != nil {
		return nil, fmt.Errorf("failed to store medium-term note: %w", err)
	}
	m.expiryMu.Lock()
	m.expiryIndex[entry.ID] = expires
	m.expiryMu.Unlock()
	return entry, nil
}

// AddLong upserts a long-term memory by content fingerprint (normalised
// whitespace + lower-case hash). On duplicate, merges source_sessions
// (set union) and takes the max importance (§4.1, invariant 5).
func (m *Manager) AddLong(ctx context.Context, tenantID, userID, content string, importance float32, sourceSessions []string) (*models.MemoryEntry, error) {
	fp := contentFingerprint(content)
	key := userID + "|" + fp

	m.fingerprintMu.Lock()
	defer m.fingerprintMu.Unlock()

	if existingID, ok := m.fpIndex[key]; ok {
		existing, err := m.findByID(ctx, userID, existingID)
		if err == nil && existing != nil {
			merged := mergeSessions(existing.LearnedFromSessions, sourceSessions)
			if importance > existing.Importance {
				existing.Importance = importance
			}
			existing.LearnedFromSessions = merged
			existing.UpdatedAt = time.Now()
			if err := m.backend.Index(ctx, []*models.MemoryEntry{existing}); err != nil {
				return nil, fmt.Errorf("failed to update long-term memory: %w", err)
			}
			return existing, nil
		}
	}

	now := time.Now()
	entry := &models.MemoryEntry{
		ID:                  uuid.New().String(),
		TenantID:            tenantID,
		UserID:              userID,
		Scope:               models.ScopeGlobal,
		ScopeID:             userID,
		Tier:                models.TierLong,
		Content:             content,
		Importance:          importance,
		ContentFingerprint:  fp,
		LearnedFromSessions: append([]string{}, sourceSessions...),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := m.embedEntries(ctx, []*models.MemoryEntry{entry}); err != nil {
		return nil, fmt.Errorf("failed to embed long-term memory: %w", err)
	}
	if err := m.backend.Index(ctx, []*models.MemoryEntry{entry}); err != nil {
		return nil, fmt.Errorf("failed to store long-term memory: %w", err)
	}
	m.fpIndex[key] = entry.ID
	return entry, nil
}

// Query returns up to k memories ranked by a hybrid score
// α·semantic + (1-α)·keyword_jaccard. Empty query returns []. If the
// vector backend is degraded, falls back to keyword-only ranking and
// tags the response Degraded (§4.1).
func (m *Manager) Query(ctx context.Context, scope models.MemoryScope, scopeID, queryText string, k int, minImportance float32) (*models.SearchResponse, error) {
	start := time.Now()
	if strings.TrimSpace(queryText) == "" {
		return &models.SearchResponse{Results: []*models.SearchResult{}, QueryTime: time.Since(start)}, nil
	}
	if k <= 0 {
		k = 10
	}

	cacheKey := fmt.Sprintf("%s:%s", scope, queryText)
	queryEmbed, ok := m.cache.get(cacheKey)
	var embedErr error
	if !ok {
		queryEmbed, embedErr = m.embedder.Embed(ctx, queryText)
		if embedErr == nil {
			m.cache.set(cacheKey, queryEmbed)
		}
	}

	if embedErr == nil {
		results, err := m.backend.Search(ctx, queryEmbed, &backend.SearchOptions{
			Scope:     scope,
			ScopeID:   scopeID,
			Limit:     k * 2, // overfetch, hybrid-rerank below
			Threshold: 0,
			Query:     queryText,
		})
		if err == nil {
			scored := m.hybridRescore(results, queryText, minImportance)
			if len(scored) > k {
				scored = scored[:k]
			}
			return &models.SearchResponse{
				Results:    scored,
				TotalCount: len(scored),
				QueryTime:  time.Since(start),
			}, nil
		}
	}

	// Degraded mode: keyword-only ranking over whatever the backend can
	// still enumerate for the scope.
	all, err := m.backend.Search(ctx, nil, &backend.SearchOptions{Scope: scope, ScopeID: scopeID, Limit: 0})
	if err != nil {
		all = nil
	}
	scored := m.keywordRescore(all, queryText, minImportance)
	if len(scored) > k {
		scored = scored[:k]
	}
	return &models.SearchResponse{
		Results:    scored,
		TotalCount: len(scored),
		QueryTime:  time.Since(start),
		Degraded:   true,
	}, nil
}

// DeleteLong atomically removes long-term rows and their embeddings. If
// either side fails, the operation is retried; persistent inconsistency
// is surfaced as an error (§4.1).
func (m *Manager) DeleteLong(ctx context.Context, ids []string) error {
	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := m.backend.Delete(ctx, ids); err != nil {
			lastErr = err
			continue
		}
		m.fingerprintMu.Lock()
		for key, id := range m.fpIndex {
			for _, target := range ids {
				if id == target {
					delete(m.fpIndex, key)
				}
			}
		}
		m.fingerprintMu.Unlock()
		return nil
	}
	return fmt.Errorf("delete_long failed after %d attempts, embeddings/rows may be inconsistent: %w", maxAttempts, lastErr)
}

// GC removes medium-term rows past expires_at and their orphan
// embeddings (§4.1).
func (m *Manager) GC(ctx context.Context) (int, error) {
	now := time.Now()
	var expired []string

	m.expiryMu.Lock()
	for id, expiresAt := range m.expiryIndex {
		if !expiresAt.After(now) {
			expired = append(expired, id)
		}
	}
	m.expiryMu.Unlock()

	if len(expired) == 0 {
		return 0, nil
	}
	if err := m.backend.Delete(ctx, expired); err != nil {
		return 0, fmt.Errorf("gc failed: %w", err)
	}

	m.expiryMu.Lock()
	for _, id := range expired {
		delete(m.expiryIndex, id)
	}
	m.expiryMu.Unlock()
	return len(expired), nil
}

// Stats returns statistics about the memory store.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	count, err := m.backend.Count(ctx, models.ScopeGlobal, "")
	if err != nil {
		return nil, err
	}
	return &Stats{
		TotalEntries:      count,
		Backend:           m.config.Backend,
		EmbeddingProvider: m.embedder.Name(),
		EmbeddingModel:    m.config.Embeddings.Model,
		Dimension:         m.config.Dimension,
	}, nil
}

// Close releases all resources.
func (m *Manager) Close() error {
	return m.backend.Close()
}

func (m *Manager) embedEntries(ctx context.Context, entries []*models.MemoryEntry) error {
	var needsEmbedding []*models.MemoryEntry
	for _, entry := range entries {
		if len(entry.Embedding) == 0 && len(entry.Content) >= m.config.MinContentLength {
			needsEmbedding = append(needsEmbedding, entry)
		}
	}
	if len(needsEmbedding) == 0 {
		return nil
	}
	texts := make([]string, len(needsEmbedding))
	for i, e := range needsEmbedding {
		texts[i] = e.Content
	}
	vecs, err := m.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	for i, e := range needsEmbedding {
		e.Embedding = vecs[i]
	}
	return nil
}

func (m *Manager) findByID(ctx context.Context, userID, id string) (*models.MemoryEntry, error) {
	results, err := m.backend.Search(ctx, nil, &backend.SearchOptions{Scope: models.ScopeGlobal, ScopeID: userID, Limit: 0})
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		if r.Entry != nil && r.Entry.ID == id {
			return r.Entry, nil
		}
	}
	return nil, fmt.Errorf("entry %s not found", id)
}

// hybridRescore recombines the backend's semantic score with a keyword
// jaccard score: α·semantic + (1-α)·keyword_jaccard.
func (m *Manager) hybridRescore(results []*models.SearchResult, queryText string, minImportance float32) []*models.SearchResult {
	alpha := m.config.HybridAlpha
	queryTokens := tokenize(queryText)
	out := make([]*models.SearchResult, 0, len(results))
	for _, r := range results {
		if r == nil || r.Entry == nil {
			continue
		}
		if r.Entry.Importance < minImportance {
			continue
		}
		kw := jaccard(queryTokens, tokenize(r.Entry.Content))
		r.Score = alpha*r.Score + (1-alpha)*kw
		out = append(out, r)
	}
	sortByScoreDesc(out)
	return out
}

func (m *Manager) keywordRescore(results []*models.SearchResult, queryText string, minImportance float32) []*models.SearchResult {
	queryTokens := tokenize(queryText)
	out := make([]*models.SearchResult, 0, len(results))
	for _, r := range results {
		if r == nil || r.Entry == nil {
			continue
		}
		if r.Entry.Importance < minImportance {
			continue
		}
		r.Score = jaccard(queryTokens, tokenize(r.Entry.Content))
		if r.Score > 0 {
			out = append(out, r)
		}
	}
	sortByScoreDesc(out)
	return out
}

func sortByScoreDesc(results []*models.SearchResult) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

var tokenSplit = regexp.MustCompile(`[^\p{L}\p{N}]+`)

func tokenize(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range tokenSplit.Split(strings.ToLower(s), -1) {
		if tok != "" {
			set[tok] = struct{}{}
		}
	}
	return set
}

// jaccard computes |a∩b|/|a∪b| over token sets.
func jaccard(a, b map[string]struct{}) float32 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float32(intersection) / float32(union)
}

// contentFingerprint hashes normalised (whitespace-collapsed, lower-case)
// content for long-term dedup (§4.1).
func contentFingerprint(content string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(content)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func mergeSessions(existing, additional []string) []string {
	set := make(map[string]struct{}, len(existing)+len(additional))
	for _, s := range existing {
		set[s] = struct{}{}
	}
	for _, s := range additional {
		set[s] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

// embeddingCache is a simple LRU cache for query embeddings.
type embeddingCache struct {
	mu       sync.RWMutex
	items    map[string][]float32
	order    []string
	capacity int
}

func newEmbeddingCache(capacity int) *embeddingCache {
	return &embeddingCache{
		items:    make(map[string][]float32),
		capacity: capacity,
	}
}

func (c *embeddingCache) get(key string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	return v, ok
}

func (c *embeddingCache) set(key string, value []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists {
		c.order = append(c.order, key)
		if len(c.order) > c.capacity {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.items, oldest)
		}
	}
	c.items[key] = value
}
