// Package session implements Session & Conversation State (C11): the
// Session entity's lifecycle (active/archived), its last-message
// cursor for incremental retrieval, and per-session serialisation of
// concurrent requests. Grounded on the teacher's
// internal/sessions/store.go CRUD shape and internal/sessions/locker.go's
// per-session lock interface (§5 "concurrent requests on the same
// session are serialised"), reimplemented here as a channel-based
// mutex rather than the teacher's goroutine-blocking wrapper, to avoid
// leaking a blocked acquirer when a caller's context is cancelled.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-kernel/agentkernel/pkg/models"
)

// ErrNotFound is returned when a session id is unknown to the Store.
var ErrNotFound = errors.New("session: not found")

// sessionLock is a per-session mutex whose Lock respects context
// cancellation, implemented as a buffered channel acting as a binary
// semaphore.
type sessionLock chan struct{}

func newSessionLock() sessionLock { return make(sessionLock, 1) }

func (l sessionLock) Lock(ctx context.Context) error {
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l sessionLock) Unlock() {
	select {
	case <-l:
	default:
	}
}

// Store holds Sessions in memory and serialises concurrent access to
// each one individually.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	locks    map[string]sessionLock
	cursors  map[string]time.Time
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		sessions: make(map[string]*models.Session),
		locks:    make(map[string]sessionLock),
		cursors:  make(map[string]time.Time),
	}
}

// Create starts a new active session for (tenantID, userID).
func (s *Store) Create(ctx context.Context, tenantID, userID string) (*models.Session, error) {
	now := time.Now()
	sess := &models.Session{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		UserID:    userID,
		Status:    models.SessionStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.locks[sess.ID] = newSessionLock()
	s.mu.Unlock()
	return sess, nil
}

// Get retrieves a session by id.
func (s *Store) Get(ctx context.Context, id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Lock serialises concurrent requests against the same session (§5).
// It blocks until acquired or ctx is done. Callers must call Unlock.
func (s *Store) Lock(ctx context.Context, sessionID string) error {
	lock := s.lockFor(sessionID)
	return lock.Lock(ctx)
}

// Unlock releases the per-session lock acquired by Lock.
func (s *Store) Unlock(sessionID string) {
	s.mu.Lock()
	lock, ok := s.locks[sessionID]
	s.mu.Unlock()
	if ok {
		lock.Unlock()
	}
}

func (s *Store) lockFor(sessionID string) sessionLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = newSessionLock()
		s.locks[sessionID] = lock
	}
	return lock
}

// Archive soft-deletes a session (§4.11 "status → archived, messages
// retained"). Archiving an already-archived or unknown session is a
// no-op.
func (s *Store) Archive(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	sess.Status = models.SessionStatusArchived
	sess.UpdatedAt = time.Now()
	return nil
}

// Cursor returns the last-message cursor recorded for id, for
// incremental retrieval by a caller that already has everything up to
// that point.
func (s *Store) Cursor(ctx context.Context, id string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[id]
}

// AdvanceCursor records that the caller has observed messages up to
// and including t. Cursors only move forward.
func (s *Store) AdvanceCursor(ctx context.Context, id string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.After(s.cursors[id]) {
		s.cursors[id] = t
	}
}

// SetPendingPlan stores plan in the session's metadata (§4.3's
// PendingPlanMetadataKey), the single slot a session may hold a
// running or waiting_user plan in (§8 invariant 3).
func (s *Store) SetPendingPlan(ctx context.Context, id string, plan *models.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if sess.Metadata == nil {
		sess.Metadata = make(map[string]any)
	}
	if plan == nil {
		delete(sess.Metadata, models.PendingPlanMetadataKey)
	} else {
		sess.Metadata[models.PendingPlanMetadataKey] = plan
	}
	sess.UpdatedAt = time.Now()
	return nil
}
