package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nexus-kernel/agentkernel/pkg/models"
)

func TestCreate_StartsActive(t *testing.T) {
	s := New()
	sess, err := s.Create(context.Background(), "t1", "u1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.Status != models.SessionStatusActive {
		t.Errorf("Status = %v, want active", sess.Status)
	}
}

func TestGet_UnknownReturnsErrNotFound(t *testing.T) {
	s := New()
	if _, err := s.Get(context.Background(), "missing"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestArchive_SetsStatusAndRetainsSession(t *testing.T) {
	s := New()
	sess, _ := s.Create(context.Background(), "t1", "u1")
	if err := s.Archive(context.Background(), sess.ID); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	got, err := s.Get(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Get after archive: %v", err)
	}
	if got.Status != models.SessionStatusArchived {
		t.Errorf("Status = %v, want archived", got.Status)
	}
}

func TestLock_SerialisesConcurrentAccess(t *testing.T) {
	s := New()
	sess, _ := s.Create(context.Background(), "t1", "u1")

	if err := s.Lock(context.Background(), sess.ID); err != nil {
		t.Fatalf("first Lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := s.Lock(ctx, sess.ID); err == nil {
		t.Fatal("second Lock should block while first holder has not unlocked")
	}

	s.Unlock(sess.ID)
	if err := s.Lock(context.Background(), sess.ID); err != nil {
		t.Fatalf("Lock after Unlock: %v", err)
	}
}

func TestLock_DifferentSessionsDoNotContend(t *testing.T) {
	s := New()
	a, _ := s.Create(context.Background(), "t1", "u1")
	b, _ := s.Create(context.Background(), "t1", "u2")

	if err := s.Lock(context.Background(), a.ID); err != nil {
		t.Fatalf("Lock a: %v", err)
	}
	defer s.Unlock(a.ID)

	if err := s.Lock(context.Background(), b.ID); err != nil {
		t.Fatalf("Lock b should not contend with a: %v", err)
	}
	s.Unlock(b.ID)
}

func TestAdvanceCursor_OnlyMovesForward(t *testing.T) {
	s := New()
	sess, _ := s.Create(context.Background(), "t1", "u1")

	later := time.Now()
	earlier := later.Add(-time.Hour)

	s.AdvanceCursor(context.Background(), sess.ID, later)
	s.AdvanceCursor(context.Background(), sess.ID, earlier)

	if got := s.Cursor(context.Background(), sess.ID); !got.Equal(later) {
		t.Errorf("Cursor = %v, want %v (cursor must not move backward)", got, later)
	}
}

func TestSetPendingPlan_StoresAndClears(t *testing.T) {
	s := New()
	sess, _ := s.Create(context.Background(), "t1", "u1")
	plan := &models.Plan{ID: "p1", Status: models.PlanStatusWaitingUser}

	if err := s.SetPendingPlan(context.Background(), sess.ID, plan); err != nil {
		t.Fatalf("SetPendingPlan: %v", err)
	}
	got, _ := s.Get(context.Background(), sess.ID)
	if got.Metadata[models.PendingPlanMetadataKey] == nil {
		t.Fatal("expected pending plan stored in session metadata")
	}

	if err := s.SetPendingPlan(context.Background(), sess.ID, nil); err != nil {
		t.Fatalf("clear SetPendingPlan: %v", err)
	}
	got, _ = s.Get(context.Background(), sess.ID)
	if _, ok := got.Metadata[models.PendingPlanMetadataKey]; ok {
		t.Fatal("expected pending plan cleared from session metadata")
	}
}

func TestLock_ConcurrentGoroutinesSerialise(t *testing.T) {
	s := New()
	sess, _ := s.Create(context.Background(), "t1", "u1")

	var mu sync.Mutex
	counter := 0
	maxSeen := 0
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := s.Lock(ctx, sess.ID); err != nil {
				return
			}
			defer s.Unlock(sess.ID)

			mu.Lock()
			counter++
			if counter > maxSeen {
				maxSeen = counter
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			counter--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxSeen > 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxSeen)
	}
}
