package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/therapy-appointment-scheduling/internal/availability"
	redisclient "github.com/hackgods/therapy-appointment-scheduling/internal/redis"
)

var testSlots = []string{"09:00", "10:00", "11:00", "12:00", "13:00", "14:00", "15:00", "16:00", "17:00"}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type harness struct {
	clock     *fakeClock
	store     *MemoryStore
	pending   *MemoryPendingStore
	engine    *Engine
	lifecycle *Lifecycle
}

type harnessOption func(*EngineConfig, *redisclient.Locker)

func withDoubleBooking() harnessOption {
	return func(cfg *EngineConfig, _ *redisclient.Locker) { cfg.AllowDoubleBooking = true }
}

func withLocker(l redisclient.Locker) harnessOption {
	return func(_ *EngineConfig, locker *redisclient.Locker) { *locker = l }
}

func newHarness(t *testing.T, now time.Time, opts ...harnessOption) *harness {
	t.Helper()

	clock := &fakeClock{now: now}
	calc, err := availability.NewCalculator(availability.Options{
		Slots:     testSlots,
		Blackouts: []availability.Blackout{{Time: "12:00"}},
		Location:  time.UTC,
		Now:       clock.Now,
	})
	if err != nil {
		t.Fatalf("new calculator: %v", err)
	}

	cfg := EngineConfig{
		TherapistName:   "Dr. Angelica",
		MaxSelections:   2,
		RetroactiveDays: 30,
	}
	locker := redisclient.NewLocalSlotLocker()
	for _, o := range opts {
		o(&cfg, &locker)
	}

	store := NewMemoryStore()
	pending := NewMemoryPendingStore()
	return &harness{
		clock:     clock,
		store:     store,
		pending:   pending,
		engine:    NewEngine(store, calc, locker, pending, cfg, zerolog.Nop()),
		lifecycle: NewLifecycle(store, calc, true, zerolog.Nop()),
	}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (h *harness) book(t *testing.T, req BookingRequest) Outcome {
	t.Helper()
	out, err := h.engine.Book(context.Background(), req)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	return out
}

func (h *harness) mustCommit(t *testing.T, req BookingRequest) Appointment {
	t.Helper()
	out := h.book(t, req)
	if out.Kind != OutcomeCommitted {
		t.Fatalf("expected committed, got %s (reason: %v)", out.Kind, out.Reason)
	}
	if len(out.Appointments) == 0 {
		t.Fatalf("committed outcome without appointments")
	}
	return out.Appointments[0]
}

func (h *harness) count(t *testing.T) int {
	t.Helper()
	all, err := h.store.ListAll(context.Background())
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	return len(all)
}

func (h *harness) find(t *testing.T, a Appointment) *Appointment {
	t.Helper()
	got, err := h.store.FindByID(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("find %s: %v", a.ID, err)
	}
	return got
}

// hookStore runs a one-shot hook right before a status transition or a
// commit reaches the wrapped store, to interleave a competing write.
type hookStore struct {
	*MemoryStore
	beforeTransition func()
	beforeCommit     func()
}

func (s *hookStore) UpdateStatusFrom(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	if f := s.beforeTransition; f != nil {
		s.beforeTransition = nil
		f()
	}
	return s.MemoryStore.UpdateStatusFrom(ctx, id, from, to)
}

func (s *hookStore) Commit(ctx context.Context, records []*Appointment, supersededID *uuid.UUID) (bool, error) {
	if f := s.beforeCommit; f != nil {
		s.beforeCommit = nil
		f()
	}
	return s.MemoryStore.Commit(ctx, records, supersededID)
}

// assertLineage checks that every originalId points at a stored record.
func assertLineage(t *testing.T, h *harness) {
	t.Helper()
	ctx := context.Background()

	all, err := h.store.ListAll(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	for _, a := range all {
		if a.OriginalID == nil {
			continue
		}
		if _, err := h.store.FindByID(ctx, *a.OriginalID); err != nil {
			t.Fatalf("appointment %s points at %s: %v", a.ID, *a.OriginalID, err)
		}
	}
}
