package appointment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps appointments in process. It backs single-session use
// and tests; every write holds one mutex so Commit is atomic.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]*Appointment
	order  []uuid.UUID
	events []EventLog
	nextEv int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[uuid.UUID]*Appointment)}
}

func (m *MemoryStore) Create(_ context.Context, appt *Appointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.insertLocked(appt)
	return &stored, nil
}

func (m *MemoryStore) insertLocked(appt *Appointment) Appointment {
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	now := time.Now()
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = now
	}
	appt.UpdatedAt = now

	cp := *appt
	m.byID[cp.ID] = &cp
	m.order = append(m.order, cp.ID)
	return cp
}

func (m *MemoryStore) FindByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.byID[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) ListAll(_ context.Context) ([]Appointment, error) {
	return m.filter(func(Appointment) bool { return true }), nil
}

func (m *MemoryStore) ListByStatus(_ context.Context, status AppointmentStatus) ([]Appointment, error) {
	return m.filter(func(a Appointment) bool { return a.Status == status }), nil
}

func (m *MemoryStore) ListByUser(_ context.Context, userID string) ([]Appointment, error) {
	return m.filter(func(a Appointment) bool { return a.UserID == userID }), nil
}

func (m *MemoryStore) FindActiveBySlot(_ context.Context, date time.Time, label string) ([]Appointment, error) {
	key := slotKey(date, label)
	return m.filter(func(a Appointment) bool {
		return a.Status == StatusScheduled && a.SlotKey() == key
	}), nil
}

func (m *MemoryStore) filter(keep func(Appointment) bool) []Appointment {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Appointment
	for _, id := range m.order {
		if a := m.byID[id]; keep(*a) {
			out = append(out, *a)
		}
	}
	return out
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id uuid.UUID, status AppointmentStatus) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.byID[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	a.Status = status
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) UpdateStatusFrom(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.byID[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != from {
		return nil, fmt.Errorf("%w: appointment is %s, expected %s", ErrInvalidStatusTransition, a.Status, from)
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) Commit(_ context.Context, records []*Appointment, supersededID *uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	superseded := false
	if supersededID != nil {
		if prev, ok := m.byID[*supersededID]; ok {
			if !supersedable(prev.Status) {
				return false, fmt.Errorf("%w: cannot supersede a %s appointment", ErrInvalidStatusTransition, prev.Status)
			}
			prev.Status = StatusRescheduled
			prev.UpdatedAt = time.Now()
			superseded = true
		}
	}

	for _, r := range records {
		*r = m.insertLocked(r)
	}
	return superseded, nil
}

func (m *MemoryStore) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextEv++
	ev.ID = m.nextEv
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	m.events = append(m.events, ev)
	return nil
}

func supersedable(s AppointmentStatus) bool {
	return s == StatusScheduled || s == StatusRescheduled
}

// Events returns a copy of the event log.
func (m *MemoryStore) Events() []EventLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]EventLog(nil), m.events...)
}
