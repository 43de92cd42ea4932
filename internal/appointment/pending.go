package appointment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/therapy-appointment-scheduling/internal/availability"
)

// PendingStore holds booking requests suspended on the past-date question.
// Take must remove the entry so a request is answered at most once.
type PendingStore interface {
	Save(ctx context.Context, token string, data []byte) error
	Take(ctx context.Context, token string) ([]byte, bool, error)
	Discard(ctx context.Context, token string) error
}

type pendingSlot struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

type pendingBooking struct {
	UserID    string        `json:"user_id"`
	Slots     []pendingSlot `json:"slots"`
	Notes     string        `json:"notes"`
	EditingID *uuid.UUID    `json:"editing_id,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

func encodePending(req BookingRequest, now time.Time) ([]byte, error) {
	p := pendingBooking{
		UserID:    req.UserID,
		Notes:     req.Notes,
		EditingID: req.EditingID,
		CreatedAt: now,
	}
	for _, s := range req.Slots {
		p.Slots = append(p.Slots, pendingSlot{Date: s.Date.Format(availability.DateLayout), Time: s.Time})
	}
	return json.Marshal(p)
}

func decodePending(data []byte, loc *time.Location) (BookingRequest, error) {
	var p pendingBooking
	if err := json.Unmarshal(data, &p); err != nil {
		return BookingRequest{}, fmt.Errorf("decode pending booking: %w", err)
	}

	req := BookingRequest{
		UserID:    p.UserID,
		Notes:     p.Notes,
		EditingID: p.EditingID,
	}
	for _, s := range p.Slots {
		d, err := availability.ParseDate(s.Date, loc)
		if err != nil {
			return BookingRequest{}, fmt.Errorf("decode pending slot date: %w", err)
		}
		req.Slots = append(req.Slots, Slot{Date: d, Time: s.Time})
	}
	return req, nil
}

// MemoryPendingStore is the in-process PendingStore.
type MemoryPendingStore struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func NewMemoryPendingStore() *MemoryPendingStore {
	return &MemoryPendingStore{entries: make(map[string][]byte)}
}

func (m *MemoryPendingStore) Save(_ context.Context, token string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[token] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryPendingStore) Take(_ context.Context, token string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.entries[token]
	delete(m.entries, token)
	return data, ok, nil
}

func (m *MemoryPendingStore) Discard(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, token)
	return nil
}

func (m *MemoryPendingStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
