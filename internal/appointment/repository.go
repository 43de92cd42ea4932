package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Store is the persistence contract for appointments. It validates nothing
// about status transitions; the engine and lifecycle manager do that.
// There is no delete: history is kept through status.
type Store interface {
	// Create assigns an id when the record has none and persists it.
	Create(ctx context.Context, appt *Appointment) (*Appointment, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// List projections carry no ordering guarantee.
	ListAll(ctx context.Context) ([]Appointment, error)
	ListByStatus(ctx context.Context, status AppointmentStatus) ([]Appointment, error)
	ListByUser(ctx context.Context, userID string) ([]Appointment, error)

	// For conflict checks
	FindActiveBySlot(ctx context.Context, date time.Time, label string) ([]Appointment, error)

	UpdateStatus(ctx context.Context, id uuid.UUID, status AppointmentStatus) (*Appointment, error)

	// UpdateStatusFrom moves the record from one status to another in a
	// single step. It fails with ErrInvalidStatusTransition when the record
	// is no longer in status from.
	UpdateStatusFrom(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)

	// Commit inserts records and, when supersededID is set, marks that record
	// rescheduled in the same transaction. Only scheduled or already
	// rescheduled records are superseded: any other status fails the whole
	// commit with ErrInvalidStatusTransition and nothing is inserted.
	// superseded is false when the id does not exist.
	Commit(ctx context.Context, records []*Appointment, supersededID *uuid.UUID) (superseded bool, err error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
