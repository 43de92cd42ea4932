package appointment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/therapy-appointment-scheduling/internal/availability"
)

var (
	ErrNotElapsed = errors.New("appointment has not happened yet")
)

// Lifecycle covers everything after booking: cancellation, post-hoc outcome
// marking and the upcoming/history projections.
type Lifecycle struct {
	repo          Store
	calc          *availability.Calculator
	includeLapsed bool
	log           zerolog.Logger
}

// NewLifecycle creates the manager. With includeLapsed, scheduled
// appointments whose moment has passed are listed in history.
func NewLifecycle(repo Store, calc *availability.Calculator, includeLapsed bool, logger zerolog.Logger) *Lifecycle {
	return &Lifecycle{
		repo:          repo,
		calc:          calc,
		includeLapsed: includeLapsed,
		log:           logger.With().Str("component", "lifecycle").Logger(),
	}
}

func (l *Lifecycle) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := l.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// Cancel marks an appointment cancelled. Cancelling twice is a no-op.
func (l *Lifecycle) Cancel(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := l.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	switch appt.Status {
	case StatusCancelled:
		return appt, nil
	case StatusScheduled:
	default:
		return nil, fmt.Errorf("%w: cannot cancel a %s appointment", ErrInvalidStatusTransition, appt.Status)
	}

	updated, err := l.repo.UpdateStatusFrom(ctx, id, StatusScheduled, StatusCancelled)
	if errors.Is(err, ErrInvalidStatusTransition) {
		// Changed since it was read. Another cancel still counts as success.
		if current, ferr := l.repo.FindByID(ctx, id); ferr == nil && current.Status == StatusCancelled {
			return current, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	insertEvent(ctx, l.repo, l.log, id, EventAppointmentCancelled, map[string]any{})
	return updated, nil
}

// MarkOutcome records what happened to a scheduled appointment once its
// moment has passed. Only completed and cancelled are accepted.
func (l *Lifecycle) MarkOutcome(ctx context.Context, id uuid.UUID, status AppointmentStatus) (*Appointment, error) {
	if status != StatusCompleted && status != StatusCancelled {
		return nil, fmt.Errorf("%w: outcome must be completed or cancelled, got %q", ErrInvalidStatusTransition, status)
	}

	appt, err := l.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.Status != StatusScheduled {
		return nil, fmt.Errorf("%w: appointment is already %s", ErrInvalidStatusTransition, appt.Status)
	}
	if !l.at(*appt).Before(l.calc.Now()) {
		return nil, ErrNotElapsed
	}

	updated, err := l.repo.UpdateStatusFrom(ctx, id, StatusScheduled, status)
	if err != nil {
		return nil, fmt.Errorf("mark appointment outcome: %w", err)
	}

	insertEvent(ctx, l.repo, l.log, id, EventAppointmentOutcome, map[string]any{"status": status})
	return updated, nil
}

// ListUpcoming returns scheduled appointments from now on, soonest first.
func (l *Lifecycle) ListUpcoming(ctx context.Context, userID string) ([]Appointment, error) {
	all, err := l.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := l.calc.Now()
	var out []Appointment
	for _, a := range all {
		if l.isUpcoming(a, now) {
			out = append(out, a)
		}
	}

	l.sortByMoment(out, true)
	return out, nil
}

// ListHistory returns every appointment that is not upcoming-eligible,
// most recent first.
func (l *Lifecycle) ListHistory(ctx context.Context, userID string) ([]Appointment, error) {
	all, err := l.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := l.calc.Now()
	var out []Appointment
	for _, a := range all {
		if l.inHistory(a, now) {
			out = append(out, a)
		}
	}

	l.sortByMoment(out, false)
	return out, nil
}

type HistoryFilter struct {
	Query  string            // matched against therapist, notes and status label
	Status AppointmentStatus // empty matches every status
}

func (f HistoryFilter) matches(a Appointment) bool {
	if f.Status != "" && a.Status != f.Status {
		return false
	}

	q := strings.ToLower(strings.TrimSpace(f.Query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(a.TherapistName), q) ||
		strings.Contains(strings.ToLower(a.Notes), q) ||
		strings.Contains(a.Status.Label(), q) ||
		strings.Contains(string(a.Status), q)
}

func (l *Lifecycle) SearchHistory(ctx context.Context, userID string, f HistoryFilter) ([]Appointment, error) {
	history, err := l.ListHistory(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := history[:0]
	for _, a := range history {
		if f.matches(a) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (l *Lifecycle) isUpcoming(a Appointment, now time.Time) bool {
	return a.Status == StatusScheduled && !l.at(a).Before(now)
}

func (l *Lifecycle) inHistory(a Appointment, now time.Time) bool {
	if a.Status != StatusScheduled {
		return true
	}
	return l.includeLapsed && l.at(a).Before(now)
}

func (l *Lifecycle) load(ctx context.Context, userID string) ([]Appointment, error) {
	var (
		all []Appointment
		err error
	)
	if userID == "" {
		all, err = l.repo.ListAll(ctx)
	} else {
		all, err = l.repo.ListByUser(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return all, nil
}

// at is the appointment's moment. A label that no longer parses falls back
// to the start of its day.
func (l *Lifecycle) at(a Appointment) time.Time {
	t, err := l.calc.Combine(a.Date, a.Time)
	if err != nil {
		return l.calc.Day(a.Date)
	}
	return t
}

func (l *Lifecycle) sortByMoment(list []Appointment, ascending bool) {
	sort.SliceStable(list, func(i, j int) bool {
		ti, tj := l.at(list[i]), l.at(list[j])
		if !ti.Equal(tj) {
			if ascending {
				return ti.Before(tj)
			}
			return ti.After(tj)
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}
