package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/therapy-appointment-scheduling/internal/availability"
	redisclient "github.com/hackgods/therapy-appointment-scheduling/internal/redis"
)

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentOutcome     = "APPOINTMENT_OUTCOME_MARKED"
)

var (
	ErrValidation              = errors.New("invalid booking request")
	ErrTooManySlots            = errors.New("too many slots selected")
	ErrInvalidSlot             = errors.New("slot is not available")
	ErrSlotAlreadyBooked       = errors.New("slot already has a scheduled appointment")
	ErrSlotBeingBooked         = errors.New("slot is currently being booked, please retry")
	ErrPendingNotFound         = errors.New("pending booking not found")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

type OutcomeKind string

const (
	OutcomeCommitted OutcomeKind = "committed"
	OutcomePending   OutcomeKind = "pending_past_date_confirmation"
	OutcomeRejected  OutcomeKind = "rejected"
)

// Outcome is the result of a booking attempt. Committed carries the new
// records, Pending carries the token to answer, Rejected carries the reason.
type Outcome struct {
	Kind         OutcomeKind
	Appointments []Appointment
	Token        string
	Reason       error

	// SupersedeMissed is set when a reschedule committed but the record it
	// replaces could not be marked rescheduled.
	SupersedeMissed bool
}

func rejected(reason error) Outcome {
	return Outcome{Kind: OutcomeRejected, Reason: reason}
}

type BookingRequest struct {
	UserID    string
	Slots     []Slot
	Notes     string
	EditingID *uuid.UUID // set when the request replaces an existing appointment
}

type EngineConfig struct {
	TherapistName      string
	MaxSelections      int
	RetroactiveDays    int
	AllowDoubleBooking bool
}

type Engine struct {
	repo    Store
	calc    *availability.Calculator
	locker  redisclient.Locker
	pending PendingStore
	cfg     EngineConfig
	log     zerolog.Logger
}

func NewEngine(repo Store, calc *availability.Calculator, locker redisclient.Locker, pending PendingStore, cfg EngineConfig, logger zerolog.Logger) *Engine {
	if cfg.MaxSelections <= 0 {
		cfg.MaxSelections = 1
	}
	return &Engine{
		repo:    repo,
		calc:    calc,
		locker:  locker,
		pending: pending,
		cfg:     cfg,
		log:     logger.With().Str("component", "booking").Logger(),
	}
}

// IsSlotOfferable exposes the calendar verdict without attempting a booking.
func (e *Engine) IsSlotOfferable(date time.Time, label string) bool {
	return e.calc.IsSlotOfferable(date, label)
}

// Book validates the requested slots and commits them, unless one of them
// lies in the past. In that case nothing is written and the outcome holds a
// token for ConfirmPastDate.
func (e *Engine) Book(ctx context.Context, req BookingRequest) (Outcome, error) {
	if err := e.validate(&req); err != nil {
		return rejected(err), nil
	}

	for _, s := range req.Slots {
		if err := e.checkSlot(s); err != nil {
			return rejected(fmt.Errorf("%w: %s %s: %w", ErrInvalidSlot, s.Date.Format(availability.DateLayout), s.Time, err)), nil
		}
	}

	now := e.calc.Now()
	isPast := false
	for _, s := range req.Slots {
		at, err := e.calc.Combine(s.Date, s.Time)
		if err != nil {
			return rejected(fmt.Errorf("%w: %w", ErrInvalidSlot, err)), nil
		}
		if at.Before(now) {
			isPast = true
			break
		}
	}

	if !isPast {
		return e.commit(ctx, req, StatusScheduled)
	}

	// Refuse a bad edit now rather than after the user answers.
	if req.EditingID != nil {
		if out, ok, _, err := e.checkEditable(ctx, req); err != nil || !ok {
			return out, err
		}
	}

	data, err := encodePending(req, now)
	if err != nil {
		return Outcome{}, err
	}
	token := uuid.NewString()
	if err := e.pending.Save(ctx, token, data); err != nil {
		return Outcome{}, err
	}
	e.log.Info().Str("token", token).Str("user_id", req.UserID).Int("slots", len(req.Slots)).
		Msg("booking waits for past-date confirmation")
	return Outcome{Kind: OutcomePending, Token: token}, nil
}

// ConfirmPastDate resumes a suspended booking. wasCompleted records the
// appointments as already completed; otherwise they are booked as scheduled.
// A non-empty userID must match the patient who made the request. When the
// commit loses its slot to another booking the token is kept, so the same
// request can be answered again.
func (e *Engine) ConfirmPastDate(ctx context.Context, userID, token string, wasCompleted bool) (Outcome, error) {
	data, req, ok, err := e.takePending(ctx, userID, token)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return rejected(ErrPendingNotFound), nil
	}

	status := StatusScheduled
	if wasCompleted {
		status = StatusCompleted
	}

	out, err := e.commit(ctx, req, status)
	if err != nil || out.Kind != OutcomeRejected || !retryable(out.Reason) {
		return out, err
	}

	if err := e.pending.Save(ctx, token, data); err != nil {
		e.log.Error().Err(err).Str("token", token).Msg("failed to keep pending booking after conflict")
		return out, nil
	}
	out.Token = token
	return out, nil
}

// AbandonPending drops a suspended booking. Nothing was written for it, so
// the store is left exactly as before Book.
func (e *Engine) AbandonPending(ctx context.Context, userID, token string) error {
	_, _, ok, err := e.takePending(ctx, userID, token)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPendingNotFound
	}
	return nil
}

// takePending removes the entry for token. An entry owned by another
// patient is put back and reported as missing.
func (e *Engine) takePending(ctx context.Context, userID, token string) ([]byte, BookingRequest, bool, error) {
	data, ok, err := e.pending.Take(ctx, token)
	if err != nil || !ok {
		return nil, BookingRequest{}, false, err
	}

	req, err := decodePending(data, e.calc.Location())
	if err != nil {
		return nil, BookingRequest{}, false, err
	}

	if userID != "" && req.UserID != userID {
		if err := e.pending.Save(ctx, token, data); err != nil {
			return nil, BookingRequest{}, false, fmt.Errorf("restore pending booking: %w", err)
		}
		return nil, BookingRequest{}, false, nil
	}
	return data, req, true, nil
}

func retryable(reason error) bool {
	return errors.Is(reason, ErrSlotAlreadyBooked) || errors.Is(reason, ErrSlotBeingBooked)
}

func (e *Engine) validate(req *BookingRequest) error {
	if len(req.Slots) == 0 {
		return fmt.Errorf("%w: at least one slot is required", ErrValidation)
	}
	if len(req.Slots) > e.cfg.MaxSelections {
		return fmt.Errorf("%w: %d selected, at most %d allowed", ErrTooManySlots, len(req.Slots), e.cfg.MaxSelections)
	}

	req.Slots = append([]Slot(nil), req.Slots...)
	seen := make(map[string]struct{}, len(req.Slots))
	for i := range req.Slots {
		s := &req.Slots[i]
		if s.Date.IsZero() || s.Time == "" {
			return fmt.Errorf("%w: date and time are required", ErrValidation)
		}
		s.Date = e.calc.Day(s.Date)
		if _, dup := seen[s.Key()]; dup {
			return fmt.Errorf("%w: slot %s selected twice", ErrValidation, s.Key())
		}
		seen[s.Key()] = struct{}{}
	}
	return nil
}

// checkSlot applies the calendar rules. Past days inside the retroactive
// window only need to satisfy the therapist rules; the past-date question
// decides what they become.
func (e *Engine) checkSlot(s Slot) error {
	oldest := e.calc.Today().AddDate(0, 0, -e.cfg.RetroactiveDays)
	if s.Date.Before(oldest) {
		return availability.ErrPastDay
	}
	return e.calc.CheckTherapistRules(s.Date, s.Time)
}

// checkEditable reports whether the record named by EditingID may be
// replaced. found is false when no such record exists; the replacement is
// then booked without a predecessor.
func (e *Engine) checkEditable(ctx context.Context, req BookingRequest) (out Outcome, ok, found bool, err error) {
	prev, err := e.repo.FindByID(ctx, *req.EditingID)
	if errors.Is(err, ErrAppointmentNotFound) {
		return Outcome{}, true, false, nil
	}
	if err != nil {
		return Outcome{}, false, false, fmt.Errorf("load edited appointment: %w", err)
	}
	if req.UserID != "" && prev.UserID != req.UserID {
		return rejected(ErrAppointmentNotFound), false, true, nil
	}
	if prev.Status != StatusScheduled && prev.Status != StatusRescheduled {
		return rejected(fmt.Errorf("%w: cannot reschedule a %s appointment", ErrInvalidStatusTransition, prev.Status)), false, true, nil
	}
	return Outcome{}, true, true, nil
}

func (e *Engine) commit(ctx context.Context, req BookingRequest, status AppointmentStatus) (Outcome, error) {
	var originalID *uuid.UUID
	missingOriginal := false
	if req.EditingID != nil {
		out, ok, found, err := e.checkEditable(ctx, req)
		if err != nil || !ok {
			return out, err
		}
		if found {
			originalID = req.EditingID
		} else {
			missingOriginal = true
		}
	}

	records := make([]*Appointment, 0, len(req.Slots))
	for _, s := range req.Slots {
		records = append(records, &Appointment{
			ID:            uuid.New(),
			UserID:        req.UserID,
			TherapistName: e.cfg.TherapistName,
			Date:          s.Date,
			Time:          s.Time,
			Notes:         req.Notes,
			Status:        status,
			OriginalID:    originalID,
		})
	}

	// Completed records never occupy a slot, so only scheduled ones are checked.
	checkCollisions := status == StatusScheduled && !e.cfg.AllowDoubleBooking

	var superseded bool
	write := func(lockCtx context.Context) error {
		if checkCollisions {
			if err := e.ensureFree(lockCtx, req); err != nil {
				return err
			}
		}
		var err error
		superseded, err = e.repo.Commit(lockCtx, records, originalID)
		if err != nil {
			return fmt.Errorf("commit appointments: %w", err)
		}
		return nil
	}

	var err error
	if checkCollisions {
		err = e.withSlotLocks(ctx, slotKeys(req.Slots), write)
	} else {
		err = write(ctx)
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrSlotAlreadyBooked),
			errors.Is(err, ErrInvalidStatusTransition):
			return rejected(err), nil
		case errors.Is(err, redisclient.ErrLockNotAcquired):
			return rejected(ErrSlotBeingBooked), nil
		}
		return Outcome{}, err
	}

	out := Outcome{Kind: OutcomeCommitted}
	for _, r := range records {
		out.Appointments = append(out.Appointments, *r)
		e.logEvent(ctx, r.ID, EventAppointmentBooked, map[string]any{
			"date":        r.DateString(),
			"time":        r.Time,
			"status":      r.Status,
			"original_id": r.OriginalID,
		})
	}

	switch {
	case superseded:
		e.logEvent(ctx, *originalID, EventAppointmentRescheduled, map[string]any{
			"replaced_by": appointmentIDs(records),
		})
	case missingOriginal:
		out.SupersedeMissed = true
		e.log.Warn().Str("appointment_id", req.EditingID.String()).
			Msg("rescheduled appointment does not exist, replacement booked without a predecessor")
	}

	e.log.Info().Str("user_id", req.UserID).Str("status", string(status)).Int("count", len(records)).
		Msg("appointments committed")

	return out, nil
}

func (e *Engine) ensureFree(ctx context.Context, req BookingRequest) error {
	for _, s := range req.Slots {
		active, err := e.repo.FindActiveBySlot(ctx, s.Date, s.Time)
		if err != nil {
			return fmt.Errorf("check slot occupancy: %w", err)
		}
		for _, a := range active {
			if req.EditingID != nil && a.ID == *req.EditingID {
				continue
			}
			return fmt.Errorf("%w: %s", ErrSlotAlreadyBooked, s.Key())
		}
	}
	return nil
}

// withSlotLocks takes the locks in key order so overlapping multi-slot
// requests cannot deadlock.
func (e *Engine) withSlotLocks(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	if len(keys) == 0 {
		return fn(ctx)
	}
	return e.locker.WithSlotLock(ctx, keys[0], func(lockCtx context.Context) error {
		return e.withSlotLocks(lockCtx, keys[1:], fn)
	})
}

func slotKeys(slots []Slot) []string {
	keys := make([]string, 0, len(slots))
	for _, s := range slots {
		keys = append(keys, s.Key())
	}
	sort.Strings(keys)
	return keys
}

func appointmentIDs(records []*Appointment) []string {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID.String())
	}
	return ids
}

func (e *Engine) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	insertEvent(ctx, e.repo, e.log, appointmentID, eventType, payload)
}

func insertEvent(ctx context.Context, repo Store, log zerolog.Logger, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := repo.InsertEvent(ctx, ev); err != nil {
		log.Error().Err(err).Str("event", eventType).Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}
