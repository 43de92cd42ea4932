package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const appointmentColumns = `id, user_id, therapist_name, date, time, notes, status, original_id, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var originalID *uuid.UUID

	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.TherapistName,
		&a.Date,
		&a.Time,
		&a.Notes,
		&a.Status,
		&originalID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.OriginalID = originalID
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// queryer is satisfied by both the pool and a transaction.
type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertAppointment(ctx context.Context, q queryer, a *Appointment) (*Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := q.QueryRow(ctx, `
		INSERT INTO appointments (id, user_id, therapist_name, date, time, notes, status, original_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.UserID, a.TherapistName, a.Date, a.Time, a.Notes, a.Status, a.OriginalID)

	return scanAppointment(row)
}

// Interface methods

func (r *PgRepository) Create(ctx context.Context, appt *Appointment) (*Appointment, error) {
	stored, err := insertAppointment(ctx, r.pool, appt)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return stored, nil
}

func (r *PgRepository) FindByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAll(ctx context.Context) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
	`)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListByStatus(ctx context.Context, status AppointmentStatus) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = $1
	`, status)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListByUser(ctx context.Context, userID string) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) FindActiveBySlot(ctx context.Context, date time.Time, label string) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE date = $1
		  AND time = $2
		  AND status = 'scheduled'
	`, date, label)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns,
		id, status)

	return scanAppointment(row)
}

// UpdateStatusFrom relies on the row lock taken by UPDATE: a concurrent
// supersession either lands first and the status guard fails, or waits.
func (r *PgRepository) UpdateStatusFrom(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		RETURNING `+appointmentColumns,
		id, from, to)

	appt, err := scanAppointment(row)
	if !errors.Is(err, ErrAppointmentNotFound) {
		return appt, err
	}

	current, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: appointment is %s, expected %s", ErrInvalidStatusTransition, current.Status, from)
}

func (r *PgRepository) Commit(ctx context.Context, records []*Appointment, supersededID *uuid.UUID) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback(ctx)

	superseded := false
	if supersededID != nil {
		var current AppointmentStatus
		err := tx.QueryRow(ctx, `
			SELECT status
			FROM appointments
			WHERE id = $1
			FOR UPDATE
		`, *supersededID).Scan(&current)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return false, fmt.Errorf("lock superseded appointment: %w", err)
		case !supersedable(current):
			return false, fmt.Errorf("%w: cannot supersede a %s appointment", ErrInvalidStatusTransition, current)
		default:
			if _, err := tx.Exec(ctx, `
				UPDATE appointments
				SET status = 'rescheduled',
				    updated_at = now()
				WHERE id = $1
			`, *supersededID); err != nil {
				return false, fmt.Errorf("supersede appointment: %w", err)
			}
			superseded = true
		}
	}

	for _, rec := range records {
		stored, err := insertAppointment(ctx, tx, rec)
		if err != nil {
			return false, fmt.Errorf("insert appointment: %w", err)
		}
		*rec = *stored
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}

	return superseded, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
