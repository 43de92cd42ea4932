package appointment

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled   AppointmentStatus = "scheduled"
	StatusCompleted   AppointmentStatus = "completed"
	StatusCancelled   AppointmentStatus = "cancelled"
	StatusRescheduled AppointmentStatus = "rescheduled"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled, StatusRescheduled:
		return true
	}
	return false
}

// Label is the status as shown to the patient.
func (s AppointmentStatus) Label() string {
	switch s {
	case StatusScheduled:
		return "agendada"
	case StatusCompleted:
		return "concluída"
	case StatusCancelled:
		return "cancelada"
	case StatusRescheduled:
		return "remarcada"
	}
	return string(s)
}

type Appointment struct {
	ID            uuid.UUID
	UserID        string
	TherapistName string
	Date          time.Time // calendar day, time of day is ignored
	Time          string    // slot label, "15:04"
	Notes         string
	Status        AppointmentStatus
	OriginalID    *uuid.UUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (a Appointment) DateString() string {
	return a.Date.Format("2006-01-02")
}

// SlotKey identifies the (date, time) pair the appointment occupies.
func (a Appointment) SlotKey() string {
	return slotKey(a.Date, a.Time)
}

// Slot is one requested (date, time) pair.
type Slot struct {
	Date time.Time
	Time string
}

func (s Slot) Key() string {
	return slotKey(s.Date, s.Time)
}

func slotKey(date time.Time, label string) string {
	return date.Format("2006-01-02") + "T" + label
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
