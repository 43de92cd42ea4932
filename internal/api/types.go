package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/therapy-appointment-scheduling/internal/appointment"
)

type SlotRequest struct {
	Date string `json:"date"` // 2006-01-02
	Time string `json:"time"` // 15:04
}

type CreateAppointmentRequest struct {
	Slots     []SlotRequest `json:"slots"`
	Notes     string        `json:"notes"`
	EditingID string        `json:"editing_id,omitempty"`
}

type ConfirmPendingRequest struct {
	WasCompleted bool `json:"was_completed"`
}

type MarkOutcomeRequest struct {
	Status string `json:"status"`
}

type AppointmentResponse struct {
	ID            uuid.UUID  `json:"id"`
	UserID        string     `json:"user_id,omitempty"`
	TherapistName string     `json:"therapist_name"`
	Date          string     `json:"date"`
	Time          string     `json:"time"`
	Notes         string     `json:"notes,omitempty"`
	Status        string     `json:"status"`
	StatusLabel   string     `json:"status_label"`
	OriginalID    *uuid.UUID `json:"original_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type BookingResponse struct {
	Outcome         string                `json:"outcome"`
	Appointments    []AppointmentResponse `json:"appointments,omitempty"`
	Token           string                `json:"token,omitempty"`
	SupersedeMissed bool                  `json:"supersede_missed,omitempty"`
}

type SlotCheckResponse struct {
	Date      string `json:"date"`
	Time      string `json:"time"`
	Offerable bool   `json:"offerable"`
	Reason    string `json:"reason,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:            a.ID,
		UserID:        a.UserID,
		TherapistName: a.TherapistName,
		Date:          a.DateString(),
		Time:          a.Time,
		Notes:         a.Notes,
		Status:        string(a.Status),
		StatusLabel:   a.Status.Label(),
		OriginalID:    a.OriginalID,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

func toAppointmentList(list []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(list))
	for _, a := range list {
		out = append(out, toAppointmentResponse(a))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
