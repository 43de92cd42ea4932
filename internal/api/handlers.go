package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/therapy-appointment-scheduling/internal/appointment"
	"github.com/hackgods/therapy-appointment-scheduling/internal/availability"
	redisclient "github.com/hackgods/therapy-appointment-scheduling/internal/redis"
)

func createAppointmentHandler(engine *appointment.Engine, calc *availability.Calculator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		booking := appointment.BookingRequest{
			UserID: GetUserID(r.Context()),
			Notes:  req.Notes,
		}

		for _, s := range req.Slots {
			date, err := availability.ParseDate(s.Date, calc.Location())
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be formatted as YYYY-MM-DD")
				return
			}
			booking.Slots = append(booking.Slots, appointment.Slot{Date: date, Time: s.Time})
		}

		if req.EditingID != "" {
			id, err := uuid.Parse(req.EditingID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_editing_id", "editing_id must be a valid UUID")
				return
			}
			booking.EditingID = &id
		}

		out, err := engine.Book(r.Context(), booking)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeOutcome(w, out)
	}
}

func confirmPendingHandler(engine *appointment.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ConfirmPendingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		out, err := engine.ConfirmPastDate(r.Context(), GetUserID(r.Context()), chi.URLParam(r, "token"), req.WasCompleted)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeOutcome(w, out)
	}
}

func abandonPendingHandler(engine *appointment.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := engine.AbandonPending(r.Context(), GetUserID(r.Context()), chi.URLParam(r, "token"))
		if errors.Is(err, appointment.ErrPendingNotFound) {
			writeError(w, http.StatusNotFound, "pending_not_found", err.Error())
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeOutcome(w http.ResponseWriter, out appointment.Outcome) {
	switch out.Kind {
	case appointment.OutcomeCommitted:
		writeJSON(w, http.StatusCreated, BookingResponse{
			Outcome:         string(out.Kind),
			Appointments:    toAppointmentList(out.Appointments),
			SupersedeMissed: out.SupersedeMissed,
		})
	case appointment.OutcomePending:
		writeJSON(w, http.StatusAccepted, BookingResponse{
			Outcome: string(out.Kind),
			Token:   out.Token,
		})
	default:
		handleBookingError(w, out.Reason)
	}
}

func handleBookingError(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeError(w, http.StatusInternalServerError, "internal_error", "booking rejected without a reason")
	case errors.Is(err, appointment.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, appointment.ErrTooManySlots):
		writeError(w, http.StatusUnprocessableEntity, "too_many_slots", err.Error())
	case errors.Is(err, appointment.ErrInvalidSlot):
		writeError(w, http.StatusUnprocessableEntity, "invalid_slot", err.Error())
	case errors.Is(err, appointment.ErrSlotAlreadyBooked):
		writeError(w, http.StatusConflict, "slot_already_booked", err.Error())
	case errors.Is(err, appointment.ErrSlotBeingBooked),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, appointment.ErrPendingNotFound):
		writeError(w, http.StatusNotFound, "pending_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func getAppointmentHandler(lc *appointment.Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appt, ok := loadOwned(w, r, lc)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func cancelAppointmentHandler(lc *appointment.Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appt, ok := loadOwned(w, r, lc)
		if !ok {
			return
		}

		updated, err := lc.Cancel(r.Context(), appt.ID)
		if err != nil {
			handleLifecycleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(*updated))
	}
}

func markOutcomeHandler(lc *appointment.Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MarkOutcomeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		status := appointment.AppointmentStatus(req.Status)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_status", fmt.Sprintf("unknown status %q", req.Status))
			return
		}

		appt, ok := loadOwned(w, r, lc)
		if !ok {
			return
		}

		updated, err := lc.MarkOutcome(r.Context(), appt.ID, status)
		if err != nil {
			handleLifecycleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(*updated))
	}
}

func listUpcomingHandler(lc *appointment.Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := lc.ListUpcoming(r.Context(), GetUserID(r.Context()))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentList(list))
	}
}

func listHistoryHandler(lc *appointment.Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := appointment.HistoryFilter{
			Query:  r.URL.Query().Get("q"),
			Status: appointment.AppointmentStatus(r.URL.Query().Get("status")),
		}
		if filter.Status != "" && !filter.Status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_status", fmt.Sprintf("unknown status %q", filter.Status))
			return
		}

		list, err := lc.SearchHistory(r.Context(), GetUserID(r.Context()), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentList(list))
	}
}

// loadOwned resolves the {id} URL param. Appointments of another patient are
// reported as missing.
func loadOwned(w http.ResponseWriter, r *http.Request, lc *appointment.Lifecycle) (*appointment.Appointment, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return nil, false
	}

	appt, err := lc.Get(r.Context(), id)
	if err != nil {
		handleLifecycleError(w, err)
		return nil, false
	}

	if user := GetUserID(r.Context()); user != "" && appt.UserID != user {
		writeError(w, http.StatusNotFound, "appointment_not_found", appointment.ErrAppointmentNotFound.Error())
		return nil, false
	}
	return appt, true
}

func handleLifecycleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrNotElapsed):
		writeError(w, http.StatusConflict, "appointment_not_elapsed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
