package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/therapy-appointment-scheduling/internal/appointment"
	"github.com/hackgods/therapy-appointment-scheduling/internal/availability"
	redisclient "github.com/hackgods/therapy-appointment-scheduling/internal/redis"
)

// Monday morning, before the first slot.
var testNow = time.Date(2025, 6, 9, 8, 0, 0, 0, time.UTC)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	calc, err := availability.NewCalculator(availability.Options{
		Slots:     []string{"09:00", "10:00", "11:00", "12:00", "13:00", "14:00", "15:00", "16:00", "17:00"},
		Blackouts: []availability.Blackout{{Time: "12:00"}},
		Location:  time.UTC,
		Now:       func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("new calculator: %v", err)
	}

	store := appointment.NewMemoryStore()
	engine := appointment.NewEngine(store, calc, redisclient.NewLocalSlotLocker(), appointment.NewMemoryPendingStore(),
		appointment.EngineConfig{TherapistName: "Dr. Angelica", MaxSelections: 2, RetroactiveDays: 30}, zerolog.Nop())

	return NewRouter(RouterConfig{
		Engine:     engine,
		Lifecycle:  appointment.NewLifecycle(store, calc, true, zerolog.Nop()),
		Calculator: calc,
		DayWindow:  5,
		Logger:     zerolog.Nop(),
		Env:        "test",
		Version:    "test",
	})
}

func do(t *testing.T, h http.Handler, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func book(date, label string) CreateAppointmentRequest {
	return CreateAppointmentRequest{Slots: []SlotRequest{{Date: date, Time: label}}, Notes: "first session"}
}

func TestCreateAppointment_Committed(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/appointments", "patient-1", book("2025-06-10", "10:00"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	resp := decode[BookingResponse](t, rec)
	if resp.Outcome != string(appointment.OutcomeCommitted) {
		t.Fatalf("expected committed outcome, got %s", resp.Outcome)
	}
	if len(resp.Appointments) != 1 {
		t.Fatalf("expected 1 appointment, got %d", len(resp.Appointments))
	}
	got := resp.Appointments[0]
	if got.Status != "scheduled" || got.StatusLabel != "agendada" || got.UserID != "patient-1" {
		t.Fatalf("unexpected appointment %+v", got)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestCreateAppointment_Errors(t *testing.T) {
	h := newTestRouter(t)

	if rec := do(t, h, http.MethodPost, "/appointments", "p", book("2025-06-10", "10:00")); rec.Code != http.StatusCreated {
		t.Fatalf("setup booking: %d %s", rec.Code, rec.Body.String())
	}

	tests := []struct {
		name string
		body any
		want int
		code string
	}{
		{"malformed json", "{", http.StatusBadRequest, "invalid_request_body"},
		{"bad date", book("10/06/2025", "10:00"), http.StatusBadRequest, "invalid_date"},
		{"no slots", CreateAppointmentRequest{}, http.StatusBadRequest, "invalid_request"},
		{"bad editing id", CreateAppointmentRequest{Slots: book("2025-06-11", "10:00").Slots, EditingID: "nope"}, http.StatusBadRequest, "invalid_editing_id"},
		{"weekend", book("2025-06-14", "10:00"), http.StatusUnprocessableEntity, "invalid_slot"},
		{"blackout", book("2025-06-10", "12:00"), http.StatusUnprocessableEntity, "invalid_slot"},
		{"too many", CreateAppointmentRequest{Slots: []SlotRequest{
			{Date: "2025-06-11", Time: "09:00"}, {Date: "2025-06-11", Time: "10:00"}, {Date: "2025-06-11", Time: "11:00"},
		}}, http.StatusUnprocessableEntity, "too_many_slots"},
		{"taken", book("2025-06-10", "10:00"), http.StatusConflict, "slot_already_booked"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/appointments", "p", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
			if e := decode[ErrorResponse](t, rec); e.Error != tt.code {
				t.Fatalf("expected error %q, got %q", tt.code, e.Error)
			}
		})
	}
}

func TestPastDateFlow(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/appointments", "p", book("2025-06-06", "10:00"))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	pending := decode[BookingResponse](t, rec)
	if pending.Token == "" {
		t.Fatalf("expected a confirmation token")
	}

	rec = do(t, h, http.MethodGet, "/appointments/history", "p", nil)
	if list := decode[[]AppointmentResponse](t, rec); len(list) != 0 {
		t.Fatalf("nothing may be written before confirmation, got %d", len(list))
	}

	confirmPath := "/appointments/pending/" + pending.Token + "/confirm"
	rec = do(t, h, http.MethodPost, confirmPath, "p", ConfirmPendingRequest{WasCompleted: true})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	done := decode[BookingResponse](t, rec)
	if len(done.Appointments) != 1 || done.Appointments[0].Status != "completed" {
		t.Fatalf("expected one completed appointment, got %+v", done.Appointments)
	}

	rec = do(t, h, http.MethodPost, confirmPath, "p", ConfirmPendingRequest{WasCompleted: true})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second answer must be refused, got %d", rec.Code)
	}
}

func TestAbandonPending(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/appointments", "p", book("2025-06-06", "10:00"))
	token := decode[BookingResponse](t, rec).Token

	if rec := do(t, h, http.MethodDelete, "/appointments/pending/"+token, "p", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodPost, "/appointments/pending/"+token+"/confirm", "p", ConfirmPendingRequest{})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("abandoned booking must not be confirmable, got %d", rec.Code)
	}
}

func TestPendingBelongsToItsPatient(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/appointments", "p", book("2025-06-06", "10:00"))
	token := decode[BookingResponse](t, rec).Token

	if rec := do(t, h, http.MethodPost, "/appointments/pending/"+token+"/confirm", "intruder", ConfirmPendingRequest{WasCompleted: true}); rec.Code != http.StatusNotFound {
		t.Fatalf("another patient must not confirm, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/appointments/pending/"+token, "intruder", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("another patient must not abandon, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/appointments/pending/"+token+"/confirm", "p", ConfirmPendingRequest{WasCompleted: true}); rec.Code != http.StatusCreated {
		t.Fatalf("owner should still confirm, got %d", rec.Code)
	}
}

func TestAbandonUnknownPending(t *testing.T) {
	h := newTestRouter(t)

	if rec := do(t, h, http.MethodDelete, "/appointments/pending/no-such-token", "p", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAppointmentLifecycleEndpoints(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/appointments", "p", book("2025-06-10", "10:00"))
	id := decode[BookingResponse](t, rec).Appointments[0].ID.String()

	if rec := do(t, h, http.MethodGet, "/appointments/"+id, "someone-else", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("another patient must not see the appointment, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/appointments/not-a-uuid", "p", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/appointments/upcoming", "p", nil)
	if list := decode[[]AppointmentResponse](t, rec); len(list) != 1 {
		t.Fatalf("expected 1 upcoming, got %d", len(list))
	}

	rec = do(t, h, http.MethodPost, "/appointments/"+id+"/outcome", "p", MarkOutcomeRequest{Status: "completed"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("future appointment cannot get an outcome, got %d", rec.Code)
	}

	for i := 0; i < 2; i++ {
		rec = do(t, h, http.MethodPost, "/appointments/"+id+"/cancel", "p", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("cancel #%d: expected 200, got %d: %s", i+1, rec.Code, rec.Body.String())
		}
		if got := decode[AppointmentResponse](t, rec); got.Status != "cancelled" {
			t.Fatalf("expected cancelled, got %s", got.Status)
		}
	}

	rec = do(t, h, http.MethodGet, "/appointments/history?q=cancelada", "p", nil)
	if list := decode[[]AppointmentResponse](t, rec); len(list) != 1 {
		t.Fatalf("expected the cancelled appointment in history, got %d", len(list))
	}
	rec = do(t, h, http.MethodGet, "/appointments/history", "someone-else", nil)
	if list := decode[[]AppointmentResponse](t, rec); len(list) != 0 {
		t.Fatalf("history must be scoped per patient, got %d", len(list))
	}
	if rec := do(t, h, http.MethodGet, "/appointments/history?status=lost", "p", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rec.Code)
	}
}

func TestSlotEndpoints(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodGet, "/slots?from=2025-06-13&days=2", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	grid := decode[[]availability.Day](t, rec)
	if len(grid) != 2 {
		t.Fatalf("expected 2 days, got %d", len(grid))
	}
	if !grid[0].Slots[0].Offerable {
		t.Fatalf("friday 09:00 should be offerable")
	}
	for _, s := range grid[1].Slots {
		if s.Offerable {
			t.Fatalf("saturday %s should not be offerable", s.Time)
		}
	}

	rec = do(t, h, http.MethodGet, "/slots", "", nil)
	if grid := decode[[]availability.Day](t, rec); len(grid) != 5 || grid[0].Date != "2025-06-09" {
		t.Fatalf("default grid should start today and span 5 days, got %d days", len(grid))
	}

	if rec := do(t, h, http.MethodGet, "/slots?days=0", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for days=0, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/slots/check?date=2025-06-10&time=12:00", "", nil)
	check := decode[SlotCheckResponse](t, rec)
	if check.Offerable || check.Reason == "" {
		t.Fatalf("lunch slot should be refused with a reason, got %+v", check)
	}

	rec = do(t, h, http.MethodGet, "/slots/check?date=2025-06-10&time=10:00", "", nil)
	if check := decode[SlotCheckResponse](t, rec); !check.Offerable {
		t.Fatalf("tuesday 10:00 should be offerable, got %+v", check)
	}

	if rec := do(t, h, http.MethodGet, "/slots/check?date=2025-06-10&time=25:00", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad time, got %d", rec.Code)
	}
}

func TestHealthWithoutBackends(t *testing.T) {
	h := newTestRouter(t)

	if rec := do(t, h, http.MethodGet, "/health/live", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec := do(t, h, http.MethodGet, "/health/ready", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decode[ReadinessResponse](t, rec)
	if resp.Dependencies["postgres"] != "memory" || resp.Dependencies["redis"] != "local" {
		t.Fatalf("unexpected dependencies %v", resp.Dependencies)
	}
}
