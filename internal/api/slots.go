package api

import (
	"net/http"
	"strconv"

	"github.com/hackgods/therapy-appointment-scheduling/internal/availability"
)

const maxGridDays = 62

func slotGridHandler(calc *availability.Calculator, defaultDays int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from := calc.Today()
		if raw := r.URL.Query().Get("from"); raw != "" {
			d, err := availability.ParseDate(raw, calc.Location())
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "from must be formatted as YYYY-MM-DD")
				return
			}
			from = d
		}

		days := defaultDays
		if raw := r.URL.Query().Get("days"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxGridDays {
				writeError(w, http.StatusBadRequest, "invalid_days", "days must be between 1 and 62")
				return
			}
			days = n
		}

		writeJSON(w, http.StatusOK, calc.Grid(from, days))
	}
}

func slotCheckHandler(calc *availability.Calculator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		date, err := availability.ParseDate(q.Get("date"), calc.Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be formatted as YYYY-MM-DD")
			return
		}
		label := q.Get("time")
		if _, err := availability.ParseLabel(label); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_time", "time must be formatted as HH:MM")
			return
		}

		resp := SlotCheckResponse{
			Date:      date.Format(availability.DateLayout),
			Time:      label,
			Offerable: true,
		}
		if err := calc.Check(date, label); err != nil {
			resp.Offerable = false
			resp.Reason = err.Error()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
