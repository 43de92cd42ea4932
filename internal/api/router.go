package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/therapy-appointment-scheduling/internal/appointment"
	"github.com/hackgods/therapy-appointment-scheduling/internal/availability"
)

type RouterConfig struct {
	Engine     *appointment.Engine
	Lifecycle  *appointment.Lifecycle
	Calculator *availability.Calculator
	DayWindow  int
	PgPool     *pgxpool.Pool // nil when running on the memory store
	Redis      *redis.Client // nil when running on local locks
	Logger     zerolog.Logger
	Env        string
	Version    string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(UserMiddleware)

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Get("/slots", slotGridHandler(cfg.Calculator, cfg.DayWindow))
	r.Get("/slots/check", slotCheckHandler(cfg.Calculator))

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", createAppointmentHandler(cfg.Engine, cfg.Calculator))
		r.Get("/upcoming", listUpcomingHandler(cfg.Lifecycle))
		r.Get("/history", listHistoryHandler(cfg.Lifecycle))

		r.Post("/pending/{token}/confirm", confirmPendingHandler(cfg.Engine))
		r.Delete("/pending/{token}", abandonPendingHandler(cfg.Engine))

		r.Get("/{id}", getAppointmentHandler(cfg.Lifecycle))
		r.Post("/{id}/cancel", cancelAppointmentHandler(cfg.Lifecycle))
		r.Post("/{id}/outcome", markOutcomeHandler(cfg.Lifecycle))
	})

	return r
}
