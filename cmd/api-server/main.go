package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/therapy-appointment-scheduling/internal/api"
	"github.com/hackgods/therapy-appointment-scheduling/internal/appointment"
	"github.com/hackgods/therapy-appointment-scheduling/internal/availability"
	"github.com/hackgods/therapy-appointment-scheduling/internal/config"
	"github.com/hackgods/therapy-appointment-scheduling/internal/db"
	redisclient "github.com/hackgods/therapy-appointment-scheduling/internal/redis"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	logger := newLogger(cfg)
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	calc, err := availability.NewCalculator(availability.Options{
		Slots:     cfg.Scheduling.TimeSlots,
		Blackouts: cfg.Scheduling.Blackouts,
		Location:  cfg.Scheduling.Location,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid scheduling rules")
	}

	var (
		store  appointment.Store = appointment.NewMemoryStore()
		pgPool *pgxpool.Pool
	)
	if cfg.PostgresEnabled() {
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 30*time.Second)
		pgPool, err = db.ConnectPostgres(pgCtx, cfg.PostgresDSN, logger)
		cancelPg()
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection error")
		}
		defer pgPool.Close()

		applied, err := db.Migrate(rootCtx, pgPool)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres migration error")
		}
		logger.Info().Int("applied", applied).Msg("connected to Postgres")
		store = appointment.NewPgRepository(pgPool)
	} else {
		logger.Warn().Msg("POSTGRES_DSN not set, appointments are kept in memory")
	}

	var (
		locker  = redisclient.NewLocalSlotLocker()
		pending appointment.PendingStore = appointment.NewMemoryPendingStore()
		rdb     *redis.Client
	)
	if cfg.RedisEnabled() {
		rdb, err = redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection error")
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Error().Err(err).Msg("error closing redis")
			}
		}()
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")

		locker = redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
		pending = redisclient.NewPendingStore(rdb, cfg.PendingTTL)
	} else {
		logger.Warn().Msg("Redis not configured, using in-process slot locks")
	}

	sched := cfg.Scheduling
	engine := appointment.NewEngine(store, calc, locker, pending, appointment.EngineConfig{
		TherapistName:      sched.TherapistName,
		MaxSelections:      sched.MaxSelections,
		RetroactiveDays:    sched.RetroactiveDays,
		AllowDoubleBooking: sched.AllowDoubleBooking,
	}, logger)
	lifecycle := appointment.NewLifecycle(store, calc, sched.HistoryIncludesLapsed, logger)

	router := api.NewRouter(api.RouterConfig{
		Engine:     engine,
		Lifecycle:  lifecycle,
		Calculator: calc,
		DayWindow:  sched.DayWindow,
		PgPool:     pgPool,
		Redis:      rdb,
		Logger:     logger,
		Env:        cfg.Env,
		Version:    version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).
			Str("therapist", sched.TherapistName).
			Str("timezone", sched.Location.String()).
			Bool("double_booking", sched.AllowDoubleBooking).
			Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()
	logger.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func newLogger(cfg config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().Timestamp().Str("service", "api-server").Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", "api-server").Logger()
}
