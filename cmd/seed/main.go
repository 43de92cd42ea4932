package main

import (
	"context"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"

	"github.com/hackgods/therapy-appointment-scheduling/internal/appointment"
	"github.com/hackgods/therapy-appointment-scheduling/internal/availability"
	"github.com/hackgods/therapy-appointment-scheduling/internal/config"
	"github.com/hackgods/therapy-appointment-scheduling/internal/db"
)

var sessionNotes = []string{
	"Falamos sobre ansiedade no trabalho",
	"Revisamos o diário de emoções da semana",
	"Exercício de respiração e sono",
	"Conflitos familiares",
	"Retomada após as férias",
	"Metas para o próximo mês",
	"",
}

type seedConfig struct {
	UserID   string
	History  int // past sessions, completed or cancelled
	Upcoming int // future scheduled sessions
	Days     int // how far back and forward to spread them
}

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Str("service", "seed").Logger()
	logger.Info().Msg("seed starting")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config load error")
	}
	if !cfg.PostgresEnabled() {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	seed := seedConfig{
		UserID:   getEnv("SEED_USER_ID", "demo-patient"),
		History:  getInt("SEED_HISTORY", 40),
		Upcoming: getInt("SEED_UPCOMING", 3),
		Days:     getInt("SEED_DAYS", 120),
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if _, err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	calc, err := availability.NewCalculator(availability.Options{
		Slots:     cfg.Scheduling.TimeSlots,
		Blackouts: cfg.Scheduling.Blackouts,
		Location:  cfg.Scheduling.Location,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid scheduling rules")
	}

	repo := appointment.NewPgRepository(pool)
	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	past, err := seedAppointments(ctx, repo, calc, faker, seed, cfg.Scheduling.TherapistName, false)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed history")
	}
	future, err := seedAppointments(ctx, repo, calc, faker, seed, cfg.Scheduling.TherapistName, true)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed upcoming")
	}

	logger.Info().Str("user_id", seed.UserID).Int("history", past).Int("upcoming", future).Msg("seed complete")
}

// seedAppointments writes sessions on days the therapist works. Upcoming
// sessions are scheduled; past ones are mostly completed, some cancelled.
func seedAppointments(ctx context.Context, repo *appointment.PgRepository, calc *availability.Calculator,
	faker *gofakeit.Faker, seed seedConfig, therapist string, upcoming bool) (int, error) {

	count := seed.History
	if upcoming {
		count = seed.Upcoming
	}

	today := calc.Today()
	slots := calc.Slots()
	taken := make(map[string]bool)

	written := 0
	for attempts := 0; written < count && attempts < count*20; attempts++ {
		offset := faker.Number(1, seed.Days)
		if !upcoming {
			offset = -offset
		}
		date := today.AddDate(0, 0, offset)
		label := slots[faker.Number(0, len(slots)-1)]

		if calc.CheckTherapistRules(date, label) != nil {
			continue
		}
		key := date.Format(availability.DateLayout) + "T" + label
		if taken[key] {
			continue
		}
		taken[key] = true

		status := appointment.StatusScheduled
		if !upcoming {
			status = appointment.StatusCompleted
			if faker.Number(1, 100) <= 20 {
				status = appointment.StatusCancelled
			}
		}

		_, err := repo.Create(ctx, &appointment.Appointment{
			UserID:        seed.UserID,
			TherapistName: therapist,
			Date:          date,
			Time:          label,
			Notes:         faker.RandomString(sessionNotes),
			Status:        status,
		})
		if err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}
