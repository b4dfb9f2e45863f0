package main

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/hackgods/visit-booking/internal/appointment"
	"github.com/hackgods/visit-booking/internal/calendar"
	"github.com/hackgods/visit-booking/internal/config"
	"github.com/hackgods/visit-booking/internal/db"
	"github.com/hackgods/visit-booking/internal/logger"
)

var facilities = []string{
	"blood-lab",
	"radiology",
	"cardiology",
	"dermatology",
	"general-practice",
	"ophthalmology",
}

// horizonDays is how far past the first bookable day seeded bookings spread.
const horizonDays = 28

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("config load error: " + err.Error() + "\n")
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if cfg.StoreDriver != config.StoreDriverPostgres {
		log.Fatal("seed writes to Postgres, set STORE_DRIVER=postgres")
	}

	count := 500
	if v := os.Getenv("SEED_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			count = n
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if _, err := db.Migrate(ctx, pool); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}

	// Seed 0 picks a random seed.
	faker := gofakeit.New(0)

	repo := appointment.NewPgRepository(pool)
	ledger := appointment.NewLedger(repo, appointment.NewLocalLocker(), zap.NewNop(),
		appointment.WithLocation(cfg.Location),
	)
	svc := appointment.NewService(ledger, appointment.NewAvailability(repo, cfg.StoreTimeout), zap.NewNop())

	stats, err := seedAppointments(ctx, faker, svc, ledger.Now(), count)
	if err != nil {
		log.Fatal("seed appointments", zap.Error(err))
	}
	log.Info("seed complete",
		zap.Int("created", stats.created),
		zap.Int("conflicts", stats.conflicts),
		zap.Int("confirmed", stats.confirmed),
		zap.Int("proposed", stats.proposed),
	)
}

type seedStats struct {
	created, conflicts, confirmed, proposed int
}

func seedAppointments(ctx context.Context, faker *gofakeit.Faker, svc *appointment.Service, now time.Time, count int) (seedStats, error) {
	var stats seedStats
	staff := appointment.Actor{SubjectID: "seed-staff", Privileged: true}
	first := calendar.MinBookableDate(now)
	slots := calendar.Slots()

	for i := 0; i < count; i++ {
		patient := appointment.Actor{SubjectID: faker.UUID()}
		facility := facilities[faker.Number(0, len(facilities)-1)]
		date := calendar.NextWeekday(first.AddDays(faker.Number(0, horizonDays)))
		slot := slots[faker.Number(0, len(slots)-1)]

		appt, err := svc.Book(ctx, patient, facility, date, slot, "")
		if errors.Is(err, appointment.ErrConflict) {
			stats.conflicts++
			continue
		}
		if err != nil {
			return stats, err
		}
		stats.created++

		switch faker.Number(0, 3) {
		case 0:
			if _, err := svc.Confirm(ctx, staff, appt.ID); err == nil {
				stats.confirmed++
			}
		case 1:
			other := slots[faker.Number(0, len(slots)-1)]
			if _, err := svc.Propose(ctx, staff, appt.ID, date, other); err == nil {
				stats.proposed++
			} else if !errors.Is(err, appointment.ErrConflict) {
				return stats, err
			}
		}
	}
	return stats, nil
}
