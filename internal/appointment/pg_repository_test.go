package appointment

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/visit-booking/internal/calendar"
	"github.com/hackgods/visit-booking/internal/db"
)

// newPgLedger runs against a real database when POSTGRES_TEST_DSN is set.
func newPgLedger(t *testing.T) (*Ledger, *PgRepository) {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx := context.Background()
	pool, err := db.ConnectPostgres(ctx, dsn, db.PoolOptions{MaxConns: 20})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = db.Migrate(ctx, pool)
	require.NoError(t, err)

	repo := NewPgRepository(pool)
	ledger := NewLedger(repo, NewLocalLocker(), zap.NewNop(),
		WithClock(func() time.Time { return testNow }),
	)
	return ledger, repo
}

func TestPgRepository_ConcurrentBookingsOfOneSlot(t *testing.T) {
	ledger, _ := newPgLedger(t)
	facility := "it-" + uuid.NewString()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Create(context.Background(), CreateRequest{
				SubjectID: uuid.NewString(),
				Facility:  facility,
				Date:      calendar.MustParseDate("2025-07-21"),
				Time:      "08:00",
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if errors.Is(err, ErrConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 15, conflicts)
}

func TestPgRepository_NegotiationRoundTrip(t *testing.T) {
	ledger, repo := newPgLedger(t)
	ctx := context.Background()
	facility := "it-" + uuid.NewString()
	monday := calendar.MustParseDate("2025-07-21")

	appt, err := ledger.Create(ctx, CreateRequest{SubjectID: patient.SubjectID, Facility: facility, Date: monday, Time: "08:00"})
	require.NoError(t, err)

	proposed, err := ledger.Transition(ctx, appt.ID, Event{Kind: EventPropose, Actor: staff, Date: monday, Time: "09:00"})
	require.NoError(t, err)
	require.NotNil(t, proposed.Proposal)

	stored, err := repo.Get(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProposed, stored.Status)
	require.NotNil(t, stored.Proposal)
	assert.Equal(t, Proposal{Date: monday, Time: "09:00"}, *stored.Proposal)

	// The proposed slot is held by the unique index even without the lock.
	clash := Appointment{
		ID:        uuid.New(),
		SubjectID: stranger.SubjectID,
		Facility:  facility,
		Date:      monday,
		Time:      "09:00",
		Status:    StatusPending,
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}
	err = repo.Insert(ctx, clash, EventLog{EventType: EventAppointmentCreated, CreatedAt: testNow})
	assert.ErrorIs(t, err, ErrConflict)

	accepted, err := ledger.Transition(ctx, appt.ID, Event{Kind: EventAcceptProposal, Actor: patient})
	require.NoError(t, err)
	assert.Equal(t, "09:00", accepted.Time)

	_, err = ledger.Transition(ctx, appt.ID, Event{Kind: EventReject, Actor: staff})
	assert.ErrorIs(t, err, ErrIllegalTransition)

	_, err = repo.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	events, err := repo.FetchUnpublishedEvents(ctx, 1000)
	require.NoError(t, err)
	var mine []int64
	for _, ev := range events {
		if ev.AppointmentID != nil && *ev.AppointmentID == appt.ID {
			mine = append(mine, ev.ID)
		}
	}
	assert.Len(t, mine, 3)
	require.NoError(t, repo.MarkEventsPublished(ctx, mine, testNow))
}

func TestClassify(t *testing.T) {
	assert.ErrorIs(t, classify(&pgconn.PgError{Code: "23505"}), ErrConflict)
	assert.ErrorIs(t, classify(&pgconn.PgError{Code: "40001"}), ErrTransientStorage)
	assert.ErrorIs(t, classify(&pgconn.PgError{Code: "57014"}), ErrTransientStorage)
	assert.ErrorIs(t, classify(context.DeadlineExceeded), ErrTransientStorage)

	err := classify(&pgconn.PgError{Code: "23514"})
	assert.NotErrorIs(t, err, ErrTransientStorage)
	assert.NotErrorIs(t, err, ErrConflict)
}
