package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/visit-booking/internal/calendar"
)

// Monday 2025-07-14; the first bookable day is Monday 2025-07-21.
var testNow = time.Date(2025, time.July, 14, 10, 0, 0, 0, time.UTC)

var (
	patient  = Actor{SubjectID: "patient-1"}
	stranger = Actor{SubjectID: "patient-2"}
	staff    = Actor{SubjectID: "staff-1", Privileged: true}
)

type fixture struct {
	store   *MemoryStore
	ledger  *Ledger
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := NewMemoryStore()
	ledger := NewLedger(store, NewLocalLocker(), zap.NewNop(),
		WithClock(func() time.Time { return testNow }),
		WithStoreTimeout(2*time.Second),
	)
	avail := NewAvailability(store, 2*time.Second)
	return &fixture{
		store:   store,
		ledger:  ledger,
		service: NewService(ledger, avail, zap.NewNop()),
	}
}

func (f *fixture) book(t *testing.T, facility, date, slotTime string) *Appointment {
	t.Helper()
	appt, err := f.ledger.Create(context.Background(), CreateRequest{
		SubjectID: patient.SubjectID,
		Facility:  facility,
		Date:      calendar.MustParseDate(date),
		Time:      slotTime,
	})
	require.NoError(t, err)
	return appt
}

func TestLedgerCreate(t *testing.T) {
	f := newFixture(t)

	appt := f.book(t, "lab-1", "2025-07-21", "08:00")

	assert.NotEqual(t, uuid.Nil, appt.ID)
	assert.Equal(t, StatusPending, appt.Status)
	assert.Equal(t, "lab-1", appt.Facility)
	assert.Equal(t, calendar.MustParseDate("2025-07-21"), appt.Date)
	assert.Equal(t, "08:00", appt.Time)
	assert.Nil(t, appt.Proposal)
	assert.Equal(t, testNow, appt.CreatedAt)

	stored, err := f.ledger.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, *appt, *stored)

	events := f.store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventAppointmentCreated, events[0].EventType)
	require.NotNil(t, events[0].AppointmentID)
	assert.Equal(t, appt.ID, *events[0].AppointmentID)
	assert.JSONEq(t, `{"subject_id":"patient-1","facility":"lab-1","date":"2025-07-21","time":"08:00"}`, string(events[0].Payload))
}

func TestLedgerCreate_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		req       CreateRequest
		wantErr   error
		suggested string
	}{
		{
			name:      "too soon suggests first bookable day",
			req:       CreateRequest{SubjectID: "p", Facility: "lab-1", Date: calendar.MustParseDate("2025-07-18"), Time: "08:00"},
			wantErr:   ErrInvalidSlot,
			suggested: "2025-07-21",
		},
		{
			name:      "saturday suggests monday",
			req:       CreateRequest{SubjectID: "p", Facility: "lab-1", Date: calendar.MustParseDate("2025-07-26"), Time: "08:00"},
			wantErr:   ErrInvalidSlot,
			suggested: "2025-07-28",
		},
		{
			name:    "off grid time",
			req:     CreateRequest{SubjectID: "p", Facility: "lab-1", Date: calendar.MustParseDate("2025-07-21"), Time: "08:30"},
			wantErr: calendar.ErrUnknownTime,
		},
		{
			name:    "missing date",
			req:     CreateRequest{SubjectID: "p", Facility: "lab-1", Time: "08:00"},
			wantErr: calendar.ErrMalformedDate,
		},
		{
			name:    "missing facility",
			req:     CreateRequest{SubjectID: "p", Date: calendar.MustParseDate("2025-07-21"), Time: "08:00"},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "missing subject",
			req:     CreateRequest{Facility: "lab-1", Date: calendar.MustParseDate("2025-07-21"), Time: "08:00"},
			wantErr: ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			appt, err := f.ledger.Create(context.Background(), tt.req)

			require.Error(t, err)
			assert.Nil(t, appt)
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.suggested != "" {
				var invalid *InvalidSlotError
				require.True(t, errors.As(err, &invalid))
				assert.Equal(t, tt.suggested, invalid.Verdict.Suggested.String())
			}
			assert.Empty(t, f.store.Events())
		})
	}
}

func TestLedgerCreate_DuplicateSlotConflicts(t *testing.T) {
	f := newFixture(t)
	f.book(t, "lab-1", "2025-07-21", "08:00")

	_, err := f.ledger.Create(context.Background(), CreateRequest{
		SubjectID: stranger.SubjectID,
		Facility:  "lab-1",
		Date:      calendar.MustParseDate("2025-07-21"),
		Time:      "08:00",
	})

	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, "08:00", conflict.Slot.Time)

	// Same time at another facility is a different slot.
	_, err = f.ledger.Create(context.Background(), CreateRequest{
		SubjectID: stranger.SubjectID,
		Facility:  "lab-2",
		Date:      calendar.MustParseDate("2025-07-21"),
		Time:      "08:00",
	})
	assert.NoError(t, err)
}

func TestLedgerCreate_ConcurrentBookingsOfOneSlot(t *testing.T) {
	f := newFixture(t)

	const callers = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
		other     []error
	)
	start := make(chan struct{})

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := f.ledger.Create(context.Background(), CreateRequest{
				SubjectID: uuid.NewString(),
				Facility:  "lab-1",
				Date:      calendar.MustParseDate("2025-07-21"),
				Time:      "10:00",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				other = append(other, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Empty(t, other)
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, callers-1, conflicts)

	appts, err := f.ledger.ListByFacilityAndDate(context.Background(), "lab-1", calendar.MustParseDate("2025-07-21"))
	require.NoError(t, err)
	assert.Len(t, appts, 1)
}

func TestLedgerTransition_ConcurrentProposalsForOneSlot(t *testing.T) {
	f := newFixture(t)

	var ids []uuid.UUID
	for _, slotTime := range []string{"08:00", "09:00", "10:00", "11:00", "12:00", "13:00"} {
		ids = append(ids, f.book(t, "lab-1", "2025-07-21", slotTime).ID)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, err := f.ledger.Transition(context.Background(), id, Event{
				Kind:  EventPropose,
				Actor: staff,
				Date:  calendar.MustParseDate("2025-07-22"),
				Time:  "15:00",
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if errors.Is(err, ErrConflict) {
				conflicts++
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, len(ids)-1, conflicts)
}

func TestLedgerTransition_ConcurrentDecisionsOnOneAppointment(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, "lab-1", "2025-07-21", "08:00")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		illegals int
	)
	for i := 0; i < 10; i++ {
		kind := EventConfirm
		if i%2 == 1 {
			kind = EventReject
		}
		wg.Add(1)
		go func(kind EventKind) {
			defer wg.Done()
			_, err := f.ledger.Transition(context.Background(), appt.ID, Event{Kind: kind, Actor: staff})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if errors.Is(err, ErrIllegalTransition) {
				illegals++
			}
		}(kind)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 9, illegals)

	// One create event and exactly one decision event.
	assert.Len(t, f.store.Events(), 2)
}

func TestLedger_MondayScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	monday := calendar.MustParseDate("2025-07-21")

	appt, err := f.service.Book(ctx, patient, "lab-1", monday, "08:00", "")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, appt.Status)

	_, err = f.service.Book(ctx, stranger, "lab-1", monday, "08:00", "")
	assert.ErrorIs(t, err, ErrConflict)

	proposed, err := f.service.Propose(ctx, staff, appt.ID, monday, "09:00")
	require.NoError(t, err)
	assert.Equal(t, StatusProposed, proposed.Status)
	assert.Equal(t, "08:00", proposed.Time)
	require.NotNil(t, proposed.Proposal)
	assert.Equal(t, "09:00", proposed.Proposal.Time)

	booked, err := f.service.BookedTimes(ctx, "lab-1", monday)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00"}, booked)

	accepted, err := f.service.AcceptProposal(ctx, patient, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, accepted.Status)
	assert.Equal(t, monday, accepted.Date)
	assert.Equal(t, "09:00", accepted.Time)
	assert.Nil(t, accepted.Proposal)

	// 08:00 is free again.
	_, err = f.service.Book(ctx, stranger, "lab-1", monday, "08:00", "")
	assert.NoError(t, err)

	var types []string
	for _, ev := range f.store.Events() {
		types = append(types, ev.EventType)
	}
	assert.Equal(t, []string{
		EventAppointmentCreated,
		EventAppointmentProposed,
		EventProposalAccepted,
		EventAppointmentCreated,
	}, types)
}

func TestLedgerTransition_ProposalIntoTakenSlotConflicts(t *testing.T) {
	f := newFixture(t)
	first := f.book(t, "lab-1", "2025-07-21", "08:00")
	f.book(t, "lab-1", "2025-07-21", "09:00")

	_, err := f.ledger.Transition(context.Background(), first.ID, Event{
		Kind:  EventPropose,
		Actor: staff,
		Date:  calendar.MustParseDate("2025-07-21"),
		Time:  "09:00",
	})

	assert.ErrorIs(t, err, ErrConflict)
	stored, err := f.ledger.Get(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
	assert.Nil(t, stored.Proposal)
}

func TestLedgerTransition_ProposalToOwnSlotIsAllowed(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, "lab-1", "2025-07-21", "08:00")

	next, err := f.ledger.Transition(context.Background(), appt.ID, Event{
		Kind:  EventPropose,
		Actor: staff,
		Date:  calendar.MustParseDate("2025-07-21"),
		Time:  "08:00",
	})

	require.NoError(t, err)
	assert.Equal(t, StatusProposed, next.Status)
}

func TestLedgerTransition_ProposalOutsideCalendar(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, "lab-1", "2025-07-21", "08:00")

	_, err := f.ledger.Transition(context.Background(), appt.ID, Event{
		Kind:  EventPropose,
		Actor: staff,
		Date:  calendar.MustParseDate("2025-07-27"),
		Time:  "08:00",
	})

	var invalid *InvalidSlotError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, calendar.ReasonWeekend, invalid.Verdict.Reason)
	assert.Equal(t, "2025-07-28", invalid.Verdict.Suggested.String())
}

func TestLedgerTransition_RejectedProposalFreesProposedSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, "lab-1", "2025-07-21", "08:00")
	tuesday := calendar.MustParseDate("2025-07-22")

	_, err := f.service.Propose(ctx, staff, appt.ID, tuesday, "14:00")
	require.NoError(t, err)

	rejected, err := f.service.RejectProposal(ctx, patient, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)
	assert.Nil(t, rejected.Proposal)
	assert.Equal(t, "08:00", rejected.Time)

	for _, date := range []calendar.Date{calendar.MustParseDate("2025-07-21"), tuesday} {
		booked, err := f.service.BookedTimes(ctx, "lab-1", date)
		require.NoError(t, err)
		assert.Empty(t, booked, date.String())
	}
}

func TestLedgerTransition_UnknownAppointment(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.Transition(context.Background(), uuid.New(), Event{Kind: EventConfirm, Actor: staff})

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLedger_StoreTimeoutIsTransient(t *testing.T) {
	store := NewMemoryStore()
	ledger := NewLedger(store, blockingLocker{}, zap.NewNop(),
		WithClock(func() time.Time { return testNow }),
		WithStoreTimeout(20*time.Millisecond),
	)

	_, err := ledger.Create(context.Background(), CreateRequest{
		SubjectID: "p",
		Facility:  "lab-1",
		Date:      calendar.MustParseDate("2025-07-21"),
		Time:      "08:00",
	})

	assert.ErrorIs(t, err, ErrTransientStorage)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, store.Events())
}

// blockingLocker never grants the lock.
type blockingLocker struct{}

func (blockingLocker) WithSlotLock(ctx context.Context, _ string, _ func(context.Context) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestLedger_ListsNewestSlotFirst(t *testing.T) {
	f := newFixture(t)
	f.book(t, "lab-1", "2025-07-21", "09:00")
	f.book(t, "lab-1", "2025-07-22", "08:00")
	f.book(t, "lab-2", "2025-07-21", "16:00")

	appts, err := f.service.ListMine(context.Background(), patient)
	require.NoError(t, err)
	require.Len(t, appts, 3)
	assert.Equal(t, "2025-07-22", appts[0].Date.String())
	assert.Equal(t, "16:00", appts[1].Time)
	assert.Equal(t, "09:00", appts[2].Time)
}
