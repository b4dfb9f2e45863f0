package appointment

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/visit-booking/internal/calendar"
)

func TestAvailability_GridReflectsLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	avail := NewAvailability(f.store, 0)
	monday := calendar.MustParseDate("2025-07-21")

	free, err := avail.FreeSlots(ctx, "lab-1", monday)
	require.NoError(t, err)
	assert.Equal(t, calendar.Slots(), free)

	a := f.book(t, "lab-1", "2025-07-21", "08:00")
	b := f.book(t, "lab-1", "2025-07-21", "13:00")
	f.book(t, "lab-2", "2025-07-21", "09:00")

	grid, err := avail.Grid(ctx, "lab-1", monday)
	require.NoError(t, err)
	require.Len(t, grid, len(calendar.Slots()))
	for _, s := range grid {
		assert.Equal(t, s.Time == "08:00" || s.Time == "13:00", s.Booked, s.Time)
	}

	_, err = f.service.Reject(ctx, staff, b.ID)
	require.NoError(t, err)
	_, err = f.service.Confirm(ctx, staff, a.ID)
	require.NoError(t, err)

	booked, err := avail.BookedTimes(ctx, "lab-1", monday)
	require.NoError(t, err)
	assert.Equal(t, []string{"08:00"}, booked)

	free, err = avail.FreeSlots(ctx, "lab-1", monday)
	require.NoError(t, err)
	assert.NotContains(t, free, "08:00")
	assert.Contains(t, free, "13:00")
	assert.Len(t, free, len(calendar.Slots())-1)
}

func TestAvailability_ProposalMovesOccupancy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	avail := NewAvailability(f.store, 0)
	monday := calendar.MustParseDate("2025-07-21")
	tuesday := calendar.MustParseDate("2025-07-22")

	appt := f.book(t, "lab-1", "2025-07-21", "08:00")
	_, err := f.service.Propose(ctx, staff, appt.ID, tuesday, "10:00")
	require.NoError(t, err)

	free, err := avail.IsFree(ctx, Slot{Facility: "lab-1", Date: monday, Time: "08:00"}, uuid.Nil)
	require.NoError(t, err)
	assert.True(t, free, "current slot of a proposed appointment is released")

	free, err = avail.IsFree(ctx, Slot{Facility: "lab-1", Date: tuesday, Time: "10:00"}, uuid.Nil)
	require.NoError(t, err)
	assert.False(t, free)

	free, err = avail.IsFree(ctx, Slot{Facility: "lab-1", Date: tuesday, Time: "10:00"}, appt.ID)
	require.NoError(t, err)
	assert.True(t, free, "an appointment does not block itself")
}

func TestAvailability_RequiresFacility(t *testing.T) {
	avail := NewAvailability(NewMemoryStore(), 0)

	_, err := avail.Grid(context.Background(), " ", calendar.MustParseDate("2025-07-21"))

	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestService_Calendar(t *testing.T) {
	f := newFixture(t)

	preview := f.service.Calendar(calendar.MustParseDate("2025-07-19"))

	assert.Equal(t, "2025-07-21", preview.MinBookableDate.String())
	assert.False(t, preview.Verdict.Valid)
	assert.Equal(t, calendar.ReasonTooSoon, preview.Verdict.Reason)
	assert.Equal(t, "2025-07-21", preview.Verdict.Suggested.String())
	assert.Equal(t, calendar.Slots(), preview.Slots)

	ok := f.service.Calendar(calendar.MustParseDate("2025-07-25"))
	assert.True(t, ok.Verdict.Valid)
}

func TestService_Visibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, "lab-1", "2025-07-21", "08:00")

	got, err := f.service.GetAppointment(ctx, patient, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appt.ID, got.ID)

	_, err = f.service.GetAppointment(ctx, staff, appt.ID)
	assert.NoError(t, err)

	_, err = f.service.GetAppointment(ctx, stranger, appt.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.service.ListAll(ctx, patient)
	assert.ErrorIs(t, err, ErrForbidden)

	all, err := f.service.ListAll(ctx, staff)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	mine, err := f.service.ListMine(ctx, stranger)
	require.NoError(t, err)
	assert.Empty(t, mine)
}
