package main

import (
	"context"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/visit-booking/internal/appointment"
	"github.com/hackgods/visit-booking/internal/calendar"
)

func TestSeedAppointments(t *testing.T) {
	now := time.Date(2025, time.July, 14, 10, 0, 0, 0, time.UTC)
	store := appointment.NewMemoryStore()
	ledger := appointment.NewLedger(store, appointment.NewLocalLocker(), zap.NewNop(),
		appointment.WithClock(func() time.Time { return now }),
	)
	svc := appointment.NewService(ledger, appointment.NewAvailability(store, time.Second), zap.NewNop())

	stats, err := seedAppointments(context.Background(), gofakeit.New(42), svc, now, 200)
	require.NoError(t, err)
	assert.Equal(t, 200, stats.created+stats.conflicts)

	all, err := store.ListAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, stats.created)

	seen := make(map[appointment.Slot]bool)
	for _, a := range all {
		assert.True(t, calendar.Check(now, a.Date).Valid, a.Date.String())
		slot, ok := a.OccupiedSlot()
		require.True(t, ok)
		assert.False(t, seen[slot], "slot %s booked twice", slot)
		seen[slot] = true
	}
}
