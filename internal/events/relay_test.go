package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/visit-booking/internal/appointment"
	"github.com/hackgods/visit-booking/internal/calendar"
)

type recordingPublisher struct {
	sent   []Message
	failOn int64
}

func (p *recordingPublisher) Publish(_ context.Context, msg Message) error {
	if p.failOn != 0 && msg.ID == p.failOn {
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, msg)
	return nil
}

func seedEvents(t *testing.T) *appointment.MemoryStore {
	t.Helper()
	store := appointment.NewMemoryStore()
	now := time.Date(2025, time.July, 14, 9, 0, 0, 0, time.UTC)
	ledger := appointment.NewLedger(store, appointment.NewLocalLocker(), zap.NewNop(),
		appointment.WithClock(func() time.Time { return now }),
	)
	staff := appointment.Actor{SubjectID: "staff-1", Privileged: true}

	for _, slotTime := range []string{"08:00", "09:00"} {
		appt, err := ledger.Create(context.Background(), appointment.CreateRequest{
			SubjectID: "patient-1",
			Facility:  "lab-1",
			Date:      calendar.MustParseDate("2025-07-21"),
			Time:      slotTime,
		})
		require.NoError(t, err)
		_, err = ledger.Transition(context.Background(), appt.ID, appointment.Event{Kind: appointment.EventConfirm, Actor: staff})
		require.NoError(t, err)
	}
	require.Len(t, store.Events(), 4)
	return store
}

func TestRelay_PublishesInOrderAndMarks(t *testing.T) {
	store := seedEvents(t)
	pub := &recordingPublisher{}
	relay := NewRelay(store, pub, zap.NewNop())

	n, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.Len(t, pub.sent, 4)
	assert.Equal(t, appointment.EventAppointmentCreated, pub.sent[0].EventType)
	assert.Equal(t, appointment.EventAppointmentConfirmed, pub.sent[1].EventType)
	for i, msg := range pub.sent {
		assert.Equal(t, int64(i+1), msg.ID)
		assert.True(t, json.Valid(msg.Payload))
	}

	n, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, pub.sent, 4)
}

func TestRelay_StopsAtFirstFailure(t *testing.T) {
	store := seedEvents(t)
	pub := &recordingPublisher{failOn: 3}
	relay := NewRelay(store, pub, zap.NewNop())

	n, err := relay.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, n)

	pending, err := store.FetchUnpublishedEvents(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, int64(3), pending[0].ID)

	pub.failOn = 0
	n, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, pub.sent, 4)
}

func TestNewMessage(t *testing.T) {
	msg := NewMessage(appointment.EventLog{ID: 7, EventType: "X", Payload: []byte(`{"a":1}`)})

	body, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"payload":{"a":1}`)
	assert.NotContains(t, string(body), "appointment_id")
}
