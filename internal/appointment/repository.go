package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/visit-booking/internal/calendar"
)

// Store is the durable side of the ledger. Implementations must reject an
// insert or update that would put two live appointments on one occupied slot
// with ErrConflict, and must apply the appointment change and its event log
// entry atomically.
type Store interface {
	Insert(ctx context.Context, a Appointment, ev EventLog) error
	// Update writes next only if the stored status still equals from.
	Update(ctx context.Context, next Appointment, from Status, ev EventLog) error

	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListBySubject(ctx context.Context, subjectID string) ([]Appointment, error)
	ListAll(ctx context.Context) ([]Appointment, error)
	// ListByFacilityAndDate returns appointments of the facility whose current
	// or proposed slot falls on date, in any status.
	ListByFacilityAndDate(ctx context.Context, facility string, date calendar.Date) ([]Appointment, error)
}

// Outbox is implemented by stores that keep event logs for later publishing.
type Outbox interface {
	FetchUnpublishedEvents(ctx context.Context, limit int) ([]EventLog, error)
	MarkEventsPublished(ctx context.Context, ids []int64, at time.Time) error
}

// Locker guards a check-then-write critical section for one key.
type Locker interface {
	WithSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// SlotLockKey is the mutual exclusion scope for bookings of a facility on one day.
func SlotLockKey(facility string, date calendar.Date) string {
	return facility + "/" + date.String()
}
