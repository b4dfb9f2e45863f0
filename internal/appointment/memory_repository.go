package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/visit-booking/internal/calendar"
)

// MemoryStore keeps appointments in process memory. It enforces the same
// occupied-slot uniqueness as the Postgres unique index, so it is safe to use
// behind a Ledger in single-process deployments and in tests.
type MemoryStore struct {
	mu       sync.RWMutex
	appts    map[uuid.UUID]Appointment
	events   []EventLog
	eventSeq int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{appts: make(map[uuid.UUID]Appointment)}
}

func (m *MemoryStore) Insert(ctx context.Context, a Appointment, ev EventLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.slotTakenLocked(a) {
		return ErrConflict
	}
	m.appts[a.ID] = a.clone()
	m.appendEventLocked(ev)
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, next Appointment, from Status, ev EventLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.appts[next.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Status != from {
		return errStatusChanged
	}
	if m.slotTakenLocked(next) {
		return ErrConflict
	}
	m.appts[next.ID] = next.clone()
	m.appendEventLocked(ev)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := a.clone()
	return &out, nil
}

func (m *MemoryStore) ListBySubject(ctx context.Context, subjectID string) ([]Appointment, error) {
	return m.filter(ctx, func(a Appointment) bool { return a.SubjectID == subjectID })
}

func (m *MemoryStore) ListAll(ctx context.Context) ([]Appointment, error) {
	return m.filter(ctx, func(Appointment) bool { return true })
}

func (m *MemoryStore) ListByFacilityAndDate(ctx context.Context, facility string, date calendar.Date) ([]Appointment, error) {
	return m.filter(ctx, func(a Appointment) bool {
		if a.Facility != facility {
			return false
		}
		return a.Date == date || (a.Proposal != nil && a.Proposal.Date == date)
	})
}

func (m *MemoryStore) FetchUnpublishedEvents(ctx context.Context, limit int) ([]EventLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []EventLog
	for _, ev := range m.events {
		if ev.PublishedAt != nil {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) MarkEventsPublished(ctx context.Context, ids []int64, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	for i := range m.events {
		if _, ok := wanted[m.events[i].ID]; ok && m.events[i].PublishedAt == nil {
			published := at
			m.events[i].PublishedAt = &published
		}
	}
	return nil
}

// Events returns a copy of every event log entry, oldest first.
func (m *MemoryStore) Events() []EventLog {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]EventLog, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MemoryStore) slotTakenLocked(a Appointment) bool {
	slot, ok := a.OccupiedSlot()
	if !ok {
		return false
	}
	for id, other := range m.appts {
		if id == a.ID {
			continue
		}
		if held, ok := other.OccupiedSlot(); ok && held == slot {
			return true
		}
	}
	return false
}

func (m *MemoryStore) appendEventLocked(ev EventLog) {
	m.eventSeq++
	ev.ID = m.eventSeq
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	m.events = append(m.events, ev)
}

func (m *MemoryStore) filter(ctx context.Context, keep func(Appointment) bool) ([]Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]Appointment, 0)
	for _, a := range m.appts {
		if keep(a) {
			out = append(out, a.clone())
		}
	}
	m.mu.RUnlock()

	sortNewestFirst(out)
	return out, nil
}

// sortNewestFirst orders by slot date and time descending, then by creation.
func sortNewestFirst(appts []Appointment) {
	sort.SliceStable(appts, func(i, j int) bool {
		a, b := appts[i], appts[j]
		if a.Date != b.Date {
			return a.Date.After(b.Date)
		}
		if a.Time != b.Time {
			return a.Time > b.Time
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
}
