package appointment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/visit-booking/internal/calendar"
)

// SlotState is one entry of the daily grid for a facility.
type SlotState struct {
	Time   string `json:"time"`
	Booked bool   `json:"booked"`
}

// Availability derives slot occupancy from the store on every call. It never
// caches, and it takes no lock: a write in flight may not be visible yet, but
// every write re-checks under the lock before committing.
type Availability struct {
	store   Store
	timeout time.Duration
}

func NewAvailability(store Store, timeout time.Duration) *Availability {
	return &Availability{store: store, timeout: timeout}
}

// Grid returns the full daily grid for facility on date, marking booked slots.
func (a *Availability) Grid(ctx context.Context, facility string, date calendar.Date) ([]SlotState, error) {
	taken, err := a.occupied(ctx, facility, date)
	if err != nil {
		return nil, err
	}
	slots := calendar.Slots()
	out := make([]SlotState, 0, len(slots))
	for _, t := range slots {
		_, booked := taken[t]
		out = append(out, SlotState{Time: t, Booked: booked})
	}
	return out, nil
}

// FreeSlots returns the grid times nobody occupies, in grid order.
func (a *Availability) FreeSlots(ctx context.Context, facility string, date calendar.Date) ([]string, error) {
	grid, err := a.Grid(ctx, facility, date)
	if err != nil {
		return nil, err
	}
	free := make([]string, 0, len(grid))
	for _, s := range grid {
		if !s.Booked {
			free = append(free, s.Time)
		}
	}
	return free, nil
}

// BookedTimes returns the occupied grid times, in grid order.
func (a *Availability) BookedTimes(ctx context.Context, facility string, date calendar.Date) ([]string, error) {
	grid, err := a.Grid(ctx, facility, date)
	if err != nil {
		return nil, err
	}
	booked := make([]string, 0, len(grid))
	for _, s := range grid {
		if s.Booked {
			booked = append(booked, s.Time)
		}
	}
	return booked, nil
}

// IsFree reports whether slot is free for the appointment exclude, which may
// be uuid.Nil for a new booking.
func (a *Availability) IsFree(ctx context.Context, slot Slot, exclude uuid.UUID) (bool, error) {
	if err := validateFacility(slot.Facility); err != nil {
		return false, err
	}
	appts, err := a.list(ctx, slot.Facility, slot.Date)
	if err != nil {
		return false, err
	}
	return occupant(appts, slot, exclude) == nil, nil
}

func (a *Availability) occupied(ctx context.Context, facility string, date calendar.Date) (map[string]uuid.UUID, error) {
	if err := validateFacility(facility); err != nil {
		return nil, err
	}
	appts, err := a.list(ctx, facility, date)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]uuid.UUID, len(appts))
	for _, appt := range appts {
		slot, ok := appt.OccupiedSlot()
		if !ok || slot.Facility != facility || slot.Date != date {
			continue
		}
		taken[slot.Time] = appt.ID
	}
	return taken, nil
}

func (a *Availability) list(ctx context.Context, facility string, date calendar.Date) ([]Appointment, error) {
	ctx, cancel := withTimeout(ctx, a.timeout)
	defer cancel()

	appts, err := a.store.ListByFacilityAndDate(ctx, facility, date)
	if err != nil {
		return nil, storeError("list appointments by facility and date", err)
	}
	return appts, nil
}

// occupant returns the live appointment other than exclude that holds slot.
func occupant(appts []Appointment, slot Slot, exclude uuid.UUID) *Appointment {
	for i := range appts {
		if appts[i].ID == exclude {
			continue
		}
		if held, ok := appts[i].OccupiedSlot(); ok && held == slot {
			return &appts[i]
		}
	}
	return nil
}

func validateFacility(facility string) error {
	if strings.TrimSpace(facility) == "" {
		return fmt.Errorf("%w: facility is required", ErrInvalidInput)
	}
	return nil
}
